package model

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"

	"github.com/zeebo/xxh3"
)

// Fingerprint is a 128-bit content identity derived from canonical JSON.
// Two values with identical content produce the same Fingerprint.
type Fingerprint [16]byte

// Hex returns the lowercase hex encoding of the fingerprint.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

// String implements fmt.Stringer.
func (f Fingerprint) String() string {
	return f.Hex()
}

// flowContent is the identity-free portion of a FlowRule.
type flowContent struct {
	SwitchID    string            `json:"switch_id"`
	Priority    int               `json:"priority"`
	Match       map[string]string `json:"match"`
	Actions     []Action          `json:"actions"`
	IdleTimeout int               `json:"idle_timeout"`
	HardTimeout int               `json:"hard_timeout"`
}

// Fingerprint hashes the rule's forwarding content. FlowID and CreatedAt are
// excluded so the same rule installed under two ids compares equal.
func (r FlowRule) Fingerprint() Fingerprint {
	// encoding/json sorts map keys, so the output is deterministic.
	data, err := json.Marshal(flowContent{
		SwitchID:    r.SwitchID,
		Priority:    r.Priority,
		Match:       r.Match,
		Actions:     r.Actions,
		IdleTimeout: r.IdleTimeout,
		HardTimeout: r.HardTimeout,
	})
	if err != nil {
		return hashBytes([]byte(r.FlowID))
	}
	return hashBytes(data)
}

// ConfigSnapshot is an opaque controller configuration document.
type ConfigSnapshot map[string]any

// Fingerprint hashes the whole document.
func (c ConfigSnapshot) Fingerprint() Fingerprint {
	return hashValue(map[string]any(c))
}

// KeyFingerprints hashes each top-level key's value independently.
func (c ConfigSnapshot) KeyFingerprints() map[string]Fingerprint {
	out := make(map[string]Fingerprint, len(c))
	for k, v := range c {
		out[k] = hashValue(v)
	}
	return out
}

// Clone returns a deep copy via a JSON round trip. Values that cannot be
// encoded are dropped.
func (c ConfigSnapshot) Clone() ConfigSnapshot {
	if c == nil {
		return nil
	}
	data, err := json.Marshal(c)
	if err != nil {
		return ConfigSnapshot{}
	}
	var out ConfigSnapshot
	if err := json.Unmarshal(data, &out); err != nil {
		return ConfigSnapshot{}
	}
	return out
}

func hashValue(v any) Fingerprint {
	data, err := json.Marshal(v)
	if err != nil {
		return Fingerprint{}
	}
	return hashBytes(data)
}

func hashBytes(data []byte) Fingerprint {
	h128 := xxh3.Hash128(data)
	var f Fingerprint
	binary.LittleEndian.PutUint64(f[:8], h128.Lo)
	binary.LittleEndian.PutUint64(f[8:], h128.Hi)
	return f
}
