package config

import (
	"strings"

	zxcvbn "github.com/ccojocar/zxcvbn-go"
)

// minAdminTokenScore is the lowest zxcvbn score (0 to 4) accepted without a
// warning.
const minAdminTokenScore = 3

// adminTokenVocabulary is fed to zxcvbn as known words, so tokens built from
// product or controller names score low.
var adminTokenVocabulary = []string{
	"sdhr", "dhr", "admin", "token", "controller", "openflow",
	"ryu", "pox", "opendaylight", "odl",
}

// TokenStrength is the zxcvbn verdict on SDHR_ADMIN_TOKEN.
type TokenStrength struct {
	Score     int
	CrackTime string
	Weak      bool
}

// CheckAdminToken scores token against the built-in vocabulary and, when inv
// is non-nil, the ids of the inventory's controllers. An empty token disables
// authentication and is reported as not weak.
func CheckAdminToken(token string, inv *Inventory) TokenStrength {
	if token == "" {
		return TokenStrength{}
	}
	inputs := append([]string(nil), adminTokenVocabulary...)
	if inv != nil {
		for _, c := range inv.Controllers {
			inputs = append(inputs, strings.ToLower(c.ID))
		}
	}
	result := zxcvbn.PasswordStrength(token, inputs)
	return TokenStrength{
		Score:     result.Score,
		CrackTime: result.CrackTimeDisplay,
		Weak:      result.Score < minAdminTokenScore,
	}
}
