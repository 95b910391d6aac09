package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sdhr-guard/sdhr/internal/model"
)

type mergePatch map[string]any

// parseMergePatch parses a desired-config PATCH body. Only a non-empty JSON
// object is accepted and top-level keys must be non-blank.
func parseMergePatch(patchJSON json.RawMessage) (mergePatch, *ServiceError) {
	var patch map[string]any
	if err := json.Unmarshal(patchJSON, &patch); err != nil {
		return nil, invalidArg("invalid JSON: " + err.Error())
	}
	if patch == nil {
		return nil, invalidArg("patch must be a JSON object")
	}
	if len(patch) == 0 {
		return nil, invalidArg("empty patch")
	}
	for key := range patch {
		if strings.TrimSpace(key) == "" {
			return nil, invalidArg(fmt.Sprintf("invalid key: %q", key))
		}
	}
	return mergePatch(patch), nil
}

// applyTo returns a copy of base with the patch merged in: a null value
// deletes the key, an object value merges recursively, anything else
// replaces.
func (p mergePatch) applyTo(base model.ConfigSnapshot) model.ConfigSnapshot {
	out := base.Clone()
	mergeInto(out, p)
	return out
}

func mergeInto(dst map[string]any, patch map[string]any) {
	for key, val := range patch {
		if val == nil {
			delete(dst, key)
			continue
		}
		sub, ok := val.(map[string]any)
		if !ok {
			dst[key] = val
			continue
		}
		cur, ok := dst[key].(map[string]any)
		if !ok {
			cur = make(map[string]any, len(sub))
		}
		mergeInto(cur, sub)
		dst[key] = cur
	}
}
