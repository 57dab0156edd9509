// Package fingerprint computes the content-addressed digest used by the
// cache and dedup store (§3, §4.6, §9). Canonicalization sorts map keys
// recursively and normalizes number formatting so that two semantically
// equal prompts always hash identically, regardless of field ordering.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/spriteforge/orchestrator/internal/domain"
)

// Of returns the hex-encoded SHA-256 digest of the canonical serialization
// of a prompt (§3 Fingerprint, §9 Fingerprinting).
func Of(p domain.StructuredPrompt) string {
	canonical := canonicalize(toMap(p))
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

func toMap(p domain.StructuredPrompt) map[string]any {
	m := map[string]any{
		"type":        p.Type,
		"style":       p.Style,
		"size":        map[string]any{"width": p.Size.Width, "height": p.Size.Height},
		"description": p.Description,
	}
	if p.Action != "" {
		m["action"] = p.Action
	}
	if p.Raw != "" {
		m["raw"] = p.Raw
	}
	if len(p.Options) > 0 {
		m["options"] = p.Options
	}
	return m
}

// canonicalize produces a deterministic JSON encoding: object keys sorted
// recursively, no incidental whitespace.
func canonicalize(v any) []byte {
	return marshalSorted(v)
}

func marshalSorted(v any) []byte {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				out = append(out, ',')
			}
			kb, _ := json.Marshal(k)
			out = append(out, kb...)
			out = append(out, ':')
			out = append(out, marshalSorted(t[k])...)
		}
		out = append(out, '}')
		return out
	case []any:
		out := []byte{'['}
		for i, item := range t {
			if i > 0 {
				out = append(out, ',')
			}
			out = append(out, marshalSorted(item)...)
		}
		out = append(out, ']')
		return out
	default:
		b, _ := json.Marshal(t)
		return b
	}
}
