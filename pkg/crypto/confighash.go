package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// CanonicalJSON serializes v with object keys sorted recursively, so that
// semantically identical documents produce byte-identical output regardless
// of field order (spec §9 design note, spec §3 configHash).
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, err
	}

	canonical := canonicalize(decoded)
	return json.Marshal(canonical)
}

// canonicalize recursively rewrites maps into sortedMap so that
// encoding/json's native map key sort (which is already alphabetical for
// map[string]any) is applied at every nesting level, and arrays keep order.
func canonicalize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(sortedMap, 0, len(keys))
		for _, k := range keys {
			out = append(out, sortedEntry{Key: k, Value: canonicalize(t[k])})
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = canonicalize(e)
		}
		return out
	default:
		return t
	}
}

// sortedEntry is one key/value pair in a sortedMap.
type sortedEntry struct {
	Key   string
	Value any
}

// sortedMap marshals as a JSON object with keys emitted in the order given,
// which canonicalize has already sorted alphabetically.
type sortedMap []sortedEntry

func (m sortedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, e := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, key...)
		buf = append(buf, ':')
		buf = append(buf, val...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// ConfigHash returns the SHA-256 hex digest of v's canonical JSON
// serialization (spec §3: "configHash = SHA-256 of the canonical
// serialization... with recursively sorted keys").
func ConfigHash(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
