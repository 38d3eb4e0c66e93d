// Package jsonvalue defines a schema-less JSON value type used for the
// dynamic columns in the data model (input, result, capabilities,
// registrationReport, attributes — spec §9 design note). Unlike a bare
// `any` decoded from encoding/json, Value distinguishes an explicitly
// absent field (Undefined) from one present with a JSON null (Null), which
// a plain map cannot: a missing key and a `null` value both decode to the
// Go zero value under naive unmarshaling.
package jsonvalue

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Kind tags the variant held by a Value.
type Kind int

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// Value is a tagged-variant dynamic JSON value.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
	// keys preserves object insertion order for deterministic re-marshaling;
	// canonical (sorted) hashing is a separate concern (pkg/crypto).
	keys []string
}

// Undefined returns a Value representing an absent field.
func Undefined() Value { return Value{kind: KindUndefined} }

// Null returns a Value representing an explicit JSON null.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a Value wrapping a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a Value wrapping a number.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a Value wrapping a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array returns a Value wrapping an array of Values.
func Array(items []Value) Value { return Value{kind: KindArray, arr: items} }

// Object returns an empty object Value. Use Set to populate it.
func Object() Value { return Value{kind: KindObject, obj: map[string]Value{}} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsUndefined() bool { return v.kind == KindUndefined }
func (v Value) IsNull() bool      { return v.kind == KindNull }

// Set assigns key = val on an object Value, preserving insertion order on
// first assignment. Panics if v is not an object (mirrors map assignment
// semantics — callers must construct with Object() first).
func (v *Value) Set(key string, val Value) {
	if v.kind != KindObject {
		panic("jsonvalue: Set on non-object Value")
	}
	if _, exists := v.obj[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.obj[key] = val
}

// Get returns the value at key, or Undefined if v is not an object or the
// key is absent.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Undefined()
	}
	if val, ok := v.obj[key]; ok {
		return val
	}
	return Undefined()
}

// Has reports whether key is present (even if its value is Null).
func (v Value) Has(key string) bool {
	if v.kind != KindObject {
		return false
	}
	_, ok := v.obj[key]
	return ok
}

// AsBool, AsNumber, AsString, AsArray, AsObject are safe accessors returning
// the zero value and false when the Kind does not match.
func (v Value) AsBool() (bool, bool)       { return v.b, v.kind == KindBool }
func (v Value) AsNumber() (float64, bool)  { return v.n, v.kind == KindNumber }
func (v Value) AsString() (string, bool)   { return v.s, v.kind == KindString }
func (v Value) AsArray() ([]Value, bool)   { return v.arr, v.kind == KindArray }
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == KindObject }

// MarshalJSON implements json.Marshaler. Undefined marshals to nothing
// meaningful on its own — callers embedding a Value in a struct field
// should check IsUndefined and omit the field rather than marshal it.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindUndefined, KindNull:
		return []byte("null"), nil
	case KindBool:
		return json.Marshal(v.b)
	case KindNumber:
		return json.Marshal(v.n)
	case KindString:
		return json.Marshal(v.s)
	case KindArray:
		return json.Marshal(v.arr)
	case KindObject:
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range v.keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(v.obj[k])
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("jsonvalue: unknown kind %d", v.kind)
	}
}

// UnmarshalJSON implements json.Unmarshaler. A JSON `null` decodes to Null,
// never Undefined — Undefined only ever arises from Get/Value zero values
// for an absent key, never from wire data.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = fromAny(raw)
	return nil
}

func fromAny(raw any) Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case json.Number:
		f, _ := t.Float64()
		return Number(f)
	case float64:
		return Number(t)
	case string:
		return String(t)
	case []any:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = fromAny(e)
		}
		return Array(items)
	case map[string]any:
		obj := Object()
		// map[string]any iteration order is random; sort for determinism.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sortStrings(keys)
		for _, k := range keys {
			obj.Set(k, fromAny(t[k]))
		}
		return obj
	default:
		return Null()
	}
}

// Value implements driver.Valuer so a Value can be written directly to a
// Postgres JSON/JSONB column.
func (v Value) Value() (driver.Value, error) {
	if v.IsUndefined() {
		return nil, nil
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return b, nil
}

// Scan implements sql.Scanner so a Value can be populated directly from a
// Postgres JSON/JSONB column.
func (v *Value) Scan(src any) error {
	if src == nil {
		*v = Null()
		return nil
	}
	switch t := src.(type) {
	case []byte:
		return v.UnmarshalJSON(t)
	case string:
		return v.UnmarshalJSON([]byte(t))
	default:
		return fmt.Errorf("jsonvalue: cannot scan %T into Value", src)
	}
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}
