package jsonvalue

import (
	"encoding/json"
	"testing"
)

func TestUndefinedVsNull(t *testing.T) {
	obj := Object()
	obj.Set("present_null", Null())

	if obj.Get("present_null").IsUndefined() {
		t.Fatal("explicit null must not be Undefined")
	}
	if !obj.Get("present_null").IsNull() {
		t.Fatal("expected IsNull for explicit null")
	}
	if !obj.Get("absent_key").IsUndefined() {
		t.Fatal("absent key must be Undefined")
	}
	if obj.Get("absent_key").IsNull() {
		t.Fatal("absent key must not report IsNull")
	}

	if !obj.Has("present_null") {
		t.Fatal("Has should report true for a key set to null")
	}
	if obj.Has("absent_key") {
		t.Fatal("Has should report false for an absent key")
	}
}

func TestRoundTrip(t *testing.T) {
	obj := Object()
	obj.Set("name", String("analyzer"))
	obj.Set("count", Number(3))
	obj.Set("active", Bool(true))
	obj.Set("tags", Array([]Value{String("a"), String("b")}))
	obj.Set("meta", Null())

	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded Value
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	name, ok := decoded.Get("name").AsString()
	if !ok || name != "analyzer" {
		t.Fatalf("name = %q, ok=%v", name, ok)
	}

	count, ok := decoded.Get("count").AsNumber()
	if !ok || count != 3 {
		t.Fatalf("count = %v, ok=%v", count, ok)
	}

	if !decoded.Get("meta").IsNull() {
		t.Fatal("expected meta to round-trip as null")
	}
}

func TestUnmarshalTopLevelNull(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte("null"), &v); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if !v.IsNull() {
		t.Fatal("expected top-level null to decode as Null")
	}
}
