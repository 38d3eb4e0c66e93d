package crypto

import "testing"

func TestConfigHashStableUnderKeyReordering(t *testing.T) {
	a := map[string]any{
		"name":      "analyzer",
		"image":     "docker.io/acme/x:v1",
		"resources": map[string]any{"cpu": "2", "memory": "4Gi"},
	}
	b := map[string]any{
		"resources": map[string]any{"memory": "4Gi", "cpu": "2"},
		"image":     "docker.io/acme/x:v1",
		"name":      "analyzer",
	}

	ha, err := ConfigHash(a)
	if err != nil {
		t.Fatalf("ConfigHash(a) error: %v", err)
	}
	hb, err := ConfigHash(b)
	if err != nil {
		t.Fatalf("ConfigHash(b) error: %v", err)
	}

	if ha != hb {
		t.Fatalf("configHash not stable under key reordering: %q vs %q", ha, hb)
	}
}

func TestConfigHashChangesWithContent(t *testing.T) {
	a := map[string]any{"name": "analyzer", "image": "docker.io/acme/x:v1"}
	b := map[string]any{"name": "analyzer", "image": "docker.io/acme/x:v2"}

	ha, _ := ConfigHash(a)
	hb, _ := ConfigHash(b)

	if ha == hb {
		t.Fatal("expected different content to produce different configHash")
	}
}

func TestConfigHashLength(t *testing.T) {
	h, err := ConfigHash(map[string]any{"a": 1})
	if err != nil {
		t.Fatalf("ConfigHash error: %v", err)
	}
	if len(h) != 64 {
		t.Fatalf("hash length = %d, want 64 (SHA-256 hex)", len(h))
	}
}
