package crypto

import "testing"

func TestHashSecretVerify(t *testing.T) {
	hash, err := HashSecret("sk_abc123")
	if err != nil {
		t.Fatalf("HashSecret error: %v", err)
	}

	if !VerifySecret(hash, "sk_abc123") {
		t.Fatal("expected matching secret to verify")
	}

	if VerifySecret(hash, "sk_wrong") {
		t.Fatal("expected non-matching secret to fail verification")
	}
}

func TestGenerateAPIKey(t *testing.T) {
	key, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey error: %v", err)
	}

	if len(key.Raw) < APIKeyPrefixLen+16 {
		t.Fatalf("raw key too short: %q", key.Raw)
	}
	if key.Raw[:3] != APIKeyPrefix {
		t.Fatalf("raw key missing prefix: %q", key.Raw)
	}
	if key.Prefix != key.Raw[:APIKeyPrefixLen] {
		t.Fatalf("Prefix = %q, want %q", key.Prefix, key.Raw[:APIKeyPrefixLen])
	}
	if !VerifySecret(key.Hash, key.Raw) {
		t.Fatal("generated key does not verify against its own hash")
	}
}

func TestConstantTimeEqual(t *testing.T) {
	if !ConstantTimeEqual("abc", "abc") {
		t.Fatal("expected equal strings to compare equal")
	}
	if ConstantTimeEqual("abc", "abd") {
		t.Fatal("expected different strings to compare unequal")
	}
}
