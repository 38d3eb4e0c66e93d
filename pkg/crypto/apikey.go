package crypto

import "fmt"

// APIKeyPrefix is the public prefix identifying a dispatch API key (spec §6).
const APIKeyPrefix = "sk_"

// APIKeyPrefixLen is the number of characters (including APIKeyPrefix) used
// as the indexed candidate-lookup prefix (spec §6: "first 8 characters").
const APIKeyPrefixLen = 8

// ClusterTokenPrefix is the public prefix identifying a cluster token.
const ClusterTokenPrefix = "ctok_"

// GeneratedAPIKey holds a freshly minted API key: the raw secret (shown once),
// its lookup prefix, and its bcrypt hash for durable storage.
type GeneratedAPIKey struct {
	Raw    string
	Prefix string
	Hash   string
}

// GenerateAPIKey mints a new `sk_`-prefixed API key, its bcrypt hash, and its
// indexed lookup prefix (spec §3, §6).
func GenerateAPIKey() (GeneratedAPIKey, error) {
	secret, err := RandomHex(32)
	if err != nil {
		return GeneratedAPIKey{}, err
	}
	raw := APIKeyPrefix + secret

	hash, err := HashSecret(raw)
	if err != nil {
		return GeneratedAPIKey{}, err
	}

	return GeneratedAPIKey{
		Raw:    raw,
		Prefix: KeyPrefix(raw),
		Hash:   hash,
	}, nil
}

// GenerateClusterToken mints a new cluster registration token, returned in
// plaintext exactly once by RegisterCluster (spec §6).
func GenerateClusterToken() (raw, hash string, err error) {
	secret, err := RandomHex(32)
	if err != nil {
		return "", "", err
	}
	raw = ClusterTokenPrefix + secret

	hash, err = HashSecret(raw)
	if err != nil {
		return "", "", err
	}
	return raw, hash, nil
}

// KeyPrefix extracts the indexed candidate-lookup prefix from a raw key
// (spec §6: "first 8 characters are the prefix used to select candidate
// hashes").
func KeyPrefix(raw string) string {
	if len(raw) <= APIKeyPrefixLen {
		return raw
	}
	return raw[:APIKeyPrefixLen]
}

// ValidateAPIKeyShape reports whether raw looks like a well-formed API key
// before attempting any database lookup.
func ValidateAPIKeyShape(raw string) error {
	if len(raw) < APIKeyPrefixLen+16 {
		return fmt.Errorf("malformed API key")
	}
	return nil
}
