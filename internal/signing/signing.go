// Package signing implements Ed25519 attestation of evidence bundle
// manifests. The investigator signs at finalization; reviewers verify the
// signature against the bundle's integrity hash.
package signing

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
)

// ParsePublicKey decodes a hex or base64-encoded Ed25519 public key.
func ParsePublicKey(s string) (ed25519.PublicKey, error) {
	b, err := decodeKey(s, ed25519.PublicKeySize)
	if err != nil {
		return nil, fmt.Errorf("invalid public key: %w", err)
	}
	return ed25519.PublicKey(b), nil
}

// ParsePrivateKey decodes a hex or base64-encoded Ed25519 private key
// (64-byte form) or seed (32-byte form).
func ParsePrivateKey(s string) (ed25519.PrivateKey, error) {
	if b, err := decodeKey(s, ed25519.PrivateKeySize); err == nil {
		return ed25519.PrivateKey(b), nil
	}
	b, err := decodeKey(s, ed25519.SeedSize)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return ed25519.NewKeyFromSeed(b), nil
}

// LoadPrivateKey reads and parses a key file.
func LoadPrivateKey(path string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return ParsePrivateKey(string(data))
}

// LoadPublicKey reads and parses a public key file.
func LoadPublicKey(path string) (ed25519.PublicKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key %s: %w", path, err)
	}
	return ParsePublicKey(string(data))
}

// decodeKey tries hex first, then the common base64 variants.
func decodeKey(s string, size int) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty key")
	}

	if len(s) == size*2 {
		if b, err := hex.DecodeString(s); err == nil && len(b) == size {
			return b, nil
		}
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(s); err == nil && len(b) == size {
			return b, nil
		}
	}
	return nil, fmt.Errorf("must be %d bytes, hex or base64 encoded", size)
}

// Attest signs a bundle integrity hash (hex string) and returns the
// base64-encoded signature.
func Attest(priv ed25519.PrivateKey, integrityHash string) string {
	sig := ed25519.Sign(priv, []byte(integrityHash))
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyAttestation checks a base64 signature over an integrity hash.
func VerifyAttestation(pub ed25519.PublicKey, integrityHash, signature string) bool {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		sig, err = base64.RawStdEncoding.DecodeString(signature)
		if err != nil {
			return false
		}
	}
	return ed25519.Verify(pub, []byte(integrityHash), sig)
}
