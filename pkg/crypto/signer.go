package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
)

// Signer produces signatures over raw message bytes.
// The default implementation is a deterministic keyed MAC (HMAC-SHA256);
// ECDSASigner is the asymmetric production variant.
type Signer interface {
	Sign(msg []byte) ([]byte, error)
	Verifier() Verifier
}

// Verifier checks signatures. Verify must return false on any mismatch or
// malformed input, never panic.
type Verifier interface {
	Verify(sig, msg []byte) bool
	// Bytes returns the public key material used for address derivation.
	Bytes() []byte
}

// DeriveAddress returns the hex-encoded SHA-256 of the public key material.
// Stable identity string independent of the human-readable label.
func DeriveAddress(publicMaterial []byte) string {
	sum := sha256.Sum256(publicMaterial)
	return fmt.Sprintf("%x", sum[:])
}

// HMACSigner signs with HMAC-SHA256 over a 32-byte private key.
type HMACSigner struct {
	priv []byte
}

// NewHMACSigner generates a fresh random 32-byte key.
func NewHMACSigner() (*HMACSigner, error) {
	priv := make([]byte, 32)
	if _, err := rand.Read(priv); err != nil {
		return nil, fmt.Errorf("failed to generate signing key: %w", err)
	}
	return &HMACSigner{priv: priv}, nil
}

// HMACSignerFromKey builds a signer from existing key material (tests, reload).
func HMACSignerFromKey(priv []byte) (*HMACSigner, error) {
	if len(priv) != 32 {
		return nil, fmt.Errorf("key must be 32 bytes, got %d", len(priv))
	}
	cp := append([]byte(nil), priv...)
	return &HMACSigner{priv: cp}, nil
}

func (s *HMACSigner) Sign(msg []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, s.priv)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

func (s *HMACSigner) Verifier() Verifier {
	return &hmacVerifier{priv: s.priv}
}

// hmacVerifier recomputes the MAC; the public material is the hash of the
// private key, mirroring how addresses are published without the key itself.
type hmacVerifier struct {
	priv []byte
}

func (v *hmacVerifier) Verify(sig, msg []byte) bool {
	if len(sig) != sha256.Size {
		return false
	}
	mac := hmac.New(sha256.New, v.priv)
	mac.Write(msg)
	return hmac.Equal(sig, mac.Sum(nil))
}

func (v *hmacVerifier) Bytes() []byte {
	sum := sha256.Sum256(v.priv)
	return sum[:]
}
