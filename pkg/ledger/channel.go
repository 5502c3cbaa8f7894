package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"

	"github.com/qorca/qorca/pkg/crypto"
)

const channelKDFInfo = "qorca-hybrid-channel-v1"

// Channel is a symmetric encryption session between an unordered pair of
// participants. The session key mixes the pair's identities with a fresh
// ML-KEM-768 shared secret, emulating a quantum key exchange: establishing a
// channel twice yields a different session each time.
type Channel struct {
	Participants [2]string `json:"participants"`
	ID           string    `json:"channel_id"`
	CreatedAt    int64     `json:"created_at"` // unix millis

	sessionKey []byte
}

// sortedPair normalizes the two labels into the registry key order.
func sortedPair(a, b string) [2]string {
	if b < a {
		a, b = b, a
	}
	return [2]string{a, b}
}

// NewChannel derives a fresh session for the pair. Not deterministically
// re-derivable: the KEM encapsulation contributes fresh entropy every call.
func NewChannel(labelA, labelB string, createdAt int64) (*Channel, error) {
	pair := sortedPair(labelA, labelB)

	scheme := mlkem768.Scheme()
	pk, _, err := scheme.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("failed to generate channel keypair: %w", err)
	}
	_, shared, err := scheme.Encapsulate(pk)
	if err != nil {
		return nil, fmt.Errorf("failed to encapsulate channel secret: %w", err)
	}

	salt := []byte(pair[0] + "::" + pair[1])
	kdf := hkdf.New(sha256.New, shared, salt, []byte(channelKDFInfo))
	sessionKey := make([]byte, 32)
	if _, err := io.ReadFull(kdf, sessionKey); err != nil {
		return nil, fmt.Errorf("failed to derive session key: %w", err)
	}

	id := sha256.Sum256(sessionKey)
	return &Channel{
		Participants: pair,
		ID:           hex.EncodeToString(id[:]),
		CreatedAt:    createdAt,
		sessionKey:   sessionKey,
	}, nil
}

func (c *Channel) Encrypt(plaintext []byte) (*crypto.Envelope, error) {
	return crypto.Seal(c.sessionKey, c.ID, plaintext)
}

func (c *Channel) Decrypt(env *crypto.Envelope) ([]byte, error) {
	return crypto.Open(c.sessionKey, c.ID, env)
}
