package crypto

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

var (
	// ErrIntegrity means the envelope's integrity tag did not match: the
	// ciphertext was tampered with or the wrong session key was used.
	ErrIntegrity = errors.New("envelope integrity check failed")
	// ErrChannelMismatch means the envelope was sealed for a different channel.
	ErrChannelMismatch = errors.New("channel mismatch during decryption")
)

// Envelope is a symmetric authenticated-encryption container. The keystream is
// SHA-256(sessionKey || nonce) repeated to the plaintext length and XORed; the
// integrity tag binds ciphertext and keystream together.
type Envelope struct {
	ChannelID  string `json:"channel_id"`
	Ciphertext string `json:"ciphertext"`
	Nonce      string `json:"nonce"`
	Integrity  string `json:"integrity"`
}

func deriveStream(sessionKey, nonce []byte) []byte {
	sum := sha256.Sum256(append(append([]byte(nil), sessionKey...), nonce...))
	return sum[:]
}

func xorStream(data, stream []byte) []byte {
	out := make([]byte, len(data))
	for i, b := range data {
		out[i] = b ^ stream[i%len(stream)]
	}
	return out
}

func integrityTag(ciphertext, stream []byte) string {
	sum := sha256.Sum256(append(append([]byte(nil), ciphertext...), stream...))
	return hex.EncodeToString(sum[:])
}

// Seal encrypts plaintext under the session key and stamps the envelope with
// the channel identifier.
func Seal(sessionKey []byte, channelID string, plaintext []byte) (*Envelope, error) {
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	stream := deriveStream(sessionKey, nonce)
	ciphertext := xorStream(plaintext, stream)
	return &Envelope{
		ChannelID:  channelID,
		Ciphertext: hex.EncodeToString(ciphertext),
		Nonce:      hex.EncodeToString(nonce),
		Integrity:  integrityTag(ciphertext, stream),
	}, nil
}

// Open recomputes the keystream from the supplied nonce and verifies both the
// channel identifier and the integrity tag before decrypting.
func Open(sessionKey []byte, channelID string, env *Envelope) ([]byte, error) {
	if env.ChannelID != channelID {
		return nil, ErrChannelMismatch
	}
	nonce, err := hex.DecodeString(env.Nonce)
	if err != nil {
		return nil, fmt.Errorf("invalid nonce encoding: %w", err)
	}
	ciphertext, err := hex.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("invalid ciphertext encoding: %w", err)
	}
	stream := deriveStream(sessionKey, nonce)
	expected := integrityTag(ciphertext, stream)
	if !hmac.Equal([]byte(expected), []byte(env.Integrity)) {
		return nil, ErrIntegrity
	}
	return xorStream(ciphertext, stream), nil
}
