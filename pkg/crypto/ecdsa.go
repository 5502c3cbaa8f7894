package crypto

import (
	"bytes"
	"crypto/ecdsa"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// ECDSASigner is the asymmetric production variant of Signer.
// Uses secp256k1 keys; messages are hashed with Keccak256 before signing.
type ECDSASigner struct {
	privateKey *ecdsa.PrivateKey
	publicKey  *ecdsa.PublicKey
}

// NewECDSASigner creates a new random secp256k1 key pair.
func NewECDSASigner() (*ECDSASigner, error) {
	privateKey, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &ECDSASigner{privateKey: privateKey, publicKey: publicKey}, nil
}

// ECDSASignerFromHex loads a signer from a hex-encoded private key (64 hex chars).
func ECDSASignerFromHex(hexKey string) (*ECDSASigner, error) {
	privateKey, err := ethcrypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("failed to cast public key to ECDSA")
	}
	return &ECDSASigner{privateKey: privateKey, publicKey: publicKey}, nil
}

// PrivateKeyHex returns the private key as hex (no 0x prefix). Keep secret.
func (s *ECDSASigner) PrivateKeyHex() string {
	return fmt.Sprintf("%x", ethcrypto.FromECDSA(s.privateKey))
}

// Sign hashes the message with Keccak256 and signs the digest.
// Returns a 65-byte [R || S || V] signature.
func (s *ECDSASigner) Sign(msg []byte) ([]byte, error) {
	hash := ethcrypto.Keccak256Hash(msg)
	sig, err := ethcrypto.Sign(hash.Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

func (s *ECDSASigner) Verifier() Verifier {
	return &ecdsaVerifier{pub: ethcrypto.FromECDSAPub(s.publicKey)}
}

type ecdsaVerifier struct {
	pub []byte // uncompressed public key (65 bytes)
}

func (v *ecdsaVerifier) Verify(sig, msg []byte) bool {
	if len(sig) != 65 {
		return false
	}
	hash := ethcrypto.Keccak256Hash(msg)
	recovered, err := ethcrypto.Ecrecover(hash.Bytes(), sig)
	if err != nil {
		return false
	}
	return bytes.Equal(recovered, v.pub)
}

func (v *ecdsaVerifier) Bytes() []byte { return v.pub }
