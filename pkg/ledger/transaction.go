package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/qorca/qorca/pkg/crypto"
)

// NetworkSender is the reserved sender used for mining rewards. Transactions
// from this sender are exempt from signature verification.
const NetworkSender = "network"

// TxKind tags a transaction with its broadcast variant. Explicit variants
// instead of ad-hoc metadata maps keep serialization exhaustive and checkable.
type TxKind string

const (
	TxTransfer    TxKind = "transfer"
	TxTrade       TxKind = "trade"
	TxContingency TxKind = "contingency"
	TxAlert       TxKind = "alert"
	TxReward      TxKind = "reward"
)

// BroadcastMeta carries the structured fields of trade and contingency
// broadcasts. Only the fields relevant to the kind are populated.
type BroadcastMeta struct {
	Interval      int64    `json:"interval"`
	EnergyKWh     float64  `json:"energy_kwh,omitempty"`
	PricePerKWh   float64  `json:"price_per_kwh,omitempty"`
	NetBalanceKWh float64  `json:"net_balance_kwh,omitempty"`
	Message       string   `json:"message,omitempty"`
	Recipients    []string `json:"recipients,omitempty"`
}

// Transaction is immutable after signing. The signature covers the canonical
// serialization of (sender, recipient, amount, timestamp) only; the quantum
// payload and broadcast metadata are attached before signing in the quantum
// path and do not invalidate it.
type Transaction struct {
	Sender         string           `json:"sender"`
	Recipient      string           `json:"recipient"`
	Amount         float64          `json:"amount"`
	Timestamp      int64            `json:"timestamp"` // unix millis
	Kind           TxKind           `json:"kind"`
	Signature      string           `json:"signature,omitempty"` // hex
	QuantumPayload *crypto.Envelope `json:"quantum_payload,omitempty"`
	Meta           *BroadcastMeta   `json:"meta,omitempty"`
}

var ErrNoQuantumPayload = errors.New("no quantum payload present on this transaction")

// PayloadContext is the plaintext carried inside a quantum payload.
type PayloadContext struct {
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	Sender    string  `json:"sender"`
	Timestamp int64   `json:"timestamp"`
}

// canonicalJSON marshals a map; encoding/json sorts map keys, which gives us
// a stable byte form for signing and hashing.
func canonicalJSON(m map[string]any) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Only reachable with non-serializable values, which we never put in.
		panic(fmt.Errorf("canonical marshal: %w", err))
	}
	return data
}

// SigningBytes returns the canonical form covered by the signature.
func (tx *Transaction) SigningBytes() []byte {
	return canonicalJSON(map[string]any{
		"amount":    tx.Amount,
		"recipient": tx.Recipient,
		"sender":    tx.Sender,
		"timestamp": tx.Timestamp,
	})
}

// Sign sets the transaction signature using the sender's key.
func (tx *Transaction) Sign(signer crypto.Signer) error {
	sig, err := signer.Sign(tx.SigningBytes())
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	tx.Signature = hex.EncodeToString(sig)
	return nil
}

// VerifySignature checks the signature against the given verifier. Returns
// false for missing or malformed signatures.
func (tx *Transaction) VerifySignature(v crypto.Verifier) bool {
	if v == nil || tx.Signature == "" {
		return false
	}
	sig, err := hex.DecodeString(tx.Signature)
	if err != nil {
		return false
	}
	return v.Verify(sig, tx.SigningBytes())
}

// AttachQuantumPayload encrypts the transaction context through the channel
// and stores the resulting envelope. Called before signing.
func (tx *Transaction) AttachQuantumPayload(ch *Channel) error {
	ctx := canonicalJSON(map[string]any{
		"amount":    tx.Amount,
		"recipient": tx.Recipient,
		"sender":    tx.Sender,
		"timestamp": tx.Timestamp,
	})
	env, err := ch.Encrypt(ctx)
	if err != nil {
		return fmt.Errorf("failed to attach quantum payload: %w", err)
	}
	tx.QuantumPayload = env
	return nil
}

// DecryptQuantumPayload opens the envelope through the channel and decodes
// the transaction context.
func (tx *Transaction) DecryptQuantumPayload(ch *Channel) (PayloadContext, error) {
	if tx.QuantumPayload == nil {
		return PayloadContext{}, ErrNoQuantumPayload
	}
	plain, err := ch.Decrypt(tx.QuantumPayload)
	if err != nil {
		return PayloadContext{}, err
	}
	var ctx PayloadContext
	if err := json.Unmarshal(plain, &ctx); err != nil {
		return PayloadContext{}, fmt.Errorf("failed to decode payload context: %w", err)
	}
	return ctx, nil
}

// HashHex returns the per-transaction hash used as a Merkle leaf. Unlike the
// signature, the leaf covers every field, so kind and metadata are immutable
// once mined even though they sit outside the signing contract.
func (tx *Transaction) HashHex() string {
	m := map[string]any{
		"amount":    tx.Amount,
		"recipient": tx.Recipient,
		"sender":    tx.Sender,
		"timestamp": tx.Timestamp,
		"kind":      string(tx.Kind),
	}
	if tx.Meta != nil {
		m["meta"] = tx.Meta
	}
	if tx.QuantumPayload != nil {
		m["quantum_payload"] = map[string]any{
			"channel_id": tx.QuantumPayload.ChannelID,
			"ciphertext": tx.QuantumPayload.Ciphertext,
			"nonce":      tx.QuantumPayload.Nonce,
			"integrity":  tx.QuantumPayload.Integrity,
		}
	}
	sum := sha256.Sum256(canonicalJSON(m))
	return hex.EncodeToString(sum[:])
}
