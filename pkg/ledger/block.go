package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Block is append-only: never mutated after being added to the chain.
// Hash commits to (index, merkle_root, timestamp, previous_hash, nonce) and
// must carry the configured number of leading zero hex characters.
type Block struct {
	Index        int           `json:"index"`
	Transactions []Transaction `json:"transactions"`
	Timestamp    int64         `json:"timestamp"` // unix millis
	PrevHash     string        `json:"previous_hash"`
	Nonce        uint64        `json:"nonce"`
	MerkleRoot   string        `json:"merkle_root"`
	Hash         string        `json:"hash"`
}

// NewBlock assembles a block and computes its Merkle root and hash. The
// returned block is not yet sealed; the chain's proof-of-work search sets the
// final nonce and hash.
func NewBlock(index int, txs []Transaction, timestamp int64, prevHash string) *Block {
	b := &Block{
		Index:        index,
		Transactions: txs,
		Timestamp:    timestamp,
		PrevHash:     prevHash,
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	b.Hash = b.ComputeHash()
	return b
}

// ComputeMerkleRoot reduces per-transaction hashes pairwise; an odd node is
// carried forward unmodified. Empty transaction lists yield an empty root.
func (b *Block) ComputeMerkleRoot() string {
	if len(b.Transactions) == 0 {
		return ""
	}
	leaves := make([]string, len(b.Transactions))
	for i := range b.Transactions {
		leaves[i] = b.Transactions[i].HashHex()
	}
	for len(leaves) > 1 {
		var next []string
		for i := 0; i < len(leaves); i += 2 {
			if i+1 < len(leaves) {
				sum := sha256.Sum256([]byte(leaves[i] + leaves[i+1]))
				next = append(next, hex.EncodeToString(sum[:]))
			} else {
				next = append(next, leaves[i])
			}
		}
		leaves = next
	}
	return leaves[0]
}

// ComputeHash hashes the canonical header form.
func (b *Block) ComputeHash() string {
	data := canonicalJSON(map[string]any{
		"index":         b.Index,
		"merkle_root":   b.MerkleRoot,
		"timestamp":     b.Timestamp,
		"previous_hash": b.PrevHash,
		"nonce":         b.Nonce,
	})
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MeetsDifficulty reports whether the stored hash has at least difficulty
// leading zero hex characters.
func (b *Block) MeetsDifficulty(difficulty int) bool {
	return strings.HasPrefix(b.Hash, strings.Repeat("0", difficulty))
}
