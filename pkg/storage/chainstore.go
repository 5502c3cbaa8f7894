// Package storage persists the chain in pebble. Blocks are stored as JSON
// records so the on-disk shape matches the /chain/full API view.
package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/qorca/qorca/pkg/ledger"
)

// keys: blk:<8-byte big-endian index>, tip (8-byte big-endian height)
func kBlock(index int) []byte {
	key := make([]byte, 4+8)
	copy(key, "blk:")
	binary.BigEndian.PutUint64(key[4:], uint64(index))
	return key
}

func kTip() []byte { return []byte("tip") }

type ChainStore struct {
	db *pebble.DB
}

func NewChainStore(path string) (*ChainStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open chain store: %w", err)
	}
	return &ChainStore{db: db}, nil
}

func (s *ChainStore) Close() error { return s.db.Close() }

// AppendBlock writes one block and advances the tip atomically.
func (s *ChainStore) AppendBlock(b ledger.Block) error {
	val, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("failed to encode block %d: %w", b.Index, err)
	}
	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(kBlock(b.Index), val, nil); err != nil {
		return err
	}
	tip := make([]byte, 8)
	binary.BigEndian.PutUint64(tip, uint64(b.Index+1))
	if err := batch.Set(kTip(), tip, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// SaveChain writes the whole chain in a single batch, replacing the tip.
func (s *ChainStore) SaveChain(blocks []ledger.Block) error {
	batch := s.db.NewBatch()
	defer batch.Close()
	for _, b := range blocks {
		val, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to encode block %d: %w", b.Index, err)
		}
		if err := batch.Set(kBlock(b.Index), val, nil); err != nil {
			return err
		}
	}
	tip := make([]byte, 8)
	binary.BigEndian.PutUint64(tip, uint64(len(blocks)))
	if err := batch.Set(kTip(), tip, nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

// Load reads the stored chain in index order. Returns (nil, nil) when the
// store is empty; a missing block below the tip is an error, never a partial
// chain.
func (s *ChainStore) Load() ([]ledger.Block, error) {
	tipVal, closer, err := s.db.Get(kTip())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read tip: %w", err)
	}
	height := binary.BigEndian.Uint64(tipVal)
	closer.Close()

	blocks := make([]ledger.Block, 0, height)
	for i := 0; i < int(height); i++ {
		val, closer, err := s.db.Get(kBlock(i))
		if err != nil {
			return nil, fmt.Errorf("failed to read block %d: %w", i, err)
		}
		var b ledger.Block
		decErr := json.Unmarshal(val, &b)
		closer.Close()
		if decErr != nil {
			return nil, fmt.Errorf("failed to decode block %d: %w", i, decErr)
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}
