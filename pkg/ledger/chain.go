// Package ledger implements the append-only, proof-of-work-secured chain:
// transactions, blocks with Merkle aggregation, the mempool, the participant
// registry, and the quantum-hybrid channel registry mediating encrypted
// transactions.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qorca/qorca/pkg/crypto"
)

var (
	ErrUnknownParticipant    = errors.New("unknown participant")
	ErrChannelNotEstablished = errors.New("requested channel is not established")
	ErrMiningBudgetExceeded  = errors.New("proof-of-work iteration budget exceeded")
	ErrInvalidChain          = errors.New("chain validation failed")
)

// Participant is an identity holding a signing keypair, a label, and a
// derived address. Registered participants never outlive the chain.
type Participant struct {
	Label   string
	Address string

	signer   crypto.Signer
	verifier crypto.Verifier
}

func (p *Participant) Verifier() crypto.Verifier { return p.verifier }

// PeerNotifier is the broadcast hook invoked after a block is sealed. The
// default implementation only logs; pkg/p2p provides a gossip-backed one.
type PeerNotifier interface {
	BlockSealed(b Block)
}

// Config holds chain parameters. MaxPoWIters of 0 means unbounded search
// (production); tests inject a cap to stay deterministic.
type Config struct {
	Difficulty   int
	MaxBlockTxs  int
	MaxPoWIters  uint64
	RewardAmount float64
	MinerAddress string
	KeyGen       func() (crypto.Signer, error)
}

func DefaultConfig() Config {
	return Config{
		Difficulty:   2,
		MaxBlockTxs:  5,
		RewardAmount: 10,
		MinerAddress: "miner_address",
		KeyGen:       func() (crypto.Signer, error) { return crypto.NewHMACSigner() },
	}
}

// Summary is the lightweight chain view exposed to the API layer.
type Summary struct {
	Height            int    `json:"height"`
	LatestHash        string `json:"latest_hash"`
	MempoolSize       int    `json:"mempool_size"`
	TotalTransactions int    `json:"total_transactions"`
	Difficulty        int    `json:"difficulty"`
	Participants      int    `json:"participants"`
	Channels          int    `json:"channels"`
}

// Chain is the single-authority blockchain. One mutex guards chain, mempool
// and both registries; all lock-free helpers are only called while holding it,
// which lets AddTransaction trigger mining without re-entering the lock.
type Chain struct {
	mu  sync.Mutex
	cfg Config
	log *zap.SugaredLogger

	blocks  []*Block
	mempool []*Transaction

	participants map[string]*Participant
	registry     map[string]crypto.Verifier // label and address -> verifier
	channels     map[[2]string]*Channel
	peers        map[string]struct{}

	notifier PeerNotifier
	onSealed func(Block) // persistence hook
}

// NewChain creates the chain and mines the genesis block synchronously.
func NewChain(cfg Config, log *zap.SugaredLogger) (*Chain, error) {
	if cfg.KeyGen == nil {
		cfg.KeyGen = func() (crypto.Signer, error) { return crypto.NewHMACSigner() }
	}
	if cfg.MaxBlockTxs <= 0 {
		cfg.MaxBlockTxs = DefaultConfig().MaxBlockTxs
	}
	c := &Chain{
		cfg:          cfg,
		log:          log,
		participants: make(map[string]*Participant),
		registry:     make(map[string]crypto.Verifier),
		channels:     make(map[[2]string]*Channel),
		peers:        make(map[string]struct{}),
	}

	genesis := NewBlock(0, nil, nowMillis(), "0")
	if err := c.proofOfWork(genesis); err != nil {
		return nil, fmt.Errorf("failed to mine genesis block: %w", err)
	}
	c.blocks = append(c.blocks, genesis)
	if log != nil {
		log.Infow("genesis_mined", "hash", genesis.Hash, "difficulty", cfg.Difficulty)
	}
	return c, nil
}

func nowMillis() int64 { return time.Now().UnixMilli() }

// SetNotifier installs the peer broadcast hook.
func (c *Chain) SetNotifier(n PeerNotifier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifier = n
}

// OnBlockSealed installs a hook called with every sealed block (persistence).
func (c *Chain) OnBlockSealed(fn func(Block)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onSealed = fn
}

// RegisterParticipant generates a keypair for the label and registers the
// verifier under both the label and the derived address. Re-registering a
// label replaces its keys; callers must not re-register.
func (c *Chain) RegisterParticipant(label string) (*Participant, error) {
	signer, err := c.cfg.KeyGen()
	if err != nil {
		return nil, fmt.Errorf("failed to generate participant key: %w", err)
	}
	verifier := signer.Verifier()
	p := &Participant{
		Label:    label,
		Address:  crypto.DeriveAddress(verifier.Bytes()),
		signer:   signer,
		verifier: verifier,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.participants[label] = p
	c.registry[label] = verifier
	c.registry[p.Address] = verifier
	c.peers[label] = struct{}{}
	return p, nil
}

// IsParticipant reports whether a label is registered.
func (c *Chain) IsParticipant(label string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.participants[label]
	return ok
}

// ParticipantLabels returns all registered labels.
func (c *Chain) ParticipantLabels() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	labels := make([]string, 0, len(c.participants))
	for l := range c.participants {
		labels = append(labels, l)
	}
	return labels
}

// EstablishChannel returns the cached channel for the sorted pair, creating
// one lazily on first use. Both labels must already be registered.
func (c *Chain) EstablishChannel(labelA, labelB string) (*Channel, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.establishChannelLocked(labelA, labelB)
}

func (c *Chain) establishChannelLocked(labelA, labelB string) (*Channel, error) {
	if _, ok := c.participants[labelA]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, labelA)
	}
	if _, ok := c.participants[labelB]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, labelB)
	}
	pair := sortedPair(labelA, labelB)
	if ch, ok := c.channels[pair]; ok {
		return ch, nil
	}
	ch, err := NewChannel(labelA, labelB, nowMillis())
	if err != nil {
		return nil, err
	}
	c.channels[pair] = ch
	if c.log != nil {
		c.log.Infow("channel_established", "channel_id", ch.ID, "participants", pair)
	}
	return ch, nil
}

// GetChannel looks up an established channel without creating one.
func (c *Chain) GetChannel(labelA, labelB string) (*Channel, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.channels[sortedPair(labelA, labelB)]
	return ch, ok
}

// CreateQuantumTransaction builds a transfer between two registered
// participants with an encrypted payload attached through their channel,
// signed by the sender.
func (c *Chain) CreateQuantumTransaction(sender, recipient string, amount float64) (*Transaction, error) {
	return c.CreateQuantumBroadcast(sender, recipient, amount, TxTransfer, nil)
}

// CreateQuantumBroadcast is the tagged-variant form used for trade and
// contingency broadcasts. The payload is attached before signing.
func (c *Chain) CreateQuantumBroadcast(sender, recipient string, amount float64, kind TxKind, meta *BroadcastMeta) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.participants[sender]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, sender)
	}
	if _, ok := c.participants[recipient]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, recipient)
	}
	ch, err := c.establishChannelLocked(sender, recipient)
	if err != nil {
		return nil, err
	}

	tx := &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Timestamp: nowMillis(),
		Kind:      kind,
		Meta:      meta,
	}
	if err := tx.AttachQuantumPayload(ch); err != nil {
		return nil, err
	}
	if err := tx.Sign(p.signer); err != nil {
		return nil, err
	}
	return tx, nil
}

// DecryptQuantumTransaction opens a transaction's payload through the channel
// of the given pair.
func (c *Chain) DecryptQuantumTransaction(tx *Transaction, labelA, labelB string) (PayloadContext, error) {
	c.mu.Lock()
	ch, ok := c.channels[sortedPair(labelA, labelB)]
	c.mu.Unlock()
	if !ok {
		return PayloadContext{}, ErrChannelNotEstablished
	}
	return tx.DecryptQuantumPayload(ch)
}

// AddTransaction validates and appends to the mempool. Returns false without
// mutating state on validation failure. Reaching the block threshold triggers
// synchronous mining.
func (c *Chain) AddTransaction(tx *Transaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.validateTxLocked(tx) {
		if c.log != nil {
			c.log.Warnw("transaction_rejected", "sender", tx.Sender, "recipient", tx.Recipient, "amount", tx.Amount)
		}
		return false
	}
	c.mempool = append(c.mempool, tx)
	if len(c.mempool) >= c.cfg.MaxBlockTxs {
		if err := c.minePendingLocked(); err != nil && c.log != nil {
			c.log.Errorw("mining_failed", "err", err)
		}
	}
	return true
}

// validateTxLocked: positive amount (zero admitted only for contingency
// broadcasts), signature verified against the sender's registered key, with
// the reserved network sender exempt.
func (c *Chain) validateTxLocked(tx *Transaction) bool {
	if tx.Amount < 0 {
		return false
	}
	if tx.Amount == 0 && tx.Kind != TxContingency {
		return false
	}
	if tx.Sender == NetworkSender {
		return true
	}
	return tx.VerifySignature(c.registry[tx.Sender])
}

// MinePendingTransactions mines a block from the mempool immediately (manual
// flush).
func (c *Chain) MinePendingTransactions() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.minePendingLocked()
}

func (c *Chain) minePendingLocked() error {
	n := len(c.mempool)
	if n > c.cfg.MaxBlockTxs {
		n = c.cfg.MaxBlockTxs
	}
	batch := make([]Transaction, 0, n+1)
	batch = append(batch, Transaction{
		Sender:    NetworkSender,
		Recipient: c.cfg.MinerAddress,
		Amount:    c.cfg.RewardAmount,
		Timestamp: nowMillis(),
		Kind:      TxReward,
	})
	for _, tx := range c.mempool[:n] {
		batch = append(batch, *tx)
	}

	if err := c.addBlockLocked(batch); err != nil {
		return err
	}
	c.mempool = c.mempool[n:]
	return nil
}

func (c *Chain) addBlockLocked(txs []Transaction) error {
	tip := c.blocks[len(c.blocks)-1]
	blk := NewBlock(len(c.blocks), txs, nowMillis(), tip.Hash)
	if err := c.proofOfWork(blk); err != nil {
		return err
	}
	c.blocks = append(c.blocks, blk)
	if c.log != nil {
		c.log.Infow("block_sealed",
			"index", blk.Index,
			"hash", blk.Hash,
			"nonce", blk.Nonce,
			"txs", len(blk.Transactions),
			"peers_notified", len(c.peers))
	}

	sealed := *blk
	if c.notifier != nil {
		// Broadcast outside the critical path; the notifier may do network IO.
		go c.notifier.BlockSealed(sealed)
	}
	if c.onSealed != nil {
		go c.onSealed(sealed)
	}
	return nil
}

// proofOfWork increments the nonce until the hash meets the difficulty
// target. With MaxPoWIters of 0 the search is unbounded: misconfigured
// difficulty stalls throughput but never corrupts state.
func (c *Chain) proofOfWork(b *Block) error {
	var iters uint64
	for {
		if b.MeetsDifficulty(c.cfg.Difficulty) {
			return nil
		}
		if c.cfg.MaxPoWIters > 0 && iters >= c.cfg.MaxPoWIters {
			return ErrMiningBudgetExceeded
		}
		b.Nonce++
		iters++
		b.MerkleRoot = b.ComputeMerkleRoot()
		b.Hash = b.ComputeHash()
	}
}

// IsChainValid walks the chain from block 1, checking stored hashes,
// linkage, proof-of-work, Merkle roots and transaction validity. Stops and
// returns false on the first violation.
func (c *Chain) IsChainValid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.validateBlocksLocked(c.blocks)
}

func (c *Chain) validateBlocksLocked(blocks []*Block) bool {
	for i := 1; i < len(blocks); i++ {
		cur, prev := blocks[i], blocks[i-1]
		if cur.Hash != cur.ComputeHash() {
			c.logInvalid(i, "hash mismatch")
			return false
		}
		if cur.PrevHash != prev.Hash {
			c.logInvalid(i, "broken linkage")
			return false
		}
		if !cur.MeetsDifficulty(c.cfg.Difficulty) {
			c.logInvalid(i, "proof of work not satisfied")
			return false
		}
		if cur.MerkleRoot != cur.ComputeMerkleRoot() {
			c.logInvalid(i, "merkle root mismatch")
			return false
		}
		for j := range cur.Transactions {
			if !c.validateTxLocked(&cur.Transactions[j]) {
				c.logInvalid(i, "invalid transaction")
				return false
			}
		}
	}
	return true
}

func (c *Chain) logInvalid(index int, reason string) {
	if c.log != nil {
		c.log.Warnw("chain_invalid", "block", index, "reason", reason)
	}
}

// AdoptChain replaces the in-memory chain with a loaded one, all or nothing:
// any validation failure rejects the candidate entirely and the prior chain
// is retained.
func (c *Chain) AdoptChain(blocks []Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(blocks) == 0 {
		return fmt.Errorf("%w: empty chain", ErrInvalidChain)
	}
	candidate := make([]*Block, len(blocks))
	for i := range blocks {
		candidate[i] = &blocks[i]
	}
	if !c.validateBlocksLocked(candidate) {
		return ErrInvalidChain
	}
	c.blocks = candidate
	if c.log != nil {
		c.log.Infow("chain_adopted", "height", len(candidate))
	}
	return nil
}

// Blocks returns copies of every block, in order.
func (c *Chain) Blocks() []Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Block, len(c.blocks))
	for i, b := range c.blocks {
		cp := *b
		cp.Transactions = append([]Transaction(nil), b.Transactions...)
		out[i] = cp
	}
	return out
}

// Tip returns the latest block.
func (c *Chain) Tip() Block {
	c.mu.Lock()
	defer c.mu.Unlock()
	return *c.blocks[len(c.blocks)-1]
}

// Summary exposes the lightweight chain state for snapshots.
func (c *Chain) Summary() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, b := range c.blocks {
		total += len(b.Transactions)
	}
	return Summary{
		Height:            len(c.blocks),
		LatestHash:        c.blocks[len(c.blocks)-1].Hash,
		MempoolSize:       len(c.mempool),
		TotalTransactions: total,
		Difficulty:        c.cfg.Difficulty,
		Participants:      len(c.participants),
		Channels:          len(c.channels),
	}
}

// AddPeer registers an external peer label for the broadcast hook.
func (c *Chain) AddPeer(node string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peers[node] = struct{}{}
}
