// Package engine runs the background trading loop: it drains queued orders
// into the book on a fixed cadence, matches at most one cross per cycle,
// converts trades into ledger transactions, and emits contingency broadcasts
// when the community imbalance signal exceeds its threshold.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qorca/qorca/pkg/book"
	"github.com/qorca/qorca/pkg/ledger"
	"github.com/qorca/qorca/pkg/util"
)

var (
	ErrInvalidSide     = errors.New("side must be buy or sell")
	ErrInvalidPrice    = errors.New("price must be strictly positive")
	ErrInvalidQuantity = errors.New("quantity must be strictly positive")
)

type Config struct {
	Cadence              time.Duration
	SnapshotDepth        int
	TradeWindow          int
	ImbalanceThreshold   float64
	ClearingHouse        string
	ContingencyRecipient string
	Liquidity            book.LiquidityParams
}

func DefaultConfig() Config {
	return Config{
		Cadence:              300 * time.Millisecond,
		SnapshotDepth:        10,
		TradeWindow:          100,
		ImbalanceThreshold:   1.5,
		ClearingHouse:        "GridClearingHouse",
		ContingencyRecipient: "CommunityDAO",
		Liquidity:            book.DefaultLiquidityParams(),
	}
}

// TradeOutcome makes both phases of a match explicit: the book mutation
// always stands once a cross executes; the ledger commit is best-effort and
// a rejection does not roll the book back.
type TradeOutcome struct {
	Trade       book.Trade `json:"trade"`
	BookMutated bool       `json:"book_mutated"`
	Ledgered    bool       `json:"ledgered"`
	Reason      string     `json:"reason,omitempty"`
}

// CycleUpdate is the per-cycle push payload consumed by the notification
// transport.
type CycleUpdate struct {
	Bids           []book.Entry   `json:"bids"`
	Asks           []book.Entry   `json:"asks"`
	LastTrade      *TradeOutcome  `json:"last_trade,omitempty"`
	ReferencePrice float64        `json:"reference_price"`
	HasReference   bool           `json:"has_reference"`
	Liquid         bool           `json:"liquid"`
	Imbalance      float64        `json:"imbalance"`
	Chain          ledger.Summary `json:"chain"`
}

// Notifier receives one update per loop cycle. Implementations must not
// block; the engine calls it synchronously between cycles.
type Notifier interface {
	PublishCycle(u CycleUpdate)
}

// ImbalanceFunc supplies the community net-generation signal for a cycle.
type ImbalanceFunc func() float64

// Engine is the explicit handle tying queue, book, trade window and chain
// together. One Run loop per engine; any number of callers may submit orders
// and read snapshots concurrently.
type Engine struct {
	mu      sync.Mutex
	queue   []book.Order
	book    book.Book
	trades  []book.Trade
	lastRef struct {
		price float64
		ok    bool
	}

	chain     *ledger.Chain
	clock     util.Clock
	notifier  Notifier
	imbalance ImbalanceFunc
	cfg       Config
	log       *zap.SugaredLogger
}

func New(cfg Config, chain *ledger.Chain, clock util.Clock, log *zap.SugaredLogger) *Engine {
	if cfg.Cadence <= 0 {
		cfg.Cadence = DefaultConfig().Cadence
	}
	if cfg.TradeWindow <= 0 {
		cfg.TradeWindow = DefaultConfig().TradeWindow
	}
	if cfg.SnapshotDepth <= 0 {
		cfg.SnapshotDepth = DefaultConfig().SnapshotDepth
	}
	return &Engine{cfg: cfg, chain: chain, clock: clock, log: log}
}

func (e *Engine) SetNotifier(n Notifier) {
	e.mu.Lock()
	e.notifier = n
	e.mu.Unlock()
}

func (e *Engine) SetImbalanceSource(f ImbalanceFunc) {
	e.mu.Lock()
	e.imbalance = f
	e.mu.Unlock()
}

// SubmitOrder validates and enqueues. The book is untouched until the next
// cycle drains the queue.
func (e *Engine) SubmitOrder(timestamp int64, price, quantity float64, side book.Side, participant string) error {
	if side != book.Buy && side != book.Sell {
		return fmt.Errorf("%w: %q", ErrInvalidSide, side)
	}
	if price <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPrice, price)
	}
	if quantity <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidQuantity, quantity)
	}
	e.mu.Lock()
	e.queue = append(e.queue, book.Order{
		Timestamp:   timestamp,
		Price:       price,
		Quantity:    quantity,
		Side:        side,
		Participant: participant,
	})
	e.mu.Unlock()
	return nil
}

// Run executes the loop until the context is cancelled. Cancellation is
// honored between cycles, never mid-cycle.
func (e *Engine) Run(ctx context.Context) {
	if e.log != nil {
		e.log.Infow("trading_loop_started", "cadence", e.cfg.Cadence)
	}
	for {
		e.Cycle()
		select {
		case <-ctx.Done():
			if e.log != nil {
				e.log.Infow("trading_loop_stopped")
			}
			return
		case <-e.clock.After(e.cfg.Cadence):
		}
	}
}

// Cycle runs one loop iteration. Exported so tests can drive the engine
// deterministically without the cadence timer.
func (e *Engine) Cycle() {
	update := e.step()
	e.mu.Lock()
	n := e.notifier
	e.mu.Unlock()
	if n != nil {
		n.PublishCycle(update)
	}
}

func (e *Engine) step() CycleUpdate {
	e.mu.Lock()

	// Drain and merge under the lock; match against a private snapshot.
	batch := e.queue
	e.queue = nil
	if len(batch) > 0 {
		e.book.Merge(book.Rank(batch))
		e.book.Sort()
	}

	snapshot := e.book.Clone()
	volume := book.TrailingVolume(e.trades, e.cfg.TradeWindow)
	spread, spreadOK := snapshot.SpreadRatio()
	liquid := book.IsLiquid(volume, spread, spreadOK, e.cfg.Liquidity)

	now := e.clock.Now().UnixMilli()
	res := snapshot.Match(liquid, now)

	var outcome *TradeOutcome
	if res.Trade != nil {
		// The match already happened on the snapshot; adopt it.
		e.book = snapshot
		e.trades = append(e.trades, *res.Trade)
		if len(e.trades) > e.cfg.TradeWindow {
			e.trades = e.trades[len(e.trades)-e.cfg.TradeWindow:]
		}
		outcome = &TradeOutcome{Trade: *res.Trade, BookMutated: true}
	}
	if res.HasReference {
		e.lastRef.price = res.ReferencePrice
		e.lastRef.ok = true
	}
	imbalanceFn := e.imbalance
	e.mu.Unlock()

	if outcome != nil {
		e.ledgerTrade(outcome)
	}

	var imbalance float64
	if imbalanceFn != nil {
		imbalance = imbalanceFn()
		if math.Abs(imbalance) > e.cfg.ImbalanceThreshold {
			e.broadcastContingency(imbalance)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return CycleUpdate{
		Bids:           topN(e.book.Bids, e.cfg.SnapshotDepth),
		Asks:           topN(e.book.Asks, e.cfg.SnapshotDepth),
		LastTrade:      outcome,
		ReferencePrice: e.lastRef.price,
		HasReference:   e.lastRef.ok,
		Liquid:         liquid,
		Imbalance:      imbalance,
		Chain:          e.chain.Summary(),
	}
}

// ledgerTrade converts a matched trade into a transaction and submits it.
// The seller is the sender: energy flows seller to buyer, so the delivering
// party signs. Registered pairs get the quantum path; anything else goes
// through the plain unsigned path, which the chain rejects, leaving the trade
// executed on the book but not committed to the ledger.
func (e *Engine) ledgerTrade(out *TradeOutcome) {
	t := out.Trade
	amount := t.Price * t.Quantity
	meta := &ledger.BroadcastMeta{
		Interval:    t.Timestamp,
		EnergyKWh:   t.Quantity,
		PricePerKWh: t.Price,
	}

	var tx *ledger.Transaction
	if e.chain.IsParticipant(t.Buyer) && e.chain.IsParticipant(t.Seller) {
		var err error
		tx, err = e.chain.CreateQuantumBroadcast(t.Seller, t.Buyer, amount, ledger.TxTrade, meta)
		if err != nil {
			out.Reason = err.Error()
			if e.log != nil {
				e.log.Warnw("trade_not_ledgered", "buyer", t.Buyer, "seller", t.Seller, "err", err)
			}
			return
		}
	} else {
		tx = &ledger.Transaction{
			Sender:    t.Seller,
			Recipient: t.Buyer,
			Amount:    amount,
			Timestamp: t.Timestamp,
			Kind:      ledger.TxTrade,
			Meta:      meta,
		}
	}

	if e.chain.AddTransaction(tx) {
		out.Ledgered = true
		return
	}
	out.Reason = "transaction rejected by ledger"
	if e.log != nil {
		e.log.Warnw("trade_not_ledgered", "buyer", t.Buyer, "seller", t.Seller, "reason", out.Reason)
	}
}

// broadcastContingency emits the zero-amount grid-support transaction from
// the clearing house when the imbalance signal breaches the threshold.
func (e *Engine) broadcastContingency(imbalance float64) {
	action := "increase generation or curtail load"
	if imbalance > 0 {
		action = "absorb surplus or curtail generation"
	}
	meta := &ledger.BroadcastMeta{
		Interval:      e.clock.Now().UnixMilli(),
		NetBalanceKWh: imbalance,
		Message:       action,
		Recipients:    e.chain.ParticipantLabels(),
	}
	tx, err := e.chain.CreateQuantumBroadcast(e.cfg.ClearingHouse, e.cfg.ContingencyRecipient, 0, ledger.TxContingency, meta)
	if err != nil {
		if e.log != nil {
			e.log.Warnw("contingency_broadcast_failed", "err", err)
		}
		return
	}
	if !e.chain.AddTransaction(tx) {
		if e.log != nil {
			e.log.Warnw("contingency_broadcast_rejected", "imbalance", imbalance)
		}
		return
	}
	if e.log != nil {
		e.log.Infow("contingency_broadcast", "imbalance", imbalance, "action", action)
	}
}

func topN(entries []book.Entry, n int) []book.Entry {
	if len(entries) < n {
		n = len(entries)
	}
	return append([]book.Entry(nil), entries[:n]...)
}

// BookSnapshot returns the top n levels of each side.
func (e *Engine) BookSnapshot(n int) (bids, asks []book.Entry) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return topN(e.book.Bids, n), topN(e.book.Asks, n)
}

// RecentTrades returns a copy of the trailing trade window.
func (e *Engine) RecentTrades() []book.Trade {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]book.Trade(nil), e.trades...)
}

// ReferencePrice returns the last published reference price, if any.
func (e *Engine) ReferencePrice() (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastRef.price, e.lastRef.ok
}

// ChainSummary proxies the ledger summary for the API layer.
func (e *Engine) ChainSummary() ledger.Summary {
	return e.chain.Summary()
}

// Chain exposes the underlying ledger handle.
func (e *Engine) Chain() *ledger.Chain {
	return e.chain
}
