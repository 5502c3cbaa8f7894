package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/qorca/qorca/pkg/book"
	"github.com/qorca/qorca/pkg/ledger"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }
func (c *fakeClock) After(time.Duration) <-chan time.Time {
	return make(chan time.Time) // never fires
}

type captureNotifier struct {
	updates []CycleUpdate
}

func (n *captureNotifier) PublishCycle(u CycleUpdate) {
	n.updates = append(n.updates, u)
}

func newTestChain(t *testing.T) *ledger.Chain {
	t.Helper()
	cfg := ledger.DefaultConfig()
	cfg.Difficulty = 2
	cfg.MaxPoWIters = 5_000_000
	cfg.MaxBlockTxs = 50 // keep mining out of cycle tests
	c, err := ledger.NewChain(cfg, zap.NewNop().Sugar())
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func newTestEngine(t *testing.T) (*Engine, *captureNotifier) {
	t.Helper()
	e := New(DefaultConfig(), newTestChain(t), &fakeClock{now: time.UnixMilli(1000)}, zap.NewNop().Sugar())
	n := &captureNotifier{}
	e.SetNotifier(n)
	return e, n
}

func TestSubmitOrderValidation(t *testing.T) {
	e, _ := newTestEngine(t)

	tests := []struct {
		name  string
		price float64
		qty   float64
		side  book.Side
		want  error
	}{
		{"bad side", 0.2, 1, book.Side("hold"), ErrInvalidSide},
		{"zero price", 0, 1, book.Buy, ErrInvalidPrice},
		{"negative price", -1, 1, book.Buy, ErrInvalidPrice},
		{"zero quantity", 0.2, 0, book.Sell, ErrInvalidQuantity},
		{"valid", 0.2, 1, book.Buy, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.SubmitOrder(1, tt.price, tt.qty, tt.side, "A")
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	// Valid order sits in the queue, not on the book, until the next cycle.
	bids, _ := e.BookSnapshot(10)
	if len(bids) != 0 {
		t.Error("order must not reach the book before a cycle runs")
	}
}

func TestCycleMatchesAndLedgersRegisteredPair(t *testing.T) {
	e, n := newTestEngine(t)
	e.Chain().RegisterParticipant("Alice")
	e.Chain().RegisterParticipant("Bob")

	e.SubmitOrder(0, 0.20, 10, book.Buy, "Alice")
	e.SubmitOrder(0, 0.18, 10, book.Sell, "Bob")
	e.Cycle()

	if len(n.updates) != 1 {
		t.Fatalf("updates = %d, want 1", len(n.updates))
	}
	out := n.updates[0].LastTrade
	if out == nil {
		t.Fatal("expected a trade outcome")
	}
	if out.Trade.Price != 0.18 || out.Trade.Quantity != 10 {
		t.Errorf("trade = %+v, want 10 @ 0.18", out.Trade)
	}
	if !out.BookMutated || !out.Ledgered {
		t.Errorf("outcome = %+v, want both phases committed", out)
	}
	if got := e.Chain().Summary().MempoolSize; got != 1 {
		t.Errorf("mempool = %d, want 1", got)
	}

	// The trade transaction carries amount = price * quantity and decrypts
	// through the buyer/seller channel.
	if err := e.Chain().MinePendingTransactions(); err != nil {
		t.Fatal(err)
	}
	blocks := e.Chain().Blocks()
	tx := blocks[len(blocks)-1].Transactions[1]
	if tx.Kind != ledger.TxTrade || tx.Amount != 0.18*10 {
		t.Errorf("tx = kind %s amount %f", tx.Kind, tx.Amount)
	}
	// The seller signs and sends; the buyer receives.
	if tx.Sender != "Bob" || tx.Recipient != "Alice" {
		t.Errorf("tx parties = %s -> %s, want seller Bob -> buyer Alice", tx.Sender, tx.Recipient)
	}
	ctx, err := e.Chain().DecryptQuantumTransaction(&tx, "Alice", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if ctx.Sender != "Bob" || ctx.Recipient != "Alice" {
		t.Errorf("payload context = %+v", ctx)
	}
}

func TestCycleBestEffortLedgering(t *testing.T) {
	e, n := newTestEngine(t)
	// Neither party registered: plain unsigned path, rejected by the chain.
	e.SubmitOrder(0, 0.20, 10, book.Buy, "X")
	e.SubmitOrder(0, 0.18, 10, book.Sell, "Y")
	e.Cycle()

	out := n.updates[0].LastTrade
	if out == nil {
		t.Fatal("expected a trade outcome")
	}
	if !out.BookMutated {
		t.Error("book mutation must stand")
	}
	if out.Ledgered || out.Reason == "" {
		t.Errorf("outcome = %+v, want not ledgered with a reason", out)
	}
	if got := e.Chain().Summary().MempoolSize; got != 0 {
		t.Errorf("mempool = %d, want 0", got)
	}
	bids, asks := e.BookSnapshot(10)
	if len(bids) != 0 || len(asks) != 0 {
		t.Error("matched quantities must leave the book even when not ledgered")
	}
}

func TestCycleNoCrossPublishesReference(t *testing.T) {
	e, n := newTestEngine(t)
	e.SubmitOrder(0, 0.15, 5, book.Buy, "A")
	e.SubmitOrder(0, 0.20, 5, book.Sell, "B")
	e.Cycle()

	u := n.updates[0]
	if u.LastTrade != nil {
		t.Fatal("no trade expected when bid < ask")
	}
	if !u.HasReference || u.ReferencePrice != 0.175 {
		t.Errorf("reference = %f (%v), want 0.175", u.ReferencePrice, u.HasReference)
	}
	if len(u.Bids) != 1 || len(u.Asks) != 1 {
		t.Error("book must be published unchanged")
	}
}

func TestCycleContingencyBroadcast(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := DefaultConfig()
	e.Chain().RegisterParticipant(cfg.ClearingHouse)
	e.Chain().RegisterParticipant(cfg.ContingencyRecipient)
	e.SetImbalanceSource(func() float64 { return -2.4 })

	e.Cycle()

	if got := e.Chain().Summary().MempoolSize; got != 1 {
		t.Fatalf("mempool = %d, want 1 contingency broadcast", got)
	}
	if err := e.Chain().MinePendingTransactions(); err != nil {
		t.Fatal(err)
	}
	blocks := e.Chain().Blocks()
	tx := blocks[len(blocks)-1].Transactions[1]
	if tx.Kind != ledger.TxContingency || tx.Amount != 0 {
		t.Errorf("tx = kind %s amount %f, want zero-amount contingency", tx.Kind, tx.Amount)
	}
	if tx.Sender != cfg.ClearingHouse || tx.Recipient != cfg.ContingencyRecipient {
		t.Errorf("parties = %s -> %s", tx.Sender, tx.Recipient)
	}
	if tx.Meta == nil || tx.Meta.NetBalanceKWh != -2.4 {
		t.Errorf("meta = %+v", tx.Meta)
	}
}

func TestCycleImbalanceWithinThresholdNoBroadcast(t *testing.T) {
	e, _ := newTestEngine(t)
	cfg := DefaultConfig()
	e.Chain().RegisterParticipant(cfg.ClearingHouse)
	e.Chain().RegisterParticipant(cfg.ContingencyRecipient)
	e.SetImbalanceSource(func() float64 { return 1.5 }) // at, not over

	e.Cycle()
	if got := e.Chain().Summary().MempoolSize; got != 0 {
		t.Errorf("mempool = %d, want 0", got)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		e.Run(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
