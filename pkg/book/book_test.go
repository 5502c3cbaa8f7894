package book

import (
	"math/rand"
	"testing"
)

func TestRankOrdering(t *testing.T) {
	orders := []Order{
		{Timestamp: 3, Price: 0.18, Quantity: 5, Side: Buy, Participant: "A"},
		{Timestamp: 1, Price: 0.20, Quantity: 2, Side: Buy, Participant: "B"},
		{Timestamp: 2, Price: 0.20, Quantity: 4, Side: Buy, Participant: "C"},
		{Timestamp: 1, Price: 0.22, Quantity: 3, Side: Sell, Participant: "D"},
		{Timestamp: 4, Price: 0.21, Quantity: 1, Side: Sell, Participant: "E"},
		{Timestamp: 2, Price: 0.21, Quantity: 2, Side: Sell, Participant: "F"},
	}

	b := Rank(orders)

	wantBids := []string{"B", "C", "A"} // 0.20@t1, 0.20@t2, 0.18@t3
	for i, p := range wantBids {
		if b.Bids[i].Participant != p {
			t.Errorf("bid[%d] = %s, want %s", i, b.Bids[i].Participant, p)
		}
	}

	wantAsks := []string{"F", "E", "D"} // 0.21@t2, 0.21@t4, 0.22@t1
	for i, p := range wantAsks {
		if b.Asks[i].Participant != p {
			t.Errorf("ask[%d] = %s, want %s", i, b.Asks[i].Participant, p)
		}
	}
}

func TestRankPropertyMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	var orders []Order
	for i := 0; i < 200; i++ {
		side := Buy
		if rng.Intn(2) == 0 {
			side = Sell
		}
		orders = append(orders, Order{
			Timestamp:   int64(rng.Intn(50)),
			Price:       0.10 + rng.Float64()*0.20,
			Quantity:    1 + rng.Float64()*10,
			Side:        side,
			Participant: "p",
		})
	}

	b := Rank(orders)

	for i := 1; i < len(b.Bids); i++ {
		prev, cur := b.Bids[i-1], b.Bids[i]
		if cur.Price > prev.Price {
			t.Fatalf("bids not non-increasing at %d: %f > %f", i, cur.Price, prev.Price)
		}
		if cur.Price == prev.Price && cur.Timestamp < prev.Timestamp {
			t.Fatalf("bid tie not broken by ascending time at %d", i)
		}
	}
	for i := 1; i < len(b.Asks); i++ {
		prev, cur := b.Asks[i-1], b.Asks[i]
		if cur.Price < prev.Price {
			t.Fatalf("asks not non-decreasing at %d: %f < %f", i, cur.Price, prev.Price)
		}
		if cur.Price == prev.Price && cur.Timestamp < prev.Timestamp {
			t.Fatalf("ask tie not broken by ascending time at %d", i)
		}
	}
}

func TestMatchCrossExecutesAtAskPrice(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.20, Quantity: 10, Side: Buy, Participant: "A"},
		{Timestamp: 0, Price: 0.18, Quantity: 10, Side: Sell, Participant: "B"},
	})

	res := b.Match(false, 100)
	if res.Trade == nil {
		t.Fatal("expected a trade")
	}
	if res.Trade.Price != 0.18 {
		t.Errorf("price = %f, want 0.18 (ask price)", res.Trade.Price)
	}
	if res.Trade.Quantity != 10 {
		t.Errorf("quantity = %f, want 10", res.Trade.Quantity)
	}
	if res.Trade.Buyer != "A" || res.Trade.Seller != "B" {
		t.Errorf("parties = %s/%s, want A/B", res.Trade.Buyer, res.Trade.Seller)
	}
	if len(b.Bids) != 0 || len(b.Asks) != 0 {
		t.Errorf("book should be empty after full fill: %d bids, %d asks", len(b.Bids), len(b.Asks))
	}
	// Both sides drained: reference falls back to execution price.
	if !res.HasReference || res.ReferencePrice != 0.18 {
		t.Errorf("reference = %f (%v), want 0.18", res.ReferencePrice, res.HasReference)
	}
}

func TestMatchNoCrossReportsMidpoint(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.15, Quantity: 5, Side: Buy, Participant: "A"},
		{Timestamp: 0, Price: 0.20, Quantity: 5, Side: Sell, Participant: "B"},
	})

	res := b.Match(true, 100)
	if res.Trade != nil {
		t.Fatal("expected no trade when bid < ask")
	}
	if !res.HasReference || res.ReferencePrice != 0.175 {
		t.Errorf("reference = %f (%v), want 0.175", res.ReferencePrice, res.HasReference)
	}
	if len(b.Bids) != 1 || len(b.Asks) != 1 {
		t.Error("book must be unchanged when no cross exists")
	}
}

func TestMatchEmptySideNoReference(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.15, Quantity: 5, Side: Buy, Participant: "A"},
	})
	res := b.Match(true, 100)
	if res.Trade != nil || res.HasReference {
		t.Error("empty ask side should yield no trade and no reference price")
	}
}

func TestMatchPartialFill(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.20, Quantity: 10, Side: Buy, Participant: "A"},
		{Timestamp: 0, Price: 0.18, Quantity: 4, Side: Sell, Participant: "B"},
	})

	res := b.Match(true, 100)
	if res.Trade == nil || res.Trade.Quantity != 4 {
		t.Fatalf("expected partial fill of 4, got %+v", res.Trade)
	}
	if len(b.Asks) != 0 {
		t.Error("fully consumed ask should be removed")
	}
	if len(b.Bids) != 1 || b.Bids[0].Remaining != 6 {
		t.Errorf("bid remaining = %+v, want 6", b.Bids)
	}
}

func TestMatchConservesQuantity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	var orders []Order
	for i := 0; i < 100; i++ {
		side := Buy
		if rng.Intn(2) == 0 {
			side = Sell
		}
		orders = append(orders, Order{
			Timestamp:   int64(i),
			Price:       0.10 + rng.Float64()*0.10,
			Quantity:    float64(1 + rng.Intn(20)),
			Side:        side,
			Participant: "p",
		})
	}
	b := Rank(orders)

	sum := func(b *Book) float64 {
		var s float64
		for _, e := range b.Bids {
			s += e.Remaining
		}
		for _, e := range b.Asks {
			s += e.Remaining
		}
		return s
	}

	total := sum(&b)
	var traded float64
	for i := 0; i < 50; i++ {
		res := b.Match(false, int64(i))
		if res.Trade == nil {
			break
		}
		traded += res.Trade.Quantity * 2 // removed from both sides
	}
	if got := sum(&b) + traded; got != total {
		t.Errorf("quantity not conserved: before=%f after=%f", total, got)
	}
}

func TestMatchIlliquidReferenceIsNewMidpoint(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.20, Quantity: 5, Side: Buy, Participant: "A"},
		{Timestamp: 1, Price: 0.16, Quantity: 5, Side: Buy, Participant: "C"},
		{Timestamp: 0, Price: 0.18, Quantity: 5, Side: Sell, Participant: "B"},
		{Timestamp: 1, Price: 0.22, Quantity: 5, Side: Sell, Participant: "D"},
	})

	res := b.Match(false, 100)
	if res.Trade == nil {
		t.Fatal("expected a trade")
	}
	// New best bid 0.16, new best ask 0.22 -> midpoint 0.19.
	want := (0.16 + 0.22) / 2
	if res.ReferencePrice != want {
		t.Errorf("reference = %f, want %f", res.ReferencePrice, want)
	}
}

func TestMatchLiquidReferenceIsExecutionPrice(t *testing.T) {
	b := Rank([]Order{
		{Timestamp: 0, Price: 0.20, Quantity: 5, Side: Buy, Participant: "A"},
		{Timestamp: 1, Price: 0.16, Quantity: 5, Side: Buy, Participant: "C"},
		{Timestamp: 0, Price: 0.18, Quantity: 5, Side: Sell, Participant: "B"},
		{Timestamp: 1, Price: 0.22, Quantity: 5, Side: Sell, Participant: "D"},
	})

	res := b.Match(true, 100)
	if res.Trade == nil || res.ReferencePrice != 0.18 {
		t.Errorf("liquid market should report execution price, got %f", res.ReferencePrice)
	}
}

func TestIsLiquid(t *testing.T) {
	p := DefaultLiquidityParams()

	tests := []struct {
		name     string
		volume   float64
		spread   float64
		spreadOK bool
		want     bool
	}{
		{"liquid", 150_000, 0.005, true, true},
		{"volume too low", 50_000, 0.005, true, false},
		{"spread too wide", 150_000, 0.02, true, false},
		{"exact thresholds", 100_000, 0.01, true, true},
		{"undefined spread", 500_000, 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsLiquid(tt.volume, tt.spread, tt.spreadOK, p); got != tt.want {
				t.Errorf("IsLiquid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTrailingVolume(t *testing.T) {
	var trades []Trade
	for i := 0; i < 150; i++ {
		trades = append(trades, Trade{Quantity: 1})
	}
	if got := TrailingVolume(trades, 100); got != 100 {
		t.Errorf("TrailingVolume = %f, want 100", got)
	}
	if got := TrailingVolume(trades[:30], 100); got != 30 {
		t.Errorf("TrailingVolume = %f, want 30", got)
	}
}
