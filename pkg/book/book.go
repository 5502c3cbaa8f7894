// Package book implements the continuous double-auction order book:
// price-time ranking of incoming orders, single-match clearing with partial
// fills, and the liquidity heuristic that drives reference-price selection.
package book

import "sort"

type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

// Order is an incoming request as submitted by a participant. Immutable once
// queued; consumed exactly once by Rank.
type Order struct {
	Timestamp   int64   `json:"timestamp"` // unix millis
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Side        Side    `json:"side"`
	Participant string  `json:"participant"`
}

// Entry is a resting order on one side of the book. Remaining is always > 0;
// an entry is removed the instant it reaches zero.
type Entry struct {
	Price       float64 `json:"price"`
	Remaining   float64 `json:"remaining"`
	Timestamp   int64   `json:"timestamp"`
	Participant string  `json:"participant"`
}

// Book holds both sides. Bids are ordered by descending price, asks by
// ascending price, ties broken by ascending timestamp.
type Book struct {
	Bids []Entry
	Asks []Entry
}

// Trade is the result of a successful match. Ephemeral: it only exists to be
// converted into a ledger transaction and to feed the trailing-volume window.
type Trade struct {
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
	Buyer     string  `json:"buyer"`
	Seller    string  `json:"seller"`
	Timestamp int64   `json:"timestamp"`
	Liquid    bool    `json:"liquid"`
}

// Result reports the outcome of one Match call.
type Result struct {
	Trade          *Trade
	ReferencePrice float64
	HasReference   bool
}

// Rank partitions raw orders by side and applies the price-time ordering.
// Pure function: no side effects beyond allocation.
func Rank(orders []Order) Book {
	var b Book
	for _, o := range orders {
		e := Entry{Price: o.Price, Remaining: o.Quantity, Timestamp: o.Timestamp, Participant: o.Participant}
		if o.Side == Buy {
			b.Bids = append(b.Bids, e)
		} else {
			b.Asks = append(b.Asks, e)
		}
	}
	b.Sort()
	return b
}

// Merge appends another ranked book's entries; callers re-Sort afterwards.
func (b *Book) Merge(other Book) {
	b.Bids = append(b.Bids, other.Bids...)
	b.Asks = append(b.Asks, other.Asks...)
}

// Sort restores the price-time invariant on both sides.
func (b *Book) Sort() {
	sort.SliceStable(b.Bids, func(i, j int) bool {
		if b.Bids[i].Price != b.Bids[j].Price {
			return b.Bids[i].Price > b.Bids[j].Price
		}
		return b.Bids[i].Timestamp < b.Bids[j].Timestamp
	})
	sort.SliceStable(b.Asks, func(i, j int) bool {
		if b.Asks[i].Price != b.Asks[j].Price {
			return b.Asks[i].Price < b.Asks[j].Price
		}
		return b.Asks[i].Timestamp < b.Asks[j].Timestamp
	})
}

// Clone returns a deep copy so matching can run against a private snapshot.
func (b *Book) Clone() Book {
	return Book{
		Bids: append([]Entry(nil), b.Bids...),
		Asks: append([]Entry(nil), b.Asks...),
	}
}

func (b *Book) BestBid() (Entry, bool) {
	if len(b.Bids) == 0 {
		return Entry{}, false
	}
	return b.Bids[0], true
}

func (b *Book) BestAsk() (Entry, bool) {
	if len(b.Asks) == 0 {
		return Entry{}, false
	}
	return b.Asks[0], true
}

// SpreadRatio returns the relative bid-ask spread (ask-bid)/bid. ok is false
// when either side is empty or the best bid is zero.
func (b *Book) SpreadRatio() (float64, bool) {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA || bid.Price == 0 {
		return 0, false
	}
	return (ask.Price - bid.Price) / bid.Price, true
}

// Match attempts exactly one cross between the best bid and best ask, mutating
// the book in place. Execution price is the resting ask's quote; executed
// quantity is the smaller remaining. The reference price reported when a trade
// occurs depends on the liquidity flag: execution price in liquid markets, the
// post-match midpoint otherwise.
func (b *Book) Match(liquid bool, now int64) Result {
	bid, okB := b.BestBid()
	ask, okA := b.BestAsk()
	if !okB || !okA {
		return Result{}
	}

	if bid.Price < ask.Price {
		return Result{
			ReferencePrice: (bid.Price + ask.Price) / 2,
			HasReference:   true,
		}
	}

	price := ask.Price
	qty := bid.Remaining
	if ask.Remaining < qty {
		qty = ask.Remaining
	}

	if bid.Remaining == qty {
		b.Bids = b.Bids[1:]
	} else {
		b.Bids[0].Remaining -= qty
	}
	if ask.Remaining == qty {
		b.Asks = b.Asks[1:]
	} else {
		b.Asks[0].Remaining -= qty
	}

	trade := &Trade{
		Price:     price,
		Quantity:  qty,
		Buyer:     bid.Participant,
		Seller:    ask.Participant,
		Timestamp: now,
		Liquid:    liquid,
	}

	ref := price
	if !liquid {
		if nb, okNB := b.BestBid(); okNB {
			if na, okNA := b.BestAsk(); okNA {
				ref = (nb.Price + na.Price) / 2
			}
		}
	}
	return Result{Trade: trade, ReferencePrice: ref, HasReference: true}
}

// LiquidityParams holds the volume and spread thresholds of the liquidity
// heuristic.
type LiquidityParams struct {
	MinVolume      float64
	MaxSpreadRatio float64
}

func DefaultLiquidityParams() LiquidityParams {
	return LiquidityParams{MinVolume: 100_000, MaxSpreadRatio: 0.01}
}

// IsLiquid classifies the market. spreadOK is false when the spread is
// undefined (book empty on either side), which is treated as illiquid.
func IsLiquid(trailingVolume, spreadRatio float64, spreadOK bool, p LiquidityParams) bool {
	if !spreadOK {
		return false
	}
	return trailingVolume >= p.MinVolume && spreadRatio <= p.MaxSpreadRatio
}

// TrailingVolume sums quantities over the last window trades.
func TrailingVolume(trades []Trade, window int) float64 {
	start := 0
	if len(trades) > window {
		start = len(trades) - window
	}
	var total float64
	for _, t := range trades[start:] {
		total += t.Quantity
	}
	return total
}
