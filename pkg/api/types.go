package api

// Request and response types for REST endpoints and WebSocket messages.

// SubmitOrderRequest is the payload for POST /order.
type SubmitOrderRequest struct {
	Timestamp   int64   `json:"timestamp"` // unix millis; 0 means server time
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	Side        string  `json:"side"` // "buy" or "sell"
	Participant string  `json:"participant"`
}

// SubmitOrderResponse acknowledges a queued order.
type SubmitOrderResponse struct {
	Status    string `json:"status"` // "queued"
	Timestamp int64  `json:"timestamp"`
}

// BookSummary is the condensed view for GET /book/summary.
type BookSummary struct {
	BestBid        float64 `json:"best_bid"`
	BestAsk        float64 `json:"best_ask"`
	SpreadRatio    float64 `json:"spread_ratio"`
	HasSpread      bool    `json:"has_spread"`
	ReferencePrice float64 `json:"reference_price"`
	HasReference   bool    `json:"has_reference"`
	BidLevels      int     `json:"bid_levels"`
	AskLevels      int     `json:"ask_levels"`
}

// WalletRequest is the payload for POST /wallet.
type WalletRequest struct {
	Label string `json:"label"`
}

// WalletResponse returns the registered participant's derived address.
type WalletResponse struct {
	Label   string `json:"label"`
	Address string `json:"address"`
}

// ChannelRequest is the payload for POST /quantum/channel.
type ChannelRequest struct {
	ParticipantA string `json:"participant_a"`
	ParticipantB string `json:"participant_b"`
}

// ChannelResponse describes an established channel. The session key never
// leaves the node.
type ChannelResponse struct {
	ChannelID    string    `json:"channel_id"`
	Participants [2]string `json:"participants"`
	CreatedAt    int64     `json:"created_at"`
}

// StatsResponse aggregates market and chain state for GET /stats.
type StatsResponse struct {
	Chain          any     `json:"chain"`
	RecentTrades   any     `json:"recent_trades"`
	ReferencePrice float64 `json:"reference_price"`
	HasReference   bool    `json:"has_reference"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// WSMessage wraps every WebSocket push.
type WSMessage struct {
	Type string `json:"type"` // "market_update"
	Data any    `json:"data"`
}
