package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookEntry is one resting order as exposed in the full book snapshot.
type BookEntry struct {
	OrderID   string          `json:"order_id"`
	Price     decimal.Decimal `json:"price"`
	Amount    decimal.Decimal `json:"amount"`
	Remaining decimal.Decimal `json:"remaining"`
	CreatedAt time.Time       `json:"created_at"`
}

// OrderBookResponse is the full per-order view of one pair's book.
type OrderBookResponse struct {
	PairID string      `json:"pair_id"`
	Bids   []BookEntry `json:"bids"`
	Asks   []BookEntry `json:"asks"`
}

// DepthLevel collapses all resting orders at one price into a single
// level with cumulative size.
type DepthLevel struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Orders int             `json:"orders"`
}

type DepthResponse struct {
	PairID string       `json:"pair_id"`
	Bids   []DepthLevel `json:"bids"`
	Asks   []DepthLevel `json:"asks"`
}

// SpreadResponse reports best bid/ask and their spread. All fields are
// zero when either side of the book is empty.
type SpreadResponse struct {
	PairID        string          `json:"pair_id"`
	BestBid       decimal.Decimal `json:"best_bid"`
	BestAsk       decimal.Decimal `json:"best_ask"`
	Spread        decimal.Decimal `json:"spread"`
	SpreadPercent decimal.Decimal `json:"spread_percent"`
}
