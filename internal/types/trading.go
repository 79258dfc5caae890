package types

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the side a taker order matches against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

type OrderKind string

const (
	OrderKindMarket OrderKind = "market"
	OrderKindLimit  OrderKind = "limit"
)

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusOpen            OrderStatus = "open"
	OrderStatusPartiallyFilled OrderStatus = "partially_filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusExpired         OrderStatus = "expired"
	OrderStatusFailed          OrderStatus = "failed"
)

// Terminal reports whether no further transition is allowed from the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusExpired, OrderStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo enforces the one-directional order lifecycle. The only
// two-way edge is open <-> partially_filled.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case OrderStatusPending:
		return next == OrderStatusOpen || next == OrderStatusPartiallyFilled ||
			next == OrderStatusFilled || next == OrderStatusCancelled ||
			next == OrderStatusFailed
	case OrderStatusOpen:
		return next == OrderStatusPartiallyFilled || next == OrderStatusFilled ||
			next == OrderStatusCancelled || next == OrderStatusExpired
	case OrderStatusPartiallyFilled:
		return next == OrderStatusOpen || next == OrderStatusFilled ||
			next == OrderStatusCancelled || next == OrderStatusExpired
	}
	return false
}

type TimeInForce string

const (
	TimeInForceGTC TimeInForce = "GTC"
	TimeInForceIOC TimeInForce = "IOC"
	TimeInForceFOK TimeInForce = "FOK"
)

func (t TimeInForce) Valid() bool {
	return t == TimeInForceGTC || t == TimeInForceIOC || t == TimeInForceFOK
}

type Order struct {
	gorm.Model   `json:"-"`
	OrderID      string          `gorm:"uniqueIndex" json:"order_id"`
	UserID       string          `gorm:"index" json:"user_id"`
	PairID       string          `gorm:"index" json:"pair_id"`
	Side         Side            `json:"side"`
	Kind         OrderKind       `json:"kind"`
	Price        decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"` // zero for market orders
	Amount       decimal.Decimal `gorm:"type:decimal(32,16)" json:"amount"`
	Filled       decimal.Decimal `gorm:"type:decimal(32,16)" json:"filled"`
	AveragePrice decimal.Decimal `gorm:"type:decimal(32,16)" json:"average_price"`
	Status       OrderStatus     `gorm:"index" json:"status"`
	TimeInForce  TimeInForce     `json:"time_in_force"`
	ExpiresAt    *time.Time      `json:"expires_at,omitempty"`
	Version      int64           `json:"-"` // optimistic concurrency guard
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Remaining is always derived, never stored, so it cannot drift from
// amount - filled.
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Sub(o.Filled)
}

// IsOpen reports whether the order is resting on the book.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartiallyFilled
}

type TradeRole string

const (
	TradeRoleMaker TradeRole = "maker"
	TradeRoleTaker TradeRole = "taker"
)

// Trade is an immutable record of one participant's half of a match.
// Two rows are written per match, one per counterparty.
type Trade struct {
	gorm.Model     `json:"-"`
	TradeID        string          `gorm:"uniqueIndex" json:"trade_id"`
	PairID         string          `gorm:"index" json:"pair_id"`
	OrderID        string          `gorm:"index" json:"order_id"`
	CounterOrderID string          `json:"counter_order_id"`
	UserID         string          `gorm:"index" json:"user_id"`
	Side           Side            `json:"side"`
	Role           TradeRole       `json:"role"`
	Amount         decimal.Decimal `gorm:"type:decimal(32,16)" json:"amount"`
	Price          decimal.Decimal `gorm:"type:decimal(32,16)" json:"price"`
	TotalValue     decimal.Decimal `gorm:"type:decimal(32,16)" json:"total_value"`
	Fee            decimal.Decimal `gorm:"type:decimal(32,16)" json:"fee"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Balance is one row per (user, currency). It is only ever mutated
// through the ledger primitives, which keep total = available + locked.
type Balance struct {
	gorm.Model  `json:"-"`
	UserID      string          `gorm:"uniqueIndex:idx_balances_user_currency" json:"user_id"`
	Currency    string          `gorm:"uniqueIndex:idx_balances_user_currency" json:"currency"`
	Available   decimal.Decimal `gorm:"type:decimal(32,16)" json:"available"`
	Locked      decimal.Decimal `gorm:"type:decimal(32,16)" json:"locked"`
	Total       decimal.Decimal `gorm:"type:decimal(32,16)" json:"total"`
	Version     int64           `json:"-"` // optimistic concurrency guard
	LastUpdated time.Time       `json:"last_updated"`
}

type TradingPair struct {
	gorm.Model     `json:"-"`
	PairID         string          `gorm:"uniqueIndex" json:"pair_id"`
	Symbol         string          `gorm:"uniqueIndex" json:"symbol"` // BASE/QUOTE
	BaseCurrency   string          `json:"base_currency"`
	QuoteCurrency  string          `json:"quote_currency"`
	IsActive       bool            `json:"is_active"`
	MinTradeAmount decimal.Decimal `gorm:"type:decimal(32,16)" json:"min_trade_amount"`
	MaxTradeAmount decimal.Decimal `gorm:"type:decimal(32,16)" json:"max_trade_amount"`
	MakerFee       decimal.Decimal `gorm:"type:decimal(10,6)" json:"maker_fee"`
	TakerFee       decimal.Decimal `gorm:"type:decimal(10,6)" json:"taker_fee"`
	LastPrice      decimal.Decimal `gorm:"type:decimal(32,16)" json:"last_price"`
	Price24hHigh   decimal.Decimal `gorm:"type:decimal(32,16)" json:"price_24h_high"`
	Price24hLow    decimal.Decimal `gorm:"type:decimal(32,16)" json:"price_24h_low"`
	Price24hChange decimal.Decimal `gorm:"type:decimal(32,16)" json:"price_24h_change"`
	Volume24h      decimal.Decimal `gorm:"type:decimal(32,16)" json:"volume_24h"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Currency is reference data consumed read-only by the engine. PriceUSD
// is fed by an external pricing service and only used upstream for
// display; matching works in the pair's native units.
type Currency struct {
	gorm.Model `json:"-"`
	Symbol     string          `gorm:"uniqueIndex" json:"symbol"`
	Name       string          `json:"name"`
	Decimals   int             `json:"decimals"`
	PriceUSD   decimal.Decimal `gorm:"type:decimal(32,16)" json:"price_usd"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}
