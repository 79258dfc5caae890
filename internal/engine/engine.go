package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/openvenue/venue-core/internal/ledger"
	"github.com/openvenue/venue-core/internal/notify"
	"github.com/openvenue/venue-core/internal/orderbook"
	"github.com/openvenue/venue-core/internal/settlement"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is the matching engine. One instance is constructed at boot
// with its collaborators injected; request handlers share it by handle.
// Matching is synchronous within the call that placed the order, and
// all matching for one pair serializes behind that pair's critical
// section. Distinct pairs match fully in parallel.
type Service struct {
	db       *gorm.DB
	orders   *Database
	book     *orderbook.Service
	recorder *settlement.Recorder
	sink     notify.Sink

	mu        sync.Mutex
	pairLocks map[string]*sync.Mutex
}

func NewService(db *gorm.DB, book *orderbook.Service, recorder *settlement.Recorder, sink notify.Sink) *Service {
	return &Service{
		db:        db,
		orders:    NewDatabase(db),
		book:      book,
		recorder:  recorder,
		sink:      sink,
		pairLocks: make(map[string]*sync.Mutex),
	}
}

// pairLock returns the critical-section mutex for one pair, creating it
// on first use.
func (s *Service) pairLock(pairID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.pairLocks[pairID]
	if !ok {
		lock = &sync.Mutex{}
		s.pairLocks[pairID] = lock
	}
	return lock
}

// PlaceMarketOrder executes an order immediately against available
// liquidity at the resting orders' prices. Any remainder after walking
// the opposite side is cancelled; market orders never rest on the book.
func (s *Service) PlaceMarketOrder(userID, pairID string, side types.Side, amount decimal.Decimal) (*types.Order, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("pair_id", pairID).
		Str("side", string(side)).
		Str("component", "engine").
		Logger()

	pair, err := s.validateCommon(pairID, side, amount)
	if err != nil {
		return nil, err
	}

	lock := s.pairLock(pairID)
	lock.Lock()
	defer lock.Unlock()

	order := &types.Order{
		OrderID:   "ORD_" + uuid.New().String(),
		UserID:    userID,
		PairID:    pairID,
		Side:      side,
		Kind:      types.OrderKindMarket,
		Amount:    amount,
		Status:    types.OrderStatusPending,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := s.orders.CreateOrder(nil, order); err != nil {
		return nil, err
	}

	matchErr := s.matchLoop(order, pair)

	final, err := s.finishMarketOrder(order, matchErr)
	if err != nil {
		return nil, err
	}

	s.publishOrderEvents(final, pair)
	logger.Info().
		Str("order_id", final.OrderID).
		Str("status", string(final.Status)).
		Str("filled", final.Filled.String()).
		Msg("market order processed")

	return final, nil
}

// PlaceLimitOrder locks the required funds up front, rests the order on
// the book and matches it, then applies the time-in-force policy to any
// unfilled remainder.
func (s *Service) PlaceLimitOrder(userID, pairID string, side types.Side, price, amount decimal.Decimal, tif types.TimeInForce, expiresAt *time.Time) (*types.Order, error) {
	logger := log.With().
		Str("user_id", userID).
		Str("pair_id", pairID).
		Str("side", string(side)).
		Str("component", "engine").
		Logger()

	if tif == "" {
		tif = types.TimeInForceGTC
	}
	if !tif.Valid() {
		return nil, types.NewValidationError("unknown time in force %q", tif)
	}
	if !price.IsPositive() {
		return nil, types.NewValidationError("limit price must be positive")
	}

	pair, err := s.validateCommon(pairID, side, amount)
	if err != nil {
		return nil, err
	}
	if amount.LessThan(pair.MinTradeAmount) {
		return nil, types.NewValidationError("amount %s below pair minimum %s", amount, pair.MinTradeAmount)
	}
	if pair.MaxTradeAmount.IsPositive() && amount.GreaterThan(pair.MaxTradeAmount) {
		return nil, types.NewValidationError("amount %s above pair maximum %s", amount, pair.MaxTradeAmount)
	}

	lock := s.pairLock(pairID)
	lock.Lock()
	defer lock.Unlock()

	order := &types.Order{
		OrderID:     "ORD_" + uuid.New().String(),
		UserID:      userID,
		PairID:      pairID,
		Side:        side,
		Kind:        types.OrderKindLimit,
		Price:       price,
		Amount:      amount,
		Status:      types.OrderStatusOpen,
		TimeInForce: tif,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	// Funds lock and order creation are one atomic step: a failed lock
	// leaves no partial order behind.
	err = s.db.Transaction(func(tx *gorm.DB) error {
		currency, lockAmount := s.reservation(pair, order)
		if _, txErr := ledger.Lock(tx, userID, currency, lockAmount); txErr != nil {
			return txErr
		}
		return s.orders.CreateOrder(tx, order)
	})
	if err != nil {
		return nil, err
	}

	// Fill-or-kill is all-or-nothing: fillability is decided against the
	// book snapshot before any match executes, so a kill leaves zero
	// trades behind.
	if tif == types.TimeInForceFOK {
		fillable, err := s.fillableAmount(order)
		if err != nil {
			return nil, err
		}
		if fillable.LessThan(amount) {
			final, err := s.cancelResting(order.OrderID, pair, types.OrderStatusCancelled)
			if err != nil {
				return nil, err
			}
			s.publishOrderEvents(final, pair)
			logger.Info().Str("order_id", final.OrderID).Msg("fill-or-kill order killed")
			return final, nil
		}
	}

	if err := s.matchLoop(order, pair); err != nil {
		return nil, err
	}

	final, err := s.orders.GetOrder(order.OrderID)
	if err != nil {
		return nil, err
	}

	// IOC: only the matched portion persists.
	if tif == types.TimeInForceIOC && final.IsOpen() && final.Remaining().IsPositive() {
		final, err = s.cancelResting(order.OrderID, pair, types.OrderStatusCancelled)
		if err != nil {
			return nil, err
		}
	}

	s.publishOrderEvents(final, pair)
	logger.Info().
		Str("order_id", final.OrderID).
		Str("status", string(final.Status)).
		Str("filled", final.Filled.String()).
		Msg("limit order processed")

	return final, nil
}

// CancelOrder cancels a resting order for its owner and releases the
// remaining reserved funds. The pair critical section serializes it
// against in-flight matches, so either the cancel sees the final fill
// state or the matcher sees the cancelled order, never both.
func (s *Service) CancelOrder(orderID, userID string) (*types.Order, error) {
	order, err := s.orders.GetOrder(orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != userID {
		return nil, types.ErrUnauthorized
	}

	pair, err := s.orders.GetPair(order.PairID)
	if err != nil {
		return nil, err
	}

	lock := s.pairLock(order.PairID)
	lock.Lock()
	defer lock.Unlock()

	final, err := s.cancelResting(orderID, pair, types.OrderStatusCancelled)
	if err != nil {
		return nil, err
	}

	s.publishOrderEvents(final, pair)
	s.sink.Publish(notify.Event{
		Kind:      notify.EventBalanceChanged,
		UserID:    userID,
		Timestamp: time.Now(),
	})

	return final, nil
}

// ExpireDueOrders sweeps resting orders whose expiry has passed,
// releasing their funds. Called by the settlement processor.
func (s *Service) ExpireDueOrders() (int, error) {
	due, err := s.orders.GetDueOrders(time.Now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for i := range due {
		order := &due[i]

		pair, err := s.orders.GetPair(order.PairID)
		if err != nil {
			return expired, err
		}

		lock := s.pairLock(order.PairID)
		lock.Lock()
		final, err := s.cancelResting(order.OrderID, pair, types.OrderStatusExpired)
		lock.Unlock()

		if errors.Is(err, types.ErrNotCancellable) {
			continue // filled or cancelled since the sweep query
		}
		if err != nil {
			return expired, err
		}

		expired++
		s.publishOrderEvents(final, pair)
	}

	return expired, nil
}

// GetOrder returns one order with its trades, restricted to its owner.
func (s *Service) GetOrder(orderID, userID string) (*types.Order, []types.Trade, error) {
	order, err := s.orders.GetOrder(orderID)
	if err != nil {
		return nil, nil, err
	}
	if order.UserID != userID {
		return nil, nil, types.ErrUnauthorized
	}

	trades, err := s.orders.GetOrderTrades(orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, trades, nil
}

// GetOpenOrders returns a user's resting orders.
func (s *Service) GetOpenOrders(userID string) ([]types.Order, error) {
	return s.orders.GetOpenOrders(userID)
}

// matchLoop walks the opposite side of the book in price-time priority,
// settling each eligible crossing until the taker is exhausted or no
// eligible maker remains. Each iteration re-reads committed state, so a
// concurrent cancel is seen before the next match is attempted.
func (s *Service) matchLoop(taker *types.Order, pair *types.TradingPair) error {
	for {
		fresh, err := s.orders.GetOrder(taker.OrderID)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() || !fresh.Remaining().IsPositive() {
			return nil
		}

		makers, err := s.book.RestingOrders(nil, pair.PairID, taker.Side.Opposite())
		if err != nil {
			return err
		}

		var maker *types.Order
		for i := range makers {
			if makers[i].OrderID == taker.OrderID {
				continue
			}
			if !priceEligible(fresh, &makers[i]) {
				break // book is sorted best-first; nothing further crosses
			}
			maker = &makers[i]
			break
		}
		if maker == nil {
			return nil
		}

		err = s.recorder.Settle(settlement.Match{
			PairID:  pair.PairID,
			TakerID: taker.OrderID,
			MakerID: maker.OrderID,
		})
		if errors.Is(err, settlement.ErrStaleMatch) {
			continue
		}
		if err != nil {
			return err
		}
	}
}

// priceEligible reports whether the taker crosses the maker's price.
func priceEligible(taker, maker *types.Order) bool {
	if taker.Kind == types.OrderKindMarket {
		return true
	}
	if taker.Side == types.SideBuy {
		return maker.Price.LessThanOrEqual(taker.Price)
	}
	return maker.Price.GreaterThanOrEqual(taker.Price)
}

// fillableAmount sums eligible opposite-side liquidity for a taker.
func (s *Service) fillableAmount(taker *types.Order) (decimal.Decimal, error) {
	makers, err := s.book.RestingOrders(nil, taker.PairID, taker.Side.Opposite())
	if err != nil {
		return decimal.Zero, err
	}

	fillable := decimal.Zero
	for i := range makers {
		if makers[i].OrderID == taker.OrderID {
			continue
		}
		if !priceEligible(taker, &makers[i]) {
			break
		}
		fillable = fillable.Add(makers[i].Remaining())
		if fillable.GreaterThanOrEqual(taker.Amount) {
			break
		}
	}
	return fillable, nil
}

// cancelResting terminates a resting order and releases its remaining
// reserved funds in one transaction. Idempotent in effect: a second
// cancel sees the terminal status and fails with ErrNotCancellable
// without touching funds again.
func (s *Service) cancelResting(orderID string, pair *types.TradingPair, terminal types.OrderStatus) (*types.Order, error) {
	var cancelled *types.Order
	err := s.db.Transaction(func(tx *gorm.DB) error {
		order, err := s.orders.GetOrderForUpdate(tx, orderID)
		if err != nil {
			return err
		}
		if !order.IsOpen() {
			return fmt.Errorf("%w: order %s is %s", types.ErrNotCancellable, orderID, order.Status)
		}

		currency, _ := s.reservation(pair, order)
		remaining := s.remainingReservation(order)
		if remaining.IsPositive() {
			if _, err := ledger.Unlock(tx, order.UserID, currency, remaining); err != nil {
				return err
			}
		}

		if !order.Status.CanTransitionTo(terminal) {
			return fmt.Errorf("illegal order transition %s -> %s for %s", order.Status, terminal, orderID)
		}
		order.Status = terminal
		if err := settlement.UpdateOrderGuarded(tx, order); err != nil {
			return err
		}

		cancelled = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return cancelled, nil
}

// reservation returns the currency and amount a limit order locks at
// placement: quote at price x amount for buys, base at amount for sells.
func (s *Service) reservation(pair *types.TradingPair, order *types.Order) (string, decimal.Decimal) {
	if order.Side == types.SideBuy {
		return pair.QuoteCurrency, order.Price.Mul(order.Amount)
	}
	return pair.BaseCurrency, order.Amount
}

// remainingReservation is the still-locked portion of a resting order.
// Settlement spends and releases lock per match, so the remainder is
// exactly price x remaining for buys and remaining for sells.
func (s *Service) remainingReservation(order *types.Order) decimal.Decimal {
	if order.Side == types.SideBuy {
		return order.Price.Mul(order.Remaining())
	}
	return order.Remaining()
}

// finishMarketOrder drives a matched market order to its terminal
// state: filled when fully executed, cancelled when liquidity ran out,
// failed when the very first settlement bounced on funds.
func (s *Service) finishMarketOrder(order *types.Order, matchErr error) (*types.Order, error) {
	if matchErr != nil && !errors.Is(matchErr, types.ErrInsufficientBalance) {
		return nil, matchErr
	}

	final, err := s.orders.GetOrder(order.OrderID)
	if err != nil {
		return nil, err
	}
	if final.Status.Terminal() {
		return final, nil
	}

	terminal := types.OrderStatusCancelled
	if matchErr != nil && final.Filled.IsZero() {
		terminal = types.OrderStatusFailed
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		fresh, err := s.orders.GetOrderForUpdate(tx, order.OrderID)
		if err != nil {
			return err
		}
		if fresh.Status.Terminal() {
			final = fresh
			return nil
		}
		if !fresh.Status.CanTransitionTo(terminal) {
			return fmt.Errorf("illegal order transition %s -> %s for %s", fresh.Status, terminal, order.OrderID)
		}
		fresh.Status = terminal
		if err := settlement.UpdateOrderGuarded(tx, fresh); err != nil {
			return err
		}
		final = fresh
		return nil
	})
	if err != nil {
		return nil, err
	}
	return final, nil
}

func (s *Service) validateCommon(pairID string, side types.Side, amount decimal.Decimal) (*types.TradingPair, error) {
	if !side.Valid() {
		return nil, types.NewValidationError("unknown order side %q", side)
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: order amount %s", types.ErrInvalidAmount, amount)
	}

	pair, err := s.orders.GetPair(pairID)
	if err != nil {
		return nil, err
	}
	if !pair.IsActive {
		return nil, types.NewValidationError("pair %s is not active", pair.Symbol)
	}
	return pair, nil
}

func (s *Service) publishOrderEvents(order *types.Order, pair *types.TradingPair) {
	now := time.Now()
	s.sink.Publish(notify.Event{
		Kind:      notify.EventOrderChanged,
		PairID:    pair.PairID,
		UserID:    order.UserID,
		Payload:   order,
		Timestamp: now,
	})
	s.sink.Publish(notify.Event{
		Kind:      notify.EventOrderBookChanged,
		PairID:    pair.PairID,
		Timestamp: now,
	})
}
