package settlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/openvenue/venue-core/internal/ledger"
	"github.com/openvenue/venue-core/internal/notify"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ErrStaleMatch reports that a match discovered by the engine is no
// longer executable (a counterparty was cancelled or filled first).
// The engine re-reads the book and moves on.
var ErrStaleMatch = errors.New("match no longer executable")

// Match is one eligible crossing the engine discovered while walking
// the book. Amount and price are recomputed from fresh rows inside the
// settlement transaction; the snapshot values here are advisory.
type Match struct {
	PairID  string
	TakerID string
	MakerID string
}

// Recorder applies a match as a single atomic unit: two order updates,
// the balance movements of both participants, one pair-stats update and
// two immutable trade rows. Either everything commits or nothing does.
type Recorder struct {
	db      *gorm.DB
	sink    notify.Sink
	retries int
}

func NewRecorder(db *gorm.DB, sink notify.Sink, retries int) *Recorder {
	if retries <= 0 {
		retries = 3
	}
	return &Recorder{
		db:      db,
		sink:    sink,
		retries: retries,
	}
}

// settleOutcome collects what a committed settlement produced, for
// post-commit notification.
type settleOutcome struct {
	pair   *types.TradingPair
	taker  *types.Order
	maker  *types.Order
	trades []types.Trade
}

// Settle executes one match. Version conflicts from concurrent balance
// or order mutation are retried internally with bounded attempts; they
// reflect contention, not a caller error.
func (r *Recorder) Settle(match Match) error {
	logger := log.With().
		Str("pair_id", match.PairID).
		Str("taker_order_id", match.TakerID).
		Str("maker_order_id", match.MakerID).
		Str("component", "settlement").
		Logger()

	var lastErr error
	for attempt := 0; attempt < r.retries; attempt++ {
		var outcome *settleOutcome
		err := r.db.Transaction(func(tx *gorm.DB) error {
			var txErr error
			outcome, txErr = r.settleInTx(tx, match)
			return txErr
		})
		if err == nil {
			r.publish(outcome)
			logger.Debug().
				Str("trade_id", outcome.trades[0].TradeID).
				Str("amount", outcome.trades[0].Amount.String()).
				Str("price", outcome.trades[0].Price.String()).
				Msg("match settled")
			return nil
		}
		if errors.Is(err, types.ErrSettlementConflict) {
			logger.Warn().Err(err).Int("attempt", attempt+1).Msg("settlement conflict, retrying")
			lastErr = err
			continue
		}
		return err
	}

	return fmt.Errorf("settlement retries exhausted: %w", lastErr)
}

func (r *Recorder) settleInTx(tx *gorm.DB, match Match) (*settleOutcome, error) {
	pair, err := loadPair(tx, match.PairID)
	if err != nil {
		return nil, err
	}
	taker, err := loadOrder(tx, match.TakerID)
	if err != nil {
		return nil, err
	}
	maker, err := loadOrder(tx, match.MakerID)
	if err != nil {
		return nil, err
	}

	// Re-validate against fresh rows: a concurrent cancel or an earlier
	// match may have consumed either side since the engine's snapshot.
	if !maker.IsOpen() {
		return nil, ErrStaleMatch
	}
	if taker.Status.Terminal() {
		return nil, ErrStaleMatch
	}

	amount := decimal.Min(taker.Remaining(), maker.Remaining())
	if !amount.IsPositive() {
		return nil, ErrStaleMatch
	}

	// The maker is always the price-setter.
	price := maker.Price
	totalValue := amount.Mul(price)
	takerFee := totalValue.Mul(pair.TakerFee)
	makerFee := totalValue.Mul(pair.MakerFee)

	buyer, seller := taker, maker
	sellerFee := makerFee
	if taker.Side == types.SideSell {
		buyer, seller = maker, taker
		sellerFee = takerFee
	}

	if err := r.moveFunds(tx, pair, buyer, seller, amount, price, totalValue, sellerFee); err != nil {
		return nil, err
	}

	if err := applyFill(tx, taker, amount, price); err != nil {
		return nil, err
	}
	if err := applyFill(tx, maker, amount, price); err != nil {
		return nil, err
	}

	if err := updatePairStats(tx, pair, amount, price); err != nil {
		return nil, err
	}

	now := time.Now()
	trades := []types.Trade{
		{
			TradeID:        "TRD_" + uuid.New().String(),
			PairID:         pair.PairID,
			OrderID:        taker.OrderID,
			CounterOrderID: maker.OrderID,
			UserID:         taker.UserID,
			Side:           taker.Side,
			Role:           types.TradeRoleTaker,
			Amount:         amount,
			Price:          price,
			TotalValue:     totalValue,
			Fee:            takerFee,
			CreatedAt:      now,
		},
		{
			TradeID:        "TRD_" + uuid.New().String(),
			PairID:         pair.PairID,
			OrderID:        maker.OrderID,
			CounterOrderID: taker.OrderID,
			UserID:         maker.UserID,
			Side:           maker.Side,
			Role:           types.TradeRoleMaker,
			Amount:         amount,
			Price:          price,
			TotalValue:     totalValue,
			Fee:            makerFee,
			CreatedAt:      now,
		},
	}
	if err := tx.Create(&trades).Error; err != nil {
		return nil, err
	}

	return &settleOutcome{
		pair:   pair,
		taker:  taker,
		maker:  maker,
		trades: trades,
	}, nil
}

// moveFunds applies both participants' balance mutations. Limit orders
// spend out of the lock taken at placement; market orders deduct from
// available directly. A buyer matched below their limit gets the price
// improvement unlocked immediately, so a resting buy's lock always
// equals limit price x remaining. The surplus is measured against the
// execution price: when the buyer is the maker it is zero, since the
// match executes at the buyer's own price.
func (r *Recorder) moveFunds(tx *gorm.DB, pair *types.TradingPair, buyer, seller *types.Order, amount, price, totalValue, sellerFee decimal.Decimal) error {
	if buyer.Kind == types.OrderKindLimit {
		if _, err := ledger.SpendLocked(tx, buyer.UserID, pair.QuoteCurrency, totalValue); err != nil {
			return err
		}
		if surplus := buyer.Price.Sub(price).Mul(amount); surplus.IsPositive() {
			if _, err := ledger.Unlock(tx, buyer.UserID, pair.QuoteCurrency, surplus); err != nil {
				return err
			}
		}
	} else {
		if _, err := ledger.Deduct(tx, buyer.UserID, pair.QuoteCurrency, totalValue); err != nil {
			return err
		}
	}
	if _, err := ledger.Credit(tx, buyer.UserID, pair.BaseCurrency, amount); err != nil {
		return err
	}

	if seller.Kind == types.OrderKindLimit {
		if _, err := ledger.SpendLocked(tx, seller.UserID, pair.BaseCurrency, amount); err != nil {
			return err
		}
	} else {
		if _, err := ledger.Deduct(tx, seller.UserID, pair.BaseCurrency, amount); err != nil {
			return err
		}
	}
	if _, err := ledger.Credit(tx, seller.UserID, pair.QuoteCurrency, totalValue.Sub(sellerFee)); err != nil {
		return err
	}

	return nil
}

// applyFill advances an order's cumulative fill and volume-weighted
// average price, then moves its status. Filled is monotonically
// non-decreasing; the guarded write detects concurrent mutation.
func applyFill(tx *gorm.DB, order *types.Order, amount, price decimal.Decimal) error {
	previousFilled := order.Filled
	order.Filled = order.Filled.Add(amount)

	executed := previousFilled.Mul(order.AveragePrice).Add(amount.Mul(price))
	order.AveragePrice = executed.Div(order.Filled)

	next := types.OrderStatusPartiallyFilled
	if order.Remaining().IsZero() {
		next = types.OrderStatusFilled
	}
	if order.Status != next {
		if !order.Status.CanTransitionTo(next) {
			return fmt.Errorf("illegal order transition %s -> %s for %s", order.Status, next, order.OrderID)
		}
		order.Status = next
	}

	return UpdateOrderGuarded(tx, order)
}

// UpdateOrderGuarded writes an order's mutable fields with an optimistic
// version check. Zero rows affected means someone else committed first.
func UpdateOrderGuarded(tx *gorm.DB, order *types.Order) error {
	previous := order.Version
	order.Version++
	order.UpdatedAt = time.Now()

	result := tx.Model(&types.Order{}).
		Where("id = ? AND version = ?", order.ID, previous).
		Updates(map[string]interface{}{
			"filled":        order.Filled,
			"average_price": order.AveragePrice,
			"status":        order.Status,
			"version":       order.Version,
			"updated_at":    order.UpdatedAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: order %s", types.ErrSettlementConflict, order.OrderID)
	}
	return nil
}

// updatePairStats folds one match into the pair's rolling statistics.
// The background processor later corrects the 24h window; here we only
// expand bounds and accumulate.
func updatePairStats(tx *gorm.DB, pair *types.TradingPair, amount, price decimal.Decimal) error {
	pair.LastPrice = price
	if pair.Price24hHigh.IsZero() || price.GreaterThan(pair.Price24hHigh) {
		pair.Price24hHigh = price
	}
	if pair.Price24hLow.IsZero() || price.LessThan(pair.Price24hLow) {
		pair.Price24hLow = price
	}
	pair.Volume24h = pair.Volume24h.Add(amount)
	pair.UpdatedAt = time.Now()

	return tx.Save(pair).Error
}

// publish emits the post-commit events. Failures are the sink's problem;
// a committed trade is never rolled back for a lost notification.
func (r *Recorder) publish(outcome *settleOutcome) {
	now := time.Now()

	r.sink.Publish(notify.Event{
		Kind:      notify.EventTradeExecuted,
		PairID:    outcome.pair.PairID,
		Payload:   outcome.trades,
		Timestamp: now,
	})
	r.sink.Publish(notify.Event{
		Kind:      notify.EventOrderBookChanged,
		PairID:    outcome.pair.PairID,
		Timestamp: now,
	})
	for _, order := range []*types.Order{outcome.taker, outcome.maker} {
		r.sink.Publish(notify.Event{
			Kind:      notify.EventOrderChanged,
			PairID:    outcome.pair.PairID,
			UserID:    order.UserID,
			Payload:   order,
			Timestamp: now,
		})
		r.sink.Publish(notify.Event{
			Kind:      notify.EventBalanceChanged,
			UserID:    order.UserID,
			Timestamp: now,
		})
	}
}

func loadOrder(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func loadPair(tx *gorm.DB, pairID string) (*types.TradingPair, error) {
	var pair types.TradingPair
	if err := tx.Where("pair_id = ?", pairID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &pair, nil
}
