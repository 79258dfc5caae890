package settlement

import (
	"context"
	"time"

	"github.com/openvenue/venue-core/internal/types"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderExpirer expires resting orders past their expiry. Implemented by
// the matching engine, which owns the per-pair critical sections the
// sweep must respect.
type OrderExpirer interface {
	ExpireDueOrders() (int, error)
}

// Processor is the background maintenance loop: it expires due orders
// and trues up each pair's rolling 24h statistics from the trades table
// (incremental settlement updates only ever expand bounds and
// accumulate volume; the window correction happens here).
type Processor struct {
	db       *gorm.DB
	expirer  OrderExpirer
	interval time.Duration
}

func NewProcessor(db *gorm.DB, expirer OrderExpirer, interval time.Duration) *Processor {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Processor{
		db:       db,
		expirer:  expirer,
		interval: interval,
	}
}

// Start begins the maintenance loop and blocks until ctx is cancelled.
func (p *Processor) Start(ctx context.Context) {
	logger := log.With().Str("component", "settlement_processor").Logger()
	logger.Info().Dur("interval", p.interval).Msg("starting settlement processor")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down settlement processor")
			return
		case <-ticker.C:
			if expired, err := p.expirer.ExpireDueOrders(); err != nil {
				logger.Error().Err(err).Msg("order expiry sweep failed")
			} else if expired > 0 {
				logger.Info().Int("expired", expired).Msg("expired due orders")
			}

			if err := p.recomputePairStats(); err != nil {
				logger.Error().Err(err).Msg("failed to recompute pair statistics")
			}
		}
	}
}

// recomputePairStats rebuilds each pair's 24h window from trades.
// Maker rows alone are aggregated so each match counts once.
func (p *Processor) recomputePairStats() error {
	var pairsList []types.TradingPair
	if err := p.db.Find(&pairsList).Error; err != nil {
		return err
	}

	windowStart := time.Now().Add(-24 * time.Hour)

	for i := range pairsList {
		pair := &pairsList[i]

		var trades []types.Trade
		err := p.db.Where("pair_id = ? AND role = ? AND created_at >= ?",
			pair.PairID, types.TradeRoleMaker, windowStart).
			Order("created_at ASC").
			Find(&trades).Error
		if err != nil {
			return err
		}

		high, low, volume := decimal.Zero, decimal.Zero, decimal.Zero
		change := decimal.Zero
		for _, trade := range trades {
			if high.IsZero() || trade.Price.GreaterThan(high) {
				high = trade.Price
			}
			if low.IsZero() || trade.Price.LessThan(low) {
				low = trade.Price
			}
			volume = volume.Add(trade.Amount)
		}
		if len(trades) > 0 {
			opening := trades[0].Price
			closing := trades[len(trades)-1].Price
			change = closing.Sub(opening)
		}

		// Write only the recomputed columns, conditional on the row still
		// being the one we read. A settlement committing in between wins;
		// the next sweep picks its trades up anyway.
		result := p.db.Model(&types.TradingPair{}).
			Where("pair_id = ? AND updated_at = ?", pair.PairID, pair.UpdatedAt).
			Updates(map[string]interface{}{
				"Price24hHigh":   high,
				"Price24hLow":    low,
				"Volume24h":      volume,
				"Price24hChange": change,
				"UpdatedAt":      time.Now(),
			})
		if result.Error != nil {
			return result.Error
		}
	}

	return nil
}
