package orderbook

import (
	"sort"

	"github.com/openvenue/venue-core/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service is a derived read model over resting orders. It owns no
// state: every query re-reads the orders table, so the book is always
// consistent with whatever the engine last committed.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// RestingOrders returns the open orders for one side of a pair in
// price-time priority: best price first, earliest creation first among
// equal prices. The matching engine consumes this ordering as-is.
func (s *Service) RestingOrders(tx *gorm.DB, pairID string, side types.Side) ([]types.Order, error) {
	if tx == nil {
		tx = s.db
	}

	var orders []types.Order
	err := tx.Where("pair_id = ? AND side = ? AND status IN ?",
		pairID, side, []types.OrderStatus{types.OrderStatusOpen, types.OrderStatusPartiallyFilled}).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}

	SortBook(orders, side)
	return orders, nil
}

// SortBook orders a slice into price-time priority for the given side.
func SortBook(orders []types.Order, side types.Side) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].Price.Equal(orders[j].Price) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		if side == types.SideBuy {
			return orders[i].Price.GreaterThan(orders[j].Price)
		}
		return orders[i].Price.LessThan(orders[j].Price)
	})
}

// Snapshot returns the full per-order book for a pair.
func (s *Service) Snapshot(pairID string) (*types.OrderBookResponse, error) {
	if err := s.pairExists(pairID); err != nil {
		return nil, err
	}

	bids, err := s.RestingOrders(nil, pairID, types.SideBuy)
	if err != nil {
		return nil, err
	}
	asks, err := s.RestingOrders(nil, pairID, types.SideSell)
	if err != nil {
		return nil, err
	}

	return &types.OrderBookResponse{
		PairID: pairID,
		Bids:   toEntries(bids),
		Asks:   toEntries(asks),
	}, nil
}

// Depth returns the book collapsed into price levels with cumulative
// size, truncated to the top levels per side.
func (s *Service) Depth(pairID string, levels int) (*types.DepthResponse, error) {
	if levels <= 0 {
		levels = 20
	}

	snapshot, err := s.Snapshot(pairID)
	if err != nil {
		return nil, err
	}

	return &types.DepthResponse{
		PairID: pairID,
		Bids:   aggregate(snapshot.Bids, levels),
		Asks:   aggregate(snapshot.Asks, levels),
	}, nil
}

// Spread returns best bid/ask and their spread. When either side is
// empty every field is zero rather than undefined.
func (s *Service) Spread(pairID string) (*types.SpreadResponse, error) {
	snapshot, err := s.Snapshot(pairID)
	if err != nil {
		return nil, err
	}

	result := &types.SpreadResponse{PairID: pairID}
	if len(snapshot.Bids) == 0 || len(snapshot.Asks) == 0 {
		return result, nil
	}

	result.BestBid = snapshot.Bids[0].Price
	result.BestAsk = snapshot.Asks[0].Price
	result.Spread = result.BestAsk.Sub(result.BestBid)

	mid := result.BestBid.Add(result.BestAsk).Div(decimal.NewFromInt(2))
	if !mid.IsZero() {
		result.SpreadPercent = result.Spread.Div(mid).Mul(decimal.NewFromInt(100))
	}

	return result, nil
}

func (s *Service) pairExists(pairID string) error {
	var count int64
	if err := s.db.Model(&types.TradingPair{}).Where("pair_id = ?", pairID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return types.ErrNotFound
	}
	return nil
}

func toEntries(orders []types.Order) []types.BookEntry {
	entries := make([]types.BookEntry, 0, len(orders))
	for i := range orders {
		o := &orders[i]
		entries = append(entries, types.BookEntry{
			OrderID:   o.OrderID,
			Price:     o.Price,
			Amount:    o.Amount,
			Remaining: o.Remaining(),
			CreatedAt: o.CreatedAt,
		})
	}
	return entries
}

func aggregate(entries []types.BookEntry, levels int) []types.DepthLevel {
	out := make([]types.DepthLevel, 0, levels)
	for _, e := range entries {
		if n := len(out); n > 0 && out[n-1].Price.Equal(e.Price) {
			out[n-1].Amount = out[n-1].Amount.Add(e.Remaining)
			out[n-1].Orders++
			continue
		}
		if len(out) == levels {
			break
		}
		out = append(out, types.DepthLevel{
			Price:  e.Price,
			Amount: e.Remaining,
			Orders: 1,
		})
	}
	return out
}
