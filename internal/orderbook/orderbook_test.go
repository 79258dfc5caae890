package orderbook

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/openvenue/venue-core/internal/database"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testPairID = "PAIR_test"

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	require.NoError(t, db.Create(&types.TradingPair{
		PairID:        testPairID,
		Symbol:        "BTC/USD",
		BaseCurrency:  "BTC",
		QuoteCurrency: "USD",
		IsActive:      true,
	}).Error)

	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func restingOrder(id string, side types.Side, price, amount string, createdAt time.Time) *types.Order {
	return &types.Order{
		OrderID:   id,
		UserID:    "user-" + id,
		PairID:    testPairID,
		Side:      side,
		Kind:      types.OrderKindLimit,
		Price:     dec(price),
		Amount:    dec(amount),
		Status:    types.OrderStatusOpen,
		CreatedAt: createdAt,
	}
}

func TestRestingOrdersPriceTimePriority(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	base := time.Now().Add(-time.Minute)
	orders := []*types.Order{
		restingOrder("b1", types.SideBuy, "100", "1", base),
		restingOrder("b2", types.SideBuy, "101", "1", base.Add(time.Second)),
		restingOrder("b3", types.SideBuy, "100", "1", base.Add(2*time.Second)),
		restingOrder("s1", types.SideSell, "103", "1", base),
		restingOrder("s2", types.SideSell, "102", "1", base.Add(time.Second)),
		restingOrder("s3", types.SideSell, "102", "1", base.Add(2*time.Second)),
	}
	for _, o := range orders {
		require.NoError(t, db.Create(o).Error)
	}

	bids, err := service.RestingOrders(nil, testPairID, types.SideBuy)
	require.NoError(t, err)
	require.Len(t, bids, 3)
	// Highest price first, then earliest among equals
	require.Equal(t, "b2", bids[0].OrderID)
	require.Equal(t, "b1", bids[1].OrderID)
	require.Equal(t, "b3", bids[2].OrderID)

	asks, err := service.RestingOrders(nil, testPairID, types.SideSell)
	require.NoError(t, err)
	require.Len(t, asks, 3)
	// Lowest price first, then earliest among equals
	require.Equal(t, "s2", asks[0].OrderID)
	require.Equal(t, "s3", asks[1].OrderID)
	require.Equal(t, "s1", asks[2].OrderID)
}

func TestRestingOrdersExcludesTerminal(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	now := time.Now()
	open := restingOrder("o1", types.SideBuy, "100", "1", now)
	partial := restingOrder("o2", types.SideBuy, "99", "2", now)
	partial.Status = types.OrderStatusPartiallyFilled
	partial.Filled = dec("0.5")
	done := restingOrder("o3", types.SideBuy, "101", "1", now)
	done.Status = types.OrderStatusFilled
	cancelled := restingOrder("o4", types.SideBuy, "102", "1", now)
	cancelled.Status = types.OrderStatusCancelled

	for _, o := range []*types.Order{open, partial, done, cancelled} {
		require.NoError(t, db.Create(o).Error)
	}

	bids, err := service.RestingOrders(nil, testPairID, types.SideBuy)
	require.NoError(t, err)
	require.Len(t, bids, 2)
	require.Equal(t, "o1", bids[0].OrderID)
	require.Equal(t, "o2", bids[1].OrderID)
}

func TestDepthAggregatesPriceLevels(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	now := time.Now()
	orders := []*types.Order{
		restingOrder("a1", types.SideSell, "100", "1", now),
		restingOrder("a2", types.SideSell, "100", "2", now.Add(time.Second)),
		restingOrder("a3", types.SideSell, "101", "5", now),
	}
	partial := restingOrder("a4", types.SideSell, "100", "3", now.Add(2*time.Second))
	partial.Status = types.OrderStatusPartiallyFilled
	partial.Filled = dec("1")
	orders = append(orders, partial)

	for _, o := range orders {
		require.NoError(t, db.Create(o).Error)
	}

	depth, err := service.Depth(testPairID, 20)
	require.NoError(t, err)
	require.Empty(t, depth.Bids)
	require.Len(t, depth.Asks, 2)

	// Level 100: 1 + 2 + (3 - 1 filled) across three orders
	require.True(t, depth.Asks[0].Price.Equal(dec("100")))
	require.True(t, depth.Asks[0].Amount.Equal(dec("5")))
	require.Equal(t, 3, depth.Asks[0].Orders)

	require.True(t, depth.Asks[1].Price.Equal(dec("101")))
	require.True(t, depth.Asks[1].Amount.Equal(dec("5")))
	require.Equal(t, 1, depth.Asks[1].Orders)
}

func TestDepthTruncatesToRequestedLevels(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	now := time.Now()
	for i, price := range []string{"100", "101", "102", "103"} {
		o := restingOrder("a"+price, types.SideSell, price, "1", now.Add(time.Duration(i)*time.Second))
		require.NoError(t, db.Create(o).Error)
	}

	depth, err := service.Depth(testPairID, 2)
	require.NoError(t, err)
	require.Len(t, depth.Asks, 2)
	require.True(t, depth.Asks[0].Price.Equal(dec("100")))
	require.True(t, depth.Asks[1].Price.Equal(dec("101")))
}

func TestSpread(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	// Empty book reads as all zeros.
	spread, err := service.Spread(testPairID)
	require.NoError(t, err)
	require.True(t, spread.BestBid.IsZero())
	require.True(t, spread.BestAsk.IsZero())
	require.True(t, spread.Spread.IsZero())
	require.True(t, spread.SpreadPercent.IsZero())

	now := time.Now()
	require.NoError(t, db.Create(restingOrder("b1", types.SideBuy, "99", "1", now)).Error)

	// One-sided book still reads as zeros.
	spread, err = service.Spread(testPairID)
	require.NoError(t, err)
	require.True(t, spread.Spread.IsZero())

	require.NoError(t, db.Create(restingOrder("s1", types.SideSell, "101", "1", now)).Error)

	spread, err = service.Spread(testPairID)
	require.NoError(t, err)
	require.True(t, spread.BestBid.Equal(dec("99")))
	require.True(t, spread.BestAsk.Equal(dec("101")))
	require.True(t, spread.Spread.Equal(dec("2")))
	require.True(t, spread.SpreadPercent.Equal(dec("2")))
}

func TestSnapshotUnknownPair(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	_, err := service.Snapshot("PAIR_missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}
