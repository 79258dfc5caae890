package pairs

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

func testDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := database.NewDatabase(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	return db
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func seedCurrencies(t *testing.T, service *Service) {
	t.Helper()

	for _, symbol := range []string{"BTC", "USD"} {
		_, err := service.UpsertCurrency(symbol, symbol, 8, dec("1"), true)
		require.NoError(t, err)
	}
}

func TestUpsertCurrency(t *testing.T) {
	service := NewService(testDB(t))

	currency, err := service.UpsertCurrency("btc", "Bitcoin", 8, dec("64000"), true)
	require.NoError(t, err)
	require.Equal(t, "BTC", currency.Symbol, "symbol is upper-cased")

	// Second upsert updates in place rather than duplicating.
	updated, err := service.UpsertCurrency("BTC", "Bitcoin", 8, dec("65000"), false)
	require.NoError(t, err)
	require.False(t, updated.IsActive)

	_, err = service.UpsertCurrency("", "Nameless", 8, dec("1"), true)
	require.True(t, types.IsValidation(err))
	_, err = service.UpsertCurrency("XYZ", "Deep", 19, dec("1"), true)
	require.True(t, types.IsValidation(err), "decimals out of range")
	_, err = service.UpsertCurrency("XYZ", "Negative", 8, dec("-1"), true)
	require.True(t, types.IsValidation(err))
}

func TestCreatePair(t *testing.T) {
	service := NewService(testDB(t))
	seedCurrencies(t, service)

	pair, err := service.CreatePair(CreatePairRequest{
		BaseCurrency:   "btc",
		QuoteCurrency:  "usd",
		MinTradeAmount: dec("0.01"),
		MakerFee:       dec("0.001"),
		TakerFee:       dec("0.002"),
	})
	require.NoError(t, err)
	require.Equal(t, "BTC/USD", pair.Symbol)
	require.Equal(t, "BTC", pair.BaseCurrency)
	require.Equal(t, "USD", pair.QuoteCurrency)
	require.True(t, pair.IsActive)
	require.NotEmpty(t, pair.PairID)

	fetched, err := service.GetPair(pair.PairID)
	require.NoError(t, err)
	require.Equal(t, pair.Symbol, fetched.Symbol)
}

func TestCreatePairValidation(t *testing.T) {
	service := NewService(testDB(t))
	seedCurrencies(t, service)

	cases := []struct {
		name string
		req  CreatePairRequest
	}{
		{"same base and quote", CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "BTC"}},
		{"missing base", CreatePairRequest{QuoteCurrency: "USD"}},
		{"maker fee above bound", CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", MakerFee: dec("0.11")}},
		{"negative taker fee", CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", TakerFee: dec("-0.01")}},
		{"min above max", CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "USD", MinTradeAmount: dec("5"), MaxTradeAmount: dec("1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := service.CreatePair(tc.req)
			require.True(t, types.IsValidation(err), "got %v", err)
		})
	}
}

func TestCreatePairUnknownCurrency(t *testing.T) {
	service := NewService(testDB(t))
	seedCurrencies(t, service)

	_, err := service.CreatePair(CreatePairRequest{BaseCurrency: "DOGE", QuoteCurrency: "USD"})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestCreatePairInactiveCurrency(t *testing.T) {
	service := NewService(testDB(t))
	seedCurrencies(t, service)

	_, err := service.UpsertCurrency("ETH", "Ethereum", 18, dec("1"), false)
	require.NoError(t, err)

	_, err = service.CreatePair(CreatePairRequest{BaseCurrency: "ETH", QuoteCurrency: "USD"})
	require.True(t, types.IsValidation(err))
}

func TestRecentTrades(t *testing.T) {
	db := testDB(t)
	service := NewService(db)
	seedCurrencies(t, service)

	pair, err := service.CreatePair(CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "USD"})
	require.NoError(t, err)

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&types.Trade{
			TradeID:   "TRD_" + string(rune('a'+i)),
			PairID:    pair.PairID,
			OrderID:   "ORD_x",
			UserID:    "alice",
			Side:      types.SideBuy,
			Role:      types.TradeRoleTaker,
			Amount:    dec("1"),
			Price:     dec("100"),
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}).Error)
	}

	trades, err := service.RecentTrades(pair.PairID, 3)
	require.NoError(t, err)
	require.Len(t, trades, 3)
	// Newest first
	require.Equal(t, "TRD_e", trades[0].TradeID)

	_, err = service.RecentTrades("PAIR_missing", 3)
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestListPairs(t *testing.T) {
	service := NewService(testDB(t))
	seedCurrencies(t, service)
	_, err := service.UpsertCurrency("ETH", "Ethereum", 18, dec("1"), true)
	require.NoError(t, err)

	_, err = service.CreatePair(CreatePairRequest{BaseCurrency: "BTC", QuoteCurrency: "USD"})
	require.NoError(t, err)
	_, err = service.CreatePair(CreatePairRequest{BaseCurrency: "ETH", QuoteCurrency: "USD"})
	require.NoError(t, err)

	pairsList, err := service.ListPairs()
	require.NoError(t, err)
	require.Len(t, pairsList, 2)
}
