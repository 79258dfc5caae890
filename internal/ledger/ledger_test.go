package ledger

import (
	"path/filepath"
	"testing"

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

func TestCreditCreatesBalanceLazily(t *testing.T) {
	db := testDB(t)

	balance, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("100")))
	require.True(t, balance.Locked.IsZero())
	require.True(t, balance.Total.Equal(dec("100")))

	var count int64
	require.NoError(t, db.Model(&types.Balance{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestLockUnlockConservesTotal(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)

	balance, err := Lock(db, "alice", "USD", dec("60"))
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("40")))
	require.True(t, balance.Locked.Equal(dec("60")))
	require.True(t, balance.Total.Equal(dec("100")))

	balance, err = Unlock(db, "alice", "USD", dec("25"))
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("65")))
	require.True(t, balance.Locked.Equal(dec("35")))
	require.True(t, balance.Total.Equal(dec("100")))
}

func TestLockInsufficientAvailable(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("10"))
	require.NoError(t, err)

	_, err = Lock(db, "alice", "USD", dec("10.01"))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	// Failed lock must not have moved anything.
	balance, err := Credit(db, "alice", "USD", decimal.Zero)
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("10")))
	require.True(t, balance.Locked.IsZero())
}

func TestUnlockMoreThanLocked(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)
	_, err = Lock(db, "alice", "USD", dec("30"))
	require.NoError(t, err)

	_, err = Unlock(db, "alice", "USD", dec("31"))
	require.ErrorIs(t, err, types.ErrInsufficientLocked)
}

func TestDeductFromAvailableOnly(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)
	_, err = Lock(db, "alice", "USD", dec("80"))
	require.NoError(t, err)

	// Locked funds are not deductible.
	_, err = Deduct(db, "alice", "USD", dec("50"))
	require.ErrorIs(t, err, types.ErrInsufficientBalance)

	balance, err := Deduct(db, "alice", "USD", dec("20"))
	require.NoError(t, err)
	require.True(t, balance.Available.IsZero())
	require.True(t, balance.Locked.Equal(dec("80")))
	require.True(t, balance.Total.Equal(dec("80")))
}

func TestSpendLockedBurnsLockedBucket(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)
	_, err = Lock(db, "alice", "USD", dec("60"))
	require.NoError(t, err)

	balance, err := SpendLocked(db, "alice", "USD", dec("45"))
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("40")))
	require.True(t, balance.Locked.Equal(dec("15")))
	require.True(t, balance.Total.Equal(dec("55")))

	_, err = SpendLocked(db, "alice", "USD", dec("15.5"))
	require.ErrorIs(t, err, types.ErrInsufficientLocked)
}

func TestNegativeAmountRejected(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("-1"))
	require.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = Lock(db, "alice", "USD", dec("-1"))
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestBalancesIsolatedPerCurrency(t *testing.T) {
	db := testDB(t)

	_, err := Credit(db, "alice", "USD", dec("100"))
	require.NoError(t, err)
	_, err = Credit(db, "alice", "BTC", dec("2"))
	require.NoError(t, err)
	_, err = Credit(db, "bob", "USD", dec("7"))
	require.NoError(t, err)

	_, err = Lock(db, "alice", "BTC", dec("1.5"))
	require.NoError(t, err)

	service := NewService(db)
	usd, err := service.GetBalance("alice", "USD")
	require.NoError(t, err)
	require.True(t, usd.Available.Equal(dec("100")))
	require.True(t, usd.Locked.IsZero())

	bob, err := service.GetBalance("bob", "USD")
	require.NoError(t, err)
	require.True(t, bob.Total.Equal(dec("7")))
}

func TestServiceDeposit(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	balance, err := service.Deposit("alice", "ETH", dec("3"))
	require.NoError(t, err)
	require.True(t, balance.Available.Equal(dec("3")))

	_, err = service.Deposit("alice", "ETH", decimal.Zero)
	require.ErrorIs(t, err, types.ErrInvalidAmount)
	_, err = service.Deposit("alice", "ETH", dec("-5"))
	require.ErrorIs(t, err, types.ErrInvalidAmount)
}

func TestGetBalanceMissingRowReadsZero(t *testing.T) {
	db := testDB(t)
	service := NewService(db)

	balance, err := service.GetBalance("nobody", "USD")
	require.NoError(t, err)
	require.True(t, balance.Available.IsZero())
	require.True(t, balance.Locked.IsZero())
	require.True(t, balance.Total.IsZero())
}
