package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/openvenue/venue-core/internal/types"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// The ledger primitives run inside the caller's transaction so that
// settlement can apply multiple balance mutations atomically. Every
// write recomputes total and bumps the row version; a version mismatch
// on write means another settlement touched the row first and surfaces
// as ErrSettlementConflict for the caller to retry.

// Lock moves amount from available to locked.
func Lock(tx *gorm.DB, userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	return apply(tx, userID, currency, amount, func(b *types.Balance, amt decimal.Decimal) error {
		if b.Available.LessThan(amt) {
			return fmt.Errorf("%w: %s %s available %s, need %s",
				types.ErrInsufficientBalance, userID, currency, b.Available, amt)
		}
		b.Available = b.Available.Sub(amt)
		b.Locked = b.Locked.Add(amt)
		return nil
	})
}

// Unlock reverses a lock, moving amount from locked back to available.
// Used on cancellation and on unfilled IOC/FOK remainders.
func Unlock(tx *gorm.DB, userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	return apply(tx, userID, currency, amount, func(b *types.Balance, amt decimal.Decimal) error {
		if b.Locked.LessThan(amt) {
			return fmt.Errorf("%w: %s %s locked %s, release %s",
				types.ErrInsufficientLocked, userID, currency, b.Locked, amt)
		}
		b.Locked = b.Locked.Sub(amt)
		b.Available = b.Available.Add(amt)
		return nil
	})
}

// Deduct removes amount from available directly. Used on market-order
// settlement paths where no prior lock exists.
func Deduct(tx *gorm.DB, userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	return apply(tx, userID, currency, amount, func(b *types.Balance, amt decimal.Decimal) error {
		if b.Available.LessThan(amt) {
			return fmt.Errorf("%w: %s %s available %s, need %s",
				types.ErrInsufficientBalance, userID, currency, b.Available, amt)
		}
		b.Available = b.Available.Sub(amt)
		return nil
	})
}

// Credit adds amount to available, creating the balance row on first use.
func Credit(tx *gorm.DB, userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	return apply(tx, userID, currency, amount, func(b *types.Balance, amt decimal.Decimal) error {
		b.Available = b.Available.Add(amt)
		return nil
	})
}

// SpendLocked burns amount out of the locked bucket. Only settlement
// uses it, to consume the portion of an up-front order lock that a
// match actually spent.
func SpendLocked(tx *gorm.DB, userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	return apply(tx, userID, currency, amount, func(b *types.Balance, amt decimal.Decimal) error {
		if b.Locked.LessThan(amt) {
			return fmt.Errorf("%w: %s %s locked %s, spend %s",
				types.ErrInsufficientLocked, userID, currency, b.Locked, amt)
		}
		b.Locked = b.Locked.Sub(amt)
		return nil
	})
}

func apply(tx *gorm.DB, userID, currency string, amount decimal.Decimal, mutate func(*types.Balance, decimal.Decimal) error) (*types.Balance, error) {
	if amount.IsNegative() {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidAmount, amount)
	}

	balance, created, err := fetch(tx, userID, currency)
	if err != nil {
		return nil, err
	}

	if err := mutate(balance, amount); err != nil {
		return nil, err
	}

	balance.Total = balance.Available.Add(balance.Locked)
	balance.LastUpdated = time.Now()

	if err := verifyInvariant(balance); err != nil {
		return nil, err
	}

	if created {
		if err := tx.Create(balance).Error; err != nil {
			return nil, err
		}
		return balance, nil
	}

	// Guarded write: a stale version means a concurrent mutation won.
	previous := balance.Version
	balance.Version++
	result := tx.Model(&types.Balance{}).
		Where("id = ? AND version = ?", balance.ID, previous).
		Updates(map[string]interface{}{
			"available":    balance.Available,
			"locked":       balance.Locked,
			"total":        balance.Total,
			"version":      balance.Version,
			"last_updated": balance.LastUpdated,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, fmt.Errorf("%w: balance %s/%s", types.ErrSettlementConflict, userID, currency)
	}

	return balance, nil
}

func fetch(tx *gorm.DB, userID, currency string) (*types.Balance, bool, error) {
	var balance types.Balance
	err := tx.Where("user_id = ? AND currency = ?", userID, currency).First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &types.Balance{
			UserID:   userID,
			Currency: currency,
		}, true, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &balance, false, nil
}

// verifyInvariant is the corruption check: a violation here is not a
// caller error, it means the ledger itself is inconsistent and the
// affected rows need operator attention.
func verifyInvariant(b *types.Balance) error {
	if b.Available.IsNegative() || b.Locked.IsNegative() {
		return fmt.Errorf("ledger invariant violated for %s/%s: available=%s locked=%s",
			b.UserID, b.Currency, b.Available, b.Locked)
	}
	if !b.Total.Equal(b.Available.Add(b.Locked)) {
		return fmt.Errorf("ledger invariant violated for %s/%s: total=%s != available+locked=%s",
			b.UserID, b.Currency, b.Total, b.Available.Add(b.Locked))
	}
	return nil
}
