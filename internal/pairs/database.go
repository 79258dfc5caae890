package pairs

import (
	"errors"
	"time"

	"github.com/openvenue/venue-core/internal/types"
	"gorm.io/gorm"
)

type Database struct {
	db *gorm.DB
}

func NewDatabase(db *gorm.DB) *Database {
	return &Database{db: db}
}

func (d *Database) CreatePair(pair *types.TradingPair) error {
	return d.db.Create(pair).Error
}

func (d *Database) GetPair(pairID string) (*types.TradingPair, error) {
	var pair types.TradingPair
	if err := d.db.Where("pair_id = ?", pairID).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &pair, nil
}

func (d *Database) GetPairBySymbol(symbol string) (*types.TradingPair, error) {
	var pair types.TradingPair
	if err := d.db.Where("symbol = ?", symbol).First(&pair).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &pair, nil
}

func (d *Database) ListPairs() ([]types.TradingPair, error) {
	var pairsList []types.TradingPair
	if err := d.db.Order("symbol").Find(&pairsList).Error; err != nil {
		return nil, err
	}
	return pairsList, nil
}

func (d *Database) RecentTrades(pairID string, limit int) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("pair_id = ?", pairID).
		Order("created_at DESC").
		Limit(limit).
		Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}

func (d *Database) GetCurrency(symbol string) (*types.Currency, error) {
	var currency types.Currency
	if err := d.db.Where("symbol = ?", symbol).First(&currency).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &currency, nil
}

// UpsertCurrency creates the currency or updates its mutable fields.
func (d *Database) UpsertCurrency(currency *types.Currency) (*types.Currency, error) {
	existing, err := d.GetCurrency(currency.Symbol)
	if errors.Is(err, types.ErrNotFound) {
		currency.CreatedAt = time.Now()
		if err := d.db.Create(currency).Error; err != nil {
			return nil, err
		}
		return currency, nil
	}
	if err != nil {
		return nil, err
	}

	existing.Name = currency.Name
	existing.Decimals = currency.Decimals
	existing.PriceUSD = currency.PriceUSD
	existing.IsActive = currency.IsActive
	existing.UpdatedAt = time.Now()
	if err := d.db.Save(existing).Error; err != nil {
		return nil, err
	}
	return existing, nil
}
