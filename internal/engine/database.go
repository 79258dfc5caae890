package engine

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

func (d *Database) CreateOrder(tx *gorm.DB, order *types.Order) error {
	if tx == nil {
		tx = d.db
	}
	return tx.Create(order).Error
}

func (d *Database) GetOrder(orderID string) (*types.Order, error) {
	var order types.Order
	if err := d.db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOrderForUpdate(tx *gorm.DB, orderID string) (*types.Order, error) {
	var order types.Order
	if err := tx.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (d *Database) GetOpenOrders(userID string) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("user_id = ? AND status IN ?",
		userID, []types.OrderStatus{types.OrderStatusOpen, types.OrderStatusPartiallyFilled}).
		Order("created_at DESC").
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
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

// GetDueOrders returns resting orders whose expiry has passed.
func (d *Database) GetDueOrders(now time.Time) ([]types.Order, error) {
	var orders []types.Order
	err := d.db.Where("status IN ? AND expires_at IS NOT NULL AND expires_at <= ?",
		[]types.OrderStatus{types.OrderStatusOpen, types.OrderStatusPartiallyFilled}, now).
		Find(&orders).Error
	if err != nil {
		return nil, err
	}
	return orders, nil
}

func (d *Database) GetOrderTrades(orderID string) ([]types.Trade, error) {
	var trades []types.Trade
	if err := d.db.Where("order_id = ?", orderID).Order("created_at ASC").Find(&trades).Error; err != nil {
		return nil, err
	}
	return trades, nil
}
