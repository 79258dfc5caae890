package ledger

import (
	"github.com/gin-gonic/gin"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/openvenue/venue-core/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Service exposes the ledger to transport and administrative callers.
// The engine and settlement bypass it and use the transaction-scoped
// primitives directly.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Deposit credits external funds into a user's available balance. This
// is the only path through which the aggregate total of a currency may
// grow.
func (s *Service) Deposit(userID, currency string, amount decimal.Decimal) (*types.Balance, error) {
	if !amount.IsPositive() {
		return nil, types.ErrInvalidAmount
	}

	var balance *types.Balance
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var txErr error
		balance, txErr = Credit(tx, userID, currency, amount)
		return txErr
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("user_id", userID).
		Str("currency", currency).
		Str("amount", amount.String()).
		Msg("deposit credited")

	return balance, nil
}

// GetBalances returns all balance rows for a user.
func (s *Service) GetBalances(userID string) ([]types.Balance, error) {
	var balances []types.Balance
	if err := s.db.Where("user_id = ?", userID).Order("currency").Find(&balances).Error; err != nil {
		return nil, err
	}
	return balances, nil
}

// GetBalance returns one user's balance in one currency. A missing row
// reads as an all-zero balance, matching lazy creation on first credit.
func (s *Service) GetBalance(userID, currency string) (*types.Balance, error) {
	var balance types.Balance
	err := s.db.Where("user_id = ? AND currency = ?", userID, currency).First(&balance).Error
	if err == gorm.ErrRecordNotFound {
		return &types.Balance{
			UserID:    userID,
			Currency:  currency,
			Available: decimal.Zero,
			Locked:    decimal.Zero,
			Total:     decimal.Zero,
		}, nil
	}
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// GinHandlers contains HTTP handlers for balance endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetBalancesHandler handles GET requests for the caller's balances
func (h *GinHandlers) GetBalancesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		balances, err := h.service.GetBalances(userID)
		response.Handle(c, balances, err)
	}
}

// DepositHandler handles POST requests crediting external deposits.
// Internal-only: wallet custody confirms the funds upstream.
func (h *GinHandlers) DepositHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			UserID   string          `json:"user_id" binding:"required"`
			Currency string          `json:"currency" binding:"required"`
			Amount   decimal.Decimal `json:"amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		balance, err := h.service.Deposit(req.UserID, req.Currency, req.Amount)
		response.Handle(c, balance, err)
	}
}
