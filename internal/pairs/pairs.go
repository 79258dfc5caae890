package pairs

import (
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/openvenue/venue-core/pkg/response"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// maxFee bounds maker and taker fees at 10%.
var maxFee = decimal.NewFromFloat(0.1)

// Service manages trading-pair and currency reference data. Pair
// statistics are mutated by settlement; everything else here is
// administrative configuration.
type Service struct {
	db *Database
}

func NewService(gormDB *gorm.DB) *Service {
	return &Service{
		db: NewDatabase(gormDB),
	}
}

// CreatePairRequest carries the administrative parameters of a new market.
type CreatePairRequest struct {
	BaseCurrency   string          `json:"base_currency" binding:"required"`
	QuoteCurrency  string          `json:"quote_currency" binding:"required"`
	MinTradeAmount decimal.Decimal `json:"min_trade_amount"`
	MaxTradeAmount decimal.Decimal `json:"max_trade_amount"`
	MakerFee       decimal.Decimal `json:"maker_fee"`
	TakerFee       decimal.Decimal `json:"taker_fee"`
}

// CreatePair registers a new market after validating its configuration.
func (s *Service) CreatePair(req CreatePairRequest) (*types.TradingPair, error) {
	base := strings.ToUpper(strings.TrimSpace(req.BaseCurrency))
	quote := strings.ToUpper(strings.TrimSpace(req.QuoteCurrency))

	if base == "" || quote == "" || base == quote {
		return nil, types.NewValidationError("base and quote currencies must differ")
	}
	if err := validateFee("maker_fee", req.MakerFee); err != nil {
		return nil, err
	}
	if err := validateFee("taker_fee", req.TakerFee); err != nil {
		return nil, err
	}
	if req.MinTradeAmount.IsNegative() || req.MaxTradeAmount.IsNegative() {
		return nil, types.NewValidationError("trade size bounds must be non-negative")
	}
	if req.MaxTradeAmount.IsPositive() && req.MinTradeAmount.GreaterThan(req.MaxTradeAmount) {
		return nil, types.NewValidationError("min_trade_amount exceeds max_trade_amount")
	}

	for _, symbol := range []string{base, quote} {
		currency, err := s.db.GetCurrency(symbol)
		if err != nil {
			return nil, fmt.Errorf("unknown currency %s: %w", symbol, types.ErrNotFound)
		}
		if !currency.IsActive {
			return nil, types.NewValidationError("currency %s is not active", symbol)
		}
	}

	pair := &types.TradingPair{
		PairID:         "PAIR_" + uuid.New().String(),
		Symbol:         base + "/" + quote,
		BaseCurrency:   base,
		QuoteCurrency:  quote,
		IsActive:       true,
		MinTradeAmount: req.MinTradeAmount,
		MaxTradeAmount: req.MaxTradeAmount,
		MakerFee:       req.MakerFee,
		TakerFee:       req.TakerFee,
		CreatedAt:      time.Now(),
		UpdatedAt:      time.Now(),
	}

	if err := s.db.CreatePair(pair); err != nil {
		return nil, err
	}

	log.Info().
		Str("pair_id", pair.PairID).
		Str("symbol", pair.Symbol).
		Str("maker_fee", pair.MakerFee.String()).
		Str("taker_fee", pair.TakerFee.String()).
		Msg("trading pair created")

	return pair, nil
}

func validateFee(name string, fee decimal.Decimal) error {
	if fee.IsNegative() || fee.GreaterThan(maxFee) {
		return types.NewValidationError("%s must be between 0 and 0.1", name)
	}
	return nil
}

// GetPair retrieves a pair by ID.
func (s *Service) GetPair(pairID string) (*types.TradingPair, error) {
	return s.db.GetPair(pairID)
}

// ListPairs returns all configured pairs.
func (s *Service) ListPairs() ([]types.TradingPair, error) {
	return s.db.ListPairs()
}

// RecentTrades returns the latest trades for a pair, newest first.
func (s *Service) RecentTrades(pairID string, limit int) ([]types.Trade, error) {
	if _, err := s.db.GetPair(pairID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.db.RecentTrades(pairID, limit)
}

// UpsertCurrency creates or updates currency reference data. The USD
// price comes from the external price feed and is display-only.
func (s *Service) UpsertCurrency(symbol, name string, decimals int, priceUSD decimal.Decimal, active bool) (*types.Currency, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, types.NewValidationError("currency symbol is required")
	}
	if decimals < 0 || decimals > 18 {
		return nil, types.NewValidationError("decimals must be between 0 and 18")
	}
	if priceUSD.IsNegative() {
		return nil, types.NewValidationError("price_usd must be non-negative")
	}

	return s.db.UpsertCurrency(&types.Currency{
		Symbol:    symbol,
		Name:      name,
		Decimals:  decimals,
		PriceUSD:  priceUSD,
		IsActive:  active,
		UpdatedAt: time.Now(),
	})
}

// GinHandlers contains HTTP handlers for pair and currency endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// ListPairsHandler handles GET requests listing all pairs
func (h *GinHandlers) ListPairsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pairsList, err := h.service.ListPairs()
		response.Handle(c, pairsList, err)
	}
}

// GetPairHandler handles GET requests for one pair's metadata and stats
func (h *GinHandlers) GetPairHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		pair, err := h.service.GetPair(c.Param("pair_id"))
		response.Handle(c, pair, err)
	}
}

// RecentTradesHandler handles GET requests for a pair's recent trades
func (h *GinHandlers) RecentTradesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			fmt.Sscanf(raw, "%d", &limit)
		}

		trades, err := h.service.RecentTrades(c.Param("pair_id"), limit)
		response.Handle(c, trades, err)
	}
}

// CreatePairHandler handles POST requests creating new pairs (internal)
func (h *GinHandlers) CreatePairHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreatePairRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		pair, err := h.service.CreatePair(req)
		response.Handle(c, pair, err)
	}
}

// UpsertCurrencyHandler handles POST requests for currency reference data (internal)
func (h *GinHandlers) UpsertCurrencyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Symbol   string          `json:"symbol" binding:"required"`
			Name     string          `json:"name"`
			Decimals int             `json:"decimals"`
			PriceUSD decimal.Decimal `json:"price_usd"`
			IsActive *bool           `json:"is_active"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		active := true
		if req.IsActive != nil {
			active = *req.IsActive
		}

		currency, err := h.service.UpsertCurrency(req.Symbol, req.Name, req.Decimals, req.PriceUSD, active)
		response.Handle(c, currency, err)
	}
}
