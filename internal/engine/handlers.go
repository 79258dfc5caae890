package engine

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openvenue/venue-core/internal/types"
	"github.com/openvenue/venue-core/pkg/response"
	"github.com/shopspring/decimal"
)

// GinHandlers contains HTTP handlers for order endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

type placeOrderRequest struct {
	PairID      string            `json:"pair_id" binding:"required"`
	Side        types.Side        `json:"side" binding:"required"`
	Amount      decimal.Decimal   `json:"amount"`
	Price       decimal.Decimal   `json:"price"`
	TimeInForce types.TimeInForce `json:"time_in_force"`
	ExpiresAt   *time.Time        `json:"expires_at"`
}

// PlaceLimitOrderHandler handles POST requests placing limit orders
func (h *GinHandlers) PlaceLimitOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.PlaceLimitOrder(userID, req.PairID, req.Side, req.Price, req.Amount, req.TimeInForce, req.ExpiresAt)
		response.Handle(c, order, err)
	}
}

// PlaceMarketOrderHandler handles POST requests placing market orders
func (h *GinHandlers) PlaceMarketOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		var req placeOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}

		order, err := h.service.PlaceMarketOrder(userID, req.PairID, req.Side, req.Amount)
		response.Handle(c, order, err)
	}
}

// CancelOrderHandler handles DELETE requests cancelling resting orders
func (h *GinHandlers) CancelOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		order, err := h.service.CancelOrder(c.Param("order_id"), userID)
		response.Handle(c, order, err)
	}
}

// GetOrderHandler handles GET requests for one order with its trades
func (h *GinHandlers) GetOrderHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		order, trades, err := h.service.GetOrder(c.Param("order_id"), userID)
		if err != nil {
			response.Handle(c, nil, err)
			return
		}

		response.Success(c, gin.H{
			"order":  order,
			"trades": trades,
		})
	}
}

// GetOpenOrdersHandler handles GET requests for the caller's resting orders
func (h *GinHandlers) GetOpenOrdersHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString("userID")
		if userID == "" {
			response.Unauthorized(c, "Missing user identity")
			return
		}

		orders, err := h.service.GetOpenOrders(userID)
		response.Handle(c, orders, err)
	}
}
