package orderbook

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/openvenue/venue-core/pkg/response"
)

// GinHandlers contains HTTP handlers for order book endpoints
type GinHandlers struct {
	service *Service
}

func NewGinHandlers(service *Service) *GinHandlers {
	return &GinHandlers{service: service}
}

// GetBookHandler handles GET requests for the full book snapshot
func (h *GinHandlers) GetBookHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		book, err := h.service.Snapshot(c.Param("pair_id"))
		response.Handle(c, book, err)
	}
}

// GetDepthHandler handles GET requests for the aggregated depth view
func (h *GinHandlers) GetDepthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		levels, _ := strconv.Atoi(c.DefaultQuery("levels", "20"))

		depth, err := h.service.Depth(c.Param("pair_id"), levels)
		response.Handle(c, depth, err)
	}
}

// GetSpreadHandler handles GET requests for best bid/ask and spread
func (h *GinHandlers) GetSpreadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		spread, err := h.service.Spread(c.Param("pair_id"))
		response.Handle(c, spread, err)
	}
}
