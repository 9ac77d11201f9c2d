package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"flippredict/internal/models"
	"flippredict/internal/service"
)

type OrderBookHandler struct {
	Books *service.OrderBookService
	Depth int
}

func (h *OrderBookHandler) Register(r *gin.Engine) {
	g := r.Group("/api/orderbook")
	g.GET("/:marketId", h.snapshot)
	g.GET("/:marketId/open", h.openOrders)
}

func (h *OrderBookHandler) snapshot(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	if marketID == "" {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	side := strings.TrimSpace(c.DefaultQuery("side", models.SideYes))
	depth := intQuery(c, "depth", h.Depth)
	snap, err := h.Books.Snapshot(marketID, side, depth)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, snap, nil)
}

func (h *OrderBookHandler) openOrders(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	if marketID == "" {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	orders, err := h.Books.ListOrders(c.Request.Context(), marketID)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, orders, nil)
}
