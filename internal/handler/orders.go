package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"flippredict/internal/repository"
	"flippredict/internal/service"
)

type OrderHandler struct {
	Trades *service.TradeService
	Books  *service.OrderBookService
	Repo   repository.Repository
}

func (h *OrderHandler) Register(r *gin.Engine) {
	g := r.Group("/api/orders")
	g.GET("", h.list)
	g.POST("", h.buy)
	g.POST("/sell", h.sell)
	g.POST("/option", h.buyOption)
	g.POST("/limit", h.placeLimit)
	g.POST("/limit/:id/cancel", h.cancelLimit)

	l := r.Group("/api/liquidity")
	l.POST("", h.addLiquidity)
	l.POST("/remove", h.removeLiquidity)
}

type buyRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

func (h *OrderHandler) buy(c *gin.Context) {
	var req buyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Trades.ExecuteBuy(c.Request.Context(), req.UserAddress, req.MarketID, req.Side, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, result, nil)
}

type sellRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Shares      decimal.Decimal `json:"shares" binding:"required"`
}

func (h *OrderHandler) sell(c *gin.Context) {
	var req sellRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Trades.ExecuteSell(c.Request.Context(), req.UserAddress, req.MarketID, req.Side, req.Shares)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, result, nil)
}

type buyOptionRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	OptionKey   string          `json:"optionKey" binding:"required"`
	Shares      decimal.Decimal `json:"shares" binding:"required"`
}

func (h *OrderHandler) buyOption(c *gin.Context) {
	var req buyOptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Trades.ExecuteBuyOption(c.Request.Context(), req.UserAddress, req.MarketID, req.OptionKey, req.Shares)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, result, nil)
}

type placeLimitRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	Side        string          `json:"side" binding:"required"`
	Kind        string          `json:"kind" binding:"required"`
	Price       decimal.Decimal `json:"price" binding:"required"`
	Size        decimal.Decimal `json:"size" binding:"required"`
}

func (h *OrderHandler) placeLimit(c *gin.Context) {
	var req placeLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	result, err := h.Books.PlaceLimit(c.Request.Context(), req.UserAddress, req.MarketID, req.Side, req.Kind, req.Price, req.Size)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, result, nil)
}

func (h *OrderHandler) cancelLimit(c *gin.Context) {
	id := uint64QueryParam(c, "id")
	if id == 0 {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	user := strings.TrimSpace(c.Query("user"))
	if user == "" {
		Error(c, http.StatusBadRequest, "user required", nil)
		return
	}
	if err := h.Books.Cancel(c.Request.Context(), user, id); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"cancelled": id}, nil)
}

func (h *OrderHandler) list(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var user *string
	if v := strings.TrimSpace(c.Query("user")); v != "" {
		user = &v
	}
	var marketID *string
	if v := strings.TrimSpace(c.Query("market_id")); v != "" {
		marketID = &v
	}
	items, err := h.Repo.ListTradeOrders(c.Request.Context(), repository.ListTradeOrdersParams{
		Limit:       limit,
		Offset:      offset,
		UserAddress: user,
		MarketID:    marketID,
	})
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, nil)
}

type liquidityRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

func (h *OrderHandler) addLiquidity(c *gin.Context) {
	var req liquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Trades.AddLiquidity(c.Request.Context(), req.UserAddress, req.MarketID, req.Amount); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"status": "added"}, nil)
}

type removeLiquidityRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	MarketID    string          `json:"marketId" binding:"required"`
	LPShares    decimal.Decimal `json:"lpShares" binding:"required"`
}

func (h *OrderHandler) removeLiquidity(c *gin.Context) {
	var req removeLiquidityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Trades.RemoveLiquidity(c.Request.Context(), req.UserAddress, req.MarketID, req.LPShares); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"status": "removed"}, nil)
}
