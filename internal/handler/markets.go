package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"flippredict/internal/repository"
	"flippredict/internal/service"
)

type MarketHandler struct {
	Markets *service.MarketService
}

func (h *MarketHandler) Register(r *gin.Engine) {
	g := r.Group("/api/markets")
	g.GET("", h.list)
	g.POST("", h.create)
	g.POST("/multi", h.createMulti)
	g.GET("/:id", h.get)
	g.GET("/:id/prices", h.prices)
}

func (h *MarketHandler) list(c *gin.Context) {
	if h.Markets == nil {
		Error(c, http.StatusInternalServerError, "service unavailable", nil)
		return
	}
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)
	var status *string
	if v := strings.TrimSpace(c.Query("status")); v != "" {
		status = &v
	}
	var category *string
	if v := strings.TrimSpace(c.Query("category")); v != "" {
		category = &v
	}
	params := repository.ListMarketsParams{
		Limit:    limit,
		Offset:   offset,
		Status:   status,
		Category: category,
		OrderBy:  "created_at",
		Asc:      boolPtr(false),
	}
	items, total, err := h.Markets.ListMarkets(c.Request.Context(), params)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, items, paginationMeta(limit, offset, total))
}

type createMarketRequest struct {
	ID               string          `json:"id"`
	Title            string          `json:"title" binding:"required"`
	Category         string          `json:"category"`
	EndTime          time.Time       `json:"endTime" binding:"required"`
	InitialLiquidity decimal.Decimal `json:"initialLiquidity" binding:"required"`

	ResolutionType string           `json:"resolutionType"`
	OraclePair     string           `json:"oraclePair"`
	TokenAddress   string           `json:"tokenAddress"`
	TargetPrice    *decimal.Decimal `json:"targetPrice"`
}

func (h *MarketHandler) create(c *gin.Context) {
	var req createMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	market, err := h.Markets.CreateBinaryMarket(c.Request.Context(), service.CreateMarketParams{
		ID:               req.ID,
		Title:            req.Title,
		Category:         req.Category,
		EndTime:          req.EndTime,
		InitialLiquidity: req.InitialLiquidity,
		ResolutionType:   req.ResolutionType,
		OraclePair:       req.OraclePair,
		TokenAddress:     req.TokenAddress,
		TargetPrice:      req.TargetPrice,
	})
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, market, nil)
}

type createMultiMarketRequest struct {
	ID       string          `json:"id"`
	Title    string          `json:"title" binding:"required"`
	Category string          `json:"category"`
	EndTime  time.Time       `json:"endTime" binding:"required"`
	B        decimal.Decimal `json:"b" binding:"required"`
	Options  []struct {
		Key   string `json:"key" binding:"required"`
		Label string `json:"label"`
	} `json:"options" binding:"required"`
}

func (h *MarketHandler) createMulti(c *gin.Context) {
	var req createMultiMarketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	options := make([]service.OptionParams, 0, len(req.Options))
	for _, o := range req.Options {
		options = append(options, service.OptionParams{Key: o.Key, Label: o.Label})
	}
	market, err := h.Markets.CreateMultiMarket(c.Request.Context(), service.CreateMultiMarketParams{
		ID:       req.ID,
		Title:    req.Title,
		Category: req.Category,
		EndTime:  req.EndTime,
		B:        req.B,
		Options:  options,
	})
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, market, nil)
}

func (h *MarketHandler) get(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	detail, err := h.Markets.GetMarket(c.Request.Context(), id)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, detail, nil)
}

func (h *MarketHandler) prices(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		Error(c, http.StatusBadRequest, "invalid id", nil)
		return
	}
	limit := intQuery(c, "limit", 200)
	points, err := h.Markets.PriceHistory(c.Request.Context(), id, limit)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, points, nil)
}
