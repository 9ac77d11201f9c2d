package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"flippredict/internal/service"
)

type AccountHandler struct {
	Accounts *service.AccountService
}

func (h *AccountHandler) Register(r *gin.Engine) {
	r.POST("/api/accounts/deposit", h.deposit)
	r.GET("/api/balances/:user", h.balance)
	r.GET("/api/positions/:user", h.positions)
	r.GET("/api/settlements/:user", h.settlements)
}

type depositRequest struct {
	UserAddress string          `json:"userAddress" binding:"required"`
	Amount      decimal.Decimal `json:"amount" binding:"required"`
}

func (h *AccountHandler) deposit(c *gin.Context) {
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	balance, err := h.Accounts.Deposit(c.Request.Context(), req.UserAddress, req.Amount)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, balance, nil)
}

func (h *AccountHandler) balance(c *gin.Context) {
	user := strings.TrimSpace(c.Param("user"))
	if user == "" {
		Error(c, http.StatusBadRequest, "user required", nil)
		return
	}
	balance, err := h.Accounts.GetBalance(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, balance, nil)
}

func (h *AccountHandler) positions(c *gin.Context) {
	user := strings.TrimSpace(c.Param("user"))
	if user == "" {
		Error(c, http.StatusBadRequest, "user required", nil)
		return
	}
	positions, err := h.Accounts.ListPositions(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, positions, nil)
}

func (h *AccountHandler) settlements(c *gin.Context) {
	user := strings.TrimSpace(c.Param("user"))
	if user == "" {
		Error(c, http.StatusBadRequest, "user required", nil)
		return
	}
	logs, err := h.Accounts.ListSettlements(c.Request.Context(), user)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, logs, nil)
}
