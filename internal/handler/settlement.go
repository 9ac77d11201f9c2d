package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"flippredict/internal/service"
)

type SettlementHandler struct {
	Keeper     *service.ResolutionKeeper
	Settlement *service.SettlementEngine
}

func (h *SettlementHandler) Register(r *gin.Engine) {
	g := r.Group("/api/settlement")
	g.GET("/:marketId/preview", h.preview)
	g.GET("/:marketId/proof", h.proof)
	g.GET("/:marketId/logs", h.logs)
	g.POST("/:marketId/resolve", h.resolve)
	g.POST("/run", h.runKeeper)
}

func (h *SettlementHandler) proof(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	if marketID == "" {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	proof, err := h.Settlement.Proof(c.Request.Context(), marketID)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, proof, nil)
}

func (h *SettlementHandler) preview(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	outcome := strings.TrimSpace(c.Query("outcome"))
	if marketID == "" || outcome == "" {
		Error(c, http.StatusBadRequest, "market id and outcome required", nil)
		return
	}
	summary, err := h.Settlement.Preview(c.Request.Context(), marketID, outcome)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, summary, nil)
}

func (h *SettlementHandler) logs(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	if marketID == "" {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	logs, err := h.Settlement.Repo.ListSettlementLogs(c.Request.Context(), marketID)
	if err != nil {
		fail(c, err)
		return
	}
	Ok(c, logs, nil)
}

type resolveRequest struct {
	Outcome    string `json:"outcome" binding:"required"`
	ResolvedBy string `json:"resolvedBy" binding:"required"`
}

func (h *SettlementHandler) resolve(c *gin.Context) {
	marketID := strings.TrimSpace(c.Param("marketId"))
	if marketID == "" {
		Error(c, http.StatusBadRequest, "invalid market id", nil)
		return
	}
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := h.Keeper.ResolveManual(c.Request.Context(), marketID, req.Outcome, req.ResolvedBy); err != nil {
		fail(c, err)
		return
	}
	Ok(c, gin.H{"marketId": marketID, "outcome": req.Outcome}, nil)
}

// runKeeper triggers one keeper cycle on demand, next to the scheduled
// ones. Useful for ops and for tests against a live stack.
func (h *SettlementHandler) runKeeper(c *gin.Context) {
	results, err := h.Keeper.RunOnce(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(results))
	for _, r := range results {
		item := gin.H{"marketId": r.MarketID, "outcome": r.Outcome}
		if r.Err != nil {
			item["error"] = r.Err.Error()
		}
		out = append(out, item)
	}
	Ok(c, out, map[string]any{"claimed": len(results)})
}
