package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

type InvestmentHandler struct {
	Repo repository.Repository
}

func (h *InvestmentHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/investments")
	g.GET("", h.list)
	g.GET("/:id", h.get)
}

func (h *InvestmentHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListInvestmentsParams{
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if ruleID := strings.TrimSpace(c.Query("rule_id")); ruleID != "" {
		params.RuleID = &ruleID
	}
	if poolID := strings.TrimSpace(c.Query("pool_id")); poolID != "" {
		params.PoolID = &poolID
	}
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		params.UserID = &userID
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := models.InvestmentStatus(strings.ToUpper(raw))
		params.Status = &status
	}
	items, err := h.Repo.ListInvestments(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *InvestmentHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetInvestmentByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "investment not found", nil)
		return
	}
	Ok(c, item, nil)
}
