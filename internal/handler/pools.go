package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"poolpilot/internal/matcher"
	"poolpilot/internal/models"
	"poolpilot/internal/repository"
	"poolpilot/internal/scheduler"
)

// PoolHandler serves the discovered pool catalog, the read-only matching
// diagnostics, and the process-now manual trigger.
type PoolHandler struct {
	Repo     repository.Repository
	Matcher  *matcher.Matcher
	Executor scheduler.InvestmentExecutor
}

func (h *PoolHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/pools")
	g.GET("", h.list)
	g.GET("/:id", h.get)
	g.GET("/:id/matches", h.matches)
	g.GET("/:id/evaluate/:ruleId", h.evaluate)
	g.POST("/:id/process", h.process)
}

func (h *PoolHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListPoolsParams{
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if raw := strings.TrimSpace(c.Query("chain_id")); raw != "" {
		chainID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid chain_id", nil)
			return
		}
		params.ChainID = &chainID
	}
	if raw := strings.TrimSpace(c.Query("status")); raw != "" {
		status := models.PoolStatus(strings.ToUpper(raw))
		params.Status = &status
	}
	items, err := h.Repo.ListPools(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *PoolHandler) get(c *gin.Context) {
	pool, ok := h.loadPool(c)
	if !ok {
		return
	}
	Ok(c, pool, nil)
}

// matches lists every active rule that would currently invest in the pool,
// best score first. Read-only: nothing is executed.
func (h *PoolHandler) matches(c *gin.Context) {
	if h.Matcher == nil {
		Error(c, http.StatusInternalServerError, "matcher unavailable", nil)
		return
	}
	pool, ok := h.loadPool(c)
	if !ok {
		return
	}
	matches, err := h.Matcher.FindMatches(c.Request.Context(), pool)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	out := make([]gin.H, 0, len(matches))
	for _, m := range matches {
		out = append(out, gin.H{
			"rule_id": m.Rule.ID,
			"score":   m.Score,
			"reasons": m.Reasons,
		})
	}
	Ok(c, out, nil)
}

func (h *PoolHandler) evaluate(c *gin.Context) {
	if h.Matcher == nil || h.Repo == nil {
		Error(c, http.StatusInternalServerError, "matcher unavailable", nil)
		return
	}
	pool, ok := h.loadPool(c)
	if !ok {
		return
	}
	rule, err := h.Repo.GetRuleByID(c.Request.Context(), c.Param("ruleId"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if rule == nil {
		Error(c, http.StatusNotFound, "rule not found", nil)
		return
	}
	match, err := h.Matcher.Evaluate(c.Request.Context(), rule, pool)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if match == nil {
		Ok(c, gin.H{"match": false}, nil)
		return
	}
	Ok(c, gin.H{"match": true, "score": match.Score, "reasons": match.Reasons}, nil)
}

// process runs one pool through every active rule immediately, outside the
// scheduler's cycle. The executor's duplicate handling keeps this safe to
// call repeatedly.
func (h *PoolHandler) process(c *gin.Context) {
	if h.Matcher == nil || h.Executor == nil {
		Error(c, http.StatusInternalServerError, "executor unavailable", nil)
		return
	}
	pool, ok := h.loadPool(c)
	if !ok {
		return
	}
	matches, err := h.Matcher.FindMatches(c.Request.Context(), pool)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	executed := 0
	var failures []string
	for _, m := range matches {
		investment, err := h.Executor.Execute(c.Request.Context(), m)
		if err != nil {
			failures = append(failures, m.Rule.ID+": "+err.Error())
			continue
		}
		if investment != nil && investment.Status == models.InvestmentStatusCompleted {
			executed++
		}
	}
	Ok(c, gin.H{
		"matches":  len(matches),
		"executed": executed,
		"failures": failures,
	}, nil)
}

func (h *PoolHandler) loadPool(c *gin.Context) (*models.Pool, bool) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return nil, false
	}
	pool, err := h.Repo.GetPoolByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return nil, false
	}
	if pool == nil {
		Error(c, http.StatusNotFound, "pool not found", nil)
		return nil, false
	}
	return pool, true
}
