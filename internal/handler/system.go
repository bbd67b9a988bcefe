package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"poolpilot/internal/detector"
	"poolpilot/internal/repository"
	"poolpilot/internal/scheduler"
)

// SystemHandler exposes operational control: scheduler start/stop/status,
// per-chain detector stats and manual triggers, and aggregate statistics.
type SystemHandler struct {
	Repo      repository.Repository
	Scheduler *scheduler.Scheduler
	Detectors *detector.Set
}

func (h *SystemHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/system")
	g.GET("/status", h.status)
	g.POST("/scheduler/start", h.startScheduler)
	g.POST("/scheduler/stop", h.stopScheduler)
	g.POST("/scheduler/run-cycle", h.runCycle)
	g.GET("/detectors", h.detectorStats)
	g.POST("/detectors/:chainId/start", h.startDetector)
	g.POST("/detectors/:chainId/stop", h.stopDetector)
	g.POST("/detectors/:chainId/catchup", h.catchup)
	g.POST("/detectors/:chainId/scan-tx", h.scanTransaction)
	g.GET("/stats", h.stats)
}

func (h *SystemHandler) status(c *gin.Context) {
	if h.Scheduler == nil || h.Detectors == nil {
		Error(c, http.StatusInternalServerError, "system unavailable", nil)
		return
	}
	Ok(c, gin.H{
		"scheduler": h.Scheduler.Status(),
		"detectors": h.Detectors.StatsAll(),
	}, nil)
}

func (h *SystemHandler) startScheduler(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	h.Scheduler.Start()
	Ok(c, h.Scheduler.Status(), nil)
}

func (h *SystemHandler) stopScheduler(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	h.Scheduler.Stop()
	Ok(c, h.Scheduler.Status(), nil)
}

func (h *SystemHandler) runCycle(c *gin.Context) {
	if h.Scheduler == nil {
		Error(c, http.StatusInternalServerError, "scheduler unavailable", nil)
		return
	}
	executed, err := h.Scheduler.RunCycle(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"executed": executed}, nil)
}

func (h *SystemHandler) detectorStats(c *gin.Context) {
	if h.Detectors == nil {
		Error(c, http.StatusInternalServerError, "detectors unavailable", nil)
		return
	}
	Ok(c, h.Detectors.StatsAll(), nil)
}

func (h *SystemHandler) startDetector(c *gin.Context) {
	d, ok := h.detectorFromParam(c)
	if !ok {
		return
	}
	if err := d.Start(c.Request.Context()); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, d.Stats(), nil)
}

func (h *SystemHandler) stopDetector(c *gin.Context) {
	d, ok := h.detectorFromParam(c)
	if !ok {
		return
	}
	d.Stop()
	Ok(c, d.Stats(), nil)
}

type catchupRequest struct {
	FromBlock uint64 `json:"from_block"`
	ToBlock   uint64 `json:"to_block"`
}

func (h *SystemHandler) catchup(c *gin.Context) {
	d, ok := h.detectorFromParam(c)
	if !ok {
		return
	}
	// Body is optional; an empty one means resume from the cursor to head.
	var req catchupRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			Error(c, http.StatusBadRequest, "invalid catchup range", nil)
			return
		}
	}
	if req.ToBlock > 0 && req.ToBlock < req.FromBlock {
		Error(c, http.StatusBadRequest, "to_block is before from_block", nil)
		return
	}
	found, err := d.Catchup(c.Request.Context(), req.FromBlock, req.ToBlock)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"pools_found": found}, nil)
}

type scanTxRequest struct {
	TxHash string `json:"tx_hash"`
}

func (h *SystemHandler) scanTransaction(c *gin.Context) {
	d, ok := h.detectorFromParam(c)
	if !ok {
		return
	}
	var req scanTxRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.TxHash) == "" {
		Error(c, http.StatusBadRequest, "invalid tx_hash", nil)
		return
	}
	pool, err := d.ScanTransaction(c.Request.Context(), strings.TrimSpace(req.TxHash))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, pool, nil)
}

func (h *SystemHandler) stats(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	stats, err := h.Repo.GetInvestmentStats(c.Request.Context())
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, stats, nil)
}

func (h *SystemHandler) detectorFromParam(c *gin.Context) (*detector.Detector, bool) {
	if h.Detectors == nil {
		Error(c, http.StatusInternalServerError, "detectors unavailable", nil)
		return nil, false
	}
	chainID, err := strconv.ParseInt(c.Param("chainId"), 10, 64)
	if err != nil {
		Error(c, http.StatusBadRequest, "invalid chain id", nil)
		return nil, false
	}
	d, err := h.Detectors.Get(chainID)
	if err != nil {
		Error(c, http.StatusNotFound, err.Error(), nil)
		return nil, false
	}
	return d, true
}
