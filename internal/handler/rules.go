package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

type RuleHandler struct {
	Repo repository.Repository
}

func (h *RuleHandler) Register(r *gin.Engine) {
	g := r.Group("/api/v1/rules")
	g.GET("", h.list)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.PUT("/:id", h.update)
	g.DELETE("/:id", h.delete)
}

func (h *RuleHandler) list(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	params := repository.ListRulesParams{
		Limit:  parseIntQuery(c, "limit", 50),
		Offset: parseIntQuery(c, "offset", 0),
	}
	if userID := strings.TrimSpace(c.Query("user_id")); userID != "" {
		params.UserID = &userID
	}
	if raw := strings.TrimSpace(c.Query("active")); raw != "" {
		active, err := strconv.ParseBool(raw)
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid active", nil)
			return
		}
		params.Active = &active
	}
	items, err := h.Repo.ListRules(c.Request.Context(), params)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, items, nil)
}

func (h *RuleHandler) get(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetRuleByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "rule not found", nil)
		return
	}
	Ok(c, item, nil)
}

type ruleRequest struct {
	UserID   string `json:"user_id"`
	WalletID string `json:"wallet_id"`
	Name     string `json:"name"`
	Active   *bool  `json:"active"`

	InvestmentAmount *string `json:"investment_amount"`

	MaxBuyPrice         *string `json:"max_buy_price"`
	MinSellPrice        *string `json:"min_sell_price"`
	MaxCreatorFee       *string `json:"max_creator_fee"`
	MinPoolAgeMinutes   *int    `json:"min_pool_age_minutes"`
	MaxInvestmentPerDay *string `json:"max_investment_per_day"`

	Collections []string          `json:"collections"`
	PoolKinds   []models.PoolKind `json:"pool_kinds"`
	ChainIDs    []int64           `json:"chain_ids"`

	RequireVerifiedCreator *bool `json:"require_verified_creator"`
}

func (h *RuleHandler) create(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	req.WalletID = strings.TrimSpace(req.WalletID)
	req.Name = strings.TrimSpace(req.Name)
	if req.UserID == "" || req.WalletID == "" || req.Name == "" {
		Error(c, http.StatusBadRequest, "user_id, wallet_id and name are required", nil)
		return
	}
	if req.InvestmentAmount == nil {
		Error(c, http.StatusBadRequest, "investment_amount is required", nil)
		return
	}
	amount, err := decimal.NewFromString(strings.TrimSpace(*req.InvestmentAmount))
	if err != nil || amount.LessThanOrEqual(decimal.Zero) {
		Error(c, http.StatusBadRequest, "invalid investment_amount", nil)
		return
	}

	// The rule's wallet must belong to the rule's owner; the executor
	// trusts this reference on every trigger afterwards.
	wallet, err := h.Repo.GetWalletByID(c.Request.Context(), req.WalletID)
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if wallet == nil || wallet.UserID != req.UserID {
		Error(c, http.StatusBadRequest, "wallet does not belong to user", nil)
		return
	}

	item := &models.Rule{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		WalletID:         req.WalletID,
		Name:             req.Name,
		Active:           true,
		InvestmentAmount: amount,
		Collections:      models.StringListJSON(normalizeAddresses(req.Collections)),
		PoolKinds:        models.PoolKindListJSON(req.PoolKinds),
		ChainIDs:         models.ChainIDListJSON(req.ChainIDs),
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if req.RequireVerifiedCreator != nil {
		item.RequireVerifiedCreator = *req.RequireVerifiedCreator
	}
	if !h.applyOptionalBounds(c, item, &req) {
		return
	}

	if err := h.Repo.InsertRule(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *RuleHandler) update(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	item, err := h.Repo.GetRuleByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	if item == nil {
		Error(c, http.StatusNotFound, "rule not found", nil)
		return
	}
	var req ruleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		Error(c, http.StatusBadRequest, "invalid body", nil)
		return
	}
	if name := strings.TrimSpace(req.Name); name != "" {
		item.Name = name
	}
	if req.Active != nil {
		item.Active = *req.Active
	}
	if req.RequireVerifiedCreator != nil {
		item.RequireVerifiedCreator = *req.RequireVerifiedCreator
	}
	if req.InvestmentAmount != nil {
		amount, err := decimal.NewFromString(strings.TrimSpace(*req.InvestmentAmount))
		if err != nil || amount.LessThanOrEqual(decimal.Zero) {
			Error(c, http.StatusBadRequest, "invalid investment_amount", nil)
			return
		}
		item.InvestmentAmount = amount
	}
	if walletID := strings.TrimSpace(req.WalletID); walletID != "" && walletID != item.WalletID {
		wallet, err := h.Repo.GetWalletByID(c.Request.Context(), walletID)
		if err != nil {
			Error(c, http.StatusBadGateway, err.Error(), nil)
			return
		}
		if wallet == nil || wallet.UserID != item.UserID {
			Error(c, http.StatusBadRequest, "wallet does not belong to user", nil)
			return
		}
		item.WalletID = walletID
	}
	if req.Collections != nil {
		item.Collections = models.StringListJSON(normalizeAddresses(req.Collections))
	}
	if req.PoolKinds != nil {
		item.PoolKinds = models.PoolKindListJSON(req.PoolKinds)
	}
	if req.ChainIDs != nil {
		item.ChainIDs = models.ChainIDListJSON(req.ChainIDs)
	}
	if !h.applyOptionalBounds(c, item, &req) {
		return
	}

	if err := h.Repo.UpdateRule(c.Request.Context(), item); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, item, nil)
}

func (h *RuleHandler) delete(c *gin.Context) {
	if h.Repo == nil {
		Error(c, http.StatusInternalServerError, "repo unavailable", nil)
		return
	}
	if err := h.Repo.DeleteRule(c.Request.Context(), c.Param("id")); err != nil {
		Error(c, http.StatusBadGateway, err.Error(), nil)
		return
	}
	Ok(c, gin.H{"deleted": true}, nil)
}

// applyOptionalBounds parses the optional decimal bounds shared by create
// and update. Returns false after writing an error response.
func (h *RuleHandler) applyOptionalBounds(c *gin.Context, item *models.Rule, req *ruleRequest) bool {
	set := func(field **decimal.Decimal, raw *string, name string) bool {
		if raw == nil {
			return true
		}
		v, err := decimal.NewFromString(strings.TrimSpace(*raw))
		if err != nil {
			Error(c, http.StatusBadRequest, "invalid "+name, nil)
			return false
		}
		*field = &v
		return true
	}
	if !set(&item.MaxBuyPrice, req.MaxBuyPrice, "max_buy_price") {
		return false
	}
	if !set(&item.MinSellPrice, req.MinSellPrice, "min_sell_price") {
		return false
	}
	if !set(&item.MaxCreatorFee, req.MaxCreatorFee, "max_creator_fee") {
		return false
	}
	if !set(&item.MaxInvestmentPerDay, req.MaxInvestmentPerDay, "max_investment_per_day") {
		return false
	}
	if req.MinPoolAgeMinutes != nil {
		if *req.MinPoolAgeMinutes < 0 {
			Error(c, http.StatusBadRequest, "invalid min_pool_age_minutes", nil)
			return false
		}
		item.MinPoolAgeMinutes = req.MinPoolAgeMinutes
	}
	return true
}

func normalizeAddresses(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseIntQuery(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
