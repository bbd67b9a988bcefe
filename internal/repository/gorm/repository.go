package gormrepository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- pools ------------------------------------------------------------------

func (s *Store) InsertPoolIfAbsent(ctx context.Context, item *models.Pool) (bool, error) {
	if s == nil || s.db == nil || item == nil {
		return false, nil
	}
	item.Address = strings.ToLower(strings.TrimSpace(item.Address))
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "chain_id"}, {Name: "address"}},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) GetPoolByID(ctx context.Context, id string) (*models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Pool
	err := s.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetPoolByAddress(ctx context.Context, chainID int64, address string) (*models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return nil, nil
	}
	var item models.Pool
	err := s.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("chain_id = ? AND address = ?", chainID, address).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPools(ctx context.Context, params repository.ListPoolsParams) ([]models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Pool{})
	if params.ChainID != nil {
		query = query.Where("chain_id = ?", *params.ChainID)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.CreatedSince != nil && !params.CreatedSince.IsZero() {
		query = query.Where("created_at >= ?", *params.CreatedSince)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Pool
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListOpenPoolsSince(ctx context.Context, since time.Time, limit int) ([]models.Pool, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 200)
	var items []models.Pool
	err := s.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("status = ?", models.PoolStatusFunding).
		Where("created_at >= ?", since).
		Order("created_at desc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePoolOnchainState(ctx context.Context, item *models.Pool) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("id = ?", item.ID).
		Updates(map[string]any{
			"buy_price_wei":      item.BuyPriceWei,
			"sell_price_wei":     item.SellPriceWei,
			"creator_fee_pct":    item.CreatorFeePct,
			"total_contribution": item.TotalContribution,
			"status":             item.Status,
		}).Error
}

func (s *Store) IncrementPoolContributionTx(ctx context.Context, tx *gorm.DB, poolID string, amount decimal.Decimal) error {
	db := s.txOrDB(tx)
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).
		Model(&models.Pool{}).
		Where("id = ?", poolID).
		Update("total_contribution", gorm.Expr("total_contribution + ?", amount)).Error
}

// --- rules ------------------------------------------------------------------

func (s *Store) InsertRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) GetRuleByID(ctx context.Context, id string) (*models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Rule
	err := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListRules(ctx context.Context, params repository.ListRulesParams) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Rule{})
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Active != nil {
		query = query.Where("active = ?", *params.Active)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Rule
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) ListActiveRules(ctx context.Context) ([]models.Rule, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var items []models.Rule
	err := s.db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("active = ?", true).
		Order("created_at asc").
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateRule(ctx context.Context, item *models.Rule) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Save(item).Error
}

func (s *Store) DeleteRule(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil
	}
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Rule{}).Error
}

func (s *Store) ApplyRuleTriggerTx(ctx context.Context, tx *gorm.DB, ruleID string, amount decimal.Decimal, at time.Time) error {
	db := s.txOrDB(tx)
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).
		Model(&models.Rule{}).
		Where("id = ?", ruleID).
		Updates(map[string]any{
			"total_invested":    gorm.Expr("total_invested + ?", amount),
			"total_investments": gorm.Expr("total_investments + 1"),
			"last_triggered":    at,
		}).Error
}

// --- investments ------------------------------------------------------------

func (s *Store) InsertInvestment(ctx context.Context, item *models.Investment) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	err := s.db.WithContext(ctx).Create(item).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return repository.ErrDuplicateInvestment
	}
	return err
}

func (s *Store) GetInvestmentByID(ctx context.Context, id string) (*models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Investment
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) GetInvestmentByRulePool(ctx context.Context, ruleID, poolID string) (*models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.Investment
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("rule_id = ? AND pool_id = ?", ruleID, poolID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListInvestments(ctx context.Context, params repository.ListInvestmentsParams) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.db.WithContext(ctx).Model(&models.Investment{})
	if params.RuleID != nil && strings.TrimSpace(*params.RuleID) != "" {
		query = query.Where("rule_id = ?", strings.TrimSpace(*params.RuleID))
	}
	if params.PoolID != nil && strings.TrimSpace(*params.PoolID) != "" {
		query = query.Where("pool_id = ?", strings.TrimSpace(*params.PoolID))
	}
	if params.UserID != nil && strings.TrimSpace(*params.UserID) != "" {
		query = query.Where("user_id = ?", strings.TrimSpace(*params.UserID))
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.Investment
	if err := query.Order("created_at desc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ?", id).
		Update("status", status).Error
}

func (s *Store) MarkInvestmentCompletedTx(ctx context.Context, tx *gorm.DB, id string, txHash string, at time.Time) error {
	db := s.txOrDB(tx)
	if db == nil {
		return nil
	}
	return db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":      models.InvestmentStatusCompleted,
			"tx_hash":     txHash,
			"executed_at": at,
		}).Error
}

func (s *Store) MarkInvestmentFailed(ctx context.Context, id string) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("id = ?", id).
		Update("status", models.InvestmentStatusFailed).Error
}

func (s *Store) SumInvestmentAmountSince(ctx context.Context, ruleID string, since time.Time, statuses []models.InvestmentStatus) (decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return decimal.Zero, nil
	}
	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Select("SUM(amount)").
		Where("rule_id = ?", ruleID).
		Where("created_at >= ?", since).
		Where("status IN ?", statuses).
		Scan(&raw).Error
	if err != nil {
		return decimal.Zero, err
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(*raw)
}

func (s *Store) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Investment, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 100)
	var items []models.Investment
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Where("status = ?", models.InvestmentStatusProcessing).
		Where("updated_at < ?", before).
		Order("updated_at asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) GetInvestmentStats(ctx context.Context) (*repository.InvestmentStats, error) {
	if s == nil || s.db == nil {
		return &repository.InvestmentStats{TotalInvested: decimal.Zero}, nil
	}
	stats := &repository.InvestmentStats{TotalInvested: decimal.Zero}

	if err := s.db.WithContext(ctx).Model(&models.Rule{}).
		Where("active = ?", true).Count(&stats.ActiveRules).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Investment{}).
		Count(&stats.Total).Error; err != nil {
		return nil, err
	}
	counts := map[models.InvestmentStatus]*int64{
		models.InvestmentStatusPending:    &stats.Pending,
		models.InvestmentStatusProcessing: &stats.Processing,
		models.InvestmentStatusCompleted:  &stats.Completed,
		models.InvestmentStatusFailed:     &stats.Failed,
	}
	for status, dst := range counts {
		if err := s.db.WithContext(ctx).Model(&models.Investment{}).
			Where("status = ?", status).Count(dst).Error; err != nil {
			return nil, err
		}
	}

	var raw *string
	err := s.db.WithContext(ctx).
		Model(&models.Investment{}).
		Select("SUM(amount)").
		Where("status = ?", models.InvestmentStatusCompleted).
		Scan(&raw).Error
	if err != nil {
		return nil, err
	}
	if raw != nil {
		sum, err := decimal.NewFromString(*raw)
		if err != nil {
			return nil, err
		}
		stats.TotalInvested = sum
	}
	return stats, nil
}

// --- wallets ----------------------------------------------------------------

func (s *Store) GetWalletByID(ctx context.Context, id string) (*models.Wallet, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var item models.Wallet
	err := s.db.WithContext(ctx).
		Model(&models.Wallet{}).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// --- scan states ------------------------------------------------------------

func (s *Store) GetScanState(ctx context.Context, chainID int64) (*models.ScanState, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	var item models.ScanState
	err := s.db.WithContext(ctx).
		Model(&models.ScanState{}).
		Where("chain_id = ?", chainID).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveScanState(ctx context.Context, state *models.ScanState) error {
	if s == nil || s.db == nil || state == nil {
		return nil
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "chain_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"last_block",
			"last_scan_at",
			"last_error",
			"updated_at",
		}),
	}).Create(state).Error
}

// --- helpers ----------------------------------------------------------------

func (s *Store) txOrDB(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	if s == nil {
		return nil
	}
	return s.db
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
