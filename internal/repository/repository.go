package repository

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"poolpilot/internal/models"
)

// ErrDuplicateInvestment is returned by InsertInvestment when an investment
// for the same (rule, pool) pair already exists. Callers treat it as "pair
// already handled", not as a failure.
var ErrDuplicateInvestment = errors.New("investment already exists for rule/pool pair")

type ListPoolsParams struct {
	ChainID      *int64
	Status       *models.PoolStatus
	CreatedSince *time.Time
	Limit        int
	Offset       int
}

type ListRulesParams struct {
	UserID *string
	Active *bool
	Limit  int
	Offset int
}

type ListInvestmentsParams struct {
	RuleID *string
	PoolID *string
	UserID *string
	Status *models.InvestmentStatus
	Limit  int
	Offset int
}

// InvestmentStats is the aggregate view surfaced by the control API.
type InvestmentStats struct {
	ActiveRules   int64
	Total         int64
	Pending       int64
	Processing    int64
	Completed     int64
	Failed        int64
	TotalInvested decimal.Decimal
}

type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Pools.
	// InsertPoolIfAbsent creates the pool unless one with the same
	// (chain_id, address) already exists; the bool reports whether a row
	// was created. This is the detector's idempotency primitive.
	InsertPoolIfAbsent(ctx context.Context, item *models.Pool) (bool, error)
	GetPoolByID(ctx context.Context, id string) (*models.Pool, error)
	GetPoolByAddress(ctx context.Context, chainID int64, address string) (*models.Pool, error)
	ListPools(ctx context.Context, params ListPoolsParams) ([]models.Pool, error)
	ListOpenPoolsSince(ctx context.Context, since time.Time, limit int) ([]models.Pool, error)
	UpdatePoolOnchainState(ctx context.Context, item *models.Pool) error
	IncrementPoolContributionTx(ctx context.Context, tx *gorm.DB, poolID string, amount decimal.Decimal) error

	// Rules.
	InsertRule(ctx context.Context, item *models.Rule) error
	GetRuleByID(ctx context.Context, id string) (*models.Rule, error)
	ListRules(ctx context.Context, params ListRulesParams) ([]models.Rule, error)
	ListActiveRules(ctx context.Context) ([]models.Rule, error)
	UpdateRule(ctx context.Context, item *models.Rule) error
	DeleteRule(ctx context.Context, id string) error
	ApplyRuleTriggerTx(ctx context.Context, tx *gorm.DB, ruleID string, amount decimal.Decimal, at time.Time) error

	// Investments.
	// InsertInvestment returns ErrDuplicateInvestment when the (rule, pool)
	// unique index rejects the row.
	InsertInvestment(ctx context.Context, item *models.Investment) error
	GetInvestmentByID(ctx context.Context, id string) (*models.Investment, error)
	GetInvestmentByRulePool(ctx context.Context, ruleID, poolID string) (*models.Investment, error)
	ListInvestments(ctx context.Context, params ListInvestmentsParams) ([]models.Investment, error)
	UpdateInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error
	MarkInvestmentCompletedTx(ctx context.Context, tx *gorm.DB, id string, txHash string, at time.Time) error
	MarkInvestmentFailed(ctx context.Context, id string) error
	SumInvestmentAmountSince(ctx context.Context, ruleID string, since time.Time, statuses []models.InvestmentStatus) (decimal.Decimal, error)
	ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Investment, error)
	GetInvestmentStats(ctx context.Context) (*InvestmentStats, error)

	// Wallets.
	GetWalletByID(ctx context.Context, id string) (*models.Wallet, error)

	// Scan states (detector cursors).
	GetScanState(ctx context.Context, chainID int64) (*models.ScanState, error)
	SaveScanState(ctx context.Context, state *models.ScanState) error
}
