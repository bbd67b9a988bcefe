package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type InvestmentStatus string

const (
	InvestmentStatusPending    InvestmentStatus = "PENDING"
	InvestmentStatusProcessing InvestmentStatus = "PROCESSING"
	InvestmentStatusCompleted  InvestmentStatus = "COMPLETED"
	InvestmentStatusFailed     InvestmentStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed.
func (s InvestmentStatus) Terminal() bool {
	return s == InvestmentStatusCompleted || s == InvestmentStatusFailed
}

// Investment is one durable attempt to apply a rule to a pool.
// The unique index on (rule_id, pool_id) is the at-most-once boundary:
// a second insert for the same pair fails at the database, regardless of
// how many concurrent cycles evaluate the pair.
type Investment struct {
	ID     string `gorm:"primaryKey;type:varchar(36)"`
	RuleID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_investments_rule_pool"`
	PoolID string `gorm:"type:varchar(36);not null;uniqueIndex:idx_investments_rule_pool"`
	UserID string `gorm:"type:varchar(36);not null;index"`

	Amount decimal.Decimal  `gorm:"type:numeric(30,10);not null"`
	Status InvestmentStatus `gorm:"type:varchar(20);not null;default:'PENDING';index"`

	// Score and Reasons carry the matcher's advisory trail for reporting.
	Score   int            `gorm:"not null;default:0"`
	Reasons datatypes.JSON `gorm:"type:jsonb"`

	TxHash     *string    `gorm:"type:varchar(66)"`
	ExecutedAt *time.Time `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Investment) TableName() string {
	return "investments"
}
