package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Rule is a user's standing auto-investment instruction. The monitoring
// cycle evaluates every active rule against every recently discovered pool.
// Only the executor mutates the cumulative totals.
type Rule struct {
	ID       string `gorm:"primaryKey;type:varchar(36)"`
	UserID   string `gorm:"type:varchar(36);not null;index"`
	WalletID string `gorm:"type:varchar(36);not null"`

	Name   string `gorm:"type:varchar(100);not null"`
	Active bool   `gorm:"not null;default:true;index"`

	// InvestmentAmount is the fixed per-trigger amount in whole-coin units
	// (ETH), not wei.
	InvestmentAmount decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	// Optional ceilings/floors; nil means the gate is vacuous.
	MaxBuyPrice         *decimal.Decimal `gorm:"type:numeric(30,10)"`
	MinSellPrice        *decimal.Decimal `gorm:"type:numeric(30,10)"`
	MaxCreatorFee       *decimal.Decimal `gorm:"type:numeric(10,4)"`
	MinPoolAgeMinutes   *int
	MaxInvestmentPerDay *decimal.Decimal `gorm:"type:numeric(30,10)"`

	// Allow-lists stored as JSON arrays; empty means "any".
	Collections datatypes.JSON `gorm:"type:jsonb"`
	PoolKinds   datatypes.JSON `gorm:"type:jsonb"`
	ChainIDs    datatypes.JSON `gorm:"type:jsonb"`

	RequireVerifiedCreator bool `gorm:"not null;default:false"`

	TotalInvested    decimal.Decimal `gorm:"type:numeric(30,10);not null"`
	TotalInvestments int64           `gorm:"not null;default:0"`
	LastTriggered    *time.Time      `gorm:"type:timestamptz"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Rule) TableName() string {
	return "rules"
}

// AllowedCollections decodes the collection allow-list. A nil or empty
// result means any collection is allowed.
func (r *Rule) AllowedCollections() []string {
	return decodeStringList(r.Collections)
}

func (r *Rule) AllowedPoolKinds() []PoolKind {
	var out []PoolKind
	if len(r.PoolKinds) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.PoolKinds, &out); err != nil {
		return nil
	}
	return out
}

func (r *Rule) AllowedChainIDs() []int64 {
	var out []int64
	if len(r.ChainIDs) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.ChainIDs, &out); err != nil {
		return nil
	}
	return out
}

func decodeStringList(raw datatypes.JSON) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// StringListJSON encodes a string slice for the jsonb allow-list columns.
func StringListJSON(items []string) datatypes.JSON {
	if len(items) == 0 {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func PoolKindListJSON(items []PoolKind) datatypes.JSON {
	if len(items) == 0 {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}

func ChainIDListJSON(items []int64) datatypes.JSON {
	if len(items) == 0 {
		return nil
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
