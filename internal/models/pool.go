package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PoolKind string

const (
	PoolKindToken      PoolKind = "TOKEN"
	PoolKindCollection PoolKind = "COLLECTION"
)

type PoolStatus string

const (
	PoolStatusFunding PoolStatus = "FUNDING"
	PoolStatusOffer   PoolStatus = "OFFER"
	PoolStatusListing PoolStatus = "LISTING"
	PoolStatusSold    PoolStatus = "SOLD"
	PoolStatusPaused  PoolStatus = "PAUSED"
	PoolStatusClosed  PoolStatus = "CLOSED"
)

// Pool is a liquidity venue discovered on chain by the detector.
// (chain_id, address) is the idempotency key: re-scanning a block range
// never creates a second row for the same contract.
type Pool struct {
	ID      string `gorm:"primaryKey;type:varchar(36)"`
	ChainID int64  `gorm:"not null;uniqueIndex:idx_pools_chain_address;index"`
	// Address is the pool contract address, stored lowercase.
	Address string `gorm:"type:varchar(42);not null;uniqueIndex:idx_pools_chain_address"`

	Name       string   `gorm:"type:varchar(100)"`
	Collection string   `gorm:"type:varchar(42);not null;index"`
	Kind       PoolKind `gorm:"type:varchar(20);not null;default:'COLLECTION'"`
	Creator    string   `gorm:"type:varchar(42);not null"`

	// Prices are on-chain integers in the chain's smallest unit (wei).
	BuyPriceWei  decimal.Decimal `gorm:"type:numeric(78,0);not null"`
	SellPriceWei decimal.Decimal `gorm:"type:numeric(78,0);not null"`

	// CreatorFeePct is a percentage, e.g. 2.5 for 2.5%.
	CreatorFeePct     decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	TotalContribution decimal.Decimal `gorm:"type:numeric(30,10);not null"`

	Status PoolStatus `gorm:"type:varchar(20);not null;default:'FUNDING';index"`

	TxHash      string `gorm:"type:varchar(66);not null"`
	BlockNumber uint64 `gorm:"not null"`

	// CreatedAt is the on-chain creation time (block timestamp), used for
	// the min-pool-age gate and the scheduler's recent window.
	CreatedAt time.Time `gorm:"type:timestamptz;not null;index"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Pool) TableName() string {
	return "pools"
}
