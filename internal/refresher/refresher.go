// Package refresher re-reads on-chain state for recently created pools so
// the catalog's prices, fees and contribution totals stay close to chain
// truth between detection and matching.
package refresher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poolpilot/internal/chain"
	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

const refreshBatchSize = 200

var weiPerCoin = decimal.New(1, 18)

type Refresher struct {
	repo   repository.Repository
	chains *chain.Registry
	window time.Duration
	log    *zap.Logger
}

func New(repo repository.Repository, chains *chain.Registry, window time.Duration, log *zap.Logger) *Refresher {
	if window <= 0 {
		window = 24 * time.Hour
	}
	return &Refresher{repo: repo, chains: chains, window: window, log: log}
}

// Refresh updates every pool created inside the window. Per-pool failures
// are logged and skipped.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	since := time.Now().UTC().Add(-r.window)
	pools, err := r.repo.ListPools(ctx, repository.ListPoolsParams{
		CreatedSince: &since,
		Limit:        refreshBatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("list pools to refresh: %w", err)
	}

	updated := 0
	for i := range pools {
		pool := &pools[i]
		reader, err := r.chains.Reader(pool.ChainID)
		if err != nil {
			r.log.Warn("no reader for pool chain",
				zap.String("pool_id", pool.ID), zap.Int64("chain_id", pool.ChainID))
			continue
		}
		state, err := reader.PoolState(ctx, pool.Address)
		if err != nil {
			r.log.Warn("read pool state failed",
				zap.String("pool", pool.Address), zap.Error(err))
			continue
		}
		apply(pool, state)
		if err := r.repo.UpdatePoolOnchainState(ctx, pool); err != nil {
			r.log.Error("persist refreshed pool failed",
				zap.String("pool_id", pool.ID), zap.Error(err))
			continue
		}
		updated++
	}
	if updated > 0 {
		r.log.Info("pool states refreshed", zap.Int("updated", updated))
	}
	return updated, nil
}

func apply(pool *models.Pool, state *chain.PoolState) {
	if state == nil {
		return
	}
	if state.BuyPriceWei != nil {
		pool.BuyPriceWei = decimal.NewFromBigInt(state.BuyPriceWei, 0)
	}
	if state.SellPriceWei != nil {
		pool.SellPriceWei = decimal.NewFromBigInt(state.SellPriceWei, 0)
	}
	if state.CreatorFeePct != nil {
		pool.CreatorFeePct = decimal.NewFromBigInt(state.CreatorFeePct, 0).Div(decimal.NewFromInt(100))
	}
	if state.TotalContribution != nil {
		pool.TotalContribution = decimal.NewFromBigInt(state.TotalContribution, 0).Div(weiPerCoin)
	}
}
