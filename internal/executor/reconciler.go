package executor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"poolpilot/internal/observability"
	"poolpilot/internal/repository"
)

const reconcileBatchSize = 100

// Reconciler sweeps investments stuck in PROCESSING. A crash between
// creating the record and confirming the transaction leaves a PROCESSING
// row that nothing will ever touch again; after StaleAfter it is moved to
// FAILED so statistics stop counting it as in flight. Re-submission stays
// a manual decision: the sweep cannot know whether the original
// transaction landed.
type Reconciler struct {
	repo       repository.Repository
	staleAfter time.Duration
	log        *zap.Logger
}

func NewReconciler(repo repository.Repository, staleAfter time.Duration, log *zap.Logger) *Reconciler {
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	return &Reconciler{repo: repo, staleAfter: staleAfter, log: log}
}

// ReconcileStale fails every PROCESSING investment last updated before the
// staleness cutoff and returns how many were swept.
func (r *Reconciler) ReconcileStale(ctx context.Context) (int, error) {
	cutoff := time.Now().UTC().Add(-r.staleAfter)
	swept := 0

	for {
		stale, err := r.repo.ListStaleProcessing(ctx, cutoff, reconcileBatchSize)
		if err != nil {
			return swept, fmt.Errorf("list stale processing: %w", err)
		}
		if len(stale) == 0 {
			return swept, nil
		}

		marked := 0
		for i := range stale {
			inv := &stale[i]
			if err := r.repo.MarkInvestmentFailed(ctx, inv.ID); err != nil {
				r.log.Error("sweep stale investment failed",
					zap.String("investment_id", inv.ID), zap.Error(err))
				continue
			}
			marked++
			observability.InvestmentsReconciled.Inc()
			r.log.Warn("stale processing investment failed by reconciler",
				zap.String("investment_id", inv.ID),
				zap.String("rule_id", inv.RuleID),
				zap.String("pool_id", inv.PoolID),
				zap.Time("updated_before", cutoff))
		}
		swept += marked

		// No progress means the same rows would come back forever.
		if marked == 0 || len(stale) < reconcileBatchSize {
			return swept, nil
		}
	}
}
