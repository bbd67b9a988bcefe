// Package executor turns a matched (rule, pool) pair into one on-chain
// investment. The investments table's (rule_id, pool_id) unique index makes
// creation the at-most-once point: everything after a successful insert
// belongs to exactly one attempt, and a failed attempt stays FAILED until
// an operator clears it.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"poolpilot/internal/chain"
	"poolpilot/internal/matcher"
	"poolpilot/internal/models"
	"poolpilot/internal/observability"
	"poolpilot/internal/repository"
)

var weiPerCoin = decimal.New(1, 18)

// SignerSource yields signing capability for a wallet. Implemented by the
// custody vault.
type SignerSource interface {
	SignerFor(ctx context.Context, walletID string) (chain.TxSigner, error)
}

// ReaderSource resolves the chain reader for a chain ID. Implemented by
// chain.Registry.
type ReaderSource interface {
	Reader(chainID int64) (chain.Reader, error)
}

// ContributionRecorder reports confirmed contributions to the accounting
// service. Implemented by ledger.Client.
type ContributionRecorder interface {
	RecordContribution(ctx context.Context, userAddress, poolID, amountWei, txHash string) error
}

type Config struct {
	ConfirmTimeout time.Duration
}

type Executor struct {
	repo   repository.Repository
	vault  SignerSource
	chains ReaderSource
	ledger ContributionRecorder // nil when accounting integration is disabled
	cfg    Config
	log    *zap.Logger
}

func New(repo repository.Repository, vault SignerSource, chains ReaderSource, ledgerClient ContributionRecorder, cfg Config, log *zap.Logger) *Executor {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 3 * time.Minute
	}
	return &Executor{
		repo:   repo,
		vault:  vault,
		chains: chains,
		ledger: ledgerClient,
		cfg:    cfg,
		log:    log,
	}
}

// Execute runs one investment attempt end to end. A duplicate pair is not
// an error: the attempt is skipped and (nil, nil) is returned. Any failure
// after the record exists lands it in FAILED; there is no automatic retry
// because re-submitting a transaction is not free the way re-scanning a
// block is.
func (e *Executor) Execute(ctx context.Context, match *matcher.Match) (*models.Investment, error) {
	if match == nil || match.Rule == nil || match.Pool == nil {
		return nil, fmt.Errorf("execute: nil match")
	}
	rule, pool := match.Rule, match.Pool

	investment := &models.Investment{
		ID:      uuid.NewString(),
		RuleID:  rule.ID,
		PoolID:  pool.ID,
		UserID:  rule.UserID,
		Amount:  rule.InvestmentAmount,
		Status:  models.InvestmentStatusPending,
		Score:   match.Score,
		Reasons: reasonsJSON(match.Reasons),
	}
	if err := e.repo.InsertInvestment(ctx, investment); err != nil {
		if errors.Is(err, repository.ErrDuplicateInvestment) {
			e.log.Debug("pair already has an investment, skipping",
				zap.String("rule_id", rule.ID), zap.String("pool_id", pool.ID))
			return nil, nil
		}
		return nil, fmt.Errorf("create investment: %w", err)
	}

	log := e.log.With(
		zap.String("investment_id", investment.ID),
		zap.String("rule_id", rule.ID),
		zap.String("pool_id", pool.ID),
		zap.String("pool", pool.Address))

	if err := e.repo.UpdateInvestmentStatus(ctx, investment.ID, models.InvestmentStatusProcessing); err != nil {
		return investment, e.fail(ctx, investment, log, fmt.Errorf("mark processing: %w", err))
	}
	investment.Status = models.InvestmentStatusProcessing

	signer, err := e.vault.SignerFor(ctx, rule.WalletID)
	if err != nil {
		return investment, e.fail(ctx, investment, log, fmt.Errorf("obtain signer: %w", err))
	}

	reader, err := e.chains.Reader(pool.ChainID)
	if err != nil {
		return investment, e.fail(ctx, investment, log, err)
	}

	amountWei := rule.InvestmentAmount.Mul(weiPerCoin).BigInt()
	txHash, err := reader.Invest(ctx, signer, pool.Address, amountWei)
	if err != nil {
		return investment, e.fail(ctx, investment, log, fmt.Errorf("submit invest tx: %w", err))
	}
	log = log.With(zap.String("tx_hash", txHash))
	log.Info("invest transaction submitted", zap.String("amount", rule.InvestmentAmount.String()))

	confirmCtx, cancel := context.WithTimeout(ctx, e.cfg.ConfirmTimeout)
	receipt, err := reader.WaitForReceipt(confirmCtx, txHash)
	cancel()
	if err != nil {
		return investment, e.fail(ctx, investment, log, fmt.Errorf("await confirmation: %w", err))
	}
	if receipt.Status != 1 {
		return investment, e.fail(ctx, investment, log,
			fmt.Errorf("invest tx reverted in block %d", receipt.BlockNumber))
	}

	// The three success mutations land together or not at all, so rule
	// totals and pool contribution cannot drift apart.
	executedAt := time.Now().UTC()
	err = e.repo.InTx(ctx, func(tx *gorm.DB) error {
		if err := e.repo.MarkInvestmentCompletedTx(ctx, tx, investment.ID, txHash, executedAt); err != nil {
			return err
		}
		if err := e.repo.ApplyRuleTriggerTx(ctx, tx, rule.ID, rule.InvestmentAmount, executedAt); err != nil {
			return err
		}
		return e.repo.IncrementPoolContributionTx(ctx, tx, pool.ID, rule.InvestmentAmount)
	})
	if err != nil {
		// The chain state is committed, so the record must not stay
		// PROCESSING for the reconciler to sweep into FAILED. Write the
		// completion directly; rule totals and pool contribution are left
		// for manual repair.
		log.Error("success mutations failed after confirmed tx", zap.Error(err))
		if markErr := e.repo.MarkInvestmentCompletedTx(ctx, nil, investment.ID, txHash, executedAt); markErr != nil {
			log.Error("fallback completion write failed", zap.Error(markErr))
			return investment, fmt.Errorf("finalize investment %s: %w", investment.ID, err)
		}
		investment.Status = models.InvestmentStatusCompleted
		investment.TxHash = &txHash
		investment.ExecutedAt = &executedAt
		return investment, fmt.Errorf("finalize investment %s: %w", investment.ID, err)
	}
	investment.Status = models.InvestmentStatusCompleted
	investment.TxHash = &txHash
	investment.ExecutedAt = &executedAt

	observability.InvestmentsCompleted.Inc()
	log.Info("investment completed", zap.Uint64("block", receipt.BlockNumber))

	e.recordContribution(ctx, signer.Address(), pool.ID, amountWei.String(), txHash, log)
	return investment, nil
}

func (e *Executor) fail(ctx context.Context, investment *models.Investment, log *zap.Logger, cause error) error {
	log.Error("investment failed", zap.Error(cause))
	if err := e.repo.MarkInvestmentFailed(ctx, investment.ID); err != nil {
		log.Error("mark investment failed errored", zap.Error(err))
	} else {
		investment.Status = models.InvestmentStatusFailed
	}
	observability.InvestmentsFailed.Inc()
	return cause
}

// recordContribution is best effort: the investment is COMPLETED whether or
// not the accounting service hears about it.
func (e *Executor) recordContribution(ctx context.Context, userAddress, poolID, amountWei, txHash string, log *zap.Logger) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.RecordContribution(ctx, userAddress, poolID, amountWei, txHash); err != nil {
		log.Warn("ledger contribution record failed", zap.Error(err))
	}
}

func reasonsJSON(reasons []string) datatypes.JSON {
	if len(reasons) == 0 {
		return nil
	}
	raw, err := json.Marshal(reasons)
	if err != nil {
		return nil
	}
	return datatypes.JSON(raw)
}
