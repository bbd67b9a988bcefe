package executor

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"poolpilot/internal/chain"
	"poolpilot/internal/matcher"
	"poolpilot/internal/models"
	"poolpilot/internal/repository"
)

// execRepo covers the repository surface the executor touches; everything
// else panics through the embedded interface.
type execRepo struct {
	repository.Repository

	mu          sync.Mutex
	investments map[string]*models.Investment
	rules       map[string]*models.Rule
	pools       map[string]*models.Pool

	insertErr error
	txErr     error
}

func newExecRepo(rule *models.Rule, pool *models.Pool) *execRepo {
	return &execRepo{
		investments: make(map[string]*models.Investment),
		rules:       map[string]*models.Rule{rule.ID: rule},
		pools:       map[string]*models.Pool{pool.ID: pool},
	}
}

func (r *execRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if r.txErr != nil {
		return r.txErr
	}
	return fn(nil)
}

func (r *execRepo) InsertInvestment(ctx context.Context, item *models.Investment) error {
	if r.insertErr != nil {
		return r.insertErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, inv := range r.investments {
		if inv.RuleID == item.RuleID && inv.PoolID == item.PoolID {
			return repository.ErrDuplicateInvestment
		}
	}
	clone := *item
	r.investments[item.ID] = &clone
	return nil
}

func (r *execRepo) UpdateInvestmentStatus(ctx context.Context, id string, status models.InvestmentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.investments[id].Status = status
	return nil
}

func (r *execRepo) MarkInvestmentCompletedTx(ctx context.Context, tx *gorm.DB, id string, txHash string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	inv := r.investments[id]
	inv.Status = models.InvestmentStatusCompleted
	inv.TxHash = &txHash
	inv.ExecutedAt = &at
	return nil
}

func (r *execRepo) MarkInvestmentFailed(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if inv, ok := r.investments[id]; ok {
		inv.Status = models.InvestmentStatusFailed
	}
	return nil
}

func (r *execRepo) ApplyRuleTriggerTx(ctx context.Context, tx *gorm.DB, ruleID string, amount decimal.Decimal, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rule := r.rules[ruleID]
	rule.TotalInvested = rule.TotalInvested.Add(amount)
	rule.TotalInvestments++
	rule.LastTriggered = &at
	return nil
}

func (r *execRepo) IncrementPoolContributionTx(ctx context.Context, tx *gorm.DB, poolID string, amount decimal.Decimal) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	pool := r.pools[poolID]
	pool.TotalContribution = pool.TotalContribution.Add(amount)
	return nil
}

func (r *execRepo) ListStaleProcessing(ctx context.Context, before time.Time, limit int) ([]models.Investment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Investment
	for _, inv := range r.investments {
		if inv.Status == models.InvestmentStatusProcessing && inv.UpdatedAt.Before(before) {
			out = append(out, *inv)
		}
	}
	return out, nil
}

type stubSigner struct{}

func (stubSigner) Address() string { return "0xffff000000000000000000000000000000000001" }
func (stubSigner) SignPayload(context.Context, *chain.TxPayload) ([]byte, error) {
	return []byte{0x01}, nil
}

type stubSignerSource struct{ err error }

func (s stubSignerSource) SignerFor(ctx context.Context, walletID string) (chain.TxSigner, error) {
	if s.err != nil {
		return nil, s.err
	}
	return stubSigner{}, nil
}

// execReader fakes the investment path of chain.Reader.
type execReader struct {
	chainID       int64
	investErr     error
	receiptStatus uint64
	receiptErr    error

	investedWei *big.Int
}

func (r *execReader) ChainID() int64                                  { return r.chainID }
func (r *execReader) BlockNumber(context.Context) (uint64, error)     { return 0, nil }
func (r *execReader) BlockTimestamp(context.Context, uint64) (time.Time, error) {
	return time.Time{}, nil
}
func (r *execReader) FilterPoolCreated(context.Context, uint64, uint64) ([]chain.PoolCreatedEvent, error) {
	return nil, nil
}
func (r *execReader) PoolCreatedInTx(context.Context, string) (*chain.PoolCreatedEvent, error) {
	return nil, chain.ErrNoPoolCreated
}
func (r *execReader) PoolState(context.Context, string) (*chain.PoolState, error) {
	return &chain.PoolState{}, nil
}
func (r *execReader) Invest(ctx context.Context, signer chain.TxSigner, poolAddress string, amountWei *big.Int) (string, error) {
	if r.investErr != nil {
		return "", r.investErr
	}
	r.investedWei = amountWei
	return "0xdeadbeef", nil
}
func (r *execReader) WaitForReceipt(ctx context.Context, txHash string) (*chain.Receipt, error) {
	if r.receiptErr != nil {
		return nil, r.receiptErr
	}
	return &chain.Receipt{TxHash: txHash, BlockNumber: 42, Status: r.receiptStatus}, nil
}

type stubReaderSource struct{ reader chain.Reader }

func (s stubReaderSource) Reader(chainID int64) (chain.Reader, error) {
	if s.reader == nil {
		return nil, fmt.Errorf("no reader for chain %d", chainID)
	}
	return s.reader, nil
}

type recordedContribution struct {
	userAddress, poolID, amountWei, txHash string
}

type stubRecorder struct {
	err   error
	calls []recordedContribution
}

func (s *stubRecorder) RecordContribution(ctx context.Context, userAddress, poolID, amountWei, txHash string) error {
	s.calls = append(s.calls, recordedContribution{userAddress, poolID, amountWei, txHash})
	return s.err
}

func testMatch() (*models.Rule, *models.Pool, *matcher.Match) {
	rule := &models.Rule{
		ID:               "rule-1",
		UserID:           "user-1",
		WalletID:         "wallet-1",
		Active:           true,
		InvestmentAmount: decimal.RequireFromString("0.5"),
	}
	pool := &models.Pool{
		ID:      "pool-1",
		ChainID: 360,
		Address: "0xaaaa000000000000000000000000000000000001",
		Status:  models.PoolStatusFunding,
	}
	return rule, pool, &matcher.Match{
		Rule:    rule,
		Pool:    pool,
		Score:   35,
		Reasons: []string{"chain 360 allowed"},
	}
}

func newTestExecutor(repo repository.Repository, reader chain.Reader, signers SignerSource, recorder ContributionRecorder) *Executor {
	return New(repo, signers, stubReaderSource{reader: reader}, recorder, Config{
		ConfirmTimeout: time.Second,
	}, zap.NewNop())
}

func TestExecuteHappyPath(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	reader := &execReader{chainID: 360, receiptStatus: 1}
	recorder := &stubRecorder{}
	e := newTestExecutor(repo, reader, stubSignerSource{}, recorder)

	investment, err := e.Execute(context.Background(), match)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if investment == nil || investment.Status != models.InvestmentStatusCompleted {
		t.Fatalf("investment = %+v, want COMPLETED", investment)
	}
	if investment.TxHash == nil || *investment.TxHash != "0xdeadbeef" {
		t.Fatalf("tx hash = %v, want 0xdeadbeef", investment.TxHash)
	}
	if investment.ExecutedAt == nil {
		t.Fatalf("executed-at not set")
	}

	if rule.TotalInvestments != 1 {
		t.Fatalf("rule total investments = %d, want 1", rule.TotalInvestments)
	}
	if !rule.TotalInvested.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("rule total invested = %s, want 0.5", rule.TotalInvested)
	}
	if !pool.TotalContribution.Equal(decimal.RequireFromString("0.5")) {
		t.Fatalf("pool contribution = %s, want 0.5", pool.TotalContribution)
	}

	wantWei := decimal.RequireFromString("0.5").Mul(decimal.New(1, 18)).BigInt()
	if reader.investedWei == nil || reader.investedWei.Cmp(wantWei) != 0 {
		t.Fatalf("invested wei = %v, want %v", reader.investedWei, wantWei)
	}
	if len(recorder.calls) != 1 || recorder.calls[0].txHash != "0xdeadbeef" {
		t.Fatalf("ledger calls = %+v, want one with the tx hash", recorder.calls)
	}
}

func TestExecuteDuplicatePairSkips(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	repo.investments["existing"] = &models.Investment{
		ID: "existing", RuleID: rule.ID, PoolID: pool.ID,
		Status: models.InvestmentStatusCompleted,
	}
	e := newTestExecutor(repo, &execReader{chainID: 360, receiptStatus: 1}, stubSignerSource{}, nil)

	investment, err := e.Execute(context.Background(), match)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if investment != nil {
		t.Fatalf("expected skip for duplicate pair, got %+v", investment)
	}
	if len(repo.investments) != 1 {
		t.Fatalf("investments = %d, want the pre-existing one only", len(repo.investments))
	}
}

func TestExecuteSigningFailureEndsFailed(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	e := newTestExecutor(repo, &execReader{chainID: 360}, stubSignerSource{err: fmt.Errorf("key unavailable")}, nil)

	investment, err := e.Execute(context.Background(), match)
	if err == nil {
		t.Fatalf("expected error")
	}
	if investment == nil || investment.Status != models.InvestmentStatusFailed {
		t.Fatalf("investment = %+v, want FAILED", investment)
	}
	if rule.TotalInvestments != 0 {
		t.Fatalf("rule totals must not move on failure")
	}
}

func TestExecuteSubmissionFailureEndsFailed(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	reader := &execReader{chainID: 360, investErr: fmt.Errorf("nonce too low")}
	e := newTestExecutor(repo, reader, stubSignerSource{}, nil)

	investment, err := e.Execute(context.Background(), match)
	if err == nil {
		t.Fatalf("expected error")
	}
	if investment.Status != models.InvestmentStatusFailed {
		t.Fatalf("status = %s, want FAILED", investment.Status)
	}
	if investment.TxHash != nil {
		t.Fatalf("failed investment must not carry a tx hash")
	}
}

func TestExecuteRevertedReceiptEndsFailed(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	reader := &execReader{chainID: 360, receiptStatus: 0}
	e := newTestExecutor(repo, reader, stubSignerSource{}, nil)

	investment, err := e.Execute(context.Background(), match)
	if err == nil {
		t.Fatalf("expected error for reverted tx")
	}
	if investment.Status != models.InvestmentStatusFailed {
		t.Fatalf("status = %s, want FAILED", investment.Status)
	}
}

func TestExecuteFinalizeFailureStillPersistsCompletion(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	repo.txErr = fmt.Errorf("db connection reset")
	reader := &execReader{chainID: 360, receiptStatus: 1}
	e := newTestExecutor(repo, reader, stubSignerSource{}, nil)

	investment, err := e.Execute(context.Background(), match)
	if err == nil {
		t.Fatalf("expected finalize error")
	}
	// The on-chain tx is confirmed; the record must be COMPLETED with its
	// hash, never PROCESSING for the reconciler or FAILED.
	if investment == nil || investment.Status != models.InvestmentStatusCompleted {
		t.Fatalf("investment = %+v, want COMPLETED", investment)
	}
	if investment.TxHash == nil || *investment.TxHash != "0xdeadbeef" {
		t.Fatalf("tx hash = %v, want 0xdeadbeef", investment.TxHash)
	}
	stored := repo.investments[investment.ID]
	if stored == nil || stored.Status != models.InvestmentStatusCompleted {
		t.Fatalf("stored status = %+v, want COMPLETED", stored)
	}
	if rule.TotalInvestments != 0 {
		t.Fatalf("rule totals are manual repair territory on finalize failure")
	}
}

func TestExecuteLedgerFailureKeepsCompleted(t *testing.T) {
	rule, pool, match := testMatch()
	repo := newExecRepo(rule, pool)
	reader := &execReader{chainID: 360, receiptStatus: 1}
	recorder := &stubRecorder{err: fmt.Errorf("ledger down")}
	e := newTestExecutor(repo, reader, stubSignerSource{}, recorder)

	investment, err := e.Execute(context.Background(), match)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if investment.Status != models.InvestmentStatusCompleted {
		t.Fatalf("status = %s, want COMPLETED despite ledger failure", investment.Status)
	}
}

func TestReconcilerSweepsStaleProcessing(t *testing.T) {
	rule, pool, _ := testMatch()
	repo := newExecRepo(rule, pool)
	stale := &models.Investment{
		ID: "inv-stale", RuleID: rule.ID, PoolID: pool.ID,
		Status:    models.InvestmentStatusProcessing,
		UpdatedAt: time.Now().UTC().Add(-time.Hour),
	}
	fresh := &models.Investment{
		ID: "inv-fresh", RuleID: rule.ID, PoolID: "pool-2",
		Status:    models.InvestmentStatusProcessing,
		UpdatedAt: time.Now().UTC(),
	}
	repo.investments[stale.ID] = stale
	repo.investments[fresh.ID] = fresh

	r := NewReconciler(repo, 15*time.Minute, zap.NewNop())
	swept, err := r.ReconcileStale(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if swept != 1 {
		t.Fatalf("swept = %d, want 1", swept)
	}
	if stale.Status != models.InvestmentStatusFailed {
		t.Fatalf("stale status = %s, want FAILED", stale.Status)
	}
	if fresh.Status != models.InvestmentStatusProcessing {
		t.Fatalf("fresh status = %s, want untouched PROCESSING", fresh.Status)
	}
}
