// Package scheduler drives the periodic discover-match-execute cycle.
// A single timer triggers cycles; an atomic in-flight guard drops a tick
// that fires while the previous cycle still runs, it is never queued.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"poolpilot/internal/matcher"
	"poolpilot/internal/models"
	"poolpilot/internal/observability"
	"poolpilot/internal/repository"
)

// PairEvaluator decides whether one rule matches one pool. Implemented by
// matcher.Matcher.
type PairEvaluator interface {
	Evaluate(ctx context.Context, rule *models.Rule, pool *models.Pool) (*matcher.Match, error)
}

// InvestmentExecutor runs one matched pair. Implemented by
// executor.Executor.
type InvestmentExecutor interface {
	Execute(ctx context.Context, match *matcher.Match) (*models.Investment, error)
}

type Config struct {
	Interval     time.Duration
	RecentWindow time.Duration
	MaxPools     int
}

type Scheduler struct {
	repo     repository.Repository
	matcher  PairEvaluator
	executor InvestmentExecutor
	cfg      Config
	log      *zap.Logger

	inFlight atomic.Bool

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}
	cycles     int64
	lastCycle  time.Time
	lastLength time.Duration
}

type Status struct {
	Running       bool          `json:"running"`
	Interval      time.Duration `json:"interval"`
	CycleInFlight bool          `json:"cycle_in_flight"`
	CyclesRun     int64         `json:"cycles_run"`
	LastCycleAt   time.Time     `json:"last_cycle_at"`
	LastCycleTook time.Duration `json:"last_cycle_took"`
}

func New(repo repository.Repository, m PairEvaluator, e InvestmentExecutor, cfg Config, log *zap.Logger) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = 30 * time.Minute
	}
	if cfg.MaxPools <= 0 {
		cfg.MaxPools = 200
	}
	return &Scheduler{repo: repo, matcher: m, executor: e, cfg: cfg, log: log}
}

// Start runs one cycle immediately, then arms the recurring timer.
// Starting a running scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.running = true
	s.cancel = cancel
	s.done = done
	s.mu.Unlock()

	go func() {
		defer close(done)
		s.RunCycle(loopCtx)

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				s.RunCycle(loopCtx)
			}
		}
	}()
	s.log.Info("scheduler started", zap.Duration("interval", s.cfg.Interval))
}

// Stop cancels the timer and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.running = false
	s.cancel = nil
	s.done = nil
	s.mu.Unlock()

	cancel()
	<-done
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Running:       s.running,
		Interval:      s.cfg.Interval,
		CycleInFlight: s.inFlight.Load(),
		CyclesRun:     s.cycles,
		LastCycleAt:   s.lastCycle,
		LastCycleTook: s.lastLength,
	}
}

// RunCycle executes one discover-match-execute pass. Returns the number of
// executed investments, or an error for cycle-level failures; per-pair
// failures are logged and absorbed. A concurrent call is skipped.
func (s *Scheduler) RunCycle(ctx context.Context) (int, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		observability.CyclesSkipped.Inc()
		s.log.Info("cycle skipped, previous cycle still running")
		return 0, nil
	}
	defer s.inFlight.Store(false)

	started := time.Now()
	executed, err := s.cycle(ctx)
	took := time.Since(started)

	s.mu.Lock()
	s.cycles++
	s.lastCycle = started.UTC()
	s.lastLength = took
	s.mu.Unlock()
	observability.CyclesRun.Inc()

	if err != nil {
		s.log.Error("cycle failed", zap.Error(err), zap.Duration("took", took))
		return executed, err
	}
	if executed > 0 {
		s.log.Info("cycle done", zap.Int("executed", executed), zap.Duration("took", took))
	}
	return executed, nil
}

func (s *Scheduler) cycle(ctx context.Context) (int, error) {
	rules, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		return 0, fmt.Errorf("list active rules: %w", err)
	}
	if len(rules) == 0 {
		return 0, nil
	}

	since := time.Now().UTC().Add(-s.cfg.RecentWindow)
	pools, err := s.repo.ListOpenPoolsSince(ctx, since, s.cfg.MaxPools)
	if err != nil {
		return 0, fmt.Errorf("list recent open pools: %w", err)
	}
	if len(pools) == 0 {
		return 0, nil
	}

	executed := 0
	for i := range rules {
		for j := range pools {
			select {
			case <-ctx.Done():
				return executed, ctx.Err()
			default:
			}
			if s.processPair(ctx, &rules[i], &pools[j]) {
				executed++
			}
		}
	}
	return executed, nil
}

// ProcessPool evaluates every active rule against a single pool and
// executes the matches. The detection callback calls it so a freshly
// discovered pool does not wait for the next cycle; the insert-time
// duplicate gate keeps it safe alongside one.
func (s *Scheduler) ProcessPool(ctx context.Context, pool *models.Pool) int {
	if pool == nil {
		return 0
	}
	rules, err := s.repo.ListActiveRules(ctx)
	if err != nil {
		s.log.Error("list active rules failed",
			zap.String("pool_id", pool.ID), zap.Error(err))
		return 0
	}

	executed := 0
	for i := range rules {
		if s.processPair(ctx, &rules[i], pool) {
			executed++
		}
	}
	if executed > 0 {
		s.log.Info("new pool processed",
			zap.String("pool_id", pool.ID), zap.Int("executed", executed))
	}
	return executed
}

// processPair evaluates and possibly executes one (rule, pool) pair. All
// failures stay inside the pair so the rest of the cycle continues.
func (s *Scheduler) processPair(ctx context.Context, rule *models.Rule, pool *models.Pool) bool {
	log := s.log.With(zap.String("rule_id", rule.ID), zap.String("pool_id", pool.ID))

	// Cheap pre-check before evaluating the gates. The check repeats
	// inside the matcher and again at insert time; the window between
	// check and act is not locked, the unique index is.
	existing, err := s.repo.GetInvestmentByRulePool(ctx, rule.ID, pool.ID)
	if err != nil {
		log.Error("investment lookup failed", zap.Error(err))
		return false
	}
	if existing != nil {
		return false
	}

	match, err := s.matcher.Evaluate(ctx, rule, pool)
	if err != nil {
		log.Error("evaluation failed", zap.Error(err))
		return false
	}
	if match == nil {
		return false
	}
	observability.RuleMatches.Inc()
	log.Info("rule matched pool", zap.Int("score", match.Score))

	investment, err := s.executor.Execute(ctx, match)
	if err != nil {
		log.Error("execution failed", zap.Error(err))
		return false
	}
	return investment != nil && investment.Status == models.InvestmentStatusCompleted
}
