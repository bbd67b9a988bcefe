// Package detector watches factory contracts for pool creation events and
// persists newly seen pools. Each chain gets its own cursor, stored in
// scan_states, which only advances after a block range has been fully
// processed; a crash mid-range means the range is scanned again and the
// pools table's uniqueness absorbs the replays.
package detector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"poolpilot/internal/chain"
	"poolpilot/internal/models"
	"poolpilot/internal/observability"
	"poolpilot/internal/repository"
)

// PoolCallback is invoked once per newly persisted pool. Callback errors
// are logged and never block the scan or other callbacks.
type PoolCallback func(ctx context.Context, pool *models.Pool)

type Config struct {
	PollInterval     time.Duration
	CatchupBatchSize uint64
	CatchupPause     time.Duration
	// StartBlock 0 means begin from the chain head on first run.
	StartBlock uint64
}

// Detector scans a single chain.
type Detector struct {
	reader chain.Reader
	repo   repository.Repository
	cfg    Config
	log    *zap.Logger

	mu         sync.Mutex
	cursor     uint64
	poolsFound int64
	lastScanAt time.Time
	lastError  string
	running    bool
	cancel     context.CancelFunc
	done       chan struct{}

	cbMu      sync.RWMutex
	callbacks []PoolCallback
}

type Stats struct {
	ChainID     int64     `json:"chain_id"`
	Cursor      uint64    `json:"cursor"`
	PoolsFound  int64     `json:"pools_found"`
	Subscribers int       `json:"subscribers"`
	LastScanAt  time.Time `json:"last_scan_at"`
	LastError   string    `json:"last_error,omitempty"`
	Running     bool      `json:"running"`
}

func New(reader chain.Reader, repo repository.Repository, cfg Config, log *zap.Logger) *Detector {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 15 * time.Second
	}
	if cfg.CatchupBatchSize == 0 {
		cfg.CatchupBatchSize = 1000
	}
	if cfg.CatchupPause <= 0 {
		cfg.CatchupPause = 100 * time.Millisecond
	}
	return &Detector{
		reader: reader,
		repo:   repo,
		cfg:    cfg,
		log:    log.With(zap.Int64("chain_id", reader.ChainID())),
	}
}

func (d *Detector) OnPool(cb PoolCallback) {
	if cb == nil {
		return
	}
	d.cbMu.Lock()
	d.callbacks = append(d.callbacks, cb)
	d.cbMu.Unlock()
}

// Start resumes the cursor and launches the poll loop. Calling Start on a
// running detector is a no-op. The running flag flips before the cursor is
// resumed so a second Start cannot slip through while the first one is
// still talking to the chain.
func (d *Detector) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.log.Warn("detector already running")
		return nil
	}
	d.running = true
	d.mu.Unlock()

	if err := d.initCursor(ctx); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	d.mu.Lock()
	if !d.running {
		// Stop raced with cursor init; give up without launching the loop.
		d.mu.Unlock()
		cancel()
		close(done)
		return nil
	}
	d.cancel = cancel
	d.done = done
	d.mu.Unlock()

	go d.loop(loopCtx, done)
	d.log.Info("detector started",
		zap.Uint64("cursor", d.Cursor()),
		zap.Duration("poll_interval", d.cfg.PollInterval))
	return nil
}

func (d *Detector) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	cancel, done := d.cancel, d.done
	d.running = false
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	// cancel is nil when Stop lands between the running flip and the loop
	// launch; Start sees the cleared flag and never starts the loop.
	if cancel != nil {
		cancel()
		<-done
	}
	d.log.Info("detector stopped")
}

// initCursor loads the persisted cursor, falling back to the configured
// start block, falling back to the current head. Starting at head means a
// fresh deployment only sees pools created after it came up.
func (d *Detector) initCursor(ctx context.Context) error {
	state, err := d.repo.GetScanState(ctx, d.reader.ChainID())
	if err != nil {
		return fmt.Errorf("load scan state: %w", err)
	}
	if state != nil {
		d.setCursor(state.LastBlock)
		return nil
	}
	if d.cfg.StartBlock > 0 {
		d.setCursor(d.cfg.StartBlock)
		return nil
	}
	head, err := d.reader.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("read head block: %w", err)
	}
	d.setCursor(head)
	return nil
}

func (d *Detector) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	// Immediate first scan so startup does not wait a full poll interval.
	if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
		d.log.Error("initial scan failed", zap.Error(err))
	}

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := d.Scan(ctx); err != nil && ctx.Err() == nil {
				d.log.Error("scan failed", zap.Error(err))
			}
		}
	}
}

// Scan processes blocks (cursor, head] and returns how many new pools were
// persisted. The cursor and scan state are updated only after the whole
// range succeeded.
func (d *Detector) Scan(ctx context.Context) (int, error) {
	chainID := d.reader.ChainID()
	label := strconv.FormatInt(chainID, 10)

	head, err := d.reader.BlockNumber(ctx)
	if err != nil {
		observability.ScanErrors.WithLabelValues(label).Inc()
		d.noteError(err)
		return 0, fmt.Errorf("read head block: %w", err)
	}
	cursor := d.Cursor()
	if head <= cursor {
		d.noteScan()
		return 0, nil
	}

	found, err := d.scanRange(ctx, cursor+1, head)
	if err != nil {
		observability.ScanErrors.WithLabelValues(label).Inc()
		d.noteError(err)
		return found, err
	}

	d.setCursor(head)
	d.noteScan()
	observability.ScanCursor.WithLabelValues(label).Set(float64(head))
	if err := d.saveState(ctx, head, ""); err != nil {
		d.log.Warn("persist scan state failed", zap.Error(err))
	}
	return found, nil
}

// Catchup re-scans an explicit block range in fixed-size batches with a
// pause between them. A zero from resumes just past the cursor, a zero to
// means the current head. The cursor only ever moves forward, so a
// historical range below it can be re-scanned while the poll loop runs;
// pool uniqueness absorbs the duplicates.
func (d *Detector) Catchup(ctx context.Context, from, to uint64) (int, error) {
	label := strconv.FormatInt(d.reader.ChainID(), 10)
	if from == 0 {
		from = d.Cursor() + 1
	}
	if to == 0 {
		head, err := d.reader.BlockNumber(ctx)
		if err != nil {
			return 0, fmt.Errorf("read head block: %w", err)
		}
		to = head
	}
	if to < from {
		return 0, nil
	}

	total := 0
	for start := from; ; {
		end := start + d.cfg.CatchupBatchSize - 1
		if end > to {
			end = to
		}

		found, err := d.scanRange(ctx, start, end)
		total += found
		if err != nil {
			observability.ScanErrors.WithLabelValues(label).Inc()
			d.noteError(err)
			return total, err
		}

		if end > d.Cursor() {
			d.setCursor(end)
			observability.ScanCursor.WithLabelValues(label).Set(float64(end))
			if err := d.saveState(ctx, end, ""); err != nil {
				d.log.Warn("persist scan state failed", zap.Error(err))
			}
		}
		d.log.Info("catchup batch done",
			zap.Uint64("from", start), zap.Uint64("to", end), zap.Int("pools", found))

		if end == to {
			return total, nil
		}
		start = end + 1

		select {
		case <-ctx.Done():
			return total, ctx.Err()
		case <-time.After(d.cfg.CatchupPause):
		}
	}
}

func (d *Detector) scanRange(ctx context.Context, from, to uint64) (int, error) {
	events, err := d.reader.FilterPoolCreated(ctx, from, to)
	if err != nil {
		return 0, fmt.Errorf("filter blocks [%d,%d]: %w", from, to, err)
	}

	found := 0
	for i := range events {
		inserted, err := d.persistEvent(ctx, &events[i])
		if err != nil {
			return found, err
		}
		if inserted {
			found++
		}
	}
	return found, nil
}

// ScanTransaction inspects one transaction for a pool creation event,
// bypassing the cursor. Used for manual backfills of known transactions.
func (d *Detector) ScanTransaction(ctx context.Context, txHash string) (*models.Pool, error) {
	event, err := d.reader.PoolCreatedInTx(ctx, txHash)
	if err != nil {
		return nil, err
	}
	pool, _, err := d.buildAndPersist(ctx, event)
	return pool, err
}

func (d *Detector) persistEvent(ctx context.Context, event *chain.PoolCreatedEvent) (bool, error) {
	_, inserted, err := d.buildAndPersist(ctx, event)
	return inserted, err
}

func (d *Detector) buildAndPersist(ctx context.Context, event *chain.PoolCreatedEvent) (*models.Pool, bool, error) {
	pool := poolFromEvent(event)

	// Best effort enrichment; a pool whose views fail still gets stored
	// and refreshed later by the state refresh job.
	if state, err := d.reader.PoolState(ctx, event.PoolAddress); err == nil {
		applyState(pool, state)
	} else {
		d.log.Warn("read pool state failed",
			zap.String("pool", event.PoolAddress), zap.Error(err))
	}

	inserted, err := d.repo.InsertPoolIfAbsent(ctx, pool)
	if err != nil {
		return nil, false, fmt.Errorf("persist pool %s: %w", pool.Address, err)
	}
	if !inserted {
		return pool, false, nil
	}

	d.mu.Lock()
	d.poolsFound++
	d.mu.Unlock()
	observability.PoolsDiscovered.WithLabelValues(strconv.FormatInt(pool.ChainID, 10)).Inc()
	d.log.Info("new pool detected",
		zap.String("pool", pool.Address),
		zap.String("name", pool.Name),
		zap.Uint64("block", event.BlockNumber))

	d.notify(ctx, pool)
	return pool, true, nil
}

func (d *Detector) notify(ctx context.Context, pool *models.Pool) {
	d.cbMu.RLock()
	callbacks := d.callbacks
	d.cbMu.RUnlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					d.log.Error("pool callback panicked",
						zap.String("pool", pool.Address), zap.Any("panic", r))
				}
			}()
			cb(ctx, pool)
		}()
	}
}

func (d *Detector) Stats() Stats {
	d.cbMu.RLock()
	subscribers := len(d.callbacks)
	d.cbMu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	return Stats{
		ChainID:     d.reader.ChainID(),
		Cursor:      d.cursor,
		PoolsFound:  d.poolsFound,
		Subscribers: subscribers,
		LastScanAt:  d.lastScanAt,
		LastError:   d.lastError,
		Running:     d.running,
	}
}

func (d *Detector) Cursor() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cursor
}

func (d *Detector) setCursor(block uint64) {
	d.mu.Lock()
	d.cursor = block
	d.mu.Unlock()
}

func (d *Detector) noteScan() {
	d.mu.Lock()
	d.lastScanAt = time.Now().UTC()
	d.lastError = ""
	d.mu.Unlock()
}

func (d *Detector) noteError(err error) {
	d.mu.Lock()
	d.lastScanAt = time.Now().UTC()
	d.lastError = err.Error()
	d.mu.Unlock()
}

func (d *Detector) saveState(ctx context.Context, block uint64, lastError string) error {
	now := time.Now().UTC()
	state := &models.ScanState{
		ChainID:    d.reader.ChainID(),
		LastBlock:  block,
		LastScanAt: &now,
	}
	if lastError != "" {
		state.LastError = &lastError
	}
	return d.repo.SaveScanState(ctx, state)
}

func poolFromEvent(event *chain.PoolCreatedEvent) *models.Pool {
	return &models.Pool{
		ID:          uuid.NewString(),
		ChainID:     event.ChainID,
		Address:     event.PoolAddress,
		Creator:     event.Creator,
		Name:        event.Name,
		Kind:        models.PoolKindToken,
		Status:      models.PoolStatusFunding,
		TxHash:      event.TxHash,
		BlockNumber: event.BlockNumber,
		CreatedAt:   event.Timestamp,
	}
}

func applyState(pool *models.Pool, state *chain.PoolState) {
	if state == nil {
		return
	}
	if state.Name != "" {
		pool.Name = state.Name
	}
	if state.Collection != "" {
		pool.Collection = state.Collection
	}
	if state.Kind != "" {
		pool.Kind = models.PoolKind(state.Kind)
	}
	if state.BuyPriceWei != nil {
		pool.BuyPriceWei = decimal.NewFromBigInt(state.BuyPriceWei, 0)
	}
	if state.SellPriceWei != nil {
		pool.SellPriceWei = decimal.NewFromBigInt(state.SellPriceWei, 0)
	}
	if state.CreatorFeePct != nil {
		// On-chain fee is basis points.
		pool.CreatorFeePct = decimal.NewFromBigInt(state.CreatorFeePct, 0).Div(decimal.NewFromInt(100))
	}
	if state.TotalContribution != nil {
		// Contribution totals are tracked in whole-coin units.
		pool.TotalContribution = decimal.NewFromBigInt(state.TotalContribution, 0).Div(weiPerCoin)
	}
}

// weiPerCoin converts wei to whole-coin units.
var weiPerCoin = decimal.New(1, 18)
