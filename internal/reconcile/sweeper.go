package reconcile

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/moneyflow/transfer-engine/internal/engine"
	"github.com/moneyflow/transfer-engine/internal/interfaces"
	"github.com/moneyflow/transfer-engine/internal/logging"
	"github.com/moneyflow/transfer-engine/internal/metrics"
	"github.com/moneyflow/transfer-engine/internal/models"
)

// Config holds reconciliation sweeper settings.
type Config struct {
	// Interval between sweeps.
	Interval time.Duration
	// MinAge is how long a transaction must sit in SUBMITTED before the
	// sweep considers it stuck.
	MinAge time.Duration
	// Concurrency bounds how many stuck transactions settle in parallel.
	Concurrency int
}

// DefaultConfig returns the default sweeper settings.
func DefaultConfig() Config {
	return Config{
		Interval:    time.Minute,
		MinAge:      time.Minute,
		Concurrency: 4,
	}
}

// Sweeper periodically finds transactions stuck in SUBMITTED state, meaning
// the process that created them died before the synchronous completion step,
// and re-drives each through the engine's settle path. It is the system's
// crash-recovery mechanism: every transaction eventually reaches a terminal
// or FLAGGED state.
//
// Overlapping sweeps are harmless: each transition is a conditional update,
// so a second sweep observing the same row becomes a no-op.
type Sweeper struct {
	store   interfaces.LedgerStore
	engine  *engine.Engine
	logger  *logging.Logger
	metrics metrics.Collector
	cfg     Config
}

// NewSweeper creates a reconciliation sweeper.
func NewSweeper(store interfaces.LedgerStore, eng *engine.Engine, cfg Config, logger *logging.Logger, collector metrics.Collector) *Sweeper {
	if logger == nil {
		logger = logging.NewNop()
	}
	if collector == nil {
		collector = metrics.NoOpCollector{}
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = cfg.Interval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	return &Sweeper{
		store:   store,
		engine:  eng,
		logger:  logger.Named("reconcile"),
		metrics: collector,
		cfg:     cfg,
	}
}

// Run sweeps on the configured interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("reconciliation sweeper started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Duration("min_age", s.cfg.MinAge))

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("reconciliation sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep drives every stale SUBMITTED transaction toward a final state and
// returns how many it processed. Items settle independently: one failure
// never aborts the rest of the pass.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	stuck, err := s.store.ListByStatus(ctx, models.StatusSubmitted, time.Now().Add(-s.cfg.MinAge))
	if err != nil {
		return 0, err
	}
	if len(stuck) == 0 {
		return 0, nil
	}

	var processed, failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)
	for _, tx := range stuck {
		tx := tx
		group.Go(func() error {
			if err := s.resolve(groupCtx, tx); err != nil {
				s.logger.Error("failed to resolve stuck transaction",
					zap.String("transaction_id", tx.ID),
					zap.Error(err))
				failed.Add(1)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	group.Wait()

	s.metrics.RecordSweep(int(processed.Load()), int(failed.Load()))
	s.logger.Info("sweep finished",
		zap.Int("stuck", len(stuck)),
		zap.Int64("processed", processed.Load()),
		zap.Int64("failed", failed.Load()))
	return int(processed.Load()), nil
}

// resolve drives one stuck transaction. A row whose suspicious flag was set
// but whose FLAGGED transition was lost to a crash goes to FLAGGED for the
// review consumer; everything else goes through the shared settle path.
func (s *Sweeper) resolve(ctx context.Context, tx models.Transaction) error {
	if tx.Flagged {
		_, err := s.engine.Flag(ctx, tx)
		return err
	}
	_, err := s.engine.Complete(ctx, tx, models.StatusSubmitted)
	return err
}
