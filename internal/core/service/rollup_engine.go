package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/core/audit"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/port"
)

const contentionComment = "task terminated"

// RollupConfig controls how often and how much a rollup worker folds.
type RollupConfig struct {
	Interval  time.Duration
	Debounce  time.Duration
	BatchSize int
	Retention time.Duration
}

func DefaultRollupConfig() RollupConfig {
	return RollupConfig{
		Interval:  2 * time.Second,
		Debounce:  500 * time.Millisecond,
		BatchSize: 50,
		Retention: 24 * time.Hour,
	}
}

// RollupEngine folds pending journal entries into their records. Each
// engine is one worker with its own id; engines sharing a locker never fold
// the same key at once.
type RollupEngine struct {
	workerID string
	store    port.InventoryStore
	locker   port.RollupLocker
	cfg      RollupConfig
	audit    *audit.Logger
	log      *zap.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

func NewRollupEngine(store port.InventoryStore, locker port.RollupLocker, logger *zap.Logger, cfg RollupConfig) *RollupEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultRollupConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}

	workerID := "rollup-" + uuid.NewString()
	return &RollupEngine{
		workerID: workerID,
		store:    store,
		locker:   locker,
		cfg:      cfg,
		audit:    audit.NewLogger(logger),
		log:      logger.Named("rollup").With(zap.String("worker", workerID)),
		tracer:   otel.Tracer(tracerName),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *RollupEngine) WorkerID() string {
	return e.workerID
}

// RollupKey folds every pending entry of key into its record. A key claimed
// by another worker is not an error: the task ends ABORTED_CONTENTION.
func (e *RollupEngine) RollupKey(ctx context.Context, key domain.InventoryKey) (domain.RollupTask, error) {
	ctx, span := e.tracer.Start(ctx, "RollupEngine.RollupKey", trace.WithAttributes(
		attribute.String("inventory.sku", key.SkuCode),
		attribute.Int64("inventory.warehouse", key.WarehouseID),
		attribute.String("rollup.worker", e.workerID),
	))
	defer span.End()

	task := domain.RollupTask{Key: key, ClaimedBy: e.workerID, StartedAt: e.now()}
	lc := domain.LogContext{Key: key, Originator: e.workerID}

	claim, err := e.locker.TryClaim(ctx, key, e.workerID)
	if errors.Is(err, domain.ErrRollupContention) {
		task.State = domain.RollupStateAbortedContention
		lc.Comment = contentionComment
		e.audit.Info(audit.MessageRollupContended, lc)
		span.SetAttributes(attribute.String("rollup.state", string(task.State)))
		return task, nil
	}
	if err != nil {
		task.State = domain.RollupStateFailed
		err = fmt.Errorf("claim %s: %w", key, err)
		recordError(span, err)
		return task, err
	}
	defer func() {
		// The claim is released even when ctx is already cancelled.
		if err := claim.Release(context.WithoutCancel(ctx)); err != nil {
			e.log.Warn("release rollup claim", zap.Stringer("key", key), zap.Error(err))
		}
	}()

	task.State = domain.RollupStateClaimed
	e.audit.Info(audit.MessageRollupStarted, lc)
	task.State = domain.RollupStateRunning

	var (
		applied  domain.JournalRollup
		orphaned bool
	)
	err = e.store.RunInTx(ctx, func(ctx context.Context, tx port.InventoryTx) error {
		record, err := tx.GetInventory(ctx, key)
		if err != nil {
			return err
		}
		pending, err := tx.PendingJournal(ctx, key)
		if err != nil {
			return err
		}

		applied = domain.SumJournal(key, pending)
		if len(pending) == 0 {
			return nil
		}
		if record == nil {
			orphaned = true
			return tx.DeleteJournal(ctx, key)
		}

		if err := tx.SaveInventory(ctx, applied.ApplyTo(*record)); err != nil {
			return err
		}
		return tx.RetireJournal(ctx, key, sequencesOf(pending))
	})
	if err != nil {
		task.State = domain.RollupStateFailed
		err = fmt.Errorf("rollup %s: %w", key, err)
		e.audit.Error(audit.MessageRollupFailed, lc, err)
		recordError(span, err)
		return task, err
	}

	task.State = domain.RollupStateDone
	task.Applied = applied

	lc.Attributes = map[string]any{"entries": applied.Entries}
	if orphaned {
		lc.Comment = "orphaned journal discarded"
		task.Applied = domain.JournalRollup{Key: key}
	}
	e.audit.Info(audit.MessageRollupEnded, lc)
	span.SetAttributes(attribute.Int("rollup.entries", applied.Entries))
	return task, nil
}

// RunOnce folds up to BatchSize keys whose oldest pending entry has
// outlived the debounce window. It returns the tasks it ran.
func (e *RollupEngine) RunOnce(ctx context.Context) ([]domain.RollupTask, error) {
	keys, err := e.store.PendingKeys(ctx, e.now().Add(-e.cfg.Debounce), e.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending keys: %w", err)
	}

	tasks := make([]domain.RollupTask, 0, len(keys))
	var errs []error
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		task, err := e.RollupKey(ctx, key)
		tasks = append(tasks, task)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return tasks, errors.Join(errs...)
}

// Compact deletes retired entries older than the retention window.
func (e *RollupEngine) Compact(ctx context.Context) (int64, error) {
	if e.cfg.Retention <= 0 {
		return 0, nil
	}
	purged, err := e.store.PurgeRetired(ctx, e.now().Add(-e.cfg.Retention))
	if err != nil {
		return 0, fmt.Errorf("compact journal: %w", err)
	}
	return purged, nil
}

// Run folds and compacts on every interval until ctx is done.
func (e *RollupEngine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.log.Info("rollup worker started",
		zap.Duration("interval", e.cfg.Interval),
		zap.Duration("debounce", e.cfg.Debounce),
		zap.Int("batch_size", e.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("rollup worker stopped")
			return nil
		case <-ticker.C:
			tasks, err := e.RunOnce(ctx)
			if err != nil && ctx.Err() == nil {
				e.log.Error("rollup pass failed", zap.Error(err))
			}
			if len(tasks) > 0 {
				e.log.Debug("rollup pass finished", zap.Int("tasks", len(tasks)))
			}

			purged, err := e.Compact(ctx)
			if err != nil && ctx.Err() == nil {
				e.log.Error("journal compaction failed", zap.Error(err))
			}
			if purged > 0 {
				e.log.Debug("journal compacted", zap.Int64("purged", purged))
			}
		}
	}
}
