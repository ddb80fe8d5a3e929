package service

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rl1809/stock-ledger/internal/port"
)

// RunRollupWorkers runs n rollup engines until ctx is done. Start times are
// spread over one interval so the workers do not scan in lockstep.
func RunRollupWorkers(ctx context.Context, n int, store port.InventoryStore, locker port.RollupLocker, logger *zap.Logger, cfg RollupConfig) error {
	if n <= 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		engine := NewRollupEngine(store, locker, logger, cfg)
		offset := engine.cfg.Interval * time.Duration(i) / time.Duration(n)

		g.Go(func() error {
			timer := time.NewTimer(offset)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
			return engine.Run(ctx)
		})
	}
	return g.Wait()
}
