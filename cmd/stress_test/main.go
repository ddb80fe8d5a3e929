package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
)

const (
	skuCode       = "STRESS-SKU"
	warehouseID   = 1
	initialStock  = 20
	totalRequests = 50
	rollupWorkers = 4
	drainTimeout  = 10 * time.Second
)

func main() {
	logger, err := zap.NewDevelopment(zap.IncreaseLevel(zap.WarnLevel))
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := storage.NewMemoryAdapter()
	locker := storage.NewLocalClaimLocker()

	strategy, err := service.NewStrategy(service.StrategyJournaling, store, domain.StockPolicy{})
	if err != nil {
		logger.Fatal("failed to build strategy", zap.Error(err))
	}
	facade := service.NewInventoryFacade(strategy, logger)
	commands := facade.CommandFactory()
	key := domain.NewInventoryKey(skuCode, warehouseID)

	if _, err := facade.ExecuteCommand(ctx, commands.CreateOrUpdate(domain.InventoryRecord{
		Key:            key,
		QuantityOnHand: initialStock,
	})); err != nil {
		logger.Fatal("failed to seed inventory", zap.Error(err))
	}

	// Rollup workers fold the journal while allocations are running
	var workers sync.WaitGroup
	workers.Add(1)
	go func() {
		defer workers.Done()
		err := service.RunRollupWorkers(ctx, rollupWorkers, store, locker, logger, service.RollupConfig{
			Interval:  20 * time.Millisecond,
			BatchSize: 100,
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("rollup workers stopped", zap.Error(err))
		}
	}()

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent allocations
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(orderID int) {
			defer wg.Done()

			cmd := commands.Allocate(key, 1)
			cmd.Log.OrderNumber = fmt.Sprintf("order-%d", orderID)
			if _, err := facade.ExecuteCommand(ctx, cmd); err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Wait for the journal to drain
	drained := false
	deadline := time.Now().Add(drainTimeout)
	for time.Now().Before(deadline) {
		keys, err := store.PendingKeys(ctx, time.Now().Add(time.Hour), 1)
		if err == nil && len(keys) == 0 {
			drained = true
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	workers.Wait()

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// Assertions
	if success == int32(initialStock) && fail == int32(totalRequests-initialStock) {
		fmt.Printf("PASS: Exactly %d allocations succeeded, %d failed\n", initialStock, totalRequests-initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d success/%d fail, got %d/%d\n",
			initialStock, totalRequests-initialStock, success, fail)
	}

	if drained {
		fmt.Println("PASS: Journal fully rolled up")
	} else {
		fmt.Printf("FAIL: Journal still pending after %v\n", drainTimeout)
	}

	// Verify the stored record, not the merged view
	records, err := store.GetInventories(context.Background(), []domain.InventoryKey{key})
	if err != nil {
		fmt.Printf("FAIL: Could not read record: %v\n", err)
		return
	}
	record := records[key]
	fmt.Printf("Final Allocated:  %d\n", record.AllocatedQuantity)

	if record.AllocatedQuantity == initialStock && record.QuantityOnHand == initialStock {
		fmt.Println("PASS: Stock fully allocated")
	} else {
		fmt.Printf("FAIL: Expected allocated %d, got %d\n", initialStock, record.AllocatedQuantity)
	}
}
