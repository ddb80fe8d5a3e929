package main

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-ledger/internal/adapter/handler"
	"github.com/rl1809/stock-ledger/internal/adapter/storage"
	"github.com/rl1809/stock-ledger/internal/config"
	"github.com/rl1809/stock-ledger/internal/core/domain"
	"github.com/rl1809/stock-ledger/internal/core/service"
	"github.com/rl1809/stock-ledger/internal/port"
)

const healthInterval = 5 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := newLogger(cfg.LogLevel)
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Storage
	var (
		inventoryStore port.InventoryStore
		db             *sql.DB
	)
	switch cfg.StorageBackend {
	case config.StorageMySQL:
		db, err = sql.Open("mysql", cfg.MySQLDSN)
		if err != nil {
			logger.Fatal("failed to open mysql", zap.Error(err))
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			logger.Fatal("failed to ping mysql", zap.Error(err))
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.Migrate(ctx); err != nil {
			logger.Fatal("failed to migrate schema", zap.Error(err))
		}
		inventoryStore = mysqlAdapter
		logger.Info("connected to mysql")
	default:
		inventoryStore = storage.NewMemoryAdapter()
		logger.Info("using in-memory store")
	}

	// Rollup claims
	var (
		locker port.RollupLocker
		rdb    *redis.Client
	)
	switch cfg.ClaimBackend {
	case config.ClaimRedis:
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			PoolSize: 100,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to connect redis", zap.Error(err))
		}
		locker = storage.NewRedisClaimLocker(rdb, cfg.RollupClaimTTL)
		logger.Info("connected to redis")
	case config.ClaimMySQL:
		locker = storage.NewMySQLClaimLocker(db, cfg.RollupClaimTTL)
	default:
		locker = storage.NewLocalClaimLocker()
	}

	// Service
	kind, err := service.ParseStrategyKind(cfg.Strategy)
	if err != nil {
		logger.Fatal("invalid strategy", zap.Error(err))
	}
	strategy, err := service.NewStrategy(kind, inventoryStore, domain.StockPolicy{
		AllowNegativeStock: cfg.AllowNegativeStock,
		BackorderLimit:     cfg.BackorderLimit,
	})
	if err != nil {
		logger.Fatal("failed to build strategy", zap.Error(err))
	}
	facade := service.NewInventoryFacade(strategy, logger)
	logger.Info("inventory strategy ready",
		zap.String("strategy", string(facade.Strategy())),
		zap.Any("capabilities", facade.Capabilities()),
	)

	// Rollup workers
	var wg sync.WaitGroup
	workerCtx, stopWorkers := context.WithCancel(ctx)
	if kind == service.StrategyJournaling && cfg.RollupWorkers > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := service.RunRollupWorkers(workerCtx, cfg.RollupWorkers, inventoryStore, locker, logger, service.RollupConfig{
				Interval:  cfg.RollupInterval,
				Debounce:  cfg.RollupDebounce,
				BatchSize: cfg.RollupBatchSize,
				Retention: cfg.JournalRetention,
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("rollup workers stopped", zap.Error(err))
			}
		}()
		logger.Info("started rollup workers", zap.Int("workers", cfg.RollupWorkers))
	}

	// gRPC health
	grpcHandler := handler.NewGRPCHandler(facade, logger)
	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, grpcHandler.Server())

	lis, err := net.Listen("tcp", cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", cfg.GRPCPort))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		grpcHandler.Watch(workerCtx, healthInterval)
	}()

	// HTTP health
	httpHandler := handler.NewHTTPHandler(facade)
	mux := http.NewServeMux()
	mux.HandleFunc("/health", httpHandler.HealthCheck)

	httpServer := &http.Server{
		Addr:    cfg.HTTPPort,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	stopWorkers()
	wg.Wait()
	logger.Info("rollup workers stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("connections closed")
}

func newLogger(level string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if level == "debug" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	return logger
}
