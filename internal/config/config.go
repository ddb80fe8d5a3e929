package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"

	ClaimRedis = "redis"
	ClaimMySQL = "mysql"
	ClaimLocal = "local"
)

type Config struct {
	HTTPPort string
	GRPCPort string

	MySQLDSN  string
	RedisAddr string

	Strategy       string
	StorageBackend string
	ClaimBackend   string

	RollupWorkers    int
	RollupInterval   time.Duration
	RollupDebounce   time.Duration
	RollupBatchSize  int
	RollupClaimTTL   time.Duration
	JournalRetention time.Duration

	AllowNegativeStock bool
	BackorderLimit     int

	LogLevel string
}

// Load reads an optional .env file, then the environment. Variables already
// set in the environment win over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from environment variables only.
func FromEnv() (*Config, error) {
	var errs []error

	cfg := &Config{
		HTTPPort:       stringFromEnv("HTTP_PORT", ":8080"),
		GRPCPort:       stringFromEnv("GRPC_PORT", ":50051"),
		MySQLDSN:       stringFromEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/stockledger?parseTime=true"),
		RedisAddr:      stringFromEnv("REDIS_ADDR", "localhost:6379"),
		Strategy:       strings.ToLower(stringFromEnv("INVENTORY_STRATEGY", "journaling")),
		StorageBackend: strings.ToLower(stringFromEnv("STORAGE_BACKEND", StorageMySQL)),
		ClaimBackend:   strings.ToLower(stringFromEnv("ROLLUP_CLAIM_BACKEND", ClaimRedis)),
		LogLevel:       strings.ToLower(stringFromEnv("LOG_LEVEL", "info")),
	}

	cfg.RollupWorkers = intFromEnv("ROLLUP_WORKERS", 4, &errs)
	cfg.RollupBatchSize = intFromEnv("ROLLUP_BATCH_SIZE", 50, &errs)
	cfg.BackorderLimit = intFromEnv("BACKORDER_LIMIT", 0, &errs)
	cfg.RollupInterval = durationFromEnv("ROLLUP_INTERVAL", 2*time.Second, &errs)
	cfg.RollupDebounce = durationFromEnv("ROLLUP_DEBOUNCE", 500*time.Millisecond, &errs)
	cfg.RollupClaimTTL = durationFromEnv("ROLLUP_CLAIM_TTL", 30*time.Second, &errs)
	cfg.JournalRetention = durationFromEnv("JOURNAL_RETENTION", 24*time.Hour, &errs)
	cfg.AllowNegativeStock = boolFromEnv("ALLOW_NEGATIVE_STOCK", false, &errs)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Strategy {
	case "journaling", "synchronous":
	default:
		errs = append(errs, fmt.Errorf("INVENTORY_STRATEGY: unknown strategy %q", c.Strategy))
	}
	switch c.StorageBackend {
	case StorageMySQL, StorageMemory:
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND: unknown backend %q", c.StorageBackend))
	}
	switch c.ClaimBackend {
	case ClaimRedis, ClaimLocal:
	case ClaimMySQL:
		if c.StorageBackend != StorageMySQL {
			errs = append(errs, errors.New("ROLLUP_CLAIM_BACKEND: mysql claims need STORAGE_BACKEND=mysql"))
		}
	default:
		errs = append(errs, fmt.Errorf("ROLLUP_CLAIM_BACKEND: unknown backend %q", c.ClaimBackend))
	}

	if c.RollupWorkers < 0 {
		errs = append(errs, fmt.Errorf("ROLLUP_WORKERS: must not be negative, got %d", c.RollupWorkers))
	}
	if c.RollupBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("ROLLUP_BATCH_SIZE: must be positive, got %d", c.RollupBatchSize))
	}
	if c.RollupInterval <= 0 {
		errs = append(errs, fmt.Errorf("ROLLUP_INTERVAL: must be positive, got %s", c.RollupInterval))
	}
	if c.RollupDebounce < 0 {
		errs = append(errs, fmt.Errorf("ROLLUP_DEBOUNCE: must not be negative, got %s", c.RollupDebounce))
	}
	if c.RollupClaimTTL <= 0 {
		errs = append(errs, fmt.Errorf("ROLLUP_CLAIM_TTL: must be positive, got %s", c.RollupClaimTTL))
	}
	if c.BackorderLimit < 0 {
		errs = append(errs, fmt.Errorf("BACKORDER_LIMIT: must not be negative, got %d", c.BackorderLimit))
	}
	return errors.Join(errs...)
}

func stringFromEnv(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func intFromEnv(key string, def int, errs *[]error) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return n
}

func durationFromEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return d
}

func boolFromEnv(key string, def bool, errs *[]error) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return b
}
