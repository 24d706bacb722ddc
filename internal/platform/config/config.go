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
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
	StorageSQLite   = "sqlite"
)

// Config is centralized process configuration.
// Keep infra values here and pass typed config into builders.
type Config struct {
	ServiceName   string
	HTTPPort      string
	StorageDriver string
	PostgresDSN   string
	SQLitePath    string
	KafkaBrokers  []string

	RegistryOwner       string
	ExpirySweepInterval time.Duration
	OutboxRelayInterval time.Duration
	OutboxBatchSize     int
	IdempotencyTTL      time.Duration
	IdempotencyWait     time.Duration

	EnableExpirySweeper bool
	EnableOutboxRelay   bool
}

// Load reads the process environment. A .env file in the working directory
// is applied first when present; real environment variables win over it.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	service := os.Getenv("SERVICE_NAME")
	if service == "" {
		service = "archvote"
	}

	port := os.Getenv("HTTP_PORT")
	if port == "" {
		port = "8080"
	}

	var brokers []string
	for _, value := range strings.Split(os.Getenv("KAFKA_BROKERS"), ",") {
		value = strings.TrimSpace(value)
		if value != "" {
			brokers = append(brokers, value)
		}
	}
	if len(brokers) == 0 {
		brokers = []string{"localhost:9092"}
	}

	driver := strings.ToLower(strings.TrimSpace(os.Getenv("STORAGE_DRIVER")))
	if driver == "" {
		driver = StorageMemory
	}
	switch driver {
	case StorageMemory, StoragePostgres, StorageSQLite:
	default:
		return Config{}, fmt.Errorf("unsupported STORAGE_DRIVER %q", driver)
	}

	cfg := Config{
		ServiceName:   service,
		HTTPPort:      port,
		StorageDriver: driver,
		PostgresDSN:   os.Getenv("POSTGRES_DSN"),
		SQLitePath:    envString("SQLITE_PATH", "archvote.db"),
		KafkaBrokers:  brokers,

		RegistryOwner: strings.TrimSpace(os.Getenv("REGISTRY_OWNER")),

		EnableExpirySweeper: envBool("ENABLE_EXPIRY_SWEEPER", true),
		EnableOutboxRelay:   envBool("ENABLE_OUTBOX_RELAY", true),
	}
	if cfg.RegistryOwner == "" {
		return Config{}, errors.New("REGISTRY_OWNER is required")
	}
	if driver == StoragePostgres && cfg.PostgresDSN == "" {
		return Config{}, errors.New("POSTGRES_DSN is required for the postgres storage driver")
	}

	var err error
	if cfg.ExpirySweepInterval, err = envDuration("EXPIRY_SWEEP_INTERVAL", 15*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxRelayInterval, err = envDuration("OUTBOX_RELAY_INTERVAL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = envDuration("IDEMPOTENCY_TTL", 7*24*time.Hour); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyWait, err = envDuration("IDEMPOTENCY_WAIT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.OutboxBatchSize, err = envInt("OUTBOX_BATCH_SIZE", 100); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envString(name string, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(name)); value != "" {
		return value
	}
	return fallback
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if raw == "" {
		return fallback
	}
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return fallback
	}
}

func envDuration(name string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration such as 30s", name, raw)
	}
	return value, nil
}

func envInt(name string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", name, raw)
	}
	return value, nil
}
