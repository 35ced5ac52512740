package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/messaging/kafka"
)

// Поддерживаемые драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// EnvPrefix является префиксом переменных окружения сервиса.
const EnvPrefix = "SHOP_"

// Config описывает настройки запуска сервиса заказов.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	SeedDemo            bool
	LockTimeout         time.Duration

	ShippingFee  int64
	ReturnWindow time.Duration

	KafkaBrokers string
	StockTopic   string
	DLQTopic     string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
	IdempotencyStaleAfter       time.Duration

	TierRecalcEnabled  bool
	TierRecalcInterval time.Duration
}

// DefaultConfig возвращает настройки по умолчанию.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:                    ":50051",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		LockTimeout:                 3 * time.Second,
		ShippingFee:                 3000,
		ReturnWindow:                7 * 24 * time.Hour,
		StockTopic:                  kafka.TopicStockChanged,
		DLQTopic:                    kafka.TopicDeadLetterQueue,
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            time.Second,
		OutboxMaxPending:            1000,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,
		IdempotencyStaleAfter:       10 * time.Minute,
		TierRecalcEnabled:           true,
		TierRecalcInterval:          24 * time.Hour,
	}
}

// Brokers возвращает список Kafka-брокеров без пустых элементов.
func (c Config) Brokers() []string {
	var brokers []string
	for _, broker := range strings.Split(c.KafkaBrokers, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			brokers = append(brokers, broker)
		}
	}
	return brokers
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.GRPCAddr) == "" {
		errs = append(errs, errors.New("grpc addr is required"))
	}
	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			errs = append(errs, errors.New("postgres dsn is required for postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}
	if c.LockTimeout <= 0 {
		errs = append(errs, errors.New("lock timeout must be > 0"))
	}
	if c.ShippingFee < 0 {
		errs = append(errs, errors.New("shipping fee must be >= 0"))
	}
	if c.ReturnWindow <= 0 {
		errs = append(errs, errors.New("return window must be > 0"))
	}
	if c.OutboxPollInterval <= 0 || c.OutboxBatchSize <= 0 || c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox poll interval, batch size and max attempts must be > 0"))
	}
	if c.OutboxRetryDelay < 0 {
		errs = append(errs, errors.New("outbox retry delay must be >= 0"))
	}
	if c.IdempotencyCleanupInterval <= 0 || c.IdempotencyCleanupBatchSize <= 0 {
		errs = append(errs, errors.New("idempotency cleanup interval and batch size must be > 0"))
	}
	if c.IdempotencyStaleAfter < 0 {
		errs = append(errs, errors.New("idempotency stale-after must be >= 0"))
	}
	if c.TierRecalcEnabled && c.TierRecalcInterval <= 0 {
		errs = append(errs, errors.New("tier recalc interval must be > 0 when enabled"))
	}
	return errors.Join(errs...)
}

// LoadConfig читает SHOP_* поверх DefaultConfig. lookup обычно os.LookupEnv.
func LoadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()
	r := envReader{lookup: lookup}

	r.str("GRPC_ADDR", &cfg.GRPCAddr)
	r.str("METRICS_ADDR", &cfg.MetricsAddr)
	r.str("STORAGE_DRIVER", &cfg.StorageDriver)
	r.str("POSTGRES_DSN", &cfg.PostgresDSN)
	r.boolean("POSTGRES_AUTO_MIGRATE", &cfg.PostgresAutoMigrate)
	r.boolean("SEED_DEMO", &cfg.SeedDemo)
	r.duration("LOCK_TIMEOUT", &cfg.LockTimeout)
	r.integer64("SHIPPING_FEE", &cfg.ShippingFee)
	r.duration("RETURN_WINDOW", &cfg.ReturnWindow)
	r.str("KAFKA_BROKERS", &cfg.KafkaBrokers)
	r.str("STOCK_TOPIC", &cfg.StockTopic)
	r.str("DLQ_TOPIC", &cfg.DLQTopic)
	r.duration("OUTBOX_POLL_INTERVAL", &cfg.OutboxPollInterval)
	r.integer("OUTBOX_BATCH_SIZE", &cfg.OutboxBatchSize)
	r.integer("OUTBOX_MAX_ATTEMPTS", &cfg.OutboxMaxAttempts)
	r.duration("OUTBOX_RETRY_DELAY", &cfg.OutboxRetryDelay)
	r.integer("OUTBOX_MAX_PENDING", &cfg.OutboxMaxPending)
	r.duration("IDEMPOTENCY_CLEANUP_INTERVAL", &cfg.IdempotencyCleanupInterval)
	r.integer("IDEMPOTENCY_CLEANUP_BATCH_SIZE", &cfg.IdempotencyCleanupBatchSize)
	r.duration("IDEMPOTENCY_STALE_AFTER", &cfg.IdempotencyStaleAfter)
	r.boolean("TIER_RECALC_ENABLED", &cfg.TierRecalcEnabled)
	r.duration("TIER_RECALC_INTERVAL", &cfg.TierRecalcInterval)

	if err := errors.Join(r.errs...); err != nil {
		return Config{}, err
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (r *envReader) value(key string) (string, bool) {
	if r.lookup == nil {
		return "", false
	}
	raw, ok := r.lookup(EnvPrefix + key)
	if !ok {
		return "", false
	}
	raw = strings.TrimSpace(raw)
	return raw, raw != ""
}

func (r *envReader) str(key string, dst *string) {
	if v, ok := r.value(key); ok {
		*dst = v
	}
}

func (r *envReader) boolean(key string, dst *bool) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) duration(key string, dst *time.Duration) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) integer(key string, dst *int) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = parsed
}

func (r *envReader) integer64(key string, dst *int64) {
	v, ok := r.value(key)
	if !ok {
		return
	}
	parsed, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
		return
	}
	*dst = parsed
}
