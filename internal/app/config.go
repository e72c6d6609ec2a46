package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

// Драйверы хранилища.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
)

// Режимы публикации OrderSubmitted.
const (
	PublishModeDirect = "direct"
	PublishModeOutbox = "outbox"
)

// Источники справочника клиентов и товаров.
const (
	CatalogSourceStatic   = "static"
	CatalogSourcePostgres = "postgres"
)

const envPrefix = "SALES_"

// Config описывает настройки запуска sales-service.
type Config struct {
	GRPCAddr    string
	MetricsAddr string

	LogLevel  string
	LogFormat string

	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool
	// Подключение к базе при старте повторяется PostgresConnectAttempts раз.
	PostgresConnectAttempts int
	PostgresConnectMaxDelay time.Duration

	CatalogSource   string
	CatalogCacheTTL time.Duration
	// CatalogCacheSize = 0 отключает кэш справочника.
	CatalogCacheSize int

	KafkaBrokers       []string
	KafkaGroupID       string
	KafkaFromOldest    bool
	Topics             kafka.Topics
	ConsumerMaxRetries int
	ConsumerRetryDelay time.Duration

	PublishMode        string
	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	// После OutboxMaxLag ожидания самого старого pending-события /healthz деградирует.
	OutboxMaxLag time.Duration

	StatusMaxAttempts int
}

// DefaultConfig возвращает настройки для локального запуска без внешних зависимостей.
func DefaultConfig() Config {
	return Config{
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		LogLevel:  "info",
		LogFormat: "text",

		StorageDriver:           StorageDriverMemory,
		PostgresAutoMigrate:     true,
		PostgresConnectAttempts: postgres.DefaultConnectPolicy().Attempts,
		PostgresConnectMaxDelay: postgres.DefaultConnectPolicy().MaxDelay,

		CatalogSource:    CatalogSourceStatic,
		CatalogCacheTTL:  time.Minute,
		CatalogCacheSize: 1024,

		KafkaGroupID:       "sales-service",
		Topics:             kafka.DefaultTopics(),
		ConsumerMaxRetries: 3,
		ConsumerRetryDelay: 200 * time.Millisecond,

		PublishMode:        PublishModeDirect,
		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   50 * time.Millisecond,
		OutboxMaxLag:       time.Minute,

		StatusMaxAttempts: sales.DefaultMaxStatusAttempts,
	}
}

// LoadConfig читает переменные окружения SALES_*. Перед этим подгружаются
// указанные .env файлы (по умолчанию ./.env); уже заданные переменные
// окружения не перезаписываются, отсутствующие файлы игнорируются.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}

	cfg := DefaultConfig()
	l := envLoader{}

	cfg.GRPCAddr = l.string("GRPC_ADDR", cfg.GRPCAddr)
	cfg.MetricsAddr = l.string("METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = l.string("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = l.string("LOG_FORMAT", cfg.LogFormat)

	cfg.StorageDriver = strings.ToLower(l.string("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.PostgresDSN = l.string("POSTGRES_DSN", cfg.PostgresDSN)
	cfg.PostgresAutoMigrate = l.bool("POSTGRES_AUTO_MIGRATE", cfg.PostgresAutoMigrate)
	cfg.PostgresConnectAttempts = l.int("POSTGRES_CONNECT_ATTEMPTS", cfg.PostgresConnectAttempts)
	cfg.PostgresConnectMaxDelay = l.duration("POSTGRES_CONNECT_MAX_DELAY", cfg.PostgresConnectMaxDelay)

	cfg.CatalogSource = strings.ToLower(l.string("CATALOG_SOURCE", cfg.CatalogSource))
	cfg.CatalogCacheTTL = l.duration("CATALOG_CACHE_TTL", cfg.CatalogCacheTTL)
	cfg.CatalogCacheSize = l.int("CATALOG_CACHE_SIZE", cfg.CatalogCacheSize)

	cfg.KafkaBrokers = l.list("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaGroupID = l.string("KAFKA_GROUP_ID", cfg.KafkaGroupID)
	cfg.KafkaFromOldest = l.bool("KAFKA_FROM_OLDEST", cfg.KafkaFromOldest)
	cfg.Topics.SubmitOrder = l.string("TOPIC_SUBMIT_ORDER", cfg.Topics.SubmitOrder)
	cfg.Topics.OrderPacked = l.string("TOPIC_ORDER_PACKED", cfg.Topics.OrderPacked)
	cfg.Topics.PaymentAccepted = l.string("TOPIC_PAYMENT_ACCEPTED", cfg.Topics.PaymentAccepted)
	cfg.Topics.OrderSubmitted = l.string("TOPIC_ORDER_SUBMITTED", cfg.Topics.OrderSubmitted)
	cfg.Topics.DeadLetter = l.string("TOPIC_DLQ", cfg.Topics.DeadLetter)
	cfg.ConsumerMaxRetries = l.int("CONSUMER_MAX_RETRIES", cfg.ConsumerMaxRetries)
	cfg.ConsumerRetryDelay = l.duration("CONSUMER_RETRY_DELAY", cfg.ConsumerRetryDelay)

	cfg.PublishMode = strings.ToLower(l.string("PUBLISH_MODE", cfg.PublishMode))
	cfg.OutboxPollInterval = l.duration("OUTBOX_POLL_INTERVAL", cfg.OutboxPollInterval)
	cfg.OutboxBatchSize = l.int("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.OutboxMaxAttempts = l.int("OUTBOX_MAX_ATTEMPTS", cfg.OutboxMaxAttempts)
	cfg.OutboxRetryDelay = l.duration("OUTBOX_RETRY_DELAY", cfg.OutboxRetryDelay)
	cfg.OutboxMaxLag = l.duration("OUTBOX_MAX_LAG", cfg.OutboxMaxLag)

	cfg.StatusMaxAttempts = l.int("STATUS_MAX_ATTEMPTS", cfg.StatusMaxAttempts)

	if err := errors.Join(l.errs...); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек.
func (c Config) Validate() error {
	var errs []error

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("SALES_POSTGRES_DSN is required for postgres storage"))
		}
		if c.PostgresConnectAttempts <= 0 {
			errs = append(errs, errors.New("postgres connect attempts must be > 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.CatalogSource {
	case CatalogSourceStatic:
	case CatalogSourcePostgres:
		if c.StorageDriver != StorageDriverPostgres {
			errs = append(errs, errors.New("postgres catalog requires postgres storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported catalog source %q", c.CatalogSource))
	}

	switch c.PublishMode {
	case PublishModeDirect, PublishModeOutbox:
	default:
		errs = append(errs, fmt.Errorf("unsupported publish mode %q", c.PublishMode))
	}

	if c.CatalogCacheSize < 0 {
		errs = append(errs, errors.New("catalog cache size must be >= 0"))
	}
	if c.ConsumerMaxRetries < 0 {
		errs = append(errs, errors.New("consumer max retries must be >= 0"))
	}
	if c.OutboxBatchSize <= 0 {
		errs = append(errs, errors.New("outbox batch size must be > 0"))
	}
	if c.OutboxMaxAttempts <= 0 {
		errs = append(errs, errors.New("outbox max attempts must be > 0"))
	}
	if c.OutboxPollInterval <= 0 {
		errs = append(errs, errors.New("outbox poll interval must be > 0"))
	}
	if c.StatusMaxAttempts <= 0 {
		errs = append(errs, errors.New("status max attempts must be > 0"))
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaGroupID == "" {
		errs = append(errs, errors.New("kafka group id is required when brokers are set"))
	}

	return errors.Join(errs...)
}

// KafkaEnabled сообщает, настроен ли брокер.
func (c Config) KafkaEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

type envLoader struct {
	errs []error
}

func (l *envLoader) lookup(key string) (string, bool) {
	value, ok := os.LookupEnv(envPrefix + key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func (l *envLoader) string(key, fallback string) string {
	if value, ok := l.lookup(key); ok {
		return value
	}
	return fallback
}

func (l *envLoader) int(key string, fallback int) int {
	value, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return parsed
}

func (l *envLoader) bool(key string, fallback bool) bool {
	value, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return parsed
}

func (l *envLoader) duration(key string, fallback time.Duration) time.Duration {
	value, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s%s: %w", envPrefix, key, err))
		return fallback
	}
	return parsed
}

func (l *envLoader) list(key string, fallback []string) []string {
	value, ok := l.lookup(key)
	if !ok {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
