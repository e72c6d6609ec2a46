package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute

	opTimeout = 5 * time.Second
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// Store оборачивает SQL-подключение к PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open открывает пул через драйвер pgx и проверяет доступность базы.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	store := NewStore(db)
	if err := store.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return store, nil
}

// ConnectPolicy ограничивает повторные попытки подключения при старте сервиса.
type ConnectPolicy struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// DefaultConnectPolicy: 10 попыток, задержка удваивается от 1s до 30s.
func DefaultConnectPolicy() ConnectPolicy {
	return ConnectPolicy{Attempts: 10, BaseDelay: time.Second, MaxDelay: 30 * time.Second}
}

func (p ConnectPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt && d < p.MaxDelay; i++ {
		d *= 2
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// OpenWithRetry повторяет Open, пока база не ответит или не кончатся попытки.
func OpenWithRetry(ctx context.Context, dsn string, policy ConnectPolicy, logger *log.Entry) (*Store, error) {
	return openWithRetry(ctx, dsn, policy, logger, Open)
}

func openWithRetry(
	ctx context.Context,
	dsn string,
	policy ConnectPolicy,
	logger *log.Entry,
	open func(context.Context, string) (*Store, error),
) (*Store, error) {
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		store, err := open(ctx, dsn)
		if err == nil {
			return store, nil
		}
		lastErr = err
		if attempt == policy.Attempts {
			break
		}

		delay := policy.delay(attempt)
		logger.WithError(err).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("postgres is not available, retrying")

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}
	return nil, fmt.Errorf("connect to postgres after %d attempts: %w", policy.Attempts, lastErr)
}

// NewStore оборачивает уже открытый *sql.DB (используется в тестах с sqlmock).
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB возвращает raw SQL DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// Close закрывает пул соединений.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
