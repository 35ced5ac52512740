// Package postgres реализует PostgreSQL-хранилище ядра заказов поверх database/sql и pgx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 25
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
	defaultLockTimeout     = 3 * time.Second
	opTimeout              = 5 * time.Second
)

// Store оборачивает SQL-подключение к PostgreSQL и реализует domain.TxManager.
type Store struct {
	db          *sql.DB
	lockTimeout time.Duration
	logger      *log.Entry
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout задаёт SET LOCAL lock_timeout для каждой транзакции.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithLogger задаёт логгер хранилища.
func WithLogger(logger *log.Entry) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Open открывает подключение к PostgreSQL и проверяет доступность базы.
func Open(ctx context.Context, dsn string, options ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(defaultMaxOpenConns)
	db.SetMaxIdleConns(defaultMaxIdleConns)
	db.SetConnMaxLifetime(defaultConnMaxLifetime)
	db.SetConnMaxIdleTime(defaultConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &Store{
		db:          db,
		lockTimeout: defaultLockTimeout,
		logger:      log.New().WithField("component", "postgres-store"),
	}
	for _, option := range options {
		option(store)
	}
	return store, nil
}

// DB возвращает raw SQL DB, когда нужен низкоуровневый доступ.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность подключения.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// WithinTx выполняет fn в одной транзакции READ COMMITTED. Ожидание блокировок строк
// ограничено lock_timeout; превышение и deadlock возвращаются как ErrLockTimeout.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) (err error) {
	if s == nil || s.db == nil {
		return fmt.Errorf("postgres store is not initialized")
	}

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.WithError(rbErr).Warn("rollback failed")
		}
	}()

	timeout := fmt.Sprintf("%dms", s.lockTimeout.Milliseconds())
	if _, err = sqlTx.ExecContext(ctx, `SELECT set_config('lock_timeout', $1, true)`, timeout); err != nil {
		return mapError(err, nil, "set lock_timeout")
	}

	if err = fn(ctx, &txState{tx: sqlTx}); err != nil {
		return err
	}

	if err = sqlTx.Commit(); err != nil {
		return mapError(err, nil, "commit tx")
	}
	return nil
}

// Close закрывает подключение к БД.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

var _ domain.TxManager = (*Store)(nil)
