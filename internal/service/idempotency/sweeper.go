// Package idempotency обслуживает таблицу ключей идемпотентности между запросами:
// удаляет просроченные записи и освобождает ключи, зависшие в processing.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
)

// SweepConfig задаёт расписание и границы одного прохода.
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
	// StaleAfter ограничивает, сколько ключ может оставаться в processing, прежде чем его
	// освободят для повтора. 0 отключает освобождение.
	StaleAfter time.Duration
}

// DefaultSweepConfig возвращает настройки для order-service.
func DefaultSweepConfig() SweepConfig {
	return SweepConfig{
		Interval:   time.Minute,
		BatchSize:  500,
		StaleAfter: 10 * time.Minute,
	}
}

// SweepResult считает записи, удалённые одним проходом.
type SweepResult struct {
	Expired  int
	Released int
}

// Option настраивает Sweeper.
type Option func(*Sweeper)

func WithLogger(logger *log.Entry) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithMetrics(m *metrics.CleanupMetrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Sweeper периодически чистит ключи идемпотентности.
type Sweeper struct {
	repo    domain.IdempotencyRepository
	cfg     SweepConfig
	logger  *log.Entry
	metrics *metrics.CleanupMetrics
	now     func() time.Time
}

// NewSweeper создаёт Sweeper; нулевые Interval и BatchSize берутся из DefaultSweepConfig.
func NewSweeper(repo domain.IdempotencyRepository, cfg SweepConfig, options ...Option) *Sweeper {
	defaults := DefaultSweepConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = defaults.Interval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	cfg.StaleAfter = max(cfg.StaleAfter, 0)

	s := &Sweeper{
		repo:   repo,
		cfg:    cfg,
		logger: log.WithField("component", "idempotency-sweeper"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Run выполняет проход сразу и затем каждые Interval до отмены ctx.
func (s *Sweeper) Run(ctx context.Context) {
	if s.repo == nil {
		s.logger.Warn("idempotency sweeper is disabled: repository is nil")
		return
	}

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		s.sweepAndReport(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep удаляет ключи с истёкшим TTL, затем освобождает зависшие в processing.
func (s *Sweeper) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now()

	var (
		result SweepResult
		err    error
	)
	result.Expired, err = s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.DeleteExpired(ctx, now, s.cfg.BatchSize)
	})
	if err != nil {
		return result, fmt.Errorf("delete expired idempotency keys: %w", err)
	}

	if s.cfg.StaleAfter == 0 {
		return result, nil
	}
	staleBefore := now.Add(-s.cfg.StaleAfter)
	result.Released, err = s.drain(ctx, func(ctx context.Context) (int, error) {
		return s.repo.ReleaseStale(ctx, staleBefore, s.cfg.BatchSize)
	})
	if err != nil {
		return result, fmt.Errorf("release stale idempotency keys: %w", err)
	}
	return result, nil
}

// drain повторяет step, пока порция заполнена целиком.
func (s *Sweeper) drain(ctx context.Context, step func(context.Context) (int, error)) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := step(ctx)
		total += n
		s.metrics.AddDeleted(n)
		if err != nil || n < s.cfg.BatchSize {
			return total, err
		}
	}
}

func (s *Sweeper) sweepAndReport(ctx context.Context) {
	result, err := s.Sweep(ctx)
	removed := result.Expired + result.Released
	switch {
	case errors.Is(err, context.Canceled):
		return
	case err != nil:
		s.metrics.RecordRun("error", removed)
		s.logger.WithError(err).Warn("idempotency sweep failed")
		return
	}

	s.metrics.RecordRun("ok", removed)
	if result.Released > 0 {
		s.logger.WithField("released", result.Released).Warn("released idempotency keys stuck in processing")
	}
	if result.Expired > 0 {
		s.logger.WithField("expired", result.Expired).Debug("expired idempotency keys removed")
	}
}
