// Package retry повторяет операции, упавшие по LOCK_TIMEOUT, с экспоненциальной задержкой.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Config конфигурация для retry логики.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	// Jitter задаёт долю задержки (0..1), на которую она случайно уменьшается.
	Jitter float64
}

// DefaultConfig возвращает конфигурацию по умолчанию.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		InitialDelay:  50 * time.Millisecond,
		MaxDelay:      time.Second,
		BackoffFactor: 2.0,
		Jitter:        0.2,
	}
}

// Retrier выполняет операцию повторно, пока ошибка retryable и попытки не исчерпаны.
type Retrier struct {
	config Config
	logger *log.Entry
	sleep  func(ctx context.Context, d time.Duration) error
}

// New создаёт Retrier. logger может быть nil.
func New(config Config, logger *log.Entry) *Retrier {
	if logger == nil {
		logger = log.New().WithField("component", "retry")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 1
	}
	if config.BackoffFactor < 1 {
		config.BackoffFactor = 1
	}
	return &Retrier{config: config, logger: logger, sleep: sleepContext}
}

// Do вызывает fn до MaxAttempts раз. Повторяются только ошибки, для которых
// domain.IsRetryable == true; остальные возвращаются сразу.
func (r *Retrier) Do(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"operation": operation,
					"attempt":   attempt,
				}).Info("operation succeeded after retry")
			}
			return nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			return err
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		wait := r.withJitter(delay)
		r.logger.WithError(err).WithFields(log.Fields{
			"operation": operation,
			"attempt":   attempt,
			"delay":     wait,
		}).Warn("operation failed, retrying")

		if err := r.sleep(ctx, wait); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if r.config.MaxDelay > 0 && delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	r.logger.WithError(lastErr).WithFields(log.Fields{
		"operation":    operation,
		"max_attempts": r.config.MaxAttempts,
	}).Error("operation failed after all retry attempts")
	return lastErr
}

func (r *Retrier) withJitter(delay time.Duration) time.Duration {
	if r.config.Jitter <= 0 || delay <= 0 {
		return delay
	}
	jitter := min(r.config.Jitter, 1)
	return delay - time.Duration(rand.Float64()*jitter*float64(delay))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
