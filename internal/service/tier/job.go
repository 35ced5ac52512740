// Package tier пересчитывает уровни лояльности по сумме покупок за последний год.
package tier

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
	"github.com/vladislavdragonenkov/shoporder/internal/service/retry"
)

const (
	// SpendWindow задаёт окно, за которое учитываются доставленные заказы.
	SpendWindow = 365 * 24 * time.Hour

	defaultPageSize = 200
	operationName   = "tier_recalc"
)

// Summary подводит итог одного прогона.
type Summary struct {
	Processed int
	Changed   int
	Failed    int
}

// Options задаёт параметры Job.
type Options struct {
	Logger   *log.Entry
	Metrics  *metrics.OrderMetrics
	PageSize int
	Retry    retry.Config
	Clock    func() time.Time
}

// Option настраивает Job.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики смены уровней.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithPageSize задаёт размер страницы при обходе пользователей.
func WithPageSize(size int) Option {
	return func(opts *Options) {
		opts.PageSize = size
	}
}

// WithRetry задаёт политику повтора при LOCK_TIMEOUT.
func WithRetry(cfg retry.Config) Option {
	return func(opts *Options) {
		opts.Retry = cfg
	}
}

// WithClock подменяет источник времени.
func WithClock(clock func() time.Time) Option {
	return func(opts *Options) {
		opts.Clock = clock
	}
}

// Job выставляет каждому пользователю TotalSpent = сумма (FinalAmount - RefundedAmount)
// доставленных за SpendWindow заказов и пересчитывает уровень с причиной BATCH.
// Каждый пользователь обрабатывается в отдельной транзакции.
type Job struct {
	txm      domain.TxManager
	logger   *log.Entry
	metrics  *metrics.OrderMetrics
	retrier  *retry.Retrier
	pageSize int
	now      func() time.Time
}

// NewJob создаёт Job.
func NewJob(txm domain.TxManager, options ...Option) *Job {
	opts := Options{
		PageSize: defaultPageSize,
		Retry:    retry.DefaultConfig(),
		Clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "tier-recalc")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &Job{
		txm:      txm,
		logger:   logger,
		metrics:  opts.Metrics,
		retrier:  retry.New(opts.Retry, logger),
		pageSize: opts.PageSize,
		now:      opts.Clock,
	}
}

// RunOnce обходит всех пользователей по возрастанию ID. Ошибка одного пользователя
// не останавливает прогон; ошибкой прогона считаются только сбой листинга и отмена ctx.
func (j *Job) RunOnce(ctx context.Context) (Summary, error) {
	var summary Summary
	started := j.now()
	since := started.Add(-SpendWindow)

	var afterID int64
	for {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		ids, err := j.listIDs(ctx, afterID)
		if err != nil {
			return summary, fmt.Errorf("list users after %d: %w", afterID, err)
		}
		if len(ids) == 0 {
			break
		}

		for _, userID := range ids {
			changed, err := j.recalculateUser(ctx, userID, since)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return summary, err
				}
				summary.Failed++
				j.logger.WithError(err).WithField("user_id", userID).Warn("tier recalculation failed for user")
				continue
			}
			summary.Processed++
			if changed {
				summary.Changed++
			}
		}

		afterID = ids[len(ids)-1]
		if len(ids) < j.pageSize {
			break
		}
	}

	j.logger.WithFields(log.Fields{
		"processed": summary.Processed,
		"changed":   summary.Changed,
		"failed":    summary.Failed,
		"duration":  j.now().Sub(started),
	}).Info("tier recalculation finished")
	return summary, nil
}

// RecalculateUser пересчитывает одного пользователя; используется админским RPC.
func (j *Job) RecalculateUser(ctx context.Context, userID int64) (bool, error) {
	return j.recalculateUser(ctx, userID, j.now().Add(-SpendWindow))
}

func (j *Job) listIDs(ctx context.Context, afterID int64) ([]int64, error) {
	var ids []int64
	err := j.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		ids, err = tx.Users().ListIDs(ctx, afterID, j.pageSize)
		return err
	})
	return ids, err
}

func (j *Job) recalculateUser(ctx context.Context, userID int64, since time.Time) (bool, error) {
	var changed bool
	finish := j.metrics.Start(operationName)
	err := j.retrier.Do(ctx, operationName, func(ctx context.Context) error {
		changed = false
		return j.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
			user, err := tx.Users().LockByID(ctx, userID)
			if err != nil {
				return err
			}
			spent, err := tx.Orders().SumSettledSpend(ctx, userID, since)
			if err != nil {
				return fmt.Errorf("sum settled spend of user %d: %w", userID, err)
			}

			now := j.now()
			user.TotalSpent = spent
			user.SpendRecalculatedAt = &now
			user.UpdatedAt = now
			from, to, tierChanged := user.ResolveTier()
			if err := tx.Users().Save(ctx, user); err != nil {
				return fmt.Errorf("save user %d: %w", userID, err)
			}
			if !tierChanged {
				return nil
			}
			if err := tx.TierHistory().Append(ctx, domain.TierHistory{
				UserID:     userID,
				FromLevel:  from,
				ToLevel:    to,
				TotalSpent: spent,
				Reason:     domain.TierReasonBatch,
				CreatedAt:  j.now(),
			}); err != nil {
				return fmt.Errorf("append tier history for user %d: %w", userID, err)
			}
			changed = true
			return nil
		})
	})
	finish(string(domain.CodeOf(err)))
	if err == nil && changed {
		j.metrics.RecordTierChange(string(domain.TierReasonBatch))
	}
	return changed, err
}
