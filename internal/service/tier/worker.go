package tier

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

const defaultInterval = 24 * time.Hour

// Worker периодически запускает Job до отмены ctx.
type Worker struct {
	job      *Job
	interval time.Duration
	logger   *log.Entry
}

// NewWorker создаёт воркер. interval <= 0 означает раз в сутки.
func NewWorker(job *Job, interval time.Duration, logger *log.Entry) *Worker {
	if interval <= 0 {
		interval = defaultInterval
	}
	if logger == nil {
		logger = log.WithField("component", "tier-recalc-worker")
	}
	return &Worker{job: job, interval: interval, logger: logger}
}

// Run блокируется до отмены ctx. Первый прогон выполняется через interval после старта.
func (w *Worker) Run(ctx context.Context) {
	if w.job == nil {
		w.logger.Warn("tier recalculation worker is disabled: job is nil")
		return
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.job.RunOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.WithError(err).Error("tier recalculation run failed")
			}
		}
	}
}
