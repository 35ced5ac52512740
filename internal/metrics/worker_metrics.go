package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics содержит метрики relay transactional outbox.
type OutboxMetrics struct {
	publishAttempts *prometheus.CounterVec
	pending         prometheus.Gauge
	oldestAge       prometheus.Gauge
	dropped         prometheus.Counter
}

// NewOutboxMetricsWithRegisterer создаёт метрики outbox в указанном реестре.
func NewOutboxMetricsWithRegisterer(registerer prometheus.Registerer) *OutboxMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &OutboxMetrics{
		publishAttempts: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_publish_attempts_total",
			Help: "Total number of outbox publish attempts grouped by result.",
		}, []string{"result"}),
		pending: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_pending_records",
			Help: "Current number of pending records in transactional outbox.",
		}),
		oldestAge: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_outbox_oldest_pending_age_seconds",
			Help: "Age in seconds of the oldest pending outbox record.",
		}),
		dropped: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_outbox_dropped_events_total",
			Help: "Total number of stock events not enqueued because the outbox backlog is full.",
		}),
	}
}

// RecordAttempt увеличивает счётчик попыток публикации (sent, retry_error, failed, dlq_failed).
func (m *OutboxMetrics) RecordAttempt(result string) {
	if m == nil {
		return
	}
	m.publishAttempts.WithLabelValues(result).Inc()
}

// RecordDropped отмечает событие, отброшенное из-за переполненного backlog.
func (m *OutboxMetrics) RecordDropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

// SetBacklog обновляет размер backlog и возраст самой старой записи.
func (m *OutboxMetrics) SetBacklog(pending int, oldest time.Time, now time.Time) {
	if m == nil {
		return
	}
	m.pending.Set(float64(pending))
	if pending == 0 || oldest.IsZero() {
		m.oldestAge.Set(0)
		return
	}
	m.oldestAge.Set(max(now.Sub(oldest).Seconds(), 0))
}

// CleanupMetrics содержит метрики очистки idempotency-ключей.
type CleanupMetrics struct {
	runs        *prometheus.CounterVec
	deleted     prometheus.Counter
	lastDeleted prometheus.Gauge
}

// NewCleanupMetricsWithRegisterer создаёт метрики очистки в указанном реестре.
func NewCleanupMetricsWithRegisterer(registerer prometheus.Registerer) *CleanupMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &CleanupMetrics{
		runs: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_runs_total",
			Help: "Total number of idempotency cleanup runs grouped by result.",
		}, []string{"result"}),
		deleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_idempotency_cleanup_deleted_total",
			Help: "Total number of deleted expired idempotency records.",
		}),
		lastDeleted: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_idempotency_cleanup_last_deleted",
			Help: "Number of deleted records during the last cleanup run.",
		}),
	}
}

// RecordRun фиксирует результат прогона ("ok" или "error").
func (m *CleanupMetrics) RecordRun(result string, deleted int) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(result).Inc()
	if result == "ok" {
		m.lastDeleted.Set(float64(deleted))
	}
}

// AddDeleted увеличивает счётчик удалённых записей.
func (m *CleanupMetrics) AddDeleted(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.deleted.Add(float64(n))
}
