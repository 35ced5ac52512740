package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, counter prometheus.Counter) float64 {
	t.Helper()
	metric := &dto.Metric{}
	if err := counter.Write(metric); err != nil {
		t.Fatalf("failed to write metric: %v", err)
	}
	return metric.GetCounter().GetValue()
}

func TestNewOrderMetricsWithRegisterer(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	if metrics.operations == nil || metrics.duration == nil || metrics.errors == nil {
		t.Fatal("operation collectors should not be nil")
	}
	if metrics.lockTimeouts == nil || metrics.stockEvents == nil || metrics.tierChanges == nil {
		t.Fatal("event collectors should not be nil")
	}

	// повторная регистрация в том же реестре возвращает существующие коллекторы
	again := NewOrderMetricsWithRegisterer(reg)
	again.RecordStockEvent()
	if got := counterValue(t, metrics.stockEvents); got != 1.0 {
		t.Fatalf("expected shared counter value 1.0, got %f", got)
	}
}

func TestStart_RecordsResultAndDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	done := metrics.Start("create")
	time.Sleep(time.Millisecond)
	done("")

	metrics.Start("create")("INSUFFICIENT_STOCK")
	metrics.Start("create")("LOCK_TIMEOUT")
	metrics.Start("cancel")("INTERNAL")

	cases := []struct {
		operation string
		result    string
		want      float64
	}{
		{"create", ResultSuccess, 1},
		{"create", ResultRejected, 2},
		{"cancel", ResultFailed, 1},
	}
	for _, tc := range cases {
		got := counterValue(t, metrics.operations.WithLabelValues(tc.operation, tc.result))
		if got != tc.want {
			t.Errorf("%s/%s: expected %f, got %f", tc.operation, tc.result, tc.want, got)
		}
	}

	if got := counterValue(t, metrics.lockTimeouts); got != 1.0 {
		t.Errorf("expected 1 lock timeout, got %f", got)
	}
	if got := counterValue(t, metrics.errors.WithLabelValues("create", "INSUFFICIENT_STOCK")); got != 1.0 {
		t.Errorf("expected 1 insufficient stock error, got %f", got)
	}

	gauge := &dto.Metric{}
	if err := metrics.inFlight.Write(gauge); err != nil {
		t.Fatalf("failed to write gauge: %v", err)
	}
	if gauge.GetGauge().GetValue() != 0 {
		t.Errorf("expected no operations in flight, got %f", gauge.GetGauge().GetValue())
	}

	histogram := &dto.Metric{}
	if err := metrics.duration.WithLabelValues("create").(prometheus.Histogram).Write(histogram); err != nil {
		t.Fatalf("failed to write histogram: %v", err)
	}
	if histogram.GetHistogram().GetSampleCount() != 3 {
		t.Errorf("expected 3 samples, got %d", histogram.GetHistogram().GetSampleCount())
	}
}

func TestRecordTierChangeAndPoints(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewOrderMetricsWithRegisterer(reg)

	metrics.RecordTierChange("ORDER")
	metrics.RecordTierChange("ORDER")
	metrics.RecordPointsSettled(150)
	metrics.RecordPointsSettled(-5)

	if got := counterValue(t, metrics.tierChanges.WithLabelValues("ORDER")); got != 2.0 {
		t.Errorf("expected 2 tier changes, got %f", got)
	}
	if got := counterValue(t, metrics.pointsSettled); got != 150.0 {
		t.Errorf("expected 150 settled points, got %f", got)
	}
}

func TestNilMetricsAreNoop(t *testing.T) {
	var metrics *OrderMetrics
	metrics.Start("create")("")
	metrics.RecordStockEvent()
	metrics.RecordTierChange("BATCH")
	metrics.RecordPointsSettled(10)
}

func TestOutboxMetrics_SetBacklog(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewOutboxMetricsWithRegisterer(reg)

	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	m.SetBacklog(3, now.Add(-90*time.Second), now)
	m.RecordAttempt("sent")
	m.RecordDropped()

	gauge := &dto.Metric{}
	if err := m.oldestAge.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 90 {
		t.Fatalf("expected oldest age 90s, got %f", got)
	}
	if got := counterValue(t, m.dropped); got != 1 {
		t.Fatalf("expected 1 dropped event, got %f", got)
	}

	m.SetBacklog(0, time.Time{}, now)
	if err := m.oldestAge.Write(gauge); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := gauge.GetGauge().GetValue(); got != 0 {
		t.Fatalf("expected zero age for empty backlog, got %f", got)
	}
}

func TestWorkerMetrics_NilSafe(t *testing.T) {
	var outbox *OutboxMetrics
	outbox.RecordAttempt("sent")
	outbox.RecordDropped()
	outbox.SetBacklog(1, time.Now(), time.Now())

	var cleanup *CleanupMetrics
	cleanup.RecordRun("ok", 1)
	cleanup.AddDeleted(1)
}
