package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций ядра заказов.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultFailed   = "failed"
)

// OrderMetrics содержит метрики операций над заказами.
type OrderMetrics struct {
	// Счётчики операций по типу и результату
	operations *prometheus.CounterVec
	// Гистограмма времени выполнения по типу операции
	duration *prometheus.HistogramVec
	// Ошибки по стабильному коду
	errors *prometheus.CounterVec

	lockTimeouts  prometheus.Counter
	stockEvents   prometheus.Counter
	tierChanges   *prometheus.CounterVec
	pointsSettled prometheus.Counter

	// Gauge для операций в работе
	inFlight prometheus.Gauge
}

// NewOrderMetrics создаёт метрики в DefaultRegisterer.
func NewOrderMetrics() *OrderMetrics {
	return NewOrderMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

// NewOrderMetricsWithRegisterer создаёт метрики в указанном реестре (в тестах изолированном).
func NewOrderMetricsWithRegisterer(registerer prometheus.Registerer) *OrderMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &OrderMetrics{
		operations: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_operations_total",
			Help: "Total number of order operations by type and result",
		}, []string{"operation", "result"}),
		duration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "shop_order_operation_duration_seconds",
			Help:    "Duration of order operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"operation"}),
		errors: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_order_errors_total",
			Help: "Total number of failed order operations by error code",
		}, []string{"operation", "code"}),
		lockTimeouts: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_lock_timeouts_total",
			Help: "Total number of operations aborted by row lock timeout",
		}),
		stockEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_stock_changed_events_total",
			Help: "Total number of ProductStockChanged events handed to the publisher",
		}),
		tierChanges: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "shop_tier_changes_total",
			Help: "Total number of user tier changes by reason",
		}, []string{"reason"}),
		pointsSettled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "shop_points_settled_total",
			Help: "Total number of loyalty points credited at delivery",
		}),
		inFlight: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "shop_order_operations_in_flight",
			Help: "Number of order operations currently running",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// Start отмечает начало операции и возвращает функцию завершения.
// code содержит стабильный код ошибки или пустую строку при успехе.
func (m *OrderMetrics) Start(operation string) func(code string) {
	if m == nil {
		return func(string) {}
	}
	started := time.Now()
	m.inFlight.Inc()
	return func(code string) {
		m.inFlight.Dec()
		m.duration.WithLabelValues(operation).Observe(time.Since(started).Seconds())
		m.RecordResult(operation, code)
	}
}

// RecordResult увеличивает счётчик операции. Ошибки INTERNAL считаются failed, остальные rejected.
func (m *OrderMetrics) RecordResult(operation, code string) {
	if m == nil {
		return
	}
	switch code {
	case "":
		m.operations.WithLabelValues(operation, ResultSuccess).Inc()
		return
	case "INTERNAL":
		m.operations.WithLabelValues(operation, ResultFailed).Inc()
	default:
		m.operations.WithLabelValues(operation, ResultRejected).Inc()
	}
	m.errors.WithLabelValues(operation, code).Inc()
	if code == "LOCK_TIMEOUT" {
		m.lockTimeouts.Inc()
	}
}

// RecordStockEvent увеличивает счётчик событий об остатках.
func (m *OrderMetrics) RecordStockEvent() {
	if m == nil {
		return
	}
	m.stockEvents.Inc()
}

// RecordTierChange увеличивает счётчик смен уровня.
func (m *OrderMetrics) RecordTierChange(reason string) {
	if m == nil {
		return
	}
	m.tierChanges.WithLabelValues(reason).Inc()
}

// RecordPointsSettled добавляет начисленные при доставке баллы.
func (m *OrderMetrics) RecordPointsSettled(points int64) {
	if m == nil || points <= 0 {
		return
	}
	m.pointsSettled.Add(float64(points))
}
