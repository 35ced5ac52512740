package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
)

// AggregateTypeProduct задаёт тип агрегата для событий об остатках.
const AggregateTypeProduct = "product"

// ErrBacklogFull — backlog outbox превысил лимит, событие не записано.
var ErrBacklogFull = errors.New("outbox backlog is full")

// StockEventEnqueuer реализует domain.StockEventPublisher: событие об остатках
// пишется в outbox, а в брокер его доставляет Worker.
type StockEventEnqueuer struct {
	repo       domain.OutboxRepository
	maxPending int
	metrics    *metrics.OutboxMetrics
	logger     *log.Entry
}

// NewStockEventEnqueuer создаёт publisher. maxPending <= 0 отключает ограничение backlog.
func NewStockEventEnqueuer(repo domain.OutboxRepository, maxPending int, m *metrics.OutboxMetrics, logger *log.Entry) *StockEventEnqueuer {
	if logger == nil {
		logger = log.WithField("component", "stock-event-enqueuer")
	}
	return &StockEventEnqueuer{repo: repo, maxPending: maxPending, metrics: m, logger: logger}
}

// PublishStockChanged сериализует событие и кладёт его в outbox.
func (e *StockEventEnqueuer) PublishStockChanged(ctx context.Context, event domain.ProductStockChanged) error {
	if len(event.ProductIDs) == 0 {
		return nil
	}

	if e.maxPending > 0 {
		stats, err := e.repo.Stats(ctx)
		if err != nil {
			return fmt.Errorf("outbox stats: %w", err)
		}
		if stats.PendingCount >= e.maxPending {
			e.metrics.RecordDropped()
			return fmt.Errorf("%w: %d pending", ErrBacklogFull, stats.PendingCount)
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal stock event: %w", err)
	}

	msg, err := e.repo.Enqueue(ctx, domain.OutboxMessage{
		AggregateType: AggregateTypeProduct,
		AggregateID:   joinIDs(event.ProductIDs),
		EventType:     domain.EventTypeProductStockChanged,
		Payload:       payload,
		CreatedAt:     event.OccurredAt,
	})
	if err != nil {
		return fmt.Errorf("enqueue stock event: %w", err)
	}

	e.logger.WithFields(log.Fields{
		"outbox_id":   msg.ID,
		"product_ids": msg.AggregateID,
		"reason":      event.Reason,
	}).Debug("stock event enqueued")
	return nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
