package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/memory"
)

func TestStockEventEnqueuer_WritesOutboxMessage(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	enqueuer := NewStockEventEnqueuer(repo, 0, nil, nil)

	occurred := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	err := enqueuer.PublishStockChanged(context.Background(), domain.ProductStockChanged{
		ProductIDs: []int64{3, 5},
		Reason:     domain.InventoryReasonOrder,
		OccurredAt: occurred,
	})
	if err != nil {
		t.Fatalf("PublishStockChanged: %v", err)
	}

	pending, err := repo.PullPending(context.Background(), 10)
	if err != nil {
		t.Fatalf("PullPending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending message, got %d", len(pending))
	}
	msg := pending[0]
	if msg.AggregateType != AggregateTypeProduct || msg.AggregateID != "3,5" {
		t.Fatalf("unexpected aggregate: %s/%s", msg.AggregateType, msg.AggregateID)
	}
	if msg.EventType != domain.EventTypeProductStockChanged {
		t.Fatalf("unexpected event type %s", msg.EventType)
	}

	var event domain.ProductStockChanged
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(event.ProductIDs) != 2 || event.ProductIDs[0] != 3 || !event.OccurredAt.Equal(occurred) {
		t.Fatalf("unexpected payload: %+v", event)
	}
}

func TestStockEventEnqueuer_SkipsEmptyEvent(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{}
	if err := NewStockEventEnqueuer(repo, 0, nil, nil).PublishStockChanged(context.Background(), domain.ProductStockChanged{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.pending) != 0 {
		t.Fatalf("expected no messages, got %d", len(repo.pending))
	}
}

func TestStockEventEnqueuer_RejectsWhenBacklogFull(t *testing.T) {
	t.Parallel()

	repo := &stubOutboxRepo{pending: []domain.OutboxMessage{stockMessage("a"), stockMessage("b")}}
	enqueuer := NewStockEventEnqueuer(repo, 2, nil, nil)

	err := enqueuer.PublishStockChanged(context.Background(), domain.ProductStockChanged{ProductIDs: []int64{1}})
	if !errors.Is(err, ErrBacklogFull) {
		t.Fatalf("expected ErrBacklogFull, got %v", err)
	}
	if len(repo.pending) != 2 {
		t.Fatalf("backlog should stay at 2, got %d", len(repo.pending))
	}
}
