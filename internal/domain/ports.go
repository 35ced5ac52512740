package domain

import (
	"context"
	"time"
)

// EventTypeProductStockChanged обозначает событие изменения остатков.
const EventTypeProductStockChanged = "ProductStockChanged"

// ProductStockChanged сообщает кэшу, какие товары нужно вытеснить.
type ProductStockChanged struct {
	ProductIDs []int64   `json:"product_ids"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}

// StockEventPublisher отправляет событие об изменении остатков. Вызывается после commit,
// доставка best-effort, at-least-once.
type StockEventPublisher interface {
	PublishStockChanged(ctx context.Context, event ProductStockChanged) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(ctx context.Context, msg OutboxMessage) (OutboxMessage, error)
	PullPending(ctx context.Context, limit int) ([]OutboxMessage, error)
	Stats(ctx context.Context) (OutboxStats, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(ctx context.Context, key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(ctx context.Context, key string) (IdempotencyRecord, error)
	MarkDone(ctx context.Context, key string, responseBody []byte, statusCode int) error
	MarkFailed(ctx context.Context, key string, responseBody []byte, statusCode int) error
	// Release удаляет запись в статусе processing, после чего ключ можно повторить.
	// Завершённые записи не трогает.
	Release(ctx context.Context, key string) error
	DeleteExpired(ctx context.Context, before time.Time, limit int) (int, error)
	// ReleaseStale освобождает до limit записей, застрявших в processing с updated_at <= before.
	ReleaseStale(ctx context.Context, before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
