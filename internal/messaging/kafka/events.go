package kafka

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Topics для Kafka
const (
	TopicStockChanged    = "shop.product.stock-changed"
	TopicDeadLetterQueue = "shop.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
	HeaderEventType     = "x-event-type"
)

// ErrUnsupportedEvent означает сообщение другого типа, обработчик его пропускает.
var ErrUnsupportedEvent = errors.New("unsupported event type")

// Envelope описывает формат сообщения, которое outbox публикует в topic.
type Envelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// ConsumerDeadLetter отправляется consumer'ом в DLQ после исчерпания попыток.
type ConsumerDeadLetter struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	ErrorMessage      string    `json:"error_message"`
	FailedAt          time.Time `json:"failed_at"`
	RetryCount        int       `json:"retry_count"`
}

// ParseEnvelope разбирает outbox envelope из сообщения
func ParseEnvelope(message *sarama.ConsumerMessage) (Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(message.Value, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	return envelope, nil
}

// ParseStockChanged извлекает ProductStockChanged. Для других типов событий возвращает ErrUnsupportedEvent.
func ParseStockChanged(message *sarama.ConsumerMessage) (domain.ProductStockChanged, error) {
	envelope, err := ParseEnvelope(message)
	if err != nil {
		return domain.ProductStockChanged{}, err
	}
	if envelope.EventType != domain.EventTypeProductStockChanged {
		return domain.ProductStockChanged{}, fmt.Errorf("%w: %q", ErrUnsupportedEvent, envelope.EventType)
	}

	var event domain.ProductStockChanged
	if err := json.Unmarshal(envelope.Payload, &event); err != nil {
		return domain.ProductStockChanged{}, fmt.Errorf("failed to unmarshal stock event: %w", err)
	}
	return event, nil
}

// NewStockChangedMessage собирает сообщение в том же формате, что публикует outbox:
// envelope с ключом из идентификаторов товаров и заголовком типа события.
func NewStockChangedMessage(topic string, event domain.ProductStockChanged) (*sarama.ProducerMessage, error) {
	payload, err := encodeJSON(event)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(event.ProductIDs))
	for i, id := range event.ProductIDs {
		ids[i] = strconv.FormatInt(id, 10)
	}
	key := strings.Join(ids, ",")

	value, err := encodeEnvelope(Envelope{
		ID:            uuid.NewString(),
		AggregateType: "product",
		AggregateID:   key,
		EventType:     domain.EventTypeProductStockChanged,
		Payload:       payload,
		PublishedAt:   time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	return &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderEventType), Value: []byte(domain.EventTypeProductStockChanged)},
		},
	}, nil
}

func encodeEnvelope(envelope Envelope) ([]byte, error) {
	if len(envelope.Payload) == 0 {
		envelope.Payload = json.RawMessage("null")
	}
	return encodeJSON(envelope)
}

func encodeJSON(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %T: %w", value, err)
	}
	return data, nil
}
