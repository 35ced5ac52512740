package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

func TestOutboxPublisher_Publish(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageWithCheckerFunctionAndSucceed(func(value []byte) error {
		msg := &sarama.ConsumerMessage{Value: value}
		event, err := ParseStockChanged(msg)
		if err != nil {
			return err
		}
		if len(event.ProductIDs) != 2 || event.ProductIDs[1] != 5 {
			return fmt.Errorf("unexpected event %+v", event)
		}
		envelope, err := ParseEnvelope(msg)
		if err != nil {
			return err
		}
		if envelope.ID != "outbox-1" || envelope.PublishedAt.IsZero() {
			return fmt.Errorf("unexpected envelope %+v", envelope)
		}
		return nil
	})

	producer := NewProducerFromSync(mockProducer, log.WithField("component", "kafka-outbox-publisher-test"))
	publisher := NewOutboxPublisher(producer, TopicStockChanged)

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:            "outbox-1",
		AggregateType: "product",
		AggregateID:   "3,5",
		EventType:     domain.EventTypeProductStockChanged,
		Payload:       []byte(`{"product_ids":[3,5],"reason":"ORDER"}`),
	})
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishProducerError(t *testing.T) {
	t.Parallel()

	mockProducer := mocks.NewSyncProducer(t, nil)
	mockProducer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	publisher := NewOutboxPublisher(NewProducerFromSync(mockProducer, nil), "")

	err := publisher.Publish(context.Background(), domain.OutboxMessage{
		ID:        "outbox-2",
		EventType: domain.EventTypeProductStockChanged,
		Payload:   []byte(`{"product_ids":[1]}`),
	})
	if err == nil {
		t.Fatal("expected publish error, got nil")
	}

	if err := mockProducer.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestOutboxPublisher_PublishNilProducer(t *testing.T) {
	t.Parallel()

	publisher := NewOutboxPublisher(nil, TopicStockChanged)
	if err := publisher.Publish(context.Background(), domain.OutboxMessage{ID: "outbox-3"}); err == nil {
		t.Fatal("expected error for nil producer")
	}
}

func TestEncodeEnvelope_EmptyPayload(t *testing.T) {
	t.Parallel()

	data, err := encodeEnvelope(Envelope{ID: "e-1"})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if string(decoded["payload"]) != "null" {
		t.Fatalf("expected null payload, got %s", decoded["payload"])
	}
}

func TestNewStockChangedMessage_ReadableByParser(t *testing.T) {
	t.Parallel()

	event := domain.ProductStockChanged{ProductIDs: []int64{4, 11}, Reason: "DLQ_REPLAY"}
	msg, err := NewStockChangedMessage(TopicStockChanged, event)
	if err != nil {
		t.Fatalf("build message: %v", err)
	}
	if msg.Topic != TopicStockChanged {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	key, _ := msg.Key.Encode()
	if string(key) != "4,11" {
		t.Fatalf("unexpected key %q", key)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != domain.EventTypeProductStockChanged {
		t.Fatalf("unexpected headers %+v", msg.Headers)
	}

	value, _ := msg.Value.Encode()
	parsed, err := ParseStockChanged(&sarama.ConsumerMessage{Value: value})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if fmt.Sprint(parsed.ProductIDs) != "[4 11]" || parsed.Reason != "DLQ_REPLAY" {
		t.Fatalf("unexpected event %+v", parsed)
	}
}
