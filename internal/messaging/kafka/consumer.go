package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const defaultRetryDelay = 200 * time.Millisecond

// MessageHandler обрабатывает сообщение из Kafka
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// StockChangedHandler адаптирует обработчик ProductStockChanged к MessageHandler.
// Сообщения других типов пропускаются.
func StockChangedHandler(fn func(ctx context.Context, event domain.ProductStockChanged) error, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "stock-changed-handler")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		event, err := ParseStockChanged(message)
		if errors.Is(err, ErrUnsupportedEvent) {
			logger.WithField("offset", message.Offset).Debug("skip unsupported event")
			return nil
		}
		if err != nil {
			return err
		}
		return fn(ctx, event)
	}
}

// ConsumerOptions задаёт параметры consumer group.
type ConsumerOptions struct {
	DLQProducer *Producer
	MaxRetries  int
	RetryDelay  time.Duration
	Logger      *log.Entry
}

// Consumer представляет Kafka consumer с поддержкой DLQ
type Consumer struct {
	consumer    sarama.ConsumerGroup
	topics      []string
	handler     MessageHandler
	logger      *log.Entry
	wg          sync.WaitGroup
	dlqProducer *Producer     // Producer для отправки в DLQ
	maxRetries  int           // Максимальное количество попыток обработки
	retryDelay  time.Duration // Базовая задержка между попытками
}

// NewConsumer создает новый Kafka consumer
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler) (*Consumer, error) {
	return NewConsumerWithOptions(brokers, groupID, topics, handler, ConsumerOptions{MaxRetries: 3})
}

// NewConsumerWithOptions создает consumer с поддержкой Dead Letter Queue
func NewConsumerWithOptions(brokers []string, groupID string, topics []string, handler MessageHandler, opts ConsumerOptions) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka consumer: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "kafka-consumer")
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 1
	}
	if opts.RetryDelay < 0 {
		opts.RetryDelay = defaultRetryDelay
	}

	return &Consumer{
		consumer:    group,
		topics:      topics,
		handler:     handler,
		logger:      logger,
		dlqProducer: opts.DLQProducer,
		maxRetries:  opts.MaxRetries,
		retryDelay:  opts.RetryDelay,
	}, nil
}

// Start запускает consumer
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			// Consume должен вызываться в цикле, так как при rebalance он завершается
			if err := c.consumer.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("error from consumer")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for err := range c.consumer.Errors() {
			c.logger.WithError(err).Error("consumer error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop останавливает consumer
func (c *Consumer) Stop() error {
	if err := c.consumer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka consumer: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup вызывается при старте consumer session
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error {
	return nil
}

// Cleanup вызывается при завершении consumer session
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

// ConsumeClaim обрабатывает сообщения из partition
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}

			fields := log.Fields{
				"topic":     message.Topic,
				"partition": message.Partition,
				"offset":    message.Offset,
			}
			c.logger.WithFields(fields).Debug("received message")

			if err := c.handleMessageWithRetry(session.Context(), message); err != nil {
				c.logger.WithError(err).WithFields(fields).Error("message processing failed after all retries")
				// offset не коммитится, сообщение будет прочитано после rebalance/restart
				continue
			}

			session.MarkMessage(message, "")

		case <-session.Context().Done():
			return nil
		}
	}
}

// handleMessageWithRetry обрабатывает сообщение с retry логикой и отправкой в DLQ.
// В процессе делается maxRetries попыток минус уже сделанные (header x-retry-count).
func (c *Consumer) handleMessageWithRetry(ctx context.Context, message *sarama.ConsumerMessage) error {
	retryCount := c.getRetryCount(message)
	attempts := max(c.maxRetries-retryCount, 1)

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = c.handler(ctx, message); err == nil {
			return nil
		}
		retryCount++
		if attempt == attempts {
			break
		}

		c.logger.WithError(err).WithFields(log.Fields{
			"topic":       message.Topic,
			"retry_count": retryCount,
			"max_retries": c.maxRetries,
		}).Warn("message processing failed, will retry")

		if c.retryDelay > 0 {
			timer := time.NewTimer(c.retryDelay * time.Duration(attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}

	if retryCount < c.maxRetries || c.dlqProducer == nil {
		return err
	}

	if dlqErr := c.sendToDLQ(ctx, message, err, retryCount); dlqErr != nil {
		c.logger.WithError(dlqErr).Error("failed to send message to DLQ")
		return fmt.Errorf("failed to send to DLQ: %w", dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":       message.Topic,
		"retry_count": retryCount,
	}).Info("message sent to DLQ after max retries")
	return nil
}

// getRetryCount извлекает retry count из headers сообщения
func (c *Consumer) getRetryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		if count, err := strconv.Atoi(string(header.Value)); err == nil {
			return count
		}
	}
	return 0
}

// sendToDLQ отправляет failed message в Dead Letter Queue
func (c *Consumer) sendToDLQ(ctx context.Context, message *sarama.ConsumerMessage, processingErr error, retryCount int) error {
	failedAt := time.Now().UTC()
	deadLetter := ConsumerDeadLetter{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      processingErr.Error(),
		FailedAt:          failedAt,
		RetryCount:        retryCount,
	}

	value, err := encodeJSON(deadLetter)
	if err != nil {
		return err
	}
	return c.dlqProducer.Send(ctx, &sarama.ProducerMessage{
		Topic: TopicDeadLetterQueue,
		Key:   sarama.ByteEncoder(message.Key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte(HeaderOriginalTopic), Value: []byte(message.Topic)},
			{Key: []byte(HeaderErrorMessage), Value: []byte(processingErr.Error())},
			{Key: []byte(HeaderFailedAt), Value: []byte(failedAt.Format(time.RFC3339))},
			{Key: []byte(HeaderRetryCount), Value: []byte(strconv.Itoa(retryCount))},
		},
	})
}
