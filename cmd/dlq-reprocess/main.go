// dlq-reprocess вычитывает из DLQ события об изменении остатков, объединяет затронутые
// товары и публикует одно сводное событие в topic остатков, чтобы cache-evictor
// сбросил кэш, который пропустил при сбое. По умолчанию работает в режиме dry-run.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporder/internal/service/outbox"
)

const (
	defaultScanLimit   = 1000
	defaultIdleTimeout = 2 * time.Second
	envKafkaBrokers    = "SHOP_KAFKA_BROKERS"

	// Reason сводного события.
	replayReason = "DLQ_REPLAY"
)

type config struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	idleTimeout time.Duration
}

// dlqSource покрывает часть sarama.Consumer, которой достаточно для чтения DLQ.
type dlqSource interface {
	Partitions(topic string) ([]int32, error)
	ConsumePartition(topic string, partition int32, offset int64) (sarama.PartitionConsumer, error)
	Close() error
}

var (
	newSource = func(cfg config) (dlqSource, error) {
		conf := sarama.NewConfig()
		conf.Consumer.Return.Errors = true
		consumer, err := sarama.NewConsumer(cfg.brokers, conf)
		if err != nil {
			return nil, fmt.Errorf("create kafka consumer: %w", err)
		}
		return consumer, nil
	}
	newProducer = func(cfg config) (*kafka.Producer, error) {
		return kafka.NewProducer(cfg.brokers)
	}
)

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, os.Stdout); err != nil {
		stop()
		fail("dlq replay failed: %v", err)
	}
}

func parseConfig(args []string, lookup func(string) (string, bool)) (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: "+envKafkaBrokers+")")
	fs.StringVar(&cfg.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&cfg.targetTopic, "target-topic", kafka.TopicStockChanged, "stock topic for the merged event")
	fs.IntVar(&cfg.limit, "limit", defaultScanLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&cfg.execute, "execute", false, "publish the merged event; default is dry-run")
	fs.DurationVar(&cfg.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw, _ = lookup(envKafkaBrokers)
	}
	for _, broker := range strings.Split(brokersRaw, ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}
	cfg.sourceTopic = strings.TrimSpace(cfg.sourceTopic)
	cfg.targetTopic = strings.TrimSpace(cfg.targetTopic)

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, fmt.Errorf("kafka brokers are required (-brokers or %s)", envKafkaBrokers))
	}
	if cfg.sourceTopic == "" || cfg.targetTopic == "" {
		errs = append(errs, errors.New("source-topic and target-topic are required"))
	}
	if cfg.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if cfg.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func run(ctx context.Context, cfg config, out io.Writer) error {
	source, err := newSource(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = source.Close() }()

	found, err := collect(ctx, source, cfg)
	if err != nil {
		return err
	}

	published := false
	if cfg.execute && len(found.products) > 0 {
		producer, err := newProducer(cfg)
		if err != nil {
			return err
		}
		defer func() { _ = producer.Close() }()

		msg, err := kafka.NewStockChangedMessage(cfg.targetTopic, found.merged(time.Now().UTC()))
		if err != nil {
			return err
		}
		if err := producer.Send(ctx, msg); err != nil {
			return fmt.Errorf("publish merged stock event: %w", err)
		}
		published = true
	}

	_, _ = fmt.Fprintf(out, "scanned=%d recovered=%d skipped=%d products=%v published=%t\n",
		found.scanned, found.recovered, found.skipped, found.productIDs(), published)
	return nil
}

// recovered накапливает товары из разобранных событий.
type recovered struct {
	scanned   int
	recovered int
	skipped   int
	products  map[int64]struct{}
}

func (r *recovered) add(event domain.ProductStockChanged) {
	if r.products == nil {
		r.products = make(map[int64]struct{})
	}
	for _, id := range event.ProductIDs {
		r.products[id] = struct{}{}
	}
	r.recovered++
}

func (r recovered) productIDs() []int64 {
	ids := make([]int64, 0, len(r.products))
	for id := range r.products {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r recovered) merged(at time.Time) domain.ProductStockChanged {
	return domain.ProductStockChanged{ProductIDs: r.productIDs(), Reason: replayReason, OccurredAt: at}
}

func collect(ctx context.Context, source dlqSource, cfg config) (recovered, error) {
	var found recovered

	partitions, err := source.Partitions(cfg.sourceTopic)
	if err != nil {
		return found, fmt.Errorf("list partitions of %s: %w", cfg.sourceTopic, err)
	}
	slices.Sort(partitions)

	for _, partition := range partitions {
		if found.scanned >= cfg.limit {
			break
		}
		if err := scanPartition(ctx, source, cfg, partition, &found); err != nil {
			return found, err
		}
	}
	return found, nil
}

// scanPartition читает партицию с начала до high water mark, лимита или паузы idleTimeout.
func scanPartition(ctx context.Context, source dlqSource, cfg config, partition int32, found *recovered) error {
	pc, err := source.ConsumePartition(cfg.sourceTopic, partition, sarama.OffsetOldest)
	if err != nil {
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}
	defer func() { _ = pc.Close() }()

	for found.scanned < cfg.limit {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case consumerErr := <-pc.Errors():
			if consumerErr != nil {
				return fmt.Errorf("partition %d: %w", partition, consumerErr)
			}
		case <-time.After(cfg.idleTimeout):
			return nil
		case msg, ok := <-pc.Messages():
			if !ok {
				return nil
			}
			found.scanned++
			event, err := decodeStockEvent(msg)
			if err != nil {
				found.skipped++
				log.WithError(err).WithFields(log.Fields{
					"partition": msg.Partition,
					"offset":    msg.Offset,
				}).Warn("skip dlq message")
			} else {
				found.add(event)
			}
			if msg.Offset+1 >= pc.HighWaterMarkOffset() {
				return nil
			}
		}
	}
	return nil
}

// decodeStockEvent достаёт ProductStockChanged из письма consumer'а
// или из outbox-envelope с DLQEnvelope внутри.
func decodeStockEvent(msg *sarama.ConsumerMessage) (domain.ProductStockChanged, error) {
	var deadLetter kafka.ConsumerDeadLetter
	if err := json.Unmarshal(msg.Value, &deadLetter); err == nil && deadLetter.OriginalValue != "" {
		return validStockEvent(kafka.ParseStockChanged(&sarama.ConsumerMessage{Value: []byte(deadLetter.OriginalValue)}))
	}

	envelope, err := kafka.ParseEnvelope(msg)
	if err != nil {
		return domain.ProductStockChanged{}, err
	}
	if envelope.EventType != domain.EventTypeProductStockChanged {
		return domain.ProductStockChanged{}, fmt.Errorf("%w: %q", kafka.ErrUnsupportedEvent, envelope.EventType)
	}
	var dlq outbox.DLQEnvelope
	if err := json.Unmarshal(envelope.Payload, &dlq); err != nil {
		return domain.ProductStockChanged{}, fmt.Errorf("decode outbox dlq envelope: %w", err)
	}
	if len(dlq.Payload) == 0 || string(dlq.Payload) == "null" {
		return domain.ProductStockChanged{}, errors.New("outbox dlq envelope has no event payload")
	}
	var event domain.ProductStockChanged
	if err := json.Unmarshal(dlq.Payload, &event); err != nil {
		return domain.ProductStockChanged{}, fmt.Errorf("decode stock event: %w", err)
	}
	return validStockEvent(event, nil)
}

func validStockEvent(event domain.ProductStockChanged, err error) (domain.ProductStockChanged, error) {
	if err != nil {
		return domain.ProductStockChanged{}, err
	}
	if len(event.ProductIDs) == 0 {
		return domain.ProductStockChanged{}, errors.New("stock event has no product ids")
	}
	for _, id := range event.ProductIDs {
		if id <= 0 {
			return domain.ProductStockChanged{}, fmt.Errorf("stock event has invalid product id %d", id)
		}
	}
	return event, nil
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
