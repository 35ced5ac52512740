// Команда cache-evictor читает события изменения остатков из Kafka
// и удаляет из Redis закэшированные карточки и остатки товаров.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/cache"
	"github.com/vladislavdragonenkov/shoporder/internal/messaging/kafka"
)

const (
	envKafkaBrokers  = "SHOP_KAFKA_BROKERS"
	envStockTopic    = "SHOP_STOCK_TOPIC"
	envConsumerGroup = "SHOP_CACHE_CONSUMER_GROUP"
	envRedisAddr     = "SHOP_REDIS_ADDR"
	envRedisPassword = "SHOP_REDIS_PASSWORD"
	envRedisDB       = "SHOP_REDIS_DB"
	envMaxRetries    = "SHOP_CACHE_MAX_RETRIES"

	defaultConsumerGroup = "shoporder-cache-evictor"
	defaultRedisAddr     = "localhost:6379"
	defaultMaxRetries    = 3
	redisPingTimeout     = 3 * time.Second
)

type config struct {
	brokers       []string
	topic         string
	group         string
	redisAddr     string
	redisPassword string
	redisDB       int
	maxRetries    int
}

func loadConfig(lookup func(string) (string, bool)) (config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := config{
		topic:         get(envStockTopic, kafka.TopicStockChanged),
		group:         get(envConsumerGroup, defaultConsumerGroup),
		redisAddr:     get(envRedisAddr, defaultRedisAddr),
		redisPassword: get(envRedisPassword, ""),
		maxRetries:    defaultMaxRetries,
	}
	for _, broker := range strings.Split(get(envKafkaBrokers, ""), ",") {
		if broker = strings.TrimSpace(broker); broker != "" {
			cfg.brokers = append(cfg.brokers, broker)
		}
	}

	var errs []error
	if len(cfg.brokers) == 0 {
		errs = append(errs, fmt.Errorf("%s is required", envKafkaBrokers))
	}
	if raw := get(envRedisDB, ""); raw != "" {
		db, err := strconv.Atoi(raw)
		if err != nil || db < 0 {
			errs = append(errs, fmt.Errorf("%s must be a non-negative integer, got %q", envRedisDB, raw))
		}
		cfg.redisDB = db
	}
	if raw := get(envMaxRetries, ""); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			errs = append(errs, fmt.Errorf("%s must be a non-negative integer, got %q", envMaxRetries, raw))
		}
		cfg.maxRetries = n
	}
	if err := errors.Join(errs...); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func main() {
	log.SetFormatter(&log.JSONFormatter{})
	logger := log.WithField("component", "cache-evictor")

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.WithError(err).Warn("failed to read .env")
	}
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		logger.WithError(err).Fatal("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("cache evictor stopped with error")
	}
}

func run(ctx context.Context, cfg config, logger *log.Entry) error {
	client := cache.NewClient(cfg.redisAddr, cfg.redisPassword, cfg.redisDB)
	defer func() {
		if err := client.Close(); err != nil {
			logger.WithError(err).Warn("failed to close redis client")
		}
	}()

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	err := client.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return fmt.Errorf("ping redis %s: %w", cfg.redisAddr, err)
	}

	dlq, err := kafka.NewProducer(cfg.brokers)
	if err != nil {
		return err
	}
	defer func() {
		if err := dlq.Close(); err != nil {
			logger.WithError(err).Warn("failed to close dlq producer")
		}
	}()

	evictor := cache.NewEvictor(client, logger)
	consumer, err := kafka.NewConsumerWithOptions(cfg.brokers, cfg.group, []string{cfg.topic},
		kafka.StockChangedHandler(evictor.Evict, logger),
		kafka.ConsumerOptions{
			DLQProducer: dlq,
			MaxRetries:  cfg.maxRetries,
			Logger:      logger,
		},
	)
	if err != nil {
		return err
	}
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	logger.WithFields(log.Fields{
		"topic": cfg.topic,
		"group": cfg.group,
		"redis": cfg.redisAddr,
	}).Info("cache evictor started")

	<-ctx.Done()
	logger.Info("shutting down cache evictor")
	return consumer.Stop()
}
