package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	promgrpc "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	healthcheck "github.com/vladislavdragonenkov/shoporder/internal/health"
	"github.com/vladislavdragonenkov/shoporder/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
	grpcsvc "github.com/vladislavdragonenkov/shoporder/internal/service/grpc"
	"github.com/vladislavdragonenkov/shoporder/internal/service/idempotency"
	"github.com/vladislavdragonenkov/shoporder/internal/service/order"
	"github.com/vladislavdragonenkov/shoporder/internal/service/outbox"
	"github.com/vladislavdragonenkov/shoporder/internal/service/retry"
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
	"github.com/vladislavdragonenkov/shoporder/internal/version"
)

const (
	grpcStopTimeout = 5 * time.Second

	// Возраст самой старой pending-записи, после которого сервис не ready.
	outboxBacklogMaxAge = 5 * time.Minute
)

// Run поднимает хранилище, фоновые воркеры, gRPC и служебный HTTP-сервер
// и блокируется до отмены ctx или падения gRPC-сервера.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := deps.closeFn(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close storage")
		}
	}()

	kafkaProducer, err := initKafkaProducer(cfg.Brokers(), logger)
	if err != nil {
		return err
	}
	defer closeKafkaProducer(kafkaProducer, logger)

	orderMetrics := metrics.NewOrderMetrics()
	outboxMetrics := metrics.NewOutboxMetricsWithRegisterer(prometheus.DefaultRegisterer)
	cleanupMetrics := metrics.NewCleanupMetricsWithRegisterer(prometheus.DefaultRegisterer)

	orderOptions := []order.Option{
		order.WithMetrics(orderMetrics),
		order.WithShippingFee(cfg.ShippingFee),
		order.WithReturnWindow(cfg.ReturnWindow),
	}
	if kafkaProducer != nil {
		enqueuer := outbox.NewStockEventEnqueuer(deps.outboxRepo, cfg.OutboxMaxPending, outboxMetrics, logger.WithField("component", "stock-event-enqueuer"))
		orderOptions = append(orderOptions, order.WithEventPublisher(enqueuer))
	}
	orderService := order.NewService(deps.txm, logger.WithField("component", "order-service"), orderOptions...)

	tierJob := tier.NewJob(deps.txm,
		tier.WithLogger(logger.WithField("component", "tier-recalc")),
		tier.WithMetrics(orderMetrics),
		tier.WithRetry(retry.DefaultConfig()),
	)

	// Воркеры живут до отмены workerCtx; Run дожидается их перед закрытием хранилища.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var workers sync.WaitGroup
	defer func() {
		stopWorkers()
		workers.Wait()
	}()
	startWorker := func(run func(context.Context)) {
		workers.Add(1)
		go func() {
			defer workers.Done()
			run(workerCtx)
		}()
	}

	if cfg.TierRecalcEnabled {
		startWorker(tier.NewWorker(tierJob, cfg.TierRecalcInterval, logger.WithField("component", "tier-recalc-worker")).Run)
	}
	startWorker(idempotency.NewSweeper(deps.idempotencyRepo,
		idempotency.SweepConfig{
			Interval:   cfg.IdempotencyCleanupInterval,
			BatchSize:  cfg.IdempotencyCleanupBatchSize,
			StaleAfter: cfg.IdempotencyStaleAfter,
		},
		idempotency.WithLogger(logger.WithField("component", "idempotency-sweeper")),
		idempotency.WithMetrics(cleanupMetrics),
	).Run)

	healthHandler := healthcheck.NewHandler(version.String())
	healthHandler.RegisterChecker("storage", deps.storageChecker)

	if kafkaProducer != nil {
		relay := outbox.NewWorker(deps.outboxRepo, kafka.NewOutboxPublisher(kafkaProducer, cfg.StockTopic),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithMetrics(outboxMetrics),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, cfg.DLQTopic)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		startWorker(relay.Run)
		healthHandler.RegisterChecker("outbox", healthcheck.NewBacklogChecker("outbox", outboxBacklog(deps.outboxRepo), cfg.OutboxMaxPending, outboxBacklogMaxAge))
	} else {
		logger.Info("kafka brokers are not configured, stock change events are disabled")
	}

	grpcMetrics := promgrpc.NewServerMetrics()
	if err := prometheus.Register(grpcMetrics); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(*promgrpc.ServerMetrics); ok {
				grpcMetrics = existing
			}
		} else {
			logger.WithError(err).Warn("failed to register grpc metrics")
		}
	}
	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(grpcMetrics.UnaryServerInterceptor()))

	idemRepo := deps.idempotencyRepo
	shoporderv1.RegisterOrderServiceServer(grpcServer, grpcsvc.NewOrderService(orderService, tierJob, idemRepo, logger.WithField("layer", "grpc")))
	grpcMetrics.InitializeMetrics(grpcServer)
	reflection.Register(grpcServer)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(shoporderv1.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		shutdownHTTP(metricsSrv, logger)
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(log.Fields{
			"addr":    cfg.GRPCAddr,
			"storage": cfg.StorageDriver,
			"version": version.String(),
		}).Info("gRPC сервер запущен")
		errCh <- grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем gRPC сервер")
		healthServer.Shutdown()
		stoppedCh := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stoppedCh)
		}()
		select {
		case <-stoppedCh:
		case <-time.After(grpcStopTimeout):
			logger.Warn("graceful stop превысил таймаут, принудительно останавливаем")
			grpcServer.Stop()
		}
		shutdownHTTP(metricsSrv, logger)
		return ctx.Err()
	case err := <-errCh:
		shutdownHTTP(metricsSrv, logger)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}
