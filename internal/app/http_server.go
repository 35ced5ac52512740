package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/shoporder/internal/health"
	"github.com/vladislavdragonenkov/shoporder/internal/version"
)

const httpShutdownTimeout = 5 * time.Second

// newOpsRouter собирает служебные HTTP-маршруты: метрики, health и версия сборки.
func newOpsRouter(healthHandler *healthcheck.Handler) http.Handler {
	router := chi.NewRouter()
	router.Use(chimw.Recoverer)

	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/healthz", healthHandler)
	router.Get("/livez", healthcheck.LivenessHandler)
	router.Get("/readyz", healthHandler.ReadinessHandler)
	router.Get("/version", version.Handler)
	return router
}

// startMetricsServer запускает служебный HTTP-сервер и гасит его по отмене ctx.
func startMetricsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newOpsRouter(healthHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("metrics server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("metrics shutdown with error")
	}
}
