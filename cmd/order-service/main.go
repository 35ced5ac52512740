package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/app"
	"github.com/vladislavdragonenkov/shoporder/internal/version"
)

const (
	envLogLevel  = app.EnvPrefix + "LOG_LEVEL"
	envLogFormat = app.EnvPrefix + "LOG_FORMAT"
	envDotEnv    = app.EnvPrefix + "ENV_FILE"
)

type envLookup func(string) (string, bool)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger(lookup envLookup) {
	if format, _ := lookup(envLogFormat); strings.EqualFold(strings.TrimSpace(format), "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	log.SetLevel(parseLogLevel(lookup))
}

func parseLogLevel(lookup envLookup) log.Level {
	raw, ok := lookup(envLogLevel)
	if !ok || strings.TrimSpace(raw) == "" {
		return log.InfoLevel
	}
	level, err := log.ParseLevel(strings.TrimSpace(raw))
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// loadDotEnv подгружает .env (или файл из SHOP_ENV_FILE), не перетирая уже заданные переменные.
func loadDotEnv(lookup envLookup) error {
	path := ".env"
	if v, ok := lookup(envDotEnv); ok && strings.TrimSpace(v) != "" {
		path = strings.TrimSpace(v)
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func main() {
	if err := loadDotEnv(os.LookupEnv); err != nil {
		log.WithError(err).Fatal("не удалось прочитать env-файл")
	}
	setupLogger(os.LookupEnv)

	cfg, err := app.LoadConfig(os.LookupEnv)
	if err != nil {
		log.WithError(err).Fatal("некорректная конфигурация")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"grpc_addr":    cfg.GRPCAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"version":      version.String(),
	}).Info("запускаем OrderService")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("OrderService остановлен")
}
