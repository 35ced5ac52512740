// Команда tier-recalc разово пересчитывает уровни покупателей по сумме
// доставленных заказов за последний год. Подходит для cron.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/metrics"
	"github.com/vladislavdragonenkov/shoporder/internal/service/retry"
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/postgres"
)

const envPostgresDSN = "SHOP_POSTGRES_DSN"

type options struct {
	dsn         string
	userID      int64
	pageSize    int
	lockTimeout time.Duration
	timeout     time.Duration
}

func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	var opts options
	fs := flag.NewFlagSet("tier-recalc", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.Int64Var(&opts.userID, "user", 0, "recalculate a single user; 0 means all users")
	fs.IntVar(&opts.pageSize, "page-size", 500, "users per page")
	fs.DurationVar(&opts.lockTimeout, "lock-timeout", 3*time.Second, "row lock wait timeout")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Minute, "overall run timeout")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		if v, ok := lookup(envPostgresDSN); ok {
			opts.dsn = strings.TrimSpace(v)
		}
	}
	switch {
	case opts.dsn == "":
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	case opts.userID < 0:
		return options{}, errors.New("user must be >= 0")
	case opts.pageSize <= 0:
		return options{}, errors.New("page-size must be > 0")
	case opts.lockTimeout <= 0 || opts.timeout <= 0:
		return options{}, errors.New("lock-timeout and timeout must be > 0")
	}
	return opts, nil
}

// recalculator описывает то, что команде нужно от tier.Job.
type recalculator interface {
	RunOnce(ctx context.Context) (tier.Summary, error)
	RecalculateUser(ctx context.Context, userID int64) (bool, error)
}

func recalc(ctx context.Context, job recalculator, userID int64, out io.Writer) error {
	if userID > 0 {
		changed, err := job.RecalculateUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("recalculate user %d: %w", userID, err)
		}
		_, _ = fmt.Fprintf(out, "user=%d changed=%t\n", userID, changed)
		return nil
	}

	summary, err := job.RunOnce(ctx)
	_, _ = fmt.Fprintf(out, "processed=%d changed=%d failed=%d\n", summary.Processed, summary.Changed, summary.Failed)
	if err != nil {
		return fmt.Errorf("tier recalculation: %w", err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("tier recalculation finished with %d failed users", summary.Failed)
	}
	return nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Warn("failed to read .env")
	}

	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func run(ctx context.Context, opts options, out io.Writer) error {
	logger := log.WithField("component", "tier-recalc")
	store, err := postgres.Open(ctx, opts.dsn, postgres.WithLockTimeout(opts.lockTimeout), postgres.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.WithError(err).Warn("failed to close postgres store")
		}
	}()

	job := tier.NewJob(store,
		tier.WithLogger(logger),
		tier.WithMetrics(metrics.NewOrderMetrics()),
		tier.WithPageSize(opts.pageSize),
		tier.WithRetry(retry.DefaultConfig()),
	)
	return recalc(ctx, job, opts.userID, out)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
