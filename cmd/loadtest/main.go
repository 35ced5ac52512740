package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/service/retry"
)

const (
	idempotencyHeader = "idempotency-key"

	methodCreateOrder  = "CreateOrder"
	methodCancelOrder  = "CancelOrder"
	methodAdjustStock  = "AdjustStock"
	methodStockHistory = "StockHistory"

	codeOK                  = "OK"
	reasonInsufficientStock = string(domain.CodeInsufficientStock)
	reasonLockTimeout       = string(domain.CodeLockTimeout)
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	addr          string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	connections   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	userBase      int64
	users         int
	productID     int64
	price         int64
	quantity      int64
	stock         int64
	paymentMethod string
	seedDSN       string
	outputPath    string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	var modeValue string

	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC target address")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.IntVar(&cfg.connections, "connections", 20, "number of gRPC client connections")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-RPC timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 100, "cancel probability in percent for create-cancel mode (0..100)")
	fs.Int64Var(&cfg.userBase, "user-base", 100000, "first buyer id")
	fs.IntVar(&cfg.users, "users", 200, "number of distinct buyers")
	fs.Int64Var(&cfg.productID, "product-id", 900001, "contended product id")
	fs.Int64Var(&cfg.price, "price", 10000, "product price in won (used when seeding)")
	fs.Int64Var(&cfg.quantity, "quantity", 1, "units per order")
	fs.Int64Var(&cfg.stock, "stock", 100, "stock to set via AdjustStock before the run; < 0 keeps current stock")
	fs.StringVar(&cfg.paymentMethod, "payment", string(domain.PaymentCard), "payment method")
	fs.StringVar(&cfg.seedDSN, "seed-dsn", "", "PostgreSQL DSN for seeding buyers and carts (fallback: SHOP_LOADTEST_SEED_DSN)")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	if strings.TrimSpace(cfg.seedDSN) == "" {
		cfg.seedDSN = strings.TrimSpace(os.Getenv("SHOP_LOADTEST_SEED_DSN"))
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode

	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.connections <= 0 {
		return cfg, errors.New("connections must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}
	if cfg.users <= 0 || cfg.userBase <= 0 {
		return cfg, errors.New("users and user-base must be > 0")
	}
	if cfg.productID <= 0 || cfg.price <= 0 || cfg.quantity <= 0 {
		return cfg, errors.New("product-id, price and quantity must be > 0")
	}
	if cfg.cancelRate < 0 || cfg.cancelRate > 100 {
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	}
	if _, err := domain.ParsePaymentMethod(cfg.paymentMethod); err != nil {
		return cfg, err
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func (c config) userIDs() []int64 {
	ids := make([]int64, c.users)
	for i := range ids {
		ids[i] = c.userBase + int64(i)
	}
	return ids
}

func (c config) userFor(index int) int64 {
	return c.userBase + int64(index%c.users)
}

// runner выполняет сценарии на общем наборе клиентов.
type runner struct {
	cfg     config
	runID   string
	col     *collector
	seeder  cartSeeder
	retrier *retry.Retrier

	sold     atomic.Int64
	released atomic.Int64
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	clients := make([]shoporderv1.OrderServiceClient, 0, cfg.connections)
	for i := 0; i < cfg.connections; i++ {
		conn, dialErr := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if dialErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to create grpc client connection: %v\n", dialErr)
			os.Exit(1)
		}
		conns = append(conns, conn)
		clients = append(clients, shoporderv1.NewOrderServiceClient(conn))
	}
	defer func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}()

	var seeder cartSeeder
	if cfg.seedDSN != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		s, seedErr := newSQLSeeder(ctx, cfg.seedDSN)
		if seedErr == nil {
			seedErr = s.Prepare(ctx, cfg.userIDs(), cfg.productID, cfg.price)
		}
		cancel()
		if seedErr != nil {
			_, _ = fmt.Fprintf(os.Stderr, "seed failed: %v\n", seedErr)
			os.Exit(1)
		}
		defer s.Close()
		seeder = s
	} else {
		log.Warn("seed-dsn is not set: buyers and carts must be prepared in advance")
	}

	result, err := run(context.Background(), cfg, clients, seeder)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "load test failed: %v\n", err)
		os.Exit(1)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.unexpectedFailures() > 0 || (result.Stock != nil && !result.Stock.Consistent) {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config, clients []shoporderv1.OrderServiceClient, seeder cartSeeder) (report, error) {
	if len(clients) == 0 {
		return report{}, errors.New("at least one client is required")
	}

	startedAt := time.Now()
	r := &runner{
		cfg:    cfg,
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    newCollector(),
		seeder: seeder,
		retrier: retry.New(retry.Config{
			MaxAttempts:   5,
			InitialDelay:  20 * time.Millisecond,
			MaxDelay:      500 * time.Millisecond,
			BackoffFactor: 2,
			Jitter:        0.2,
		}, log.WithField("component", "loadtest")),
	}

	if cfg.stock >= 0 {
		if err := r.adjustStock(ctx, clients[0], cfg.stock); err != nil {
			return report{}, fmt.Errorf("set initial stock: %w", err)
		}
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for workerID := 0; workerID < cfg.concurrency; workerID++ {
		wg.Add(1)
		client := clients[workerID%len(clients)]
		go func(cli shoporderv1.OrderServiceClient) {
			defer wg.Done()
			for id := range jobs {
				_ = r.runScenario(ctx, cli, id)
			}
		}(client)
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	result := r.col.buildReport(startedAt, time.Since(startedAt))
	if cfg.stock >= 0 {
		actual, err := r.currentStock(ctx, clients[0])
		if err != nil {
			return result, fmt.Errorf("read final stock: %w", err)
		}
		result.Stock = r.stockCheck(actual)
	}
	return result, nil
}

func (r *runner) stockCheck(actual int64) *stockCheck {
	check := &stockCheck{
		InitialStock:  r.cfg.stock,
		SoldUnits:     r.sold.Load(),
		ReleasedUnits: r.released.Load(),
		ActualStock:   actual,
	}
	check.ExpectedStock = check.InitialStock - check.SoldUnits + check.ReleasedUnits
	check.Consistent = check.ExpectedStock == actual && actual >= 0
	return check
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func (r *runner) runScenario(ctx context.Context, client shoporderv1.OrderServiceClient, index int) error {
	scenarioStart := time.Now()
	scenarioCode := ""
	defer func() {
		r.col.record(scenarioMethod, time.Since(scenarioStart), scenarioCode)
	}()

	userID := r.cfg.userFor(index)
	if r.seeder != nil {
		if err := r.seeder.FillCart(ctx, userID, r.cfg.productID, r.cfg.quantity); err != nil {
			scenarioCode = "SEED_FAILED"
			return err
		}
	}

	order, err := r.createOrder(ctx, client, userID, index)
	if err != nil {
		scenarioCode = errorCode(err)
		return err
	}
	r.sold.Add(r.cfg.quantity)

	if r.cfg.mode == modeCreateCancel && shouldCancelScenario(index, r.cfg.cancelRate) {
		if err := r.cancelOrder(ctx, client, order.ID, userID); err != nil {
			scenarioCode = errorCode(err)
			return err
		}
		r.released.Add(r.cfg.quantity)
	}
	return nil
}

// createOrder повторяет вызов при LOCK_TIMEOUT. Каждая попытка идёт с новым
// idempotency-key: сервер сохраняет исход LOCK_TIMEOUT за ключом.
func (r *runner) createOrder(ctx context.Context, client shoporderv1.OrderServiceClient, userID int64, index int) (*shoporderv1.Order, error) {
	var (
		order   *shoporderv1.Order
		attempt int
	)
	err := r.retrier.Do(ctx, methodCreateOrder, func(ctx context.Context) error {
		attempt++
		key := fmt.Sprintf("lt-create-%s-%d-%d", r.runID, index, attempt)
		resp, err := call(ctx, r, methodCreateOrder, key, func(ctx context.Context) (*shoporderv1.CreateOrderResponse, error) {
			return client.CreateOrder(ctx, &shoporderv1.CreateOrderRequest{
				UserID:          userID,
				ShippingAddress: "Seoul, load-test street 1",
				RecipientName:   "Load Test",
				RecipientPhone:  "010-0000-0000",
				PaymentMethod:   r.cfg.paymentMethod,
			})
		})
		if err != nil {
			return asDomainError(err)
		}
		if resp.Order == nil || resp.Order.ID == 0 {
			return errors.New("create response returned empty order")
		}
		order = resp.Order
		return nil
	})
	return order, err
}

func (r *runner) cancelOrder(ctx context.Context, client shoporderv1.OrderServiceClient, orderID, userID int64) error {
	key := fmt.Sprintf("lt-cancel-%s-%d", r.runID, orderID)
	_, err := call(ctx, r, methodCancelOrder, key, func(ctx context.Context) (*shoporderv1.ReversalResponse, error) {
		return client.CancelOrder(ctx, &shoporderv1.CancelOrderRequest{OrderID: orderID, UserID: userID})
	})
	return err
}

func (r *runner) adjustStock(ctx context.Context, client shoporderv1.OrderServiceClient, quantity int64) error {
	key := fmt.Sprintf("lt-adjust-%s", r.runID)
	_, err := call(ctx, r, methodAdjustStock, key, func(ctx context.Context) (*shoporderv1.AdjustStockResponse, error) {
		return client.AdjustStock(ctx, &shoporderv1.AdjustStockRequest{
			ProductID: r.cfg.productID,
			Quantity:  quantity,
			Reason:    "load test " + r.runID,
		})
	})
	return err
}

func (r *runner) currentStock(ctx context.Context, client shoporderv1.OrderServiceClient) (int64, error) {
	resp, err := call(ctx, r, methodStockHistory, "", func(ctx context.Context) (*shoporderv1.StockHistoryResponse, error) {
		return client.StockHistory(ctx, &shoporderv1.StockHistoryRequest{ProductID: r.cfg.productID, Limit: 1})
	})
	if err != nil {
		return 0, err
	}
	if len(resp.Records) == 0 {
		return 0, errors.New("stock history is empty")
	}
	return resp.Records[0].AfterQuantity, nil
}

// call выполняет RPC с таймаутом и idempotency-key и пишет результат в collector.
func call[Resp any](ctx context.Context, r *runner, method, key string, fn func(ctx context.Context) (*Resp, error)) (*Resp, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.timeout)
	defer cancel()
	if key != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, key)
	}

	resp, err := fn(ctx)
	r.col.record(method, time.Since(start), errorCode(err))
	return resp, err
}

// errorCode возвращает доменный код из ErrorInfo, иначе имя gRPC-кода. Для nil пусто.
func errorCode(err error) string {
	if err == nil {
		return ""
	}
	if reason := shoporderv1.ErrorReason(err); reason != "" {
		return reason
	}
	if _, ok := status.FromError(err); !ok {
		if code := domain.CodeOf(err); code != "" {
			return string(code)
		}
	}
	return status.Code(err).String()
}

// asDomainError делает LOCK_TIMEOUT от сервера ретраибельным для retry.Retrier.
func asDomainError(err error) error {
	if shoporderv1.ErrorReason(err) == reasonLockTimeout {
		return fmt.Errorf("%w: %w", domain.ErrLockTimeout, err)
	}
	return err
}

func shouldCancelScenario(index, cancelRate int) bool {
	if cancelRate <= 0 {
		return false
	}
	if cancelRate >= 100 {
		return true
	}
	return index%100 < cancelRate
}
