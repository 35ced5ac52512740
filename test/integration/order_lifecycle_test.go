package integration

import (
	"context"
	"net"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/shoporder/internal/service/grpc"
	"github.com/vladislavdragonenkov/shoporder/internal/service/order"
	"github.com/vladislavdragonenkov/shoporder/internal/service/outbox"
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/memory"
)

// OrderLifecycleTestSuite прогоняет заказ через gRPC от корзины до возврата.
type OrderLifecycleTestSuite struct {
	suite.Suite
	store  *memory.Store
	outbox *memory.OutboxRepository
	client shoporderv1.OrderServiceClient
	stop   func()
}

func (s *OrderLifecycleTestSuite) SetupTest() {
	baseLogger := log.New()
	baseLogger.SetLevel(log.WarnLevel)
	logger := baseLogger.WithField("component", "integration-test")

	s.store = memory.NewStore()
	s.outbox = memory.NewOutboxRepository()

	orders := order.NewService(s.store, logger,
		order.WithEventPublisher(outbox.NewStockEventEnqueuer(s.outbox, 0, nil, logger)),
	)
	tiers := tier.NewJob(s.store, tier.WithLogger(logger))

	listener := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	shoporderv1.RegisterOrderServiceServer(server, grpcsvc.NewOrderService(orders, tiers, memory.NewIdempotencyRepository(), logger))
	go func() { _ = server.Serve(listener) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return listener.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	s.Require().NoError(err)
	s.client = shoporderv1.NewOrderServiceClient(conn)
	s.stop = func() {
		_ = conn.Close()
		server.Stop()
	}
}

func (s *OrderLifecycleTestSuite) TearDownTest() {
	s.stop()
}

func withKey(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", key)
}

func (s *OrderLifecycleTestSuite) seed(userID, productID, price, stock, qty, points int64) {
	s.store.PutUser(domain.User{ID: userID, TierLevel: domain.TierWelcome, PointBalance: points})
	s.store.PutProduct(domain.Product{ID: productID, Name: "monitor", Price: price, StockQuantity: stock, Active: true})
	s.store.AddCartItem(userID, productID, qty)
}

func (s *OrderLifecycleTestSuite) create(key string, userID, usePoints int64) *shoporderv1.Order {
	resp, err := s.client.CreateOrder(withKey(key), &shoporderv1.CreateOrderRequest{
		UserID:          userID,
		ShippingAddress: "Busan, Haeundae-gu 12",
		RecipientName:   "Park",
		RecipientPhone:  "010-3333-4444",
		PaymentMethod:   "card",
		UsePoints:       usePoints,
	})
	s.Require().NoError(err)
	s.Require().NotNil(resp.Order)
	return resp.Order
}

func (s *OrderLifecycleTestSuite) stock(productID int64) int64 {
	product, ok := s.store.Product(productID)
	s.Require().True(ok)
	return product.StockQuantity
}

func (s *OrderLifecycleTestSuite) pendingEvents() int {
	stats, err := s.outbox.Stats(context.Background())
	s.Require().NoError(err)
	return stats.PendingCount
}

func (s *OrderLifecycleTestSuite) TestDeliveredOrderReturnReclaimsPoints() {
	ctx := context.Background()
	s.seed(1, 1, 10000, 10, 6, 0)

	created := s.create("create-1", 1, 0)
	require.Equal(s.T(), string(domain.OrderStatusPaid), created.Status)
	require.EqualValues(s.T(), 60000, created.TotalAmount)
	require.Zero(s.T(), created.ShippingFee)
	require.EqualValues(s.T(), 60000, created.FinalAmount)
	require.EqualValues(s.T(), 4, s.stock(1))

	_, err := s.client.ShipOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.ID})
	require.NoError(s.T(), err)
	delivered, err := s.client.DeliverOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.ID})
	require.NoError(s.T(), err)
	require.True(s.T(), delivered.Order.PointsSettled)
	require.EqualValues(s.T(), 600, delivered.Order.SettledPoints)

	itemID := created.Items[0].ID
	requested, err := s.client.RequestReturn(withKey("return-1"), &shoporderv1.RequestReturnRequest{
		UserID: 1, OrderItemID: itemID, Quantity: 2, Reason: "dead pixels",
	})
	require.NoError(s.T(), err)
	require.Equal(s.T(), string(domain.ItemStatusReturnRequested), requested.Order.Items[0].Status)
	require.EqualValues(s.T(), 4, s.stock(1), "a return request must not touch stock")

	approved, err := s.client.ApproveReturn(withKey("approve-1"), &shoporderv1.ApproveReturnRequest{OrderItemID: itemID})
	require.NoError(s.T(), err)
	require.EqualValues(s.T(), 20000, approved.Refund.Amount)
	require.EqualValues(s.T(), 200, approved.Refund.ReclaimPoints)
	require.Equal(s.T(), string(domain.ItemStatusReturned), approved.Order.Items[0].Status)
	require.EqualValues(s.T(), 6, s.stock(1))

	user, ok := s.store.User(1)
	require.True(s.T(), ok)
	require.EqualValues(s.T(), 400, user.PointBalance)

	view, err := s.client.GetOrder(ctx, &shoporderv1.GetOrderRequest{OrderID: created.ID, UserID: 1})
	require.NoError(s.T(), err)
	var types []string
	for _, event := range view.Timeline {
		types = append(types, event.Type)
	}
	require.Contains(s.T(), types, domain.TimelineOrderCreated)
	require.Contains(s.T(), types, domain.TimelinePointsSettled)
	require.Contains(s.T(), types, domain.TimelineReturnApproved)

	// создание и одобренный возврат меняют остаток
	require.Equal(s.T(), 2, s.pendingEvents())
}

func (s *OrderLifecycleTestSuite) TestPartialCancelThenCancelRestoresEverything() {
	ctx := context.Background()
	s.seed(2, 2, 10000, 10, 4, 1000)

	created := s.create("create-2", 2, 1000)
	require.EqualValues(s.T(), 1000, created.UsedPoints)
	require.EqualValues(s.T(), 6, s.stock(2))

	partial, err := s.client.PartialCancel(withKey("partial-2"), &shoporderv1.PartialCancelRequest{
		UserID: 2, OrderItemID: created.Items[0].ID, Quantity: 1,
	})
	require.NoError(s.T(), err)
	require.False(s.T(), partial.Refund.OrderCancelled)
	require.EqualValues(s.T(), 7, s.stock(2))

	cancelled, err := s.client.CancelOrder(ctx, &shoporderv1.CancelOrderRequest{OrderID: created.ID, UserID: 2})
	require.NoError(s.T(), err)
	require.True(s.T(), cancelled.Refund.OrderCancelled)
	require.Equal(s.T(), string(domain.OrderStatusCancelled), cancelled.Order.Status)
	require.Equal(s.T(), created.FinalAmount, partial.Refund.Amount+cancelled.Refund.Amount)
	require.EqualValues(s.T(), 1000, partial.Refund.Points+cancelled.Refund.Points)
	require.EqualValues(s.T(), 10, s.stock(2))

	user, ok := s.store.User(2)
	require.True(s.T(), ok)
	require.EqualValues(s.T(), 1000, user.PointBalance)

	_, err = s.client.CancelOrder(ctx, &shoporderv1.CancelOrderRequest{OrderID: created.ID, UserID: 2})
	require.Equal(s.T(), codes.FailedPrecondition, status.Code(err))
	require.Equal(s.T(), 3, s.pendingEvents())
}

func (s *OrderLifecycleTestSuite) TestTierRecalculationDropsStaleSpend() {
	ctx := context.Background()
	s.seed(3, 3, 100000, 20, 6, 0)
	// накопленная сумма без доставленных заказов в окне пересчёта
	s.store.PutUser(domain.User{ID: 3, TierLevel: domain.TierGold, TotalSpent: 3000000})

	first := s.create("create-3a", 3, 0)
	require.EqualValues(s.T(), 30000, first.TierDiscountAmount)
	require.EqualValues(s.T(), 570000, first.FinalAmount)
	_, err := s.client.ShipOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: first.ID})
	require.NoError(s.T(), err)
	_, err = s.client.DeliverOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: first.ID})
	require.NoError(s.T(), err)

	recalc, err := s.client.RecalculateTier(ctx, &shoporderv1.RecalculateTierRequest{UserID: 3})
	require.NoError(s.T(), err)
	require.Equal(s.T(), 1, recalc.Changed)

	user, ok := s.store.User(3)
	require.True(s.T(), ok)
	require.Equal(s.T(), domain.TierSilver, user.TierLevel)
	require.EqualValues(s.T(), 570000, user.TotalSpent)

	s.store.AddCartItem(3, 3, 1)
	second := s.create("create-3b", 3, 0)
	require.EqualValues(s.T(), 2000, second.TierDiscountAmount)
}

func (s *OrderLifecycleTestSuite) TestCreateReplaysByIdempotencyKey() {
	s.seed(4, 4, 10000, 5, 2, 0)

	first := s.create("create-4", 4, 0)
	replayed := s.create("create-4", 4, 0)
	require.Equal(s.T(), first.ID, replayed.ID)
	require.Equal(s.T(), first.Number, replayed.Number)
	require.EqualValues(s.T(), 3, s.stock(4))

	_, err := s.client.CreateOrder(context.Background(), &shoporderv1.CreateOrderRequest{UserID: 4})
	require.Equal(s.T(), codes.InvalidArgument, status.Code(err))
}

func TestOrderLifecycleTestSuite(t *testing.T) {
	suite.Run(t, new(OrderLifecycleTestSuite))
}
