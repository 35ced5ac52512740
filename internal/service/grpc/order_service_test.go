package grpcsvc_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
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
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
	"github.com/vladislavdragonenkov/shoporder/internal/storage/memory"
)

const bufSize = 1024 * 1024

var farFuture = time.Now().Add(365 * 24 * time.Hour)

func idemCtx(key string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "idempotency-key", key)
}

func loggerForTests() *logrus.Entry {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: false, DisableTimestamp: true})
	logger.SetLevel(logrus.DebugLevel)
	return logger.WithField("component", "test")
}

type testEnv struct {
	store  *memory.Store
	client shoporderv1.OrderServiceClient
}

func newTestEnv(t *testing.T, options ...memory.Option) *testEnv {
	t.Helper()

	listener := bufconn.Listen(bufSize)
	logger := loggerForTests()
	store := memory.NewStore(options...)
	orders := order.NewService(store, logger.WithField("layer", "order"))
	tiers := tier.NewJob(store, tier.WithLogger(logger.WithField("layer", "tier")))
	service := grpcsvc.NewOrderService(orders, tiers, memory.NewIdempotencyRepository(), logger.WithField("layer", "grpc"))

	server := grpc.NewServer()
	shoporderv1.RegisterOrderServiceServer(server, service)
	go func() {
		if err := server.Serve(listener); err != nil {
			logger.WithError(err).Error("grpc serve failed")
		}
	}()

	dialer := func(context.Context, string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient("passthrough:///bufnet", grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		server.Stop()
	})

	return &testEnv{store: store, client: shoporderv1.NewOrderServiceClient(conn)}
}

func (e *testEnv) seedCart(userID, productID, stock, quantity int64) {
	e.store.PutUser(domain.User{ID: userID, TierLevel: domain.TierWelcome})
	e.store.PutProduct(domain.Product{ID: productID, Name: "keyboard", Price: 10000, StockQuantity: stock, Active: true})
	e.store.AddCartItem(userID, productID, quantity)
}

func createRequest(userID int64) *shoporderv1.CreateOrderRequest {
	return &shoporderv1.CreateOrderRequest{
		UserID:          userID,
		ShippingAddress: "Seoul, Mapo-gu 7",
		RecipientName:   "Lee",
		RecipientPhone:  "010-1111-2222",
		PaymentMethod:   "kakao",
	}
}

func requireReason(t *testing.T, err error, code codes.Code, reason domain.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, status.Code(err), err.Error())
	require.Equal(t, string(reason), shoporderv1.ErrorReason(err))
}

func TestCreateOrder_IdempotentReplay(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 2)

	first, err := env.client.CreateOrder(idemCtx("create-1"), createRequest(1))
	require.NoError(t, err)
	require.Equal(t, "PAID", first.Order.Status)
	require.Equal(t, "KAKAO", first.Order.PaymentMethod)
	require.EqualValues(t, 20000, first.Order.TotalAmount)
	require.EqualValues(t, 3000, first.Order.ShippingFee)
	require.EqualValues(t, 23000, first.Order.FinalAmount)
	require.Len(t, first.Order.Items, 1)

	second, err := env.client.CreateOrder(idemCtx("create-1"), createRequest(1))
	require.NoError(t, err)
	require.Equal(t, first.Order.ID, second.Order.ID)
	require.Equal(t, first.Order.Number, second.Order.Number)

	product, _ := env.store.Product(1)
	require.EqualValues(t, 8, product.StockQuantity)
}

func TestCreateOrder_IdempotencyErrors(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 2)

	_, err := env.client.CreateOrder(context.Background(), createRequest(1))
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = env.client.CreateOrder(idemCtx("create-2"), createRequest(1))
	require.NoError(t, err)

	other := createRequest(1)
	other.UsePoints = 10
	_, err = env.client.CreateOrder(idemCtx("create-2"), other)
	require.Equal(t, codes.AlreadyExists, status.Code(err))
}

func TestCreateOrder_SameKeyRetriesAfterLockTimeout(t *testing.T) {
	env := newTestEnv(t, memory.WithLockTimeout(50*time.Millisecond))
	env.seedCart(1, 1, 5, 2)

	locked := make(chan struct{})
	release := make(chan struct{})
	holderDone := make(chan error, 1)
	go func() {
		holderDone <- env.store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if _, err := tx.Users().LockByID(ctx, 1); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	_, err := env.client.CreateOrder(idemCtx("create-lock"), createRequest(1))
	requireReason(t, err, codes.Aborted, domain.CodeLockTimeout)
	product, _ := env.store.Product(1)
	require.EqualValues(t, 5, product.StockQuantity)

	close(release)
	require.NoError(t, <-holderDone)

	resp, err := env.client.CreateOrder(idemCtx("create-lock"), createRequest(1))
	require.NoError(t, err)
	require.Equal(t, "PAID", resp.Order.Status)
	product, _ = env.store.Product(1)
	require.EqualValues(t, 3, product.StockQuantity)

	replay, err := env.client.CreateOrder(idemCtx("create-lock"), createRequest(1))
	require.NoError(t, err)
	require.Equal(t, resp.Order.ID, replay.Order.ID)
}

func TestCreateOrder_DomainErrorsCarryReason(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 1, 5)

	_, err := env.client.CreateOrder(idemCtx("create-3"), createRequest(1))
	requireReason(t, err, codes.FailedPrecondition, domain.CodeInsufficientStock)

	// сохранённая ошибка возвращается повторно вместе с кодом
	_, err = env.client.CreateOrder(idemCtx("create-3"), createRequest(1))
	requireReason(t, err, codes.FailedPrecondition, domain.CodeInsufficientStock)

	bad := createRequest(1)
	bad.PaymentMethod = "BITCOIN"
	_, err = env.client.CreateOrder(idemCtx("create-4"), bad)
	requireReason(t, err, codes.InvalidArgument, domain.CodeInvalidPaymentMethod)
}

func TestCancelOrder_SecondCallRejected(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 3)

	created, err := env.client.CreateOrder(idemCtx("create-5"), createRequest(1))
	require.NoError(t, err)

	cancelled, err := env.client.CancelOrder(context.Background(), &shoporderv1.CancelOrderRequest{OrderID: created.Order.ID, UserID: 1})
	require.NoError(t, err)
	require.Equal(t, "CANCELLED", cancelled.Order.Status)
	require.Equal(t, created.Order.FinalAmount, cancelled.Refund.Amount)

	_, err = env.client.CancelOrder(context.Background(), &shoporderv1.CancelOrderRequest{OrderID: created.Order.ID, UserID: 1})
	requireReason(t, err, codes.FailedPrecondition, domain.CodeOrderNotCancellable)

	product, _ := env.store.Product(1)
	require.EqualValues(t, 10, product.StockQuantity)
}

func TestOrderLifecycle_ReturnFlow(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 4)
	ctx := context.Background()

	created, err := env.client.CreateOrder(idemCtx("create-6"), createRequest(1))
	require.NoError(t, err)
	itemID := created.Order.Items[0].ID

	partial, err := env.client.PartialCancel(idemCtx("partial-1"), &shoporderv1.PartialCancelRequest{UserID: 1, OrderItemID: itemID, Quantity: 1})
	require.NoError(t, err)
	require.False(t, partial.Refund.OrderCancelled)
	require.Positive(t, partial.Refund.Amount)

	_, err = env.client.ShipOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	delivered, err := env.client.DeliverOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	require.Equal(t, "DELIVERED", delivered.Order.Status)
	require.True(t, delivered.Order.PointsSettled)

	requested, err := env.client.RequestReturn(idemCtx("return-1"), &shoporderv1.RequestReturnRequest{UserID: 1, OrderItemID: itemID, Quantity: 2, Reason: "damaged"})
	require.NoError(t, err)
	require.Equal(t, "RETURN_REQUESTED", requested.Order.Items[0].Status)

	approved, err := env.client.ApproveReturn(idemCtx("approve-1"), &shoporderv1.ApproveReturnRequest{OrderItemID: itemID})
	require.NoError(t, err)
	require.Equal(t, "RETURNED", approved.Order.Items[0].Status)
	require.EqualValues(t, 2, approved.Order.Items[0].ReturnedQuantity)

	_, err = env.client.ApproveReturn(idemCtx("approve-2"), &shoporderv1.ApproveReturnRequest{OrderItemID: itemID})
	requireReason(t, err, codes.FailedPrecondition, domain.CodeInvalidItemStatusTransition)

	view, err := env.client.GetOrder(ctx, &shoporderv1.GetOrderRequest{OrderID: created.Order.ID, UserID: 1})
	require.NoError(t, err)
	types := make([]string, 0, len(view.Timeline))
	for _, event := range view.Timeline {
		types = append(types, event.Type)
	}
	require.Contains(t, types, domain.TimelineReturnApproved)

	history, err := env.client.StockHistory(ctx, &shoporderv1.StockHistoryRequest{ProductID: 1})
	require.NoError(t, err)
	require.NotEmpty(t, history.Records)
	product, _ := env.store.Product(1)
	require.EqualValues(t, 9, product.StockQuantity)
}

func TestRejectReturn_ExposesRejectedAt(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 2)
	ctx := context.Background()

	created, err := env.client.CreateOrder(idemCtx("create-reject"), createRequest(1))
	require.NoError(t, err)
	itemID := created.Order.Items[0].ID
	require.Nil(t, created.Order.Items[0].RejectedAt)

	_, err = env.client.ShipOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	_, err = env.client.DeliverOrder(ctx, &shoporderv1.OrderIDRequest{OrderID: created.Order.ID})
	require.NoError(t, err)
	_, err = env.client.RequestReturn(idemCtx("return-reject"), &shoporderv1.RequestReturnRequest{UserID: 1, OrderItemID: itemID, Quantity: 1, Reason: "size"})
	require.NoError(t, err)

	rejected, err := env.client.RejectReturn(ctx, &shoporderv1.RejectReturnRequest{OrderItemID: itemID, Reason: "worn"})
	require.NoError(t, err)
	item := rejected.Order.Items[0]
	require.Equal(t, "RETURN_REJECTED", item.Status)
	require.Equal(t, "worn", item.RejectReason)
	require.NotNil(t, item.RejectedAt)
	require.False(t, item.RejectedAt.Before(*item.ReturnRequestedAt))

	view, err := env.client.GetOrder(ctx, &shoporderv1.GetOrderRequest{OrderID: created.Order.ID, UserID: 1})
	require.NoError(t, err)
	require.NotNil(t, view.Order.Items[0].RejectedAt)
	require.True(t, view.Order.Items[0].RejectedAt.Equal(*item.RejectedAt))
}

func TestGetOrder_NotFoundAndOwnership(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 1)
	env.store.PutUser(domain.User{ID: 2})

	_, err := env.client.GetOrder(context.Background(), &shoporderv1.GetOrderRequest{OrderID: 999})
	requireReason(t, err, codes.NotFound, domain.CodeNotFound)

	created, err := env.client.CreateOrder(idemCtx("create-7"), createRequest(1))
	require.NoError(t, err)
	_, err = env.client.GetOrder(context.Background(), &shoporderv1.GetOrderRequest{OrderID: created.Order.ID, UserID: 2})
	requireReason(t, err, codes.NotFound, domain.CodeNotFound)

	list, err := env.client.ListOrders(context.Background(), &shoporderv1.ListOrdersRequest{UserID: 1})
	require.NoError(t, err)
	require.Len(t, list.Orders, 1)
}

func TestAdminOperations(t *testing.T) {
	env := newTestEnv(t)
	env.seedCart(1, 1, 10, 1)
	env.store.PutCoupon(domain.Coupon{ID: 5, Name: "welcome", Type: domain.CouponTypeFixed, Active: true, ValidUntil: farFuture})
	ctx := context.Background()

	issued, err := env.client.IssueCoupon(ctx, &shoporderv1.IssueCouponRequest{UserID: 1, CouponID: 5})
	require.NoError(t, err)
	require.Positive(t, issued.UserCouponID)

	_, err = env.client.IssueCoupon(ctx, &shoporderv1.IssueCouponRequest{UserID: 1, CouponID: 5})
	requireReason(t, err, codes.AlreadyExists, domain.CodeDuplicate)

	adjusted, err := env.client.AdjustStock(ctx, &shoporderv1.AdjustStockRequest{ProductID: 1, Quantity: 42, Reason: "stocktake"})
	require.NoError(t, err)
	require.Equal(t, "ADJUST", adjusted.Record.ChangeType)
	require.EqualValues(t, 42, adjusted.Record.AfterQuantity)

	_, err = env.client.AdjustStock(ctx, &shoporderv1.AdjustStockRequest{ProductID: 1, Quantity: 1})
	requireReason(t, err, codes.InvalidArgument, domain.CodeValidation)

	recalculated, err := env.client.RecalculateTier(ctx, &shoporderv1.RecalculateTierRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, recalculated.Processed)

	_, err = env.client.RecalculateTier(ctx, &shoporderv1.RecalculateTierRequest{UserID: 77})
	requireReason(t, err, codes.NotFound, domain.CodeNotFound)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name string
		call func() error
	}{
		{name: "get without id", call: func() error { _, err := env.client.GetOrder(ctx, &shoporderv1.GetOrderRequest{}); return err }},
		{name: "cancel without id", call: func() error {
			_, err := env.client.CancelOrder(ctx, &shoporderv1.CancelOrderRequest{})
			return err
		}},
		{name: "partial cancel without item", call: func() error {
			_, err := env.client.PartialCancel(idemCtx("v-1"), &shoporderv1.PartialCancelRequest{})
			return err
		}},
		{name: "ship without id", call: func() error { _, err := env.client.ShipOrder(ctx, &shoporderv1.OrderIDRequest{}); return err }},
		{name: "issue coupon without ids", call: func() error {
			_, err := env.client.IssueCoupon(ctx, &shoporderv1.IssueCouponRequest{})
			return err
		}},
		{name: "list without user", call: func() error {
			_, err := env.client.ListOrders(ctx, &shoporderv1.ListOrdersRequest{})
			return err
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, codes.InvalidArgument, status.Code(tc.call()))
		})
	}
}
