package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/service/order"
	"github.com/vladislavdragonenkov/shoporder/internal/service/tier"
)

func createRequest(userID int64) order.CreateRequest {
	return order.CreateRequest{
		UserID:          userID,
		ShippingAddress: "Seoul, Mapo-gu 7",
		RecipientName:   "Lee",
		RecipientPhone:  "010-1111-2222",
		PaymentMethod:   "NAVER",
	}
}

func TestStore_OrderLifecycle(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	seedUser(t, store, 1, 0, 5000, 1)
	seedProduct(t, store, 10, 12000, 10)
	seedProduct(t, store, 11, 8000, 10)
	seedCartItem(t, store, 1, 10, 2)
	seedCartItem(t, store, 1, 11, 1)

	svc := order.NewService(store, nil)
	ctx := context.Background()

	req := createRequest(1)
	req.UsePoints = 2000
	created, err := svc.Create(ctx, req)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusPaid, created.Status)
	require.Equal(t, domain.PaymentNaver, created.PaymentMethod)
	require.Len(t, created.Items, 2)
	require.EqualValues(t, 32000, created.TotalAmount)
	require.EqualValues(t, 3000, created.ShippingFee)
	require.EqualValues(t, 35000, created.FinalAmount)

	view, err := svc.Get(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, created.Number, view.Order.Number)
	require.Len(t, view.Order.Items, 2)
	require.NotEmpty(t, view.Timeline)
	require.Empty(t, view.Order.ValidateInvariants())

	_, err = svc.Get(ctx, created.ID, 2)
	require.ErrorIs(t, err, domain.ErrOrderNotFound)

	itemID := created.Items[0].ID
	partial, err := svc.PartialCancel(ctx, order.PartialCancelRequest{UserID: 1, OrderItemID: itemID, Quantity: 1})
	require.NoError(t, err)
	require.Positive(t, partial.Refund.Amount)
	require.False(t, partial.Refund.OrderCancelled)

	cancelled, err := svc.Cancel(ctx, created.ID, 1)
	require.NoError(t, err)
	require.Equal(t, domain.OrderStatusCancelled, cancelled.Order.Status)
	require.Equal(t, cancelled.Order.FinalAmount, cancelled.Order.RefundedAmount)
	require.Equal(t, cancelled.Order.UsedPoints, cancelled.Order.RefundedPoints)

	_, err = svc.Cancel(ctx, created.ID, 1)
	require.ErrorIs(t, err, domain.ErrOrderNotCancellable)

	history, err := svc.StockHistory(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.EqualValues(t, 10, history[0].AfterQuantity)

	var stock, points, spent int64
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT stock_quantity FROM products WHERE id = 10`).Scan(&stock))
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT point_balance, total_spent FROM users WHERE id = 1`).Scan(&points, &spent))
	require.EqualValues(t, 10, stock)
	require.EqualValues(t, 5000, points)
	require.Zero(t, spent)

	orders, err := svc.List(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
}

func TestStore_DeliverReturnAndTierBatch(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	seedUser(t, store, 1, 0, 0, 1)
	seedProduct(t, store, 10, 300000, 5)
	seedCartItem(t, store, 1, 10, 2)

	svc := order.NewService(store, nil)
	ctx := context.Background()

	created, err := svc.Create(ctx, createRequest(1))
	require.NoError(t, err)
	_, err = svc.Ship(ctx, created.ID)
	require.NoError(t, err)
	delivered, err := svc.Deliver(ctx, created.ID)
	require.NoError(t, err)
	require.True(t, delivered.PointsSettled)
	require.EqualValues(t, 6000, delivered.SettledPoints)

	itemID := created.Items[0].ID
	_, err = svc.RequestReturn(ctx, order.ReturnRequest{UserID: 1, OrderItemID: itemID, Quantity: 1, Reason: "damaged"})
	require.NoError(t, err)
	approved, err := svc.ApproveReturn(ctx, itemID)
	require.NoError(t, err)
	require.EqualValues(t, 300000, approved.Refund.Amount)
	require.Empty(t, approved.Order.ValidateInvariants())

	job := tier.NewJob(store)
	summary, err := job.RunOnce(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Processed)
	require.Zero(t, summary.Failed)

	var level int
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT tier_level FROM users WHERE id = 1`).Scan(&level))
	require.Equal(t, int(domain.TierWelcome), level)
}

func TestStore_CouponIssueIsUnique(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	seedUser(t, store, 1, 0, 0, 1)
	execSQL(t, store, `
		INSERT INTO coupons (id, name, coupon_type, discount_value, valid_from, valid_until, total_quantity)
		VALUES (1, 'spring', 'PERCENT', 10, NOW() - INTERVAL '1 day', NOW() + INTERVAL '1 day', 100)
	`)

	svc := order.NewService(store, nil)
	ctx := context.Background()

	issued, err := svc.IssueCoupon(ctx, 1, 1)
	require.NoError(t, err)
	require.Positive(t, issued.ID)

	_, err = svc.IssueCoupon(ctx, 1, 1)
	require.ErrorIs(t, err, domain.ErrDuplicate)

	var issuedQty int64
	require.NoError(t, store.DB().QueryRowContext(ctx, `SELECT issued_quantity FROM coupons WHERE id = 1`).Scan(&issuedQty))
	require.EqualValues(t, 1, issuedQty)
}

func TestStore_ConcurrentCreateNeverOversells(t *testing.T) {
	const (
		stock   = 7
		buyers  = 12
		perUser = 2
	)
	store := openStoreForIntegrationTest(t)
	seedProduct(t, store, 1, 1000, stock)
	for id := int64(1); id <= buyers; id++ {
		seedUser(t, store, id, 0, 0, 1)
		seedCartItem(t, store, id, 1, perUser)
	}

	svc := order.NewService(store, nil)
	var success atomic.Int64
	var wg sync.WaitGroup
	for id := int64(1); id <= buyers; id++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if _, err := svc.Create(context.Background(), createRequest(userID)); err == nil {
				success.Add(1)
			}
		}(id)
	}
	wg.Wait()

	var left, sales int64
	require.NoError(t, store.DB().QueryRow(`SELECT stock_quantity, sales_count FROM products WHERE id = 1`).Scan(&left, &sales))
	require.EqualValues(t, stock/perUser, success.Load())
	require.EqualValues(t, stock-success.Load()*perUser, left)
	require.EqualValues(t, success.Load()*perUser, sales)
}

func TestStore_LockTimeoutIsMapped(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	seedUser(t, store, 1, 0, 0, 1)
	seedProduct(t, store, 1, 1000, 10)
	seedCartItem(t, store, 1, 1, 1)

	ctx := context.Background()
	holder, err := store.DB().BeginTx(ctx, nil)
	require.NoError(t, err)
	defer func() { _ = holder.Rollback() }()
	_, err = holder.ExecContext(ctx, `SELECT id FROM users WHERE id = 1 FOR UPDATE`)
	require.NoError(t, err)

	svc := order.NewService(store, nil)
	started := time.Now()
	_, err = svc.Create(ctx, createRequest(1))
	require.ErrorIs(t, err, domain.ErrLockTimeout)
	require.True(t, domain.IsRetryable(err))
	require.Less(t, time.Since(started), 5*time.Second)
}

func TestStore_InvalidPaymentMethodViolatesConstraint(t *testing.T) {
	store := openStoreForIntegrationTest(t)
	seedUser(t, store, 1, 0, 0, 1)

	err := store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Orders().Create(ctx, domain.Order{
			Number:        "ORD-20260101-DEADBEEF",
			UserID:        1,
			Status:        domain.OrderStatusPaid,
			PaymentMethod: domain.PaymentMethod("CASH"),
			CreatedAt:     time.Now(),
			UpdatedAt:     time.Now(),
		})
		return err
	})
	require.ErrorIs(t, err, domain.ErrInvalidPaymentMethod)

	err = store.WithinTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		_, err := tx.Users().Get(ctx, 404)
		return err
	})
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
