package domain_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// helper для создания оплаченного заказа из одной позиции 5 x 10000 без скидок.
func makeOrder() domain.Order {
	now := time.Now().UTC()
	order := domain.Order{
		ID:                    1,
		UserID:                10,
		Status:                domain.OrderStatusPending,
		TotalAmount:           50000,
		FinalAmount:           50000,
		UsedPoints:            500,
		PointEarnRateSnapshot: decimal.RequireFromString("1.0"),
		EarnedPointsSnapshot:  500,
		PaymentMethod:         domain.PaymentCard,
		Items: []domain.OrderItem{{
			ID:          100,
			OrderID:     1,
			ProductID:   100,
			ProductName: "P100",
			UnitPrice:   10000,
			Quantity:    5,
			Status:      domain.ItemStatusNormal,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := order.MarkPaid(now); err != nil {
		panic(err)
	}
	return order
}

func assertInvariants(t *testing.T, order domain.Order) {
	t.Helper()
	if errs := order.ValidateInvariants(); len(errs) != 0 {
		t.Fatalf("invariants violated: %v", errs)
	}
}

func TestOrderStatusTransitions(t *testing.T) {
	allowed := map[domain.OrderStatus][]domain.OrderStatus{
		domain.OrderStatusPending: {domain.OrderStatusPaid, domain.OrderStatusCancelled},
		domain.OrderStatusPaid:    {domain.OrderStatusShipped, domain.OrderStatusCancelled},
		domain.OrderStatusShipped: {domain.OrderStatusDelivered},
	}
	all := []domain.OrderStatus{
		domain.OrderStatusPending, domain.OrderStatusPaid, domain.OrderStatusShipped,
		domain.OrderStatusDelivered, domain.OrderStatusCancelled,
	}

	for _, from := range all {
		for _, to := range all {
			want := false
			for _, candidate := range allowed[from] {
				if candidate == to {
					want = true
				}
			}
			if got := from.CanTransitionTo(to); got != want {
				t.Fatalf("%s -> %s: got %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestItemStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to domain.OrderItemStatus
		want     bool
	}{
		{domain.ItemStatusNormal, domain.ItemStatusReturnRequested, true},
		{domain.ItemStatusNormal, domain.ItemStatusCancelled, true},
		{domain.ItemStatusNormal, domain.ItemStatusReturned, false},
		{domain.ItemStatusReturnRequested, domain.ItemStatusReturned, true},
		{domain.ItemStatusReturnRequested, domain.ItemStatusReturnRejected, true},
		{domain.ItemStatusReturnRequested, domain.ItemStatusCancelled, false},
		{domain.ItemStatusReturnRejected, domain.ItemStatusReturnRequested, true},
		{domain.ItemStatusReturnRejected, domain.ItemStatusCancelled, false},
		{domain.ItemStatusReturned, domain.ItemStatusReturnRequested, false},
		{domain.ItemStatusCancelled, domain.ItemStatusNormal, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if !domain.ItemStatusReturned.Terminal() || !domain.ItemStatusCancelled.Terminal() || domain.ItemStatusReturnRejected.Terminal() {
		t.Fatal("unexpected terminal set")
	}
}

func TestParsePaymentMethod(t *testing.T) {
	cases := map[string]domain.PaymentMethod{
		"":        domain.PaymentCard,
		"  ":      domain.PaymentCard,
		"card":    domain.PaymentCard,
		" kakao ": domain.PaymentKakao,
		"Naver":   domain.PaymentNaver,
		"BANK":    domain.PaymentBank,
		"payco":   domain.PaymentPayco,
	}
	for raw, want := range cases {
		got, err := domain.ParsePaymentMethod(raw)
		if err != nil || got != want {
			t.Fatalf("ParsePaymentMethod(%q) = %q, %v; want %q", raw, got, err, want)
		}
	}
	if _, err := domain.ParsePaymentMethod("bitcoin"); !errors.Is(err, domain.ErrInvalidPaymentMethod) {
		t.Fatalf("expected ErrInvalidPaymentMethod, got %v", err)
	}
}

func TestPartialCancelKeepsItemNormal(t *testing.T) {
	order := makeOrder()

	refund, release, err := order.PartialCancelItem(100, 2, time.Now())
	if err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	item, _ := order.Item(100)
	if refund.Amount != 20000 || refund.Points != 200 {
		t.Fatalf("refund = %+v, want amount 20000 points 200", refund)
	}
	if release.ProductID != 100 || release.Quantity != 2 {
		t.Fatalf("release = %+v", release)
	}
	if item.CancelledQuantity != 2 || item.RemainingQuantity() != 3 || item.Status != domain.ItemStatusNormal {
		t.Fatalf("unexpected item state: %+v remaining=%d", item, item.RemainingQuantity())
	}
	if item.CancelledAmount != 20000 || order.RefundedAmount != 20000 || order.RefundedPoints != 200 {
		t.Fatalf("unexpected running totals: item=%d order=%d points=%d", item.CancelledAmount, order.RefundedAmount, order.RefundedPoints)
	}
	assertInvariants(t, order)
}

func TestPartialCancelLastUnitsCancelsOrder(t *testing.T) {
	order := makeOrder()
	order.ShippingFee = 3000
	order.FinalAmount = 53000

	if _, _, err := order.PartialCancelItem(100, 3, time.Now()); err != nil {
		t.Fatalf("first partial cancel: %v", err)
	}
	refund, _, err := order.PartialCancelItem(100, 2, time.Now())
	if err != nil {
		t.Fatalf("second partial cancel: %v", err)
	}
	if !refund.OrderCancelled || order.Status != domain.OrderStatusCancelled || order.CancelledAt == nil {
		t.Fatalf("order must be cancelled when every unit is released: %+v", order)
	}
	if order.RefundedAmount != order.FinalAmount || order.RefundedPoints != order.UsedPoints {
		t.Fatalf("remainder must be refunded: amount %d/%d points %d/%d",
			order.RefundedAmount, order.FinalAmount, order.RefundedPoints, order.UsedPoints)
	}
	item, _ := order.Item(100)
	if item.Status != domain.ItemStatusCancelled {
		t.Fatalf("item status = %s, want CANCELLED", item.Status)
	}
	assertInvariants(t, order)

	if _, _, err := order.PartialCancelItem(100, 1, time.Now()); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
	}
}

func TestPartialCancelValidation(t *testing.T) {
	order := makeOrder()
	if _, _, err := order.PartialCancelItem(100, 6, time.Now()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := order.PartialCancelItem(100, 0, time.Now()); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, _, err := order.PartialCancelItem(999, 1, time.Now()); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if order.RefundedAmount != 0 || order.Items[0].CancelledQuantity != 0 {
		t.Fatal("failed operations must not mutate the order")
	}
}

func TestRefundCapsAcrossManyOperations(t *testing.T) {
	order := makeOrder()
	order.Items[0].Quantity = 7
	order.Items[0].UnitPrice = 3
	order.TotalAmount = 21
	order.DiscountAmount = 1
	order.TierDiscountAmount = 1
	order.FinalAmount = 20
	order.UsedPoints = 19

	for i := 0; i < 6; i++ {
		if _, _, err := order.PartialCancelItem(100, 1, time.Now()); err != nil {
			t.Fatalf("partial cancel %d: %v", i, err)
		}
		assertInvariants(t, order)
	}
	if order.RefundedAmount > order.FinalAmount || order.RefundedPoints > order.UsedPoints {
		t.Fatalf("caps violated: %+v", order)
	}
}

func deliveredOrder(t *testing.T, deliveredAt time.Time) domain.Order {
	t.Helper()
	order := makeOrder()
	if err := order.Ship(deliveredAt.Add(-time.Hour)); err != nil {
		t.Fatalf("ship: %v", err)
	}
	points, err := order.Deliver(deliveredAt)
	if err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if points != 500 || !order.PointsSettled || order.SettledPoints != 500 {
		t.Fatalf("unexpected settlement: points=%d order=%+v", points, order)
	}
	return order
}

func TestReturnRequestRejectRestoresRemaining(t *testing.T) {
	now := time.Now().UTC()
	order := makeOrder()
	if _, _, err := order.PartialCancelItem(100, 2, now); err != nil {
		t.Fatalf("partial cancel: %v", err)
	}
	_ = order.Ship(now)
	if _, err := order.Deliver(now); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	if err := order.RequestItemReturn(100, 1, "DEFECT", now, 7*24*time.Hour); err != nil {
		t.Fatalf("request return: %v", err)
	}
	item, _ := order.Item(100)
	if item.Status != domain.ItemStatusReturnRequested || item.PendingReturnQuantity != 1 || item.RemainingQuantity() != 2 {
		t.Fatalf("unexpected requested state: %+v remaining=%d", item, item.RemainingQuantity())
	}
	if item.ReturnReason != "DEFECT" || item.ReturnRequestedAt == nil {
		t.Fatalf("return reason and timestamp must be recorded: %+v", item)
	}
	refundedBefore := order.RefundedAmount

	if err := order.RejectItemReturn(100, "used item", now); err != nil {
		t.Fatalf("reject: %v", err)
	}
	item, _ = order.Item(100)
	if item.Status != domain.ItemStatusReturnRejected || item.PendingReturnQuantity != 0 || item.RemainingQuantity() != 3 {
		t.Fatalf("unexpected rejected state: %+v remaining=%d", item, item.RemainingQuantity())
	}
	if order.RefundedAmount != refundedBefore {
		t.Fatal("reject must not refund")
	}

	// Одна повторная заявка разрешена, третья уже нет.
	if err := order.RequestItemReturn(100, 3, "DEFECT", now, 0); err != nil {
		t.Fatalf("re-request: %v", err)
	}
	if err := order.RejectItemReturn(100, "still used", now); err != nil {
		t.Fatalf("second reject: %v", err)
	}
	if err := order.RequestItemReturn(100, 1, "DEFECT", now, 0); !errors.Is(err, domain.ErrInvalidItemStatusTransition) {
		t.Fatalf("expected third request to fail, got %v", err)
	}
	assertInvariants(t, order)
}

func TestReturnRequiresDeliveredOrderAndOpenWindow(t *testing.T) {
	order := makeOrder()
	if err := order.RequestItemReturn(100, 1, "DEFECT", time.Now(), time.Hour); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected ErrInvalidStatus before delivery, got %v", err)
	}

	deliveredAt := time.Now().Add(-48 * time.Hour)
	order = deliveredOrder(t, deliveredAt)
	if err := order.RequestItemReturn(100, 1, "DEFECT", time.Now(), 24*time.Hour); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected closed window, got %v", err)
	}
	if err := order.RequestItemReturn(100, 1, "  ", time.Now(), 0); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected blank reason to fail validation, got %v", err)
	}
}

func TestApproveReturnAfterSettlementReclaimsPoints(t *testing.T) {
	order := deliveredOrder(t, time.Now())

	if err := order.RequestItemReturn(100, 2, "DEFECT", time.Now(), 0); err != nil {
		t.Fatalf("request: %v", err)
	}
	refund, release, err := order.ApproveItemReturn(100, time.Now())
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if refund.Amount != 20000 || refund.Points != 200 || refund.ReclaimPoints != 200 {
		t.Fatalf("unexpected refund: %+v", refund)
	}
	if release.Quantity != 2 {
		t.Fatalf("release = %+v", release)
	}
	item, _ := order.Item(100)
	if item.Status != domain.ItemStatusReturned || item.ReturnedQuantity != 2 || item.PendingReturnQuantity != 0 || item.ReturnedAmount != 20000 {
		t.Fatalf("unexpected item: %+v", item)
	}
	if _, _, err := order.ApproveItemReturn(100, time.Now()); !errors.Is(err, domain.ErrInvalidItemStatusTransition) {
		t.Fatalf("second approve must fail, got %v", err)
	}
	assertInvariants(t, order)
}

func TestSettleExactlyOnce(t *testing.T) {
	order := deliveredOrder(t, time.Now())
	if _, err := order.Settle(); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("second settle must fail, got %v", err)
	}

	pending := makeOrder()
	if _, err := pending.Settle(); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("settle before delivery must fail, got %v", err)
	}
	if _, err := pending.Deliver(time.Now()); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("deliver from PAID must fail, got %v", err)
	}
}

func TestCancelFullOrder(t *testing.T) {
	order := makeOrder()
	refund, releases, err := order.Cancel(time.Now())
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Amount != 50000 || refund.Points != 500 || !refund.OrderCancelled {
		t.Fatalf("unexpected refund: %+v", refund)
	}
	if len(releases) != 1 || releases[0].Quantity != 5 {
		t.Fatalf("unexpected releases: %+v", releases)
	}
	assertInvariants(t, order)

	if _, _, err := order.Cancel(time.Now()); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Fatalf("second cancel must fail with ErrOrderNotCancellable, got %v", err)
	}
	if order.RefundedAmount != 50000 || order.RefundedPoints != 500 {
		t.Fatal("second cancel must not change totals")
	}
}

func TestCancelFullOrderItemAmountsSumToRefund(t *testing.T) {
	now := time.Now().UTC()
	order := domain.Order{
		ID:                 2,
		UserID:             10,
		Status:             domain.OrderStatusPending,
		TotalAmount:        30000,
		TierDiscountAmount: 1000,
		DiscountAmount:     1000,
		FinalAmount:        29000,
		PaymentMethod:      domain.PaymentCard,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	for i := int64(1); i <= 3; i++ {
		order.Items = append(order.Items, domain.OrderItem{
			ID: 200 + i, OrderID: 2, ProductID: i, UnitPrice: 10000, Quantity: 1, Status: domain.ItemStatusNormal,
		})
	}
	if err := order.MarkPaid(now); err != nil {
		t.Fatalf("mark paid: %v", err)
	}

	refund, _, err := order.Cancel(now)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if refund.Amount != 29000 {
		t.Fatalf("refund amount = %d, want 29000", refund.Amount)
	}

	var sum int64
	for _, item := range order.Items {
		sum += item.CancelledAmount
	}
	if sum != refund.Amount {
		t.Fatalf("item cancelled amounts sum to %d, refund is %d", sum, refund.Amount)
	}
	if got := order.Items[2].CancelledAmount; got != 9668 {
		t.Fatalf("last item takes the rounding remainder: got %d, want 9668", got)
	}
	assertInvariants(t, order)
}
