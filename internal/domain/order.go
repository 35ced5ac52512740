package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus описывает жизненный цикл заказа.
type OrderStatus string

const (
	// OrderStatusPending — заказ создан, оплата ещё не зафиксирована.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusPaid — способ оплаты зафиксирован в транзакции создания.
	OrderStatusPaid OrderStatus = "PAID"
	// OrderStatusShipped — заказ передан в доставку.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered — заказ получен, баллы начислены.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled — заказ отменён до отгрузки.
	OrderStatusCancelled OrderStatus = "CANCELLED"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending: {OrderStatusPaid, OrderStatusCancelled},
	OrderStatusPaid:    {OrderStatusShipped, OrderStatusCancelled},
	OrderStatusShipped: {OrderStatusDelivered},
}

// CanTransitionTo остаётся единственной таблицей допустимых переходов статуса заказа.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Cancellable сообщает, можно ли отменить заказ в этом статусе.
func (s OrderStatus) Cancellable() bool {
	return s.CanTransitionTo(OrderStatusCancelled)
}

// PaymentMethod задаёт способ оплаты. Только записывается, не проводится.
type PaymentMethod string

const (
	PaymentCard  PaymentMethod = "CARD"
	PaymentBank  PaymentMethod = "BANK"
	PaymentKakao PaymentMethod = "KAKAO"
	PaymentNaver PaymentMethod = "NAVER"
	PaymentPayco PaymentMethod = "PAYCO"
)

// PaymentMethods содержит полный набор; совпадает с CHECK-ограничением orders_payment_method_check.
var PaymentMethods = []PaymentMethod{PaymentCard, PaymentBank, PaymentKakao, PaymentNaver, PaymentPayco}

// ParsePaymentMethod нормализует регистр; пустое значение означает CARD.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return PaymentCard, nil
	}
	for _, method := range PaymentMethods {
		if string(method) == normalized {
			return method, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
}

// Order представляет агрегат заказа. Позиции загружаются и сохраняются вместе с заголовком.
type Order struct {
	ID     int64
	Number string
	UserID int64
	Status OrderStatus

	TotalAmount          int64
	TierDiscountAmount   int64
	CouponDiscountAmount int64
	DiscountAmount       int64
	ShippingFee          int64
	FinalAmount          int64

	PointEarnRateSnapshot decimal.Decimal
	EarnedPointsSnapshot  int64
	UsedPoints            int64
	RefundedAmount        int64
	RefundedPoints        int64
	PointsSettled         bool
	SettledPoints         int64
	ReclaimedPoints       int64

	PaymentMethod PaymentMethod
	UserCouponID  *int64

	ShippingAddress string
	RecipientName   string
	RecipientPhone  string

	Items []OrderItem

	CreatedAt   time.Time
	PaidAt      *time.Time
	ShippedAt   *time.Time
	DeliveredAt *time.Time
	CancelledAt *time.Time
	UpdatedAt   time.Time
}

// Refund описывает результат денежного разворота по заказу.
type Refund struct {
	Amount int64
	Points int64
	// Уже начисленные баллы, которые нужно забрать (возврат после доставки).
	ReclaimPoints int64
	// Разворот закрыл заказ целиком.
	OrderCancelled bool
}

// StockRelease задаёт количество единиц товара, возвращаемых на склад.
type StockRelease struct {
	ProductID int64
	Quantity  int64
}

// transition остаётся единственной точкой смены статуса заказа.
func (o *Order) transition(next OrderStatus, at time.Time) error {
	if !o.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatus, o.Status, next)
	}
	ts := at.UTC()
	switch next {
	case OrderStatusPaid:
		o.PaidAt = &ts
	case OrderStatusShipped:
		o.ShippedAt = &ts
	case OrderStatusDelivered:
		o.DeliveredAt = &ts
	case OrderStatusCancelled:
		o.CancelledAt = &ts
	}
	o.Status = next
	o.UpdatedAt = ts
	return nil
}

// MarkPaid фиксирует оплату внутри транзакции создания.
func (o *Order) MarkPaid(at time.Time) error {
	return o.transition(OrderStatusPaid, at)
}

// Ship переводит оплаченный заказ в доставку.
func (o *Order) Ship(at time.Time) error {
	return o.transition(OrderStatusShipped, at)
}

// Deliver закрывает доставку и начисляет баллы. Возвращает число начисленных баллов.
func (o *Order) Deliver(at time.Time) (int64, error) {
	if err := o.transition(OrderStatusDelivered, at); err != nil {
		return 0, err
	}
	return o.Settle()
}

// Settle переводит PointsSettled из false в true ровно один раз.
func (o *Order) Settle() (int64, error) {
	if o.Status != OrderStatusDelivered {
		return 0, fmt.Errorf("%w: points settle only on delivered orders, got %s", ErrInvalidStatus, o.Status)
	}
	if o.PointsSettled {
		return 0, fmt.Errorf("%w: points already settled for order %d", ErrInvalidStatus, o.ID)
	}
	points := ApplyRate(o.FinalAmount-o.RefundedAmount, o.PointEarnRateSnapshot)
	o.PointsSettled = true
	o.SettledPoints = points
	return points, nil
}

// Cancel разворачивает заказ целиком: все оставшиеся единицы возвращаются на склад.
func (o *Order) Cancel(at time.Time) (Refund, []StockRelease, error) {
	if !o.Status.Cancellable() {
		return Refund{}, nil, fmt.Errorf("%w: order %d is %s", ErrOrderNotCancellable, o.ID, o.Status)
	}

	refund := o.refundRemainder()
	releases := make([]StockRelease, 0, len(o.Items))
	last := -1
	var assigned int64
	for idx := range o.Items {
		item := &o.Items[idx]
		qty := item.RemainingQuantity()
		if qty == 0 {
			continue
		}
		amount := min(o.itemRefundAmount(*item, qty), refund.Amount-assigned)
		if err := item.applyCancel(qty, amount, at); err != nil {
			return Refund{}, nil, err
		}
		assigned += amount
		last = idx
		releases = append(releases, StockRelease{ProductID: item.ProductID, Quantity: qty})
	}
	// остаток от округления достаётся последней отменённой позиции
	if last >= 0 {
		o.Items[last].CancelledAmount += refund.Amount - assigned
	}

	if err := o.transition(OrderStatusCancelled, at); err != nil {
		return Refund{}, nil, err
	}
	refund.OrderCancelled = true
	return refund, releases, nil
}

// PartialCancelItem отменяет qty единиц позиции до отгрузки без участия администратора.
func (o *Order) PartialCancelItem(itemID, qty int64, at time.Time) (Refund, StockRelease, error) {
	if !o.Status.Cancellable() {
		return Refund{}, StockRelease{}, fmt.Errorf("%w: order %d is %s", ErrOrderNotCancellable, o.ID, o.Status)
	}
	item, err := o.item(itemID)
	if err != nil {
		return Refund{}, StockRelease{}, err
	}
	if err := item.checkCancel(qty); err != nil {
		return Refund{}, StockRelease{}, err
	}

	lastUnits := item.RemainingQuantity() == qty && o.openUnitsExcept(itemID) == 0
	var refund Refund
	if lastUnits {
		refund = o.refundRemainder()
	} else {
		refund = o.refund(o.itemRefundAmount(*item, qty))
	}
	if err := item.applyCancel(qty, refund.Amount, at); err != nil {
		return Refund{}, StockRelease{}, err
	}
	if lastUnits {
		if err := o.transition(OrderStatusCancelled, at); err != nil {
			return Refund{}, StockRelease{}, err
		}
		refund.OrderCancelled = true
	}
	o.UpdatedAt = at.UTC()
	return refund, StockRelease{ProductID: item.ProductID, Quantity: qty}, nil
}

// RequestItemReturn регистрирует заявку на возврат. Деньги, баллы и склад не меняются.
func (o *Order) RequestItemReturn(itemID, qty int64, reason string, at time.Time, window time.Duration) error {
	if o.Status != OrderStatusDelivered {
		return fmt.Errorf("%w: returns require a delivered order, got %s", ErrInvalidStatus, o.Status)
	}
	if window > 0 && o.DeliveredAt != nil && at.After(o.DeliveredAt.Add(window)) {
		return fmt.Errorf("%w: return window closed at %s", ErrInvalidStatus, o.DeliveredAt.Add(window).Format(time.RFC3339))
	}
	item, err := o.item(itemID)
	if err != nil {
		return err
	}
	if err := item.requestReturn(qty, reason, at); err != nil {
		return err
	}
	o.UpdatedAt = at.UTC()
	return nil
}

// ApproveItemReturn принимает заявку: склад и деньги возвращаются, после начисления баллы забираются.
func (o *Order) ApproveItemReturn(itemID int64, at time.Time) (Refund, StockRelease, error) {
	item, err := o.item(itemID)
	if err != nil {
		return Refund{}, StockRelease{}, err
	}
	if !item.Status.CanTransitionTo(ItemStatusReturned) {
		return Refund{}, StockRelease{}, fmt.Errorf("%w: %s -> %s", ErrInvalidItemStatusTransition, item.Status, ItemStatusReturned)
	}

	qty := item.PendingReturnQuantity
	refund := o.refund(o.itemRefundAmount(*item, qty))
	if o.PointsSettled {
		reclaim := ApplyRate(refund.Amount, o.PointEarnRateSnapshot)
		refund.ReclaimPoints = min(reclaim, max(o.SettledPoints-o.ReclaimedPoints, 0))
	}
	if err := item.approveReturn(refund.Amount, at); err != nil {
		return Refund{}, StockRelease{}, err
	}
	o.UpdatedAt = at.UTC()
	return refund, StockRelease{ProductID: item.ProductID, Quantity: qty}, nil
}

// RejectItemReturn отклоняет заявку; единицы снова считаются оставшимися.
func (o *Order) RejectItemReturn(itemID int64, reason string, at time.Time) error {
	item, err := o.item(itemID)
	if err != nil {
		return err
	}
	if err := item.rejectReturn(reason, at); err != nil {
		return err
	}
	o.UpdatedAt = at.UTC()
	return nil
}

// Item возвращает копию позиции по идентификатору.
func (o Order) Item(itemID int64) (OrderItem, bool) {
	for _, item := range o.Items {
		if item.ID == itemID {
			return item, true
		}
	}
	return OrderItem{}, false
}

// ProductIDs возвращает идентификаторы товаров заказа.
func (o Order) ProductIDs() []int64 {
	ids := make([]int64, 0, len(o.Items))
	for _, item := range o.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// PayableAmount возвращает сумму к оплате выбранным способом (итог минус баллы).
func (o Order) PayableAmount() int64 {
	return o.FinalAmount - o.UsedPoints
}

func (o *Order) item(itemID int64) (*OrderItem, error) {
	for idx := range o.Items {
		if o.Items[idx].ID == itemID {
			return &o.Items[idx], nil
		}
	}
	return nil, fmt.Errorf("%w: id %d in order %d", ErrOrderItemNotFound, itemID, o.ID)
}

func (o Order) openUnitsExcept(itemID int64) int64 {
	var open int64
	for _, item := range o.Items {
		if item.ID == itemID {
			continue
		}
		open += item.RemainingQuantity() + item.PendingReturnQuantity
	}
	return open
}

// itemRefundAmount считает стоимость qty единиц позиции с учётом доли скидок заказа.
func (o Order) itemRefundAmount(item OrderItem, qty int64) int64 {
	gross := item.UnitPrice * qty
	if o.TotalAmount <= 0 {
		return 0
	}
	return Proportion(gross, o.TotalAmount-o.DiscountAmount, o.TotalAmount)
}

// refund применяет возврат amount с пропорциональными баллами и потолками.
func (o *Order) refund(amount int64) Refund {
	amount = min(max(amount, 0), o.FinalAmount-o.RefundedAmount)
	points := min(Proportion(o.UsedPoints, amount, o.FinalAmount), o.UsedPoints-o.RefundedPoints)
	o.RefundedAmount += amount
	o.RefundedPoints += points
	return Refund{Amount: amount, Points: points}
}

func (o *Order) refundRemainder() Refund {
	amount := o.FinalAmount - o.RefundedAmount
	points := o.UsedPoints - o.RefundedPoints
	o.RefundedAmount = o.FinalAmount
	o.RefundedPoints = o.UsedPoints
	return Refund{Amount: amount, Points: points}
}

// ValidateInvariants проверяет денежные и количественные инварианты заказа.
func (o Order) ValidateInvariants() []error {
	var errs []error

	if o.DiscountAmount != o.TierDiscountAmount+o.CouponDiscountAmount {
		errs = append(errs, errors.New("discount amount must equal tier + coupon discount"))
	}
	if o.FinalAmount != o.TotalAmount-o.DiscountAmount+o.ShippingFee {
		errs = append(errs, errors.New("final amount must equal total - discount + shipping"))
	}
	if o.RefundedAmount < 0 || o.RefundedAmount > o.FinalAmount {
		errs = append(errs, errors.New("refunded amount out of range"))
	}
	if o.RefundedPoints < 0 || o.RefundedPoints > o.UsedPoints {
		errs = append(errs, errors.New("refunded points out of range"))
	}
	if o.PointsSettled && o.Status != OrderStatusDelivered {
		errs = append(errs, errors.New("points settled before delivery"))
	}
	for _, item := range o.Items {
		if err := item.ValidateQuantities(); err != nil {
			errs = append(errs, err)
		}
	}

	return errs
}
