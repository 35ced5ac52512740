package domain

import (
	"fmt"
	"strings"
	"time"
)

// OrderItemStatus задаёт статус отдельной позиции заказа.
type OrderItemStatus string

const (
	ItemStatusNormal          OrderItemStatus = "NORMAL"
	ItemStatusReturnRequested OrderItemStatus = "RETURN_REQUESTED"
	ItemStatusReturned        OrderItemStatus = "RETURNED"
	ItemStatusReturnRejected  OrderItemStatus = "RETURN_REJECTED"
	ItemStatusCancelled       OrderItemStatus = "CANCELLED"
)

// MaxReturnRequests — первая заявка плюс одна повторная после отказа.
const MaxReturnRequests = 2

var itemTransitions = map[OrderItemStatus][]OrderItemStatus{
	ItemStatusNormal:          {ItemStatusReturnRequested, ItemStatusCancelled},
	ItemStatusReturnRequested: {ItemStatusReturned, ItemStatusReturnRejected},
	ItemStatusReturnRejected:  {ItemStatusReturnRequested},
}

// CanTransitionTo остаётся единственной таблицей допустимых переходов статуса позиции.
func (s OrderItemStatus) CanTransitionTo(next OrderItemStatus) bool {
	for _, allowed := range itemTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal сообщает, что из статуса нет переходов.
func (s OrderItemStatus) Terminal() bool {
	return len(itemTransitions[s]) == 0
}

// OrderItem описывает позицию заказа со снимком названия и цены на момент покупки.
type OrderItem struct {
	ID          int64
	OrderID     int64
	ProductID   int64
	ProductName string
	UnitPrice   int64

	Quantity              int64
	CancelledQuantity     int64
	ReturnedQuantity      int64
	PendingReturnQuantity int64
	CancelledAmount       int64
	ReturnedAmount        int64

	Status             OrderItemStatus
	ReturnReason       string
	RejectReason       string
	ReturnRequestCount int

	ReturnRequestedAt *time.Time
	ReturnedAt        *time.Time
	RejectedAt        *time.Time
	CancelledAt       *time.Time
}

// RemainingQuantity возвращает единицы, которые ещё не отменены, не возвращены и не ждут возврата.
func (i OrderItem) RemainingQuantity() int64 {
	return i.Quantity - i.CancelledQuantity - i.ReturnedQuantity - i.PendingReturnQuantity
}

// Subtotal возвращает стоимость позиции по снимку цены.
func (i OrderItem) Subtotal() int64 {
	return i.UnitPrice * i.Quantity
}

// ValidateQuantities проверяет quantity == cancelled + returned + pending + remaining.
func (i OrderItem) ValidateQuantities() error {
	if i.Quantity < 1 || i.CancelledQuantity < 0 || i.ReturnedQuantity < 0 || i.PendingReturnQuantity < 0 || i.RemainingQuantity() < 0 {
		return fmt.Errorf("item %d quantities out of range: qty=%d cancelled=%d returned=%d pending=%d",
			i.ID, i.Quantity, i.CancelledQuantity, i.ReturnedQuantity, i.PendingReturnQuantity)
	}
	return nil
}

// transition остаётся единственной точкой смены статуса позиции.
func (i *OrderItem) transition(next OrderItemStatus, at time.Time) error {
	if !i.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: item %d %s -> %s", ErrInvalidItemStatusTransition, i.ID, i.Status, next)
	}
	ts := at.UTC()
	switch next {
	case ItemStatusReturnRequested:
		i.ReturnRequestedAt = &ts
	case ItemStatusReturned:
		i.ReturnedAt = &ts
	case ItemStatusReturnRejected:
		i.RejectedAt = &ts
	case ItemStatusCancelled:
		i.CancelledAt = &ts
	}
	i.Status = next
	return nil
}

func (i OrderItem) checkCancel(qty int64) error {
	if !i.Status.CanTransitionTo(ItemStatusCancelled) {
		return fmt.Errorf("%w: item %d is %s", ErrInvalidItemStatusTransition, i.ID, i.Status)
	}
	if qty < 1 {
		return Validationf("quantity must be >= 1")
	}
	if qty > i.RemainingQuantity() {
		return Validationf("quantity %d exceeds remaining %d", qty, i.RemainingQuantity())
	}
	return nil
}

func (i *OrderItem) applyCancel(qty, amount int64, at time.Time) error {
	if err := i.checkCancel(qty); err != nil {
		return err
	}
	i.CancelledQuantity += qty
	i.CancelledAmount += amount
	if i.RemainingQuantity() == 0 {
		return i.transition(ItemStatusCancelled, at)
	}
	return nil
}

func (i *OrderItem) requestReturn(qty int64, reason string, at time.Time) error {
	reason = strings.TrimSpace(reason)
	if !i.Status.CanTransitionTo(ItemStatusReturnRequested) {
		return fmt.Errorf("%w: item %d %s -> %s", ErrInvalidItemStatusTransition, i.ID, i.Status, ItemStatusReturnRequested)
	}
	if i.ReturnRequestCount >= MaxReturnRequests {
		return fmt.Errorf("%w: item %d reached %d return requests", ErrInvalidItemStatusTransition, i.ID, MaxReturnRequests)
	}
	if reason == "" {
		return Validationf("return reason is required")
	}
	if qty < 1 {
		return Validationf("quantity must be >= 1")
	}
	if qty > i.RemainingQuantity() {
		return Validationf("quantity %d exceeds remaining %d", qty, i.RemainingQuantity())
	}
	if err := i.transition(ItemStatusReturnRequested, at); err != nil {
		return err
	}
	i.PendingReturnQuantity = qty
	i.ReturnReason = reason
	i.RejectReason = ""
	i.ReturnRequestCount++
	return nil
}

func (i *OrderItem) approveReturn(amount int64, at time.Time) error {
	if err := i.transition(ItemStatusReturned, at); err != nil {
		return err
	}
	i.ReturnedQuantity += i.PendingReturnQuantity
	i.ReturnedAmount += amount
	i.PendingReturnQuantity = 0
	return nil
}

func (i *OrderItem) rejectReturn(reason string, at time.Time) error {
	reason = strings.TrimSpace(reason)
	if !i.Status.CanTransitionTo(ItemStatusReturnRejected) {
		return fmt.Errorf("%w: item %d %s -> %s", ErrInvalidItemStatusTransition, i.ID, i.Status, ItemStatusReturnRejected)
	}
	if reason == "" {
		return Validationf("reject reason is required")
	}
	if err := i.transition(ItemStatusReturnRejected, at); err != nil {
		return err
	}
	i.PendingReturnQuantity = 0
	i.RejectReason = reason
	return nil
}
