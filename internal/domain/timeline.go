package domain

import "time"

// Типы событий таймлайна заказа.
const (
	TimelineOrderCreated           = "ORDER_CREATED"
	TimelineOrderPaid              = "ORDER_PAID"
	TimelineOrderShipped           = "ORDER_SHIPPED"
	TimelineOrderDelivered         = "ORDER_DELIVERED"
	TimelineOrderCancelled         = "ORDER_CANCELLED"
	TimelineItemPartiallyCancelled = "ITEM_PARTIALLY_CANCELLED"
	TimelineReturnRequested        = "RETURN_REQUESTED"
	TimelineReturnApproved         = "RETURN_APPROVED"
	TimelineReturnRejected         = "RETURN_REJECTED"
	TimelinePointsSettled          = "POINTS_SETTLED"
)

// TimelineEvent описывает событие в жизненном цикле заказа.
type TimelineEvent struct {
	ID       int64
	OrderID  int64
	ItemID   *int64
	Type     string
	Reason   string
	Occurred time.Time
}
