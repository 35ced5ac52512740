package grpcsvc

import (
	shoporderv1 "github.com/vladislavdragonenkov/shoporder/api/shoporder/v1"
	"github.com/vladislavdragonenkov/shoporder/internal/domain"
	"github.com/vladislavdragonenkov/shoporder/internal/service/order"
)

func toAPIOrder(o domain.Order) *shoporderv1.Order {
	items := make([]shoporderv1.OrderItem, 0, len(o.Items))
	for _, item := range o.Items {
		items = append(items, shoporderv1.OrderItem{
			ID:                    item.ID,
			ProductID:             item.ProductID,
			ProductName:           item.ProductName,
			UnitPrice:             item.UnitPrice,
			Quantity:              item.Quantity,
			CancelledQuantity:     item.CancelledQuantity,
			ReturnedQuantity:      item.ReturnedQuantity,
			PendingReturnQuantity: item.PendingReturnQuantity,
			CancelledAmount:       item.CancelledAmount,
			ReturnedAmount:        item.ReturnedAmount,
			Status:                string(item.Status),
			ReturnReason:          item.ReturnReason,
			RejectReason:          item.RejectReason,
			ReturnRequestCount:    item.ReturnRequestCount,
			ReturnRequestedAt:     item.ReturnRequestedAt,
			ReturnedAt:            item.ReturnedAt,
			RejectedAt:            item.RejectedAt,
			CancelledAt:           item.CancelledAt,
		})
	}

	return &shoporderv1.Order{
		ID:                   o.ID,
		Number:               o.Number,
		UserID:               o.UserID,
		Status:               string(o.Status),
		TotalAmount:          o.TotalAmount,
		TierDiscountAmount:   o.TierDiscountAmount,
		CouponDiscountAmount: o.CouponDiscountAmount,
		DiscountAmount:       o.DiscountAmount,
		ShippingFee:          o.ShippingFee,
		FinalAmount:          o.FinalAmount,
		PointEarnRate:        o.PointEarnRateSnapshot.String(),
		EarnedPoints:         o.EarnedPointsSnapshot,
		UsedPoints:           o.UsedPoints,
		RefundedAmount:       o.RefundedAmount,
		RefundedPoints:       o.RefundedPoints,
		PointsSettled:        o.PointsSettled,
		SettledPoints:        o.SettledPoints,
		ReclaimedPoints:      o.ReclaimedPoints,
		PaymentMethod:        string(o.PaymentMethod),
		UserCouponID:         o.UserCouponID,
		ShippingAddress:      o.ShippingAddress,
		RecipientName:        o.RecipientName,
		RecipientPhone:       o.RecipientPhone,
		Items:                items,
		CreatedAt:            o.CreatedAt,
		PaidAt:               o.PaidAt,
		ShippedAt:            o.ShippedAt,
		DeliveredAt:          o.DeliveredAt,
		CancelledAt:          o.CancelledAt,
	}
}

func toAPITimeline(events []domain.TimelineEvent) []shoporderv1.TimelineEvent {
	result := make([]shoporderv1.TimelineEvent, 0, len(events))
	for _, event := range events {
		result = append(result, shoporderv1.TimelineEvent{
			Type:     event.Type,
			ItemID:   event.ItemID,
			Reason:   event.Reason,
			Occurred: event.Occurred,
		})
	}
	return result
}

func toAPIReversal(r order.Reversal) *shoporderv1.ReversalResponse {
	return &shoporderv1.ReversalResponse{
		Order: toAPIOrder(r.Order),
		Refund: shoporderv1.Refund{
			Amount:         r.Refund.Amount,
			Points:         r.Refund.Points,
			ReclaimPoints:  r.Refund.ReclaimPoints,
			OrderCancelled: r.Refund.OrderCancelled,
		},
	}
}

func toAPIInventory(r domain.InventoryHistoryRecord) shoporderv1.InventoryRecord {
	return shoporderv1.InventoryRecord{
		ID:             r.ID,
		ProductID:      r.ProductID,
		ChangeType:     string(r.ChangeType),
		ChangeAmount:   r.ChangeAmount,
		BeforeQuantity: r.BeforeQuantity,
		AfterQuantity:  r.AfterQuantity,
		Reason:         r.Reason,
		ReferenceID:    r.ReferenceID,
		CreatedAt:      r.CreatedAt,
	}
}
