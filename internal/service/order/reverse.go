package order

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Cancel отменяет заказ целиком до отгрузки. userID == 0 означает действие администратора.
// Повторный вызов возвращает ErrOrderNotCancellable и ничего не меняет.
func (s *Service) Cancel(ctx context.Context, orderID, userID int64) (Reversal, error) {
	var result Reversal
	err := s.execute(ctx, opCancel, log.Fields{"order_id": orderID, "user_id": userID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkOwner(order, userID); err != nil {
			return err
		}
		if !order.Status.Cancellable() {
			return fmt.Errorf("%w: order %d is %s", domain.ErrOrderNotCancellable, order.ID, order.Status)
		}

		user, err := tx.Users().LockByID(ctx, order.UserID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.LockProducts(ctx, tx, order.ProductIDs()); err != nil {
			return err
		}
		var (
			userCoupon domain.UserCoupon
			coupon     domain.Coupon
		)
		if order.UserCouponID != nil {
			if userCoupon, coupon, err = lockCoupons(ctx, tx, *order.UserCouponID); err != nil {
				return err
			}
		}

		refund, releases, err := order.Cancel(now)
		if err != nil {
			return err
		}
		for _, release := range releases {
			if _, err := s.ledger.Increase(ctx, tx, release.ProductID, release.Quantity, domain.InventoryReasonCancel, ptr(order.ID)); err != nil {
				return err
			}
		}
		if order.UserCouponID != nil {
			if err := releaseCoupon(ctx, tx, userCoupon, coupon); err != nil {
				return err
			}
		}

		user.SubtractUnsettledSpent(refund.Amount, order.CreatedAt)
		user.CreditPoints(refund.Points)
		if err := s.resolveTier(ctx, tx, &user, domain.TierReasonCancel); err != nil {
			return err
		}

		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderCancelled, "", now); err != nil {
			return err
		}

		result = Reversal{Order: order, Refund: refund}
		return nil
	})
	if err != nil {
		return Reversal{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":        result.Order.ID,
		"refunded_amount": result.Refund.Amount,
		"refunded_points": result.Refund.Points,
	}).Info("order cancelled")
	s.publishStockChanged(ctx, result.Order.ProductIDs(), domain.InventoryReasonCancel)
	return result, nil
}

// PartialCancelRequest отменяет часть единиц одной позиции до отгрузки.
type PartialCancelRequest struct {
	UserID      int64
	OrderItemID int64
	Quantity    int64
}

// PartialCancel отменяет Quantity единиц позиции. Если это последние открытые единицы заказа,
// заказ отменяется целиком, возвращается остаток суммы вместе с доставкой и освобождается купон.
func (s *Service) PartialCancel(ctx context.Context, req PartialCancelRequest) (Reversal, error) {
	if req.Quantity < 1 {
		return Reversal{}, domain.Validationf("quantity must be >= 1")
	}

	var (
		result    Reversal
		productID int64
	)
	fields := log.Fields{"order_item_id": req.OrderItemID, "user_id": req.UserID, "quantity": req.Quantity}
	err := s.execute(ctx, opPartialCancel, fields, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByItemID(ctx, req.OrderItemID)
		if err != nil {
			return err
		}
		if err := checkOwner(order, req.UserID); err != nil {
			return err
		}
		if !order.Status.Cancellable() {
			return fmt.Errorf("%w: order %d is %s", domain.ErrOrderNotCancellable, order.ID, order.Status)
		}
		item, ok := order.Item(req.OrderItemID)
		if !ok {
			return fmt.Errorf("%w: id %d", domain.ErrOrderItemNotFound, req.OrderItemID)
		}

		user, err := tx.Users().LockByID(ctx, order.UserID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.LockProducts(ctx, tx, []int64{item.ProductID}); err != nil {
			return err
		}
		var (
			userCoupon domain.UserCoupon
			coupon     domain.Coupon
		)
		if order.UserCouponID != nil {
			if userCoupon, coupon, err = lockCoupons(ctx, tx, *order.UserCouponID); err != nil {
				return err
			}
		}

		refund, release, err := order.PartialCancelItem(req.OrderItemID, req.Quantity, now)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Increase(ctx, tx, release.ProductID, release.Quantity, domain.InventoryReasonPartialCancel, ptr(order.ID)); err != nil {
			return err
		}
		if refund.OrderCancelled && order.UserCouponID != nil {
			if err := releaseCoupon(ctx, tx, userCoupon, coupon); err != nil {
				return err
			}
		}

		user.SubtractUnsettledSpent(refund.Amount, order.CreatedAt)
		user.CreditPoints(refund.Points)
		if err := s.resolveTier(ctx, tx, &user, domain.TierReasonPartialCancel); err != nil {
			return err
		}

		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		reason := fmt.Sprintf("quantity=%d", req.Quantity)
		if err := s.appendTimeline(ctx, tx, order.ID, ptr(req.OrderItemID), domain.TimelineItemPartiallyCancelled, reason, now); err != nil {
			return err
		}
		if refund.OrderCancelled {
			if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderCancelled, "all items cancelled", now); err != nil {
				return err
			}
		}

		result = Reversal{Order: order, Refund: refund}
		productID = release.ProductID
		return nil
	})
	if err != nil {
		return Reversal{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":        result.Order.ID,
		"order_item_id":   req.OrderItemID,
		"refunded_amount": result.Refund.Amount,
		"order_cancelled": result.Refund.OrderCancelled,
	}).Info("order item partially cancelled")
	s.publishStockChanged(ctx, []int64{productID}, domain.InventoryReasonPartialCancel)
	return result, nil
}

// ReturnRequest описывает заявку покупателя на возврат части позиции доставленного заказа.
type ReturnRequest struct {
	UserID      int64
	OrderItemID int64
	Quantity    int64
	Reason      string
}

// RequestReturn регистрирует заявку. Склад, деньги и баллы не меняются до одобрения.
func (s *Service) RequestReturn(ctx context.Context, req ReturnRequest) (domain.Order, error) {
	var updated domain.Order
	fields := log.Fields{"order_item_id": req.OrderItemID, "user_id": req.UserID, "quantity": req.Quantity}
	err := s.execute(ctx, opRequestReturn, fields, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByItemID(ctx, req.OrderItemID)
		if err != nil {
			return err
		}
		if err := checkOwner(order, req.UserID); err != nil {
			return err
		}
		if err := order.RequestItemReturn(req.OrderItemID, req.Quantity, req.Reason, now, s.returnWindow); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		if err := s.appendTimeline(ctx, tx, order.ID, ptr(req.OrderItemID), domain.TimelineReturnRequested, req.Reason, now); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}

// ApproveReturn принимает заявку (администратор): единицы возвращаются на склад,
// покупателю возвращаются деньги и баллы, начисленные при доставке баллы частично забираются.
func (s *Service) ApproveReturn(ctx context.Context, orderItemID int64) (Reversal, error) {
	var (
		result    Reversal
		productID int64
	)
	err := s.execute(ctx, opApproveReturn, log.Fields{"order_item_id": orderItemID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByItemID(ctx, orderItemID)
		if err != nil {
			return err
		}
		item, ok := order.Item(orderItemID)
		if !ok {
			return fmt.Errorf("%w: id %d", domain.ErrOrderItemNotFound, orderItemID)
		}
		if !item.Status.CanTransitionTo(domain.ItemStatusReturned) {
			return fmt.Errorf("%w: item %d %s -> %s", domain.ErrInvalidItemStatusTransition, item.ID, item.Status, domain.ItemStatusReturned)
		}

		user, err := tx.Users().LockByID(ctx, order.UserID)
		if err != nil {
			return err
		}
		if _, err := s.ledger.LockProducts(ctx, tx, []int64{item.ProductID}); err != nil {
			return err
		}

		refund, release, err := order.ApproveItemReturn(orderItemID, now)
		if err != nil {
			return err
		}
		if _, err := s.ledger.Increase(ctx, tx, release.ProductID, release.Quantity, domain.InventoryReasonReturn, ptr(order.ID)); err != nil {
			return err
		}

		user.CreditPoints(refund.Points)
		wanted := refund.ReclaimPoints
		refund.ReclaimPoints = user.ReclaimPoints(wanted)
		order.ReclaimedPoints += refund.ReclaimPoints
		if shortfall := wanted - refund.ReclaimPoints; shortfall > 0 {
			s.logger.WithFields(log.Fields{
				"order_id":  order.ID,
				"user_id":   user.ID,
				"shortfall": shortfall,
			}).Warn("settled points already spent, reclaim limited to balance")
		}
		user.SubtractSpent(refund.Amount)
		if err := s.resolveTier(ctx, tx, &user, domain.TierReasonReturn); err != nil {
			return err
		}

		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		reason := fmt.Sprintf("quantity=%d", release.Quantity)
		if err := s.appendTimeline(ctx, tx, order.ID, ptr(orderItemID), domain.TimelineReturnApproved, reason, now); err != nil {
			return err
		}

		result = Reversal{Order: order, Refund: refund}
		productID = release.ProductID
		return nil
	})
	if err != nil {
		return Reversal{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":         result.Order.ID,
		"order_item_id":    orderItemID,
		"refunded_amount":  result.Refund.Amount,
		"reclaimed_points": result.Refund.ReclaimPoints,
	}).Info("return approved")
	s.publishStockChanged(ctx, []int64{productID}, domain.InventoryReasonReturn)
	return result, nil
}

// RejectReturn отклоняет заявку (администратор). Покупатель может подать её повторно один раз.
func (s *Service) RejectReturn(ctx context.Context, orderItemID int64, reason string) (domain.Order, error) {
	var updated domain.Order
	err := s.execute(ctx, opRejectReturn, log.Fields{"order_item_id": orderItemID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByItemID(ctx, orderItemID)
		if err != nil {
			return err
		}
		if err := order.RejectItemReturn(orderItemID, reason, now); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		if err := s.appendTimeline(ctx, tx, order.ID, ptr(orderItemID), domain.TimelineReturnRejected, reason, now); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return updated, nil
}
