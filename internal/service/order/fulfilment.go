package order

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Ship переводит оплаченный заказ в доставку.
func (s *Service) Ship(ctx context.Context, orderID int64) (domain.Order, error) {
	var updated domain.Order
	err := s.execute(ctx, opShip, log.Fields{"order_id": orderID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		if err := order.Ship(now); err != nil {
			return err
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderShipped, "", now); err != nil {
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

// Deliver закрывает доставку и в той же транзакции начисляет баллы
// с (FinalAmount - RefundedAmount) по ставке, зафиксированной при создании.
func (s *Service) Deliver(ctx context.Context, orderID int64) (domain.Order, error) {
	var (
		updated domain.Order
		points  int64
	)
	err := s.execute(ctx, opDeliver, log.Fields{"order_id": orderID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		order, err := tx.Orders().LockByID(ctx, orderID)
		if err != nil {
			return err
		}
		user, err := tx.Users().LockByID(ctx, order.UserID)
		if err != nil {
			return err
		}

		points, err = order.Deliver(now)
		if err != nil {
			return err
		}
		user.CreditPoints(points)
		if err := tx.Users().Save(ctx, user); err != nil {
			return fmt.Errorf("save user %d: %w", user.ID, err)
		}
		if err := tx.Orders().Save(ctx, order); err != nil {
			return fmt.Errorf("save order %d: %w", order.ID, err)
		}
		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderDelivered, "", now); err != nil {
			return err
		}
		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelinePointsSettled, fmt.Sprintf("points=%d", points), now); err != nil {
			return err
		}

		updated = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.metrics.RecordPointsSettled(points)
	s.logger.WithFields(log.Fields{
		"order_id": updated.ID,
		"user_id":  updated.UserID,
		"points":   points,
	}).Info("order delivered, points settled")
	return updated, nil
}
