package order

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// OrderView содержит заказ вместе с его таймлайном.
type OrderView struct {
	Order    domain.Order
	Timeline []domain.TimelineEvent
}

// Get возвращает заказ и таймлайн. При userID == 0 владелец не проверяется (запрос администратора).
func (s *Service) Get(ctx context.Context, orderID, userID int64) (OrderView, error) {
	var view OrderView
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		order, err := tx.Orders().Get(ctx, orderID)
		if err != nil {
			return err
		}
		if err := checkOwner(order, userID); err != nil {
			return err
		}
		timeline, err := tx.Timeline().List(ctx, orderID)
		if err != nil {
			return fmt.Errorf("load timeline of order %d: %w", orderID, err)
		}
		view = OrderView{Order: order, Timeline: timeline}
		return nil
	})
	if err != nil {
		return OrderView{}, err
	}
	return view, nil
}

// List возвращает заказы пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	if userID <= 0 {
		return nil, domain.Validationf("user_id must be positive")
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var orders []domain.Order
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		var err error
		orders, err = tx.Orders().ListByUser(ctx, userID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// IssueCoupon выдаёт пользователю купон каталога. Повторная выдача возвращает ErrDuplicate.
func (s *Service) IssueCoupon(ctx context.Context, userID, couponID int64) (domain.UserCoupon, error) {
	var issued domain.UserCoupon
	err := s.execute(ctx, opIssueCoupon, log.Fields{"user_id": userID, "coupon_id": couponID}, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Users().LockByID(ctx, userID); err != nil {
			return err
		}
		coupon, err := tx.Coupons().LockCoupon(ctx, couponID)
		if err != nil {
			return err
		}
		if !coupon.Active {
			return fmt.Errorf("%w: coupon %d is inactive", domain.ErrInvalidCoupon, coupon.ID)
		}
		if now := s.now(); now.After(coupon.ValidUntil) {
			return fmt.Errorf("%w: coupon %d has expired", domain.ErrInvalidCoupon, coupon.ID)
		}
		if coupon.TotalQuantity > 0 && coupon.IssuedQuantity >= coupon.TotalQuantity {
			return fmt.Errorf("%w: coupon %d has no copies left to issue", domain.ErrInvalidCoupon, coupon.ID)
		}

		issued, err = tx.Coupons().IssueUserCoupon(ctx, domain.UserCoupon{
			UserID:   userID,
			CouponID: coupon.ID,
			IssuedAt: s.now(),
		})
		if err != nil {
			return err
		}
		coupon.IssuedQuantity++
		if err := tx.Coupons().SaveCouponUsage(ctx, coupon); err != nil {
			return fmt.Errorf("increment coupon %d issued quantity: %w", coupon.ID, err)
		}
		return nil
	})
	if err != nil {
		return domain.UserCoupon{}, err
	}
	return issued, nil
}

// AdjustStock выставляет остаток товара по результатам инвентаризации.
func (s *Service) AdjustStock(ctx context.Context, productID, quantity int64, reason string) (domain.InventoryHistoryRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.InventoryHistoryRecord{}, domain.Validationf("reason is required")
	}

	var record domain.InventoryHistoryRecord
	err := s.execute(ctx, opAdjustStock, log.Fields{"product_id": productID, "quantity": quantity}, func(ctx context.Context, tx domain.Tx) error {
		var err error
		record, err = s.ledger.Adjust(ctx, tx, productID, quantity, reason)
		return err
	})
	if err != nil {
		return domain.InventoryHistoryRecord{}, err
	}

	s.publishStockChanged(ctx, []int64{productID}, reason)
	return record, nil
}

// StockHistory возвращает последние движения остатка товара, новые первыми.
func (s *Service) StockHistory(ctx context.Context, productID int64, limit int) ([]domain.InventoryHistoryRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	limit = min(limit, maxListLimit)

	var records []domain.InventoryHistoryRecord
	err := s.txm.WithinTx(ctx, func(ctx context.Context, tx domain.Tx) error {
		if _, err := tx.Products().Get(ctx, productID); err != nil {
			return err
		}
		var err error
		records, err = tx.Inventory().ListByProduct(ctx, productID, limit)
		return err
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
