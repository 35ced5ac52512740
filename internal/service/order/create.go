package order

import (
	"context"
	"errors"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// CreateRequest задаёт параметры оформления заказа из корзины.
// Стоимость доставки клиент не передаёт: она всегда считается на сервере.
type CreateRequest struct {
	UserID          int64
	ShippingAddress string
	RecipientName   string
	RecipientPhone  string
	PaymentMethod   string
	UserCouponID    *int64
	UsePoints       int64
	// Выбранные строки корзины; пусто означает всю корзину.
	CartItemIDs []int64
}

func (r CreateRequest) validate() (domain.PaymentMethod, error) {
	if r.UserID <= 0 {
		return "", domain.Validationf("user_id must be positive")
	}
	if strings.TrimSpace(r.ShippingAddress) == "" {
		return "", domain.Validationf("shipping_address is required")
	}
	if strings.TrimSpace(r.RecipientName) == "" {
		return "", domain.Validationf("recipient_name is required")
	}
	if strings.TrimSpace(r.RecipientPhone) == "" {
		return "", domain.Validationf("recipient_phone is required")
	}
	if r.UsePoints < 0 {
		return "", domain.Validationf("use_points must be >= 0")
	}
	return domain.ParsePaymentMethod(r.PaymentMethod)
}

// Create оформляет заказ: списывает остатки, применяет скидки уровня и купона,
// списывает баллы и очищает использованные строки корзины. Любая ошибка откатывает всё.
func (s *Service) Create(ctx context.Context, req CreateRequest) (domain.Order, error) {
	method, err := req.validate()
	if err != nil {
		return domain.Order{}, err
	}

	var created domain.Order
	err = s.execute(ctx, opCreate, log.Fields{"user_id": req.UserID}, func(ctx context.Context, tx domain.Tx) error {
		now := s.now()

		user, err := tx.Users().LockByID(ctx, req.UserID)
		if err != nil {
			return err
		}

		cart, err := selectCartItems(ctx, tx, req.UserID, req.CartItemIDs)
		if err != nil {
			return err
		}

		productIDs := make([]int64, 0, len(cart))
		for _, line := range cart {
			productIDs = append(productIDs, line.ProductID)
		}
		products, err := s.ledger.LockProducts(ctx, tx, productIDs)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return fmt.Errorf("%w: %v", domain.ErrInsufficientStock, err)
			}
			return err
		}

		items, total, err := buildItems(cart, products)
		if err != nil {
			return err
		}

		tier := user.Tier()
		order := domain.Order{
			Number:                newOrderNumber(now),
			UserID:                user.ID,
			Status:                domain.OrderStatusPending,
			TotalAmount:           total,
			TierDiscountAmount:    tier.Discount(total),
			PointEarnRateSnapshot: tier.PointEarnRate,
			PaymentMethod:         method,
			ShippingAddress:       strings.TrimSpace(req.ShippingAddress),
			RecipientName:         strings.TrimSpace(req.RecipientName),
			RecipientPhone:        strings.TrimSpace(req.RecipientPhone),
			Items:                 items,
			CreatedAt:             now,
			UpdatedAt:             now,
		}

		var (
			userCoupon domain.UserCoupon
			coupon     domain.Coupon
		)
		if req.UserCouponID != nil {
			userCoupon, coupon, err = lockCoupons(ctx, tx, *req.UserCouponID)
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("%w: %v", domain.ErrInvalidCoupon, err)
				}
				return err
			}
			if userCoupon.UserID != user.ID {
				return fmt.Errorf("%w: user coupon %d does not belong to user %d", domain.ErrInvalidCoupon, userCoupon.ID, user.ID)
			}
			subtotal := order.TotalAmount - order.TierDiscountAmount
			if err := coupon.Validate(userCoupon, subtotal, now); err != nil {
				return err
			}
			order.CouponDiscountAmount = coupon.Discount(subtotal)
			order.UserCouponID = ptr(userCoupon.ID)
		}

		order.DiscountAmount = order.TierDiscountAmount + order.CouponDiscountAmount
		order.ShippingFee = tier.ShippingFee(order.TotalAmount-order.DiscountAmount, s.shippingFee)
		order.FinalAmount = order.TotalAmount - order.DiscountAmount + order.ShippingFee
		order.EarnedPointsSnapshot = tier.EarnedPoints(order.FinalAmount)

		if req.UsePoints > order.FinalAmount {
			return fmt.Errorf("%w: use_points %d exceed final amount %d", domain.ErrInsufficientPoints, req.UsePoints, order.FinalAmount)
		}
		if err := user.DebitPoints(req.UsePoints); err != nil {
			return err
		}
		order.UsedPoints = req.UsePoints

		if err := order.MarkPaid(now); err != nil {
			return err
		}
		if errs := order.ValidateInvariants(); len(errs) > 0 {
			return fmt.Errorf("new order violates invariants: %w", errors.Join(errs...))
		}

		order, err = tx.Orders().Create(ctx, order)
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range order.Items {
			if _, err := s.ledger.Decrease(ctx, tx, item.ProductID, item.Quantity, domain.InventoryReasonOrder, ptr(order.ID)); err != nil {
				return err
			}
		}

		if order.UserCouponID != nil {
			if err := userCoupon.Use(order.ID, now); err != nil {
				return err
			}
			if err := tx.Coupons().SaveUserCoupon(ctx, userCoupon); err != nil {
				return fmt.Errorf("mark user coupon %d used: %w", userCoupon.ID, err)
			}
			coupon.UsedQuantity++
			if err := tx.Coupons().SaveCouponUsage(ctx, coupon); err != nil {
				return fmt.Errorf("increment coupon %d usage: %w", coupon.ID, err)
			}
		}

		user.AddSpent(order.FinalAmount)
		if err := s.resolveTier(ctx, tx, &user, domain.TierReasonOrder); err != nil {
			return err
		}

		cartIDs := make([]int64, 0, len(cart))
		for _, line := range cart {
			cartIDs = append(cartIDs, line.ID)
		}
		if err := tx.Carts().DeleteItems(ctx, user.ID, cartIDs); err != nil {
			return fmt.Errorf("clear cart: %w", err)
		}

		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderCreated, "", order.CreatedAt); err != nil {
			return err
		}
		if err := s.appendTimeline(ctx, tx, order.ID, nil, domain.TimelineOrderPaid, string(order.PaymentMethod), now); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.logger.WithFields(log.Fields{
		"order_id":     created.ID,
		"order_number": created.Number,
		"user_id":      created.UserID,
		"final_amount": created.FinalAmount,
	}).Info("order created")

	s.publishStockChanged(ctx, created.ProductIDs(), domain.InventoryReasonOrder)
	return created, nil
}

// selectCartItems возвращает выбранные строки корзины в порядке корзины.
func selectCartItems(ctx context.Context, tx domain.Tx, userID int64, selected []int64) ([]domain.CartItem, error) {
	cart, err := tx.Carts().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}

	if len(selected) > 0 {
		wanted := make(map[int64]struct{}, len(selected))
		for _, id := range selected {
			wanted[id] = struct{}{}
		}
		filtered := make([]domain.CartItem, 0, len(selected))
		for _, line := range cart {
			if _, ok := wanted[line.ID]; ok {
				filtered = append(filtered, line)
				delete(wanted, line.ID)
			}
		}
		if len(wanted) > 0 {
			return nil, domain.Validationf("cart items %v do not belong to user %d", missingIDs(selected, wanted), userID)
		}
		cart = filtered
	}

	if len(cart) == 0 {
		return nil, domain.Validationf("cart is empty")
	}
	for _, line := range cart {
		if line.Quantity < 1 {
			return nil, domain.Validationf("cart item %d has quantity %d", line.ID, line.Quantity)
		}
	}
	return cart, nil
}

func missingIDs(selected []int64, missing map[int64]struct{}) []int64 {
	ids := make([]int64, 0, len(missing))
	for _, id := range selected {
		if _, ok := missing[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// buildItems снимает название и цену товаров и проверяет остаток под блокировкой.
func buildItems(cart []domain.CartItem, products map[int64]domain.Product) ([]domain.OrderItem, int64, error) {
	required := make(map[int64]int64, len(products))
	items := make([]domain.OrderItem, 0, len(cart))
	var total int64

	for _, line := range cart {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, 0, fmt.Errorf("%w: product %d is not available", domain.ErrInsufficientStock, line.ProductID)
		}
		required[product.ID] += line.Quantity
		if required[product.ID] > product.StockQuantity {
			return nil, 0, fmt.Errorf("%w: product %d (%s) has %d, requested %d",
				domain.ErrInsufficientStock, product.ID, product.Name, product.StockQuantity, required[product.ID])
		}

		items = append(items, domain.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			UnitPrice:   product.Price,
			Quantity:    line.Quantity,
			Status:      domain.ItemStatusNormal,
		})
		total += product.Price * line.Quantity
	}
	return items, total, nil
}
