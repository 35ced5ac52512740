package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CouponType определяет способ расчёта скидки.
type CouponType string

const (
	// CouponTypeFixed — фиксированная скидка в вонах.
	CouponTypeFixed CouponType = "FIXED"
	// CouponTypePercent — процент от суммы с необязательным потолком.
	CouponTypePercent CouponType = "PERCENT"
)

// Coupon описывает каталожную запись купона.
type Coupon struct {
	ID   int64
	Name string
	Type CouponType
	// Сумма для FIXED или процент для PERCENT.
	DiscountValue  decimal.Decimal
	MaxDiscount    *int64
	MinOrderAmount int64
	ValidFrom      time.Time
	ValidUntil     time.Time
	Active         bool
	// TotalQuantity == 0 означает неограниченный тираж.
	TotalQuantity  int64
	IssuedQuantity int64
	UsedQuantity   int64
}

// UserCoupon описывает купон, выданный пользователю.
// IsUsed, UsedAt и OrderID либо все пусты, либо все заполнены.
type UserCoupon struct {
	ID       int64
	UserID   int64
	CouponID int64
	IsUsed   bool
	UsedAt   *time.Time
	OrderID  *int64
	IssuedAt time.Time
}

// Exhausted сообщает, израсходован ли тираж купона.
func (c Coupon) Exhausted() bool {
	return c.TotalQuantity > 0 && c.UsedQuantity >= c.TotalQuantity
}

// Validate проверяет, что купон можно применить к сумме после скидки уровня.
func (c Coupon) Validate(uc UserCoupon, subtotal int64, now time.Time) error {
	switch {
	case !c.Active:
		return fmt.Errorf("%w: coupon %d is inactive", ErrInvalidCoupon, c.ID)
	case now.Before(c.ValidFrom):
		return fmt.Errorf("%w: coupon %d is not valid yet", ErrInvalidCoupon, c.ID)
	case now.After(c.ValidUntil):
		return fmt.Errorf("%w: coupon %d has expired", ErrInvalidCoupon, c.ID)
	case uc.IsUsed:
		return fmt.Errorf("%w: coupon %d is already used", ErrInvalidCoupon, c.ID)
	case c.Exhausted():
		return fmt.Errorf("%w: coupon %d is exhausted", ErrInvalidCoupon, c.ID)
	case subtotal < c.MinOrderAmount:
		return fmt.Errorf("%w: order amount %d is below minimum %d", ErrInvalidCoupon, subtotal, c.MinOrderAmount)
	}
	return nil
}

// Discount считает скидку купона. Ниже минимальной суммы скидка равна нулю.
func (c Coupon) Discount(subtotal int64) int64 {
	if subtotal <= 0 || subtotal < c.MinOrderAmount {
		return 0
	}

	var discount int64
	switch c.Type {
	case CouponTypeFixed:
		discount = c.DiscountValue.Truncate(0).IntPart()
	case CouponTypePercent:
		discount = ApplyRate(subtotal, c.DiscountValue)
		if c.MaxDiscount != nil && discount > *c.MaxDiscount {
			discount = *c.MaxDiscount
		}
	}

	return min(max(discount, 0), subtotal)
}

// Use помечает купон использованным заказом orderID.
func (uc *UserCoupon) Use(orderID int64, at time.Time) error {
	if uc.IsUsed {
		return fmt.Errorf("%w: user coupon %d is already used", ErrInvalidCoupon, uc.ID)
	}
	usedAt := at.UTC()
	uc.IsUsed = true
	uc.UsedAt = &usedAt
	uc.OrderID = &orderID
	return nil
}

// CancelUse возвращает купон в неиспользованное состояние.
func (uc *UserCoupon) CancelUse() {
	uc.IsUsed = false
	uc.UsedAt = nil
	uc.OrderID = nil
}

// Consistent проверяет, что поля использования заполнены согласованно.
func (uc UserCoupon) Consistent() bool {
	if uc.IsUsed {
		return uc.UsedAt != nil && uc.OrderID != nil
	}
	return uc.UsedAt == nil && uc.OrderID == nil
}
