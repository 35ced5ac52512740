package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TierLevel задаёт уровень лояльности пользователя (1..5).
type TierLevel int

const (
	TierWelcome TierLevel = 1
	TierSilver  TierLevel = 2
	TierGold    TierLevel = 3
	TierVIP     TierLevel = 4
	TierVVIP    TierLevel = 5
)

// UserTier описывает привилегии уровня.
type UserTier struct {
	Level         TierLevel
	Name          string
	MinSpent      int64
	DiscountRate  decimal.Decimal
	PointEarnRate decimal.Decimal
	// FreeShippingThreshold == nil означает бесплатную доставку при любой сумме.
	FreeShippingThreshold *int64
}

var hundred = decimal.NewFromInt(100)

func threshold(v int64) *int64 { return &v }

// TierTable содержит фиксированную таблицу уровней, отсортированную по MinSpent.
var TierTable = []UserTier{
	{Level: TierWelcome, Name: "WELCOME", MinSpent: 0, DiscountRate: decimal.Zero, PointEarnRate: decimal.RequireFromString("1.0"), FreeShippingThreshold: threshold(50000)},
	{Level: TierSilver, Name: "SILVER", MinSpent: 500000, DiscountRate: decimal.NewFromInt(2), PointEarnRate: decimal.RequireFromString("1.0"), FreeShippingThreshold: threshold(30000)},
	{Level: TierGold, Name: "GOLD", MinSpent: 2000000, DiscountRate: decimal.NewFromInt(5), PointEarnRate: decimal.RequireFromString("1.5"), FreeShippingThreshold: threshold(20000)},
	{Level: TierVIP, Name: "VIP", MinSpent: 5000000, DiscountRate: decimal.NewFromInt(7), PointEarnRate: decimal.RequireFromString("2.0")},
	{Level: TierVVIP, Name: "VVIP", MinSpent: 10000000, DiscountRate: decimal.NewFromInt(10), PointEarnRate: decimal.RequireFromString("3.0")},
}

// ResolveTier возвращает старший уровень, чей MinSpent не превышает totalSpent.
func ResolveTier(totalSpent int64) UserTier {
	resolved := TierTable[0]
	for _, tier := range TierTable {
		if tier.MinSpent <= totalSpent {
			resolved = tier
		}
	}
	return resolved
}

// TierByLevel возвращает уровень по номеру; неизвестный номер даёт WELCOME.
func TierByLevel(level TierLevel) UserTier {
	for _, tier := range TierTable {
		if tier.Level == level {
			return tier
		}
	}
	return TierTable[0]
}

// Discount считает скидку уровня от суммы заказа.
func (t UserTier) Discount(amount int64) int64 {
	return ApplyRate(amount, t.DiscountRate)
}

// EarnedPoints считает баллы, начисляемые с суммы.
func (t UserTier) EarnedPoints(amount int64) int64 {
	return ApplyRate(amount, t.PointEarnRate)
}

// ShippingFee возвращает стоимость доставки для суммы после скидок.
func (t UserTier) ShippingFee(amountAfterDiscount, flatFee int64) int64 {
	if t.FreeShippingThreshold == nil || amountAfterDiscount >= *t.FreeShippingThreshold {
		return 0
	}
	return flatFee
}

// ApplyRate возвращает amount * rate / 100 с отбрасыванием дробной части.
func ApplyRate(amount int64, rate decimal.Decimal) int64 {
	if amount <= 0 || !rate.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(rate).Div(hundred).Truncate(0).IntPart()
}

// Proportion возвращает total * part / whole без переполнения и с отбрасыванием дробной части.
func Proportion(total, part, whole int64) int64 {
	if total <= 0 || part <= 0 || whole <= 0 {
		return 0
	}
	return decimal.NewFromInt(total).Mul(decimal.NewFromInt(part)).Div(decimal.NewFromInt(whole)).Truncate(0).IntPart()
}

// TierChangeReason объясняет причину пересчёта уровня.
type TierChangeReason string

const (
	TierReasonOrder         TierChangeReason = "ORDER"
	TierReasonCancel        TierChangeReason = "CANCEL"
	TierReasonPartialCancel TierChangeReason = "PARTIAL_CANCEL"
	TierReasonReturn        TierChangeReason = "RETURN"
	TierReasonBatch         TierChangeReason = "BATCH"
)

// TierHistory фиксирует смену уровня пользователя.
type TierHistory struct {
	ID         int64
	UserID     int64
	FromLevel  TierLevel
	ToLevel    TierLevel
	TotalSpent int64
	Reason     TierChangeReason
	CreatedAt  time.Time
}
