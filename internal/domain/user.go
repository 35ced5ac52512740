package domain

import (
	"fmt"
	"time"
)

// User содержит часть профиля пользователя, которую читает и меняет ядро заказов.
type User struct {
	ID           int64
	TotalSpent   int64
	PointBalance int64
	TierLevel    TierLevel
	UpdatedAt    time.Time

	// SpendRecalculatedAt хранит момент, когда пакетный пересчёт последний раз
	// выставил TotalSpent по доставленным заказам.
	SpendRecalculatedAt *time.Time
}

// AddSpent увеличивает накопленную сумму покупок.
func (u *User) AddSpent(amount int64) {
	if amount > 0 {
		u.TotalSpent += amount
	}
}

// SubtractSpent уменьшает накопленную сумму, не опуская её ниже нуля.
func (u *User) SubtractSpent(amount int64) {
	if amount <= 0 {
		return
	}
	u.TotalSpent = max(u.TotalSpent-amount, 0)
}

// SubtractUnsettledSpent снимает сумму отменённого недоставленного заказа.
// Заказ, созданный до SpendRecalculatedAt, пересчёт уже исключил из TotalSpent,
// такой вызов ничего не меняет и возвращает false.
func (u *User) SubtractUnsettledSpent(amount int64, orderCreatedAt time.Time) bool {
	if u.SpendRecalculatedAt != nil && orderCreatedAt.Before(*u.SpendRecalculatedAt) {
		return false
	}
	u.SubtractSpent(amount)
	return amount > 0
}

// CreditPoints зачисляет баллы на баланс.
func (u *User) CreditPoints(points int64) {
	if points > 0 {
		u.PointBalance += points
	}
}

// DebitPoints списывает баллы; при нехватке баланса возвращает ErrInsufficientPoints.
func (u *User) DebitPoints(points int64) error {
	if points < 0 {
		return Validationf("points must be >= 0")
	}
	if points > u.PointBalance {
		return fmt.Errorf("%w: balance %d, requested %d", ErrInsufficientPoints, u.PointBalance, points)
	}
	u.PointBalance -= points
	return nil
}

// ReclaimPoints забирает ранее начисленные баллы, не уводя баланс в минус.
// Возвращает фактически списанное количество.
func (u *User) ReclaimPoints(points int64) int64 {
	if points <= 0 {
		return 0
	}
	taken := min(points, u.PointBalance)
	u.PointBalance -= taken
	return taken
}

// ResolveTier пересчитывает уровень по TotalSpent. changed=true, если уровень сменился.
func (u *User) ResolveTier() (from, to TierLevel, changed bool) {
	from = u.TierLevel
	to = ResolveTier(u.TotalSpent).Level
	u.TierLevel = to
	return from, to, from != to
}

// Tier возвращает текущие привилегии пользователя.
func (u User) Tier() UserTier {
	return TierByLevel(u.TierLevel)
}
