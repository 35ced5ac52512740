package domain

import (
	"context"
	"time"
)

// TxManager выполняет fn в одной ACID-транзакции. Ошибка fn откатывает всё.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx объединяет репозитории, привязанные к одной транзакции.
type Tx interface {
	Users() UserRepository
	Products() ProductRepository
	Inventory() InventoryHistoryRepository
	Carts() CartRepository
	Coupons() CouponRepository
	Orders() OrderRepository
	Timeline() TimelineRepository
	TierHistory() TierHistoryRepository
}

// UserRepository читает и меняет TotalSpent, PointBalance и TierLevel.
type UserRepository interface {
	// LockByID берёт эксклюзивную блокировку строки пользователя.
	LockByID(ctx context.Context, id int64) (User, error)
	Get(ctx context.Context, id int64) (User, error)
	Save(ctx context.Context, user User) error
	// ListIDs возвращает идентификаторы пользователей после afterID по возрастанию.
	ListIDs(ctx context.Context, afterID int64, limit int) ([]int64, error)
}

// ProductRepository покрывает складскую часть каталога. Меняется только через StockLedger.
type ProductRepository interface {
	// LockByID берёт эксклюзивную блокировку строки товара (SELECT ... FOR UPDATE).
	LockByID(ctx context.Context, id int64) (Product, error)
	Get(ctx context.Context, id int64) (Product, error)
	UpdateStock(ctx context.Context, id, stockQuantity, salesCount int64) error
}

// InventoryHistoryRepository ведёт append-only журнал движений остатка.
type InventoryHistoryRepository interface {
	Append(ctx context.Context, record InventoryHistoryRecord) (InventoryHistoryRecord, error)
	ListByProduct(ctx context.Context, productID int64, limit int) ([]InventoryHistoryRecord, error)
}

// CartRepository содержит примитивы корзины, которые нужны ядру заказов.
type CartRepository interface {
	ListByUser(ctx context.Context, userID int64) ([]CartItem, error)
	DeleteItems(ctx context.Context, userID int64, ids []int64) error
}

// CouponRepository хранит каталог купонов и выданные пользователям купоны.
type CouponRepository interface {
	LockUserCoupon(ctx context.Context, id int64) (UserCoupon, error)
	SaveUserCoupon(ctx context.Context, coupon UserCoupon) error
	// IssueUserCoupon возвращает ErrDuplicate, если купон уже выдан пользователю.
	IssueUserCoupon(ctx context.Context, coupon UserCoupon) (UserCoupon, error)
	LockCoupon(ctx context.Context, id int64) (Coupon, error)
	// SaveCouponUsage сохраняет только IssuedQuantity и UsedQuantity.
	SaveCouponUsage(ctx context.Context, coupon Coupon) error
}

// OrderRepository хранит агрегат заказа: заголовок и позиции пишутся вместе.
type OrderRepository interface {
	// Create назначает идентификаторы заказу и позициям.
	Create(ctx context.Context, order Order) (Order, error)
	Get(ctx context.Context, id int64) (Order, error)
	// LockByID блокирует строку заказа и загружает позиции.
	LockByID(ctx context.Context, id int64) (Order, error)
	// LockByItemID находит заказ по позиции и блокирует его строку.
	LockByItemID(ctx context.Context, itemID int64) (Order, error)
	Save(ctx context.Context, order Order) error
	ListByUser(ctx context.Context, userID int64, limit int) ([]Order, error)
	// SumSettledSpend суммирует FinalAmount - RefundedAmount доставленных заказов с DeliveredAt >= since.
	SumSettledSpend(ctx context.Context, userID int64, since time.Time) (int64, error)
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(ctx context.Context, event TimelineEvent) error
	List(ctx context.Context, orderID int64) ([]TimelineEvent, error)
}

// TierHistoryRepository хранит историю смены уровней.
type TierHistoryRepository interface {
	Append(ctx context.Context, entry TierHistory) error
	ListByUser(ctx context.Context, userID int64) ([]TierHistory, error)
}
