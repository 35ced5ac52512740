package domain

import "time"

// Product описывает складское представление товара каталога.
type Product struct {
	ID            int64
	Name          string
	Price         int64
	StockQuantity int64
	SalesCount    int64
	Active        bool
	UpdatedAt     time.Time
}

// InventoryChangeType задаёт тип движения остатка.
type InventoryChangeType string

const (
	InventoryIn     InventoryChangeType = "IN"
	InventoryOut    InventoryChangeType = "OUT"
	InventoryAdjust InventoryChangeType = "ADJUST"
)

// Причины движений, которые пишет ядро заказов.
const (
	InventoryReasonOrder         = "ORDER"
	InventoryReasonCancel        = "ORDER_CANCEL"
	InventoryReasonPartialCancel = "PARTIAL_CANCEL"
	InventoryReasonReturn        = "RETURN"
)

// InventoryHistoryRecord описывает запись append-only журнала движений остатка.
type InventoryHistoryRecord struct {
	ID             int64
	ProductID      int64
	ChangeType     InventoryChangeType
	ChangeAmount   int64
	BeforeQuantity int64
	AfterQuantity  int64
	Reason         string
	// Идентификатор заказа, если движение вызвано заказом.
	ReferenceID *int64
	CreatedAt   time.Time
}

// CartItem описывает строку корзины, которую читает и очищает ядро заказов.
type CartItem struct {
	ID        int64
	UserID    int64
	ProductID int64
	Quantity  int64
	CreatedAt time.Time
}
