package shoporderv1

import "time"

// OrderItem описывает позицию заказа.
type OrderItem struct {
	ID                    int64      `json:"id"`
	ProductID             int64      `json:"product_id"`
	ProductName           string     `json:"product_name"`
	UnitPrice             int64      `json:"unit_price"`
	Quantity              int64      `json:"quantity"`
	CancelledQuantity     int64      `json:"cancelled_quantity"`
	ReturnedQuantity      int64      `json:"returned_quantity"`
	PendingReturnQuantity int64      `json:"pending_return_quantity"`
	CancelledAmount       int64      `json:"cancelled_amount"`
	ReturnedAmount        int64      `json:"returned_amount"`
	Status                string     `json:"status"`
	ReturnReason          string     `json:"return_reason,omitempty"`
	RejectReason          string     `json:"reject_reason,omitempty"`
	ReturnRequestCount    int        `json:"return_request_count"`
	ReturnRequestedAt     *time.Time `json:"return_requested_at,omitempty"`
	ReturnedAt            *time.Time `json:"returned_at,omitempty"`
	RejectedAt            *time.Time `json:"rejected_at,omitempty"`
	CancelledAt           *time.Time `json:"cancelled_at,omitempty"`
}

// Order содержит заказ с денежной разбивкой. Суммы в вонах.
type Order struct {
	ID                   int64       `json:"id"`
	Number               string      `json:"number"`
	UserID               int64       `json:"user_id"`
	Status               string      `json:"status"`
	TotalAmount          int64       `json:"total_amount"`
	TierDiscountAmount   int64       `json:"tier_discount_amount"`
	CouponDiscountAmount int64       `json:"coupon_discount_amount"`
	DiscountAmount       int64       `json:"discount_amount"`
	ShippingFee          int64       `json:"shipping_fee"`
	FinalAmount          int64       `json:"final_amount"`
	PointEarnRate        string      `json:"point_earn_rate"`
	EarnedPoints         int64       `json:"earned_points"`
	UsedPoints           int64       `json:"used_points"`
	RefundedAmount       int64       `json:"refunded_amount"`
	RefundedPoints       int64       `json:"refunded_points"`
	PointsSettled        bool        `json:"points_settled"`
	SettledPoints        int64       `json:"settled_points"`
	ReclaimedPoints      int64       `json:"reclaimed_points"`
	PaymentMethod        string      `json:"payment_method"`
	UserCouponID         *int64      `json:"user_coupon_id,omitempty"`
	ShippingAddress      string      `json:"shipping_address"`
	RecipientName        string      `json:"recipient_name"`
	RecipientPhone       string      `json:"recipient_phone"`
	Items                []OrderItem `json:"items"`
	CreatedAt            time.Time   `json:"created_at"`
	PaidAt               *time.Time  `json:"paid_at,omitempty"`
	ShippedAt            *time.Time  `json:"shipped_at,omitempty"`
	DeliveredAt          *time.Time  `json:"delivered_at,omitempty"`
	CancelledAt          *time.Time  `json:"cancelled_at,omitempty"`
}

// TimelineEvent описывает событие жизненного цикла заказа.
type TimelineEvent struct {
	Type     string    `json:"type"`
	ItemID   *int64    `json:"item_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
	Occurred time.Time `json:"occurred"`
}

// Refund описывает выплату по отмене или возврату.
type Refund struct {
	Amount         int64 `json:"amount"`
	Points         int64 `json:"points"`
	ReclaimPoints  int64 `json:"reclaim_points"`
	OrderCancelled bool  `json:"order_cancelled"`
}

type CreateOrderRequest struct {
	UserID          int64   `json:"user_id"`
	ShippingAddress string  `json:"shipping_address"`
	RecipientName   string  `json:"recipient_name"`
	RecipientPhone  string  `json:"recipient_phone"`
	PaymentMethod   string  `json:"payment_method"`
	UserCouponID    *int64  `json:"user_coupon_id,omitempty"`
	UsePoints       int64   `json:"use_points"`
	CartItemIDs     []int64 `json:"cart_item_ids,omitempty"`
}

type CreateOrderResponse struct {
	Order *Order `json:"order"`
}

// GetOrderRequest с UserID == 0 означает запрос администратора.
type GetOrderRequest struct {
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

type GetOrderResponse struct {
	Order    *Order          `json:"order"`
	Timeline []TimelineEvent `json:"timeline"`
}

type ListOrdersRequest struct {
	UserID int64 `json:"user_id"`
	Limit  int   `json:"limit"`
}

type ListOrdersResponse struct {
	Orders []*Order `json:"orders"`
}

type CancelOrderRequest struct {
	OrderID int64 `json:"order_id"`
	UserID  int64 `json:"user_id"`
}

// ReversalResponse содержит заказ после отмены или возврата и выплаченный возврат.
type ReversalResponse struct {
	Order  *Order `json:"order"`
	Refund Refund `json:"refund"`
}

type PartialCancelRequest struct {
	UserID      int64 `json:"user_id"`
	OrderItemID int64 `json:"order_item_id"`
	Quantity    int64 `json:"quantity"`
}

type RequestReturnRequest struct {
	UserID      int64  `json:"user_id"`
	OrderItemID int64  `json:"order_item_id"`
	Quantity    int64  `json:"quantity"`
	Reason      string `json:"reason"`
}

type OrderResponse struct {
	Order *Order `json:"order"`
}

type ApproveReturnRequest struct {
	OrderItemID int64 `json:"order_item_id"`
}

type RejectReturnRequest struct {
	OrderItemID int64  `json:"order_item_id"`
	Reason      string `json:"reason"`
}

// OrderIDRequest используется Ship и Deliver.
type OrderIDRequest struct {
	OrderID int64 `json:"order_id"`
}

type IssueCouponRequest struct {
	UserID   int64 `json:"user_id"`
	CouponID int64 `json:"coupon_id"`
}

type IssueCouponResponse struct {
	UserCouponID int64     `json:"user_coupon_id"`
	UserID       int64     `json:"user_id"`
	CouponID     int64     `json:"coupon_id"`
	IssuedAt     time.Time `json:"issued_at"`
}

type InventoryRecord struct {
	ID             int64     `json:"id"`
	ProductID      int64     `json:"product_id"`
	ChangeType     string    `json:"change_type"`
	ChangeAmount   int64     `json:"change_amount"`
	BeforeQuantity int64     `json:"before_quantity"`
	AfterQuantity  int64     `json:"after_quantity"`
	Reason         string    `json:"reason"`
	ReferenceID    *int64    `json:"reference_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type AdjustStockRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int64  `json:"quantity"`
	Reason    string `json:"reason"`
}

type AdjustStockResponse struct {
	Record InventoryRecord `json:"record"`
}

type StockHistoryRequest struct {
	ProductID int64 `json:"product_id"`
	Limit     int   `json:"limit"`
}

type StockHistoryResponse struct {
	Records []InventoryRecord `json:"records"`
}

// RecalculateTierRequest: UserID == 0 запускает пересчёт по всем пользователям.
type RecalculateTierRequest struct {
	UserID int64 `json:"user_id"`
}

type RecalculateTierResponse struct {
	Processed int `json:"processed"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}
