package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type orderRepository struct {
	tx *sql.Tx
}

const orderColumns = `
	id, order_number, user_id, status,
	total_amount, tier_discount_amount, coupon_discount_amount, discount_amount, shipping_fee, final_amount,
	point_earn_rate, earned_points, used_points, refunded_amount, refunded_points,
	points_settled, settled_points, reclaimed_points,
	payment_method, user_coupon_id, shipping_address, recipient_name, recipient_phone,
	created_at, paid_at, shipped_at, delivered_at, cancelled_at, updated_at`

const itemColumns = `
	id, order_id, product_id, product_name, unit_price,
	quantity, cancelled_quantity, returned_quantity, pending_return_quantity,
	cancelled_amount, returned_amount, status, return_reason, reject_reason, return_request_count,
	return_requested_at, returned_at, rejected_at, cancelled_at`

func (r orderRepository) Create(ctx context.Context, order domain.Order) (domain.Order, error) {
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO orders (
			order_number, user_id, status,
			total_amount, tier_discount_amount, coupon_discount_amount, discount_amount, shipping_fee, final_amount,
			point_earn_rate, earned_points, used_points, refunded_amount, refunded_points,
			points_settled, settled_points, reclaimed_points,
			payment_method, user_coupon_id, shipping_address, recipient_name, recipient_phone,
			created_at, paid_at, shipped_at, delivered_at, cancelled_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28)
		RETURNING id
	`,
		order.Number, order.UserID, string(order.Status),
		order.TotalAmount, order.TierDiscountAmount, order.CouponDiscountAmount, order.DiscountAmount, order.ShippingFee, order.FinalAmount,
		order.PointEarnRateSnapshot, order.EarnedPointsSnapshot, order.UsedPoints, order.RefundedAmount, order.RefundedPoints,
		order.PointsSettled, order.SettledPoints, order.ReclaimedPoints,
		string(order.PaymentMethod), order.UserCouponID, order.ShippingAddress, order.RecipientName, order.RecipientPhone,
		order.CreatedAt.UTC(), order.PaidAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, order.UpdatedAt.UTC(),
	).Scan(&order.ID)
	if err != nil {
		return domain.Order{}, mapError(err, nil, "insert order for user %d", order.UserID)
	}

	for i := range order.Items {
		item := &order.Items[i]
		item.OrderID = order.ID
		err := r.tx.QueryRowContext(ctx, `
			INSERT INTO order_items (
				order_id, product_id, product_name, unit_price,
				quantity, cancelled_quantity, returned_quantity, pending_return_quantity,
				cancelled_amount, returned_amount, status, return_reason, reject_reason, return_request_count,
				return_requested_at, returned_at, rejected_at, cancelled_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
			RETURNING id
		`,
			item.OrderID, item.ProductID, item.ProductName, item.UnitPrice,
			item.Quantity, item.CancelledQuantity, item.ReturnedQuantity, item.PendingReturnQuantity,
			item.CancelledAmount, item.ReturnedAmount, string(item.Status), item.ReturnReason, item.RejectReason, item.ReturnRequestCount,
			item.ReturnRequestedAt, item.ReturnedAt, item.RejectedAt, item.CancelledAt,
		).Scan(&item.ID)
		if err != nil {
			return domain.Order{}, mapError(err, nil, "insert item of order %d", order.ID)
		}
	}
	return order, nil
}

func (r orderRepository) Get(ctx context.Context, id int64) (domain.Order, error) {
	return r.load(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r orderRepository) LockByID(ctx context.Context, id int64) (domain.Order, error) {
	return r.load(ctx, `SELECT`+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
}

func (r orderRepository) LockByItemID(ctx context.Context, itemID int64) (domain.Order, error) {
	var orderID int64
	if err := r.tx.QueryRowContext(ctx, `SELECT order_id FROM order_items WHERE id = $1`, itemID).Scan(&orderID); err != nil {
		return domain.Order{}, mapError(err, domain.ErrOrderItemNotFound, "find order of item %d", itemID)
	}
	return r.LockByID(ctx, orderID)
}

func (r orderRepository) load(ctx context.Context, query string, id int64) (domain.Order, error) {
	order, err := scanOrder(r.tx.QueryRowContext(ctx, query, id))
	if err != nil {
		return domain.Order{}, mapError(err, domain.ErrOrderNotFound, "load order %d", id)
	}
	items, err := r.loadItems(ctx, []int64{id})
	if err != nil {
		return domain.Order{}, err
	}
	order.Items = items[id]
	return order, nil
}

func (r orderRepository) loadItems(ctx context.Context, orderIDs []int64) (map[int64][]domain.OrderItem, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT`+itemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, mapError(err, nil, "load order items")
	}
	defer rows.Close()

	result := make(map[int64][]domain.OrderItem, len(orderIDs))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		result[item.OrderID] = append(result[item.OrderID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate order items: %w", err)
	}
	return result, nil
}

func (r orderRepository) Save(ctx context.Context, order domain.Order) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    discount_amount = $3,
		    refunded_amount = $4,
		    refunded_points = $5,
		    points_settled = $6,
		    settled_points = $7,
		    reclaimed_points = $8,
		    paid_at = $9,
		    shipped_at = $10,
		    delivered_at = $11,
		    cancelled_at = $12,
		    updated_at = $13
		WHERE id = $1
	`,
		order.ID, string(order.Status), order.DiscountAmount, order.RefundedAmount, order.RefundedPoints,
		order.PointsSettled, order.SettledPoints, order.ReclaimedPoints,
		order.PaidAt, order.ShippedAt, order.DeliveredAt, order.CancelledAt, time.Now().UTC(),
	)
	if err != nil {
		return mapError(err, nil, "update order %d", order.ID)
	}
	if err := requireAffected(res, domain.ErrOrderNotFound, order.ID); err != nil {
		return err
	}

	for _, item := range order.Items {
		res, err := r.tx.ExecContext(ctx, `
			UPDATE order_items
			SET cancelled_quantity = $2,
			    returned_quantity = $3,
			    pending_return_quantity = $4,
			    cancelled_amount = $5,
			    returned_amount = $6,
			    status = $7,
			    return_reason = $8,
			    reject_reason = $9,
			    return_request_count = $10,
			    return_requested_at = $11,
			    returned_at = $12,
			    rejected_at = $13,
			    cancelled_at = $14
			WHERE id = $1
		`,
			item.ID, item.CancelledQuantity, item.ReturnedQuantity, item.PendingReturnQuantity,
			item.CancelledAmount, item.ReturnedAmount, string(item.Status), item.ReturnReason, item.RejectReason,
			item.ReturnRequestCount, item.ReturnRequestedAt, item.ReturnedAt, item.RejectedAt, item.CancelledAt,
		)
		if err != nil {
			return mapError(err, nil, "update order item %d", item.ID)
		}
		if err := requireAffected(res, domain.ErrOrderItemNotFound, item.ID); err != nil {
			return err
		}
	}
	return nil
}

func (r orderRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]domain.Order, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT`+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, mapError(err, nil, "list orders of user %d", userID)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0, limit)
	ids := make([]int64, 0, limit)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
		ids = append(ids, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	items, err := r.loadItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = items[orders[i].ID]
	}
	return orders, nil
}

func (r orderRepository) SumSettledSpend(ctx context.Context, userID int64, since time.Time) (int64, error) {
	var total int64
	err := r.tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(final_amount - refunded_amount), 0)
		FROM orders
		WHERE user_id = $1
		  AND status = 'DELIVERED'
		  AND delivered_at >= $2
	`, userID, since.UTC()).Scan(&total)
	if err != nil {
		return 0, mapError(err, nil, "sum settled spend of user %d", userID)
	}
	return total, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		o                                           domain.Order
		status, paymentMethod                       string
		userCouponID                                sql.NullInt64
		paidAt, shippedAt, deliveredAt, cancelledAt sql.NullTime
	)
	if err := row.Scan(
		&o.ID, &o.Number, &o.UserID, &status,
		&o.TotalAmount, &o.TierDiscountAmount, &o.CouponDiscountAmount, &o.DiscountAmount, &o.ShippingFee, &o.FinalAmount,
		&o.PointEarnRateSnapshot, &o.EarnedPointsSnapshot, &o.UsedPoints, &o.RefundedAmount, &o.RefundedPoints,
		&o.PointsSettled, &o.SettledPoints, &o.ReclaimedPoints,
		&paymentMethod, &userCouponID, &o.ShippingAddress, &o.RecipientName, &o.RecipientPhone,
		&o.CreatedAt, &paidAt, &shippedAt, &deliveredAt, &cancelledAt, &o.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	o.Status = domain.OrderStatus(status)
	o.PaymentMethod = domain.PaymentMethod(paymentMethod)
	o.UserCouponID = nullInt64Ptr(userCouponID)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	o.PaidAt = nullTimePtr(paidAt)
	o.ShippedAt = nullTimePtr(shippedAt)
	o.DeliveredAt = nullTimePtr(deliveredAt)
	o.CancelledAt = nullTimePtr(cancelledAt)
	return o, nil
}

func scanItem(row rowScanner) (domain.OrderItem, error) {
	var (
		item                                           domain.OrderItem
		status                                         string
		requestedAt, returnedAt, rejectedAt, cancelled sql.NullTime
	)
	if err := row.Scan(
		&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.UnitPrice,
		&item.Quantity, &item.CancelledQuantity, &item.ReturnedQuantity, &item.PendingReturnQuantity,
		&item.CancelledAmount, &item.ReturnedAmount, &status, &item.ReturnReason, &item.RejectReason, &item.ReturnRequestCount,
		&requestedAt, &returnedAt, &rejectedAt, &cancelled,
	); err != nil {
		return domain.OrderItem{}, err
	}
	item.Status = domain.OrderItemStatus(status)
	item.ReturnRequestedAt = nullTimePtr(requestedAt)
	item.ReturnedAt = nullTimePtr(returnedAt)
	item.RejectedAt = nullTimePtr(rejectedAt)
	item.CancelledAt = nullTimePtr(cancelled)
	return item, nil
}

var _ domain.OrderRepository = orderRepository{}
