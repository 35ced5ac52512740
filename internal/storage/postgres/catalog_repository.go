package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type productRepository struct {
	tx *sql.Tx
}

const selectProduct = `SELECT id, name, price, stock_quantity, sales_count, active, updated_at FROM products WHERE id = $1`

func (r productRepository) LockByID(ctx context.Context, id int64) (domain.Product, error) {
	return r.get(ctx, selectProduct+` FOR UPDATE`, id)
}

func (r productRepository) Get(ctx context.Context, id int64) (domain.Product, error) {
	return r.get(ctx, selectProduct, id)
}

func (r productRepository) get(ctx context.Context, query string, id int64) (domain.Product, error) {
	var p domain.Product
	err := r.tx.QueryRowContext(ctx, query, id).Scan(&p.ID, &p.Name, &p.Price, &p.StockQuantity, &p.SalesCount, &p.Active, &p.UpdatedAt)
	if err != nil {
		return domain.Product{}, mapError(err, domain.ErrProductNotFound, "load product %d", id)
	}
	return p, nil
}

func (r productRepository) UpdateStock(ctx context.Context, id, stockQuantity, salesCount int64) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE products
		SET stock_quantity = $2,
		    sales_count = $3,
		    updated_at = $4
		WHERE id = $1
	`, id, stockQuantity, salesCount, time.Now().UTC())
	if err != nil {
		return mapError(err, nil, "update stock of product %d", id)
	}
	return requireAffected(res, domain.ErrProductNotFound, id)
}

type inventoryRepository struct {
	tx *sql.Tx
}

func (r inventoryRepository) Append(ctx context.Context, record domain.InventoryHistoryRecord) (domain.InventoryHistoryRecord, error) {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO inventory_history (
			product_id, change_type, change_amount, before_quantity, after_quantity, reason, reference_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		record.ProductID, string(record.ChangeType), record.ChangeAmount, record.BeforeQuantity,
		record.AfterQuantity, record.Reason, record.ReferenceID, record.CreatedAt.UTC(),
	).Scan(&record.ID)
	if err != nil {
		return domain.InventoryHistoryRecord{}, mapError(err, nil, "insert inventory history for product %d", record.ProductID)
	}
	return record, nil
}

func (r inventoryRepository) ListByProduct(ctx context.Context, productID int64, limit int) ([]domain.InventoryHistoryRecord, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, product_id, change_type, change_amount, before_quantity, after_quantity, reason, reference_id, created_at
		FROM inventory_history
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, productID, limit)
	if err != nil {
		return nil, mapError(err, nil, "list inventory history for product %d", productID)
	}
	defer rows.Close()

	result := make([]domain.InventoryHistoryRecord, 0, limit)
	for rows.Next() {
		var (
			rec        domain.InventoryHistoryRecord
			changeType string
			reference  sql.NullInt64
		)
		if err := rows.Scan(&rec.ID, &rec.ProductID, &changeType, &rec.ChangeAmount, &rec.BeforeQuantity,
			&rec.AfterQuantity, &rec.Reason, &reference, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory history: %w", err)
		}
		rec.ChangeType = domain.InventoryChangeType(changeType)
		rec.ReferenceID = nullInt64Ptr(reference)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate inventory history: %w", err)
	}
	return result, nil
}

type cartRepository struct {
	tx *sql.Tx
}

func (r cartRepository) ListByUser(ctx context.Context, userID int64) ([]domain.CartItem, error) {
	rows, err := r.tx.QueryContext(ctx, `
		SELECT id, user_id, product_id, quantity, created_at
		FROM cart_items
		WHERE user_id = $1
		ORDER BY id
	`, userID)
	if err != nil {
		return nil, mapError(err, nil, "list cart of user %d", userID)
	}
	defer rows.Close()

	var items []domain.CartItem
	for rows.Next() {
		var item domain.CartItem
		if err := rows.Scan(&item.ID, &item.UserID, &item.ProductID, &item.Quantity, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

func (r cartRepository) DeleteItems(ctx context.Context, userID int64, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1 AND id = ANY($2)`, userID, ids); err != nil {
		return mapError(err, nil, "delete cart items of user %d", userID)
	}
	return nil
}

type couponRepository struct {
	tx *sql.Tx
}

func (r couponRepository) LockUserCoupon(ctx context.Context, id int64) (domain.UserCoupon, error) {
	var (
		uc      domain.UserCoupon
		usedAt  sql.NullTime
		orderID sql.NullInt64
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, user_id, coupon_id, is_used, used_at, order_id, issued_at
		FROM user_coupons
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&uc.ID, &uc.UserID, &uc.CouponID, &uc.IsUsed, &usedAt, &orderID, &uc.IssuedAt)
	if err != nil {
		return domain.UserCoupon{}, mapError(err, domain.ErrCouponNotFound, "lock user coupon %d", id)
	}
	uc.UsedAt = nullTimePtr(usedAt)
	uc.OrderID = nullInt64Ptr(orderID)
	return uc, nil
}

func (r couponRepository) SaveUserCoupon(ctx context.Context, coupon domain.UserCoupon) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE user_coupons
		SET is_used = $2,
		    used_at = $3,
		    order_id = $4
		WHERE id = $1
	`, coupon.ID, coupon.IsUsed, coupon.UsedAt, coupon.OrderID)
	if err != nil {
		return mapError(err, nil, "update user coupon %d", coupon.ID)
	}
	return requireAffected(res, domain.ErrCouponNotFound, coupon.ID)
}

func (r couponRepository) IssueUserCoupon(ctx context.Context, coupon domain.UserCoupon) (domain.UserCoupon, error) {
	if coupon.IssuedAt.IsZero() {
		coupon.IssuedAt = time.Now().UTC()
	}
	err := r.tx.QueryRowContext(ctx, `
		INSERT INTO user_coupons (user_id, coupon_id, is_used, issued_at)
		VALUES ($1, $2, FALSE, $3)
		RETURNING id
	`, coupon.UserID, coupon.CouponID, coupon.IssuedAt.UTC()).Scan(&coupon.ID)
	if err != nil {
		return domain.UserCoupon{}, mapError(err, nil, "issue coupon %d to user %d", coupon.CouponID, coupon.UserID)
	}
	coupon.IsUsed = false
	coupon.UsedAt = nil
	coupon.OrderID = nil
	return coupon, nil
}

func (r couponRepository) LockCoupon(ctx context.Context, id int64) (domain.Coupon, error) {
	var (
		c           domain.Coupon
		couponType  string
		maxDiscount sql.NullInt64
	)
	err := r.tx.QueryRowContext(ctx, `
		SELECT id, name, coupon_type, discount_value, max_discount, min_order_amount,
		       valid_from, valid_until, active, total_quantity, issued_quantity, used_quantity
		FROM coupons
		WHERE id = $1
		FOR UPDATE
	`, id).Scan(&c.ID, &c.Name, &couponType, &c.DiscountValue, &maxDiscount, &c.MinOrderAmount,
		&c.ValidFrom, &c.ValidUntil, &c.Active, &c.TotalQuantity, &c.IssuedQuantity, &c.UsedQuantity)
	if err != nil {
		return domain.Coupon{}, mapError(err, domain.ErrCouponNotFound, "lock coupon %d", id)
	}
	c.Type = domain.CouponType(couponType)
	c.MaxDiscount = nullInt64Ptr(maxDiscount)
	return c, nil
}

func (r couponRepository) SaveCouponUsage(ctx context.Context, coupon domain.Coupon) error {
	res, err := r.tx.ExecContext(ctx, `
		UPDATE coupons
		SET issued_quantity = $2,
		    used_quantity = $3
		WHERE id = $1
	`, coupon.ID, coupon.IssuedQuantity, coupon.UsedQuantity)
	if err != nil {
		return mapError(err, nil, "update coupon %d usage", coupon.ID)
	}
	return requireAffected(res, domain.ErrCouponNotFound, coupon.ID)
}

func nullInt64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	value := v.Int64
	return &value
}

func nullTimePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	value := v.Time.UTC()
	return &value
}

var (
	_ domain.ProductRepository          = productRepository{}
	_ domain.InventoryHistoryRepository = inventoryRepository{}
	_ domain.CartRepository             = cartRepository{}
	_ domain.CouponRepository           = couponRepository{}
)
