package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

type usersTx struct{ t *txState }

func (r usersTx) LockByID(ctx context.Context, id int64) (domain.User, error) {
	if err := r.t.lock(ctx, userKey(id)); err != nil {
		return domain.User{}, err
	}
	return r.Get(ctx, id)
}

func (r usersTx) Get(_ context.Context, id int64) (domain.User, error) {
	if user, ok := r.t.users[id]; ok {
		return user, nil
	}
	user, ok := r.t.store.User(id)
	if !ok {
		return domain.User{}, fmt.Errorf("%w: id %d", domain.ErrUserNotFound, id)
	}
	return user, nil
}

func (r usersTx) Save(ctx context.Context, user domain.User) error {
	if _, err := r.Get(ctx, user.ID); err != nil {
		return err
	}
	if err := r.t.lock(ctx, userKey(user.ID)); err != nil {
		return err
	}
	user.UpdatedAt = time.Now().UTC()
	r.t.users[user.ID] = user
	return nil
}

func (r usersTx) ListIDs(_ context.Context, afterID int64, limit int) ([]int64, error) {
	s := r.t.store
	s.mu.RLock()
	ids := make([]int64, 0, len(s.users))
	for id := range s.users {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

type productsTx struct{ t *txState }

func (r productsTx) LockByID(ctx context.Context, id int64) (domain.Product, error) {
	if err := r.t.lock(ctx, productKey(id)); err != nil {
		return domain.Product{}, err
	}
	return r.Get(ctx, id)
}

func (r productsTx) Get(_ context.Context, id int64) (domain.Product, error) {
	if product, ok := r.t.products[id]; ok {
		return product, nil
	}
	product, ok := r.t.store.Product(id)
	if !ok {
		return domain.Product{}, fmt.Errorf("%w: id %d", domain.ErrProductNotFound, id)
	}
	return product, nil
}

func (r productsTx) UpdateStock(ctx context.Context, id, stockQuantity, salesCount int64) error {
	if stockQuantity < 0 {
		return fmt.Errorf("%w: product %d stock would become %d", domain.ErrInsufficientStock, id, stockQuantity)
	}
	if err := r.t.lock(ctx, productKey(id)); err != nil {
		return err
	}
	product, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	product.StockQuantity = stockQuantity
	product.SalesCount = salesCount
	product.UpdatedAt = time.Now().UTC()
	r.t.products[id] = product
	return nil
}

type inventoryTx struct{ t *txState }

func (r inventoryTx) Append(_ context.Context, record domain.InventoryHistoryRecord) (domain.InventoryHistoryRecord, error) {
	record.ID = r.t.store.nextID()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	r.t.history = append(r.t.history, record)
	return record, nil
}

func (r inventoryTx) ListByProduct(_ context.Context, productID int64, limit int) ([]domain.InventoryHistoryRecord, error) {
	records := r.t.store.InventoryHistory(productID)
	for _, record := range r.t.history {
		if record.ProductID == productID {
			records = append(records, record)
		}
	}
	// новые записи первыми
	sort.SliceStable(records, func(i, j int) bool { return records[i].ID > records[j].ID })
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

type cartsTx struct{ t *txState }

func (r cartsTx) ListByUser(_ context.Context, userID int64) ([]domain.CartItem, error) {
	s := r.t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cartItemsLocked(userID, r.t.deletedCart), nil
}

func (r cartsTx) DeleteItems(ctx context.Context, userID int64, ids []int64) error {
	items, err := r.ListByUser(ctx, userID)
	if err != nil {
		return err
	}
	owned := make(map[int64]struct{}, len(items))
	for _, item := range items {
		owned[item.ID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := owned[id]; ok {
			r.t.deletedCart[id] = struct{}{}
		}
	}
	return nil
}

type couponsTx struct{ t *txState }

func (r couponsTx) LockUserCoupon(ctx context.Context, id int64) (domain.UserCoupon, error) {
	if err := r.t.lock(ctx, userCouponKey(id)); err != nil {
		return domain.UserCoupon{}, err
	}
	if coupon, ok := r.t.userCoupons[id]; ok {
		return coupon, nil
	}
	coupon, ok := r.t.store.UserCoupon(id)
	if !ok {
		return domain.UserCoupon{}, fmt.Errorf("%w: user coupon %d", domain.ErrCouponNotFound, id)
	}
	return coupon, nil
}

func (r couponsTx) SaveUserCoupon(ctx context.Context, coupon domain.UserCoupon) error {
	if !coupon.Consistent() {
		return fmt.Errorf("user coupon %d: usage fields must be set together", coupon.ID)
	}
	if _, err := r.LockUserCoupon(ctx, coupon.ID); err != nil {
		return err
	}
	r.t.userCoupons[coupon.ID] = coupon
	return nil
}

func (r couponsTx) IssueUserCoupon(_ context.Context, coupon domain.UserCoupon) (domain.UserCoupon, error) {
	s := r.t.store
	s.mu.RLock()
	for _, existing := range s.userCoupons {
		if existing.UserID == coupon.UserID && existing.CouponID == coupon.CouponID {
			s.mu.RUnlock()
			return domain.UserCoupon{}, fmt.Errorf("%w: coupon %d already issued to user %d", domain.ErrDuplicate, coupon.CouponID, coupon.UserID)
		}
	}
	s.mu.RUnlock()
	for _, staged := range r.t.userCoupons {
		if staged.UserID == coupon.UserID && staged.CouponID == coupon.CouponID {
			return domain.UserCoupon{}, fmt.Errorf("%w: coupon %d already issued to user %d", domain.ErrDuplicate, coupon.CouponID, coupon.UserID)
		}
	}

	coupon.ID = s.nextID()
	if coupon.IssuedAt.IsZero() {
		coupon.IssuedAt = time.Now().UTC()
	}
	r.t.userCoupons[coupon.ID] = coupon
	return coupon, nil
}

func (r couponsTx) LockCoupon(ctx context.Context, id int64) (domain.Coupon, error) {
	if err := r.t.lock(ctx, couponKey(id)); err != nil {
		return domain.Coupon{}, err
	}
	if coupon, ok := r.t.coupons[id]; ok {
		return coupon, nil
	}
	coupon, ok := r.t.store.Coupon(id)
	if !ok {
		return domain.Coupon{}, fmt.Errorf("%w: id %d", domain.ErrCouponNotFound, id)
	}
	return coupon, nil
}

func (r couponsTx) SaveCouponUsage(ctx context.Context, coupon domain.Coupon) error {
	current, err := r.LockCoupon(ctx, coupon.ID)
	if err != nil {
		return err
	}
	current.IssuedQuantity = coupon.IssuedQuantity
	current.UsedQuantity = coupon.UsedQuantity
	r.t.coupons[coupon.ID] = current
	return nil
}
