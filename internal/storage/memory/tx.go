package memory

import (
	"context"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// txState буферизует изменения одной транзакции и держит её блокировки.
type txState struct {
	store *Store
	held  map[string]struct{}
	keys  []string

	users       map[int64]domain.User
	products    map[int64]domain.Product
	coupons     map[int64]domain.Coupon
	userCoupons map[int64]domain.UserCoupon
	orders      map[int64]domain.Order
	deletedCart map[int64]struct{}
	history     []domain.InventoryHistoryRecord
	timeline    []domain.TimelineEvent
	tierHistory []domain.TierHistory
}

// WithinTx выполняет fn в транзакции: при ошибке буфер отбрасывается, иначе применяется целиком.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &txState{
		store:       s,
		held:        make(map[string]struct{}),
		users:       make(map[int64]domain.User),
		products:    make(map[int64]domain.Product),
		coupons:     make(map[int64]domain.Coupon),
		userCoupons: make(map[int64]domain.UserCoupon),
		orders:      make(map[int64]domain.Order),
		deletedCart: make(map[int64]struct{}),
	}
	defer tx.releaseAll()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (t *txState) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	if err := t.store.locks.acquire(ctx, key, t.store.lockTimeout); err != nil {
		return err
	}
	t.held[key] = struct{}{}
	t.keys = append(t.keys, key)
	if t.store.onLock != nil {
		t.store.onLock(key)
	}
	return nil
}

func (t *txState) releaseAll() {
	for i := len(t.keys) - 1; i >= 0; i-- {
		t.store.locks.release(t.keys[i])
	}
	t.keys = nil
	t.held = nil
}

func (t *txState) commit() {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, user := range t.users {
		s.users[id] = user
	}
	for id, product := range t.products {
		s.products[id] = product
	}
	for id, coupon := range t.coupons {
		s.coupons[id] = coupon
	}
	for id, coupon := range t.userCoupons {
		s.userCoupons[id] = coupon
	}
	for id, order := range t.orders {
		s.orders[id] = order
		for _, item := range order.Items {
			s.itemOrder[item.ID] = id
		}
	}
	for id := range t.deletedCart {
		delete(s.carts, id)
	}
	s.history = append(s.history, t.history...)
	s.timeline = append(s.timeline, t.timeline...)
	s.tierHistory = append(s.tierHistory, t.tierHistory...)
}

func (t *txState) Users() domain.UserRepository { return usersTx{t} }
func (t *txState) Products() domain.ProductRepository { return productsTx{t} }
func (t *txState) Inventory() domain.InventoryHistoryRepository { return inventoryTx{t} }
func (t *txState) Carts() domain.CartRepository { return cartsTx{t} }
func (t *txState) Coupons() domain.CouponRepository { return couponsTx{t} }
func (t *txState) Orders() domain.OrderRepository { return ordersTx{t} }
func (t *txState) Timeline() domain.TimelineRepository { return timelineTx{t} }
func (t *txState) TierHistory() domain.TierHistoryRepository { return tierHistoryTx{t} }

var _ domain.Tx = (*txState)(nil)
var _ domain.TxManager = (*Store)(nil)
