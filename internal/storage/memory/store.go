package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const defaultLockTimeout = 3 * time.Second

// Store хранит данные в памяти с транзакциями и блокировками строк (для разработки и тестов).
// Изменения транзакции буферизуются и применяются разом при commit, блокировки
// отпускаются после commit или rollback.
type Store struct {
	mu          sync.RWMutex
	locks       *rowLocks
	lockTimeout time.Duration
	onLock      func(key string)

	seq         int64
	users       map[int64]domain.User
	products    map[int64]domain.Product
	history     []domain.InventoryHistoryRecord
	carts       map[int64]domain.CartItem
	coupons     map[int64]domain.Coupon
	userCoupons map[int64]domain.UserCoupon
	orders      map[int64]domain.Order
	itemOrder   map[int64]int64
	timeline    []domain.TimelineEvent
	tierHistory []domain.TierHistory
}

// Option настраивает Store.
type Option func(*Store)

// WithLockTimeout задаёт максимальное ожидание блокировки строки.
func WithLockTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout > 0 {
			s.lockTimeout = timeout
		}
	}
}

// WithLockObserver вызывает fn после каждой полученной блокировки (ключ вида "product:1").
func WithLockObserver(fn func(key string)) Option {
	return func(s *Store) {
		s.onLock = fn
	}
}

// NewStore создаёт пустое хранилище.
func NewStore(options ...Option) *Store {
	s := &Store{
		locks:       newRowLocks(),
		lockTimeout: defaultLockTimeout,
		users:       make(map[int64]domain.User),
		products:    make(map[int64]domain.Product),
		carts:       make(map[int64]domain.CartItem),
		coupons:     make(map[int64]domain.Coupon),
		userCoupons: make(map[int64]domain.UserCoupon),
		orders:      make(map[int64]domain.Order),
		itemOrder:   make(map[int64]int64),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Ping всегда успешен; нужен для health-check.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) nextID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// PutUser создаёт или заменяет пользователя.
func (s *Store) PutUser(user domain.User) {
	if user.TierLevel == 0 {
		user.TierLevel = domain.ResolveTier(user.TotalSpent).Level
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[user.ID] = user
	s.bumpSeq(user.ID)
}

// PutProduct создаёт или заменяет товар.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = product
	s.bumpSeq(product.ID)
}

// PutCoupon создаёт или заменяет купон каталога.
func (s *Store) PutCoupon(coupon domain.Coupon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.coupons[coupon.ID] = coupon
	s.bumpSeq(coupon.ID)
}

// PutUserCoupon создаёт или заменяет выданный купон.
func (s *Store) PutUserCoupon(coupon domain.UserCoupon) domain.UserCoupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if coupon.ID == 0 {
		s.seq++
		coupon.ID = s.seq
	}
	s.userCoupons[coupon.ID] = coupon
	s.bumpSeq(coupon.ID)
	return coupon
}

// PutOrder сохраняет готовый заказ (для фикстур).
func (s *Store) PutOrder(order domain.Order) domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	if order.ID == 0 {
		s.seq++
		order.ID = s.seq
	}
	for idx := range order.Items {
		if order.Items[idx].ID == 0 {
			s.seq++
			order.Items[idx].ID = s.seq
		}
		order.Items[idx].OrderID = order.ID
		s.itemOrder[order.Items[idx].ID] = order.ID
	}
	s.orders[order.ID] = cloneOrder(order)
	s.bumpSeq(order.ID)
	return cloneOrder(order)
}

// AddCartItem кладёт товар в корзину пользователя.
func (s *Store) AddCartItem(userID, productID, quantity int64) domain.CartItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	item := domain.CartItem{ID: s.seq, UserID: userID, ProductID: productID, Quantity: quantity, CreatedAt: time.Now().UTC()}
	s.carts[item.ID] = item
	return item
}

func (s *Store) bumpSeq(id int64) {
	if id > s.seq {
		s.seq = id
	}
}

// Product возвращает снимок товара.
func (s *Store) Product(id int64) (domain.Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	product, ok := s.products[id]
	return product, ok
}

// User возвращает снимок пользователя.
func (s *Store) User(id int64) (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[id]
	return user, ok
}

// Coupon возвращает снимок купона каталога.
func (s *Store) Coupon(id int64) (domain.Coupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coupon, ok := s.coupons[id]
	return coupon, ok
}

// UserCoupon возвращает снимок выданного купона.
func (s *Store) UserCoupon(id int64) (domain.UserCoupon, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	coupon, ok := s.userCoupons[id]
	return coupon, ok
}

// Order возвращает снимок заказа.
func (s *Store) Order(id int64) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[id]
	return cloneOrder(order), ok
}

// CartItems возвращает корзину пользователя.
func (s *Store) CartItems(userID int64) []domain.CartItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cartItemsLocked(userID, nil)
}

// InventoryHistory возвращает журнал движений товара в порядке записи.
func (s *Store) InventoryHistory(productID int64) []domain.InventoryHistoryRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.InventoryHistoryRecord, 0)
	for _, record := range s.history {
		if record.ProductID == productID {
			result = append(result, record)
		}
	}
	return result
}

// TierHistory возвращает историю уровней пользователя.
func (s *Store) TierHistory(userID int64) []domain.TierHistory {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]domain.TierHistory, 0)
	for _, entry := range s.tierHistory {
		if entry.UserID == userID {
			result = append(result, entry)
		}
	}
	return result
}

func (s *Store) cartItemsLocked(userID int64, deleted map[int64]struct{}) []domain.CartItem {
	items := make([]domain.CartItem, 0)
	for id, item := range s.carts {
		if item.UserID != userID {
			continue
		}
		if _, gone := deleted[id]; gone {
			continue
		}
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// SeedDemo наполняет хранилище демонстрационными данными для режима memory.
func (s *Store) SeedDemo() {
	now := time.Now().UTC()
	for i := int64(1); i <= 5; i++ {
		s.PutProduct(domain.Product{
			ID:            i,
			Name:          "Demo product " + strconv.FormatInt(i, 10),
			Price:         10000 * i,
			StockQuantity: 1000,
			Active:        true,
			UpdatedAt:     now,
		})
	}
	for i := int64(1); i <= 3; i++ {
		s.PutUser(domain.User{ID: 100 + i, PointBalance: 5000, UpdatedAt: now})
	}
	s.PutCoupon(domain.Coupon{
		ID:             1000,
		Name:           "WELCOME3000",
		Type:           domain.CouponTypeFixed,
		DiscountValue:  decimal.NewFromInt(3000),
		MinOrderAmount: 10000,
		ValidFrom:      now.Add(-24 * time.Hour),
		ValidUntil:     now.Add(365 * 24 * time.Hour),
		Active:         true,
	})
}
