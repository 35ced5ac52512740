package postgres

import (
	"database/sql"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// txState привязывает репозитории к одной *sql.Tx.
type txState struct {
	tx *sql.Tx
}

func (t *txState) Users() domain.UserRepository { return userRepository{t.tx} }
func (t *txState) Products() domain.ProductRepository { return productRepository{t.tx} }
func (t *txState) Inventory() domain.InventoryHistoryRepository { return inventoryRepository{t.tx} }
func (t *txState) Carts() domain.CartRepository { return cartRepository{t.tx} }
func (t *txState) Coupons() domain.CouponRepository { return couponRepository{t.tx} }
func (t *txState) Orders() domain.OrderRepository { return orderRepository{t.tx} }
func (t *txState) Timeline() domain.TimelineRepository { return timelineRepository{t.tx} }
func (t *txState) TierHistory() domain.TierHistoryRepository { return tierHistoryRepository{t.tx} }

var _ domain.Tx = (*txState)(nil)
