// Package stock владеет единственной точкой изменения складских остатков.
// Каждое движение пишет запись в журнал InventoryHistory в той же транзакции.
package stock

import (
	"context"
	"fmt"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// Ledger меняет остатки под блокировкой строки товара.
type Ledger struct {
	logger *log.Entry
}

// NewLedger создаёт Ledger. logger может быть nil.
func NewLedger(logger *log.Entry) *Ledger {
	if logger == nil {
		logger = log.New().WithField("component", "stock-ledger")
	}
	return &Ledger{logger: logger}
}

// LockProducts блокирует каждый уникальный товар строго по возрастанию id.
// Возрастающий порядок исключает взаимные блокировки между заказами с пересекающимися товарами.
func (l *Ledger) LockProducts(ctx context.Context, tx domain.Tx, ids []int64) (map[int64]domain.Product, error) {
	unique := DistinctSorted(ids)
	locked := make(map[int64]domain.Product, len(unique))
	for _, id := range unique {
		product, err := tx.Products().LockByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("lock product %d: %w", id, err)
		}
		locked[id] = product
	}
	return locked, nil
}

// Decrease списывает qty единиц. При нехватке возвращает ErrInsufficientStock и ничего не меняет.
func (l *Ledger) Decrease(ctx context.Context, tx domain.Tx, productID, qty int64, reason string, orderID *int64) (domain.InventoryHistoryRecord, error) {
	if qty < 1 {
		return domain.InventoryHistoryRecord{}, domain.Validationf("quantity must be >= 1")
	}
	product, err := tx.Products().LockByID(ctx, productID)
	if err != nil {
		return domain.InventoryHistoryRecord{}, err
	}
	if product.StockQuantity < qty {
		return domain.InventoryHistoryRecord{}, fmt.Errorf("%w: product %d (%s) has %d, requested %d",
			domain.ErrInsufficientStock, product.ID, product.Name, product.StockQuantity, qty)
	}

	after := product.StockQuantity - qty
	return l.move(ctx, tx, product, after, product.SalesCount+qty, domain.InventoryOut, qty, reason, orderID)
}

// Increase возвращает qty единиц на склад; SalesCount уменьшается, но не ниже нуля.
func (l *Ledger) Increase(ctx context.Context, tx domain.Tx, productID, qty int64, reason string, orderID *int64) (domain.InventoryHistoryRecord, error) {
	if qty < 1 {
		return domain.InventoryHistoryRecord{}, domain.Validationf("quantity must be >= 1")
	}
	product, err := tx.Products().LockByID(ctx, productID)
	if err != nil {
		return domain.InventoryHistoryRecord{}, err
	}

	after := product.StockQuantity + qty
	return l.move(ctx, tx, product, after, max(product.SalesCount-qty, 0), domain.InventoryIn, qty, reason, orderID)
}

// Adjust выставляет абсолютный остаток (ручная инвентаризация). ChangeAmount хранит знаковую разницу.
func (l *Ledger) Adjust(ctx context.Context, tx domain.Tx, productID, newQuantity int64, reason string) (domain.InventoryHistoryRecord, error) {
	if newQuantity < 0 {
		return domain.InventoryHistoryRecord{}, domain.Validationf("stock quantity must be >= 0")
	}
	product, err := tx.Products().LockByID(ctx, productID)
	if err != nil {
		return domain.InventoryHistoryRecord{}, err
	}

	delta := newQuantity - product.StockQuantity
	return l.move(ctx, tx, product, newQuantity, product.SalesCount, domain.InventoryAdjust, delta, reason, nil)
}

func (l *Ledger) move(
	ctx context.Context,
	tx domain.Tx,
	product domain.Product,
	after, sales int64,
	changeType domain.InventoryChangeType,
	amount int64,
	reason string,
	orderID *int64,
) (domain.InventoryHistoryRecord, error) {
	if err := tx.Products().UpdateStock(ctx, product.ID, after, sales); err != nil {
		return domain.InventoryHistoryRecord{}, fmt.Errorf("update stock of product %d: %w", product.ID, err)
	}

	record, err := tx.Inventory().Append(ctx, domain.InventoryHistoryRecord{
		ProductID:      product.ID,
		ChangeType:     changeType,
		ChangeAmount:   amount,
		BeforeQuantity: product.StockQuantity,
		AfterQuantity:  after,
		Reason:         reason,
		ReferenceID:    orderID,
	})
	if err != nil {
		return domain.InventoryHistoryRecord{}, fmt.Errorf("append inventory history of product %d: %w", product.ID, err)
	}

	l.logger.WithFields(log.Fields{
		"product_id": product.ID,
		"type":       changeType,
		"amount":     amount,
		"before":     product.StockQuantity,
		"after":      after,
		"reason":     reason,
	}).Debug("stock moved")
	return record, nil
}

// DistinctSorted возвращает уникальные id по возрастанию.
func DistinctSorted(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	unique := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })
	return unique
}
