package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// ordersTx реализует OrderRepository в памяти внутри транзакции.
type ordersTx struct{ t *txState }

func (r ordersTx) Create(_ context.Context, order domain.Order) (domain.Order, error) {
	if len(order.Items) == 0 {
		return domain.Order{}, domain.Validationf("order must contain at least one item")
	}
	s := r.t.store

	order.ID = s.nextID()
	for idx := range order.Items {
		order.Items[idx].ID = s.nextID()
		order.Items[idx].OrderID = order.ID
	}

	s.mu.RLock()
	for _, existing := range s.orders {
		if order.Number != "" && existing.Number == order.Number {
			s.mu.RUnlock()
			return domain.Order{}, fmt.Errorf("%w: order number %s", domain.ErrDuplicate, order.Number)
		}
	}
	s.mu.RUnlock()

	// Новая строка видна только этой транзакции, поэтому блокировка берётся без ожидания.
	if err := r.t.lock(context.Background(), orderKey(order.ID)); err != nil {
		return domain.Order{}, err
	}
	r.t.orders[order.ID] = cloneOrder(order)
	return cloneOrder(order), nil
}

func (r ordersTx) Get(_ context.Context, id int64) (domain.Order, error) {
	if order, ok := r.t.orders[id]; ok {
		return cloneOrder(order), nil
	}
	order, ok := r.t.store.Order(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: id %d", domain.ErrOrderNotFound, id)
	}
	return order, nil
}

func (r ordersTx) LockByID(ctx context.Context, id int64) (domain.Order, error) {
	if _, err := r.Get(ctx, id); err != nil {
		return domain.Order{}, err
	}
	if err := r.t.lock(ctx, orderKey(id)); err != nil {
		return domain.Order{}, err
	}
	return r.Get(ctx, id)
}

func (r ordersTx) LockByItemID(ctx context.Context, itemID int64) (domain.Order, error) {
	orderID, ok := r.orderIDByItem(itemID)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: id %d", domain.ErrOrderItemNotFound, itemID)
	}
	return r.LockByID(ctx, orderID)
}

func (r ordersTx) orderIDByItem(itemID int64) (int64, bool) {
	for id, order := range r.t.orders {
		for _, item := range order.Items {
			if item.ID == itemID {
				return id, true
			}
		}
	}
	s := r.t.store
	s.mu.RLock()
	defer s.mu.RUnlock()
	orderID, ok := s.itemOrder[itemID]
	return orderID, ok
}

func (r ordersTx) Save(ctx context.Context, order domain.Order) error {
	if _, err := r.Get(ctx, order.ID); err != nil {
		return err
	}
	if err := r.t.lock(ctx, orderKey(order.ID)); err != nil {
		return err
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return fmt.Errorf("order %d violates invariants: %v", order.ID, errs)
	}
	r.t.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r ordersTx) ListByUser(_ context.Context, userID int64, limit int) ([]domain.Order, error) {
	merged := r.snapshot()
	result := make([]domain.Order, 0)
	for _, order := range merged {
		if order.UserID == userID {
			result = append(result, order)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (r ordersTx) SumSettledSpend(_ context.Context, userID int64, since time.Time) (int64, error) {
	var total int64
	for _, order := range r.snapshot() {
		if order.UserID != userID || order.Status != domain.OrderStatusDelivered || order.DeliveredAt == nil {
			continue
		}
		if order.DeliveredAt.Before(since) {
			continue
		}
		total += order.FinalAmount - order.RefundedAmount
	}
	return total, nil
}

func (r ordersTx) snapshot() map[int64]domain.Order {
	s := r.t.store
	s.mu.RLock()
	merged := make(map[int64]domain.Order, len(s.orders)+len(r.t.orders))
	for id, order := range s.orders {
		merged[id] = cloneOrder(order)
	}
	s.mu.RUnlock()
	for id, order := range r.t.orders {
		merged[id] = cloneOrder(order)
	}
	return merged
}

type timelineTx struct{ t *txState }

func (r timelineTx) Append(_ context.Context, event domain.TimelineEvent) error {
	event.ID = r.t.store.nextID()
	if event.Occurred.IsZero() {
		event.Occurred = time.Now().UTC()
	}
	r.t.timeline = append(r.t.timeline, event)
	return nil
}

// List возвращает события заказа в хронологическом порядке.
func (r timelineTx) List(_ context.Context, orderID int64) ([]domain.TimelineEvent, error) {
	s := r.t.store
	s.mu.RLock()
	events := make([]domain.TimelineEvent, 0)
	for _, event := range s.timeline {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}
	s.mu.RUnlock()
	for _, event := range r.t.timeline {
		if event.OrderID == orderID {
			events = append(events, event)
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Occurred.Equal(events[j].Occurred) {
			return events[i].ID < events[j].ID
		}
		return events[i].Occurred.Before(events[j].Occurred)
	})
	return events, nil
}

type tierHistoryTx struct{ t *txState }

func (r tierHistoryTx) Append(_ context.Context, entry domain.TierHistory) error {
	entry.ID = r.t.store.nextID()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	r.t.tierHistory = append(r.t.tierHistory, entry)
	return nil
}

func (r tierHistoryTx) ListByUser(_ context.Context, userID int64) ([]domain.TierHistory, error) {
	entries := r.t.store.TierHistory(userID)
	for _, entry := range r.t.tierHistory {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

func cloneOrder(src domain.Order) domain.Order {
	dst := src
	dst.Items = append([]domain.OrderItem(nil), src.Items...)
	return dst
}
