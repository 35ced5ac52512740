package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

// rowLocks эмулирует эксклюзивные блокировки строк (SELECT ... FOR UPDATE).
type rowLocks struct {
	mu   sync.Mutex
	rows map[string]chan struct{}
}

func newRowLocks() *rowLocks {
	return &rowLocks{rows: make(map[string]chan struct{})}
}

func (l *rowLocks) slot(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch, ok := l.rows[key]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rows[key] = ch
	}
	return ch
}

// acquire ждёт блокировку не дольше timeout и возвращает ErrLockTimeout по его истечении.
func (l *rowLocks) acquire(ctx context.Context, key string, timeout time.Duration) error {
	ch := l.slot(key)

	select {
	case ch <- struct{}{}:
		return nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ch <- struct{}{}:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, key)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *rowLocks) release(key string) {
	<-l.slot(key)
}

func userKey(id int64) string       { return fmt.Sprintf("user:%d", id) }
func productKey(id int64) string    { return fmt.Sprintf("product:%d", id) }
func orderKey(id int64) string      { return fmt.Sprintf("order:%d", id) }
func couponKey(id int64) string     { return fmt.Sprintf("coupon:%d", id) }
func userCouponKey(id int64) string { return fmt.Sprintf("user_coupon:%d", id) }
