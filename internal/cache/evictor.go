// Package cache вытесняет записи read-through кэша каталога после изменения остатков.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const (
	// KeyProduct: карточка товара, product:{id}
	KeyProduct = "product:%d"
	// KeyProductStock: остаток товара, product:{id}:stock
	KeyProductStock = "product:%d:stock"

	defaultTimeout = 2 * time.Second
)

// keyDeleter покрывает часть redis.Cmdable, которая нужна вытеснению.
type keyDeleter interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// NewClient создаёт redis-клиент с ограниченными таймаутами.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  defaultTimeout,
		ReadTimeout:  defaultTimeout,
		WriteTimeout: defaultTimeout,
	})
}

// Evictor удаляет ключи товаров из событий ProductStockChanged.
type Evictor struct {
	client  keyDeleter
	timeout time.Duration
	logger  *log.Entry
}

// NewEvictor создаёт Evictor поверх redis.Cmdable.
func NewEvictor(client redis.Cmdable, logger *log.Entry) *Evictor {
	return newEvictor(client, logger)
}

func newEvictor(client keyDeleter, logger *log.Entry) *Evictor {
	if logger == nil {
		logger = log.WithField("component", "cache-evictor")
	}
	return &Evictor{client: client, timeout: defaultTimeout, logger: logger}
}

// Keys возвращает ключи кэша, которые зависят от остатка товаров.
func Keys(productIDs []int64) []string {
	keys := make([]string, 0, len(productIDs)*2)
	seen := make(map[int64]struct{}, len(productIDs))
	for _, id := range productIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		keys = append(keys, fmt.Sprintf(KeyProduct, id), fmt.Sprintf(KeyProductStock, id))
	}
	return keys
}

// Evict удаляет ключи одним DEL. Отсутствующие ключи не считаются ошибкой,
// поэтому повторная доставка события безопасна.
func (e *Evictor) Evict(ctx context.Context, event domain.ProductStockChanged) error {
	keys := Keys(event.ProductIDs)
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	removed, err := e.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("evict %d cache keys: %w", len(keys), err)
	}

	e.logger.WithFields(log.Fields{
		"product_ids": event.ProductIDs,
		"reason":      event.Reason,
		"removed":     removed,
	}).Debug("product cache evicted")
	return nil
}
