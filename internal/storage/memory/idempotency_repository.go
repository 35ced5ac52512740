package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shoporder/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository держит ключи идемпотентности gRPC-запросов в памяти процесса.
type IdempotencyRepository struct {
	mu      sync.Mutex
	now     func() time.Time
	records map[string]domain.IdempotencyRecord
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		now:     func() time.Time { return time.Now().UTC() },
		records: make(map[string]domain.IdempotencyRecord),
	}
}

func (r *IdempotencyRepository) CreateProcessing(_ context.Context, key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, requestHash = strings.TrimSpace(key), strings.TrimSpace(requestHash)
	switch {
	case key == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	case requestHash == "":
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if prev, ok := r.records[key]; ok && !prev.Expired(now) {
		if prev.RequestHash != requestHash {
			return copyRecord(prev), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(prev), domain.ErrIdempotencyKeyAlreadyExists
	}
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.records[key] = domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return copyRecord(r.records[key]), nil
}

func (r *IdempotencyRepository) Get(_ context.Context, key string) (domain.IdempotencyRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	return copyRecord(rec), nil
}

func (r *IdempotencyRepository) MarkDone(_ context.Context, key string, responseBody []byte, statusCode int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, statusCode)
}

func (r *IdempotencyRepository) MarkFailed(_ context.Context, key string, responseBody []byte, statusCode int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, statusCode)
}

func (r *IdempotencyRepository) Release(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(key)
	if err != nil {
		return err
	}
	if rec.Status == domain.IdempotencyStatusProcessing {
		delete(r.records, rec.Key)
	}
	return nil
}

func (r *IdempotencyRepository) DeleteExpired(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if before.IsZero() {
		before = r.now()
	}
	return r.evict(limit, func(rec domain.IdempotencyRecord) (time.Time, bool) {
		return rec.TTLAt, !rec.TTLAt.After(before)
	}), nil
}

func (r *IdempotencyRepository) ReleaseStale(_ context.Context, before time.Time, limit int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.evict(limit, func(rec domain.IdempotencyRecord) (time.Time, bool) {
		return rec.UpdatedAt, rec.Status == domain.IdempotencyStatusProcessing && !rec.UpdatedAt.After(before)
	}), nil
}

// evict удаляет до limit подходящих записей, самые старые по ключу сортировки первыми.
// Вызывается под r.mu.
func (r *IdempotencyRepository) evict(limit int, match func(domain.IdempotencyRecord) (time.Time, bool)) int {
	type candidate struct {
		key string
		at  time.Time
	}
	var victims []candidate
	for key, rec := range r.records {
		if at, ok := match(rec); ok {
			victims = append(victims, candidate{key: key, at: at})
		}
	}
	sort.Slice(victims, func(i, j int) bool { return victims[i].at.Before(victims[j].at) })
	if limit > 0 && len(victims) > limit {
		victims = victims[:limit]
	}
	for _, v := range victims {
		delete(r.records, v.key)
	}
	return len(victims)
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, body []byte, code int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.lookup(key)
	if err != nil {
		return err
	}
	rec.Status = status
	rec.ResponseBody = append([]byte(nil), body...)
	rec.StatusCode = code
	rec.UpdatedAt = r.now()
	r.records[rec.Key] = rec
	return nil
}

func (r *IdempotencyRepository) lookup(key string) (domain.IdempotencyRecord, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyRequired
	}
	rec, ok := r.records[key]
	if !ok {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return rec, nil
}

func copyRecord(rec domain.IdempotencyRecord) domain.IdempotencyRecord {
	rec.ResponseBody = append([]byte(nil), rec.ResponseBody...)
	return rec
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
