package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/oakmart/fulfillment/internal/domain/order"
)

var _ order.Repository = (*CachedOrderRepository)(nil)

// CachedOrderRepository caches order-by-number lookups in Redis. Only the
// read path goes through the cache; Get, used by the mutation retry loops,
// always hits the primary so the version guard sees fresh state. Writes
// invalidate the cached entry.
type CachedOrderRepository struct {
	primary order.Repository
	rdb     *redis.Client
	ttl     time.Duration
	lg      *zap.Logger
}

// NewCachedOrderRepository wraps primary with a Redis read cache.
func NewCachedOrderRepository(primary order.Repository, rdb *redis.Client, ttl time.Duration, lg *zap.Logger) *CachedOrderRepository {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachedOrderRepository{primary: primary, rdb: rdb, ttl: ttl, lg: lg}
}

func cacheKey(number string) string { return "order:number:" + number }

// GetByNumber serves from cache when possible and refills on miss.
func (r *CachedOrderRepository) GetByNumber(ctx context.Context, number string) (*order.Order, error) {
	key := cacheKey(number)
	if cached, err := r.rdb.Get(ctx, key).Bytes(); err == nil {
		var o order.Order
		if err := json.Unmarshal(cached, &o); err == nil {
			// Fields excluded from JSON are rebuilt so a mutation through a
			// cached copy still behaves.
			o.LoadedVersion = o.Version
			o.PersistedHistory = len(o.History)
			return &o, nil
		}
		r.rdb.Del(ctx, key)
	}

	o, err := r.primary.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(o); err == nil {
		if err := r.rdb.Set(ctx, key, data, r.ttl).Err(); err != nil {
			r.lg.Debug("order cache set failed", zap.String("order_number", number), zap.Error(err))
		}
	}
	return o, nil
}

// Create delegates to the primary repository.
func (r *CachedOrderRepository) Create(ctx context.Context, o *order.Order) error {
	return r.primary.Create(ctx, o)
}

// Get bypasses the cache so optimistic retries reload fresh state.
func (r *CachedOrderRepository) Get(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	return r.primary.Get(ctx, id)
}

// Update writes through to the primary and drops the cached entry.
func (r *CachedOrderRepository) Update(ctx context.Context, o *order.Order) error {
	defer r.rdb.Del(ctx, cacheKey(o.OrderNumber))
	return r.primary.Update(ctx, o)
}

// ListByStatus delegates to the primary repository.
func (r *CachedOrderRepository) ListByStatus(ctx context.Context, status order.Status, limit int) ([]*order.Order, error) {
	return r.primary.ListByStatus(ctx, status, limit)
}

// ListPendingBefore delegates to the primary repository.
func (r *CachedOrderRepository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]*order.Order, error) {
	return r.primary.ListPendingBefore(ctx, cutoff, limit)
}
