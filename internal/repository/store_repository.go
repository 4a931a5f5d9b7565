package repository

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"analytics-service/internal/models"
	"github.com/Tesseract-Nexus/go-shared/cache"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultScopeCacheTTL keeps counters close to live while absorbing leaderboard bursts
const DefaultScopeCacheTTL = 30 * time.Second

// StoreRepository is the scope-lookup side of the engine
type StoreRepository interface {
	LoadScopesWithCounters(ctx context.Context, tenantID string, ids []uint) (map[uint]models.ScopeRecord, error)
	LoadAllScopesWithCounters(ctx context.Context, tenantID string) ([]models.ScopeRecord, error)
	InvalidateScopes(ctx context.Context, tenantID string)
}

// scopeCache is the part of the shared cache layer used for scope lookups
type scopeCache interface {
	GetOrSetJSON(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func() (interface{}, error)) error
	DeletePattern(ctx context.Context, pattern string) error
}

var _ scopeCache = (*cache.CacheLayer)(nil)

type storeRepository struct {
	db     *gorm.DB
	cache  scopeCache
	ttl    time.Duration
	logger *logrus.Logger
}

// NewStoreRepository creates a store repository. A nil redis client disables caching.
func NewStoreRepository(db *gorm.DB, redisClient *redis.Client, ttl time.Duration, logger *logrus.Logger) StoreRepository {
	if ttl <= 0 {
		ttl = DefaultScopeCacheTTL
	}
	if logger == nil {
		logger = logrus.New()
	}

	repo := &storeRepository{db: db, ttl: ttl, logger: logger}

	if redisClient != nil {
		cacheConfig := cache.CacheConfig{
			L1Enabled:  true,
			L1MaxItems: 2000,
			L1TTL:      10 * time.Second,
			DefaultTTL: ttl,
			KeyPrefix:  "tesseract:analytics:",
		}
		repo.cache = cache.NewCacheLayerFromClient(redisClient, cacheConfig)
	}

	return repo
}

// counters are current snapshots, never bounded by a reporting window
const scopeSelect = `s.id, s.name, s.status,
	(SELECT COUNT(*) FROM store_followers f WHERE f.store_id = s.id AND f.tenant_id = s.tenant_id) AS follower_count,
	(SELECT COUNT(*) FROM store_orders o WHERE o.store_id = s.id AND o.tenant_id = s.tenant_id AND o.status = @completed) AS order_count,
	(SELECT COUNT(*) FROM products p WHERE p.store_id = s.id AND p.tenant_id = s.tenant_id AND p.status = @active) AS product_count,
	(SELECT COALESCE(SUM(o.total_amount), 0) FROM store_orders o WHERE o.store_id = s.id AND o.tenant_id = s.tenant_id AND o.status = @completed) AS revenue_sum`

func scopeStatement(tx *gorm.DB, tenantID string, ids []uint) *gorm.DB {
	stmt := tx.Table("stores AS s").
		Select(scopeSelect, map[string]interface{}{
			"completed": models.OrderStatusCompleted,
			"active":    models.ProductStatusActive,
		}).
		Where("s.tenant_id = ?", tenantID)

	if ids != nil {
		idArgs := make([]int64, len(ids))
		for i, id := range ids {
			idArgs[i] = int64(id)
		}
		stmt = stmt.Where("s.id = ANY(?)", pq.Array(idArgs))
	}

	return stmt.Order("s.id ASC")
}

func scopeCacheKey(tenantID string, ids []uint) string {
	if ids == nil {
		return fmt.Sprintf("scopes:%s:all", tenantID)
	}
	sorted := append([]uint(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatUint(uint64(id), 10)
	}
	return fmt.Sprintf("scopes:%s:ids:%s", tenantID, strings.Join(parts, ","))
}

func (r *storeRepository) loadScopes(ctx context.Context, tenantID string, ids []uint) ([]models.ScopeRecord, error) {
	query := func() ([]models.ScopeRecord, error) {
		var records []models.ScopeRecord
		if err := scopeStatement(r.db.WithContext(ctx), tenantID, ids).Scan(&records).Error; err != nil {
			return nil, fmt.Errorf("failed to load stores: %w", err)
		}
		return records, nil
	}

	if r.cache == nil {
		return query()
	}

	var records []models.ScopeRecord
	var loadErr error
	err := r.cache.GetOrSetJSON(ctx, scopeCacheKey(tenantID, ids), &records, r.ttl, func() (interface{}, error) {
		loaded, err := query()
		loadErr = err
		return loaded, err
	})
	if loadErr != nil {
		return nil, loadErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		r.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Scope cache unavailable, reading stores directly")
		return query()
	}
	return records, nil
}

// LoadScopesWithCounters returns the requested stores keyed by id. Ids that no
// longer exist are absent from the map.
func (r *storeRepository) LoadScopesWithCounters(ctx context.Context, tenantID string, ids []uint) (map[uint]models.ScopeRecord, error) {
	result := make(map[uint]models.ScopeRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	records, err := r.loadScopes(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		result[rec.ID] = rec
	}
	return result, nil
}

// LoadAllScopesWithCounters returns every store of the tenant ordered by id
func (r *storeRepository) LoadAllScopesWithCounters(ctx context.Context, tenantID string) ([]models.ScopeRecord, error) {
	return r.loadScopes(ctx, tenantID, nil)
}

// InvalidateScopes drops cached counters after new activity for the tenant
func (r *storeRepository) InvalidateScopes(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.DeletePattern(ctx, scopeInvalidationPattern(tenantID)); err != nil {
		r.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to invalidate scope cache")
	}
}

// scopeInvalidationPattern matches every cached lookup of one tenant. Glob
// metacharacters in the tenant id are escaped so they match literally.
func scopeInvalidationPattern(tenantID string) string {
	return fmt.Sprintf("scopes:%s:*", globEscaper.Replace(tenantID))
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
