package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/utils/tests"
)

func dryRunDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(tests.DummyDialector{}, &gorm.Config{DryRun: true})
	require.NoError(t, err)
	return db
}

func factSQL(t *testing.T, q FactQuery) string {
	t.Helper()
	db := dryRunDB(t)
	return db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		stmt, err := factStatement(tx, q)
		require.NoError(t, err)
		var rows []FactRow
		return stmt.Find(&rows)
	})
}

func TestFactStatement_AllTimeAppliesNoDateFilter(t *testing.T) {
	sql := factSQL(t, FactQuery{
		TenantID:   "tenant-1",
		Metric:     MetricPoints,
		ScopeField: ScopeStore,
		Window:     period.Unbounded(),
		Sources:    []models.FactSource{models.FactSourceOrder},
		Limit:      100,
	})

	assert.Contains(t, sql, "COALESCE(SUM(points), 0) AS total")
	assert.Contains(t, sql, "store_id AS scope_id")
	assert.Contains(t, sql, "source IN")
	assert.Contains(t, sql, "ORDER BY total DESC, scope_id ASC")
	assert.Contains(t, sql, "LIMIT 100")
	assert.NotContains(t, sql, "created_at")
}

func TestFactStatement_BoundedWindowIsInclusive(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, time.January, 31, 23, 59, 59, 0, time.UTC)

	sql := factSQL(t, FactQuery{
		TenantID:   "tenant-1",
		Metric:     MetricPoints,
		ScopeField: ScopeUser,
		Window:     period.Bounded(start, end),
	})

	assert.Contains(t, sql, "created_at >=")
	assert.Contains(t, sql, "created_at <=")
	assert.Contains(t, sql, "user_id AS scope_id")
	assert.NotContains(t, sql, "source IN")
	assert.NotContains(t, sql, "LIMIT")
}

func TestFactStatement_OpenEndedWindow(t *testing.T) {
	start := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

	sql := factSQL(t, FactQuery{
		TenantID:   "tenant-1",
		Metric:     MetricPoints,
		ScopeField: ScopeStore,
		Window:     period.Window{Start: &start},
	})

	assert.Contains(t, sql, "created_at >=")
	assert.NotContains(t, sql, "created_at <=")
}

func TestFactStatement_StoreMetrics(t *testing.T) {
	cases := []struct {
		metric    Metric
		table     string
		aggregate string
		completed bool
	}{
		{MetricRevenue, "store_orders", "COALESCE(SUM(total_amount), 0) AS total", true},
		{MetricOrders, "store_orders", "COUNT(*) AS total", true},
		{MetricFollowers, "store_followers", "COUNT(*) AS total", false},
	}

	for _, tt := range cases {
		t.Run(string(tt.metric), func(t *testing.T) {
			sql := factSQL(t, FactQuery{
				TenantID:   "tenant-1",
				Metric:     tt.metric,
				ScopeField: ScopeStore,
				Window:     period.Unbounded(),
				Sources:    []models.FactSource{models.FactSourceOrder},
				Limit:      10,
			})

			assert.Contains(t, sql, tt.table)
			assert.Contains(t, sql, tt.aggregate)
			assert.NotContains(t, sql, "source IN")
			if tt.completed {
				assert.Contains(t, sql, "status =")
			}
		})
	}
}

func TestFactStatement_RejectsUnknownFields(t *testing.T) {
	db := dryRunDB(t)

	_, err := factStatement(db, FactQuery{Metric: "likes", ScopeField: ScopeStore})
	assert.Error(t, err)

	_, err = factStatement(db, FactQuery{Metric: MetricPoints, ScopeField: "name; DROP TABLE stores"})
	assert.Error(t, err)

	_, err = factStatement(db, FactQuery{Metric: MetricRevenue, ScopeField: ScopeUser})
	assert.Error(t, err)
}

func TestIsValidMetricAndScope(t *testing.T) {
	assert.True(t, IsValidMetric("points"))
	assert.True(t, IsValidMetric("followers"))
	assert.False(t, IsValidMetric("Points"))

	assert.True(t, IsValidScopeField(MetricPoints, ScopeUser))
	assert.True(t, IsValidScopeField(MetricOrders, ScopeStore))
	assert.False(t, IsValidScopeField(MetricOrders, ScopeUser))
	assert.False(t, IsValidScopeField(MetricPoints, "tenant_id"))
}

func TestScopeStatement(t *testing.T) {
	db := dryRunDB(t)

	sql := db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var records []models.ScopeRecord
		return scopeStatement(tx, "tenant-1", []uint{7, 3}).Find(&records)
	})
	assert.Contains(t, sql, "s.id = ANY(")
	assert.Contains(t, sql, "{7,3}")
	assert.Contains(t, sql, "follower_count")
	assert.Contains(t, sql, "revenue_sum")
	assert.Contains(t, sql, "ORDER BY s.id ASC")

	sql = db.ToSQL(func(tx *gorm.DB) *gorm.DB {
		var records []models.ScopeRecord
		return scopeStatement(tx, "tenant-1", nil).Find(&records)
	})
	assert.NotContains(t, sql, "ANY(")
}

func TestScopeCacheKey(t *testing.T) {
	assert.Equal(t, "scopes:t1:all", scopeCacheKey("t1", nil))
	assert.Equal(t, "scopes:t1:ids:3,7,12", scopeCacheKey("t1", []uint{12, 3, 7}))
	assert.Equal(t, scopeCacheKey("t1", []uint{7, 3}), scopeCacheKey("t1", []uint{3, 7}))
}

func TestLoadScopesWithCounters_EmptyIDs(t *testing.T) {
	repo := NewStoreRepository(dryRunDB(t), nil, 0, nil)

	scopes, err := repo.LoadScopesWithCounters(t.Context(), "tenant-1", nil)
	require.NoError(t, err)
	assert.Empty(t, scopes)
}

// stubCache either hands every lookup to the loader or fails on its own
type stubCache struct {
	err      error
	patterns []string
}

func (c *stubCache) GetOrSetJSON(ctx context.Context, key string, dest interface{}, ttl time.Duration, loader func() (interface{}, error)) error {
	if c.err != nil {
		return c.err
	}
	_, err := loader()
	return err
}

func (c *stubCache) DeletePattern(ctx context.Context, pattern string) error {
	c.patterns = append(c.patterns, pattern)
	return c.err
}

// countingStoreRepo builds a repository whose store reads always fail and
// reports how many reads were attempted
func countingStoreRepo(t *testing.T, c scopeCache) (*storeRepository, *int) {
	t.Helper()
	db := dryRunDB(t)
	reads := 0
	require.NoError(t, db.Callback().Row().Before("gorm:row").Register("count_reads", func(*gorm.DB) {
		reads++
	}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &storeRepository{db: db, cache: c, ttl: time.Second, logger: logger}, &reads
}

func TestLoadScopes_LoaderErrorIsNotRetried(t *testing.T) {
	repo, reads := countingStoreRepo(t, &stubCache{})

	_, err := repo.LoadScopesWithCounters(t.Context(), "tenant-1", []uint{1, 2})

	require.Error(t, err)
	assert.ErrorIs(t, err, gorm.ErrDryRunModeUnsupported)
	assert.Equal(t, 1, *reads)
}

func TestLoadScopes_CacheFailureReadsStoresDirectly(t *testing.T) {
	repo, reads := countingStoreRepo(t, &stubCache{err: errors.New("redis: connection refused")})

	_, err := repo.LoadAllScopesWithCounters(t.Context(), "tenant-1")

	assert.ErrorIs(t, err, gorm.ErrDryRunModeUnsupported)
	assert.Equal(t, 1, *reads)
}

func TestLoadScopes_CancelledContextSkipsDirectRead(t *testing.T) {
	repo, reads := countingStoreRepo(t, &stubCache{err: context.Canceled})

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := repo.LoadAllScopesWithCounters(ctx, "tenant-1")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, *reads)
}

func TestInvalidateScopes_EscapesTenantPattern(t *testing.T) {
	c := &stubCache{}
	repo, _ := countingStoreRepo(t, c)

	repo.InvalidateScopes(t.Context(), "tenant-1")
	repo.InvalidateScopes(t.Context(), "*")
	repo.InvalidateScopes(t.Context(), "t?[a]")

	assert.Equal(t, []string{
		"scopes:tenant-1:*",
		`scopes:\*:*`,
		`scopes:t\?\[a\]:*`,
	}, c.patterns)
}

func TestInvalidateScopes_ToleratesCacheErrors(t *testing.T) {
	c := &stubCache{err: errors.New("redis scan error")}
	repo, _ := countingStoreRepo(t, c)

	assert.NotPanics(t, func() { repo.InvalidateScopes(t.Context(), "tenant-1") })
	assert.Len(t, c.patterns, 1)
}
