package handlers

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"analytics-service/internal/repository"
	"analytics-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// stubFacts answers every query with the rows registered for its metric.
// With unboundedOnly set, bounded windows come back empty.
type stubFacts struct {
	rows          map[repository.Metric][]repository.FactRow
	unboundedOnly bool
	err           error
	queries       []repository.FactQuery
}

func (s *stubFacts) QueryFacts(ctx context.Context, q repository.FactQuery) ([]repository.FactRow, error) {
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	if s.unboundedOnly && !q.Window.IsUnbounded() {
		return nil, nil
	}
	return s.rows[q.Metric], nil
}

func (s *stubFacts) SumBySource(ctx context.Context, tenantID string, window period.Window) (map[string]int64, error) {
	if s.err != nil {
		return nil, s.err
	}
	return map[string]int64{"order": 130}, nil
}

type stubScopes struct {
	stores []models.ScopeRecord
}

func (s *stubScopes) LoadScopesWithCounters(ctx context.Context, tenantID string, ids []uint) (map[uint]models.ScopeRecord, error) {
	out := make(map[uint]models.ScopeRecord)
	for _, id := range ids {
		for _, st := range s.stores {
			if st.ID == id {
				out[id] = st
			}
		}
	}
	return out, nil
}

func (s *stubScopes) LoadAllScopesWithCounters(ctx context.Context, tenantID string) ([]models.ScopeRecord, error) {
	return s.stores, nil
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func row(id uint, total float64) repository.FactRow {
	return repository.FactRow{ScopeID: id, Total: sql.NullFloat64{Float64: total, Valid: true}}
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func setupRouter(facts *stubFacts, limiter *rate.Limiter) *gin.Engine {
	scopes := &stubScopes{stores: []models.ScopeRecord{
		{ID: 1, Name: "Alpha Mart", Status: models.StoreStatusActive, FollowerCount: 3},
		{ID: 2, Name: "Beta Goods", Status: models.StoreStatusActive, FollowerCount: 12},
	}}
	clock := period.FixedClock(time.Date(2024, time.January, 20, 9, 0, 0, 0, time.UTC))
	engine := services.NewAggregationEngine(facts, scopes, clock, quietLogger())

	leaderboard := NewLeaderboardHandler(engine, DefaultLimits(), limiter, quietLogger())
	analytics := NewAnalyticsHandler(engine, DefaultLimits(), quietLogger())
	health := NewHealthHandler(stubPinger{})

	router := gin.New()
	router.GET("/health", health.HealthCheck)
	router.GET("/ready", health.ReadinessCheck)

	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Set("tenant_id", "tenant-1")
		c.Next()
	})
	api.GET("/leaderboard", leaderboard.GetLeaderboard)
	api.GET("/leaderboard/export", leaderboard.ExportLeaderboard)
	api.GET("/leaderboard/stores/:id", leaderboard.GetStoreStanding)
	api.GET("/analytics/top-stores", analytics.GetTopStores)
	api.GET("/analytics/points", analytics.GetPoints)
	api.GET("/analytics/points/summary", analytics.GetPointsSummary)
	api.GET("/analytics/periods", analytics.ListPeriods)
	return router
}

func perform(router *gin.Engine, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestGetLeaderboard_Populated(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(1, 50), row(2, 80)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard?windows=this_month,all_time&limit=10")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LeaderboardResponse
	decode(t, w, &resp)
	assert.True(t, resp.Success)
	assert.Equal(t, models.LeaderboardModePopulated, resp.Data.Mode)
	assert.Equal(t, []string{"this_month", "all_time"}, resp.Data.Labels)
	require.Len(t, resp.Data.Windows["this_month"], 2)
	assert.Equal(t, uint(2), resp.Data.Windows["this_month"][0].StoreID)
	assert.Equal(t, int64(80), resp.Data.Windows["this_month"][0].TotalPoints)
	assert.Equal(t, int64(12), resp.Data.Windows["this_month"][0].FollowerCount)

	require.Len(t, facts.queries, 2)
	assert.Equal(t, 10, facts.queries[0].Limit)
	assert.Equal(t, []models.FactSource{models.FactSourceOrder}, facts.queries[0].Sources)
	assert.True(t, facts.queries[1].Window.IsUnbounded())
}

func TestGetLeaderboard_DefaultWindowsAndFallback(t *testing.T) {
	router := setupRouter(&stubFacts{}, nil)

	w := perform(router, "/api/v1/leaderboard")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LeaderboardResponse
	decode(t, w, &resp)
	assert.Equal(t, models.LeaderboardModeFallbackAllZero, resp.Data.Mode)
	assert.Equal(t, []string{"today", "this_week", "this_month", "all_time"}, resp.Data.Labels)
	for _, label := range resp.Data.Labels {
		require.Len(t, resp.Data.Windows[label], 2)
		assert.Zero(t, resp.Data.Windows[label][0].TotalPoints)
	}
}

func TestGetLeaderboard_EmptyWindowWithOlderPoints(t *testing.T) {
	facts := &stubFacts{
		rows:          map[repository.Metric][]repository.FactRow{repository.MetricPoints: {row(1, 50)}},
		unboundedOnly: true,
	}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard?windows=this_month")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.LeaderboardResponse
	decode(t, w, &resp)
	assert.Equal(t, models.LeaderboardModePopulated, resp.Data.Mode)
	assert.NotNil(t, resp.Data.Windows["this_month"])
	assert.Empty(t, resp.Data.Windows["this_month"])

	require.Len(t, facts.queries, 2)
	assert.True(t, facts.queries[1].Window.IsUnbounded())
	assert.Equal(t, 1, facts.queries[1].Limit)
}

func TestGetLeaderboard_InvalidPeriodIs422(t *testing.T) {
	router := setupRouter(&stubFacts{}, nil)

	w := perform(router, "/api/v1/leaderboard?windows=today,fortnight")
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp struct {
		Success bool `json:"success"`
		Error   struct {
			Code    string `json:"code"`
			Details struct {
				ValidPeriods []string `json:"validPeriods"`
			} `json:"details"`
		} `json:"error"`
	}
	decode(t, w, &resp)
	assert.False(t, resp.Success)
	assert.Equal(t, "INVALID_PERIOD", resp.Error.Code)
	assert.Equal(t, []string{"today", "this_week", "this_month", "last_month", "this_year", "all_time"}, resp.Error.Details.ValidPeriods)
}

func TestGetLeaderboard_CustomRangeWindow(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(1, 5)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard?windows=all_time&date_from=2024-01-01&date_to=2024-01-31")
	require.Equal(t, http.StatusOK, w.Code)

	require.Len(t, facts.queries, 2)
	custom := facts.queries[1].Window
	require.NotNil(t, custom.Start)
	assert.Equal(t, time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), *custom.Start)

	w = perform(router, "/api/v1/leaderboard?date_from=2024-02-01&date_to=2024-01-01")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_DATE_RANGE")
}

func TestGetLeaderboard_LimitHandling(t *testing.T) {
	facts := &stubFacts{}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard?windows=today&limit=abc")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = perform(router, "/api/v1/leaderboard?windows=today&limit=0")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = perform(router, "/api/v1/leaderboard?windows=today&limit=9999")
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, facts.queries)
	assert.Equal(t, 500, facts.queries[0].Limit)
}

func TestGetLeaderboard_StorageFailureIs500(t *testing.T) {
	router := setupRouter(&stubFacts{err: errors.New("connection refused")}, nil)

	w := perform(router, "/api/v1/leaderboard")
	require.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "INTERNAL_ERROR")
	assert.NotContains(t, w.Body.String(), "connection refused")
}

func TestGetStoreStanding(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(1, 50), row(2, 80)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard/stores/1?period=this_month")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Success bool                 `json:"success"`
		Data    models.StoreStanding `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, 2, resp.Data.Rank)
	assert.Equal(t, int64(50), resp.Data.TotalPoints)

	w = perform(router, "/api/v1/leaderboard/stores/99")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = perform(router, "/api/v1/leaderboard/stores/abc")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExportLeaderboard(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(1, 50)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard/export?format=pdf&period=this_month")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), "leaderboard_this_month_20240120.pdf")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF")))

	w = perform(router, "/api/v1/leaderboard/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")

	w = perform(router, "/api/v1/leaderboard/export?format=csv")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestExportLeaderboard_EmptyPeriodWithOlderPoints(t *testing.T) {
	facts := &stubFacts{
		rows:          map[repository.Metric][]repository.FactRow{repository.MetricPoints: {row(1, 50)}},
		unboundedOnly: true,
	}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/leaderboard/export?format=xlsx&period=this_month")
	require.Equal(t, http.StatusOK, w.Code)

	f, err := excelize.OpenReader(bytes.NewReader(w.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Leaderboard")
	require.NoError(t, err)
	// title, period, generated, blank, header and no store rows
	assert.Len(t, rows, 5)
}

func TestExportLeaderboard_RateLimited(t *testing.T) {
	router := setupRouter(&stubFacts{}, rate.NewLimiter(rate.Limit(0.001), 1))

	w := perform(router, "/api/v1/leaderboard/export?period=today")
	require.Equal(t, http.StatusOK, w.Code)

	w = perform(router, "/api/v1/leaderboard/export?period=today")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "RATE_LIMITED")
}

func TestGetTopStores(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricOrders: {row(1, 3)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/analytics/top-stores?metric=orders&period=this_year&limit=50")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TopStoresResponse
	decode(t, w, &resp)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "Alpha Mart", resp.Data[0].StoreName)
	assert.Equal(t, 3.0, resp.Data[0].Value)
	assert.Equal(t, 20, facts.queries[0].Limit)

	w = perform(router, "/api/v1/analytics/top-stores?metric=likes")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "validValues")
}

func TestGetTopStores_EmptyWindowExcludesStores(t *testing.T) {
	router := setupRouter(&stubFacts{}, nil)

	w := perform(router, "/api/v1/analytics/top-stores?metric=revenue&period=today")
	require.Equal(t, http.StatusOK, w.Code)

	var resp models.TopStoresResponse
	decode(t, w, &resp)
	assert.Empty(t, resp.Data)
}

func TestGetPoints(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(10, 5), row(20, 9)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/analytics/points?group_by=user_id&source=referral&period=last_month")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"groupBy":"user_id"`)

	require.Len(t, facts.queries, 1)
	assert.Equal(t, repository.ScopeUser, facts.queries[0].ScopeField)
	assert.Equal(t, []models.FactSource{models.FactSourceReferral}, facts.queries[0].Sources)

	w = perform(router, "/api/v1/analytics/points?group_by=tenant_id")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = perform(router, "/api/v1/analytics/points?source=coupon")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestGetPointsSummary(t *testing.T) {
	facts := &stubFacts{rows: map[repository.Metric][]repository.FactRow{
		repository.MetricPoints: {row(1, 50), row(2, 80)},
	}}
	router := setupRouter(facts, nil)

	w := perform(router, "/api/v1/analytics/points/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data models.PointsSummary `json:"data"`
	}
	decode(t, w, &resp)
	assert.Equal(t, int64(130), resp.Data.TotalPoints)
	assert.Equal(t, int64(0), resp.Data.PointsBySource["referral"])
	assert.Equal(t, 2, resp.Data.ActiveStores)
}

func TestListPeriods(t *testing.T) {
	router := setupRouter(&stubFacts{}, nil)

	w := perform(router, "/api/v1/analytics/periods")
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data []models.PeriodInfo `json:"data"`
	}
	decode(t, w, &resp)
	require.Len(t, resp.Data, 6)
	assert.Equal(t, "this_week", resp.Data[1].Token)
	assert.Equal(t, time.Monday, resp.Data[1].Start.Weekday())
}

func TestHealthEndpoints(t *testing.T) {
	router := setupRouter(&stubFacts{}, nil)

	w := perform(router, "/health")
	assert.Equal(t, http.StatusOK, w.Code)

	w = perform(router, "/ready")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"database":"ok"`)

	down := gin.New()
	down.GET("/ready", NewHealthHandler(stubPinger{err: errors.New("down")}).ReadinessCheck)
	w = perform(down, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
