package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"analytics-service/internal/repository"
	"github.com/sirupsen/logrus"
)

// FactSource runs grouped aggregations over facts
type FactSource interface {
	QueryFacts(ctx context.Context, q repository.FactQuery) ([]repository.FactRow, error)
	SumBySource(ctx context.Context, tenantID string, window period.Window) (map[string]int64, error)
}

// ScopeSource hydrates stores with their current counters
type ScopeSource interface {
	LoadScopesWithCounters(ctx context.Context, tenantID string, ids []uint) (map[uint]models.ScopeRecord, error)
	LoadAllScopesWithCounters(ctx context.Context, tenantID string) ([]models.ScopeRecord, error)
}

// AggregateRequest describes one grouped aggregation
type AggregateRequest struct {
	TenantID   string
	ScopeField string
	Metric     repository.Metric
	Window     period.Window
	Sources    []models.FactSource
	Limit      int
}

// LabeledWindow is one slot of a leaderboard
type LabeledWindow struct {
	Label  string
	Window period.Window
}

// LeaderboardRequest asks for several windows at once
type LeaderboardRequest struct {
	TenantID string
	Windows  []LabeledWindow
	Limit    int
}

// TopRequest asks for the top stores by a metric
type TopRequest struct {
	TenantID string
	Metric   repository.Metric
	Window   period.Window
	Sources  []models.FactSource
	Limit    int
}

// leaderboardSources are the facts that count towards the store leaderboard
var leaderboardSources = []models.FactSource{models.FactSourceOrder}

// AggregationEngine computes period-filtered aggregates and rankings
type AggregationEngine interface {
	Clock() period.Clock
	ResolveWindow(token, dateFrom, dateTo string) (period.Window, error)
	Periods() []models.PeriodInfo

	Aggregate(ctx context.Context, req AggregateRequest) ([]models.AggregateRow, error)
	BuildLeaderboard(ctx context.Context, req LeaderboardRequest) (*models.Leaderboard, error)
	TopByMetric(ctx context.Context, req TopRequest) ([]models.MetricRow, error)
	StoreStanding(ctx context.Context, tenantID string, storeID uint, window period.Window) (*models.StoreStanding, error)
	Summary(ctx context.Context, tenantID string, window period.Window) (*models.PointsSummary, error)
}

type aggregationEngine struct {
	facts  FactSource
	scopes ScopeSource
	clock  period.Clock
	logger *logrus.Logger
}

// NewAggregationEngine creates the engine. A nil clock reads the UTC wall clock.
func NewAggregationEngine(facts FactSource, scopes ScopeSource, clock period.Clock, logger *logrus.Logger) AggregationEngine {
	if clock == nil {
		clock = period.SystemClock{}
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &aggregationEngine{
		facts:  facts,
		scopes: scopes,
		clock:  clock,
		logger: logger,
	}
}

func (e *aggregationEngine) Clock() period.Clock {
	return e.clock
}

// ResolveWindow resolves a period token, or the explicit range when the token is empty
func (e *aggregationEngine) ResolveWindow(token, dateFrom, dateTo string) (period.Window, error) {
	return period.Resolve(token, dateFrom, dateTo, e.clock.Now())
}

// Periods lists every token with its bounds for the current instant
func (e *aggregationEngine) Periods() []models.PeriodInfo {
	now := e.clock.Now()
	tokens := period.ValidTokens()
	infos := make([]models.PeriodInfo, 0, len(tokens))
	for _, token := range tokens {
		w, err := period.ResolveWindow(token, now)
		if err != nil {
			continue
		}
		infos = append(infos, models.PeriodInfo{Token: token, Start: w.Start, End: w.End})
	}
	return infos
}

// Aggregate groups facts by scope, sums the metric and ranks the groups by
// total descending with ascending scope id breaking ties. An empty result is
// not an error.
func (e *aggregationEngine) Aggregate(ctx context.Context, req AggregateRequest) ([]models.AggregateRow, error) {
	if req.Metric == "" {
		req.Metric = repository.MetricPoints
	}
	if req.ScopeField == "" {
		req.ScopeField = repository.ScopeStore
	}
	if err := validateAggregate(req); err != nil {
		return nil, err
	}

	rows, err := e.facts.QueryFacts(ctx, repository.FactQuery{
		TenantID:   req.TenantID,
		Metric:     req.Metric,
		ScopeField: req.ScopeField,
		Window:     req.Window,
		Sources:    req.Sources,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}

	result := make([]models.AggregateRow, 0, len(rows))
	for _, row := range rows {
		result = append(result, models.AggregateRow{
			ScopeID: row.ScopeID,
			Total:   e.coalesce(req, row),
		})
	}

	sort.SliceStable(result, func(i, j int) bool {
		if result[i].Total != result[j].Total {
			return result[i].Total > result[j].Total
		}
		return result[i].ScopeID < result[j].ScopeID
	})

	if req.Limit > 0 && len(result) > req.Limit {
		result = result[:req.Limit]
	}
	return result, nil
}

func validateAggregate(req AggregateRequest) error {
	if !repository.IsValidMetric(string(req.Metric)) {
		return &ValidationError{Field: "metric", Message: fmt.Sprintf("unsupported metric %q", req.Metric), ValidValues: metricNames()}
	}
	if !repository.IsValidScopeField(req.Metric, req.ScopeField) {
		return &ValidationError{Field: "group_by", Message: fmt.Sprintf("cannot group %s by %q", req.Metric, req.ScopeField), ValidValues: repository.ValidScopeFields}
	}
	for _, src := range req.Sources {
		if !models.IsValidFactSource(string(src)) {
			return &ValidationError{Field: "source", Message: fmt.Sprintf("unsupported source %q", src)}
		}
	}
	return nil
}

func metricNames() []string {
	names := make([]string, len(repository.ValidMetrics))
	for i, m := range repository.ValidMetrics {
		names[i] = string(m)
	}
	return names
}

// coalesce turns null and non-finite totals into zero
func (e *aggregationEngine) coalesce(req AggregateRequest, row repository.FactRow) float64 {
	var reason string
	switch {
	case !row.Total.Valid:
		reason = "null total"
	case math.IsNaN(row.Total.Float64):
		reason = "NaN total"
	case math.IsInf(row.Total.Float64, 0):
		reason = "infinite total"
	default:
		return row.Total.Float64
	}

	dataErr := &DataError{ScopeID: row.ScopeID, Reason: reason}
	e.logger.WithError(dataErr).WithFields(logrus.Fields{
		"tenant_id":   req.TenantID,
		"metric":      req.Metric,
		"scope_field": req.ScopeField,
	}).Warn("Coalescing malformed aggregate to zero")
	return 0
}

// BuildLeaderboard ranks stores by order points for every window. When the
// tenant has no order points at all, every store is listed with zero points
// in every window instead. Otherwise a window without points stays empty.
func (e *aggregationEngine) BuildLeaderboard(ctx context.Context, req LeaderboardRequest) (*models.Leaderboard, error) {
	if len(req.Windows) == 0 {
		return nil, &ValidationError{Field: "windows", Message: "at least one window is required", ValidValues: period.ValidTokens()}
	}

	labels := make([]string, 0, len(req.Windows))
	seen := make(map[string]bool, len(req.Windows))
	for _, w := range req.Windows {
		if seen[w.Label] {
			return nil, &ValidationError{Field: "windows", Message: fmt.Sprintf("duplicate window %q", w.Label)}
		}
		seen[w.Label] = true
		labels = append(labels, w.Label)
	}

	aggregates := make(map[string][]models.AggregateRow, len(req.Windows))
	union := make(map[uint]struct{})
	for _, w := range req.Windows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := e.Aggregate(ctx, AggregateRequest{
			TenantID:   req.TenantID,
			ScopeField: repository.ScopeStore,
			Metric:     repository.MetricPoints,
			Window:     w.Window,
			Sources:    leaderboardSources,
			Limit:      req.Limit,
		})
		if err != nil {
			return nil, err
		}
		aggregates[w.Label] = rows
		for _, row := range rows {
			union[row.ScopeID] = struct{}{}
		}
	}

	var scopes map[uint]models.ScopeRecord
	if len(union) == 0 {
		exists, err := e.hasOrderFacts(ctx, req)
		if err != nil {
			return nil, err
		}
		if !exists {
			return e.fallbackLeaderboard(ctx, req, labels)
		}
	} else {
		loaded, err := e.scopes.LoadScopesWithCounters(ctx, req.TenantID, sortedIDs(union))
		if err != nil {
			return nil, err
		}
		scopes = loaded
	}

	board := &models.Leaderboard{
		Mode:    models.LeaderboardModePopulated,
		Labels:  labels,
		Windows: make(map[string][]models.LeaderboardRow, len(labels)),
	}
	for _, label := range labels {
		rows := make([]models.LeaderboardRow, 0, len(aggregates[label]))
		for _, agg := range aggregates[label] {
			scope, ok := scopes[agg.ScopeID]
			if !ok {
				e.logMissingScope(req.TenantID, agg.ScopeID)
				continue
			}
			rows = append(rows, leaderboardRow(len(rows)+1, scope, toPoints(agg.Total)))
		}
		board.Windows[label] = rows
	}
	return board, nil
}

// hasOrderFacts reports whether the tenant has any order fact at all, so
// empty windows are told apart from a tenant that never earned points
func (e *aggregationEngine) hasOrderFacts(ctx context.Context, req LeaderboardRequest) (bool, error) {
	// an empty unbounded window already answers the question
	for _, w := range req.Windows {
		if w.Window.IsUnbounded() {
			return false, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	rows, err := e.Aggregate(ctx, AggregateRequest{
		TenantID:   req.TenantID,
		ScopeField: repository.ScopeStore,
		Metric:     repository.MetricPoints,
		Window:     period.Unbounded(),
		Sources:    leaderboardSources,
		Limit:      1,
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0, nil
}

func (e *aggregationEngine) fallbackLeaderboard(ctx context.Context, req LeaderboardRequest, labels []string) (*models.Leaderboard, error) {
	all, err := e.scopes.LoadAllScopesWithCounters(ctx, req.TenantID)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	if req.Limit > 0 && len(all) > req.Limit {
		all = all[:req.Limit]
	}

	board := &models.Leaderboard{
		Mode:    models.LeaderboardModeFallbackAllZero,
		Labels:  labels,
		Windows: make(map[string][]models.LeaderboardRow, len(labels)),
	}
	for _, label := range labels {
		rows := make([]models.LeaderboardRow, 0, len(all))
		for i, scope := range all {
			rows = append(rows, leaderboardRow(i+1, scope, 0))
		}
		board.Windows[label] = rows
	}

	e.logger.WithFields(logrus.Fields{
		"tenant_id": req.TenantID,
		"stores":    len(all),
	}).Debug("No point facts in any window, listing all stores at zero")
	return board, nil
}

// TopByMetric ranks stores that have at least one qualifying fact in the
// window. Stores without activity are left out, unlike the leaderboard fallback.
func (e *aggregationEngine) TopByMetric(ctx context.Context, req TopRequest) ([]models.MetricRow, error) {
	if req.Metric == "" {
		req.Metric = repository.MetricRevenue
	}

	rows, err := e.Aggregate(ctx, AggregateRequest{
		TenantID:   req.TenantID,
		ScopeField: repository.ScopeStore,
		Metric:     req.Metric,
		Window:     req.Window,
		Sources:    req.Sources,
		Limit:      req.Limit,
	})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.MetricRow{}, nil
	}

	ids := make(map[uint]struct{}, len(rows))
	for _, row := range rows {
		ids[row.ScopeID] = struct{}{}
	}
	scopes, err := e.scopes.LoadScopesWithCounters(ctx, req.TenantID, sortedIDs(ids))
	if err != nil {
		return nil, err
	}

	result := make([]models.MetricRow, 0, len(rows))
	for _, row := range rows {
		scope, ok := scopes[row.ScopeID]
		if !ok {
			e.logMissingScope(req.TenantID, row.ScopeID)
			continue
		}
		result = append(result, models.MetricRow{
			Rank:          len(result) + 1,
			StoreID:       scope.ID,
			StoreName:     scope.Name,
			Status:        scope.Status,
			Metric:        string(req.Metric),
			Value:         row.Total,
			FollowerCount: scope.FollowerCount,
			OrderCount:    scope.OrderCount,
			ProductCount:  scope.ProductCount,
			RevenueSum:    scope.RevenueSum,
		})
	}
	return result, nil
}

// StoreStanding locates one store in the leaderboard of a window. A store
// without points has rank 0.
func (e *aggregationEngine) StoreStanding(ctx context.Context, tenantID string, storeID uint, window period.Window) (*models.StoreStanding, error) {
	scopes, err := e.scopes.LoadScopesWithCounters(ctx, tenantID, []uint{storeID})
	if err != nil {
		return nil, err
	}
	scope, ok := scopes[storeID]
	if !ok {
		return nil, &NotFoundError{Resource: "store", ID: strconv.FormatUint(uint64(storeID), 10)}
	}

	rows, err := e.Aggregate(ctx, AggregateRequest{
		TenantID:   tenantID,
		ScopeField: repository.ScopeStore,
		Metric:     repository.MetricPoints,
		Window:     window,
		Sources:    leaderboardSources,
	})
	if err != nil {
		return nil, err
	}

	standing := &models.StoreStanding{Store: scope, RankedCount: len(rows)}
	for i, row := range rows {
		if row.ScopeID == storeID {
			standing.Rank = i + 1
			standing.TotalPoints = toPoints(row.Total)
			break
		}
	}
	return standing, nil
}

// Summary totals points activity for a window
func (e *aggregationEngine) Summary(ctx context.Context, tenantID string, window period.Window) (*models.PointsSummary, error) {
	bySource, err := e.facts.SumBySource(ctx, tenantID, window)
	if err != nil {
		return nil, err
	}

	summary := &models.PointsSummary{
		PointsBySource: make(map[string]int64, len(models.ValidFactSources)),
		WindowStart:    window.Start,
		WindowEnd:      window.End,
	}
	for _, src := range models.ValidFactSources {
		summary.PointsBySource[string(src)] = 0
	}
	for src, total := range bySource {
		summary.PointsBySource[src] = total
		summary.TotalPoints += total
	}

	stores, err := e.Aggregate(ctx, AggregateRequest{TenantID: tenantID, ScopeField: repository.ScopeStore, Window: window})
	if err != nil {
		return nil, err
	}
	users, err := e.Aggregate(ctx, AggregateRequest{TenantID: tenantID, ScopeField: repository.ScopeUser, Window: window})
	if err != nil {
		return nil, err
	}
	summary.ActiveStores = len(stores)
	summary.ActiveUsers = len(users)

	return summary, nil
}

func (e *aggregationEngine) logMissingScope(tenantID string, storeID uint) {
	e.logger.WithError(&NotFoundError{Resource: "store", ID: strconv.FormatUint(uint64(storeID), 10)}).
		WithField("tenant_id", tenantID).
		Debug("Skipping row for missing store")
}

func leaderboardRow(rank int, scope models.ScopeRecord, points int64) models.LeaderboardRow {
	return models.LeaderboardRow{
		Rank:          rank,
		StoreID:       scope.ID,
		StoreName:     scope.Name,
		Status:        scope.Status,
		TotalPoints:   points,
		FollowerCount: scope.FollowerCount,
		OrderCount:    scope.OrderCount,
		ProductCount:  scope.ProductCount,
		RevenueSum:    scope.RevenueSum,
	}
}

func toPoints(total float64) int64 {
	return int64(math.Round(total))
}

func sortedIDs(set map[uint]struct{}) []uint {
	ids := make([]uint, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
