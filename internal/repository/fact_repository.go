package repository

import (
	"context"
	"database/sql"
	"fmt"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Metric names an aggregate the fact store can compute per scope
type Metric string

const (
	MetricPoints    Metric = "points"
	MetricRevenue   Metric = "revenue"
	MetricOrders    Metric = "orders"
	MetricFollowers Metric = "followers"
)

// ValidMetrics lists metrics in the order they are documented
var ValidMetrics = []Metric{MetricPoints, MetricRevenue, MetricOrders, MetricFollowers}

// Scope fields facts can be grouped by. Only store_id is valid for
// metrics other than points.
const (
	ScopeStore = "store_id"
	ScopeUser  = "user_id"
)

// ValidScopeFields lists the accepted group_by values
var ValidScopeFields = []string{ScopeStore, ScopeUser}

// metricSpec describes where a metric lives and how it is folded
type metricSpec struct {
	model     interface{}
	aggregate string
	filter    string
	filterArg interface{}
	sources   bool
}

var metricSpecs = map[Metric]metricSpec{
	MetricPoints: {
		model:     &models.PointFact{},
		aggregate: "COALESCE(SUM(points), 0)",
		sources:   true,
	},
	MetricRevenue: {
		model:     &models.StoreOrder{},
		aggregate: "COALESCE(SUM(total_amount), 0)",
		filter:    "status = ?",
		filterArg: models.OrderStatusCompleted,
	},
	MetricOrders: {
		model:     &models.StoreOrder{},
		aggregate: "COUNT(*)",
		filter:    "status = ?",
		filterArg: models.OrderStatusCompleted,
	},
	MetricFollowers: {
		model:     &models.StoreFollower{},
		aggregate: "COUNT(*)",
	},
}

// IsValidMetric reports whether m is a supported metric
func IsValidMetric(m string) bool {
	_, ok := metricSpecs[Metric(m)]
	return ok
}

// IsValidScopeField reports whether field may be used for grouping metric
func IsValidScopeField(metric Metric, field string) bool {
	switch field {
	case ScopeStore:
		return true
	case ScopeUser:
		return metric == MetricPoints
	default:
		return false
	}
}

// FactQuery selects and groups facts
type FactQuery struct {
	TenantID   string
	Metric     Metric
	ScopeField string
	Window     period.Window
	Sources    []models.FactSource
	// Limit <= 0 returns every group
	Limit int
}

// FactRow is one grouped aggregate as read from the database
type FactRow struct {
	ScopeID uint
	Total   sql.NullFloat64
}

// FactRepository is the fact-query side of the engine
type FactRepository interface {
	QueryFacts(ctx context.Context, q FactQuery) ([]FactRow, error)
	SumBySource(ctx context.Context, tenantID string, window period.Window) (map[string]int64, error)
	RecordFact(ctx context.Context, fact *models.PointFact) (bool, error)
	Ping(ctx context.Context) error
}

type factRepository struct {
	db *gorm.DB
}

func NewFactRepository(db *gorm.DB) FactRepository {
	return &factRepository{db: db}
}

// QueryFacts runs a grouped aggregation. Rows come back ordered by total
// descending then scope id ascending.
func (r *factRepository) QueryFacts(ctx context.Context, q FactQuery) ([]FactRow, error) {
	stmt, err := factStatement(r.db.WithContext(ctx), q)
	if err != nil {
		return nil, err
	}

	var rows []FactRow
	if err := stmt.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to aggregate %s by %s: %w", q.Metric, q.ScopeField, err)
	}
	return rows, nil
}

func factStatement(tx *gorm.DB, q FactQuery) (*gorm.DB, error) {
	spec, ok := metricSpecs[q.Metric]
	if !ok {
		return nil, fmt.Errorf("unsupported metric %q", q.Metric)
	}
	if !IsValidScopeField(q.Metric, q.ScopeField) {
		return nil, fmt.Errorf("unsupported scope field %q for metric %q", q.ScopeField, q.Metric)
	}

	// ScopeField is whitelisted above, so it is safe to place in the select list
	stmt := tx.Model(spec.model).
		Select(fmt.Sprintf("%s AS scope_id, %s AS total", q.ScopeField, spec.aggregate)).
		Where("tenant_id = ?", q.TenantID)

	if spec.filter != "" {
		stmt = stmt.Where(spec.filter, spec.filterArg)
	}
	if spec.sources && len(q.Sources) > 0 {
		sources := make([]string, len(q.Sources))
		for i, s := range q.Sources {
			sources[i] = string(s)
		}
		stmt = stmt.Where("source IN ?", sources)
	}
	stmt = applyWindow(stmt, q.Window)

	stmt = stmt.Group(q.ScopeField).Order("total DESC, scope_id ASC")
	if q.Limit > 0 {
		stmt = stmt.Limit(q.Limit)
	}
	return stmt, nil
}

func applyWindow(stmt *gorm.DB, w period.Window) *gorm.DB {
	if w.Start != nil {
		stmt = stmt.Where("created_at >= ?", *w.Start)
	}
	if w.End != nil {
		stmt = stmt.Where("created_at <= ?", *w.End)
	}
	return stmt
}

// SumBySource totals points per source inside the window
func (r *factRepository) SumBySource(ctx context.Context, tenantID string, window period.Window) (map[string]int64, error) {
	var rows []struct {
		Source string
		Total  int64
	}

	stmt := r.db.WithContext(ctx).Model(&models.PointFact{}).
		Select("source, COALESCE(SUM(points), 0) AS total").
		Where("tenant_id = ?", tenantID)
	stmt = applyWindow(stmt, window)

	if err := stmt.Group("source").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to sum points by source: %w", err)
	}

	totals := make(map[string]int64, len(rows))
	for _, row := range rows {
		totals[row.Source] = row.Total
	}
	return totals, nil
}

// RecordFact inserts a fact once per event id. It reports false when the
// event was already recorded.
func (r *factRepository) RecordFact(ctx context.Context, fact *models.PointFact) (bool, error) {
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "event_id"}},
		DoNothing: true,
	}).Create(fact)
	if result.Error != nil {
		return false, fmt.Errorf("failed to record point fact: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *factRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
