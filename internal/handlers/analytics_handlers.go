package handlers

import (
	"net/http"
	"strings"

	"analytics-service/internal/models"
	"analytics-service/internal/repository"
	"analytics-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AnalyticsHandler struct {
	engine services.AggregationEngine
	limits Limits
	logger *logrus.Logger
}

func NewAnalyticsHandler(engine services.AggregationEngine, limits Limits, logger *logrus.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{
		engine: engine,
		limits: limits,
		logger: logger,
	}
}

// GetTopStores ranks stores by a metric, leaving out stores with no activity in the period
// @Summary Top stores
// @Description Top stores by revenue, completed orders, new followers or points within a period
// @Tags analytics
// @Produce json
// @Param metric query string false "revenue, orders, followers or points" default(revenue)
// @Param period query string false "Period token"
// @Param date_from query string false "Range start (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Range end (YYYY-MM-DD or RFC3339)"
// @Param limit query int false "Rows" default(10)
// @Success 200 {object} models.TopStoresResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /analytics/top-stores [get]
func (h *AnalyticsHandler) GetTopStores(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	limit, err := parseLimit(c, h.limits.TopDefault, h.limits.TopMax)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	window, _, err := resolveWindow(c, h.engine, "")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	rows, err := h.engine.TopByMetric(c.Request.Context(), services.TopRequest{
		TenantID: tenantID,
		Metric:   repository.Metric(strings.TrimSpace(c.Query("metric"))),
		Window:   window,
		Limit:    limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.TopStoresResponse{
		Success: true,
		Data:    rows,
	})
}

// GetPoints returns grouped point totals
// @Summary Points breakdown
// @Description Point totals grouped by store or user within a period
// @Tags analytics
// @Produce json
// @Param group_by query string false "store_id or user_id" default(store_id)
// @Param source query string false "Comma separated sources (order, referral)"
// @Param period query string false "Period token"
// @Param date_from query string false "Range start (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Range end (YYYY-MM-DD or RFC3339)"
// @Param limit query int false "Rows" default(100)
// @Success 200 {object} models.SuccessResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /analytics/points [get]
func (h *AnalyticsHandler) GetPoints(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	limit, err := parseLimit(c, h.limits.LeaderboardDefault, h.limits.LeaderboardMax)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	window, label, err := resolveWindow(c, h.engine, "")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	var sources []models.FactSource
	for _, s := range splitList(c.Query("source")) {
		sources = append(sources, models.FactSource(s))
	}

	groupBy := strings.TrimSpace(c.DefaultQuery("group_by", repository.ScopeStore))
	rows, err := h.engine.Aggregate(c.Request.Context(), services.AggregateRequest{
		TenantID:   tenantID,
		ScopeField: groupBy,
		Metric:     repository.MetricPoints,
		Window:     window,
		Sources:    sources,
		Limit:      limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    rows,
		"meta": gin.H{
			"groupBy": groupBy,
			"period":  label,
			"start":   window.Start,
			"end":     window.End,
			"limit":   limit,
		},
	})
}

// GetPointsSummary totals points activity
// @Summary Points summary
// @Description Total points, points per source and active stores and users within a period
// @Tags analytics
// @Produce json
// @Param period query string false "Period token"
// @Param date_from query string false "Range start (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Range end (YYYY-MM-DD or RFC3339)"
// @Success 200 {object} models.SuccessResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /analytics/points/summary [get]
func (h *AnalyticsHandler) GetPointsSummary(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	window, _, err := resolveWindow(c, h.engine, "")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	summary, err := h.engine.Summary(c.Request.Context(), tenantID, window)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    summary,
	})
}

// ListPeriods lists the supported period tokens
// @Summary Reporting periods
// @Description Every supported period token with its bounds for the current time
// @Tags analytics
// @Produce json
// @Success 200 {object} models.SuccessResponse
// @Security BearerAuth
// @Router /analytics/periods [get]
func (h *AnalyticsHandler) ListPeriods(c *gin.Context) {
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    h.engine.Periods(),
	})
}
