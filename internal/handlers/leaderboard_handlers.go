package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"analytics-service/internal/export"
	"analytics-service/internal/models"
	"analytics-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// defaultLeaderboardWindows are returned when ?windows= is absent
var defaultLeaderboardWindows = []string{"today", "this_week", "this_month", "all_time"}

type LeaderboardHandler struct {
	engine        services.AggregationEngine
	limits        Limits
	exportLimiter *rate.Limiter
	logger        *logrus.Logger
}

// NewLeaderboardHandler creates the leaderboard handler. exportLimiter may be nil to disable throttling.
func NewLeaderboardHandler(engine services.AggregationEngine, limits Limits, exportLimiter *rate.Limiter, logger *logrus.Logger) *LeaderboardHandler {
	return &LeaderboardHandler{
		engine:        engine,
		limits:        limits,
		exportLimiter: exportLimiter,
		logger:        logger,
	}
}

// GetLeaderboard ranks stores by order points for one or more periods
// @Summary Store leaderboard
// @Description Rank stores by points earned from orders. Lists every store at zero points when no points exist yet.
// @Tags leaderboard
// @Produce json
// @Param windows query string false "Comma separated period tokens" default(today,this_week,this_month,all_time)
// @Param date_from query string false "Adds a custom window starting at this date (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Adds a custom window ending at this date (YYYY-MM-DD or RFC3339)"
// @Param limit query int false "Rows per window" default(100)
// @Success 200 {object} models.LeaderboardResponse
// @Failure 422 {object} models.ErrorResponse
// @Failure 500 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	limit, err := parseLimit(c, h.limits.LeaderboardDefault, h.limits.LeaderboardMax)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	tokens := splitList(c.Query("windows"))
	if len(tokens) == 0 {
		tokens = defaultLeaderboardWindows
	}

	windows := make([]services.LabeledWindow, 0, len(tokens)+1)
	for _, token := range tokens {
		w, err := h.engine.ResolveWindow(token, "", "")
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		windows = append(windows, services.LabeledWindow{Label: token, Window: w})
	}

	if c.Query("date_from") != "" || c.Query("date_to") != "" {
		w, err := h.engine.ResolveWindow("", c.Query("date_from"), c.Query("date_to"))
		if err != nil {
			respondError(c, h.logger, err)
			return
		}
		windows = append(windows, services.LabeledWindow{Label: "custom", Window: w})
	}

	board, err := h.engine.BuildLeaderboard(c.Request.Context(), services.LeaderboardRequest{
		TenantID: tenantID,
		Windows:  windows,
		Limit:    limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.LeaderboardResponse{
		Success: true,
		Data:    board,
	})
}

// GetStoreStanding returns a single store's rank for a period
// @Summary Store standing
// @Description Rank and order points of one store. Rank is 0 when the store has no points in the period.
// @Tags leaderboard
// @Produce json
// @Param id path int true "Store ID"
// @Param period query string false "Period token"
// @Param date_from query string false "Range start (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Range end (YYYY-MM-DD or RFC3339)"
// @Success 200 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 422 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /leaderboard/stores/{id} [get]
func (h *LeaderboardHandler) GetStoreStanding(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	storeID, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || storeID == 0 {
		c.JSON(http.StatusBadRequest, errorResponse(c, "INVALID_ID", "Invalid store ID format", nil))
		return
	}

	window, _, err := resolveWindow(c, h.engine, "")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	standing, err := h.engine.StoreStanding(c.Request.Context(), tenantID, uint(storeID), window)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    standing,
	})
}

// ExportLeaderboard downloads a single period leaderboard
// @Summary Export leaderboard
// @Description Download the leaderboard of one period as XLSX or PDF
// @Tags leaderboard
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Produce application/pdf
// @Param format query string false "xlsx or pdf" default(xlsx)
// @Param period query string false "Period token" default(this_month)
// @Param date_from query string false "Range start (YYYY-MM-DD or RFC3339)"
// @Param date_to query string false "Range end (YYYY-MM-DD or RFC3339)"
// @Param limit query int false "Rows" default(100)
// @Success 200 {file} file
// @Failure 422 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /leaderboard/export [get]
func (h *LeaderboardHandler) ExportLeaderboard(c *gin.Context) {
	tenantID := c.GetString("tenant_id")

	format, err := export.ParseFormat(c.Query("format"))
	if err != nil {
		respondError(c, h.logger, &services.ValidationError{
			Field:       "format",
			Message:     err.Error(),
			ValidValues: []string{string(export.FormatXLSX), string(export.FormatPDF)},
		})
		return
	}

	limit, err := parseLimit(c, h.limits.LeaderboardDefault, h.limits.LeaderboardMax)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	window, label, err := resolveWindow(c, h.engine, "this_month")
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	if h.exportLimiter != nil && !h.exportLimiter.Allow() {
		c.Header("Retry-After", "1")
		c.JSON(http.StatusTooManyRequests, errorResponse(c, "RATE_LIMITED", "Too many export requests, please retry shortly", nil))
		return
	}

	board, err := h.engine.BuildLeaderboard(c.Request.Context(), services.LeaderboardRequest{
		TenantID: tenantID,
		Windows:  []services.LabeledWindow{{Label: label, Window: window}},
		Limit:    limit,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	report := &export.Report{
		Title:       "Store Leaderboard",
		PeriodLabel: label,
		Window:      window,
		Mode:        board.Mode,
		GeneratedAt: h.engine.Clock().Now(),
		Rows:        board.Windows[label],
	}

	data, err := export.Render(report, format)
	if err != nil {
		respondError(c, h.logger, fmt.Errorf("failed to render %s export: %w", format, err))
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"format":    format,
		"period":    label,
		"rows":      len(report.Rows),
	}).Info("Leaderboard exported")

	filename := strings.ReplaceAll(export.FileName(report, format), `"`, "")
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	c.Data(http.StatusOK, format.ContentType(), data)
}
