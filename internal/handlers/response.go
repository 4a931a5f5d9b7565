package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"analytics-service/internal/models"
	"analytics-service/internal/period"
	"analytics-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Limits bounds the size of ranked responses
type Limits struct {
	LeaderboardDefault int
	LeaderboardMax     int
	TopDefault         int
	TopMax             int
}

// DefaultLimits mirrors the service configuration defaults
func DefaultLimits() Limits {
	return Limits{
		LeaderboardDefault: 100,
		LeaderboardMax:     500,
		TopDefault:         10,
		TopMax:             20,
	}
}

func errorResponse(c *gin.Context, code, message string, details *models.JSON) models.ErrorResponse {
	return models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
			Details: details,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: c.GetHeader("X-Request-ID"),
	}
}

// respondError maps domain errors onto HTTP statuses. Anything unrecognised
// is logged and reported as a generic 500.
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var invalidPeriod *period.InvalidPeriodError
	var rangeErr *period.RangeError
	var validationErr *services.ValidationError

	switch {
	case errors.As(err, &invalidPeriod):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(c, "INVALID_PERIOD", err.Error(), &models.JSON{
			"field":        "period",
			"validPeriods": invalidPeriod.ValidTokens,
		}))
	case errors.As(err, &rangeErr):
		c.JSON(http.StatusUnprocessableEntity, errorResponse(c, "INVALID_DATE_RANGE", err.Error(), &models.JSON{
			"field": rangeErr.Field,
		}))
	case errors.As(err, &validationErr):
		details := models.JSON{"field": validationErr.Field}
		if len(validationErr.ValidValues) > 0 {
			details["validValues"] = validationErr.ValidValues
		}
		c.JSON(http.StatusUnprocessableEntity, errorResponse(c, "VALIDATION_ERROR", err.Error(), &details))
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, errorResponse(c, "NOT_FOUND", err.Error(), nil))
	default:
		logger.WithError(err).WithFields(logrus.Fields{
			"path":      c.FullPath(),
			"tenant_id": c.GetString("tenant_id"),
		}).Error("Analytics request failed")
		c.JSON(http.StatusInternalServerError, errorResponse(c, "INTERNAL_ERROR", "Failed to compute analytics", nil))
	}
}

// parseLimit reads ?limit=, applying the default when absent and clamping to max
func parseLimit(c *gin.Context, def, max int) (int, error) {
	raw := strings.TrimSpace(c.Query("limit"))
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, &services.ValidationError{Field: "limit", Message: "must be a positive integer"}
	}
	if max > 0 && limit > max {
		limit = max
	}
	return limit, nil
}

// resolveWindow reads period, date_from and date_to from the query string
func resolveWindow(c *gin.Context, engine services.AggregationEngine, defaultToken string) (period.Window, string, error) {
	token := strings.TrimSpace(c.Query("period"))
	dateFrom := c.Query("date_from")
	dateTo := c.Query("date_to")

	if token == "" && dateFrom == "" && dateTo == "" {
		token = defaultToken
	}

	w, err := engine.ResolveWindow(token, dateFrom, dateTo)
	if err != nil {
		return period.Window{}, "", err
	}

	label := token
	if label == "" {
		label = "custom"
	}
	return w, label, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
