package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("REPORT_TIMEZONE", "")
	t.Setenv("LEADERBOARD_LIMIT", "")
	t.Setenv("SCOPE_CACHE_TTL", "")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "UTC", cfg.ReportTimezone)
	assert.Equal(t, 100, cfg.LeaderboardLimit)
	assert.Equal(t, 500, cfg.LeaderboardMax)
	assert.Equal(t, 10, cfg.TopLimit)
	assert.Equal(t, 20, cfg.TopMax)
	assert.Equal(t, 30*time.Second, cfg.ScopeCacheTTL)
	assert.True(t, cfg.IngestEnabled)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LEADERBOARD_LIMIT", "50")
	t.Setenv("SCOPE_CACHE_TTL", "2m")
	t.Setenv("FACT_INGEST_ENABLED", "false")
	t.Setenv("EXPORT_RATE_PER_SEC", "0.5")

	cfg := Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 50, cfg.LeaderboardLimit)
	assert.Equal(t, 2*time.Minute, cfg.ScopeCacheTTL)
	assert.False(t, cfg.IngestEnabled)
	assert.Equal(t, 0.5, cfg.ExportRatePerSec)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("LEADERBOARD_LIMIT", "many")
	t.Setenv("SCOPE_CACHE_TTL", "soon")

	cfg := Load()

	assert.Equal(t, 100, cfg.LeaderboardLimit)
	assert.Equal(t, 30*time.Second, cfg.ScopeCacheTTL)
}

func TestLocation(t *testing.T) {
	cfg := &Config{ReportTimezone: "Africa/Lagos"}
	assert.Equal(t, "Africa/Lagos", cfg.Location().String())

	cfg.ReportTimezone = "Nowhere/Special"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestLoadLocation_ReportsUnknownZone(t *testing.T) {
	cfg := &Config{ReportTimezone: "Europe/Berlin"}
	loc, err := cfg.LoadLocation()
	assert.NoError(t, err)
	assert.Equal(t, "Europe/Berlin", loc.String())

	cfg.ReportTimezone = "Europe/Berln"
	loc, err = cfg.LoadLocation()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "Europe/Berln")
	assert.Equal(t, time.UTC, loc)
}
