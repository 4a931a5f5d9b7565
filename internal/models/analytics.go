package models

import (
	"time"
)

// LeaderboardMode tells callers whether rows came from point facts or from the
// all-zero fallback listing
type LeaderboardMode string

const (
	LeaderboardModePopulated       LeaderboardMode = "populated"
	LeaderboardModeFallbackAllZero LeaderboardMode = "fallback_all_zero"
)

// AggregateRow is one grouped total
type AggregateRow struct {
	ScopeID uint    `json:"scopeId"`
	Total   float64 `json:"total"`
}

// LeaderboardRow merges a window's point total with the store's current counters
type LeaderboardRow struct {
	Rank          int         `json:"rank"`
	StoreID       uint        `json:"storeId"`
	StoreName     string      `json:"storeName"`
	Status        StoreStatus `json:"status"`
	TotalPoints   int64       `json:"totalPoints"`
	FollowerCount int64       `json:"followerCount"`
	OrderCount    int64       `json:"orderCount"`
	ProductCount  int64       `json:"productCount"`
	RevenueSum    float64     `json:"revenueSum"`
}

// Leaderboard is the result of building one or more windows at once
type Leaderboard struct {
	Mode    LeaderboardMode             `json:"mode"`
	Labels  []string                    `json:"labels"`
	Windows map[string][]LeaderboardRow `json:"windows"`
}

// MetricRow is one entry of a top-N report
type MetricRow struct {
	Rank          int         `json:"rank"`
	StoreID       uint        `json:"storeId"`
	StoreName     string      `json:"storeName"`
	Status        StoreStatus `json:"status"`
	Metric        string      `json:"metric"`
	Value         float64     `json:"value"`
	FollowerCount int64       `json:"followerCount"`
	OrderCount    int64       `json:"orderCount"`
	ProductCount  int64       `json:"productCount"`
	RevenueSum    float64     `json:"revenueSum"`
}

// StoreStanding is a single store's position in a window
type StoreStanding struct {
	Store       ScopeRecord `json:"store"`
	Rank        int         `json:"rank"`
	TotalPoints int64       `json:"totalPoints"`
	RankedCount int         `json:"rankedCount"`
}

// PointsSummary totals points activity in a window
type PointsSummary struct {
	TotalPoints    int64            `json:"totalPoints"`
	PointsBySource map[string]int64 `json:"pointsBySource"`
	ActiveStores   int              `json:"activeStores"`
	ActiveUsers    int              `json:"activeUsers"`
	WindowStart    *time.Time       `json:"windowStart"`
	WindowEnd      *time.Time       `json:"windowEnd"`
}

// PeriodInfo describes a period token resolved against the current time
type PeriodInfo struct {
	Token string     `json:"token"`
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// JSON carries free-form error details
type JSON map[string]interface{}

// SuccessResponse wraps a successful payload
type SuccessResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data"`
	Message *string     `json:"message,omitempty"`
}

// LeaderboardResponse represents a leaderboard response
type LeaderboardResponse struct {
	Success bool         `json:"success"`
	Data    *Leaderboard `json:"data"`
}

// TopStoresResponse represents a top-N report response
type TopStoresResponse struct {
	Success bool        `json:"success"`
	Data    []MetricRow `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Error     Error  `json:"error"`
	Timestamp string `json:"timestamp,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

// Error represents error details
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Details *JSON  `json:"details,omitempty"`
}
