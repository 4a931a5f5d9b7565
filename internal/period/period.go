// Package period turns named reporting periods and explicit date ranges into
// time windows. Weeks start on Monday.
package period

import (
	"fmt"
	"strings"
	"time"
)

// Token is a named reporting period.
type Token string

const (
	Today     Token = "today"
	ThisWeek  Token = "this_week"
	ThisMonth Token = "this_month"
	LastMonth Token = "last_month"
	ThisYear  Token = "this_year"
	AllTime   Token = "all_time"
)

// DefaultRangeDays is the span used when neither date_from nor date_to is supplied.
const DefaultRangeDays = 30

// ValidTokens returns the recognised period tokens in declaration order.
func ValidTokens() []string {
	return []string{
		string(Today),
		string(ThisWeek),
		string(ThisMonth),
		string(LastMonth),
		string(ThisYear),
		string(AllTime),
	}
}

// Clock supplies the current time. Tests inject a fixed clock.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in a fixed location.
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now().UTC()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time {
	return time.Time(c)
}

// Window is a time range, inclusive on both ends. A nil bound is open.
type Window struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

// Bounded builds a closed window.
func Bounded(start, end time.Time) Window {
	return Window{Start: &start, End: &end}
}

// Unbounded is the all-time window.
func Unbounded() Window {
	return Window{}
}

// IsUnbounded reports whether neither side of the window is constrained.
func (w Window) IsUnbounded() bool {
	return w.Start == nil && w.End == nil
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if w.Start != nil && t.Before(*w.Start) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// CacheKey is a stable representation of the bounds.
func (w Window) CacheKey() string {
	return boundKey(w.Start) + "_" + boundKey(w.End)
}

func boundKey(t *time.Time) string {
	if t == nil {
		return "open"
	}
	return fmt.Sprintf("%d", t.UTC().UnixNano())
}

// Label renders the window for humans, e.g. in export titles.
func (w Window) Label() string {
	if w.IsUnbounded() {
		return "All time"
	}
	start, end := "beginning", "now"
	if w.Start != nil {
		start = w.Start.Format("2006-01-02")
	}
	if w.End != nil {
		end = w.End.Format("2006-01-02")
	}
	return start + " to " + end
}

// InvalidPeriodError is returned for an unrecognised period token.
type InvalidPeriodError struct {
	Token       string
	ValidTokens []string
}

func (e *InvalidPeriodError) Error() string {
	return fmt.Sprintf("invalid period %q: must be one of %s", e.Token, strings.Join(e.ValidTokens, ", "))
}

// RangeError is returned for a malformed or inverted date_from/date_to pair.
type RangeError struct {
	Field  string
	Value  string
	Reason string
}

func (e *RangeError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

// ResolveWindow maps a period token to a window relative to now, in now's location.
func ResolveWindow(token string, now time.Time) (Window, error) {
	switch Token(strings.TrimSpace(token)) {
	case Today:
		start := startOfDay(now)
		return Bounded(start, endOf(start.AddDate(0, 0, 1))), nil
	case ThisWeek:
		start := startOfWeek(now)
		return Bounded(start, endOf(start.AddDate(0, 0, 7))), nil
	case ThisMonth:
		start := startOfMonth(now)
		return Bounded(start, endOf(start.AddDate(0, 1, 0))), nil
	case LastMonth:
		end := startOfMonth(now)
		return Bounded(end.AddDate(0, -1, 0), endOf(end)), nil
	case ThisYear:
		start := time.Date(now.Year(), time.January, 1, 0, 0, 0, 0, now.Location())
		return Bounded(start, endOf(start.AddDate(1, 0, 0))), nil
	case AllTime:
		return Unbounded(), nil
	default:
		return Window{}, &InvalidPeriodError{Token: token, ValidTokens: ValidTokens()}
	}
}

// ResolveRange builds a window from date_from/date_to. Date-only values cover
// the whole day; RFC3339 values are taken verbatim.
func ResolveRange(dateFrom, dateTo string, now time.Time) (Window, error) {
	dateFrom = strings.TrimSpace(dateFrom)
	dateTo = strings.TrimSpace(dateTo)

	var start, end time.Time

	if dateTo != "" {
		parsed, dateOnly, err := parseBound(dateTo, now.Location())
		if err != nil {
			return Window{}, &RangeError{Field: "date_to", Value: dateTo, Reason: "expected YYYY-MM-DD or RFC3339"}
		}
		end = parsed
		if dateOnly {
			end = endOf(parsed.AddDate(0, 0, 1))
		}
	} else {
		end = endOf(startOfDay(now).AddDate(0, 0, 1))
	}

	if dateFrom != "" {
		parsed, _, err := parseBound(dateFrom, now.Location())
		if err != nil {
			return Window{}, &RangeError{Field: "date_from", Value: dateFrom, Reason: "expected YYYY-MM-DD or RFC3339"}
		}
		start = parsed
	} else {
		start = startOfDay(end).AddDate(0, 0, -DefaultRangeDays)
	}

	if start.After(end) {
		return Window{}, &RangeError{Field: "date_from", Value: dateFrom, Reason: "must not be after date_to"}
	}

	return Bounded(start, end), nil
}

// Resolve prefers the period token and falls back to the explicit range.
func Resolve(token, dateFrom, dateTo string, now time.Time) (Window, error) {
	if strings.TrimSpace(token) != "" {
		return ResolveWindow(token, now)
	}
	return ResolveRange(dateFrom, dateTo, now)
}

func parseBound(value string, loc *time.Location) (time.Time, bool, error) {
	if t, err := time.ParseInLocation("2006-01-02", value, loc); err == nil {
		return t, true, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, false, nil
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	// time.Sunday == 0; shift so Monday is offset 0
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}

// endOf returns the last representable instant before next.
func endOf(next time.Time) time.Time {
	return next.Add(-time.Nanosecond)
}
