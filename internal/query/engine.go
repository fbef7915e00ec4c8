// Package query is the read-only analytics engine. Every method clamps
// untrusted caller inputs against fixed maxima and runs under a per-query
// timeout, so no caller can force an unbounded scan or an unbounded wait.
package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	"golang.org/x/sync/singleflight"
)

// ErrTimeout is returned when a query exceeds its time budget. It is
// distinguishable from storage faults; the engine never retries timeouts.
var ErrTimeout = errors.New("query timed out")

// Config holds the fixed query bounds.
type Config struct {
	Timeout       time.Duration
	MaxLimit      int
	MaxDays       int
	StatsCacheTTL time.Duration
	MaxRankScan   int
}

// Engine serves bounded aggregate queries from the shared connection pool.
// It is independent of the write path; a query timeout cancels only that
// query.
type Engine struct {
	db     *sqlx.DB
	cfg    Config
	logger *slog.Logger

	statsMu      sync.Mutex
	statsValue   StorageStats
	statsExpires time.Time
	statsGroup   singleflight.Group
}

// NewEngine creates a query engine over the shared pool.
func NewEngine(db *sqlx.DB, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:     db,
		cfg:    cfg,
		logger: logger.With("component", "query"),
	}
}

// clampLimit bounds a requested row limit to [1, MaxLimit]. Out-of-range
// values are clamped, never rejected.
func (e *Engine) clampLimit(limit int) int {
	if limit < 1 {
		return 1
	}
	if limit > e.cfg.MaxLimit {
		return e.cfg.MaxLimit
	}
	return limit
}

// clampDays bounds a requested trailing-day window to [1, MaxDays].
func (e *Engine) clampDays(days int) int {
	if days < 1 {
		return 1
	}
	if days > e.cfg.MaxDays {
		return e.cfg.MaxDays
	}
	return days
}

// windowStart converts a clamped day count into the unix start of the
// trailing window.
func (e *Engine) windowStart(days int) int64 {
	return time.Now().Unix() - int64(days)*86400
}

// withTimeout derives the per-query context.
func (e *Engine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.Timeout)
}

// wrapErr maps a deadline expiry to ErrTimeout and wraps everything else.
func (e *Engine) wrapErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		e.logger.Warn("Query abandoned after timeout", "op", op, "timeout", e.cfg.Timeout)
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// WordCloud returns the most frequent tokens in the group within the
// trailing window, descending, capped at limit.
func (e *Engine) WordCloud(ctx context.Context, groupID int64, limit, days int) ([]WordCount, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	limit = e.clampLimit(limit)
	start := e.windowStart(e.clampDays(days))

	var rows []WordCount
	query := `
        SELECT word, COUNT(*) AS count FROM keywords
        WHERE group_id = ? AND created_at >= ?
        GROUP BY word ORDER BY count DESC LIMIT ?;
    `
	if err := e.db.SelectContext(ctx, &rows, query, groupID, start, limit); err != nil {
		return nil, e.wrapErr("word cloud", err)
	}
	return rows, nil
}

// UserWordCloud returns a single sender's most frequent tokens, optionally
// restricted to one group.
func (e *Engine) UserWordCloud(ctx context.Context, userID int64, groupID *int64, limit, days int) ([]WordCount, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	limit = e.clampLimit(limit)
	start := e.windowStart(e.clampDays(days))

	query := `
        SELECT word, COUNT(*) AS count FROM keywords
        WHERE user_id = ? AND created_at >= ?
    `
	args := []any{userID, start}
	if groupID != nil {
		query += " AND group_id = ?"
		args = append(args, *groupID)
	}
	query += " GROUP BY word ORDER BY count DESC LIMIT ?;"
	args = append(args, limit)

	var rows []WordCount
	if err := e.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, e.wrapErr("user word cloud", err)
	}
	return rows, nil
}

// WeeklyHourlyHeatmap returns the 7×24 activity grid for the group within
// the trailing window.
func (e *Engine) WeeklyHourlyHeatmap(ctx context.Context, groupID int64, days int) (Heatmap, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := e.windowStart(e.clampDays(days))

	var rows []struct {
		DayOfWeek int   `db:"day_of_week"`
		HourOfDay int   `db:"hour_of_day"`
		Count     int64 `db:"count"`
	}
	query := `
        SELECT day_of_week, hour_of_day, COUNT(*) AS count FROM messages
        WHERE group_id = ? AND created_at >= ?
        GROUP BY day_of_week, hour_of_day;
    `
	var grid Heatmap
	if err := e.db.SelectContext(ctx, &rows, query, groupID, start); err != nil {
		return grid, e.wrapErr("weekly hourly heatmap", err)
	}
	for _, r := range rows {
		if r.DayOfWeek >= 0 && r.DayOfWeek < 7 && r.HourOfDay >= 0 && r.HourOfDay < 24 {
			grid[r.DayOfWeek][r.HourOfDay] = r.Count
		}
	}
	return grid, nil
}

// HourlyActivity returns the 24-hour activity distribution for the group
// within the trailing window.
func (e *Engine) HourlyActivity(ctx context.Context, groupID int64, days int) ([24]int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := e.windowStart(e.clampDays(days))

	var rows []struct {
		HourOfDay int   `db:"hour_of_day"`
		Count     int64 `db:"count"`
	}
	query := `
        SELECT hour_of_day, COUNT(*) AS count FROM messages
        WHERE group_id = ? AND created_at >= ?
        GROUP BY hour_of_day;
    `
	var hours [24]int64
	if err := e.db.SelectContext(ctx, &rows, query, groupID, start); err != nil {
		return hours, e.wrapErr("hourly activity", err)
	}
	for _, r := range rows {
		if r.HourOfDay >= 0 && r.HourOfDay < 24 {
			hours[r.HourOfDay] = r.Count
		}
	}
	return hours, nil
}

// DailyTrend returns per-local-calendar-day message counts for the group
// within the trailing window, ascending by date.
func (e *Engine) DailyTrend(ctx context.Context, groupID int64, days int) ([]DailyCount, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	start := e.windowStart(e.clampDays(days))

	var rows []DailyCount
	query := `
        SELECT date(created_at, 'unixepoch', 'localtime') AS date, COUNT(*) AS count
        FROM messages WHERE group_id = ? AND created_at >= ?
        GROUP BY date ORDER BY date;
    `
	if err := e.db.SelectContext(ctx, &rows, query, groupID, start); err != nil {
		return nil, e.wrapErr("daily trend", err)
	}
	return rows, nil
}

// TopTalkers returns per-sender message counts for the group within the
// trailing window, descending, capped at limit.
func (e *Engine) TopTalkers(ctx context.Context, groupID int64, limit, days int) ([]TalkerStats, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	limit = e.clampLimit(limit)
	start := e.windowStart(e.clampDays(days))

	var rows []TalkerStats
	query := `
        SELECT m.user_id,
               COALESCE(NULLIF(u.nickname, ''), m.sender_nickname) AS nickname,
               COUNT(*) AS count
        FROM messages m
        LEFT JOIN users u ON m.user_id = u.user_id
        WHERE m.group_id = ? AND m.created_at >= ?
        GROUP BY m.user_id ORDER BY count DESC LIMIT ?;
    `
	if err := e.db.SelectContext(ctx, &rows, query, groupID, start, limit); err != nil {
		return nil, e.wrapErr("top talkers", err)
	}
	return rows, nil
}

// UserStats aggregates one sender's activity, optionally within one group.
// An unknown sender yields zero-valued results, not an error.
func (e *Engine) UserStats(ctx context.Context, userID int64, groupID *int64) (UserStats, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	stats := UserStats{UserID: userID}

	filter := "WHERE user_id = ?"
	args := []any{userID}
	if groupID != nil {
		filter += " AND group_id = ?"
		args = append(args, *groupID)
	}

	var totals struct {
		Total  int64   `db:"total"`
		AvgLen float64 `db:"avg_len"`
	}
	query := `SELECT COUNT(*) AS total, COALESCE(AVG(text_length), 0) AS avg_len FROM messages ` + filter
	if err := e.db.GetContext(ctx, &totals, query, args...); err != nil {
		return stats, e.wrapErr("user stats totals", err)
	}
	stats.TotalMessages = totals.Total
	stats.AvgMessageLength = totals.AvgLen

	query = `SELECT COUNT(DISTINCT date(created_at, 'unixepoch', 'localtime')) FROM messages ` + filter
	if err := e.db.GetContext(ctx, &stats.ActiveDays, query, args...); err != nil {
		return stats, e.wrapErr("user stats active days", err)
	}

	var hour int
	query = `SELECT hour_of_day FROM messages ` + filter +
		` GROUP BY hour_of_day ORDER BY COUNT(*) DESC LIMIT 1`
	err := e.db.GetContext(ctx, &hour, query, args...)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No messages at all; leave FavoriteHour zero.
	case err != nil:
		return stats, e.wrapErr("user stats favorite hour", err)
	default:
		stats.FavoriteHour = hour
	}

	if groupID != nil {
		rank, err := e.groupRank(ctx, *groupID, userID)
		if err != nil {
			return stats, err
		}
		stats.Rank = rank
	}
	return stats, nil
}

// GroupRank returns the sender's leaderboard rank within the group: one
// plus the number of distinct senders with a strictly greater message
// count. Equal counts share a rank. The scan over other senders is capped
// at MaxRankScan.
func (e *Engine) GroupRank(ctx context.Context, groupID, userID int64) (int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()
	return e.groupRank(ctx, groupID, userID)
}

func (e *Engine) groupRank(ctx context.Context, groupID, userID int64) (int, error) {
	var own int64
	query := `SELECT COUNT(*) FROM messages WHERE group_id = ? AND user_id = ?`
	if err := e.db.GetContext(ctx, &own, query, groupID, userID); err != nil {
		return 0, e.wrapErr("group rank own count", err)
	}

	var greater int
	query = `
        SELECT COUNT(*) FROM (
            SELECT user_id FROM messages
            WHERE group_id = ? AND user_id <> ?
            GROUP BY user_id
            HAVING COUNT(*) > ?
            LIMIT ?
        );
    `
	if err := e.db.GetContext(ctx, &greater, query, groupID, userID, own, e.cfg.MaxRankScan); err != nil {
		return 0, e.wrapErr("group rank", err)
	}
	return greater + 1, nil
}

// ComparePeriods counts the group's messages in two calendar-date ranges
// and returns the percentage change between them.
func (e *Engine) ComparePeriods(ctx context.Context, groupID int64, curStart, curEnd, prevStart, prevEnd time.Time) (PeriodComparison, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	current, err := e.countRange(ctx, groupID, curStart, curEnd)
	if err != nil {
		return PeriodComparison{}, err
	}
	previous, err := e.countRange(ctx, groupID, prevStart, prevEnd)
	if err != nil {
		return PeriodComparison{}, err
	}

	return PeriodComparison{
		CurrentCount:  current,
		PreviousCount: previous,
		ChangePercent: PercentChange(current, previous),
	}, nil
}

func (e *Engine) countRange(ctx context.Context, groupID int64, start, end time.Time) (int64, error) {
	from, to := DayRange(start, end)

	var count int64
	query := `SELECT COUNT(*) FROM messages WHERE group_id = ? AND created_at BETWEEN ? AND ?`
	if err := e.db.GetContext(ctx, &count, query, groupID, from, to); err != nil {
		return 0, e.wrapErr("period count", err)
	}
	return count, nil
}

// PercentChange computes ((current − previous) / previous) × 100. A growth
// from zero is defined as 100%; zero to zero is 0%.
func PercentChange(current, previous int64) float64 {
	switch {
	case previous > 0:
		return float64(current-previous) / float64(previous) * 100
	case current > 0:
		return 100
	default:
		return 0
	}
}

// DayRange converts a start/end calendar date pair to an inclusive
// local-time unix range: local midnight of the start day through 23:59:59
// of the end day.
func DayRange(start, end time.Time) (int64, int64) {
	start = start.Local()
	end = end.Local()
	from := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.Local)
	to := time.Date(end.Year(), end.Month(), end.Day(), 23, 59, 59, 0, time.Local)
	return from.Unix(), to.Unix()
}

// StorageStats returns the global storage aggregate. The value is cached
// for StatsCacheTTL; within the window all callers observe the identical
// cached value and the store is not queried. Concurrent cache misses are
// collapsed into a single computation.
func (e *Engine) StorageStats(ctx context.Context) (StorageStats, error) {
	e.statsMu.Lock()
	if time.Now().Before(e.statsExpires) {
		cached := e.statsValue
		e.statsMu.Unlock()
		return cached, nil
	}
	e.statsMu.Unlock()

	v, err, _ := e.statsGroup.Do("storage_stats", func() (any, error) {
		ctx, cancel := e.withTimeout(ctx)
		defer cancel()

		stats, err := e.fetchStorageStats(ctx)
		if err != nil {
			return StorageStats{}, err
		}

		e.statsMu.Lock()
		e.statsValue = stats
		e.statsExpires = time.Now().Add(e.cfg.StatsCacheTTL)
		e.statsMu.Unlock()
		return stats, nil
	})
	if err != nil {
		return StorageStats{}, err
	}
	return v.(StorageStats), nil
}

func (e *Engine) fetchStorageStats(ctx context.Context) (StorageStats, error) {
	var stats StorageStats
	counts := []struct {
		dest  *int64
		query string
	}{
		{&stats.TotalMessages, `SELECT COUNT(*) FROM messages`},
		{&stats.TotalKeywords, `SELECT COUNT(*) FROM keywords`},
		{&stats.TotalUsers, `SELECT COUNT(*) FROM users`},
		{&stats.GroupsTracked, `SELECT COUNT(DISTINCT group_id) FROM messages WHERE group_id IS NOT NULL`},
	}
	for _, c := range counts {
		if err := e.db.GetContext(ctx, c.dest, c.query); err != nil {
			return stats, e.wrapErr("storage stats", err)
		}
	}
	return stats, nil
}
