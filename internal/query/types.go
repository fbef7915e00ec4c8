package query

// WordCount is one word-cloud entry.
type WordCount struct {
	Word  string `db:"word"`
	Count int64  `db:"count"`
}

// Heatmap is a fixed 7×24 grid of message counts indexed by
// [day_of_week][hour_of_day], day 0 = Sunday. Cells with no data are zero.
type Heatmap [7][24]int64

// TalkerStats is one leaderboard entry. Nickname falls back to the sender
// name snapshot stored on the messages when the user row has none.
type TalkerStats struct {
	UserID       int64  `db:"user_id"`
	Nickname     string `db:"nickname"`
	MessageCount int64  `db:"count"`
}

// UserStats aggregates a single sender's activity. Rank is zero when no
// group was given. FavoriteHour is the mode of hour_of_day; between
// equal-count hours the returned one is unspecified.
type UserStats struct {
	UserID           int64
	TotalMessages    int64
	AvgMessageLength float64
	ActiveDays       int64
	FavoriteHour     int
	Rank             int
}

// PeriodComparison holds the message counts of two ranges and the
// percentage change between them.
type PeriodComparison struct {
	CurrentCount  int64
	PreviousCount int64
	ChangePercent float64
}

// StorageStats is the global storage aggregate served from the TTL cache.
type StorageStats struct {
	TotalMessages int64
	TotalKeywords int64
	TotalUsers    int64
	GroupsTracked int64
}

// DailyCount is one day of the message trend, keyed by local calendar date
// (YYYY-MM-DD).
type DailyCount struct {
	Date  string `db:"date"`
	Count int64  `db:"count"`
}

// GroupActivity is a sender's message count within one group.
type GroupActivity struct {
	GroupID int64 `db:"group_id"`
	Count   int64 `db:"count"`
}
