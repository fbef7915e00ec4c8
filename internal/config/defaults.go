package config

import "time"

// defaultStopWords mirrors the stock stop-word list shipped with the
// recorder: common Chinese function words plus the placeholder markers the
// host substitutes for non-text segments.
var defaultStopWords = []string{
	"的", "了", "在", "是", "我", "你", "他", "她", "它",
	"有", "和", "与", "这", "那", "就", "也", "都", "而",
	"及", "着", "或", "一个", "没有", "不是", "什么", "怎么",
	"[图片]", "[表情]", "[语音]", "[视频]",
}

const (
	defaultDBPath          = "chatstats.db"
	defaultMaxOpenConns    = 4
	defaultMaxIdleConns    = 2
	defaultConnMaxLifetime = 5 * time.Minute

	defaultBatchSize       = 50
	defaultFlushInterval   = 2 * time.Second
	defaultQueueSize       = 1024
	defaultMaxFlushRetries = 3

	defaultQueryTimeout  = 5 * time.Second
	defaultMaxLimit      = 100
	defaultMaxDays       = 365
	defaultStatsCacheTTL = 30 * time.Second
	defaultMaxRankScan   = 10000

	defaultMaxTextLength  = 4096
	defaultMaxRawLength   = 16384
	defaultSegmentWorkers = 4

	defaultMinWordLength = 2

	defaultMaintenanceSchedule = "0 0 4 * * *"
)
