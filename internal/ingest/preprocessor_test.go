package ingest_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/edgard/chatstats/internal/batch"
	"github.com/edgard/chatstats/internal/config"
	"github.com/edgard/chatstats/internal/database"
	"github.com/edgard/chatstats/internal/ingest"
	"github.com/edgard/chatstats/internal/policy"
	"github.com/edgard/chatstats/internal/segment"
)

// recordingStore captures every committed unit.
type recordingStore struct {
	mu    sync.Mutex
	units []database.Unit
}

func (r *recordingStore) Ping(context.Context) error           { return nil }
func (r *recordingStore) RunMaintenance(context.Context) error { return nil }
func (r *recordingStore) GetUser(context.Context, int64) (*database.User, error) {
	return nil, nil
}

func (r *recordingStore) CommitUnits(_ context.Context, units []database.Unit) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.units = append(r.units, units...)
	return nil
}

func (r *recordingStore) committed() []database.Unit {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]database.Unit, len(r.units))
	copy(out, r.units)
	return out
}

var (
	sharedSeg     *segment.Segmenter
	sharedSegOnce sync.Once
	sharedSegErr  error
)

// testSegmenter shares one dictionary load across the package's tests.
func testSegmenter(t *testing.T) *segment.Segmenter {
	t.Helper()
	sharedSegOnce.Do(func() {
		sharedSeg, sharedSegErr = segment.New(2, nil)
	})
	if sharedSegErr != nil {
		t.Fatalf("failed to create segmenter: %v", sharedSegErr)
	}
	return sharedSeg
}

func recordingPolicy() *policy.Store {
	return policy.NewStore(config.RecordingConfig{
		Mode:   "whitelist",
		Groups: config.GroupLists{Whitelist: []int64{100}},
	}, config.TokenizerConfig{
		Enabled:       true,
		MinWordLength: 2,
		StopWords:     []string{"的"},
	}, nil, nil)
}

func ingestConfig() config.IngestConfig {
	return config.IngestConfig{
		MaxTextLength:  4096,
		MaxRawLength:   16384,
		SegmentWorkers: 2,
	}
}

// newPipeline wires a preprocessor to a running batcher that flushes every
// unit immediately into the recording store.
func newPipeline(t *testing.T, cfg config.IngestConfig) (*ingest.Preprocessor, *recordingStore) {
	t.Helper()

	store := &recordingStore{}
	b := batch.New(store, batch.Config{
		Size: 1, FlushInterval: 10 * time.Millisecond, QueueSize: 16, MaxFlushRetries: 3,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = b.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return ingest.New(recordingPolicy(), testSegmenter(t), b, store, cfg, nil), store
}

func waitForUnits(t *testing.T, store *recordingStore, n int) []database.Unit {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if units := store.committed(); len(units) >= n {
			return units
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d committed units before deadline", n)
	return nil
}

func groupEvent(messageID int64, text string) ingest.Event {
	group := int64(100)
	return ingest.Event{
		MessageID:      messageID,
		UserID:         42,
		GroupID:        &group,
		MsgType:        "group",
		RawJSON:        `{"message":[{"type":"text","data":{"text":"` + text + `"}}]}`,
		Text:           text,
		SenderNickname: "alice",
		Timestamp:      time.Now().Unix(),
	}
}

func TestProcessSkipsDeniedEvents(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t, ingestConfig())

	unlisted := int64(999)
	ev := groupEvent(1, "今天天气真好")
	ev.GroupID = &unlisted

	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process must not error on a denied event: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if n := len(store.committed()); n != 0 {
		t.Errorf("denied event produced %d committed units, want 0", n)
	}
}

func TestProcessDerivesFields(t *testing.T) {
	t.Parallel()

	p, store := newPipeline(t, ingestConfig())

	ts := time.Date(2026, 3, 4, 15, 30, 0, 0, time.Local).Unix()
	ev := groupEvent(7, "今天天气真好")
	ev.Timestamp = ts
	ev.SubType = "normal"
	ev.SenderCard = "card"
	ev.SenderRole = "member"

	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	units := waitForUnits(t, store, 1)
	msg := units[0].Message

	local := time.Unix(ts, 0).Local()
	if msg.HourOfDay != local.Hour() {
		t.Errorf("hour_of_day = %d, want %d", msg.HourOfDay, local.Hour())
	}
	if msg.DayOfWeek != int(local.Weekday()) {
		t.Errorf("day_of_week = %d, want %d", msg.DayOfWeek, int(local.Weekday()))
	}
	if msg.TextLength != utf8.RuneCountInString("今天天气真好") {
		t.Errorf("text_length = %d, want %d", msg.TextLength, utf8.RuneCountInString("今天天气真好"))
	}
	if !msg.GroupID.Valid || msg.GroupID.Int64 != 100 {
		t.Errorf("group_id = %+v, want valid 100", msg.GroupID)
	}
	if !msg.SubType.Valid || msg.SubType.String != "normal" {
		t.Errorf("sub_type = %+v, want valid %q", msg.SubType, "normal")
	}
	if len(units[0].Keywords) == 0 {
		t.Error("expected segmentation to produce keywords")
	}
	for _, kw := range units[0].Keywords {
		if kw.CreatedAt != ts {
			t.Errorf("keyword %q created_at = %d, want %d", kw.Word, kw.CreatedAt, ts)
		}
		if !kw.GroupID.Valid || kw.GroupID.Int64 != 100 {
			t.Errorf("keyword %q group_id = %+v, want valid 100", kw.Word, kw.GroupID)
		}
	}
}

func TestProcessTruncatesOversizedText(t *testing.T) {
	t.Parallel()

	cfg := ingestConfig()
	cfg.MaxTextLength = 10
	p, store := newPipeline(t, cfg)

	ev := groupEvent(8, strings.Repeat("长", 50))
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	msg := waitForUnits(t, store, 1)[0].Message
	if got := utf8.RuneCountInString(msg.CleanText); got != 10 {
		t.Errorf("clean_text has %d runes, want exactly 10", got)
	}
	if !strings.HasSuffix(msg.CleanText, "…") {
		t.Errorf("truncated text %q must end with the marker", msg.CleanText)
	}
	if msg.TextLength != 10 {
		t.Errorf("text_length = %d, want truncated length 10", msg.TextLength)
	}
}

func TestProcessDetectsFeatureFlags(t *testing.T) {
	t.Parallel()

	cfg := ingestConfig()
	cfg.MaxRawLength = 40
	p, store := newPipeline(t, cfg)

	// The image segment sits past the raw truncation point; flags are
	// probed against the full payload.
	ev := groupEvent(9, "看图")
	ev.RawJSON = `{"message":[{"type":"at","data":{"qq":"1"}},` +
		strings.Repeat(" ", 40) + `{"type":"image","data":{}}]}`

	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	msg := waitForUnits(t, store, 1)[0].Message
	if !msg.HasAt {
		t.Error("has_at should be set")
	}
	if !msg.HasImage {
		t.Error("has_image should be set even when the segment was truncated away")
	}
	if msg.IsReply {
		t.Error("is_reply should not be set")
	}
	if got := utf8.RuneCountInString(msg.RawJSON); got > 40 {
		t.Errorf("raw_json has %d runes, want at most 40", got)
	}
}

func TestProcessFallsBackOnFullQueue(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	// Batcher is never started and its queue holds one unit, so every
	// enqueue is refused.
	b := batch.New(store, batch.Config{
		Size: 100, FlushInterval: time.Hour, QueueSize: 1, MaxFlushRetries: 3,
	}, nil)
	b.TryEnqueue(database.Unit{})

	p := ingest.New(recordingPolicy(), testSegmenter(t), b, store, ingestConfig(), nil)

	ev := groupEvent(10, "今天天气真好")
	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	units := store.committed()
	if len(units) != 1 {
		t.Fatalf("expected 1 synchronously committed unit, got %d", len(units))
	}
	msg := units[0].Message
	if msg.MessageID != 10 {
		t.Errorf("message_id = %d, want 10", msg.MessageID)
	}
	// The fallback path carries the same derived fields as the batched one.
	local := time.Unix(ev.Timestamp, 0).Local()
	if msg.HourOfDay != local.Hour() || msg.DayOfWeek != int(local.Weekday()) {
		t.Errorf("derived time fields (%d, %d) differ from expected (%d, %d)",
			msg.HourOfDay, msg.DayOfWeek, local.Hour(), int(local.Weekday()))
	}
	if len(units[0].Keywords) == 0 {
		t.Error("fallback path must still run segmentation")
	}
}

func TestProcessPrivateMessage(t *testing.T) {
	t.Parallel()

	store := &recordingStore{}
	b := batch.New(store, batch.Config{
		Size: 100, FlushInterval: time.Hour, QueueSize: 1, MaxFlushRetries: 3,
	}, nil)
	b.TryEnqueue(database.Unit{}) // force the direct path for inspection

	pol := policy.NewStore(config.RecordingConfig{
		Mode:          "whitelist",
		RecordPrivate: true,
	}, config.TokenizerConfig{Enabled: true, MinWordLength: 2}, nil, nil)
	p := ingest.New(pol, testSegmenter(t), b, store, ingestConfig(), nil)

	ev := groupEvent(11, "你好")
	ev.GroupID = nil
	ev.MsgType = "private"

	if err := p.Process(context.Background(), ev); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	units := store.committed()
	if len(units) != 1 {
		t.Fatalf("expected 1 committed unit, got %d", len(units))
	}
	if units[0].Message.GroupID.Valid {
		t.Errorf("private message group_id = %+v, want NULL", units[0].Message.GroupID)
	}
}
