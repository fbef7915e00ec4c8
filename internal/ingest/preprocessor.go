// Package ingest is the entry point for inbound chat events. The
// preprocessor extracts and normalizes fields, computes derived time
// fields, offloads segmentation, and hands the resulting write unit to the
// batcher, falling back to a direct synchronous write under backpressure.
package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/edgard/chatstats/internal/batch"
	"github.com/edgard/chatstats/internal/config"
	"github.com/edgard/chatstats/internal/database"
	"github.com/edgard/chatstats/internal/policy"
	"github.com/edgard/chatstats/internal/segment"
)

// truncationMarker terminates clean text and raw payloads that exceeded
// their size caps.
const truncationMarker = "…"

// Event is one inbound message as delivered by the host. Text is the plain
// display text already extracted from the payload; RawJSON is the full
// serialized event.
type Event struct {
	MessageID      int64
	UserID         int64
	GroupID        *int64 // nil for private messages
	MsgType        string
	SubType        string
	RawJSON        string
	Text           string
	SenderNickname string
	SenderCard     string
	SenderRole     string
	Timestamp      int64 // unix seconds
}

// Preprocessor builds write units from inbound events.
type Preprocessor struct {
	policy  *policy.Store
	seg     *segment.Segmenter
	batcher *batch.Batcher
	store   database.Store
	cfg     config.IngestConfig
	logger  *slog.Logger
}

// New creates a preprocessor. The store is only used for the direct-write
// fallback when the batcher queue is saturated.
func New(
	pol *policy.Store,
	seg *segment.Segmenter,
	batcher *batch.Batcher,
	store database.Store,
	cfg config.IngestConfig,
	logger *slog.Logger,
) *Preprocessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preprocessor{
		policy:  pol,
		seg:     seg,
		batcher: batcher,
		store:   store,
		cfg:     cfg,
		logger:  logger.With("component", "ingest"),
	}
}

// Process handles one inbound event. A policy-denied event is silently
// skipped and is not an error. Process never blocks on batched storage: it
// returns once the unit is enqueued, or once the direct-write fallback has
// committed.
func (p *Preprocessor) Process(ctx context.Context, ev Event) error {
	snap := p.policy.Snapshot()
	if !snap.ShouldRecord(ev.GroupID) {
		p.logger.DebugContext(ctx, "Recording denied by policy",
			"user_id", ev.UserID, "private", ev.GroupID == nil)
		return nil
	}

	unit, err := p.buildUnit(ctx, ev, snap.Tokenizer)
	if err != nil {
		return err
	}

	if p.batcher.TryEnqueue(unit) {
		return nil
	}

	// Backpressure: the queue is full, so persist synchronously with the
	// exact same field values the batched path would have written.
	p.logger.WarnContext(ctx, "Write queue saturated, falling back to direct write",
		"message_id", ev.MessageID)
	if err := p.store.CommitUnits(ctx, []database.Unit{unit}); err != nil {
		return fmt.Errorf("direct write fallback failed: %w", err)
	}
	return nil
}

// buildUnit extracts fields, derives time columns, truncates oversized
// payloads, detects feature flags, and runs segmentation.
func (p *Preprocessor) buildUnit(ctx context.Context, ev Event, tok policy.TokenizerSnapshot) (database.Unit, error) {
	local := time.Unix(ev.Timestamp, 0).Local()

	cleanText := truncateRunes(ev.Text, p.cfg.MaxTextLength)
	rawJSON := truncateRunes(ev.RawJSON, p.cfg.MaxRawLength)

	// Presence probes against the serialized payload. These can false-
	// positive when the literal substring appears in user-authored text;
	// kept as-is for parity with previously recorded data.
	hasImage := strings.Contains(ev.RawJSON, `"type":"image"`)
	hasAt := strings.Contains(ev.RawJSON, `"type":"at"`)
	isReply := strings.Contains(ev.RawJSON, `"type":"reply"`)

	msg := database.Message{
		MessageID:      ev.MessageID,
		UserID:         ev.UserID,
		GroupID:        nullInt64(ev.GroupID),
		MsgType:        ev.MsgType,
		SubType:        nullString(ev.SubType),
		RawJSON:        rawJSON,
		CleanText:      cleanText,
		TextLength:     utf8.RuneCountInString(cleanText),
		HasImage:       hasImage,
		HasAt:          hasAt,
		IsReply:        isReply,
		SenderNickname: ev.SenderNickname,
		SenderCard:     nullString(ev.SenderCard),
		SenderRole:     nullString(ev.SenderRole),
		CreatedAt:      ev.Timestamp,
		HourOfDay:      local.Hour(),
		DayOfWeek:      int(local.Weekday()),
	}

	tokens, err := p.seg.Tokens(ctx, cleanText, tok)
	if err != nil {
		return database.Unit{}, fmt.Errorf("segmentation failed: %w", err)
	}

	keywords := make([]database.Keyword, 0, len(tokens))
	for _, t := range tokens {
		keywords = append(keywords, database.Keyword{
			Word:       t.Word,
			WordLength: t.Length,
			GroupID:    msg.GroupID,
			UserID:     ev.UserID,
			CreatedAt:  ev.Timestamp,
		})
	}

	return database.Unit{Message: msg, Keywords: keywords}, nil
}

// truncateRunes caps s at max runes, appending the truncation marker when
// anything was cut. The result never exceeds max runes.
func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	runes := []rune(s)
	return string(runes[:max-utf8.RuneCountInString(truncationMarker)]) + truncationMarker
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
