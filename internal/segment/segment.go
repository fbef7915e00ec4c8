// Package segment turns message text into deduplicated keyword tokens using
// dictionary-based Chinese word segmentation. Segmentation is CPU-bound, so
// all cuts run through a bounded worker pool to keep them off the I/O path.
package segment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/go-ego/gse"
	"golang.org/x/sync/semaphore"

	"github.com/edgard/chatstats/internal/policy"
)

// maxWordLength is the fixed upper cap on token length in runes. Tokens
// longer than this are noise (URLs, pasted blobs) rather than words.
const maxWordLength = 32

// Token is one surviving keyword candidate.
type Token struct {
	Word   string
	Length int // rune count
}

// Segmenter wraps a loaded gse dictionary behind a concurrency limit.
type Segmenter struct {
	seg    gse.Segmenter
	pool   *semaphore.Weighted
	logger *slog.Logger
}

// New loads the default dictionary and creates a segmenter allowing at most
// workers concurrent cuts.
func New(workers int, logger *slog.Logger) (*Segmenter, error) {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	var seg gse.Segmenter
	if err := seg.LoadDict(); err != nil {
		return nil, fmt.Errorf("failed to load segmentation dictionary: %w", err)
	}

	return &Segmenter{
		seg:    seg,
		pool:   semaphore.NewWeighted(int64(workers)),
		logger: logger.With("component", "segment"),
	}, nil
}

// Tokens segments text under the given tokenizer policy and returns the
// deduplicated set of surviving tokens in first-occurrence order. Each
// distinct token appears at most once per message regardless of repetition:
// keyword rows record presence, not frequency. A disabled tokenizer or blank
// text yields an empty set.
func (s *Segmenter) Tokens(ctx context.Context, text string, pol policy.TokenizerSnapshot) ([]Token, error) {
	if !pol.Enabled || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	if err := s.pool.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire segmentation worker: %w", err)
	}
	defer s.pool.Release(1)

	words := s.seg.Cut(text, true)

	seen := make(map[string]struct{}, len(words))
	tokens := make([]Token, 0, len(words))
	for _, w := range words {
		word := strings.TrimSpace(w)
		if word == "" {
			continue
		}
		length := utf8.RuneCountInString(word)
		if length < pol.MinWordLength || length > maxWordLength {
			continue
		}
		if pol.IsStopWord(strings.ToLower(word)) || pol.IsStopWord(word) {
			continue
		}
		if _, dup := seen[word]; dup {
			continue
		}
		seen[word] = struct{}{}
		tokens = append(tokens, Token{Word: word, Length: length})
	}

	return tokens, nil
}
