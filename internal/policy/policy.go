// Package policy holds the mutable recording and tokenizer policy. Live
// state is guarded by a short-lived read/write lock; all consumers copy an
// immutable Snapshot out before doing anything that can block, so no lock is
// ever held across a suspension point.
package policy

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/edgard/chatstats/internal/config"
)

// Mode selects how group recording decisions are made.
type Mode string

const (
	// ModeWhitelist records only groups on the whitelist.
	ModeWhitelist Mode = "whitelist"
	// ModeBlacklist records every group except those on the blacklist.
	ModeBlacklist Mode = "blacklist"
)

// Saver persists the current group lists. It is called synchronously, under
// no lock, after every successful mutation.
type Saver func(groups config.GroupLists) error

// Store is the live policy state.
type Store struct {
	mu sync.RWMutex

	mode          Mode
	recordPrivate bool
	admins        map[int64]struct{}
	whitelist     []int64
	blacklist     []int64

	tokenizerEnabled bool
	minWordLength    int
	stopWordSet      map[string]struct{}

	save   Saver
	logger *slog.Logger
}

// NewStore builds the policy store from loaded configuration. The saver may
// be nil when persistence is not wanted (tests).
func NewStore(rec config.RecordingConfig, tok config.TokenizerConfig, save Saver, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	admins := make(map[int64]struct{}, len(rec.Admins))
	for _, id := range rec.Admins {
		admins[id] = struct{}{}
	}

	stopSet := make(map[string]struct{}, len(tok.StopWords))
	for _, w := range tok.StopWords {
		stopSet[w] = struct{}{}
	}

	return &Store{
		mode:             Mode(rec.Mode),
		recordPrivate:    rec.RecordPrivate,
		admins:           admins,
		whitelist:        slices.Clone(rec.Groups.Whitelist),
		blacklist:        slices.Clone(rec.Groups.Blacklist),
		tokenizerEnabled: tok.Enabled,
		minWordLength:    tok.MinWordLength,
		stopWordSet:      stopSet,
		save:             save,
		logger:           logger.With("component", "policy"),
	}
}

// Snapshot is an immutable copy of the policy, safe to use across blocking
// operations because it owns all of its data.
type Snapshot struct {
	Mode          Mode
	RecordPrivate bool
	Admins        map[int64]struct{}
	Whitelist     []int64
	Blacklist     []int64
	Tokenizer     TokenizerSnapshot
}

// TokenizerSnapshot is the tokenizer sub-view handed to the segmentation
// pipeline.
type TokenizerSnapshot struct {
	Enabled       bool
	MinWordLength int
	StopWords     map[string]struct{}
}

// IsStopWord reports whether the token is on the stop-word list.
func (t TokenizerSnapshot) IsStopWord(word string) bool {
	_, ok := t.StopWords[word]
	return ok
}

// Snapshot copies the current policy under a brief read lock.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	admins := make(map[int64]struct{}, len(s.admins))
	for id := range s.admins {
		admins[id] = struct{}{}
	}
	stop := make(map[string]struct{}, len(s.stopWordSet))
	for w := range s.stopWordSet {
		stop[w] = struct{}{}
	}

	return Snapshot{
		Mode:          s.mode,
		RecordPrivate: s.recordPrivate,
		Admins:        admins,
		Whitelist:     slices.Clone(s.whitelist),
		Blacklist:     slices.Clone(s.blacklist),
		Tokenizer: TokenizerSnapshot{
			Enabled:       s.tokenizerEnabled,
			MinWordLength: s.minWordLength,
			StopWords:     stop,
		},
	}
}

// ShouldRecord reports whether a message should be recorded. A nil group id
// means a private message.
func (sn Snapshot) ShouldRecord(groupID *int64) bool {
	if groupID == nil {
		return sn.RecordPrivate
	}
	switch sn.Mode {
	case ModeWhitelist:
		return slices.Contains(sn.Whitelist, *groupID)
	case ModeBlacklist:
		return !slices.Contains(sn.Blacklist, *groupID)
	default:
		return false
	}
}

// IsAdmin reports whether the sender may issue policy mutations.
func (sn Snapshot) IsAdmin(userID int64) bool {
	_, ok := sn.Admins[userID]
	return ok
}

// EnableGroup turns on recording for a group. Returns whether the call
// changed state; the change is persisted synchronously before returning.
func (s *Store) EnableGroup(groupID int64) (bool, error) {
	s.mu.Lock()
	var changed bool
	switch s.mode {
	case ModeWhitelist:
		if !slices.Contains(s.whitelist, groupID) {
			s.whitelist = append(s.whitelist, groupID)
			changed = true
		}
	case ModeBlacklist:
		if i := slices.Index(s.blacklist, groupID); i >= 0 {
			s.blacklist = slices.Delete(s.blacklist, i, i+1)
			changed = true
		}
	}
	groups := config.GroupLists{
		Whitelist: slices.Clone(s.whitelist),
		Blacklist: slices.Clone(s.blacklist),
	}
	s.mu.Unlock()

	if !changed {
		return false, nil
	}
	if err := s.persist(groups); err != nil {
		return true, err
	}
	s.logger.Info("Group recording enabled", "group_id", groupID)
	return true, nil
}

// DisableGroup turns off recording for a group. Returns whether the call
// changed state; the change is persisted synchronously before returning.
func (s *Store) DisableGroup(groupID int64) (bool, error) {
	s.mu.Lock()
	var changed bool
	switch s.mode {
	case ModeWhitelist:
		if i := slices.Index(s.whitelist, groupID); i >= 0 {
			s.whitelist = slices.Delete(s.whitelist, i, i+1)
			changed = true
		}
	case ModeBlacklist:
		if !slices.Contains(s.blacklist, groupID) {
			s.blacklist = append(s.blacklist, groupID)
			changed = true
		}
	}
	groups := config.GroupLists{
		Whitelist: slices.Clone(s.whitelist),
		Blacklist: slices.Clone(s.blacklist),
	}
	s.mu.Unlock()

	if !changed {
		return false, nil
	}
	if err := s.persist(groups); err != nil {
		return true, err
	}
	s.logger.Info("Group recording disabled", "group_id", groupID)
	return true, nil
}

func (s *Store) persist(groups config.GroupLists) error {
	if s.save == nil {
		return nil
	}
	if err := s.save(groups); err != nil {
		return fmt.Errorf("failed to persist policy change: %w", err)
	}
	return nil
}
