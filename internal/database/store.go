package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/jmoiron/sqlx"
)

// Store is the write-side data access layer. All mutating operations accept
// a context for cancellation and commit atomically: a batch of units either
// lands completely or not at all.
type Store interface {
	// Ping checks the database connection.
	Ping(ctx context.Context) error

	// CommitUnits persists the given units in one transaction. For every
	// unit, in order: the sender's user row is upserted (insert, or update
	// nickname/last_seen and increment message_count by one), the message
	// is inserted, and its keywords are inserted referencing the newly
	// assigned message id. Any failure rolls back the whole batch.
	CommitUnits(ctx context.Context, units []Unit) error

	// GetUser retrieves a user row by sender id. Returns nil, nil when the
	// sender has never been seen.
	GetUser(ctx context.Context, userID int64) (*User, error)

	// RunMaintenance checkpoints the WAL, refreshes planner statistics,
	// and vacuums the database file.
	RunMaintenance(ctx context.Context) error
}

// sqlxStore implements Store on an sqlx connection pool.
type sqlxStore struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStore creates a Store backed by the given connection pool.
func NewStore(db *sqlx.DB, logger *slog.Logger) Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &sqlxStore{
		db:     db,
		logger: logger.With("component", "store"),
	}
}

func (s *sqlxStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

const upsertUserQuery = `
    INSERT INTO users (user_id, nickname, first_seen, last_seen, message_count)
    VALUES (?, ?, ?, ?, 1)
    ON CONFLICT(user_id) DO UPDATE SET
        nickname      = excluded.nickname,
        last_seen     = excluded.last_seen,
        message_count = message_count + 1;
`

const insertMessageQuery = `
    INSERT INTO messages (
        message_id, user_id, group_id, msg_type, sub_type, raw_json,
        clean_text, text_length, has_image, has_at, is_reply,
        sender_nickname, sender_card, sender_role,
        created_at, hour_of_day, day_of_week
    ) VALUES (
        :message_id, :user_id, :group_id, :msg_type, :sub_type, :raw_json,
        :clean_text, :text_length, :has_image, :has_at, :is_reply,
        :sender_nickname, :sender_card, :sender_role,
        :created_at, :hour_of_day, :day_of_week
    );
`

const insertKeywordQuery = `
    INSERT INTO keywords (message_id, word, word_length, group_id, user_id, created_at)
    VALUES (:message_id, :word, :word_length, :group_id, :user_id, :created_at);
`

// CommitUnits writes the batch inside one transaction.
func (s *sqlxStore) CommitUnits(ctx context.Context, units []Unit) error {
	if len(units) == 0 {
		return nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to begin batch transaction", "units", len(units), "error", err)
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if tx != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil {
				if !errors.Is(rollbackErr, sql.ErrTxDone) {
					s.logger.WarnContext(ctx, "Error rolling back batch transaction", "error", rollbackErr)
				}
			}
		}
	}()

	for i := range units {
		if err := s.commitUnit(ctx, tx, &units[i]); err != nil {
			return fmt.Errorf("unit %d (message %d): %w", i, units[i].Message.MessageID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		s.logger.ErrorContext(ctx, "Failed to commit batch transaction", "units", len(units), "error", err)
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	tx = nil

	s.logger.DebugContext(ctx, "Batch committed", "units", len(units))
	return nil
}

// commitUnit runs the three ordered writes for one unit inside tx.
func (s *sqlxStore) commitUnit(ctx context.Context, tx *sqlx.Tx, unit *Unit) error {
	msg := &unit.Message

	if _, err := tx.ExecContext(ctx, upsertUserQuery,
		msg.UserID, msg.SenderNickname, msg.CreatedAt, msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to upsert user %d: %w", msg.UserID, err)
	}

	result, err := tx.NamedExecContext(ctx, insertMessageQuery, msg)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read message insert id: %w", err)
	}
	msg.ID = id

	for j := range unit.Keywords {
		unit.Keywords[j].MessageID = id
		if _, err := tx.NamedExecContext(ctx, insertKeywordQuery, &unit.Keywords[j]); err != nil {
			return fmt.Errorf("failed to insert keyword %q: %w", unit.Keywords[j].Word, err)
		}
	}
	return nil
}

// GetUser retrieves a user row by sender id.
func (s *sqlxStore) GetUser(ctx context.Context, userID int64) (*User, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var user User
	query := `SELECT user_id, nickname, first_seen, last_seen, message_count
	          FROM users WHERE user_id = ?`

	err := s.db.GetContext(ctx, &user, query, userID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		s.logger.ErrorContext(ctx, "Error getting user", "user_id", userID, "error", err)
		return nil, fmt.Errorf("failed to get user %d: %w", userID, err)
	}
	return &user, nil
}

// RunMaintenance performs periodic database upkeep. VACUUM must run outside
// a transaction in SQLite.
func (s *sqlxStore) RunMaintenance(ctx context.Context) error {
	if ctx.Err() != nil {
		s.logger.WarnContext(ctx, "Context done before maintenance started", "error", ctx.Err())
		return ctx.Err()
	}

	s.logger.InfoContext(ctx, "Starting database maintenance")

	steps := []string{
		"PRAGMA wal_checkpoint(TRUNCATE);",
		"ANALYZE;",
		"VACUUM;",
	}
	for _, stmt := range steps {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				s.logger.WarnContext(ctx, "Maintenance step timed out or was cancelled", "stmt", stmt, "error", err)
				return fmt.Errorf("database maintenance timed out: %w", err)
			}
			s.logger.ErrorContext(ctx, "Maintenance step failed", "stmt", stmt, "error", err)
			return fmt.Errorf("failed to execute %q: %w", stmt, err)
		}
	}

	s.logger.InfoContext(ctx, "Database maintenance completed")
	return nil
}
