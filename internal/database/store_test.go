package database_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	"github.com/edgard/chatstats/internal/database"
)

// newTestDB opens a fresh migrated database in a temp directory.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()

	db, err := database.NewDB(filepath.Join(t.TempDir(), "test.db"), database.PoolConfig{
		MaxOpenConns: 1,
		MaxIdleConns: 1,
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func groupID(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: true}
}

func testUnit(messageID, userID int64, nickname string, ts int64, words ...string) database.Unit {
	keywords := make([]database.Keyword, 0, len(words))
	for _, w := range words {
		keywords = append(keywords, database.Keyword{
			Word:       w,
			WordLength: len([]rune(w)),
			GroupID:    groupID(100),
			UserID:     userID,
			CreatedAt:  ts,
		})
	}
	return database.Unit{
		Message: database.Message{
			MessageID:      messageID,
			UserID:         userID,
			GroupID:        groupID(100),
			MsgType:        "group",
			RawJSON:        `{"message":[]}`,
			CleanText:      "hello",
			TextLength:     5,
			SenderNickname: nickname,
			CreatedAt:      ts,
			HourOfDay:      12,
			DayOfWeek:      3,
		},
		Keywords: keywords,
	}
}

func TestCommitUnits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("assigns message ids to keywords", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		store := database.NewStore(db, nil)

		unit := testUnit(1, 42, "alice", 1700000000, "天气", "今天")
		if err := store.CommitUnits(ctx, []database.Unit{unit}); err != nil {
			t.Fatalf("CommitUnits failed: %v", err)
		}

		var keywords []database.Keyword
		if err := db.Select(&keywords, `SELECT * FROM keywords ORDER BY id`); err != nil {
			t.Fatalf("failed to read keywords: %v", err)
		}
		if len(keywords) != 2 {
			t.Fatalf("expected 2 keywords, got %d", len(keywords))
		}

		var msgID int64
		if err := db.Get(&msgID, `SELECT id FROM messages WHERE message_id = 1`); err != nil {
			t.Fatalf("failed to read message id: %v", err)
		}
		for _, kw := range keywords {
			if kw.MessageID != msgID {
				t.Errorf("keyword %q references message %d, want %d", kw.Word, kw.MessageID, msgID)
			}
		}
	})

	t.Run("upserts user and increments count", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		store := database.NewStore(db, nil)

		units := []database.Unit{
			testUnit(1, 42, "alice", 1700000000),
			testUnit(2, 42, "alice2", 1700000100),
			testUnit(3, 7, "bob", 1700000200),
		}
		if err := store.CommitUnits(ctx, units); err != nil {
			t.Fatalf("CommitUnits failed: %v", err)
		}

		user, err := store.GetUser(ctx, 42)
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if user == nil {
			t.Fatal("expected user 42 to exist")
		}
		if user.MessageCount != 2 {
			t.Errorf("message_count = %d, want 2", user.MessageCount)
		}
		if user.Nickname != "alice2" {
			t.Errorf("nickname = %q, want latest %q", user.Nickname, "alice2")
		}
		if user.FirstSeen != 1700000000 {
			t.Errorf("first_seen = %d, want 1700000000", user.FirstSeen)
		}
		if user.LastSeen != 1700000100 {
			t.Errorf("last_seen = %d, want 1700000100", user.LastSeen)
		}
	})

	t.Run("rolls back whole batch on failure", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		store := database.NewStore(db, nil)

		// Force the second unit's insert to fail mid-transaction.
		if _, err := db.Exec(`CREATE UNIQUE INDEX idx_test_unique_mid ON messages(message_id)`); err != nil {
			t.Fatalf("failed to create unique index: %v", err)
		}

		units := []database.Unit{
			testUnit(1, 42, "alice", 1700000000, "天气"),
			testUnit(1, 7, "bob", 1700000100, "今天"),
		}
		if err := store.CommitUnits(ctx, units); err == nil {
			t.Fatal("expected CommitUnits to fail on duplicate message_id")
		}

		for _, table := range []string{"messages", "keywords", "users"} {
			var count int
			if err := db.Get(&count, `SELECT COUNT(*) FROM `+table); err != nil {
				t.Fatalf("failed to count %s: %v", table, err)
			}
			if count != 0 {
				t.Errorf("%s has %d rows after rollback, want 0", table, count)
			}
		}
	})

	t.Run("empty batch is a no-op", func(t *testing.T) {
		t.Parallel()

		db := newTestDB(t)
		store := database.NewStore(db, nil)
		if err := store.CommitUnits(ctx, nil); err != nil {
			t.Fatalf("CommitUnits(nil) failed: %v", err)
		}
	})
}

func TestGetUserUnknown(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	store := database.NewStore(db, nil)

	user, err := store.GetUser(context.Background(), 999)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user != nil {
		t.Errorf("expected nil for unknown user, got %+v", user)
	}
}

func TestRunMaintenance(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	store := database.NewStore(db, nil)

	if err := store.CommitUnits(context.Background(), []database.Unit{testUnit(1, 42, "alice", 1700000000)}); err != nil {
		t.Fatalf("CommitUnits failed: %v", err)
	}
	if err := store.RunMaintenance(context.Background()); err != nil {
		t.Fatalf("RunMaintenance failed: %v", err)
	}
}
