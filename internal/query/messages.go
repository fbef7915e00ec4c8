package query

import (
	"context"

	"github.com/edgard/chatstats/internal/database"
)

// SearchMessages returns the group's most recent messages whose clean text
// contains the keyword, capped at limit.
func (e *Engine) SearchMessages(ctx context.Context, groupID int64, keyword string, limit int) ([]database.Message, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	limit = e.clampLimit(limit)

	var rows []database.Message
	query := `
        SELECT * FROM messages
        WHERE group_id = ? AND clean_text LIKE ?
        ORDER BY created_at DESC LIMIT ?;
    `
	if err := e.db.SelectContext(ctx, &rows, query, groupID, "%"+keyword+"%", limit); err != nil {
		return nil, e.wrapErr("search messages", err)
	}
	return rows, nil
}

// UserMessages returns a sender's most recent messages, optionally within
// one group, capped at limit.
func (e *Engine) UserMessages(ctx context.Context, userID int64, groupID *int64, limit int) ([]database.Message, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	limit = e.clampLimit(limit)

	query := `SELECT * FROM messages WHERE user_id = ?`
	args := []any{userID}
	if groupID != nil {
		query += " AND group_id = ?"
		args = append(args, *groupID)
	}
	query += " ORDER BY created_at DESC LIMIT ?;"
	args = append(args, limit)

	var rows []database.Message
	if err := e.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, e.wrapErr("user messages", err)
	}
	return rows, nil
}

// UserGroupActivity returns a sender's message counts across all recorded
// groups, descending.
func (e *Engine) UserGroupActivity(ctx context.Context, userID int64) ([]GroupActivity, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var rows []GroupActivity
	query := `
        SELECT group_id, COUNT(*) AS count FROM messages
        WHERE user_id = ? AND group_id IS NOT NULL
        GROUP BY group_id ORDER BY count DESC;
    `
	if err := e.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, e.wrapErr("user group activity", err)
	}
	return rows, nil
}
