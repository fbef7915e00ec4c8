package database

import "database/sql"

// Message is one row in the messages table. A message is immutable after
// insert; hour_of_day and day_of_week are derived once at ingestion so
// aggregate queries never repeat the date arithmetic.
type Message struct {
	ID             int64          `db:"id"`
	MessageID      int64          `db:"message_id"`
	UserID         int64          `db:"user_id"`
	GroupID        sql.NullInt64  `db:"group_id"` // NULL for private messages
	MsgType        string         `db:"msg_type"`
	SubType        sql.NullString `db:"sub_type"`
	RawJSON        string         `db:"raw_json"`
	CleanText      string         `db:"clean_text"`
	TextLength     int            `db:"text_length"`
	HasImage       bool           `db:"has_image"`
	HasAt          bool           `db:"has_at"`
	IsReply        bool           `db:"is_reply"`
	SenderNickname string         `db:"sender_nickname"`
	SenderCard     sql.NullString `db:"sender_card"`
	SenderRole     sql.NullString `db:"sender_role"`
	CreatedAt      int64          `db:"created_at"`
	HourOfDay      int            `db:"hour_of_day"`
	DayOfWeek      int            `db:"day_of_week"` // 0 = Sunday
}

// Keyword is one token that survived segmentation for a message. Group and
// user IDs are denormalized so keyword aggregates never join messages.
type Keyword struct {
	ID         int64         `db:"id"`
	MessageID  int64         `db:"message_id"`
	Word       string        `db:"word"`
	WordLength int           `db:"word_length"`
	GroupID    sql.NullInt64 `db:"group_id"`
	UserID     int64         `db:"user_id"`
	CreatedAt  int64         `db:"created_at"`
}

// User is one row per distinct sender ever seen. Nickname, last_seen, and
// message_count are updated in the same transaction as each message insert.
type User struct {
	UserID       int64  `db:"user_id"`
	Nickname     string `db:"nickname"`
	FirstSeen    int64  `db:"first_seen"`
	LastSeen     int64  `db:"last_seen"`
	MessageCount int64  `db:"message_count"`
}

// Unit is one pending write: a message plus the keywords that survived
// segmentation for it. Keyword MessageID values are unset until the message
// insert assigns the row id inside the commit transaction. The user upsert
// is implied by the message's sender fields.
type Unit struct {
	Message  Message
	Keywords []Keyword
}
