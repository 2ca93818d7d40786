package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Header is a single message header, kept in the order the server sent it.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// CachedMessage is one mirrored remote message.
type CachedMessage struct {
	MessageID    string
	ThreadID     string
	Headers      []Header
	LabelIDs     []string
	Snippet      string
	InternalDate int64 // ms since epoch, remote receipt time
	// SyncedHistoryID is the remote history ID at which the row was last
	// written. Diagnostic only.
	SyncedHistoryID *uint64
}

// Header returns the first header value matching name, case-insensitively.
func (m *CachedMessage) Header(name string) string {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// HasLabel reports whether the message carries the label ID (case-insensitive).
func (m *CachedMessage) HasLabel(id string) bool {
	for _, l := range m.LabelIDs {
		if strings.EqualFold(l, id) {
			return true
		}
	}
	return false
}

// Thread is a conversation view over cached messages.
type Thread struct {
	ThreadID string
	// LastActivity is the newest InternalDate among Messages.
	LastActivity int64
	// Messages are ordered oldest first.
	Messages []CachedMessage
}

type messageRow struct {
	MessageID       string         `db:"message_id"`
	ThreadID        string         `db:"thread_id"`
	HeadersJSON     string         `db:"headers_json"`
	LabelIDsJSON    string         `db:"label_ids_json"`
	Snippet         sql.NullString `db:"snippet"`
	InternalDate    int64          `db:"internal_date"`
	SyncedHistoryID sql.NullInt64  `db:"synced_history_id"`
}

const messageColumns = `message_id, thread_id, headers_json, label_ids_json, snippet, internal_date, synced_history_id`

const upsertMessageSQL = `
	INSERT INTO messages (` + messageColumns + `)
	VALUES (:message_id, :thread_id, :headers_json, :label_ids_json, :snippet, :internal_date, :synced_history_id)
	ON CONFLICT(message_id) DO UPDATE SET
		thread_id = excluded.thread_id,
		headers_json = excluded.headers_json,
		label_ids_json = excluded.label_ids_json,
		snippet = excluded.snippet,
		internal_date = excluded.internal_date,
		synced_history_id = excluded.synced_history_id`

func toRow(m *CachedMessage) (*messageRow, error) {
	headers := m.Headers
	if headers == nil {
		headers = []Header{}
	}
	labelIDs := m.LabelIDs
	if labelIDs == nil {
		labelIDs = []string{}
	}
	hj, err := json.Marshal(headers)
	if err != nil {
		return nil, err
	}
	lj, err := json.Marshal(labelIDs)
	if err != nil {
		return nil, err
	}
	row := &messageRow{
		MessageID:    m.MessageID,
		ThreadID:     m.ThreadID,
		HeadersJSON:  string(hj),
		LabelIDsJSON: string(lj),
		Snippet:      sql.NullString{String: m.Snippet, Valid: m.Snippet != ""},
		InternalDate: m.InternalDate,
	}
	if m.SyncedHistoryID != nil {
		row.SyncedHistoryID = sql.NullInt64{Int64: int64(*m.SyncedHistoryID), Valid: true}
	}
	return row, nil
}

// fromRow decodes a row. Malformed JSON blobs decode as empty so one bad
// row never hides the rest of the cache.
func fromRow(r *messageRow) CachedMessage {
	m := CachedMessage{
		MessageID:    r.MessageID,
		ThreadID:     r.ThreadID,
		Snippet:      r.Snippet.String,
		InternalDate: r.InternalDate,
		Headers:      []Header{},
		LabelIDs:     []string{},
	}
	_ = json.Unmarshal([]byte(r.HeadersJSON), &m.Headers)
	_ = json.Unmarshal([]byte(r.LabelIDsJSON), &m.LabelIDs)
	if m.Headers == nil {
		m.Headers = []Header{}
	}
	if m.LabelIDs == nil {
		m.LabelIDs = []string{}
	}
	if r.SyncedHistoryID.Valid {
		v := uint64(r.SyncedHistoryID.Int64)
		m.SyncedHistoryID = &v
	}
	return m
}

// UpsertMessage inserts msg or fully replaces the existing row with the same
// MessageID.
func (s *Store) UpsertMessage(msg *CachedMessage) error {
	if msg.MessageID == "" {
		return cacheErr("upsert message", errors.New("empty message id"))
	}
	row, err := toRow(msg)
	if err != nil {
		return cacheErr("upsert message", err)
	}
	_, err = s.db.NamedExec(upsertMessageSQL, row)
	return cacheErr("upsert message", err)
}

// UpsertMessages upserts msgs in a single transaction.
func (s *Store) UpsertMessages(msgs []*CachedMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	err := s.withTx(func(tx *sqlx.Tx) error {
		stmt, err := tx.PrepareNamed(upsertMessageSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, msg := range msgs {
			if msg.MessageID == "" {
				return errors.New("empty message id")
			}
			row, err := toRow(msg)
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(row); err != nil {
				return err
			}
		}
		return nil
	})
	return cacheErr("upsert messages", err)
}

// DeleteMessage removes the row for id. Deleting an absent row is a no-op.
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE message_id = ?`, id)
	return cacheErr("delete message", err)
}

// GetMessage returns the cached row for id, or nil if absent.
func (s *Store) GetMessage(id string) (*CachedMessage, error) {
	var row messageRow
	err := s.db.Get(&row, `SELECT `+messageColumns+` FROM messages WHERE message_id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, cacheErr("get message", err)
	}
	m := fromRow(&row)
	return &m, nil
}

// LoadAllMessages returns every cached message, newest InternalDate first.
func (s *Store) LoadAllMessages() ([]CachedMessage, error) {
	var rows []messageRow
	err := s.db.Select(&rows, `SELECT `+messageColumns+` FROM messages ORDER BY internal_date DESC, message_id ASC`)
	if err != nil {
		return nil, cacheErr("load messages", err)
	}
	out := make([]CachedMessage, len(rows))
	for i := range rows {
		out[i] = fromRow(&rows[i])
	}
	return out, nil
}

// LoadThreadsSorted groups cached messages by thread. Threads are ordered by
// last activity, newest first; messages within a thread oldest first.
func (s *Store) LoadThreadsSorted() ([]Thread, error) {
	var rows []struct {
		messageRow
		LastActivity int64 `db:"last_activity"`
	}
	err := s.db.Select(&rows, `
		SELECT m.message_id, m.thread_id, m.headers_json, m.label_ids_json, m.snippet,
		       m.internal_date, m.synced_history_id, t.last_activity
		FROM messages m
		JOIN (
			SELECT thread_id, MAX(internal_date) AS last_activity
			FROM messages
			GROUP BY thread_id
		) t ON t.thread_id = m.thread_id
		ORDER BY t.last_activity DESC, m.thread_id ASC, m.internal_date ASC, m.message_id ASC`)
	if err != nil {
		return nil, cacheErr("load threads", err)
	}

	var threads []Thread
	for i := range rows {
		r := &rows[i]
		if n := len(threads); n == 0 || threads[n-1].ThreadID != r.ThreadID {
			threads = append(threads, Thread{ThreadID: r.ThreadID, LastActivity: r.LastActivity})
		}
		t := &threads[len(threads)-1]
		t.Messages = append(t.Messages, fromRow(&r.messageRow))
	}
	return threads, nil
}

// ClearAllMessages deletes every cached message.
func (s *Store) ClearAllMessages() error {
	_, err := s.db.Exec(`DELETE FROM messages`)
	return cacheErr("clear messages", err)
}

// CountMessages returns the number of cached messages.
func (s *Store) CountMessages() (int64, error) {
	var n int64
	err := s.db.Get(&n, `SELECT COUNT(*) FROM messages`)
	return n, cacheErr("count messages", err)
}

// GetMeta returns the value stored under key. ok is false if absent.
func (s *Store) GetMeta(key string) (value string, ok bool, err error) {
	err = s.db.Get(&value, `SELECT value FROM meta WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, cacheErr("get meta", err)
	}
	return value, true, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return cacheErr("set meta", err)
}

// DeleteMeta removes key. Removing an absent key is a no-op.
func (s *Store) DeleteMeta(key string) error {
	_, err := s.db.Exec(`DELETE FROM meta WHERE key = ?`, key)
	return cacheErr("delete meta", err)
}
