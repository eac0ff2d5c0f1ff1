package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/banterhq/banter/internal/transcript"
)

// ErrNotFound is returned when a session id does not exist.
var ErrNotFound = errors.New("store: session not found")

// SessionStore persists conversation sessions and their messages.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create inserts a new, empty session.
func (s *SessionStore) Create(ctx context.Context, sess transcript.Session) error {
	_, err := s.db.sql.ExecContext(ctx,
		`INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		sess.ID, sess.Title, sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// Get loads a session with its full message history. Stored messages pass
// back through the codec: a row that no longer decodes is a real error, not
// something to skip over.
func (s *SessionStore) Get(ctx context.Context, id string) (transcript.Session, error) {
	var sess transcript.Session
	err := s.db.sql.QueryRowContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.Session{}, ErrNotFound
	}
	if err != nil {
		return transcript.Session{}, fmt.Errorf("loading session: %w", err)
	}

	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT body FROM messages WHERE session_id = ? ORDER BY seq`, id,
	)
	if err != nil {
		return transcript.Session{}, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return transcript.Session{}, fmt.Errorf("scanning message: %w", err)
		}
		msg, err := transcript.DecodeMessage(body)
		if err != nil {
			return transcript.Session{}, fmt.Errorf("decoding message in session %s: %w", id, err)
		}
		sess.Messages = append(sess.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return transcript.Session{}, fmt.Errorf("iterating messages: %w", err)
	}
	return sess, nil
}

// List returns session summaries (no messages), most recently updated first.
func (s *SessionStore) List(ctx context.Context) ([]transcript.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx,
		`SELECT id, title, created_at, updated_at FROM sessions ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []transcript.Session
	for rows.Next() {
		var sess transcript.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Delete removes a session and, via cascade, its messages.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.sql.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Rename updates a session's title.
func (s *SessionStore) Rename(ctx context.Context, id, title string) error {
	res, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`,
		title, transcript.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("renaming session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage persists one sealed message. The message is validated by
// encoding it; an unencodable message never reaches disk.
func (s *SessionStore) AppendMessage(ctx context.Context, sessionID string, msg transcript.Message) error {
	body, err := transcript.EncodeMessage(msg)
	if err != nil {
		return fmt.Errorf("encoding message: %w", err)
	}
	_, err = s.db.sql.ExecContext(ctx,
		`INSERT INTO messages (id, session_id, role, body, plain_text, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		msg.ID, sessionID, string(msg.Role), string(body), plainText(msg), msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("appending message: %w", err)
	}
	return nil
}

// Touch bumps a session's updated timestamp.
func (s *SessionStore) Touch(ctx context.Context, sessionID string, updatedAt int64) error {
	_, err := s.db.sql.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, updatedAt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Search finds sessions whose message text matches the FTS query, most
// recently updated first.
func (s *SessionStore) Search(ctx context.Context, query string) ([]transcript.Session, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT DISTINCT s.id, s.title, s.created_at, s.updated_at
		FROM messages_fts f
		JOIN messages m ON m.seq = f.rowid
		JOIN sessions s ON s.id = m.session_id
		WHERE messages_fts MATCH ?
		ORDER BY s.updated_at DESC`,
		ftsQuote(query),
	)
	if err != nil {
		return nil, fmt.Errorf("searching sessions: %w", err)
	}
	defer rows.Close()

	var out []transcript.Session
	for rows.Next() {
		var sess transcript.Session
		if err := rows.Scan(&sess.ID, &sess.Title, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// plainText flattens a message's text blocks for indexing.
func plainText(msg transcript.Message) string {
	var parts []string
	for _, blk := range msg.Content {
		if tb, ok := blk.(transcript.TextBlock); ok {
			parts = append(parts, tb.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// ftsQuote wraps each term in quotes so user input cannot inject FTS5
// query syntax.
func ftsQuote(query string) string {
	terms := strings.Fields(query)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " ")
}
