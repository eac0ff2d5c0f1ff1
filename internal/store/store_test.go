package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/transcript"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	log := logging.New(nil, "silent")
	db, err := Open(":memory:", log)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testStore(t *testing.T) *SessionStore {
	t.Helper()
	return NewSessionStore(testDB(t))
}

// --- DB/Migration tests ---

func TestOpen_InMemory(t *testing.T) {
	db := testDB(t)
	assert.NotNil(t, db)

	var fk int
	require.NoError(t, db.sql.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestMigrations_Applied(t *testing.T) {
	db := testDB(t)

	var count int
	err := db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestMigrations_Idempotent(t *testing.T) {
	db := testDB(t)

	// Running migrate again should be a no-op
	err := db.migrate()
	require.NoError(t, err)

	var count int
	err = db.sql.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, len(migrations), count)
}

func TestSchema_TablesExist(t *testing.T) {
	db := testDB(t)

	tables := []string{"sessions", "messages", "messages_fts"}
	for _, table := range tables {
		var name string
		err := db.sql.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?", table,
		).Scan(&name)
		require.NoError(t, err, "table %s should exist", table)
	}
}

// --- Session store tests ---

func TestSessionRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := transcript.NewSession("weather chat")
	require.NoError(t, s.Create(ctx, sess))

	user := transcript.NewUserMessage("what's the weather?")
	require.NoError(t, s.AppendMessage(ctx, sess.ID, user))

	asst := transcript.NewMessage(transcript.RoleAssistant)
	asst.Content = []transcript.Block{
		transcript.ToolUseBlock{ToolUseID: "tu_1", Name: "lookup", Input: map[string]any{"q": "weather"}},
	}
	require.NoError(t, s.AppendMessage(ctx, sess.ID, asst))

	text := "<p>Forecast</p>"
	tool := transcript.NewMessage(transcript.RoleTool)
	tool.Content = []transcript.Block{transcript.ToolResultBlock{
		ToolUseID: "tu_1",
		Content: []transcript.Block{
			transcript.TextBlock{Text: "72F"},
			transcript.ResourceBlock{Resource: transcript.UIResource{
				URI:      "ui://weather/card",
				MimeType: "text/html",
				Text:     &text,
			}},
		},
	}}
	require.NoError(t, s.AppendMessage(ctx, sess.ID, tool))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, "weather chat", got.Title)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, user, got.Messages[0])
	assert.Equal(t, asst, got.Messages[1])
	assert.Equal(t, tool, got.Messages[2])
}

func TestGetMissingSession(t *testing.T) {
	s := testStore(t)
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrdersByRecency(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := transcript.NewSession("first")
	b := transcript.NewSession("second")
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))

	require.NoError(t, s.Touch(ctx, a.ID, transcript.Now()+1000))

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, a.ID, list[0].ID)
	assert.Empty(t, list[0].Messages)
}

func TestDeleteCascadesToMessages(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := transcript.NewSession("doomed")
	require.NoError(t, s.Create(ctx, sess))
	require.NoError(t, s.AppendMessage(ctx, sess.ID, transcript.NewUserMessage("hello")))

	require.NoError(t, s.Delete(ctx, sess.ID))

	var count int
	err := s.db.sql.QueryRow("SELECT COUNT(*) FROM messages WHERE session_id = ?", sess.ID).Scan(&count)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.ErrorIs(t, s.Delete(ctx, sess.ID), ErrNotFound)
}

func TestRename(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := transcript.NewSession("old title")
	require.NoError(t, s.Create(ctx, sess))
	require.NoError(t, s.Rename(ctx, sess.ID, "new title"))

	got, err := s.Get(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "new title", got.Title)

	assert.ErrorIs(t, s.Rename(ctx, "nope", "x"), ErrNotFound)
}

func TestSearchFindsMessageText(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	a := transcript.NewSession("travel plans")
	b := transcript.NewSession("groceries")
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Create(ctx, b))
	require.NoError(t, s.AppendMessage(ctx, a.ID, transcript.NewUserMessage("flights to lisbon in march")))
	require.NoError(t, s.AppendMessage(ctx, b.ID, transcript.NewUserMessage("buy oat milk")))

	hits, err := s.Search(ctx, "lisbon")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].ID)

	// Query syntax in user input is quoted away, not executed.
	_, err = s.Search(ctx, `lisbon OR "NEAR(`)
	assert.NoError(t, err)
}

func TestGetSurfacesCorruptRows(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := transcript.NewSession("corrupt")
	require.NoError(t, s.Create(ctx, sess))

	// A row written outside the codec with an invalid role.
	_, err := s.db.sql.Exec(
		`INSERT INTO messages (id, session_id, role, body, plain_text, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		"m1", sess.ID, "system", `{"id":"m1","role":"system","content":[],"timestamp":1}`, "", 1,
	)
	require.NoError(t, err)

	_, err = s.Get(ctx, sess.ID)
	require.Error(t, err)
	var serr *transcript.SchemaError
	assert.ErrorAs(t, err, &serr)
}

func TestAppendRejectsUnencodableMessage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	sess := transcript.NewSession("bad append")
	require.NoError(t, s.Create(ctx, sess))

	msg := transcript.NewUserMessage("x")
	msg.Content = append(msg.Content, transcript.ToolUseBlock{
		ToolUseID: "tu_1",
		Name:      "lookup",
		Input:     map[string]any{"fn": func() {}},
	})
	err := s.AppendMessage(ctx, sess.ID, msg)
	require.Error(t, err)

	var count int
	require.NoError(t, s.db.sql.QueryRow("SELECT COUNT(*) FROM messages").Scan(&count))
	assert.Zero(t, count)
}
