package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/tools"
	"github.com/banterhq/banter/internal/transcript"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	results map[string]tools.Result
	block   chan struct{} // when set, Dispatch waits on it
	calls   []string
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, name string, input map[string]any) tools.Result {
	f.mu.Lock()
	f.calls = append(f.calls, name)
	block := f.block
	res, ok := f.results[name]
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if !ok {
		return tools.Result{
			Content: []transcript.Block{transcript.TextBlock{Text: "Error: unknown tool"}},
			IsError: true,
		}
	}
	return res
}

func (f *fakeDispatcher) Definitions() []provider.ToolDefinition {
	return []provider.ToolDefinition{{Name: "lookup", Description: "test tool"}}
}

type memStore struct {
	mu       sync.Mutex
	appended []transcript.Message
	touched  int
}

func (s *memStore) AppendMessage(ctx context.Context, sessionID string, msg transcript.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appended = append(s.appended, msg)
	return nil
}

func (s *memStore) Touch(ctx context.Context, sessionID string, updatedAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched++
	return nil
}

func newTestEngine(client provider.Client, disp ToolDispatcher, store SessionStore) *Engine {
	return NewEngine(client, disp, store, Options{MaxTokens: 1024}, logging.Nop())
}

func TestSendPlainTextTurn(t *testing.T) {
	mock := &provider.MockClient{Turns: [][]provider.Event{{
		delta("Hel"), delta("lo"), stop(),
	}}}
	eng := newTestEngine(mock, nil, nil)

	session := transcript.NewSession("test")
	var got []StreamEvent
	err := eng.Send(context.Background(), &session, "hi", func(evt StreamEvent) {
		got = append(got, evt)
	})
	require.NoError(t, err)

	require.Len(t, session.Messages, 2)
	assert.Equal(t, transcript.RoleUser, session.Messages[0].Role)
	assert.Equal(t, "hi", session.Messages[0].LastText())
	assert.Equal(t, transcript.RoleAssistant, session.Messages[1].Role)
	assert.Equal(t, "Hello", session.Messages[1].LastText())

	require.Len(t, got, 2)
	assert.Equal(t, "delta", got[0].Type)
	assert.Equal(t, "Hel", got[0].Content)
}

func TestSendRunsToolRoundAndFeedsResultBack(t *testing.T) {
	mock := &provider.MockClient{Turns: [][]provider.Event{
		{toolUse("tu_1", "lookup", map[string]any{"query": "weather"}), stop()},
		{delta("Sunny."), stop()},
	}}
	disp := &fakeDispatcher{results: map[string]tools.Result{
		"lookup": {Content: []transcript.Block{transcript.TextBlock{Text: "72F and clear"}}},
	}}
	store := &memStore{}
	eng := newTestEngine(mock, disp, store)

	session := transcript.NewSession("test")
	var kinds []string
	err := eng.Send(context.Background(), &session, "weather?", func(evt StreamEvent) {
		kinds = append(kinds, evt.Type)
	})
	require.NoError(t, err)

	// user, assistant(tool_use), tool, assistant(text)
	require.Len(t, session.Messages, 4)
	assert.Equal(t, transcript.RoleTool, session.Messages[2].Role)
	result := session.Messages[2].Content[0].(transcript.ToolResultBlock)
	assert.Equal(t, "tu_1", result.ToolUseID)
	assert.Equal(t, "Sunny.", session.Messages[3].LastText())

	assert.Equal(t, []string{"lookup"}, disp.calls)
	assert.Contains(t, kinds, "tool_start")
	assert.Contains(t, kinds, "tool_result")

	// The second model call sees the tool result.
	require.Len(t, mock.Requests, 2)
	second := mock.Requests[1].Messages
	last := second[len(second)-1]
	assert.Equal(t, "user", last.Role)
	wire := last.Content[0].(map[string]any)
	assert.Equal(t, "tool_result", wire["type"])
	assert.Equal(t, "tu_1", wire["tool_use_id"])

	// Every committed message was written through.
	assert.Len(t, store.appended, 4)
}

func TestSendToolFailureStillAnswersTheModel(t *testing.T) {
	mock := &provider.MockClient{Turns: [][]provider.Event{
		{toolUse("tu_1", "broken", nil), stop()},
		{delta("Could not check."), stop()},
	}}
	disp := &fakeDispatcher{results: map[string]tools.Result{}}
	eng := newTestEngine(mock, disp, nil)

	session := transcript.NewSession("test")
	var errEvents int
	err := eng.Send(context.Background(), &session, "go", func(evt StreamEvent) {
		if evt.Type == "tool_error" {
			errEvents++
		}
	})
	require.NoError(t, err)

	require.Len(t, session.Messages, 4)
	result := session.Messages[2].Content[0].(transcript.ToolResultBlock)
	text := result.Content[0].(transcript.TextBlock).Text
	assert.Contains(t, text, "Error")
	assert.Equal(t, 1, errEvents)
}

func TestSendSurfacesStreamErrorWithoutPartialMessage(t *testing.T) {
	mock := &provider.MockClient{Turns: [][]provider.Event{{
		delta("partial ans"),
		{Type: provider.EventError, Err: &provider.Error{Category: provider.CategoryRateLimited}},
	}}}
	eng := newTestEngine(mock, nil, nil)

	session := transcript.NewSession("test")
	err := eng.Send(context.Background(), &session, "hi", nil)
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CategoryRateLimited, perr.Category)

	// Only the user message survives; the partial assistant text is gone.
	require.Len(t, session.Messages, 1)
	assert.Equal(t, transcript.RoleUser, session.Messages[0].Role)
}

func TestSendTreatsSilentCloseAsFailure(t *testing.T) {
	mock := &provider.MockClient{StreamFunc: func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
		ch := make(chan provider.Event, 1)
		ch <- delta("cut off")
		close(ch)
		return ch, nil
	}}
	eng := newTestEngine(mock, nil, nil)

	session := transcript.NewSession("test")
	err := eng.Send(context.Background(), &session, "hi", nil)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CategoryFailure, perr.Category)
	assert.Len(t, session.Messages, 1)
}

func TestSendCancellationAbandonsInFlightTool(t *testing.T) {
	mock := &provider.MockClient{Turns: [][]provider.Event{
		{toolUse("tu_1", "lookup", nil), stop()},
	}}
	release := make(chan struct{})
	disp := &fakeDispatcher{
		results: map[string]tools.Result{
			"lookup": {Content: []transcript.Block{transcript.TextBlock{Text: "too late"}}},
		},
		block: release,
	}
	eng := newTestEngine(mock, disp, nil)

	ctx, cancel := context.WithCancel(context.Background())
	session := transcript.NewSession("test")

	done := make(chan error, 1)
	go func() {
		done <- eng.Send(ctx, &session, "go", nil)
	}()

	// Let the dispatch start, then cancel while the tool hangs.
	require.Eventually(t, func() bool {
		disp.mu.Lock()
		defer disp.mu.Unlock()
		return len(disp.calls) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	close(release)

	// The late result was discarded, not committed.
	time.Sleep(20 * time.Millisecond)
	for _, msg := range session.Messages {
		assert.NotEqual(t, transcript.RoleTool, msg.Role)
	}
}

func TestSendBoundsToolRounds(t *testing.T) {
	// The model asks for a tool on every turn, forever.
	call := 0
	mock := &provider.MockClient{StreamFunc: func(ctx context.Context, req provider.Request) (<-chan provider.Event, error) {
		call++
		ch := make(chan provider.Event, 2)
		ch <- toolUse(uuidLike(call), "lookup", nil)
		ch <- stop()
		close(ch)
		return ch, nil
	}}
	disp := &fakeDispatcher{results: map[string]tools.Result{
		"lookup": {Content: []transcript.Block{transcript.TextBlock{Text: "again"}}},
	}}
	eng := NewEngine(mock, disp, nil, Options{MaxToolRounds: 3}, logging.Nop())

	session := transcript.NewSession("test")
	err := eng.Send(context.Background(), &session, "go", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool rounds")
	assert.Equal(t, 3, call)
}

func uuidLike(n int) string {
	return string(rune('a'+n)) + "_id"
}
