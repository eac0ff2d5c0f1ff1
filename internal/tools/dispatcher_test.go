package tools

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/transcript"
)

// fakeServer is a scriptable toolServer.
type fakeServer struct {
	mu       sync.Mutex
	callFunc func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	progress map[string]chan struct{}
	calls    []mcp.CallToolRequest
}

func newFakeServer(f func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)) *fakeServer {
	return &fakeServer{callFunc: f, progress: make(map[string]chan struct{})}
}

func (s *fakeServer) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	s.mu.Unlock()
	return s.callFunc(ctx, req)
}

func (s *fakeServer) SubscribeProgress(token string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.progress[token] = ch
	s.mu.Unlock()
	return ch, func() {
		s.mu.Lock()
		delete(s.progress, token)
		s.mu.Unlock()
	}
}

// tick sends a progress signal for the only active subscription.
func (s *fakeServer) tick() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.progress {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func lookupDef() []provider.ToolDefinition {
	return []provider.ToolDefinition{{Name: "lookup", Description: "finds things", InputSchema: []byte(`{"type":"object"}`)}}
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.TextContent{Type: "text", Text: text}}}
}

func newTestDispatcher(t *testing.T, opts Options, server toolServer, defs []provider.ToolDefinition) *Dispatcher {
	t.Helper()
	d := NewDispatcher(opts, logging.Nop())
	d.Register(server, defs)
	return d
}

func TestDispatchSuccess(t *testing.T) {
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("42"), nil
	})
	d := newTestDispatcher(t, Options{}, server, lookupDef())

	res := d.Dispatch(context.Background(), "lookup", map[string]any{"query": "answer"})
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)
	assert.Equal(t, transcript.TextBlock{Text: "42"}, res.Content[0])

	require.Len(t, server.calls, 1)
	assert.Equal(t, "lookup", server.calls[0].Params.Name)
}

func TestDispatchEmbeddableResource(t *testing.T) {
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: "here is your dashboard"},
			mcp.EmbeddedResource{Type: "resource", Resource: mcp.TextResourceContents{
				URI:      "ui://dashboard/main",
				MIMEType: "text/html",
				Text:     "<div>dash</div>",
			}},
		}}, nil
	})
	d := newTestDispatcher(t, Options{}, server, lookupDef())

	res := d.Dispatch(context.Background(), "lookup", nil)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 2)

	rb, ok := res.Content[1].(transcript.ResourceBlock)
	require.True(t, ok)
	assert.Equal(t, "ui://dashboard/main", rb.Resource.URI)
	assert.Equal(t, "text/html", rb.Resource.MimeType)
	require.NotNil(t, rb.Resource.Text)
	assert.Equal(t, "<div>dash</div>", *rb.Resource.Text)
}

func TestDispatchDowngradesOrdinaryResource(t *testing.T) {
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return &mcp.CallToolResult{Content: []mcp.Content{
			mcp.EmbeddedResource{Type: "resource", Resource: mcp.TextResourceContents{
				URI:      "https://example.com/report",
				MIMEType: "text/plain",
				Text:     "quarterly report",
			}},
		}}, nil
	})
	d := newTestDispatcher(t, Options{}, server, lookupDef())

	res := d.Dispatch(context.Background(), "lookup", nil)
	assert.False(t, res.IsError)
	require.Len(t, res.Content, 1)

	tb, ok := res.Content[0].(transcript.TextBlock)
	require.True(t, ok)
	assert.Contains(t, tb.Text, "https://example.com/report")
	assert.Contains(t, tb.Text, "quarterly report")
}

func TestDispatchFailureIsolation(t *testing.T) {
	failures := map[string]func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error){
		"transport error": func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, errors.New("connection refused")
		},
		"remote error result": func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return &mcp.CallToolResult{
				IsError: true,
				Content: []mcp.Content{mcp.TextContent{Type: "text", Text: "lookup exploded"}},
			}, nil
		},
		"nil result": func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			return nil, nil
		},
		"panic of unknown shape": func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			panic(struct{ weird int }{42})
		},
	}

	for name, f := range failures {
		t.Run(name, func(t *testing.T) {
			server := newFakeServer(f)
			d := newTestDispatcher(t, Options{}, server, lookupDef())

			res := d.Dispatch(context.Background(), "lookup", nil)
			assert.True(t, res.IsError)
			require.Len(t, res.Content, 1)
			tb, ok := res.Content[0].(transcript.TextBlock)
			require.True(t, ok)
			assert.Contains(t, tb.Text, "Error")

			// The dispatcher stays usable immediately afterwards.
			server.callFunc = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
				return textResult("recovered"), nil
			}
			res = d.Dispatch(context.Background(), "lookup", nil)
			assert.False(t, res.IsError)
		})
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	d := NewDispatcher(Options{}, logging.Nop())
	res := d.Dispatch(context.Background(), "nope", nil)
	assert.True(t, res.IsError)
	tb := res.Content[0].(transcript.TextBlock)
	assert.Contains(t, tb.Text, "Error")
	assert.Contains(t, tb.Text, "nope")
}

func TestDispatchTimeout(t *testing.T) {
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := newTestDispatcher(t, Options{Timeout: 30 * time.Millisecond}, server, lookupDef())

	start := time.Now()
	res := d.Dispatch(context.Background(), "lookup", nil)
	assert.True(t, res.IsError)
	tb := res.Content[0].(transcript.TextBlock)
	assert.Contains(t, tb.Text, "Error")
	assert.Contains(t, tb.Text, "timed out")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDispatchProgressExtendsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		select {
		case <-release:
			return textResult("finished"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	d := newTestDispatcher(t,
		Options{Timeout: 80 * time.Millisecond, ProgressExtends: map[string]bool{"lookup": true}},
		server, lookupDef())

	// Report progress every 30ms; the 80ms window keeps resetting, so the
	// call survives well past the raw timeout.
	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(30 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				server.tick()
			case <-stop:
				return
			}
		}
	}()

	go func() {
		time.Sleep(250 * time.Millisecond)
		close(release)
	}()

	res := d.Dispatch(context.Background(), "lookup", nil)
	close(stop)
	assert.False(t, res.IsError, "progress reports must extend the timeout window")
}

func TestDispatchProgressIgnoredWithoutOptIn(t *testing.T) {
	server := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	d := newTestDispatcher(t, Options{Timeout: 60 * time.Millisecond}, server, lookupDef())

	stop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(15 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				server.tick()
			case <-stop:
				return
			}
		}
	}()
	defer close(stop)

	res := d.Dispatch(context.Background(), "lookup", nil)
	assert.True(t, res.IsError, "tools without the opt-in run on a fixed window")
}

func TestDefinitionsAggregated(t *testing.T) {
	a := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("a"), nil
	})
	b := newFakeServer(func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return textResult("b"), nil
	})

	d := NewDispatcher(Options{}, logging.Nop())
	d.Register(a, []provider.ToolDefinition{{Name: "one"}, {Name: "two"}})
	d.Register(b, []provider.ToolDefinition{{Name: "three"}, {Name: "one"}}) // "one" collides

	defs := d.Definitions()
	names := make([]string, len(defs))
	for i, def := range defs {
		names[i] = def.Name
	}
	assert.Equal(t, []string{"one", "two", "three"}, names)
	assert.True(t, d.Has("three"))
	assert.False(t, d.Has("four"))

	// Colliding name stays bound to the first server.
	res := d.Dispatch(context.Background(), "one", nil)
	assert.Equal(t, transcript.TextBlock{Text: "a"}, res.Content[0])
}
