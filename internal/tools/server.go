// Package tools executes tool invocations against external MCP tool servers
// and converts their results into transcript content blocks. Failures are
// isolated per call: dispatch never panics or returns an error to the
// conversation loop.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/version"
)

// ServerConn is one connected MCP tool server (stdio subprocess or SSE).
type ServerConn struct {
	name   string
	client *client.Client
	log    *logging.Logger

	mu       sync.Mutex
	progress map[string]chan struct{}
}

// ServerSpec describes how to reach a tool server. Command starts a stdio
// subprocess; URL connects over SSE. Exactly one should be set.
type ServerSpec struct {
	Name    string
	Command string
	Args    []string
	Env     []string
	URL     string
}

// Connect dials a tool server and completes the MCP handshake.
func Connect(ctx context.Context, spec ServerSpec, log *logging.Logger) (*ServerConn, error) {
	var (
		c   *client.Client
		err error
	)
	if spec.URL != "" {
		c, err = client.NewSSEMCPClient(spec.URL)
	} else {
		c, err = client.NewStdioMCPClient(spec.Command, spec.Env, spec.Args...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating client for %s: %w", spec.Name, err)
	}

	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting client for %s: %w", spec.Name, err)
	}

	_, err = c.Initialize(ctx, mcp.InitializeRequest{
		Params: mcp.InitializeParams{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			Capabilities:    mcp.ClientCapabilities{},
			ClientInfo: mcp.Implementation{
				Name:    "banter",
				Version: version.Version,
			},
		},
	})
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initializing %s: %w", spec.Name, err)
	}

	s := &ServerConn{
		name:     spec.Name,
		client:   c,
		log:      log.Sub("tools." + spec.Name),
		progress: make(map[string]chan struct{}),
	}
	c.OnNotification(s.handleNotification)

	s.log.Info().Msg("tool server connected")
	return s, nil
}

// Name returns the configured server name.
func (s *ServerConn) Name() string { return s.name }

// Close shuts the connection down.
func (s *ServerConn) Close() error {
	return s.client.Close()
}

// Tools fetches the server's tool catalog.
func (s *ServerConn) Tools(ctx context.Context) ([]provider.ToolDefinition, error) {
	result, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("listing tools on %s: %w", s.name, err)
	}

	defs := make([]provider.ToolDefinition, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema := t.RawInputSchema
		if len(schema) == 0 {
			if data, err := json.Marshal(t.InputSchema); err == nil {
				schema = data
			}
		}
		defs = append(defs, provider.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: json.RawMessage(schema),
		})
	}
	return defs, nil
}

// CallTool proxies a tool invocation to the server.
func (s *ServerConn) CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.client.CallTool(ctx, req)
}

// SubscribeProgress returns a channel that ticks whenever the server reports
// progress for the given token, plus a cancel func releasing the
// subscription.
func (s *ServerConn) SubscribeProgress(token string) (<-chan struct{}, func()) {
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

func (s *ServerConn) handleNotification(n mcp.JSONRPCNotification) {
	if n.Method != "notifications/progress" {
		return
	}
	token := progressToken(n.Params.AdditionalFields["progressToken"])
	if token == "" {
		return
	}

	s.mu.Lock()
	ch, ok := s.progress[token]
	s.mu.Unlock()
	if !ok {
		return
	}

	select {
	case ch <- struct{}{}:
	default:
		// A pending tick already extends the window.
	}
}

// progressToken normalizes the token, which arrives as a string or a number
// depending on the server's JSON encoder.
func progressToken(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case json.Number:
		return t.String()
	default:
		return ""
	}
}
