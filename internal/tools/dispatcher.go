package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/transcript"
)

// DefaultTimeout bounds a single tool invocation. It is long on purpose: a
// tool call may orchestrate a multi-step remote workflow.
const DefaultTimeout = 30 * time.Minute

// toolServer is the slice of ServerConn the dispatcher needs. Tests provide
// fakes.
type toolServer interface {
	CallTool(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
	SubscribeProgress(token string) (<-chan struct{}, func())
}

// Result is the outcome of one tool dispatch, already shaped as transcript
// content. Dispatch never fails: failures come back as IsError results whose
// text contains "Error".
type Result struct {
	Content []transcript.Block
	IsError bool
}

// Options tunes dispatcher behavior.
type Options struct {
	// Timeout for a single call. Zero means DefaultTimeout.
	Timeout time.Duration

	// ProgressExtends lists tools whose timeout window resets whenever the
	// server reports progress. Tools not listed run on a fixed window.
	ProgressExtends map[string]bool
}

// Dispatcher routes tool invocations to the server that advertised them.
type Dispatcher struct {
	log     *logging.Logger
	timeout time.Duration
	extends map[string]bool

	mu     sync.RWMutex
	byTool map[string]toolServer
	defs   []provider.ToolDefinition
}

// NewDispatcher creates an empty dispatcher. Servers are attached with
// Register.
func NewDispatcher(opts Options, log *logging.Logger) *Dispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	extends := opts.ProgressExtends
	if extends == nil {
		extends = map[string]bool{}
	}
	return &Dispatcher{
		log:     log.Sub("tools"),
		timeout: timeout,
		extends: extends,
		byTool:  make(map[string]toolServer),
	}
}

// Register binds a server's advertised tools to it. On a name collision the
// earlier registration wins.
func (d *Dispatcher) Register(server toolServer, defs []provider.ToolDefinition) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, def := range defs {
		if _, exists := d.byTool[def.Name]; exists {
			d.log.Warn().Str("tool", def.Name).Msg("duplicate tool name, keeping first registration")
			continue
		}
		d.byTool[def.Name] = server
		d.defs = append(d.defs, def)
	}
}

// Definitions returns the aggregated read-only tool catalog.
func (d *Dispatcher) Definitions() []provider.ToolDefinition {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]provider.ToolDefinition, len(d.defs))
	copy(out, d.defs)
	return out
}

// Has reports whether a tool is known.
func (d *Dispatcher) Has(name string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.byTool[name]
	return ok
}

// Dispatch executes one tool invocation. It never panics and never returns
// an error: any failure (unknown tool, transport failure, remote error,
// timeout, panic) becomes an IsError Result, and the session stays
// dispatch-capable.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, input map[string]any) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error().Any("panic", r).Str("tool", name).Msg("tool dispatch panicked")
			res = errorResult(fmt.Sprintf("Error: tool %q failed unexpectedly", name))
		}
	}()

	d.mu.RLock()
	server, ok := d.byTool[name]
	d.mu.RUnlock()
	if !ok {
		return errorResult(fmt.Sprintf("Error: unknown tool %q", name))
	}

	token := uuid.New().String()
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = input
	req.Params.Meta = &mcp.Meta{ProgressToken: mcp.ProgressToken(token)}

	callCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	progress, unsubscribe := server.SubscribeProgress(token)
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go d.watchdog(name, cancel, progress, done)

	start := time.Now()
	result, err := server.CallTool(callCtx, req)
	if err != nil {
		if context.Cause(callCtx) == errCallTimeout {
			d.log.Warn().Str("tool", name).Dur("after", time.Since(start)).Msg("tool call timed out")
			return errorResult(fmt.Sprintf("Error: tool %q timed out", name))
		}
		d.log.Warn().Err(err).Str("tool", name).Msg("tool call failed")
		return errorResult(fmt.Sprintf("Error: tool %q failed: %v", name, err))
	}

	d.log.Debug().Str("tool", name).Dur("duration", time.Since(start)).Msg("tool call completed")
	return d.convert(name, result)
}

var errCallTimeout = fmt.Errorf("tool call timeout")

// watchdog cancels the call when the timeout window elapses. Progress
// reports reset the window for tools configured with the
// progress-extends-timeout policy.
func (d *Dispatcher) watchdog(name string, cancel context.CancelCauseFunc, progress <-chan struct{}, done <-chan struct{}) {
	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			cancel(errCallTimeout)
			return
		case <-progress:
			if d.extends[name] {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(d.timeout)
			}
		case <-done:
			return
		}
	}
}

// convert shapes an MCP result into transcript blocks. Embeddable resources
// (reserved ui scheme) stay resources; anything else is downgraded to text.
func (d *Dispatcher) convert(name string, result *mcp.CallToolResult) Result {
	if result == nil {
		return errorResult(fmt.Sprintf("Error: tool %q returned no result", name))
	}

	var blocks []transcript.Block
	for _, c := range result.Content {
		switch v := c.(type) {
		case mcp.TextContent:
			blocks = append(blocks, transcript.TextBlock{Text: v.Text})
		case *mcp.TextContent:
			blocks = append(blocks, transcript.TextBlock{Text: v.Text})
		case mcp.EmbeddedResource:
			blocks = append(blocks, resourceToBlock(v.Resource))
		case *mcp.EmbeddedResource:
			blocks = append(blocks, resourceToBlock(v.Resource))
		default:
			// Unknown content kinds become their JSON rendering.
			if data, err := json.Marshal(v); err == nil {
				blocks = append(blocks, transcript.TextBlock{Text: string(data)})
			}
		}
	}

	if result.IsError {
		summary := textSummary(blocks)
		if summary == "" {
			summary = fmt.Sprintf("tool %q reported a failure", name)
		}
		return errorResult("Error: " + summary)
	}

	if len(blocks) == 0 {
		blocks = []transcript.Block{transcript.TextBlock{Text: ""}}
	}
	return Result{Content: blocks}
}

// resourceToBlock classifies one returned resource. Only the reserved ui
// scheme marks an embeddable interactive fragment; ordinary reference
// resources are summarized as text.
func resourceToBlock(rc mcp.ResourceContents) transcript.Block {
	res := transcript.UIResource{}
	switch v := rc.(type) {
	case mcp.TextResourceContents:
		res.URI = v.URI
		res.MimeType = v.MIMEType
		text := v.Text
		res.Text = &text
	case *mcp.TextResourceContents:
		res.URI = v.URI
		res.MimeType = v.MIMEType
		text := v.Text
		res.Text = &text
	case mcp.BlobResourceContents:
		res.URI = v.URI
		res.MimeType = v.MIMEType
		blob := v.Blob
		res.Blob = &blob
	case *mcp.BlobResourceContents:
		res.URI = v.URI
		res.MimeType = v.MIMEType
		blob := v.Blob
		res.Blob = &blob
	default:
		data, _ := json.Marshal(rc)
		return transcript.TextBlock{Text: string(data)}
	}

	if res.Embeddable() {
		return transcript.ResourceBlock{Resource: res}
	}
	return transcript.TextBlock{Text: summarizeResource(res)}
}

func summarizeResource(res transcript.UIResource) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[resource %s", res.URI)
	if res.MimeType != "" {
		fmt.Fprintf(&b, " (%s)", res.MimeType)
	}
	b.WriteString("]")
	if res.Text != nil && *res.Text != "" {
		b.WriteString(" ")
		b.WriteString(*res.Text)
	}
	return b.String()
}

func textSummary(blocks []transcript.Block) string {
	var parts []string
	for _, blk := range blocks {
		if t, ok := blk.(transcript.TextBlock); ok && t.Text != "" {
			parts = append(parts, t.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func errorResult(text string) Result {
	return Result{
		IsError: true,
		Content: []transcript.Block{transcript.TextBlock{Text: text}},
	}
}
