package chat

import (
	"context"
	"fmt"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/tools"
	"github.com/banterhq/banter/internal/transcript"
)

// StreamEvent is a progress notification delivered to the Send callback.
// Type is one of "delta", "tool_start", "tool_result", "tool_error".
type StreamEvent struct {
	Type    string
	Content string
	Tool    string
}

// Callback receives engine progress while a turn runs. It is invoked from
// the calling goroutine, in order.
type Callback func(evt StreamEvent)

// SessionStore persists committed messages. The engine commits a message
// exactly once, after it is sealed.
type SessionStore interface {
	AppendMessage(ctx context.Context, sessionID string, msg transcript.Message) error
	Touch(ctx context.Context, sessionID string, updatedAt int64) error
}

// ToolDispatcher executes a named tool and reports whether it is known.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, input map[string]any) tools.Result
	Definitions() []provider.ToolDefinition
}

// Options tunes a turn engine.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Temperature  *float64
	// MaxToolRounds bounds how many model turns a single Send may take.
	// Zero means the default of 16.
	MaxToolRounds int
	// FallbackField names a tool-input field the provider may default from
	// the user's last utterance when the model omits it.
	FallbackField string
}

const defaultMaxToolRounds = 16

// Engine runs complete turns against one session. Turns are sequential: a
// Send does not return until its tool rounds are finished or the context is
// cancelled, and the caller must not overlap Sends on one session.
type Engine struct {
	client     provider.Client
	dispatcher ToolDispatcher
	store      SessionStore
	opts       Options
	log        *logging.Logger
}

// NewEngine wires a turn engine. store may be nil for memory-only sessions,
// dispatcher may be nil when no tools are configured.
func NewEngine(client provider.Client, dispatcher ToolDispatcher, store SessionStore, opts Options, log *logging.Logger) *Engine {
	if opts.MaxToolRounds <= 0 {
		opts.MaxToolRounds = defaultMaxToolRounds
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Engine{
		client:     client,
		dispatcher: dispatcher,
		store:      store,
		opts:       opts,
		log:        log.Sub("chat"),
	}
}

// Send appends the user's text to the session, streams the assistant's
// reply, and runs requested tools until the model stops asking for them.
// Session contents are updated in place; every committed message is also
// written through to the store before Send returns it to the caller.
func (e *Engine) Send(ctx context.Context, session *transcript.Session, text string, cb Callback) error {
	if cb == nil {
		cb = func(StreamEvent) {}
	}

	tr := Transcript{Messages: session.Messages}
	tr, err := AppendUser(tr, text)
	if err != nil {
		return err
	}
	if err := e.commit(ctx, session, tr); err != nil {
		return err
	}

	for round := 0; round < e.opts.MaxToolRounds; round++ {
		tr, err = e.streamTurn(ctx, session, tr, text, cb)
		if err != nil {
			return err
		}

		pending := PendingToolUses(tr)
		if len(pending) == 0 {
			return nil
		}

		// The turn that requested these tools. Results landing after the
		// session has moved on are discarded, not committed.
		originID := lastAssistantID(tr)

		for _, use := range pending {
			cb(StreamEvent{Type: "tool_start", Tool: use.Name})
			res, ok := e.dispatchOne(ctx, use)
			if !ok {
				return ctx.Err()
			}
			if lastAssistantID(tr) != originID {
				e.log.Warn().Str("tool", use.Name).Str("origin", originID).Msg("discarding stale tool result")
				continue
			}
			tr, err = AppendToolResult(tr, use.ToolUseID, res.Content)
			if err != nil {
				return err
			}
			if err := e.commit(ctx, session, tr); err != nil {
				return err
			}
			kind := "tool_result"
			if res.IsError {
				kind = "tool_error"
			}
			cb(StreamEvent{Type: kind, Tool: use.Name, Content: blocksText(res.Content)})
		}
	}
	return fmt.Errorf("chat: turn exceeded %d tool rounds", e.opts.MaxToolRounds)
}

// streamTurn runs one model call and folds its events into the transcript.
func (e *Engine) streamTurn(ctx context.Context, session *transcript.Session, tr Transcript, lastUser string, cb Callback) (Transcript, error) {
	req := provider.Request{
		System:        e.opts.SystemPrompt,
		Messages:      toProviderMessages(tr.Messages),
		MaxTokens:     e.opts.MaxTokens,
		Temperature:   e.opts.Temperature,
		FallbackField: e.opts.FallbackField,
		FallbackValue: lastUser,
	}
	if e.dispatcher != nil {
		req.Tools = e.dispatcher.Definitions()
	}

	events, err := e.client.Stream(ctx, req)
	if err != nil {
		return tr, fmt.Errorf("starting stream: %w", err)
	}

	tr = BeginTurn(tr)
	for evt := range events {
		next, err := Apply(tr, evt)
		if err != nil {
			// The reducer already dropped the partial message; drain the
			// channel so the producer goroutine can exit.
			for range events {
			}
			return next, err
		}
		tr = next
		if evt.Type == provider.EventTextDelta {
			cb(StreamEvent{Type: "delta", Content: evt.Content})
		}
		if !tr.TurnOpen {
			break
		}
	}
	if tr.TurnOpen {
		// Channel closed without a stop event: the caller cancelled.
		tr.Messages = tr.Messages[:len(tr.Messages)-1]
		tr.TurnOpen = false
		if ctx.Err() != nil {
			return tr, ctx.Err()
		}
		return tr, &provider.Error{Category: provider.CategoryFailure}
	}
	return tr, e.commit(ctx, session, tr)
}

// dispatchOne runs a tool call without letting cancellation tear it down
// mid-flight. On cancellation the call keeps running in the background and
// its eventual result is dropped; ok is false and the caller unwinds.
func (e *Engine) dispatchOne(ctx context.Context, use transcript.ToolUseBlock) (tools.Result, bool) {
	resCh := make(chan tools.Result, 1)
	go func() {
		resCh <- e.dispatcher.Dispatch(context.WithoutCancel(ctx), use.Name, use.Input)
	}()
	select {
	case res := <-resCh:
		return res, true
	case <-ctx.Done():
		return tools.Result{}, false
	}
}

// commit syncs the session with the transcript and persists any messages
// the session has not seen yet.
func (e *Engine) commit(ctx context.Context, session *transcript.Session, tr Transcript) error {
	have := len(session.Messages)
	end := len(tr.Messages)
	if tr.TurnOpen {
		end-- // the streaming placeholder is not committed
	}
	for i := have; i < end; i++ {
		msg := tr.Messages[i]
		session.Messages = append(session.Messages, msg)
		session.UpdatedAt = transcript.Now()
		if e.store != nil {
			if err := e.store.AppendMessage(ctx, session.ID, msg); err != nil {
				return fmt.Errorf("persisting message: %w", err)
			}
			if err := e.store.Touch(ctx, session.ID, session.UpdatedAt); err != nil {
				return fmt.Errorf("touching session: %w", err)
			}
		}
	}
	return nil
}

func lastAssistantID(tr Transcript) string {
	for i := len(tr.Messages) - 1; i >= 0; i-- {
		if tr.Messages[i].Role == transcript.RoleAssistant {
			return tr.Messages[i].ID
		}
	}
	return ""
}

func blocksText(blocks []transcript.Block) string {
	out := ""
	for _, blk := range blocks {
		if tb, ok := blk.(transcript.TextBlock); ok {
			if out != "" {
				out += "\n"
			}
			out += tb.Text
		}
	}
	return out
}

// toProviderMessages converts transcript messages to the provider wire
// shape. Tool-role messages travel as user messages carrying tool_result
// blocks, and embedded resources are summarized to text since the provider
// does not accept them.
func toProviderMessages(msgs []transcript.Message) []provider.Message {
	out := make([]provider.Message, 0, len(msgs))
	for _, msg := range msgs {
		role := string(msg.Role)
		if msg.Role == transcript.RoleTool {
			role = string(transcript.RoleUser)
		}
		content := make([]any, 0, len(msg.Content))
		for _, blk := range msg.Content {
			if c := blockToWire(blk); c != nil {
				content = append(content, c)
			}
		}
		if len(content) == 0 {
			continue
		}
		out = append(out, provider.Message{Role: role, Content: content})
	}
	return out
}

func blockToWire(blk transcript.Block) any {
	switch b := blk.(type) {
	case transcript.TextBlock:
		return map[string]any{"type": "text", "text": b.Text}
	case transcript.ToolUseBlock:
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		return map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.Name, "input": input}
	case transcript.ToolResultBlock:
		inner := make([]any, 0, len(b.Content))
		for _, c := range b.Content {
			switch cb := c.(type) {
			case transcript.TextBlock:
				inner = append(inner, map[string]any{"type": "text", "text": cb.Text})
			case transcript.ResourceBlock:
				text := ""
				if cb.Resource.Text != nil {
					text = *cb.Resource.Text
				}
				inner = append(inner, map[string]any{
					"type": "text",
					"text": fmt.Sprintf("[resource %s] %s", cb.Resource.URI, text),
				})
			}
		}
		return map[string]any{"type": "tool_result", "tool_use_id": b.ToolUseID, "content": inner}
	default:
		return nil
	}
}
