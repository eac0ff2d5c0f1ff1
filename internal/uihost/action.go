// Package uihost renders embeddable tool resources in an isolated browser
// context and relays their actions back into the host over a fixed,
// versioned message channel. An embedded page can only ask for work through
// UIAction frames; it never calls host functions directly.
package uihost

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banterhq/banter/internal/logging"
	"github.com/banterhq/banter/internal/tools"
	"github.com/banterhq/banter/internal/transcript"
)

// Action types an embedded resource may raise. The set is closed; anything
// else is rejected with an error result.
const (
	ActionTool   = "tool"
	ActionPrompt = "prompt"
	ActionNotify = "notify"
	ActionLink   = "link"
	ActionIntent = "intent"
)

// Result statuses.
const (
	StatusHandled   = "handled"
	StatusUnhandled = "unhandled"
	StatusError     = "error"
)

// UIAction is a request raised by an embedded resource.
type UIAction struct {
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	MessageID string         `json:"messageId,omitempty"`
}

// ActionResult is the host's answer to a UIAction.
type ActionResult struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler processes one action type. Returned errors are converted to
// error-status results by the embedder; handlers never abort the host.
type Handler func(ctx context.Context, action UIAction) (ActionResult, error)

// ToolDispatcher is the slice of tools.Dispatcher the embedder needs.
type ToolDispatcher interface {
	Dispatch(ctx context.Context, name string, input map[string]any) tools.Result
}

// Embedder routes UIActions to registered handlers. Built-in routing covers
// tool (via the dispatcher), notify and link (via host callbacks), and
// prompt (via the host's input callback); intent is unhandled unless the
// host registers something.
type Embedder struct {
	handlers map[string]Handler
	log      *logging.Logger
}

// NewEmbedder creates an embedder with no handlers registered.
func NewEmbedder(log *logging.Logger) *Embedder {
	if log == nil {
		log = logging.Nop()
	}
	return &Embedder{
		handlers: make(map[string]Handler),
		log:      log.Sub("uihost"),
	}
}

// Handle registers a handler for one action type, replacing any previous
// registration.
func (e *Embedder) Handle(actionType string, h Handler) {
	e.handlers[actionType] = h
}

// HandleTool wires the tool action type to a dispatcher. The dispatched
// result's text content is returned to the page as the action result.
func (e *Embedder) HandleTool(d ToolDispatcher) {
	e.Handle(ActionTool, func(ctx context.Context, action UIAction) (ActionResult, error) {
		name, _ := action.Payload["name"].(string)
		if name == "" {
			return ActionResult{}, fmt.Errorf("tool action missing name")
		}
		params, _ := action.Payload["params"].(map[string]any)
		res := d.Dispatch(ctx, name, params)
		return ActionResult{Status: StatusHandled, Result: resultPayload(res)}, nil
	})
}

// Dispatch runs the action's handler and always returns a result. Unknown
// action types and handler failures come back as error results; a missing
// handler for a known type is unhandled. Panics inside a handler are caught
// here and never propagate to the connection loop.
func (e *Embedder) Dispatch(ctx context.Context, action UIAction) (res ActionResult) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error().Interface("panic", r).Str("action", action.Type).Msg("action handler panicked")
			res = ActionResult{Status: StatusError, Error: fmt.Sprintf("action %q failed: %v", action.Type, r)}
		}
	}()

	switch action.Type {
	case ActionTool, ActionPrompt, ActionNotify, ActionLink, ActionIntent:
	default:
		return ActionResult{Status: StatusError, Error: fmt.Sprintf("unknown action type %q", action.Type)}
	}

	h, ok := e.handlers[action.Type]
	if !ok {
		return ActionResult{Status: StatusUnhandled}
	}
	out, err := h(ctx, action)
	if err != nil {
		e.log.Warn().Err(err).Str("action", action.Type).Msg("action handler failed")
		return ActionResult{Status: StatusError, Error: err.Error()}
	}
	if out.Status == "" {
		out.Status = StatusHandled
	}
	return out
}

// resultPayload flattens a tool result into something JSON-friendly for the
// embedded page.
func resultPayload(res tools.Result) map[string]any {
	texts := make([]string, 0, len(res.Content))
	for _, blk := range res.Content {
		if tb, ok := blk.(transcript.TextBlock); ok {
			texts = append(texts, tb.Text)
		}
	}
	return map[string]any{
		"isError": res.IsError,
		"content": texts,
	}
}

// DecodeAction parses a raw action payload, rejecting frames that are not
// an object with a string type.
func DecodeAction(raw json.RawMessage) (UIAction, error) {
	var action UIAction
	if err := json.Unmarshal(raw, &action); err != nil {
		return UIAction{}, fmt.Errorf("parsing action: %w", err)
	}
	if action.Type == "" {
		return UIAction{}, fmt.Errorf("action missing type")
	}
	return action, nil
}
