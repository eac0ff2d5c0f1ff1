// Package provider talks to the language-model completion endpoint. It
// exposes a streaming client whose output is the canonical event taxonomy
// the rest of the engine consumes; provider wire frames never leak upward.
package provider

import (
	"context"
	"encoding/json"
)

// EventType is the closed set of canonical stream event kinds.
type EventType string

const (
	EventTextDelta EventType = "text"
	EventToolUse   EventType = "tool_use"
	EventStop      EventType = "stop"
	EventError     EventType = "error"
)

// ToolUse identifies a tool invocation the model requested. Input is
// best-effort: providers may report it incomplete at block start.
type ToolUse struct {
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input,omitempty"`
}

// Event is one canonical stream event.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	ToolUse *ToolUse  `json:"toolUse,omitempty"`
	Err     *Error    `json:"error,omitempty"`
}

// ToolDefinition describes a tool advertised to the model.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

// Message is one conversation turn in provider wire form.
type Message struct {
	Role    string `json:"role"`
	Content []any  `json:"content"`
}

// Request is the input to a streaming turn.
type Request struct {
	System      string
	Messages    []Message
	Tools       []ToolDefinition
	MaxTokens   int
	Temperature *float64

	// FallbackField and FallbackValue let the interpreter default a missing
	// tool-input field from the user's own last utterance. Empty field
	// disables the fallback.
	FallbackField string
	FallbackValue string
}

// Client is the streaming completion endpoint.
type Client interface {
	// Stream starts one assistant turn and returns a channel of canonical
	// events. The channel closes after a Stop or Error event, or when ctx is
	// cancelled. Cancelling ctx closes the underlying connection.
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}
