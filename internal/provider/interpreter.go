package provider

import (
	"encoding/json"

	"github.com/banterhq/banter/internal/logging"
)

// Provider wire frames. Only the fields the interpreter reads are declared;
// everything else in a frame is ignored.

type frame struct {
	Type         string         `json:"type"`
	Delta        *frameDelta    `json:"delta,omitempty"`
	ContentBlock *frameBlock    `json:"content_block,omitempty"`
	Error        *frameError    `json:"error,omitempty"`
	Message      map[string]any `json:"message,omitempty"`
}

type frameDelta struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type frameBlock struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Input map[string]any `json:"input"`
}

type frameError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// interpreter maps decoded provider frames onto the canonical event taxonomy.
// Unknown frame kinds are dropped rather than crashing the stream.
type interpreter struct {
	log *logging.Logger

	// Fallback default for tool input: when the provider reports a tool-use
	// block whose input is missing fallbackField, the user's last literal
	// utterance is substituted for it.
	fallbackField string
	fallbackValue string
}

func newInterpreter(log *logging.Logger, fallbackField, fallbackValue string) *interpreter {
	return &interpreter{
		log:           log,
		fallbackField: fallbackField,
		fallbackValue: fallbackValue,
	}
}

// interpret returns the canonical event for a frame payload, or ok=false for
// frames with no canonical mapping (pings, bookkeeping, unknown kinds).
func (in *interpreter) interpret(payload json.RawMessage) (Event, bool) {
	var f frame
	if err := json.Unmarshal(payload, &f); err != nil {
		in.log.Warn().Err(err).Msg("dropping unreadable frame")
		return Event{}, false
	}

	switch f.Type {
	case "content_block_delta":
		if f.Delta == nil || f.Delta.Type != "text_delta" {
			return Event{}, false
		}
		return Event{Type: EventTextDelta, Content: f.Delta.Text}, true

	case "content_block_start":
		if f.ContentBlock == nil || f.ContentBlock.Type != "tool_use" {
			return Event{}, false
		}
		if f.ContentBlock.ID == "" || f.ContentBlock.Name == "" {
			in.log.Warn().Msg("dropping tool_use block without id or name")
			return Event{}, false
		}
		return Event{Type: EventToolUse, ToolUse: &ToolUse{
			ToolUseID: f.ContentBlock.ID,
			Name:      f.ContentBlock.Name,
			Input:     in.withFallback(f.ContentBlock.Input),
		}}, true

	case "message_stop":
		return Event{Type: EventStop}, true

	case "error":
		name := ""
		if f.Error != nil {
			name = f.Error.Type
		}
		return Event{Type: EventError, Err: Classify(name, 0)}, true

	default:
		return Event{}, false
	}
}

// withFallback fills the configured input field from the user's last
// utterance when the provider left it out. Structured input is best-effort,
// so a missing field the caller can satisfy is defaulted rather than failed.
func (in *interpreter) withFallback(input map[string]any) map[string]any {
	if in.fallbackField == "" || in.fallbackValue == "" {
		return input
	}
	if _, ok := input[in.fallbackField]; ok {
		return input
	}
	if input == nil {
		input = make(map[string]any, 1)
	}
	input[in.fallbackField] = in.fallbackValue
	return input
}
