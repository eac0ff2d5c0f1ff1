// Package chat runs assistant turns: it pulls canonical events from the
// provider, folds them into the transcript with a pure reducer, dispatches
// the tool invocations a turn requests, and commits tool results as new
// tool-role messages.
package chat

import (
	"fmt"

	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/transcript"
)

// Transcript is the reducer state: the ordered message list plus whether an
// assistant turn is currently streaming into the final message.
type Transcript struct {
	Messages []transcript.Message
	TurnOpen bool
}

// ErrTurnClosed is returned when a stream event arrives with no open turn.
var ErrTurnClosed = fmt.Errorf("chat: no assistant turn in progress")

// BeginTurn appends an empty assistant placeholder message that the
// following events stream into. The input transcript is not mutated.
func BeginTurn(tr Transcript) Transcript {
	next := clone(tr)
	next.Messages = append(next.Messages, transcript.NewMessage(transcript.RoleAssistant))
	next.TurnOpen = true
	return next
}

// Apply folds one canonical event into the transcript and returns the new
// transcript. It is pure apart from ids and timestamps: the input value is
// never mutated, so callers can keep earlier states.
//
// An Error event aborts the turn: the partially-built assistant message is
// discarded rather than silently treated as complete, and the classified
// error is returned for the caller to surface exactly once.
func Apply(tr Transcript, evt provider.Event) (Transcript, error) {
	if !tr.TurnOpen {
		return tr, ErrTurnClosed
	}
	next := clone(tr)
	last := len(next.Messages) - 1
	msg := &next.Messages[last]

	switch evt.Type {
	case provider.EventTextDelta:
		// Consecutive text deltas merge into one block; anything else in
		// between starts a fresh block.
		if n := len(msg.Content); n > 0 {
			if tb, ok := msg.Content[n-1].(transcript.TextBlock); ok {
				msg.Content[n-1] = transcript.TextBlock{Text: tb.Text + evt.Content}
				return next, nil
			}
		}
		msg.Content = append(msg.Content, transcript.TextBlock{Text: evt.Content})
		return next, nil

	case provider.EventToolUse:
		if evt.ToolUse == nil {
			return tr, fmt.Errorf("chat: tool_use event without invocation")
		}
		msg.Content = append(msg.Content, transcript.ToolUseBlock{
			ToolUseID: evt.ToolUse.ToolUseID,
			Name:      evt.ToolUse.Name,
			Input:     evt.ToolUse.Input,
		})
		return next, nil

	case provider.EventStop:
		next.TurnOpen = false
		if len(msg.Content) == 0 {
			// The model produced nothing; a sealed message must not have
			// empty content, so the placeholder is dropped.
			next.Messages = next.Messages[:last]
		}
		return next, nil

	case provider.EventError:
		next.TurnOpen = false
		next.Messages = next.Messages[:last]
		err := evt.Err
		if err == nil {
			err = &provider.Error{Category: provider.CategoryFailure}
		}
		return next, err

	default:
		return tr, fmt.Errorf("chat: unknown event type %q", evt.Type)
	}
}

// AppendUser appends a user message. A user turn cannot start while an
// assistant turn is still streaming.
func AppendUser(tr Transcript, text string) (Transcript, error) {
	if tr.TurnOpen {
		return tr, fmt.Errorf("chat: assistant turn still in progress")
	}
	next := clone(tr)
	next.Messages = append(next.Messages, transcript.NewUserMessage(text))
	return next, nil
}

// AppendToolResult commits a tool outcome as a new tool-role message. The
// invocation it answers must already exist earlier in the transcript;
// results are never written before their triggering block.
func AppendToolResult(tr Transcript, toolUseID string, content []transcript.Block) (Transcript, error) {
	if tr.TurnOpen {
		return tr, fmt.Errorf("chat: assistant turn still in progress")
	}
	if !hasToolUse(tr, toolUseID) {
		return tr, fmt.Errorf("chat: tool result %q references no prior invocation", toolUseID)
	}
	msg := transcript.NewMessage(transcript.RoleTool)
	msg.Content = []transcript.Block{transcript.ToolResultBlock{
		ToolUseID: toolUseID,
		Content:   content,
	}}
	next := clone(tr)
	next.Messages = append(next.Messages, msg)
	return next, nil
}

// PendingToolUses returns the tool invocations of the final assistant
// message that have no committed result yet, in block order.
func PendingToolUses(tr Transcript) []transcript.ToolUseBlock {
	answered := make(map[string]bool)
	lastAssistant := -1
	for i, msg := range tr.Messages {
		switch msg.Role {
		case transcript.RoleAssistant:
			lastAssistant = i
		case transcript.RoleTool:
			for _, blk := range msg.Content {
				if r, ok := blk.(transcript.ToolResultBlock); ok {
					answered[r.ToolUseID] = true
				}
			}
		}
	}
	if lastAssistant < 0 {
		return nil
	}

	var pending []transcript.ToolUseBlock
	for _, blk := range tr.Messages[lastAssistant].Content {
		if u, ok := blk.(transcript.ToolUseBlock); ok && !answered[u.ToolUseID] {
			pending = append(pending, u)
		}
	}
	return pending
}

func hasToolUse(tr Transcript, toolUseID string) bool {
	for _, msg := range tr.Messages {
		for _, blk := range msg.Content {
			if u, ok := blk.(transcript.ToolUseBlock); ok && u.ToolUseID == toolUseID {
				return true
			}
		}
	}
	return false
}

// clone copies the message list and the final message's content slice, the
// only parts Apply mutates.
func clone(tr Transcript) Transcript {
	next := Transcript{
		Messages: make([]transcript.Message, len(tr.Messages)),
		TurnOpen: tr.TurnOpen,
	}
	copy(next.Messages, tr.Messages)
	if n := len(next.Messages); n > 0 {
		last := next.Messages[n-1]
		content := make([]transcript.Block, len(last.Content))
		copy(content, last.Content)
		next.Messages[n-1].Content = content
	}
	return next
}
