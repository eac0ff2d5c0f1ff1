// Package transcript defines the conversation data model: sessions, messages,
// and the closed set of content blocks, plus a strict JSON codec for
// persistence. Block order within a message is meaningful and preserved.
package transcript

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role belongs to the closed set.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Block type discriminants as they appear on the wire.
const (
	BlockTypeText       = "text"
	BlockTypeToolUse    = "tool_use"
	BlockTypeToolResult = "tool_result"
	BlockTypeResource   = "resource"
)

// UIScheme is the reserved URI scheme marking a resource as an embeddable
// interactive fragment. Resources with any other scheme are ordinary
// references and get downgraded to text.
const UIScheme = "ui://"

// Block is one typed unit within a message's content.
type Block interface {
	BlockType() string
}

// TextBlock is plain text content.
type TextBlock struct {
	Text string
}

// BlockType implements Block.
func (TextBlock) BlockType() string { return BlockTypeText }

// ToolUseBlock records the model requesting a tool invocation.
type ToolUseBlock struct {
	ToolUseID string
	Name      string
	Input     map[string]any
}

// BlockType implements Block.
func (ToolUseBlock) BlockType() string { return BlockTypeToolUse }

// ToolResultBlock carries the outcome of a tool invocation. Content holds
// only text and resource blocks.
type ToolResultBlock struct {
	ToolUseID string
	Content   []Block
}

// BlockType implements Block.
func (ToolResultBlock) BlockType() string { return BlockTypeToolResult }

// ResourceBlock embeds a tool-returned UI resource.
type ResourceBlock struct {
	Resource UIResource
}

// BlockType implements Block.
func (ResourceBlock) BlockType() string { return BlockTypeResource }

// UIResource is a tool-returned artifact. Text and Blob are pointers so the
// codec preserves the difference between an absent field and an explicitly
// empty one.
type UIResource struct {
	URI      string
	MimeType string
	Text     *string
	Blob     *string
	Metadata map[string]any
}

// Embeddable reports whether the resource carries the reserved interactive
// scheme.
func (r UIResource) Embeddable() bool {
	return strings.HasPrefix(r.URI, UIScheme)
}

// Message is a single turn in a conversation. Timestamp is unix milliseconds.
type Message struct {
	ID        string
	Role      Role
	Content   []Block
	Timestamp int64
}

// Session is a persisted, titled sequence of messages. CreatedAt and
// UpdatedAt are unix milliseconds.
type Session struct {
	ID        string
	Title     string
	Messages  []Message
	CreatedAt int64
	UpdatedAt int64
}

// Now returns the current time in the transcript's timestamp unit.
func Now() int64 {
	return time.Now().UnixMilli()
}

// NewMessage creates an empty message with a fresh id and current timestamp.
func NewMessage(role Role) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Timestamp: Now(),
	}
}

// NewUserMessage creates a user message holding a single text block.
func NewUserMessage(text string) Message {
	m := NewMessage(RoleUser)
	m.Content = []Block{TextBlock{Text: text}}
	return m
}

// NewSession creates an empty session.
func NewSession(title string) Session {
	now := Now()
	return Session{
		ID:        uuid.New().String(),
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// LastText returns the concatenated text of every text block in the message.
func (m Message) LastText() string {
	var b strings.Builder
	for _, blk := range m.Content {
		if t, ok := blk.(TextBlock); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}
