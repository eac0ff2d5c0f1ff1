package transcript

import (
	"encoding/json"
	"fmt"
	"math"
)

// SchemaError reports a persisted message or session that failed validation.
// Decode failures always surface as a *SchemaError, never as silently
// coerced values.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "transcript schema: " + e.Reason
}

func schemaErrorf(format string, args ...any) error {
	return &SchemaError{Reason: fmt.Sprintf(format, args...)}
}

// Wire shapes. Field names match the persisted JSON contract; encode and
// decode go through these so the in-memory model never leaks struct tags.

type textBlockJSON struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolUseBlockJSON struct {
	Type      string         `json:"type"`
	ToolUseID string         `json:"toolUseId"`
	Name      string         `json:"name"`
	Input     map[string]any `json:"input"`
}

type toolResultBlockJSON struct {
	Type      string `json:"type"`
	ToolUseID string `json:"toolUseId"`
	Content   []any  `json:"content"`
}

type resourceBlockJSON struct {
	Type     string       `json:"type"`
	Resource resourceJSON `json:"resource"`
}

type resourceJSON struct {
	URI      string         `json:"uri"`
	MimeType string         `json:"mimeType"`
	Text     *string        `json:"text,omitempty"`
	Blob     *string        `json:"blob,omitempty"`
	Metadata map[string]any `json:"metadata"`
}

type messageJSON struct {
	ID        string `json:"id"`
	Role      string `json:"role"`
	Content   []any  `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

type sessionJSON struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Messages  []any  `json:"messages"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

// EncodeMessage serializes a message for persistence.
func EncodeMessage(m Message) ([]byte, error) {
	enc, err := messageToWire(m)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}

// EncodeSession serializes a session for persistence.
func EncodeSession(s Session) ([]byte, error) {
	enc := sessionJSON{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
	if s.Messages != nil {
		enc.Messages = make([]any, 0, len(s.Messages))
		for _, m := range s.Messages {
			w, err := messageToWire(m)
			if err != nil {
				return nil, err
			}
			enc.Messages = append(enc.Messages, w)
		}
	}
	return json.Marshal(enc)
}

func messageToWire(m Message) (messageJSON, error) {
	enc := messageJSON{
		ID:        m.ID,
		Role:      string(m.Role),
		Timestamp: m.Timestamp,
	}
	if !m.Role.Valid() {
		return enc, schemaErrorf("unknown role %q", m.Role)
	}
	if m.Content != nil {
		enc.Content = make([]any, 0, len(m.Content))
		for _, b := range m.Content {
			w, err := blockToWire(b)
			if err != nil {
				return enc, err
			}
			enc.Content = append(enc.Content, w)
		}
	}
	return enc, nil
}

func blockToWire(b Block) (any, error) {
	switch blk := b.(type) {
	case TextBlock:
		return textBlockJSON{Type: BlockTypeText, Text: blk.Text}, nil
	case ToolUseBlock:
		return toolUseBlockJSON{
			Type:      BlockTypeToolUse,
			ToolUseID: blk.ToolUseID,
			Name:      blk.Name,
			Input:     blk.Input,
		}, nil
	case ToolResultBlock:
		w := toolResultBlockJSON{Type: BlockTypeToolResult, ToolUseID: blk.ToolUseID}
		if blk.Content != nil {
			w.Content = make([]any, 0, len(blk.Content))
			for _, inner := range blk.Content {
				switch inner.(type) {
				case TextBlock, ResourceBlock:
				default:
					return nil, schemaErrorf("tool_result content holds %q block", inner.BlockType())
				}
				iw, err := blockToWire(inner)
				if err != nil {
					return nil, err
				}
				w.Content = append(w.Content, iw)
			}
		}
		return w, nil
	case ResourceBlock:
		return resourceBlockJSON{
			Type: BlockTypeResource,
			Resource: resourceJSON{
				URI:      blk.Resource.URI,
				MimeType: blk.Resource.MimeType,
				Text:     blk.Resource.Text,
				Blob:     blk.Resource.Blob,
				Metadata: blk.Resource.Metadata,
			},
		}, nil
	default:
		return nil, schemaErrorf("unknown block type %T", b)
	}
}

// Decode-side wire shapes use pointers so missing fields and wrong primitive
// kinds are both detectable.

type messageWire struct {
	ID        *string            `json:"id"`
	Role      *string            `json:"role"`
	Content   *[]json.RawMessage `json:"content"`
	Timestamp json.RawMessage    `json:"timestamp"`
}

type sessionWire struct {
	ID        *string            `json:"id"`
	Title     *string            `json:"title"`
	Messages  *[]json.RawMessage `json:"messages"`
	CreatedAt json.RawMessage    `json:"createdAt"`
	UpdatedAt json.RawMessage    `json:"updatedAt"`
}

type blockWire struct {
	Type      *string            `json:"type"`
	Text      *string            `json:"text"`
	ToolUseID *string            `json:"toolUseId"`
	Name      *string            `json:"name"`
	Input     map[string]any     `json:"input"`
	Content   *[]json.RawMessage `json:"content"`
	Resource  *resourceWire      `json:"resource"`
}

type resourceWire struct {
	URI      *string        `json:"uri"`
	MimeType *string        `json:"mimeType"`
	Text     *string        `json:"text"`
	Blob     *string        `json:"blob"`
	Metadata map[string]any `json:"metadata"`
}

// DecodeMessage parses and validates a persisted message.
func DecodeMessage(data []byte) (Message, error) {
	var w messageWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Message{}, schemaErrorf("parse message: %v", err)
	}
	return messageFromWire(w)
}

// DecodeSession parses and validates a persisted session.
func DecodeSession(data []byte) (Session, error) {
	var w sessionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return Session{}, schemaErrorf("parse session: %v", err)
	}

	var s Session
	if w.ID == nil || *w.ID == "" {
		return s, schemaErrorf("session missing id")
	}
	s.ID = *w.ID
	if w.Title != nil {
		s.Title = *w.Title
	}

	var err error
	if s.CreatedAt, err = numberField(w.CreatedAt, "createdAt"); err != nil {
		return s, err
	}
	if s.UpdatedAt, err = numberField(w.UpdatedAt, "updatedAt"); err != nil {
		return s, err
	}

	if w.Messages != nil {
		s.Messages = make([]Message, 0, len(*w.Messages))
		for i, raw := range *w.Messages {
			var mw messageWire
			if err := json.Unmarshal(raw, &mw); err != nil {
				return s, schemaErrorf("parse messages[%d]: %v", i, err)
			}
			m, err := messageFromWire(mw)
			if err != nil {
				return s, err
			}
			s.Messages = append(s.Messages, m)
		}
	}
	return s, nil
}

// IsValidMessage reports whether DecodeMessage would succeed on data.
func IsValidMessage(data []byte) bool {
	_, err := DecodeMessage(data)
	return err == nil
}

// IsValidSession reports whether DecodeSession would succeed on data.
func IsValidSession(data []byte) bool {
	_, err := DecodeSession(data)
	return err == nil
}

func messageFromWire(w messageWire) (Message, error) {
	var m Message
	if w.ID == nil || *w.ID == "" {
		return m, schemaErrorf("message missing id")
	}
	if w.Role == nil {
		return m, schemaErrorf("message missing role")
	}
	role := Role(*w.Role)
	if !role.Valid() {
		return m, schemaErrorf("unknown role %q", *w.Role)
	}

	ts, err := numberField(w.Timestamp, "timestamp")
	if err != nil {
		return m, err
	}

	m.ID = *w.ID
	m.Role = role
	m.Timestamp = ts

	if w.Content != nil {
		m.Content = make([]Block, 0, len(*w.Content))
		for i, raw := range *w.Content {
			b, err := decodeBlock(raw)
			if err != nil {
				return m, schemaErrorf("content[%d]: %v", i, err)
			}
			m.Content = append(m.Content, b)
		}
	}
	return m, nil
}

func decodeBlock(raw json.RawMessage) (Block, error) {
	var w blockWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}
	if w.Type == nil {
		return nil, fmt.Errorf("block missing type")
	}

	switch *w.Type {
	case BlockTypeText:
		if w.Text == nil {
			return nil, fmt.Errorf("text block missing text")
		}
		return TextBlock{Text: *w.Text}, nil

	case BlockTypeToolUse:
		if w.ToolUseID == nil || *w.ToolUseID == "" {
			return nil, fmt.Errorf("tool_use block missing toolUseId")
		}
		if w.Name == nil || *w.Name == "" {
			return nil, fmt.Errorf("tool_use block missing name")
		}
		return ToolUseBlock{ToolUseID: *w.ToolUseID, Name: *w.Name, Input: w.Input}, nil

	case BlockTypeToolResult:
		if w.ToolUseID == nil || *w.ToolUseID == "" {
			return nil, fmt.Errorf("tool_result block missing toolUseId")
		}
		blk := ToolResultBlock{ToolUseID: *w.ToolUseID}
		if w.Content != nil {
			blk.Content = make([]Block, 0, len(*w.Content))
			for i, inner := range *w.Content {
				b, err := decodeBlock(inner)
				if err != nil {
					return nil, fmt.Errorf("tool_result content[%d]: %w", i, err)
				}
				switch b.(type) {
				case TextBlock, ResourceBlock:
				default:
					return nil, fmt.Errorf("tool_result content[%d] is %q", i, b.BlockType())
				}
				blk.Content = append(blk.Content, b)
			}
		}
		return blk, nil

	case BlockTypeResource:
		if w.Resource == nil {
			return nil, fmt.Errorf("resource block missing resource")
		}
		if w.Resource.URI == nil || *w.Resource.URI == "" {
			return nil, fmt.Errorf("resource missing uri")
		}
		if w.Resource.MimeType == nil {
			return nil, fmt.Errorf("resource missing mimeType")
		}
		return ResourceBlock{Resource: UIResource{
			URI:      *w.Resource.URI,
			MimeType: *w.Resource.MimeType,
			Text:     w.Resource.Text,
			Blob:     w.Resource.Blob,
			Metadata: w.Resource.Metadata,
		}}, nil

	default:
		return nil, fmt.Errorf("unknown block type %q", *w.Type)
	}
}

func numberField(raw json.RawMessage, name string) (int64, error) {
	if len(raw) == 0 {
		return 0, schemaErrorf("missing %s", name)
	}
	// json.Number would accept a quoted string of digits, so the primitive
	// kind is checked on the raw bytes before parsing.
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return 0, schemaErrorf("%s is not numeric", name)
	}
	n := json.Number(raw)
	if v, err := n.Int64(); err == nil {
		return v, nil
	}
	f, err := n.Float64()
	if err != nil {
		return 0, schemaErrorf("%s is not numeric", name)
	}
	if f != math.Trunc(f) {
		return 0, schemaErrorf("%s is not an integer", name)
	}
	return int64(f), nil
}
