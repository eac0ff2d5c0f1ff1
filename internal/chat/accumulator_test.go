package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banterhq/banter/internal/provider"
	"github.com/banterhq/banter/internal/transcript"
)

func delta(s string) provider.Event {
	return provider.Event{Type: provider.EventTextDelta, Content: s}
}

func toolUse(id, name string, input map[string]any) provider.Event {
	return provider.Event{Type: provider.EventToolUse, ToolUse: &provider.ToolUse{
		ToolUseID: id, Name: name, Input: input,
	}}
}

func stop() provider.Event { return provider.Event{Type: provider.EventStop} }

func mustApply(t *testing.T, tr Transcript, evts ...provider.Event) Transcript {
	t.Helper()
	for _, evt := range evts {
		next, err := Apply(tr, evt)
		require.NoError(t, err)
		tr = next
	}
	return tr
}

func TestDeltasMergeIntoSingleBlock(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr, delta("Hel"), delta("lo"), stop())

	require.Len(t, tr.Messages, 1)
	msg := tr.Messages[0]
	assert.Equal(t, transcript.RoleAssistant, msg.Role)
	require.Len(t, msg.Content, 1)
	assert.Equal(t, transcript.TextBlock{Text: "Hello"}, msg.Content[0])
	assert.False(t, tr.TurnOpen)
}

func TestToolUseBreaksTextMerging(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr,
		delta("before"),
		toolUse("tu_1", "lookup", map[string]any{"query": "x"}),
		delta("af"), delta("ter"),
		stop(),
	)

	require.Len(t, tr.Messages, 1)
	content := tr.Messages[0].Content
	require.Len(t, content, 3)
	assert.Equal(t, transcript.TextBlock{Text: "before"}, content[0])
	assert.Equal(t, "tu_1", content[1].(transcript.ToolUseBlock).ToolUseID)
	assert.Equal(t, transcript.TextBlock{Text: "after"}, content[2])
}

func TestRepeatedToolUsesStayDistinct(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr,
		toolUse("tu_1", "lookup", nil),
		toolUse("tu_2", "lookup", nil),
		stop(),
	)

	content := tr.Messages[0].Content
	require.Len(t, content, 2)
	assert.NotEqual(t, content[0], content[1])
}

func TestStopDropsEmptyAssistantMessage(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr, stop())
	assert.Empty(t, tr.Messages)
	assert.False(t, tr.TurnOpen)
}

func TestErrorAbortsTurnWithoutPartialMessage(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr, delta("partial answ"))

	next, err := Apply(tr, provider.Event{
		Type: provider.EventError,
		Err:  &provider.Error{Category: provider.CategoryRateLimited},
	})
	require.Error(t, err)
	var perr *provider.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, provider.CategoryRateLimited, perr.Category)

	assert.Empty(t, next.Messages)
	assert.False(t, next.TurnOpen)

	// The pre-error state is untouched.
	assert.Len(t, tr.Messages, 1)
}

func TestApplyRejectsEventsOutsideTurn(t *testing.T) {
	_, err := Apply(Transcript{}, delta("x"))
	assert.ErrorIs(t, err, ErrTurnClosed)

	tr := mustApply(t, BeginTurn(Transcript{}), stop())
	_, err = Apply(tr, delta("x"))
	assert.ErrorIs(t, err, ErrTurnClosed)
}

func TestApplyIsCopyOnWrite(t *testing.T) {
	tr := BeginTurn(Transcript{})
	tr = mustApply(t, tr, delta("a"))
	before := tr.Messages[0].Content[0].(transcript.TextBlock).Text

	_ = mustApply(t, tr, delta("b"))
	assert.Equal(t, before, tr.Messages[0].Content[0].(transcript.TextBlock).Text)
}

func TestAppendToolResultRequiresPriorInvocation(t *testing.T) {
	tr, err := AppendUser(Transcript{}, "hi")
	require.NoError(t, err)

	_, err = AppendToolResult(tr, "tu_missing", []transcript.Block{transcript.TextBlock{Text: "ok"}})
	assert.Error(t, err)

	tr = mustApply(t, BeginTurn(tr), toolUse("tu_1", "lookup", nil), stop())
	tr, err = AppendToolResult(tr, "tu_1", []transcript.Block{transcript.TextBlock{Text: "ok"}})
	require.NoError(t, err)

	last := tr.Messages[len(tr.Messages)-1]
	assert.Equal(t, transcript.RoleTool, last.Role)
	require.Len(t, last.Content, 1)
	assert.Equal(t, "tu_1", last.Content[0].(transcript.ToolResultBlock).ToolUseID)
}

func TestPendingToolUses(t *testing.T) {
	tr, err := AppendUser(Transcript{}, "hi")
	require.NoError(t, err)
	tr = mustApply(t, BeginTurn(tr),
		toolUse("tu_1", "lookup", nil),
		toolUse("tu_2", "dashboard", nil),
		stop(),
	)

	pending := PendingToolUses(tr)
	require.Len(t, pending, 2)
	assert.Equal(t, "tu_1", pending[0].ToolUseID)
	assert.Equal(t, "tu_2", pending[1].ToolUseID)

	tr, err = AppendToolResult(tr, "tu_1", []transcript.Block{transcript.TextBlock{Text: "ok"}})
	require.NoError(t, err)
	pending = PendingToolUses(tr)
	require.Len(t, pending, 1)
	assert.Equal(t, "tu_2", pending[0].ToolUseID)
}
