package agent

import (
	"testing"

	"github.com/BaSui01/agentrelay/types"
	"github.com/stretchr/testify/assert"
)

func TestCompletionPolicy_IsCompletion(t *testing.T) {
	p := NewCompletionPolicy(nil)

	tests := []struct {
		thought string
		want    bool
	}{
		{"The task is complete.", true},
		{"Task completed successfully", true},
		{"I've completed the task you asked for.", true},
		{"ALL DONE", true},
		{"Typed the text; all steps are complete now.", true},
		{"The task is not complete yet.", false},
		{"This is not task complete.", false},
		{"I haven't completed the task yet, next I click.", false},
		{"The task isn't done yet.", false},
		{"I still need to complete the form.", false},
		{"Done with step one.", false},
		{"The subtask completed without issue", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.thought, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsCompletion(tt.thought))
		})
	}
}

func TestCompletionPolicy_CustomPhrases(t *testing.T) {
	p := NewCompletionPolicy([]string{"  Mission Accomplished ", ""})
	assert.Equal(t, []string{"mission accomplished"}, p.Phrases)
	assert.True(t, p.IsCompletion("Mission accomplished!"))
	assert.False(t, p.IsCompletion("The task is complete."))
}

func TestCompletionPolicy_LaterMatchCounts(t *testing.T) {
	p := NewCompletionPolicy(nil)
	// 第一次出现被否定，第二次出现有效
	assert.True(t, p.IsCompletion("It was not task complete before, but now the task is complete."))
}

func TestRepeatGuard(t *testing.T) {
	g := newRepeatGuard(3)
	call := types.ToolCallRequest{ToolID: "mouse_move", Arguments: map[string]any{"x": 1.0, "y": 2.0}}
	other := types.ToolCallRequest{ToolID: "mouse_move", Arguments: map[string]any{"x": 2.0, "y": 2.0}}

	n, tripped := g.observe(call)
	assert.Equal(t, 1, n)
	assert.False(t, tripped)
	_, tripped = g.observe(other)
	assert.False(t, tripped)
	_, tripped = g.observe(call)
	assert.False(t, tripped)
	n, tripped = g.observe(call)
	assert.Equal(t, 3, n)
	assert.True(t, tripped)

	off := newRepeatGuard(-1)
	for i := 0; i < 10; i++ {
		_, tripped = off.observe(call)
		assert.False(t, tripped)
	}
}
