package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	p, ok := ParseLine("/ralph \"build the thing\"")
	require.True(t, ok)
	assert.True(t, p.IsSlash)
	assert.Equal(t, "ralph", p.Name)
	assert.Equal(t, `"build the thing"`, p.Args)

	p2, ok := ParseLine("@reviewer take a look")
	require.True(t, ok)
	assert.True(t, p2.IsMention)
	assert.Equal(t, "reviewer", p2.Name)
	assert.Equal(t, "take a look", p2.Args)

	_, ok = ParseLine("plain text")
	assert.False(t, ok)
}

func TestRegistry_FirstDiscoveredWins(t *testing.T) {
	r := NewRegistry()
	first := &CommandDefinition{Name: "loop", Category: CategoryWorkflow}
	second := &CommandDefinition{Name: "loop", Category: CategoryWorkflow}
	r.Register(first)
	r.Register(second)

	got, ok := r.Lookup("loop")
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestRegistry_AgentCategoryOverridesAgentCategory(t *testing.T) {
	r := NewRegistry()
	first := &CommandDefinition{Name: "reviewer", Category: CategoryAgent}
	second := &CommandDefinition{Name: "reviewer", Category: CategoryAgent}
	r.Register(first)
	r.Register(second)

	got, ok := r.Lookup("reviewer")
	require.True(t, ok)
	assert.Same(t, second, got)
}

func TestDispatcher_RejectsSecondWorkflowCommand(t *testing.T) {
	r := NewRegistry()
	started := make(chan struct{})
	release := make(chan struct{})
	r.Register(&CommandDefinition{
		Name:          "ralph",
		Category:      CategoryWorkflow,
		WorkflowClass: true,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			close(started)
			<-release
			return CommandResult{Success: true}, nil
		},
	})
	d := NewDispatcher(r)

	go func() {
		_, _ = d.Dispatch("ralph", "", &CommandContext{})
	}()
	<-started

	_, err := d.Dispatch("ralph", "", &CommandContext{})
	assert.ErrorIs(t, err, ErrWorkflowActive)

	close(release)
}
