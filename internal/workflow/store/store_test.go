package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flora131/atomic-sub005/pkg/types"
)

func TestStore_TasksRoundTripAndAtomicReplace(t *testing.T) {
	s, err := Open(t.TempDir(), "sess-1")
	require.NoError(t, err)

	tasks, err := s.GetTasks()
	require.NoError(t, err)
	assert.Empty(t, tasks)

	want := []types.TaskItem{{ID: "t1", Content: "do thing", Status: types.TaskPending}}
	require.NoError(t, s.PutTasks(want))

	got, err := s.GetTasks()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	want2 := []types.TaskItem{{ID: "t1", Content: "do thing", Status: types.TaskCompleted}}
	require.NoError(t, s.PutTasks(want2))
	got2, err := s.GetTasks()
	require.NoError(t, err)
	assert.Equal(t, want2, got2)
}

func TestStore_SessionAndAgentResultTolerateAbsence(t *testing.T) {
	s, err := Open(t.TempDir(), "sess-2")
	require.NoError(t, err)

	sess, ok, err := s.GetSession()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, sess)

	result, ok, err := s.GetAgentResult("missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, result)

	want := &types.SubagentResult{AgentID: "a1", AgentName: "worker", Success: true}
	require.NoError(t, s.PutAgentResult(want))

	got, ok, err := s.GetAgentResult("a1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)
}

func TestStore_DirectoryCreationIsIdempotent(t *testing.T) {
	root := t.TempDir()
	_, err := Open(root, "sess-3")
	require.NoError(t, err)
	_, err = Open(root, "sess-3")
	require.NoError(t, err)
}
