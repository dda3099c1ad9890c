package backend

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flora131/atomic-sub005/internal/event"
)

func TestRPCAdapter_FrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	frame := &RPCFrame{Method: "tool.execution_start", Params: []byte(`{"toolCallId":"tc1","toolName":"Read"}`)}
	require.NoError(t, WriteFrame(&buf, frame))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, frame.Method, got.Method)
	assert.JSONEq(t, string(frame.Params), string(got.Params))
}

func TestRPCAdapter_ConsumeFrames_ToolAndSubagentLifecycle(t *testing.T) {
	a := NewRPCAdapter()
	ctx := context.Background()
	sess, err := a.CreateSession(ctx, SessionConfig{Model: "test"})
	require.NoError(t, err)

	ch, err := a.Stream(ctx, sess.ID)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, &RPCFrame{
		Method: "tool.execution_start",
		Params: []byte(`{"toolCallId":"tc1","toolName":"Task","mode":"background"}`),
	}))
	require.NoError(t, WriteFrame(&buf, &RPCFrame{
		Method: "subagent.started",
		Params: []byte(`{"toolCallId":"tc1","agentName":"worker"}`),
	}))
	require.NoError(t, WriteFrame(&buf, &RPCFrame{
		Method: "subagent.failed",
		Params: []byte(`{"toolCallId":"tc1","result":"boom"}`),
	}))

	require.NoError(t, a.ConsumeFrames(ctx, sess.ID, &buf))

	// drain the session-start event emitted by CreateSession first.
	start := <-ch
	require.Equal(t, event.SessionStart, start.Type)

	var got []event.UnifiedEvent
	for i := 0; i < 3; i++ {
		got = append(got, <-ch)
	}

	require.Len(t, got, 3)
	assert.Equal(t, event.ToolStart, got[0].Type)
	assert.Equal(t, event.SubagentStart, got[1].Type)
	assert.Equal(t, event.SubagentComplete, got[2].Type)

	complete := got[2].Payload.(event.SubagentCompletePayload)
	assert.False(t, complete.Success)

	name, ok := a.ToolName("tc1")
	require.True(t, ok)
	assert.Equal(t, "Task", name)
}
