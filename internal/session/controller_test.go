package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flora131/atomic-sub005/internal/backend"
	"github.com/flora131/atomic-sub005/internal/event"
	"github.com/flora131/atomic-sub005/internal/tracker"
)

func TestStreamController_DeferredCompletionFiresOnceForegroundDrains(t *testing.T) {
	trk := tracker.New()
	defer trk.Close()

	client := backend.NewHookAdapter()
	ctx := context.Background()
	sess, err := client.CreateSession(ctx, backend.SessionConfig{})
	require.NoError(t, err)

	ctrl := NewStreamController(client, trk, sess.ID)
	gen := ctrl.nextGeneration()

	trk.HandleToolStart(event.UnifiedEvent{
		Payload: event.ToolStartPayload{ToolCallID: "tc1", ToolName: "Task"},
	})

	fired := make(chan struct{}, 1)
	ctrl.DeferCompletion(gen, func() { fired <- struct{}{} })

	select {
	case <-fired:
		t.Fatal("fired before foreground drained")
	case <-time.After(20 * time.Millisecond):
	}

	trk.HandleToolComplete(event.UnifiedEvent{
		Payload: event.ToolCompletePayload{ToolCallID: "tc1"},
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("completion never fired after drain")
	}
}

func TestStreamController_StaleGenerationDropped(t *testing.T) {
	trk := tracker.New()
	defer trk.Close()
	client := backend.NewHookAdapter()
	ctx := context.Background()
	sess, err := client.CreateSession(ctx, backend.SessionConfig{})
	require.NoError(t, err)

	ctrl := NewStreamController(client, trk, sess.ID)
	staleGen := ctrl.nextGeneration()
	_ = ctrl.nextGeneration() // advances past staleGen

	fired := false
	ctrl.DeferCompletion(staleGen, func() { fired = true })
	assert.False(t, fired)
}

func TestStreamController_InterruptEscalation(t *testing.T) {
	trk := tracker.New()
	defer trk.Close()
	client := backend.NewHookAdapter()
	ctrl := NewStreamController(client, trk, "s1")
	ctrl.SetWorkflowActive(true)

	_, ended := ctrl.Interrupt()
	assert.False(t, ended)

	_, ended = ctrl.Interrupt()
	assert.True(t, ended)
	assert.False(t, ctrl.WorkflowActive())
}
