package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/flora131/atomic-sub005/internal/backend"
	"github.com/flora131/atomic-sub005/internal/event"
	"github.com/flora131/atomic-sub005/internal/tracker"
	"github.com/flora131/atomic-sub005/pkg/types"
)

// completionToken carries the stream generation captured when a deferred
// completion was registered; it is consulted before firing so a stale
// completion from an earlier send can never pollute a later turn.
type completionToken struct {
	generation uint64
	fire       func()
}

// StreamController owns one live conversation: message history, streaming
// parts, cancellation, and deferred-completion coordination (spec §4.3). It
// wraps the session package's Processor/message-history code rather than
// replacing it.
type StreamController struct {
	client  backend.CodingAgentClient
	tracker *tracker.Tracker

	mu                     sync.Mutex
	sessionID              string
	activeStreamGeneration uint64
	pendingCompletion      *completionToken
	workflowActive         bool
	interruptCount         int
}

// NewStreamController creates a controller bound to one backend session and
// the tracker that maintains its sub-agent tree.
func NewStreamController(client backend.CodingAgentClient, trk *tracker.Tracker, sessionID string) *StreamController {
	c := &StreamController{
		client:    client,
		tracker:   trk,
		sessionID: sessionID,
	}
	trk.OnDrain(c.drain)
	return c
}

// nextGeneration increments and returns the new activeStreamGeneration,
// invalidating any pendingCompletion captured under an older generation.
func (c *StreamController) nextGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.activeStreamGeneration++
	c.pendingCompletion = nil
	return c.activeStreamGeneration
}

// DeferCompletion stores fire to run once the tracker's foreground set
// drains, unless generation has since gone stale.
func (c *StreamController) DeferCompletion(generation uint64, fire func()) {
	c.mu.Lock()
	if generation != c.activeStreamGeneration {
		c.mu.Unlock()
		return // stale-stream guard
	}
	if !c.tracker.ForegroundActive() {
		c.mu.Unlock()
		fire()
		return
	}
	c.pendingCompletion = &completionToken{generation: generation, fire: fire}
	c.mu.Unlock()
}

// drain is invoked by the tracker exactly once when the foreground active
// set becomes empty; it fires pendingCompletion if its generation still
// matches the controller's current one.
func (c *StreamController) drain() {
	c.mu.Lock()
	token := c.pendingCompletion
	c.pendingCompletion = nil
	current := c.activeStreamGeneration
	c.mu.Unlock()

	if token == nil || token.generation != current {
		return
	}
	token.fire()
}

// Interrupt implements the two-level cancellation escalation of spec §5. A
// first interrupt aborts the current stream without touching workflow
// state; a second interrupt while a workflow is active also ends it.
func (c *StreamController) Interrupt() (wasInterrupted bool, workflowEnded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptCount++
	c.activeStreamGeneration++
	c.pendingCompletion = nil
	if c.interruptCount >= 2 && c.workflowActive {
		c.workflowActive = false
		return true, true
	}
	return true, false
}

// ResetInterrupts clears the escalation counter at the start of a new send.
func (c *StreamController) ResetInterrupts() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.interruptCount = 0
}

// SetWorkflowActive marks whether a workflow-class command currently owns
// this controller, gating the second-interrupt escalation.
func (c *StreamController) SetWorkflowActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflowActive = active
}

// WorkflowActive reports whether a workflow currently owns this controller.
func (c *StreamController) WorkflowActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.workflowActive
}

// SpawnSubagent sends a hidden instruction to the current session and
// waits for that single hidden exchange to complete, dropping the result
// if the stream generation goes stale in the meantime.
func (c *StreamController) SpawnSubagent(ctx context.Context, prompt string) (string, error) {
	generation := c.nextGeneration()

	if err := c.client.Send(ctx, c.sessionID, prompt); err != nil {
		return "", fmt.Errorf("spawnSubagent: send failed: %w", err)
	}

	events, err := c.client.Stream(ctx, c.sessionID)
	if err != nil {
		return "", fmt.Errorf("spawnSubagent: stream failed: %w", err)
	}

	var result string
	for ev := range events {
		c.mu.Lock()
		stale := generation != c.activeStreamGeneration
		c.mu.Unlock()
		if stale {
			return "", nil
		}
		switch p := ev.Payload.(type) {
		case event.MessageDeltaPayload:
			result += p.Text
		case event.MessageCompletePayload:
			return result, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
	}
	return result, nil
}

// SubagentSpec is one entry of a spawnSubagentParallel request.
type SubagentSpec struct {
	AgentID     string
	AgentName   string
	Instruction string
	Model       string
}

// SubagentBridge is the minimal surface the Graph Engine's Sub-Agent Bridge
// exposes to spawnSubagentParallel. It takes SubagentSpec values and returns
// results by value, so graph.ClientBridge (SubagentRequest in, pointers out)
// does not satisfy it directly.
type SubagentBridge interface {
	SpawnParallel(ctx context.Context, specs []SubagentSpec) ([]types.SubagentResult, error)
}

// SpawnSubagentParallel delegates to the Graph Engine's Sub-Agent Bridge
// with allSettled-style semantics: one failure never cancels siblings.
func (c *StreamController) SpawnSubagentParallel(ctx context.Context, bridge SubagentBridge, specs []SubagentSpec) ([]types.SubagentResult, error) {
	return bridge.SpawnParallel(ctx, specs)
}

// NewSubagentID mints a fresh synthetic id for a hidden spawn, consistent
// with the ULID id strategy used everywhere else in the module.
func NewSubagentID() string {
	return ulid.Make().String()
}
