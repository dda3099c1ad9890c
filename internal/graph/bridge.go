package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/flora131/atomic-sub005/internal/backend"
	"github.com/flora131/atomic-sub005/internal/event"
	"github.com/flora131/atomic-sub005/pkg/types"
)

// SubAgentBridge spawns independent sessions for graph nodes that need a
// sub-agent (spec §4.6). Implementations create a Session via a backend
// adapter, stream it to completion, and accumulate text/tool-use counts.
type SubAgentBridge interface {
	Spawn(ctx context.Context, req SubagentRequest) (*types.SubagentResult, error)
	SpawnParallel(ctx context.Context, reqs []SubagentRequest) ([]*types.SubagentResult, error)
}

// ResultSink persists a SubagentResult once a spawn completes, e.g. the
// session store's agents/<agentId>.json writer (C8).
type ResultSink func(result *types.SubagentResult)

// ClientBridge is the default SubAgentBridge, backed by a
// backend.CodingAgentClient. Modeled after executor.SubagentExecutor's
// create-session / run-to-completion / destroy lifecycle, generalized to
// the unified event stream instead of a provider-specific processor.
type ClientBridge struct {
	client backend.CodingAgentClient
	sink   ResultSink
}

// NewClientBridge builds a ClientBridge. sink may be nil to skip
// persistence (e.g. in tests).
func NewClientBridge(client backend.CodingAgentClient, sink ResultSink) *ClientBridge {
	return &ClientBridge{client: client, sink: sink}
}

// Spawn creates a session for req, streams it to completion accumulating
// assistant text and tool-use counts, destroys the session, and persists
// the result via sink if set.
func (b *ClientBridge) Spawn(ctx context.Context, req SubagentRequest) (*types.SubagentResult, error) {
	sess, err := b.client.CreateSession(ctx, backend.SessionConfig{Model: req.Model})
	if err != nil {
		return nil, fmt.Errorf("spawn subagent %s: create session: %w", req.AgentID, err)
	}
	defer func() { _ = b.client.Destroy(context.Background(), sess.ID) }()

	events, err := b.client.Stream(ctx, sess.ID)
	if err != nil {
		return nil, fmt.Errorf("spawn subagent %s: stream: %w", req.AgentID, err)
	}
	if err := b.client.Send(ctx, sess.ID, req.Instruction); err != nil {
		return nil, fmt.Errorf("spawn subagent %s: send: %w", req.AgentID, err)
	}

	result := &types.SubagentResult{AgentID: req.AgentID, AgentName: req.AgentName, Success: true}
	var text strings.Builder

	for {
		select {
		case <-ctx.Done():
			result.Success = false
			result.Error = ctx.Err().Error()
			result.Output = text.String()
			b.persist(result)
			return result, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				result.Output = text.String()
				b.persist(result)
				return result, nil
			}
			switch p := ev.Payload.(type) {
			case event.MessageDeltaPayload:
				text.WriteString(p.Text)
			case event.MessageCompletePayload:
				result.Output = text.String()
				b.persist(result)
				return result, nil
			case event.ToolStartPayload:
				result.ToolUseCount++
			case event.SessionErrorPayload:
				result.Success = false
				result.Error = p.Message
				result.Output = text.String()
				b.persist(result)
				return result, nil
			}
		}
	}
}

func (b *ClientBridge) persist(result *types.SubagentResult) {
	if b.sink != nil {
		b.sink(result)
	}
}

// SpawnParallel runs Spawn for every req concurrently with
// Promise.allSettled-style semantics: one sibling's failure never
// cancels the others, and every result (success or failure) is returned
// in request order.
func (b *ClientBridge) SpawnParallel(ctx context.Context, reqs []SubagentRequest) ([]*types.SubagentResult, error) {
	results := make([]*types.SubagentResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.Spawn(ctx, req)
			if err != nil && res == nil {
				res = &types.SubagentResult{AgentID: req.AgentID, AgentName: req.AgentName, Success: false, Error: err.Error()}
			}
			results[i] = res
		}()
	}
	wg.Wait()
	return results, nil
}
