package command

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/flora131/atomic-sub005/internal/graph"
	"github.com/flora131/atomic-sub005/internal/workflow/ralph"
	"github.com/flora131/atomic-sub005/pkg/types"
)

// ctxAgentRunner drives Ralph's planner/reviewer/fixer agent-kind nodes
// through the chat session's own stream, via CommandContext.StreamAndWait.
type ctxAgentRunner struct {
	ctx *CommandContext
}

func (r *ctxAgentRunner) Run(_ context.Context, instruction string) (string, error) {
	if r.ctx.StreamAndWait == nil {
		return "", fmt.Errorf("command context has no StreamAndWait hook")
	}
	return r.ctx.StreamAndWait(instruction)
}

// ctxSubagentBridge adapts CommandContext.SpawnSubagentParallel to
// graph.SubAgentBridge for the worker node's fan-out.
type ctxSubagentBridge struct {
	ctx *CommandContext
}

// resolveAgentName maps Ralph's worker-node requests onto a registered
// subagent name. The worker node always names its requests "worker",
// which isn't in the built-in agent registry; route it (and any unnamed
// request) to the general-purpose subagent the same way the headless
// runner's bridge does.
func resolveAgentName(name string) string {
	if name == "" || name == "worker" {
		return "general"
	}
	return name
}

func toSpec(req graph.SubagentRequest) SubagentSpec {
	return SubagentSpec{AgentID: req.AgentID, AgentName: resolveAgentName(req.AgentName), Instruction: req.Instruction, Model: req.Model}
}

func (b *ctxSubagentBridge) Spawn(_ context.Context, req graph.SubagentRequest) (*types.SubagentResult, error) {
	if b.ctx.SpawnSubagentParallel == nil {
		return nil, fmt.Errorf("command context has no SpawnSubagentParallel hook")
	}
	results, err := b.ctx.SpawnSubagentParallel([]SubagentSpec{toSpec(req)})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return &types.SubagentResult{AgentID: req.AgentID, AgentName: resolveAgentName(req.AgentName), Success: false, Error: "no result returned"}, nil
	}
	return &results[0], nil
}

// SpawnParallel hands the whole batch to CommandContext.SpawnSubagentParallel
// in one call, trusting the hook's own implementation to fan the specs out
// concurrently (the chat wiring's hook does; see cmd/atomic/commands/interactive.go).
func (b *ctxSubagentBridge) SpawnParallel(_ context.Context, reqs []graph.SubagentRequest) ([]*types.SubagentResult, error) {
	if b.ctx.SpawnSubagentParallel == nil {
		return nil, fmt.Errorf("command context has no SpawnSubagentParallel hook")
	}
	specs := make([]SubagentSpec, len(reqs))
	for i, req := range reqs {
		specs[i] = toSpec(req)
	}
	results, err := b.ctx.SpawnSubagentParallel(specs)
	if err != nil {
		return nil, err
	}
	out := make([]*types.SubagentResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

// RegisterRalph wires "/ralph" (alias "/loop") as a WorkflowClass command
// that compiles and runs the Ralph graph to completion, surfacing
// per-step state through UpdateWorkflowState (and a failed step's error
// through SendMessage) and recording the session/task
// bookkeeping hooks the persistence layer needs.
func RegisterRalph(r *Registry) {
	r.Register(&CommandDefinition{
		Name:          "ralph",
		Aliases:       []string{"loop"},
		Category:      CategoryWorkflow,
		ArgumentHint:  "<request>",
		WorkflowClass: true,
		Execute:       executeRalph,
	})
}

func executeRalph(args string, ctx *CommandContext) (CommandResult, error) {
	request := strings.TrimSpace(args)
	if request == "" {
		return CommandResult{Success: false, Message: "usage: /ralph <request>"}, nil
	}

	runner := &ctxAgentRunner{ctx: ctx}
	bridge := &ctxSubagentBridge{ctx: ctx}

	sessionID := "ralph-session"
	if ctx.Session != nil && ctx.Session.ID != "" {
		sessionID = ctx.Session.ID
	}
	progressPath := filepath.Join("workflows", "sessions", sessionID, "progress.md")

	g, err := ralph.Build(runner, bridge, request, progressPath)
	if err != nil {
		return CommandResult{}, fmt.Errorf("ralph: compile graph: %w", err)
	}

	if ctx.SetRalphSessionID != nil {
		ctx.SetRalphSessionID(sessionID)
	}

	goCtx := ctx.Ctx
	if goCtx == nil {
		goCtx = context.Background()
	}

	var final graph.State
	for step := range g.Run(goCtx, graph.State{"userRequest": request}, graph.RunOptions{Bridge: bridge}) {
		if step.Err != nil {
			if ctx.SendMessage != nil {
				_ = ctx.SendMessage(fmt.Sprintf("ralph: %s failed: %v", step.NodeID, step.Err))
			}
			return CommandResult{Success: false, Message: step.Err.Error()}, nil
		}
		if ctx.UpdateWorkflowState != nil {
			ctx.UpdateWorkflowState(step.StateUpdate)
		}
		final = step.State
	}

	if ctx.SetTodoItems != nil {
		ctx.SetTodoItems(tasksToTodoItems(final))
	}

	summary := fmt.Sprintf("ralph workflow finished (%d task(s))", len(tasksToTodoItems(final)))
	return CommandResult{Success: true, Message: summary, StateUpdate: final}, nil
}

func tasksToTodoItems(state graph.State) []types.TaskItem {
	if state == nil {
		return nil
	}
	raw, _ := state["tasks"].([]any)
	out := make([]types.TaskItem, 0, len(raw))
	for _, t := range raw {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		item := types.TaskItem{}
		if v, ok := m["id"].(string); ok {
			item.ID = v
		}
		if v, ok := m["content"].(string); ok {
			item.Content = v
		}
		if v, ok := m["status"].(string); ok {
			item.Status = types.TaskStatus(v)
		}
		out = append(out, item)
	}
	return out
}
