package headless

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flora131/atomic-sub005/internal/graph"
	"github.com/flora131/atomic-sub005/internal/tool"
	"github.com/flora131/atomic-sub005/internal/workflow/ralph"
	"github.com/flora131/atomic-sub005/internal/workflow/store"
	"github.com/flora131/atomic-sub005/pkg/types"
	"github.com/oklog/ulid/v2"
)

// processorAgentRunner drives the planner/reviewer/fixer agent-kind nodes
// through the runner's own processor, each call in a fresh "ralph-<ulid>"
// session, per spec §4.7's
// distinction between agent nodes and the worker node's bridge-spawned
// sub-agent.
type processorAgentRunner struct {
	r *Runner
}

func (p *processorAgentRunner) Run(ctx context.Context, instruction string) (string, error) {
	sessionID := fmt.Sprintf("ralph-%s", ulid.Make().String())
	if err := p.r.addUserMessage(ctx, sessionID, instruction); err != nil {
		return "", err
	}

	var final string
	callback := func(msg *types.Message, parts []types.Part) {
		for _, part := range parts {
			if tp, ok := part.(*types.TextPart); ok {
				final = tp.Text
			}
		}
	}

	agentCfg := p.r.createAgent()
	if err := p.r.processor.Process(ctx, sessionID, agentCfg, callback); err != nil {
		return "", err
	}
	return final, nil
}

// subagentBridge adapts the existing Task-tool SubagentExecutor to the
// graph package's SubAgentBridge, so the Ralph worker node spawns real
// sub-agent sessions the same way the Task tool does.
type subagentBridge struct {
	r               *Runner
	parentSessionID string
}

func (b *subagentBridge) Spawn(ctx context.Context, req graph.SubagentRequest) (*types.SubagentResult, error) {
	// Ralph's worker node names its requests "worker", which isn't a
	// registered agent; route it (and any unnamed request) to the
	// built-in general-purpose subagent.
	agentName := req.AgentName
	if agentName == "" || agentName == "worker" {
		agentName = "general"
	}
	result, err := b.r.subagentExecutor.ExecuteSubtask(ctx, b.parentSessionID, agentName, req.Instruction, tool.TaskOptions{Model: req.Model})
	if err != nil {
		return &types.SubagentResult{
			AgentID:   req.AgentID,
			AgentName: agentName,
			Success:   false,
			Error:     err.Error(),
		}, nil
	}
	return &types.SubagentResult{
		AgentID:   req.AgentID,
		AgentName: agentName,
		Output:    result.Output,
		Success:   true,
	}, nil
}

// SpawnParallel runs every request concurrently with allSettled semantics,
// matching graph.ClientBridge.SpawnParallel: one sibling's error becomes its
// own failed result rather than aborting the others.
func (b *subagentBridge) SpawnParallel(ctx context.Context, reqs []graph.SubagentRequest) ([]*types.SubagentResult, error) {
	out := make([]*types.SubagentResult, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		i, req := i, req
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.Spawn(ctx, req)
			if err != nil {
				res = &types.SubagentResult{AgentID: req.AgentID, AgentName: req.AgentName, Success: false, Error: err.Error()}
			}
			out[i] = res
		}()
	}
	wg.Wait()
	return out, nil
}

// runWorkflow runs the Ralph workflow graph to completion, streaming each
// graph.StepResult through the printer instead of the plain message
// stream used by the single-turn chat path.
func (r *Runner) runWorkflow(ctx context.Context) (*Result, error) {
	prompt, err := r.getPrompt()
	if err != nil {
		r.printer.SetResult("error", ExitInvalidInput, "", err)
		return r.printer.GetResult(), err
	}
	if prompt == "" {
		err := errors.New("prompt is required for --workflow")
		r.printer.SetResult("error", ExitInvalidInput, "", err)
		return r.printer.GetResult(), err
	}

	sessionID, err := r.getOrCreateSession(ctx)
	if err != nil {
		r.printer.SetResult("error", ExitSessionNotFound, "", err)
		return r.printer.GetResult(), err
	}
	r.printer.SetSessionID(sessionID)
	r.printer.SetModel(fmt.Sprintf("%s/%s", r.defaultProviderID, r.defaultModelID))

	paths, progressPath := r.workflowPaths(sessionID)

	runner := &processorAgentRunner{r: r}
	bridge := &subagentBridge{r: r, parentSessionID: sessionID}

	g, err := ralph.Build(runner, bridge, prompt, progressPath)
	if err != nil {
		r.printer.SetResult("error", ExitError, "", err)
		return r.printer.GetResult(), err
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if r.config.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, r.config.Timeout)
		defer cancel()
	}

	var final graph.State
	for step := range g.Run(runCtx, graph.State{"userRequest": prompt}, graph.RunOptions{Bridge: bridge}) {
		r.printer.PrintGraphStep(step)
		r.printer.IncrementSteps()
		if step.Err != nil {
			r.printer.SetResult("error", ExitError, "", step.Err)
			return r.printer.GetResult(), step.Err
		}
		final = step.State
	}

	if paths != nil {
		_ = paths.PutSession(&types.WorkflowSession{
			SessionID:    sessionID,
			WorkflowName: "ralph",
			Status:       types.WorkflowCompleted,
		})
	}

	summary := workflowSummary(final)
	r.printer.SetResult("success", ExitSuccess, summary, nil)
	r.printer.PrintFinalResult()
	return r.printer.GetResult(), nil
}

func (r *Runner) workflowPaths(sessionID string) (*store.Store, string) {
	paths := GetAtomicRoot()
	st, err := store.Open(paths, sessionID)
	if err != nil {
		return nil, filepath.Join(os.TempDir(), sessionID+"-progress.md")
	}
	return st, filepath.Join(st.Dir(), "progress.md")
}

func workflowSummary(state graph.State) string {
	if state == nil {
		return ""
	}
	tasks, _ := state["tasks"].([]any)
	done := 0
	for _, t := range tasks {
		m, ok := t.(map[string]any)
		if !ok {
			continue
		}
		if s, _ := m["status"].(string); s == "completed" {
			done++
		}
	}
	return strings.TrimSpace(fmt.Sprintf("ralph workflow finished: %d/%d tasks completed", done, len(tasks)))
}

// GetAtomicRoot returns the root directory under which workflow session
// state is stored (<home>/.atomic); it does not create the directory.
func GetAtomicRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".atomic")
	}
	return filepath.Join(home, ".atomic")
}
