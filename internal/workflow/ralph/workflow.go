package ralph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/flora131/atomic-sub005/internal/graph"
)

// AgentRunner drives the planner/reviewer/fixer agent-kind nodes, which
// run against the main conversation's backend session rather than a
// spawned sub-agent (spec §4.7 distinguishes these from the worker
// node's bridge-spawned sub-agent).
type AgentRunner interface {
	Run(ctx context.Context, instruction string) (string, error)
}

// Build compiles the Ralph graph of spec §4.7: planner -> parse-tasks ->
// loop(select-ready-tasks, worker) -> reviewer -> conditional fixer.
func Build(runner AgentRunner, bridge graph.SubAgentBridge, userRequest string, progressFilePath string) (*graph.CompiledGraph, error) {
	b := graph.NewBuilder(Annotation())

	b.Start(&graph.Node{
		ID:   "planner",
		Kind: graph.NodeAgent,
		Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
			prompt := plannerPrompt(userRequest)
			out, err := runner.Run(ctx, prompt)
			if err != nil {
				return graph.NodeResult{}, fmt.Errorf("planner: %w", err)
			}
			return graph.NodeResult{StateUpdate: map[string]any{"specDoc": out}}, nil
		},
	})

	b.Then(&graph.Node{
		ID:   "parse-tasks",
		Kind: graph.NodeTool,
		Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
			tasks := ParseTasks(graph.GetString(state, "specDoc"))
			return graph.NodeResult{StateUpdate: map[string]any{
				"tasks":        tasks,
				"currentTasks": tasks,
				"iteration":    0.0,
			}}, nil
		},
	})

	b.Loop(Until, MaxIterations, func(sub *graph.Builder) {
		sub.Then(&graph.Node{
			ID:   "select-ready-tasks",
			Kind: graph.NodeTool,
			Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
				ready := readyTasks(state)
				return graph.NodeResult{StateUpdate: map[string]any{"currentTasks": graph.AsList(ready)}}, nil
			},
		})
		sub.Then(&graph.Node{
			ID:   "worker",
			Kind: graph.NodeAgent,
			Fn:   workerNode(bridge),
		})
	})

	b.Then(&graph.Node{
		ID:   "reviewer",
		Kind: graph.NodeAgent,
		Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
			prompt := reviewerPrompt(userRequest, tasksOf(state), progressFilePath)
			out, err := runner.Run(ctx, prompt)
			if err != nil {
				return graph.NodeResult{}, fmt.Errorf("reviewer: %w", err)
			}
			result := ParseReviewResult(out)
			resultJSON, _ := json.Marshal(result)
			return graph.NodeResult{StateUpdate: map[string]any{"reviewResult": string(resultJSON)}}, nil
		},
	})

	b.If(func(state graph.State) bool {
		result := decodeReviewResult(graph.GetString(state, "reviewResult"))
		return NeedsFix(result)
	}).
		Then(&graph.Node{
			ID:   "fixer",
			Kind: graph.NodeAgent,
			Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
				result := decodeReviewResult(graph.GetString(state, "reviewResult"))
				prompt := fixerPrompt(result.Findings)
				if _, err := runner.Run(ctx, prompt); err != nil {
					return graph.NodeResult{}, fmt.Errorf("fixer: %w", err)
				}
				return graph.NodeResult{StateUpdate: map[string]any{"fixesApplied": true}}, nil
			},
		}).
		EndIf()

	b.Then(&graph.Node{
		ID:   "finish",
		Kind: graph.NodeTool,
		Fn: func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
			return graph.NodeResult{StateUpdate: map[string]any{"workflowActive": false}}, nil
		},
	})

	return b.Compile(graph.Config{Bridge: bridge})
}

func decodeReviewResult(raw string) ReviewResult {
	if raw == "" {
		return defaultReviewResult()
	}
	var r ReviewResult
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return defaultReviewResult()
	}
	return r
}

func plannerPrompt(userRequest string) string {
	return fmt.Sprintf(`Produce a JSON array of tasks for this request, with no surrounding prose.
Each element: {"id": string, "content": string, "status": "pending", "activeForm": string, "blockedBy": [string]?}.

Request:
%s`, userRequest)
}

func reviewerPrompt(userRequest string, tasks []map[string]any, progressFilePath string) string {
	var completed []string
	for _, t := range tasks {
		if isTerminalStatus(taskStatus(t)) {
			completed = append(completed, taskID(t))
		}
	}
	return fmt.Sprintf(`Review the completed work against the original request.
Completed tasks: %s
Original request: %s
Progress notes: %s

Respond with JSON: {"findings": [{"priority": "P0"|"P1"|"P2"|"P3", "message": string}], "overall_correctness": string, "overall_explanation": string}.`,
		strings.Join(completed, ", "), userRequest, progressFilePath)
}

func fixerPrompt(findings []Finding) string {
	sorted := SortFindingsByPriority(findings)
	var b strings.Builder
	b.WriteString("Fix the following issues, most severe first:\n")
	for _, f := range sorted {
		fmt.Fprintf(&b, "- [%s] %s\n", f.Priority, f.Message)
	}
	return b.String()
}

// workerNode spawns one sub-agent per loop iteration for the first task
// in currentTasks, tolerating failure without a node-level retry (spec
// §4.7: "custom to tolerate failure without retry").
func workerNode(bridge graph.SubAgentBridge) graph.NodeFunc {
	return func(ctx context.Context, state graph.State) (graph.NodeResult, error) {
		current := currentTasksOf(state)
		if len(current) == 0 {
			return graph.NodeResult{StateUpdate: map[string]any{"iteration": graph.GetFloat(state, "iteration") + 1}}, nil
		}
		task := current[0]
		id := taskID(task)

		instruction := workerInstruction(task, tasksOf(state))
		req := graph.SubagentRequest{AgentID: "worker-" + id, AgentName: "worker", Instruction: instruction}
		res, err := bridge.Spawn(ctx, req)

		newStatus := "completed"
		if err != nil || res == nil || !res.Success {
			newStatus = "error"
		}

		updated := updateTaskStatuses(tasksOf(state), taskIDsIn(current), newStatus)
		return graph.NodeResult{StateUpdate: map[string]any{
			"tasks":     graph.AsList(updated),
			"iteration": graph.GetFloat(state, "iteration") + 1,
		}}, nil
	}
}

func taskIDsIn(tasks []map[string]any) map[string]bool {
	out := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		out[taskID(t)] = true
	}
	return out
}

func updateTaskStatuses(tasks []map[string]any, ids map[string]bool, status string) []map[string]any {
	out := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		if ids[taskID(t)] {
			merged := make(map[string]any, len(t))
			for k, v := range t {
				merged[k] = v
			}
			merged[fieldStatus] = status
			out[i] = merged
		} else {
			out[i] = t
		}
	}
	return out
}

func workerInstruction(task map[string]any, allTasks []map[string]any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", graph.GetString(graph.State(task), fieldContent))

	deps := taskBlockedBy(task)
	if len(deps) > 0 {
		byID := make(map[string]map[string]any, len(allTasks))
		for _, t := range allTasks {
			byID[normalizeTaskRef(taskID(t))] = t
		}
		b.WriteString("Depends on:\n")
		for _, dep := range deps {
			if dt, ok := byID[normalizeTaskRef(dep)]; ok {
				fmt.Fprintf(&b, "- %s: %s\n", taskID(dt), graph.GetString(graph.State(dt), fieldContent))
			}
		}
	}

	var completedIDs []string
	for _, t := range allTasks {
		if isTerminalStatus(taskStatus(t)) {
			completedIDs = append(completedIDs, taskID(t))
		}
	}
	sort.Strings(completedIDs)
	if len(completedIDs) > 0 {
		fmt.Fprintf(&b, "Already completed: %s\n", strings.Join(completedIDs, ", "))
	}
	return b.String()
}
