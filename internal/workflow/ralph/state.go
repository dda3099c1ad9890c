// Package ralph implements the concrete Ralph workflow graph (C7): a
// planner/parse-tasks decomposition phase, a select-ready-tasks/worker
// loop bounded by maxIterations, and a reviewer phase with a conditional
// fixer pass.
package ralph

import (
	"strings"

	"github.com/flora131/atomic-sub005/internal/graph"
)

// MaxIterations is the hard safety cap on the worker loop (spec §4.7,
// §8 invariant 4), independent of the until condition.
const MaxIterations = 100

// Annotation is the reducer set for RalphWorkflowState (spec §4.7):
// tasks/featureList merge by id/description, currentTasks replaces,
// debugReports/completedFeatures concat, everything else replaces.
func Annotation() graph.Annotation {
	return graph.Annotation{
		"tasks":             graph.MergeByIDReducer("id"),
		"featureList":       graph.MergeByIDReducer("description"),
		"currentTasks":      graph.ReplaceReducer,
		"debugReports":      graph.ConcatReducer,
		"completedFeatures": graph.ConcatReducer,
	}
}

// Task field names as stored in graph.State (map[string]any), matching
// types.TaskItem's JSON tags.
const (
	fieldID         = "id"
	fieldContent    = "content"
	fieldStatus     = "status"
	fieldActiveForm = "activeForm"
	fieldBlockedBy  = "blockedBy"
)

func taskID(t map[string]any) string     { s, _ := t[fieldID].(string); return s }
func taskStatus(t map[string]any) string { s, _ := t[fieldStatus].(string); return s }

func taskBlockedBy(t map[string]any) []string {
	raw, _ := t[fieldBlockedBy].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "complete", "done":
		return true
	default:
		return false
	}
}

func tasksOf(state graph.State) []map[string]any {
	raw := graph.GetList(state, "tasks")
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func currentTasksOf(state graph.State) []map[string]any {
	raw := graph.GetList(state, "currentTasks")
	out := make([]map[string]any, 0, len(raw))
	for _, v := range raw {
		if m, ok := v.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// allTasksTerminal reports whether every task has reached a terminal
// status (completed/complete/done/error).
func allTasksTerminal(state graph.State) bool {
	for _, t := range tasksOf(state) {
		status := taskStatus(t)
		if !isTerminalStatus(status) && status != "error" {
			return false
		}
	}
	return true
}

// hasActionableTasks reports whether any task is in_progress, or pending
// and ready (spec §4.7).
func hasActionableTasks(state graph.State) bool {
	ready := readyTasks(state)
	if len(ready) > 0 {
		return true
	}
	for _, t := range tasksOf(state) {
		if taskStatus(t) == "in_progress" {
			return true
		}
	}
	return false
}

// readyTasks returns tasks that are pending and have every blockedBy id
// (trimmed, lowercased, leading '#' stripped) resolved to a terminal task.
func readyTasks(state graph.State) []map[string]any {
	all := tasksOf(state)
	byID := make(map[string]map[string]any, len(all))
	for _, t := range all {
		byID[normalizeTaskRef(taskID(t))] = t
	}

	var ready []map[string]any
	for _, t := range all {
		if taskStatus(t) != "pending" {
			continue
		}
		blocked := false
		for _, dep := range taskBlockedBy(t) {
			depTask, ok := byID[normalizeTaskRef(dep)]
			if !ok || !isTerminalStatus(taskStatus(depTask)) {
				blocked = true
				break
			}
		}
		if !blocked {
			ready = append(ready, t)
		}
	}
	return ready
}

func normalizeTaskRef(id string) string {
	s := strings.TrimSpace(id)
	s = strings.TrimPrefix(s, "#")
	return strings.ToLower(s)
}

// Until is the worker loop's exit condition (spec §4.7).
func Until(state graph.State) bool {
	iteration := graph.GetFloat(state, "iteration")
	return allTasksTerminal(state) || iteration >= MaxIterations || !hasActionableTasks(state)
}
