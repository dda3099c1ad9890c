package graph

import "context"

// NodeKind classifies a node for scheduling and StepResult reporting.
type NodeKind string

const (
	NodeAgent            NodeKind = "agent"
	NodeTool             NodeKind = "tool"
	NodeDecision         NodeKind = "decision"
	NodeWait             NodeKind = "wait"
	NodeParallel         NodeKind = "parallel"
	NodeSubgraph         NodeKind = "subgraph"
	NodeSubagent         NodeKind = "subagent"
	NodeParallelSubagent NodeKind = "parallel_subagent"
	NodeMerge            NodeKind = "merge"
	NodeLoopCheck        NodeKind = "loop_check"
)

// NodeResult is what a node's Fn returns: a partial state update to be
// merged through the annotation's reducers, and an optional Goto override
// of the default "next linked node" edge.
type NodeResult struct {
	StateUpdate map[string]any
	Goto        string // empty = follow the default edge
}

// NodeFunc is the executable body of a node.
type NodeFunc func(ctx context.Context, state State) (NodeResult, error)

// RetryPolicy governs per-node retry on error. Zero value is "no retry"
// (MaxAttempts is normalized to 1 when the node runs).
type RetryPolicy struct {
	MaxAttempts       int
	BackoffMs         int
	BackoffMultiplier float64
}

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BackoffMultiplier <= 0 {
		p.BackoffMultiplier = 1
	}
	return p
}

// Node is one compiled unit of work in the graph.
type Node struct {
	ID    string
	Kind  NodeKind
	Fn    NodeFunc
	Retry RetryPolicy

	Next string // default successor; empty means terminal

	// Decision-node only: condition evaluated against state, selecting
	// ThenNext or ElseNext.
	Condition func(state State) bool
	ThenNext  string
	ElseNext  string

	// Parallel-node only: branch entry node ids, run concurrently, then
	// fall through to Next once all settle.
	Branches []string

	// Subagent/parallel-subagent node only.
	SubagentSpec     func(state State) SubagentRequest
	SubagentSpecList func(state State) []SubagentRequest
}

// SubagentRequest is the input to SubAgentBridge.Spawn.
type SubagentRequest struct {
	AgentID     string
	AgentName   string
	Instruction string
	Model       string
}
