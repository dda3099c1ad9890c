package graph

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// StepResult is emitted after each node completes (spec §4.6); streamed
// over the channel returned by Run.
type StepResult struct {
	NodeID      string
	NodeKind    NodeKind
	StateUpdate map[string]any
	State       State
	Timing      time.Duration
	Err         error
	Cancelled   bool
}

// CompiledGraph is the immutable, executable form of a Builder chain.
type CompiledGraph struct {
	ann          Annotation
	nodes        map[string]*Node
	startID      string
	catchHandler CatchHandler
	loopCaps     map[string]int // checkID -> maxIterations

	checkpointer Checkpointer
	executionID  string
}

// Bridge returns the SubAgentBridge to use for subagent/parallel_subagent
// nodes; set via RunOptions since the Bridge is a runtime dependency, not
// a compile-time one (spec: "injected into compiled.config.runtime").
type RunOptions struct {
	Bridge SubAgentBridge
}

// Run executes the graph to completion (or cancellation), streaming a
// StepResult after every node. The returned channel is closed when the
// run ends; callers should drain it to avoid leaking the executor
// goroutine.
func (g *CompiledGraph) Run(ctx context.Context, initial State, opts RunOptions) <-chan StepResult {
	out := make(chan StepResult, 1)
	go g.run(ctx, initial, opts, out)
	return out
}

func (g *CompiledGraph) run(ctx context.Context, initial State, opts RunOptions, out chan<- StepResult) {
	defer close(out)

	state := initial.Clone()
	if state == nil {
		state = State{}
	}
	var history []string
	loopCounts := make(map[string]int)

	current := g.startID
	for current != "" {
		select {
		case <-ctx.Done():
			out <- StepResult{NodeID: current, Cancelled: true, State: state}
			return
		default:
		}

		node, ok := g.nodes[current]
		if !ok {
			out <- StepResult{NodeID: current, Err: fmt.Errorf("graph: unknown node %q", current), State: state}
			return
		}

		var result NodeResult
		var err error
		var elapsed time.Duration

		switch node.Kind {
		case NodeDecision:
			if node.Condition != nil && node.Condition(state) {
				current = node.ThenNext
			} else {
				current = node.ElseNext
			}
			history = append(history, node.ID)
			g.checkpoint(ctx, state, history, 0)
			continue

		case NodeLoopCheck:
			afterLoop := node.ThenNext
			if afterLoop == "" {
				afterLoop = node.Next
			}
			maxIter := g.loopCaps[node.ID]
			loopCounts[node.ID]++
			if maxIter > 0 && loopCounts[node.ID] >= maxIter {
				state = Apply(state, g.ann, map[string]any{"maxIterationsReached": true})
				out <- StepResult{NodeID: node.ID, NodeKind: node.Kind, State: state}
				current = afterLoop
				history = append(history, node.ID)
				continue
			}
			if node.Condition != nil && node.Condition(state) {
				current = afterLoop
			} else {
				current = node.ElseNext
			}
			history = append(history, node.ID)
			continue

		case NodeParallel:
			result, err = g.runParallel(ctx, node, state, opts)

		case NodeSubagent:
			result, err = g.runSubagent(ctx, node, state, opts)

		case NodeParallelSubagent:
			result, err = g.runParallelSubagent(ctx, node, state, opts)

		case NodeMerge:
			result = NodeResult{}

		default:
			start := time.Now()
			result, err = g.runWithRetry(ctx, node, state)
			elapsed = time.Since(start)
		}

		if err != nil {
			if g.catchHandler != nil {
				recovered, cerr := g.catchHandler(ctx, err, state)
				if cerr == nil {
					state = recovered
					out <- StepResult{NodeID: node.ID, NodeKind: node.Kind, State: state}
					current = node.Next
					history = append(history, node.ID)
					continue
				}
				err = cerr
			}
			out <- StepResult{NodeID: node.ID, NodeKind: node.Kind, State: state, Err: err}
			return
		}

		if len(result.StateUpdate) > 0 {
			state = Apply(state, g.ann, result.StateUpdate)
		}
		state = Apply(state, g.ann, map[string]any{"lastUpdated": nowMarker()})
		history = append(history, node.ID)
		g.checkpoint(ctx, state, history, loopCounts[node.ID])

		out <- StepResult{NodeID: node.ID, NodeKind: node.Kind, StateUpdate: result.StateUpdate, State: state, Timing: elapsed}

		if result.Goto != "" {
			current = result.Goto
		} else {
			current = node.Next
		}
	}
}

func (g *CompiledGraph) checkpoint(ctx context.Context, state State, history []string, iteration int) {
	if g.checkpointer == nil {
		return
	}
	_ = g.checkpointer.Put(ctx, g.executionID, Snapshot{State: state, NodeHistory: append([]string{}, history...), Iteration: iteration})
}

// runWithRetry runs node.Fn, retrying up to Retry.MaxAttempts times with
// exponential backoff on error.
func (g *CompiledGraph) runWithRetry(ctx context.Context, node *Node, state State) (NodeResult, error) {
	if node.Fn == nil {
		return NodeResult{}, nil
	}
	policy := node.Retry.normalized()
	backoff := time.Duration(policy.BackoffMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result, err := node.Fn(ctx, state)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt == policy.MaxAttempts {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return NodeResult{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * policy.BackoffMultiplier)
		}
	}
	return NodeResult{}, fmt.Errorf("node %s: %w", node.ID, lastErr)
}

// runParallel executes node.Branches as independent sub-chains with
// allSettled semantics (a failing branch does not cancel siblings),
// merging every branch's final state update through the annotation in
// deterministic branch-declaration order.
func (g *CompiledGraph) runParallel(ctx context.Context, node *Node, state State, opts RunOptions) (NodeResult, error) {
	type branchOutcome struct {
		update map[string]any
		err    error
	}
	outcomes := make([]branchOutcome, len(node.Branches))

	g2, gctx := errgroup.WithContext(context.Background()) // allSettled: don't let one branch cancel siblings
	_ = gctx
	for i, headID := range node.Branches {
		i, headID := i, headID
		g2.Go(func() error {
			merged := g.runBranch(ctx, headID, state)
			outcomes[i] = merged
			return nil
		})
	}
	_ = g2.Wait()

	combined := state
	for _, o := range outcomes {
		if o.err != nil {
			continue
		}
		combined = Apply(combined, g.ann, o.update)
	}
	return NodeResult{StateUpdate: diffUpdate(state, combined)}, nil
}

// runBranch walks a linear (non-branching-further) chain starting at
// headID until it terminates (Next == ""), accumulating state updates.
func (g *CompiledGraph) runBranch(ctx context.Context, headID string, state State) struct {
	update map[string]any
	err    error
} {
	type outcome = struct {
		update map[string]any
		err    error
	}
	acc := State{}
	local := state
	current := headID
	for current != "" {
		node, ok := g.nodes[current]
		if !ok {
			return outcome{err: fmt.Errorf("graph: unknown branch node %q", current)}
		}
		result, err := g.runWithRetry(ctx, node, local)
		if err != nil {
			return outcome{update: acc, err: err}
		}
		if len(result.StateUpdate) > 0 {
			local = Apply(local, g.ann, result.StateUpdate)
			acc = Apply(acc, g.ann, result.StateUpdate)
		}
		if result.Goto != "" {
			current = result.Goto
		} else {
			current = node.Next
		}
	}
	return outcome{update: acc}
}

func (g *CompiledGraph) runSubagent(ctx context.Context, node *Node, state State, opts RunOptions) (NodeResult, error) {
	if opts.Bridge == nil || node.SubagentSpec == nil {
		return NodeResult{}, fmt.Errorf("node %s: subagent node requires a bridge and spec", node.ID)
	}
	req := node.SubagentSpec(state)
	res, err := opts.Bridge.Spawn(ctx, req)
	if err != nil {
		return NodeResult{}, err
	}
	return NodeResult{StateUpdate: map[string]any{"lastSubagentResult": res}}, nil
}

func (g *CompiledGraph) runParallelSubagent(ctx context.Context, node *Node, state State, opts RunOptions) (NodeResult, error) {
	if opts.Bridge == nil || node.SubagentSpecList == nil {
		return NodeResult{}, fmt.Errorf("node %s: parallel_subagent node requires a bridge and spec list", node.ID)
	}
	reqs := node.SubagentSpecList(state)
	res, err := opts.Bridge.SpawnParallel(ctx, reqs)
	if err != nil {
		return NodeResult{}, err
	}
	return NodeResult{StateUpdate: map[string]any{"lastSubagentResults": res}}, nil
}

func diffUpdate(before, after State) map[string]any {
	out := make(map[string]any)
	for k, v := range after {
		if bv, ok := before[k]; !ok || !equalAny(bv, v) {
			out[k] = v
		}
	}
	return out
}

func equalAny(a, b any) bool {
	return fmt.Sprint(a) == fmt.Sprint(b)
}

// nowMarker exists so state's lastUpdated field is driven from an
// injectable clock; callers running inside a workflow engine that forbids
// wall-clock reads (e.g. scripted test harnesses) can override it.
var nowMarker = func() int64 { return time.Now().UnixMilli() }
