package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, ch <-chan StepResult) []StepResult {
	t.Helper()
	var out []StepResult
	for r := range ch {
		require.NoError(t, r.Err)
		out = append(out, r)
	}
	return out
}

func TestGraph_LinearChain(t *testing.T) {
	b := NewBuilder(Annotation{})
	b.Start(&Node{ID: "a", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
		return NodeResult{StateUpdate: map[string]any{"x": 1.0}}, nil
	}})
	b.Then(&Node{ID: "b", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
		return NodeResult{StateUpdate: map[string]any{"x": GetFloat(s, "x") + 1}}, nil
	}})
	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	require.Len(t, steps, 2)
	assert.Equal(t, 2.0, steps[1].State["x"])
}

func TestGraph_IfElseMergeReachableFromBothBranches(t *testing.T) {
	for _, cond := range []bool{true, false} {
		b := NewBuilder(Annotation{})
		b.Start(&Node{ID: "start", Kind: NodeTool, Fn: noop})
		b.If(func(s State) bool { return GetBool(s, "flag") }).
			Then(&Node{ID: "then1", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				return NodeResult{StateUpdate: map[string]any{"branch": "then"}}, nil
			}}).
			Else().
			Then(&Node{ID: "else1", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				return NodeResult{StateUpdate: map[string]any{"branch": "else"}}, nil
			}}).
			EndIf().
			Then(&Node{ID: "after", Kind: NodeTool, Fn: noop})
		g, err := b.Compile(Config{})
		require.NoError(t, err)

		steps := drain(t, g.Run(context.Background(), State{"flag": cond}, RunOptions{}))
		last := steps[len(steps)-1]
		assert.Equal(t, "after", last.NodeID)
		if cond {
			assert.Equal(t, "then", last.State["branch"])
		} else {
			assert.Equal(t, "else", last.State["branch"])
		}
	}
}

func TestGraph_LoopRunsUntilConditionThenFallsThrough(t *testing.T) {
	b := NewBuilder(Annotation{})
	b.Start(&Node{ID: "start", Kind: NodeTool, Fn: noop})
	b.Loop(
		func(s State) bool { return GetFloat(s, "count") >= 3 },
		10,
		func(sub *Builder) {
			sub.Then(&Node{ID: "increment", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				return NodeResult{StateUpdate: map[string]any{"count": GetFloat(s, "count") + 1}}, nil
			}})
		},
	)
	b.Then(&Node{ID: "done", Kind: NodeTool, Fn: noop})

	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	last := steps[len(steps)-1]
	assert.Equal(t, "done", last.NodeID)
	assert.Equal(t, 3.0, last.State["count"])
}

func TestGraph_LoopHardCapMarksMaxIterationsReached(t *testing.T) {
	b := NewBuilder(Annotation{})
	b.Start(&Node{ID: "start", Kind: NodeTool, Fn: noop})
	b.Loop(
		func(s State) bool { return false }, // never satisfied
		5,
		func(sub *Builder) {
			sub.Then(&Node{ID: "body", Kind: NodeTool, Fn: noop})
		},
	)
	b.Then(&Node{ID: "done", Kind: NodeTool, Fn: noop})

	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	last := steps[len(steps)-1]
	assert.Equal(t, "done", last.NodeID)
	assert.Equal(t, true, last.State["maxIterationsReached"])
}

func TestGraph_LoopSkipsBodyEntirelyWhenAlreadySatisfied(t *testing.T) {
	b := NewBuilder(Annotation{})
	b.Start(&Node{ID: "start", Kind: NodeTool, Fn: noop})
	ran := false
	b.Loop(
		func(s State) bool { return true }, // already satisfied before the body ever runs
		5,
		func(sub *Builder) {
			sub.Then(&Node{ID: "body", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				ran = true
				return NodeResult{}, nil
			}})
		},
	)
	b.Then(&Node{ID: "done", Kind: NodeTool, Fn: noop})

	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	last := steps[len(steps)-1]
	assert.Equal(t, "done", last.NodeID)
	assert.False(t, ran, "loop body must not run when until() is already true")
	for _, s := range steps {
		assert.NotEqual(t, "body", s.NodeID)
	}
}

func TestGraph_ParallelBranchesMergeDeterministically(t *testing.T) {
	b := NewBuilder(Annotation{"results": ConcatReducer})
	b.Start(&Node{ID: "start", Kind: NodeTool, Fn: noop})
	b.Parallel(
		func(sub *Builder) {
			sub.Start(&Node{ID: "branchA", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				return NodeResult{StateUpdate: map[string]any{"results": []any{"a"}}}, nil
			}})
		},
		func(sub *Builder) {
			sub.Start(&Node{ID: "branchB", Kind: NodeTool, Fn: func(ctx context.Context, s State) (NodeResult, error) {
				return NodeResult{StateUpdate: map[string]any{"results": []any{"b"}}}, nil
			}})
		},
	)
	b.Then(&Node{ID: "after", Kind: NodeTool, Fn: noop})

	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	last := steps[len(steps)-1]
	results, _ := last.State["results"].([]any)
	assert.ElementsMatch(t, []any{"a", "b"}, results)
}

func TestGraph_RetryExhaustionInvokesCatchHandler(t *testing.T) {
	attempts := 0
	b := NewBuilder(Annotation{})
	b.Start(&Node{
		ID:   "flaky",
		Kind: NodeTool,
		Retry: RetryPolicy{MaxAttempts: 2, BackoffMs: 0},
		Fn: func(ctx context.Context, s State) (NodeResult, error) {
			attempts++
			return NodeResult{}, assert.AnError
		},
	})
	b.Catch(func(ctx context.Context, err error, s State) (State, error) {
		return Apply(s, Annotation{}, map[string]any{"recovered": true}), nil
	})
	g, err := b.Compile(Config{})
	require.NoError(t, err)

	steps := drain(t, g.Run(context.Background(), State{}, RunOptions{}))
	require.Len(t, steps, 1)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, true, steps[0].State["recovered"])
}

func TestGraph_CancellationStopsDequeuingFurtherNodes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(Annotation{})
	b.Start(&Node{ID: "a", Kind: NodeTool, Fn: noop})
	b.Then(&Node{ID: "b", Kind: NodeTool, Fn: noop})
	g, err := b.Compile(Config{})
	require.NoError(t, err)

	var last StepResult
	for r := range g.Run(ctx, State{}, RunOptions{}) {
		last = r
	}
	assert.True(t, last.Cancelled)
}
