package graph

import (
	"context"
	"fmt"
)

// condFrame tracks an open .If(...)/.Else(...)/.EndIf() block so nested
// chains can be resolved on EndIf.
type condFrame struct {
	decisionID string
	thenTail   string // last node id appended in the then-branch, "" if empty
	thenEmpty  bool
	elseTail   string // last node id appended in the else-branch, "" if empty
	elseEmpty  bool
	hasElse    bool
}

// loopFrame tracks an open .Loop(...) block.
type loopFrame struct {
	guardID       string
	bodyHeadID    string
	checkID       string
	maxIterations int
}

// Builder constructs a Graph via the chained DSL of spec §4.6:
// Start/Then/If/Else/EndIf/Loop/Parallel/Wait/Catch/End/Compile.
type Builder struct {
	ann   Annotation
	nodes map[string]*Node
	order []string

	startID string
	tail    string // id of the most recently appended node in the current branch

	// pendingEdge is set right after If()/Else() open a branch whose head
	// node is not yet known; the first node appended resolves it instead
	// of linking through tail.Next.
	pendingEdge func(to string)

	condStack []*condFrame
	loopStack []*loopFrame

	catchHandler CatchHandler

	autoID int
	err    error
}

// CatchHandler recovers from a node that exhausted its retry budget,
// returning a repaired state to resume from (or an error to abort).
type CatchHandler func(ctx context.Context, err error, state State) (State, error)

// NewBuilder starts an empty graph over the given reducer annotation.
func NewBuilder(ann Annotation) *Builder {
	return &Builder{ann: ann, nodes: make(map[string]*Node)}
}

func (b *Builder) nextAutoID(prefix string) string {
	b.autoID++
	return fmtNodeID(prefix, b.autoID)
}

func (b *Builder) addNode(n *Node) {
	b.nodes[n.ID] = n
	b.order = append(b.order, n.ID)
}

// connect wires to as the successor of wherever the builder currently is:
// through pendingEdge if a branch head is awaited, else through the
// current tail's Next field.
func (b *Builder) connect(to string) {
	if b.pendingEdge != nil {
		pe := b.pendingEdge
		b.pendingEdge = nil
		pe(to)
		return
	}
	if b.tail == "" || to == "" {
		return
	}
	if n, ok := b.nodes[b.tail]; ok && n.Next == "" {
		n.Next = to
	}
}

// Start declares the graph's entry node.
func (b *Builder) Start(n *Node) *Builder {
	if n.ID == "" {
		n.ID = b.nextAutoID(string(n.Kind))
	}
	b.addNode(n)
	b.startID = n.ID
	b.tail = n.ID
	return b
}

// Then appends n as the successor of the current position.
func (b *Builder) Then(n *Node) *Builder {
	if n.ID == "" {
		n.ID = b.nextAutoID(string(n.Kind))
	}
	b.addNode(n)
	b.connect(n.ID)
	b.tail = n.ID
	return b
}

// If opens a conditional block: condition is evaluated against state at
// runtime; the then-branch begins with whatever node is appended next via
// Then.
func (b *Builder) If(condition func(state State) bool) *Builder {
	decisionID := b.nextAutoID("decision")
	dn := &Node{ID: decisionID, Kind: NodeDecision, Condition: condition}
	b.addNode(dn)
	b.connect(decisionID)

	b.condStack = append(b.condStack, &condFrame{decisionID: decisionID})
	b.tail = ""
	b.pendingEdge = func(to string) { dn.ThenNext = to }
	return b
}

// Else switches to building the else-branch of the innermost open If.
func (b *Builder) Else() *Builder {
	if len(b.condStack) == 0 {
		b.err = fmt.Errorf("graph: Else without matching If")
		return b
	}
	f := b.condStack[len(b.condStack)-1]
	dn := b.nodes[f.decisionID]

	if b.pendingEdge != nil {
		f.thenEmpty = true
		b.pendingEdge = nil
	} else {
		f.thenTail = b.tail
	}
	f.hasElse = true

	b.tail = ""
	b.pendingEdge = func(to string) { dn.ElseNext = to }
	return b
}

// EndIf closes the innermost open If/Else, inserting a merge node both
// branches jump to exactly once.
func (b *Builder) EndIf() *Builder {
	if len(b.condStack) == 0 {
		b.err = fmt.Errorf("graph: EndIf without matching If")
		return b
	}
	f := b.condStack[len(b.condStack)-1]
	b.condStack = b.condStack[:len(b.condStack)-1]
	dn := b.nodes[f.decisionID]

	mergeID := b.nextAutoID("merge")
	b.addNode(&Node{ID: mergeID, Kind: NodeMerge})

	if f.hasElse {
		if b.pendingEdge != nil {
			f.elseEmpty = true
			b.pendingEdge = nil
			dn.ElseNext = mergeID
		} else {
			f.elseTail = b.tail
			b.linkTo(f.elseTail, mergeID)
		}
		if f.thenEmpty {
			dn.ThenNext = mergeID
		} else {
			b.linkTo(f.thenTail, mergeID)
		}
	} else {
		// No Else(): whatever was built after If() is the then-branch.
		if b.pendingEdge != nil {
			b.pendingEdge = nil
			dn.ThenNext = mergeID
		} else {
			f.thenTail = b.tail
			b.linkTo(f.thenTail, mergeID)
		}
		dn.ElseNext = mergeID
	}

	b.tail = mergeID
	return b
}

func (b *Builder) linkTo(from, to string) {
	if from == "" || to == "" {
		return
	}
	if n, ok := b.nodes[from]; ok && n.Next == "" {
		n.Next = to
	}
}

func noop(ctx context.Context, state State) (NodeResult, error) {
	return NodeResult{}, nil
}

// Loop opens a loop over the nodes appended by bodyBuilder. A loop_guard
// decision node evaluates until(state) before the body ever runs, falling
// straight through to whatever follows the loop if it is already true
// (so the body executes zero times on an already-satisfied condition); a
// loop_check node at the body's tail then jumps back to the body head
// while until(state) is false, falls through once true, and is
// hard-capped at maxIterations regardless of until.
func (b *Builder) Loop(until func(state State) bool, maxIterations int, bodyBuilder func(*Builder)) *Builder {
	bodyEntry := b.nextAutoID("loop_body_entry")
	b.addNode(&Node{ID: bodyEntry, Kind: NodeTool, Fn: noop})

	guardID := b.nextAutoID("loop_guard")
	guardNode := &Node{ID: guardID, Kind: NodeLoopCheck, Condition: until, ElseNext: bodyEntry}
	b.addNode(guardNode)
	b.connect(guardID)

	b.tail = bodyEntry
	bodyBuilder(b)
	bodyTail := b.tail

	checkID := b.nextAutoID("loop_check")
	checkNode := &Node{ID: checkID, Kind: NodeLoopCheck, Condition: until, ElseNext: bodyEntry}
	b.addNode(checkNode)
	b.linkTo(bodyTail, checkID)

	b.loopStack = append(b.loopStack, &loopFrame{guardID: guardID, bodyHeadID: bodyEntry, checkID: checkID, maxIterations: maxIterations})
	b.tail = checkID
	return b
}

// Parallel runs each branch (built by its own builder func) concurrently,
// joins with allSettled semantics, and falls through to whatever is
// appended next via Then.
func (b *Builder) Parallel(branchBuilders ...func(*Builder)) *Builder {
	parallelID := b.nextAutoID("parallel")
	node := &Node{ID: parallelID, Kind: NodeParallel}
	b.addNode(node)
	b.connect(parallelID)

	for _, bb := range branchBuilders {
		sub := NewBuilder(b.ann)
		sub.autoID = b.autoID
		bb(sub)
		b.autoID = sub.autoID
		for id, n := range sub.nodes {
			b.nodes[id] = n
		}
		b.order = append(b.order, sub.order...)
		if sub.startID != "" {
			node.Branches = append(node.Branches, sub.startID)
		}
	}
	b.tail = parallelID
	return b
}

// Wait appends a human-input wait node; prompt is surfaced to the caller
// driving the executor (the UI layer decides how to collect input).
func (b *Builder) Wait(prompt string) *Builder {
	id := b.nextAutoID("wait")
	b.addNode(&Node{ID: id, Kind: NodeWait, Fn: func(ctx context.Context, state State) (NodeResult, error) {
		return NodeResult{StateUpdate: map[string]any{"waitPrompt": prompt}}, nil
	}})
	b.connect(id)
	b.tail = id
	return b
}

// Catch registers a graph-level error handler invoked when a node
// exhausts its retry budget with no node-local recovery.
func (b *Builder) Catch(handler CatchHandler) *Builder {
	b.catchHandler = handler
	return b
}

// End finalizes the chain; no-op placeholder kept for DSL symmetry with
// the design-level builder API (spec §4.6).
func (b *Builder) End() *Builder { return b }

// Compile freezes the builder into a CompiledGraph, resolving the
// deferred loop_check ThenNext edges to whatever node follows the loop.
func (b *Builder) Compile(cfg Config) (*CompiledGraph, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.startID == "" {
		return nil, fmt.Errorf("graph: no start node")
	}
	for _, f := range b.loopStack {
		if guard, ok := b.nodes[f.guardID]; ok {
			if check, ok := b.nodes[f.checkID]; ok {
				guard.Next = check.Next
			}
		}
	}
	return &CompiledGraph{
		ann:          b.ann,
		nodes:        b.nodes,
		startID:      b.startID,
		catchHandler: b.catchHandler,
		loopCaps:     loopCapsOf(b.loopStack),
		checkpointer: cfg.Checkpointer,
		executionID:  cfg.ExecutionID,
	}, nil
}

func loopCapsOf(frames []*loopFrame) map[string]int {
	out := make(map[string]int, len(frames))
	for _, f := range frames {
		out[f.checkID] = f.maxIterations
	}
	return out
}

// Config configures a compiled graph's runtime concerns.
type Config struct {
	ExecutionID  string
	Checkpointer Checkpointer
	Bridge       SubAgentBridge
}
