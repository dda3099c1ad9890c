// Package tracker maintains the authoritative sub-agent tree: the single
// writer over Map<AgentID, AgentRecord> that the UI renders from. It
// correlates eager tool-start placeholders with the real subagent id a
// backend later assigns, and enforces the background-preservation
// exception so a background task's tool.complete never masquerades as the
// sub-agent finishing.
package tracker

import (
	"time"

	"github.com/flora131/atomic-sub005/internal/event"
	"github.com/flora131/atomic-sub005/pkg/types"
)

// command is an internal closure dispatched to the tracker's single
// goroutine so every map mutation is serialized without a mutex.
type command func(t *state)

// state is the tracker's private, single-owner mutable state.
type state struct {
	agents  map[string]*types.AgentRecord // agentId -> record
	byTask  map[string]string             // taskToolCallId -> agentId
	onDrain []func()                      // callbacks fired when foreground set empties
}

// Tracker serializes all agent-tree mutation through one goroutine so
// adapters running on separate goroutines never race on the map.
type Tracker struct {
	cmds chan command
	done chan struct{}
}

// New starts a Tracker's serial command loop.
func New() *Tracker {
	t := &Tracker{
		cmds: make(chan command, 256),
		done: make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *Tracker) run() {
	st := &state{
		agents: make(map[string]*types.AgentRecord),
		byTask: make(map[string]string),
	}
	for {
		select {
		case cmd := <-t.cmds:
			cmd(st)
		case <-t.done:
			return
		}
	}
}

// Close stops the tracker's command loop.
func (t *Tracker) Close() {
	close(t.done)
}

// do submits cmd and blocks until it has run.
func (t *Tracker) do(cmd func(*state)) {
	done := make(chan struct{})
	t.cmds <- func(st *state) {
		cmd(st)
		close(done)
	}
	<-done
}

// Snapshot returns a read-only, deep-copied view of every agent record,
// suitable for handing to a UI render cycle (copy-on-write at the map root).
func (t *Tracker) Snapshot() []*types.AgentRecord {
	var out []*types.AgentRecord
	t.do(func(st *state) {
		out = make([]*types.AgentRecord, 0, len(st.agents))
		for _, rec := range st.agents {
			out = append(out, rec.Clone())
		}
	})
	return out
}

// Get returns a copy of the record for agentID, if any.
func (t *Tracker) Get(agentID string) (*types.AgentRecord, bool) {
	var out *types.AgentRecord
	var ok bool
	t.do(func(st *state) {
		rec, found := st.agents[agentID]
		ok = found
		if found {
			out = rec.Clone()
		}
	})
	return out, ok
}

// Count returns the number of known agent records.
func (t *Tracker) Count() int {
	var n int
	t.do(func(st *state) { n = len(st.agents) })
	return n
}

// ForegroundActive reports whether any non-background, non-terminal record
// is still active — the deferred-completion gate the Session Controller
// consults before firing pendingCompletion.
func (t *Tracker) ForegroundActive() bool {
	var active bool
	t.do(func(st *state) {
		for _, rec := range st.agents {
			if rec.Background {
				continue
			}
			switch rec.Status {
			case types.AgentPending, types.AgentRunning:
				active = true
			}
		}
	})
	return active
}

// OnDrain registers fn to run the next time ForegroundActive transitions to
// false after having been true. Used by the Session Controller to fire a
// deferred completion exactly once.
func (t *Tracker) OnDrain(fn func()) {
	t.do(func(st *state) {
		st.onDrain = append(st.onDrain, fn)
	})
}

func (t *Tracker) checkDrain(st *state) {
	if len(st.onDrain) == 0 {
		return
	}
	for _, rec := range st.agents {
		if rec.Background {
			continue
		}
		switch rec.Status {
		case types.AgentPending, types.AgentRunning:
			return
		}
	}
	callbacks := st.onDrain
	st.onDrain = nil
	for _, cb := range callbacks {
		cb()
	}
}

// HandleToolStart implements the eager-placeholder protocol: when
// tool.start arrives for a Task-tool invocation, insert a placeholder
// record keyed agentId == taskToolCallId.
func (t *Tracker) HandleToolStart(ev event.UnifiedEvent) {
	p, ok := ev.Payload.(event.ToolStartPayload)
	if !ok {
		return
	}
	t.do(func(st *state) {
		if _, exists := st.byTask[p.ToolCallID]; exists {
			return
		}
		background := p.Mode == event.ToolModeBackground || p.Mode == event.ToolModeAsync
		status := types.AgentRunning
		if background {
			status = types.AgentBackground
		}
		rec := &types.AgentRecord{
			AgentID:        p.ToolCallID,
			TaskToolCallID: p.ToolCallID,
			DisplayName:    p.ToolName,
			Status:         status,
			Background:     background,
			StartedAt:      time.Now().UTC().Format(time.RFC3339),
		}
		st.agents[rec.AgentID] = rec
		st.byTask[p.ToolCallID] = rec.AgentID
	})
}

// HandleSubagentStart performs the eager-placeholder merge documented in
// mergeOrInsertAgent.
func (t *Tracker) HandleSubagentStart(ev event.UnifiedEvent) {
	p, ok := ev.Payload.(event.SubagentStartPayload)
	if !ok {
		return
	}
	t.do(func(st *state) {
		mergeOrInsertAgent(st, p.TaskToolCallID, p.SubagentID, p.SubagentType, p.DisplayName)
	})
}

// mergeOrInsertAgent is the single most bug-prone algorithm in the tracker
// (spec §9): it merges the eager placeholder created at tool.start with the
// real subagentId a backend assigns at subagent.start, or inserts a fresh
// record if no placeholder exists (adapter lag or a backend that never
// emits tool.start for sub-agent spawns).
func mergeOrInsertAgent(st *state, taskToolCallID, subagentID, subagentType, displayName string) {
	placeholderID, hasPlaceholder := st.byTask[taskToolCallID]
	if !hasPlaceholder {
		// Case (b): real id without a prior placeholder. Insert fresh,
		// non-background per spec §4.4 clause 3.
		rec := &types.AgentRecord{
			AgentID:        subagentID,
			TaskToolCallID: taskToolCallID,
			DisplayName:    firstNonEmpty(displayName, subagentType),
			Status:         types.AgentRunning,
			Background:     false,
			StartedAt:      time.Now().UTC().Format(time.RFC3339),
		}
		st.agents[subagentID] = rec
		st.byTask[taskToolCallID] = subagentID
		return
	}

	existing, ok := st.agents[placeholderID]
	if !ok {
		// Index pointed at a record that's gone; treat as insert.
		delete(st.byTask, taskToolCallID)
		mergeOrInsertAgent(st, taskToolCallID, subagentID, subagentType, displayName)
		return
	}

	// Case (a)/(c): rename placeholder -> real id, preserving Background
	// and StartedAt, upgrading status per the priority table.
	merged := existing.Clone()
	if merged.AgentID != subagentID {
		delete(st.agents, merged.AgentID)
		merged.AgentID = subagentID
	}
	if displayName != "" {
		merged.DisplayName = displayName
	} else if merged.DisplayName == "" {
		merged.DisplayName = subagentType
	}
	merged.Status = upgradeStatus(merged.Status, types.AgentRunning)
	st.agents[subagentID] = merged
	st.byTask[taskToolCallID] = subagentID
}

// upgradeStatus returns whichever of current/incoming has higher priority,
// per the status-priority table (spec §4.4). Ties keep current.
func upgradeStatus(current, incoming types.AgentStatus) types.AgentStatus {
	if types.StatusPriority(incoming) > types.StatusPriority(current) {
		return incoming
	}
	return current
}

// HandleToolComplete applies the premature-completion fix (spec §4.4,
// critical): a background record's tool.complete never transitions status
// away from background. Only subagent.complete may do that.
func (t *Tracker) HandleToolComplete(ev event.UnifiedEvent) {
	p, ok := ev.Payload.(event.ToolCompletePayload)
	if !ok {
		return
	}
	t.do(func(st *state) {
		agentID, found := st.byTask[p.ToolCallID]
		if !found {
			return
		}
		rec, ok := st.agents[agentID]
		if !ok {
			return
		}
		merged := rec.Clone()
		merged.CurrentTool = ""
		if p.ToolResult != "" {
			result := p.ToolResult
			merged.Result = &result
		}
		if merged.Background {
			// Premature-completion fix: status stays background.
			st.agents[agentID] = merged
			return
		}
		if p.Error != "" {
			merged.Status = upgradeStatus(merged.Status, types.AgentError)
		} else {
			merged.Status = upgradeStatus(merged.Status, types.AgentCompleted)
		}
		st.agents[agentID] = merged
		t.checkDrain(st)
	})
}

// HandleSubagentUpdate records an intermediate sub-agent progress update.
func (t *Tracker) HandleSubagentUpdate(ev event.UnifiedEvent) {
	p, ok := ev.Payload.(event.SubagentUpdatePayload)
	if !ok {
		return
	}
	t.do(func(st *state) {
		rec, ok := st.agents[p.SubagentID]
		if !ok {
			return
		}
		merged := rec.Clone()
		merged.CurrentTool = p.CurrentTool
		st.agents[p.SubagentID] = merged
	})
}

// HandleSubagentComplete is the only event allowed to move a background
// record out of background status.
func (t *Tracker) HandleSubagentComplete(ev event.UnifiedEvent) {
	p, ok := ev.Payload.(event.SubagentCompletePayload)
	if !ok {
		return
	}
	t.do(func(st *state) {
		rec, ok := st.agents[p.SubagentID]
		if !ok {
			return
		}
		merged := rec.Clone()
		if p.Result != "" {
			result := p.Result
			merged.Result = &result
		}
		target := types.AgentCompleted
		if !p.Success {
			target = types.AgentError
		}
		merged.Status = upgradeStatus(merged.Status, target)
		st.agents[p.SubagentID] = merged
		t.checkDrain(st)
	})
}

// Dedup merges uncorrelated records (no shared TaskToolCallID) that share
// DisplayName, a non-generic TaskDescription, and Background flag — the
// secondary dedup rule of spec §4.4, distinct from the primary
// taskToolCallId merge done in mergeOrInsertAgent.
func (t *Tracker) Dedup() {
	t.do(func(st *state) {
		type key struct {
			name, desc string
			background bool
		}
		seen := make(map[key]string) // key -> agentId kept
		for id, rec := range st.agents {
			if rec.TaskDescription == "" {
				continue
			}
			k := key{rec.DisplayName, rec.TaskDescription, rec.Background}
			if keptID, ok := seen[k]; ok {
				kept := st.agents[keptID]
				merged := kept.Clone()
				merged.Status = upgradeStatus(merged.Status, rec.Status)
				st.agents[keptID] = merged
				delete(st.agents, id)
				for task, aid := range st.byTask {
					if aid == id {
						st.byTask[task] = keptID
					}
				}
				continue
			}
			seen[k] = id
		}
	})
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
