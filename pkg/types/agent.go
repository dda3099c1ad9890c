package types

// AgentStatus is the lifecycle status of a sub-agent tree node.
type AgentStatus string

const (
	AgentPending     AgentStatus = "pending"
	AgentRunning     AgentStatus = "running"
	AgentBackground  AgentStatus = "background"
	AgentCompleted   AgentStatus = "completed"
	AgentError       AgentStatus = "error"
	AgentInterrupted AgentStatus = "interrupted"
)

// statusPriority orders AgentStatus for merge resolution; higher wins.
var statusPriority = map[AgentStatus]int{
	AgentPending:     0,
	AgentRunning:     1,
	AgentBackground:  2,
	AgentCompleted:   3,
	AgentInterrupted: 4,
	AgentError:       5,
}

// StatusPriority returns the merge priority of a status; unknown statuses
// sort below pending.
func StatusPriority(s AgentStatus) int {
	if p, ok := statusPriority[s]; ok {
		return p
	}
	return -1
}

// AgentRecord is the authoritative sub-agent tree element maintained by the
// tracker. AgentID starts out equal to TaskToolCallID (an eager placeholder)
// and is later rewritten to the backend-assigned subagent id; TaskToolCallID
// never changes and is the dedup/merge key.
type AgentRecord struct {
	AgentID        string      `json:"agentId"`
	TaskToolCallID string      `json:"taskToolCallId"`
	DisplayName    string      `json:"displayName"`
	TaskDescription string     `json:"taskDescription"`
	Status         AgentStatus `json:"status"`
	Background     bool        `json:"background"`
	StartedAt      string      `json:"startedAt"` // ISO-8601
	DurationMs     *int64      `json:"durationMs,omitempty"`
	CurrentTool    string      `json:"currentTool,omitempty"`
	ToolUseCount   int         `json:"toolUseCount"`
	Result         *string     `json:"result,omitempty"`
	ParentAgentID  *string     `json:"parentAgentId,omitempty"`
}

// Clone returns a deep copy of the record, safe for read-only sharing with
// the UI while the tracker keeps mutating its own copy.
func (a *AgentRecord) Clone() *AgentRecord {
	if a == nil {
		return nil
	}
	c := *a
	if a.DurationMs != nil {
		d := *a.DurationMs
		c.DurationMs = &d
	}
	if a.Result != nil {
		r := *a.Result
		c.Result = &r
	}
	if a.ParentAgentID != nil {
		p := *a.ParentAgentID
		c.ParentAgentID = &p
	}
	return &c
}

// SubagentResult is the terminal outcome of one bridge-spawned sub-agent,
// persisted to <sessionDir>/agents/<agentId>.json.
type SubagentResult struct {
	AgentID      string `json:"agentId"`
	AgentName    string `json:"agentName"`
	Output       string `json:"output"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
	ToolUseCount int    `json:"toolUseCount"`
	DurationMs   int64  `json:"durationMs"`
}
