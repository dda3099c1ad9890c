package types

// TaskStatus is the lifecycle status of a Ralph TaskItem.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskError      TaskStatus = "error"
)

// TaskItem is a single unit of work tracked by the Ralph workflow.
type TaskItem struct {
	ID         string     `json:"id"`
	Content    string     `json:"content"`
	Status     TaskStatus `json:"status"`
	ActiveForm string     `json:"activeForm"`
	BlockedBy  []string   `json:"blockedBy,omitempty"`
}

// WorkflowStatus is the lifecycle status of a WorkflowSession.
type WorkflowStatus string

const (
	WorkflowRunning   WorkflowStatus = "running"
	WorkflowPaused    WorkflowStatus = "paused"
	WorkflowCompleted WorkflowStatus = "completed"
	WorkflowFailed    WorkflowStatus = "failed"
)

// WorkflowSession is the per-/ralph-invocation metadata record, distinct
// from the backend conversation Session.
type WorkflowSession struct {
	SessionID   string            `json:"sessionId"`
	WorkflowName string           `json:"workflowName"`
	SessionDir  string            `json:"sessionDir"`
	CreatedAt   int64             `json:"createdAt"`
	LastUpdated int64             `json:"lastUpdated"`
	Status      WorkflowStatus    `json:"status"`
	NodeHistory []string          `json:"nodeHistory,omitempty"`
	Outputs     map[string]any    `json:"outputs,omitempty"`
}
