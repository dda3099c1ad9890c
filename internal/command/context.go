package command

import (
	"context"

	"github.com/flora131/atomic-sub005/pkg/types"
)

// SubagentSpec mirrors session.SubagentSpec without importing the session
// package, which would create an import cycle (session imports command for
// dispatch wiring in cmd/atomic).
type SubagentSpec struct {
	AgentID     string
	AgentName   string
	Instruction string
	Model       string
}

// CommandContext bridges UI/session state to a command handler (spec
// §4.5). Concrete fields are injected by the wiring layer (cmd/atomic);
// handlers only see this struct.
type CommandContext struct {
	Ctx      context.Context
	Session  *types.Session
	Workflow map[string]any // current workflow state snapshot

	AddMessage        func(msg *types.Message) error
	SendMessage        func(text string) error
	SendSilentMessage func(text string) error
	SpawnSubagent     func(prompt string) (string, error)
	SpawnSubagentParallel func(specs []SubagentSpec) ([]types.SubagentResult, error)
	StreamAndWait     func(text string) (string, error)
	WaitForUserInput  func(prompt string) (string, error)
	ClearContext      func() error
	SetTodoItems      func(items []types.TaskItem) error
	SetRalphSessionDir func(dir string)
	SetRalphSessionID  func(id string)
	SetRalphTaskIDs    func(ids []string)
	UpdateWorkflowState func(update map[string]any)
	SetMCPEnabled     func(name string, enabled bool)
}
