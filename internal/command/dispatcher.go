package command

import (
	"fmt"
	"sync"
)

// Dispatcher resolves parsed input to a registered CommandDefinition and
// runs it, applying the workflow-active concurrency guard of spec §4.5.
type Dispatcher struct {
	registry *Registry

	mu             sync.Mutex
	workflowActive bool
}

// NewDispatcher builds a Dispatcher over registry.
func NewDispatcher(registry *Registry) *Dispatcher {
	return &Dispatcher{registry: registry}
}

// Dispatch resolves name and executes it against ctx. A second workflow-
// class command while one is active is rejected with ErrWorkflowActive;
// non-workflow commands are always allowed through.
func (d *Dispatcher) Dispatch(name, args string, ctx *CommandContext) (CommandResult, error) {
	def, ok := d.registry.Lookup(name)
	if !ok {
		return CommandResult{Success: false, Message: fmt.Sprintf("unknown command: %s", name)}, nil
	}

	if def.WorkflowClass {
		d.mu.Lock()
		if d.workflowActive {
			d.mu.Unlock()
			return CommandResult{Success: false, Message: ErrWorkflowActive.Error()}, ErrWorkflowActive
		}
		d.workflowActive = true
		d.mu.Unlock()
	}

	result, err := def.Execute(args, ctx)

	if def.WorkflowClass {
		d.mu.Lock()
		d.workflowActive = false
		d.mu.Unlock()
	}

	if err != nil {
		return result, err
	}

	if result.StateUpdate != nil && ctx.UpdateWorkflowState != nil {
		ctx.UpdateWorkflowState(result.StateUpdate)
	}

	return result, nil
}

// DispatchMention implements the "@name ..." agent-mention form: it
// dispatches silently (errors are swallowed, matching "does not require
// awaiting") to the first registered command matching name.
func (d *Dispatcher) DispatchMention(name, args string, ctx *CommandContext) {
	_, _ = d.Dispatch(name, args, ctx)
}

// WorkflowActive reports whether a workflow-class command currently owns
// the dispatcher.
func (d *Dispatcher) WorkflowActive() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.workflowActive
}
