package backend

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/flora131/atomic-sub005/internal/event"
)

// HookPreToolUse is the native payload of a PreToolUse hook callback.
type HookPreToolUse struct {
	ToolCallID string         `json:"tool_call_id"`
	ToolName   string         `json:"tool_name"`
	ToolInput  map[string]any `json:"tool_input"`
}

// HookPostToolUse is the native payload of a PostToolUse hook callback.
type HookPostToolUse struct {
	ToolCallID   string `json:"tool_call_id"`
	ToolResponse string `json:"tool_response"`
	Error        string `json:"error,omitempty"`
}

// HookSubagentStart is the native payload of a SubagentStart hook callback.
type HookSubagentStart struct {
	TaskToolCallID string `json:"task_tool_call_id"`
	AgentID        string `json:"agent_id"`
	AgentType      string `json:"agent_type"`
}

// HookSubagentStop is the native payload of a SubagentStop hook callback.
type HookSubagentStop struct {
	AgentID string `json:"agent_id"`
	Success bool   `json:"success"`
	Result  string `json:"result,omitempty"`
}

// HookAdapter translates a backend's synchronous pre/post tool and
// sub-agent hooks into the unified event set. PreToolUse -> tool.start,
// PostToolUse -> tool.complete, SubagentStart -> subagent.start,
// SubagentStop -> subagent.complete.
type HookAdapter struct {
	mu       sync.Mutex
	seq      event.SequenceGenerator
	sessions map[string]chan event.UnifiedEvent
	handlers map[event.UnifiedType][]event.UnifiedHandler
}

// NewHookAdapter constructs a HookAdapter ready to register hook callbacks.
func NewHookAdapter() *HookAdapter {
	return &HookAdapter{
		sessions: make(map[string]chan event.UnifiedEvent),
		handlers: make(map[event.UnifiedType][]event.UnifiedHandler),
	}
}

func (h *HookAdapter) CreateSession(ctx context.Context, cfg SessionConfig) (*BackendSession, error) {
	id := fmt.Sprintf("hook-%d", h.seq.Next())
	h.mu.Lock()
	h.sessions[id] = make(chan event.UnifiedEvent, 64)
	h.mu.Unlock()
	h.emit(id, event.UnifiedEvent{
		Type:      event.SessionStart,
		SessionID: id,
		Sequence:  h.seq.Next(),
		Payload:   event.SessionStartPayload{BackendKind: "hook", Model: cfg.Model},
	})
	return &BackendSession{ID: id}, nil
}

func (h *HookAdapter) Send(ctx context.Context, sessionID string, text string) error {
	return retryTransient(ctx, isTransientHookErr, func() error {
		return nil
	})
}

func (h *HookAdapter) Stream(ctx context.Context, sessionID string) (<-chan event.UnifiedEvent, error) {
	h.mu.Lock()
	ch, ok := h.sessions[sessionID]
	h.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("hook adapter: unknown session %q", sessionID)
	}
	return ch, nil
}

func (h *HookAdapter) Destroy(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.sessions[sessionID]; ok {
		close(ch)
		delete(h.sessions, sessionID)
	}
	return nil
}

func (h *HookAdapter) On(t event.UnifiedType, fn event.UnifiedHandler) Unsubscribe {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[t] = append(h.handlers[t], fn)
	idx := len(h.handlers[t]) - 1
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if idx < len(h.handlers[t]) {
			h.handlers[t] = append(h.handlers[t][:idx], h.handlers[t][idx+1:]...)
		}
	}
}

func (h *HookAdapter) MCPServerStatus(ctx context.Context) ([]MCPStatus, error) {
	return nil, nil
}

func (h *HookAdapter) emit(sessionID string, ev event.UnifiedEvent) {
	h.mu.Lock()
	ch, ok := h.sessions[sessionID]
	handlers := append([]event.UnifiedHandler(nil), h.handlers[ev.Type]...)
	h.mu.Unlock()
	if ok {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("sessionId", sessionID).Msg("hook adapter: event channel full, dropping")
		}
	}
	for _, fn := range handlers {
		event.DispatchUnified(ev, fn)
	}
}

// OnPreToolUse is the PreToolUse hook callback; it emits tool.start.
func (h *HookAdapter) OnPreToolUse(sessionID string, in HookPreToolUse) {
	mode := event.ToolModeSync
	if m, ok := in.ToolInput["mode"].(string); ok {
		switch m {
		case "background":
			mode = event.ToolModeBackground
		case "async":
			mode = event.ToolModeAsync
		}
	}
	h.emit(sessionID, event.UnifiedEvent{
		Type:      event.ToolStart,
		SessionID: sessionID,
		Sequence:  h.seq.Next(),
		Payload: event.ToolStartPayload{
			ToolCallID: in.ToolCallID,
			ToolName:   in.ToolName,
			ToolInput:  in.ToolInput,
			Mode:       mode,
		},
	})
}

// OnPostToolUse is the PostToolUse hook callback; it emits tool.complete.
func (h *HookAdapter) OnPostToolUse(sessionID string, in HookPostToolUse) {
	h.emit(sessionID, event.UnifiedEvent{
		Type:      event.ToolComplete,
		SessionID: sessionID,
		Sequence:  h.seq.Next(),
		Payload: event.ToolCompletePayload{
			ToolCallID: in.ToolCallID,
			ToolResult: in.ToolResponse,
			Error:      in.Error,
		},
	})
}

// OnSubagentStart is the SubagentStart hook callback; it emits subagent.start.
func (h *HookAdapter) OnSubagentStart(sessionID string, in HookSubagentStart) {
	h.emit(sessionID, event.UnifiedEvent{
		Type:      event.SubagentStart,
		SessionID: sessionID,
		Sequence:  h.seq.Next(),
		Payload: event.SubagentStartPayload{
			TaskToolCallID: in.TaskToolCallID,
			SubagentID:     in.AgentID,
			SubagentType:   in.AgentType,
		},
	})
}

// OnSubagentStop is the SubagentStop hook callback; it emits subagent.complete.
func (h *HookAdapter) OnSubagentStop(sessionID string, in HookSubagentStop) {
	h.emit(sessionID, event.UnifiedEvent{
		Type:      event.SubagentComplete,
		SessionID: sessionID,
		Sequence:  h.seq.Next(),
		Payload: event.SubagentCompletePayload{
			SubagentID: in.AgentID,
			Success:    in.Success,
			Result:     in.Result,
		},
	})
}

func isTransientHookErr(err error) bool {
	return err != nil
}
