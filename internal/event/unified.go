package event

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// UnifiedType is one of the closed set of lifecycle event types shared by
// every backend adapter, the Session Controller, and the Sub-Agent Tracker.
type UnifiedType string

const (
	SessionStart        UnifiedType = "session.start"
	SessionIdle         UnifiedType = "session.idle"
	SessionError        UnifiedType = "session.error"
	MessageDelta        UnifiedType = "message.delta"
	MessageComplete     UnifiedType = "message.complete"
	ToolStart           UnifiedType = "tool.start"
	ToolUpdate          UnifiedType = "tool.update"
	ToolComplete        UnifiedType = "tool.complete"
	SubagentStart       UnifiedType = "subagent.start"
	SubagentUpdate      UnifiedType = "subagent.update"
	SubagentComplete    UnifiedType = "subagent.complete"
	PermissionRequested UnifiedType = "permission.requested"
	Usage               UnifiedType = "usage"
)

// UnifiedEvent is the tagged union published by every backend adapter.
// Sequence is assigned by the adapter and is monotonic per SessionID.
type UnifiedEvent struct {
	Type      UnifiedType `json:"type"`
	SessionID string      `json:"sessionId"`
	Sequence  uint64      `json:"sequence"`
	Payload   any         `json:"payload"`
}

// SessionStartPayload carries the backend-reported startup info.
type SessionStartPayload struct {
	BackendKind string `json:"backendKind"`
	Model       string `json:"model,omitempty"`
}

// SessionErrorPayload carries a terminal backend error.
type SessionErrorPayload struct {
	Message string `json:"message"`
}

// MessageDeltaPayload is an incremental text append to the streaming message.
type MessageDeltaPayload struct {
	MessageID string `json:"messageId"`
	Text      string `json:"text"`
}

// MessageCompletePayload marks end-of-stream for a message.
type MessageCompletePayload struct {
	MessageID string `json:"messageId"`
}

// ToolMode distinguishes synchronous from background/async tool invocations.
type ToolMode string

const (
	ToolModeSync       ToolMode = "sync"
	ToolModeBackground ToolMode = "background"
	ToolModeAsync      ToolMode = "async"
)

// ToolStartPayload is emitted when a tool invocation begins.
type ToolStartPayload struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	ToolInput  map[string]any `json:"toolInput,omitempty"`
	Mode       ToolMode       `json:"mode,omitempty"`
}

// ToolUpdatePayload is an intermediate tool progress update.
type ToolUpdatePayload struct {
	ToolCallID string `json:"toolCallId"`
	Detail     string `json:"detail,omitempty"`
}

// ToolCompletePayload is emitted when a tool invocation terminates.
type ToolCompletePayload struct {
	ToolCallID string `json:"toolCallId"`
	ToolResult string `json:"toolResult,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SubagentStartPayload is emitted when a backend reports a sub-agent began.
type SubagentStartPayload struct {
	TaskToolCallID string `json:"taskToolCallId"`
	SubagentID     string `json:"subagentId"`
	SubagentType   string `json:"subagentType,omitempty"`
	DisplayName    string `json:"displayName,omitempty"`
}

// SubagentUpdatePayload is an intermediate sub-agent progress update.
type SubagentUpdatePayload struct {
	SubagentID  string `json:"subagentId"`
	CurrentTool string `json:"currentTool,omitempty"`
}

// SubagentCompletePayload is emitted when a sub-agent finishes.
type SubagentCompletePayload struct {
	SubagentID string `json:"subagentId"`
	Success    bool   `json:"success"`
	Result     string `json:"result,omitempty"`
}

// PermissionRequestedPayload is emitted when the backend requires a
// permission decision before proceeding.
type PermissionRequestedPayload struct {
	ID      string   `json:"id"`
	Kind    string   `json:"kind"` // "bash" | "edit" | "external_directory"
	Pattern []string `json:"pattern,omitempty"`
	Title   string   `json:"title,omitempty"`
}

// UsagePayload reports token accounting for the current turn.
type UsagePayload struct {
	InputTokens  int `json:"inputTokens"`
	OutputTokens int `json:"outputTokens"`
}

// SequenceGenerator assigns a monotonic per-session sequence number.
// Adapters own one generator per Session.
type SequenceGenerator struct {
	n uint64
}

// Next returns the next sequence number, starting at 1.
func (g *SequenceGenerator) Next() uint64 {
	return atomic.AddUint64(&g.n, 1)
}

// UnifiedHandler receives dispatched unified events.
type UnifiedHandler func(UnifiedEvent)

// DispatchUnified routes a unified event to the handler appropriate to its
// type, logging and no-oping on anything outside the closed set instead of
// panicking.
func DispatchUnified(ev UnifiedEvent, h UnifiedHandler) {
	switch ev.Type {
	case SessionStart, SessionIdle, SessionError,
		MessageDelta, MessageComplete,
		ToolStart, ToolUpdate, ToolComplete,
		SubagentStart, SubagentUpdate, SubagentComplete,
		PermissionRequested, Usage:
		h(ev)
	default:
		log.Warn().Str("type", string(ev.Type)).Str("sessionId", ev.SessionID).
			Msg("unknown unified event type ignored")
	}
}
