// Package backend adapts three heterogeneous coding-agent backends (a
// hook-based backend, an SSE/stream-based backend, and a framed-RPC backend)
// onto the single CodingAgentClient contract and the closed unified event
// set in internal/event.
package backend

import (
	"context"

	"github.com/flora131/atomic-sub005/internal/event"
)

// SessionConfig configures a new backend session.
type SessionConfig struct {
	SystemPrompt  string
	Model         string
	ToolAllowList []string
}

// BackendSession is the handle a CodingAgentClient returns from
// CreateSession; backend-specific clients embed it with their own fields.
type BackendSession struct {
	ID string
}

// Unsubscribe removes a previously registered handler.
type Unsubscribe func()

// CodingAgentClient is the contract every backend adapter implements (spec
// §4.2). Hook, stream, and RPC adapters each translate their own native
// event shape into internal/event.UnifiedEvent values.
type CodingAgentClient interface {
	CreateSession(ctx context.Context, cfg SessionConfig) (*BackendSession, error)
	Send(ctx context.Context, sessionID string, text string) error
	Stream(ctx context.Context, sessionID string) (<-chan event.UnifiedEvent, error)
	Destroy(ctx context.Context, sessionID string) error
	On(eventType event.UnifiedType, handler event.UnifiedHandler) Unsubscribe
	MCPServerStatus(ctx context.Context) ([]MCPStatus, error)
}

// MCPStatus reports one configured MCP server's reachability.
type MCPStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// BackendError is a terminal backend error (spec §7): no retry, emits
// session.error and closes the stream.
type BackendError struct {
	SessionID string
	Err       error
}

func (e *BackendError) Error() string {
	return "backend terminal error for session " + e.SessionID + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }
