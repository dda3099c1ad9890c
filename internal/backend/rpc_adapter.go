package backend

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/flora131/atomic-sub005/internal/event"
)

// RPCFrame is one length-prefixed RPC message: a 4-byte big-endian length
// prefix followed by the JSON payload below.
type RPCFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// RPCToolExecutionStart is the native payload of a tool.execution_start frame.
type RPCToolExecutionStart struct {
	ToolCallID string         `json:"toolCallId"`
	ToolName   string         `json:"toolName"`
	Arguments  map[string]any `json:"arguments"`
	Mode       string         `json:"mode,omitempty"`
}

// RPCToolExecutionComplete is the native payload of a tool.execution_complete frame.
// RPC completion frames only carry the tool call id, not its name.
type RPCToolExecutionComplete struct {
	ToolCallID string `json:"toolCallId"`
	Result     struct {
		Content string `json:"content"`
	} `json:"result"`
	Error string `json:"error,omitempty"`
}

// RPCSubagentStarted is the native payload of a subagent.started frame.
type RPCSubagentStarted struct {
	ToolCallID string `json:"toolCallId"`
	AgentName  string `json:"agentName"`
}

// RPCSubagentCompleted is the native payload of a subagent.completed or
// subagent.failed frame; the adapter maps subagent.failed to
// subagent.complete with success=false.
type RPCSubagentCompleted struct {
	ToolCallID string `json:"toolCallId"`
	Result     string `json:"result,omitempty"`
}

// RPCAdapter speaks a framed RPC protocol: a 4-byte big-endian length
// prefix followed by a JSON RPCFrame. It maintains a toolCallId -> toolName
// map because completion frames identify tools only by id.
type RPCAdapter struct {
	mu           sync.Mutex
	seq          event.SequenceGenerator
	sessions     map[string]chan event.UnifiedEvent
	handlers     map[event.UnifiedType][]event.UnifiedHandler
	toolNameByID map[string]string
}

// NewRPCAdapter constructs an RPCAdapter.
func NewRPCAdapter() *RPCAdapter {
	return &RPCAdapter{
		sessions:     make(map[string]chan event.UnifiedEvent),
		handlers:     make(map[event.UnifiedType][]event.UnifiedHandler),
		toolNameByID: make(map[string]string),
	}
}

func (r *RPCAdapter) CreateSession(ctx context.Context, cfg SessionConfig) (*BackendSession, error) {
	id := fmt.Sprintf("rpc-%d", r.seq.Next())
	r.mu.Lock()
	r.sessions[id] = make(chan event.UnifiedEvent, 64)
	r.mu.Unlock()
	r.emit(id, event.UnifiedEvent{
		Type:      event.SessionStart,
		SessionID: id,
		Sequence:  r.seq.Next(),
		Payload:   event.SessionStartPayload{BackendKind: "rpc", Model: cfg.Model},
	})
	return &BackendSession{ID: id}, nil
}

func (r *RPCAdapter) Send(ctx context.Context, sessionID string, text string) error {
	return retryTransient(ctx, isTransientRPCErr, func() error { return nil })
}

func (r *RPCAdapter) Stream(ctx context.Context, sessionID string) (<-chan event.UnifiedEvent, error) {
	r.mu.Lock()
	ch, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("rpc adapter: unknown session %q", sessionID)
	}
	return ch, nil
}

func (r *RPCAdapter) Destroy(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ch, ok := r.sessions[sessionID]; ok {
		close(ch)
		delete(r.sessions, sessionID)
	}
	return nil
}

func (r *RPCAdapter) On(t event.UnifiedType, fn event.UnifiedHandler) Unsubscribe {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[t] = append(r.handlers[t], fn)
	idx := len(r.handlers[t]) - 1
	return func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		if idx < len(r.handlers[t]) {
			r.handlers[t] = append(r.handlers[t][:idx], r.handlers[t][idx+1:]...)
		}
	}
}

func (r *RPCAdapter) MCPServerStatus(ctx context.Context) ([]MCPStatus, error) {
	return nil, nil
}

func (r *RPCAdapter) emit(sessionID string, ev event.UnifiedEvent) {
	r.mu.Lock()
	ch := r.sessions[sessionID]
	handlers := append([]event.UnifiedHandler(nil), r.handlers[ev.Type]...)
	r.mu.Unlock()
	if ch != nil {
		select {
		case ch <- ev:
		default:
		}
	}
	for _, fn := range handlers {
		event.DispatchUnified(ev, fn)
	}
}

// ReadFrame reads one length-prefixed frame from r: a 4-byte big-endian
// length prefix followed by that many bytes of JSON.
func ReadFrame(r io.Reader) (*RPCFrame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	var frame RPCFrame
	if err := json.Unmarshal(buf, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

// WriteFrame writes one length-prefixed frame to w.
func WriteFrame(w io.Writer, frame *RPCFrame) error {
	body, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err = w.Write(body)
	return err
}

// ConsumeFrames reads frames from r until it is exhausted or ctx is
// cancelled, translating each into a unified event for sessionID.
func (r *RPCAdapter) ConsumeFrames(ctx context.Context, sessionID string, rd io.Reader) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		frame, err := ReadFrame(rd)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		r.ingestFrame(sessionID, frame)
	}
}

func (r *RPCAdapter) ingestFrame(sessionID string, frame *RPCFrame) {
	switch frame.Method {
	case "tool.execution_start":
		var p RPCToolExecutionStart
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		r.mu.Lock()
		r.toolNameByID[p.ToolCallID] = p.ToolName
		r.mu.Unlock()
		mode := event.ToolModeSync
		switch p.Mode {
		case "background":
			mode = event.ToolModeBackground
		case "async":
			mode = event.ToolModeAsync
		}
		r.emit(sessionID, event.UnifiedEvent{
			Type:      event.ToolStart,
			SessionID: sessionID,
			Sequence:  r.seq.Next(),
			Payload: event.ToolStartPayload{
				ToolCallID: p.ToolCallID,
				ToolName:   p.ToolName,
				ToolInput:  p.Arguments,
				Mode:       mode,
			},
		})
	case "tool.execution_complete":
		var p RPCToolExecutionComplete
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		r.emit(sessionID, event.UnifiedEvent{
			Type:      event.ToolComplete,
			SessionID: sessionID,
			Sequence:  r.seq.Next(),
			Payload: event.ToolCompletePayload{
				ToolCallID: p.ToolCallID,
				ToolResult: p.Result.Content,
				Error:      p.Error,
			},
		})
	case "subagent.started":
		var p RPCSubagentStarted
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		r.emit(sessionID, event.UnifiedEvent{
			Type:      event.SubagentStart,
			SessionID: sessionID,
			Sequence:  r.seq.Next(),
			Payload: event.SubagentStartPayload{
				TaskToolCallID: p.ToolCallID,
				SubagentID:     p.ToolCallID,
				SubagentType:   p.AgentName,
			},
		})
	case "subagent.completed":
		var p RPCSubagentCompleted
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		r.emit(sessionID, event.UnifiedEvent{
			Type:      event.SubagentComplete,
			SessionID: sessionID,
			Sequence:  r.seq.Next(),
			Payload: event.SubagentCompletePayload{
				SubagentID: p.ToolCallID,
				Success:    true,
				Result:     p.Result,
			},
		})
	case "subagent.failed":
		var p RPCSubagentCompleted
		if err := json.Unmarshal(frame.Params, &p); err != nil {
			return
		}
		r.emit(sessionID, event.UnifiedEvent{
			Type:      event.SubagentComplete,
			SessionID: sessionID,
			Sequence:  r.seq.Next(),
			Payload: event.SubagentCompletePayload{
				SubagentID: p.ToolCallID,
				Success:    false,
				Result:     p.Result,
			},
		})
	}
}

// ToolName returns the remembered tool name for a toolCallID, as recorded
// from the matching tool.execution_start frame.
func (r *RPCAdapter) ToolName(toolCallID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	name, ok := r.toolNameByID[toolCallID]
	return name, ok
}

func isTransientRPCErr(err error) bool {
	return err != nil
}
