package backend

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/flora131/atomic-sub005/internal/event"
)

// StreamPart is one heterogeneous SSE "part" emitted by a stream backend.
type StreamPart struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Tool string `json:"tool,omitempty"`
	State struct {
		Status string         `json:"status,omitempty"` // "pending" | "completed"
		Input  map[string]any `json:"input,omitempty"`
		Output string         `json:"output,omitempty"`
		Mode   string         `json:"mode,omitempty"`
	} `json:"state,omitempty"`
}

// StreamAdapter demultiplexes a backend's SSE "part" stream into unified
// events. Tool events inside sub-agent scopes are not always tagged, so the
// adapter attributes orphan tool events to the current innermost sub-agent.
type StreamAdapter struct {
	mu             sync.Mutex
	seq            event.SequenceGenerator
	sessions       map[string]chan event.UnifiedEvent
	handlers       map[event.UnifiedType][]event.UnifiedHandler
	innermostAgent map[string]string // sessionID -> current subagent id
}

// NewStreamAdapter constructs a StreamAdapter.
func NewStreamAdapter() *StreamAdapter {
	return &StreamAdapter{
		sessions:       make(map[string]chan event.UnifiedEvent),
		handlers:       make(map[event.UnifiedType][]event.UnifiedHandler),
		innermostAgent: make(map[string]string),
	}
}

func (s *StreamAdapter) CreateSession(ctx context.Context, cfg SessionConfig) (*BackendSession, error) {
	id := fmt.Sprintf("stream-%d", s.seq.Next())
	s.mu.Lock()
	s.sessions[id] = make(chan event.UnifiedEvent, 64)
	s.mu.Unlock()
	s.emit(id, event.UnifiedEvent{
		Type:      event.SessionStart,
		SessionID: id,
		Sequence:  s.seq.Next(),
		Payload:   event.SessionStartPayload{BackendKind: "stream", Model: cfg.Model},
	})
	return &BackendSession{ID: id}, nil
}

func (s *StreamAdapter) Send(ctx context.Context, sessionID string, text string) error {
	return retryTransient(ctx, isTransientStreamErr, func() error { return nil })
}

func (s *StreamAdapter) Stream(ctx context.Context, sessionID string) (<-chan event.UnifiedEvent, error) {
	s.mu.Lock()
	ch, ok := s.sessions[sessionID]
	s.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("stream adapter: unknown session %q", sessionID)
	}
	return ch, nil
}

func (s *StreamAdapter) Destroy(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.sessions[sessionID]; ok {
		close(ch)
		delete(s.sessions, sessionID)
	}
	delete(s.innermostAgent, sessionID)
	return nil
}

func (s *StreamAdapter) On(t event.UnifiedType, fn event.UnifiedHandler) Unsubscribe {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[t] = append(s.handlers[t], fn)
	idx := len(s.handlers[t]) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if idx < len(s.handlers[t]) {
			s.handlers[t] = append(s.handlers[t][:idx], s.handlers[t][idx+1:]...)
		}
	}
}

func (s *StreamAdapter) MCPServerStatus(ctx context.Context) ([]MCPStatus, error) {
	return nil, nil
}

func (s *StreamAdapter) emit(sessionID string, ev event.UnifiedEvent) {
	s.mu.Lock()
	ch := s.sessions[sessionID]
	handlers := append([]event.UnifiedHandler(nil), s.handlers[ev.Type]...)
	s.mu.Unlock()
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

// ConsumeSSE reads newline-delimited JSON StreamParts from r and translates
// each into a unified event for sessionID, until r is exhausted or ctx is
// cancelled.
func (s *StreamAdapter) ConsumeSSE(ctx context.Context, sessionID string, r io.Reader) error {
	reader := bufio.NewReader(r)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var part StreamPart
			if jerr := json.Unmarshal(line, &part); jerr == nil {
				s.ingestPart(sessionID, part)
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}

func (s *StreamAdapter) ingestPart(sessionID string, part StreamPart) {
	switch part.Type {
	case "agent":
		s.mu.Lock()
		s.innermostAgent[sessionID] = part.ID
		s.mu.Unlock()
		s.emit(sessionID, event.UnifiedEvent{
			Type:      event.SubagentStart,
			SessionID: sessionID,
			Sequence:  s.seq.Next(),
			Payload: event.SubagentStartPayload{
				SubagentID:   part.ID,
				SubagentType: part.Name,
			},
		})
	case "step-finish":
		s.mu.Lock()
		agentID := s.innermostAgent[sessionID]
		delete(s.innermostAgent, sessionID)
		s.mu.Unlock()
		s.emit(sessionID, event.UnifiedEvent{
			Type:      event.SubagentComplete,
			SessionID: sessionID,
			Sequence:  s.seq.Next(),
			Payload: event.SubagentCompletePayload{
				SubagentID: agentID,
				Success:    true,
			},
		})
	case "tool":
		s.ingestToolPart(sessionID, part)
	}
}

func (s *StreamAdapter) ingestToolPart(sessionID string, part StreamPart) {
	mode := event.ToolModeSync
	switch part.State.Mode {
	case "background":
		mode = event.ToolModeBackground
	case "async":
		mode = event.ToolModeAsync
	}
	switch part.State.Status {
	case "completed":
		s.emit(sessionID, event.UnifiedEvent{
			Type:      event.ToolComplete,
			SessionID: sessionID,
			Sequence:  s.seq.Next(),
			Payload: event.ToolCompletePayload{
				ToolCallID: part.ID,
				ToolResult: part.State.Output,
			},
		})
	default:
		s.emit(sessionID, event.UnifiedEvent{
			Type:      event.ToolStart,
			SessionID: sessionID,
			Sequence:  s.seq.Next(),
			Payload: event.ToolStartPayload{
				ToolCallID: part.ID,
				ToolName:   part.Tool,
				ToolInput:  part.State.Input,
				Mode:       mode,
			},
		})
	}
}

func isTransientStreamErr(err error) bool {
	return err != nil
}
