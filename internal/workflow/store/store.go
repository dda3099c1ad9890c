// Package store implements the Session Store (C8): the on-disk layout
// under <AtomicRoot>/workflows/sessions/<sessionId>/ persisting workflow
// session metadata, the task list, per-agent results, checkpoints, and
// logs. All writes are atomic via tmp+rename, mirroring
// internal/storage.Storage.Put; readers tolerate absent files.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/flora131/atomic-sub005/pkg/types"
)

// Store roots one workflow session's persisted state on disk.
type Store struct {
	mu   sync.Mutex
	root string // <AtomicRoot>/workflows/sessions/<sessionId>
}

// Open idempotently creates the session directory tree (root,
// agents/, checkpoints/, logs/) and returns a Store rooted there.
func Open(atomicRoot, sessionID string) (*Store, error) {
	root := filepath.Join(atomicRoot, "workflows", "sessions", sessionID)
	for _, sub := range []string{"", "agents", "checkpoints", "logs"} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", sub, err)
		}
	}
	return &Store{root: root}, nil
}

// Dir returns the session's root directory.
func (s *Store) Dir() string { return s.root }

func atomicWriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// PutSession writes session.json atomically.
func (s *Store) PutSession(sess *types.WorkflowSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteJSON(filepath.Join(s.root, "session.json"), sess)
}

// GetSession reads session.json; absent file returns a zero-value
// WorkflowSession with ok=false, not an error.
func (s *Store) GetSession() (*types.WorkflowSession, bool, error) {
	var sess types.WorkflowSession
	ok, err := readJSON(filepath.Join(s.root, "session.json"), &sess)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &sess, true, nil
}

// PutTasks atomically writes tasks.json. Per spec §4.7, the workflow
// engine driving Ralph is the sole writer of this file.
func (s *Store) PutTasks(tasks []types.TaskItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteJSON(filepath.Join(s.root, "tasks.json"), tasks)
}

// GetTasks reads tasks.json; absent file returns an empty slice, no error.
func (s *Store) GetTasks() ([]types.TaskItem, error) {
	var tasks []types.TaskItem
	_, err := readJSON(filepath.Join(s.root, "tasks.json"), &tasks)
	if err != nil {
		return nil, err
	}
	if tasks == nil {
		tasks = []types.TaskItem{}
	}
	return tasks, nil
}

// PutAgentResult writes agents/<agentId>.json.
func (s *Store) PutAgentResult(result *types.SubagentResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWriteJSON(filepath.Join(s.root, "agents", result.AgentID+".json"), result)
}

// GetAgentResult reads agents/<agentId>.json; absent returns ok=false.
func (s *Store) GetAgentResult(agentID string) (*types.SubagentResult, bool, error) {
	var result types.SubagentResult
	ok, err := readJSON(filepath.Join(s.root, "agents", agentID+".json"), &result)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &result, true, nil
}

// AppendLog appends one structured log line to logs/<name>.jsonl.
func (s *Store) AppendLog(name string, entry any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(s.root, "logs", name+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(append(data, '\n'))
	return err
}

// CheckpointsDir returns the checkpoints/ subdirectory, for a
// graph.SessionDirCheckpointer.
func (s *Store) CheckpointsDir() string {
	return filepath.Join(s.root, "checkpoints")
}
