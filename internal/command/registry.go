package command

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Category classifies a CommandDefinition for override/replacement rules
// (spec §4.5, §9).
type Category string

const (
	CategoryBuiltin  Category = "builtin"
	CategoryWorkflow Category = "workflow"
	CategorySkill    Category = "skill"
	CategoryAgent    Category = "agent"
	CategoryFile     Category = "file"
	CategoryFolder   Category = "folder"
)

// CommandResult is what a CommandDefinition.Execute returns; Dispatcher
// applies StateUpdate by field-merge into workflow state immediately after
// Execute resolves.
type CommandResult struct {
	Success        bool
	Message        string
	StateUpdate    map[string]any
	ClearMessages  bool
	DestroySession bool
}

// CommandDefinition is one registered slash/mention command.
type CommandDefinition struct {
	Name          string
	Aliases       []string
	Category      Category
	ArgumentHint  string
	Hidden        bool
	WorkflowClass bool // true rejects a second concurrent workflow command
	Execute       func(args string, ctx *CommandContext) (CommandResult, error)
}

// Registry holds every CommandDefinition, keyed by name and alias.
// Registration is idempotent-by-name with category-aware override rules
// (spec §9): an existing agent-category binding may be replaced by a
// rediscovered agent entry; non-agent categories are not replaced.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]*CommandDefinition
	order    []string // insertion order, for deterministic listing
}

// NewRegistry constructs an empty Registry. Callers register in the
// discovery order spec §9 requires: builtins -> disk workflows -> skills
// -> agents.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*CommandDefinition)}
}

// Register adds def under its name and every alias. If a binding with the
// same name already exists, it is replaced only if both the existing and
// the incoming definition are category Agent; otherwise the first
// registration wins (first-discovered-wins, spec §9).
func (r *Registry) Register(def *CommandDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{def.Name}, def.Aliases...)
	for _, k := range keys {
		existing, ok := r.byName[k]
		if !ok {
			r.byName[k] = def
			r.order = append(r.order, k)
			continue
		}
		if existing.Category == CategoryAgent && def.Category == CategoryAgent {
			r.byName[k] = def
		}
		// else: first-discovered-wins, non-agent categories are not replaced.
	}
}

// Lookup resolves name (or an alias) to its definition.
func (r *Registry) Lookup(name string) (*CommandDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.byName[name]
	return def, ok
}

// List returns every distinct definition in registration order.
func (r *Registry) List() []*CommandDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[*CommandDefinition]bool)
	var out []*CommandDefinition
	for _, k := range r.order {
		def := r.byName[k]
		if def == nil || seen[def] {
			continue
		}
		seen[def] = true
		out = append(out, def)
	}
	return out
}

var slashPattern = regexp.MustCompile(`^/(\S+)(?:\s+(.*))?$`)
var mentionPattern = regexp.MustCompile(`^@(\S+)(?:\s+(.*))?$`)

// ParsedInvocation is the result of parsing one chat input line.
type ParsedInvocation struct {
	IsSlash  bool
	IsMention bool
	Name     string
	Args     string
}

// ParseLine parses a chat input line per spec §4.5: a line beginning with
// "/" is "/<name> <args...>"; a line beginning with "@name ..." is an agent
// mention dispatched silently to the first matching registered command.
func ParseLine(line string) (ParsedInvocation, bool) {
	trimmed := strings.TrimSpace(line)
	if m := slashPattern.FindStringSubmatch(trimmed); m != nil {
		return ParsedInvocation{IsSlash: true, Name: m[1], Args: m[2]}, true
	}
	if m := mentionPattern.FindStringSubmatch(trimmed); m != nil {
		return ParsedInvocation{IsMention: true, Name: m[1], Args: m[2]}, true
	}
	return ParsedInvocation{}, false
}

// ErrWorkflowActive is returned by Dispatcher.Dispatch when a second
// workflow-class command is attempted while one is already running.
var ErrWorkflowActive = fmt.Errorf("a workflow is already active")
