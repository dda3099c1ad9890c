// Package discovery implements the three-tier workflow/agent/skill
// discovery scan of spec §6: project directories, user-global
// directories, and a builtin fallback list, with optional hot-reload via
// fsnotify. Grounded on internal/config's layered load order and
// internal/agent.Registry's override semantics, generalized to
// multi-directory glob scanning.
package discovery

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WorkflowSource describes one discovered workflow definition file.
type WorkflowSource struct {
	Name string
	Path string
	Tier string // "project", "global", or "builtin"
}

// AgentSource describes one discovered agent definition file.
type AgentSource struct {
	Name string
	Path string
	Tier string
}

// Skill is a loaded SKILL.md definition: YAML frontmatter plus body.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"-"`
	Path        string `yaml:"-"`
}

// Dirs enumerates the directories scanned at each tier (spec §6).
type Dirs struct {
	ProjectRoot string // repo root; scans <root>/.atomic/workflows, .claude/agents, etc.
	UserHome    string // scans <home>/.atomic/workflows, etc.
}

var agentDirNames = []string{".claude/agents", ".opencode/agents", ".github/agents"}

// ScanWorkflows walks project then user-global `.atomic/workflows/*`
// directories for `*.yaml`/`*.yml`/`*.json` workflow definitions,
// first-discovered-wins by base name (project shadows global).
func ScanWorkflows(dirs Dirs) ([]WorkflowSource, error) {
	seen := make(map[string]bool)
	var out []WorkflowSource

	tiers := []struct {
		dir  string
		tier string
	}{
		{filepath.Join(dirs.ProjectRoot, ".atomic", "workflows"), "project"},
		{filepath.Join(dirs.UserHome, ".atomic", "workflows"), "global"},
	}

	for _, tier := range tiers {
		matches, err := globFiles(tier.dir, "*.{yaml,yml,json}")
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			name := baseNameNoExt(m)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, WorkflowSource{Name: name, Path: m, Tier: tier.tier})
		}
	}
	return out, nil
}

// ScanAgents walks project then user-global agent directories
// (.claude/agents, .opencode/agents, .github/agents and their
// user-global mirrors), first-discovered-wins by base name.
func ScanAgents(dirs Dirs) ([]AgentSource, error) {
	seen := make(map[string]bool)
	var out []AgentSource

	var roots []struct {
		dir  string
		tier string
	}
	for _, d := range agentDirNames {
		roots = append(roots, struct {
			dir  string
			tier string
		}{filepath.Join(dirs.ProjectRoot, d), "project"})
	}
	for _, d := range agentDirNames {
		roots = append(roots, struct {
			dir  string
			tier string
		}{filepath.Join(dirs.UserHome, d), "global"})
	}

	for _, root := range roots {
		matches, err := globFiles(root.dir, "*.{md,yaml,yml,json}")
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			name := baseNameNoExt(m)
			if seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, AgentSource{Name: name, Path: m, Tier: root.tier})
		}
	}
	return out, nil
}

// ScanSkills loads every SKILL.md under project/.atomic/skills and
// <home>/.atomic/skills, parsing YAML frontmatter delimited by "---"
// lines.
func ScanSkills(dirs Dirs) ([]Skill, error) {
	seen := make(map[string]bool)
	var out []Skill

	for _, root := range []string{
		filepath.Join(dirs.ProjectRoot, ".atomic", "skills"),
		filepath.Join(dirs.UserHome, ".atomic", "skills"),
	} {
		matches, err := globFiles(root, "**/SKILL.md")
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			name := filepath.Base(filepath.Dir(m))
			if seen[name] {
				continue
			}
			skill, err := loadSkill(m)
			if err != nil {
				continue
			}
			skill.Name = firstNonEmpty(skill.Name, name)
			seen[name] = true
			out = append(out, skill)
		}
	}
	return out, nil
}

func globFiles(dir, pattern string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	fsys := os.DirFS(dir)
	matches, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(dir, m)
	}
	return out, nil
}

func baseNameNoExt(path string) string {
	base := filepath.Base(path)
	return base[:len(base)-len(filepath.Ext(base))]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func loadSkill(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}
	content := string(data)
	var skill Skill
	skill.Path = path

	const delim = "---"
	if strings.HasPrefix(content, delim) {
		rest := content[len(delim):]
		if idx := strings.Index(rest, "\n"+delim); idx >= 0 {
			frontmatter := rest[:idx]
			body := rest[idx+len("\n"+delim):]
			if err := yaml.Unmarshal([]byte(frontmatter), &skill); err != nil {
				return Skill{}, err
			}
			skill.Body = strings.TrimPrefix(body, "\n")
			return skill, nil
		}
	}
	skill.Body = content
	return skill, nil
}

// Watcher wraps fsnotify to hot-reload discovery when files change under
// any of the scanned directories.
type Watcher struct {
	fsw *fsnotify.Watcher
}

// NewWatcher creates a Watcher observing dirs (project and user-global
// workflow/agent/skill roots); call Events()/Errors() to consume, Close
// when done.
func NewWatcher(dirs Dirs) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, d := range []string{
		filepath.Join(dirs.ProjectRoot, ".atomic", "workflows"),
		filepath.Join(dirs.ProjectRoot, ".atomic", "skills"),
		filepath.Join(dirs.UserHome, ".atomic", "workflows"),
		filepath.Join(dirs.UserHome, ".atomic", "skills"),
	} {
		if _, err := os.Stat(d); err == nil {
			_ = fsw.Add(d)
		}
	}
	return &Watcher{fsw: fsw}, nil
}

func (w *Watcher) Events() <-chan fsnotify.Event { return w.fsw.Events }
func (w *Watcher) Errors() <-chan error           { return w.fsw.Errors }
func (w *Watcher) Close() error                   { return w.fsw.Close() }
