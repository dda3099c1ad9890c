package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var initAgentName string

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold agent configuration directories",
	Long: `Scaffold the .opencode/agent/ directory and a starter agent
definition. With --agent, skips interactive selection and writes the
named agent directly; with --force, overwrites an existing one.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initAgentName, "agent", "", "Agent name to scaffold (skips interactive selection)")
}

func runInit(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return &FatalError{Err: err}
	}

	name := initAgentName
	if name == "" {
		name = "default"
	}

	agentDir := filepath.Join(workDir, ".opencode", "agent")
	if err := os.MkdirAll(agentDir, 0755); err != nil {
		return &FatalError{Err: err}
	}

	agentFile := filepath.Join(agentDir, name+".md")
	if _, err := os.Stat(agentFile); err == nil && !forceFlag {
		return fmt.Errorf("agent %s already exists (use --force to overwrite)", name)
	}

	template := fmt.Sprintf(`---
name: %s
description: Starter agent for %s
mode: all
tools:
  bash: true
  edit: true
  read: true
  write: true
  glob: true
  grep: true
permission:
  edit: ask
  bash: ask
---

# %s Agent

You are a coding agent. Describe its purpose and constraints here.
`, name, name, name)

	if err := os.WriteFile(agentFile, []byte(template), 0644); err != nil {
		return &FatalError{Err: err}
	}

	fmt.Printf("Scaffolded agent: %s\n", agentFile)
	return nil
}

// hasAgentConfig reports whether the named agent's config file
// (.opencode/agent/<name>.md) already exists, used by root's --agent flag to decide whether to
// run the init flow first (spec §6: "if agent config directory absent,
// run init flow first").
func hasAgentConfig(workDir, name string) bool {
	if name == "" {
		name = "default"
	}
	agentFile := filepath.Join(workDir, ".opencode", "agent", name+".md")
	_, err := os.Stat(agentFile)
	return err == nil
}
