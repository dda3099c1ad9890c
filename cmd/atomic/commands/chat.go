package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var chatWorkflow bool

var chatCmd = &cobra.Command{
	Use:   "chat [message...]",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with the configured backend.

With --workflow, enables workflow telemetry (the Ralph workflow and its
/ralph command become available in this session).`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&chatWorkflow, "workflow", false, "Enable workflow telemetry for this session")
}

// runChat implements `atomic chat [--workflow]` and the bare
// `atomic --agent <name>` shorthand: if the named agent's config
// file is absent, it scaffolds one via the init flow first, then
// delegates to the command-aware REPL in runInteractiveChat.
func runChat(cmd *cobra.Command, args []string) error {
	workDir, err := GetWorkDir(runDir)
	if err != nil {
		return &FatalError{Err: err}
	}

	agentName := globalAgent
	if agentName == "" {
		agentName = runAgent
	}

	if !hasAgentConfig(workDir, agentName) {
		if !noBanner {
			fmt.Fprintf(os.Stderr, "No config found for agent %q; running init...\n", orDefault(agentName))
		}
		initAgentName = agentName
		if err := runInit(cmd, nil); err != nil {
			return err
		}
	}

	if agentName != "" {
		runAgent = agentName
	}
	if globalModel != "" {
		runModel = globalModel
	}

	return runInteractiveChat(cmd.Context(), workDir, chatWorkflow)
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}
