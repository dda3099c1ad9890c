// Package commands provides the CLI commands for atomic.
package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/flora131/atomic-sub005/internal/config"
	"github.com/flora131/atomic-sub005/internal/logging"
	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Exit codes per the CLI's external-interface contract: 0 success, 1
// user error or command-not-found, 2 fatal.
const (
	ExitSuccess  = 0
	ExitUserErr  = 1
	ExitFatalErr = 2
)

// Global flags
var (
	printLogs   bool
	logLevel    string
	logFile     bool
	showConfig  bool
	globalModel string
	globalAgent string
	noBanner    bool
	forceFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "atomic",
	Short: "atomic - multi-backend coding-agent orchestrator",
	Long: `atomic drives AI coding agents across multiple backends through a
unified event pipeline and workflow graph engine.

Run 'atomic chat' to start an interactive session, 'atomic init' to
scaffold agent configuration, or 'atomic headless' to run a prompt
without the interactive loop.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Initialize logging based on flags
		logCfg := logging.Config{
			Level:     logging.ParseLevel(logLevel),
			Output:    os.Stderr,
			Pretty:    printLogs,
			LogToFile: logFile,
		}

		if !printLogs && !logFile {
			// Disable logging output by default (only show fatal errors)
			logCfg.Level = logging.FatalLevel
		}

		logging.Init(logCfg)

		// Log startup info if file logging is enabled
		if logFile {
			logging.Info().
				Str("version", Version).
				Str("logFile", logging.GetLogFilePath()).
				Msg("atomic started with file logging")
		}

		// Handle --show-config flag
		if showConfig {
			dir, err := os.Getwd()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting working directory: %v\n", err)
				os.Exit(1)
			}

			cfg, err := config.Load(dir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
				os.Exit(ExitFatalErr)
			}

			jsonData, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling config: %v\n", err)
				os.Exit(ExitFatalErr)
			}

			fmt.Println(string(jsonData))
			os.Exit(ExitSuccess)
		}
	},
	// With no subcommand: --agent implies chat, otherwise show help.
	RunE: func(cmd *cobra.Command, args []string) error {
		if globalAgent != "" {
			return runChat(cmd, args)
		}
		return cmd.Help()
	},
}

func init() {
	// Global flags available to all commands
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "INFO", "Log level (DEBUG|INFO|WARN|ERROR)")
	rootCmd.PersistentFlags().BoolVar(&logFile, "log-file", false, "Write logs to /tmp/atomic-YYYYMMDD-HHMMSS.log")
	rootCmd.PersistentFlags().BoolVar(&showConfig, "show-config", false, "Print merged configuration as JSON and exit")
	rootCmd.PersistentFlags().StringVarP(&globalModel, "model", "m", "", "Model to use (provider/model format)")
	rootCmd.PersistentFlags().StringVar(&globalAgent, "agent", "", "Start chat with this backend/agent; scaffolds its config if absent")
	rootCmd.PersistentFlags().BoolVar(&noBanner, "no-banner", false, "Suppress the startup banner")
	rootCmd.PersistentFlags().BoolVarP(&forceFlag, "force", "f", false, "Skip confirmation prompts (init, overwrite)")

	// Version template
	rootCmd.SetVersionTemplate(fmt.Sprintf("atomic %s (%s)\n", Version, BuildTime))

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(headlessCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(authCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(debugCmd)
}

// Execute runs the root command and returns the process exit code per
// the CLI's external-interface contract (0 success, 1 user error or
// command-not-found, 2 fatal).
func Execute() int {
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var fatal *FatalError
		if errors.As(err, &fatal) {
			return ExitFatalErr
		}
		return ExitUserErr
	}
	return ExitSuccess
}

// FatalError marks an error as unrecoverable (exit code 2) rather than
// a user/usage error (exit code 1).
type FatalError struct{ Err error }

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// GetWorkDir returns the working directory from flag or current directory.
func GetWorkDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	return os.Getwd()
}

// GetGlobalModel returns the global model flag value.
func GetGlobalModel() string {
	return globalModel
}
