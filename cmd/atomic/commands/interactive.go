package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/flora131/atomic-sub005/internal/agent"
	"github.com/flora131/atomic-sub005/internal/command"
	"github.com/flora131/atomic-sub005/internal/config"
	"github.com/flora131/atomic-sub005/internal/executor"
	"github.com/flora131/atomic-sub005/internal/permission"
	"github.com/flora131/atomic-sub005/internal/provider"
	"github.com/flora131/atomic-sub005/internal/session"
	"github.com/flora131/atomic-sub005/internal/storage"
	"github.com/flora131/atomic-sub005/internal/tool"
	"github.com/flora131/atomic-sub005/pkg/types"
)

// chatLoop holds the dependencies one live `atomic chat` session needs to
// run both the plain-text agentic loop (internal/session) and slash/mention
// command dispatch (internal/command), including the Ralph workflow.
type chatLoop struct {
	ctx context.Context

	store      *storage.Storage
	svc        *session.Service
	subagents  *executor.SubagentExecutor
	dispatcher *command.Dispatcher
	workDir    string

	sess *types.Session

	mu            sync.Mutex
	workflowState map[string]any
}

// runInteractiveChat implements `atomic chat`'s REPL: each line is either a
// "/name args" builtin/workflow command, an "@name args" silent mention, or
// plain text routed through the agentic loop (spec §4.5/§6). enableWorkflow
// mirrors `--workflow`: only when set is the Ralph command (`/ralph`,
// `/loop`) registered, matching spec §6's "--workflow enables workflow
// telemetry" description.
func runInteractiveChat(ctx context.Context, workDir string, enableWorkflow bool) error {
	paths := config.GetPaths()
	if err := paths.EnsurePaths(); err != nil {
		return err
	}

	appConfig, err := config.Load(workDir)
	if err != nil {
		return err
	}
	if globalModel != "" {
		appConfig.Model = globalModel
	} else if runModel != "" {
		appConfig.Model = runModel
	}

	var defaultProviderID, defaultModelID string
	if appConfig.Model != "" {
		parts := strings.SplitN(appConfig.Model, "/", 2)
		if len(parts) == 2 {
			defaultProviderID, defaultModelID = parts[0], parts[1]
		}
	}

	store := storage.New(paths.StoragePath())

	providerReg, err := provider.InitializeProviders(ctx, appConfig)
	if err != nil {
		return fmt.Errorf("failed to initialize providers: %w", err)
	}

	toolReg := tool.DefaultRegistry(workDir, store)
	agentReg := agent.NewRegistry()
	toolReg.RegisterTaskTool(agentReg)

	permChecker := permission.NewChecker()

	subagentExecutor := executor.NewSubagentExecutor(executor.SubagentExecutorConfig{
		Storage:           store,
		ProviderRegistry:  providerReg,
		ToolRegistry:      toolReg,
		PermissionChecker: permission.NewChecker(),
		AgentRegistry:     agentReg,
		WorkDir:           workDir,
		DefaultProviderID: defaultProviderID,
		DefaultModelID:    defaultModelID,
	})
	toolReg.SetTaskExecutor(subagentExecutor)

	svc := session.NewServiceWithProcessor(store, providerReg, toolReg, permChecker, defaultProviderID, defaultModelID)

	sess, err := svc.Create(ctx, workDir, runTitle)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	registry := command.NewRegistry()
	command.RegisterBuiltins(registry)
	if enableWorkflow {
		command.RegisterRalph(registry)
	}

	cl := &chatLoop{
		ctx:           ctx,
		store:         store,
		svc:           svc,
		subagents:     subagentExecutor,
		dispatcher:    command.NewDispatcher(registry),
		workDir:       workDir,
		sess:          sess,
		workflowState: map[string]any{"workflowActive": false, "workflowEnabled": enableWorkflow},
	}

	if !noBanner {
		fmt.Printf("atomic chat (session %s) — type /help for commands, /exit to quit\n", sess.ID)
	}

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if done := cl.handleLine(line); done {
			break
		}
	}
	return scanner.Err()
}

// handleLine processes one line of input and reports whether the session
// should terminate (the /exit builtin or EOF-equivalent commands).
func (cl *chatLoop) handleLine(line string) bool {
	if parsed, ok := command.ParseLine(line); ok {
		ctx := cl.newCommandContext()
		if parsed.IsMention {
			cl.dispatcher.DispatchMention(parsed.Name, parsed.Args, ctx)
			return false
		}
		result, err := cl.dispatcher.Dispatch(parsed.Name, parsed.Args, ctx)
		if err != nil && result.Message == "" {
			fmt.Printf("error: %v\n", err)
			return false
		}
		if result.Message != "" {
			fmt.Println(result.Message)
		}
		if result.DestroySession {
			return true
		}
		return false
	}

	callback := func(msg *types.Message, parts []types.Part) {
		for _, part := range parts {
			if tp, ok := part.(*types.TextPart); ok {
				fmt.Print(tp.Text)
			}
		}
	}
	if _, _, err := cl.svc.ProcessMessage(cl.ctx, cl.sess, line, nil, callback); err != nil {
		fmt.Printf("\nerror: %v\n", err)
	}
	fmt.Println()
	return false
}

// newCommandContext builds a fresh CommandContext bound to the loop's live
// session and workflow state; concrete hooks are the "wiring layer"
// internal/command/context.go documents cmd/atomic as owning.
func (cl *chatLoop) newCommandContext() *command.CommandContext {
	return &command.CommandContext{
		Ctx:      cl.ctx,
		Session:  cl.sess,
		Workflow: cl.snapshotWorkflow(),

		AddMessage: func(msg *types.Message) error {
			return cl.svc.AddMessage(cl.ctx, cl.sess.ID, msg)
		},
		SendMessage: func(text string) error {
			callback := func(msg *types.Message, parts []types.Part) {
				for _, part := range parts {
					if tp, ok := part.(*types.TextPart); ok {
						fmt.Print(tp.Text)
					}
				}
			}
			_, _, err := cl.svc.ProcessMessage(cl.ctx, cl.sess, text, nil, callback)
			return err
		},
		SendSilentMessage: func(text string) error {
			_, _, err := cl.svc.ProcessMessage(cl.ctx, cl.sess, text, nil, nil)
			return err
		},
		SpawnSubagent: func(prompt string) (string, error) {
			result, err := cl.subagents.ExecuteSubtask(cl.ctx, cl.sess.ID, "general", prompt, tool.TaskOptions{})
			if err != nil {
				return "", err
			}
			return result.Output, nil
		},
		SpawnSubagentParallel: cl.spawnSubagentParallel,
		StreamAndWait:         cl.streamAndWait,
		WaitForUserInput: func(prompt string) (string, error) {
			if prompt != "" {
				fmt.Println(prompt)
			}
			fmt.Print("> ")
			scanner := bufio.NewScanner(os.Stdin)
			if !scanner.Scan() {
				return "", scanner.Err()
			}
			return scanner.Text(), nil
		},
		ClearContext: func() error {
			sess, err := cl.svc.Create(cl.ctx, cl.workDir, "")
			if err != nil {
				return err
			}
			cl.sess = sess
			return nil
		},
		SetTodoItems: func(items []types.TaskItem) error {
			todos := make([]types.TodoInfo, len(items))
			for i, item := range items {
				todos[i] = types.TodoInfo{ID: item.ID, Content: item.Content, Status: string(item.Status)}
			}
			return session.UpdateTodos(cl.ctx, cl.store, cl.sess.ID, todos)
		},
		SetRalphSessionDir: func(dir string) {
			cl.mu.Lock()
			cl.workflowState["sessionDir"] = dir
			cl.mu.Unlock()
		},
		SetRalphSessionID: func(id string) {
			cl.mu.Lock()
			cl.workflowState["sessionId"] = id
			cl.mu.Unlock()
		},
		SetRalphTaskIDs: func(ids []string) {
			cl.mu.Lock()
			cl.workflowState["taskIds"] = ids
			cl.mu.Unlock()
		},
		UpdateWorkflowState: func(update map[string]any) {
			cl.mu.Lock()
			for k, v := range update {
				cl.workflowState[k] = v
			}
			cl.mu.Unlock()
		},
		SetMCPEnabled: func(name string, enabled bool) {
			cl.mu.Lock()
			enabledMCP, _ := cl.workflowState["mcpEnabled"].(map[string]bool)
			if enabledMCP == nil {
				enabledMCP = make(map[string]bool)
			}
			enabledMCP[name] = enabled
			cl.workflowState["mcpEnabled"] = enabledMCP
			cl.mu.Unlock()
		},
	}
}

func (cl *chatLoop) snapshotWorkflow() map[string]any {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	out := make(map[string]any, len(cl.workflowState))
	for k, v := range cl.workflowState {
		out[k] = v
	}
	return out
}

// streamAndWait drives a Ralph agent-kind node (planner/reviewer/fixer)
// through a transient fork of the live session, the same way the headless
// runner's processorAgentRunner does: the instruction becomes a user turn,
// and the resulting assistant text is returned whole once the turn settles.
func (cl *chatLoop) streamAndWait(instruction string) (string, error) {
	turnSession, err := cl.svc.Create(cl.ctx, cl.workDir, "ralph turn")
	if err != nil {
		return "", err
	}

	var final strings.Builder
	callback := func(msg *types.Message, parts []types.Part) {
		for _, part := range parts {
			if tp, ok := part.(*types.TextPart); ok {
				final.Reset()
				final.WriteString(tp.Text)
			}
		}
	}
	if _, _, err := cl.svc.ProcessMessage(cl.ctx, turnSession, instruction, nil, callback); err != nil {
		return "", err
	}
	return final.String(), nil
}

// spawnSubagentParallel fans every spec out to the shared SubagentExecutor
// concurrently, with allSettled semantics: one sibling's error becomes its
// own failed result instead of aborting the batch.
func (cl *chatLoop) spawnSubagentParallel(specs []command.SubagentSpec) ([]types.SubagentResult, error) {
	out := make([]types.SubagentResult, len(specs))
	var wg sync.WaitGroup
	for i, spec := range specs {
		i, spec := i, spec
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := cl.subagents.ExecuteSubtask(cl.ctx, cl.sess.ID, spec.AgentName, spec.Instruction, tool.TaskOptions{Model: spec.Model})
			if err != nil {
				out[i] = types.SubagentResult{AgentID: spec.AgentID, AgentName: spec.AgentName, Success: false, Error: err.Error()}
				return
			}
			out[i] = types.SubagentResult{AgentID: spec.AgentID, AgentName: spec.AgentName, Output: result.Output, Success: true}
		}()
	}
	wg.Wait()
	return out, nil
}
