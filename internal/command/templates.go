package command

import "context"

// RegisterTemplateCommands bridges the on-disk/config template commands
// served by Executor (markdown files under .opencode/command/, config.Command
// entries) into the Registry as CategoryFile definitions. Each invocation
// renders the command's template through exec and routes the resulting
// prompt either through a subagent (cmd.Subtask) or the main stream.
func RegisterTemplateCommands(r *Registry, exec *Executor) {
	for _, cmd := range exec.List() {
		cmd := cmd
		r.Register(&CommandDefinition{
			Name:        cmd.Name,
			Category:    CategoryFile,
			ArgumentHint: "[args]",
			Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
				c := ctx.Ctx
				if c == nil {
					c = context.Background()
				}
				res, err := exec.Execute(c, cmd.Name, args)
				if err != nil {
					return CommandResult{Success: false, Message: err.Error()}, nil
				}
				if res.Subtask && ctx.SpawnSubagent != nil {
					if _, err := ctx.SpawnSubagent(res.Prompt); err != nil {
						return CommandResult{Success: false, Message: err.Error()}, nil
					}
					return CommandResult{Success: true}, nil
				}
				if ctx.SendMessage != nil {
					if err := ctx.SendMessage(res.Prompt); err != nil {
						return CommandResult{Success: false, Message: err.Error()}, nil
					}
				}
				return CommandResult{Success: true}, nil
			},
		})
	}
}
