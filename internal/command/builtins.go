package command

import "strings"

// RegisterBuiltins registers the built-in slash commands of spec §6
// (/help, /theme, /clear, /compact, /exit, /model). These are plumbing-only
// per spec's non-goals; handlers here do the minimum state change and leave
// rendering to the caller.
func RegisterBuiltins(r *Registry) {
	r.Register(&CommandDefinition{
		Name:     "help",
		Category: CategoryBuiltin,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			return CommandResult{Success: true, Message: helpText(r)}, nil
		},
	})
	r.Register(&CommandDefinition{
		Name:     "theme",
		Category: CategoryBuiltin,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			return CommandResult{Success: true}, nil
		},
	})
	r.Register(&CommandDefinition{
		Name:     "clear",
		Category: CategoryBuiltin,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			if ctx.ClearContext != nil {
				if err := ctx.ClearContext(); err != nil {
					return CommandResult{Success: false, Message: err.Error()}, nil
				}
			}
			return CommandResult{Success: true, ClearMessages: true}, nil
		},
	})
	r.Register(&CommandDefinition{
		Name:     "compact",
		Category: CategoryBuiltin,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			return CommandResult{Success: true}, nil
		},
	})
	r.Register(&CommandDefinition{
		Name:     "exit",
		Category: CategoryBuiltin,
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			return CommandResult{Success: true, DestroySession: true}, nil
		},
	})
	r.Register(&CommandDefinition{
		Name:         "model",
		Category:     CategoryBuiltin,
		ArgumentHint: "<provider/model>",
		Execute: func(args string, ctx *CommandContext) (CommandResult, error) {
			model := strings.TrimSpace(args)
			if model == "" {
				return CommandResult{Success: false, Message: "usage: /model <provider/model>"}, nil
			}
			return CommandResult{Success: true, StateUpdate: map[string]any{"model": model}}, nil
		},
	})
}

func helpText(r *Registry) string {
	var b strings.Builder
	b.WriteString("Available commands:\n")
	for _, def := range r.List() {
		if def.Hidden {
			continue
		}
		b.WriteString("/" + def.Name)
		if def.ArgumentHint != "" {
			b.WriteString(" " + def.ArgumentHint)
		}
		b.WriteString("\n")
	}
	return b.String()
}
