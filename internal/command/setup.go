package command

// NewRegistryWithDefaults builds a Registry pre-loaded with the builtin
// command set, the canonical Ralph workflow command, and the given
// Executor's template commands, in the discovery order spec §9 expects:
// builtins first, then workflows, then on-disk/config templates (skill
// and agent commands are registered later by their own discovery
// passes).
func NewRegistryWithDefaults(exec *Executor) *Registry {
	r := NewRegistry()
	RegisterBuiltins(r)
	RegisterRalph(r)
	if exec != nil {
		RegisterTemplateCommands(r, exec)
	}
	return r
}
