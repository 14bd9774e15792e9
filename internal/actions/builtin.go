package actions

// RegisterBuiltins registers every built-in action in reg.
func RegisterBuiltins(reg *Registry, shellCfg ShellConfig) error {
	all := make([]Action, 0, 8)
	all = append(all, BasicActions()...)
	all = append(all, ShellActions(shellCfg)...)
	all = append(all, EvalActions()...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}

// NewBuiltinRegistry returns a registry holding the built-in actions.
func NewBuiltinRegistry(shellCfg ShellConfig) (*Registry, error) {
	reg := NewRegistry()
	if err := RegisterBuiltins(reg, shellCfg); err != nil {
		return nil, err
	}
	return reg, nil
}
