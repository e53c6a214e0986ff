package plugins

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// EvaluateProviderGuard evaluates a Provider's optional CEL guard
// expression against systemConfig, returning whether the provider should
// be considered bound. A provider with no Guard is always bound. Any
// compilation or evaluation error fails closed (bound=false, non-nil
// error).
func EvaluateProviderGuard(p Provider, systemConfig map[string]interface{}) (bound bool, err error) {
	if p.Guard == "" {
		return true, nil
	}

	declVars := make([]cel.EnvOption, 0, len(systemConfig))
	for k := range systemConfig {
		declVars = append(declVars, cel.Variable(k, cel.DynType))
	}

	env, err := cel.NewEnv(declVars...)
	if err != nil {
		return false, fmt.Errorf("plugins: provider %s: build cel env: %w", p.Key, err)
	}

	ast, issues := env.Compile(p.Guard)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("plugins: provider %s: compile guard: %w", p.Key, issues.Err())
	}

	program, err := env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("plugins: provider %s: build cel program: %w", p.Key, err)
	}

	out, _, err := program.Eval(systemConfig)
	if err != nil {
		return false, fmt.Errorf("plugins: provider %s: evaluate guard: %w", p.Key, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("plugins: provider %s: guard must evaluate to bool, got %T", p.Key, out.Value())
	}
	return result, nil
}
