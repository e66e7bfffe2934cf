// Package expression evaluates expr-lang condition expressions against a
// run scope. Compiled programs are cached for repeated evaluation across
// rounds.
package expression

import (
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Evaluator evaluates boolean expressions against a scope map.
// It caches compiled expressions; the cache is safe for concurrent use.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new expression evaluator.
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*vm.Program)}
}

// Evaluate evaluates an expression against the given scope. The scope
// contains the run bindings (user, state, steps, parsed, round, ...).
// Missing identifiers are allowed and evaluate falsy. The expression
// must yield a boolean.
//
// Example:
//
//	ok, err := eval.Evaluate(`parsed.verdict == "approve" and round > 1`, scope)
func (e *Evaluator) Evaluate(expression string, scope map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, fmt.Errorf("failed to compile expression %q: %w", expression, err)
	}

	evalScope := make(map[string]interface{}, len(scope)+2)
	for k, v := range scope {
		evalScope[k] = v
	}
	// "contains" is reserved in expr for string operations; expose
	// membership under "has"/"includes".
	evalScope["has"] = containsFunc
	evalScope["includes"] = containsFunc
	evalScope["length"] = lenFunc

	result, err := expr.Run(program, evalScope)
	if err != nil {
		return false, fmt.Errorf("expression %q evaluation failed: %w", expression, err)
	}

	boolResult, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("expression %q must return boolean, got %T (%v)", expression, result, result)
	}
	return boolResult, nil
}

// Validate compiles an expression without running it. Document validation
// uses this to catch syntax errors early.
func Validate(expression string) error {
	if expression == "" {
		return nil
	}
	if _, err := compileProgram(expression); err != nil {
		return fmt.Errorf("invalid expr condition %q: %w", expression, err)
	}
	return nil
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	prog, err := compileProgram(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()
	return prog, nil
}

func compileProgram(expression string) (*vm.Program, error) {
	env := map[string]interface{}{
		"has":      containsFunc,
		"includes": containsFunc,
		"length":   lenFunc,
	}
	return expr.Compile(expression,
		expr.Env(env),
		// The scope is supplied at runtime; undefined identifiers are
		// legal and evaluate falsy.
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
	)
}

// CacheSize returns the number of cached compiled expressions.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}
