// Package trigger evaluates CEL conditions that gate post-action execution.
//
// Expressions see the incoming change as a map named input, for example
//
//	input.action == "create" && input.tracker.id == 42
//
// A condition that reads a key the change does not carry does not match;
// use has() to test for presence explicitly.
package trigger

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"

	"github.com/Mindburn-Labs/tracker-postaction/pkg/contracts"
)

// EvalError reports a trigger that compiled but could not be evaluated
// against a change, for example a comparison between mismatched types.
type EvalError struct {
	Expr string
	Err  error
}

func (e *EvalError) Error() string {
	return fmt.Sprintf("trigger: evaluate %q: %v", e.Expr, e.Err)
}

func (e *EvalError) Unwrap() error { return e.Err }

// Evaluator compiles and caches trigger programs. Safe for concurrent use.
type Evaluator struct {
	env *cel.Env

	mu       sync.RWMutex
	programs map[string]cel.Program
}

// NewEvaluator builds an evaluator whose environment declares input as map(string, dyn).
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("trigger: cel env: %w", err)
	}
	return &Evaluator{env: env, programs: make(map[string]cel.Program)}, nil
}

// Compile checks expr and caches its program. The expression must be boolean-typed
// (or dyn, which is checked again at evaluation time).
func (e *Evaluator) Compile(expr string) error {
	if expr == "" {
		return nil
	}
	_, err := e.program(expr)
	return err
}

// Matches reports whether change satisfies expr. An empty expression always matches.
func (e *Evaluator) Matches(expr string, change contracts.ArtifactChange) (bool, error) {
	if expr == "" {
		return true, nil
	}
	input, err := toInput(change)
	if err != nil {
		return false, err
	}
	return e.MatchesDocument(expr, input)
}

// MatchesDocument evaluates expr against an already decoded change document.
func (e *Evaluator) MatchesDocument(expr string, input map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	val, _, err := prg.Eval(map[string]any{"input": input})
	if err != nil {
		if isMissingKey(err) {
			return false, nil
		}
		return false, &EvalError{Expr: expr, Err: err}
	}
	b, ok := val.Value().(bool)
	if !ok {
		return false, &EvalError{Expr: expr, Err: fmt.Errorf("returned %s, want bool", val.Type().TypeName())}
	}
	return b, nil
}

// cel-go reports absent map keys only through the error text.
func isMissingKey(err error) bool {
	return strings.HasPrefix(err.Error(), "no such key")
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prg, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("trigger: compile %q: %w", expr, issues.Err())
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return nil, fmt.Errorf("trigger: %q has type %s, want bool", expr, out)
	}
	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("trigger: program %q: %w", expr, err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

func toInput(change contracts.ArtifactChange) (map[string]any, error) {
	raw, err := json.Marshal(change)
	if err != nil {
		return nil, fmt.Errorf("trigger: encode input: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("trigger: decode input: %w", err)
	}
	return m, nil
}
