// Package gates implements named transition gates: predicates that must
// pass before the workflow may move from one phase to the next.
package gates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/fama/internal/workflow"
)

var (
	// ErrDuplicateGate is returned when a gate type is registered twice.
	ErrDuplicateGate = errors.New("gate type already registered")

	// ErrInvalidGate is returned for an empty name or nil predicate.
	ErrInvalidGate = errors.New("invalid gate registration")
)

// Definition is a configuration-supplied gate: which registered type to run
// on which transitions.
type Definition struct {
	Type   string         `koanf:"type" yaml:"type" json:"type"`
	Phases []string       `koanf:"phases" yaml:"phases" json:"phases"`
	Config map[string]any `koanf:"config" yaml:"config,omitempty" json:"config,omitempty"`
}

// Applies reports whether the definition covers the given transition.
func (d Definition) Applies(from, to workflow.Phase) bool {
	t := Transition(from, to)
	for _, p := range d.Phases {
		if p == t {
			return true
		}
	}
	return false
}

// Transition formats a transition the way definitions list them ("P->R").
func Transition(from, to workflow.Phase) string {
	return string(from) + "->" + string(to)
}

// Input is what a gate sees.
type Input struct {
	State      *workflow.State
	From       workflow.Phase
	To         workflow.Phase
	ProjectDir string
	Config     map[string]any
}

// Result is one gate's verdict.
type Result struct {
	Gate   string   `json:"gate"`
	Passed bool     `json:"passed"`
	Reason string   `json:"reason,omitempty"`
	Hints  []string `json:"hints,omitempty"`
}

// Outcome is the combined verdict over every applicable gate.
type Outcome struct {
	Passed  bool
	Reason  string
	Hints   []string
	Results []Result
}

// Func is a gate predicate. Returning an error counts as a failure.
type Func func(ctx context.Context, in Input) (Result, error)

// Registry maps gate type names to predicates.
type Registry struct {
	mu    sync.RWMutex
	gates map[string]Func
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]Func)}
}

// Register adds a gate type.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return ErrInvalidGate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.gates[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateGate, name)
	}
	r.gates[name] = fn
	return nil
}

// Lookup returns the predicate registered under name.
func (r *Registry) Lookup(name string) (Func, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.gates[name]
	return fn, ok
}

// Types returns the registered gate names, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gates))
	for n := range r.gates {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Evaluate runs every definition that applies to the transition in
// definition order and returns each result. Definitions for other
// transitions contribute nothing. An unregistered type yields a failed
// result naming it.
func (r *Registry) Evaluate(ctx context.Context, defs []Definition, in Input) []Result {
	var results []Result
	for _, def := range defs {
		if !def.Applies(in.From, in.To) {
			continue
		}
		fn, ok := r.Lookup(def.Type)
		if !ok {
			results = append(results, Result{
				Gate:   def.Type,
				Passed: false,
				Reason: fmt.Sprintf("unknown gate type %q", def.Type),
				Hints:  []string{fmt.Sprintf("registered gate types: %v", r.Types())},
			})
			continue
		}

		gin := in
		gin.Config = def.Config
		res, err := fn(ctx, gin)
		res.Gate = def.Type
		if err != nil {
			res.Passed = false
			res.Reason = fmt.Sprintf("gate %s failed: %v", def.Type, err)
		}
		results = append(results, res)
	}
	return results
}

// Check evaluates the applicable gates and passes only if all of them pass.
// The first failure supplies the reason and hints.
func (r *Registry) Check(ctx context.Context, defs []Definition, in Input) Outcome {
	results := r.Evaluate(ctx, defs, in)
	out := Outcome{Passed: true, Results: results}
	for _, res := range results {
		if !res.Passed {
			out.Passed = false
			out.Reason = res.Reason
			out.Hints = res.Hints
			break
		}
	}
	return out
}
