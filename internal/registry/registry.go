// Package registry maps stable job-target names to invocable units of work.
//
// The registry is a closed dispatch table populated once at process start
// from the static manifest in internal/tasks. Target names from the job
// store are looked up against this set; there is no dynamic code loading.
package registry

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTarget is returned when a job references a target name that
// was never registered. The fire fails; the engine survives.
var ErrUnknownTarget = errors.New("unknown job target")

// Invocation carries everything a target receives for one run.
type Invocation struct {
	// JobCode is injected by the engine so targets can tag their own
	// side effects (log lines, re-queued work) with the owning job.
	JobCode string

	// Params is the job definition's params mapping.
	Params map[string]any
}

// Target is an invocable unit of work. The returned string is a short
// result summary recorded (truncated) on the run record.
type Target func(ctx context.Context, inv Invocation) (string, error)

// ParamField describes one expected parameter of a target.
type ParamField struct {
	Name     string
	Required bool
}

// ParamSchema is the expected parameter shape of a target.
type ParamSchema []ParamField

// Validate checks that all required fields are present in params.
func (s ParamSchema) Validate(params map[string]any) error {
	for _, f := range s {
		if !f.Required {
			continue
		}
		if _, ok := params[f.Name]; !ok {
			return fmt.Errorf("missing required param %q", f.Name)
		}
	}
	return nil
}

type entry struct {
	target Target
	schema ParamSchema
}

// Registry is the closed name → target table. Register during startup
// only; it is read-only once the engine starts.
type Registry struct {
	entries map[string]entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register associates a name with a target. Duplicate registration is a
// manifest bug and panics at startup.
func (r *Registry) Register(name string, target Target, schema ParamSchema) {
	if name == "" {
		panic("registry: empty target name")
	}
	if target == nil {
		panic("registry: nil target for " + name)
	}
	if _, exists := r.entries[name]; exists {
		panic("registry: duplicate target " + name)
	}
	r.entries[name] = entry{target: target, schema: schema}
}

// Resolve returns the target registered under name.
func (r *Registry) Resolve(name string) (Target, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	return e.target, nil
}

// Schema returns the parameter schema registered under name.
func (r *Registry) Schema(name string) (ParamSchema, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTarget, name)
	}
	return e.schema, nil
}

// Names returns all registered target names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	return names
}
