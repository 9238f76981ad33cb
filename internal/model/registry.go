package model

import (
	"fmt"
	"sort"
)

// Spec selects and sizes an architecture.
type Spec struct {
	Kind       string
	Hidden     []int
	InputSize  int
	NumClasses int
	Seed       int64
}

// Factory builds a fresh Model from a Spec.
type Factory func(spec Spec) (Model, error)

// Registry maps architecture kinds to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry holding the built-in kinds "softmax" and "mlp".
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.Register("softmax", func(spec Spec) (Model, error) {
		return NewLinear(spec.NumClasses, spec.InputSize, spec.Seed), nil
	})
	r.Register("mlp", func(spec Spec) (Model, error) {
		if len(spec.Hidden) == 0 {
			return nil, fmt.Errorf("model: mlp needs at least one hidden layer")
		}
		return NewMLP(spec.NumClasses, spec.InputSize, spec.Hidden, spec.Seed)
	})
	return r
}

// Register adds or replaces the factory for kind.
func (r *Registry) Register(kind string, f Factory) {
	r.factories[kind] = f
}

// Build constructs a model of spec.Kind.
func (r *Registry) Build(spec Spec) (Model, error) {
	f, ok := r.factories[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("model: unknown architecture kind %q (known: %v)", spec.Kind, r.Kinds())
	}
	return f(spec)
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
