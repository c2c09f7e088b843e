package apicache

import (
	"fmt"
	"slices"
	"strings"
)

// Registry maps operation names to descriptors. It is built once, when the
// client is constructed, and never changes afterwards.
type Registry struct {
	ops map[string]Descriptor
}

// NewRegistry validates and indexes ops. Order does not matter; empty or
// duplicate names and operations without a request builder are rejected.
func NewRegistry(ops ...Operation) (*Registry, error) {
	r := &Registry{ops: make(map[string]Descriptor, len(ops))}
	for _, op := range ops {
		if op == nil {
			return nil, fmt.Errorf("%w: nil operation", ErrInvalidOperation)
		}
		d := op.Descriptor()
		if strings.TrimSpace(d.Name) == "" {
			return nil, fmt.Errorf("%w: empty name", ErrInvalidOperation)
		}
		if d.build == nil || d.shape == nil {
			return nil, fmt.Errorf("%w: %s has no request builder", ErrInvalidOperation, d.Name)
		}
		if d.Kind != KindQuery && d.Kind != KindMutation {
			return nil, fmt.Errorf("%w: %s has unknown kind", ErrInvalidOperation, d.Name)
		}
		if _, dup := r.ops[d.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateOperation, d.Name)
		}
		r.ops[d.Name] = d
	}
	return r, nil
}

func (r *Registry) Lookup(name string) (Descriptor, bool) {
	d, ok := r.ops[name]
	return d, ok
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.ops))
	for n := range r.ops {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

func (r *Registry) lookupKind(name string, kind Kind) (Descriptor, error) {
	d, ok := r.ops[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrUnknownOperation, name)
	}
	if d.Kind != kind {
		return Descriptor{}, fmt.Errorf("%w: %s is a %s", ErrWrongKind, name, d.Kind)
	}
	return d, nil
}
