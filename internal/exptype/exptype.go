// Package exptype holds the closed set of experiment types the catalog knows
// how to scan. Each type says where its output files live and how files are
// grouped into streams.
package exptype

import (
	"errors"
	"fmt"
	"sort"

	"github.com/papapumpkin/edb/internal/catalog"
)

// ErrUnknownType is returned when a type id has no registered variant.
var ErrUnknownType = errors.New("unknown experiment type")

// Variant describes one experiment type.
type Variant struct {
	ID          string
	Description string

	// Patterns are doublestar globs relative to the experiment root that
	// select candidate output files.
	Patterns []string

	// StreamKey maps a file's path relative to the experiment root to the name
	// of the stream it belongs to.
	StreamKey func(rel string) (string, error)
}

// Registry maps type ids to variants. It is built once at start-up and only
// read afterwards.
type Registry struct {
	variants map[string]Variant
}

// NewRegistry builds a registry from the given variants. Later variants with a
// duplicate id replace earlier ones.
func NewRegistry(variants ...Variant) *Registry {
	r := &Registry{variants: make(map[string]Variant, len(variants))}
	for _, v := range variants {
		r.variants[v.ID] = v
	}
	return r
}

// Default returns the registry of every built-in experiment type.
func Default() *Registry {
	return NewRegistry(Generic(), Payu(), UMRose())
}

// Lookup returns the variant registered for id.
func (r *Registry) Lookup(id string) (Variant, error) {
	v, ok := r.variants[id]
	if !ok {
		return Variant{}, fmt.Errorf("%w: %q", ErrUnknownType, id)
	}
	return v, nil
}

// Resolve returns a new, unsaved experiment of type id rooted at path.
func (r *Registry) Resolve(id, path string) (*catalog.Experiment, error) {
	if _, err := r.Lookup(id); err != nil {
		return nil, err
	}
	return catalog.NewExperiment(id, path), nil
}

// Variants returns every registered variant sorted by id.
func (r *Registry) Variants() []Variant {
	out := make([]Variant, 0, len(r.variants))
	for _, v := range r.variants {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IDs returns the registered type ids in sorted order.
func (r *Registry) IDs() []string {
	vs := r.Variants()
	ids := make([]string, len(vs))
	for i, v := range vs {
		ids[i] = v.ID
	}
	return ids
}
