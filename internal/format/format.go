// Package format adapts scientific file formats to the catalog. A Handler
// recognises one format and knows how to list the variables and the time range
// of a file; the decoding itself is left to the format's own tools.
package format

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/papapumpkin/edb/internal/catalog"
)

// ErrUnsupported is returned by optional handler operations a format cannot
// provide.
var ErrUnsupported = errors.New("operation not supported for this format")

// TimeRange is the declared time coverage of a file in
// catalog.TimestampLayout. Either end may be empty when unknown.
type TimeRange struct {
	Start string
	End   string
}

// Handler recognises and reads one file format.
type Handler interface {
	// Kind is the file kind recorded in the catalog, e.g. "netcdf".
	Kind() string

	// Probe reports whether path is a file of this format. It must not leave
	// any state behind when it returns false.
	Probe(path string) bool

	// Describe returns the time range covered by the file.
	Describe(ctx context.Context, path string) (TimeRange, error)

	// Variables lists the variables stored in the file. An empty result is
	// valid.
	Variables(ctx context.Context, path string) ([]catalog.Variable, error)
}

// Dumper is implemented by handlers that can write the contents of one
// variable of a file as text.
type Dumper interface {
	Dump(ctx context.Context, path, variable string, w io.Writer) error
}

// Registry tries handlers in a fixed priority order.
type Registry struct {
	handlers []Handler
	byKind   map[string]Handler
}

// NewRegistry returns a registry that probes handlers in the given order.
func NewRegistry(handlers ...Handler) *Registry {
	r := &Registry{
		handlers: handlers,
		byKind:   make(map[string]Handler, len(handlers)),
	}
	for _, h := range handlers {
		r.byKind[h.Kind()] = h
	}
	return r
}

// Match returns the first handler whose probe accepts path.
func (r *Registry) Match(path string) (Handler, bool) {
	for _, h := range r.handlers {
		if h.Probe(path) {
			return h, true
		}
	}
	return nil, false
}

// Handler returns the handler registered for a file kind.
func (r *Registry) Handler(kind string) (Handler, bool) {
	h, ok := r.byKind[kind]
	return h, ok
}

// Classify builds a new catalog file for path, which is relative to root. It
// returns false when no handler recognises the file. A failure to read the
// time range is not fatal; the file is recorded without one.
func (r *Registry) Classify(ctx context.Context, root, rel string) (*catalog.File, bool, error) {
	abs := joinRoot(root, rel)
	h, ok := r.Match(abs)
	if !ok {
		return nil, false, nil
	}
	f := &catalog.File{RelativePath: rel, Kind: h.Kind()}
	tr, err := h.Describe(ctx, abs)
	if err != nil {
		return f, true, fmt.Errorf("format: describe %s: %w", abs, err)
	}
	f.StartTime = tr.Start
	f.EndTime = tr.End
	return f, true, nil
}

// Variables lists the variables of a catalogued file using the handler for its
// kind.
func (r *Registry) Variables(ctx context.Context, kind, path string) ([]catalog.Variable, error) {
	h, ok := r.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("format: no handler for kind %q", kind)
	}
	vars, err := h.Variables(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("format: variables of %s: %w", path, err)
	}
	return vars, nil
}

// Dump writes one variable of a file through the handler for its kind.
func (r *Registry) Dump(ctx context.Context, kind, path, variable string, w io.Writer) error {
	h, ok := r.byKind[kind]
	if !ok {
		return fmt.Errorf("format: no handler for kind %q", kind)
	}
	d, ok := h.(Dumper)
	if !ok {
		return fmt.Errorf("format: dump %s: %w", kind, ErrUnsupported)
	}
	return d.Dump(ctx, path, variable, w)
}
