// Package search answers catalog queries: faceted and full-text variable
// search, and resolution of variables back to the files that hold them.
package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrUnknownParam is returned for a filter name missing from Params.
	ErrUnknownParam = errors.New("unknown search parameter")
	// ErrNoResult is returned when a query that must resolve to one variable
	// matches none.
	ErrNoResult = errors.New("no matching variable")
	// ErrAmbiguousResult is returned when a query that must resolve to one
	// variable matches several.
	ErrAmbiguousResult = errors.New("query matches more than one variable")
)

// Param is one searchable facet.
type Param struct {
	Name        string
	Description string

	// Column is the qualified SQL column an equality facet compares against.
	// It is empty for the full-text facet.
	Column string

	FullText bool
	Integer  bool
}

// Params is the directory of search parameters, in display order. The CLI
// builds its flags and help text from it.
var Params = []Param{
	{Name: "experiment", Description: "experiment name", Column: "e.name"},
	{Name: "type", Description: "experiment type", Column: "e.type"},
	{Name: "stream", Description: "stream name", Column: "s.name"},
	{Name: "name", Description: "variable name", Column: "v.name"},
	{Name: "variable_id", Description: "catalog id of the variable", Column: "v.id", Integer: true},
	{Name: "standard_name", Description: "CF standard name", Column: "v.standard_name"},
	{Name: "long_name", Description: "long descriptive name", Column: "v.long_name"},
	{Name: "variable", Description: "full-text match on name, long name and standard name", FullText: true},
}

// LookupParam returns the parameter called name.
func LookupParam(name string) (Param, bool) {
	for _, p := range Params {
		if p.Name == name {
			return p, true
		}
	}
	return Param{}, false
}

// Filters maps parameter names to the values to match. Empty values are
// ignored; every non-empty facet must match.
type Filters map[string]string

// clause is the SQL form of a set of filters.
type clause struct {
	fullText bool
	where    []string
	args     []any
}

// compile checks filters against Params and renders the conditions in
// directory order.
func (f Filters) compile() (clause, error) {
	for name := range f {
		if _, ok := LookupParam(name); !ok {
			return clause{}, fmt.Errorf("search: %w: %q", ErrUnknownParam, name)
		}
	}

	var c clause
	for _, p := range Params {
		val := strings.TrimSpace(f[p.Name])
		if val == "" {
			continue
		}
		switch {
		case p.FullText:
			q := sanitizeFTS(val)
			if q == "" {
				continue
			}
			c.fullText = true
			c.where = append(c.where, "variable_fts MATCH ?")
			c.args = append(c.args, q)
		case p.Integer:
			n, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return clause{}, fmt.Errorf("search: %s must be an integer: %w", p.Name, err)
			}
			c.where = append(c.where, p.Column+" = ?")
			c.args = append(c.args, n)
		default:
			c.where = append(c.where, p.Column+" = ?")
			c.args = append(c.args, val)
		}
	}
	return c, nil
}

// sanitizeFTS quotes each word so FTS5 operators and punctuation in user
// input are matched literally.
// "sea surface" -> `"sea" "surface"`
func sanitizeFTS(query string) string {
	var terms []string
	for _, w := range strings.Fields(query) {
		w = strings.ReplaceAll(w, `"`, "")
		if w != "" {
			terms = append(terms, `"`+w+`"`)
		}
	}
	return strings.Join(terms, " ")
}
