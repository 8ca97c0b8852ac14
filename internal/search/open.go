package search

import (
	"context"
	"fmt"
)

// Selection is a variable resolved to the ordered files that hold it.
type Selection struct {
	Variable Row
	Files    []FileRef
}

// OpenOne resolves filters to exactly one variable and returns its files in
// tr. It fails with ErrNoResult or ErrAmbiguousResult otherwise.
func (e *Engine) OpenOne(ctx context.Context, filters Filters, tr TimeRange) (Selection, error) {
	rows, err := e.Search(ctx, filters)
	if err != nil {
		return Selection{}, err
	}
	switch len(rows) {
	case 0:
		return Selection{}, fmt.Errorf("search: %w", ErrNoResult)
	case 1:
	default:
		return Selection{}, fmt.Errorf("search: %w (%d matches)", ErrAmbiguousResult, len(rows))
	}
	return e.selection(ctx, rows[0], tr)
}

// Open resolves every variable matching filters, in variable id order.
func (e *Engine) Open(ctx context.Context, filters Filters, tr TimeRange) ([]Selection, error) {
	rows, err := e.Search(ctx, filters)
	if err != nil {
		return nil, err
	}
	out := make([]Selection, 0, len(rows))
	for _, r := range rows {
		sel, err := e.selection(ctx, r, tr)
		if err != nil {
			return nil, err
		}
		out = append(out, sel)
	}
	return out, nil
}

func (e *Engine) selection(ctx context.Context, r Row, tr TimeRange) (Selection, error) {
	files, err := e.LocateForOpen(ctx, r.VariableID, tr)
	if err != nil {
		return Selection{}, err
	}
	return Selection{Variable: r, Files: files}, nil
}

// Concatenable drops files whose time range lies inside the range of the
// file kept before them, such as a monthly file shadowed by an annual file
// of the same stream. files must be in start-time order. Files with an
// unknown range are always kept.
func Concatenable(files []FileRef) []FileRef {
	var out []FileRef
	for _, f := range files {
		if n := len(out); n > 0 && within(f, out[n-1]) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func within(f, outer FileRef) bool {
	if f.StartTime == "" || f.EndTime == "" || outer.StartTime == "" || outer.EndTime == "" {
		return false
	}
	return f.StartTime >= outer.StartTime && f.EndTime <= outer.EndTime
}
