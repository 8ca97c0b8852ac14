package search

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// Engine runs read-only queries against the catalog database.
type Engine struct {
	db *sql.DB
}

// NewEngine returns an engine reading from db.
func NewEngine(db *sql.DB) *Engine {
	return &Engine{db: db}
}

// Row is one variable matched by Search.
type Row struct {
	VariableID   int64
	Experiment   string
	Type         string
	Stream       string
	Name         string
	LongName     string
	StandardName string
	Units        string
}

// TimeRange restricts file queries to files overlapping [From, To]. Either
// end may be empty for an open bound, and a bound may be a prefix such as
// "2010" or "2010-02": it is compared against file times truncated to its
// own length.
type TimeRange struct {
	From string
	To   string
}

// FileRef is one file resolved to its absolute path.
type FileRef struct {
	Path      string
	StartTime string
	EndTime   string
	Kind      string
}

// VariableFiles holds the files of one variable in start-time order.
type VariableFiles struct {
	VariableID int64
	Name       string
	Files      []FileRef
}

const variableJoins = `
	FROM variable v
	JOIN stream s ON s.id = v.stream_id
	JOIN experiment e ON e.id = s.experiment_id`

const ftsJoin = `
	JOIN variable_fts ON variable_fts.rowid = v.id`

func (c clause) from() string {
	if c.fullText {
		return variableJoins + ftsJoin
	}
	return variableJoins
}

func (c clause) whereSQL(extra ...string) string {
	conds := append(append([]string{}, c.where...), extra...)
	if len(conds) == 0 {
		return ""
	}
	return "\n\tWHERE " + strings.Join(conds, " AND ")
}

// normalizeBound accepts ISO-8601 "T" separated bounds.
func normalizeBound(b string) string {
	return strings.Replace(strings.TrimSpace(b), "T", " ", 1)
}

// overlap renders the time-range conditions on the file table aliased f.
// Files whose start or end is unknown are never excluded.
func (tr TimeRange) overlap() ([]string, []any) {
	var conds []string
	var args []any
	if from := normalizeBound(tr.From); from != "" {
		conds = append(conds, "(f.end_time IS NULL OR substr(f.end_time, 1, length(?)) >= ?)")
		args = append(args, from, from)
	}
	if to := normalizeBound(tr.To); to != "" {
		conds = append(conds, "(f.start_time IS NULL OR substr(f.start_time, 1, length(?)) <= ?)")
		args = append(args, to, to)
	}
	return conds, args
}

// Search returns every variable matching all non-empty filters, ordered by
// variable id.
func (e *Engine) Search(ctx context.Context, filters Filters) ([]Row, error) {
	c, err := filters.compile()
	if err != nil {
		return nil, err
	}
	q := `
	SELECT v.id, e.name, e.type, s.name, v.name,
	       COALESCE(v.long_name, ''), COALESCE(v.standard_name, ''), COALESCE(v.units, '')` +
		c.from() + c.whereSQL() + `
	ORDER BY v.id`

	rows, err := e.db.QueryContext(ctx, q, c.args...)
	if err != nil {
		return nil, fmt.Errorf("search: query variables: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.VariableID, &r.Experiment, &r.Type, &r.Stream, &r.Name,
			&r.LongName, &r.StandardName, &r.Units); err != nil {
			return nil, fmt.Errorf("search: scan variable: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: iterate variables: %w", err)
	}
	return out, nil
}

// Files returns, for every variable matching filters, the files of its stream
// that overlap tr. Variables are ordered by id and files by start time.
// Variables without a file in range are left out.
func (e *Engine) Files(ctx context.Context, filters Filters, tr TimeRange) ([]VariableFiles, error) {
	c, err := filters.compile()
	if err != nil {
		return nil, err
	}
	conds, targs := tr.overlap()
	q := `
	SELECT v.id, v.name, e.path, f.relative_path,
	       COALESCE(f.start_time, ''), COALESCE(f.end_time, ''), f.kind` +
		c.from() + `
	JOIN file f ON f.stream_id = s.id` +
		c.whereSQL(conds...) + `
	ORDER BY v.id, f.start_time, f.relative_path`

	rows, err := e.db.QueryContext(ctx, q, append(c.args, targs...)...)
	if err != nil {
		return nil, fmt.Errorf("search: query files: %w", err)
	}
	defer rows.Close()

	var out []VariableFiles
	for rows.Next() {
		var id int64
		var name, root, rel string
		var ref FileRef
		if err := rows.Scan(&id, &name, &root, &rel, &ref.StartTime, &ref.EndTime, &ref.Kind); err != nil {
			return nil, fmt.Errorf("search: scan file: %w", err)
		}
		ref.Path = filepath.Join(root, rel)
		if n := len(out); n == 0 || out[n-1].VariableID != id {
			out = append(out, VariableFiles{VariableID: id, Name: name})
		}
		last := &out[len(out)-1]
		last.Files = append(last.Files, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: iterate files: %w", err)
	}
	return out, nil
}

// LocateForOpen returns the files of the stream holding variableID that
// overlap tr, ordered by start time. It fails with ErrNoResult when the
// variable does not exist.
func (e *Engine) LocateForOpen(ctx context.Context, variableID int64, tr TimeRange) ([]FileRef, error) {
	var streamID int64
	var root string
	err := e.db.QueryRowContext(ctx, `
		SELECT s.id, e.path FROM variable v
		JOIN stream s ON s.id = v.stream_id
		JOIN experiment e ON e.id = s.experiment_id
		WHERE v.id = ?`, variableID).Scan(&streamID, &root)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("search: variable %d: %w", variableID, ErrNoResult)
	}
	if err != nil {
		return nil, fmt.Errorf("search: locate variable %d: %w", variableID, err)
	}

	conds, args := tr.overlap()
	q := `
		SELECT f.relative_path, COALESCE(f.start_time, ''), COALESCE(f.end_time, ''), f.kind
		FROM file f
		WHERE ` + strings.Join(append([]string{"f.stream_id = ?"}, conds...), " AND ") + `
		ORDER BY f.start_time, f.relative_path`

	rows, err := e.db.QueryContext(ctx, q, append([]any{streamID}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("search: files of variable %d: %w", variableID, err)
	}
	defer rows.Close()

	var out []FileRef
	for rows.Next() {
		var rel string
		var ref FileRef
		if err := rows.Scan(&rel, &ref.StartTime, &ref.EndTime, &ref.Kind); err != nil {
			return nil, fmt.Errorf("search: scan file: %w", err)
		}
		ref.Path = filepath.Join(root, rel)
		out = append(out, ref)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search: iterate files: %w", err)
	}
	return out, nil
}
