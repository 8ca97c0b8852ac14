package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/papapumpkin/edb/internal/catalog"
)

// queryer is the part of *sql.DB and *sql.Tx used by the shared helpers.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// FindExperiment loads the experiment aggregate with the given identity, or
// returns nil if it has never been committed.
func (s *SQLiteStore) FindExperiment(ctx context.Context, typeID, path string) (*catalog.Experiment, error) {
	exp := &catalog.Experiment{Type: typeID, Path: path}
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name FROM experiment WHERE type = ? AND path = ?", typeID, path).
		Scan(&exp.ID, &exp.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: find experiment %s %q: %w", typeID, path, err)
	}
	if err := s.loadStreams(ctx, exp); err != nil {
		return nil, err
	}
	return exp, nil
}

// loadStreams attaches every stream of exp with its files (in insertion
// order) and variables.
func (s *SQLiteStore) loadStreams(ctx context.Context, exp *catalog.Experiment) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, last_variable_refresh FROM stream WHERE experiment_id = ? ORDER BY id", exp.ID)
	if err != nil {
		return fmt.Errorf("store: load streams of %d: %w", exp.ID, err)
	}
	byID := make(map[int64]*catalog.Stream)
	for rows.Next() {
		st := &catalog.Stream{}
		var refreshed sql.NullString
		if err := rows.Scan(&st.ID, &st.Name, &refreshed); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan stream: %w", err)
		}
		if st.LastVariableRefresh, err = parseTimestamp(refreshed); err != nil {
			rows.Close()
			return fmt.Errorf("store: stream %d refresh time: %w", st.ID, err)
		}
		byID[st.ID] = exp.AddStream(st)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("store: iterate streams: %w", err)
	}
	rows.Close()

	if err := s.loadFiles(ctx, exp.ID, byID); err != nil {
		return err
	}
	return s.loadVariables(ctx, exp.ID, byID)
}

func (s *SQLiteStore) loadFiles(ctx context.Context, expID int64, streams map[int64]*catalog.Stream) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, stream_id, relative_path, start_time, end_time, kind, last_seen
		FROM file WHERE experiment_id = ? ORDER BY id`, expID)
	if err != nil {
		return fmt.Errorf("store: load files of %d: %w", expID, err)
	}
	defer rows.Close()

	for rows.Next() {
		f := &catalog.File{}
		var streamID int64
		var start, end, seen sql.NullString
		if err := rows.Scan(&f.ID, &streamID, &f.RelativePath, &start, &end, &f.Kind, &seen); err != nil {
			return fmt.Errorf("store: scan file: %w", err)
		}
		f.StartTime, f.EndTime = start.String, end.String
		if f.LastSeen, err = parseTimestamp(seen); err != nil {
			return fmt.Errorf("store: file %d last seen: %w", f.ID, err)
		}
		if st := streams[streamID]; st != nil {
			st.Files = append(st.Files, f)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate files: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadVariables(ctx context.Context, expID int64, streams map[int64]*catalog.Stream) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.stream_id, v.name,
		       COALESCE(v.long_name, ''), COALESCE(v.standard_name, ''), COALESCE(v.method, ''),
		       COALESCE(v.time_resolution, ''), COALESCE(v.lat_resolution, ''),
		       COALESCE(v.lon_resolution, ''), COALESCE(v.units, '')
		FROM variable v JOIN stream s ON s.id = v.stream_id
		WHERE s.experiment_id = ? ORDER BY v.id`, expID)
	if err != nil {
		return fmt.Errorf("store: load variables of %d: %w", expID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var v catalog.Variable
		var streamID int64
		if err := rows.Scan(&v.ID, &streamID, &v.Name, &v.LongName, &v.StandardName, &v.Method,
			&v.TimeResolution, &v.LatResolution, &v.LonResolution, &v.Units); err != nil {
			return fmt.Errorf("store: scan variable: %w", err)
		}
		if st := streams[streamID]; st != nil {
			st.Variables = append(st.Variables, v)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("store: iterate variables: %w", err)
	}
	return nil
}

// FindOrCreateExperiment returns the id of the experiment with the given
// identity, inserting it if needed. Two callers racing on the same identity
// both end up with the one row the unique constraint lets through.
func (s *SQLiteStore) FindOrCreateExperiment(ctx context.Context, typeID, path, name string) (int64, error) {
	var id int64
	err := s.retry(ctx, func() error {
		var err error
		id, err = findOrCreateExperiment(ctx, s.db, typeID, path, name)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("store: find or create experiment %s %q: %w", typeID, path, err)
	}
	return id, nil
}

func lookupExperiment(ctx context.Context, q queryer, typeID, path string) (int64, bool, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT id FROM experiment WHERE type = ? AND path = ?", typeID, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}

// findOrCreateExperiment looks the experiment up and inserts it when absent.
// A unique violation from the insert means another writer got there first;
// the error is returned so the caller can retry the lookup.
func findOrCreateExperiment(ctx context.Context, q queryer, typeID, path, name string) (int64, error) {
	id, ok, err := lookupExperiment(ctx, q, typeID, path)
	if err != nil || ok {
		return id, err
	}
	err = q.QueryRowContext(ctx,
		"INSERT INTO experiment (name, path, type) VALUES (?, ?, ?) RETURNING id",
		name, path, typeID).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// pendingIDs collects ids generated inside a commit. They are only copied to
// the aggregate once the transaction has committed.
type pendingIDs struct {
	experiment int64
	streams    map[*catalog.Stream]int64
	files      map[*catalog.File]int64
	variables  map[*catalog.Stream][]int64
}

// Commit persists the experiment aggregate atomically. New rows are inserted,
// known files only have last_seen updated, and streams whose variables were
// replaced get their whole variable set rewritten. If another writer created
// the same experiment concurrently, the commit is retried as an update of
// that row.
func (s *SQLiteStore) Commit(ctx context.Context, exp *catalog.Experiment) error {
	var ids *pendingIDs
	err := s.retry(ctx, func() error {
		var err error
		ids, err = s.commitOnce(ctx, exp)
		return err
	})
	if err != nil {
		return fmt.Errorf("store: commit experiment %s %q: %w", exp.Type, exp.Path, err)
	}

	exp.ID = ids.experiment
	for st, id := range ids.streams {
		st.ID = id
	}
	for f, id := range ids.files {
		f.ID = id
	}
	for st, vids := range ids.variables {
		for i, id := range vids {
			st.Variables[i].ID = id
		}
		st.MarkCommitted()
	}
	return nil
}

func (s *SQLiteStore) commitOnce(ctx context.Context, exp *catalog.Experiment) (*pendingIDs, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	ids := &pendingIDs{
		streams:   make(map[*catalog.Stream]int64),
		files:     make(map[*catalog.File]int64),
		variables: make(map[*catalog.Stream][]int64),
	}

	expID := exp.ID
	if expID == 0 {
		if expID, err = findOrCreateExperiment(ctx, tx, exp.Type, exp.Path, exp.Name); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE experiment SET name = ? WHERE id = ?", exp.Name, expID); err != nil {
		return nil, fmt.Errorf("update experiment %d: %w", expID, err)
	}
	ids.experiment = expID

	for _, st := range exp.Streams() {
		streamID, err := upsertStream(ctx, tx, expID, st)
		if err != nil {
			return nil, err
		}
		ids.streams[st] = streamID

		for _, f := range st.Files {
			fileID, err := upsertFile(ctx, tx, expID, streamID, f)
			if err != nil {
				return nil, err
			}
			ids.files[f] = fileID
		}

		if st.VariablesReplaced() {
			vids, err := replaceVariables(ctx, tx, streamID, st.Variables)
			if err != nil {
				return nil, err
			}
			ids.variables[st] = vids
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

func upsertStream(ctx context.Context, tx *sql.Tx, expID int64, st *catalog.Stream) (int64, error) {
	const q = `
		INSERT INTO stream (experiment_id, name, last_variable_refresh)
		VALUES (?, ?, ?)
		ON CONFLICT(experiment_id, name) DO UPDATE SET
			last_variable_refresh = COALESCE(excluded.last_variable_refresh, stream.last_variable_refresh)
		RETURNING id`
	var id int64
	if err := tx.QueryRowContext(ctx, q, expID, st.Name, formatTime(st.LastVariableRefresh)).Scan(&id); err != nil {
		return 0, fmt.Errorf("upsert stream %q: %w", st.Name, err)
	}
	return id, nil
}

// upsertFile inserts a file or refreshes last_seen of a known one. Start and
// end times are never rewritten once stored.
func upsertFile(ctx context.Context, tx *sql.Tx, expID, streamID int64, f *catalog.File) (int64, error) {
	const q = `
		INSERT INTO file (stream_id, experiment_id, relative_path, start_time, end_time, kind, last_seen)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(stream_id, relative_path) DO UPDATE SET last_seen = excluded.last_seen
		RETURNING id`
	var id int64
	err := tx.QueryRowContext(ctx, q, streamID, expID, f.RelativePath,
		nullString(f.StartTime), nullString(f.EndTime), f.Kind, formatTime(f.LastSeen)).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert file %q: %w", f.RelativePath, err)
	}
	return id, nil
}

// replaceVariables deletes every variable of the stream and inserts vars in
// their place. The FTS triggers follow both statements.
func replaceVariables(ctx context.Context, tx *sql.Tx, streamID int64, vars []catalog.Variable) ([]int64, error) {
	if _, err := tx.ExecContext(ctx, "DELETE FROM variable WHERE stream_id = ?", streamID); err != nil {
		return nil, fmt.Errorf("clear variables of stream %d: %w", streamID, err)
	}
	if len(vars) == 0 {
		return nil, nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO variable (stream_id, name, long_name, standard_name, method,
			time_resolution, lat_resolution, lon_resolution, units)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)
	if err != nil {
		return nil, fmt.Errorf("prepare variable insert: %w", err)
	}
	defer stmt.Close()

	ids := make([]int64, len(vars))
	for i, v := range vars {
		err := stmt.QueryRowContext(ctx, streamID, v.Name, nullString(v.LongName), nullString(v.StandardName),
			nullString(v.Method), nullString(v.TimeResolution), nullString(v.LatResolution),
			nullString(v.LonResolution), nullString(v.Units)).Scan(&ids[i])
		if err != nil {
			return nil, fmt.Errorf("insert variable %q: %w", v.Name, err)
		}
	}
	return ids, nil
}

// ExperimentSummary is one row of ListExperiments.
type ExperimentSummary struct {
	ID        int64
	Name      string
	Path      string
	Type      string
	Streams   int
	Files     int
	Variables int
	LastSeen  time.Time
}

// ListExperiments returns every experiment with its stream, file and variable
// counts, ordered by id.
func (s *SQLiteStore) ListExperiments(ctx context.Context) ([]ExperimentSummary, error) {
	const q = `
		SELECT e.id, e.name, e.path, e.type,
		       (SELECT COUNT(*) FROM stream s WHERE s.experiment_id = e.id),
		       (SELECT COUNT(*) FROM file f WHERE f.experiment_id = e.id),
		       (SELECT COUNT(*) FROM variable v JOIN stream s ON s.id = v.stream_id WHERE s.experiment_id = e.id),
		       (SELECT MAX(f.last_seen) FROM file f WHERE f.experiment_id = e.id)
		FROM experiment e ORDER BY e.id`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("store: list experiments: %w", err)
	}
	defer rows.Close()

	var out []ExperimentSummary
	for rows.Next() {
		var e ExperimentSummary
		var seen sql.NullString
		if err := rows.Scan(&e.ID, &e.Name, &e.Path, &e.Type, &e.Streams, &e.Files, &e.Variables, &seen); err != nil {
			return nil, fmt.Errorf("store: scan experiment: %w", err)
		}
		if e.LastSeen, err = parseTimestamp(seen); err != nil {
			return nil, fmt.Errorf("store: experiment %d last seen: %w", e.ID, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate experiments: %w", err)
	}
	return out, nil
}

// Stats holds row counts of each catalog relation.
type Stats struct {
	Experiments int
	Streams     int
	Files       int
	Variables   int
}

// Stats counts the rows of each catalog relation.
func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT (SELECT COUNT(*) FROM experiment), (SELECT COUNT(*) FROM stream),
		       (SELECT COUNT(*) FROM file), (SELECT COUNT(*) FROM variable)`).
		Scan(&st.Experiments, &st.Streams, &st.Files, &st.Variables)
	if err != nil {
		return Stats{}, fmt.Errorf("store: stats: %w", err)
	}
	return st, nil
}
