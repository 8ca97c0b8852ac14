package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/edb/internal/catalog"
)

// testStore creates a temporary SQLite catalog for testing and registers
// cleanup.
func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.catalog.db")
	s, err := Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("Open(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// sampleExperiment builds an unsaved two-file generic experiment with one
// stream and two variables.
func sampleExperiment(now time.Time) *catalog.Experiment {
	exp := catalog.NewExperiment("generic", "/data/run1")
	st, _ := exp.EnsureStream("out")
	st.AddFile(&catalog.File{RelativePath: "out_2010-01.nc", Kind: "netcdf",
		StartTime: "2010-01-01 00:00:00", EndTime: "2010-01-31 00:00:00", LastSeen: now})
	st.AddFile(&catalog.File{RelativePath: "out_2010-02.nc", Kind: "netcdf",
		StartTime: "2010-02-01 00:00:00", EndTime: "2010-02-28 00:00:00", LastSeen: now})
	st.ReplaceVariables([]catalog.Variable{
		{Name: "T", StandardName: "air_temperature", LongName: "Temperature", Units: "K"},
		{Name: "U", StandardName: "eastward_wind"},
	}, now)
	return exp
}

func countRows(t *testing.T, s *SQLiteStore, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(query, args...).Scan(&n))
	return n
}

func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database and tables", func(t *testing.T) {
		t.Parallel()
		s := testStore(t)

		var mode string
		require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)

		for _, name := range []string{"experiment", "stream", "file", "variable", "variable_fts"} {
			n := countRows(t, s, "SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name = ?", name)
			assert.Equal(t, 1, n, "table %q", name)
		}
	})

	t.Run("idempotent schema creation", func(t *testing.T) {
		t.Parallel()
		dbPath := filepath.Join(t.TempDir(), "idempotent.db")

		s1, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		s1.Close()

		s2, err := Open(context.Background(), dbPath)
		require.NoError(t, err)
		s2.Close()
	})

	t.Run("invalid path returns error", func(t *testing.T) {
		t.Parallel()
		_, err := Open(context.Background(), filepath.Join(os.DevNull, "nonexistent", "path.db"))
		assert.Error(t, err)
	})
}

func TestCommitNewExperiment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	exp := sampleExperiment(now)
	require.NoError(t, s.Commit(ctx, exp))

	assert.NotZero(t, exp.ID)
	st := exp.Stream("out")
	assert.NotZero(t, st.ID)
	assert.False(t, st.VariablesReplaced())
	for _, f := range st.Files {
		assert.NotZero(t, f.ID)
	}
	for _, v := range st.Variables {
		assert.NotZero(t, v.ID)
	}

	got, err := s.FindExperiment(ctx, "generic", "/data/run1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, exp.ID, got.ID)
	assert.Equal(t, "run1", got.Name)

	gst := got.Stream("out")
	require.NotNil(t, gst)
	assert.True(t, gst.LastVariableRefresh.Equal(now))
	require.Len(t, gst.Files, 2)
	assert.Equal(t, "out_2010-01.nc", gst.Files[0].RelativePath)
	assert.Equal(t, "2010-02-28 00:00:00", gst.Files[1].EndTime)
	assert.True(t, gst.Files[0].LastSeen.Equal(now))
	require.Len(t, gst.Variables, 2)
	assert.Equal(t, "air_temperature", gst.Variables[0].StandardName)
	assert.Equal(t, "", gst.Variables[1].LongName)
}

func TestFindExperimentMissing(t *testing.T) {
	t.Parallel()
	s := testStore(t)

	exp, err := s.FindExperiment(context.Background(), "generic", "/nowhere")
	require.NoError(t, err)
	assert.Nil(t, exp)
}

func TestCommitIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Commit(ctx, sampleExperiment(now)))
	before, err := s.Stats(ctx)
	require.NoError(t, err)

	// A fresh copy with no ids must resolve onto the same rows.
	again := sampleExperiment(now.Add(time.Hour))
	again.Stream("out").MarkCommitted()
	require.NoError(t, s.Commit(ctx, again))

	after, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, Stats{Experiments: 1, Streams: 1, Files: 2, Variables: 2}, after)
}

func TestCommitKeepsFileTimes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	exp := sampleExperiment(now)
	require.NoError(t, s.Commit(ctx, exp))

	later := now.Add(24 * time.Hour)
	f := exp.Stream("out").Files[0]
	f.StartTime = "1999-01-01 00:00:00"
	f.LastSeen = later
	require.NoError(t, s.Commit(ctx, exp))

	got, err := s.FindExperiment(ctx, "generic", "/data/run1")
	require.NoError(t, err)
	gf := got.Stream("out").Files[0]
	assert.Equal(t, "2010-01-01 00:00:00", gf.StartTime)
	assert.True(t, gf.LastSeen.Equal(later))
}

func TestCommitReplacesVariablesAndIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	exp := sampleExperiment(now)
	require.NoError(t, s.Commit(ctx, exp))

	match := func(q string) int {
		return countRows(t, s, "SELECT COUNT(*) FROM variable_fts WHERE variable_fts MATCH ?", q)
	}
	assert.Equal(t, 1, match("temperature"))
	assert.Equal(t, 1, match("eastward"))

	exp.Stream("out").ReplaceVariables([]catalog.Variable{{Name: "salt", LongName: "Salinity"}}, now.Add(time.Hour))
	require.NoError(t, s.Commit(ctx, exp))

	assert.Equal(t, 0, match("temperature"))
	assert.Equal(t, 0, match("eastward"))
	assert.Equal(t, 1, match("salinity"))
	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM variable"))

	// Updates keep the index in step too.
	_, err := s.db.Exec("UPDATE variable SET long_name = 'Ocean salinity'")
	require.NoError(t, err)
	assert.Equal(t, 1, match("ocean"))

	// Porter stemming matches inflected forms.
	assert.Equal(t, 1, match("salinities"))
}

func TestCommitEmptyVariableSet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Now()

	exp := sampleExperiment(now)
	require.NoError(t, s.Commit(ctx, exp))

	exp.Stream("out").ReplaceVariables(nil, now)
	require.NoError(t, s.Commit(ctx, exp))
	assert.Equal(t, 0, countRows(t, s, "SELECT COUNT(*) FROM variable"))
}

func TestFindOrCreateExperiment(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	id1, err := s.FindOrCreateExperiment(ctx, "generic", "/data/run1", "run1")
	require.NoError(t, err)
	id2, err := s.FindOrCreateExperiment(ctx, "generic", "/data/run1", "run1")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	id3, err := s.FindOrCreateExperiment(ctx, "payu", "/data/run1", "run1")
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)
}

func TestFindOrCreateExperimentConcurrent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)

	const workers = 8
	ids := make([]int64, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids[i], errs[i] = s.FindOrCreateExperiment(ctx, "generic", "/data/shared", "shared")
		}()
	}
	wg.Wait()

	for i := range workers {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}
	assert.Equal(t, 1, countRows(t, s, "SELECT COUNT(*) FROM experiment"))
}

func TestExperimentIdentityIsUnique(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	properties.Property("one row per (type, path)", prop.ForAll(
		func(picks []int) bool {
			if _, err := s.db.Exec("DELETE FROM experiment"); err != nil {
				return false
			}
			types := []string{"generic", "payu"}
			distinct := make(map[string]bool)
			for _, p := range picks {
				typeID := types[p%2]
				path := fmt.Sprintf("/data/run%d", p%5)
				distinct[typeID+path] = true
				if _, err := s.FindOrCreateExperiment(ctx, typeID, path, "x"); err != nil {
					return false
				}
			}
			return countRows(t, s, "SELECT COUNT(*) FROM experiment") == len(distinct)
		},
		gen.SliceOf(gen.IntRange(0, 100)),
	))

	properties.TestingRun(t)
}

func TestListExperiments(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := testStore(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.Commit(ctx, sampleExperiment(now)))
	other := catalog.NewExperiment("payu", "/data/om2")
	st, _ := other.EnsureStream("ocean")
	st.AddFile(&catalog.File{RelativePath: "output000/ocean/ocean.nc", Kind: "netcdf", LastSeen: now})
	require.NoError(t, s.Commit(ctx, other))

	list, err := s.ListExperiments(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "run1", list[0].Name)
	assert.Equal(t, 1, list[0].Streams)
	assert.Equal(t, 2, list[0].Files)
	assert.Equal(t, 2, list[0].Variables)
	assert.True(t, list[0].LastSeen.Equal(now))
	assert.Equal(t, "payu", list[1].Type)
	assert.Equal(t, 0, list[1].Variables)
}

func TestCommitRetriesAfterConflict(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newStore(db)
	s.retryDelay = time.Millisecond

	lookup := regexp.QuoteMeta("SELECT id FROM experiment WHERE type = ? AND path = ?")
	insert := regexp.QuoteMeta("INSERT INTO experiment (name, path, type)")
	update := regexp.QuoteMeta("UPDATE experiment SET name = ? WHERE id = ?")

	// First attempt: the row is absent, then another writer wins the insert.
	mock.ExpectBegin()
	mock.ExpectQuery(lookup).WithArgs("generic", "/data/run1").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectQuery(insert).WithArgs("run1", "/data/run1", "generic").
		WillReturnError(errors.New("constraint failed: UNIQUE constraint failed: experiment.type, experiment.path (2067)"))
	mock.ExpectRollback()

	// Second attempt sees the winner's row and updates it.
	mock.ExpectBegin()
	mock.ExpectQuery(lookup).WithArgs("generic", "/data/run1").WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
	mock.ExpectExec(update).WithArgs("run1", int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	exp := catalog.NewExperiment("generic", "/data/run1")
	require.NoError(t, s.Commit(context.Background(), exp))
	assert.Equal(t, int64(7), exp.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCommitDoesNotRetryOtherErrors(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := newStore(db)
	s.retryDelay = time.Millisecond

	mock.ExpectBegin().WillReturnError(errors.New("disk I/O error"))

	exp := catalog.NewExperiment("generic", "/data/run1")
	err = s.Commit(context.Background(), exp)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.Zero(t, exp.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}
