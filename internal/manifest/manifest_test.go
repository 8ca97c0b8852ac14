package manifest

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/store"
)

func seededStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	exp := catalog.NewExperiment("generic", "/data/run1")
	st, _ := exp.EnsureStream("out")
	st.AddFile(&catalog.File{RelativePath: "out_2010-02.nc", Kind: "netcdf",
		StartTime: "2010-02-01 00:00:00", EndTime: "2010-02-28 00:00:00", LastSeen: now})
	st.AddFile(&catalog.File{RelativePath: "out_2010-01.nc", Kind: "netcdf",
		StartTime: "2010-01-01 00:00:00", EndTime: "2010-01-31 00:00:00", LastSeen: now})
	st.AddFile(&catalog.File{RelativePath: "out_static.nc", Kind: "netcdf", LastSeen: now})
	st.ReplaceVariables([]catalog.Variable{{Name: "T"}, {Name: "U"}}, now)
	require.NoError(t, s.Commit(ctx, exp))
	return s
}

func TestBuild(t *testing.T) {
	t.Parallel()
	s := seededStore(t)
	now := time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)

	m, err := Build(context.Background(), s, now)
	require.NoError(t, err)
	assert.True(t, m.Generated.Equal(now))
	require.Len(t, m.Experiments, 1)

	exp := m.Experiments[0]
	assert.Equal(t, "run1", exp.Name)
	require.Len(t, exp.Streams, 1)
	st := exp.Streams[0]
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, "2010-01-01 00:00:00", st.Start)
	assert.Equal(t, "2010-02-28 00:00:00", st.End)
	assert.Equal(t, []string{"T", "U"}, st.Variables)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	t.Parallel()
	s := seededStore(t)
	m, err := Build(context.Background(), s, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "nested", "catalog.toml")
	require.NoError(t, Save(path, m))

	got, err := Load(path)
	require.NoError(t, err)
	require.Len(t, got.Experiments, 1)
	assert.Equal(t, m.Experiments[0].Streams[0].Variables, got.Experiments[0].Streams[0].Variables)
	assert.True(t, got.Generated.Equal(m.Generated))
}

func TestLoadMissing(t *testing.T) {
	t.Parallel()
	m, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Empty(t, m.Experiments)
}

func TestWrite(t *testing.T) {
	t.Parallel()
	m := &Manifest{Experiments: []Experiment{{
		Name: "om2", Type: "payu", Path: "/g/om2",
		Streams: []Stream{{Name: "ocean", Files: 4, Variables: []string{"temp"}}},
	}}}

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, m))
	out := buf.String()
	assert.Contains(t, out, "[[experiment]]")
	assert.Contains(t, out, "[[experiment.stream]]")
	assert.Contains(t, out, "name = 'ocean'")
}
