package search

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/store"
)

// testEngine seeds a catalog with two experiments:
//
//	run1 (generic): stream out, files out_2010-01.nc and out_2010-02.nc,
//	                variables T (temperature) and U
//	run2 (payu):    stream ocean, one file without a time range,
//	                variable temp (temperature)
func testEngine(t *testing.T) *Engine {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	run1 := catalog.NewExperiment("generic", "/data/run1")
	out, _ := run1.EnsureStream("out")
	out.AddFile(&catalog.File{RelativePath: "out_2010-02.nc", Kind: "netcdf",
		StartTime: "2010-02-01 00:00:00", EndTime: "2010-02-28 00:00:00", LastSeen: now})
	out.AddFile(&catalog.File{RelativePath: "out_2010-01.nc", Kind: "netcdf",
		StartTime: "2010-01-01 00:00:00", EndTime: "2010-01-31 00:00:00", LastSeen: now})
	out.ReplaceVariables([]catalog.Variable{
		{Name: "T", LongName: "Temperature", StandardName: "temperature", Units: "K"},
		{Name: "U", LongName: "Zonal wind", StandardName: "eastward_wind", Units: "m s-1"},
	}, now)
	require.NoError(t, s.Commit(ctx, run1))

	run2 := catalog.NewExperiment("payu", "/data/run2")
	ocean, _ := run2.EnsureStream("ocean")
	ocean.AddFile(&catalog.File{RelativePath: "output000/ocean/ocean.nc", Kind: "netcdf", LastSeen: now})
	ocean.ReplaceVariables([]catalog.Variable{
		{Name: "temp", LongName: "Potential temperature", StandardName: "temperature", Units: "degC"},
	}, now)
	require.NoError(t, s.Commit(ctx, run2))

	return NewEngine(s.DB())
}

func names(rows []Row) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = r.Experiment + "/" + r.Stream + "/" + r.Name
	}
	return out
}

func ids(rows []Row) []int64 {
	out := make([]int64, len(rows))
	for i, r := range rows {
		out[i] = r.VariableID
	}
	return out
}

func paths(files []FileRef) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.Path
	}
	return out
}

func TestSearch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	tests := []struct {
		name    string
		filters Filters
		want    []string
	}{
		{"no filters", Filters{}, []string{"run1/out/T", "run1/out/U", "run2/ocean/temp"}},
		{"standard name", Filters{"standard_name": "temperature"}, []string{"run1/out/T", "run2/ocean/temp"}},
		{"conjunction", Filters{"standard_name": "temperature", "experiment": "run2"}, []string{"run2/ocean/temp"}},
		{"type", Filters{"type": "generic"}, []string{"run1/out/T", "run1/out/U"}},
		{"empty values ignored", Filters{"stream": "", "name": "U"}, []string{"run1/out/U"}},
		{"long name equality", Filters{"long_name": "Temperature"}, []string{"run1/out/T"}},
		{"no match", Filters{"stream": "atmos"}, []string{}},
		{"full text", Filters{"variable": "temperature"}, []string{"run1/out/T", "run2/ocean/temp"}},
		{"full text stemmed", Filters{"variable": "temperatures"}, []string{"run1/out/T", "run2/ocean/temp"}},
		{"full text all words", Filters{"variable": "potential temperature"}, []string{"run2/ocean/temp"}},
		{"full text standard name token", Filters{"variable": "eastward"}, []string{"run1/out/U"}},
		{"full text operators quoted", Filters{"variable": `wind OR "`}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := e.Search(ctx, tt.filters)
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(rows))
		})
	}
}

func TestSearchRowFields(t *testing.T) {
	t.Parallel()
	e := testEngine(t)

	rows, err := e.Search(context.Background(), Filters{"name": "temp"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	r := rows[0]
	assert.Equal(t, "payu", r.Type)
	assert.Equal(t, "Potential temperature", r.LongName)
	assert.Equal(t, "degC", r.Units)

	byID, err := e.Search(context.Background(), Filters{"variable_id": " 3 "})
	require.NoError(t, err)
	assert.Equal(t, rows, byID)
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()
	e := testEngine(t)

	_, err := e.Search(context.Background(), Filters{"colour": "red"})
	assert.True(t, errors.Is(err, ErrUnknownParam))

	_, err = e.Search(context.Background(), Filters{"variable_id": "seven"})
	assert.Error(t, err)
}

func TestFiles(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	got, err := e.Files(ctx, Filters{"standard_name": "temperature"}, TimeRange{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "T", got[0].Name)
	assert.Equal(t, []string{"/data/run1/out_2010-01.nc", "/data/run1/out_2010-02.nc"}, paths(got[0].Files))
	assert.Equal(t, "2010-01-31 00:00:00", got[0].Files[0].EndTime)
	assert.Equal(t, []string{"/data/run2/output000/ocean/ocean.nc"}, paths(got[1].Files))
	assert.Empty(t, got[1].Files[0].StartTime)
}

func TestFilesTimeRange(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	tests := []struct {
		name string
		tr   TimeRange
		want []string
	}{
		{"month prefix from", TimeRange{From: "2010-02"}, []string{"/data/run1/out_2010-02.nc"}},
		{"month prefix to", TimeRange{To: "2010-01"}, []string{"/data/run1/out_2010-01.nc"}},
		{"year covers both", TimeRange{From: "2010", To: "2010"}, []string{"/data/run1/out_2010-01.nc", "/data/run1/out_2010-02.nc"}},
		{"day inside second file", TimeRange{From: "2010-02-10"}, []string{"/data/run1/out_2010-02.nc"}},
		{"iso separator", TimeRange{From: "2010-01-31T00:00:00", To: "2010-01-31T12:00:00"}, []string{"/data/run1/out_2010-01.nc"}},
		{"after everything", TimeRange{From: "2011"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Files(ctx, Filters{"experiment": "run1", "name": "T"}, tt.tr)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, paths(got[0].Files))
		})
	}

	// Files with an unknown range are never filtered out.
	got, err := e.Files(ctx, Filters{"experiment": "run2"}, TimeRange{From: "2011"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Files, 1)
}

func TestLocateForOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	rows, err := e.Search(ctx, Filters{"experiment": "run1", "name": "T"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	id := rows[0].VariableID

	all, err := e.LocateForOpen(ctx, id, TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/run1/out_2010-01.nc", "/data/run1/out_2010-02.nc"}, paths(all))

	later, err := e.LocateForOpen(ctx, id, TimeRange{From: "2010-02-10"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/data/run1/out_2010-02.nc"}, paths(later))

	_, err = e.LocateForOpen(ctx, 999, TimeRange{})
	assert.True(t, errors.Is(err, ErrNoResult))
}

func TestOpenOne(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	sel, err := e.OpenOne(ctx, Filters{"name": "temp"}, TimeRange{})
	require.NoError(t, err)
	assert.Equal(t, "run2", sel.Variable.Experiment)
	assert.Len(t, sel.Files, 1)

	_, err = e.OpenOne(ctx, Filters{"standard_name": "temperature"}, TimeRange{})
	assert.True(t, errors.Is(err, ErrAmbiguousResult))

	_, err = e.OpenOne(ctx, Filters{"name": "salt"}, TimeRange{})
	assert.True(t, errors.Is(err, ErrNoResult))

	many, err := e.Open(ctx, Filters{"standard_name": "temperature"}, TimeRange{From: "2010-02"})
	require.NoError(t, err)
	require.Len(t, many, 2)
	assert.Equal(t, []string{"/data/run1/out_2010-02.nc"}, paths(many[0].Files))
}

func TestConcatenable(t *testing.T) {
	t.Parallel()

	f := func(path, start, end string) FileRef {
		return FileRef{Path: path, StartTime: start, EndTime: end}
	}
	in := []FileRef{
		f("year", "2010-01-01 00:00:00", "2010-12-31 00:00:00"),
		f("jan", "2010-01-01 00:00:00", "2010-01-31 00:00:00"),
		f("dec", "2010-12-01 00:00:00", "2010-12-31 00:00:00"),
		f("next", "2011-01-01 00:00:00", "2011-12-31 00:00:00"),
		f("unknown", "", ""),
		f("overlap", "2011-06-01 00:00:00", "2012-05-31 00:00:00"),
	}
	assert.Equal(t, []string{"year", "next", "unknown", "overlap"}, paths(Concatenable(in)))
	assert.Empty(t, Concatenable(nil))
}

func TestSanitizeFTS(t *testing.T) {
	t.Parallel()
	assert.Equal(t, `"sea" "surface"`, sanitizeFTS("sea  surface"))
	assert.Equal(t, `"a*" "NOT"`, sanitizeFTS(`"a*" NOT ""`))
	assert.Equal(t, "", sanitizeFTS("   "))
}

func TestParamsDirectory(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	var fullText int
	for _, p := range Params {
		assert.False(t, seen[p.Name], "duplicate param %q", p.Name)
		seen[p.Name] = true
		if p.FullText {
			fullText++
			assert.Empty(t, p.Column)
		} else {
			assert.NotEmpty(t, p.Column, p.Name)
		}
		assert.NotEmpty(t, p.Description, p.Name)
	}
	assert.Equal(t, 1, fullText)

	_, ok := LookupParam("standard_name")
	assert.True(t, ok)
	_, ok = LookupParam("frequency")
	assert.False(t, ok)
}

// facetCandidates holds one value per parameter; the property tests pick
// subsets of it.
var facetCandidates = []struct{ name, value string }{
	{"experiment", "run2"},
	{"type", "generic"},
	{"stream", "out"},
	{"name", "T"},
	{"standard_name", "temperature"},
	{"long_name", "Potential temperature"},
	{"variable", "temperature"},
}

func pick(mask int) Filters {
	f := Filters{}
	for i, c := range facetCandidates {
		if mask&(1<<i) != 0 {
			f[c.name] = c.value
		}
	}
	return f
}

func TestSearchProperties(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	e := testEngine(t)

	all, err := e.Search(ctx, Filters{})
	require.NoError(t, err)

	parameters := gopter.DefaultTestParameters()
	properties := gopter.NewProperties(parameters)
	limit := 1<<len(facetCandidates) - 1

	properties.Property("facets combine as a conjunction", prop.ForAll(
		func(a, b int) bool {
			ra, err1 := e.Search(ctx, pick(a))
			rb, err2 := e.Search(ctx, pick(b))
			rab, err3 := e.Search(ctx, pick(a|b))
			if err1 != nil || err2 != nil || err3 != nil {
				return false
			}
			inB := make(map[int64]bool)
			for _, id := range ids(rb) {
				inB[id] = true
			}
			var want []int64
			for _, id := range ids(ra) {
				if inB[id] {
					want = append(want, id)
				}
			}
			got := ids(rab)
			if len(got) != len(want) {
				return false
			}
			for i := range got {
				if got[i] != want[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, limit),
		gen.IntRange(0, limit),
	))

	properties.Property("full-text results are a subset of all variables", prop.ForAll(
		func(word string) bool {
			rows, err := e.Search(ctx, Filters{"variable": word})
			if err != nil {
				return false
			}
			known := make(map[int64]bool)
			for _, id := range ids(all) {
				known[id] = true
			}
			for _, id := range ids(rows) {
				if !known[id] {
					return false
				}
			}
			return true
		},
		gen.OneConstOf("temperature", "wind", "zonal", "potential", "T", "salt", "eastward_wind", "K"),
	))

	properties.TestingRun(t)
}
