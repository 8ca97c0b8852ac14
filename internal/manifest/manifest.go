// Package manifest exports the catalog as a human-readable TOML document.
package manifest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/store"
)

// Manifest is the exported form of the whole catalog.
type Manifest struct {
	Generated   time.Time    `toml:"generated"`
	Experiments []Experiment `toml:"experiment"`
}

// Experiment is one catalogued experiment.
type Experiment struct {
	Name    string   `toml:"name"`
	Type    string   `toml:"type"`
	Path    string   `toml:"path"`
	Streams []Stream `toml:"stream"`
}

// Stream summarizes one stream: its file count, covered time span and
// variable names.
type Stream struct {
	Name      string    `toml:"name"`
	Files     int       `toml:"files"`
	Start     string    `toml:"start,omitempty"`
	End       string    `toml:"end,omitempty"`
	Refreshed time.Time `toml:"variables_refreshed,omitempty"`
	Variables []string  `toml:"variables"`
}

// Source is the part of the catalog store the export reads.
type Source interface {
	ListExperiments(ctx context.Context) ([]store.ExperimentSummary, error)
	FindExperiment(ctx context.Context, typeID, path string) (*catalog.Experiment, error)
}

// Build reads every experiment from src.
func Build(ctx context.Context, src Source, now time.Time) (*Manifest, error) {
	list, err := src.ListExperiments(ctx)
	if err != nil {
		return nil, err
	}
	m := &Manifest{Generated: now.UTC(), Experiments: make([]Experiment, 0, len(list))}
	for _, sum := range list {
		exp, err := src.FindExperiment(ctx, sum.Type, sum.Path)
		if err != nil {
			return nil, err
		}
		if exp == nil {
			continue
		}
		m.Experiments = append(m.Experiments, fromCatalog(exp))
	}
	return m, nil
}

func fromCatalog(exp *catalog.Experiment) Experiment {
	out := Experiment{Name: exp.Name, Type: exp.Type, Path: exp.Path}
	for _, st := range exp.Streams() {
		s := Stream{Name: st.Name, Files: len(st.Files), Refreshed: st.LastVariableRefresh}
		for _, f := range st.Files {
			if f.StartTime != "" && (s.Start == "" || f.StartTime < s.Start) {
				s.Start = f.StartTime
			}
			if f.EndTime > s.End {
				s.End = f.EndTime
			}
		}
		s.Variables = make([]string, len(st.Variables))
		for i, v := range st.Variables {
			s.Variables[i] = v.Name
		}
		out.Streams = append(out.Streams, s)
	}
	return out
}

// Write encodes m as TOML to w.
func Write(w io.Writer, m *Manifest) error {
	enc := toml.NewEncoder(w)
	enc.SetIndentTables(true)
	if err := enc.Encode(m); err != nil {
		return fmt.Errorf("manifest: encode: %w", err)
	}
	return nil
}

// Save writes the manifest to the given path, creating parent directories as
// needed.
func Save(path string, m *Manifest) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("manifest: create directory %s: %w", dir, err)
	}

	data, err := toml.Marshal(m)
	if err != nil {
		return fmt.Errorf("manifest: marshal: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("manifest: write %s: %w", path, err)
	}
	return nil
}

// Load reads a manifest written by Save. If the file does not exist, it
// returns an empty manifest and no error.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Manifest{}, nil
		}
		return nil, fmt.Errorf("manifest: read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("manifest: parse %s: %w", path, err)
	}
	return &m, nil
}
