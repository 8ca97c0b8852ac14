// Package scan reconciles experiment directories on disk with the catalog.
//
// A scan resolves a glob to experiment roots, loads each experiment from the
// store (or starts a new one), discovers its output files, groups them into
// streams, refreshes stale variable lists and commits the result. Nothing is
// ever removed from an experiment by a scan.
package scan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/bmatcuk/doublestar"
	"github.com/sirupsen/logrus"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/config"
	"github.com/papapumpkin/edb/internal/exptype"
	"github.com/papapumpkin/edb/internal/format"
)

// Store is the part of the catalog store a scan needs.
type Store interface {
	FindExperiment(ctx context.Context, typeID, path string) (*catalog.Experiment, error)
	Commit(ctx context.Context, exp *catalog.Experiment) error
}

// Scanner discovers and updates experiments.
type Scanner struct {
	Store   Store
	Types   *exptype.Registry
	Formats *format.Registry
	Policy  StalenessPolicy
	Logger  logrus.FieldLogger

	// Now returns the scan clock. It defaults to time.Now.
	Now func() time.Time
}

// Failure is one experiment that could not be updated or committed.
type Failure struct {
	Path string
	Err  error
}

// Report summarizes a scan.
type Report struct {
	Committed []*catalog.Experiment
	// Skipped lists candidate directories where no file was discovered.
	Skipped []string
	Failed  []Failure
}

func (r *Report) merge(o Report) {
	r.Committed = append(r.Committed, o.Committed...)
	r.Skipped = append(r.Skipped, o.Skipped...)
	r.Failed = append(r.Failed, o.Failed...)
}

// Err joins the errors of every failed experiment, or returns nil.
func (r Report) Err() error {
	errs := make([]error, len(r.Failed))
	for i, f := range r.Failed {
		errs[i] = fmt.Errorf("%s: %w", f.Path, f.Err)
	}
	return errors.Join(errs...)
}

func (s *Scanner) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scanner) logger() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return logrus.StandardLogger()
}

// Scan updates every directory matching pathGlob as an experiment of type
// typeID. An unknown type fails before anything is touched. Each experiment
// with at least one file is committed on its own; a failure is recorded in
// the report and the remaining candidates are still scanned.
func (s *Scanner) Scan(ctx context.Context, typeID, pathGlob string) (Report, error) {
	var report Report

	variant, err := s.Types.Lookup(typeID)
	if err != nil {
		return report, fmt.Errorf("scan: %w", err)
	}

	candidates, err := expandDirs(config.ExpandPath(pathGlob))
	if err != nil {
		return report, fmt.Errorf("scan: expand %q: %w", pathGlob, err)
	}
	log := s.logger().WithField("action", "scan").WithField("type", typeID)
	if len(candidates) == 0 {
		log.WithField("glob", pathGlob).Warn("no directories match")
		return report, nil
	}

	for _, dir := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		var n int
		exp, err := s.load(ctx, variant, dir)
		if err == nil {
			n, err = s.Update(ctx, exp, variant)
		}
		if err != nil {
			log.WithField("path", dir).WithError(err).Error("update experiment")
			report.Failed = append(report.Failed, Failure{Path: dir, Err: err})
			continue
		}

		// Files already in the catalog do not count: an emptied mount must not
		// be committed.
		if n == 0 {
			log.WithField("path", dir).Debug("no files discovered, not cataloguing")
			report.Skipped = append(report.Skipped, dir)
			continue
		}

		if err := s.Store.Commit(ctx, exp); err != nil {
			log.WithField("path", dir).WithError(err).Error("commit experiment")
			report.Failed = append(report.Failed, Failure{Path: dir, Err: err})
			continue
		}
		log.WithFields(logrus.Fields{
			"experiment": exp.Name,
			"path":       dir,
			"streams":    len(exp.Streams()),
			"files":      len(exp.Files()),
		}).Info("experiment catalogued")
		report.Committed = append(report.Committed, exp)
	}
	return report, nil
}

// ScanAll scans every configured target in order. A failing target does not
// stop the others; all errors are joined and returned at the end.
func (s *Scanner) ScanAll(ctx context.Context, targets []config.ScanPath) (Report, error) {
	var report Report
	var errs []error
	for _, t := range targets {
		r, err := s.Scan(ctx, t.Type, t.Path)
		report.merge(r)
		if err != nil {
			if ctx.Err() != nil {
				return report, err
			}
			errs = append(errs, fmt.Errorf("%s %s: %w", t.Type, t.Path, err))
		}
	}
	return report, errors.Join(errs...)
}

func (s *Scanner) load(ctx context.Context, variant exptype.Variant, dir string) (*catalog.Experiment, error) {
	exp, err := s.Store.FindExperiment(ctx, variant.ID, dir)
	if err != nil {
		return nil, err
	}
	if exp != nil {
		return exp, nil
	}
	return s.Types.Resolve(variant.ID, dir)
}

// Update reconciles exp with the files currently on disk and returns how many
// were discovered. Known files keep their recorded time range and only have
// LastSeen bumped; new files are classified by the format registry. When
// nothing is discovered exp is left untouched and no variables are refreshed.
func (s *Scanner) Update(ctx context.Context, exp *catalog.Experiment, variant exptype.Variant) (int, error) {
	log := s.logger().WithField("action", "update").WithField("experiment", exp.Name)
	now := s.now()

	paths, err := Discover(exp.Path, variant.Patterns)
	if err != nil {
		return 0, fmt.Errorf("scan: discover files in %s: %w", exp.Path, err)
	}

	var discovered []*catalog.File
	for _, rel := range paths {
		f := exp.FileByPath(rel)
		if f == nil {
			var ok bool
			f, ok, err = s.Formats.Classify(ctx, exp.Path, rel)
			if !ok {
				log.WithField("path", rel).Debug("unrecognised file, skipping")
				continue
			}
			if err != nil {
				log.WithField("path", rel).WithError(err).Warn("time range unavailable")
			}
		}
		f.LastSeen = now
		discovered = append(discovered, f)
	}
	if len(discovered) == 0 {
		return 0, nil
	}

	Collect(exp, variant, discovered, log)
	s.Policy.Refresh(ctx, exp, s.Formats, now, log)
	return len(discovered), nil
}

// Discover lists the regular files under root matching any of patterns, as
// paths relative to root in lexical order. Symbolic links are followed; a
// linked directory is reported under the link's path and each real directory
// is walked once, so link cycles terminate.
func Discover(root string, patterns []string) ([]string, error) {
	d := &discovery{patterns: patterns, visited: make(map[string]bool)}
	if err := d.walk(root, ""); err != nil {
		return nil, err
	}
	sort.Strings(d.out)
	return d.out, nil
}

type discovery struct {
	patterns []string
	visited  map[string]bool
	out      []string
}

// walk lists dir, whose files are reported relative to the experiment root
// under prefix.
func (d *discovery) walk(dir, prefix string) error {
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return err
	}
	if d.visited[resolved] {
		return nil
	}
	d.visited[resolved] = true

	return filepath.WalkDir(resolved, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			if path == resolved {
				return err
			}
			// Unreadable subtrees are skipped.
			if e != nil && e.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if path == resolved {
			return nil
		}
		rel, err := filepath.Rel(resolved, path)
		if err != nil {
			return err
		}
		rel = filepath.Join(prefix, rel)

		switch {
		case e.Type().IsRegular():
			return d.match(rel)
		case e.IsDir():
			if d.visited[path] {
				return filepath.SkipDir
			}
			d.visited[path] = true
		case e.Type()&fs.ModeSymlink != 0:
			target, err := os.Stat(path)
			if err != nil {
				// Dangling link.
				return nil
			}
			if target.Mode().IsRegular() {
				return d.match(rel)
			}
			if target.IsDir() {
				return d.walk(path, rel)
			}
		}
		return nil
	})
}

func (d *discovery) match(rel string) error {
	for _, p := range d.patterns {
		ok, err := doublestar.PathMatch(p, rel)
		if err != nil {
			return fmt.Errorf("pattern %q: %w", p, err)
		}
		if ok {
			d.out = append(d.out, rel)
			return nil
		}
	}
	return nil
}

// expandDirs expands a doublestar glob and keeps the matching directories in
// lexical order.
func expandDirs(glob string) ([]string, error) {
	matches, err := doublestar.Glob(glob)
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)

	var dirs []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		abs, err := filepath.Abs(m)
		if err != nil {
			return nil, err
		}
		dirs = append(dirs, abs)
	}
	return dirs, nil
}
