// Package catalog defines the in-memory form of a catalogued experiment.
//
// An Experiment is the root aggregate: it owns its Streams, and each Stream
// owns its Files and Variables. Ownership runs one way only; nothing below an
// Experiment points back up to it. Lookups in the other direction (which
// stream owns a variable, which experiment owns a file) are answered by the
// store with indexed queries.
//
// Values loaded from the store are working copies. The store is the source of
// truth and a scan reconciles these copies against the filesystem before
// committing them back.
package catalog

import (
	"path/filepath"
	"time"
)

// Experiment is one classified model run rooted at a filesystem path.
type Experiment struct {
	ID   int64
	Name string
	Path string
	Type string

	streams []*Stream
	index   map[string]*Stream
}

// NewExperiment returns an unsaved experiment of the given type at path. The
// name defaults to the last element of the path.
func NewExperiment(typeID, path string) *Experiment {
	return &Experiment{
		Name: filepath.Base(path),
		Path: path,
		Type: typeID,
	}
}

// Streams returns the experiment's streams in the order they were added.
func (e *Experiment) Streams() []*Stream {
	return e.streams
}

// Stream returns the stream with the given name, or nil.
func (e *Experiment) Stream(name string) *Stream {
	return e.index[name]
}

// AddStream attaches s to the experiment. A stream with the same name that is
// already attached is returned instead and s is discarded.
func (e *Experiment) AddStream(s *Stream) *Stream {
	if existing := e.index[s.Name]; existing != nil {
		return existing
	}
	if e.index == nil {
		e.index = make(map[string]*Stream)
	}
	e.index[s.Name] = s
	e.streams = append(e.streams, s)
	return s
}

// EnsureStream returns the named stream, creating it if needed. The second
// return value reports whether the stream was created.
func (e *Experiment) EnsureStream(name string) (*Stream, bool) {
	if s := e.index[name]; s != nil {
		return s, false
	}
	return e.AddStream(&Stream{Name: name}), true
}

// Files returns every file of every stream, in stream order.
func (e *Experiment) Files() []*File {
	var files []*File
	for _, s := range e.streams {
		files = append(files, s.Files...)
	}
	return files
}

// FileByPath returns the known file with the given relative path, or nil.
func (e *Experiment) FileByPath(rel string) *File {
	for _, s := range e.streams {
		if f := s.File(rel); f != nil {
			return f
		}
	}
	return nil
}

// AbsPath joins the experiment root with a file's relative path.
func (e *Experiment) AbsPath(f *File) string {
	return filepath.Join(e.Path, f.RelativePath)
}

// Stream is a named group of files that are expected to carry the same set of
// variables over disjoint time ranges.
type Stream struct {
	ID   int64
	Name string

	// LastVariableRefresh is the zero time when variables were never probed.
	LastVariableRefresh time.Time

	Files     []*File
	Variables []Variable

	variablesReplaced bool
}

// File returns the stream's file with the given relative path, or nil.
func (s *Stream) File(rel string) *File {
	for _, f := range s.Files {
		if f.RelativePath == rel {
			return f
		}
	}
	return nil
}

// AddFile appends f unless a file with the same relative path is already
// present. It reports whether f was appended.
func (s *Stream) AddFile(f *File) bool {
	if s.File(f.RelativePath) != nil {
		return false
	}
	s.Files = append(s.Files, f)
	return true
}

// ReplaceVariables swaps in a complete new variable set and records the
// refresh time. Variable sets are never merged.
func (s *Stream) ReplaceVariables(vars []Variable, at time.Time) {
	s.Variables = vars
	s.LastVariableRefresh = at
	s.variablesReplaced = true
}

// VariablesReplaced reports whether ReplaceVariables was called since the
// stream was loaded or last committed.
func (s *Stream) VariablesReplaced() bool {
	return s.variablesReplaced
}

// MarkCommitted clears the pending variable replacement.
func (s *Stream) MarkCommitted() {
	s.variablesReplaced = false
}

// File is one physical output file.
type File struct {
	ID           int64
	RelativePath string
	// StartTime and EndTime are normalized "YYYY-MM-DD HH:MM:SS" text, or empty
	// when the format handler could not determine them.
	StartTime string
	EndTime   string
	Kind      string
	LastSeen  time.Time
}

// Variable is the metadata of one output field of a stream.
type Variable struct {
	ID             int64
	Name           string
	LongName       string
	StandardName   string
	Method         string
	TimeResolution string
	LatResolution  string
	LonResolution  string
	Units          string
}
