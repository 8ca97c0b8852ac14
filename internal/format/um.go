package format

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/papapumpkin/edb/internal/catalog"
)

// KindUM is the catalog kind of Unified Model fieldsfiles and PP output.
const KindUM = "um"

// Fixed-header and lookup-table layout of UM files, as 0-based word offsets.
const (
	umHeaderWords  = 256
	umLookupStart  = 149
	umLookupDim1   = 150
	umLookupCount  = 151
	umLookupLength = 64
	umMaxLookups   = 1 << 20

	lbyr    = 0
	lbyrd   = 6
	lbproc  = 24
	lbuser4 = 41
	lbuser7 = 44

	umMissing = -99
)

var errNotUM = errors.New("not a UM file")

// UM reads the fixed header and lookup table of Unified Model output files.
type UM struct{}

// Kind implements Handler.
func (UM) Kind() string { return KindUM }

// Probe implements Handler.
func (UM) Probe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	_, _, err = readUMHeader(f)
	return err == nil
}

// Variables implements Handler. Each distinct STASH code in the lookup table is
// one variable; levels and times of the same code collapse into one entry.
func (UM) Variables(_ context.Context, path string) ([]catalog.Variable, error) {
	lookups, err := readUMLookups(path)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []catalog.Variable
	for _, l := range lookups {
		stash := l[lbuser4]
		if stash <= 0 {
			continue
		}
		model := l[lbuser7]
		if model <= 0 {
			model = 1
		}
		name := fmt.Sprintf("m%02ds%02di%03d", model, stash/1000, stash%1000)
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, catalog.Variable{
			Name:   name,
			Method: umMethod(l[lbproc]),
		})
	}
	return out, nil
}

// Describe implements Handler using the earliest and latest times in the
// lookup table.
func (UM) Describe(_ context.Context, path string) (TimeRange, error) {
	lookups, err := readUMLookups(path)
	if err != nil {
		return TimeRange{}, err
	}

	var tr TimeRange
	for _, l := range lookups {
		for _, off := range []int{lbyr, lbyrd} {
			ts, ok := umTime(l[off : off+5])
			if !ok {
				continue
			}
			if tr.Start == "" || ts < tr.Start {
				tr.Start = ts
			}
			if ts > tr.End {
				tr.End = ts
			}
		}
	}
	return tr, nil
}

func umTime(w []int64) (string, bool) {
	yr, mon, day, hr, mi := w[0], w[1], w[2], w[3], w[4]
	if yr <= 0 || mon < 1 || mon > 12 || day < 1 || day > 31 {
		return "", false
	}
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d:00", yr, mon, day, hr, mi), true
}

func umMethod(proc int64) string {
	switch {
	case proc&128 != 0:
		return "mean: time"
	case proc&4096 != 0:
		return "minimum: time"
	case proc&8192 != 0:
		return "maximum: time"
	}
	return ""
}

// readUMHeader decodes the fixed-length header, trying big-endian first as
// written by the UM and then little-endian.
func readUMHeader(r io.ReaderAt) ([]int64, binary.ByteOrder, error) {
	buf := make([]byte, umHeaderWords*8)
	if _, err := r.ReadAt(buf, 0); err != nil {
		return nil, nil, errNotUM
	}
	for _, order := range []binary.ByteOrder{binary.BigEndian, binary.LittleEndian} {
		words := make([]int64, umHeaderWords)
		for i := range words {
			words[i] = int64(order.Uint64(buf[i*8:]))
		}
		if validUMHeader(words) {
			return words, order, nil
		}
	}
	return nil, nil, errNotUM
}

func validUMHeader(w []int64) bool {
	if w[1] < 1 || w[1] > 10 {
		return false
	}
	if w[umLookupDim1] != umLookupLength {
		return false
	}
	if w[umLookupStart] <= umHeaderWords || w[umLookupCount] < 0 || w[umLookupCount] > umMaxLookups {
		return false
	}
	return true
}

// readUMLookups returns the used lookup entries of a UM file. The table ends
// at the first entry whose year is the missing-data marker.
func readUMLookups(path string) ([][]int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("format: open %s: %w", path, err)
	}
	defer f.Close()

	header, order, err := readUMHeader(f)
	if err != nil {
		return nil, fmt.Errorf("format: %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("format: stat %s: %w", path, err)
	}
	// The header count is untrusted; only whole records present in the file
	// are read.
	offset := (header[umLookupStart] - 1) * 8
	count := header[umLookupCount]
	if avail := (info.Size() - offset) / (umLookupLength * 8); avail < count {
		count = max(avail, 0)
	}
	buf := make([]byte, count*umLookupLength*8)
	if _, err := f.ReadAt(buf, offset); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("format: read lookup table of %s: %w", path, err)
	}

	lookups := make([][]int64, 0, count)
	for i := int64(0); i < count; i++ {
		rec := buf[i*umLookupLength*8 : (i+1)*umLookupLength*8]
		l := make([]int64, umLookupLength)
		for j := range l {
			l[j] = int64(order.Uint64(rec[j*8:]))
		}
		if l[lbyr] == umMissing {
			break
		}
		lookups = append(lookups, l)
	}
	return lookups, nil
}
