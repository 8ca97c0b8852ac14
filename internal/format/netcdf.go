package format

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/papapumpkin/edb/internal/catalog"
)

// KindNetCDF is the catalog kind of NetCDF files.
const KindNetCDF = "netcdf"

var (
	cdfMagics = [][]byte{
		[]byte("CDF\x01"),
		[]byte("CDF\x02"),
		[]byte("CDF\x05"),
	}
	hdf5Magic = []byte("\x89HDF\r\n\x1a\n")
)

// NetCDF reads NetCDF files through the ncdump utility.
type NetCDF struct {
	Runner Runner
	// Ncdump is the ncdump executable, "ncdump" when empty.
	Ncdump string
}

// NewNetCDF returns a NetCDF handler running ncdump at the given path.
func NewNetCDF(r Runner, ncdump string) *NetCDF {
	return &NetCDF{Runner: r, Ncdump: ncdump}
}

// Kind implements Handler.
func (n *NetCDF) Kind() string { return KindNetCDF }

// Probe checks the file signature. NetCDF-4 files are HDF5 files, so the HDF5
// signature is only accepted together with a NetCDF file extension.
func (n *NetCDF) Probe(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	head := make([]byte, len(hdf5Magic))
	k, _ := io.ReadFull(f, head)
	head = head[:k]

	for _, m := range cdfMagics {
		if bytes.HasPrefix(head, m) {
			return true
		}
	}
	if bytes.Equal(head, hdf5Magic) {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".nc", ".nc4":
			return true
		}
	}
	return false
}

func (n *NetCDF) ncdump() string {
	if n.Ncdump == "" {
		return "ncdump"
	}
	return n.Ncdump
}

func (n *NetCDF) header(ctx context.Context, path string) (*cdlHeader, error) {
	out, err := n.Runner.Output(ctx, n.ncdump(), "-h", path)
	if err != nil {
		return nil, err
	}
	return parseCDL(out), nil
}

// Variables implements Handler. Coordinate variables and cell bounds are left
// out; they describe the grid rather than model output.
func (n *NetCDF) Variables(ctx context.Context, path string) ([]catalog.Variable, error) {
	h, err := n.header(ctx, path)
	if err != nil {
		return nil, err
	}

	bounds := make(map[string]bool)
	for _, v := range h.vars {
		if b := v.attrs["bounds"]; b != "" {
			bounds[b] = true
		}
	}

	var out []catalog.Variable
	for _, v := range h.vars {
		if v.isCoordinate() || bounds[v.name] {
			continue
		}
		out = append(out, catalog.Variable{
			Name:           v.name,
			LongName:       v.attrs["long_name"],
			StandardName:   v.attrs["standard_name"],
			Units:          v.attrs["units"],
			Method:         v.attrs["cell_methods"],
			TimeResolution: h.globals["frequency"],
		})
	}
	return out, nil
}

// Describe implements Handler. The range comes from the time coordinate's
// cell bounds when it has them, otherwise from its first and last values.
func (n *NetCDF) Describe(ctx context.Context, path string) (TimeRange, error) {
	h, err := n.header(ctx, path)
	if err != nil {
		return TimeRange{}, err
	}
	tv := h.timeVariable()
	if tv == nil {
		return TimeRange{}, nil
	}

	names := tv.name
	bnds := tv.attrs["bounds"]
	if bnds != "" && h.variable(bnds) != nil {
		names += "," + bnds
	}
	out, err := n.Runner.Output(ctx, n.ncdump(), "-t", "-v", names, path)
	if err != nil {
		return TimeRange{}, err
	}
	data := parseCDLData(out)

	values := data[tv.name]
	if bv := data[bnds]; len(bv) > 0 {
		values = bv
	}
	if len(values) == 0 {
		return TimeRange{}, nil
	}
	return TimeRange{
		Start: catalog.NormalizeTimestamp(values[0]),
		End:   catalog.NormalizeTimestamp(values[len(values)-1]),
	}, nil
}

// Dump implements Dumper by printing the variable's CDL data section.
func (n *NetCDF) Dump(ctx context.Context, path, variable string, w io.Writer) error {
	if err := n.Runner.Stream(ctx, w, n.ncdump(), "-v", variable, path); err != nil {
		return fmt.Errorf("format: dump %s from %s: %w", variable, path, err)
	}
	return nil
}
