package exptype

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

// Generic is plain NetCDF output anywhere below the experiment root.
func Generic() Variant {
	return Variant{
		ID:          "generic",
		Description: "Generic NetCDF output",
		Patterns:    []string{"**/*.nc"},
		StreamKey:   genericStreamKey,
	}
}

// genericStreamKey groups files that differ only by a trailing date or
// sequence token: "out_2010-01.nc" and "out_2010-02.nc" both map to "out".
// A file with no such token, or whose whole stem is the token, is a stream of
// its own keyed by its relative path.
func genericStreamKey(rel string) (string, error) {
	rel = filepath.ToSlash(rel)
	dir, base := path.Split(rel)
	stem := strings.TrimSuffix(base, path.Ext(base))

	prefix := stem
	for {
		i := strings.LastIndexAny(prefix, "_.")
		if i <= 0 || !isDateToken(prefix[i+1:]) {
			break
		}
		prefix = prefix[:i]
	}
	if prefix == stem {
		return rel, nil
	}
	return dir + prefix, nil
}

// isDateToken reports whether s is made of digits and dashes only and holds at
// least one digit.
func isDateToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '-' {
			return false
		}
	}
	return strings.ContainsAny(s, "0123456789")
}

// Payu is a payu-managed ACCESS-OM2 run with ocean and sea-ice output.
func Payu() Variant {
	return Variant{
		ID:          "payu",
		Description: "Payu ACCESS-OM run",
		Patterns:    []string{"output*/ocean/*.nc", "output*/ice/OUTPUT/*.nc"},
		StreamKey:   payuStreamKey,
	}
}

func payuStreamKey(rel string) (string, error) {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) < 3 {
		return "", fmt.Errorf("payu: unexpected output path %q", rel)
	}
	base := parts[len(parts)-1]

	switch parts[1] {
	case "ocean":
		return strings.TrimSuffix(base, path.Ext(base)), nil
	case "ice":
		start, _, _ := strings.Cut(base, ".")
		if strings.HasSuffix(base, "-daily.nc") {
			return start + "_daily", nil
		}
		return start, nil
	}
	return "", fmt.Errorf("payu: unknown output domain %q in %q", parts[1], rel)
}

// UMRose is a Rose/Cylc Unified Model suite writing to History_Data.
func UMRose() Variant {
	return Variant{
		ID:          "um-rose",
		Description: "Unified Model Rose suite",
		Patterns:    []string{"share/data/History_Data/**/*"},
		StreamKey:   umStreamKey,
	}
}

// umStreamKey uses the run id, model letter and stream code, which make up the
// first nine characters of a UM output file name.
func umStreamKey(rel string) (string, error) {
	base := path.Base(filepath.ToSlash(rel))
	if len(base) < 9 {
		return "", fmt.Errorf("um-rose: file name %q too short for a stream code", base)
	}
	return base[:9], nil
}
