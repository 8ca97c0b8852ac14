package format

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"
)

// cdlHeader is the part of an ncdump header the catalog cares about.
type cdlHeader struct {
	vars    []*cdlVar
	globals map[string]string
}

type cdlVar struct {
	name  string
	dims  []string
	attrs map[string]string
}

func (v *cdlVar) isCoordinate() bool {
	return len(v.dims) == 1 && v.dims[0] == v.name
}

func (h *cdlHeader) variable(name string) *cdlVar {
	for _, v := range h.vars {
		if v.name == name {
			return v
		}
	}
	return nil
}

// timeVariable picks the time coordinate: axis "T", then standard_name
// "time", then a variable literally called "time".
func (h *cdlHeader) timeVariable() *cdlVar {
	for _, v := range h.vars {
		if strings.EqualFold(v.attrs["axis"], "T") {
			return v
		}
	}
	for _, v := range h.vars {
		if v.attrs["standard_name"] == "time" {
			return v
		}
	}
	return h.variable("time")
}

var (
	cdlVarDecl   = regexp.MustCompile(`^([A-Za-z][\w ]*?)\s+([^\s(]+)\s*(?:\(([^)]*)\))?\s*;$`)
	cdlAttrDecl  = regexp.MustCompile(`^([^\s:]*):(\S+)\s*=\s*(.*);$`)
	cdlQuoted    = regexp.MustCompile(`"((?:[^"\\]|\\.)*)"`)
	cdlDataStart = regexp.MustCompile(`^\s*([^\s=]+)\s*=\s*(.*)$`)
)

// parseCDL reads the dimensions/variables/global attributes sections of
// `ncdump -h` output for the root group. Nested groups are ignored.
func parseCDL(out []byte) *cdlHeader {
	h := &cdlHeader{globals: make(map[string]string)}
	byName := make(map[string]*cdlVar)

	section := ""
	depth := 0
	var pending string

	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())

		if strings.HasPrefix(line, "group:") {
			depth++
			continue
		}
		if strings.HasPrefix(line, "}") {
			if depth > 0 {
				depth--
				continue
			}
			break
		}
		if depth > 0 {
			continue
		}

		switch line {
		case "dimensions:", "variables:", "data:":
			section = line
			continue
		case "// global attributes:":
			section = "globals"
			continue
		}
		if section != "variables:" && section != "globals" {
			continue
		}

		// Long string attributes wrap over several lines.
		if pending != "" {
			line = pending + " " + line
			pending = ""
		}
		if line == "" || strings.HasPrefix(line, "//") {
			continue
		}
		if !strings.HasSuffix(line, ";") {
			pending = line
			continue
		}

		if m := cdlAttrDecl.FindStringSubmatch(line); m != nil {
			value := cdlAttrValue(m[3])
			if m[1] == "" {
				h.globals[m[2]] = value
			} else if v := byName[m[1]]; v != nil {
				v.attrs[m[2]] = value
			}
			continue
		}
		if m := cdlVarDecl.FindStringSubmatch(line); m != nil && section == "variables:" {
			v := &cdlVar{name: m[2], attrs: make(map[string]string)}
			for _, d := range strings.Split(m[3], ",") {
				if d = strings.TrimSpace(d); d != "" {
					v.dims = append(v.dims, d)
				}
			}
			byName[v.name] = v
			h.vars = append(h.vars, v)
		}
	}
	return h
}

// cdlAttrValue converts a CDL attribute value to text. Quoted strings are
// unescaped and concatenated; numeric lists are returned as written.
func cdlAttrValue(raw string) string {
	raw = strings.TrimSpace(raw)
	quoted := cdlQuoted.FindAllStringSubmatch(raw, -1)
	if len(quoted) == 0 {
		return raw
	}
	var b strings.Builder
	for _, q := range quoted {
		s, err := strconv.Unquote(`"` + q[1] + `"`)
		if err != nil {
			s = q[1]
		}
		b.WriteString(s)
	}
	return b.String()
}

// parseCDLData collects the quoted values of each variable in the data
// section of ncdump output, as produced by `ncdump -t`.
func parseCDLData(out []byte) map[string][]string {
	values := make(map[string][]string)

	inData := false
	current := ""
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 64*1024), 64*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)
		if !inData {
			inData = trimmed == "data:"
			continue
		}
		if trimmed == "}" {
			break
		}
		if current == "" {
			m := cdlDataStart.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			current = m[1]
			line = m[2]
		}
		for _, q := range cdlQuoted.FindAllStringSubmatch(line, -1) {
			values[current] = append(values[current], q[1])
		}
		if strings.HasSuffix(strings.TrimSpace(line), ";") {
			current = ""
		}
	}
	return values
}
