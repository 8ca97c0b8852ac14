// Package render formats command output as lipgloss tables or tab-separated
// text, and prints styled status lines to stderr.
package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// Format selects how tabular output is written.
type Format string

const (
	FormatTable Format = "table" // bordered lipgloss table
	FormatTSV   Format = "tsv"   // tab-separated, header first
)

// ParseFormat validates an output format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatTSV:
		return f, nil
	}
	return "", fmt.Errorf("render: unknown output format %q (want table or tsv)", s)
}

// Semantic color palette.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // Cyan: headers, names
	colorAccent  = lipgloss.Color("#FFD700") // Gold: warnings
	colorSuccess = lipgloss.Color("#00E676") // Green: completed
	colorDanger  = lipgloss.Color("#FF5252") // Red: errors
	colorMuted   = lipgloss.Color("#636363") // Gray: borders, secondary text
)

var (
	styleHeader = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true).Padding(0, 1)
	styleCell   = lipgloss.NewStyle().Padding(0, 1)
	styleBorder = lipgloss.NewStyle().Foreground(colorMuted)
)

// Table is a header row plus data rows of equal width.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Append adds one row.
func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

// Write renders t to w in format f. TSV output has no styling so it can be
// piped into other tools.
func (t Table) Write(w io.Writer, f Format) error {
	switch f {
	case FormatTSV:
		return t.writeTSV(w)
	case FormatTable, "":
		tbl := table.New().
			Border(lipgloss.NormalBorder()).
			BorderStyle(styleBorder).
			Headers(t.Headers...).
			Rows(t.Rows...).
			StyleFunc(func(row, _ int) lipgloss.Style {
				if row == table.HeaderRow {
					return styleHeader
				}
				return styleCell
			})
		_, err := fmt.Fprintln(w, tbl.String())
		return err
	}
	return fmt.Errorf("render: unknown output format %q", f)
}

func (t Table) writeTSV(w io.Writer) error {
	if _, err := fmt.Fprintln(w, strings.Join(t.Headers, "\t")); err != nil {
		return err
	}
	for _, row := range t.Rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.NewReplacer("\t", " ", "\n", " ").Replace(c)
		}
		if _, err := fmt.Fprintln(w, strings.Join(cells, "\t")); err != nil {
			return err
		}
	}
	return nil
}

// Printer writes human-facing status lines, normally to stderr.
type Printer struct {
	w io.Writer
}

// New returns a printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{w: w}
}

var (
	styleOK    = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleWarn  = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	styleError = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleDim   = lipgloss.NewStyle().Foreground(colorMuted)
)

// Catalogued reports one committed experiment.
func (p *Printer) Catalogued(name, path string, streams, files int) {
	fmt.Fprintf(p.w, "%s %s %s\n", styleOK.Render("✓"), name,
		styleDim.Render(fmt.Sprintf("%s (%d streams, %d files)", path, streams, files)))
}

// Skipped reports a candidate directory where nothing was found.
func (p *Printer) Skipped(path string) {
	fmt.Fprintf(p.w, "%s %s\n", styleDim.Render("·"), styleDim.Render(path+" (no files)"))
}

// Failed reports an experiment that could not be catalogued.
func (p *Printer) Failed(path string, err error) {
	fmt.Fprintf(p.w, "%s %s: %v\n", styleError.Render("✗"), path, err)
}

// Summary prints the totals of a scan.
func (p *Printer) Summary(committed, skipped, failed int) {
	style := styleOK
	if failed > 0 {
		style = styleWarn
	}
	fmt.Fprintln(p.w, style.Render(fmt.Sprintf("%d catalogued, %d empty, %d failed", committed, skipped, failed)))
}

// Error prints an error line.
func (p *Printer) Error(msg string) {
	fmt.Fprintf(p.w, "%s %s\n", styleError.Render("error:"), msg)
}

// Info prints a dimmed informational line.
func (p *Printer) Info(msg string) {
	fmt.Fprintln(p.w, styleDim.Render(msg))
}
