package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/config"
	"github.com/papapumpkin/edb/internal/render"
	"github.com/papapumpkin/edb/internal/scan"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path-glob...]",
	Short: "Scan experiment directories into the catalog",
	Long: `Scans every directory matching the given globs as an experiment of --type.
Without arguments the scan_paths from the configuration are scanned. Globs may
use ** and may start with ~ or contain $VARS.

Rescanning is incremental: known files keep their recorded time range, new
files are added, and variable lists are only extracted again once they are
older than variable_refresh_interval.`,
	RunE: runScan,
}

func init() {
	scanCmd.Flags().StringP("type", "t", "generic", "experiment type of the given paths (see `edb types`)")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	targets := a.cfg.ScanPaths
	if len(args) > 0 {
		typeID, _ := cmd.Flags().GetString("type")
		targets = make([]config.ScanPath, len(args))
		for i, p := range args {
			targets[i] = config.ScanPath{Type: typeID, Path: p}
		}
	}
	if len(targets) == 0 {
		return fmt.Errorf("nothing to scan: pass a path or configure scan_paths")
	}

	report, err := a.scanner().ScanAll(cmd.Context(), targets)
	printReport(render.New(os.Stderr), report)
	if err != nil {
		return err
	}
	return report.Err()
}

func printReport(p *render.Printer, r scan.Report) {
	for _, exp := range r.Committed {
		p.Catalogued(exp.Name, exp.Path, len(exp.Streams()), len(exp.Files()))
	}
	for _, path := range r.Skipped {
		p.Skipped(path)
	}
	for _, f := range r.Failed {
		p.Failed(f.Path, f.Err)
	}
	p.Summary(len(r.Committed), len(r.Skipped), len(r.Failed))
}
