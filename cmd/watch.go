package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/catalog"
	"github.com/papapumpkin/edb/internal/render"
	"github.com/papapumpkin/edb/internal/watch"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the catalog up to date as experiments write output",
	Long: `Scans the configured scan_paths, then watches every catalogued experiment
root and rescans an experiment once its files have been quiet for --debounce.
Runs until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().Duration("debounce", watch.DefaultDebounce, "quiet period before a changed experiment is rescanned")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.ScanPaths) == 0 {
		return fmt.Errorf("nothing to watch: configure scan_paths")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sc := a.scanner()
	printer := render.New(os.Stderr)
	report, err := sc.ScanAll(ctx, a.cfg.ScanPaths)
	printReport(printer, report)
	if err != nil {
		a.log.WithError(err).Warn("initial scan incomplete")
	}

	debounce, _ := cmd.Flags().GetDuration("debounce")
	w, err := watch.New(debounce, a.log)
	if err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	// Which experiment type each watched root was catalogued as.
	roots := make(map[string]string)
	track := func(exps []*catalog.Experiment) {
		for _, exp := range exps {
			if _, ok := roots[exp.Path]; ok {
				continue
			}
			if err := w.Add(exp.Path); err != nil {
				a.log.WithField("path", exp.Path).WithError(err).Warn("cannot watch experiment")
				continue
			}
			roots[exp.Path] = exp.Type
		}
	}
	track(report.Committed)
	w.Start()
	defer w.Stop()

	printer.Info(fmt.Sprintf("watching %d experiments", len(roots)))
	for {
		select {
		case <-ctx.Done():
			return nil
		case root := <-w.Changes:
			rescan(ctx, a, printer, root, roots[root])
		}
	}
}

// rescan updates one changed experiment root.
func rescan(ctx context.Context, a *app, printer *render.Printer, root, typeID string) {
	report, err := a.scanner().Scan(ctx, typeID, root)
	if err != nil {
		a.log.WithField("path", root).WithError(err).Error("rescan")
		return
	}
	for _, exp := range report.Committed {
		printer.Catalogued(exp.Name, exp.Path, len(exp.Streams()), len(exp.Files()))
	}
	for _, f := range report.Failed {
		printer.Failed(f.Path, f.Err)
	}
}
