package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/format"
	"github.com/papapumpkin/edb/internal/render"
	"github.com/papapumpkin/edb/internal/search"
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Resolve one variable to the ordered files of a dataset",
	Long: `Resolves the facets to exactly one variable and prints its files in time
order, leaving out files whose range is already covered by the file before them.
With --cat the variable is dumped from each file in turn instead.

` + paramHelp(),
	Args: cobra.NoArgs,
	RunE: runOpen,
}

func init() {
	addSearchFlags(openCmd)
	addTimeFlags(openCmd)
	openCmd.Flags().Bool("cat", false, "dump the variable from every file")
	rootCmd.AddCommand(openCmd)
}

func runOpen(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	sel, err := a.engine().OpenOne(cmd.Context(), filtersFromFlags(cmd), timeRangeFromFlags(cmd))
	if errors.Is(err, search.ErrAmbiguousResult) {
		return fmt.Errorf("%w; narrow the search or use --variable_id", err)
	}
	if err != nil {
		return err
	}
	files := search.Concatenable(sel.Files)
	a.log.WithField("variable", sel.Variable.Name).
		WithField("files", len(files)).
		WithField("dropped", len(sel.Files)-len(files)).
		Debug("dataset resolved")

	if cat, _ := cmd.Flags().GetBool("cat"); cat {
		for _, f := range files {
			err := a.formats.Dump(cmd.Context(), f.Kind, f.Path, sel.Variable.Name, cmd.OutOrStdout())
			if errors.Is(err, format.ErrUnsupported) {
				a.log.WithField("path", f.Path).Warn("format cannot dump variables, skipping")
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	}

	tbl := render.Table{Headers: []string{"START", "END", "KIND", "PATH"}}
	for _, f := range files {
		tbl.Append(f.StartTime, f.EndTime, f.Kind, f.Path)
	}
	return tbl.Write(cmd.OutOrStdout(), a.output)
}
