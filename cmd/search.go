package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/render"
	"github.com/papapumpkin/edb/internal/search"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search catalogued variables",
	Long: "Lists the variables matching every given facet.\n\n" + paramHelp(),
	Args:  cobra.NoArgs,
	RunE:  runSearch,
}

var filesCmd = &cobra.Command{
	Use:   "files",
	Short: "List the files holding matching variables",
	Long: `Lists, for every variable matching the facets, the files of its stream in
start-time order. --from and --to keep files overlapping the range; a bound may
be a prefix such as 2010 or 2010-02.

` + paramHelp(),
	Args: cobra.NoArgs,
	RunE: runFiles,
}

func init() {
	for _, c := range []*cobra.Command{searchCmd, filesCmd} {
		addSearchFlags(c)
		rootCmd.AddCommand(c)
	}
	addTimeFlags(filesCmd)
}

// addSearchFlags registers one string flag per search parameter.
func addSearchFlags(c *cobra.Command) {
	for _, p := range search.Params {
		c.Flags().String(p.Name, "", p.Description)
	}
}

func addTimeFlags(c *cobra.Command) {
	c.Flags().String("from", "", "keep files ending at or after this time")
	c.Flags().String("to", "", "keep files starting at or before this time")
}

// paramHelp describes the search parameters for command help.
func paramHelp() string {
	var b strings.Builder
	b.WriteString("Search parameters:\n")
	for _, p := range search.Params {
		fmt.Fprintf(&b, "  --%-15s %s\n", p.Name, p.Description)
	}
	return b.String()
}

// filtersFromFlags collects the search facets set on the command line.
func filtersFromFlags(c *cobra.Command) search.Filters {
	f := search.Filters{}
	for _, p := range search.Params {
		if fl := c.Flags().Lookup(p.Name); fl != nil && fl.Changed {
			f[p.Name] = fl.Value.String()
		}
	}
	return f
}

func timeRangeFromFlags(c *cobra.Command) search.TimeRange {
	from, _ := c.Flags().GetString("from")
	to, _ := c.Flags().GetString("to")
	return search.TimeRange{From: from, To: to}
}

func runSearch(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rows, err := a.engine().Search(cmd.Context(), filtersFromFlags(cmd))
	if err != nil {
		return err
	}

	tbl := render.Table{Headers: []string{"ID", "EXPERIMENT", "STREAM", "NAME", "STANDARD NAME", "LONG NAME", "UNITS"}}
	for _, r := range rows {
		tbl.Append(strconv.FormatInt(r.VariableID, 10), r.Experiment, r.Stream, r.Name, r.StandardName, r.LongName, r.Units)
	}
	return tbl.Write(cmd.OutOrStdout(), a.output)
}

func runFiles(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	groups, err := a.engine().Files(cmd.Context(), filtersFromFlags(cmd), timeRangeFromFlags(cmd))
	if err != nil {
		return err
	}

	tbl := render.Table{Headers: []string{"ID", "NAME", "START", "END", "PATH"}}
	for _, g := range groups {
		for _, f := range g.Files {
			tbl.Append(strconv.FormatInt(g.VariableID, 10), g.Name, f.StartTime, f.EndTime, f.Path)
		}
	}
	return tbl.Write(cmd.OutOrStdout(), a.output)
}
