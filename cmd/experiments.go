package cmd

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/render"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:     "experiments",
		Aliases: []string{"ls"},
		Short:   "List catalogued experiments",
		Args:    cobra.NoArgs,
		RunE:    runExperiments,
	})
}

func runExperiments(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.ListExperiments(cmd.Context())
	if err != nil {
		return err
	}

	tbl := render.Table{Headers: []string{"ID", "NAME", "TYPE", "STREAMS", "FILES", "VARIABLES", "LAST SEEN", "PATH"}}
	for _, e := range list {
		seen := ""
		if !e.LastSeen.IsZero() {
			seen = e.LastSeen.Local().Format(time.DateTime)
		}
		tbl.Append(strconv.FormatInt(e.ID, 10), e.Name, e.Type,
			strconv.Itoa(e.Streams), strconv.Itoa(e.Files), strconv.Itoa(e.Variables), seen, e.Path)
	}
	return tbl.Write(cmd.OutOrStdout(), a.output)
}
