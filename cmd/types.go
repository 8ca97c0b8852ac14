package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/exptype"
	"github.com/papapumpkin/edb/internal/render"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "types",
		Short: "List the experiment types edb can scan",
		Args:  cobra.NoArgs,
		RunE:  runTypes,
	})
}

func runTypes(cmd *cobra.Command, _ []string) error {
	out, err := outputFormat()
	if err != nil {
		return err
	}
	tbl := render.Table{Headers: []string{"TYPE", "FILES", "DESCRIPTION"}}
	for _, v := range exptype.Default().Variants() {
		tbl.Append(v.ID, strings.Join(v.Patterns, " "), v.Description)
	}
	return tbl.Write(cmd.OutOrStdout(), out)
}
