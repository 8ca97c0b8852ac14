package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/manifest"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "export [file]",
		Short: "Write the catalog manifest as TOML",
		Long: `Writes every experiment with its streams, file counts, covered time span and
variable names as TOML, to the given file or to stdout.`,
		Args: cobra.MaximumNArgs(1),
		RunE: runExport,
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := manifest.Build(cmd.Context(), a.store, time.Now())
	if err != nil {
		return err
	}
	if len(args) == 0 {
		return manifest.Write(cmd.OutOrStdout(), m)
	}
	if err := manifest.Save(args[0], m); err != nil {
		return err
	}
	a.log.WithField("path", args[0]).WithField("experiments", len(m.Experiments)).Info("manifest written")
	return nil
}
