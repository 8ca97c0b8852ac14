package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/papapumpkin/edb/internal/config"
	"github.com/papapumpkin/edb/internal/exptype"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and external tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()
		ok := true

		fmt.Fprintf(os.Stderr, "✓ catalog %s\n", a.cfg.Database)

		if path, err := exec.LookPath(a.cfg.NcdumpPath); err != nil {
			fmt.Fprintf(os.Stderr, "✗ ncdump: %v (netCDF files cannot be read)\n", err)
			ok = false
		} else {
			fmt.Fprintf(os.Stderr, "✓ ncdump found at %s\n", path)
		}

		if !checkScanPaths(os.Stderr, a.types, a.cfg.ScanPaths) {
			ok = false
		}

		if !ok {
			return fmt.Errorf("validation failed")
		}
		return nil
	},
}

// checkScanPaths reports every scan path whose type is not in types.
func checkScanPaths(w io.Writer, types *exptype.Registry, paths []config.ScanPath) bool {
	ok := true
	for _, sp := range paths {
		if _, err := types.Lookup(sp.Type); err != nil {
			fmt.Fprintf(w, "✗ scan path %s: %v (known: %v)\n", sp.Path, err, types.IDs())
			ok = false
		}
	}
	return ok
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
