// Package cmd provides the edb command line.
//
// root.go defines the root command, configuration loading and the shared
// helpers every subcommand uses to open the catalog.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/papapumpkin/edb/internal/config"
	"github.com/papapumpkin/edb/internal/exptype"
	"github.com/papapumpkin/edb/internal/format"
	"github.com/papapumpkin/edb/internal/render"
	"github.com/papapumpkin/edb/internal/scan"
	"github.com/papapumpkin/edb/internal/search"
	"github.com/papapumpkin/edb/internal/store"
)

var rootCmd = &cobra.Command{
	Use:   "edb",
	Short: "Catalog and search climate model experiment output",
	Long: `edb scans directories of model output, groups the files of each experiment
into streams, records the variables every stream carries, and answers searches
over the catalog with the paths of the files that hold a variable.`,
	SilenceUsage: true,
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("config", "", "config file (default ~/.config/edb.yaml)")
	rootCmd.PersistentFlags().String("database", "", "catalog database path")
	rootCmd.PersistentFlags().StringP("output", "o", "", "output format: table or tsv")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")

	_ = viper.BindPFlag("database", rootCmd.PersistentFlags().Lookup("database"))
	_ = viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile, _ := rootCmd.Flags().GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("edb")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if dir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(dir)
		}
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".config"))
		}
	}

	viper.SetEnvPrefix("EDB")
	viper.AutomaticEnv()

	// It's fine if no config file is found; we use defaults.
	_ = viper.ReadInConfig()
}

// newLogger builds the process logger from the configuration. Logs go to
// stderr so stdout stays clean for command output.
func newLogger(cfg config.Config) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	if cfg.Verbose && level < logrus.DebugLevel {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)

	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
	return log, nil
}

// app bundles what a command needs once configuration is resolved.
type app struct {
	cfg     config.Config
	log     *logrus.Logger
	store   *store.SQLiteStore
	types   *exptype.Registry
	formats *format.Registry
	output  render.Format
}

// openApp loads configuration and opens the catalog database, creating it on
// first use. Callers must Close the result.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	out, err := render.ParseFormat(cfg.Output)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, fmt.Errorf("create catalog directory: %w", err)
	}
	st, err := store.Open(cmd.Context(), cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	log.WithField("database", cfg.Database).Debug("catalog opened")

	return &app{
		cfg:     cfg,
		log:     log,
		store:   st,
		types:   exptype.Default(),
		formats: newFormats(cfg),
		output:  out,
	}, nil
}

// outputFormat resolves the output format for commands that do not need the
// catalog.
func outputFormat() (render.Format, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("failed to load config: %w", err)
	}
	return render.ParseFormat(cfg.Output)
}

// newFormats returns the format handlers in probe priority order.
func newFormats(cfg config.Config) *format.Registry {
	return format.NewRegistry(
		format.NewNetCDF(format.ExecRunner{}, cfg.NcdumpPath),
		format.UM{},
	)
}

func (a *app) Close() error {
	return a.store.Close()
}

func (a *app) scanner() *scan.Scanner {
	return &scan.Scanner{
		Store:   a.store,
		Types:   a.types,
		Formats: a.formats,
		Policy:  scan.StalenessPolicy{Interval: a.cfg.RefreshInterval()},
		Logger:  a.log,
	}
}

func (a *app) engine() *search.Engine {
	return search.NewEngine(a.store.DB())
}
