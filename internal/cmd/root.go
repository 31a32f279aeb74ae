// Package cmd implements the jaime command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matiasb/jaime/internal/config"
	"github.com/matiasb/jaime/internal/observability"
	"github.com/matiasb/jaime/pkg/catalog"
	"github.com/matiasb/jaime/pkg/instance"
	"github.com/matiasb/jaime/pkg/runner"
)

var rootCmd = &cobra.Command{
	Use:   "jaime",
	Short: "Run user-submitted inputs against predefined jobs",
	Long: `jaime stages uploaded input files into an isolated working directory
seeded from a job template, executes the job's fixed command under an
optional timeout, and durably records the captured output so it can be
replayed without re-running.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	cfgPath   string
	logLevel  string
	logFormat string

	appConfig *config.Config
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Override log format (console|json)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}
		if _, err := observability.Init(cfg.Logging.Level, cfg.Logging.Format); err != nil {
			return err
		}
		appConfig = cfg
		return nil
	}
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// engine bundles the components every command needs.
type engine struct {
	catalog *catalog.Catalog
	store   *instance.Store
	runner  *runner.Runner
}

func buildEngine() (*engine, error) {
	cat, err := catalog.Load(appConfig.CatalogPath)
	if err != nil {
		return nil, err
	}
	store := instance.NewStore(appConfig.JobsRoot, appConfig.ResultsRoot, appConfig.LogFilename)
	run := runner.New(appConfig.LogFilename, observability.CLILogger)
	return &engine{catalog: cat, store: store, runner: run}, nil
}
