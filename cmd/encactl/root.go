package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"enca/internal/config"
	"enca/internal/logging"
	encaapi "enca/pkg/enca"
)

type globalFlags struct {
	logLevel   string
	verbose    bool
	configPath string
	store      string
	dbPath     string
	outDir     string
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "encactl",
		Short:         "Evolve cellular automaton rules for grid tasks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Verbose output")
	pf.StringVarP(&flags.configPath, "config", "c", "", "Config file (YAML or JSON)")
	pf.StringVar(&flags.store, "store", "", "Store backend: memory or sqlite")
	pf.StringVar(&flags.dbPath, "db-path", "", "SQLite database path")
	pf.StringVarP(&flags.outDir, "out-dir", "r", "", "Run artifacts directory")

	root.AddCommand(newTrainCmd(flags), newParityCmd(flags), newRunsCmd(flags))
	return root
}

func (f *globalFlags) logger(cmd *cobra.Command) *logrus.Logger {
	return logging.New(logging.Options{
		Level:   f.logLevel,
		Verbose: f.verbose,
		Output:  cmd.ErrOrStderr(),
	})
}

func (f *globalFlags) loadConfig() (config.Config, error) {
	if f.configPath == "" {
		return config.Default(), nil
	}
	return config.Load(f.configPath)
}

func (f *globalFlags) client(cmd *cobra.Command, cfg config.Config) (*encaapi.Client, error) {
	return encaapi.New(encaapi.Options{
		StoreKind:    f.store,
		DBPath:       f.dbPath,
		ArtifactsDir: f.outDir,
		Config:       &cfg,
		Logger:       f.logger(cmd),
	})
}
