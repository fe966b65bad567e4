package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/paveg/distjoin"
	"github.com/paveg/distjoin/internal/config"
	"github.com/paveg/distjoin/internal/logutil"
	"github.com/paveg/distjoin/internal/version"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configFile string
	verbose    bool
	workers    int
	showVer    bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:          "distjoin",
		Short:        "Distributed inner equi-join over in-process workers",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if flags.showVer {
				fmt.Fprint(cmd.OutOrStdout(), version.Info().String())
				return nil
			}
			return cmd.Help()
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "configuration file (.json, .yaml or .yml); defaults to DISTJOIN_* environment variables")
	pf.BoolVar(&flags.verbose, "verbose", false, "log at debug level")
	pf.IntVarP(&flags.workers, "workers", "w", runtime.NumCPU(), "number of workers")
	cmd.Flags().BoolVarP(&flags.showVer, "version", "v", false, "print version information and exit")

	cmd.AddCommand(newJoinCommand(flags), newDemoCommand(flags))
	return cmd
}

// loadConfig resolves the configuration from --config, or from the
// environment when no file is given.
func (f *rootFlags) loadConfig() (config.Config, error) {
	cfg := config.LoadFromEnv()
	if f.configFile != "" {
		var err error
		if cfg, err = config.LoadFromFile(f.configFile); err != nil {
			return config.Config{}, err
		}
	}
	if f.verbose {
		cfg.VerboseLogging = true
	}
	cfg = cfg.WithDefaults()
	return cfg, cfg.Validate()
}

// cluster builds the logger and the cluster every subcommand runs on. The
// returned function flushes the logger.
func (f *rootFlags) cluster() (*distjoin.Cluster, *zap.Logger, func(), error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	logger, err := logutil.New(cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	logger.Info("starting distjoin", append(version.Info().Fields(), zap.Int("workers", f.workers))...)

	c, err := distjoin.NewCluster(f.workers, distjoin.WithConfig(cfg), distjoin.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, nil, nil, err
	}
	return c, logger, func() { _ = logger.Sync() }, nil
}
