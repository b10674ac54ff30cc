// Copyright © 2019 Andrei Gubarev <agubarev@protonmail.com>

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/agubarev/bolt/internal/config"
	"github.com/agubarev/bolt/internal/core"
	"github.com/agubarev/bolt/pkg/util"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile string
	v       = config.New()
	c       *core.Core
	logger  *zap.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "boltctl",
	Short:         "Manage Thunderbolt devices through the bolt service.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" {
			return nil
		}

		cfg, err := config.Load(v, cfgFile)
		if err != nil {
			return err
		}

		logger, err = util.DefaultLogger(cfg.Debug, cfg.LogDir)
		if err != nil {
			return err
		}

		c, err = core.New(cfg)
		if err != nil {
			return err
		}

		if err = c.SetLogger(logger); err != nil {
			return err
		}

		return c.Init(cmd.Context())
	},
}

func init() {
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default ~/.config/boltctl/boltctl.yaml)")
	flags.String("bus", "system", "message bus to use: system or session")
	flags.Bool("debug", false, "enable debug logging")
	flags.Bool("color", true, "colorize JSON output")
	flags.String("log-dir", "", "also write JSON logs into this directory")
	flags.String("store-dir", "", "remember seen devices in this directory")

	bind := map[string]string{
		config.KeyBus:      "bus",
		config.KeyDebug:    "debug",
		config.KeyColor:    "color",
		config.KeyLogDir:   "log-dir",
		config.KeyStoreDir: "store-dir",
	}

	for key, name := range bind {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// Execute runs the root command until it finishes or the process
// is interrupted
func Execute() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	go func() {
		select {
		case <-sigs:
			cancel()
		case <-ctx.Done():
		}
	}()

	err := rootCmd.ExecuteContext(ctx)

	if c != nil {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}

	if logger != nil {
		_ = logger.Sync()
	}

	return err
}

func currentCore() (*core.Core, error) {
	if c == nil {
		return nil, core.ErrNilCore
	}

	return c, nil
}
