package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/genc-murat/routepool/internal/config"
	"github.com/genc-murat/routepool/internal/logger"
)

var version = "dev"

type rootOptions struct {
	env        string
	configPath string
	logLevel   string
}

// load reads --config when given, else config/<env>.yaml. A missing
// environment file falls back to the built-in defaults.
func (o *rootOptions) load() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if o.configPath != "" {
		cfg, err = config.LoadFile(o.configPath)
	} else {
		cfg, err = config.LoadConfig(o.env)
		if errors.Is(err, fs.ErrNotExist) {
			cfg, err = config.Default(), nil
			cfg.Environment = o.env
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	log := logger.Init(logger.Level(cfg.Logging.Level), cfg.Logging.Format)
	if logger.ParseLevel(cfg.Logging.Level) != slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Debug("config loaded", "env", cfg.Environment, "path", o.configPath)
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "routepool",
		Short:        "HTTP connection pool with per-route limits",
		Long:         "routepool leases HTTP/1.x connections per route under global and per-route limits and decides after every exchange whether a connection may be reused.",
		SilenceUsage: true,
		Version:      version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.env, "env", "development", "environment name, selects config/<env>.yaml")
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a config file, overrides --env")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level")

	cmd.AddCommand(benchCommand(opts), serveCommand(opts), configCommand(opts), versionCommand())
	return cmd
}
