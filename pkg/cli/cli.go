// Package cli provides the command-line interface for devicepool.
package cli

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicepool/pkg/config"
	"github.com/devicelab-dev/devicepool/pkg/logger"
)

// Version is set at build time.
var Version = "dev"

// GlobalFlags are available to all commands.
var GlobalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to config.yaml (default: search $DEVICEPOOL_HOME)",
		EnvVars: []string{"DEVICEPOOL_CONFIG"},
	},
	&cli.StringFlag{
		Name:    "log-level",
		Usage:   "Log level (debug, info, warn, error)",
		EnvVars: []string{"DEVICEPOOL_LOG_LEVEL"},
	},
	&cli.StringFlag{
		Name:    "log-path",
		Usage:   "Log file path (default: stderr only)",
		EnvVars: []string{"DEVICEPOOL_LOG_PATH"},
	},
	&cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Enable verbose console logging",
		EnvVars: []string{"DEVICEPOOL_VERBOSE"},
	},
}

// NewApp builds the CLI application.
func NewApp() *cli.App {
	return &cli.App{
		Name:    "devicepool",
		Usage:   "Mobile device pool and element resolution toolkit",
		Version: Version,
		Description: `Devicepool manages a pool of Android and iOS devices and resolves
UI elements through self-healing locator chains.

Examples:
  devicepool devices
  devicepool caps --platform android --os-version 13 --device-id pixel-1 --app-package com.example.app
  devicepool lint elements/library.yaml`,
		Flags: GlobalFlags,
		Commands: []*cli.Command{
			devicesCommand,
			capsCommand,
			lintCommand,
		},
	}
}

// Execute runs the CLI.
func Execute() {
	if err := NewApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config, falling back to the
// devicepool home directory.
func loadConfig(c *cli.Context) (*config.Config, error) {
	if path := c.String("config"); path != "" {
		return config.Load(path)
	}
	return config.LoadFromDir(config.GetHome())
}

// setupLogger initializes logging from config, with flags taking
// precedence.
func setupLogger(c *cli.Context, cfg *config.Config) error {
	opts := logger.Options{
		Level:   cfg.Logging.Level,
		Path:    cfg.Logging.Path,
		Console: cfg.Logging.Console,
	}
	if lvl := c.String("log-level"); lvl != "" {
		opts.Level = lvl
	}
	if path := c.String("log-path"); path != "" {
		opts.Path = path
	}
	if c.Bool("verbose") {
		opts.Level = "debug"
		opts.Console = true
	}
	return logger.Init(opts)
}
