package cli

import (
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicepool/pkg/capability"
	"github.com/devicelab-dev/devicepool/pkg/core"
)

var capsCommand = &cli.Command{
	Name:  "caps",
	Usage: "Build and print a capability profile",
	Description: `Build the automation capability profile for a device and app, and print
it as JSON. Overrides from the config's capabilities.overrides section are
merged in; locked keys are rejected.

Examples:
  devicepool caps --platform android --os-version 13 --device-id pixel-1 --app-package com.example.app
  devicepool caps --platform ios --os-version 17.2 --kind simulator --bundle-id com.example.ios`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "platform",
			Aliases:  []string{"p"},
			Usage:    "Target platform (android, ios)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "os-version",
			Usage:    "Device OS version (13, 17.2, ...)",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "kind",
			Usage: "Device kind (real, emulator, simulator)",
			Value: "real",
		},
		&cli.StringFlag{
			Name:  "device-id",
			Usage: "Device identifier (required for real devices)",
		},
		&cli.StringFlag{
			Name:  "app-package",
			Usage: "Android app package",
		},
		&cli.StringFlag{
			Name:  "activity",
			Usage: "Android launch activity",
		},
		&cli.StringFlag{
			Name:  "bundle-id",
			Usage: "iOS bundle identifier",
		},
		&cli.BoolFlag{
			Name:  "no-reset",
			Usage: "Keep app state between sessions",
		},
		&cli.BoolFlag{
			Name:  "full-reset",
			Usage: "Uninstall the app before and after the session",
		},
	},
	Action: runCaps,
}

func runCaps(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogger(c, cfg); err != nil {
		return err
	}

	platform, err := core.ParsePlatform(c.String("platform"))
	if err != nil {
		return err
	}
	kind, err := core.ParseDeviceKind(c.String("kind"))
	if err != nil {
		return err
	}

	req := capability.Request{
		Platform:   platform,
		OSVersion:  c.String("os-version"),
		DeviceKind: kind,
		DeviceID:   c.String("device-id"),
		App: capability.AppInfo{
			Package:  c.String("app-package"),
			Activity: c.String("activity"),
			BundleID: c.String("bundle-id"),
		},
		NoReset:   c.Bool("no-reset"),
		FullReset: c.Bool("full-reset"),
		Overrides: cfg.Tree().Sub("capabilities.overrides"),
	}

	profile, err := capability.Build(req)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(profile.Map(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}
