package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicepool/pkg/locator"
)

var lintCommand = &cli.Command{
	Name:      "lint",
	Usage:     "Validate an element library",
	ArgsUsage: "[library.yaml]",
	Description: `Load an element library and report definition problems: empty chains,
invalid strategies, chains ordered fragile-first. Without an argument the
library named by the config's elements key is linted.

Examples:
  devicepool lint elements/library.yaml
  devicepool lint`,
	Action: runLint,
}

func runLint(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogger(c, cfg); err != nil {
		return err
	}

	path := c.Args().First()
	if path == "" {
		path = cfg.Elements
	}
	if path == "" {
		return fmt.Errorf("no library given: pass a path or set elements in config.yaml")
	}

	lib, err := locator.LoadLibrary(path)
	if err != nil {
		return err
	}

	findings := lib.Lint()
	if len(findings) == 0 {
		fmt.Fprintf(c.App.Writer, "%s: %d elements, no findings\n", path, len(lib.Elements()))
		return nil
	}

	errs := 0
	for _, f := range findings {
		fmt.Fprintf(c.App.Writer, "%s: %s: %s\n", f.Severity, f.Element, f.Message)
		if f.Severity == locator.SeverityError {
			errs++
		}
	}
	if errs > 0 {
		return fmt.Errorf("%d error(s) in %s", errs, path)
	}
	return nil
}
