package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/devicelab-dev/devicepool/pkg/device"
)

var devicesCommand = &cli.Command{
	Name:  "devices",
	Usage: "Print the configured device inventory",
	Description: `Load the device inventory from config.yaml and print it as a table.

Examples:
  devicepool devices
  devicepool --config ./lab/config.yaml devices`,
	Action: runDevices,
}

func runDevices(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if err := setupLogger(c, cfg); err != nil {
		return err
	}

	devs, err := cfg.DeviceList()
	if err != nil {
		return err
	}
	if len(devs) == 0 {
		fmt.Fprintln(c.App.Writer, "No devices configured.")
		return nil
	}

	// Register everything so the table shows the same status values the
	// pool would hand out.
	reg := device.NewRegistry()
	for _, d := range devs {
		if err := reg.Register(d); err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPLATFORM\tOS\tMODEL\tKIND\tSTATUS")
	for _, snap := range reg.All() {
		d := snap.Device
		model := d.Model
		if model == "" {
			model = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.ID, d.Platform, d.OSVersion, model, d.Kind, snap.Status)
	}
	return w.Flush()
}
