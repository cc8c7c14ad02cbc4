// Command memflow inspects physical memory through the connector and OS
// drivers of the inventory.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"

	"gomemflow/coloransi"
	"gomemflow/config"
)

func newApp() *cli.App {
	cfg := config.Load()
	return &cli.App{
		Name:  "memflow",
		Usage: "read and walk the memory of a machine through pluggable connectors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "plugin-dir",
				Usage:   "manifest directories, separated like PATH",
				Value:   cfg.PluginPath,
				EnvVars: []string{"MEMFLOW_PLUGIN_PATH"},
			},
			&cli.StringFlag{
				Name:    "connector",
				Aliases: []string{"c"},
				Usage:   "connector name from the inventory",
				Value:   cfg.Connector,
			},
			&cli.StringFlag{Name: "connector-args", Usage: "connector argument string, e.g. path=mem.raw"},
			&cli.StringFlag{
				Name:  "os",
				Usage: "os name from the inventory (kernel with a connector, native without)",
				Value: cfg.OS,
			},
			&cli.StringFlag{Name: "os-args", Usage: "os argument string, e.g. profile=profile.json"},
			&cli.StringFlag{
				Name:    "audit-log",
				Usage:   "append an RFC 5424 record of every physical write to this file",
				Value:   cfg.AuditLog,
				EnvVars: []string{"MEMFLOW_AUDIT_LOG"},
			},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: func(c *cli.Context) error {
			coloransi.SetEnabled(!c.Bool("no-color"))
			return nil
		},
		Commands: []*cli.Command{
			pluginsCommand(),
			psCommand(),
			modulesCommand(),
			kmodsCommand(),
			readCommand(),
			writeCommand(),
			translateCommand(),
			scanCommand(),
			snapshotCommand(),
			exportCommand(cfg),
			synthCommand(),
		},
	}
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetHeader(header)
	return table
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "memflow:", err)
		os.Exit(1)
	}
}
