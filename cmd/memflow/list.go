package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"gomemflow/coloransi"
	"gomemflow/guestos"
	"gomemflow/inventory"
)

func pluginsCommand() *cli.Command {
	return &cli.Command{
		Name:  "plugins",
		Usage: "list registered connectors and os drivers",
		Action: func(c *cli.Context) error {
			inv := loadInventory(c)
			table := newTable(c.App.Writer, "kind", "name", "driver", "args", "description")
			for _, kind := range []inventory.Kind{inventory.KindConnector, inventory.KindOS} {
				for _, m := range inv.Manifests(kind) {
					table.Append([]string{string(m.Kind), m.Name, m.Driver, m.Args, m.Description})
				}
			}
			table.Render()
			fmt.Fprintf(c.App.Writer, "\ndrivers: connector=%s os=%s\n",
				strings.Join(inv.DriverNames(inventory.KindConnector), ","),
				strings.Join(inv.DriverNames(inventory.KindOS), ","))
			return nil
		},
	}
}

func psCommand() *cli.Command {
	return &cli.Command{
		Name:    "ps",
		Aliases: []string{"processes"},
		Usage:   "list processes",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.os.ProcessInfoList()
			if err != nil {
				return err
			}
			table := newTable(c.App.Writer, "pid", "ppid", "name", "address", "dtb", "path", "command line")
			for _, p := range list {
				table.Append([]string{
					fmt.Sprint(p.PID),
					fmt.Sprint(p.PPID),
					coloransi.Paint(coloransi.Green, p.Name),
					p.Address.String(),
					p.DTB.String(),
					p.Path,
					p.CommandLine,
				})
			}
			table.Render()
			return nil
		},
	}
}

func moduleRows(c *cli.Context, header string, list []guestos.ModuleInfo) {
	table := newTable(c.App.Writer, header, "base", "end", "size", "path")
	for _, m := range list {
		table.Append([]string{
			m.Name,
			m.Base.String(),
			m.Base.Add(m.Size).String(),
			humanize.IBytes(uint64(m.Size)),
			m.Path,
		})
	}
	table.Render()
}

func modulesCommand() *cli.Command {
	return &cli.Command{
		Name:  "modules",
		Usage: "list the modules of a process",
		Flags: processFlags(),
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			p, err := s.process(c)
			if err != nil {
				return err
			}
			if p == nil {
				return cli.Exit("modules needs --pid or --name", 2)
			}
			list, err := p.ModuleInfoList()
			if err != nil {
				return err
			}
			info := p.Info()
			fmt.Fprintf(c.App.Writer, "%s (pid %d, %s)\n", info.Name, info.PID, info.Arch)
			moduleRows(c, "module", list)
			return nil
		},
	}
}

func kmodsCommand() *cli.Command {
	return &cli.Command{
		Name:  "kmods",
		Usage: "list kernel modules",
		Action: func(c *cli.Context) error {
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			list, err := s.os.ModuleInfoList()
			if err != nil {
				return err
			}
			moduleRows(c, "kernel module", list)
			return nil
		},
	}
}
