package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"gomemflow/arch"
	"gomemflow/config"
	"gomemflow/connector_dump"
	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/report"
	"gomemflow/synth"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "save physical ranges into a dump directory",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "dump directory", Required: true},
			&cli.StringSliceFlag{Name: "range", Usage: "physical addr:size, repeatable; default is everything"},
			&cli.StringFlag{Name: "arch", Usage: "architecture recorded in the metadata"},
		},
		Action: func(c *cli.Context) error {
			var ranges []connector_dump.Range
			for _, r := range c.StringSlice("range") {
				mr, err := parseRange(r)
				if err != nil {
					return err
				}
				ranges = append(ranges, connector_dump.Range{
					Address: memory.PhysicalAddress(mr.Start),
					Size:    mr.Size,
				})
			}
			var a arch.Ident
			if s := c.String("arch"); s != "" {
				var err error
				if a, err = arch.Parse(s); err != nil {
					return err
				}
			}

			s, err := openConnectorOnly(c)
			if err != nil {
				return err
			}
			defer s.Close()
			md, err := connector_dump.Save(c.String("out"), s.conn, ranges, a)
			if err != nil {
				return err
			}
			var total memory.Size
			for _, r := range md.Ranges {
				total += r.Size
			}
			fmt.Fprintf(c.App.Writer, "snapshot %s: %d ranges, %s\n", md.ID, len(md.Ranges), humanize.IBytes(uint64(total)))
			return nil
		},
	}
}

func exportCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "record processes and modules into a report database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "sqlite database file", Value: cfg.Report, EnvVars: []string{"MEMFLOW_REPORT"}},
			&cli.BoolFlag{Name: "list", Usage: "list recorded sessions instead"},
		},
		Action: func(c *cli.Context) error {
			store, err := report.Open(c.String("db"))
			if err != nil {
				return err
			}
			defer store.Close()
			if c.Bool("list") {
				return listSessions(c, store)
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()

			procs, err := s.os.ProcessInfoList()
			if err != nil {
				return err
			}
			sess, err := store.NewSession(s.connName, s.osName)
			if err != nil {
				return err
			}
			if err := store.AddProcesses(sess.ID, procs); err != nil {
				return err
			}

			modules := 0
			for _, info := range procs {
				mods, err := processModules(s.os, info)
				if err != nil {
					fmt.Fprintf(c.App.ErrWriter, "skipping modules of pid %d: %v\n", info.PID, err)
					continue
				}
				if err := store.AddModules(sess.ID, mods); err != nil {
					return err
				}
				modules += len(mods)
			}
			if kmods, err := s.os.ModuleInfoList(); err != nil {
				fmt.Fprintf(c.App.ErrWriter, "skipping kernel modules: %v\n", err)
			} else {
				if err := store.AddModules(sess.ID, kmods); err != nil {
					return err
				}
				modules += len(kmods)
			}

			fmt.Fprintf(c.App.Writer, "session %s: %d processes, %d modules\n", sess.ID, len(procs), modules)
			return nil
		},
	}
}

func processModules(o guestos.OS, info guestos.ProcessInfo) ([]guestos.ModuleInfo, error) {
	p, err := o.ProcessByInfo(info)
	if err != nil {
		return nil, err
	}
	return p.ModuleInfoList()
}

func listSessions(c *cli.Context, store *report.Store) error {
	sessions, err := store.Sessions()
	if err != nil {
		return err
	}
	table := newTable(c.App.Writer, "session", "created", "connector", "os", "processes")
	for _, sess := range sessions {
		procs, err := store.Processes(sess.ID)
		if err != nil {
			return err
		}
		table.Append([]string{
			sess.ID,
			humanize.Time(sess.Created),
			sess.Connector,
			sess.OS,
			fmt.Sprint(len(procs)),
		})
	}
	table.Render()
	return nil
}

func synthCommand() *cli.Command {
	return &cli.Command{
		Name:  "synth",
		Usage: "build a synthetic machine image and its profile",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "output directory", Required: true},
		},
		Action: func(c *cli.Context) error {
			img, err := synth.Build(synth.Default())
			if err != nil {
				return err
			}
			dir := c.String("out")
			if err := os.MkdirAll(dir, 0755); err != nil {
				return err
			}
			memPath := filepath.Join(dir, "mem.raw")
			if err := os.WriteFile(memPath, img.Blob.Data(), 0644); err != nil {
				return err
			}
			raw, err := json.MarshalIndent(img.Profile, "", "  ")
			if err != nil {
				return err
			}
			profPath := filepath.Join(dir, "profile.json")
			if err := os.WriteFile(profPath, raw, 0644); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %s (%s) and %s\n", memPath, humanize.IBytes(uint64(len(img.Blob.Data()))), profPath)
			fmt.Fprintf(c.App.Writer, "try: memflow -c file --connector-args %s --os-args profile=%s ps\n", memPath, profPath)
			return nil
		},
	}
}
