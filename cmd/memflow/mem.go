package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"gomemflow/coloransi"
	"gomemflow/dtype"
	"gomemflow/guestos"
	"gomemflow/hexdump"
	"gomemflow/memory"
	"gomemflow/profile"
	"gomemflow/scan"
)

func addressFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "address, hex", Required: true},
		&cli.BoolFlag{Name: "phys", Usage: "address is physical"},
	}
	flags = append(flags, processFlags()...)
	return append(flags, extra...)
}

func readCommand() *cli.Command {
	return &cli.Command{
		Name:  "read",
		Usage: "hexdump memory or decode it as a type",
		Flags: addressFlags(
			&cli.StringFlag{Name: "size", Aliases: []string{"n"}, Usage: "bytes to dump", Value: "256"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "decode as a type, e.g. '{pid@0x8: uint; name: [16]char}'"},
		),
		Action: func(c *cli.Context) error {
			addr, err := parseAddress(c.String("addr"))
			if err != nil {
				return err
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.view(c)
			if err != nil {
				return err
			}

			if ts := c.String("type"); ts != "" {
				t, err := dtype.Parse(ts)
				if err != nil {
					return err
				}
				val, err := dtype.Read(v, addr, t)
				if err != nil {
					return err
				}
				fmt.Fprintf(c.App.Writer, "%s %s = %s\n", addr, t, dtype.Format(t, val))
				return nil
			}

			size, err := parseSize(c.String("size"))
			if err != nil {
				return err
			}
			data, err := v.ReadMemory(addr, size)
			if err != nil {
				return err
			}
			opts := hexdump.DefaultOptions()
			opts.Base = addr
			hexdump.DumpToWriter(c.App.Writer, data, opts)
			return nil
		},
	}
}

// parseValue reads a command line value for a scalar or character array.
func parseValue(t *dtype.Type, s string) (any, error) {
	switch t.Kind() {
	case dtype.KindFloat, dtype.KindDouble:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, memory.ErrArgument)
		}
		return f, nil
	case dtype.KindChar:
		if len(s) != 1 {
			return nil, fmt.Errorf("char value %q: %w", s, memory.ErrArgument)
		}
		return s[0], nil
	case dtype.KindWideChar:
		r := []rune(s)
		if len(r) != 1 {
			return nil, fmt.Errorf("wchar value %q: %w", s, memory.ErrArgument)
		}
		return r[0], nil
	case dtype.KindArray:
		if t.Elem().Kind() != dtype.KindChar || len(s) > t.Len() {
			return nil, fmt.Errorf("value %q for %s: %w", s, t, memory.ErrArgument)
		}
		b := make([]byte, t.Len())
		copy(b, s)
		return b, nil
	case dtype.KindStruct:
		return nil, fmt.Errorf("write %s from the command line: %w", t, memory.ErrUnsupported)
	}
	if strings.HasPrefix(s, "-") {
		n, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, memory.ErrArgument)
		}
		return n, nil
	}
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return nil, fmt.Errorf("value %q: %w", s, memory.ErrArgument)
	}
	return n, nil
}

func parseHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ",", "", "0x", "").Replace(s)
	b, err := hex.DecodeString(s)
	if err != nil || len(b) == 0 {
		return nil, fmt.Errorf("hex bytes %q: %w", s, memory.ErrArgument)
	}
	return b, nil
}

func writeCommand() *cli.Command {
	return &cli.Command{
		Name:  "write",
		Usage: "write raw bytes or a typed value",
		Flags: addressFlags(
			&cli.StringFlag{Name: "hex", Usage: "bytes to write, e.g. 'de ad be ef'"},
			&cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "type of --value"},
			&cli.StringFlag{Name: "value", Usage: "value to encode as --type"},
		),
		Action: func(c *cli.Context) error {
			addr, err := parseAddress(c.String("addr"))
			if err != nil {
				return err
			}
			var data []byte
			switch {
			case c.String("hex") != "":
				data, err = parseHex(c.String("hex"))
			case c.String("type") != "":
				var t *dtype.Type
				if t, err = dtype.Parse(c.String("type")); err != nil {
					return err
				}
				var val any
				if val, err = parseValue(t, c.String("value")); err != nil {
					return err
				}
				data, err = t.Encode(val)
			default:
				return cli.Exit("write needs --hex or --type and --value", 2)
			}
			if err != nil {
				return err
			}

			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.view(c)
			if err != nil {
				return err
			}
			if err := v.WriteMemory(addr, data); err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "wrote %d bytes at %s\n", len(data), addr)
			return nil
		},
	}
}

type profiled interface {
	Profile() *profile.Profile
}

func translateCommand() *cli.Command {
	return &cli.Command{
		Name:  "translate",
		Usage: "translate a virtual address through the page tables",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "addr", Aliases: []string{"a"}, Usage: "virtual address, hex", Required: true},
			&cli.StringFlag{Name: "dtb", Usage: "page-table root, defaults to the process or kernel one"},
		}, processFlags()...),
		Action: func(c *cli.Context) error {
			va, err := parseAddress(c.String("addr"))
			if err != nil {
				return err
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			tr, ok := s.os.(guestos.Translator)
			if !ok {
				return fmt.Errorf("os %s does not translate addresses: %w", s.osName, memory.ErrUnsupported)
			}

			var dtb memory.PhysicalAddress
			if d := c.String("dtb"); d != "" {
				a, err := parseAddress(d)
				if err != nil {
					return err
				}
				dtb = memory.PhysicalAddress(a)
			} else if p, err := s.process(c); err != nil {
				return err
			} else if p != nil {
				dtb = p.Info().DTB
			} else if pr, ok := s.os.(profiled); ok {
				dtb = memory.PhysicalAddress(pr.Profile().DTB)
			}

			pa, err := tr.Translate(dtb, va)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "%s -> %s (dtb %s)\n", va, pa, dtb)
			return nil
		},
	}
}

func scanCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan",
		Usage: "search memory for a byte pattern with ?? wildcards",
		Flags: append([]cli.Flag{
			&cli.StringFlag{Name: "pattern", Aliases: []string{"p"}, Usage: "pattern, e.g. '48 8b ?? ?? 90'", Required: true},
			&cli.StringFlag{Name: "module", Aliases: []string{"m"}, Usage: "only scan this module of the process"},
			&cli.StringSliceFlag{Name: "range", Usage: "addr:size to scan, repeatable"},
			&cli.BoolFlag{Name: "phys", Usage: "scan physical memory"},
			&cli.IntFlag{Name: "workers", Usage: "chunks scanned at once", Value: 4},
			&cli.IntFlag{Name: "limit", Usage: "stop after this many matches, 0 for all", Value: 100},
			&cli.BoolFlag{Name: "dump", Usage: "hexdump around every match"},
		}, processFlags()...),
		Action: func(c *cli.Context) error {
			pat, err := scan.ParsePattern(c.String("pattern"))
			if err != nil {
				return err
			}
			s, err := openSession(c)
			if err != nil {
				return err
			}
			defer s.Close()
			v, err := s.view(c)
			if err != nil {
				return err
			}
			ranges, mods, err := scanRanges(c, s, v)
			if err != nil {
				return err
			}

			hits, err := scan.Scan(c.Context, v, ranges, pat,
				scan.WithWorkers(c.Int("workers")),
				scan.WithLimit(c.Int("limit")))
			if err != nil {
				return err
			}

			table := newTable(c.App.Writer, "match", "module", "offset")
			for _, h := range hits {
				name, off := "", ""
				if m, err := guestos.ModuleByAddress(mods, h); err == nil {
					name, off = m.Name, fmt.Sprintf("+0x%x", uint64(h-m.Base))
				}
				table.Append([]string{coloransi.Paint(coloransi.Yellow, h.String()), name, off})
			}
			table.Render()
			fmt.Fprintf(c.App.Writer, "%d matches for %s\n", len(hits), pat)

			if c.Bool("dump") {
				for _, h := range hits {
					dumpAround(c, v, h, pat.Len())
				}
			}
			return nil
		},
	}
}

// scanRanges resolves what scan walks: --range, else --module, else every
// module of the selected process, else all of physical memory with --phys.
func scanRanges(c *cli.Context, s *session, v memory.View) ([]memory.Range, []guestos.ModuleInfo, error) {
	var ranges []memory.Range
	for _, r := range c.StringSlice("range") {
		mr, err := parseRange(r)
		if err != nil {
			return nil, nil, err
		}
		ranges = append(ranges, mr)
	}

	p, _ := v.(guestos.Process)
	var mods []guestos.ModuleInfo
	if p != nil {
		var err error
		if mods, err = p.ModuleInfoList(); err != nil {
			return nil, nil, err
		}
	}
	if len(ranges) > 0 {
		return ranges, mods, nil
	}

	switch {
	case c.String("module") != "":
		if p == nil {
			return nil, nil, cli.Exit("--module needs --pid or --name", 2)
		}
		m, err := guestos.ModuleByName(mods, c.String("module"))
		if err != nil {
			return nil, nil, err
		}
		return []memory.Range{{Start: m.Base, Size: m.Size}}, mods, nil
	case p != nil:
		for _, m := range mods {
			ranges = append(ranges, memory.Range{Start: m.Base, Size: m.Size})
		}
		return ranges, mods, nil
	case c.Bool("phys"):
		md := s.conn.Metadata()
		return []memory.Range{{Start: 0, Size: memory.Size(md.MaxAddress)}}, nil, nil
	}
	return nil, nil, cli.Exit("scan needs --range, --module, a process or --phys", 2)
}

func dumpAround(c *cli.Context, v memory.View, hit memory.Address, n int) {
	start := hit.AlignDown(16)
	if start >= 16 {
		start -= 16
	}
	data, err := v.ReadMemory(start, 48)
	if err != nil {
		fmt.Fprintf(c.App.Writer, "%s: %v\n", hit, err)
		return
	}
	opts := hexdump.DefaultOptions()
	opts.Base = start
	opts.Highlight = []memory.Range{{Start: hit, Size: memory.Size(n)}}
	hexdump.DumpToWriter(c.App.Writer, data, opts)
	fmt.Fprintln(c.App.Writer)
}
