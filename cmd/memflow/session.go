package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v2"

	"gomemflow/audit"
	"gomemflow/builtin"
	"gomemflow/connector"
	"gomemflow/guestos"
	"gomemflow/inventory"
	"gomemflow/memory"
	"gomemflow/os_kernel"
	"gomemflow/os_native"
)

// session is one opened connector and OS pair.
type session struct {
	inv       *inventory.Inventory
	connName  string
	osName    string
	conn      connector.Connector
	os        guestos.OS
	auditFile *os.File
}

func loadInventory(c *cli.Context) *inventory.Inventory {
	inv := builtin.NewDefaultInventory()
	inv.AddDirs(c.String("plugin-dir"))
	return inv
}

// openConnector opens the --connector instance, wrapped for auditing when
// --audit-log is set. No connector name yields a nil connector.
func (s *session) openConnector(c *cli.Context) error {
	s.connName = c.String("connector")
	if s.connName == "" {
		return nil
	}
	conn, err := s.inv.Connector(s.connName, c.String("connector-args"))
	if err != nil {
		return err
	}
	if path := c.String("audit-log"); path != "" {
		f, err := audit.OpenLog(path)
		if err != nil {
			conn.Close()
			return err
		}
		s.auditFile = f
		conn = audit.Wrap(conn, f)
	}
	s.conn = conn
	return nil
}

func (s *session) openOS(c *cli.Context) error {
	s.osName = c.String("os")
	if s.osName == "" {
		s.osName = os_native.DriverName
		if s.conn != nil {
			s.osName = os_kernel.DriverName
		}
	}
	o, err := s.inv.OS(s.osName, s.conn, c.String("os-args"))
	if err != nil {
		return err
	}
	s.os = o
	return nil
}

// openConnectorOnly is for commands working on physical memory alone.
func openConnectorOnly(c *cli.Context) (*session, error) {
	s := &session{inv: loadInventory(c)}
	if err := s.openConnector(c); err != nil {
		return nil, err
	}
	if s.conn == nil {
		return nil, fmt.Errorf("no --connector given: %w", memory.ErrArgument)
	}
	return s, nil
}

func openSession(c *cli.Context) (*session, error) {
	s := &session{inv: loadInventory(c)}
	if err := s.openConnector(c); err != nil {
		return nil, err
	}
	if err := s.openOS(c); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *session) Close() error {
	var errs []error
	if s.os != nil {
		errs = append(errs, s.os.Close())
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
	}
	if s.auditFile != nil {
		errs = append(errs, s.auditFile.Close())
	}
	return errors.Join(errs...)
}

func processFlags() []cli.Flag {
	return []cli.Flag{
		&cli.UintFlag{Name: "pid", Usage: "target process id"},
		&cli.StringFlag{Name: "name", Usage: "target process name"},
	}
}

// process opens the process selected by --pid or --name. Neither flag
// returns a nil process.
func (s *session) process(c *cli.Context) (guestos.Process, error) {
	if pid := c.Uint("pid"); pid != 0 {
		return s.os.ProcessByPID(uint32(pid))
	}
	if name := c.String("name"); name != "" {
		return s.os.ProcessByName(name)
	}
	return nil, nil
}

// view picks what --addr refers to: physical memory with --phys, a process
// when one is selected, else the OS address space.
func (s *session) view(c *cli.Context) (memory.View, error) {
	if c.Bool("phys") {
		if s.conn == nil {
			return nil, fmt.Errorf("--phys needs a connector: %w", memory.ErrArgument)
		}
		return connector.PhysView{Conn: s.conn}, nil
	}
	p, err := s.process(c)
	if err != nil {
		return nil, err
	}
	if p != nil {
		return p, nil
	}
	return s.os, nil
}

func parseAddress(s string) (memory.Address, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	if s == "" {
		return 0, fmt.Errorf("empty address: %w", memory.ErrArgument)
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		s = "0x" + s
	}
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("address %q: %w", s, memory.ErrArgument)
	}
	return memory.Address(v), nil
}

func parseSize(s string) (memory.Size, error) {
	if strings.HasPrefix(s, "0x") {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			return 0, fmt.Errorf("size %q: %w", s, memory.ErrArgument)
		}
		return memory.Size(v), nil
	}
	v, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("size %q: %w", s, memory.ErrArgument)
	}
	return memory.Size(v), nil
}

// parseRange reads "addr:size".
func parseRange(s string) (memory.Range, error) {
	addr, size, ok := strings.Cut(s, ":")
	if !ok {
		return memory.Range{}, fmt.Errorf("range %q is not addr:size: %w", s, memory.ErrArgument)
	}
	a, err := parseAddress(addr)
	if err != nil {
		return memory.Range{}, err
	}
	n, err := parseSize(size)
	if err != nil {
		return memory.Range{}, err
	}
	return memory.Range{Start: a, Size: n}, nil
}
