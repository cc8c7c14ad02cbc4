// Package procfs reads process and kernel module information from a procfs
// mount.
package procfs

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gomemflow/memory"
	"gomemflow/memory/memory_map"
)

// FS is a procfs mount.
type FS struct {
	Root string
}

// Default is the host's /proc.
var Default = FS{Root: "/proc"}

// Process is what /proc/<pid> tells about one process.
type Process struct {
	PID     int
	PPID    int
	Name    string // comm
	Exe     string // resolved exe link, empty for kernel threads
	CmdLine []string
	State   string
}

// CommandLine joins the arguments with spaces.
func (p Process) CommandLine() string {
	return strings.Join(p.CmdLine, " ")
}

// Module is one line of /proc/modules.
type Module struct {
	Name  string
	Size  uint64
	State string
	// Base is zero unless the reader may see kernel addresses
	Base uint64
}

func (f FS) path(parts ...string) string {
	return filepath.Join(append([]string{f.Root}, parts...)...)
}

// PIDs lists the numeric entries of the mount in ascending order.
func (f FS) PIDs() ([]int, error) {
	entries, err := os.ReadDir(f.Root)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Root, err)
	}
	var pids []int
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(e.Name())
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	sort.Ints(pids)
	return pids, nil
}

// Exists reports whether /proc/<pid> is present.
func (f FS) Exists(pid int) bool {
	_, err := os.Stat(f.path(strconv.Itoa(pid)))
	return err == nil
}

// Process reads the comm, exe, cmdline and status entries of pid. A pid that
// is gone fails with memory.ErrNotFound.
func (f FS) Process(pid int) (Process, error) {
	dir := strconv.Itoa(pid)

	comm, err := os.ReadFile(f.path(dir, "comm"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Process{}, fmt.Errorf("pid %d: %w", pid, memory.ErrNotFound)
		}
		return Process{}, fmt.Errorf("failed to read process name: %w", err)
	}
	p := Process{PID: pid, Name: strings.TrimSpace(string(comm))}

	// kernel threads and foreign processes have no readable exe
	p.Exe, _ = os.Readlink(f.path(dir, "exe"))

	if cmdline, err := os.ReadFile(f.path(dir, "cmdline")); err == nil {
		cmdline = bytes.TrimRight(cmdline, "\x00")
		if len(cmdline) > 0 {
			for _, arg := range bytes.Split(cmdline, []byte{0}) {
				p.CmdLine = append(p.CmdLine, string(arg))
			}
		}
	}

	if status, err := os.ReadFile(f.path(dir, "status")); err == nil {
		for _, line := range strings.Split(string(status), "\n") {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				continue
			}
			value = strings.TrimSpace(value)
			switch strings.TrimSpace(key) {
			case "PPid":
				p.PPID, _ = strconv.Atoi(value)
			case "State":
				if value != "" {
					p.State = value[:1]
				}
			}
		}
	}
	return p, nil
}

// Processes reads every process that is still present when visited.
func (f FS) Processes() ([]Process, error) {
	pids, err := f.PIDs()
	if err != nil {
		return nil, err
	}
	out := make([]Process, 0, len(pids))
	for _, pid := range pids {
		p, err := f.Process(pid)
		if err != nil {
			// exited while we were reading
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// ByName returns the processes whose comm or exe basename equals name,
// ignoring case, in pid order.
func (f FS) ByName(name string) ([]Process, error) {
	if name == "" {
		return nil, fmt.Errorf("empty process name: %w", memory.ErrArgument)
	}
	all, err := f.Processes()
	if err != nil {
		return nil, err
	}
	var out []Process
	for _, p := range all {
		if strings.EqualFold(p.Name, name) || (p.Exe != "" && strings.EqualFold(filepath.Base(p.Exe), name)) {
			out = append(out, p)
		}
	}
	return out, nil
}

// Maps parses /proc/<pid>/maps.
func (f FS) Maps(pid int) ([]memory_map.MemoryMapItem, error) {
	mm, err := memory_map.ReadProcMaps(f.path(strconv.Itoa(pid), "maps"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("maps of pid %d: %w", pid, memory.ErrNotFound)
		}
		return nil, err
	}
	return mm, nil
}

// Modules parses /proc/modules.
func (f FS) Modules() ([]Module, error) {
	file, err := os.Open(f.path("modules"))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []Module
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		// nf_tables 249856 3 nft_chain_nat, Live 0xffffffffc0a00000
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		size, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			continue
		}
		m := Module{Name: fields[0], Size: size, State: fields[4]}
		if len(fields) > 5 {
			m.Base, _ = strconv.ParseUint(strings.TrimPrefix(fields[5], "0x"), 16, 64)
		}
		out = append(out, m)
	}
	return out, scanner.Err()
}
