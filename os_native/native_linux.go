package os_native

import (
	"fmt"
	"iter"
	"path/filepath"
	"strings"

	"gomemflow/args"
	"gomemflow/connector"
	"gomemflow/guestos"
	"gomemflow/memory"
	"gomemflow/procfs"
	"gomemflow/vmio"

	"github.com/Moonlight-Companies/gologger/coloransi"
	"github.com/Moonlight-Companies/gologger/logger"
)

// Native is the host OS.
type Native struct {
	life connector.Lifetime
	fs   procfs.FS
	log  *logger.Logger
}

var _ guestos.OS = (*Native)(nil)

// Open builds the host OS. The connector is ignored and may be nil.
//
// Accepted keys: root (procfs mount, default /proc).
func Open(_ connector.Connector, a args.Args) (guestos.OS, error) {
	if err := a.Only("root"); err != nil {
		return nil, err
	}
	return New(procfs.FS{Root: a.DefaultOr("root", procfs.Default.Root)}), nil
}

// New returns the OS described by fsys.
func New(fsys procfs.FS) *Native {
	n := &Native{
		fs:  fsys,
		log: logger.NewLogger(coloransi.Color(coloransi.ColorPurple, coloransi.ColorOrange, "native")),
	}
	n.log.Debugln("Native os over", fsys.Root)
	return n
}

func (n *Native) check() error {
	return n.life.Check("native os")
}

func (n *Native) Info() guestos.Info {
	return guestos.Info{Arch: HostArch()}
}

func (n *Native) info(p procfs.Process) guestos.ProcessInfo {
	return guestos.ProcessInfo{
		Address:     memory.Address(p.PID),
		PID:         uint32(p.PID),
		PPID:        uint32(p.PPID),
		Name:        p.Name,
		Path:        p.Exe,
		CommandLine: p.CommandLine(),
		Arch:        HostArch(),
	}
}

func (n *Native) ProcessInfos() iter.Seq2[guestos.ProcessInfo, error] {
	return func(yield func(guestos.ProcessInfo, error) bool) {
		if err := n.check(); err != nil {
			yield(guestos.ProcessInfo{}, err)
			return
		}
		pids, err := n.fs.PIDs()
		if err != nil {
			yield(guestos.ProcessInfo{}, err)
			return
		}
		for _, pid := range pids {
			p, err := n.fs.Process(pid)
			if err != nil {
				// exited since the directory listing
				continue
			}
			if !yield(n.info(p), nil) {
				return
			}
		}
	}
}

func (n *Native) ProcessInfoList() ([]guestos.ProcessInfo, error) {
	return guestos.CollectProcesses(n.ProcessInfos())
}

func (n *Native) ProcessByInfo(info guestos.ProcessInfo) (guestos.Process, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	return &Process{os: n, info: info}, nil
}

func (n *Native) ProcessByAddress(addr memory.Address) (guestos.Process, error) {
	return n.ProcessByPID(uint32(addr))
}

func (n *Native) ProcessByPID(pid uint32) (guestos.Process, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	p, err := n.fs.Process(int(pid))
	if err != nil {
		return nil, err
	}
	return n.ProcessByInfo(n.info(p))
}

// ProcessByName matches comm or the executable's base name, since comm is
// truncated to 15 bytes.
func (n *Native) ProcessByName(name string) (guestos.Process, error) {
	info, err := guestos.FindProcess(n.ProcessInfos(), fmt.Sprintf("named %q", name), func(info guestos.ProcessInfo) bool {
		return strings.EqualFold(info.Name, name) || (info.Path != "" && strings.EqualFold(filepath.Base(info.Path), name))
	})
	if err != nil {
		return nil, err
	}
	return n.ProcessByInfo(info)
}

// ModuleInfoList lists loaded kernel modules. Bases read as zero without
// the privilege to see kernel addresses.
func (n *Native) ModuleInfoList() ([]guestos.ModuleInfo, error) {
	if err := n.check(); err != nil {
		return nil, err
	}
	mods, err := n.fs.Modules()
	if err != nil {
		return nil, err
	}
	out := make([]guestos.ModuleInfo, 0, len(mods))
	for _, m := range mods {
		out = append(out, guestos.ModuleInfo{
			Address: memory.Address(m.Base),
			Base:    memory.Address(m.Base),
			Size:    memory.Size(m.Size),
			Name:    m.Name,
			Arch:    HostArch(),
		})
	}
	return out, nil
}

func (n *Native) ModuleByName(name string) (guestos.ModuleInfo, error) {
	list, err := n.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByName(list, name)
}

func (n *Native) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	return nil, fmt.Errorf("kernel memory of the native os: %w", memory.ErrUnsupported)
}

func (n *Native) WriteMemory(addr memory.Address, data []byte) error {
	return fmt.Errorf("kernel memory of the native os: %w", memory.ErrUnsupported)
}

func (n *Native) Close() error {
	if n.life.MarkClosed() {
		n.log.Debugln("Native os closed")
	}
	return nil
}

// Process is a host process.
type Process struct {
	os   *Native
	info guestos.ProcessInfo
}

var _ guestos.Process = (*Process)(nil)

// readChunk is the most ReadMemory reads per process_vm_readv call.
const readChunk = 1 << 20

func (p *Process) Info() guestos.ProcessInfo {
	return p.info
}

func (p *Process) pid() int {
	return int(p.info.PID)
}

func (p *Process) check() error {
	if err := p.os.check(); err != nil {
		return err
	}
	if !p.os.fs.Exists(p.pid()) {
		return fmt.Errorf("process %d exited: %w", p.info.PID, memory.ErrDetachedProcess)
	}
	return nil
}

func (p *Process) ReadMemory(addr memory.Address, size memory.Size) ([]byte, error) {
	if err := p.os.check(); err != nil {
		return nil, err
	}
	if err := memory.CheckSpan(addr, size); err != nil {
		return nil, err
	}
	// grow in chunks so an unmapped range fails before a large allocation
	buf := make([]byte, 0, min(size, readChunk))
	for left := size; left > 0; {
		n := min(left, readChunk)
		buf = append(buf, make([]byte, n)...)
		if err := vmio.Read(p.pid(), addr.Add(memory.Size(len(buf))-n), buf[len(buf)-int(n):]); err != nil {
			return nil, err
		}
		left -= n
	}
	return buf, nil
}

func (p *Process) ReadMemoryList(ops []memory.ReadOp) error {
	if err := p.os.check(); err != nil {
		return err
	}
	return vmio.ReadList(p.pid(), ops)
}

func (p *Process) WriteMemory(addr memory.Address, data []byte) error {
	if err := p.os.check(); err != nil {
		return err
	}
	return vmio.Write(p.pid(), addr, data)
}

func (p *Process) ModuleInfoList() ([]guestos.ModuleInfo, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	mm, err := p.os.fs.Maps(p.pid())
	if err != nil {
		return nil, err
	}
	return groupModules(mm, p.info.Address, p.info.Arch), nil
}

func (p *Process) ModuleByName(name string) (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByName(list, name)
}

func (p *Process) ModuleByAddress(addr memory.Address) (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	return guestos.ModuleByAddress(list, addr)
}

func (p *Process) PrimaryModule() (guestos.ModuleInfo, error) {
	list, err := p.ModuleInfoList()
	if err != nil {
		return guestos.ModuleInfo{}, err
	}
	// comm is truncated, so prefer the module backing the executable
	for _, m := range list {
		if p.info.Path != "" && m.Path == p.info.Path {
			return m, nil
		}
	}
	return guestos.PrimaryModule(p.info, list)
}
