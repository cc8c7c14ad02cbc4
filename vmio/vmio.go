//go:build linux

// Package vmio moves memory between this process and another one with
// process_vm_readv and process_vm_writev, batching many ranges per call.
package vmio

import (
	"fmt"
	"unsafe"

	"gomemflow/memory"

	"golang.org/x/sys/unix"
)

// maxIov is the kernel's UIO_MAXIOV
const maxIov = 1024

// classify maps a syscall errno onto the memory error kinds.
func classify(op string, addr memory.Address, errno unix.Errno) error {
	switch errno {
	case unix.EFAULT, unix.EIO:
		return fmt.Errorf("%s at %s: %s: %w", op, addr, errno.Error(), memory.ErrUnmappedPage)
	case unix.ESRCH:
		return fmt.Errorf("%s at %s: %s: %w", op, addr, errno.Error(), memory.ErrDetachedProcess)
	case unix.EINVAL:
		return fmt.Errorf("%s at %s: %s: %w", op, addr, errno.Error(), memory.ErrArgument)
	}
	return fmt.Errorf("%s at %s failed: %s (errno: %d): %w", op, addr, errno.Error(), int(errno), errno)
}

func readv(pid int, local []unix.Iovec, remote []unix.RemoteIovec) (int, unix.Errno) {
	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&local[0])),
		uintptr(len(local)),
		uintptr(unsafe.Pointer(&remote[0])),
		uintptr(len(remote)),
		uintptr(0),
	)
	return int(n), errno
}

func writev(pid int, local []unix.Iovec, remote []unix.RemoteIovec) (int, unix.Errno) {
	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&local[0])),
		uintptr(len(local)),
		uintptr(unsafe.Pointer(&remote[0])),
		uintptr(len(remote)),
		uintptr(0),
	)
	return int(n), errno
}

// Read fills buf from addr in process pid.
func Read(pid int, addr memory.Address, buf []byte) error {
	ops := []memory.ReadOp{{Addr: addr, Buf: buf}}
	return ReadList(pid, ops)
}

// ReadList fills every op from process pid using as few syscalls as
// possible. The kernel stops a vectored read at the first remote range it
// cannot access; that op gets its own error and the batch resumes after it.
func ReadList(pid int, ops []memory.ReadOp) error {
	local := make([]unix.Iovec, 0, min(len(ops), maxIov))
	remote := make([]unix.RemoteIovec, 0, min(len(ops), maxIov))
	index := make([]int, 0, min(len(ops), maxIov))

	for i := range ops {
		ops[i].Err = nil
	}

	for next := 0; next < len(ops); {
		local, remote, index = local[:0], remote[:0], index[:0]
		for ; next < len(ops) && len(index) < maxIov; next++ {
			if len(ops[next].Buf) == 0 {
				continue
			}
			var iov unix.Iovec
			iov.Base = &ops[next].Buf[0]
			iov.SetLen(len(ops[next].Buf))
			local = append(local, iov)
			remote = append(remote, unix.RemoteIovec{Base: uintptr(ops[next].Addr), Len: len(ops[next].Buf)})
			index = append(index, next)
		}
		if len(index) == 0 {
			break
		}

		n, errno := readv(pid, local, remote)
		if errno != 0 {
			// nothing transferred; blame the first op and retry the rest
			ops[index[0]].Err = classify("process_vm_readv", ops[index[0]].Addr, errno)
			next = index[0] + 1
			continue
		}

		// find the op the transfer stopped in
		for k, i := range index {
			size := len(ops[i].Buf)
			if n >= size {
				n -= size
				continue
			}
			ops[i].Err = fmt.Errorf("partial read of %d of %d bytes at %s: %w", n, size, ops[i].Addr, memory.ErrUnmappedPage)
			if k+1 < len(index) {
				next = index[k+1]
			}
			break
		}
	}

	for i := range ops {
		if ops[i].Err != nil {
			return ops[i].Err
		}
	}
	return nil
}

// Write copies data to addr in process pid.
func Write(pid int, addr memory.Address, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var iov unix.Iovec
	iov.Base = &data[0]
	iov.SetLen(len(data))
	remote := unix.RemoteIovec{Base: uintptr(addr), Len: len(data)}

	n, errno := writev(pid, []unix.Iovec{iov}, []unix.RemoteIovec{remote})
	if errno != 0 {
		return classify("process_vm_writev", addr, errno)
	}
	if n != len(data) {
		return fmt.Errorf("only wrote %d of %d bytes at %s: %w", n, len(data), addr, memory.ErrUnmappedPage)
	}
	return nil
}
