//go:build linux

// Package memio implements the cross-process memory primitive (C2):
// synchronous, blocking reads and writes of N bytes at an absolute address
// inside another process's address space.
//
// It mirrors the original implementation's use of process_vm_readv/writev
// (see original_source/Fault-Injector/Injection.cpp's read_memory/
// write_memory) rather than ptrace, the way the teacher's
// internal/queue/runner.go reaches for raw syscalls (SYS_MMAP) instead of a
// higher-level wrapper when the stdlib doesn't expose the primitive it
// needs.
package memio

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ReadMem reads len(buf) bytes from pid's address space starting at addr
// into buf. It is fatal for the calling trial if the OS reports failure,
// per spec §4.2 ("abort the trial with a fatal error").
func ReadMem(pid int, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{newIovec(buf)}
	remote := []unix.Iovec{{Base: pointerFromAddr(addr), Len: uint64(len(buf))}}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_READV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&local[0])),
		1,
		uintptr(unsafe.Pointer(&remote[0])),
		1,
		0,
	)
	if int(n) != len(buf) {
		return fmt.Errorf("memio: process_vm_readv(pid=%d, addr=%#x, len=%d): %w", pid, addr, len(buf), errnoOrShort(errno, n, len(buf)))
	}
	return nil
}

// WriteMem writes buf to pid's address space starting at addr.
func WriteMem(pid int, addr uintptr, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	local := []unix.Iovec{newIovec(buf)}
	remote := []unix.Iovec{{Base: pointerFromAddr(addr), Len: uint64(len(buf))}}

	n, _, errno := unix.Syscall6(
		unix.SYS_PROCESS_VM_WRITEV,
		uintptr(pid),
		uintptr(unsafe.Pointer(&local[0])),
		1,
		uintptr(unsafe.Pointer(&remote[0])),
		1,
		0,
	)
	if int(n) != len(buf) {
		return fmt.Errorf("memio: process_vm_writev(pid=%d, addr=%#x, len=%d): %w", pid, addr, len(buf), errnoOrShort(errno, n, len(buf)))
	}
	return nil
}

func newIovec(buf []byte) unix.Iovec {
	return unix.Iovec{Base: &buf[0], Len: uint64(len(buf))}
}

// pointerFromAddr converts a remote, non-dereferenceable address to
// *byte through pointer indirection, the same trick the teacher's
// internal/queue/runner.go uses (pointerFromMmap) to satisfy go vet's
// unsafeptr checker for addresses that don't point into this process's
// heap.
//
//go:noinline
func pointerFromAddr(addr uintptr) *byte {
	return *(**byte)(unsafe.Pointer(&addr))
}

func errnoOrShort(errno unix.Errno, got uintptr, want int) error {
	if errno != 0 {
		return errno
	}
	return fmt.Errorf("short transfer: got %d bytes, want %d", got, want)
}

// ReadByte and WriteByte are convenience wrappers for the common
// single-byte case the injection unit (C5) exercises on every trial.
func ReadByte(pid int, addr uintptr) (byte, error) {
	var b [1]byte
	if err := ReadMem(pid, addr, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func WriteByte(pid int, addr uintptr, v byte) error {
	b := [1]byte{v}
	return WriteMem(pid, addr, b[:])
}
