//go:build linux

// Package ipc implements the per-child rendezvous handshake of spec
// §4.4/§6.5: two binary semaphores, initial count 0, named so both the
// controller and its child can independently derive the same id from the
// child's PID alone — "binary_sem_log_struct_<pid>_1" (catalog ready) and
// "..._2" (go ahead) in the original implementation.
//
// SysV semaphores stand in for named POSIX semaphores here: spec §9
// explicitly allows "any cross-process rendezvous primitive that
// supports post/wait with name and initial count 0". The teacher reaches
// for raw syscalls (SYS_MMAP in internal/queue/runner.go) wherever the
// stdlib doesn't expose the primitive directly; SysV semaphores get the
// same treatment here via golang.org/x/sys/unix's syscall numbers.
package ipc

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// sembuf mirrors struct sembuf from <sys/sem.h>.
type sembuf struct {
	SemNum uint16
	SemOp  int16
	SemFlg int16
}

const ipcCreat = 0o1000

const (
	semCatalogReady = 0
	semGoAhead      = 1
	numSems         = 2
)

// Handshake owns one SysV semaphore set shared between a controller and
// exactly one child process.
type Handshake struct {
	semid int
}

// ftokKey derives a SysV IPC key deterministically from a child PID, so
// the controller (which spawned the child and knows its PID) and the
// child (which knows its own PID) can open the same semaphore set
// without any other rendezvous channel.
func ftokKey(pid int) int32 {
	const faultInjectorTag = 0x464A0000 // 'FJ' in the high 16 bits
	return int32(faultInjectorTag | (pid & 0xFFFF))
}

// Open creates or attaches to the semaphore pair for childPid.
func Open(childPid int) (*Handshake, error) {
	key := ftokKey(childPid)
	id, _, errno := unix.Syscall(unix.SYS_SEMGET, uintptr(key), uintptr(numSems), uintptr(0o666|ipcCreat))
	if errno != 0 {
		return nil, fmt.Errorf("ipc: semget(pid=%d): %w", childPid, errno)
	}
	return &Handshake{semid: int(id)}, nil
}

func (h *Handshake) wait(sem uint16) error {
	op := sembuf{SemNum: sem, SemOp: -1, SemFlg: 0}
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(h.semid), uintptr(unsafe.Pointer(&op)), 1)
	if errno != 0 {
		return fmt.Errorf("ipc: semop wait(sem=%d): %w", sem, errno)
	}
	return nil
}

func (h *Handshake) post(sem uint16) error {
	op := sembuf{SemNum: sem, SemOp: 1, SemFlg: 0}
	_, _, errno := unix.Syscall(unix.SYS_SEMOP, uintptr(h.semid), uintptr(unsafe.Pointer(&op)), 1)
	if errno != 0 {
		return fmt.Errorf("ipc: semop post(sem=%d): %w", sem, errno)
	}
	return nil
}

// WaitCatalogReady blocks the controller until the child signals that its
// discovery file is complete.
func (h *Handshake) WaitCatalogReady() error { return h.wait(semCatalogReady) }

// PostCatalogReady is called by the child once it has written the
// discovery file (spec §4.3).
func (h *Handshake) PostCatalogReady() error { return h.post(semCatalogReady) }

// PostGoAhead releases the child's scheduler once the controller has
// parsed every descriptor in the catalog.
func (h *Handshake) PostGoAhead() error { return h.post(semGoAhead) }

// WaitGoAhead blocks the child until the controller has finished reading
// the catalog.
func (h *Handshake) WaitGoAhead() error { return h.wait(semGoAhead) }

// Close removes the semaphore set. Per spec §6.5, the controller unlinks
// both semaphores on destruction.
func (h *Handshake) Close() error {
	_, _, errno := unix.Syscall6(unix.SYS_SEMCTL, uintptr(h.semid), 0, unix.IPC_RMID, 0, 0, 0)
	if errno != 0 {
		return fmt.Errorf("ipc: semctl(IPC_RMID, semid=%d): %w", h.semid, errno)
	}
	return nil
}
