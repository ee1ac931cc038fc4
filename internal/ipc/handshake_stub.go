//go:build !linux

package ipc

import "fmt"

// SysV semaphores are a Linux-specific facility; other platforms build
// against this stub so the rest of the module still compiles.

type Handshake struct{}

func Open(childPid int) (*Handshake, error) {
	return nil, fmt.Errorf("ipc: SysV semaphore handshake is not implemented on this platform")
}

func (h *Handshake) WaitCatalogReady() error { return fmt.Errorf("ipc: unsupported platform") }
func (h *Handshake) PostCatalogReady() error { return fmt.Errorf("ipc: unsupported platform") }
func (h *Handshake) PostGoAhead() error      { return fmt.Errorf("ipc: unsupported platform") }
func (h *Handshake) WaitGoAhead() error      { return fmt.Errorf("ipc: unsupported platform") }
func (h *Handshake) Close() error            { return fmt.Errorf("ipc: unsupported platform") }
