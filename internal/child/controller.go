// Package child implements the child-process controller (C4): spawn a
// simulator child, perform the catalog handshake, wait for it with a
// deadline, and harvest its output.
//
// Grounded on SimulatorRun.cpp/.h (start/wait/wait_for/terminate/
// show_output/save_output) and, for the controller-as-struct-with-
// small-methods-and-a-logger-field shape, on the teacher's
// internal/ctrl.Controller.
package child

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PeppeRu96/freertos-fault-injector/internal/catalog"
	"github.com/PeppeRu96/freertos-fault-injector/internal/constants"
	"github.com/PeppeRu96/freertos-fault-injector/internal/ipc"
	"github.com/PeppeRu96/freertos-fault-injector/internal/logging"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

// State is a node of the controller's lifecycle, per spec §4.4.
type State int

const (
	Created State = iota
	Spawned
	CatalogReady
	Attached
	Running
	Exited
	TimedOut
	Killed
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Spawned:
		return "Spawned"
	case CatalogReady:
		return "CatalogReady"
	case Attached:
		return "Attached"
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	case TimedOut:
		return "TimedOut"
	case Killed:
		return "Killed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Controller owns exactly one child process for the duration of a trial
// (spec §3.5).
type Controller struct {
	cmd       *exec.Cmd
	pid       int
	state     State
	handshake *ipc.Handshake
	registry  *typeregistry.Registry
	catalog   *catalog.Catalog
	beginTime time.Time
	endTime   time.Time
	logger    *logging.Logger
}

// Spawn starts simPath as a child process and opens its handshake
// semaphore pair. The child is not yet attached: call Handshake next.
func Spawn(simPath string, args []string, registry *typeregistry.Registry) (*Controller, error) {
	cmd := exec.Command(simPath, args...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("injector: op=SPAWN: %w", err)
	}

	pid := cmd.Process.Pid
	h, err := ipc.Open(pid)
	if err != nil {
		cmd.Process.Kill()
		return nil, fmt.Errorf("injector: op=SPAWN: opening handshake for pid %d: %w", pid, err)
	}

	return &Controller{
		cmd:       cmd,
		pid:       pid,
		state:     Spawned,
		handshake: h,
		registry:  registry,
		logger:    logging.Default().WithChild(pid),
	}, nil
}

// Handshake waits for the child's "catalog ready" signal, reads its
// discovery file, then releases the child's scheduler. It records
// BeginTime as the moment the go-ahead semaphore was posted, per spec
// §4.4.
func (c *Controller) Handshake() error {
	if err := c.waitCatalogReady(); err != nil {
		return err
	}
	c.state = CatalogReady

	if err := c.readCatalog(); err != nil {
		return err
	}
	c.state = Attached

	if err := c.handshake.PostGoAhead(); err != nil {
		return fmt.Errorf("injector: op=HANDSHAKE: posting go-ahead for pid %d: %w", c.pid, err)
	}
	c.beginTime = time.Now()
	c.state = Running
	return nil
}

func (c *Controller) waitCatalogReady() error {
	done := make(chan error, 1)
	go func() { done <- c.handshake.WaitCatalogReady() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("injector: op=HANDSHAKE: waiting for catalog ready on pid %d: %w", c.pid, err)
		}
		return nil
	case <-time.After(constants.HandshakeTimeout):
		return fmt.Errorf("injector: op=HANDSHAKE: pid %d never signaled catalog ready within %s", c.pid, constants.HandshakeTimeout)
	}
}

func (c *Controller) readCatalog() error {
	path := c.catalogPath()
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("injector: op=READ_CATALOG: opening %s: %w", path, err)
	}
	defer f.Close()

	cat, err := catalog.Load(f, c.registry)
	if err != nil {
		return fmt.Errorf("injector: op=READ_CATALOG: %w", err)
	}
	c.catalog = cat
	return nil
}

func (c *Controller) catalogPath() string {
	return filepath.Join(constants.CatalogDir, constants.CatalogFilePrefix+strconv.Itoa(c.pid)+".txt")
}

func (c *Controller) outputPath(pid int) string {
	return outputPath(pid)
}

func outputPath(pid int) string {
	return filepath.Join(constants.OutputDir, constants.OutputFilePrefix+strconv.Itoa(pid)+".txt")
}

// LoadOutput reads a pid's transcript without a live Controller, the
// path a parallel-mode sibling uses to load the golden run's cached
// output (spec §4.7).
func LoadOutput(pid int) ([]string, error) {
	path := outputPath(pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("injector: op=LOAD_OUTPUT: opening %s: %w", path, err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// PID returns the child's process id.
func (c *Controller) PID() int { return c.pid }

// State reports the controller's current lifecycle state.
func (c *Controller) State() State { return c.state }

// Running reports whether the child is still believed to be executing.
func (c *Controller) Running() bool { return c.state == Running }

// NativeExitCode returns the child's OS exit code. Valid only after the
// child has exited; returns -1 otherwise.
func (c *Controller) NativeExitCode() int {
	if c.cmd.ProcessState == nil {
		return -1
	}
	return c.cmd.ProcessState.ExitCode()
}

// WaitFor blocks until the child exits or relTime elapses, whichever
// comes first. It reports true on exit, false on deadline expiry.
func (c *Controller) WaitFor(relTime time.Duration) bool {
	done := make(chan struct{})
	go func() {
		c.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.endTime = time.Now()
		c.state = Exited
		return true
	case <-time.After(relTime):
		c.state = TimedOut
		return false
	}
}

// Terminate force-kills the child. Per spec §4.4, called when WaitFor
// reports a timeout.
func (c *Controller) Terminate() error {
	if c.cmd.Process == nil {
		return nil
	}
	err := c.cmd.Process.Kill()
	c.endTime = time.Now()
	c.state = Killed
	if err != nil {
		return fmt.Errorf("injector: op=TERMINATE: killing pid %d: %w", c.pid, err)
	}
	return nil
}

// SaveOutput loads the child's line-oriented transcript. pidOverride, if
// non-zero, reads another pid's output file instead of this controller's
// own. Parallel-mode siblings load the cached golden transcript through
// LoadOutput, which needs no Controller.
func (c *Controller) SaveOutput(pidOverride int) ([]string, error) {
	pid := c.pid
	if pidOverride != 0 {
		pid = pidOverride
	}
	path := c.outputPath(pid)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("injector: op=SAVE_OUTPUT: opening %s: %w", path, err)
	}
	trimmed := strings.TrimRight(string(data), "\n")
	if trimmed == "" {
		return nil, nil
	}
	return strings.Split(trimmed, "\n"), nil
}

// PrintOutput writes the child's transcript to w verbatim, the
// interactive show_output equivalent of spec §12.
func (c *Controller) PrintOutput(w io.Writer) error {
	lines, err := c.SaveOutput(0)
	if err != nil {
		fmt.Fprintf(w, "Unable to open %s\n", c.outputPath(c.pid))
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(w, line)
	}
	return nil
}

// GetDataStructures returns the catalog discovered during the handshake.
func (c *Controller) GetDataStructures() []catalog.Descriptor {
	if c.catalog == nil {
		return nil
	}
	return c.catalog.All()
}

// GetByID looks up a single catalog entry by id.
func (c *Controller) GetByID(id int) (catalog.Descriptor, bool) {
	if c.catalog == nil {
		return catalog.Descriptor{}, false
	}
	return c.catalog.ByID(id)
}

// GetBeginTime returns the moment the go-ahead semaphore was posted.
func (c *Controller) GetBeginTime() time.Time { return c.beginTime }

// Duration returns the wall time from scheduler start to exit. It is
// only meaningful once the child has exited or been killed.
func (c *Controller) Duration() time.Duration {
	if c.endTime.IsZero() {
		return 0
	}
	return c.endTime.Sub(c.beginTime)
}

// Close releases the OS-level artifacts owned by this controller: the
// semaphore pair and the catalog temp file (spec §4.4/§6.5).
func (c *Controller) Close() error {
	var err error
	if c.handshake != nil {
		if hErr := c.handshake.Close(); hErr != nil {
			err = hErr
		}
	}
	os.Remove(c.catalogPath())
	return err
}
