package injector

import (
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/PeppeRu96/freertos-fault-injector/internal/catalog"
	"github.com/PeppeRu96/freertos-fault-injector/internal/child"
	"github.com/PeppeRu96/freertos-fault-injector/internal/constants"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

// CampaignConfig is the configuration surface of the campaign runner
// (C7), per spec §4.7.
type CampaignConfig struct {
	StructID     int    // selected id from the golden run's catalog
	InjectN      int    // number of trials, positive
	MaxTimeMs    int    // upper bound of the scheduled injection delay
	Parallelize  bool
	ErrorPattern string // substring, possibly empty
}

// DefaultCampaignConfig returns a conservative single-trial sequential
// configuration, useful as a starting point before interactive prompts
// or sibling-mode argv override individual fields.
func DefaultCampaignConfig() CampaignConfig {
	return CampaignConfig{StructID: 0, InjectN: 1, MaxTimeMs: 1000, Parallelize: false}
}

// Validate checks the invariants spec §4.7 requires before a campaign
// runs: InjectN and MaxTimeMs must be positive.
func (c CampaignConfig) Validate() error {
	if c.InjectN <= 0 {
		return NewError("VALIDATE_CONFIG", ErrCodeInvalidArgs, "injectN must be positive")
	}
	if c.MaxTimeMs <= 0 {
		return NewError("VALIDATE_CONFIG", ErrCodeInvalidArgs, "maxTimeMs must be positive")
	}
	return nil
}

// TrialResult is everything one trial's log line needs: the target, the
// injection record, and the classified outcome.
type TrialResult struct {
	TrialIndex int
	Descriptor catalog.Descriptor
	Record     InjectionRecord
	Outcome    Outcome
}

// LogLine renders one line of the campaign log, per spec §4.7 ("target
// descriptor, fixed size, exploded size, target byte/bit, before/after
// byte value, delay-from-start, outcome, and any error-pattern match").
func (r TrialResult) LogLine() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "trial=%d struct=%d(%s) fixed=%d exploded=%d byte=%d bit=%d before=%d after=%d delay_ms=%d outcome=%s",
		r.TrialIndex, r.Descriptor.ID, r.Descriptor.Name, r.Descriptor.FixedSize, r.Record.ExplodedSize,
		r.Record.TargetByteIndex, r.Record.TargetBitIndex, r.Record.ByteBefore, r.Record.ByteAfter,
		r.Record.ScheduledDelayMs, r.Outcome.Verdict)

	switch r.Outcome.Verdict {
	case SDC:
		if r.Outcome.MatchedLine != "" {
			fmt.Fprintf(&sb, " matched=%q", r.Outcome.MatchedLine)
		}
	case Delay:
		fmt.Fprintf(&sb, " delay_ops=%d delayed_line=%q", r.Outcome.DelayOps, r.Outcome.DelayedLine)
	case Crash:
		fmt.Fprintf(&sb, " exit_code=%d", r.Outcome.ExitCode)
	}
	return sb.String()
}

// TrialRunner executes one trial and returns its classified result.
// Sequential mode drives LiveTrialRunner in-process; parallel mode
// bypasses this interface entirely (each sibling is its own process).
type TrialRunner interface {
	RunTrial(trialIndex int) (TrialResult, error)
}

// LiveTrialRunner is the production TrialRunner: it spawns a fresh child
// per trial, attaches an injection unit, and classifies the result
// against a previously captured golden transcript.
type LiveTrialRunner struct {
	SimPath        string
	Registry       *typeregistry.Registry
	Memory         ChildMemory
	StructID       int
	MaxTimeMs      int
	ErrorPattern   string
	GoldenOutput   []string
	GoldenDuration time.Duration
	Rand           *rand.Rand
}

// RunTrial implements spec §4.7's sequential-mode trial body: spawn,
// handshake, inject concurrently with a bounded wait, classify.
func (r *LiveTrialRunner) RunTrial(trialIndex int) (TrialResult, error) {
	ctrl, err := child.Spawn(r.SimPath, nil, r.Registry)
	if err != nil {
		return TrialResult{}, WrapError("SPAWN", err)
	}
	defer ctrl.Close()

	if err := ctrl.Handshake(); err != nil {
		return TrialResult{}, WrapError("HANDSHAKE", err)
	}

	desc, ok := ctrl.GetByID(r.StructID)
	if !ok {
		return TrialResult{}, NewError("VALIDATE_STRUCT_ID", ErrCodeInvalidArgs,
			fmt.Sprintf("struct id %d not present in this child's catalog", r.StructID))
	}

	trialRand := rand.New(rand.NewSource(r.Rand.Int63()))
	unit := NewInjection(r.Memory, r.Registry, ctrl.PID(), desc, r.MaxTimeMs, trialRand)

	type injOutcome struct {
		rec InjectionRecord
		err error
	}
	injCh := make(chan injOutcome, 1)
	go func() {
		rec, err := unit.Inject(ctrl.GetBeginTime(), ctrl.Running)
		injCh <- injOutcome{rec, err}
	}()

	deadline := time.Duration(constants.DeadlockTimeFactor) * r.GoldenDuration
	exited := ctrl.WaitFor(deadline)
	inj := <-injCh

	result := TrialResult{TrialIndex: trialIndex, Descriptor: desc, Record: inj.rec}

	if !exited {
		ctrl.Terminate()
		result.Outcome = Outcome{Verdict: Hang}
		return result, nil
	}

	if inj.err != nil {
		result.Outcome = Outcome{Verdict: Crash, ExitCode: ctrl.NativeExitCode()}
		return result, nil
	}

	if code := ctrl.NativeExitCode(); code != 0 {
		result.Outcome = Outcome{Verdict: Crash, ExitCode: code}
		return result, nil
	}

	trialOutput, err := ctrl.SaveOutput(0)
	if err != nil {
		return result, WrapError("SAVE_OUTPUT", err)
	}
	result.Outcome = Classify(r.GoldenOutput, trialOutput, r.ErrorPattern)
	return result, nil
}

// Campaign drives InjectN trials, either sequentially in-process via a
// TrialRunner or fanned out to sibling processes (spec §4.7).
type Campaign struct {
	Config CampaignConfig
	Runner TrialRunner
}

// RunSequential loops InjectN times, collecting one TrialResult per
// iteration. A fatal error from the runner (e.g. the simulator binary
// can't be spawned) aborts the remaining trials.
func (c *Campaign) RunSequential() ([]TrialResult, error) {
	results := make([]TrialResult, 0, c.Config.InjectN)
	for i := 0; i < c.Config.InjectN; i++ {
		res, err := c.Runner.RunTrial(i)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

// GoldenRun is the outcome of spawning the uninjected reference
// execution: its pid (siblings key their cached output off it), its
// line-oriented transcript, and its wall-clock duration.
type GoldenRun struct {
	PID      int
	Output   []string
	Duration time.Duration
}

// RunGolden spawns simPath without attaching an injection unit, waits
// for it to complete, and captures its transcript and duration.
func RunGolden(simPath string, registry *typeregistry.Registry) (GoldenRun, error) {
	ctrl, err := child.Spawn(simPath, nil, registry)
	if err != nil {
		return GoldenRun{}, WrapError("SPAWN_GOLDEN", err)
	}
	defer ctrl.Close()

	if err := ctrl.Handshake(); err != nil {
		return GoldenRun{}, WrapError("HANDSHAKE_GOLDEN", err)
	}

	if !ctrl.WaitFor(constants.GoldenRunTimeout) {
		ctrl.Terminate()
		return GoldenRun{}, NewError("WAIT_GOLDEN", ErrCodeTimeout, "golden run did not exit within GoldenRunTimeout")
	}

	output, err := ctrl.SaveOutput(0)
	if err != nil {
		return GoldenRun{}, WrapError("SAVE_GOLDEN_OUTPUT", err)
	}

	return GoldenRun{PID: ctrl.PID(), Output: output, Duration: ctrl.Duration()}, nil
}

// LoadGoldenOutput reads a previously captured golden transcript by pid,
// the path a parallel-mode sibling uses instead of re-running the golden
// execution (spec §4.7/§9 "parallel mode duration inheritance").
func LoadGoldenOutput(goldenPID int) ([]string, error) {
	lines, err := child.LoadOutput(goldenPID)
	if err != nil {
		return nil, WrapError("LOAD_GOLDEN_OUTPUT", err)
	}
	return lines, nil
}

// ParallelTrialSpec is the argument vector a parallel-mode sibling
// receives, per spec §4.7/§6.4.
type ParallelTrialSpec struct {
	GoldenPID        int
	GoldenDurationMs int64
	RandSeed         int64
	StructID         int
	MaxTimeMs        int
	ErrorPattern     string
}

// Args renders spec's sibling argument order:
// goldenPid goldenDurationMs randSeed structId trialIndex maxTimeMs [errorPattern].
func (s ParallelTrialSpec) Args(trialIndex int) []string {
	args := []string{
		strconv.Itoa(s.GoldenPID),
		strconv.FormatInt(s.GoldenDurationMs, 10),
		strconv.FormatInt(s.RandSeed+int64(trialIndex), 10),
		strconv.Itoa(s.StructID),
		strconv.Itoa(trialIndex),
		strconv.Itoa(s.MaxTimeMs),
	}
	if s.ErrorPattern != "" {
		args = append(args, s.ErrorPattern)
	}
	return args
}

// RunParallel spawns InjectN siblings of selfPath, each running one
// trial, then rejoins their per-pid log fragments into masterLog in
// spawn order (not completion order), deleting each fragment once
// merged (spec §4.7, §5 "Ordering guarantees").
func (c *Campaign) RunParallel(selfPath string, spec ParallelTrialSpec, masterLog *os.File) error {
	if err := os.MkdirAll(constants.LogDir, 0o755); err != nil {
		return WrapError("RUN_PARALLEL", err)
	}

	type sibling struct {
		cmd *exec.Cmd
		pid int
	}
	siblings := make([]sibling, 0, c.Config.InjectN)

	for i := 0; i < c.Config.InjectN; i++ {
		cmd := exec.Command(selfPath, spec.Args(i)...)
		if err := cmd.Start(); err != nil {
			return NewError("SPAWN_SIBLING", ErrCodeSpawnFailed, err.Error())
		}
		siblings = append(siblings, sibling{cmd: cmd, pid: cmd.Process.Pid})
	}

	for _, s := range siblings {
		waitErr := s.cmd.Wait()
		fragPath := filepath.Join(constants.LogDir, fmt.Sprintf("log_%d.log", s.pid))
		data, readErr := os.ReadFile(fragPath)
		if readErr != nil {
			fmt.Fprintf(masterLog, "# sibling pid=%d produced no log fragment (wait error: %v)\n", s.pid, waitErr)
			continue
		}
		masterLog.Write(data)
		os.Remove(fragPath)
	}
	return nil
}
