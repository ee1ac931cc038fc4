package injector

import (
	"fmt"
	"strings"
	"testing"

	"github.com/PeppeRu96/freertos-fault-injector/internal/catalog"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

// fakeTrialRunner drives Campaign.RunSequential without any child
// process or IPC machinery, letting the test script an exact outcome
// sequence and an optional failure at a given trial index.
type fakeTrialRunner struct {
	outcomes []Verdict
	failAt   int // -1 means never fail
	calls    []int
}

func (f *fakeTrialRunner) RunTrial(trialIndex int) (TrialResult, error) {
	f.calls = append(f.calls, trialIndex)
	if f.failAt >= 0 && trialIndex == f.failAt {
		return TrialResult{}, NewError("RUN_TRIAL", ErrCodeIOError, "injected test failure")
	}
	v := f.outcomes[trialIndex%len(f.outcomes)]
	return TrialResult{
		TrialIndex: trialIndex,
		Descriptor: catalog.Descriptor{ID: 0, Name: "Task1", Type: typeregistry.Task, FixedSize: 64},
		Outcome:    Outcome{Verdict: v},
	}, nil
}

func TestCampaignRunSequentialCollectsAllTrials(t *testing.T) {
	runner := &fakeTrialRunner{outcomes: []Verdict{Masked, SDC, Hang}, failAt: -1}
	campaign := &Campaign{Config: CampaignConfig{InjectN: 5}, Runner: runner}

	results, err := campaign.RunSequential()
	if err != nil {
		t.Fatalf("RunSequential: %v", err)
	}
	if len(results) != 5 {
		t.Fatalf("got %d results, want 5", len(results))
	}
	for i, r := range results {
		if r.TrialIndex != i {
			t.Errorf("result[%d].TrialIndex = %d, want %d", i, r.TrialIndex, i)
		}
	}
	if len(runner.calls) != 5 {
		t.Errorf("runner called %d times, want 5", len(runner.calls))
	}
}

func TestCampaignRunSequentialAbortsOnFatalError(t *testing.T) {
	runner := &fakeTrialRunner{outcomes: []Verdict{Masked}, failAt: 2}
	campaign := &Campaign{Config: CampaignConfig{InjectN: 5}, Runner: runner}

	results, err := campaign.RunSequential()
	if err == nil {
		t.Fatal("expected an error when a trial fails fatally")
	}
	if len(results) != 2 {
		t.Fatalf("got %d results before the failure, want 2", len(results))
	}
	if len(runner.calls) != 3 {
		t.Errorf("runner called %d times, want 3 (stops after the failing trial)", len(runner.calls))
	}
}

func TestCampaignConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  CampaignConfig
		ok   bool
	}{
		{"valid", CampaignConfig{InjectN: 1, MaxTimeMs: 100}, true},
		{"zero injectN", CampaignConfig{InjectN: 0, MaxTimeMs: 100}, false},
		{"negative injectN", CampaignConfig{InjectN: -1, MaxTimeMs: 100}, false},
		{"zero maxTimeMs", CampaignConfig{InjectN: 1, MaxTimeMs: 0}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			err := c.cfg.Validate()
			if c.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !c.ok && err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestDefaultCampaignConfigIsValid(t *testing.T) {
	if err := DefaultCampaignConfig().Validate(); err != nil {
		t.Errorf("DefaultCampaignConfig() failed Validate: %v", err)
	}
}

func TestTrialResultLogLineIncludesVerdict(t *testing.T) {
	r := TrialResult{
		TrialIndex: 3,
		Descriptor: catalog.Descriptor{ID: 7, Name: "Queue1", FixedSize: 32},
		Record:     InjectionRecord{ScheduledDelayMs: 50, TargetByteIndex: 5, TargetBitIndex: 1, ByteBefore: 1, ByteAfter: 3, ExplodedSize: 32},
		Outcome:    Outcome{Verdict: SDC, MatchedLine: "stack overflow detected"},
	}
	line := r.LogLine()
	want := fmt.Sprintf("trial=%d", r.TrialIndex)
	if !strings.Contains(line, want) || !strings.Contains(line, "outcome=SDC") || !strings.Contains(line, "matched=") {
		t.Errorf("LogLine() = %q, missing expected fields", line)
	}
}

func TestTrialResultLogLineOmitsMatchedWhenNoPatternHit(t *testing.T) {
	r := TrialResult{
		Descriptor: catalog.Descriptor{ID: 0, Name: "Task1"},
		Outcome:    Outcome{Verdict: SDC},
	}
	line := r.LogLine()
	if strings.Contains(line, "matched=") {
		t.Errorf("LogLine() = %q, should not include matched= when MatchedLine is empty", line)
	}
}

func TestTrialResultLogLineIncludesDelayFields(t *testing.T) {
	r := TrialResult{
		Descriptor: catalog.Descriptor{ID: 0, Name: "Task1"},
		Outcome:    Outcome{Verdict: Delay, DelayOps: 2, DelayedLine: "task resumed"},
	}
	line := r.LogLine()
	if !strings.Contains(line, "delay_ops=2") || !strings.Contains(line, "delayed_line=") {
		t.Errorf("LogLine() = %q, missing delay fields", line)
	}
}

func TestParallelTrialSpecArgsOrder(t *testing.T) {
	spec := ParallelTrialSpec{GoldenPID: 100, GoldenDurationMs: 2500, RandSeed: 99, StructID: 3, MaxTimeMs: 1000, ErrorPattern: "panic"}
	args := spec.Args(4)
	want := []string{"100", "2500", "103", "3", "4", "1000", "panic"}
	if len(args) != len(want) {
		t.Fatalf("Args() = %v, want %v", args, want)
	}
	for i := range want {
		if args[i] != want[i] {
			t.Errorf("Args()[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestParallelTrialSpecArgsOmitsEmptyPattern(t *testing.T) {
	spec := ParallelTrialSpec{GoldenPID: 1, GoldenDurationMs: 1, RandSeed: 1, StructID: 0, MaxTimeMs: 1}
	args := spec.Args(0)
	if len(args) != 6 {
		t.Fatalf("Args() = %v, want 6 elements with no error pattern", args)
	}
}
