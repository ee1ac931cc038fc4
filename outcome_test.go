package injector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyMasked(t *testing.T) {
	golden := []string{"A", "B", "C"}
	trial := []string{"A", "B", "C"}
	got := Classify(golden, trial, "")
	assert.Equal(t, Masked, got.Verdict)
}

func TestClassifySDCWithPatternMatch(t *testing.T) {
	golden := []string{"OK", "OK"}
	trial := []string{"OK", "ERROR: assert failed"}
	got := Classify(golden, trial, "assert")
	assert.Equal(t, SDC, got.Verdict)
	assert.Equal(t, "ERROR: assert failed", got.MatchedLine)
}

func TestClassifyDelay(t *testing.T) {
	golden := []string{"L1", "L2", "L3", "L4"}
	trial := []string{"L1", "L3", "L2", "L4"}
	got := Classify(golden, trial, "")
	assert.Equal(t, Delay, got.Verdict)
	assert.Equal(t, 1, got.DelayOps)
	assert.Equal(t, "L3", got.DelayedLine)
}

func TestClassifySDCViaLengthDifference(t *testing.T) {
	golden := make([]string, 10)
	trial := make([]string, 9)
	for i := range golden {
		golden[i] = "line"
	}
	for i := range trial {
		trial[i] = "line"
	}
	got := Classify(golden, trial, "")
	assert.Equal(t, SDC, got.Verdict)
}

func TestClassifyMonotonicityIdenticalTranscripts(t *testing.T) {
	a := []string{"x", "y", "z"}
	got := Classify(a, a, "anything")
	assert.Equal(t, Masked, got.Verdict)
}

func TestClassifyTrueDivergenceWithoutPattern(t *testing.T) {
	golden := []string{"A", "B"}
	trial := []string{"A", "X"}
	got := Classify(golden, trial, "")
	assert.Equal(t, SDC, got.Verdict)
	assert.Empty(t, got.MatchedLine, "MatchedLine should be empty when no pattern supplied")
}

func TestClassifyPatternIsCaseInsensitive(t *testing.T) {
	golden := []string{"OK"}
	trial := []string{"Error: ASSERT failed"}
	got := Classify(golden, trial, "assert")
	assert.Equal(t, SDC, got.Verdict)
	assert.NotEmpty(t, got.MatchedLine)
}

func TestVerdictString(t *testing.T) {
	cases := map[Verdict]string{Masked: "Masked", SDC: "SDC", Delay: "Delay", Hang: "Hang", Crash: "Crash"}
	for v, want := range cases {
		assert.Equal(t, want, v.String())
	}
}
