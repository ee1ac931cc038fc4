package injector

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PeppeRu96/freertos-fault-injector/internal/catalog"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

func TestInjectFlipsExactlyOneBitInFixedHeader(t *testing.T) {
	mem := NewMockChildMemory()
	const pid = 4242
	const base = uintptr(0x1000)
	registry := typeregistry.NewRegistry()

	fixed, _ := registry.FixedSize(typeregistry.Task)
	header := make([]byte, fixed)
	mem.Seed(pid, base, header)

	desc := catalog.Descriptor{ID: 0, Name: "Task1", Type: typeregistry.Task, Address: base, FixedSize: fixed}
	rng := rand.New(rand.NewSource(1))
	unit := NewInjection(mem, registry, pid, desc, 1, rng)

	begin := time.Now()
	rec, err := unit.Inject(begin, func() bool { return true })
	require.NoError(t, err)
	require.False(t, rec.Skipped, "Task has no dynamic content; injection should not be skipped")
	assert.Equal(t, rec.ByteBefore^(1<<uint(rec.TargetBitIndex)), rec.ByteAfter)
	assert.Equal(t, rec.ByteAfter, mem.At(pid, rec.InjectedAddress))
}

func TestInjectFixedHeaderAddressComputation(t *testing.T) {
	mem := NewMockChildMemory()
	const pid = 1
	const base = uintptr(0x2000)
	registry := typeregistry.NewRegistry()
	fixed, _ := registry.FixedSize(typeregistry.EventGroup)
	mem.Seed(pid, base, make([]byte, fixed))

	desc := catalog.Descriptor{ID: 1, Name: "Evt", Type: typeregistry.EventGroup, Address: base, FixedSize: fixed}
	rng := rand.New(rand.NewSource(42))
	unit := NewInjection(mem, registry, pid, desc, 1, rng)

	rec, err := unit.Inject(time.Now(), func() bool { return true })
	require.NoError(t, err)
	require.Less(t, rec.TargetByteIndex, fixed, "EventGroup has no dynamic content; targetByteIndex should stay within fixedSize")
	want := base + uintptr(rec.TargetByteIndex)
	assert.Equal(t, want, rec.InjectedAddress)
}

func TestInjectSkipsWhenChildAlreadyExited(t *testing.T) {
	mem := NewMockChildMemory()
	registry := typeregistry.NewRegistry()
	fixed, _ := registry.FixedSize(typeregistry.Timer)
	desc := catalog.Descriptor{ID: 2, Name: "Timer1", Type: typeregistry.Timer, Address: 0x3000, FixedSize: fixed}
	rng := rand.New(rand.NewSource(7))
	unit := NewInjection(mem, registry, 1, desc, 1, rng)

	rec, err := unit.Inject(time.Now(), func() bool { return false })
	require.NoError(t, err)
	assert.True(t, rec.Skipped, "Inject should skip when the child is no longer running")
	reads, writes := mem.CallCounts()
	assert.Equal(t, 0, reads, "no memory reads expected when skipped")
	assert.Equal(t, 0, writes, "no memory writes expected when skipped")
}

func TestInjectReportsMemAccessFailureAsError(t *testing.T) {
	mem := NewMockChildMemory()
	mem.FailReads(true)
	registry := typeregistry.NewRegistry()
	fixed, _ := registry.FixedSize(typeregistry.Task)
	desc := catalog.Descriptor{ID: 0, Name: "Task1", Type: typeregistry.Task, Address: 0x4000, FixedSize: fixed}
	rng := rand.New(rand.NewSource(3))
	unit := NewInjection(mem, registry, 1, desc, 1, rng)

	_, err := unit.Inject(time.Now(), func() bool { return true })
	require.Error(t, err, "expected an error when the memory backend fails reads")
	assert.True(t, IsCode(err, ErrCodeMemAccess), "expected ErrCodeMemAccess, got %v", err)
}

func TestInjectionStatsFormatsPrintableSummary(t *testing.T) {
	rec := InjectionRecord{ScheduledDelayMs: 12, TargetByteIndex: 4, TargetBitIndex: 2, ByteBefore: 0x0F, ByteAfter: 0x0B}
	s := rec.Stats()
	assert.NotEmpty(t, s)
}
