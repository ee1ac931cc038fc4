package injector

import (
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/PeppeRu96/freertos-fault-injector/internal/catalog"
	"github.com/PeppeRu96/freertos-fault-injector/internal/constants"
	"github.com/PeppeRu96/freertos-fault-injector/internal/memio"
	"github.com/PeppeRu96/freertos-fault-injector/internal/typeregistry"
)

// snapshotPool recycles the scratch buffers Inject reads a structure's
// fixed header into. Every type's fixed size fits under
// constants.MaxSnapshotSize, so one size-class is enough here, unlike
// the teacher's size-bucketed queue.BufferPool.
var snapshotPool = sync.Pool{
	New: func() any {
		b := make([]byte, constants.MaxSnapshotSize)
		return &b
	},
}

func getSnapshotBuffer(size int) []byte {
	buf := *(snapshotPool.Get().(*[]byte))
	return buf[:size]
}

func putSnapshotBuffer(buf []byte) {
	buf = buf[:cap(buf)]
	snapshotPool.Put(&buf)
}

// ChildMemory is the cross-process memory primitive (C2), abstracted so
// the injection unit can be driven against a real child (internal/memio)
// or a mock in tests. Spec §9 calls for exactly this abstraction: one
// backend is selected at build time, hidden behind two methods.
type ChildMemory interface {
	ReadByte(pid int, addr uintptr) (byte, error)
	WriteByte(pid int, addr uintptr, v byte) error
}

// systemMemory adapts internal/memio to the ChildMemory interface.
type systemMemory struct{}

func (systemMemory) ReadByte(pid int, addr uintptr) (byte, error)  { return memio.ReadByte(pid, addr) }
func (systemMemory) WriteByte(pid int, addr uintptr, v byte) error { return memio.WriteByte(pid, addr, v) }

// SystemMemory is the production ChildMemory backend.
var SystemMemory ChildMemory = systemMemory{}

// InjectionRecord is the mutable per-trial record of spec §3.3.
type InjectionRecord struct {
	MaxDelayMs       int
	ScheduledDelayMs int
	TargetBitIndex   int
	TargetByteIndex  int
	InjectedAddress  uintptr
	ByteBefore       byte
	ByteAfter        byte
	ExplodedSize     int
	Skipped          bool // true when the child had already exited, explodedSize == 0, or a deeper walk was required
}

// Stats renders the record the way the original implementation's
// print_stats did, for human-readable per-trial logs.
func (r InjectionRecord) Stats() string {
	return fmt.Sprintf(
		"Injection stats:\nPerformed after %d ms from the FreeRTOS simulator scheduler start\nTarget byte: %d\nTarget bit: %d\nByte value as unsigned integer before injection: %d\nByte value as unsigned integer after injection: %d",
		r.ScheduledDelayMs, r.TargetByteIndex, r.TargetBitIndex, r.ByteBefore, r.ByteAfter,
	)
}

// Injection is the injection unit (C5): it borrows a controller and one
// catalog entry for the duration of a single trial (spec §3.5).
type Injection struct {
	mem        ChildMemory
	registry   *typeregistry.Registry
	descriptor catalog.Descriptor
	pid        int
	maxTimeMs  int
	rng        *rand.Rand

	scheduledDelayMs int
	targetBitIndex   int
}

// NewInjection builds an injection unit targeting descriptor inside pid,
// scheduled at a random offset uniform on [0, maxTimeMs) and a random
// target bit uniform on [0, 8).
func NewInjection(mem ChildMemory, registry *typeregistry.Registry, pid int, descriptor catalog.Descriptor, maxTimeMs int, rng *rand.Rand) *Injection {
	return &Injection{
		mem:              mem,
		registry:         registry,
		descriptor:       descriptor,
		pid:              pid,
		maxTimeMs:        maxTimeMs,
		rng:              rng,
		scheduledDelayMs: rng.Intn(maxTimeMs),
		targetBitIndex:   rng.Intn(8),
	}
}

// Inject runs the algorithm of spec §4.5: sleep until the scheduled
// offset from beginTime, read the target structure's fixed header,
// compute its current exploded size, draw a target byte, flip one bit,
// and write it back. stillRunning reports whether the child is still
// alive right before injection; when it returns false, Inject is a
// no-op and the trial records Masked by convention.
func (u *Injection) Inject(beginTime time.Time, stillRunning func() bool) (InjectionRecord, error) {
	rec := InjectionRecord{
		MaxDelayMs:       u.maxTimeMs,
		ScheduledDelayMs: u.scheduledDelayMs,
		TargetBitIndex:   u.targetBitIndex,
	}

	if err := u.sleepUntilScheduled(beginTime); err != nil {
		return rec, err
	}

	if !stillRunning() {
		rec.Skipped = true
		return rec, nil
	}

	snapshot := getSnapshotBuffer(u.descriptor.FixedSize)
	defer putSnapshotBuffer(snapshot)
	for i := range snapshot {
		b, err := u.mem.ReadByte(u.pid, u.descriptor.Address+uintptr(i))
		if err != nil {
			return rec, NewTrialError("READ_HEADER", u.descriptor.ID, 0, ErrCodeMemAccess, err.Error())
		}
		snapshot[i] = b
	}

	explodedSize, err := u.registry.ExplodedSize(u.descriptor.Type, snapshot)
	if err != nil {
		return rec, WrapError("EXPLODED_SIZE", err)
	}
	rec.ExplodedSize = explodedSize

	if explodedSize == 0 {
		// Empty dynamic structure (e.g. an empty list): nothing to flip.
		rec.Skipped = true
		return rec, nil
	}

	targetByteIndex := u.rng.Intn(explodedSize)
	rec.TargetByteIndex = targetByteIndex

	var injectedAddr uintptr
	var byteBefore byte

	if targetByteIndex < u.descriptor.FixedSize {
		injectedAddr = u.descriptor.Address + uintptr(targetByteIndex)
		byteBefore = snapshot[targetByteIndex]
	} else {
		offset := targetByteIndex - u.descriptor.FixedSize
		step, err := u.registry.NextExpansion(u.descriptor.Type, snapshot, offset)
		if err != nil {
			return rec, WrapError("NEXT_EXPANSION", err)
		}
		if step.RequiresDeeperWalk {
			// Current limitation (spec §9): a multi-hop pointer chase is
			// required but not implemented. Record without injecting.
			rec.Skipped = true
			return rec, nil
		}
		injectedAddr = step.Address
		b, err := u.mem.ReadByte(u.pid, injectedAddr)
		if err != nil {
			return rec, NewTrialError("READ_TARGET", u.descriptor.ID, 0, ErrCodeMemAccess, err.Error())
		}
		byteBefore = b
	}

	byteAfter := byteBefore ^ (1 << uint(u.targetBitIndex))

	if err := u.mem.WriteByte(u.pid, injectedAddr, byteAfter); err != nil {
		return rec, NewTrialError("WRITE_TARGET", u.descriptor.ID, 0, ErrCodeMemAccess, err.Error())
	}

	rec.InjectedAddress = injectedAddr
	rec.ByteBefore = byteBefore
	rec.ByteAfter = byteAfter
	return rec, nil
}

func (u *Injection) sleepUntilScheduled(beginTime time.Time) error {
	elapsed := time.Since(beginTime)
	target := time.Duration(u.scheduledDelayMs) * time.Millisecond
	if remaining := target - elapsed; remaining > 0 {
		time.Sleep(remaining)
	}
	return nil
}
