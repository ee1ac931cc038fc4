package typeregistry

import "encoding/binary"

// ExpansionStep describes where the byte living at a given offset into a
// structure's "exploded" (beyond-fixed-header) region actually lives in the
// child's address space, per spec §4.1.
//
// ReadSize == 0 means "inject directly at Address". A non-zero ReadSize
// means the caller must first read that many bytes from Address before it
// can resolve a concrete injection target (a further pointer hop).
// RequiresDeeperWalk signals a hop this registry does not resolve itself
// (spec §9's "deeper linking" limitation); callers should record this and
// skip injection for the trial rather than guess.
type ExpansionStep struct {
	Address            uintptr
	ReadSize           int
	RequiresDeeperWalk bool
}

// descriptor bundles the three per-type operations spec §4.1 calls for.
// A map[Type]descriptor takes the place of the original C-style switch,
// per spec §9's "idiomatic replacement is a tagged variant with a
// trait-like capability set".
type descriptor struct {
	fixedSize int
	// explodedSize computes the total logical size given a raw snapshot of
	// the fixed header (which may embed counts/pointers driving dynamic
	// content). snapshot is always at least fixedSize bytes.
	explodedSize func(snapshot []byte, fixedSize int) int
	// nextExpansion resolves a byte offset beyond the fixed header.
	nextExpansion func(snapshot []byte, byteInExploded int) ExpansionStep
}

// Queue/Semaphore/CountingSemaphore/QueueSet all share FreeRTOS's
// Queue_t layout: a fixed header plus an optional dynamically-sized
// storage array reached through a head pointer. Binary semaphores have
// itemSize == 0, so the formula below naturally degenerates to "no
// dynamic content" for them without a special case.
const (
	queueHeadPtrOffset  = 0  // pcHead: base of the storage array
	queueLengthOffset   = 64 // uxLength: max number of items
	queueItemSizeOffset = 68 // uxItemSize: bytes per item
)

func queueExplodedSize(snapshot []byte, fixedSize int) int {
	if len(snapshot) < queueItemSizeOffset+4 {
		return fixedSize
	}
	length := binary.LittleEndian.Uint32(snapshot[queueLengthOffset : queueLengthOffset+4])
	itemSize := binary.LittleEndian.Uint32(snapshot[queueItemSizeOffset : queueItemSizeOffset+4])
	return fixedSize + int(length)*int(itemSize)
}

func queueNextExpansion(snapshot []byte, byteInExploded int) ExpansionStep {
	head := uintptr(0)
	if len(snapshot) >= queueHeadPtrOffset+8 {
		head = uintptr(binary.LittleEndian.Uint64(snapshot[queueHeadPtrOffset : queueHeadPtrOffset+8]))
	}
	return ExpansionStep{Address: head + uintptr(byteInExploded), ReadSize: 0}
}

// MessageBuffer/StreamBuffer share FreeRTOS's StreamBuffer_t layout: a
// fixed header plus a ring buffer reached through a data pointer.
const (
	streamBufPtrOffset    = 0  // pucBuffer: base of the ring buffer
	streamBufLengthOffset = 32 // xLength: ring buffer capacity in bytes
)

func streamExplodedSize(snapshot []byte, fixedSize int) int {
	if len(snapshot) < streamBufLengthOffset+4 {
		return fixedSize
	}
	length := binary.LittleEndian.Uint32(snapshot[streamBufLengthOffset : streamBufLengthOffset+4])
	return fixedSize + int(length)
}

func streamNextExpansion(snapshot []byte, byteInExploded int) ExpansionStep {
	base := uintptr(0)
	if len(snapshot) >= streamBufPtrOffset+8 {
		base = uintptr(binary.LittleEndian.Uint64(snapshot[streamBufPtrOffset : streamBufPtrOffset+8]))
	}
	return ExpansionStep{Address: base + uintptr(byteInExploded), ReadSize: 0}
}

// List_t's dynamic content is a chain of ListItem_t nodes reached by
// following pxNext pointers one node at a time — a genuine multi-hop walk
// that this registry declares but does not perform, per spec §9.
const (
	listNumItemsOffset = 0  // uxNumberOfItems
	listItemSize       = 28 // sizeof(ListItem_t) in the simulator build
)

// listExplodedSize is the sum of the list's node payloads alone: unlike
// the Queue-kin formula, a List_t's fixed header carries no storage of
// its own, so an empty list explodes to 0, not fixedSize (spec §4.5's
// "explodedSize == 0 ⇒ abort, report Masked" edge case).
func listExplodedSize(snapshot []byte, _ int) int {
	if len(snapshot) < listNumItemsOffset+4 {
		return 0
	}
	count := binary.LittleEndian.Uint32(snapshot[listNumItemsOffset : listNumItemsOffset+4])
	return int(count) * listItemSize
}

func listNextExpansion(_ []byte, _ int) ExpansionStep {
	return ExpansionStep{RequiresDeeperWalk: true}
}

func noDynamicContent(_ []byte, fixedSize int) int { return fixedSize }

func noExpansion(_ []byte, byteInExploded int) ExpansionStep {
	// Types with no dynamic content never have a byte beyond fixedSize to
	// expand; callers should not reach this, but resolve to a no-op hop
	// rather than panic on a malformed catalog entry.
	return ExpansionStep{Address: uintptr(byteInExploded), ReadSize: 0}
}

// Registry is the dispatch table described in spec §4.1/§9.
type Registry struct {
	descriptors map[Type]descriptor
}

// NewRegistry builds the fixed registry of known FreeRTOS kernel object
// types. Fixed sizes approximate the simulator build's struct layouts
// (TCB_t, Queue_t, TimerHandle_t, List_t, ...); they are internally
// consistent rather than tied to a specific compiler's padding, which is
// sufficient for byte/bit-level fault injection.
func NewRegistry() *Registry {
	return &Registry{descriptors: map[Type]descriptor{
		Task:              {fixedSize: 88, explodedSize: noDynamicContent, nextExpansion: noExpansion},
		Queue:             {fixedSize: 80, explodedSize: queueExplodedSize, nextExpansion: queueNextExpansion},
		Timer:             {fixedSize: 56, explodedSize: noDynamicContent, nextExpansion: noExpansion},
		Semaphore:         {fixedSize: 80, explodedSize: queueExplodedSize, nextExpansion: queueNextExpansion},
		CountingSemaphore: {fixedSize: 80, explodedSize: queueExplodedSize, nextExpansion: queueNextExpansion},
		EventGroup:        {fixedSize: 40, explodedSize: noDynamicContent, nextExpansion: noExpansion},
		MessageBuffer:     {fixedSize: 64, explodedSize: streamExplodedSize, nextExpansion: streamNextExpansion},
		StreamBuffer:      {fixedSize: 64, explodedSize: streamExplodedSize, nextExpansion: streamNextExpansion},
		QueueSet:          {fixedSize: 80, explodedSize: queueExplodedSize, nextExpansion: queueNextExpansion},
		StaticStack:       {fixedSize: 32, explodedSize: noDynamicContent, nextExpansion: noExpansion},
		List:              {fixedSize: 20, explodedSize: listExplodedSize, nextExpansion: listNextExpansion},
	}}
}

// FixedSize returns the compile-time-constant header size for t.
func (r *Registry) FixedSize(t Type) (int, error) {
	d, ok := r.descriptors[t]
	if !ok {
		return 0, errUnknownType(t)
	}
	return d.fixedSize, nil
}

// ExplodedSize returns the total logical size (fixed header plus any
// dynamically-chained content) given a snapshot of the fixed header.
func (r *Registry) ExplodedSize(t Type, snapshot []byte) (int, error) {
	d, ok := r.descriptors[t]
	if !ok {
		return 0, errUnknownType(t)
	}
	return d.explodedSize(snapshot, d.fixedSize), nil
}

// NextExpansion resolves a byte offset that lies beyond t's fixed header.
func (r *Registry) NextExpansion(t Type, snapshot []byte, byteInExploded int) (ExpansionStep, error) {
	d, ok := r.descriptors[t]
	if !ok {
		return ExpansionStep{}, errUnknownType(t)
	}
	return d.nextExpansion(snapshot, byteInExploded), nil
}

// MaxFixedSize returns the largest fixed size across all known types.
// The package tests use it to check that every fixed header fits under
// constants.MaxSnapshotSize; the snapshot scratch buffer itself is sized
// from that constant, not from this value.
func (r *Registry) MaxFixedSize() int {
	max := 0
	for _, d := range r.descriptors {
		if d.fixedSize > max {
			max = d.fixedSize
		}
	}
	return max
}

type errUnknownType Type

func (e errUnknownType) Error() string {
	return "typeregistry: unknown type " + Type(e).String()
}
