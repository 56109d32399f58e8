// Package ring implements the single-producer/single-consumer handoff
// between the trading thread and the persistence worker: a bounded
// queue of fixed-size record slots with two monotonic cursors guarded
// by acquire/release atomics, plus the durable high-water mark that
// the I/O Engine advances on completion.
package ring

import (
	"github.com/Loga-Shanmugam/picolog/internal/arch"
	"github.com/Loga-Shanmugam/picolog/internal/record"
)

// slot holds one record's payload and its assigned sequence number.
// No separate "ready" bit is needed: the consumer only reads a slot
// after observing the producer's release-store of head, and the
// producer only reuses a slot after observing the consumer's
// release-store of tail.
type slot[T any] struct {
	seq     uint64
	payload T
}

// Ring is a bounded SPSC queue of capacity C (a power of two). Only one
// goroutine may ever call TryPush; only one goroutine (possibly a
// different one) may ever call TryPop. Mixing callers across either
// role is undefined behavior by design — see spec.md's SPSC discipline
// note: enforcing it is the caller's responsibility, not the Ring's.
type Ring[T any] struct {
	mask uint64
	buf  []slot[T]

	// head is the next slot index the producer will write. Producer
	// owns read-modify-write; consumer only ever reads it (acquire).
	head arch.AtomicUint
	// tail is the next slot index the consumer will read. Consumer
	// owns read-modify-write; producer only ever reads it (acquire).
	tail arch.AtomicUint
	// durableSeq is the highest sequence number known to be physically
	// on the device. Written by the I/O Engine (release), read by the
	// producer or any client (acquire). Hosted on the Ring because it
	// is logically shared state between producer and consumer, same as
	// head and tail.
	durableSeq arch.AtomicUint
}

// New constructs a Ring with the given capacity, which must be a power
// of two so that slot indexing can use index & (capacity-1) instead of
// a modulo. A non-power-of-two capacity is a construction-time
// programmer error, not a runtime condition.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ring: capacity must be a power of two greater than zero")
	}
	return &Ring[T]{
		mask: uint64(capacity - 1),
		buf:  make([]slot[T], capacity),
	}
}

// Capacity returns C.
func (r *Ring[T]) Capacity() int {
	return len(r.buf)
}

// TryPush assigns the next sequence number to payload and publishes it
// into the ring. It returns (0, false) if the ring is full; the caller
// decides whether to retry, drop, or otherwise handle backpressure.
// TryPush is wait-free: bounded steps, no syscalls, no allocation.
func (r *Ring[T]) TryPush(payload T) (seq uint64, ok bool) {
	// head/tail are loaded through uint64 explicitly: arch.AtomicUint is
	// atomic.Uint32 on 32-bit targets, so the cursor arithmetic below
	// must not assume a 64-bit-wide load.
	head := uint64(r.head.Load())
	tail := uint64(r.tail.Load()) // acquire: establishes admissibility
	if head-tail >= uint64(len(r.buf)) {
		return 0, false
	}

	seq = head + 1
	s := &r.buf[head&r.mask]
	s.payload = payload
	s.seq = seq

	r.head.Store(arch.UintToArchSize(uint(head + 1))) // release: publishes slot + new head
	return seq, true
}

// TryPop reads and removes the oldest unread slot, returning (0, T{},
// false) if the ring is empty. TryPop is wait-free.
func (r *Ring[T]) TryPop() (seq uint64, payload T, ok bool) {
	tail := uint64(r.tail.Load())
	head := uint64(r.head.Load()) // acquire: makes the slot write visible
	if tail >= head {
		var zero T
		return 0, zero, false
	}

	s := &r.buf[tail&r.mask]
	seq = s.seq
	payload = s.payload

	r.tail.Store(arch.UintToArchSize(uint(tail + 1))) // release: publishes the advance
	return seq, payload, true
}

// Len returns the number of unread records currently in the ring.
// This is a snapshot; only the consumer should treat it as exact.
func (r *Ring[T]) Len() int {
	return int(uint64(r.head.Load()) - uint64(r.tail.Load()))
}

// DurableSeq returns the durable high-water mark with acquire
// ordering: observing DurableSeq() >= s guarantees record s is
// physically on the device.
func (r *Ring[T]) DurableSeq() uint64 {
	return uint64(r.durableSeq.Load())
}

// AdvanceDurableSeq publishes a new durable high-water mark with
// release ordering. It is the I/O Engine's exclusive responsibility to
// call this, and only ever with a monotonically non-decreasing value.
func (r *Ring[T]) AdvanceDurableSeq(seq uint64) {
	r.durableSeq.Store(arch.UintToArchSize(uint(seq)))
}

// SlotSize returns the R+H byte footprint a record of type T occupies
// once copied into a Page, independent of the ring's own in-memory
// slot representation (which keeps T unencoded for speed).
func SlotSize[T any]() int {
	return record.SlotSize[T]()
}
