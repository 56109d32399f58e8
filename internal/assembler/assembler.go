// Package assembler implements the Page Assembler: it drains the Ring
// and packs records into Slab pages, emitting a page once it is full
// or once the flush interval elapses with no trailing record pending.
package assembler

import (
	"time"

	"github.com/Loga-Shanmugam/picolog/internal/record"
	"github.com/Loga-Shanmugam/picolog/internal/ring"
	"github.com/Loga-Shanmugam/picolog/internal/slab"
)

// ReadyPage is one fully-assembled page handed off to the I/O Engine,
// along with the sequence range it covers. The Engine uses LastSeq to
// advance durable_seq once the page's write completes.
type ReadyPage struct {
	Page     *slab.Page
	FirstSeq uint64
	LastSeq  uint64
}

// Emitter hands a ready page to the next stage (the I/O Engine). It
// must not block indefinitely: the Assembler's single consumer
// goroutine is also responsible for draining the Ring, so a stuck
// Emitter stalls durability for every record still queued.
type Emitter func(ReadyPage) error

// Assembler owns exactly one Slab page at a time (current_page in
// spec.md's terms) and is driven by a single consumer goroutine — the
// same goroutine that later feeds the I/O Engine, per the "no nested
// parallelism" rule for the persistence worker.
type Assembler[T any] struct {
	ring  *ring.Ring[T]
	slab  *slab.Slab
	emit  Emitter
	clock func() time.Time

	pollInterval  time.Duration
	flushInterval time.Duration

	slotSize int

	current     *slab.Page
	currentOff  int
	firstSeq    uint64
	lastSeq     uint64
	lastFlushAt time.Time
}

// New constructs an Assembler. pollInterval bounds how long the loop
// sleeps between empty-ring checks; flushInterval bounds how long a
// partially-filled page may sit before being padded and emitted.
func New[T any](r *ring.Ring[T], s *slab.Slab, emit Emitter, pollInterval, flushInterval time.Duration) *Assembler[T] {
	if record.SlotSize[T]() > s.PageSize() {
		// Records are fixed-layout and must fit a fresh page; this is a
		// configuration error, not a runtime condition.
		panic("assembler: record size exceeds page size")
	}
	return &Assembler[T]{
		ring:          r,
		slab:          s,
		emit:          emit,
		clock:         time.Now,
		pollInterval:  pollInterval,
		flushInterval: flushInterval,
		slotSize:      record.SlotSize[T](),
		lastFlushAt:   time.Now(),
	}
}

// Step runs one iteration of the assembler loop (spec.md §4.3): it
// acquires a page if needed, drains the ring until full or empty, and
// emits the page if it is full or if the flush interval has elapsed
// on a non-empty partial page. It returns true if the caller should
// keep looping without sleeping (more ring draining is likely
// immediately useful) and an error only on a fatal emit failure.
func (a *Assembler[T]) Step() (busy bool, err error) {
	if a.current == nil {
		p, acquireErr := a.slab.Acquire()
		if acquireErr != nil {
			return false, nil // backpressure: caller sleeps poll interval and retries
		}
		a.current = p
		a.currentOff = 0
		a.firstSeq = 0
		a.lastSeq = 0
	}

	drained := false
	for a.roomForOne() {
		seq, payload, ok := a.ring.TryPop()
		if !ok {
			break
		}
		a.pack(seq, payload)
		drained = true
	}

	if !a.roomForOne() {
		if emitErr := a.emitCurrent(); emitErr != nil {
			return false, emitErr
		}
		return true, nil
	}

	if a.currentOff > 0 && a.clock().Sub(a.lastFlushAt) >= a.flushInterval {
		if emitErr := a.emitCurrent(); emitErr != nil {
			return false, emitErr
		}
		return false, nil
	}

	return drained, nil
}

// roomForOne reports whether the current page has space for another
// R+H byte slot.
func (a *Assembler[T]) roomForOne() bool {
	return a.currentOff+a.slotSize <= a.slab.PageSize()
}

func (a *Assembler[T]) pack(seq uint64, payload T) {
	buf := a.current.Bytes()[a.currentOff : a.currentOff+a.slotSize]
	h := record.Header{Seq: seq, Len: uint16(record.Size[T]())}
	h.Encode(buf[:record.HeaderSize])
	record.PutPayload(buf[record.HeaderSize:], &payload)

	if a.firstSeq == 0 {
		a.firstSeq = seq
	}
	a.lastSeq = seq
	a.currentOff += a.slotSize
}

// Flush forces emission of whatever is currently assembled, padding
// with zeros to P bytes. Used on shutdown to preserve the durability
// guarantee for every record the producer already observed as
// accepted into the ring. It is a no-op if nothing has been packed.
func (a *Assembler[T]) Flush() error {
	if a.current == nil || a.currentOff == 0 {
		return nil
	}
	return a.emitCurrent()
}

func (a *Assembler[T]) emitCurrent() error {
	page := a.current
	// Trailing bytes of a partially filled page are zero-filled before
	// submission; the page buffer was zeroed on Acquire and never
	// written past currentOff, so it is already correctly padded.
	ready := ReadyPage{
		Page:     page,
		FirstSeq: a.firstSeq,
		LastSeq:  a.lastSeq,
	}

	a.current = nil
	a.currentOff = 0
	a.lastFlushAt = a.clock()

	return a.emit(ready)
}

// PollInterval returns the configured poll interval.
func (a *Assembler[T]) PollInterval() time.Duration {
	return a.pollInterval
}
