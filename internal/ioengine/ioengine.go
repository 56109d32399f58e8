// Package ioengine submits assembled pages to the storage device with
// strict durability and advances the durable high-water mark only once
// completions cover a contiguous prefix of submitted pages.
//
// Go has no io_uring binding in this module's dependency lineage (see
// DESIGN.md); the asynchrony spec.md asks of "submit, then reap
// completions without blocking the assembler" is expressed instead as
// a bounded pool of submission goroutines, each performing an ordinary
// blocking direct-I/O write, draining into a single completion channel
// that the consumer loop reaps from non-blockingly between assembler
// steps. This keeps submission concurrent (many pages in flight against
// the kernel at once) while completion handling stays single-threaded,
// matching spec.md §5's "no nested parallelism" rule for the
// persistence worker.
package ioengine

import (
	"container/heap"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/Loga-Shanmugam/picolog/internal/assembler"
	"github.com/Loga-Shanmugam/picolog/internal/ring"
	"github.com/Loga-Shanmugam/picolog/internal/slab"
)

// ErrLoggerFailed is observed by every call made after a completion
// reports a short or failed write. It is sticky: once set, the engine
// never resumes submitting.
var ErrLoggerFailed = errors.New("ioengine: logger has entered a failed state after a fatal write error")

type submission struct {
	page    *slab.Page
	offset  int64
	lastSeq uint64
	order   uint64
}

type completion struct {
	page    *slab.Page
	lastSeq uint64
	order   uint64
	n       int
	want    int
	err     error
}

// Engine submits ready pages to fd at strictly increasing, P-aligned
// offsets, and advances ring's durable high-water mark once a
// completion covers a contiguous prefix of submitted sequence ranges.
type Engine[T any] struct {
	fd       *os.File
	ring     *ring.Ring[T]
	slab     *slab.Slab
	pageSize int

	submit chan submission
	done   chan completion

	nextOffset int64

	wg sync.WaitGroup

	mu         sync.Mutex
	failed     error
	pending    *pendingHeap
	nextExpect uint64 // next submission order we expect to see acknowledged
	submitSeq  uint64 // monotonic counter assigning submission order to pages
}

// pendingCompletion tracks a completion that arrived out of order: it
// has finished, but an earlier-submitted page has not yet completed,
// so durable_seq cannot advance past it yet.
type pendingCompletion struct {
	order   uint64
	lastSeq uint64
}

// pendingHeap is a min-heap ordered by submission order, so the root
// is always the oldest still-unprocessed completion.
type pendingHeap []pendingCompletion

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return h[i].order < h[j].order }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingCompletion)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// New constructs an Engine bound to an already-opened direct-I/O file
// descriptor. depth is the submission pool size (Slab size minus one,
// per spec.md §4.4, leaving headroom for the Assembler's own in-use
// page).
func New[T any](fd *os.File, r *ring.Ring[T], s *slab.Slab, depth int) *Engine[T] {
	e := &Engine[T]{
		fd:       fd,
		ring:     r,
		slab:     s,
		pageSize: s.PageSize(),
		submit:   make(chan submission, depth),
		done:     make(chan completion, depth),
		pending:  &pendingHeap{},
	}
	heap.Init(e.pending)

	for i := 0; i < depth; i++ {
		e.wg.Add(1)
		go e.submitLoop()
	}
	return e
}

// Emit implements assembler.Emitter: it assigns the page's file offset
// and hands it to the submission pool. Offsets are assigned here,
// strictly increasing by P, in the order pages are emitted by the
// Assembler, so the Assembler itself never needs to track file layout.
func (e *Engine[T]) Emit(p assembler.ReadyPage) error {
	e.mu.Lock()
	if e.failed != nil {
		err := e.failed
		e.mu.Unlock()
		return err
	}
	offset := e.nextOffset
	e.nextOffset += int64(e.pageSize)
	order := e.submitSeq
	e.submitSeq++
	e.mu.Unlock()

	sub := submission{
		page:    p.Page,
		offset:  offset,
		lastSeq: p.LastSeq,
		order:   order,
	}

	e.submit <- sub
	return nil
}

// submitLoop is run by each member of the fixed-size submission pool.
// It performs a blocking, aligned, direct write (writeAt retries
// transient failures) and reports the result on the completion
// channel; fatal-on-short-write handling happens in handleCompletion,
// reached through ReapCompletions or Wait on the consumer goroutine,
// the only goroutine allowed to touch durable_seq or the failed flag.
func (e *Engine[T]) submitLoop() {
	defer e.wg.Done()
	for sub := range e.submit {
		n, err := writeAt(e.fd, sub.page.Bytes(), sub.offset)
		e.done <- completion{
			page:    sub.page,
			lastSeq: sub.lastSeq,
			order:   sub.order,
			n:       n,
			want:    len(sub.page.Bytes()),
			err:     err,
		}
	}
}

// writeAt performs a single aligned direct-I/O write at offset,
// retrying on transient resource exhaustion with a bounded backoff.
func writeAt(fd *os.File, buf []byte, offset int64) (int, error) {
	const maxRetries = 5
	backoff := 2 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		n, err := fd.WriteAt(buf, offset)
		if err == nil {
			return n, nil
		}
		if !isRetryable(err) {
			return n, err
		}
		lastErr = err
		time.Sleep(backoff)
		backoff *= 2
	}
	return 0, fmt.Errorf("ioengine: write at offset %d failed after retries: %w", offset, lastErr)
}

func isRetryable(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.ENOMEM) || errors.Is(err, syscall.EINTR)
}

// ReapCompletions drains whatever completions are immediately
// available (non-blocking) and advances durable_seq across the
// maximal contiguous prefix of acknowledged submissions. It is called
// from the consumer's single cooperative loop between assembler
// steps, never concurrently with itself.
//
// Completion reordering: submissions are handed to the pool in order,
// but the pool's goroutines may finish out of order. Each completion
// is pushed into a min-heap keyed by submission order; durable_seq
// only advances past a gap once the intervening completion arrives,
// i.e. once the heap's minimum equals the next expected submission
// order.
func (e *Engine[T]) ReapCompletions() error {
	for {
		select {
		case c := <-e.done:
			if err := e.handleCompletion(c); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}

// Wait blocks until at least one completion is handled, or returns
// immediately with an error if the engine has already failed. Used
// during shutdown, where the consumer must wait with no timeout for
// durability.
func (e *Engine[T]) Wait() error {
	e.mu.Lock()
	failed := e.failed
	e.mu.Unlock()
	if failed != nil {
		return failed
	}
	c := <-e.done
	return e.handleCompletion(c)
}

// InFlight reports how many submissions are not yet part of the
// contiguous acknowledged prefix: a completion that arrived out of
// order, or one that failed, still counts as in flight.
func (e *Engine[T]) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return int(e.submitSeq) - e.acked()
}

func (e *Engine[T]) acked() int {
	return int(e.nextExpect)
}

func (e *Engine[T]) handleCompletion(c completion) error {
	e.slab.Release(c.page)

	if c.err != nil || c.n != c.want {
		err := fmt.Errorf("ioengine: fatal write failure (wrote %d of %d bytes): %w", c.n, c.want, firstNonNil(c.err, io.ErrShortWrite))
		e.mu.Lock()
		e.failed = ErrLoggerFailed
		e.mu.Unlock()
		return multierror.Append(ErrLoggerFailed, err).ErrorOrNil()
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	heap.Push(e.pending, pendingCompletion{order: c.order, lastSeq: c.lastSeq})

	// Advance durable_seq only across the contiguous prefix of
	// submission order that has now completed; a completion that
	// arrived out of order sits in the heap until the gap in front of
	// it is filled by a later completion.
	advanced := uint64(0)
	advancedAny := false
	for e.pending.Len() > 0 && (*e.pending)[0].order == e.nextExpect {
		top := heap.Pop(e.pending).(pendingCompletion)
		advanced = top.lastSeq
		advancedAny = true
		e.nextExpect++
	}
	if advancedAny {
		e.ring.AdvanceDurableSeq(advanced)
	}
	return nil
}

func firstNonNil(err error, fallback error) error {
	if err != nil {
		return err
	}
	return fallback
}

// Failed reports the sticky terminal error, if any.
func (e *Engine[T]) Failed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failed
}

// Close stops accepting submissions and joins the submission pool.
// It does not reap completions and always returns nil: write errors
// are reported only by ReapCompletions and Wait.
func (e *Engine[T]) Close() error {
	close(e.submit)
	e.wg.Wait()
	close(e.done)
	return nil
}
