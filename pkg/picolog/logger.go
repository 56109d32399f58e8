// Package picolog is the public, embeddable surface of the write-ahead
// log: a single generic Logger[T] that wires together the Ring, Slab,
// Page Assembler, I/O Engine, and Reader internals behind a thin
// builder-style API, in the shape of boulder's own pkg.Boulder
// delegating to internal/db.DB.
package picolog

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/ncw/directio"

	"github.com/Loga-Shanmugam/picolog/internal/assembler"
	"github.com/Loga-Shanmugam/picolog/internal/ioengine"
	"github.com/Loga-Shanmugam/picolog/internal/record"
	"github.com/Loga-Shanmugam/picolog/internal/ring"
	"github.com/Loga-Shanmugam/picolog/internal/slab"
	"github.com/Loga-Shanmugam/picolog/internal/wal"
)

// Logger is the embeddable façade over one picolog file. A write-mode
// Logger is single-producer: only one goroutine may ever call Log.
// Construction is builder-style: New, then WithWriteConfig or
// WithReadConfig, then Start.
type Logger[T any] struct {
	cfg config

	started atomic.Bool
	stopped atomic.Bool

	ring *ring.Ring[T]
	slab *slab.Slab
	asm  *assembler.Assembler[T]
	eng  *ioengine.Engine[T]
	fd   *os.File

	reader *wal.Reader[T]

	consumerWG   sync.WaitGroup
	shutdown     chan struct{}
	consumerDone chan struct{}
}

// New constructs an unconfigured Logger for payload type T.
func New[T any]() *Logger[T] {
	return &Logger[T]{cfg: defaultConfig()}
}

// WithWriteConfig configures the logger for write mode: path is the
// file to create/truncate, ringCapacity is C (must be a power of two),
// flushInterval bounds how long a partial page may sit unflushed, and
// pollInterval bounds how long the consumer sleeps between empty polls.
func (l *Logger[T]) WithWriteConfig(path string, ringCapacity int, flushInterval, pollInterval time.Duration, opts ...Option) *Logger[T] {
	l.cfg.mode = modeWrite
	l.cfg.path = path
	l.cfg.ringCapacity = ringCapacity
	l.cfg.flushInterval = flushInterval
	l.cfg.pollInterval = pollInterval
	for _, o := range opts {
		o.apply(&l.cfg)
	}
	return l
}

// WithReadConfig configures the logger for read mode: path is the file
// to recover records from.
func (l *Logger[T]) WithReadConfig(path string, opts ...Option) *Logger[T] {
	l.cfg.mode = modeRead
	l.cfg.path = path
	for _, o := range opts {
		o.apply(&l.cfg)
	}
	return l
}

// Start allocates the Slab and Ring and launches the consumer thread
// in write mode, or opens the file for recovery in read mode. It
// fails with ErrAlreadyStarted if called twice, or an underlying I/O
// error wrapping the failure to open/create the file.
func (l *Logger[T]) Start() error {
	if l.cfg.mode == modeUnset {
		return fmt.Errorf("picolog: must call WithWriteConfig or WithReadConfig before Start")
	}
	if err := record.Validate[T](); err != nil {
		return err
	}
	if !l.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if l.cfg.mode == modeRead {
		r, err := wal.Open[T](l.cfg.path, l.cfg.pageSize)
		if err != nil {
			l.started.Store(false)
			return err
		}
		l.reader = r
		return nil
	}

	if err := l.startWrite(); err != nil {
		l.started.Store(false)
		return err
	}
	return nil
}

func (l *Logger[T]) startWrite() error {
	fd, err := directio.OpenFile(l.cfg.path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		if errors.Is(err, syscall.EINVAL) {
			return fmt.Errorf("picolog: open %s: %w: %w", l.cfg.path, errOpenUnsupported, err)
		}
		return fmt.Errorf("picolog: open %s: %w", l.cfg.path, err)
	}
	l.fd = fd

	s, err := slab.New(l.cfg.pageSize, l.cfg.slabPages)
	if err != nil {
		_ = fd.Close()
		return err
	}
	l.slab = s

	l.ring = ring.New[T](l.cfg.ringCapacity)
	l.eng = ioengine.New[T](fd, l.ring, s, max(1, l.cfg.slabPages-1))
	l.asm = assembler.New[T](l.ring, s, l.eng.Emit, l.cfg.pollInterval, l.cfg.flushInterval)

	l.shutdown = make(chan struct{})
	l.consumerDone = make(chan struct{})
	l.consumerWG.Add(1)
	go l.consumerLoop()

	return nil
}

// consumerLoop is the single cooperative loop driving both the Page
// Assembler and the I/O Engine, per spec.md §5: it never runs a
// second goroutine of its own, only delegating blocking work to the
// I/O Engine's fixed submission pool.
func (l *Logger[T]) consumerLoop() {
	defer l.consumerWG.Done()
	defer close(l.consumerDone)

	ticker := time.NewTicker(l.cfg.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.shutdown:
			l.drainOnShutdown()
			return
		default:
		}

		if err := l.eng.ReapCompletions(); err != nil {
			return
		}

		busy, err := l.asm.Step()
		if err != nil {
			return
		}
		if busy {
			continue
		}

		select {
		case <-l.shutdown:
			l.drainOnShutdown()
			return
		case <-ticker.C:
		}
	}
}

// drainOnShutdown flushes every record already in the ring into
// pages, flushes the final partial page, and waits for every
// outstanding completion with no timeout, since completion is
// required for durability (spec.md §5). Any further Log call after
// the shutdown signal has already been sent returns not-stored; only
// what is already in the ring at this point is drained.
func (l *Logger[T]) drainOnShutdown() {
	for l.ring.Len() > 0 {
		if err := l.eng.ReapCompletions(); err != nil {
			return
		}
		if _, err := l.asm.Step(); err != nil {
			return
		}
	}

	if err := l.asm.Flush(); err != nil {
		return
	}

	for l.eng.InFlight() > 0 {
		if err := l.eng.Wait(); err != nil {
			return
		}
	}
}

// Log forwards to the Ring: single-producer only, wait-free,
// non-blocking. It returns (0, false) on backpressure (the ring is
// full), once Stop has been called, or if the logger has failed or was
// not started in write mode.
func (l *Logger[T]) Log(v T) (seq uint64, ok bool) {
	if l.cfg.mode != modeWrite || l.ring == nil {
		return 0, false
	}
	if l.stopped.Load() {
		return 0, false
	}
	if l.eng != nil && l.eng.Failed() != nil {
		return 0, false
	}
	return l.ring.TryPush(v)
}

// DurableSeq returns the durable high-water mark: an acquire-load of
// the highest sequence number known to be physically on the device.
func (l *Logger[T]) DurableSeq() uint64 {
	if l.ring == nil {
		return 0
	}
	return l.ring.DurableSeq()
}

// Failed reports the sticky terminal error, if the consumer thread has
// entered its failed state. The returned error wraps both the
// package-level ErrLoggerFailed sentinel and the underlying I/O
// Engine failure, so errors.Is works against either.
func (l *Logger[T]) Failed() error {
	if l.eng == nil {
		return nil
	}
	if err := l.eng.Failed(); err != nil {
		return fmt.Errorf("%w: %w", ErrLoggerFailed, err)
	}
	return nil
}

// Read consumes the entire record stream in read mode. It is an error
// to call Read on a write-mode logger.
func (l *Logger[T]) Read() ([]T, error) {
	if l.cfg.mode != modeRead {
		return nil, ErrWriteMode
	}
	if l.reader == nil {
		return nil, ErrNotStarted
	}
	return l.reader.Read()
}

// Stop signals the consumer to drain the ring, flush the current
// page, reap outstanding completions, close the file, and join. It is
// idempotent: calling Stop after a completed Stop is a no-op
// returning nil.
func (l *Logger[T]) Stop() error {
	if l.cfg.mode == modeRead {
		if l.reader == nil {
			return nil
		}
		err := l.reader.Close()
		l.reader = nil
		return err
	}

	if !l.stopped.CompareAndSwap(false, true) {
		return nil
	}
	if l.shutdown == nil {
		return nil
	}

	close(l.shutdown)
	<-l.consumerDone
	l.consumerWG.Wait()

	var result *multierror.Error
	if err := l.Failed(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.eng.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := l.fd.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
