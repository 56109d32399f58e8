// Package wal implements the recovery reader: it reconstructs the
// record stream from an on-disk picolog file, opened in a buffered,
// non-direct fashion for recovery simplicity (spec.md §4.5).
package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Loga-Shanmugam/picolog/internal/record"
)

// ErrNotFound is returned when the reader's path does not exist.
var ErrNotFound = errors.New("wal: file not found")

// ErrCorrupt is returned when the on-disk file is internally
// inconsistent: a size that is not a multiple of the page size, or a
// sequence number that fails to strictly increase.
var ErrCorrupt = errors.New("wal: corrupt log file")

// Reader reconstructs the record stream for payload type T from a
// picolog file. A Reader is finite, single-pass, and non-restartable;
// construct a fresh Reader if you need to read again.
type Reader[T any] struct {
	f        *os.File
	br       *bufio.Reader
	pageSize int
	slotSize int
	slotsPer int

	curPage []byte
	curSlot int

	lastSeq uint64
	done    bool
}

// Open opens path for recovery reading. It returns ErrNotFound if the
// path does not exist and ErrCorrupt if the file size is not a
// multiple of pageSize.
func Open[T any](path string, pageSize int) (*Reader[T], error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("wal: stat %s: %w", path, err)
	}
	if info.Size()%int64(pageSize) != 0 {
		_ = f.Close()
		return nil, ErrCorrupt
	}

	slotSize := record.SlotSize[T]()
	return &Reader[T]{
		f:        f,
		br:       bufio.NewReaderSize(f, pageSize),
		pageSize: pageSize,
		slotSize: slotSize,
		slotsPer: pageSize / slotSize,
	}, nil
}

// Read consumes the entire remaining stream and returns every valid
// record in append order. It is the batch form of the reader contract
// (spec.md §4.6's `.read() -> iterable of T`); Next is available for
// callers that want to stream page by page instead.
func (r *Reader[T]) Read() ([]T, error) {
	var out []T
	for {
		v, ok, err := r.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// Next yields the next record in the stream, or ok=false once the
// stream is exhausted (either a trailing zero-padded page at
// end-of-file, or the file itself is exhausted). Once Next has returned
// ok=false or ErrCorrupt, every subsequent call returns ok=false with a
// nil error.
func (r *Reader[T]) Next() (v T, ok bool, err error) {
	if r.done {
		return v, false, nil
	}

	for r.bufEmpty() {
		page := make([]byte, r.pageSize)
		if _, readErr := io.ReadFull(r.br, page); readErr != nil {
			if errors.Is(readErr, io.EOF) {
				r.done = true
				return v, false, nil
			}
			return v, false, fmt.Errorf("wal: read page: %w", readErr)
		}
		r.loadPage(page)
	}

	slot := r.nextSlot()
	h := record.DecodeHeader(slot[:record.HeaderSize])
	if h.IsPadding() {
		// Padding terminates the page, and if it is the final page, the
		// whole stream; either way there is nothing more to read from
		// this page, so force the next Next() call to pull a fresh one.
		r.consumeRestOfPage()
		return r.Next()
	}

	if h.Seq <= r.lastSeq {
		r.done = true
		return v, false, ErrCorrupt
	}
	r.lastSeq = h.Seq

	v = record.GetPayload[T](slot[record.HeaderSize:])
	r.advanceSlot()
	return v, true, nil
}

// The remaining unexported methods implement simple within-page slot
// iteration on top of the page buffered by Next; kept deliberately
// small since the Reader is a recovery tool, not a hot path.

func (r *Reader[T]) bufEmpty() bool {
	return r.curPage == nil || r.curSlot >= r.slotsPer
}

func (r *Reader[T]) loadPage(page []byte) {
	r.curPage = page
	r.curSlot = 0
}

func (r *Reader[T]) nextSlot() []byte {
	start := r.curSlot * r.slotSize
	return r.curPage[start : start+r.slotSize]
}

func (r *Reader[T]) advanceSlot() {
	r.curSlot++
}

func (r *Reader[T]) consumeRestOfPage() {
	r.curSlot = r.slotsPer
}

// Close releases the underlying file handle.
func (r *Reader[T]) Close() error {
	return r.f.Close()
}
