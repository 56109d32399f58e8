// Package slab provides the fixed, page-aligned buffer pool that
// backs every page submitted to the storage device. A Slab allocates
// one contiguous, block-aligned region at construction and never
// resizes; pages are handed out and recycled by index.
package slab

import (
	"errors"
	"sync"

	"github.com/ncw/directio"
)

// ErrBackpressureStall is returned by Acquire when every page in the
// Slab is currently in flight. This is a normal, transient condition,
// not a fatal error: the Page Assembler polls and retries.
var ErrBackpressureStall = errors.New("slab: no free page available")

// Page is exclusive ownership of one P-byte, block-aligned buffer. The
// holder (Assembler while filling it, I/O Engine while submitting it)
// is the only goroutine allowed to touch Bytes until it calls
// Slab.Release.
type Page struct {
	idx   int
	bytes []byte
}

// Bytes returns the page's backing buffer. Its length is always
// exactly the Slab's page size.
func (p *Page) Bytes() []byte {
	return p.bytes
}

// Reset zero-fills the page in place so a freshly acquired page never
// carries a previous occupant's bytes.
func (p *Page) Reset() {
	clear(p.bytes)
}

// Slab is a small, fixed pool of N page-sized buffers of P bytes each
// (P is typically the device's logical block size, 4096). Pages start
// at multiples of P inside a block-aligned region, so each page is
// aligned to P when P equals directio.BlockSize (the default) and to
// the device block size otherwise.
type Slab struct {
	pageSize int
	region   []byte // N*P contiguous, block-aligned backing buffer

	mu   sync.Mutex
	free []int // indices of pages available for Acquire
}

// New allocates a contiguous region of count*pageSize bytes, aligned
// to the device block size, and divides it into count equal pages. pageSize must
// be a multiple of the device's logical block size (directio.BlockSize
// is used as the alignment unit, matching directio.AlignedBlock's own
// behavior). Allocation failure here is fatal: it can only be caused by
// the host being out of memory or pageSize being misconfigured, never
// by steady-state operation.
func New(pageSize, count int) (*Slab, error) {
	if pageSize <= 0 || pageSize%directio.BlockSize != 0 {
		return nil, errors.New("slab: page size must be a positive multiple of the device block size")
	}
	if count <= 0 {
		return nil, errors.New("slab: count must be positive")
	}

	region := directio.AlignedBlock(pageSize * count)

	free := make([]int, count)
	for i := range free {
		free[i] = i
	}

	return &Slab{
		pageSize: pageSize,
		region:   region,
		free:     free,
	}, nil
}

// PageSize returns P.
func (s *Slab) PageSize() int {
	return s.pageSize
}

// Count returns N.
func (s *Slab) Count() int {
	return len(s.region) / s.pageSize
}

// Acquire returns exclusive ownership of a zeroed page, or
// ErrBackpressureStall if every page is currently checked out.
func (s *Slab) Acquire() (*Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.free) == 0 {
		return nil, ErrBackpressureStall
	}

	idx := s.free[len(s.free)-1]
	s.free = s.free[:len(s.free)-1]

	start := idx * s.pageSize
	p := &Page{
		idx:   idx,
		bytes: s.region[start : start+s.pageSize : start+s.pageSize],
	}
	p.Reset()
	return p, nil
}

// Release returns a page to the pool. Only the I/O Engine may call
// this, and only once a page's submission has completed.
func (s *Slab) Release(p *Page) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.free = append(s.free, p.idx)
}

// Available returns the number of pages currently free.
func (s *Slab) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.free)
}
