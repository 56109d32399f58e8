package picolog

import (
	"time"

	"github.com/ncw/directio"
)

// Option tunes construction details the spec's required builder chain
// doesn't name directly (page size, slab depth). Mirrors boulder's
// unexported-apply Option idiom (pkg/options.go, pkg/db/option.go).
type Option interface {
	apply(*config)
}

type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

// WithPageSize overrides the device logical block size used for page
// alignment. Defaults to directio.BlockSize (typically 4096). Must be
// a positive multiple of directio.BlockSize.
func WithPageSize(bytes int) Option {
	return optionFunc(func(c *config) {
		c.pageSize = bytes
	})
}

// WithSlabPages overrides N, the number of pages held in the Slab
// pool. Defaults to 4 (double/triple buffering with headroom).
func WithSlabPages(n int) Option {
	return optionFunc(func(c *config) {
		c.slabPages = n
	})
}

type mode int

const (
	modeUnset mode = iota
	modeWrite
	modeRead
)

type config struct {
	mode mode

	path string

	ringCapacity  int
	flushInterval time.Duration
	pollInterval  time.Duration

	pageSize  int
	slabPages int
}

func defaultConfig() config {
	return config{
		pageSize:  directio.BlockSize,
		slabPages: 4,
	}
}
