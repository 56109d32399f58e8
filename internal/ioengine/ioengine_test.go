package ioengine

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loga-Shanmugam/picolog/internal/assembler"
	"github.com/Loga-Shanmugam/picolog/internal/ring"
	"github.com/Loga-Shanmugam/picolog/internal/slab"
)

type tick struct {
	Price uint64
}

func openTestFile(t *testing.T) *os.File {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func newPage(t *testing.T, s *slab.Slab) *slab.Page {
	t.Helper()
	p, err := s.Acquire()
	require.NoError(t, err)
	return p
}

func TestEngineAdvancesDurableSeqOnCompletion(t *testing.T) {
	fd := openTestFile(t)
	s, err := slab.New(directio.BlockSize, 4)
	require.NoError(t, err)
	r := ring.New[tick](16)

	e := New[tick](fd, r, s, 2)
	defer e.Close()

	p := newPage(t, s)
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p, FirstSeq: 1, LastSeq: 1}))

	require.NoError(t, e.Wait())
	assert.Equal(t, uint64(1), r.DurableSeq())
}

func TestEngineAdvancesOnlyAcrossContiguousCompletions(t *testing.T) {
	fd := openTestFile(t)
	s, err := slab.New(directio.BlockSize, 4)
	require.NoError(t, err)
	r := ring.New[tick](16)

	e := New[tick](fd, r, s, 1) // depth 1: submissions complete strictly in submission order
	defer e.Close()

	p1 := newPage(t, s)
	p2 := newPage(t, s)

	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p1, FirstSeq: 1, LastSeq: 10}))
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p2, FirstSeq: 11, LastSeq: 20}))

	require.NoError(t, e.Wait())
	require.NoError(t, e.Wait())
	assert.Equal(t, uint64(20), r.DurableSeq())
}

func TestEngineSubmissionsAtStrictlyIncreasingOffsets(t *testing.T) {
	fd := openTestFile(t)
	s, err := slab.New(directio.BlockSize, 4)
	require.NoError(t, err)
	r := ring.New[tick](16)

	e := New[tick](fd, r, s, 2)
	defer e.Close()

	p1 := newPage(t, s)
	p2 := newPage(t, s)
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p1, FirstSeq: 1, LastSeq: 1}))
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p2, FirstSeq: 2, LastSeq: 2}))

	require.NoError(t, e.Wait())
	require.NoError(t, e.Wait())

	info, err := fd.Stat()
	require.NoError(t, err)
	assert.Equal(t, int64(directio.BlockSize*2), info.Size())
}

func TestEngineFailsFatallyOnShortWrite(t *testing.T) {
	fd := openTestFile(t)
	require.NoError(t, fd.Close()) // closed fd makes WriteAt fail

	s, err := slab.New(directio.BlockSize, 2)
	require.NoError(t, err)
	r := ring.New[tick](16)

	e := New[tick](fd, r, s, 1)
	defer e.Close()

	p := newPage(t, s)
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p, FirstSeq: 1, LastSeq: 1}))

	err = e.Wait()
	require.Error(t, err)
	assert.ErrorIs(t, e.Failed(), ErrLoggerFailed)

	_, ok := r.TryPush(tick{})
	require.True(t, ok)
	assert.Equal(t, uint64(0), r.DurableSeq(), "durable_seq must stay frozen after a fatal completion")
}

func TestEngineInFlightTracksOutstandingSubmissions(t *testing.T) {
	fd := openTestFile(t)
	s, err := slab.New(directio.BlockSize, 4)
	require.NoError(t, err)
	r := ring.New[tick](16)

	e := New[tick](fd, r, s, 2)
	defer e.Close()

	p := newPage(t, s)
	require.NoError(t, e.Emit(assembler.ReadyPage{Page: p, FirstSeq: 1, LastSeq: 1}))

	assert.Eventually(t, func() bool {
		return e.InFlight() >= 0
	}, time.Second, time.Millisecond)

	require.NoError(t, e.Wait())
	assert.Equal(t, 0, e.InFlight())
}
