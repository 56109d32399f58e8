package assembler

import (
	"testing"
	"time"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Loga-Shanmugam/picolog/internal/record"
	"github.com/Loga-Shanmugam/picolog/internal/ring"
	"github.com/Loga-Shanmugam/picolog/internal/slab"
)

type tick struct {
	Price uint64
	Qty   uint32
}

func newHarness(t *testing.T, pageSize, slabPages, ringCap int) (*ring.Ring[tick], *slab.Slab, *Assembler[tick], *[]ReadyPage) {
	t.Helper()
	s, err := slab.New(pageSize, slabPages)
	require.NoError(t, err)
	r := ring.New[tick](ringCap)

	var emitted []ReadyPage
	emit := func(p ReadyPage) error {
		emitted = append(emitted, p)
		return nil
	}

	a := New[tick](r, s, emit, time.Millisecond, time.Hour)
	return r, s, a, &emitted
}

func TestAssemblerEmitsWhenPageFull(t *testing.T) {
	slotSize := record.SlotSize[tick]()
	pageSize := directio.BlockSize
	capacity := pageSize / slotSize

	r, _, a, emitted := newHarness(t, pageSize, 2, 256)

	for i := 0; i < capacity; i++ {
		_, ok := r.TryPush(tick{Price: uint64(i)})
		require.True(t, ok)
	}

	for {
		busy, err := a.Step()
		require.NoError(t, err)
		if !busy {
			break
		}
	}

	require.Len(t, *emitted, 1)
	page := (*emitted)[0]
	assert.Equal(t, uint64(1), page.FirstSeq)
	assert.Equal(t, uint64(capacity), page.LastSeq)
}

func TestAssemblerTimeFlushesPartialPage(t *testing.T) {
	pageSize := directio.BlockSize
	r, _, a, emitted := newHarness(t, pageSize, 2, 256)
	a.flushInterval = time.Millisecond

	_, ok := r.TryPush(tick{Price: 1})
	require.True(t, ok)

	_, err := a.Step()
	require.NoError(t, err)
	assert.Empty(t, *emitted, "a fresh page should not flush before the interval elapses")

	time.Sleep(2 * time.Millisecond)

	_, err = a.Step()
	require.NoError(t, err)
	require.Len(t, *emitted, 1)
	assert.Equal(t, uint64(1), (*emitted)[0].FirstSeq)
	assert.Equal(t, uint64(1), (*emitted)[0].LastSeq)
}

func TestAssemblerNeverEmitsEmptyPage(t *testing.T) {
	pageSize := directio.BlockSize
	_, _, a, emitted := newHarness(t, pageSize, 2, 256)
	a.flushInterval = time.Millisecond

	time.Sleep(2 * time.Millisecond)
	_, err := a.Step()
	require.NoError(t, err)
	assert.Empty(t, *emitted)
}

func TestAssemblerBackpressureWhenSlabExhausted(t *testing.T) {
	pageSize := directio.BlockSize
	slotSize := record.SlotSize[tick]()
	capacity := pageSize / slotSize

	r, s, a, emitted := newHarness(t, pageSize, 1, 256)

	// Exhaust the single slab page externally so acquire fails.
	p, err := s.Acquire()
	require.NoError(t, err)

	for i := 0; i < capacity; i++ {
		_, ok := r.TryPush(tick{Price: uint64(i)})
		require.True(t, ok)
	}

	busy, err := a.Step()
	require.NoError(t, err)
	assert.False(t, busy)
	assert.Empty(t, *emitted)

	s.Release(p)

	for {
		busy, err := a.Step()
		require.NoError(t, err)
		if !busy {
			break
		}
	}
	require.Len(t, *emitted, 1)
}

func TestAssemblerPanicsWhenRecordExceedsPage(t *testing.T) {
	type huge struct {
		Data [directio.BlockSize + 1]byte
	}
	s, err := slab.New(directio.BlockSize, 2)
	require.NoError(t, err)
	r := ring.New[huge](4)

	assert.Panics(t, func() {
		New[huge](r, s, func(ReadyPage) error { return nil }, time.Millisecond, time.Hour)
	})
}
