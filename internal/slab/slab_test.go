package slab

import (
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlabAcquireRelease(t *testing.T) {
	s, err := New(directio.BlockSize, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Available())

	p1, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 1, s.Available())

	p2, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Available())

	_, err = s.Acquire()
	assert.ErrorIs(t, err, ErrBackpressureStall)

	s.Release(p1)
	assert.Equal(t, 1, s.Available())

	p3, err := s.Acquire()
	require.NoError(t, err)
	assert.Equal(t, 0, s.Available())

	s.Release(p2)
	s.Release(p3)
	assert.Equal(t, 2, s.Available())
}

func TestSlabPageZeroedOnAcquire(t *testing.T) {
	s, err := New(directio.BlockSize, 1)
	require.NoError(t, err)

	p, err := s.Acquire()
	require.NoError(t, err)
	for i := range p.Bytes() {
		p.Bytes()[i] = 0xFF
	}
	s.Release(p)

	p2, err := s.Acquire()
	require.NoError(t, err)
	for _, b := range p2.Bytes() {
		assert.Equal(t, byte(0), b)
	}
}

func TestSlabRejectsUnalignedPageSize(t *testing.T) {
	_, err := New(directio.BlockSize+1, 2)
	assert.Error(t, err)
}
