package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type tick struct {
	Price uint64
	Qty   uint32
	Side  byte
}

type nested struct {
	Ticks [4]tick
	Count int32
}

type withPointer struct {
	Price *uint64
}

type withSlice struct {
	Ticks []tick
}

type withString struct {
	Symbol string
}

type withInterface struct {
	Payload any
}

func TestHeaderEncodeDecodeRoundTrip(t *testing.T) {
	h := Header{Seq: 42, Len: 13}
	buf := make([]byte, HeaderSize)
	h.Encode(buf)

	got := DecodeHeader(buf)
	assert.Equal(t, h, got)
}

func TestHeaderZeroSeqIsPadding(t *testing.T) {
	assert.True(t, Header{}.IsPadding())
	assert.False(t, Header{Seq: 1}.IsPadding())
}

func TestPayloadRoundTrip(t *testing.T) {
	v := tick{Price: 10050, Qty: 7, Side: 'B'}
	buf := make([]byte, Size[tick]())
	PutPayload(buf, &v)

	got := GetPayload[tick](buf)
	assert.Equal(t, v, got)
}

func TestSlotSize(t *testing.T) {
	assert.Equal(t, HeaderSize+Size[tick](), SlotSize[tick]())
}

func TestValidateAcceptsFlatStructsAndArrays(t *testing.T) {
	assert.NoError(t, Validate[tick]())
	assert.NoError(t, Validate[nested]())
	assert.NoError(t, Validate[uint64]())
}

func TestValidateRejectsIndirection(t *testing.T) {
	assert.ErrorIs(t, Validate[withPointer](), ErrNotPlainOldData)
	assert.ErrorIs(t, Validate[withSlice](), ErrNotPlainOldData)
	assert.ErrorIs(t, Validate[withString](), ErrNotPlainOldData)
	assert.ErrorIs(t, Validate[withInterface](), ErrNotPlainOldData)
	assert.ErrorIs(t, Validate[any](), ErrNotPlainOldData)
}
