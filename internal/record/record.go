// Package record defines the fixed on-disk layout of a single picolog
// entry: a small header (sequence number, payload length) followed by
// the raw bytes of the caller's payload type.
package record

import (
	"encoding/binary"
	"errors"
	"reflect"
	"unsafe"
)

// HeaderSize is the encoded size of Header: an 8-byte sequence number
// followed by a 2-byte payload length, both little-endian.
const HeaderSize = 10

// ErrNotPlainOldData is returned by Validate when a caller's record
// type cannot be described by a flat byte copy: a record must have a
// stable size and carry no pointers, slices, maps, or interfaces.
var ErrNotPlainOldData = errors.New("record: type is not a fixed-size, pointer-free layout")

// Validate walks T's shape with reflection and rejects anything that
// PutPayload/GetPayload's raw memcpy cannot safely describe: pointers,
// slices, maps, interfaces, channels, funcs, strings, and unsafe
// pointers all carry indirection a flat byte copy cannot capture.
// Arrays and structs are walked recursively into their element/field
// types; every other kind (the fixed-size numeric kinds) is plain old
// data by definition. This is the construction-time capability
// predicate callers must run once per T before trusting Size/SlotSize/
// PutPayload/GetPayload for that type.
func Validate[T any]() error {
	var zero T
	t := reflect.TypeOf(zero)
	if t == nil {
		// reflect.TypeOf returns nil only when T is itself an interface
		// type (its zero value is a nil interface), which is not a fixed,
		// inspectable layout.
		return ErrNotPlainOldData
	}
	if !isPlainOldData(t) {
		return ErrNotPlainOldData
	}
	return nil
}

func isPlainOldData(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPlainOldData(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !isPlainOldData(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		// Pointer, Slice, Map, Interface, Chan, Func, String, UnsafePointer.
		return false
	}
}

// Header is the per-slot header written immediately before every
// record's payload bytes on a Page, and therefore on disk.
//
//	seq: unsigned 64-bit, little-endian
//	len: unsigned 16-bit, little-endian (0 marks padding)
type Header struct {
	Seq uint64
	Len uint16
}

// Encode writes h into dst, which must be at least HeaderSize bytes.
func (h Header) Encode(dst []byte) {
	binary.LittleEndian.PutUint64(dst[0:8], h.Seq)
	binary.LittleEndian.PutUint16(dst[8:10], h.Len)
}

// DecodeHeader reads a Header out of src, which must be at least HeaderSize
// bytes.
func DecodeHeader(src []byte) Header {
	return Header{
		Seq: binary.LittleEndian.Uint64(src[0:8]),
		Len: binary.LittleEndian.Uint16(src[8:10]),
	}
}

// IsPadding reports whether a decoded header marks a padding slot
// rather than a live record: seq 0 never occurs for a real record
// since sequence numbers start at 1.
func (h Header) IsPadding() bool {
	return h.Seq == 0
}

// Size returns R = sizeof(T) for the record payload type T. T is
// expected to satisfy the plain-old-data capability predicate: a
// fixed-layout, pointer-free struct so that the payload is fully
// described by its raw bytes. There is no general way to inspect an
// arbitrary Go type parameter for "contains no pointers" at compile
// time, so callers rely on Validate at construction time instead.
func Size[T any]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

// SlotSize returns R+H, the number of bytes one record (header plus
// payload) occupies on a Page.
func SlotSize[T any]() int {
	return HeaderSize + Size[T]()
}

// PutPayload copies the raw bytes of v into dst, which must be at
// least Size[T]() bytes. This is the zero-copy write the Assembler
// uses to pack a record into a page: a single memcpy, no allocation,
// no reflection.
func PutPayload[T any](dst []byte, v *T) {
	src := unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
	copy(dst, src)
}

// GetPayload decodes a T out of src, which must be at least
// Size[T]() bytes, by copying the bytes into a zero value of T.
func GetPayload[T any](src []byte) T {
	var v T
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), unsafe.Sizeof(v))
	copy(dst, src)
	return v
}
