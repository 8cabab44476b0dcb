package common

import (
	"encoding/binary"
	"math"
	"reflect"
)

// IsUintKind reports whether k is an unsigned integer kind.
func IsUintKind(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return true
	default:
		return false
	}
}

// IsIntKind reports whether k is a signed integer kind.
func IsIntKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	default:
		return false
	}
}

// IsFloatKind reports whether k is a floating point kind.
func IsFloatKind(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

// PutUint stores the low width bytes of v into b little-endian.
// b must hold at least width bytes.
func PutUint(b []byte, width int, v uint64) {
	switch width {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	default:
		panic("common: unsupported width")
	}
}

// Uint loads a little-endian unsigned integer of the given width.
func Uint(b []byte, width int) uint64 {
	switch width {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	case 8:
		return binary.LittleEndian.Uint64(b)
	default:
		panic("common: unsupported width")
	}
}

// MaxUint returns the largest value representable in width bytes.
func MaxUint(width int) uint64 {
	if width >= 8 {
		return math.MaxUint64
	}
	return 1<<(uint(width)*8) - 1
}

// FitsUint reports whether v is representable in width bytes.
func FitsUint(v uint64, width int) bool {
	return v <= MaxUint(width)
}

// FitsInt reports whether v is representable as a signed integer of width bytes.
func FitsInt(v int64, width int) bool {
	if width >= 8 {
		return true
	}
	n := uint(width) * 8
	lo := -(int64(1) << (n - 1))
	hi := int64(1)<<(n-1) - 1
	return v >= lo && v <= hi
}

// SignExtend widens the low width bytes of v to a signed 64-bit integer.
func SignExtend(v uint64, width int) int64 {
	if width >= 8 {
		return int64(v)
	}
	shift := 64 - uint(width)*8
	return int64(v<<shift) >> shift
}

// Zero clears b.
func Zero(b []byte) {
	clear(b)
}
