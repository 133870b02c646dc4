// Package sample holds the closed set of output sample representations and
// the conversions into them.
package sample

import (
	"math"
	"unsafe"

	"github.com/drgolem/streamplayer/pkg/types"
)

// Sample is the set of representations an output device can consume.
type Sample interface {
	uint8 | int16 | int32 | float32
}

// Silence returns the neutral value: the midpoint for unsigned types, zero otherwise.
func Silence[T Sample]() T {
	var z T
	if _, ok := any(z).(uint8); ok {
		return T(128)
	}
	return z
}

// Fill writes the silence value into every element of dst.
func Fill[T Sample](dst []T) {
	s := Silence[T]()
	if s == 0 {
		clear(dst)
		return
	}
	for i := range dst {
		dst[i] = s
	}
}

// FormatOf reports the types.SampleFormat matching T.
func FormatOf[T Sample]() types.SampleFormat {
	var z T
	switch any(z).(type) {
	case uint8:
		return types.SampleFormatU8
	case int16:
		return types.SampleFormatS16
	case int32:
		return types.SampleFormatS32
	case float32:
		return types.SampleFormatF32
	}
	return types.SampleFormatUnknown
}

// FromFloat32 converts normalized samples into dst using the same scale as
// audioframe decoding (full scale is 2^(bits-1)), clamping out of range values.
// len(dst) must be at least len(src).
func FromFloat32[T Sample](dst []T, src []float32) {
	dst = dst[:len(src)]
	switch d := any(dst).(type) {
	case []float32:
		for i, v := range src {
			d[i] = clamp(v)
		}
	case []int16:
		for i, v := range src {
			d[i] = int16(scale(v, 1<<15))
		}
	case []int32:
		for i, v := range src {
			d[i] = int32(scale(v, 1<<31))
		}
	case []uint8:
		for i, v := range src {
			d[i] = uint8(scale(v, 1<<7) + 128)
		}
	}
}

// ToFloat32 is the inverse of FromFloat32.
func ToFloat32[T Sample](dst []float32, src []T) {
	dst = dst[:len(src)]
	switch s := any(src).(type) {
	case []float32:
		copy(dst, s)
	case []int16:
		for i, v := range s {
			dst[i] = float32(v) / (1 << 15)
		}
	case []int32:
		for i, v := range s {
			dst[i] = float32(float64(v) / (1 << 31))
		}
	case []uint8:
		for i, v := range s {
			dst[i] = float32(int(v)-128) / (1 << 7)
		}
	}
}

// scale maps v onto [-full, full-1].
func scale(v float32, full float64) int64 {
	x := math.Round(float64(v) * full)
	if x > full-1 {
		x = full - 1
	}
	if x < -full {
		x = -full
	}
	return int64(x)
}

func clamp(v float32) float32 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}

// AsBytes views samples as their native in-memory bytes without copying.
func AsBytes[T Sample](s []T) []byte {
	if len(s) == 0 {
		return nil
	}
	var z T
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*int(unsafe.Sizeof(z)))
}

// FromBytes views a native byte buffer as samples without copying.
// Trailing bytes that do not form a whole sample are ignored.
func FromBytes[T Sample](b []byte) []T {
	var z T
	size := int(unsafe.Sizeof(z))
	n := len(b) / size
	if n == 0 {
		return nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&b[0])), n)
}

// Size returns the byte width of T.
func Size[T Sample]() int {
	var z T
	return int(unsafe.Sizeof(z))
}
