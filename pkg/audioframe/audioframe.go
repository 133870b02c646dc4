package audioframe

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/drgolem/streamplayer/pkg/types"
)

// Frame is a block of decoded PCM in a track's native layout.
//
// Data holds Frames interleaved frames; its capacity is fixed by New and a
// decoder reuses the same Frame for every packet, so consumers must not
// retain it past the call that received it.
type Frame struct {
	Spec   types.SignalSpec
	Frames int
	Data   []byte

	capacity int
}

// New allocates a frame able to hold capacity frames of spec.
func New(spec types.SignalSpec, capacity int) *Frame {
	return &Frame{
		Spec:     spec,
		Data:     make([]byte, 0, capacity*spec.BlockAlign()),
		capacity: capacity,
	}
}

// Capacity returns the maximum number of frames this buffer can carry.
func (f *Frame) Capacity() int {
	return f.capacity
}

// Samples returns the number of interleaved samples currently held.
func (f *Frame) Samples() int {
	return f.Frames * f.Spec.Channels
}

// Reset empties the frame without releasing its storage.
func (f *Frame) Reset() {
	f.Frames = 0
	f.Data = f.Data[:0]
}

// Fill sets the frame contents to n frames and returns the byte slice to write them into.
func (f *Frame) Fill(n int) ([]byte, error) {
	if n > f.capacity {
		return nil, fmt.Errorf("%d frames exceed capacity %d", n, f.capacity)
	}
	f.Frames = n
	f.Data = f.Data[:n*f.Spec.BlockAlign()]
	return f.Data, nil
}

// Duration returns the playing time of the filled frames in seconds.
func (f *Frame) Duration() float64 {
	if f.Spec.SampleRate == 0 {
		return 0
	}
	return float64(f.Frames) / float64(f.Spec.SampleRate)
}

// Float32 decodes the interleaved samples into dst as normalized floats,
// growing dst if needed, and returns dst[:Samples()].
func (f *Frame) Float32(dst []float32) []float32 {
	n := f.Samples()
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]

	b := f.Data
	switch f.Spec.Format {
	case types.SampleFormatU8:
		for i := range dst {
			dst[i] = float32(int(b[i])-128) / 128
		}
	case types.SampleFormatS16:
		for i := range dst {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(b[i*2:]))) / 32768
		}
	case types.SampleFormatS24:
		for i := range dst {
			v := int32(b[i*3]) | int32(b[i*3+1])<<8 | int32(int8(b[i*3+2]))<<16
			dst[i] = float32(v) / 8388608
		}
	case types.SampleFormatS32:
		for i := range dst {
			dst[i] = float32(float64(int32(binary.LittleEndian.Uint32(b[i*4:]))) / 2147483648)
		}
	case types.SampleFormatF32:
		for i := range dst {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
		}
	default:
		clear(dst)
	}
	return dst
}
