// Package convert adapts decoded frames to the representation an output device consumes.
package convert

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"

	soxr "github.com/zaf/resample"
)

var (
	// ErrUnsupportedLayout is returned for channel mappings other than identity and mono/stereo.
	ErrUnsupportedLayout = errors.New("unsupported channel layout conversion")

	// ErrSpecChanged is returned when a frame does not match the adapter input spec.
	ErrSpecChanged = errors.New("frame spec differs from adapter input")
)

// ParseQuality maps a quality name to a soxr quality recipe.
func ParseQuality(name string) (int, error) {
	switch name {
	case "quick":
		return soxr.Quick, nil
	case "low":
		return soxr.LowQ, nil
	case "medium":
		return soxr.MediumQ, nil
	case "", "high":
		return soxr.HighQ, nil
	case "veryhigh":
		return soxr.VeryHighQ, nil
	}
	return 0, fmt.Errorf("unknown resample quality %q", name)
}

// Gain is a volume multiplier shared between a controller and an adapter.
type Gain struct {
	bits atomic.Uint32
}

// NewGain returns a gain set to v.
func NewGain(v float32) *Gain {
	g := &Gain{}
	g.Set(v)
	return g
}

// Set stores v; negative values become 0.
func (g *Gain) Set(v float32) {
	g.bits.Store(math.Float32bits(max(v, 0)))
}

// Load returns the current multiplier.
func (g *Gain) Load() float32 {
	return math.Float32frombits(g.bits.Load())
}

// Adapter converts frames of one input spec into samples of type T at the
// output spec. All buffers are owned by the adapter and reused; the slice
// returned by Convert is only valid until the next call.
type Adapter[T sample.Sample] struct {
	in   types.SignalSpec
	out  types.OutputSpec
	gain *Gain

	floats    []float32
	mapped    []float32
	resampled []float32
	buf       []T

	rs      *soxr.Resampler
	rsOut   bytes.Buffer
	flushed bool

	// soxr rejects writes that would yield less than one output frame, so
	// shorter input waits here for the next frame or Flush.
	held      []float32
	minFrames int
}

// New creates an adapter. A resampler is created only when the rates differ;
// it is keyed on the (in, out) rate pair for the life of the adapter.
// gain may be nil for unity gain.
func New[T sample.Sample](in types.SignalSpec, out types.OutputSpec, quality int, gain *Gain) (*Adapter[T], error) {
	if out.Format != sample.FormatOf[T]() {
		return nil, fmt.Errorf("output format %s does not match sample type %s", out.Format, sample.FormatOf[T]())
	}
	if !layoutSupported(in.Channels, out.Channels) {
		return nil, fmt.Errorf("%w: %d -> %d channels", ErrUnsupportedLayout, in.Channels, out.Channels)
	}
	if in.SampleRate <= 0 || out.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", in.SampleRate, out.SampleRate)
	}
	if gain == nil {
		gain = NewGain(1)
	}

	a := &Adapter[T]{in: in, out: out, gain: gain}

	if in.SampleRate != out.SampleRate {
		rs, err := soxr.New(&a.rsOut, float64(in.SampleRate), float64(out.SampleRate), out.Channels, soxr.F32, quality)
		if err != nil {
			return nil, fmt.Errorf("failed to create resampler: %w", err)
		}
		a.rs = rs
		a.minFrames = in.SampleRate/out.SampleRate + 1
	}
	return a, nil
}

func layoutSupported(in, out int) bool {
	if in <= 0 || out <= 0 {
		return false
	}
	return in == out || (in == 1 && out == 2) || (in == 2 && out == 1)
}

// Resampling reports whether a resampler sits in the conversion path.
func (a *Adapter[T]) Resampling() bool {
	return a.rs != nil
}

// SetGain changes the multiplier shared with every holder of the adapter's Gain.
func (a *Adapter[T]) SetGain(v float32) {
	a.gain.Set(v)
}

// InSpec returns the decoded spec the adapter accepts.
func (a *Adapter[T]) InSpec() types.SignalSpec {
	return a.in
}

// OutSpec returns the device spec the adapter produces.
func (a *Adapter[T]) OutSpec() types.OutputSpec {
	return a.out
}

// Convert converts f. With a resampler the result may be empty (input still
// accumulating) or longer than the frame (catch-up).
func (a *Adapter[T]) Convert(f *audioframe.Frame) ([]T, error) {
	if f.Spec != a.in {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrSpecChanged, f.Spec, a.in)
	}
	if f.Frames == 0 {
		return a.buf[:0], nil
	}

	a.floats = f.Float32(a.floats)
	if g := a.gain.Load(); g != 1 {
		for i := range a.floats {
			a.floats[i] *= g
		}
	}
	mapped := a.mapChannels(a.floats, f.Frames)

	if a.rs == nil {
		return a.toOutput(mapped), nil
	}
	if a.flushed {
		return nil, errors.New("adapter already flushed")
	}
	a.held = append(a.held, mapped...)
	if len(a.held) < a.minFrames*a.out.Channels {
		return a.buf[:0], nil
	}
	if err := a.writeHeld(); err != nil {
		return nil, err
	}
	return a.toOutput(a.drainResampler()), nil
}

func (a *Adapter[T]) writeHeld() error {
	_, err := a.rs.Write(sample.AsBytes(a.held))
	a.held = a.held[:0]
	if err != nil {
		return fmt.Errorf("resample: %w", err)
	}
	return nil
}

// Flush emits whatever the resampler still buffers. Without a resampler it
// returns nothing. Held input shorter than the resampler minimum is padded
// with silence. Convert must not be called afterwards.
func (a *Adapter[T]) Flush() ([]T, error) {
	if a.rs == nil || a.flushed {
		return a.buf[:0], nil
	}
	if len(a.held) > 0 {
		for len(a.held) < a.minFrames*a.out.Channels {
			a.held = append(a.held, 0)
		}
		if err := a.writeHeld(); err != nil {
			return nil, err
		}
	}
	a.flushed = true
	if err := a.rs.Close(); err != nil {
		return nil, fmt.Errorf("flush resampler: %w", err)
	}
	return a.toOutput(a.drainResampler()), nil
}

// Close releases the resampler if Flush was not called.
func (a *Adapter[T]) Close() error {
	if a.rs == nil || a.flushed {
		return nil
	}
	a.flushed = true
	return a.rs.Close()
}

func (a *Adapter[T]) mapChannels(src []float32, frames int) []float32 {
	switch {
	case a.in.Channels == a.out.Channels:
		return src
	case a.in.Channels == 1 && a.out.Channels == 2:
		a.mapped = grow(a.mapped, frames*2)
		for i := 0; i < frames; i++ {
			a.mapped[i*2] = src[i]
			a.mapped[i*2+1] = src[i]
		}
	default: // stereo to mono
		a.mapped = grow(a.mapped, frames)
		for i := 0; i < frames; i++ {
			a.mapped[i] = (src[i*2] + src[i*2+1]) / 2
		}
	}
	return a.mapped
}

// drainResampler takes every whole output frame written by soxr so far.
func (a *Adapter[T]) drainResampler() []float32 {
	b := a.rsOut.Bytes()
	frameBytes := 4 * a.out.Channels
	usable := len(b) - len(b)%frameBytes
	n := usable / 4

	a.resampled = grow(a.resampled, n)
	for i := 0; i < n; i++ {
		a.resampled[i] = math.Float32frombits(binary.NativeEndian.Uint32(b[i*4:]))
	}
	a.rsOut.Next(usable)
	return a.resampled
}

func (a *Adapter[T]) toOutput(src []float32) []T {
	a.buf = grow(a.buf, len(src))
	sample.FromFloat32(a.buf, src)
	return a.buf
}

func grow[E any](s []E, n int) []E {
	if cap(s) < n {
		return make([]E, n)
	}
	return s[:n]
}
