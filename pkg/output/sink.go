package output

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/convert"
	"github.com/drgolem/streamplayer/pkg/ringbuffer"
	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"
)

// DefaultLatency is the ring buffer window.
const DefaultLatency = 200 * time.Millisecond

const drainPoll = 5 * time.Millisecond

// Params configures how a sink opens the device.
type Params struct {
	DeviceIndex     int                // DefaultDevice selects the platform default
	DeviceName      string             // matched against device names when set
	Format          types.SampleFormat // Int16, Int32 or Float32 representation
	SampleRate      int                // 0 follows the source
	Channels        int                // 0 follows the source
	FramesPerBuffer int
	Latency         time.Duration
	Quality         int // soxr quality recipe
}

// OutputSpec resolves the device spec for a source spec.
func (p Params) OutputSpec(in types.SignalSpec) types.OutputSpec {
	spec := types.OutputSpec{SampleRate: in.SampleRate, Channels: in.Channels, Format: p.Format}
	if p.SampleRate > 0 {
		spec.SampleRate = p.SampleRate
	}
	if p.Channels > 0 {
		spec.Channels = p.Channels
	}
	return spec
}

// Controls is the lock-free state shared between the controller, the
// producer and the real-time callback.
type Controls struct {
	Gain *convert.Gain

	paused atomic.Bool
	played atomic.Uint64
	spec   atomic.Pointer[types.OutputSpec]
}

// NewControls returns controls with the given initial gain.
func NewControls(gain float32) *Controls {
	return &Controls{Gain: convert.NewGain(gain)}
}

// SetPaused makes the callback emit silence without consuming the ring.
func (c *Controls) SetPaused(p bool) { c.paused.Store(p) }

// Paused reports the pause flag.
func (c *Controls) Paused() bool { return c.paused.Load() }

// Played returns the number of output frames handed to the device.
func (c *Controls) Played() uint64 { return c.played.Load() }

// SetPlayed rebases the played counter, used after a seek.
func (c *Controls) SetPlayed(frames uint64) { c.played.Store(frames) }

// Spec returns the output spec once a device is open.
func (c *Controls) Spec() (types.OutputSpec, bool) {
	s := c.spec.Load()
	if s == nil {
		return types.OutputSpec{}, false
	}
	return *s, true
}

// Sink owns an open device stream, its ring buffer and the adapter feeding it.
type Sink interface {
	Spec() types.OutputSpec
	Resampling() bool
	// Write converts f and pushes it into the ring, blocking on backpressure.
	Write(ctx context.Context, f *audioframe.Frame) error
	// Flush pushes the resampler tail, waits for the ring to drain and stops the stream.
	Flush(ctx context.Context) error
	// Abort unblocks a producer stuck in Write. Safe from any goroutine.
	Abort()
	// Buffered returns frames queued but not yet played.
	Buffered() int
	Close() error
}

// TryOpen opens the device for a source spec. The sample representation is
// chosen here, once; the callback then runs without per-sample dispatch.
func TryOpen(host Host, p Params, in types.SignalSpec, controls *Controls, log *slog.Logger) (Sink, error) {
	if log == nil {
		log = slog.Default()
	}
	if controls == nil {
		controls = NewControls(1)
	}
	if p.Latency <= 0 {
		p.Latency = DefaultLatency
	}

	switch p.Format {
	case types.SampleFormatS16:
		return openSink[int16](host, p, in, controls, log)
	case types.SampleFormatS32:
		return openSink[int32](host, p, in, controls, log)
	case types.SampleFormatF32:
		return openSink[float32](host, p, in, controls, log)
	}
	return nil, &DeviceError{Kind: ErrOpenStream, Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, p.Format)}
}

type sink[T sample.Sample] struct {
	spec     types.OutputSpec
	ring     *ringbuffer.RingBuffer[T]
	adapter  *convert.Adapter[T]
	stream   Stream
	controls *Controls
	log      *slog.Logger

	stopped   bool
	closeOnce sync.Once
}

func openSink[T sample.Sample](host Host, p Params, in types.SignalSpec, controls *Controls, log *slog.Logger) (Sink, error) {
	spec := p.OutputSpec(in)

	adapter, err := convert.New[T](in, spec, p.Quality, controls.Gain)
	if err != nil {
		return nil, err
	}

	s := &sink[T]{
		spec:     spec,
		ring:     ringbuffer.New[T](ringbuffer.CapacityFor(spec.SampleRate, spec.Channels, p.Latency)),
		adapter:  adapter,
		controls: controls,
		log:      log,
	}

	stream, err := host.OpenStream(StreamParams{
		DeviceIndex:     p.DeviceIndex,
		DeviceName:      p.DeviceName,
		Channels:        spec.Channels,
		SampleRate:      spec.SampleRate,
		Format:          spec.Format,
		FramesPerBuffer: p.FramesPerBuffer,
	}, s.callback)
	if err != nil {
		adapter.Close()
		return nil, &DeviceError{Kind: ErrOpenStream, Err: err}
	}

	if err := stream.Start(); err != nil {
		if cerr := stream.Close(); cerr != nil {
			log.Warn("Failed to close stream", "error", cerr)
		}
		adapter.Close()
		return nil, &DeviceError{Kind: ErrPlayStream, Err: err}
	}
	s.stream = stream

	controls.spec.Store(&spec)
	log.Debug("Output stream started",
		"source", in.String(),
		"output", spec.String(),
		"resampling", adapter.Resampling(),
		"ring_samples", s.ring.Size(),
		"device_index", p.DeviceIndex,
		"device_name", p.DeviceName)
	return s, nil
}

// callback drains the ring into the hardware buffer and pads any shortfall
// with silence. Only whole frames are taken so channels never rotate.
func (s *sink[T]) callback(out []byte) {
	dst := sample.FromBytes[T](out)
	if s.controls.paused.Load() {
		sample.Fill(dst)
		return
	}

	n := min(s.ring.AvailableRead(), len(dst))
	n -= n % s.spec.Channels
	s.ring.Read(dst[:n])
	sample.Fill(dst[n:])
	s.controls.played.Add(uint64(n / s.spec.Channels))
}

func (s *sink[T]) Spec() types.OutputSpec {
	return s.spec
}

func (s *sink[T]) Resampling() bool {
	return s.adapter.Resampling()
}

func (s *sink[T]) Write(ctx context.Context, f *audioframe.Frame) error {
	samples, err := s.adapter.Convert(f)
	if err != nil {
		return err
	}
	return s.ring.WriteAll(ctx, samples)
}

func (s *sink[T]) Flush(ctx context.Context) error {
	tail, err := s.adapter.Flush()
	if err != nil {
		return err
	}
	if err := s.ring.WriteAll(ctx, tail); err != nil {
		return err
	}

	for s.ring.AvailableRead() >= s.spec.Channels && !s.ring.Closed() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(drainPoll):
		}
	}

	s.stopped = true
	if err := s.stream.Stop(); err != nil {
		return &DeviceError{Kind: ErrPlayStream, Err: fmt.Errorf("stop: %w", err)}
	}
	return nil
}

func (s *sink[T]) Abort() {
	s.ring.Close()
}

func (s *sink[T]) Buffered() int {
	return s.ring.AvailableRead() / s.spec.Channels
}

// Close stops the stream if Flush did not, and releases the device.
func (s *sink[T]) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.ring.Close()
		if !s.stopped {
			if serr := s.stream.Stop(); serr != nil {
				s.log.Warn("Failed to stop stream", "error", serr)
			}
		}
		if cerr := s.stream.Close(); cerr != nil {
			s.log.Warn("Failed to close stream", "error", cerr)
			err = cerr
		}
		if aerr := s.adapter.Close(); aerr != nil {
			s.log.Warn("Failed to close resampler", "error", aerr)
		}
	})
	return err
}
