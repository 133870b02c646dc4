package output

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/ringbuffer"
	"github.com/drgolem/streamplayer/pkg/types"
)

// Output opens the device lazily on the first decoded frame, so the device
// spec follows the source when Params leave rate or channels unset.
type Output struct {
	host     Host
	params   Params
	controls *Controls
	log      *slog.Logger

	mu      sync.Mutex
	sink    atomic.Pointer[sinkRef]
	aborted atomic.Bool
}

type sinkRef struct{ Sink }

// NewOutput creates an output that opens the device on the first frame.
func NewOutput(host Host, params Params, controls *Controls, log *slog.Logger) *Output {
	if log == nil {
		log = slog.Default()
	}
	if controls == nil {
		controls = NewControls(1)
	}
	return &Output{host: host, params: params, controls: controls, log: log}
}

func (o *Output) current() Sink {
	if ref := o.sink.Load(); ref != nil {
		return ref.Sink
	}
	return nil
}

// WriteFrame opens the device if needed and pushes f into the ring.
func (o *Output) WriteFrame(ctx context.Context, f *audioframe.Frame) error {
	s := o.current()
	if s == nil {
		var err error
		if s, err = o.open(f.Spec); err != nil {
			return err
		}
	}
	return s.Write(ctx, f)
}

func (o *Output) open(spec types.SignalSpec) (Sink, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if s := o.current(); s != nil {
		return s, nil
	}
	if o.aborted.Load() {
		return nil, ringbuffer.ErrClosed
	}

	s, err := TryOpen(o.host, o.params, spec, o.controls, o.log)
	if err != nil {
		return nil, err
	}
	o.sink.Store(&sinkRef{s})
	return s, nil
}

// Flush drains the device at a natural end of stream.
func (o *Output) Flush(ctx context.Context) error {
	if s := o.current(); s != nil {
		return s.Flush(ctx)
	}
	return nil
}

// Abort unblocks the producer. Later writes fail with ringbuffer.ErrClosed.
func (o *Output) Abort() {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.aborted.Store(true)
	if s := o.current(); s != nil {
		s.Abort()
	}
}

// Close releases the device. It is safe to call more than once.
func (o *Output) Close() error {
	if s := o.current(); s != nil {
		return s.Close()
	}
	return nil
}

// Spec returns the device spec once open.
func (o *Output) Spec() (types.OutputSpec, bool) {
	if s := o.current(); s != nil {
		return s.Spec(), true
	}
	return types.OutputSpec{}, false
}

// Buffered returns output frames queued in the ring.
func (o *Output) Buffered() int {
	if s := o.current(); s != nil {
		return s.Buffered()
	}
	return 0
}

// Controls returns the state shared with the device callback.
func (o *Output) Controls() *Controls {
	return o.controls
}
