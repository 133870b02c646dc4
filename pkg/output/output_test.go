package output

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/ringbuffer"
	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
)

type fakeStream struct {
	mu      sync.Mutex
	started bool
	stopped bool
	closed  bool
}

func (s *fakeStream) Start() error { s.mu.Lock(); s.started = true; s.mu.Unlock(); return nil }
func (s *fakeStream) Stop() error  { s.mu.Lock(); s.stopped = true; s.mu.Unlock(); return nil }
func (s *fakeStream) Close() error { s.mu.Lock(); s.closed = true; s.mu.Unlock(); return nil }

type failingStartStream struct{ fakeStream }

func (s *failingStartStream) Start() error { return errors.New("device busy") }

type fakeHost struct {
	openErr   error
	failStart bool

	params StreamParams
	cb     Callback
	stream *fakeStream
}

func (h *fakeHost) OpenStream(p StreamParams, cb Callback) (Stream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.params = p
	h.cb = cb
	if h.failStart {
		s := &failingStartStream{}
		h.stream = &s.fakeStream
		return s, nil
	}
	h.stream = &fakeStream{}
	return h.stream, nil
}

func s16Frame(t *testing.T, spec types.SignalSpec, values ...int16) *audioframe.Frame {
	t.Helper()
	f := audioframe.New(spec, len(values)/spec.Channels)
	buf, err := f.Fill(len(values) / spec.Channels)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return f
}

var stereo44 = types.SignalSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}

func TestTryOpenUsesSourceSpec(t *testing.T) {
	host := &fakeHost{}
	s, err := TryOpen(host, Params{DeviceIndex: 3, Format: types.SampleFormatS16, FramesPerBuffer: 256}, stereo44, nil, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	want := StreamParams{DeviceIndex: 3, Channels: 2, SampleRate: 44100, Format: types.SampleFormatS16, FramesPerBuffer: 256}
	if host.params != want {
		t.Errorf("stream params: got %+v, want %+v", host.params, want)
	}
	if !host.stream.started {
		t.Error("stream was not started")
	}
	if s.Resampling() {
		t.Error("no resampler expected at matching rates")
	}
}

func TestTryOpenUnsupportedFormat(t *testing.T) {
	_, err := TryOpen(&fakeHost{}, Params{Format: types.SampleFormatU8}, stereo44, nil, nil)
	if !errors.Is(err, ErrOpenStream) || !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrOpenStream wrapping ErrUnsupportedFormat", err)
	}
}

func TestTryOpenErrors(t *testing.T) {
	busy := errors.New("no such device")
	_, err := TryOpen(&fakeHost{openErr: busy}, Params{Format: types.SampleFormatS16}, stereo44, nil, nil)
	if !errors.Is(err, ErrOpenStream) || !errors.Is(err, busy) {
		t.Errorf("open failure: got %v", err)
	}

	host := &fakeHost{failStart: true}
	_, err = TryOpen(host, Params{Format: types.SampleFormatS16}, stereo44, nil, nil)
	if !errors.Is(err, ErrPlayStream) {
		t.Errorf("start failure: got %v, want ErrPlayStream", err)
	}
	if !host.stream.closed {
		t.Error("stream should be closed after a failed start")
	}
}

func TestCallbackPlaysAndPadsSilence(t *testing.T) {
	host := &fakeHost{}
	controls := NewControls(1)
	s, err := TryOpen(host, Params{Format: types.SampleFormatS16}, stereo44, controls, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), s16Frame(t, stereo44, 1, 2, 3, 4)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if s.Buffered() != 2 {
		t.Errorf("Buffered: got %d, want 2", s.Buffered())
	}

	out := make([]byte, 4*2*2)
	host.cb(out)
	got := sample.FromBytes[int16](out)
	want := []int16{1, 2, 3, 4, 0, 0, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callback output: got %v, want %v", got, want)
		}
	}
	if controls.Played() != 2 {
		t.Errorf("Played: got %d, want 2", controls.Played())
	}
}

func TestCallbackPaused(t *testing.T) {
	host := &fakeHost{}
	controls := NewControls(1)
	s, err := TryOpen(host, Params{Format: types.SampleFormatS16}, stereo44, controls, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), s16Frame(t, stereo44, 7, 7)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	controls.SetPaused(true)
	out := []byte{0xff, 0xff, 0xff, 0xff}
	host.cb(out)
	for _, b := range out {
		if b != 0 {
			t.Fatalf("paused callback must emit silence, got %v", out)
		}
	}
	if s.Buffered() != 1 {
		t.Errorf("paused callback must not consume, buffered %d", s.Buffered())
	}
}

func TestCallbackFloatSink(t *testing.T) {
	host := &fakeHost{}
	s, err := TryOpen(host, Params{Format: types.SampleFormatF32, Channels: 1}, stereo44, nil, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	if s.Spec().Channels != 1 || s.Spec().Format != types.SampleFormatF32 {
		t.Fatalf("spec: got %s", s.Spec())
	}
	if err := s.Write(context.Background(), s16Frame(t, stereo44, 16384, 16384)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := make([]byte, 4)
	host.cb(out)
	if got := sample.FromBytes[float32](out)[0]; got != 0.5 {
		t.Errorf("downmixed sample: got %v, want 0.5", got)
	}
}

func TestAbortUnblocksWriter(t *testing.T) {
	host := &fakeHost{}
	s, err := TryOpen(host, Params{Format: types.SampleFormatS16, Latency: time.Millisecond}, stereo44, nil, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	big := s16Frame(t, stereo44, make([]int16, 2000)...)
	errc := make(chan error, 1)
	go func() { errc <- s.Write(context.Background(), big) }()

	time.Sleep(20 * time.Millisecond)
	s.Abort()

	select {
	case err := <-errc:
		if !errors.Is(err, ringbuffer.ErrClosed) {
			t.Errorf("got %v, want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatal("writer not released by Abort")
	}
}

func TestFlushDrainsAndStops(t *testing.T) {
	host := &fakeHost{}
	s, err := TryOpen(host, Params{Format: types.SampleFormatS16}, stereo44, nil, nil)
	if err != nil {
		t.Fatalf("TryOpen failed: %v", err)
	}
	defer s.Close()

	if err := s.Write(context.Background(), s16Frame(t, stereo44, 1, 1, 2, 2)); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	stop := make(chan struct{})
	go func() {
		buf := make([]byte, 8)
		for {
			select {
			case <-stop:
				return
			default:
				host.cb(buf)
				time.Sleep(time.Millisecond)
			}
		}
	}()
	defer close(stop)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if s.Buffered() != 0 {
		t.Errorf("Buffered after flush: %d", s.Buffered())
	}
	host.stream.mu.Lock()
	defer host.stream.mu.Unlock()
	if !host.stream.stopped {
		t.Error("stream not stopped after flush")
	}
}

func TestOutputOpensLazily(t *testing.T) {
	host := &fakeHost{}
	out := NewOutput(host, Params{Format: types.SampleFormatS16}, nil, nil)

	if _, ok := out.Spec(); ok {
		t.Fatal("spec must be unknown before the first frame")
	}
	if err := out.Flush(context.Background()); err != nil {
		t.Errorf("Flush before open: %v", err)
	}

	mono := types.SignalSpec{SampleRate: 22050, Channels: 1, Format: types.SampleFormatS16}
	if err := out.WriteFrame(context.Background(), s16Frame(t, mono, 5)); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}
	defer out.Close()

	spec, ok := out.Spec()
	if !ok || spec.SampleRate != 22050 || spec.Channels != 1 {
		t.Errorf("spec: got %s, %v", spec, ok)
	}
	if got, _ := out.Controls().Spec(); got != spec {
		t.Errorf("controls spec: got %s, want %s", got, spec)
	}
	if out.Buffered() != 1 {
		t.Errorf("Buffered: got %d, want 1", out.Buffered())
	}
}

func TestOutputAbortBeforeOpen(t *testing.T) {
	out := NewOutput(&fakeHost{}, Params{Format: types.SampleFormatS16}, nil, nil)
	out.Abort()

	err := out.WriteFrame(context.Background(), s16Frame(t, stereo44, 1, 1))
	if !errors.Is(err, ringbuffer.ErrClosed) {
		t.Errorf("got %v, want ErrClosed", err)
	}
}

func TestMatchDevice(t *testing.T) {
	devices := []*portaudio.DeviceInfo{
		{Index: 0, Name: "USB Microphone", MaxInputChannels: 1},
		{Index: 1, Name: "HDA Intel PCH: ALC892 Analog", MaxOutputChannels: 8},
		{Index: 2, Name: "USB Speakers", MaxOutputChannels: 2},
		{Index: 3, Name: "usb speakers", MaxOutputChannels: 2},
	}

	tests := []struct {
		name string
		want int
	}{
		{"USB SPEAKERS", 2},
		{"alc892", 1},
		{"speak", 2},
	}
	for _, tt := range tests {
		got, err := matchDevice(devices, tt.name)
		if err != nil || got != tt.want {
			t.Errorf("matchDevice(%q): got (%d, %v), want %d", tt.name, got, err, tt.want)
		}
	}

	if _, err := matchDevice(devices, "microphone"); !errors.Is(err, ErrNoDevice) {
		t.Errorf("input-only device: got %v, want ErrNoDevice", err)
	}
}
