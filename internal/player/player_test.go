package player

import (
	"encoding/binary"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/decoders/wav"
	"github.com/drgolem/streamplayer/pkg/output"
	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"
)

var stereo44 = types.SignalSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}

// writeWAV writes frames of a constant value and returns the file name.
func writeWAV(t *testing.T, name string, frames int, value int16) string {
	t.Helper()
	data := make([]byte, frames*stereo44.BlockAlign())
	for i := 0; i < len(data); i += 2 {
		binary.LittleEndian.PutUint16(data[i:], uint16(value))
	}
	path := filepath.Join(t.TempDir(), name)
	if err := wav.WriteFile(path, stereo44, data); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

// fakeHost drains each opened stream from a goroutine, the way a device would.
type fakeHost struct {
	openErr error

	mu      sync.Mutex
	events  []string
	streams []*fakeStream
}

type fakeStream struct {
	host *fakeHost
	id   int
	cb   output.Callback
	bpf  int

	mu      sync.Mutex
	samples []int16
	stop    chan struct{}
	done    chan struct{}
}

func (h *fakeHost) record(ev string) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *fakeHost) OpenStream(p output.StreamParams, cb output.Callback) (output.Stream, error) {
	if h.openErr != nil {
		return nil, h.openErr
	}
	h.mu.Lock()
	s := &fakeStream{host: h, id: len(h.streams), cb: cb, bpf: p.Channels * p.Format.BytesPerSample()}
	h.streams = append(h.streams, s)
	h.events = append(h.events, "open")
	h.mu.Unlock()
	return s, nil
}

func (h *fakeHost) opened() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.streams)
}

func (h *fakeHost) stream(i int) *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.streams[i]
}

func (h *fakeHost) eventLog() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.events...)
}

func (s *fakeStream) Start() error {
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		buf := make([]byte, 256*s.bpf)
		for {
			select {
			case <-s.stop:
				return
			case <-time.After(time.Millisecond):
			}
			s.cb(buf)
			s.mu.Lock()
			s.samples = append(s.samples, sample.FromBytes[int16](buf)...)
			s.mu.Unlock()
		}
	}()
	return nil
}

func (s *fakeStream) Stop() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}

func (s *fakeStream) Close() error {
	s.host.record("close")
	return nil
}

func (s *fakeStream) played() []int16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int16(nil), s.samples...)
}

func newController(host output.Host) *Controller {
	return New(Options{
		Host:     host,
		Output:   output.Params{Format: types.SampleFormatS16, FramesPerBuffer: 256},
		Resolver: resolver.New(resolver.Config{}, nil),
		Volume:   100,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, c *Controller, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool {
		s, _ := c.State()
		return s == want
	})
}

func TestPlayWithoutDevice(t *testing.T) {
	c := newController(&fakeHost{openErr: errors.New("no default output device")})
	defer c.Close()

	file := writeWAV(t, "three.wav", 3*44100, 1000)
	if err := c.Play(file); err != nil {
		t.Fatalf("Play failed: %v", err)
	}

	waitState(t, c, StateError)
	_, err := c.State()
	if !errors.Is(err, output.ErrOpenStream) {
		t.Errorf("state error: got %v, want ErrOpenStream", err)
	}

	var n Notification
	waitFor(t, "error notification", func() bool {
		select {
		case n = <-c.Notifications():
			return n.Err != nil
		default:
			return false
		}
	})
	if !errors.Is(n.Err, output.ErrOpenStream) {
		t.Errorf("notification error: got %v", n.Err)
	}
}

func TestPlayResolveError(t *testing.T) {
	c := newController(&fakeHost{})
	defer c.Close()

	err := c.Play(filepath.Join(t.TempDir(), "missing.flac"))
	if !errors.Is(err, resolver.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
	if s, _ := c.State(); s != StateError {
		t.Errorf("state: got %s, want error", s)
	}
}

func TestPlayReplacesSession(t *testing.T) {
	host := &fakeHost{}
	c := newController(host)
	defer c.Close()

	a := writeWAV(t, "a.wav", 10*44100, 1000)
	b := writeWAV(t, "b.wav", 2*44100, -1000)

	if err := c.Play(a); err != nil {
		t.Fatalf("Play(a) failed: %v", err)
	}
	waitFor(t, "a to play", func() bool {
		return host.opened() == 1 && len(host.stream(0).played()) > 0
	})

	if err := c.Play(b); err != nil {
		t.Fatalf("Play(b) failed: %v", err)
	}
	waitFor(t, "b to play", func() bool {
		return host.opened() == 2 && len(host.stream(1).played()) > 0
	})

	events := host.eventLog()
	if len(events) < 3 || events[0] != "open" || events[1] != "close" || events[2] != "open" {
		t.Errorf("device events: got %v, want open, close, open", events)
	}
	for _, v := range host.stream(1).played() {
		if v == 1000 {
			t.Fatal("samples of the replaced session reached the new device")
		}
	}
	if title, _ := c.MediaTitle(); title != "b.wav" {
		t.Errorf("MediaTitle: got %q, want b.wav", title)
	}
}

func TestQueueAdvancesOnEnd(t *testing.T) {
	host := &fakeHost{}
	c := newController(host)
	defer c.Close()

	first := writeWAV(t, "first.wav", 4410, 100)
	second := writeWAV(t, "second.wav", 4410, 200)

	if err := c.Queue(first); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}
	if err := c.Queue(second); err != nil {
		t.Fatalf("Queue failed: %v", err)
	}

	waitFor(t, "second track", func() bool { return host.opened() == 2 })
	waitState(t, c, StateIdle)

	if err := c.Next(); !errors.Is(err, ErrQueueEmpty) {
		t.Errorf("Next on empty queue: got %v", err)
	}
}

func TestOperationsWithoutSession(t *testing.T) {
	c := newController(&fakeHost{})
	defer c.Close()

	if err := c.TogglePause(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("TogglePause: got %v", err)
	}
	if err := c.Seek(5, true); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("Seek: got %v", err)
	}
	if _, err := c.MediaTitle(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("MediaTitle: got %v", err)
	}
	if _, err := c.TimePos(); !errors.Is(err, ErrNotPlaying) {
		t.Errorf("TimePos: got %v", err)
	}
	if c.Paused() {
		t.Error("Paused without a session")
	}
	if st := c.GetPlaybackStatus(); st.FileName != "" {
		t.Errorf("status without session: %+v", st)
	}
}

func TestVolumeAndMute(t *testing.T) {
	c := newController(&fakeHost{})
	defer c.Close()

	if err := c.SetVolume(150); !errors.Is(err, ErrInvalidVolume) {
		t.Errorf("SetVolume(150): got %v", err)
	}
	if err := c.SetVolume(40); err != nil {
		t.Fatalf("SetVolume failed: %v", err)
	}
	c.AddVolume(80)
	if c.Volume() != 100 {
		t.Errorf("Volume after add: got %d, want 100", c.Volume())
	}
	c.AddVolume(-30)
	if c.gain.Load() != 0.7 {
		t.Errorf("gain: got %v, want 0.7", c.gain.Load())
	}

	c.ToggleMute()
	if !c.Muted() || c.gain.Load() != 0 {
		t.Errorf("muted: %v, gain %v", c.Muted(), c.gain.Load())
	}
	if c.Volume() != 70 {
		t.Errorf("mute must keep the volume, got %d", c.Volume())
	}
	c.ToggleMute()
	if c.Muted() || c.gain.Load() != 0.7 {
		t.Errorf("unmuted: %v, gain %v", c.Muted(), c.gain.Load())
	}
}

func TestPauseAndPosition(t *testing.T) {
	host := &fakeHost{}
	c := newController(host)
	defer c.Close()

	file := writeWAV(t, "long.wav", 4*44100, 500)
	if err := c.Play(file); err != nil {
		t.Fatalf("Play failed: %v", err)
	}
	waitFor(t, "playback", func() bool { return c.GetPlaybackStatus().PlayedSamples > 0 })

	if err := c.TogglePause(); err != nil {
		t.Fatalf("TogglePause failed: %v", err)
	}
	if !c.Paused() {
		t.Fatal("expected paused")
	}
	played := c.GetPlaybackStatus().PlayedSamples
	time.Sleep(20 * time.Millisecond)
	if got := c.GetPlaybackStatus().PlayedSamples; got != played {
		t.Errorf("played advanced while paused: %d -> %d", played, got)
	}

	remaining, err := c.TimeRemaining()
	if err != nil || remaining > 4 {
		t.Errorf("TimeRemaining: got %d, %v", remaining, err)
	}
	if pct, err := c.PercentPos(); err != nil || pct < 0 || pct > 100 {
		t.Errorf("PercentPos: got %d, %v", pct, err)
	}
	if err := c.SeekAbsolute(50); !errors.Is(err, ErrSeekUnsupported) {
		t.Errorf("SeekAbsolute on wav: got %v, want ErrSeekUnsupported", err)
	}

	st := c.GetPlaybackStatus()
	if st.SampleRate != 44100 || st.Channels != 2 || st.BitsPerSample != 16 {
		t.Errorf("status format: %+v", st)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if s, _ := c.State(); s != StateIdle {
		t.Errorf("state after stop: %s", s)
	}
}
