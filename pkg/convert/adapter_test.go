package convert

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/types"

	soxr "github.com/zaf/resample"
)

func s16Frame(t *testing.T, rate, channels int, values ...int16) *audioframe.Frame {
	t.Helper()
	spec := types.SignalSpec{SampleRate: rate, Channels: channels, Format: types.SampleFormatS16}
	f := audioframe.New(spec, len(values)/channels+1)
	buf, err := f.Fill(len(values) / channels)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	for i, v := range values {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
	}
	return f
}

func TestConvertMatchingRateNoResampler(t *testing.T) {
	in := types.SignalSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	a, err := New[int16](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer a.Close()

	if a.Resampling() {
		t.Fatal("Resampling: got true, want false at matching rates")
	}

	values := []int16{0, 100, -100, 32767, -32768, 5}
	got, err := a.Convert(s16Frame(t, 44100, 2, values...))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(got) != 3*2 {
		t.Fatalf("len: got %d, want %d", len(got), 6)
	}
	for i, v := range values[:4] {
		if got[i] != v {
			t.Errorf("sample %d: got %d, want %d", i, got[i], v)
		}
	}

	tail, err := a.Flush()
	if err != nil || len(tail) != 0 {
		t.Errorf("Flush: got (%d samples, %v), want (0, nil)", len(tail), err)
	}
}

func TestConvertMonoToStereo(t *testing.T) {
	in := types.SignalSpec{SampleRate: 8000, Channels: 1, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 8000, Channels: 2, Format: types.SampleFormatF32}
	a, err := New[float32](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := a.Convert(s16Frame(t, 8000, 1, 16384, -16384))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	want := []float32{0.5, 0.5, -0.5, -0.5}
	if len(got) != len(want) {
		t.Fatalf("len: got %d, want %d", len(got), len(want))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestConvertStereoToMonoAndGain(t *testing.T) {
	in := types.SignalSpec{SampleRate: 8000, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 8000, Channels: 1, Format: types.SampleFormatF32}
	gain := NewGain(0.5)
	a, err := New[float32](in, out, soxr.HighQ, gain)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := a.Convert(s16Frame(t, 8000, 2, 16384, 0))
	if err != nil {
		t.Fatalf("Convert failed: %v", err)
	}
	if len(got) != 1 || math.Abs(float64(got[0]-0.125)) > 1e-6 {
		t.Errorf("got %v, want [0.125]", got)
	}

	a.SetGain(0)
	if gain.Load() != 0 {
		t.Errorf("shared gain: got %v, want 0", gain.Load())
	}
	got, _ = a.Convert(s16Frame(t, 8000, 2, 16384, 16384))
	if got[0] != 0 {
		t.Errorf("muted: got %v, want 0", got[0])
	}
}

func TestNewRejectsLayouts(t *testing.T) {
	in := types.SignalSpec{SampleRate: 48000, Channels: 6, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 48000, Channels: 2, Format: types.SampleFormatS16}
	if _, err := New[int16](in, out, soxr.HighQ, nil); !errors.Is(err, ErrUnsupportedLayout) {
		t.Errorf("got %v, want ErrUnsupportedLayout", err)
	}

	out.Format = types.SampleFormatF32
	in.Channels = 2
	if _, err := New[int16](in, out, soxr.HighQ, nil); err == nil {
		t.Error("expected error for sample type mismatch")
	}
}

func TestConvertRejectsSpecChange(t *testing.T) {
	in := types.SignalSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	a, err := New[int16](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := a.Convert(s16Frame(t, 48000, 2, 1, 1)); !errors.Is(err, ErrSpecChanged) {
		t.Errorf("got %v, want ErrSpecChanged", err)
	}
}

func TestResampleWithFlush(t *testing.T) {
	in := types.SignalSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 48000, Channels: 2, Format: types.SampleFormatS16}
	a, err := New[int16](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if !a.Resampling() {
		t.Fatal("Resampling: got false, want true")
	}

	const framesPerCall = 441
	values := make([]int16, framesPerCall*2)
	for i := range values {
		values[i] = int16(1000 * math.Sin(float64(i/2)*0.05))
	}

	total := 0
	for i := 0; i < 10; i++ {
		got, err := a.Convert(s16Frame(t, 44100, 2, values...))
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		if len(got)%2 != 0 {
			t.Fatalf("Convert returned a partial frame: %d samples", len(got))
		}
		total += len(got) / 2
	}

	tail, err := a.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	total += len(tail) / 2

	want := 4800
	if total < want-48 || total > want+48 {
		t.Errorf("resampled frames: got %d, want about %d", total, want)
	}

	if _, err := a.Convert(s16Frame(t, 44100, 2, values...)); err == nil {
		t.Error("Convert after Flush: expected error")
	}
}

func TestDownsampleShortPacketThenFlush(t *testing.T) {
	in := types.SignalSpec{SampleRate: 48000, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	a, err := New[int16](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	got, err := a.Convert(s16Frame(t, 48000, 2, 1000, -1000))
	if err != nil {
		t.Fatalf("Convert of a single frame failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("single frame: got %d samples, want 0 while held", len(got))
	}

	tail, err := a.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(tail)%2 != 0 {
		t.Errorf("Flush returned a partial frame: %d samples", len(tail))
	}
}

func TestDownsampleTrailingFrame(t *testing.T) {
	in := types.SignalSpec{SampleRate: 48000, Channels: 2, Format: types.SampleFormatS16}
	out := types.OutputSpec{SampleRate: 44100, Channels: 2, Format: types.SampleFormatS16}
	a, err := New[int16](in, out, soxr.HighQ, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	const packetFrames = 4096
	values := make([]int16, packetFrames*2)
	for i := range values {
		values[i] = int16(1000 * math.Sin(float64(i/2)*0.05))
	}

	total := 0
	for _, frame := range []*audioframe.Frame{
		s16Frame(t, 48000, 2, values...),
		s16Frame(t, 48000, 2, 7, 7),
	} {
		got, err := a.Convert(frame)
		if err != nil {
			t.Fatalf("Convert failed: %v", err)
		}
		total += len(got) / 2
	}
	tail, err := a.Flush()
	if err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	total += len(tail) / 2

	want := (packetFrames + 1) * 44100 / 48000
	if total < want-48 || total > want+48 {
		t.Errorf("resampled frames: got %d, want about %d", total, want)
	}
}

func TestParseQuality(t *testing.T) {
	tests := []struct {
		name string
		want int
	}{
		{"", soxr.HighQ},
		{"quick", soxr.Quick},
		{"veryhigh", soxr.VeryHighQ},
	}
	for _, tt := range tests {
		got, err := ParseQuality(tt.name)
		if err != nil || got != tt.want {
			t.Errorf("ParseQuality(%q): got (%d, %v), want %d", tt.name, got, err, tt.want)
		}
	}
	if _, err := ParseQuality("best"); err == nil {
		t.Error("ParseQuality(best): expected error")
	}
}
