package stream

import (
	"context"
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/drgolem/streamplayer/pkg/types"
)

// Tone generates a 16-bit sine wave. It is used to check an output device
// without any media file.
type Tone struct {
	format    AudioFormat
	freq      float64
	amplitude float64
	total     int64
	pos       int64
	buf       []byte
}

// NewTone returns a provider producing freq Hz for d at the given rate and channel count.
func NewTone(sampleRate, channels int, freq float64, d time.Duration) *Tone {
	return &Tone{
		format:    AudioFormat{SampleRate: sampleRate, Channels: channels, Format: types.SampleFormatS16},
		freq:      freq,
		amplitude: 0.5,
		total:     int64(d.Seconds() * float64(sampleRate)),
	}
}

// Format returns the packet format produced by the tone.
func (t *Tone) Format() AudioFormat {
	return t.format
}

// ReadAudioPacket generates the next block of the sine wave.
func (t *Tone) ReadAudioPacket(ctx context.Context, samples int) (*AudioPacket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	remaining := t.total - t.pos
	if remaining <= 0 {
		return nil, io.EOF
	}
	n := int(min(int64(samples), remaining))

	size := n * t.format.Channels * 2
	if cap(t.buf) < size {
		t.buf = make([]byte, size)
	}
	buf := t.buf[:size]

	step := 2 * math.Pi * t.freq / float64(t.format.SampleRate)
	for i := 0; i < n; i++ {
		v := int16(math.Sin(step*float64(t.pos+int64(i))) * t.amplitude * math.MaxInt16)
		for ch := 0; ch < t.format.Channels; ch++ {
			binary.LittleEndian.PutUint16(buf[(i*t.format.Channels+ch)*2:], uint16(v))
		}
	}
	t.pos += int64(n)

	return &AudioPacket{Audio: buf, SamplesCount: n, Format: t.format}, nil
}
