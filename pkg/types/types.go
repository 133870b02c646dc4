package types

import (
	"errors"
	"fmt"
	"time"

	"github.com/drgolem/ringbuffer"
)

// SampleFormat identifies how a single PCM sample is laid out in memory.
// All multi-byte formats are little-endian and interleaved by channel.
type SampleFormat int

const (
	SampleFormatUnknown SampleFormat = iota
	SampleFormatU8
	SampleFormatS16
	SampleFormatS24 // packed, 3 bytes per sample
	SampleFormatS32
	SampleFormatF32
)

// BytesPerSample returns the storage size of one sample, or 0 for unknown formats.
func (f SampleFormat) BytesPerSample() int {
	switch f {
	case SampleFormatU8:
		return 1
	case SampleFormatS16:
		return 2
	case SampleFormatS24:
		return 3
	case SampleFormatS32, SampleFormatF32:
		return 4
	}
	return 0
}

func (f SampleFormat) String() string {
	switch f {
	case SampleFormatU8:
		return "u8"
	case SampleFormatS16:
		return "s16"
	case SampleFormatS24:
		return "s24"
	case SampleFormatS32:
		return "s32"
	case SampleFormatF32:
		return "f32"
	}
	return "unknown"
}

// ParseSampleFormat accepts the names used on the command line and in config files.
func ParseSampleFormat(s string) (SampleFormat, error) {
	switch s {
	case "u8", "uint8":
		return SampleFormatU8, nil
	case "s16", "int16":
		return SampleFormatS16, nil
	case "s24", "int24":
		return SampleFormatS24, nil
	case "s32", "int32":
		return SampleFormatS32, nil
	case "f32", "float32":
		return SampleFormatF32, nil
	}
	return SampleFormatUnknown, fmt.Errorf("unknown sample format %q", s)
}

// SignalSpec describes decoded PCM: rate, channel count and sample layout.
type SignalSpec struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
}

// BlockAlign is the size in bytes of one interleaved frame.
func (s SignalSpec) BlockAlign() int {
	return s.Channels * s.Format.BytesPerSample()
}

func (s SignalSpec) String() string {
	return fmt.Sprintf("%dHz:%s:%dch", s.SampleRate, s.Format, s.Channels)
}

// OutputSpec is what an opened output device actually consumes.
// It is fixed for the life of the device handle.
type OutputSpec struct {
	SampleRate int
	Channels   int
	Format     SampleFormat
}

func (s OutputSpec) String() string {
	return fmt.Sprintf("%dHz:%s:%dch", s.SampleRate, s.Format, s.Channels)
}

// SamplesFor returns the interleaved sample count covering d at this spec.
func (s OutputSpec) SamplesFor(d time.Duration) int {
	frames := int(int64(s.SampleRate) * d.Milliseconds() / 1000)
	return frames * s.Channels
}

// FormatHint helps the prober pick a container format.
type FormatHint struct {
	Extension string // lower case, without the dot
	MIME      string
}

// CodecID names the payload carried by a track's packets.
type CodecID string

const (
	CodecPCMU8    CodecID = "pcm_u8"
	CodecPCMS16LE CodecID = "pcm_s16le"
	CodecPCMS24LE CodecID = "pcm_s24le"
	CodecPCMS32LE CodecID = "pcm_s32le"
	CodecPCMF32LE CodecID = "pcm_f32le"
	CodecPCMALaw  CodecID = "pcm_alaw"
	CodecPCMMuLaw CodecID = "pcm_mulaw"
)

// Track is one stream inside a probed container.
type Track struct {
	ID    int
	Codec CodecID
	// Spec is the layout of decoded frames (after codec decoding).
	Spec SignalSpec
	// Frames is the total length in frames, 0 when unknown.
	Frames int64
	// MaxFramesPerPacket bounds the decoded frame capacity.
	MaxFramesPerPacket int
}

// Duration returns the track length, or 0 when unknown.
func (t Track) Duration() time.Duration {
	if t.Frames <= 0 || t.Spec.SampleRate <= 0 {
		return 0
	}
	return time.Duration(t.Frames) * time.Second / time.Duration(t.Spec.SampleRate)
}

// Packet is one unit of demuxed payload for a track.
type Packet struct {
	TrackID int
	Data    []byte
}

// Tag is a metadata key/value pair seen while demuxing.
type Tag struct {
	Key   string
	Value string
}

// FormatReader demuxes a container into packets.
// NextPacket returns io.EOF at end of stream.
type FormatReader interface {
	Tracks() []Track
	NextPacket() (Packet, error)
	Close() error
}

// Seeker is implemented by format readers that can reposition.
type Seeker interface {
	SeekFrame(frame int64) error
}

// MetadataReader is implemented by format readers that surface tags while streaming.
type MetadataReader interface {
	DrainMetadata() []Tag
}

var (
	// ErrResetRequired means the stream changed layout mid-way and needs a re-probe.
	ErrResetRequired = errors.New("format reset required")

	// ErrMalformedPacket marks a single damaged packet; decoding may continue.
	ErrMalformedPacket = errors.New("malformed packet")

	// ErrPacketIO marks a per-packet read hiccup; decoding may continue.
	ErrPacketIO = errors.New("packet i/o error")
)

// PlaybackStatus holds unified playback information for audio players.
type PlaybackStatus struct {
	FileName        string        // Title or base name of the current reference
	SampleRate      int           // Output sample rate in Hz
	Channels        int           // Output channel count
	BitsPerSample   int           // Output bit depth
	FramesPerBuffer int           // PortAudio frames per buffer
	PlayedSamples   uint64        // Frames actually handed to the device
	BufferedSamples uint64        // Frames decoded but not yet played
	ElapsedTime     time.Duration // Wall-clock time since playback started
}

// PlaybackMonitor is an interface for types that can report playback status.
type PlaybackMonitor interface {
	GetPlaybackStatus() PlaybackStatus
}

// ErrInsufficientSpace is returned by non-blocking ring writes when nothing fits.
var ErrInsufficientSpace = ringbuffer.ErrInsufficientSpace

// PCMCodec returns the raw PCM codec that carries samples of format f.
func PCMCodec(f SampleFormat) CodecID {
	switch f {
	case SampleFormatU8:
		return CodecPCMU8
	case SampleFormatS16:
		return CodecPCMS16LE
	case SampleFormatS24:
		return CodecPCMS24LE
	case SampleFormatS32:
		return CodecPCMS32LE
	case SampleFormatF32:
		return CodecPCMF32LE
	}
	return ""
}
