package aiff

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/streamplayer/pkg/decoders/internal/codecerr"
	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
)

// FramesPerPacket is the number of PCM frames carried by each packet.
const FramesPerPacket = 4096

// ErrNotAIFF is returned when the FORM header is missing.
var ErrNotAIFF = errors.New("not a valid AIFF file")

// Reader decodes AIFF through go-audio/aiff and emits little-endian PCM packets.
type Reader struct {
	dec   *aiff.Decoder
	track types.Track
	ints  *goaudio.IntBuffer
	buf   []byte
	src   *codecerr.Tracker

	pending error
}

// NewReader parses the AIFF header. go-audio needs an io.ReadSeeker.
func NewReader(r io.Reader) (*Reader, error) {
	r, src := codecerr.Wrap(r)
	rs, ok := r.(io.ReadSeeker)
	if !ok {
		return nil, errors.New("aiff: input is not seekable")
	}

	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, ErrNotAIFF
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil || format.NumChannels <= 0 {
		return nil, fmt.Errorf("aiff: missing format information")
	}

	track := types.Track{
		ID:                 0,
		MaxFramesPerPacket: FramesPerPacket,
		Spec: types.SignalSpec{
			SampleRate: format.SampleRate,
			Channels:   format.NumChannels,
		},
	}
	switch dec.BitDepth {
	case 8:
		track.Codec, track.Spec.Format = types.CodecPCMU8, types.SampleFormatU8
	case 16:
		track.Codec, track.Spec.Format = types.CodecPCMS16LE, types.SampleFormatS16
	case 24:
		track.Codec, track.Spec.Format = types.CodecPCMS24LE, types.SampleFormatS24
	case 32:
		track.Codec, track.Spec.Format = types.CodecPCMS32LE, types.SampleFormatS32
	default:
		return nil, fmt.Errorf("aiff: unsupported bit depth %d", dec.BitDepth)
	}

	samples := FramesPerPacket * format.NumChannels
	return &Reader{
		dec:   dec,
		track: track,
		ints: &goaudio.IntBuffer{
			Data:   make([]int, samples),
			Format: format,
		},
		buf: make([]byte, samples*track.Spec.Format.BytesPerSample()),
		src: src,
	}, nil
}

// Tracks returns the single PCM track.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket reads up to FramesPerPacket frames. Undecodable sample data is
// reported as types.ErrMalformedPacket.
func (r *Reader) NextPacket() (types.Packet, error) {
	if err := r.pending; err != nil {
		r.pending = nil
		return types.Packet{}, err
	}
	n, err := r.dec.PCMBuffer(r.ints)
	err = r.src.Classify("aiff", err)
	if n == 0 {
		if err == nil {
			err = io.EOF
		}
		return types.Packet{}, err
	}
	if err != io.EOF {
		r.pending = err
	}

	width := r.track.Spec.Format.BytesPerSample()
	out := r.buf[:n*width]
	for i, v := range r.ints.Data[:n] {
		switch width {
		case 1:
			// AIFF 8-bit is signed
			out[i] = byte(v + 128)
		case 2:
			binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
		case 3:
			out[i*3] = byte(v)
			out[i*3+1] = byte(v >> 8)
			out[i*3+2] = byte(v >> 16)
		case 4:
			binary.LittleEndian.PutUint32(out[i*4:], uint32(int32(v)))
		}
	}
	return types.Packet{TrackID: r.track.ID, Data: out}, nil
}

// Close is a no-op; the source is owned by the caller.
func (r *Reader) Close() error {
	return nil
}
