package vorbis

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/drgolem/streamplayer/pkg/decoders/internal/codecerr"
	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/jfreymuth/oggvorbis"
)

// FramesPerPacket is the number of PCM frames carried by each packet.
const FramesPerPacket = 4096

// Reader decodes Ogg Vorbis with oggvorbis and emits f32le packets.
type Reader struct {
	dec      *oggvorbis.Reader
	track    types.Track
	values   []float32
	buf      []byte
	seekable bool
	src      *codecerr.Tracker
	pending  error
}

// NewReader reads the Vorbis headers from r.
func NewReader(r io.Reader) (*Reader, error) {
	r, src := codecerr.Wrap(r)
	dec, err := oggvorbis.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open Ogg Vorbis stream: %w", err)
	}

	channels := dec.Channels()
	_, seekable := r.(io.Seeker)
	track := types.Track{
		ID:                 0,
		Codec:              types.CodecPCMF32LE,
		MaxFramesPerPacket: FramesPerPacket,
		Spec: types.SignalSpec{
			SampleRate: dec.SampleRate(),
			Channels:   channels,
			Format:     types.SampleFormatF32,
		},
	}
	if seekable {
		track.Frames = dec.Length()
	}

	return &Reader{
		dec:      dec,
		track:    track,
		values:   make([]float32, FramesPerPacket*channels),
		buf:      make([]byte, FramesPerPacket*channels*4),
		seekable: seekable,
		src:      src,
	}, nil
}

// Tracks returns the single Vorbis track.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket decodes up to FramesPerPacket frames. oggvorbis returns the
// number of interleaved values decoded. Corrupt pages are reported as
// types.ErrMalformedPacket; an error that follows decoded data is held until
// the next call.
func (r *Reader) NextPacket() (types.Packet, error) {
	if err := r.pending; err != nil {
		r.pending = nil
		return types.Packet{}, err
	}
	n, err := r.dec.Read(r.values)
	err = r.src.Classify("vorbis", err)
	if n > 0 {
		if err != io.EOF {
			r.pending = err
		}
		for i, v := range r.values[:n] {
			binary.LittleEndian.PutUint32(r.buf[i*4:], math.Float32bits(v))
		}
		return types.Packet{TrackID: r.track.ID, Data: r.buf[:n*4]}, nil
	}
	if err == nil {
		err = io.EOF
	}
	return types.Packet{}, err
}

// Seekable reports whether SeekFrame can succeed.
func (r *Reader) Seekable() bool {
	return r.seekable
}

// SeekFrame moves to frame.
func (r *Reader) SeekFrame(frame int64) error {
	r.pending = nil
	if err := r.dec.SetPosition(frame); err != nil {
		return fmt.Errorf("vorbis seek: %w", err)
	}
	return nil
}

// Close is a no-op; the source is owned by the caller.
func (r *Reader) Close() error {
	return nil
}
