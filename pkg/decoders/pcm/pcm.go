// Package pcm turns packets of uncompressed or G.711 audio into frames.
package pcm

import (
	"encoding/binary"
	"fmt"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/zaf/g711"
)

// Supported reports whether codec can be decoded by this package.
func Supported(codec types.CodecID) bool {
	switch codec {
	case types.CodecPCMU8, types.CodecPCMS16LE, types.CodecPCMS24LE,
		types.CodecPCMS32LE, types.CodecPCMF32LE,
		types.CodecPCMALaw, types.CodecPCMMuLaw:
		return true
	}
	return false
}

// Decoder converts packets of one track into a reused audioframe.Frame.
type Decoder struct {
	track      types.Track
	frame      *audioframe.Frame
	inputAlign int // bytes per input frame
}

// NewDecoder creates a decoder for track. The frame capacity is fixed to
// track.MaxFramesPerPacket for the decoder's lifetime.
func NewDecoder(track types.Track) (*Decoder, error) {
	if !Supported(track.Codec) {
		return nil, fmt.Errorf("unsupported codec %q", track.Codec)
	}
	if track.Spec.Channels <= 0 || track.Spec.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid track spec %s", track.Spec)
	}
	if track.MaxFramesPerPacket <= 0 {
		return nil, fmt.Errorf("track %d: max frames per packet not set", track.ID)
	}

	inputAlign := track.Spec.BlockAlign()
	if isG711(track.Codec) {
		if track.Spec.Format != types.SampleFormatS16 {
			return nil, fmt.Errorf("codec %q must decode to s16, got %s", track.Codec, track.Spec.Format)
		}
		inputAlign = track.Spec.Channels
	}
	if inputAlign == 0 {
		return nil, fmt.Errorf("invalid sample format %s", track.Spec.Format)
	}

	return &Decoder{
		track:      track,
		frame:      audioframe.New(track.Spec, track.MaxFramesPerPacket),
		inputAlign: inputAlign,
	}, nil
}

// Decode decodes pkt. The returned frame is reused by the next call.
// Packets that do not hold a whole number of frames, or more frames than the
// decoder capacity, fail with types.ErrMalformedPacket.
func (d *Decoder) Decode(pkt types.Packet) (*audioframe.Frame, error) {
	if len(pkt.Data)%d.inputAlign != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", types.ErrMalformedPacket, len(pkt.Data), d.inputAlign)
	}
	n := len(pkt.Data) / d.inputAlign
	if n > d.frame.Capacity() {
		return nil, fmt.Errorf("%w: %d frames exceed capacity %d", types.ErrMalformedPacket, n, d.frame.Capacity())
	}

	out, err := d.frame.Fill(n)
	if err != nil {
		return nil, err
	}

	switch d.track.Codec {
	case types.CodecPCMALaw:
		for i, b := range pkt.Data {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(g711.DecodeAlawFrame(b)))
		}
	case types.CodecPCMMuLaw:
		for i, b := range pkt.Data {
			binary.LittleEndian.PutUint16(out[i*2:], uint16(g711.DecodeUlawFrame(b)))
		}
	default:
		copy(out, pkt.Data)
	}
	return d.frame, nil
}

// Track returns the track this decoder was built for.
func (d *Decoder) Track() types.Track {
	return d.track
}

func isG711(c types.CodecID) bool {
	return c == types.CodecPCMALaw || c == types.CodecPCMMuLaw
}
