package flac

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/drgolem/streamplayer/pkg/types"

	goflac "github.com/drgolem/go-flac/flac"
)

const (
	// outputBits is the PCM depth requested from libFLAC.
	outputBits = 16

	// FramesPerPacket is the number of PCM frames decoded per packet.
	FramesPerPacket = 4096
)

// Reader decodes a FLAC file through go-flac. libFLAC opens the file by
// name, so only local paths are supported.
type Reader struct {
	decoder *goflac.FlacDecoder
	track   types.Track
	buf     []byte
	pending error
}

// NewReader opens fileName for decoding.
func NewReader(fileName string) (*Reader, error) {
	if fileName == "" {
		return nil, errors.New("flac: a local file path is required")
	}

	decoder, err := goflac.NewFlacFrameDecoder(outputBits)
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Open(fileName); err != nil {
		decoder.Delete()
		return nil, fmt.Errorf("failed to open file %s: %w", fileName, err)
	}

	rate, channels, bps := decoder.GetFormat()
	if bps != outputBits || channels <= 0 {
		decoder.Close()
		decoder.Delete()
		return nil, fmt.Errorf("unexpected FLAC output format: %d channels, %d bits", channels, bps)
	}

	spec := types.SignalSpec{SampleRate: rate, Channels: channels, Format: types.SampleFormatS16}
	return &Reader{
		decoder: decoder,
		track: types.Track{
			ID:                 0,
			Codec:              types.CodecPCMS16LE,
			Spec:               spec,
			MaxFramesPerPacket: FramesPerPacket,
		},
		buf: make([]byte, FramesPerPacket*spec.BlockAlign()),
	}, nil
}

// Tracks returns the single decoded track.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket decodes the next block of samples. go-flac signals the end of
// the stream with zero samples. Other libFLAC errors mark a damaged frame.
func (r *Reader) NextPacket() (types.Packet, error) {
	if r.decoder == nil {
		return types.Packet{}, errors.New("decoder not initialized")
	}
	if err := r.pending; err != nil {
		r.pending = nil
		return types.Packet{}, err
	}

	n, err := r.decoder.DecodeSamples(FramesPerPacket, r.buf)
	switch {
	case err == nil:
	case isEndOfStream(err):
		err = io.EOF
	default:
		err = fmt.Errorf("flac: %w: %w", types.ErrMalformedPacket, err)
	}
	if n > 0 {
		if err != io.EOF {
			r.pending = err
		}
		return types.Packet{TrackID: r.track.ID, Data: r.buf[:n*r.track.Spec.BlockAlign()]}, nil
	}
	if err == nil {
		err = io.EOF
	}
	return types.Packet{}, err
}

// libFLAC reports the end state as a text error rather than io.EOF.
func isEndOfStream(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "EOF") || strings.Contains(msg, "done")
}

// Close releases the libFLAC decoder. It is safe to call more than once.
func (r *Reader) Close() error {
	if r.decoder != nil {
		r.decoder.Close()
		r.decoder.Delete()
		r.decoder = nil
	}
	return nil
}
