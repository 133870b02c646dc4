package mp3

import (
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/streamplayer/pkg/decoders/internal/codecerr"
	"github.com/drgolem/streamplayer/pkg/types"

	gomp3 "github.com/hajimehoshi/go-mp3"
)

const (
	// go-mp3 always produces signed 16-bit little-endian stereo.
	channels   = 2
	blockAlign = channels * 2

	// FramesPerPacket is the number of PCM frames carried by each packet.
	FramesPerPacket = 4096
)

// Reader decodes MP3 with go-mp3 and hands out PCM packets.
// Unlike the file-oriented decoders, it works on non-seekable pipes, which is
// what the ffmpeg transcoder produces for remote references.
type Reader struct {
	dec      *gomp3.Decoder
	track    types.Track
	buf      []byte
	seekable bool
	src      *codecerr.Tracker
	pending  error
}

// NewReader parses the first MP3 frame from r.
func NewReader(r io.Reader) (*Reader, error) {
	r, src := codecerr.Wrap(r)
	dec, err := gomp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open MP3 stream: %w", err)
	}

	_, seekable := r.(io.Seeker)

	track := types.Track{
		ID:                 0,
		Codec:              types.CodecPCMS16LE,
		MaxFramesPerPacket: FramesPerPacket,
		Spec: types.SignalSpec{
			SampleRate: dec.SampleRate(),
			Channels:   channels,
			Format:     types.SampleFormatS16,
		},
	}
	if seekable {
		if length := dec.Length(); length > 0 {
			track.Frames = length / blockAlign
		}
	}

	return &Reader{
		dec:      dec,
		track:    track,
		buf:      make([]byte, FramesPerPacket*blockAlign),
		seekable: seekable,
		src:      src,
	}, nil
}

// Tracks returns the single stereo track.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket decodes up to FramesPerPacket frames. Corrupt MP3 data is
// reported as types.ErrMalformedPacket; a failing source is returned as is.
// An error that follows decoded data is held until the next call.
func (r *Reader) NextPacket() (types.Packet, error) {
	if err := r.pending; err != nil {
		r.pending = nil
		return types.Packet{}, err
	}
	n, err := io.ReadFull(r.dec, r.buf)
	err = r.src.Classify("mp3", err)
	if n > 0 {
		n -= n % blockAlign
		if err != io.EOF {
			r.pending = err
		}
		return types.Packet{TrackID: r.track.ID, Data: r.buf[:n]}, nil
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

// SeekFrame moves to frame. It requires a seekable source.
func (r *Reader) SeekFrame(frame int64) error {
	if !r.seekable {
		return errors.New("mp3: source is not seekable")
	}
	r.pending = nil
	if _, err := r.dec.Seek(frame*blockAlign, io.SeekStart); err != nil {
		return fmt.Errorf("mp3 seek: %w", err)
	}
	return nil
}

// Close is a no-op; the source is owned by the caller.
func (r *Reader) Close() error {
	return nil
}
