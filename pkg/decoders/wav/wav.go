package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/youpy/go-wav"
)

// WAVE format tags handled besides wav.AudioFormatPCM.
const (
	formatIEEEFloat  = 3
	formatALaw       = 6
	formatMuLaw      = 7
	formatExtensible = 0xFFFE

	headerSize = 44
)

// FramesPerPacket is the number of frames carried by each packet.
const FramesPerPacket = 4096

// Reader demuxes a RIFF/WAVE stream into packets using go-wav.
// go-wav walks chunks through io.ReaderAt, so the input must be seekable.
type Reader struct {
	reader *wav.Reader
	track  types.Track
	buf    []byte
	align  int
}

// NewReader reads the fmt chunk from r. path, when set, is used to estimate
// the track length.
func NewReader(r io.Reader, path string) (*Reader, error) {
	ra, ok := r.(interface {
		io.Reader
		io.ReaderAt
	})
	if !ok {
		return nil, errors.New("wav: input is not seekable")
	}

	reader := wav.NewReader(ra)
	format, err := reader.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to read WAV format: %w", err)
	}

	track := types.Track{
		ID:                 0,
		MaxFramesPerPacket: FramesPerPacket,
		Spec: types.SignalSpec{
			SampleRate: int(format.SampleRate),
			Channels:   int(format.NumChannels),
		},
	}

	bps := int(format.BitsPerSample)
	align := track.Spec.Channels * bps / 8

	switch format.AudioFormat {
	case wav.AudioFormatPCM, formatExtensible:
		switch bps {
		case 8:
			track.Codec, track.Spec.Format = types.CodecPCMU8, types.SampleFormatU8
		case 16:
			track.Codec, track.Spec.Format = types.CodecPCMS16LE, types.SampleFormatS16
		case 24:
			track.Codec, track.Spec.Format = types.CodecPCMS24LE, types.SampleFormatS24
		case 32:
			track.Codec, track.Spec.Format = types.CodecPCMS32LE, types.SampleFormatS32
		default:
			return nil, fmt.Errorf("unsupported bits per sample: %d", bps)
		}
	case formatIEEEFloat:
		if bps != 32 {
			return nil, fmt.Errorf("unsupported float bits per sample: %d", bps)
		}
		track.Codec, track.Spec.Format = types.CodecPCMF32LE, types.SampleFormatF32
	case formatALaw, formatMuLaw:
		if bps != 8 {
			return nil, fmt.Errorf("unsupported G.711 bits per sample: %d", bps)
		}
		track.Codec = types.CodecPCMALaw
		if format.AudioFormat == formatMuLaw {
			track.Codec = types.CodecPCMMuLaw
		}
		track.Spec.Format = types.SampleFormatS16
	default:
		return nil, fmt.Errorf("unsupported WAV format: %d", format.AudioFormat)
	}

	if align <= 0 {
		return nil, fmt.Errorf("invalid block align for %d channels", track.Spec.Channels)
	}
	if path != "" {
		if st, err := os.Stat(path); err == nil && st.Size() > headerSize {
			track.Frames = (st.Size() - headerSize) / int64(align)
		}
	}

	return &Reader{
		reader: reader,
		track:  track,
		buf:    make([]byte, FramesPerPacket*align),
		align:  align,
	}, nil
}

// Tracks returns the single PCM track.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket returns up to FramesPerPacket frames. A truncated final frame is
// passed through so the codec can reject it as malformed.
func (r *Reader) NextPacket() (types.Packet, error) {
	n, err := io.ReadFull(r.reader, r.buf)
	if n > 0 {
		return types.Packet{TrackID: r.track.ID, Data: r.buf[:n]}, nil
	}
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return types.Packet{}, err
}

// Close is a no-op; the underlying file belongs to the caller.
func (r *Reader) Close() error {
	return nil
}
