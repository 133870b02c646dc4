package stream

import (
	"context"
	"fmt"
	"io"

	"github.com/drgolem/streamplayer/pkg/types"
)

// FramesPerPacket is the request size passed to providers.
const FramesPerPacket = 4096

// AudioFormat describes the audio stream format
type AudioFormat struct {
	SampleRate int
	Channels   int
	Format     types.SampleFormat
}

func (f AudioFormat) spec() types.SignalSpec {
	return types.SignalSpec{SampleRate: f.SampleRate, Channels: f.Channels, Format: f.Format}
}

// AudioPacket represents a chunk of PCM produced by a provider.
type AudioPacket struct {
	TrackID      int
	Audio        []byte
	SamplesCount int
	Format       AudioFormat
	Tags         []types.Tag
}

// AudioPacketProvider is the interface for sources that provide audio data.
// This allows playing from any source: network streams, generators, buffers.
type AudioPacketProvider interface {
	// ReadAudioPacket reads the next audio packet of at most samples frames.
	// Returns io.EOF when the stream ends.
	ReadAudioPacket(ctx context.Context, samples int) (*AudioPacket, error)
}

// Reader adapts an AudioPacketProvider to types.FormatReader.
// A packet whose format differs from the initial one ends the stream with
// types.ErrResetRequired.
type Reader struct {
	ctx      context.Context
	provider AudioPacketProvider
	track    types.Track
	format   AudioFormat
	tags     []types.Tag
}

// NewReader creates a reader for a provider whose packets start in initialFormat.
func NewReader(ctx context.Context, provider AudioPacketProvider, initialFormat AudioFormat) (*Reader, error) {
	codec := types.PCMCodec(initialFormat.Format)
	if codec == "" || initialFormat.Channels <= 0 || initialFormat.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream format %+v", initialFormat)
	}
	return &Reader{
		ctx:      ctx,
		provider: provider,
		format:   initialFormat,
		track: types.Track{
			ID:                 0,
			Codec:              codec,
			Spec:               initialFormat.spec(),
			MaxFramesPerPacket: FramesPerPacket,
		},
	}, nil
}

// Tracks returns the single track described by the stream format.
func (r *Reader) Tracks() []types.Track {
	return []types.Track{r.track}
}

// NextPacket pulls the next packet from the provider.
func (r *Reader) NextPacket() (types.Packet, error) {
	pkt, err := r.provider.ReadAudioPacket(r.ctx, FramesPerPacket)
	if err != nil {
		return types.Packet{}, err
	}
	if pkt == nil {
		return types.Packet{}, io.EOF
	}

	r.tags = append(r.tags, pkt.Tags...)

	if pkt.SamplesCount > 0 && pkt.Format != r.format {
		return types.Packet{}, fmt.Errorf("%w: %s -> %s", types.ErrResetRequired, r.format.spec(), pkt.Format.spec())
	}

	return types.Packet{TrackID: pkt.TrackID, Data: pkt.Audio}, nil
}

// DrainMetadata returns and clears tags collected since the last call.
func (r *Reader) DrainMetadata() []types.Tag {
	tags := r.tags
	r.tags = nil
	return tags
}

// Close stops pulling from the provider.
func (r *Reader) Close() error {
	if c, ok := r.provider.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// ChannelProvider serves packets pushed into a channel. Closing the channel ends the stream.
type ChannelProvider struct {
	packets <-chan *AudioPacket
}

// NewChannelProvider serves packets from a channel until it is closed.
func NewChannelProvider(packets <-chan *AudioPacket) *ChannelProvider {
	return &ChannelProvider{packets: packets}
}

// ReadAudioPacket returns the next queued packet, or io.EOF once the channel is closed.
func (p *ChannelProvider) ReadAudioPacket(ctx context.Context, samples int) (*AudioPacket, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case pkt, ok := <-p.packets:
		if !ok {
			return nil, io.EOF
		}
		return pkt, nil
	}
}
