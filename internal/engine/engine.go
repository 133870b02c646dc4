// Package engine runs the demux/decode loop for one playback session.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/decoders"
	"github.com/drgolem/streamplayer/pkg/decoders/pcm"
	"github.com/drgolem/streamplayer/pkg/types"
)

var (
	// ErrUnsupportedFormat means no registered container matched the input.
	ErrUnsupportedFormat = decoders.ErrUnsupportedFormat

	// ErrNoTrack means the container holds no track with a supported codec.
	ErrNoTrack = errors.New("no decodable audio track")
)

// ProbeError is returned when a session cannot start decoding.
type ProbeError struct {
	Err error
}

func (e *ProbeError) Error() string {
	return "probe: " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// PacketError reports a packet level failure. Only fatal ones leave Run.
type PacketError struct {
	Fatal bool
	Err   error
}

func (e *PacketError) Error() string {
	if e.Fatal {
		return "fatal packet error: " + e.Err.Error()
	}
	return "packet error: " + e.Err.Error()
}

func (e *PacketError) Unwrap() error {
	return e.Err
}

// FrameSink receives decoded frames in presentation order.
type FrameSink interface {
	// WriteFrame may block on backpressure. f is only valid during the call.
	WriteFrame(ctx context.Context, f *audioframe.Frame) error
	// Flush is called once after a normal end of stream.
	Flush(ctx context.Context) error
}

// Stats counts what Run did with the packets it pulled.
type Stats struct {
	Packets int
	Frames  int64
	Skipped int
	Foreign int
}

const noSeek = -1

// maxReadSkips bounds consecutive recoverable NextPacket failures before
// the reader is treated as stuck.
const maxReadSkips = 32

// Stream is a probed source with its selected track and decoder.
type Stream struct {
	reader  types.FormatReader
	format  string
	track   types.Track
	decoder *pcm.Decoder
	log     *slog.Logger

	seekTo     atomic.Int64
	onMetadata func([]types.Tag)
	stats      Stats

	closeOnce sync.Once
	closeErr  error
}

// Probe identifies the container of in and selects its first decodable track.
func Probe(reg *decoders.Registry, in decoders.Input, log *slog.Logger) (*Stream, error) {
	reader, name, err := reg.Probe(in)
	if err != nil {
		return nil, &ProbeError{Err: err}
	}

	s, err := NewStream(reader, log)
	if err != nil {
		reader.Close()
		return nil, err
	}
	s.format = name
	return s, nil
}

// NewStream selects the first track of reader whose codec can be decoded.
func NewStream(reader types.FormatReader, log *slog.Logger) (*Stream, error) {
	if log == nil {
		log = slog.Default()
	}

	for _, track := range reader.Tracks() {
		if !pcm.Supported(track.Codec) {
			log.Debug("Skipping track", "track", track.ID, "codec", track.Codec)
			continue
		}
		decoder, err := pcm.NewDecoder(track)
		if err != nil {
			log.Debug("Skipping track", "track", track.ID, "error", err)
			continue
		}

		s := &Stream{reader: reader, track: track, decoder: decoder, log: log}
		s.seekTo.Store(noSeek)
		return s, nil
	}
	return nil, &ProbeError{Err: ErrNoTrack}
}

// Track returns the selected track.
func (s *Stream) Track() types.Track {
	return s.track
}

// Format returns the container name chosen by the prober.
func (s *Stream) Format() string {
	return s.format
}

// Seekable reports whether the underlying reader can reposition.
func (s *Stream) Seekable() bool {
	sk, ok := s.reader.(interface{ Seekable() bool })
	if ok {
		return sk.Seekable()
	}
	_, ok = s.reader.(types.Seeker)
	return ok
}

// RequestSeek asks the decode loop to jump to frame before its next packet.
// Safe from any goroutine; the latest request wins.
func (s *Stream) RequestSeek(frame int64) {
	s.seekTo.Store(max(frame, 0))
}

// OnMetadata installs a handler for tags seen while decoding. Call before Run.
func (s *Stream) OnMetadata(fn func([]types.Tag)) {
	s.onMetadata = fn
}

// Stats returns the counters of the last Run. Only valid after Run returns.
func (s *Stream) Stats() Stats {
	return s.stats
}

// Run decodes until end of stream, a fatal error or ctx cancellation.
// Malformed packets and per-packet I/O hiccups are skipped. A normal end of
// stream flushes sink and returns nil.
func (s *Stream) Run(ctx context.Context, sink FrameSink) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PacketError{Fatal: true, Err: fmt.Errorf("decoder panic: %v", r)}
		}
	}()

	readSkips := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.applySeek()

		pkt, err := s.reader.NextPacket()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			switch {
			case errors.Is(err, io.EOF):
				s.log.Debug("End of stream",
					"packets", s.stats.Packets,
					"frames", s.stats.Frames,
					"skipped", s.stats.Skipped)
				return sink.Flush(ctx)
			case errors.Is(err, types.ErrResetRequired):
				// chained streams are not re-probed
				return &PacketError{Fatal: true, Err: err}
			case errors.Is(err, types.ErrMalformedPacket) || errors.Is(err, types.ErrPacketIO):
				readSkips++
				if readSkips > maxReadSkips {
					return &PacketError{Fatal: true, Err: fmt.Errorf("too many damaged packets: %w", err)}
				}
				s.stats.Skipped++
				s.log.Debug("Skipping damaged packet", "error", err)
				continue
			default:
				return &PacketError{Fatal: true, Err: fmt.Errorf("read packet: %w", err)}
			}
		}

		readSkips = 0
		s.drainMetadata()

		if pkt.TrackID != s.track.ID {
			s.stats.Foreign++
			continue
		}
		s.stats.Packets++

		frame, err := s.decoder.Decode(pkt)
		if err != nil {
			if errors.Is(err, types.ErrMalformedPacket) || errors.Is(err, types.ErrPacketIO) {
				s.stats.Skipped++
				s.log.Debug("Skipping packet", "packet", s.stats.Packets, "error", err)
				continue
			}
			return &PacketError{Fatal: true, Err: err}
		}
		if frame.Frames == 0 {
			continue
		}

		if err := sink.WriteFrame(ctx, frame); err != nil {
			return err
		}
		s.stats.Frames += int64(frame.Frames)
	}
}

// Start runs the loop on a goroutine locked to its own OS thread and
// reports the result on the returned channel.
func (s *Stream) Start(ctx context.Context, sink FrameSink) <-chan error {
	done := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		done <- s.Run(ctx, sink)
	}()
	return done
}

func (s *Stream) applySeek() {
	frame := s.seekTo.Swap(noSeek)
	if frame == noSeek {
		return
	}
	seeker, ok := s.reader.(types.Seeker)
	if !ok {
		return
	}
	if s.track.Frames > 0 {
		frame = min(frame, s.track.Frames)
	}
	if err := seeker.SeekFrame(frame); err != nil {
		s.log.Warn("Seek failed", "frame", frame, "error", err)
		return
	}
	s.log.Debug("Seeked", "frame", frame)
}

func (s *Stream) drainMetadata() {
	md, ok := s.reader.(types.MetadataReader)
	if !ok {
		return
	}
	tags := md.DrainMetadata()
	if len(tags) == 0 {
		return
	}
	for _, t := range tags {
		s.log.Debug("Metadata", "key", t.Key, "value", t.Value)
	}
	if s.onMetadata != nil {
		s.onMetadata(tags)
	}
}

// Close releases the format reader. It is safe to call more than once.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.reader.Close()
	})
	return s.closeErr
}
