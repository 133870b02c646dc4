package player

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/drgolem/streamplayer/internal/engine"
	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/output"
	"github.com/drgolem/streamplayer/pkg/types"
)

// session is one playing reference: source, decode goroutine and device.
type session struct {
	ref      string
	src      *resolver.Source
	stream   *engine.Stream
	out      *output.Output
	controls *output.Controls
	log      *slog.Logger

	started  time.Time
	duration time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	err    error // valid after done is closed

	name atomic.Pointer[string]
	// seekBase is the position at the last seek; played frames count from there.
	seekBase atomic.Int64

	releaseOnce sync.Once
}

func (s *session) start(ctx context.Context) {
	errc := s.stream.Start(ctx, s.out)
	go func() {
		s.err = <-errc
		close(s.done)
	}()
}

// stop signals the decode goroutine, joins it and releases everything.
// Cancelling ctx also kills a transcoder blocking the reader.
func (s *session) stop() {
	s.cancel()
	s.out.Abort()
	<-s.done
	s.release()
}

// release closes the device, then the format reader, then the source.
func (s *session) release() {
	s.releaseOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		if err := s.out.Close(); err != nil {
			s.log.Warn("Failed to close output", "error", err)
		}
		if err := s.stream.Close(); err != nil {
			s.log.Warn("Failed to close stream", "error", err)
		}
		if err := s.src.Close(); err != nil {
			s.log.Warn("Failed to close source", "error", err)
		}
	})
}

func (s *session) title() string {
	if t := s.name.Load(); t != nil {
		return *t
	}
	return s.ref
}

func (s *session) setTitle(t string) {
	if t != "" {
		s.name.Store(&t)
	}
}

func (s *session) applyTags(tags []types.Tag) {
	for _, t := range tags {
		if isTitleTag(t.Key) {
			s.setTitle(t.Value)
		}
	}
}

// position is the seek base plus what the device has played since.
func (s *session) position() time.Duration {
	pos := time.Duration(s.seekBase.Load())
	if spec, ok := s.controls.Spec(); ok && spec.SampleRate > 0 {
		pos += time.Duration(s.controls.Played()) * time.Second / time.Duration(spec.SampleRate)
	}
	if s.duration > 0 {
		pos = min(pos, s.duration)
	}
	return pos
}

func (s *session) seek(target time.Duration) error {
	if !s.stream.Seekable() {
		return ErrSeekUnsupported
	}
	target = max(target, 0)
	if s.duration > 0 {
		target = min(target, s.duration)
	}

	rate := s.stream.Track().Spec.SampleRate
	frame := int64(target) * int64(rate) / int64(time.Second)
	s.stream.RequestSeek(frame)
	s.seekBase.Store(int64(target))
	s.controls.SetPlayed(0)

	s.log.Debug("Seek requested", "ref", s.ref, "position", target, "frame", frame)
	return nil
}
