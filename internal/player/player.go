// Package player wires the resolver, decode engine and output sink into a
// controller that owns one "now playing" session at a time.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/drgolem/streamplayer/internal/engine"
	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/convert"
	"github.com/drgolem/streamplayer/pkg/decoders"
	"github.com/drgolem/streamplayer/pkg/output"
	"github.com/drgolem/streamplayer/pkg/types"
)

var (
	ErrNotPlaying      = errors.New("nothing is playing")
	ErrSeekUnsupported = errors.New("source is not seekable")
	ErrUnknownDuration = errors.New("duration is unknown")
	ErrQueueEmpty      = errors.New("queue is empty")
	ErrInvalidVolume   = errors.New("volume must be within 0..100")
)

// Player is the capability surface the command layer drives.
type Player interface {
	Play(ref string) error
	Queue(ref string) error
	Next() error
	Stop() error
	Seek(seconds float64, relative bool) error
	SeekAbsolute(percent float64) error
	TogglePause() error
	Paused() bool
	Volume() int
	SetVolume(v int) error
	AddVolume(delta int) error
	Muted() bool
	ToggleMute() error
	MediaTitle() (string, error)
	PercentPos() (int, error)
	TimePos() (int, error)
	TimeRemaining() (int, error)
}

// State of the controller.
type State int

const (
	StateIdle State = iota
	StateResolving
	StatePlaying
	StateError
)

func (s State) String() string {
	switch s {
	case StateResolving:
		return "resolving"
	case StatePlaying:
		return "playing"
	case StateError:
		return "error"
	}
	return "idle"
}

// Notification is a user visible message. Err is set for failures.
type Notification struct {
	Level   slog.Level
	Message string
	Err     error
}

// SourceResolver turns references into sources.
type SourceResolver interface {
	Resolve(ctx context.Context, ref string) (*resolver.Source, error)
}

// Options wires a Controller to its collaborators. Nil fields get defaults.
type Options struct {
	Host     output.Host
	Output   output.Params
	Resolver SourceResolver
	Registry *decoders.Registry // nil uses every built-in format
	Volume   int                // initial volume 0..100
	Logger   *slog.Logger
}

// Controller plays one reference at a time and keeps a queue of the next ones.
//
// opMu serializes Play, Next, Queue and Stop. mu guards the fields below it
// and is never held while waiting on a session.
type Controller struct {
	host     output.Host
	params   output.Params
	resolver SourceResolver
	registry *decoders.Registry
	log      *slog.Logger
	gain     *convert.Gain
	notify   chan Notification

	opMu sync.Mutex

	mu        sync.Mutex
	state     State
	sess      *session
	resolving context.CancelFunc
	queue     []string
	volume    int
	muted     bool
	lastErr   error
}

var _ Player = (*Controller)(nil)
var _ types.PlaybackMonitor = (*Controller)(nil)

// New creates an idle controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	reg := opts.Registry
	if reg == nil {
		reg = decoders.NewRegistryWithDefaults()
	}
	volume := min(max(opts.Volume, 0), 100)

	return &Controller{
		host:     opts.Host,
		params:   opts.Output,
		resolver: opts.Resolver,
		registry: reg,
		log:      log,
		gain:     convert.NewGain(float32(volume) / 100),
		notify:   make(chan Notification, 16),
		volume:   volume,
	}
}

// Notifications delivers user visible messages. Messages are dropped when
// nobody reads them.
func (c *Controller) Notifications() <-chan Notification {
	return c.notify
}

func (c *Controller) notifyf(level slog.Level, err error, format string, args ...any) {
	n := Notification{Level: level, Message: fmt.Sprintf(format, args...), Err: err}
	select {
	case c.notify <- n:
	default:
	}
}

// State returns the controller state and the error that caused StateError.
func (c *Controller) State() (State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state, c.lastErr
}

// Play stops whatever is playing and starts ref.
func (c *Controller) Play(ref string) error {
	c.cancelResolve()
	c.opMu.Lock()
	defer c.opMu.Unlock()
	return c.play(ref)
}

func (c *Controller) play(ref string) error {
	c.teardown()

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.state = StateResolving
	c.lastErr = nil
	c.resolving = cancel
	c.mu.Unlock()

	s, err := c.open(ctx, ref)

	c.mu.Lock()
	c.resolving = nil
	if err != nil {
		cancel()
		if errors.Is(err, context.Canceled) {
			c.state = StateIdle
		} else {
			c.state = StateError
			c.lastErr = err
		}
		c.mu.Unlock()
		if !errors.Is(err, context.Canceled) {
			c.log.Error("Failed to start playback", "ref", ref, "error", err)
			c.notifyf(slog.LevelError, err, "Cannot play %s: %v", ref, err)
		}
		return err
	}
	s.cancel = cancel
	c.sess = s
	c.state = StatePlaying
	c.mu.Unlock()

	s.start(ctx)
	go c.watch(s)

	track := s.stream.Track()
	c.log.Info("Playing",
		"title", s.title(),
		"format", s.stream.Format(),
		"source", track.Spec.String(),
		"duration", s.duration)
	c.notifyf(slog.LevelInfo, nil, "Playing %s", s.title())
	return nil
}

// open resolves and probes ref. The device is opened later, on the first
// decoded frame.
func (c *Controller) open(ctx context.Context, ref string) (*session, error) {
	src, err := c.resolver.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}

	stream, err := engine.Probe(c.registry, src, c.log)
	if err != nil {
		src.Close()
		return nil, err
	}

	controls := &output.Controls{Gain: c.gain}
	s := &session{
		ref:      ref,
		src:      src,
		stream:   stream,
		controls: controls,
		out:      output.NewOutput(c.host, c.params, controls, c.log),
		started:  time.Now(),
		duration: stream.Track().Duration(),
		done:     make(chan struct{}),
		log:      c.log,
	}
	if s.duration == 0 {
		s.duration = src.Duration()
	}
	s.setTitle(src.Title())
	stream.OnMetadata(s.applyTags)
	return s, nil
}

// watch waits for the decode loop of s and handles a natural end or a
// failure. Sessions replaced by Play or Stop are cleaned up by teardown.
func (c *Controller) watch(s *session) {
	<-s.done
	err := s.err

	c.mu.Lock()
	if c.sess != s {
		c.mu.Unlock()
		return
	}
	c.sess = nil
	if err != nil {
		c.state = StateError
		c.lastErr = err
	} else {
		c.state = StateIdle
	}
	c.mu.Unlock()

	s.release()

	if err != nil {
		c.log.Error("Playback failed", "ref", s.ref, "error", err)
		c.notifyf(slog.LevelError, err, "Playback of %s failed: %v", s.title(), err)
	} else {
		c.log.Info("Playback finished", "ref", s.ref, "played", s.position())
		c.notifyf(slog.LevelInfo, nil, "Finished %s", s.title())
	}

	go c.advance()
}

// advance starts the next queued reference if nothing else has started.
func (c *Controller) advance() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if c.sess != nil || len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	ref := c.queue[0]
	c.queue = c.queue[1:]
	c.state = StateResolving
	c.mu.Unlock()

	c.play(ref)
}

// teardown stops the current session and waits for it to release its
// resources. Callers set the next state.
func (c *Controller) teardown() {
	c.mu.Lock()
	s := c.sess
	c.sess = nil
	c.mu.Unlock()

	if s != nil {
		s.stop()
		c.log.Debug("Session stopped", "ref", s.ref)
	}
}

func (c *Controller) cancelResolve() {
	c.mu.Lock()
	if c.resolving != nil {
		c.resolving()
	}
	c.mu.Unlock()
}

// Queue appends ref. It starts playing right away when nothing is playing.
func (c *Controller) Queue(ref string) error {
	c.mu.Lock()
	c.queue = append(c.queue, ref)
	idle := c.sess == nil && c.state != StateResolving
	c.mu.Unlock()

	if idle {
		c.advance()
	}
	return nil
}

// Next skips to the next queued reference.
func (c *Controller) Next() error {
	c.cancelResolve()
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return ErrQueueEmpty
	}
	ref := c.queue[0]
	c.queue = c.queue[1:]
	c.state = StateResolving
	c.mu.Unlock()

	return c.play(ref)
}

// Stop ends playback and clears the queue.
func (c *Controller) Stop() error {
	c.cancelResolve()
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.queue = nil
	c.mu.Unlock()

	c.teardown()

	c.mu.Lock()
	c.state = StateIdle
	c.lastErr = nil
	c.mu.Unlock()
	return nil
}

// Close stops playback.
func (c *Controller) Close() error {
	return c.Stop()
}

func (c *Controller) current() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return nil, ErrNotPlaying
	}
	return c.sess, nil
}

// Seek moves to seconds, or by seconds when relative.
func (c *Controller) Seek(seconds float64, relative bool) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	target := time.Duration(seconds * float64(time.Second))
	if relative {
		target += s.position()
	}
	return s.seek(target)
}

// SeekAbsolute moves to percent of the track length.
func (c *Controller) SeekAbsolute(percent float64) error {
	s, err := c.current()
	if err != nil {
		return err
	}
	if s.duration <= 0 {
		return ErrUnknownDuration
	}
	percent = min(max(percent, 0), 100)
	return s.seek(time.Duration(float64(s.duration) * percent / 100))
}

// TogglePause pauses or resumes the current session.
func (c *Controller) TogglePause() error {
	s, err := c.current()
	if err != nil {
		return err
	}
	s.controls.SetPaused(!s.controls.Paused())
	return nil
}

// Paused reports whether the output is paused.
func (c *Controller) Paused() bool {
	s, err := c.current()
	if err != nil {
		return false
	}
	return s.controls.Paused()
}

// Volume returns the volume in 0..100, ignoring mute.
func (c *Controller) Volume() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

// SetVolume sets the volume; v must be within 0..100.
func (c *Controller) SetVolume(v int) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%w: %d", ErrInvalidVolume, v)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = v
	c.applyGain()
	return nil
}

// AddVolume changes the volume by delta, clamped to 0..100.
func (c *Controller) AddVolume(delta int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = min(max(c.volume+delta, 0), 100)
	c.applyGain()
	return nil
}

// Muted reports whether output is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

// ToggleMute silences output without forgetting the volume.
func (c *Controller) ToggleMute() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = !c.muted
	c.applyGain()
	return nil
}

// applyGain must be called with mu held.
func (c *Controller) applyGain() {
	if c.muted {
		c.gain.Set(0)
		return
	}
	c.gain.Set(float32(c.volume) / 100)
}

// MediaTitle returns the title of the current session.
func (c *Controller) MediaTitle() (string, error) {
	s, err := c.current()
	if err != nil {
		return "", err
	}
	return s.title(), nil
}

// PercentPos returns the position as a whole percentage of the track.
func (c *Controller) PercentPos() (int, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	if s.duration <= 0 {
		return 0, ErrUnknownDuration
	}
	pct := int(s.position() * 100 / s.duration)
	return min(pct, 100), nil
}

// TimePos returns the position in whole seconds.
func (c *Controller) TimePos() (int, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	return int(s.position() / time.Second), nil
}

// TimeRemaining returns the seconds left in the track.
func (c *Controller) TimeRemaining() (int, error) {
	s, err := c.current()
	if err != nil {
		return 0, err
	}
	if s.duration <= 0 {
		return 0, ErrUnknownDuration
	}
	return int(max(s.duration-s.position(), 0) / time.Second), nil
}

// GetPlaybackStatus implements types.PlaybackMonitor.
func (c *Controller) GetPlaybackStatus() types.PlaybackStatus {
	s, err := c.current()
	if err != nil {
		return types.PlaybackStatus{}
	}

	status := types.PlaybackStatus{
		FileName:        s.title(),
		FramesPerBuffer: c.params.FramesPerBuffer,
		PlayedSamples:   s.controls.Played(),
		BufferedSamples: uint64(s.out.Buffered()),
		ElapsedTime:     time.Since(s.started),
	}
	if spec, ok := s.out.Spec(); ok {
		status.SampleRate = spec.SampleRate
		status.Channels = spec.Channels
		status.BitsPerSample = spec.Format.BytesPerSample() * 8
	}
	return status
}

// isTitleTag reports whether a stream tag carries the media title.
func isTitleTag(key string) bool {
	return strings.EqualFold(key, "title") || strings.EqualFold(key, "StreamTitle")
}

// QueueLen returns the number of queued references.
func (c *Controller) QueueLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}
