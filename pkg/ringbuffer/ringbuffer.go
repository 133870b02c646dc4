package ringbuffer

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"
)

var (
	// ErrInsufficientSpace is returned by Write when no sample fits.
	ErrInsufficientSpace = types.ErrInsufficientSpace

	// ErrClosed is returned by WriteBlocking once the buffer has been closed.
	ErrClosed = errors.New("ringbuffer closed")
)

// pollInterval is how long a blocked producer sleeps before re-checking for space.
const pollInterval = 2 * time.Millisecond

// RingBuffer is a lock-free single-producer single-consumer queue of samples.
//
// Thread Safety Model:
//   - Write/WriteBlocking must only be called by the producer (decode goroutine)
//   - Read must only be called by the consumer (real-time audio callback)
//   - Positions are monotonically increasing atomics; the slot index is pos % size
//
// Capacity is fixed at construction. Read never blocks and never allocates,
// so it is safe to call from a PortAudio callback.
type RingBuffer[T sample.Sample] struct {
	buffer   []T
	size     uint64
	writePos atomic.Uint64
	readPos  atomic.Uint64
	closed   atomic.Bool
	silence  T
}

// New creates a ring buffer holding exactly capacity samples (minimum 1).
func New[T sample.Sample](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		buffer:  make([]T, capacity),
		size:    uint64(capacity),
		silence: sample.Silence[T](),
	}
}

// CapacityFor returns the sample count that holds latency worth of audio,
// rounded to whole frames.
func CapacityFor(sampleRate, channels int, latency time.Duration) int {
	frames := int(int64(sampleRate) * latency.Milliseconds() / 1000)
	if frames < 1 {
		frames = 1
	}
	return frames * channels
}

// Write copies as many samples from src as currently fit and returns the count.
// It returns ErrInsufficientSpace if src is non-empty and nothing fits.
func (rb *RingBuffer[T]) Write(src []T) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}

	free := uint64(rb.AvailableWrite())
	if free == 0 {
		return 0, ErrInsufficientSpace
	}
	n := min(uint64(len(src)), free)

	writePos := rb.writePos.Load()
	start := writePos % rb.size
	first := min(n, rb.size-start)
	copy(rb.buffer[start:start+first], src[:first])
	if first < n {
		copy(rb.buffer[:n-first], src[first:n])
	}

	rb.writePos.Store(writePos + n)
	return int(n), nil
}

// WriteBlocking waits until at least one slot is free, then writes as many
// samples as fit and returns the count. Callers retry with the remainder.
// It returns ErrClosed after Close and ctx.Err() when ctx is done.
func (rb *RingBuffer[T]) WriteBlocking(ctx context.Context, src []T) (int, error) {
	if len(src) == 0 {
		return 0, nil
	}
	for {
		if rb.closed.Load() {
			return 0, ErrClosed
		}
		n, err := rb.Write(src)
		if err == nil {
			return n, nil
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// WriteAll writes every sample in src, blocking on backpressure.
func (rb *RingBuffer[T]) WriteAll(ctx context.Context, src []T) error {
	for len(src) > 0 {
		n, err := rb.WriteBlocking(ctx, src)
		if err != nil {
			return err
		}
		src = src[n:]
	}
	return nil
}

// Read fills dst from the buffer and returns the number of real samples copied.
// Any shortfall is padded with the silence value for T.
func (rb *RingBuffer[T]) Read(dst []T) int {
	if len(dst) == 0 {
		return 0
	}

	n := min(uint64(len(dst)), uint64(rb.AvailableRead()))
	if n > 0 {
		readPos := rb.readPos.Load()
		start := readPos % rb.size
		first := min(n, rb.size-start)
		copy(dst[:first], rb.buffer[start:start+first])
		if first < n {
			copy(dst[first:n], rb.buffer[:n-first])
		}
		rb.readPos.Store(readPos + n)
	}

	for i := n; i < uint64(len(dst)); i++ {
		dst[i] = rb.silence
	}
	return int(n)
}

// AvailableRead returns the number of samples waiting to be read.
func (rb *RingBuffer[T]) AvailableRead() int {
	return int(rb.writePos.Load() - rb.readPos.Load())
}

// AvailableWrite returns the number of free slots.
func (rb *RingBuffer[T]) AvailableWrite() int {
	return int(rb.size - (rb.writePos.Load() - rb.readPos.Load()))
}

// Size returns the fixed capacity in samples.
func (rb *RingBuffer[T]) Size() int {
	return int(rb.size)
}

// Close wakes a producer blocked in WriteBlocking. Reads keep working.
func (rb *RingBuffer[T]) Close() {
	rb.closed.Store(true)
}

// Closed reports whether Close was called.
func (rb *RingBuffer[T]) Closed() bool {
	return rb.closed.Load()
}

// Reset empties the buffer. Only safe when neither side is active.
func (rb *RingBuffer[T]) Reset() {
	rb.writePos.Store(0)
	rb.readPos.Store(0)
	rb.closed.Store(false)
}
