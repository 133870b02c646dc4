// Package codecerr separates codec data errors from source transport errors
// for readers that decode inside NextPacket.
package codecerr

import (
	"errors"
	"fmt"
	"io"

	"github.com/drgolem/streamplayer/pkg/types"
)

// Tracker remembers the first transport error seen on a wrapped source.
type Tracker struct {
	err error
}

// Err returns the recorded transport error, or nil.
func (t *Tracker) Err() error {
	return t.err
}

// Classify maps an error returned by a codec library. End of input becomes
// io.EOF, a failed source is returned unchanged, and anything else is a
// damaged packet the engine may skip.
func (t *Tracker) Classify(codec string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return io.EOF
	case t.err != nil:
		return fmt.Errorf("%s: read source: %w", codec, t.err)
	}
	return fmt.Errorf("%s: %w: %w", codec, types.ErrMalformedPacket, err)
}

type reader struct {
	r io.Reader
	t *Tracker
}

func (r reader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if err != nil && !errors.Is(err, io.EOF) && r.t.err == nil {
		r.t.err = err
	}
	return n, err
}

type readSeeker struct {
	reader
	s io.Seeker
}

func (r readSeeker) Seek(offset int64, whence int) (int64, error) {
	return r.s.Seek(offset, whence)
}

// Wrap returns a reader that records transport errors of r into the tracker.
// The result is an io.Seeker exactly when r is.
func Wrap(r io.Reader) (io.Reader, *Tracker) {
	t := &Tracker{}
	base := reader{r: r, t: t}
	if s, ok := r.(io.Seeker); ok {
		return readSeeker{reader: base, s: s}, t
	}
	return base, t
}
