package codecerr

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/drgolem/streamplayer/pkg/types"
)

type brokenPipe struct{}

func (brokenPipe) Read(p []byte) (int, error) { return 0, io.ErrClosedPipe }

func TestClassifyCodecError(t *testing.T) {
	r, tracker := Wrap(bytes.NewReader([]byte{1, 2, 3}))
	if _, ok := r.(io.Seeker); !ok {
		t.Fatal("wrapped bytes.Reader lost io.Seeker")
	}
	if _, err := io.ReadAll(r); err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	err := tracker.Classify("mp3", errors.New("invalid frame header"))
	if !errors.Is(err, types.ErrMalformedPacket) {
		t.Errorf("got %v, want ErrMalformedPacket", err)
	}
	if got := tracker.Classify("mp3", io.ErrUnexpectedEOF); got != io.EOF {
		t.Errorf("unexpected EOF: got %v, want io.EOF", got)
	}
	if tracker.Classify("mp3", nil) != nil {
		t.Error("nil error must stay nil")
	}
}

func TestClassifyTransportError(t *testing.T) {
	r, tracker := Wrap(brokenPipe{})
	if _, ok := r.(io.Seeker); ok {
		t.Fatal("pipe must not become seekable")
	}
	if _, err := r.Read(make([]byte, 4)); err == nil {
		t.Fatal("expected read error")
	}

	err := tracker.Classify("vorbis", errors.New("decode failed"))
	if errors.Is(err, types.ErrMalformedPacket) {
		t.Errorf("got %v, transport failures must not be skippable", err)
	}
	if !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("got %v, want ErrClosedPipe", err)
	}
}
