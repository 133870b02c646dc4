package decoders

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/drgolem/streamplayer/pkg/decoders/wav"
	"github.com/drgolem/streamplayer/pkg/types"
)

type testInput struct {
	r    io.Reader
	hint types.FormatHint
	path string
}

func (i testInput) Reader() io.Reader      { return i.r }
func (i testInput) Hint() types.FormatHint { return i.hint }
func (i testInput) Path() string           { return i.path }

func writeWAV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tone.bin")
	spec := types.SignalSpec{SampleRate: 8000, Channels: 1, Format: types.SampleFormatS16}
	if err := wav.WriteFile(path, spec, make([]byte, 1600)); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

func TestProbeByHint(t *testing.T) {
	path := writeWAV(t)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	reg := NewRegistryWithDefaults()
	r, name, err := reg.Probe(testInput{r: f, hint: types.FormatHint{Extension: "wav"}, path: path})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	defer r.Close()
	if name != "wav" {
		t.Errorf("format: got %q, want wav", name)
	}
}

func TestProbeBySniff(t *testing.T) {
	path := writeWAV(t)
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	reg := NewRegistryWithDefaults()
	r, name, err := reg.Probe(testInput{r: f, path: path})
	if err != nil {
		t.Fatalf("Probe failed: %v", err)
	}
	defer r.Close()
	if name != "wav" {
		t.Errorf("format: got %q, want wav", name)
	}
	if got := r.Tracks()[0].Spec.SampleRate; got != 8000 {
		t.Errorf("SampleRate: got %d, want 8000", got)
	}
}

func TestProbeUnsupported(t *testing.T) {
	reg := NewRegistryWithDefaults()
	in := testInput{r: bufio.NewReader(bytes.NewReader([]byte("plain text, not audio"))), hint: types.FormatHint{Extension: "txt"}}
	if _, _, err := reg.Probe(in); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("got %v, want ErrUnsupportedFormat", err)
	}
}

func TestPeekDoesNotConsume(t *testing.T) {
	br := bufio.NewReader(bytes.NewReader([]byte("OggS and more")))
	if h := peekHeader(br); !bytes.HasPrefix(h, []byte("OggS")) {
		t.Fatalf("peekHeader: got %q", h)
	}
	rest, _ := io.ReadAll(br)
	if string(rest) != "OggS and more" {
		t.Errorf("reader consumed: got %q", rest)
	}
}

func TestRegisterIgnoresDuplicates(t *testing.T) {
	reg := NewRegistry()
	reg.Register(Format{Name: "x"})
	reg.Register(Format{Name: "x", Extensions: []string{"y"}})
	if got := len(reg.Formats()); got != 1 {
		t.Errorf("Formats: got %d, want 1", got)
	}
}
