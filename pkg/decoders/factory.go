package decoders

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"

	"github.com/drgolem/streamplayer/pkg/decoders/aiff"
	"github.com/drgolem/streamplayer/pkg/decoders/flac"
	"github.com/drgolem/streamplayer/pkg/decoders/mp3"
	"github.com/drgolem/streamplayer/pkg/decoders/vorbis"
	"github.com/drgolem/streamplayer/pkg/decoders/wav"
	"github.com/drgolem/streamplayer/pkg/types"
)

// ErrUnsupportedFormat is returned by Probe when no registered format matches.
var ErrUnsupportedFormat = errors.New("unsupported container format")

const sniffSize = 12

// Input is what the prober needs from a resolved source.
type Input interface {
	Reader() io.Reader
	Hint() types.FormatHint
	// Path is the local file name, empty for streamed input.
	Path() string
}

// Format describes one container the registry can open.
type Format struct {
	Name       string
	Extensions []string
	MIMETypes  []string
	Sniff      func(header []byte) bool
	Open       func(in Input) (types.FormatReader, error)
}

// Registry maps hints and magic bytes to format readers.
type Registry struct {
	mu      sync.RWMutex
	formats []Format
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds f. Later registrations do not override earlier ones with the same name.
func (r *Registry) Register(f Format) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.formats {
		if existing.Name == f.Name {
			return
		}
	}
	r.formats = append(r.formats, f)
}

// Formats returns the registered formats in registration order.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.formats)
}

// Probe picks a format for in: the hint first, then magic bytes.
// It returns the reader and the chosen format name.
func (r *Registry) Probe(in Input) (types.FormatReader, string, error) {
	formats := r.Formats()
	hint := in.Hint()

	for _, f := range formats {
		if !matchesHint(f, hint) {
			continue
		}
		reader, err := f.Open(in)
		if err != nil {
			return nil, f.Name, fmt.Errorf("open %s: %w", f.Name, err)
		}
		return reader, f.Name, nil
	}

	header := peekHeader(in.Reader())
	if len(header) > 0 {
		for _, f := range formats {
			if f.Sniff == nil || !f.Sniff(header) {
				continue
			}
			reader, err := f.Open(in)
			if err != nil {
				return nil, f.Name, fmt.Errorf("open %s: %w", f.Name, err)
			}
			return reader, f.Name, nil
		}
	}

	return nil, "", fmt.Errorf("%w (hint %q)", ErrUnsupportedFormat, hint.Extension)
}

func matchesHint(f Format, hint types.FormatHint) bool {
	if hint.Extension != "" && slices.Contains(f.Extensions, strings.ToLower(hint.Extension)) {
		return true
	}
	return hint.MIME != "" && slices.Contains(f.MIMETypes, strings.ToLower(hint.MIME))
}

// peekHeader reads the first bytes without consuming them.
func peekHeader(r io.Reader) []byte {
	switch src := r.(type) {
	case io.ReaderAt:
		buf := make([]byte, sniffSize)
		n, _ := src.ReadAt(buf, 0)
		return buf[:n]
	case interface{ Peek(int) ([]byte, error) }:
		b, _ := src.Peek(sniffSize)
		return b
	}
	return nil
}

// NewRegistryWithDefaults returns a registry with every built-in format.
func NewRegistryWithDefaults() *Registry {
	reg := NewRegistry()
	reg.Register(Format{
		Name:       "wav",
		Extensions: []string{"wav", "wave"},
		MIMETypes:  []string{"audio/wav", "audio/x-wav", "audio/vnd.wave"},
		Sniff: func(h []byte) bool {
			return len(h) >= 12 && bytes.Equal(h[:4], []byte("RIFF")) && bytes.Equal(h[8:12], []byte("WAVE"))
		},
		Open: func(in Input) (types.FormatReader, error) { return wav.NewReader(in.Reader(), in.Path()) },
	})
	reg.Register(Format{
		Name:       "flac",
		Extensions: []string{"flac", "fla"},
		MIMETypes:  []string{"audio/flac", "audio/x-flac"},
		Sniff:      func(h []byte) bool { return bytes.HasPrefix(h, []byte("fLaC")) },
		Open:       func(in Input) (types.FormatReader, error) { return flac.NewReader(in.Path()) },
	})
	reg.Register(Format{
		Name:       "mp3",
		Extensions: []string{"mp3"},
		MIMETypes:  []string{"audio/mpeg", "audio/mp3"},
		Sniff: func(h []byte) bool {
			return bytes.HasPrefix(h, []byte("ID3")) || (len(h) >= 2 && h[0] == 0xFF && h[1]&0xE0 == 0xE0)
		},
		Open: func(in Input) (types.FormatReader, error) { return mp3.NewReader(in.Reader()) },
	})
	reg.Register(Format{
		Name:       "vorbis",
		Extensions: []string{"ogg", "oga"},
		MIMETypes:  []string{"audio/ogg", "audio/vorbis"},
		Sniff:      func(h []byte) bool { return bytes.HasPrefix(h, []byte("OggS")) },
		Open:       func(in Input) (types.FormatReader, error) { return vorbis.NewReader(in.Reader()) },
	})
	reg.Register(Format{
		Name:       "aiff",
		Extensions: []string{"aiff", "aif", "aifc"},
		MIMETypes:  []string{"audio/aiff", "audio/x-aiff"},
		Sniff: func(h []byte) bool {
			return len(h) >= 12 && bytes.Equal(h[:4], []byte("FORM")) &&
				(bytes.Equal(h[8:12], []byte("AIFF")) || bytes.Equal(h[8:12], []byte("AIFC")))
		},
		Open: func(in Input) (types.FormatReader, error) { return aiff.NewReader(in.Reader()) },
	})
	return reg
}
