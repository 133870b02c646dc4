package flac

import (
	"io"
	"path/filepath"
	"testing"
)

func TestNewReaderRequiresPath(t *testing.T) {
	if _, err := NewReader(""); err == nil {
		t.Error("expected error for empty path")
	}
}

func TestNewReaderMissingFile(t *testing.T) {
	if _, err := NewReader(filepath.Join(t.TempDir(), "missing.flac")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReaderClose(t *testing.T) {
	r := &Reader{}

	if err := r.Close(); err != nil {
		t.Errorf("Close on unopened reader failed: %v", err)
	}
	if err := r.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestNextPacketWithoutOpen(t *testing.T) {
	r := &Reader{}

	_, err := r.NextPacket()
	if err == nil {
		t.Error("expected error when decoding without open")
	}
	if err == io.EOF {
		t.Error("unopened reader must not report a clean end of stream")
	}
}
