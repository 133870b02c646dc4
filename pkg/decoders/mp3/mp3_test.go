package mp3

import (
	"bytes"
	"testing"
)

func TestNewReaderRejectsGarbage(t *testing.T) {
	if _, err := NewReader(bytes.NewReader([]byte("definitely not an mp3 stream"))); err == nil {
		t.Error("expected error for non-MP3 input")
	}
}

func TestNewReaderRejectsEmpty(t *testing.T) {
	if _, err := NewReader(bytes.NewReader(nil)); err == nil {
		t.Error("expected error for empty input")
	}
}
