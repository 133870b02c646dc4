package wav

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/youpy/go-wav"
)

// WriteFile writes interleaved PCM data as a PCM WAV file.
func WriteFile(fileName string, spec types.SignalSpec, data []byte) error {
	align := spec.BlockAlign()
	if align == 0 {
		return fmt.Errorf("unsupported sample format %s", spec.Format)
	}
	if spec.Format == types.SampleFormatF32 {
		return fmt.Errorf("float WAV output is not supported")
	}

	fOut, err := os.OpenFile(fileName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	return encode(fOut, spec, data)
}

// encode writes the WAV stream to w and closes it. A failed Close is
// reported, since it may hide a failed flush of buffered data.
func encode(w io.WriteCloser, spec types.SignalSpec, data []byte) (err error) {
	defer func() {
		if cerr := w.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close output file: %w", cerr))
		}
	}()

	align := spec.BlockAlign()
	numFrames := uint32(len(data) / align)
	bits := uint16(spec.Format.BytesPerSample() * 8)
	wavWriter := wav.NewWriter(w, numFrames, uint16(spec.Channels), uint32(spec.SampleRate), bits)

	if _, err := wavWriter.Write(data[:int(numFrames)*align]); err != nil {
		return fmt.Errorf("failed to write WAV data: %w", err)
	}
	return nil
}
