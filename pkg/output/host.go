package output

import (
	"errors"
	"fmt"

	"github.com/drgolem/streamplayer/pkg/types"
)

var (
	// ErrOpenStream means the device is unavailable or rejected the configuration.
	ErrOpenStream = errors.New("open output stream")

	// ErrPlayStream means the device accepted the configuration but failed to start.
	ErrPlayStream = errors.New("start output stream")

	// ErrUnsupportedFormat is returned for sample representations without a sink.
	ErrUnsupportedFormat = errors.New("unsupported output sample format")
)

// DeviceError wraps a device failure with ErrOpenStream or ErrPlayStream as its kind.
type DeviceError struct {
	Kind error
	Err  error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// DefaultDevice selects the platform default output device.
const DefaultDevice = -1

// StreamParams is what a Host needs to open a callback stream.
type StreamParams struct {
	// DeviceIndex is a host device index or DefaultDevice. DeviceName, when
	// set, takes precedence.
	DeviceIndex     int
	DeviceName      string
	Channels        int
	SampleRate      int
	Format          types.SampleFormat
	FramesPerBuffer int
}

// Callback fills out with native samples. It runs on the driver's real-time
// thread and must not block or allocate.
type Callback func(out []byte)

// Stream is an opened device stream.
type Stream interface {
	Start() error
	Stop() error
	Close() error
}

// Host opens output streams on a platform audio API.
type Host interface {
	OpenStream(p StreamParams, cb Callback) (Stream, error)
}
