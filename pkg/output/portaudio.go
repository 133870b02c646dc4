package output

import (
	"errors"
	"fmt"
	"strings"

	"github.com/drgolem/streamplayer/pkg/types"

	"github.com/drgolem/go-portaudio/portaudio"
)

// PortAudioHost opens callback streams through go-portaudio.
// portaudio.Initialize must have been called by the application.
type PortAudioHost struct{}

// OpenStream opens a callback stream on the configured or default device.
func (PortAudioHost) OpenStream(p StreamParams, cb Callback) (Stream, error) {
	var sampleFormat portaudio.PaSampleFormat
	switch p.Format {
	case types.SampleFormatS16:
		sampleFormat = portaudio.SampleFmtInt16
	case types.SampleFormatS32:
		sampleFormat = portaudio.SampleFmtInt32
	case types.SampleFormatF32:
		sampleFormat = portaudio.SampleFmtFloat32
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, p.Format)
	}

	device, err := resolveDevice(p)
	if err != nil {
		return nil, err
	}

	bytesPerFrame := p.Channels * p.Format.BytesPerSample()
	stream := &portaudio.PaStream{
		OutputParameters: &portaudio.PaStreamParameters{
			DeviceIndex:  device,
			ChannelCount: p.Channels,
			SampleFormat: sampleFormat,
		},
		SampleRate: float64(p.SampleRate),
	}

	// Runs on PortAudio's C audio thread, outside the Go scheduler.
	callback := func(
		input, output []byte,
		frameCount uint,
		timeInfo *portaudio.StreamCallbackTimeInfo,
		statusFlags portaudio.StreamCallbackFlags,
	) portaudio.StreamCallbackResult {
		bytesNeeded := min(int(frameCount)*bytesPerFrame, len(output))
		cb(output[:bytesNeeded])
		return portaudio.Continue
	}

	if err := stream.OpenCallback(p.FramesPerBuffer, callback); err != nil {
		return nil, fmt.Errorf("failed to open stream with callback: %w", err)
	}
	return &paStream{stream: stream}, nil
}

// ErrNoDevice is returned when no output device matches the configuration.
var ErrNoDevice = errors.New("no matching output device")

func resolveDevice(p StreamParams) (int, error) {
	if p.DeviceName != "" {
		devices, err := portaudio.Devices()
		if err != nil {
			return 0, fmt.Errorf("list devices: %w", err)
		}
		return matchDevice(devices, p.DeviceName)
	}
	if p.DeviceIndex >= 0 {
		return p.DeviceIndex, nil
	}
	info, err := portaudio.DefaultOutputDevice()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrNoDevice, err)
	}
	return info.Index, nil
}

// matchDevice picks the output-capable device whose name equals name,
// ignoring case, or else the first one whose name contains it.
func matchDevice(devices []*portaudio.DeviceInfo, name string) (int, error) {
	want := strings.ToLower(name)
	partial := -1
	for _, d := range devices {
		if d == nil || d.MaxOutputChannels <= 0 {
			continue
		}
		got := strings.ToLower(d.Name)
		if got == want {
			return d.Index, nil
		}
		if partial < 0 && strings.Contains(got, want) {
			partial = d.Index
		}
	}
	if partial < 0 {
		return 0, fmt.Errorf("%w: %q", ErrNoDevice, name)
	}
	return partial, nil
}

type paStream struct {
	stream *portaudio.PaStream
}

func (s *paStream) Start() error {
	return s.stream.StartStream()
}

func (s *paStream) Stop() error {
	return s.stream.StopStream()
}

func (s *paStream) Close() error {
	return s.stream.CloseCallback()
}
