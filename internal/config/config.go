// Package config holds the player configuration. It is built once at
// startup and passed explicitly to the components that need it.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/convert"
	"github.com/drgolem/streamplayer/pkg/output"
	"github.com/drgolem/streamplayer/pkg/types"
)

// Output configures the audio device and the conversion in front of it.
type Output struct {
	// Device is a PortAudio device index or a device name; empty selects the
	// platform default output device.
	Device          string `yaml:"device"`
	SampleFormat    string `yaml:"sample_format"`
	SampleRate      int    `yaml:"sample_rate"` // 0 follows the source
	Channels        int    `yaml:"channels"`    // 0 follows the source
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	LatencyMs       int    `yaml:"latency_ms"`
	ResampleQuality string `yaml:"resample_quality"`
}

// Resolver locates the external tools used for remote references.
type Resolver struct {
	YtdlpPath  string `yaml:"ytdlp_path"`
	FfmpegPath string `yaml:"ffmpeg_path"`
}

// Config is the complete player configuration.
type Config struct {
	Output   Output   `yaml:"output"`
	Resolver Resolver `yaml:"resolver"`
	// Volume is the initial volume, 0..100.
	Volume int `yaml:"volume"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Output: Output{
			SampleFormat:    "int16",
			FramesPerBuffer: 512,
			LatencyMs:       int(output.DefaultLatency / time.Millisecond),
			ResampleQuality: "high",
		},
		Resolver: Resolver{
			YtdlpPath:  "yt-dlp",
			FfmpegPath: "ffmpeg",
		},
		Volume: 100,
	}
}

// Load reads a YAML file over the defaults. Keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if _, _, err := c.Device(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.sampleFormat(); err != nil {
		errs = append(errs, err)
	}
	if _, err := convert.ParseQuality(c.Output.ResampleQuality); err != nil {
		errs = append(errs, err)
	}
	if c.Output.SampleRate < 0 || c.Output.SampleRate > 384000 {
		errs = append(errs, fmt.Errorf("sample_rate %d out of range", c.Output.SampleRate))
	}
	if c.Output.Channels < 0 || c.Output.Channels > 2 {
		errs = append(errs, fmt.Errorf("channels must be 0, 1 or 2, got %d", c.Output.Channels))
	}
	if c.Output.FramesPerBuffer <= 0 {
		errs = append(errs, fmt.Errorf("frames_per_buffer must be positive, got %d", c.Output.FramesPerBuffer))
	}
	if c.Output.LatencyMs <= 0 {
		errs = append(errs, fmt.Errorf("latency_ms must be positive, got %d", c.Output.LatencyMs))
	}
	if c.Volume < 0 || c.Volume > 100 {
		errs = append(errs, fmt.Errorf("volume must be within 0..100, got %d", c.Volume))
	}
	if c.Resolver.YtdlpPath == "" || c.Resolver.FfmpegPath == "" {
		errs = append(errs, errors.New("resolver tool paths must not be empty"))
	}
	return errors.Join(errs...)
}

// Device parses the configured output device into an index or a name.
// An empty setting yields output.DefaultDevice.
func (c *Config) Device() (int, string, error) {
	dev := strings.TrimSpace(c.Output.Device)
	if dev == "" {
		return output.DefaultDevice, "", nil
	}
	idx, err := strconv.Atoi(dev)
	if err != nil {
		return output.DefaultDevice, dev, nil
	}
	if idx < 0 {
		return 0, "", fmt.Errorf("device index must not be negative, got %d", idx)
	}
	return idx, "", nil
}

func (c *Config) sampleFormat() (types.SampleFormat, error) {
	f, err := types.ParseSampleFormat(c.Output.SampleFormat)
	if err != nil {
		return f, err
	}
	switch f {
	case types.SampleFormatS16, types.SampleFormatS32, types.SampleFormatF32:
		return f, nil
	}
	return types.SampleFormatUnknown, fmt.Errorf("sample_format %q is not an output format", c.Output.SampleFormat)
}

// OutputParams converts the output section into sink parameters.
func (c *Config) OutputParams() (output.Params, error) {
	if err := c.Validate(); err != nil {
		return output.Params{}, err
	}
	idx, name, _ := c.Device()
	format, _ := c.sampleFormat()
	quality, _ := convert.ParseQuality(c.Output.ResampleQuality)

	return output.Params{
		DeviceIndex:     idx,
		DeviceName:      name,
		Format:          format,
		SampleRate:      c.Output.SampleRate,
		Channels:        c.Output.Channels,
		FramesPerBuffer: c.Output.FramesPerBuffer,
		Latency:         time.Duration(c.Output.LatencyMs) * time.Millisecond,
		Quality:         quality,
	}, nil
}

// ResolverConfig returns the external tool settings.
func (c *Config) ResolverConfig() resolver.Config {
	return resolver.Config{
		YtdlpPath:  c.Resolver.YtdlpPath,
		FfmpegPath: c.Resolver.FfmpegPath,
	}
}
