package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/engine"
	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/audioframe"
	"github.com/drgolem/streamplayer/pkg/convert"
	"github.com/drgolem/streamplayer/pkg/decoders"
	"github.com/drgolem/streamplayer/pkg/decoders/wav"
	"github.com/drgolem/streamplayer/pkg/sample"
	"github.com/drgolem/streamplayer/pkg/types"
)

var transformCmd = &cobra.Command{
	Use:   "transform <ref>",
	Short: "Decode a reference and write a resampled 16-bit WAV file",
	Long: `Decode any playable reference through the same engine and format adapter
used for playback, and write the result as a 16-bit PCM WAV file.

Examples:
  # Transform MP3 to 48kHz WAV
  streamplayer transform input.mp3 --new-samplerate 48000 --out output.wav

  # Transform FLAC to 44.1kHz mono WAV
  streamplayer transform input.flac --new-samplerate 44100 --mono --out output.wav

  # Save the audio of a streaming reference
  streamplayer transform "ytdlp://https://www.youtube.com/watch?v=..." --out talk.wav

Sample Rate Options:
  Common rates: 8000, 16000, 22050, 44100, 48000, 96000, 192000 Hz`,
	Args: cobra.ExactArgs(1),
	RunE: runTransform,
}

func init() {
	rootCmd.AddCommand(transformCmd)

	transformCmd.Flags().Int("new-samplerate", 48000, "Target sample rate in Hz")
	transformCmd.Flags().String("out", "out_transformed.wav", "Output WAV file path")
	transformCmd.Flags().Bool("mono", false, "Convert output to mono signal (average channels)")
}

func runTransform(cmd *cobra.Command, args []string) error {
	setupLogging()
	ref := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	newSampleRate, _ := cmd.Flags().GetInt("new-samplerate")
	outFileName, _ := cmd.Flags().GetString("out")
	toMono, _ := cmd.Flags().GetBool("mono")

	if newSampleRate <= 0 || newSampleRate > 384000 {
		return fmt.Errorf("invalid sample rate %d, valid range 1-384000", newSampleRate)
	}
	quality, err := convert.ParseQuality(cfg.Output.ResampleQuality)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := resolver.New(cfg.ResolverConfig(), nil).Resolve(ctx, ref)
	if err != nil {
		return err
	}
	defer src.Close()

	stream, err := engine.Probe(decoders.NewRegistryWithDefaults(), src, nil)
	if err != nil {
		return err
	}
	defer stream.Close()

	track := stream.Track()
	slog.Info("Audio transformation starting",
		"input", ref,
		"format", stream.Format(),
		"input_spec", track.Spec.String(),
		"output_sample_rate", newSampleRate,
		"output_mono", toMono,
		"output_file", outFileName)

	sink := &collectSink{sampleRate: newSampleRate, mono: toMono, quality: quality}
	defer sink.close()

	if err := stream.Run(ctx, sink); err != nil {
		return fmt.Errorf("decode %s: %w", ref, err)
	}
	if sink.adapter == nil {
		return fmt.Errorf("%s decoded no audio", ref)
	}

	outSpec := sink.adapter.OutSpec()
	spec := types.SignalSpec{SampleRate: outSpec.SampleRate, Channels: outSpec.Channels, Format: outSpec.Format}
	if err := wav.WriteFile(outFileName, spec, sample.AsBytes(sink.samples)); err != nil {
		return err
	}

	stats := stream.Stats()
	slog.Info("Transformation complete",
		"input_frames", stats.Frames,
		"skipped_packets", stats.Skipped,
		"output_frames", len(sink.samples)/spec.Channels,
		"sample_rate_ratio", fmt.Sprintf("%.3f", float64(newSampleRate)/float64(track.Spec.SampleRate)))
	return nil
}

// collectSink converts every decoded frame to int16 and keeps it in memory.
type collectSink struct {
	sampleRate int
	mono       bool
	quality    int

	adapter *convert.Adapter[int16]
	samples []int16
}

func (c *collectSink) WriteFrame(ctx context.Context, f *audioframe.Frame) error {
	if c.adapter == nil {
		out := types.OutputSpec{SampleRate: c.sampleRate, Channels: f.Spec.Channels, Format: types.SampleFormatS16}
		if c.mono {
			out.Channels = 1
		}
		a, err := convert.New[int16](f.Spec, out, c.quality, nil)
		if err != nil {
			return err
		}
		c.adapter = a
	}

	samples, err := c.adapter.Convert(f)
	if err != nil {
		return err
	}
	c.samples = append(c.samples, samples...)
	return nil
}

func (c *collectSink) Flush(ctx context.Context) error {
	if c.adapter == nil {
		return nil
	}
	tail, err := c.adapter.Flush()
	if err != nil {
		return err
	}
	c.samples = append(c.samples, tail...)
	return nil
}

func (c *collectSink) close() {
	if c.adapter != nil {
		c.adapter.Close()
	}
}
