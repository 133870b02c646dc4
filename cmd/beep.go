package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/engine"
	"github.com/drgolem/streamplayer/pkg/decoders/stream"
	"github.com/drgolem/streamplayer/pkg/output"
)

var beepCmd = &cobra.Command{
	Use:   "beep",
	Short: "Play a sine tone to check the output device",
	Long: `Generate a sine tone and play it through the decode engine, format adapter,
ring buffer and PortAudio sink, without any media file.

Examples:
  # 440Hz for 2 seconds on the default device
  streamplayer beep

  # 1kHz at 22050Hz mono, resampled to 48kHz float32 on device 0
  streamplayer beep --freq 1000 --tone-rate 22050 --tone-channels 1 --rate 48000 --format float32 -d 0`,
	Args: cobra.NoArgs,
	RunE: runBeep,
}

func init() {
	rootCmd.AddCommand(beepCmd)

	beepCmd.Flags().Float64("freq", 440, "Tone frequency in Hz")
	beepCmd.Flags().Duration("duration", 2*time.Second, "Tone length")
	beepCmd.Flags().Int("tone-rate", 44100, "Sample rate of the generated tone")
	beepCmd.Flags().Int("tone-channels", 2, "Channels of the generated tone")
}

func runBeep(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	params, err := cfg.OutputParams()
	if err != nil {
		return err
	}

	freq, _ := cmd.Flags().GetFloat64("freq")
	duration, _ := cmd.Flags().GetDuration("duration")
	toneRate, _ := cmd.Flags().GetInt("tone-rate")
	toneChannels, _ := cmd.Flags().GetInt("tone-channels")
	if freq <= 0 || freq >= float64(toneRate)/2 {
		return fmt.Errorf("frequency %.0f Hz must be below half the tone rate", freq)
	}

	terminate, err := initPortAudio()
	if err != nil {
		return err
	}
	defer terminate()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tone := stream.NewTone(toneRate, toneChannels, freq, duration)
	reader, err := stream.NewReader(ctx, tone, tone.Format())
	if err != nil {
		return err
	}
	s, err := engine.NewStream(reader, nil)
	if err != nil {
		return err
	}
	defer s.Close()

	controls := output.NewControls(float32(cfg.Volume) / 100)
	out := output.NewOutput(output.PortAudioHost{}, params, controls, nil)
	defer out.Close()

	slog.Info("Playing tone",
		"freq", freq,
		"duration", duration,
		"tone", s.Track().Spec.String(),
		"device_index", params.DeviceIndex)

	if err := <-s.Start(ctx, out); err != nil {
		return fmt.Errorf("beep: %w", err)
	}
	if spec, ok := out.Spec(); ok {
		slog.Info("Tone finished", "output", spec.String(), "played_frames", controls.Played())
	}
	return nil
}
