package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/drgolem/go-portaudio/portaudio"
	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/config"
)

var (
	configPath string
	verbose    bool

	flagDevice     string
	flagFormat     string
	flagRate       int
	flagChannels   int
	flagFrames     int
	flagLatencyMs  int
	flagQuality    string
	flagVolume     int
	flagYtdlpPath  string
	flagFfmpegPath string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "streamplayer",
	Short: "Stream audio from files, URLs and streaming services",
	Long: `streamplayer - decodes local files, HTTP streams and yt-dlp supported
services and plays them through PortAudio.

Decoding runs on its own OS thread and feeds a lock-free SPSC ring buffer
that the PortAudio callback drains. The ring holds about 200ms of audio at the
device rate; decoding blocks when it is full.

Commands:
  - play: Play references interactively (first plays, the rest are queued)
  - playlist: Play references one after another
  - info: Resolve and probe a reference and print its track
  - transform: Decode, resample and write a 16-bit WAV file
  - beep: Play a test tone through the full pipeline`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	pf.BoolVarP(&verbose, "verbose", "v", false, "Verbose output (debug logging)")

	pf.StringVarP(&flagDevice, "device", "d", "", "Audio output device index or name (default: system output)")
	pf.StringVar(&flagFormat, "format", "int16", "Output sample format: int16, int32, float32")
	pf.IntVar(&flagRate, "rate", 0, "Output sample rate in Hz (0 follows the source)")
	pf.IntVar(&flagChannels, "channels", 0, "Output channels, 1 or 2 (0 follows the source)")
	pf.IntVar(&flagFrames, "frames", 512, "PortAudio frames per buffer")
	pf.IntVar(&flagLatencyMs, "latency", 200, "Ring buffer latency in milliseconds")
	pf.StringVar(&flagQuality, "quality", "high", "Resample quality: quick, low, medium, high, veryhigh")
	pf.IntVar(&flagVolume, "volume", 100, "Initial volume 0..100")
	pf.StringVar(&flagYtdlpPath, "ytdlp", "yt-dlp", "yt-dlp executable")
	pf.StringVar(&flagFfmpegPath, "ffmpeg", "ffmpeg", "ffmpeg executable")
}

func setupLogging() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
}

// loadConfig reads the config file and applies the flags set on the command line.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("device") {
		cfg.Output.Device = flagDevice
	}
	if flags.Changed("format") {
		cfg.Output.SampleFormat = flagFormat
	}
	if flags.Changed("rate") {
		cfg.Output.SampleRate = flagRate
	}
	if flags.Changed("channels") {
		cfg.Output.Channels = flagChannels
	}
	if flags.Changed("frames") {
		cfg.Output.FramesPerBuffer = flagFrames
	}
	if flags.Changed("latency") {
		cfg.Output.LatencyMs = flagLatencyMs
	}
	if flags.Changed("quality") {
		cfg.Output.ResampleQuality = flagQuality
	}
	if flags.Changed("volume") {
		cfg.Volume = flagVolume
	}
	if flags.Changed("ytdlp") {
		cfg.Resolver.YtdlpPath = flagYtdlpPath
	}
	if flags.Changed("ffmpeg") {
		cfg.Resolver.FfmpegPath = flagFfmpegPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// initPortAudio initializes PortAudio. The returned func terminates it.
func initPortAudio() (func(), error) {
	slog.Debug("Initializing PortAudio")
	if err := portaudio.Initialize(); err != nil {
		slog.Error("Hint: Make sure PortAudio is installed on your system")
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	slog.Info("PortAudio initialized", "version", portaudio.GetVersion())
	return func() { portaudio.Terminate() }, nil
}
