package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/config"
	"github.com/drgolem/streamplayer/internal/player"
	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/output"
)

const seekStep = 10

// playCmd represents the play command
var playCmd = &cobra.Command{
	Use:   "play <ref> [ref...]",
	Short: "Play files, URLs or streaming service references",
	Long: `Play the first reference and queue the others. A reference is a local
file, an http(s) URL or a ytdlp:// reference resolved with yt-dlp and ffmpeg.

Examples:
  # Play a local file
  streamplayer play music.flac

  # Play a video's audio track through yt-dlp
  streamplayer play "ytdlp://https://www.youtube.com/watch?v=..."

  # Queue several files, output float32 at 48kHz
  streamplayer play --format float32 --rate 48000 a.mp3 b.ogg c.wav

Commands (type and press Enter):
  p   toggle pause        m   toggle mute
  +   volume up           -   volume down
  f   seek forward 10s    b   seek back 10s
  n   next in queue       s   stop
  q   quit

Supported Formats:
  MP3, FLAC, WAV (PCM, float, A-law, mu-law), Ogg Vorbis, AIFF`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlay,
}

func init() {
	rootCmd.AddCommand(playCmd)
}

func newController(cfg *config.Config) (*player.Controller, error) {
	params, err := cfg.OutputParams()
	if err != nil {
		return nil, err
	}
	slog.Info("Audio configuration",
		"device_index", params.DeviceIndex,
		"device_name", params.DeviceName,
		"sample_format", params.Format,
		"sample_rate", params.SampleRate,
		"channels", params.Channels,
		"frames_per_buffer", params.FramesPerBuffer,
		"latency", params.Latency)

	return player.New(player.Options{
		Host:     output.PortAudioHost{},
		Output:   params,
		Resolver: resolver.New(cfg.ResolverConfig(), nil),
		Volume:   cfg.Volume,
	}), nil
}

func runPlay(cmd *cobra.Command, args []string) error {
	setupLogging()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	terminate, err := initPortAudio()
	if err != nil {
		return err
	}
	defer terminate()

	ctl, err := newController(cfg)
	if err != nil {
		return err
	}
	defer ctl.Close()

	if err := ctl.Play(args[0]); err != nil {
		slog.Error("Failed to start playback", "ref", args[0], "error", err)
	}
	for _, ref := range args[1:] {
		ctl.Queue(ref)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	commands := readCommands(ctx, os.Stdin)

	statusDone := make(chan struct{})
	defer close(statusDone)
	go monitorPlayback(ctl, statusDone)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, stopping playback", "signal", sig)
			return nil
		case n := <-ctl.Notifications():
			logNotification(n)
		case line, ok := <-commands:
			if !ok {
				commands = nil
				continue
			}
			if quit := handleCommand(ctl, line); quit {
				slog.Info("Exiting")
				return nil
			}
		case <-ticker.C:
			if state, _ := ctl.State(); (state == player.StateIdle || state == player.StateError) && ctl.QueueLen() == 0 {
				drainNotifications(ctl)
				slog.Info("Playback completed")
				return nil
			}
		}
	}
}

// readCommands delivers trimmed stdin lines until EOF or ctx is done.
func readCommands(ctx context.Context, r io.Reader) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimSpace(scanner.Text()):
			case <-ctx.Done():
				return
			}
		}
	}()
	return lines
}

// handleCommand runs one interactive command and reports whether to quit.
func handleCommand(p player.Player, line string) bool {
	var err error
	switch line {
	case "":
		return false
	case "q":
		return true
	case "p":
		err = p.TogglePause()
		if err == nil {
			slog.Info("Pause", "paused", p.Paused())
		}
	case "+":
		err = p.AddVolume(5)
		slog.Info("Volume", "volume", p.Volume())
	case "-":
		err = p.AddVolume(-5)
		slog.Info("Volume", "volume", p.Volume())
	case "m":
		err = p.ToggleMute()
		slog.Info("Mute", "muted", p.Muted())
	case "f":
		err = p.Seek(seekStep, true)
	case "b":
		err = p.Seek(-seekStep, true)
	case "n":
		err = p.Next()
	case "s":
		err = p.Stop()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", line)
		return false
	}
	if err != nil {
		slog.Warn("Command failed", "command", line, "error", err)
	}
	return false
}

func logNotification(n player.Notification) {
	if n.Err != nil {
		slog.Log(context.Background(), n.Level, n.Message, "error", n.Err)
		return
	}
	slog.Log(context.Background(), n.Level, n.Message)
}

func drainNotifications(ctl *player.Controller) {
	for {
		select {
		case n := <-ctl.Notifications():
			logNotification(n)
		default:
			return
		}
	}
}
