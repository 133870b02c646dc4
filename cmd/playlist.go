package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/player"
	"github.com/drgolem/streamplayer/pkg/types"
)

// playlistCmd represents the playlist command
var playlistCmd = &cobra.Command{
	Use:   "playlist <ref> [ref...]",
	Short: "Play references sequentially",
	Long: `Play references one after another without interactive commands.

Each reference gets its own session: the source is resolved, the stream is
probed and the output device is opened on the first decoded frame. A
reference that fails to resolve or decode is reported and skipped.

Examples:
  # Play all MP3 files in current directory
  streamplayer playlist *.mp3

  # Use specific device with verbose output
  streamplayer playlist -d 0 -v music/*.flac`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPlaylist,
}

func init() {
	rootCmd.AddCommand(playlistCmd)
}

func runPlaylist(cmd *cobra.Command, args []string) error {
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

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	played := 0
	for i, ref := range args {
		slog.Info("Playing", "index", i+1, "total", len(args), "ref", ref)

		if err := ctl.Play(ref); err != nil {
			slog.Error("Skipping", "ref", ref, "error", err)
			continue
		}

		statusDone := make(chan struct{})
		go monitorPlayback(ctl, statusDone)
		interrupted := waitForSession(ctl, sigChan)
		close(statusDone)

		if interrupted {
			slog.Info("Playback interrupted")
			return nil
		}
		if state, err := ctl.State(); state == player.StateError {
			slog.Error("Playback failed", "ref", ref, "error", err)
			continue
		}
		played++
	}

	slog.Info("All references completed", "played", played, "total", len(args))
	return nil
}

// waitForSession blocks until the current session ends or a signal arrives.
// It reports whether playback was interrupted.
func waitForSession(ctl *player.Controller, sigChan <-chan os.Signal) bool {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigChan:
			slog.Info("Signal received, stopping", "signal", sig)
			if err := ctl.Stop(); err != nil {
				slog.Error("Failed to stop player", "error", err)
			}
			return true
		case n := <-ctl.Notifications():
			logNotification(n)
		case <-ticker.C:
			if state, _ := ctl.State(); state == player.StateIdle || state == player.StateError {
				return false
			}
		}
	}
}

// monitorPlayback logs playback status every 2 seconds for any PlaybackMonitor
func monitorPlayback(monitor types.PlaybackMonitor, done chan struct{}) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			status := monitor.GetPlaybackStatus()
			if status.SampleRate == 0 {
				continue
			}

			played := time.Duration(status.PlayedSamples) * time.Second / time.Duration(status.SampleRate)
			buffered := float64(status.BufferedSamples) / float64(status.SampleRate)

			slog.Info("Playback status",
				"title", status.FileName,
				"portaudio", fmt.Sprintf("%dHz:%dbit:%dch:%dframes",
					status.SampleRate, status.BitsPerSample, status.Channels, status.FramesPerBuffer),
				"played", formatClock(played),
				"buffered", fmt.Sprintf("%.3fs", buffered),
				"elapsed", formatClock(status.ElapsedTime))
		case <-done:
			return
		}
	}
}

// formatClock formats d as hh:mm:ss.msec
func formatClock(d time.Duration) string {
	ms := d.Milliseconds()
	return fmt.Sprintf("%02d:%02d:%02d.%03d", ms/3600000, (ms%3600000)/60000, (ms%60000)/1000, ms%1000)
}
