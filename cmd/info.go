package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drgolem/streamplayer/internal/engine"
	"github.com/drgolem/streamplayer/internal/resolver"
	"github.com/drgolem/streamplayer/pkg/decoders"
)

var infoCmd = &cobra.Command{
	Use:   "info <ref>",
	Short: "Resolve and probe a reference and print the selected track",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(cmd *cobra.Command, args []string) error {
	setupLogging()
	ref := args[0]

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	src, err := resolver.New(cfg.ResolverConfig(), nil).Resolve(cmd.Context(), ref)
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
	duration := track.Duration()
	if duration == 0 {
		duration = src.Duration()
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Reference:\t%s\n", ref)
	fmt.Fprintf(w, "Kind:\t%s\n", src.Kind())
	fmt.Fprintf(w, "Title:\t%s\n", src.Title())
	fmt.Fprintf(w, "Container:\t%s\n", stream.Format())
	fmt.Fprintf(w, "Codec:\t%s\n", track.Codec)
	fmt.Fprintf(w, "Sample rate:\t%d Hz\n", track.Spec.SampleRate)
	fmt.Fprintf(w, "Channels:\t%d\n", track.Spec.Channels)
	fmt.Fprintf(w, "Sample format:\t%s\n", track.Spec.Format)
	if duration > 0 {
		fmt.Fprintf(w, "Duration:\t%s\n", formatClock(duration))
	} else {
		fmt.Fprintf(w, "Duration:\tunknown\n")
	}
	fmt.Fprintf(w, "Seekable:\t%t\n", stream.Seekable())
	return w.Flush()
}
