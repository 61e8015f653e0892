package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/util"
)

var probeJSON bool

var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Probe a media file",
	Long: `Print the stream layout ffprobe reports for a media file.

Useful for checking why a piece was excluded from a reel: inputs
without both a video and an audio stream are dropped from the
timeline.`,
	Args: cobra.ExactArgs(1),
	RunE: runProbe,
}

func init() {
	probeCmd.Flags().BoolVar(&probeJSON, "json", false, "output probe result as JSON")
	rootCmd.AddCommand(probeCmd)
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Probing only needs ffprobe; ffmpeg may legitimately be absent here.
	ffprobePath, err := util.ResolveBinary(cfg.FFmpeg.ProbePath)
	if err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}

	tool := mediatool.New(cfg.FFmpeg.BinaryPath, ffprobePath).
		WithTimeout(cfg.Pipeline.MediaToolTimeout)

	info, err := tool.Probe(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("probing %s: %w", args[0], err)
	}

	if probeJSON {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling probe result: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("path:     %s\n", info.Path)
	fmt.Printf("duration: %.3fs\n", info.Duration)
	if info.HasVideo {
		fmt.Printf("video:    %s %dx%d @ %.3g fps, %d frames\n",
			info.VideoCodec, info.Width, info.Height, info.FPS, info.FrameCount)
	} else {
		fmt.Println("video:    none")
	}
	if info.HasAudio {
		fmt.Printf("audio:    %s %d Hz, %d channel(s)\n",
			info.AudioCodec, info.SampleRate, info.Channels)
	} else {
		fmt.Println("audio:    none")
	}
	return nil
}
