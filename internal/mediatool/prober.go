package mediatool

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// probeResult mirrors the ffprobe JSON output.
type probeResult struct {
	Format  probeFormat   `json:"format"`
	Streams []probeStream `json:"streams"`
}

type probeFormat struct {
	Filename   string `json:"filename"`
	FormatName string `json:"format_name"`
	Duration   string `json:"duration"`
	Size       string `json:"size"`
	BitRate    string `json:"bit_rate"`
}

type probeStream struct {
	Index        int    `json:"index"`
	CodecName    string `json:"codec_name"`
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	PixFmt       string `json:"pix_fmt"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
	NumFrames    string `json:"nb_frames"`
	Duration     string `json:"duration"`
	SampleRate   string `json:"sample_rate"`
	Channels     int    `json:"channels"`
}

// ProbeInfo is the digest of an ffprobe run that the pipeline consumes.
type ProbeInfo struct {
	Path       string  `json:"path"`
	Duration   float64 `json:"duration"`
	FPS        float64 `json:"fps"`
	FrameCount int     `json:"frame_count"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
	VideoCodec string  `json:"video_codec,omitempty"`
	AudioCodec string  `json:"audio_codec,omitempty"`
	SampleRate int     `json:"sample_rate,omitempty"`
	Channels   int     `json:"channels,omitempty"`
	HasVideo   bool    `json:"has_video"`
	HasAudio   bool    `json:"has_audio"`
}

// FrameDuration returns the length of one video frame in seconds, or
// zero when the frame rate is unknown.
func (p ProbeInfo) FrameDuration() float64 {
	if p.FPS <= 0 {
		return 0
	}
	return 1 / p.FPS
}

// Probe inspects a media file. Unreadable or streamless files are
// reported as corrupt media.
func (t *Tool) Probe(ctx context.Context, path string) (*ProbeInfo, error) {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}

	out, err := t.runCapture(ctx, StageProbe, args)
	if err != nil {
		if haperr.IsCancelled(err) {
			return nil, err
		}
		return nil, fmt.Errorf("probe %s: %w: %w", path, haperr.ErrMediaCorrupt, err)
	}

	info, err := parseProbeOutput(path, out)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w: %w", path, haperr.ErrMediaCorrupt, err)
	}
	return info, nil
}

func parseProbeOutput(path string, out []byte) (*ProbeInfo, error) {
	var result probeResult
	if err := json.Unmarshal(out, &result); err != nil {
		return nil, fmt.Errorf("parsing ffprobe output: %w", err)
	}
	if len(result.Streams) == 0 {
		return nil, fmt.Errorf("no streams found")
	}

	info := &ProbeInfo{Path: path}
	info.Duration, _ = strconv.ParseFloat(result.Format.Duration, 64)

	for _, stream := range result.Streams {
		switch stream.CodecType {
		case "video":
			if info.HasVideo {
				continue
			}
			info.HasVideo = true
			info.VideoCodec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height
			info.FPS = parseFramerate(stream.AvgFrameRate)
			if info.FPS == 0 {
				info.FPS = parseFramerate(stream.RFrameRate)
			}
			if n, err := strconv.Atoi(stream.NumFrames); err == nil {
				info.FrameCount = n
			}
			if info.Duration == 0 {
				info.Duration, _ = strconv.ParseFloat(stream.Duration, 64)
			}
		case "audio":
			if info.HasAudio {
				continue
			}
			info.HasAudio = true
			info.AudioCodec = stream.CodecName
			info.Channels = stream.Channels
			if sr, err := strconv.Atoi(stream.SampleRate); err == nil {
				info.SampleRate = sr
			}
		}
	}

	if info.FrameCount == 0 && info.FPS > 0 && info.Duration > 0 {
		info.FrameCount = int(math.Round(info.Duration * info.FPS))
	}

	return info, nil
}

// parseFramerate converts an ffprobe rate fraction such as
// "30000/1001" into frames per second.
func parseFramerate(rate string) float64 {
	if rate == "" || rate == "0/0" {
		return 0
	}

	parts := strings.Split(rate, "/")
	if len(parts) == 1 {
		fps, _ := strconv.ParseFloat(parts[0], 64)
		return fps
	}
	if len(parts) != 2 {
		return 0
	}

	num, err := strconv.ParseFloat(parts[0], 64)
	if err != nil {
		return 0
	}
	den, err := strconv.ParseFloat(parts[1], 64)
	if err != nil || den == 0 {
		return 0
	}
	return num / den
}
