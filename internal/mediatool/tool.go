package mediatool

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// DefaultTimeout bounds a single external tool invocation.
const DefaultTimeout = 300 * time.Second

// EncodeParams are the encoder settings shared by every operation that
// re-encodes. Trimmed pieces that later meet in a concat must be
// produced with identical parameters, so the pipeline builds one of
// these and passes it everywhere.
type EncodeParams struct {
	VideoCodec      string
	Preset          string
	CRF             int
	PixelFormat     string
	AudioCodec      string
	AudioBitrate    string
	AudioSampleRate int
	AudioChannels   int
}

// DefaultEncodeParams returns broadcast-friendly H.264/AAC settings.
func DefaultEncodeParams() EncodeParams {
	return EncodeParams{
		VideoCodec:      "libx264",
		Preset:          "veryfast",
		CRF:             18,
		PixelFormat:     "yuv420p",
		AudioCodec:      "aac",
		AudioBitrate:    "192k",
		AudioSampleRate: 48000,
		AudioChannels:   2,
	}
}

func (e EncodeParams) apply(b *CommandBuilder) {
	b.VideoCodec(e.VideoCodec).
		VideoPreset(e.Preset).
		CRF(e.CRF).
		PixelFormat(e.PixelFormat).
		AudioCodec(e.AudioCodec).
		AudioBitrate(e.AudioBitrate).
		AudioSampleRate(e.AudioSampleRate).
		AudioChannels(e.AudioChannels)
}

// Tool invokes ffmpeg and ffprobe.
type Tool struct {
	ffmpegPath  string
	ffprobePath string
	timeout     time.Duration
	logger      *slog.Logger
}

// New creates a Tool for the given binary paths. Empty paths fall back
// to the binaries on PATH.
func New(ffmpegPath, ffprobePath string) *Tool {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Tool{
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		timeout:     DefaultTimeout,
		logger:      slog.Default(),
	}
}

// WithTimeout sets the per-invocation timeout.
func (t *Tool) WithTimeout(timeout time.Duration) *Tool {
	if timeout > 0 {
		t.timeout = timeout
	}
	return t
}

// WithLogger sets the logger used by the tool.
func (t *Tool) WithLogger(logger *slog.Logger) *Tool {
	if logger != nil {
		t.logger = logger
	}
	return t
}

// TrimOptions shape a single Trim call.
type TrimOptions struct {
	// FadeSeconds is the linear audio fade applied at both ends of the
	// piece. Zero disables the fades.
	FadeSeconds float64
	Encode      EncodeParams
}

// Trim cuts [start, end) out of the input into a standalone file,
// re-encoding so the cut lands on exact frames rather than the nearest
// keyframe. A short audio fade at each end masks the waveform
// discontinuity the cut would otherwise click on.
func (t *Tool) Trim(ctx context.Context, input, output string, start, end float64, opts TrimOptions) error {
	if end <= start {
		return haperr.Invariantf("trim window [%0.3f, %0.3f) is empty", start, end)
	}
	duration := end - start

	b := NewCommandBuilder().
		HideBanner().
		Overwrite().
		SeekInput(start, input).
		Duration(duration).
		Map("0:v:0", "0:a:0")
	opts.Encode.apply(b)

	if filter := trimFadeFilter(duration, opts.FadeSeconds); filter != "" {
		b.AudioFilter(filter)
	}

	b.OutputArgs("-avoid_negative_ts", "make_zero").Output(output)
	return t.run(ctx, StageTrim, b.Build())
}

// ConcatReencode joins the inputs back to back into a single file
// using the concat demuxer, re-encoding the result. The inputs must
// share encode parameters.
func (t *Tool) ConcatReencode(ctx context.Context, inputs []string, output string, encode EncodeParams) error {
	if len(inputs) == 0 {
		return haperr.Invariantf("concat of zero inputs")
	}

	listPath, err := writeConcatList(filepath.Dir(output), inputs)
	if err != nil {
		return fmt.Errorf("writing concat list: %w", err)
	}
	defer os.Remove(listPath)

	b := NewCommandBuilder().
		HideBanner().
		Overwrite().
		ConcatInput(listPath).
		Map("0:v:0", "0:a:0")
	encode.apply(b)
	b.AudioFilter("aresample=async=1:first_pts=0").
		FastStart().
		Output(output)

	return t.run(ctx, StageConcat, b.Build())
}

// ExecFilterGraph runs an arbitrary filter_complex graph over the
// inputs. The caller supplies the stream maps and output arguments,
// including codecs, since graph outputs always need an explicit encode
// decision.
func (t *Tool) ExecFilterGraph(ctx context.Context, inputs []string, graph string, maps []string, outputArgs []string, output string) error {
	if len(inputs) == 0 {
		return haperr.Invariantf("filter graph with zero inputs")
	}

	b := NewCommandBuilder().
		HideBanner().
		Overwrite()
	for _, in := range inputs {
		b.Input(in)
	}
	b.FilterComplex(graph).
		Map(maps...).
		OutputArgs(outputArgs...).
		Output(output)

	return t.run(ctx, StageFilterGraph, b.Build())
}

// ExtractTitleCard cuts the opening seconds of a video into a
// standalone piece whose audio fades to silence over the final
// fadeOut seconds.
func (t *Tool) ExtractTitleCard(ctx context.Context, input, output string, duration, fadeOut float64, encode EncodeParams) error {
	if duration <= 0 {
		return haperr.Invariantf("title card duration %.3f is not positive", duration)
	}
	if fadeOut < 0 || fadeOut > duration {
		return haperr.Invariantf("title card fade %.3f does not fit in %.3f", fadeOut, duration)
	}

	b := NewCommandBuilder().
		HideBanner().
		Overwrite().
		Input(input).
		Duration(duration).
		Map("0:v:0", "0:a:0")
	encode.apply(b)

	if fadeOut > 0 {
		b.AudioFilter(fmt.Sprintf("afade=t=out:st=%.3f:d=%.3f", duration-fadeOut, fadeOut))
	}

	b.OutputArgs("-avoid_negative_ts", "make_zero").Output(output)
	return t.run(ctx, StageTrim, b.Build())
}

// ExtractAudio writes the input's audio as 16 kHz mono PCM WAV, the
// shape speech models expect.
func (t *Tool) ExtractAudio(ctx context.Context, input, output string) error {
	b := NewCommandBuilder().
		HideBanner().
		Overwrite().
		Input(input).
		NoVideo().
		AudioCodec("pcm_s16le").
		AudioSampleRate(16000).
		AudioChannels(1).
		Output(output)

	return t.run(ctx, StageExtractAudio, b.Build())
}

// trimFadeFilter builds the fade-in/fade-out audio filter for a
// trimmed piece. Pieces shorter than twice the fade get half-duration
// fades so the two ramps never overlap.
func trimFadeFilter(duration, fade float64) string {
	if fade <= 0 {
		return ""
	}
	if duration < 2*fade {
		fade = duration / 2
	}
	return fmt.Sprintf(
		"afade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f",
		fade, duration-fade, fade)
}

// writeConcatList writes a concat demuxer list file next to the output.
func writeConcatList(dir string, inputs []string) (string, error) {
	f, err := os.CreateTemp(dir, "concat-*.txt")
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, in := range inputs {
		fmt.Fprintf(&sb, "file '%s'\n", escapeConcatPath(in))
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", err
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// escapeConcatPath escapes single quotes for the concat demuxer's
// quoted path syntax.
func escapeConcatPath(path string) string {
	return strings.ReplaceAll(path, "'", `'\''`)
}
