// Package assemble joins an ordered sequence of local MP4 pieces, the
// optional title card first, into the final timeline. Adjacent pieces
// are crossfaded inside a single ffmpeg filter graph so the output is
// one continuous H.264/AAC file rather than a hard-cut concat.
package assemble

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mediatool"
)

const (
	// DefaultCrossfadeFrames is the crossfade length in frames at the
	// working framerate. Ten frames at 30 fps is a 333 ms blend.
	DefaultCrossfadeFrames = 10

	// DefaultFPS is the framerate every input is normalised to before
	// the crossfade chain runs.
	DefaultFPS = 30

	titleCardSeconds     = 1.5
	titleCardFadeSeconds = 0.3
)

// MediaTool is the slice of the media tool the assembler drives.
type MediaTool interface {
	Probe(ctx context.Context, path string) (*mediatool.ProbeInfo, error)
	ExecFilterGraph(ctx context.Context, inputs []string, graph string, maps []string, outputArgs []string, output string) error
	ExtractTitleCard(ctx context.Context, input, output string, duration, fadeOut float64, encode mediatool.EncodeParams) error
}

// Options control the joining geometry and the output encode.
type Options struct {
	CrossfadeFrames int
	FPS             int
	Width           int
	Height          int
	Preset          string
	CRF             int
	AudioBitrate    string
}

// Input is one piece of the timeline in playback order. Label is a
// human-readable handle ("play 746321", "transition top-3") used in
// exclusion reports and logs.
type Input struct {
	Label string
	Path  string
}

// Exclusion records an input dropped from the timeline and why.
type Exclusion struct {
	Label  string
	Path   string
	Reason string
}

// Result describes the assembled timeline.
type Result struct {
	OutputPath       string
	Included         []Input
	Excluded         []Exclusion
	ExpectedDuration float64
}

// Assembler builds the final timeline from prepared pieces.
type Assembler struct {
	tool   MediaTool
	opts   Options
	logger *slog.Logger
}

// New creates an Assembler. Zero option fields fall back to the
// broadcast defaults (1920x1080 at 30 fps, 10-frame crossfades,
// libx264 veryfast CRF 18, 192k AAC).
func New(tool MediaTool, opts Options) *Assembler {
	if opts.CrossfadeFrames <= 0 {
		opts.CrossfadeFrames = DefaultCrossfadeFrames
	}
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Width <= 0 {
		opts.Width = 1920
	}
	if opts.Height <= 0 {
		opts.Height = 1080
	}
	if opts.Preset == "" {
		opts.Preset = "veryfast"
	}
	if opts.CRF <= 0 {
		opts.CRF = 18
	}
	if opts.AudioBitrate == "" {
		opts.AudioBitrate = "192k"
	}
	return &Assembler{
		tool:   tool,
		opts:   opts,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger and returns the assembler for chaining.
func (a *Assembler) WithLogger(logger *slog.Logger) *Assembler {
	if logger != nil {
		a.logger = logger
	}
	return a
}

// CrossfadeSeconds returns the crossfade duration in seconds.
func (a *Assembler) CrossfadeSeconds() float64 {
	return float64(a.opts.CrossfadeFrames) / float64(a.opts.FPS)
}

// Assemble joins the inputs, in order, into a single MP4 at outputPath.
// Unreadable inputs are excluded and reported in the Result; the join
// fails only when nothing readable remains.
func (a *Assembler) Assemble(ctx context.Context, inputs []Input, outputPath string) (*Result, error) {
	if len(inputs) == 0 {
		return nil, haperr.Invariantf("no inputs to assemble")
	}

	start := time.Now()
	result := &Result{OutputPath: outputPath}
	var durations []float64

	for _, in := range inputs {
		info, err := a.tool.Probe(ctx, in.Path)
		if err != nil {
			if haperr.IsCancelled(err) {
				return nil, err
			}
			a.logger.Warn("excluding unreadable timeline input",
				slog.String("label", in.Label),
				slog.String("path", in.Path),
				slog.String("error", err.Error()))
			result.Excluded = append(result.Excluded, Exclusion{Label: in.Label, Path: in.Path, Reason: err.Error()})
			continue
		}
		if reason := usable(info); reason != "" {
			a.logger.Warn("excluding unusable timeline input",
				slog.String("label", in.Label),
				slog.String("path", in.Path),
				slog.String("reason", reason))
			result.Excluded = append(result.Excluded, Exclusion{Label: in.Label, Path: in.Path, Reason: reason})
			continue
		}
		result.Included = append(result.Included, in)
		durations = append(durations, info.Duration)
	}

	if len(result.Included) == 0 {
		return nil, fmt.Errorf("no readable inputs remain for assembly: %w", haperr.ErrMediaCorrupt)
	}

	graph, expected := a.buildFilterGraph(durations)
	result.ExpectedDuration = expected

	paths := make([]string, len(result.Included))
	for i, in := range result.Included {
		paths[i] = in.Path
	}

	if err := a.tool.ExecFilterGraph(ctx, paths, graph, []string{"[outv]", "[outa]"}, a.outputArgs(), outputPath); err != nil {
		return nil, err
	}

	a.logger.Info("timeline assembled",
		slog.String("output", outputPath),
		slog.Int("inputs", len(result.Included)),
		slog.Int("excluded", len(result.Excluded)),
		slog.Float64("duration_s", expected),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// PrepareTitleCard cuts the opening 1.5 s of sourcePath into a
// standalone fragment with the final 300 ms of audio faded to silence,
// ready to lead the timeline.
func (a *Assembler) PrepareTitleCard(ctx context.Context, sourcePath, outputPath string) error {
	return a.tool.ExtractTitleCard(ctx, sourcePath, outputPath, titleCardSeconds, titleCardFadeSeconds, a.encodeParams())
}

// usable reports why a probed input cannot join the timeline, or ""
// when it can.
func usable(info *mediatool.ProbeInfo) string {
	switch {
	case !info.HasVideo:
		return "no video stream"
	case !info.HasAudio:
		return "no audio stream"
	case info.Duration <= 0:
		return "zero duration"
	}
	return ""
}

// buildFilterGraph emits the normalisation and crossfade chains for
// the given input durations and returns the graph together with the
// expected output duration. Every input is scaled and padded to the
// working frame, forced onto a common timebase and framerate, and its
// audio resampled, so the n-1 crossfade stages see uniform streams.
// Each stage starts one fade length before the running end of the
// timeline, so every join shortens the total by one fade.
func (a *Assembler) buildFilterGraph(durations []float64) (string, float64) {
	n := len(durations)
	fade := a.CrossfadeSeconds()
	var sb strings.Builder

	for i := range durations {
		vOut := fmt.Sprintf("v%d", i)
		aOut := fmt.Sprintf("a%d", i)
		if n == 1 {
			vOut, aOut = "outv", "outa"
		}
		fmt.Fprintf(&sb, "[%d:v:0]scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,fps=%d,settb=AVTB,format=yuv420p,setsar=1,setpts=PTS-STARTPTS[%s];",
			i, a.opts.Width, a.opts.Height, a.opts.Width, a.opts.Height, a.opts.FPS, vOut)
		fmt.Fprintf(&sb, "[%d:a:0]aresample=async=1:first_pts=0,aformat=sample_fmts=fltp:sample_rates=48000:channel_layouts=stereo,asetpts=PTS-STARTPTS[%s];",
			i, aOut)
	}

	if n == 1 {
		return strings.TrimSuffix(sb.String(), ";"), durations[0]
	}

	running := durations[0]
	lastV, lastA := "v0", "a0"
	for j := 1; j < n; j++ {
		offset := running - fade
		vOut := fmt.Sprintf("vx%d", j)
		aOut := fmt.Sprintf("ax%d", j)
		if j == n-1 {
			vOut, aOut = "outv", "outa"
		}
		fmt.Fprintf(&sb, "[%s][v%d]xfade=transition=fade:duration=%.3f:offset=%.3f[%s];",
			lastV, j, fade, offset, vOut)
		fmt.Fprintf(&sb, "[%s][a%d]acrossfade=d=%.3f:c1=tri:c2=tri[%s];",
			lastA, j, fade, aOut)
		lastV, lastA = vOut, aOut
		running += durations[j] - fade
	}

	return strings.TrimSuffix(sb.String(), ";"), running
}

func (a *Assembler) outputArgs() []string {
	return []string{
		"-c:v", "libx264",
		"-preset", a.opts.Preset,
		"-crf", strconv.Itoa(a.opts.CRF),
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", a.opts.AudioBitrate,
		"-ar", "48000",
		"-movflags", "+faststart",
	}
}

func (a *Assembler) encodeParams() mediatool.EncodeParams {
	p := mediatool.DefaultEncodeParams()
	p.Preset = a.opts.Preset
	p.CRF = a.opts.CRF
	p.AudioBitrate = a.opts.AudioBitrate
	return p
}
