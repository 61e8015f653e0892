// Package surgeon cuts the selected intervals out of a clip and joins
// them into a single fragment, the per-clip half of highlight assembly.
package surgeon

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/reduce"
)

// DefaultFadeSeconds is the audio micro-fade applied at both ends of
// every cut to mask waveform discontinuities.
const DefaultFadeSeconds = 0.05

// MediaTool is the slice of the media tool the surgeon needs.
type MediaTool interface {
	Probe(ctx context.Context, path string) (*mediatool.ProbeInfo, error)
	Trim(ctx context.Context, input, output string, start, end float64, opts mediatool.TrimOptions) error
	ConcatReencode(ctx context.Context, inputs []string, output string, encode mediatool.EncodeParams) error
}

// Surgeon extracts interval lists from clips.
type Surgeon struct {
	tool   MediaTool
	fade   float64
	encode mediatool.EncodeParams
	logger *slog.Logger
}

// Result describes one extraction.
type Result struct {
	OutputPath string
	// Applied holds the intervals actually cut, after clamping to the
	// probed media duration.
	Applied []reduce.Interval
	// ExpectedDuration is the sum of applied interval lengths.
	ExpectedDuration float64
	// MeasuredDuration is the probed duration of the output.
	MeasuredDuration float64
}

// New creates a Surgeon. Fades of zero or less fall back to the default.
func New(tool MediaTool, fadeSeconds float64, encode mediatool.EncodeParams) *Surgeon {
	if fadeSeconds <= 0 {
		fadeSeconds = DefaultFadeSeconds
	}
	return &Surgeon{
		tool:   tool,
		fade:   fadeSeconds,
		encode: encode,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used by the surgeon.
func (s *Surgeon) WithLogger(logger *slog.Logger) *Surgeon {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Extract produces a single MP4 at outputPath containing exactly the
// given intervals of clipPath, concatenated in order. Interval ends
// are clamped to the probed media duration; intervals that start at or
// past the end of the media are dropped with a warning.
func (s *Surgeon) Extract(ctx context.Context, clipPath string, intervals []reduce.Interval, outputPath string) (*Result, error) {
	if len(intervals) == 0 {
		return nil, haperr.Invariantf("extraction of %s requested with no intervals", clipPath)
	}

	info, err := s.tool.Probe(ctx, clipPath)
	if err != nil {
		return nil, err
	}

	applied, clamped := clampIntervals(intervals, info.Duration)
	if clamped {
		s.logger.Warn("intervals clamped to media duration",
			slog.String("clip", clipPath),
			slog.Float64("media_duration", info.Duration),
			slog.Int("requested", len(intervals)),
			slog.Int("applied", len(applied)))
	}
	if len(applied) == 0 {
		return nil, haperr.Invariantf("all intervals of %s lie past the media end (%.3fs)", clipPath, info.Duration)
	}

	result := &Result{
		OutputPath:       outputPath,
		Applied:          applied,
		ExpectedDuration: reduce.TotalDuration(applied),
	}

	trimOpts := mediatool.TrimOptions{FadeSeconds: s.fade, Encode: s.encode}

	if len(applied) == 1 {
		iv := applied[0]
		if err := s.tool.Trim(ctx, clipPath, outputPath, iv.Start, iv.End, trimOpts); err != nil {
			return nil, fmt.Errorf("trimming %s: %w", clipPath, err)
		}
		s.finish(ctx, result, info)
		return result, nil
	}

	pieceDir := filepath.Dir(outputPath)
	pieces := make([]string, 0, len(applied))
	defer func() {
		for _, p := range pieces {
			os.Remove(p)
		}
	}()

	base := filepath.Base(outputPath)
	for i, iv := range applied {
		piece := filepath.Join(pieceDir, fmt.Sprintf("%s.piece-%03d.mp4", base, i))
		if err := s.tool.Trim(ctx, clipPath, piece, iv.Start, iv.End, trimOpts); err != nil {
			return nil, fmt.Errorf("trimming piece %d of %s: %w", i, clipPath, err)
		}
		pieces = append(pieces, piece)
	}

	if err := s.tool.ConcatReencode(ctx, pieces, outputPath, s.encode); err != nil {
		return nil, fmt.Errorf("joining pieces of %s: %w", clipPath, err)
	}

	s.finish(ctx, result, info)
	return result, nil
}

// finish measures the output and flags any drift beyond one frame
// period. Drift is logged rather than failed: downstream crossfades
// absorb small timing error, and the measurement itself carries
// container rounding.
func (s *Surgeon) finish(ctx context.Context, result *Result, source *mediatool.ProbeInfo) {
	out, err := s.tool.Probe(ctx, result.OutputPath)
	if err != nil {
		s.logger.Warn("could not measure extraction output",
			slog.String("path", result.OutputPath),
			slog.String("error", err.Error()))
		return
	}
	result.MeasuredDuration = out.Duration

	framePeriod := source.FrameDuration()
	if framePeriod <= 0 {
		framePeriod = 1.0 / 30.0
	}
	drift := math.Abs(result.MeasuredDuration - result.ExpectedDuration)
	if drift > framePeriod+1e-3 {
		s.logger.Warn("extraction duration drifted past one frame",
			slog.String("path", result.OutputPath),
			slog.Float64("expected", result.ExpectedDuration),
			slog.Float64("measured", result.MeasuredDuration),
			slog.Float64("frame_period", framePeriod))
	}
}

// clampIntervals bounds interval ends to the media duration and drops
// intervals lying entirely past it. A non-positive duration (unknown)
// leaves the intervals untouched. The second return reports whether
// anything was adjusted.
func clampIntervals(intervals []reduce.Interval, duration float64) ([]reduce.Interval, bool) {
	if duration <= 0 {
		return append([]reduce.Interval(nil), intervals...), false
	}

	clamped := false
	out := make([]reduce.Interval, 0, len(intervals))
	for _, iv := range intervals {
		if iv.Start >= duration {
			clamped = true
			continue
		}
		if iv.End > duration {
			iv.End = duration
			clamped = true
		}
		if iv.End <= iv.Start {
			clamped = true
			continue
		}
		out = append(out, iv)
	}
	return out, clamped
}
