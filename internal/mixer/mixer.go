// Package mixer builds the synced-narration variant of the final
// timeline: clips trimmed to their action windows, hard-cut together,
// the original commentary ducked under pre-rendered narration takes,
// everything mixed into one MP4 with the video stream untouched.
package mixer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/narrate"
)

const (
	// DefaultDuckingFloor is the commentary gain under a narration.
	DefaultDuckingFloor = 0.2
	// DefaultDuckingCeiling is the commentary gain everywhere else.
	DefaultDuckingCeiling = 0.7
	// DefaultNarrationGain lifts narration over the ducked floor.
	DefaultNarrationGain = 2.0
	// DefaultFinalGain compensates the mix stage's headroom.
	DefaultFinalGain = 1.5
	// DefaultTrimBuffer pads the action window on both sides.
	DefaultTrimBuffer = 1.5
	// DefaultWindowTail keeps the duck open past each narration's end.
	DefaultWindowTail = 0.5

	beforeActionLead = 0.5
	afterActionLag   = 1.0
	trimFadeSeconds  = 0.05
)

// MediaTool is the slice of the media tool the mixer drives.
type MediaTool interface {
	Probe(ctx context.Context, path string) (*mediatool.ProbeInfo, error)
	Trim(ctx context.Context, input, output string, start, end float64, opts mediatool.TrimOptions) error
	ConcatReencode(ctx context.Context, inputs []string, output string, encode mediatool.EncodeParams) error
	ExecFilterGraph(ctx context.Context, inputs []string, graph string, maps []string, outputArgs []string, output string) error
}

// Options tune the gain structure and the trim geometry.
type Options struct {
	DuckingFloor   float64
	DuckingCeiling float64
	NarrationGain  float64
	FinalGain      float64
	TrimBuffer     float64
	WindowTail     float64
	Encode         mediatool.EncodeParams
}

// ClipSource is one fetched clip entering the synced mix, in timeline
// order.
type ClipSource struct {
	ClipID string
	Path   string
}

// ClipState tracks a clip's progress through the mix.
type ClipState string

const (
	StateFetched  ClipState = "fetched"
	StateAnalysed ClipState = "analysed"
	StateTrimmed  ClipState = "trimmed"
	StatePlaced   ClipState = "placed"
)

// PlacedClip is a clip that made it onto the final timeline.
type PlacedClip struct {
	ClipID           string
	State            ClipState
	TrimmedPath      string
	TrimStart        float64
	TrimEnd          float64
	Duration         float64
	StartInFinal     float64
	ActionPeakInClip float64
}

// ExcludedClip records a clip dropped from the mix, the state it
// reached, and why it stopped there.
type ExcludedClip struct {
	ClipID string
	State  ClipState
	Reason string
}

// PlacedNarration is a narration segment resolved onto the final
// timeline. WindowEnd is where the ducking window closes, one tail
// past the audio's end.
type PlacedNarration struct {
	Segment   narrate.Segment
	StartSec  float64
	WindowEnd float64
}

// DroppedNarration records a segment that could not be placed.
type DroppedNarration struct {
	ClipID string
	Reason string
}

// Result describes the synced mix.
type Result struct {
	OutputPath string
	Clips      []PlacedClip
	Excluded   []ExcludedClip
	Narrations []PlacedNarration
	Dropped    []DroppedNarration
	Duration   float64
}

// Mixer assembles the synced-narration timeline.
type Mixer struct {
	tool   MediaTool
	opts   Options
	logger *slog.Logger
}

// New creates a Mixer. Zero option fields fall back to the documented
// gain structure (0.2 under narration, 0.7 elsewhere, narration at
// 2.0, final 1.5) and a 1.5 s trim buffer.
func New(tool MediaTool, opts Options) *Mixer {
	if opts.DuckingFloor <= 0 {
		opts.DuckingFloor = DefaultDuckingFloor
	}
	if opts.DuckingCeiling <= 0 {
		opts.DuckingCeiling = DefaultDuckingCeiling
	}
	if opts.NarrationGain <= 0 {
		opts.NarrationGain = DefaultNarrationGain
	}
	if opts.FinalGain <= 0 {
		opts.FinalGain = DefaultFinalGain
	}
	if opts.TrimBuffer <= 0 {
		opts.TrimBuffer = DefaultTrimBuffer
	}
	if opts.WindowTail <= 0 {
		opts.WindowTail = DefaultWindowTail
	}
	if opts.Encode == (mediatool.EncodeParams{}) {
		opts.Encode = mediatool.DefaultEncodeParams()
	}
	return &Mixer{
		tool:   tool,
		opts:   opts,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger and returns the mixer for chaining.
func (m *Mixer) WithLogger(logger *slog.Logger) *Mixer {
	if logger != nil {
		m.logger = logger
	}
	return m
}

// Mix trims each clip to its action window, concatenates the trims
// without crossfades so cumulative offsets stay exact, lays the
// narration takes over the ducked commentary bed, and writes the
// result to outputPath. Intermediates land in workDir. Clips without
// an analysis, and clips whose trim fails, are excluded; the mix fails
// only when no clip remains.
func (m *Mixer) Mix(ctx context.Context, clips []ClipSource, manifest *narrate.Manifest, workDir, outputPath string) (*Result, error) {
	if len(clips) == 0 {
		return nil, haperr.Invariantf("no clips to mix")
	}
	if manifest == nil {
		return nil, haperr.Invariantf("mix called without a narration manifest")
	}

	start := time.Now()
	result := &Result{OutputPath: outputPath}
	running := 0.0

	for _, src := range clips {
		placed, err := m.prepareClip(ctx, src, manifest, workDir, running)
		if err != nil {
			if haperr.IsCancelled(err) {
				return nil, err
			}
			state := StateFetched
			if _, ok := manifest.AnalysisFor(src.ClipID); ok {
				state = StateAnalysed
			}
			m.logger.Warn("excluding clip from synced mix",
				slog.String("clip_id", src.ClipID),
				slog.String("state", string(state)),
				slog.String("error", err.Error()))
			result.Excluded = append(result.Excluded, ExcludedClip{ClipID: src.ClipID, State: state, Reason: err.Error()})
			continue
		}
		result.Clips = append(result.Clips, *placed)
		running += placed.Duration
	}

	if len(result.Clips) == 0 {
		return nil, haperr.Validationf("clips", "no clips remain for the synced mix")
	}
	result.Duration = running

	bedPath := filepath.Join(workDir, "narration-bed.mp4")
	trimmed := make([]string, len(result.Clips))
	for i, c := range result.Clips {
		trimmed[i] = c.TrimmedPath
	}
	if err := m.tool.ConcatReencode(ctx, trimmed, bedPath, m.opts.Encode); err != nil {
		return nil, err
	}

	m.placeNarrations(manifest, result)
	if overlaps := overlappingWindows(result.Narrations); overlaps > 0 {
		m.logger.Warn("narration windows overlap; stacked narrations will fight each other",
			slog.Int("overlaps", overlaps))
	}

	graph := m.buildFilterGraph(result.Narrations)
	inputs := make([]string, 0, len(result.Narrations)+1)
	inputs = append(inputs, bedPath)
	for _, n := range result.Narrations {
		inputs = append(inputs, n.Segment.AudioPath)
	}

	if err := m.tool.ExecFilterGraph(ctx, inputs, graph, []string{"0:v:0", "[outa]"}, m.outputArgs(), outputPath); err != nil {
		return nil, err
	}

	m.logger.Info("synced mix assembled",
		slog.String("output", outputPath),
		slog.Int("clips", len(result.Clips)),
		slog.Int("excluded", len(result.Excluded)),
		slog.Int("narrations", len(result.Narrations)),
		slog.Float64("duration_s", result.Duration),
		slog.Duration("elapsed", time.Since(start)))
	return result, nil
}

// prepareClip walks one clip through fetched, analysed, trimmed and
// placed. The returned clip's StartInFinal is the running timeline
// position passed in.
func (m *Mixer) prepareClip(ctx context.Context, src ClipSource, manifest *narrate.Manifest, workDir string, startInFinal float64) (*PlacedClip, error) {
	analysis, ok := manifest.AnalysisFor(src.ClipID)
	if !ok {
		return nil, fmt.Errorf("no action analysis for clip %s", src.ClipID)
	}

	info, err := m.tool.Probe(ctx, src.Path)
	if err != nil {
		return nil, err
	}

	trimStart, trimEnd := trimWindow(analysis, info.Duration, m.opts.TrimBuffer)
	if trimEnd <= trimStart {
		return nil, fmt.Errorf("action window of clip %s collapses to nothing", src.ClipID)
	}

	trimmedPath := filepath.Join(workDir, src.ClipID+".synced.mp4")
	err = m.tool.Trim(ctx, src.Path, trimmedPath, trimStart, trimEnd, mediatool.TrimOptions{
		FadeSeconds: trimFadeSeconds,
		Encode:      m.opts.Encode,
	})
	if err != nil {
		return nil, err
	}

	return &PlacedClip{
		ClipID:           src.ClipID,
		State:            StatePlaced,
		TrimmedPath:      trimmedPath,
		TrimStart:        trimStart,
		TrimEnd:          trimEnd,
		Duration:         trimEnd - trimStart,
		StartInFinal:     startInFinal,
		ActionPeakInClip: analysis.ActionPeak - trimStart,
	}, nil
}

// placeNarrations resolves every manifest segment onto the final
// timeline. Segments whose clip was excluded, or whose audio file is
// missing, are dropped with a warning.
func (m *Mixer) placeNarrations(manifest *narrate.Manifest, result *Result) {
	byID := make(map[string]*PlacedClip, len(result.Clips))
	for i := range result.Clips {
		byID[result.Clips[i].ClipID] = &result.Clips[i]
	}

	for _, seg := range manifest.Segments {
		clip, ok := byID[seg.ClipID]
		if !ok {
			m.logger.Warn("dropping narration for absent clip", slog.String("clip_id", seg.ClipID))
			result.Dropped = append(result.Dropped, DroppedNarration{ClipID: seg.ClipID, Reason: "clip not in timeline"})
			continue
		}
		if _, err := os.Stat(seg.AudioPath); err != nil {
			m.logger.Warn("dropping narration with missing audio",
				slog.String("clip_id", seg.ClipID),
				slog.String("audio_path", seg.AudioPath))
			result.Dropped = append(result.Dropped, DroppedNarration{ClipID: seg.ClipID, Reason: "audio file missing"})
			continue
		}

		startSec := placeNarration(seg, clip.StartInFinal, clip.ActionPeakInClip)
		result.Narrations = append(result.Narrations, PlacedNarration{
			Segment:   seg,
			StartSec:  startSec,
			WindowEnd: startSec + seg.Duration + m.opts.WindowTail,
		})
	}
}

// trimWindow pads the action window by the buffer and clamps it to the
// clip bounds. A non-positive clip duration leaves the high end
// unclamped.
func trimWindow(a narrate.Analysis, clipDuration, buffer float64) (float64, float64) {
	start := a.ActionStart - buffer
	if start < 0 {
		start = 0
	}
	end := a.ActionEnd + buffer
	if clipDuration > 0 && end > clipDuration {
		end = clipDuration
	}
	return start, end
}

// placeNarration computes a segment's start on the final timeline. A
// positive segment buffer overrides the default lead or lag spacing;
// during_action and bridge ignore it. Starts clamp to zero.
func placeNarration(seg narrate.Segment, startInFinal, actionPeakInClip float64) float64 {
	var start float64
	switch seg.Timing {
	case narrate.TimingBeforeAction:
		lead := seg.Buffer
		if lead <= 0 {
			lead = beforeActionLead
		}
		start = startInFinal + actionPeakInClip - seg.Duration - lead
	case narrate.TimingDuringAction:
		start = startInFinal + actionPeakInClip
	case narrate.TimingAfterAction:
		lag := seg.Buffer
		if lag <= 0 {
			lag = afterActionLag
		}
		start = startInFinal + actionPeakInClip + lag
	case narrate.TimingBridge:
		start = startInFinal
	}
	if start < 0 {
		start = 0
	}
	return start
}

// overlappingWindows counts adjacent narration windows that overlap
// once sorted by start.
func overlappingWindows(narrations []PlacedNarration) int {
	if len(narrations) < 2 {
		return 0
	}
	sorted := append([]PlacedNarration(nil), narrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartSec < sorted[j].StartSec })

	overlaps := 0
	for i := 1; i < len(sorted); i++ {
		if sorted[i].StartSec < sorted[i-1].WindowEnd {
			overlaps++
		}
	}
	return overlaps
}

// buildFilterGraph emits the ducking and mix chains. Input 0 is the
// concatenated bed; inputs 1..N are the narration files in placement
// order. The bed's gain is a per-frame expression that sits at the
// floor inside any narration window and at the ceiling outside; each
// narration is delayed to its start and lifted; the mix runs with
// normalize=0 so amix cannot re-balance the gains we just set.
func (m *Mixer) buildFilterGraph(narrations []PlacedNarration) string {
	var sb strings.Builder

	sb.WriteString("[0:a:0]volume=")
	if len(narrations) == 0 {
		fmt.Fprintf(&sb, "%.2f", m.opts.DuckingCeiling)
	} else {
		sb.WriteString("'if(")
		for i, n := range narrations {
			if i > 0 {
				sb.WriteString("+")
			}
			fmt.Fprintf(&sb, "between(t,%.3f,%.3f)", n.StartSec, n.WindowEnd)
		}
		fmt.Fprintf(&sb, ",%.2f,%.2f)':eval=frame", m.opts.DuckingFloor, m.opts.DuckingCeiling)
	}
	sb.WriteString("[bed];")

	for i, n := range narrations {
		delayMs := int(math.Round(n.StartSec * 1000))
		fmt.Fprintf(&sb, "[%d:a:0]adelay=%d|%d,volume=%.2f,aformat=sample_rates=48000:channel_layouts=stereo[n%d];",
			i+1, delayMs, delayMs, m.opts.NarrationGain, i+1)
	}

	sb.WriteString("[bed]")
	for i := range narrations {
		fmt.Fprintf(&sb, "[n%d]", i+1)
	}
	fmt.Fprintf(&sb, "amix=inputs=%d:duration=longest:normalize=0,volume=%.2f[outa]",
		len(narrations)+1, m.opts.FinalGain)

	return sb.String()
}

func (m *Mixer) outputArgs() []string {
	return []string{
		"-c:v", "copy",
		"-c:a", m.opts.Encode.AudioCodec,
		"-b:a", m.opts.Encode.AudioBitrate,
		"-ar", "48000",
		"-movflags", "+faststart",
	}
}
