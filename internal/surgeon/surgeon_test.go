package surgeon

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/reduce"
)

type trimCall struct {
	input  string
	output string
	start  float64
	end    float64
	fade   float64
}

// fakeTool records media tool calls and materialises outputs as empty
// files so cleanup paths have something to delete.
type fakeTool struct {
	duration    float64
	fps         float64
	trims       []trimCall
	concatIn    []string
	concatOut   string
	failTrimAt  int
	probeOutput float64
}

func (f *fakeTool) Probe(_ context.Context, path string) (*mediatool.ProbeInfo, error) {
	duration := f.duration
	if f.probeOutput > 0 && f.concatOut != "" && path == f.concatOut {
		duration = f.probeOutput
	}
	fps := f.fps
	if fps == 0 {
		fps = 30
	}
	return &mediatool.ProbeInfo{Path: path, Duration: duration, FPS: fps, HasVideo: true, HasAudio: true}, nil
}

func (f *fakeTool) Trim(_ context.Context, input, output string, start, end float64, opts mediatool.TrimOptions) error {
	if f.failTrimAt > 0 && len(f.trims)+1 == f.failTrimAt {
		return &haperr.MediaFailureError{Stage: "trim", ExitCode: 1, Err: errors.New("boom")}
	}
	f.trims = append(f.trims, trimCall{input: input, output: output, start: start, end: end, fade: opts.FadeSeconds})
	return os.WriteFile(output, []byte("piece"), 0o644)
}

func (f *fakeTool) ConcatReencode(_ context.Context, inputs []string, output string, _ mediatool.EncodeParams) error {
	f.concatIn = append([]string(nil), inputs...)
	f.concatOut = output
	return os.WriteFile(output, []byte("joined"), 0o644)
}

func newTestSurgeon(tool MediaTool) *Surgeon {
	return New(tool, 0.05, mediatool.DefaultEncodeParams())
}

func TestExtract_SingleIntervalFastPath(t *testing.T) {
	tool := &fakeTool{duration: 10.0}
	out := filepath.Join(t.TempDir(), "fragment.mp4")

	result, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4",
		[]reduce.Interval{{Start: 0.35, End: 1.25}}, out)
	require.NoError(t, err)

	require.Len(t, tool.trims, 1)
	assert.Equal(t, out, tool.trims[0].output)
	assert.InDelta(t, 0.35, tool.trims[0].start, 1e-9)
	assert.InDelta(t, 1.25, tool.trims[0].end, 1e-9)
	assert.InDelta(t, 0.05, tool.trims[0].fade, 1e-9)
	assert.Empty(t, tool.concatIn)

	assert.InDelta(t, 0.90, result.ExpectedDuration, 1e-9)
}

func TestExtract_MultiIntervalConcats(t *testing.T) {
	tool := &fakeTool{duration: 10.0}
	dir := t.TempDir()
	out := filepath.Join(dir, "fragment.mp4")

	intervals := []reduce.Interval{
		{Start: 0.35, End: 1.25},
		{Start: 2.00, End: 3.50},
	}
	result, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4", intervals, out)
	require.NoError(t, err)

	require.Len(t, tool.trims, 2)
	assert.NotEqual(t, out, tool.trims[0].output)
	assert.Equal(t, []string{tool.trims[0].output, tool.trims[1].output}, tool.concatIn)
	assert.Equal(t, out, tool.concatOut)
	assert.InDelta(t, 2.40, result.ExpectedDuration, 1e-9)

	// Intermediate pieces are deleted afterwards.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "fragment.mp4", entries[0].Name())
}

func TestExtract_ClampsToMediaDuration(t *testing.T) {
	tool := &fakeTool{duration: 10.0}
	out := filepath.Join(t.TempDir(), "fragment.mp4")

	intervals := []reduce.Interval{
		{Start: 8.00, End: 12.50},
		{Start: 10.20, End: 11.00},
	}
	result, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4", intervals, out)
	require.NoError(t, err)

	// The overlong interval is clamped, the out-of-media one dropped.
	require.Len(t, result.Applied, 1)
	assert.InDelta(t, 8.00, result.Applied[0].Start, 1e-9)
	assert.InDelta(t, 10.00, result.Applied[0].End, 1e-9)
	require.Len(t, tool.trims, 1)
	assert.InDelta(t, 10.00, tool.trims[0].end, 1e-9)
}

func TestExtract_AllIntervalsPastmedia(t *testing.T) {
	tool := &fakeTool{duration: 5.0}
	out := filepath.Join(t.TempDir(), "fragment.mp4")

	_, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4",
		[]reduce.Interval{{Start: 6.0, End: 7.0}}, out)
	require.Error(t, err)

	var invErr *haperr.InvariantError
	assert.ErrorAs(t, err, &invErr)
}

func TestExtract_NoIntervals(t *testing.T) {
	tool := &fakeTool{duration: 5.0}
	_, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4", nil, "out.mp4")
	require.Error(t, err)

	var invErr *haperr.InvariantError
	assert.ErrorAs(t, err, &invErr)
}

func TestExtract_TrimFailureCleansPieces(t *testing.T) {
	tool := &fakeTool{duration: 10.0, failTrimAt: 2}
	dir := t.TempDir()
	out := filepath.Join(dir, "fragment.mp4")

	intervals := []reduce.Interval{
		{Start: 0.0, End: 1.0},
		{Start: 2.0, End: 3.0},
	}
	_, err := newTestSurgeon(tool).Extract(context.Background(), "clip.mp4", intervals, out)
	require.Error(t, err)
	assert.True(t, haperr.IsMediaFailure(err))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestClampIntervals_UnknownDuration(t *testing.T) {
	in := []reduce.Interval{{Start: 1.0, End: 99.0}}
	out, clamped := clampIntervals(in, 0)
	assert.Equal(t, in, out)
	assert.False(t, clamped)
}

// Integration test that requires FFmpeg to be installed.

func TestIntegration_ExtractMatchesIntervalSum(t *testing.T) {
	ffmpegPath, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	ffprobePath, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}

	dir := t.TempDir()
	src := filepath.Join(dir, "src.mp4")
	cmd := exec.Command(ffmpegPath,
		"-y",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000",
		"-t", "4.0",
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		src)
	if combined, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not create test clip: %v: %s", err, combined)
	}

	tool := mediatool.New(ffmpegPath, ffprobePath)
	surgeon := New(tool, 0.05, mediatool.DefaultEncodeParams())

	out := filepath.Join(dir, "fragment.mp4")
	result, err := surgeon.Extract(context.Background(), src, []reduce.Interval{
		{Start: 0.35, End: 1.25},
		{Start: 2.00, End: 3.50},
	}, out)
	require.NoError(t, err)

	// One frame at 30 fps is the allowed drift.
	assert.InDelta(t, result.ExpectedDuration, result.MeasuredDuration, 1.0/30.0+0.005)

	// No stray pieces next to the output.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".piece-"), "leftover piece %s", e.Name())
	}
}
