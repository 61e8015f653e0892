package mediatool

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// skipIfNoFFmpeg skips the test if ffmpeg is not installed.
func skipIfNoFFmpeg(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		t.Skip("ffmpeg not installed")
	}
	return path
}

// skipIfNoFFprobe skips the test if ffprobe is not installed.
func skipIfNoFFprobe(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("ffprobe")
	if err != nil {
		t.Skip("ffprobe not installed")
	}
	return path
}

// makeTestClip generates a short H.264/AAC clip for integration tests.
func makeTestClip(t *testing.T, ffmpegPath, path string, seconds float64) {
	t.Helper()
	cmd := exec.Command(ffmpegPath,
		"-y",
		"-f", "lavfi", "-i", "testsrc=size=320x240:rate=30",
		"-f", "lavfi", "-i", "sine=frequency=440:sample_rate=48000",
		"-t", formatSeconds(seconds),
		"-map", "0:v:0", "-map", "1:a:0",
		"-c:v", "libx264", "-preset", "ultrafast",
		"-c:a", "aac",
		"-pix_fmt", "yuv420p",
		path)
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Skipf("could not create test clip: %v: %s", err, out)
	}
}

func TestCommandBuilder_Build(t *testing.T) {
	args := NewCommandBuilder().
		HideBanner().
		Overwrite().
		Input("input.mp4").
		VideoCodec("libx264").
		AudioCodec("aac").
		Output("output.mp4").
		Build()

	assert.Contains(t, args, "-hide_banner")
	assert.Contains(t, args, "-y")
	assert.Contains(t, args, "-i")
	assert.Contains(t, args, "input.mp4")
	assert.Contains(t, args, "-c:v")
	assert.Contains(t, args, "libx264")
	assert.Contains(t, args, "-c:a")
	assert.Contains(t, args, "aac")
	assert.Equal(t, "output.mp4", args[len(args)-1])
}

func TestCommandBuilder_SeekBeforeInput(t *testing.T) {
	str := NewCommandBuilder().
		SeekInput(12.345, "clip.mp4").
		Duration(3.5).
		Output("out.mp4").
		String()

	assert.Contains(t, str, "-ss 12.345 -i clip.mp4")
	assert.Contains(t, str, "-t 3.500")
	seekIdx := strings.Index(str, "-ss")
	inputIdx := strings.Index(str, "-i clip.mp4")
	assert.Less(t, seekIdx, inputIdx, "seek must precede the input it applies to")
}

func TestCommandBuilder_ConcatInput(t *testing.T) {
	str := NewCommandBuilder().
		ConcatInput("/tmp/list.txt").
		Output("out.mp4").
		String()

	assert.Contains(t, str, "-f concat -safe 0 -i /tmp/list.txt")
}

func TestCommandBuilder_FilterGraphOrdering(t *testing.T) {
	str := NewCommandBuilder().
		Input("a.mp4").
		Input("b.mp4").
		FilterComplex("[0:v][1:v]xfade=transition=fade:duration=0.333:offset=4.667[outv]").
		Map("[outv]").
		VideoCodec("libx264").
		Output("out.mp4").
		String()

	filterIdx := strings.Index(str, "-filter_complex")
	mapIdx := strings.Index(str, "-map [outv]")
	codecIdx := strings.Index(str, "-c:v")
	assert.Greater(t, filterIdx, strings.Index(str, "b.mp4"))
	assert.Greater(t, mapIdx, filterIdx)
	assert.Greater(t, codecIdx, mapIdx)
}

func TestCommandBuilder_MultipleInputsKeepOrder(t *testing.T) {
	args := NewCommandBuilder().
		Input("first.mp4").
		Input("second.mp4").
		Input("third.mp4").
		Output("out.mp4").
		Build()

	var inputs []string
	for i, a := range args {
		if a == "-i" && i+1 < len(args) {
			inputs = append(inputs, args[i+1])
		}
	}
	assert.Equal(t, []string{"first.mp4", "second.mp4", "third.mp4"}, inputs)
}

func TestParseFramerate(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"30/1", 30.0},
		{"25/1", 25.0},
		{"30000/1001", 29.97002997002997},
		{"24000/1001", 23.976023976023978},
		{"60", 60.0},
		{"invalid", 0},
		{"0/0", 0},
		{"", 0},
		{"30/0", 0},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := parseFramerate(tt.input)
			if tt.expected == 0 {
				assert.Equal(t, float64(0), result)
			} else {
				assert.InDelta(t, tt.expected, result, 0.001)
			}
		})
	}
}

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{
		"format": {"filename": "clip.mp4", "format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "8.342000"},
		"streams": [
			{"index": 0, "codec_name": "h264", "codec_type": "video", "width": 1920, "height": 1080,
			 "avg_frame_rate": "30000/1001", "r_frame_rate": "30000/1001", "nb_frames": "250"},
			{"index": 1, "codec_name": "aac", "codec_type": "audio", "sample_rate": "48000", "channels": 2}
		]
	}`)

	info, err := parseProbeOutput("clip.mp4", out)
	require.NoError(t, err)

	assert.Equal(t, "clip.mp4", info.Path)
	assert.InDelta(t, 8.342, info.Duration, 0.0001)
	assert.InDelta(t, 29.97, info.FPS, 0.01)
	assert.Equal(t, 250, info.FrameCount)
	assert.Equal(t, 1920, info.Width)
	assert.Equal(t, 1080, info.Height)
	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, "aac", info.AudioCodec)
	assert.Equal(t, 48000, info.SampleRate)
	assert.Equal(t, 2, info.Channels)
	assert.InDelta(t, 1.0/29.97, info.FrameDuration(), 0.0001)
}

func TestParseProbeOutput_FrameCountFallback(t *testing.T) {
	out := []byte(`{
		"format": {"duration": "10.000000"},
		"streams": [
			{"index": 0, "codec_name": "h264", "codec_type": "video", "avg_frame_rate": "30/1"}
		]
	}`)

	info, err := parseProbeOutput("clip.mp4", out)
	require.NoError(t, err)
	assert.Equal(t, 300, info.FrameCount)
	assert.False(t, info.HasAudio)
}

func TestParseProbeOutput_NoStreams(t *testing.T) {
	_, err := parseProbeOutput("clip.mp4", []byte(`{"format": {"duration": "1.0"}, "streams": []}`))
	require.Error(t, err)

	_, err = parseProbeOutput("clip.mp4", []byte(`not json at all`))
	require.Error(t, err)
}

func TestTailBuffer(t *testing.T) {
	tb := &tailBuffer{}
	tb.Write([]byte("line one\nline two\rprogress frame=1\rprogress frame=2\nlast"))

	tail := tb.Tail()
	assert.Contains(t, tail, "line one")
	assert.Contains(t, tail, "progress frame=2")
	assert.Contains(t, tail, "last")
}

func TestTailBuffer_KeepsEnd(t *testing.T) {
	tb := &tailBuffer{}
	for i := 0; i < 500; i++ {
		tb.Write([]byte(strings.Repeat("x", 40) + "\n"))
	}
	tb.Write([]byte("the final diagnostic\n"))

	tail := tb.Tail()
	assert.LessOrEqual(t, len(tail), tailMaxBytes)
	assert.True(t, strings.HasSuffix(tail, "the final diagnostic"))
}

func TestRun_CancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tool := New("ffmpeg", "ffprobe")
	err := tool.run(ctx, StageTrim, []string{"-version"})
	require.Error(t, err)
	assert.True(t, haperr.IsCancelled(err))
}

func TestRun_MissingBinary(t *testing.T) {
	tool := New("/nonexistent/ffmpeg-binary", "/nonexistent/ffprobe-binary").
		WithTimeout(5 * time.Second)

	err := tool.run(context.Background(), StageTrim, []string{"-version"})
	require.Error(t, err)

	var mediaErr *haperr.MediaFailureError
	require.ErrorAs(t, err, &mediaErr)
	assert.Equal(t, StageTrim, mediaErr.Stage)
	assert.Equal(t, -1, mediaErr.ExitCode)
}

func TestRun_NonZeroExit(t *testing.T) {
	shPath, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not installed")
	}

	tool := New(shPath, shPath).WithTimeout(5 * time.Second)
	runErr := tool.run(context.Background(), StageConcat, []string{"-c", "echo boom >&2; exit 3"})
	require.Error(t, runErr)

	var mediaErr *haperr.MediaFailureError
	require.ErrorAs(t, runErr, &mediaErr)
	assert.Equal(t, StageConcat, mediaErr.Stage)
	assert.Equal(t, 3, mediaErr.ExitCode)
	assert.Contains(t, mediaErr.StderrTail, "boom")
	assert.True(t, haperr.IsMediaFailure(runErr))
}

func TestExtractTitleCard_RejectsBadWindow(t *testing.T) {
	tool := New("", "")

	err := tool.ExtractTitleCard(context.Background(), "in.mp4", "out.mp4", 0, 0.3, DefaultEncodeParams())
	require.Error(t, err)
	var inv *haperr.InvariantError
	assert.ErrorAs(t, err, &inv)

	err = tool.ExtractTitleCard(context.Background(), "in.mp4", "out.mp4", 1.5, 2.0, DefaultEncodeParams())
	require.Error(t, err)
	assert.ErrorAs(t, err, &inv)
}

func TestTrim_RejectsEmptyWindow(t *testing.T) {
	tool := New("ffmpeg", "ffprobe")
	err := tool.Trim(context.Background(), "in.mp4", "out.mp4", 5.0, 5.0, TrimOptions{})
	require.Error(t, err)

	var invErr *haperr.InvariantError
	assert.ErrorAs(t, err, &invErr)
}

func TestTrimFadeFilter(t *testing.T) {
	tests := []struct {
		name     string
		duration float64
		fade     float64
		expected string
	}{
		{"disabled", 2.0, 0, ""},
		{"normal", 2.0, 0.05, "afade=t=in:st=0:d=0.050,afade=t=out:st=1.950:d=0.050"},
		{"short piece clamps to half", 0.06, 0.05, "afade=t=in:st=0:d=0.030,afade=t=out:st=0.030:d=0.030"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, trimFadeFilter(tt.duration, tt.fade))
		})
	}
}

func TestWriteConcatList(t *testing.T) {
	dir := t.TempDir()
	listPath, err := writeConcatList(dir, []string{
		filepath.Join(dir, "piece-000.mp4"),
		filepath.Join(dir, "it's here.mp4"),
	})
	require.NoError(t, err)
	defer os.Remove(listPath)

	content, err := os.ReadFile(listPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(content)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "file '"+filepath.Join(dir, "piece-000.mp4")+"'", lines[0])
	assert.Contains(t, lines[1], `it'\''s here.mp4`)
}

func TestConcatReencode_RejectsNoInputs(t *testing.T) {
	tool := New("ffmpeg", "ffprobe")
	err := tool.ConcatReencode(context.Background(), nil, "out.mp4", DefaultEncodeParams())
	require.Error(t, err)
}

func TestExecFilterGraph_RejectsNoInputs(t *testing.T) {
	tool := New("ffmpeg", "ffprobe")
	err := tool.ExecFilterGraph(context.Background(), nil, "[0:v]null[v]", []string{"[v]"}, nil, "out.mp4")
	require.Error(t, err)
}

// Integration tests that require FFmpeg to be installed

func TestIntegration_ProbeGeneratedClip(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	dir := t.TempDir()
	clip := filepath.Join(dir, "probe-src.mp4")
	makeTestClip(t, ffmpegPath, clip, 2.0)

	tool := New(ffmpegPath, ffprobePath)
	info, err := tool.Probe(context.Background(), clip)
	require.NoError(t, err)

	assert.True(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, "h264", info.VideoCodec)
	assert.Equal(t, 320, info.Width)
	assert.InDelta(t, 30.0, info.FPS, 0.1)
	assert.InDelta(t, 2.0, info.Duration, 0.2)
}

func TestIntegration_ProbeGarbageIsCorrupt(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	dir := t.TempDir()
	garbage := filepath.Join(dir, "garbage.mp4")
	require.NoError(t, os.WriteFile(garbage, []byte("this is not a video"), 0o644))

	tool := New(ffmpegPath, ffprobePath)
	_, err := tool.Probe(context.Background(), garbage)
	require.Error(t, err)
	assert.ErrorIs(t, err, haperr.ErrMediaCorrupt)
}

func TestIntegration_TrimProducesRequestedDuration(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "trim-src.mp4")
	makeTestClip(t, ffmpegPath, src, 4.0)

	tool := New(ffmpegPath, ffprobePath)
	out := filepath.Join(dir, "trim-out.mp4")
	err := tool.Trim(context.Background(), src, out, 1.0, 2.5, TrimOptions{
		FadeSeconds: 0.05,
		Encode:      DefaultEncodeParams(),
	})
	require.NoError(t, err)

	info, err := tool.Probe(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, info.Duration, 0.1)
	assert.True(t, info.HasAudio)
}

func TestIntegration_ConcatDurationIsSumOfPieces(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "concat-src.mp4")
	makeTestClip(t, ffmpegPath, src, 4.0)

	tool := New(ffmpegPath, ffprobePath)
	params := DefaultEncodeParams()
	opts := TrimOptions{FadeSeconds: 0.05, Encode: params}

	pieceA := filepath.Join(dir, "piece-a.mp4")
	pieceB := filepath.Join(dir, "piece-b.mp4")
	require.NoError(t, tool.Trim(context.Background(), src, pieceA, 0.5, 1.5, opts))
	require.NoError(t, tool.Trim(context.Background(), src, pieceB, 2.0, 3.5, opts))

	out := filepath.Join(dir, "joined.mp4")
	require.NoError(t, tool.ConcatReencode(context.Background(), []string{pieceA, pieceB}, out, params))

	info, err := tool.Probe(context.Background(), out)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, info.Duration, 0.15)
}

func TestIntegration_ExtractAudio(t *testing.T) {
	ffmpegPath := skipIfNoFFmpeg(t)
	ffprobePath := skipIfNoFFprobe(t)

	dir := t.TempDir()
	src := filepath.Join(dir, "audio-src.mp4")
	makeTestClip(t, ffmpegPath, src, 2.0)

	tool := New(ffmpegPath, ffprobePath)
	wav := filepath.Join(dir, "audio.wav")
	require.NoError(t, tool.ExtractAudio(context.Background(), src, wav))

	info, err := tool.Probe(context.Background(), wav)
	require.NoError(t, err)
	assert.False(t, info.HasVideo)
	assert.True(t, info.HasAudio)
	assert.Equal(t, 16000, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
}
