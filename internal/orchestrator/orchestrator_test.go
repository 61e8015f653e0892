package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dugoutlabs/hap/internal/assemble"
	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mixer"
	"github.com/dugoutlabs/hap/internal/models"
	"github.com/dugoutlabs/hap/internal/narrate"
	"github.com/dugoutlabs/hap/internal/reduce"
	"github.com/dugoutlabs/hap/internal/rundown"
	"github.com/dugoutlabs/hap/internal/storage"
	"github.com/dugoutlabs/hap/internal/surgeon"
	"github.com/dugoutlabs/hap/internal/transcript"
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  []string
	fail   map[string]error
	cancel context.CancelFunc
	onURL  string
}

func (f *fakeFetcher) Fetch(ctx context.Context, sourceURL, destDir string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sourceURL)
	f.mu.Unlock()

	if f.cancel != nil && sourceURL == f.onURL {
		f.cancel()
		return "", fmt.Errorf("download of %s interrupted: %w", sourceURL, haperr.ErrCancelled)
	}
	if err := f.fail[sourceURL]; err != nil {
		return "", err
	}
	name := strings.NewReplacer("/", "_", ":", "_").Replace(sourceURL) + ".mp4"
	path := filepath.Join(destDir, name)
	if err := os.WriteFile(path, []byte("media"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeFetcher) fetched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeTranscriber struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (t *fakeTranscriber) Transcribe(ctx context.Context, sourceURL, workDir string) (*transcript.Transcript, error) {
	t.mu.Lock()
	t.calls = append(t.calls, sourceURL)
	t.mu.Unlock()

	if err := t.fail[sourceURL]; err != nil {
		return nil, err
	}
	return &transcript.Transcript{
		Words: []transcript.Word{
			{Text: "deep", Start: 0.0, End: 1.0, Confidence: 0.95},
			{Text: "gone", Start: 1.0, End: 2.0, Confidence: 0.92},
		},
		Duration: 2.0,
	}, nil
}

func (t *fakeTranscriber) transcribed() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.calls...)
}

type extractCall struct {
	clipPath  string
	intervals []reduce.Interval
	output    string
}

type fakeSurgeon struct {
	mu    sync.Mutex
	calls []extractCall
	fail  bool
}

func (s *fakeSurgeon) Extract(ctx context.Context, clipPath string, intervals []reduce.Interval, outputPath string) (*surgeon.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, extractCall{clipPath: clipPath, intervals: intervals, output: outputPath})
	s.mu.Unlock()

	if s.fail {
		return nil, &haperr.MediaFailureError{Stage: "trim", ExitCode: 1, StderrTail: "boom"}
	}
	if err := os.WriteFile(outputPath, []byte("fragment"), 0o644); err != nil {
		return nil, err
	}
	return &surgeon.Result{OutputPath: outputPath, Applied: intervals}, nil
}

func (s *fakeSurgeon) extracted() []extractCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]extractCall(nil), s.calls...)
}

type fakeAssembler struct {
	inputs   []assemble.Input
	excluded []assemble.Exclusion
	cards    []string
	failCard bool
	fail     bool
}

func (a *fakeAssembler) Assemble(ctx context.Context, inputs []assemble.Input, outputPath string) (*assemble.Result, error) {
	a.inputs = inputs
	if a.fail {
		return nil, fmt.Errorf("filter graph rejected: %w", haperr.ErrMediaCorrupt)
	}
	if err := os.WriteFile(outputPath, []byte("final"), 0o644); err != nil {
		return nil, err
	}
	included := make([]assemble.Input, 0, len(inputs))
	byLabel := make(map[string]bool, len(a.excluded))
	for _, ex := range a.excluded {
		byLabel[ex.Label] = true
	}
	for _, in := range inputs {
		if !byLabel[in.Label] {
			included = append(included, in)
		}
	}
	return &assemble.Result{
		OutputPath:       outputPath,
		Included:         included,
		Excluded:         a.excluded,
		ExpectedDuration: 42.0,
	}, nil
}

func (a *fakeAssembler) PrepareTitleCard(ctx context.Context, sourcePath, outputPath string) error {
	a.cards = append(a.cards, sourcePath)
	if a.failCard {
		return &haperr.MediaFailureError{Stage: "trim", ExitCode: 1, StderrTail: "no moov atom"}
	}
	return os.WriteFile(outputPath, []byte("card"), 0o644)
}

type fakeMixer struct {
	sources  []mixer.ClipSource
	manifest *narrate.Manifest
	workDir  string
	excluded []mixer.ExcludedClip
}

func (m *fakeMixer) Mix(ctx context.Context, clips []mixer.ClipSource, manifest *narrate.Manifest, workDir, outputPath string) (*mixer.Result, error) {
	m.sources = clips
	m.manifest = manifest
	m.workDir = workDir

	placed := make([]mixer.PlacedClip, 0, len(clips))
	byID := make(map[string]bool, len(m.excluded))
	for _, ex := range m.excluded {
		byID[ex.ClipID] = true
	}
	for _, c := range clips {
		if !byID[c.ClipID] {
			placed = append(placed, mixer.PlacedClip{ClipID: c.ClipID, State: mixer.StatePlaced})
		}
	}
	if err := os.WriteFile(outputPath, []byte("mixed"), 0o644); err != nil {
		return nil, err
	}
	return &mixer.Result{
		OutputPath: outputPath,
		Clips:      placed,
		Excluded:   m.excluded,
		Duration:   12.5,
	}, nil
}

type fakeRunRepo struct {
	mu         sync.Mutex
	created    []*models.Run
	updated    []*models.Run
	failCreate bool
}

func (r *fakeRunRepo) Create(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate {
		return fmt.Errorf("database is sulking")
	}
	cp := *run
	r.created = append(r.created, &cp)
	return nil
}

func (r *fakeRunRepo) Update(ctx context.Context, run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *run
	r.updated = append(r.updated, &cp)
	return nil
}

func (r *fakeRunRepo) GetByToken(ctx context.Context, token string) (*models.Run, error) {
	return nil, nil
}

func (r *fakeRunRepo) Recent(ctx context.Context, limit int) ([]*models.Run, error) {
	return nil, nil
}

type harness struct {
	pipeline    *Pipeline
	workspace   *storage.Workspace
	fetcher     *fakeFetcher
	transcriber *fakeTranscriber
	surgeon     *fakeSurgeon
	assembler   *fakeAssembler
	mixer       *fakeMixer
	runs        *fakeRunRepo
	transitions string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	root := t.TempDir()
	ws, err := storage.NewWorkspace(filepath.Join(root, "work"))
	require.NoError(t, err)

	h := &harness{
		workspace:   ws,
		fetcher:     &fakeFetcher{fail: map[string]error{}},
		transcriber: &fakeTranscriber{fail: map[string]error{}},
		surgeon:     &fakeSurgeon{},
		assembler:   &fakeAssembler{},
		mixer:       &fakeMixer{},
		runs:        &fakeRunRepo{},
		transitions: filepath.Join(root, "transitions"),
	}
	require.NoError(t, os.MkdirAll(h.transitions, 0o750))

	h.pipeline = New(ws, h.fetcher, h.transcriber, h.surgeon, h.assembler, Options{
		Concurrency:    2,
		TransitionsDir: h.transitions,
	}).WithMixer(h.mixer).WithRunRepository(h.runs)
	return h
}

func (h *harness) writeTransition(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(h.transitions, name), []byte("transition"), 0o644))
}

func (h *harness) outputPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "reel.mp4")
}

func (h *harness) runDirCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(h.workspace.Root())
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), "run-") {
			count++
		}
	}
	return count
}

func playItem(id, source string, selection ...int) rundown.Item {
	return rundown.Item{
		Type: rundown.ItemPlay,
		Play: &rundown.Play{
			Clip:      rundown.Clip{ID: id, Source: source, Feed: rundown.FeedNetwork},
			Selection: selection,
			Half:      rundown.HalfTop,
			Inning:    3,
		},
	}
}

func transitionItem(half rundown.Half, inning int) rundown.Item {
	return rundown.Item{
		Type:       rundown.ItemTransition,
		Transition: &rundown.TransitionKey{Half: half, Inning: inning},
	}
}

func titleCardItem(sourceURL string) rundown.Item {
	return rundown.Item{
		Type:      rundown.ItemTitleCard,
		TitleCard: &rundown.TitleCard{SourceURL: sourceURL},
	}
}

func TestAssemble_CommentaryHappyPath(t *testing.T) {
	h := newHarness(t)
	h.writeTransition(t, "top-3.mp4")

	rd := &rundown.Rundown{
		GameID: 746321,
		Items: []rundown.Item{
			titleCardItem("https://cdn.example.com/open.mp4"),
			transitionItem(rundown.HalfTop, 3),
			playItem("c1", "https://cdn.example.com/c1.mp4", 0, 1),
			playItem("c2", "https://cdn.example.com/c2.mp4", 0),
		},
	}

	out := h.outputPath(t)
	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: out})
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, out, result.OutputPath)
	assert.FileExists(t, out)
	assert.InDelta(t, 42.0, result.Duration, 1e-9)
	assert.NotEmpty(t, result.RunToken)

	require.Len(t, result.Items, 4)
	labels := make([]string, 0, 4)
	for _, st := range result.Items {
		labels = append(labels, st.Label)
		assert.Equal(t, "ok", st.Status, st.Label)
	}
	assert.Equal(t, []string{"title_card", "transition:top-3", "play:c1", "play:c2"}, labels)

	require.Len(t, h.assembler.inputs, 4)
	assert.Equal(t, "title_card", h.assembler.inputs[0].Label)
	assert.Equal(t, "transition:top-3", h.assembler.inputs[1].Label)
	assert.Equal(t, "play:c1", h.assembler.inputs[2].Label)
	assert.Equal(t, "play:c2", h.assembler.inputs[3].Label)
	assert.Contains(t, h.assembler.inputs[1].Path, "top-3.mp4")

	assert.ElementsMatch(t, []string{
		"https://cdn.example.com/open.mp4",
		"https://cdn.example.com/c1.mp4",
		"https://cdn.example.com/c2.mp4",
	}, h.fetcher.fetched())
	assert.ElementsMatch(t, []string{
		"https://cdn.example.com/c1.mp4",
		"https://cdn.example.com/c2.mp4",
	}, h.transcriber.transcribed())

	// Adjacent words 0..1 and 1..2 buffered by 0.15 merge into one cut.
	extracts := h.surgeon.extracted()
	require.Len(t, extracts, 2)
	for _, call := range extracts {
		require.Len(t, call.intervals, 1)
		assert.InDelta(t, 0.0, call.intervals[0].Start, 1e-9)
	}

	assert.Equal(t, 0, h.runDirCount(t), "run directory should be deleted")

	require.Len(t, h.runs.created, 1)
	created := h.runs.created[0]
	assert.Equal(t, models.RunStatusRunning, created.Status)
	assert.Equal(t, models.RunModeCommentary, created.Mode)
	assert.Equal(t, "746321", created.GameID)
	assert.Equal(t, 4, created.ItemCount)
	assert.Equal(t, result.RunToken, created.Token)

	require.Len(t, h.runs.updated, 1)
	updated := h.runs.updated[0]
	assert.Equal(t, models.RunStatusCompleted, updated.Status)
	assert.Equal(t, 4, updated.SurvivedCount)
	assert.Equal(t, out, updated.OutputPath)
	assert.NotNil(t, updated.CompletedAt)
	assert.Contains(t, updated.ItemStatuses, `"play:c1"`)
}

func TestAssemble_DropsFailingPlay(t *testing.T) {
	h := newHarness(t)
	h.fetcher.fail["https://cdn.example.com/c1.mp4"] = fmt.Errorf("fetching clip: %w", haperr.ErrNetwork)

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}

	out := h.outputPath(t)
	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: out})
	require.NoError(t, err)

	require.Len(t, result.Items, 2)
	assert.Contains(t, result.Items[0].Status, "dropped:")
	assert.Contains(t, result.Items[0].Status, "network")
	assert.Equal(t, "ok", result.Items[1].Status)

	require.Len(t, h.assembler.inputs, 1)
	assert.Equal(t, "play:c2", h.assembler.inputs[0].Label)

	require.Len(t, h.runs.updated, 1)
	assert.Equal(t, models.RunStatusCompleted, h.runs.updated[0].Status)
	assert.Equal(t, 1, h.runs.updated[0].SurvivedCount)
}

func TestAssemble_AllPlaysFailFatal(t *testing.T) {
	h := newHarness(t)
	h.surgeon.fail = true

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}

	_, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "every play failed")
	assert.Nil(t, h.assembler.inputs)

	require.Len(t, h.runs.updated, 1)
	assert.Equal(t, models.RunStatusFailed, h.runs.updated[0].Status)
	assert.NotEmpty(t, h.runs.updated[0].LastError)
	assert.Equal(t, 0, h.runDirCount(t), "run directory should be deleted on failure")
}

func TestAssemble_MissingTransitionSkipped(t *testing.T) {
	h := newHarness(t)

	rd := &rundown.Rundown{Items: []rundown.Item{
		transitionItem(rundown.HalfBot, 7),
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)

	assert.Equal(t, "skipped: missing transition file", result.Items[0].Status)
	assert.Equal(t, "ok", result.Items[1].Status)
	require.Len(t, h.assembler.inputs, 1)
	assert.Equal(t, "play:c1", h.assembler.inputs[0].Label)
}

func TestAssemble_SelectionBeyondSegmentsFails(t *testing.T) {
	h := newHarness(t)

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 7),
	}}

	_, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.Error(t, err)
	assert.True(t, haperr.IsValidation(err))
	assert.Contains(t, err.Error(), "selects segment 7")

	require.Len(t, h.runs.updated, 1)
	assert.Equal(t, models.RunStatusFailed, h.runs.updated[0].Status)
}

func TestAssemble_RequestValidation(t *testing.T) {
	h := newHarness(t)
	valid := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	tests := []struct {
		name string
		req  Request
	}{
		{name: "nil rundown", req: Request{OutputPath: "/tmp/out.mp4"}},
		{name: "empty output path", req: Request{Rundown: valid}},
		{
			name: "narration without mixer",
			req:  Request{Rundown: valid, OutputPath: "/tmp/out.mp4", Narration: &narrate.Manifest{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(h.workspace, h.fetcher, h.transcriber, h.surgeon, h.assembler, Options{})
			_, err := p.Assemble(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, haperr.IsValidation(err))
		})
	}
}

func TestAssemble_CancelledBeforeStart(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	_, err := h.pipeline.Assemble(ctx, Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.Error(t, err)
	assert.True(t, haperr.IsCancelled(err))
	assert.Empty(t, h.runs.created)
}

func TestAssemble_CancelledMidRun(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.fetcher.cancel = cancel
	h.fetcher.onURL = "https://cdn.example.com/c1.mp4"

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}

	_, err := h.pipeline.Assemble(ctx, Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.Error(t, err)
	assert.True(t, haperr.IsCancelled(err))

	require.Len(t, h.runs.updated, 1)
	assert.Equal(t, models.RunStatusCancelled, h.runs.updated[0].Status)
	assert.Equal(t, 0, h.runDirCount(t), "run directory should be deleted on cancellation")
}

func TestAssemble_KeepWorkDirs(t *testing.T) {
	h := newHarness(t)
	h.pipeline = New(h.workspace, h.fetcher, h.transcriber, h.surgeon, h.assembler, Options{
		TransitionsDir: h.transitions,
		KeepWorkDirs:   true,
	})

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	_, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)
	assert.Equal(t, 1, h.runDirCount(t), "run directory should survive with KeepWorkDirs")
}

func TestAssemble_TitleCardFailureDropsCard(t *testing.T) {
	h := newHarness(t)
	h.assembler.failCard = true

	rd := &rundown.Rundown{Items: []rundown.Item{
		titleCardItem("https://cdn.example.com/open.mp4"),
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)

	assert.Contains(t, result.Items[0].Status, "dropped:")
	assert.Equal(t, "ok", result.Items[1].Status)
	require.Len(t, h.assembler.inputs, 1)
	assert.Equal(t, "play:c1", h.assembler.inputs[0].Label)
}

func TestAssemble_AssemblerExclusionReported(t *testing.T) {
	h := newHarness(t)
	h.assembler.excluded = []assemble.Exclusion{{Label: "play:c2", Reason: "no audio stream"}}

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}

	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Items[0].Status)
	assert.Equal(t, "excluded: no audio stream", result.Items[1].Status)

	require.Len(t, h.runs.updated, 1)
	assert.Equal(t, 1, h.runs.updated[0].SurvivedCount)
}

func TestAssemble_NarratedMode(t *testing.T) {
	h := newHarness(t)
	h.writeTransition(t, "top-3.mp4")

	rd := &rundown.Rundown{Items: []rundown.Item{
		transitionItem(rundown.HalfTop, 3),
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}
	manifest := &narrate.Manifest{
		Analyses: map[string]narrate.Analysis{
			"c1": {ActionStart: 1.0, ActionPeak: 2.0, ActionEnd: 3.0},
			"c2": {ActionStart: 0.5, ActionPeak: 1.0, ActionEnd: 1.5},
		},
	}

	out := h.outputPath(t)
	result, err := h.pipeline.Assemble(context.Background(), Request{
		Rundown:    rd,
		OutputPath: out,
		Narration:  manifest,
	})
	require.NoError(t, err)

	assert.Equal(t, "skipped: not used in narrated mode", result.Items[0].Status)
	assert.Equal(t, "ok", result.Items[1].Status)
	assert.Equal(t, "ok", result.Items[2].Status)
	assert.InDelta(t, 12.5, result.Duration, 1e-9)
	assert.FileExists(t, out)

	require.Len(t, h.mixer.sources, 2)
	assert.Equal(t, "c1", h.mixer.sources[0].ClipID)
	assert.Equal(t, "c2", h.mixer.sources[1].ClipID)
	assert.Same(t, manifest, h.mixer.manifest)

	assert.Empty(t, h.transcriber.transcribed(), "narrated mode should not transcribe")
	assert.Empty(t, h.surgeon.extracted(), "narrated mode should not run word surgery")

	require.Len(t, h.runs.created, 1)
	assert.Equal(t, models.RunModeNarrated, h.runs.created[0].Mode)
}

func TestAssemble_NarratedExclusionReported(t *testing.T) {
	h := newHarness(t)
	h.mixer.excluded = []mixer.ExcludedClip{
		{ClipID: "c2", State: mixer.StateFetched, Reason: "no action analysis"},
	}

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c2", "https://cdn.example.com/c2.mp4", 0),
	}}
	manifest := &narrate.Manifest{
		Analyses: map[string]narrate.Analysis{
			"c1": {ActionStart: 1.0, ActionPeak: 2.0, ActionEnd: 3.0},
		},
	}

	result, err := h.pipeline.Assemble(context.Background(), Request{
		Rundown:    rd,
		OutputPath: h.outputPath(t),
		Narration:  manifest,
	})
	require.NoError(t, err)

	assert.Equal(t, "ok", result.Items[0].Status)
	assert.Equal(t, "excluded: no action analysis", result.Items[1].Status)
}

func TestAssemble_RunHistoryBestEffort(t *testing.T) {
	h := newHarness(t)
	h.runs.failCreate = true

	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
	}}

	result, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)
	assert.FileExists(t, result.OutputPath)
	assert.Empty(t, h.runs.updated, "no update without a created record")
}

func TestAssemble_FragmentNamesScopedByPosition(t *testing.T) {
	h := newHarness(t)

	// The same clip twice must not collide on fragment file names.
	rd := &rundown.Rundown{Items: []rundown.Item{
		playItem("c1", "https://cdn.example.com/c1.mp4", 0),
		playItem("c1", "https://cdn.example.com/c1.mp4", 1),
	}}

	_, err := h.pipeline.Assemble(context.Background(), Request{Rundown: rd, OutputPath: h.outputPath(t)})
	require.NoError(t, err)

	extracts := h.surgeon.extracted()
	require.Len(t, extracts, 2)
	assert.NotEqual(t, extracts[0].output, extracts[1].output)
}
