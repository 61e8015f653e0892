// Package orchestrator drives one assembly run end to end: validate
// the rundown, fan out per-play work under a concurrency bound, stitch
// the surviving pieces into the final MP4, publish it at the caller's
// path, and clean up the scratch space whatever the outcome.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dugoutlabs/hap/internal/assemble"
	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/internal/mixer"
	"github.com/dugoutlabs/hap/internal/models"
	"github.com/dugoutlabs/hap/internal/narrate"
	"github.com/dugoutlabs/hap/internal/reduce"
	"github.com/dugoutlabs/hap/internal/repository"
	"github.com/dugoutlabs/hap/internal/rundown"
	"github.com/dugoutlabs/hap/internal/segment"
	"github.com/dugoutlabs/hap/internal/storage"
	"github.com/dugoutlabs/hap/internal/surgeon"
	"github.com/dugoutlabs/hap/internal/transcript"
)

// DefaultConcurrency bounds parallel per-play work when the host has
// at least that many CPUs.
const DefaultConcurrency = 4

// Fetcher downloads a clip into the working directory, reusing an
// existing download for the same source.
type Fetcher interface {
	Fetch(ctx context.Context, sourceURL, destDir string) (string, error)
}

// Transcriber produces the word-level transcript for a clip source,
// consulting the persistent cache first.
type Transcriber interface {
	Transcribe(ctx context.Context, sourceURL, workDir string) (*transcript.Transcript, error)
}

// Surgeon cuts the retained intervals out of a clip into one fragment.
type Surgeon interface {
	Extract(ctx context.Context, clipPath string, intervals []reduce.Interval, outputPath string) (*surgeon.Result, error)
}

// Assembler joins prepared pieces into the commentary timeline.
type Assembler interface {
	Assemble(ctx context.Context, inputs []assemble.Input, outputPath string) (*assemble.Result, error)
	PrepareTitleCard(ctx context.Context, sourcePath, outputPath string) error
}

// NarrationMixer builds the synced-narration timeline.
type NarrationMixer interface {
	Mix(ctx context.Context, clips []mixer.ClipSource, manifest *narrate.Manifest, workDir, outputPath string) (*mixer.Result, error)
}

// Options tune the orchestrator.
type Options struct {
	// Concurrency bounds parallel per-play tasks; non-positive selects
	// the host CPU count capped at DefaultConcurrency.
	Concurrency int

	// SegmentBuffer and MergeGap parameterise selection reduction.
	SegmentBuffer float64
	MergeGap      float64

	// TransitionsDir holds the pre-rendered {top|bot}-{1..9}.mp4 files.
	TransitionsDir string

	// KeepWorkDirs disables run-directory deletion for debugging.
	KeepWorkDirs bool
}

// Request is one assembly job.
type Request struct {
	Rundown    *rundown.Rundown
	OutputPath string

	// Narration switches the terminal stage from the crossfade
	// assembler to the synced-narration mixer.
	Narration *narrate.Manifest
}

// ItemStatus reports what happened to one rundown item.
type ItemStatus struct {
	Label  string `json:"label"`
	Status string `json:"status"`
}

// Result describes a completed run.
type Result struct {
	OutputPath string
	RunToken   string
	Items      []ItemStatus
	Duration   float64
}

// Pipeline is the orchestrator. Construct with New, then attach the
// optional collaborators.
type Pipeline struct {
	workspace   *storage.Workspace
	fetcher     Fetcher
	transcriber Transcriber
	surgeon     Surgeon
	assembler   Assembler
	mixer       NarrationMixer
	runs        repository.RunRepository
	opts        Options
	logger      *slog.Logger
}

// New creates a Pipeline over the required collaborators.
func New(ws *storage.Workspace, fetcher Fetcher, transcriber Transcriber, surg Surgeon, asm Assembler, opts Options) *Pipeline {
	if opts.Concurrency <= 0 {
		opts.Concurrency = runtime.NumCPU()
		if opts.Concurrency > DefaultConcurrency {
			opts.Concurrency = DefaultConcurrency
		}
	}
	if opts.SegmentBuffer <= 0 {
		opts.SegmentBuffer = reduce.DefaultBuffer
	}
	if opts.MergeGap <= 0 {
		opts.MergeGap = reduce.DefaultMergeGap
	}
	return &Pipeline{
		workspace:   ws,
		fetcher:     fetcher,
		transcriber: transcriber,
		surgeon:     surg,
		assembler:   asm,
		opts:        opts,
		logger:      slog.Default(),
	}
}

// WithMixer attaches the synced-narration mixer.
func (p *Pipeline) WithMixer(m NarrationMixer) *Pipeline {
	p.mixer = m
	return p
}

// WithRunRepository attaches run-history persistence.
func (p *Pipeline) WithRunRepository(r repository.RunRepository) *Pipeline {
	p.runs = r
	return p
}

// WithLogger sets the logger and returns the pipeline for chaining.
func (p *Pipeline) WithLogger(logger *slog.Logger) *Pipeline {
	if logger != nil {
		p.logger = logger
	}
	return p
}

// Assemble runs the whole pipeline for one rundown and returns the
// published result. Per-play failures drop the play as long as at
// least one play survives; validation problems, cancellation and
// terminal-stage failures abort the run. The scratch directory is
// deleted on every path unless KeepWorkDirs is set.
func (p *Pipeline) Assemble(ctx context.Context, req Request) (result *Result, err error) {
	if req.Rundown == nil {
		return nil, haperr.Validationf("rundown", "no rundown given")
	}
	if req.OutputPath == "" {
		return nil, haperr.Validationf("output", "no output path given")
	}
	if err := req.Rundown.Validate(); err != nil {
		return nil, err
	}
	if req.Narration != nil && p.mixer == nil {
		return nil, haperr.Validationf("narration", "narration manifest given but no mixer configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run not started: %w", haperr.ErrCancelled)
	}

	started := time.Now()
	rd, err := p.workspace.NewRunDir()
	if err != nil {
		return nil, err
	}
	defer func() {
		if p.opts.KeepWorkDirs {
			p.logger.Info("keeping run directory", slog.String("path", rd.Path()))
			return
		}
		if rmErr := rd.Delete(); rmErr != nil {
			p.logger.Warn("could not delete run directory",
				slog.String("path", rd.Path()),
				slog.String("error", rmErr.Error()))
		}
	}()

	token := strings.TrimPrefix(rd.Name(), "run-")
	rec := p.beginRun(ctx, token, req)
	defer func() { p.finishRun(ctx, rec, result, err, started) }()

	p.logger.Info("assembly run started",
		slog.String("run_id", token),
		slog.Int("items", len(req.Rundown.Items)),
		slog.Bool("narrated", req.Narration != nil),
		slog.Int("concurrency", p.opts.Concurrency))

	if req.Narration != nil {
		result, err = p.runNarrated(ctx, req, rd, token)
	} else {
		result, err = p.runCommentary(ctx, req, rd, token)
	}
	if err != nil {
		return nil, err
	}

	p.logger.Info("assembly run finished",
		slog.String("run_id", token),
		slog.String("output", result.OutputPath),
		slog.Float64("duration_s", result.Duration),
		slog.Duration("elapsed", time.Since(started)))
	return result, nil
}

// playOutcome is the fan-out result for one play, in rundown play
// order.
type playOutcome struct {
	path string
	err  error
}

// normalizeCancel turns a failure observed under a cancelled context
// into the cancellation sentinel so the run is recorded as cancelled
// rather than failed. Errors under a live context pass through.
func normalizeCancel(ctx context.Context, err error) error {
	if err == nil || haperr.IsCancelled(err) || ctx.Err() == nil {
		return err
	}
	return fmt.Errorf("%w; run cancelled: %w", err, haperr.ErrCancelled)
}

// runCommentary is the default terminal path: surgeon fragments joined
// with crossfades, original announcer audio preserved.
func (p *Pipeline) runCommentary(ctx context.Context, req Request, rd *storage.RunDir, token string) (*Result, error) {
	items := req.Rundown.Items
	plays := req.Rundown.Plays()

	// The optional title card rides along with the play fan-out.
	var titlePath string
	var titleErr error
	titleURL := ""
	if len(items) > 0 && items[0].Type == rundown.ItemTitleCard {
		titleURL = items[0].TitleCard.SourceURL
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	if titleURL != "" {
		g.Go(func() error {
			titlePath, titleErr = p.prepareTitleCard(gctx, titleURL, rd)
			titleErr = normalizeCancel(gctx, titleErr)
			if titleErr != nil && haperr.IsFatal(titleErr) {
				return titleErr
			}
			return nil
		})
	}
	outcomes := make([]playOutcome, len(plays))
	for i, play := range plays {
		i, play := i, play
		g.Go(func() error {
			path, err := p.processPlay(gctx, play, i, rd)
			err = normalizeCancel(gctx, err)
			outcomes[i] = playOutcome{path: path, err: err}
			if err != nil && haperr.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	inputs := make([]assemble.Input, 0, len(items))
	statuses := make([]ItemStatus, len(items))
	survivors := 0
	var lastDrop error
	playIdx := 0

	for i, item := range items {
		label := item.Label()
		statuses[i] = ItemStatus{Label: label, Status: "ok"}

		switch item.Type {
		case rundown.ItemTitleCard:
			if titleErr != nil {
				statuses[i].Status = "dropped: " + titleErr.Error()
				p.logger.Warn("dropping title card", slog.String("error", titleErr.Error()))
				continue
			}
			inputs = append(inputs, assemble.Input{Label: label, Path: titlePath})

		case rundown.ItemTransition:
			path := filepath.Join(p.opts.TransitionsDir, item.Transition.Filename())
			if _, statErr := os.Stat(path); statErr != nil {
				statuses[i].Status = "skipped: missing transition file"
				p.logger.Warn("transition file missing",
					slog.String("key", item.Transition.String()),
					slog.String("path", path))
				continue
			}
			inputs = append(inputs, assemble.Input{Label: label, Path: path})

		case rundown.ItemPlay:
			out := outcomes[playIdx]
			playIdx++
			if out.err != nil {
				lastDrop = out.err
				statuses[i].Status = "dropped: " + out.err.Error()
				p.logger.Warn("dropping play from reel",
					slog.String("clip_id", item.Play.Clip.ID),
					slog.String("error", out.err.Error()))
				continue
			}
			inputs = append(inputs, assemble.Input{Label: label, Path: out.path})
			survivors++
		}
	}

	if survivors == 0 {
		if lastDrop != nil {
			return nil, fmt.Errorf("every play failed, last error: %w", lastDrop)
		}
		return nil, haperr.Validationf("rundown", "no plays survived the pipeline")
	}

	finalPath, err := rd.Join("final.mp4")
	if err != nil {
		return nil, err
	}
	asmResult, err := p.assembler.Assemble(ctx, inputs, finalPath)
	if err != nil {
		return nil, err
	}
	applyExclusions(statuses, exclusionReasons(asmResult.Excluded))

	if err := storage.Publish(finalPath, req.OutputPath); err != nil {
		return nil, err
	}

	return &Result{
		OutputPath: req.OutputPath,
		RunToken:   token,
		Items:      statuses,
		Duration:   asmResult.ExpectedDuration,
	}, nil
}

// runNarrated is the synced-narration terminal path. The action
// analysis addresses the source clip's own timeline, so plays go to
// the mixer as fetched, skipping transcription and word surgery;
// transitions and the title card have no analysis and sit this mode
// out.
func (p *Pipeline) runNarrated(ctx context.Context, req Request, rd *storage.RunDir, token string) (*Result, error) {
	items := req.Rundown.Items
	plays := req.Rundown.Plays()

	outcomes := make([]playOutcome, len(plays))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Concurrency)
	for i, play := range plays {
		i, play := i, play
		g.Go(func() error {
			path, err := p.fetchPlay(gctx, play, rd)
			err = normalizeCancel(gctx, err)
			outcomes[i] = playOutcome{path: path, err: err}
			if err != nil && haperr.IsFatal(err) {
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	statuses := make([]ItemStatus, len(items))
	sources := make([]mixer.ClipSource, 0, len(plays))
	var lastDrop error
	playIdx := 0

	for i, item := range items {
		label := item.Label()
		statuses[i] = ItemStatus{Label: label, Status: "ok"}

		switch item.Type {
		case rundown.ItemTitleCard, rundown.ItemTransition:
			statuses[i].Status = "skipped: not used in narrated mode"

		case rundown.ItemPlay:
			out := outcomes[playIdx]
			playIdx++
			if out.err != nil {
				lastDrop = out.err
				statuses[i].Status = "dropped: " + out.err.Error()
				p.logger.Warn("dropping play from narrated reel",
					slog.String("clip_id", item.Play.Clip.ID),
					slog.String("error", out.err.Error()))
				continue
			}
			sources = append(sources, mixer.ClipSource{ClipID: item.Play.Clip.ID, Path: out.path})
		}
	}

	if len(sources) == 0 {
		if lastDrop != nil {
			return nil, fmt.Errorf("every play failed, last error: %w", lastDrop)
		}
		return nil, haperr.Validationf("rundown", "no plays survived the pipeline")
	}

	finalPath, err := rd.Join("final.mp4")
	if err != nil {
		return nil, err
	}
	mixResult, err := p.mixer.Mix(ctx, sources, req.Narration, rd.Path(), finalPath)
	if err != nil {
		return nil, err
	}

	reasons := make(map[string]string, len(mixResult.Excluded))
	for _, ex := range mixResult.Excluded {
		reasons["play:"+ex.ClipID] = ex.Reason
	}
	applyExclusions(statuses, reasons)

	if err := storage.Publish(finalPath, req.OutputPath); err != nil {
		return nil, err
	}

	return &Result{
		OutputPath: req.OutputPath,
		RunToken:   token,
		Items:      statuses,
		Duration:   mixResult.Duration,
	}, nil
}

// processPlay runs one play through fetch, transcribe, segment, reduce
// and surgery, returning the fragment path.
func (p *Pipeline) processPlay(ctx context.Context, play *rundown.Play, index int, rd *storage.RunDir) (string, error) {
	id := play.Clip.ID
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("play %s not started: %w", id, haperr.ErrCancelled)
	}

	mediaPath, err := p.fetcher.Fetch(ctx, play.Clip.Source, rd.Path())
	if err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}

	tr, err := p.transcriber.Transcribe(ctx, play.Clip.Source, rd.Path())
	if err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}

	segments := segment.Build(tr.Words, tr.Duration)
	for _, idx := range play.Selection {
		if idx >= len(segments) {
			return "", haperr.Validationf("selection",
				"play %s selects segment %d but the clip has only %d segments", id, idx, len(segments))
		}
	}

	intervals, err := reduce.Reduce(segments, play.Selection, reduce.Options{
		Buffer:   p.opts.SegmentBuffer,
		MergeGap: p.opts.MergeGap,
	})
	if err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}
	if len(intervals) == 0 {
		return "", haperr.Validationf("selection", "play %s reduces to an empty cut list", id)
	}

	fragmentPath, err := rd.Join(fmt.Sprintf("%s-%02d.fragment.mp4", id, index))
	if err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}
	if _, err := p.surgeon.Extract(ctx, mediaPath, intervals, fragmentPath); err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}

	p.logger.Debug("play fragment ready",
		slog.String("clip_id", id),
		slog.Int("intervals", len(intervals)),
		slog.String("fragment", fragmentPath))
	return fragmentPath, nil
}

// fetchPlay downloads a play's clip without any further processing,
// for the narrated path where the mixer does its own cutting.
func (p *Pipeline) fetchPlay(ctx context.Context, play *rundown.Play, rd *storage.RunDir) (string, error) {
	id := play.Clip.ID
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("play %s not started: %w", id, haperr.ErrCancelled)
	}
	path, err := p.fetcher.Fetch(ctx, play.Clip.Source, rd.Path())
	if err != nil {
		return "", fmt.Errorf("play %s: %w", id, err)
	}
	return path, nil
}

// prepareTitleCard fetches the title-card source and cuts the opening
// fragment from it.
func (p *Pipeline) prepareTitleCard(ctx context.Context, sourceURL string, rd *storage.RunDir) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("title card not started: %w", haperr.ErrCancelled)
	}
	srcPath, err := p.fetcher.Fetch(ctx, sourceURL, rd.Path())
	if err != nil {
		return "", fmt.Errorf("title card: %w", err)
	}
	cardPath, err := rd.Join("title-card.mp4")
	if err != nil {
		return "", err
	}
	if err := p.assembler.PrepareTitleCard(ctx, srcPath, cardPath); err != nil {
		return "", fmt.Errorf("title card: %w", err)
	}
	return cardPath, nil
}

// exclusionReasons indexes assembler exclusions by item label.
func exclusionReasons(excluded []assemble.Exclusion) map[string]string {
	reasons := make(map[string]string, len(excluded))
	for _, ex := range excluded {
		reasons[ex.Label] = ex.Reason
	}
	return reasons
}

// applyExclusions downgrades "ok" statuses for items the terminal
// stage excluded.
func applyExclusions(statuses []ItemStatus, reasons map[string]string) {
	for i := range statuses {
		if reason, ok := reasons[statuses[i].Label]; ok && statuses[i].Status == "ok" {
			statuses[i].Status = "excluded: " + reason
		}
	}
}

// beginRun writes the run-history row. History is best effort: a
// failing database never blocks the reel.
func (p *Pipeline) beginRun(ctx context.Context, token string, req Request) *models.Run {
	if p.runs == nil {
		return nil
	}
	mode := models.RunModeCommentary
	if req.Narration != nil {
		mode = models.RunModeNarrated
	}
	now := models.Now()
	rec := &models.Run{
		Token:     token,
		Mode:      mode,
		Status:    models.RunStatusRunning,
		ItemCount: len(req.Rundown.Items),
		StartedAt: &now,
	}
	if req.Rundown.GameID != 0 {
		rec.GameID = strconv.Itoa(req.Rundown.GameID)
	}
	if err := p.runs.Create(ctx, rec); err != nil {
		p.logger.Warn("could not record run start", slog.String("error", err.Error()))
		return nil
	}
	return rec
}

// finishRun finalises the run-history row. It writes under a
// cancellation-free context so a cancelled run still gets its record.
func (p *Pipeline) finishRun(ctx context.Context, rec *models.Run, result *Result, runErr error, started time.Time) {
	if rec == nil {
		return
	}
	now := models.Now()
	rec.CompletedAt = &now
	rec.DurationMs = time.Since(started).Milliseconds()

	switch {
	case runErr == nil:
		rec.Status = models.RunStatusCompleted
	case haperr.IsCancelled(runErr):
		rec.Status = models.RunStatusCancelled
		rec.LastError = runErr.Error()
	default:
		rec.Status = models.RunStatusFailed
		rec.LastError = runErr.Error()
	}

	if result != nil {
		rec.OutputPath = result.OutputPath
		survived := 0
		for _, st := range result.Items {
			if st.Status == "ok" {
				survived++
			}
		}
		rec.SurvivedCount = survived
		if data, err := json.Marshal(result.Items); err == nil {
			rec.ItemStatuses = string(data)
		}
	}

	if err := p.runs.Update(context.WithoutCancel(ctx), rec); err != nil {
		p.logger.Warn("could not record run outcome", slog.String("error", err.Error()))
	}
}
