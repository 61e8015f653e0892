package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dugoutlabs/hap/internal/assemble"
	"github.com/dugoutlabs/hap/internal/config"
	"github.com/dugoutlabs/hap/internal/database"
	"github.com/dugoutlabs/hap/internal/fetch"
	"github.com/dugoutlabs/hap/internal/mediatool"
	"github.com/dugoutlabs/hap/internal/mixer"
	"github.com/dugoutlabs/hap/internal/narrate"
	"github.com/dugoutlabs/hap/internal/orchestrator"
	"github.com/dugoutlabs/hap/internal/repository"
	"github.com/dugoutlabs/hap/internal/rundown"
	"github.com/dugoutlabs/hap/internal/storage"
	"github.com/dugoutlabs/hap/internal/surgeon"
	"github.com/dugoutlabs/hap/internal/transcribe"
	"github.com/dugoutlabs/hap/internal/transcript"
	"github.com/dugoutlabs/hap/internal/util"
	"github.com/dugoutlabs/hap/internal/version"
	"github.com/dugoutlabs/hap/pkg/bytesize"
	"github.com/dugoutlabs/hap/pkg/duration"
	"github.com/dugoutlabs/hap/pkg/httpclient"
)

var assembleCmd = &cobra.Command{
	Use:   "assemble <rundown.json>",
	Short: "Assemble a highlight reel from a rundown",
	Long: `Assemble a highlight reel from a rundown file.

The rundown lists plays in broadcast order, each naming a source clip
and the transcript segments to keep, interleaved with half-inning
transitions and an optional opening title card. Every play is fetched,
transcribed, cut down to its selection, and the surviving pieces are
joined with short crossfades into the output MP4.

With --narration, the pre-rendered narration manifest drives the
synced-narration mix instead: clips are trimmed around their action
windows and the narration audio is overlaid on ducked stadium sound.
Transitions and the title card are not used in that mode.

Failed clips are dropped from the reel; the run only fails when
nothing survives, when the rundown itself is invalid, or on
cancellation.`,
	Args: cobra.ExactArgs(1),
	RunE: runAssemble,
}

func init() {
	rootCmd.AddCommand(assembleCmd)

	assembleCmd.Flags().StringP("output", "o", "", "destination path for the final MP4 (required)")
	assembleCmd.Flags().String("narration", "", "narration manifest file; switches to the synced-narration mix")
	assembleCmd.Flags().String("orphan-age", "1d", "sweep leftover run directories older than this at startup")
	cobra.CheckErr(assembleCmd.MarkFlagRequired("output"))

	// Overridable config keys
	assembleCmd.Flags().Int("concurrency", 0, "parallel per-clip tasks (0 selects from the host CPU count)")
	assembleCmd.Flags().String("transitions-dir", "", "directory holding the pre-rendered transition clips")
	assembleCmd.Flags().String("working-dir", "", "root for per-run scratch directories")
	assembleCmd.Flags().Bool("keep-working-dirs", false, "keep run scratch directories for debugging")
	assembleCmd.Flags().String("database", "", "transcript cache database DSN")

	mustBindPFlag("pipeline.concurrency", assembleCmd.Flags().Lookup("concurrency"))
	mustBindPFlag("storage.transitions_dir", assembleCmd.Flags().Lookup("transitions-dir"))
	mustBindPFlag("storage.working_dir_root", assembleCmd.Flags().Lookup("working-dir"))
	mustBindPFlag("storage.keep_working_dirs", assembleCmd.Flags().Lookup("keep-working-dirs"))
	mustBindPFlag("database.dsn", assembleCmd.Flags().Lookup("database"))
}

func runAssemble(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.Default()

	outputPath, _ := cmd.Flags().GetString("output")
	narrationPath, _ := cmd.Flags().GetString("narration")
	orphanAge, _ := cmd.Flags().GetString("orphan-age")

	rd, err := rundown.Load(args[0])
	if err != nil {
		return fmt.Errorf("loading rundown: %w", err)
	}

	var manifest *narrate.Manifest
	if narrationPath != "" {
		manifest, err = narrate.LoadManifest(narrationPath)
		if err != nil {
			return fmt.Errorf("loading narration manifest: %w", err)
		}
	}

	// Initialize workspace and run startup hygiene
	ws, err := storage.NewWorkspace(cfg.Storage.WorkingDirRoot)
	if err != nil {
		return fmt.Errorf("initializing workspace: %w", err)
	}
	ws = ws.WithLogger(logger)
	sweepWorkspace(ws, orphanAge, logger)
	checkFreeDisk(ws, cfg.Storage.MinFreeDisk, logger)

	// Initialize database for the transcript cache and run history
	db, err := database.New(cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	cache := transcript.NewCache(
		repository.NewTranscriptRepository(db.DB),
		transcript.CacheConfig{
			TTL:        cfg.Transcription.TTL(),
			MaxEntries: cfg.Transcription.CacheMaxEntries,
		},
	).WithLogger(logger)

	// External media tool; every trim, probe, and join goes through it
	ffmpegPath, err := util.ResolveBinary(cfg.FFmpeg.BinaryPath)
	if err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}
	ffprobePath, err := util.ResolveBinary(cfg.FFmpeg.ProbePath)
	if err != nil {
		return fmt.Errorf("ffprobe not found: %w", err)
	}
	logger.Debug("resolved media tools",
		slog.String("ffmpeg", ffmpegPath),
		slog.String("ffprobe", ffprobePath))

	tool := mediatool.New(ffmpegPath, ffprobePath).
		WithTimeout(cfg.Pipeline.MediaToolTimeout).
		WithLogger(logger)

	// Clip fetcher with the upstream header profile
	fetcher := fetch.New(fetch.Options{
		UserAgent: cfg.Fetch.UserAgent,
		Origin:    cfg.Fetch.Origin,
		Referer:   cfg.Fetch.Referer,
		Timeout:   cfg.Pipeline.FetchTimeout,
	}).WithLogger(logger)

	transcriber := transcribe.NewService(cache, fetcher, tool, buildProviders(cfg, logger)...).
		WithLogger(logger).
		WithProviderTimeout(cfg.Pipeline.TranscribeTimeout)

	encode := mediatool.DefaultEncodeParams()
	encode.Preset = cfg.Assembly.Preset
	encode.CRF = cfg.Assembly.CRF
	encode.AudioBitrate = cfg.Assembly.AudioBitrate

	surg := surgeon.New(tool, cfg.Surgery.FadeSeconds, encode).WithLogger(logger)

	asm := assemble.New(tool, assemble.Options{
		CrossfadeFrames: cfg.Assembly.CrossfadeFrames,
		FPS:             cfg.Assembly.FPS,
		Width:           cfg.Assembly.Width,
		Height:          cfg.Assembly.Height,
		Preset:          cfg.Assembly.Preset,
		CRF:             cfg.Assembly.CRF,
		AudioBitrate:    cfg.Assembly.AudioBitrate,
	}).WithLogger(logger)

	mix := mixer.New(tool, mixer.Options{
		DuckingFloor:   cfg.Mixer.DuckingFloor,
		DuckingCeiling: cfg.Mixer.DuckingCeiling,
		NarrationGain:  cfg.Mixer.NarrationGain,
		FinalGain:      cfg.Mixer.FinalGain,
		TrimBuffer:     cfg.Mixer.TrimBufferSeconds,
		WindowTail:     cfg.Mixer.WindowTailSeconds,
		Encode:         encode,
	}).WithLogger(logger)

	pipe := orchestrator.New(ws, fetcher, transcriber, surg, asm, orchestrator.Options{
		Concurrency:    cfg.Pipeline.Concurrency,
		SegmentBuffer:  cfg.Selection.BufferSeconds,
		MergeGap:       cfg.Selection.MergeGapSeconds,
		TransitionsDir: cfg.Storage.TransitionsDir,
		KeepWorkDirs:   cfg.Storage.KeepWorkingDirs,
	}).
		WithMixer(mix).
		WithRunRepository(repository.NewRunRepository(db.DB)).
		WithLogger(logger)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	result, err := pipe.Assemble(ctx, orchestrator.Request{
		Rundown:    rd,
		OutputPath: outputPath,
		Narration:  manifest,
	})
	if err != nil {
		return fmt.Errorf("assembling highlight reel: %w", err)
	}

	printResult(result)
	return nil
}

// buildProviders returns the transcription provider chain in configured
// order. Providers without an API key are skipped so a single-provider
// deployment needs no config surgery.
func buildProviders(cfg *config.Config, logger *slog.Logger) []transcribe.Provider {
	var providers []transcribe.Provider
	for _, name := range cfg.Transcription.Providers {
		switch name {
		case "whisper":
			if cfg.Transcription.Whisper.APIKey == "" {
				logger.Debug("transcription provider has no api key, skipping",
					slog.String("provider", name))
				continue
			}
			providers = append(providers, transcribe.NewWhisperProvider(
				cfg.Transcription.Whisper.APIKey,
				cfg.Transcription.Whisper.BaseURL,
				cfg.Transcription.Whisper.Model,
				cfg.Transcription.Language,
				providerClient(cfg, logger).StandardClient(),
			).WithLogger(logger))
		case "deepgram":
			if cfg.Transcription.Deepgram.APIKey == "" {
				logger.Debug("transcription provider has no api key, skipping",
					slog.String("provider", name))
				continue
			}
			providers = append(providers, transcribe.NewDeepgramProvider(
				cfg.Transcription.Deepgram.APIKey,
				cfg.Transcription.Deepgram.BaseURL,
				cfg.Transcription.Deepgram.Model,
				cfg.Transcription.Language,
				providerClient(cfg, logger),
			).WithLogger(logger))
		}
	}
	if len(providers) == 0 {
		logger.Warn("no transcription providers configured, uncached clips cannot be transcribed")
	}
	return providers
}

// providerClient builds the HTTP client for one provider's submissions.
// Audio uploads cannot be replayed, so the client never retries; the
// transcription service owns the retry policy. Each provider gets its
// own client so their circuit breakers trip independently.
func providerClient(cfg *config.Config, logger *slog.Logger) *httpclient.Client {
	hc := httpclient.DefaultConfig()
	hc.Timeout = cfg.Pipeline.TranscribeTimeout
	hc.RetryAttempts = 0
	hc.UserAgent = version.UserAgent()
	hc.Logger = logger
	return httpclient.New(hc)
}

// sweepWorkspace clears run directories orphaned by crashed runs.
func sweepWorkspace(ws *storage.Workspace, maxAge string, logger *slog.Logger) {
	age, err := duration.Parse(maxAge)
	if err != nil {
		logger.Warn("invalid orphan age, skipping sweep",
			slog.String("orphan_age", maxAge),
			slog.String("error", err.Error()))
		return
	}
	removed, err := ws.SweepOrphans(age)
	if err != nil {
		logger.Warn("failed to sweep orphaned run directories",
			slog.String("error", err.Error()))
		return
	}
	if removed > 0 {
		logger.Info("swept orphaned run directories on startup",
			slog.Int("removed_count", removed))
	}
}

// checkFreeDisk warns when the working filesystem is short on space. A
// run in flight needs several times the final reel's size in
// intermediate encodes.
func checkFreeDisk(ws *storage.Workspace, minFree config.ByteSize, logger *slog.Logger) {
	if minFree <= 0 {
		return
	}
	usage, err := ws.DiskUsage()
	if err != nil {
		logger.Warn("could not read disk usage", slog.String("error", err.Error()))
		return
	}
	if usage.Free < uint64(minFree.Bytes()) {
		logger.Warn("low disk space under working directory root",
			slog.String("path", ws.Root()),
			slog.String("free", bytesize.Format(bytesize.Size(usage.Free))),
			slog.String("min_free", minFree.String()))
	}
}

func printResult(result *orchestrator.Result) {
	fmt.Printf("wrote %s", result.OutputPath)
	if result.Duration > 0 {
		fmt.Printf(" (%s)", duration.Format(time.Duration(result.Duration*float64(time.Second))))
	}
	fmt.Println()
	for _, item := range result.Items {
		fmt.Printf("  %-28s %s\n", item.Label, item.Status)
	}
	if result.RunToken != "" {
		fmt.Printf("run recorded as %s\n", result.RunToken)
	}
}
