package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dugoutlabs/hap/internal/config"
	"github.com/dugoutlabs/hap/internal/database"
	"github.com/dugoutlabs/hap/internal/repository"
	"github.com/dugoutlabs/hap/internal/transcript"
	"github.com/dugoutlabs/hap/pkg/duration"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Transcript cache maintenance commands",
	Long: `Commands for inspecting and maintaining the transcript cache.

Transcripts are cached by source URL so repeated assemblies of the
same clips skip the transcription providers entirely. Entries expire
after the configured TTL and the cache is bounded; both policies are
enforced lazily, so a cache that stops being written to keeps its
stale entries until pruned.`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show transcript cache statistics",
	RunE:  runCacheStats,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired entries and enforce the size cap",
	RunE:  runCachePrune,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached transcript",
	RunE:  runCacheClear,
}

var cacheExportCmd = &cobra.Command{
	Use:   "export <file>",
	Short: "Export the cache to a portable file",
	Long: `Export every cached transcript to a portable file.

The compression is chosen from the file extension: .json writes plain
JSON, .gz gzip, .bz2 bzip2, and .xz xz. Exports can be imported on
another host to warm its cache.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheExport,
}

var cacheImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import transcripts from an export file",
	Long: `Import transcripts from an export file.

The compression is sniffed from the file contents, so renamed exports
import fine. An imported entry replaces any local entry for the same
source URL and keeps its original creation time, so it expires on the
local TTL accordingly.`,
	Args: cobra.ExactArgs(1),
	RunE: runCacheImport,
}

var cacheJanitorCmd = &cobra.Command{
	Use:   "janitor",
	Short: "Run the scheduled cache maintenance loop",
	Long: `Run the cache maintenance loop in the foreground.

On each tick of the cron schedule the janitor removes expired entries
and enforces the size cap. Runs until interrupted.`,
	RunE: runCacheJanitor,
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cacheExportCmd)
	cacheCmd.AddCommand(cacheImportCmd)
	cacheCmd.AddCommand(cacheJanitorCmd)

	cacheClearCmd.Flags().Bool("force", false, "actually clear the cache")
	cacheJanitorCmd.Flags().String("schedule", "", "cron schedule (overrides transcription.janitor_schedule)")
}

// openCache builds the transcript cache over the configured database.
// The returned closer releases the database handle.
func openCache(cfg *config.Config) (*transcript.Cache, func() error, error) {
	db, err := database.New(cfg.Database, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	cache := transcript.NewCache(
		repository.NewTranscriptRepository(db.DB),
		transcript.CacheConfig{
			TTL:        cfg.Transcription.TTL(),
			MaxEntries: cfg.Transcription.CacheMaxEntries,
		},
	)
	return cache, db.Close, nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	count, err := cache.Count(cmd.Context())
	if err != nil {
		return fmt.Errorf("counting cache entries: %w", err)
	}

	fmt.Printf("entries:     %d\n", count)
	fmt.Printf("max entries: %d\n", cfg.Transcription.CacheMaxEntries)
	fmt.Printf("ttl:         %s\n", duration.Format(cache.TTL()))
	fmt.Printf("database:    %s (%s)\n", cfg.Database.DSN, cfg.Database.Driver)
	return nil
}

func runCachePrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	result, err := cache.Prune(cmd.Context())
	if err != nil {
		return fmt.Errorf("pruning cache: %w", err)
	}

	fmt.Printf("expired: %d\n", result.Expired)
	fmt.Printf("evicted: %d\n", result.Evicted)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	if !force {
		return fmt.Errorf("refusing to clear the transcript cache without --force")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	if err := cache.Clear(cmd.Context()); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	fmt.Println("cache cleared")
	return nil
}

func runCacheExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	path := args[0]
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating export file: %w", err)
	}

	count, err := cache.Export(cmd.Context(), f, transcript.DetectFormat(path))
	if err != nil {
		f.Close()
		return fmt.Errorf("exporting cache: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing export file: %w", err)
	}

	fmt.Printf("exported %d entries to %s\n", count, path)
	return nil
}

func runCacheImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("opening import file: %w", err)
	}
	defer f.Close()

	result, err := cache.Import(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("importing cache: %w", err)
	}

	fmt.Printf("imported %d entries, skipped %d\n", result.Imported, result.Skipped)
	return nil
}

func runCacheJanitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	cache, closeDB, err := openCache(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	logger := slog.Default()
	cache.WithLogger(logger)

	schedule, _ := cmd.Flags().GetString("schedule")
	if schedule == "" {
		schedule = cfg.Transcription.JanitorSchedule
	}

	janitor, err := transcript.NewJanitor(cache, schedule)
	if err != nil {
		return err
	}
	janitor.WithLogger(logger)

	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("received shutdown signal", slog.String("signal", sig.String()))

	janitor.Stop()
	return nil
}
