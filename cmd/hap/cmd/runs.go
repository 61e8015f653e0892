package cmd

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/dugoutlabs/hap/internal/database"
	"github.com/dugoutlabs/hap/internal/orchestrator"
	"github.com/dugoutlabs/hap/internal/repository"
	"github.com/dugoutlabs/hap/pkg/duration"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent assembly runs",
	Long: `List recent assembly runs from the run history.

Every assembly writes a run record with its mode, outcome, per-item
statuses, and timings. The history is best-effort: a run that could
not reach the database still produced (or failed to produce) its
reel, it just left no record here.`,
	RunE: runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <token>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	RunE:  runRunsShow,
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsShowCmd)

	runsCmd.Flags().Int("limit", 20, "maximum number of runs to list")
}

func openRunRepository() (repository.RunRepository, func() error, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.New(cfg.Database, slog.Default())
	if err != nil {
		return nil, nil, fmt.Errorf("initializing database: %w", err)
	}
	return repository.NewRunRepository(db.DB), db.Close, nil
}

func runRunsList(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openRunRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	limit, _ := cmd.Flags().GetInt("limit")
	runs, err := repo.Recent(cmd.Context(), limit)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return nil
	}

	fmt.Printf("%-36s  %-12s  %-10s  %-9s  %5s  %-9s  %s\n",
		"TOKEN", "STARTED", "MODE", "STATUS", "ITEMS", "DURATION", "OUTPUT")
	for _, r := range runs {
		started := ""
		if r.StartedAt != nil {
			started = duration.FormatRelative(*r.StartedAt)
		}
		dur := ""
		if r.DurationMs > 0 {
			dur = duration.Format(time.Duration(r.DurationMs) * time.Millisecond)
		}
		fmt.Printf("%-36s  %-12s  %-10s  %-9s  %2d/%-2d  %-9s  %s\n",
			r.Token, started, r.Mode, r.Status, r.SurvivedCount, r.ItemCount, dur, r.OutputPath)
	}
	return nil
}

func runRunsShow(cmd *cobra.Command, args []string) error {
	repo, closeDB, err := openRunRepository()
	if err != nil {
		return err
	}
	defer closeDB()

	run, err := repo.GetByToken(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("loading run: %w", err)
	}
	if run == nil {
		return fmt.Errorf("no run with token %s", args[0])
	}

	fmt.Printf("token:    %s\n", run.Token)
	if run.GameID != "" {
		fmt.Printf("game:     %s\n", run.GameID)
	}
	fmt.Printf("mode:     %s\n", run.Mode)
	fmt.Printf("status:   %s\n", run.Status)
	if run.StartedAt != nil {
		fmt.Printf("started:  %s (%s)\n",
			run.StartedAt.Format(time.RFC3339), duration.FormatRelative(*run.StartedAt))
	}
	if run.DurationMs > 0 {
		fmt.Printf("duration: %s\n", duration.Format(time.Duration(run.DurationMs)*time.Millisecond))
	}
	if run.OutputPath != "" {
		fmt.Printf("output:   %s\n", run.OutputPath)
	}
	if run.LastError != "" {
		fmt.Printf("error:    %s\n", run.LastError)
	}
	fmt.Printf("items:    %d of %d in the output\n", run.SurvivedCount, run.ItemCount)

	if run.ItemStatuses != "" {
		var items []orchestrator.ItemStatus
		if err := json.Unmarshal([]byte(run.ItemStatuses), &items); err != nil {
			return fmt.Errorf("decoding item statuses: %w", err)
		}
		for _, item := range items {
			fmt.Printf("  %-28s %s\n", item.Label, item.Status)
		}
	}
	return nil
}
