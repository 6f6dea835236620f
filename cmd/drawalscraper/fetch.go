package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jgoulah/drawalscraper/internal/ingest"
	"github.com/jgoulah/drawalscraper/internal/logger"
	"github.com/jgoulah/drawalscraper/internal/metrics"
	"github.com/jgoulah/drawalscraper/internal/scraper"
	"github.com/jgoulah/drawalscraper/pkg/models"
)

var (
	fetchFrom      string
	fetchTo        string
	fetchRevisions string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch drawal schedules for a date range",
	Long: `Downloads the schedule for every day in the range, trying revisions from the
highest down until one returns a usable list. Days without data are skipped.
Records are upserted, so re-running a range is safe.

Dates default to start_date/end_date from the config, then to yesterday..today.`,
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVar(&fetchFrom, "from", "", "First date (YYYY-MM-DD or relative like 7d)")
	fetchCmd.Flags().StringVar(&fetchTo, "to", "", "Last date, inclusive (YYYY-MM-DD or relative like 0d)")
	fetchCmd.Flags().StringVar(&fetchRevisions, "revisions", "", "Revision plan, e.g. 9..0 or 9,7,3 (default from config)")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	runID := uuid.NewString()
	log := logger.New("fetch").With().Str("run_id", runID).Logger()

	defFrom, defTo, err := cfg.DateRange()
	if err != nil {
		return err
	}
	today := models.Day(time.Now())
	if defTo.IsZero() {
		defTo = today
	}
	if defFrom.IsZero() {
		defFrom = defTo.AddDate(0, 0, -1)
	}
	from, to, err := dateRange(fetchFrom, fetchTo, defFrom, defTo)
	if err != nil {
		return err
	}

	recorder, err := metrics.NewRecorder()
	if err != nil {
		return fmt.Errorf("creating metrics: %w", err)
	}

	opts := []scraper.Option{
		scraper.WithLogger(logger.New("scraper").With().Str("run_id", runID).Logger()),
		scraper.WithRecorder(recorder),
	}
	if fetchRevisions != "" {
		plan, err := scraper.ParseRevisions(fetchRevisions)
		if err != nil {
			return err
		}
		opts = append(opts, scraper.WithRevisions(plan))
	}

	a := &app{}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("Closing resources")
		}
	}()

	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	a.onClose(db.Close)

	client := scraper.NewSLDCClient(cfg.Source, opts...)
	a.onClose(func() error {
		client.Close()
		return nil
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("from", from.Format(time.DateOnly)).
		Str("to", to.Format(time.DateOnly)).
		Str("driver", cfg.Database.Driver).
		Msg("Fetch started")

	normalizer := scraper.NewNormalizer(scraper.DefaultKeyFilter(), logger.New("normalize"))
	runner := ingest.NewRunner(client, normalizer, db, recorder, log)
	sum, runErr := runner.Run(ctx, from, to)

	printSummary(sum)

	if cfg.Metrics.PushgatewayURL != "" {
		if err := recorder.Push(cfg.Metrics.PushgatewayURL, cfg.Metrics.Job); err != nil {
			log.Warn().Err(err).Msg("Could not push metrics")
		} else {
			log.Debug().Str("url", cfg.Metrics.PushgatewayURL).Msg("Pushed metrics")
		}
	}

	if runErr != nil {
		return fmt.Errorf("fetch interrupted: %w", runErr)
	}
	return nil
}

func printSummary(sum ingest.Summary) {
	fmt.Printf("✓ Processed %d days: %d stored, %d records upserted\n", sum.Days, sum.Stored, sum.Records)
	reasons := make([]string, 0, len(sum.Skipped))
	for reason := range sum.Skipped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Printf("  skipped (%s): %d\n", reason, sum.Skipped[reason])
	}
}
