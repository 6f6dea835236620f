// Package ingest drives the per-day fetch, normalize and persist loop.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jgoulah/drawalscraper/internal/metrics"
	"github.com/jgoulah/drawalscraper/internal/scraper"
	"github.com/jgoulah/drawalscraper/pkg/models"
)

// Fetcher returns the accepted payload for a date or an error wrapping scraper.ErrNoData
type Fetcher interface {
	Fetch(ctx context.Context, date time.Time) (*scraper.Payload, error)
}

// Normalizer flattens a payload into records
type Normalizer interface {
	Normalize(payload []byte, date time.Time) []models.ScheduleRecord
}

// Store upserts a day's records as one batch
type Store interface {
	UpsertSchedules(ctx context.Context, records []models.ScheduleRecord) (int, error)
}

// DayRecorder observes day outcomes
type DayRecorder interface {
	Day(result string)
	Stored(revision, records int)
}

// Summary reports what a run did
type Summary struct {
	Days    int
	Stored  int
	Records int
	Skipped map[string]int // keyed by metrics.Day* result
}

// Runner processes a date range one day at a time
type Runner struct {
	fetcher    Fetcher
	normalizer Normalizer
	store      Store
	recorder   DayRecorder
	log        zerolog.Logger
}

// NewRunner wires the three stages. recorder may be nil.
func NewRunner(f Fetcher, n Normalizer, s Store, recorder DayRecorder, log zerolog.Logger) *Runner {
	return &Runner{fetcher: f, normalizer: n, store: s, recorder: recorder, log: log}
}

// Run processes every day from from to to inclusive. A day without data or
// with a failed write is skipped; the next day is processed regardless. Run
// only returns an error for an invalid range or a canceled context.
func (r *Runner) Run(ctx context.Context, from, to time.Time) (Summary, error) {
	from, to = models.Day(from), models.Day(to)
	sum := Summary{Skipped: map[string]int{}}
	if from.After(to) {
		return sum, fmt.Errorf("start date %s is after end date %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	for day := from; !day.After(to); day = day.AddDate(0, 0, 1) {
		if err := ctx.Err(); err != nil {
			return sum, err
		}

		result, n, err := r.processDay(ctx, day)
		if err != nil && ctx.Err() != nil {
			return sum, ctx.Err()
		}

		sum.Days++
		if result == metrics.DayStored {
			sum.Stored++
			sum.Records += n
		} else {
			sum.Skipped[result]++
		}
		if r.recorder != nil {
			r.recorder.Day(result)
		}
	}

	return sum, nil
}

// processDay runs the three stages for one date and reports the day result
func (r *Runner) processDay(ctx context.Context, day time.Time) (string, int, error) {
	log := r.log.With().Str("date", day.Format(time.DateOnly)).Logger()
	log.Info().Msg("Processing")

	payload, err := r.fetcher.Fetch(ctx, day)
	if err != nil {
		if errors.Is(err, scraper.ErrNoData) {
			log.Warn().Msg("No data for date, skipping")
		} else {
			log.Error().Err(err).Msg("Fetch failed, skipping")
		}
		return metrics.DayNoData, 0, err
	}

	records := r.normalizer.Normalize(payload.Body, payload.Date)
	if len(records) == 0 {
		log.Warn().Int("revision", payload.Revision).Msg("No valid records, skipping")
		return metrics.DayEmpty, 0, nil
	}

	n, err := r.store.UpsertSchedules(ctx, records)
	if err != nil {
		log.Error().Err(err).Msg("Database error, batch rolled back")
		return metrics.DayFailed, 0, err
	}

	if r.recorder != nil {
		r.recorder.Stored(payload.Revision, n)
	}
	log.Info().Int("revision", payload.Revision).Int("records", n).Msg("Saved records")
	return metrics.DayStored, n, nil
}
