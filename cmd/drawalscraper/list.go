package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jgoulah/drawalscraper/internal/database"
)

var (
	listDiscom string
	listFrom   string
	listTo     string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored drawal schedules",
	Long:  `Displays stored schedules for one DISCOM, optionally limited to a date range.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listDiscom, "discom", "", "DISCOM name (required)")
	listCmd.Flags().StringVar(&listFrom, "from", "", "Only list data since this date (YYYY-MM-DD or relative like 7d)")
	listCmd.Flags().StringVar(&listTo, "to", "", "Only list data until this date (YYYY-MM-DD)")
	_ = listCmd.MarkFlagRequired("discom")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	from, to, err := dateRange(listFrom, listTo, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	data, err := db.ListSchedules(context.Background(), database.ScheduleFilter{Discom: listDiscom, From: from, To: to})
	if err != nil {
		return fmt.Errorf("listing data for %s: %w", listDiscom, err)
	}

	if len(data) == 0 {
		fmt.Printf("No data found for %s\n", listDiscom)
		return nil
	}

	fmt.Printf("\n%s Drawal Schedule:\n", listDiscom)
	fmt.Println("--------------------------------------------------")
	fmt.Printf("%-12s  %5s  %-13s  %12s\n", "Date", "Block", "Time", "Drawal")
	fmt.Println("--------------------------------------------------")

	var total float64
	days := map[time.Time]struct{}{}
	for _, record := range data {
		fmt.Printf("%-12s  %5d  %-13s  %12.2f\n",
			record.ScheduleDate.Format(time.DateOnly), record.TimeBlock, record.TimeRange, record.ScheduledDrawal)
		total += record.ScheduledDrawal
		days[record.ScheduleDate] = struct{}{}
	}

	fmt.Println("--------------------------------------------------")
	fmt.Printf("Total: %s (%s records over %d days)\n",
		humanize.CommafWithDigits(total, 2), humanize.Comma(int64(len(data))), len(days))
	return nil
}
