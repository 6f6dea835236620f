package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var discomsDate string

var discomsCmd = &cobra.Command{
	Use:   "discoms",
	Short: "List DISCOM names with stored data",
	RunE:  runDiscoms,
}

func init() {
	discomsCmd.Flags().StringVar(&discomsDate, "date", "", "Only DISCOMs with data on this date (YYYY-MM-DD or relative like 1d)")
	rootCmd.AddCommand(discomsCmd)
}

func runDiscoms(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var date time.Time
	if discomsDate != "" {
		if date, err = parseDate(discomsDate); err != nil {
			return fmt.Errorf("parsing --date: %w", err)
		}
	}

	db, err := openDB(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	names, err := db.ListDiscoms(context.Background(), date)
	if err != nil {
		return err
	}
	if len(names) == 0 {
		fmt.Println("No data found")
		return nil
	}
	for _, name := range names {
		fmt.Println(name)
	}
	return nil
}
