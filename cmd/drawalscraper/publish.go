package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jgoulah/drawalscraper/internal/database"
	"github.com/jgoulah/drawalscraper/internal/logger"
	"github.com/jgoulah/drawalscraper/internal/publisher"
)

var (
	publishFrom   string
	publishTo     string
	publishDiscom string
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish stored schedules to MQTT",
	Long: `Reads stored drawal schedules from the database and publishes one retained
message per DISCOM per day to <topic_prefix>/<discom>/<YYYY-MM-DD>.`,
	RunE: runPublish,
}

func init() {
	publishCmd.Flags().StringVar(&publishFrom, "from", "", "Only publish data since this date (YYYY-MM-DD or relative like 7d)")
	publishCmd.Flags().StringVar(&publishTo, "to", "", "Only publish data until this date (YYYY-MM-DD)")
	publishCmd.Flags().StringVar(&publishDiscom, "discom", "", "Only publish this DISCOM")
	rootCmd.AddCommand(publishCmd)
}

func runPublish(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.MQTT.Enabled {
		return fmt.Errorf("MQTT is not enabled in config")
	}

	from, to, err := dateRange(publishFrom, publishTo, time.Time{}, time.Time{})
	if err != nil {
		return err
	}

	log := logger.New("publish")
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

	data, err := db.ListSchedules(context.Background(), database.ScheduleFilter{Discom: publishDiscom, From: from, To: to})
	if err != nil {
		return fmt.Errorf("listing schedules: %w", err)
	}
	if len(data) == 0 {
		fmt.Println("No data found")
		return nil
	}

	pub, err := publisher.New(cfg.MQTT, log)
	if err != nil {
		return fmt.Errorf("creating publisher: %w", err)
	}
	a.onClose(pub.Close)

	published, err := pub.PublishAll(data)
	if err != nil {
		return fmt.Errorf("publishing: %w (published %d before failure)", err, published)
	}

	fmt.Printf("✓ Published %d DISCOM days (%d records)\n", published, len(data))
	return nil
}
