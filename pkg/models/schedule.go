package models

import "time"

// ScheduleRecord is one DISCOM's scheduled drawal for one time block of one day
type ScheduleRecord struct {
	ID              int       `json:"id,omitempty"`
	ScheduleDate    time.Time `json:"schedule_date"` // Date only, midnight UTC
	DiscomName      string    `json:"discom_name"`
	TimeBlock       int       `json:"time_block"` // 15-minute block index, 1-96
	TimeRange       string    `json:"time_range"`
	ScheduledDrawal float64   `json:"scheduled_drawal"` // MW
	ActualDrawal    *float64  `json:"actual_drawal"`    // Filled elsewhere, never by ingest
	Deviation       *float64  `json:"deviation"`
	CreatedAt       time.Time `json:"created_at,omitempty"`
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
