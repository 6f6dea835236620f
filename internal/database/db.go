package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/jgoulah/drawalscraper/pkg/models"
)

// ErrEmptyBatch is returned when there is nothing to upsert
var ErrEmptyBatch = errors.New("no records to save")

const tableName = "discom_drawal_schedule"

// DB wraps the database connection
type DB struct {
	conn    *sql.DB
	dialect dialect
}

// ScheduleFilter narrows ListSchedules. Zero fields are ignored.
type ScheduleFilter struct {
	Discom string
	From   time.Time
	To     time.Time // Inclusive
}

// New opens the store for driver ("sqlite" or "postgres") and initializes the schema
func New(driver, dsn string) (*DB, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}

	conn, err := sql.Open(d.sqlDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if d.name == "sqlite" {
		// One connection keeps :memory: databases alive and serializes writers
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := &DB{conn: conn, dialect: d}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the schedule table and its indexes
func (db *DB) initSchema() error {
	for _, stmt := range db.dialect.schema {
		if _, err := db.conn.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// UpsertSchedules writes records in one transaction keyed by
// (schedule_date, discom_name, time_block). On conflict scheduled_drawal,
// time_range and deviation are overwritten; actual_drawal is left alone.
// Any failure rolls back the whole batch.
func (db *DB) UpsertSchedules(ctx context.Context, records []models.ScheduleRecord) (int, error) {
	if len(records) == 0 {
		return 0, ErrEmptyBatch
	}

	p := db.dialect.placeholders(7)
	query := `
	INSERT INTO ` + tableName + `
	(schedule_date, discom_name, time_block, time_range, scheduled_drawal, actual_drawal, deviation)
	VALUES (` + strings.Join(p, ", ") + `)
	ON CONFLICT (schedule_date, discom_name, time_block)
	DO UPDATE SET
		scheduled_drawal = excluded.scheduled_drawal,
		time_range = excluded.time_range,
		deviation = excluded.deviation
	`

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("preparing upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			db.dialect.dateArg(r.ScheduleDate), r.DiscomName, r.TimeBlock,
			r.TimeRange, r.ScheduledDrawal, r.ActualDrawal, r.Deviation,
		)
		if err != nil {
			return 0, fmt.Errorf("upserting %s block %d: %w", r.DiscomName, r.TimeBlock, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing upsert: %w", err)
	}

	return len(records), nil
}

// ListSchedules returns stored records ordered by date, discom and time block
func (db *DB) ListSchedules(ctx context.Context, f ScheduleFilter) ([]models.ScheduleRecord, error) {
	var where []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, db.dialect.placeholder(len(args))))
	}
	if f.Discom != "" {
		add("discom_name = %s", f.Discom)
	}
	if !f.From.IsZero() {
		add("schedule_date >= %s", db.dialect.dateArg(f.From))
	}
	if !f.To.IsZero() {
		add("schedule_date <= %s", db.dialect.dateArg(f.To))
	}

	query := `
	SELECT id, schedule_date, discom_name, time_block, time_range,
		scheduled_drawal, actual_drawal, deviation, created_at
	FROM ` + tableName
	if len(where) > 0 {
		query += "\n\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\tORDER BY schedule_date, discom_name, time_block"

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying schedules: %w", err)
	}
	defer rows.Close()

	var results []models.ScheduleRecord
	for rows.Next() {
		var r models.ScheduleRecord
		var date, createdAt any
		var timeRange sql.NullString
		var scheduled, actual, deviation sql.NullFloat64

		if err := rows.Scan(&r.ID, &date, &r.DiscomName, &r.TimeBlock, &timeRange,
			&scheduled, &actual, &deviation, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		if r.ScheduleDate, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("parsing schedule_date: %w", err)
		}
		r.ScheduleDate = models.Day(r.ScheduleDate)
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		r.TimeRange = timeRange.String
		r.ScheduledDrawal = scheduled.Float64
		r.ActualDrawal = nullFloat(actual)
		r.Deviation = nullFloat(deviation)

		results = append(results, r)
	}

	return results, rows.Err()
}

// ListDiscoms returns the distinct DISCOM names stored, optionally for a single day
func (db *DB) ListDiscoms(ctx context.Context, date time.Time) ([]string, error) {
	query := `SELECT DISTINCT discom_name FROM ` + tableName
	var args []any
	if !date.IsZero() {
		query += ` WHERE schedule_date = ` + db.dialect.placeholder(1)
		args = append(args, db.dialect.dateArg(date))
	}
	query += ` ORDER BY discom_name`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying discoms: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

var timeLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	"2006-01-02T15:04:05Z",
}

// parseTime accepts what either driver hands back for DATE/TIMESTAMP/TEXT columns
func parseTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t, nil
	case []byte:
		return parseTime(string(t))
	case string:
		for _, layout := range timeLayouts {
			if parsed, err := time.Parse(layout, t); err == nil {
				return parsed, nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognized time %q", t)
	default:
		return time.Time{}, fmt.Errorf("unexpected time type %T", v)
	}
}

type dialect struct {
	name      string
	sqlDriver string
	schema    []string
	numbered  bool // $1 style placeholders
	dateAsStr bool
}

func (d dialect) placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

func (d dialect) placeholders(count int) []string {
	p := make([]string, count)
	for i := range p {
		p[i] = d.placeholder(i + 1)
	}
	return p
}

func (d dialect) dateArg(t time.Time) any {
	day := models.Day(t)
	if d.dateAsStr {
		return day.Format("2006-01-02")
	}
	return day
}

const indexDDL = `CREATE INDEX IF NOT EXISTS idx_discom_date ON ` + tableName + ` (discom_name, schedule_date)`

var sqliteDialect = dialect{
	name:      "sqlite",
	sqlDriver: "sqlite",
	dateAsStr: true,
	schema: []string{`
	CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_date TEXT NOT NULL,
		discom_name TEXT NOT NULL,
		time_block INTEGER NOT NULL,
		time_range TEXT,
		scheduled_drawal REAL,
		actual_drawal REAL,
		deviation REAL,
		created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
		UNIQUE(schedule_date, discom_name, time_block)
	)`, indexDDL},
}

var postgresDialect = dialect{
	name:      "postgres",
	sqlDriver: "pgx",
	numbered:  true,
	schema: []string{`
	CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		id SERIAL PRIMARY KEY,
		schedule_date DATE NOT NULL,
		discom_name VARCHAR(100) NOT NULL,
		time_block INT NOT NULL,
		time_range VARCHAR(50),
		scheduled_drawal DOUBLE PRECISION,
		actual_drawal DOUBLE PRECISION,
		deviation DOUBLE PRECISION,
		created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		CONSTRAINT discom_drawal_schedule_key UNIQUE (schedule_date, discom_name, time_block)
	)`, indexDDL},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite", "":
		return sqliteDialect, nil
	case "postgres", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported database driver: %s", driver)
	}
}
