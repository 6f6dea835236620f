package scraper

import (
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/jgoulah/drawalscraper/pkg/models"
)

// Column names with fixed meaning in the report rows
const (
	colTimeBlock = "TimeBlock"
	colTimeDesc  = "TimeDesc"
	colTotal     = "Total"
	colISGS      = "ISGS"
)

// KeyFilter decides which row keys name a DISCOM
type KeyFilter struct {
	Reserved map[string]struct{}
	Prefix   string // Keys starting with Prefix are internal
}

// DefaultKeyFilter excludes the block columns, the totals and "_" keys
func DefaultKeyFilter() KeyFilter {
	return KeyFilter{
		Reserved: map[string]struct{}{
			colTimeBlock: {},
			colTimeDesc:  {},
			colTotal:     {},
			colISGS:      {},
		},
		Prefix: "_",
	}
}

// Entities returns the keys that are neither reserved nor prefixed, in input
// order, each once.
func (f KeyFilter) Entities(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, ok := f.Reserved[k]; ok {
			continue
		}
		if f.Prefix != "" && strings.HasPrefix(k, f.Prefix) {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// Normalizer flattens report rows into schedule records
type Normalizer struct {
	filter KeyFilter
	log    zerolog.Logger
}

// NewNormalizer creates a normalizer using filter to pick DISCOM columns
func NewNormalizer(filter KeyFilter, log zerolog.Logger) *Normalizer {
	return &Normalizer{filter: filter, log: log}
}

// Normalize turns a JSON list of report rows into one record per DISCOM per
// time block. Rows whose TimeBlock is not all digits (footers such as
// "Average" or "MWH") are dropped, as are non-numeric DISCOM cells. A payload
// that is not a list yields no records.
func (n *Normalizer) Normalize(payload []byte, date time.Time) []models.ScheduleRecord {
	list, err := listPayload(payload)
	if err != nil {
		n.log.Warn().Err(err).Str("payload", preview(payload)).Msg("Unexpected data format")
		return nil
	}

	rows := gjson.ParseBytes(list).Array()
	n.log.Debug().Int("rows", len(rows)).Str("date", date.Format("2006-01-02")).Msg("Processing records")

	day := models.Day(date)
	var records []models.ScheduleRecord
	for _, row := range rows {
		records = append(records, n.normalizeRow(row, day)...)
	}

	n.log.Debug().Int("records", len(records)).Msg("Successfully processed valid records")
	return records
}

func (n *Normalizer) normalizeRow(row gjson.Result, day time.Time) []models.ScheduleRecord {
	if !row.IsObject() {
		return nil
	}

	// Later duplicates overwrite the value but keep the first position
	var keys []string
	values := map[string]gjson.Result{}
	row.ForEach(func(k, v gjson.Result) bool {
		if _, ok := values[k.Str]; !ok {
			keys = append(keys, k.Str)
		}
		values[k.Str] = v
		return true
	})

	blockStr := "0"
	if v, ok := values[colTimeBlock]; ok {
		if v.Type != gjson.String {
			n.log.Warn().Str("row", row.Raw).Msg("Error processing record: TimeBlock is not a string")
			return nil
		}
		blockStr = v.Str
	}
	if !isDigits(blockStr) {
		return nil
	}
	block, err := strconv.Atoi(blockStr)
	if err != nil {
		n.log.Warn().Err(err).Str("row", row.Raw).Msg("Error processing record")
		return nil
	}

	timeRange := ""
	if v, ok := values[colTimeDesc]; ok && v.Type != gjson.Null {
		timeRange = v.String()
	}

	var records []models.ScheduleRecord
	for _, discom := range n.filter.Entities(keys) {
		value := values[discom]
		drawal, ok := drawalValue(value)
		if !ok {
			n.log.Debug().Str("discom", discom).Str("value", value.Raw).Msg("Skipping non-numeric value")
			continue
		}
		records = append(records, models.ScheduleRecord{
			ScheduleDate:    day,
			DiscomName:      discom,
			TimeBlock:       block,
			TimeRange:       timeRange,
			ScheduledDrawal: drawal,
		})
	}
	return records
}

// drawalValue coerces a DISCOM cell. Strings must be digits and dots only;
// null and false count as zero.
func drawalValue(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.String:
		if !isNumericLabel(v.Str) {
			return 0, false
		}
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case gjson.Number:
		return v.Num, true
	case gjson.Null, gjson.False:
		return 0, true
	case gjson.True:
		return 1, true
	default:
		return 0, false
	}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// isNumericLabel is true for strings made of digits and dots with at least one digit
func isNumericLabel(s string) bool {
	digits := 0
	for i := 0; i < len(s); i++ {
		switch c := s[i]; {
		case c >= '0' && c <= '9':
			digits++
		case c == '.':
		default:
			return false
		}
	}
	return digits > 0
}
