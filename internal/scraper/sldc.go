package scraper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/jgoulah/drawalscraper/internal/config"
)

// ErrNoData means no revision produced a usable payload for the date
var ErrNoData = errors.New("no usable data")

// ErrNotList is returned for bodies that are not a JSON list, even after unwrapping
var ErrNotList = errors.New("payload is not a JSON list")

// Fixed report parameters the endpoint expects
const (
	reportFormat = "M/d/yyyy"
	reportType   = "5"
	allEntities  = "-1"
	customerType = "3"

	// requestDateLayout is how fromDate is sent; reportFormat tells the server how to read it
	requestDateLayout = "01/02/2006"
)

// Attempt outcomes reported to the AttemptRecorder
const (
	OutcomeOK        = "ok"
	OutcomeStatus    = "status"
	OutcomeMalformed = "malformed"
	OutcomeTransport = "transport"
)

// AttemptRecorder observes every revision attempt
type AttemptRecorder interface {
	FetchAttempt(outcome string)
}

// StatusError is a non-200 answer for one revision
type StatusError struct {
	Revision   int
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("revision %d: server returned status %d", e.Revision, e.StatusCode)
}

// Payload is the raw list-shaped body accepted for a date
type Payload struct {
	Date     time.Time
	Revision int
	Body     []byte
}

// RevisionPlan is the ordered list of revisions to try. The first
// revision that yields a list wins, so order the highest first.
type RevisionPlan []int

// Revisions returns highest, highest-1, ..., lowest
func Revisions(highest, lowest int) RevisionPlan {
	if highest < lowest {
		return nil
	}
	plan := make(RevisionPlan, 0, highest-lowest+1)
	for r := highest; r >= lowest; r-- {
		plan = append(plan, r)
	}
	return plan
}

// ParseRevisions parses "9..0" or a comma list like "9,7,3"
func ParseRevisions(s string) (RevisionPlan, error) {
	s = strings.TrimSpace(s)
	if hi, lo, ok := strings.Cut(s, ".."); ok {
		highest, err := strconv.Atoi(strings.TrimSpace(hi))
		if err != nil {
			return nil, fmt.Errorf("parsing revision range %q: %w", s, err)
		}
		lowest, err := strconv.Atoi(strings.TrimSpace(lo))
		if err != nil {
			return nil, fmt.Errorf("parsing revision range %q: %w", s, err)
		}
		if lowest < 0 || highest < lowest {
			return nil, fmt.Errorf("invalid revision range %q", s)
		}
		return Revisions(highest, lowest), nil
	}

	var plan RevisionPlan
	for _, part := range strings.Split(s, ",") {
		r, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || r < 0 {
			return nil, fmt.Errorf("invalid revision %q", part)
		}
		plan = append(plan, r)
	}
	return plan, nil
}

// SLDCClient fetches DISCOM drawal schedules from the SLDC report endpoint
type SLDCClient struct {
	client     *http.Client
	url        string
	referer    string
	userAgent  string
	revisions  RevisionPlan
	retryDelay time.Duration
	log        zerolog.Logger
	recorder   AttemptRecorder
}

// Option customizes an SLDCClient
type Option func(*SLDCClient)

// WithHTTPClient replaces the default HTTP client
func WithHTTPClient(c *http.Client) Option {
	return func(s *SLDCClient) { s.client = c }
}

// WithLogger sets the status logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *SLDCClient) { s.log = l }
}

// WithRecorder reports every attempt outcome
func WithRecorder(r AttemptRecorder) Option {
	return func(s *SLDCClient) { s.recorder = r }
}

// WithRevisions overrides the revision plan from the config
func WithRevisions(plan RevisionPlan) Option {
	return func(s *SLDCClient) { s.revisions = plan }
}

// NewSLDCClient creates a client for the configured endpoint
func NewSLDCClient(cfg config.SourceConfig, opts ...Option) *SLDCClient {
	s := &SLDCClient{
		client:     &http.Client{Timeout: cfg.Timeout()},
		url:        cfg.URL,
		referer:    cfg.Referer,
		userAgent:  cfg.UserAgent,
		revisions:  Revisions(cfg.MaxRevision, cfg.MinRevision),
		retryDelay: cfg.RetryDelay(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases idle connections held by the HTTP client
func (s *SLDCClient) Close() {
	s.client.CloseIdleConnections()
}

// FormatDate renders date the way the endpoint expects
func FormatDate(date time.Time) string {
	return date.Format(requestDateLayout)
}

// Fetch tries each revision in plan order and returns the first list-shaped
// payload. Status, transport and parse failures move on to the next revision.
// When every revision fails the error wraps ErrNoData.
func (s *SLDCClient) Fetch(ctx context.Context, date time.Time) (*Payload, error) {
	dateStr := FormatDate(date)

	for i, rev := range s.revisions {
		if i > 0 && s.retryDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(s.retryDelay):
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		body, err := s.attempt(ctx, dateStr, rev)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			outcome := outcomeOf(err)
			s.record(outcome)
			// 5xx for missing revisions is routine
			ev := s.log.Warn()
			if outcome == OutcomeStatus {
				ev = s.log.Debug()
			}
			ev.Err(err).Str("date", dateStr).Int("revision", rev).Msg("Revision attempt failed")
			continue
		}

		s.record(OutcomeOK)
		s.log.Info().Str("date", dateStr).Int("revision", rev).Msg("Successfully got data")
		return &Payload{Date: date, Revision: rev, Body: body}, nil
	}

	s.log.Warn().Str("date", dateStr).Int("revisions", len(s.revisions)).Msg("Failed to get valid data")
	return nil, fmt.Errorf("%s: %w", dateStr, ErrNoData)
}

// attempt performs one POST for one revision
func (s *SLDCClient) attempt(ctx context.Context, dateStr string, revision int) ([]byte, error) {
	form := url.Values{}
	form.Set("fromDate", dateStr)
	form.Set("sldcrevision", strconv.Itoa(revision))
	form.Set("formate", reportFormat)
	form.Set("type", reportType)
	form.Set("entityid", allEntities)
	form.Set("customertype", customerType)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	req.Header.Set("Referer", s.referer)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &transportError{err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Revision: revision, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &transportError{err: fmt.Errorf("reading response body: %w", err)}
	}

	list, err := listPayload(body)
	if err != nil {
		return nil, fmt.Errorf("revision %d: %w (body: %s)", revision, err, preview(body))
	}
	return list, nil
}

func (s *SLDCClient) record(outcome string) {
	if s.recorder != nil {
		s.recorder.FetchAttempt(outcome)
	}
}

type transportError struct{ err error }

func (e *transportError) Error() string { return "request failed: " + e.err.Error() }
func (e *transportError) Unwrap() error { return e.err }

func outcomeOf(err error) string {
	var se *StatusError
	var te *transportError
	switch {
	case errors.As(err, &se):
		return OutcomeStatus
	case errors.As(err, &te):
		return OutcomeTransport
	default:
		return OutcomeMalformed
	}
}

// listPayload returns body when it is a JSON list. A body that is a JSON
// string holding a JSON list (double-encoded) is unwrapped once.
func listPayload(body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("invalid JSON: %w", ErrNotList)
	}

	res := gjson.ParseBytes(body)
	if res.IsArray() {
		return body, nil
	}

	if res.Type == gjson.String {
		inner := []byte(strings.TrimSpace(res.Str))
		if gjson.ValidBytes(inner) && gjson.ParseBytes(inner).IsArray() {
			return inner, nil
		}
	}
	return nil, ErrNotList
}

func preview(body []byte) string {
	const limit = 200
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
