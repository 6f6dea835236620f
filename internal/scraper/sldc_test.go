package scraper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/drawalscraper/internal/config"
)

const wellFormed = `[{"TimeBlock":"1","TimeDesc":"00:00-00:15","DISCOM_A":"12.5","Total":"12.5"}]`

type reply struct {
	status int
	body   string
}

type outcomeLog struct {
	mu       sync.Mutex
	outcomes []string
}

func (o *outcomeLog) FetchAttempt(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
}

// scriptedServer answers each revision from replies and records the order asked
func scriptedServer(t *testing.T, replies map[int]reply) (*httptest.Server, *[]int) {
	t.Helper()
	var asked []int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		rev, err := strconv.Atoi(r.PostForm.Get("sldcrevision"))
		if err != nil {
			t.Errorf("bad revision %q", r.PostForm.Get("sldcrevision"))
		}
		mu.Lock()
		asked = append(asked, rev)
		mu.Unlock()

		rep, ok := replies[rev]
		if !ok {
			rep = reply{status: http.StatusInternalServerError}
		}
		w.WriteHeader(rep.status)
		_, _ = io.WriteString(w, rep.body)
	}))
	t.Cleanup(srv.Close)
	return srv, &asked
}

func newTestClient(url string, opts ...Option) *SLDCClient {
	cfg := config.Default().Source
	cfg.URL = url
	return NewSLDCClient(cfg, opts...)
}

func TestFetchFallsBackToFirstWellFormedRevision(t *testing.T) {
	srv, asked := scriptedServer(t, map[int]reply{
		9: {status: 500},
		8: {status: 500},
		7: {status: 200, body: `{"message":"no schedule"}`},
		6: {status: 200, body: wellFormed},
		5: {status: 200, body: wellFormed},
	})
	rec := &outcomeLog{}
	client := newTestClient(srv.URL, WithRecorder(rec))

	date := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	payload, err := client.Fetch(context.Background(), date)
	require.NoError(t, err)

	assert.Equal(t, 6, payload.Revision)
	assert.Equal(t, date, payload.Date)
	assert.JSONEq(t, wellFormed, string(payload.Body))
	assert.Equal(t, []int{9, 8, 7, 6}, *asked)
	assert.Equal(t, []string{OutcomeStatus, OutcomeStatus, OutcomeMalformed, OutcomeOK}, rec.outcomes)
}

func TestFetchExhaustedRevisions(t *testing.T) {
	srv, asked := scriptedServer(t, nil)
	client := newTestClient(srv.URL)

	payload, err := client.Fetch(context.Background(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.Nil(t, payload)
	assert.ErrorIs(t, err, ErrNoData)
	assert.Equal(t, []int{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, *asked)
}

func TestFetchSendsReportForm(t *testing.T) {
	var got *http.Request
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		got = r
		form = map[string]string{}
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}
		_, _ = io.WriteString(w, wellFormed)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Fetch(context.Background(), time.Date(2025, 3, 7, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, got.Method)
	assert.Equal(t, map[string]string{
		"fromDate":     "03/07/2025",
		"sldcrevision": "9",
		"formate":      "M/d/yyyy",
		"type":         "5",
		"entityid":     "-1",
		"customertype": "3",
	}, form)
	assert.Equal(t, "XMLHttpRequest", got.Header.Get("X-Requested-With"))
	assert.Equal(t, "https://uksldc.com/ViewReportSchedule/Index/GetNetSchedule", got.Header.Get("Referer"))
	assert.Contains(t, got.Header.Get("Accept"), "application/json")
	assert.Contains(t, got.Header.Get("User-Agent"), "Mozilla/5.0")
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestFetchTransportFailureTriesNextRevision(t *testing.T) {
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if err := r.ParseForm(); err != nil {
			return nil, err
		}
		if r.PostForm.Get("sldcrevision") == "9" {
			return nil, errors.New("connection reset by peer")
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(wellFormed)),
			Header:     http.Header{},
			Request:    r,
		}, nil
	})
	rec := &outcomeLog{}
	client := newTestClient("http://sldc.invalid/GetDiscomData",
		WithHTTPClient(&http.Client{Transport: transport}), WithRecorder(rec))

	payload, err := client.Fetch(context.Background(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 8, payload.Revision)
	assert.Equal(t, []string{OutcomeTransport, OutcomeOK}, rec.outcomes)
}

func TestFetchUnwrapsDoubleEncodedList(t *testing.T) {
	srv, _ := scriptedServer(t, map[int]reply{
		9: {status: 200, body: strconv.Quote(wellFormed)},
	})
	client := newTestClient(srv.URL)

	payload, err := client.Fetch(context.Background(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 9, payload.Revision)
	assert.JSONEq(t, wellFormed, string(payload.Body))
}

func TestFetchSkipsInvalidJSON(t *testing.T) {
	srv, asked := scriptedServer(t, map[int]reply{
		9: {status: 200, body: "<html>maintenance</html>"},
		8: {status: 200, body: `"not a list"`},
		7: {status: 200, body: "[]"},
	})
	client := newTestClient(srv.URL)

	payload, err := client.Fetch(context.Background(), time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 7, payload.Revision)
	assert.Equal(t, []int{9, 8, 7}, *asked)
}

func TestFetchStopsOnCanceledContext(t *testing.T) {
	srv, asked := scriptedServer(t, nil)
	client := newTestClient(srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Fetch(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrNoData)
	assert.Empty(t, *asked)
}

func TestFetchCancelDuringRetryDelay(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var asked int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		asked++
		mu.Unlock()
		time.AfterFunc(20*time.Millisecond, cancel)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := config.Default().Source
	cfg.URL = srv.URL
	cfg.RetryDelayMS = 10_000
	client := NewSLDCClient(cfg)

	start := time.Now()
	_, err := client.Fetch(ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, asked)
}

func TestParseRevisions(t *testing.T) {
	cases := []struct {
		in   string
		want RevisionPlan
		err  bool
	}{
		{"9..0", RevisionPlan{9, 8, 7, 6, 5, 4, 3, 2, 1, 0}, false},
		{"3..3", RevisionPlan{3}, false},
		{"9,7,3", RevisionPlan{9, 7, 3}, false},
		{"0..9", nil, true},
		{"a..0", nil, true},
		{"9,x", nil, true},
		{"-1", nil, true},
	}
	for _, c := range cases {
		got, err := ParseRevisions(c.in)
		if c.err {
			assert.Error(t, err, c.in)
			continue
		}
		require.NoError(t, err, c.in)
		assert.Equal(t, c.want, got, c.in)
	}
}

func TestFormatDate(t *testing.T) {
	assert.Equal(t, "01/05/2025", FormatDate(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "12/31/2024", FormatDate(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
}
