package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderCounts(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	r.FetchAttempt("status")
	r.FetchAttempt("status")
	r.FetchAttempt("ok")
	r.Day(DayStored)
	r.Day(DayNoData)
	r.Stored(6, 96)
	r.Stored(9, 4)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.attempts.WithLabelValues("status")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.attempts.WithLabelValues("ok")))
	assert.Equal(t, 100.0, testutil.ToFloat64(r.records))
	assert.Equal(t, 9.0, testutil.ToFloat64(r.lastRevision))

	expected := `
# HELP drawal_days_total Days processed by result
# TYPE drawal_days_total counter
drawal_days_total{result="no_data"} 1
drawal_days_total{result="stored"} 1
`
	assert.NoError(t, testutil.CollectAndCompare(r.days, strings.NewReader(expected)))

	n, err := testutil.GatherAndCount(r.Registry(),
		"drawal_fetch_attempts_total", "drawal_days_total", "drawal_records_upserted_total", "drawal_last_success_revision")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestRecorderPush(t *testing.T) {
	var path, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		path = req.URL.Path
		b, _ := io.ReadAll(req.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r, err := NewRecorder()
	require.NoError(t, err)
	r.Day(DayStored)

	require.NoError(t, r.Push(srv.URL, "drawalscraper"))
	assert.Equal(t, "/metrics/job/drawalscraper", path)
	assert.NotEmpty(t, body)
}

func TestRecorderPushError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r, err := NewRecorder()
	require.NoError(t, err)
	assert.Error(t, r.Push(srv.URL, "drawalscraper"))
}
