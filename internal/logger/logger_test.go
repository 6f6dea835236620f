package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jgoulah/drawalscraper/internal/config"
)

func TestConfigureJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(config.LoggingConfig{Level: "info", Format: "json"}, &buf))

	l := New("fetcher")
	l.Debug().Msg("hidden")
	l.Info().Int("revision", 9).Msg("got data")

	var line map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line))
	assert.Equal(t, "fetcher", line["component"])
	assert.Equal(t, "got data", line["message"])
	assert.EqualValues(t, 9, line["revision"])
}

func TestConfigureConsole(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Configure(config.LoggingConfig{Level: "debug", Format: "console"}, &buf))

	l := New("ingest")
	l.Debug().Str("date", "2025-01-01").Msg("processing")
	assert.Contains(t, buf.String(), "processing")
	assert.Contains(t, buf.String(), "date=2025-01-01")
}

func TestConfigureRejectsLevel(t *testing.T) {
	assert.Error(t, Configure(config.LoggingConfig{Level: "loud", Format: "json"}, &bytes.Buffer{}))
}
