// Package logger builds the component-tagged zerolog loggers used for status output.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/jgoulah/drawalscraper/internal/config"
)

var (
	mu   sync.RWMutex
	base = newBase(os.Stdout, "console")
)

// Configure replaces the root logger. APP_ENV=prod forces JSON output.
func Configure(cfg config.LoggingConfig, out io.Writer) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}
	format := cfg.Format
	if strings.EqualFold(os.Getenv("APP_ENV"), "prod") {
		format = "json"
	}

	mu.Lock()
	defer mu.Unlock()
	base = newBase(out, format).Level(level)
	return nil
}

// New returns a logger for the given component
func New(component string) zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base.With().Str("component", component).Logger()
}

func newBase(out io.Writer, format string) zerolog.Logger {
	if format == "json" {
		return zerolog.New(out).With().Timestamp().Logger()
	}
	writer := zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime, NoColor: !isTerminal(out)}
	return zerolog.New(writer).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
