// Package logging configures zerolog for the CDX client and its commands.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug adds page-by-page iteration and cache detail.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs endpoint transitions and startup.
	LevelInfo LogLevel = "info"

	// LevelWarn logs retries and cache trouble.
	LevelWarn LogLevel = "warn"

	// LevelError logs failures surfaced to the caller.
	LevelError LogLevel = "error"

	// LevelDisabled silences all output.
	LevelDisabled LogLevel = "disabled"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	// Record output of the CLI goes to stdout, so logs stay off it.
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger. Packages derive their
// component loggers from it, so call Setup before creating clients.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(zerologLevel(cfg.Level))

	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ParseLevel validates a level name from flags or the environment.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "disabled", "off", "none":
		return LevelDisabled, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// zerologLevel maps a LogLevel to zerolog, defaulting to info.
func zerologLevel(level LogLevel) zerolog.Level {
	parsed, err := ParseLevel(string(level))
	if err != nil {
		return zerolog.InfoLevel
	}

	switch parsed {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	case LevelDisabled:
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug:
//   - Each request's query string and cache hit/miss
//   - Pages fetched by an iterator (endpoint, page, items)
//   - Endpoints skipped by a size estimate
//
// Info:
//   - Endpoint list resolved (source, window, count)
//   - An iterator moving on to the next endpoint
//   - Server startup/shutdown
//
// Warn:
//   - Retry attempts on 502/503/504 and connection failures
//   - Cache errors (the request still goes to the network)
//
// Error:
//   - Requests failing after classification or retries
//   - Iteration aborted by an error
//
// Context Fields:
//   - component: cdx-client, cdx-fetcher, cdx-iterator, cdx-resolver, cdx-ratelimit, cdx-proxy
//   - endpoint: index URL
//   - page: page number within an endpoint
//   - status: HTTP status code
//   - error_class: invalid_query, client, server, unavailable, network, transport
//   - attempt, backoff: retry progress
//   - remaining: records left in the result limit
