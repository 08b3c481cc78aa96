package testctl

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

var logger = newLogger(envStr("TESTCTL_LOG_LEVEL", "info"))

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).Level(lvl).With().Timestamp().Logger()
}

// SetLogLevel switches the tool's log level: debug|info|warn|error.
func SetLogLevel(level string) { logger = newLogger(level) }

func debug(format string, a ...any) { logger.Debug().Msg(fmt.Sprintf(format, a...)) }
func info(format string, a ...any)  { logger.Info().Msg(fmt.Sprintf(format, a...)) }
func warn(format string, a ...any)  { logger.Warn().Msg(fmt.Sprintf(format, a...)) }

// Env helpers
func envStr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n
		}
	}
	return def
}
