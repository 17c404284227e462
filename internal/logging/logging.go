package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// logger fields
const (
	COMPONENT    = "component"
	SESSION      = "session_id"
	CART_SESSION = "cart_session_id"
	SCHEDULE     = "schedule_id"
	ATTEMPT      = "attempt_number"
	ACTOR        = "actor"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// New builds the root logger. format "console" gives human readable output,
// anything else is JSON.
func New(level, format string) zerolog.Logger {
	var w io.Writer = os.Stdout
	if strings.EqualFold(format, "console") {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

func Component(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str(COMPONENT, name).Logger()
}
