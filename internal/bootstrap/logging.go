package bootstrap

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogging sets the global zerolog logger. Console output is meant
// for terminals; otherwise one JSON object is written per line, which is what
// CloudWatch expects from Lambda.
func ConfigureLogging(level zerolog.Level, console bool) {
	zerolog.SetGlobalLevel(level)
	var w io.Writer = os.Stderr
	if console {
		w = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}
	log.Logger = zerolog.New(w).With().Timestamp().Logger()
}
