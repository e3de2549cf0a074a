package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Setup returns the process logger. Debug switches to human readable console
// output, with colours controlled by colors.
func Setup(debug, colors bool) zerolog.Logger {
	return New(os.Stderr, debug, colors)
}

func New(out io.Writer, debug, colors bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()

	if debug {
		logger = logger.Output(zerolog.ConsoleWriter{
			Out:     out,
			NoColor: !colors,
			FormatTimestamp: func(i any) string {
				return time.Now().Format(time.RFC3339)
			},
		}).Level(level).With().Caller().Logger()
	}

	return logger
}
