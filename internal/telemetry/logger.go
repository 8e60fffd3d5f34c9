package telemetry

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// LoggerConfig selects level and output format for NewLogger.
type LoggerConfig struct {
	Level  string
	Format string
	Output io.Writer
}

// NewLogger builds the process logger. Format "text" is meant for
// interactive CLI use; anything else emits JSON lines.
func NewLogger(cfg LoggerConfig) *logrus.Logger {
	logger := logrus.New()

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	logger.SetOutput(out)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "ts",
				logrus.FieldKeyMsg:  "msg",
			},
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

// Discard returns a logger that drops everything. Useful as a default when a
// component is built without one.
func Discard() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
