package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// New returns a logrus logger configured for the CLI. format is "text" or
// "json"; when filePath is set the output is tee'd to that file.
func New(level, format, filePath string) (*logrus.Logger, error) {
	lvl, err := logrus.ParseLevel(defaultString(level, "info"))
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	log := logrus.New()
	log.SetLevel(lvl)

	switch strings.ToLower(format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: time.RFC3339,
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unsupported log format %q", format)
	}

	log.SetOutput(os.Stderr)
	if filePath != "" {
		if file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			log.SetOutput(io.MultiWriter(os.Stderr, file))
		} else {
			log.WithError(err).Error("Could not create file for logging")
		}
	}
	return log, nil
}

// Discard returns an entry that drops everything, for tests and library use.
func Discard() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
