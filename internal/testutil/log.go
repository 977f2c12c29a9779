package testutil

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Logger returns an entry that drops all output.
func Logger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return logrus.NewEntry(log)
}
