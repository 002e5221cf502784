package common

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// testWriter sends log lines to t.Log so that they only show for failed or
// verbose tests.
type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(d []byte) (int, error) {
	w.t.Helper()
	w.t.Log(strings.TrimRight(string(d), "\n"))
	return len(d), nil
}

// NewTestLogger returns a logrus Logger that writes through t.Log, formatted
// like the node's console output without colors or timestamps.
func NewTestLogger(t testing.TB, level logrus.Level) *logrus.Logger {
	logger := logrus.New()
	logger.Out = testWriter{t: t}
	logger.Level = level
	logger.Formatter = &prefixed.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	}
	return logger
}

// NewTestEntry is a shortcut for tests that only need an Entry.
func NewTestEntry(t testing.TB, level logrus.Level) *logrus.Entry {
	return logrus.NewEntry(NewTestLogger(t, level)).WithField("prefix", "test")
}
