package testutils

import (
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
)

// NewTestLogger returns a debug-level logger. Output goes to stderr with
// -v and is discarded otherwise; background goroutines may outlive t, so the
// logger never writes through t.Log.
func NewTestLogger(t testing.TB) *logrus.Logger {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	if testing.Verbose() {
		logger.SetOutput(os.Stderr)
	} else {
		logger.SetOutput(io.Discard)
	}
	return logger
}
