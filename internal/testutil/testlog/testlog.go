package testlog

import (
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/danmuck/serialplot/internal/logging"
)

// Start returns a logger bound to t. Lines written after the test finishes
// are dropped.
func Start(t testing.TB) zerolog.Logger {
	t.Helper()
	w := &testWriter{t: t}
	t.Cleanup(w.stop)
	logger := logging.New(logging.FromEnv(logging.ProfileTest), w).With().Str("test", t.Name()).Logger()
	logger.Info().Msg("start")
	return logger
}

type testWriter struct {
	mu   sync.Mutex
	t    testing.TB
	done bool
}

func (w *testWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.done {
		w.t.Log(strings.TrimRight(string(p), "\n"))
	}
	return len(p), nil
}

func (w *testWriter) stop() {
	w.mu.Lock()
	w.done = true
	w.mu.Unlock()
}
