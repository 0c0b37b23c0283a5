// Package obslog is the process-wide progress reporter installed once at
// startup: write-only from any thread, plain stdlib log.Logger (see
// DESIGN.md for why no third-party structured logging library is wired in).
package obslog

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"
)

var (
	mu      sync.Mutex
	logger  = log.New(os.Stderr, "", log.LstdFlags)
	started = time.Now()
)

// SetOutput redirects future log lines, e.g. to a run's log file in
// addition to stderr via io.MultiWriter.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	logger = log.New(w, "", log.LstdFlags)
}

// Pass logs one line tagged with the emitting pass's name, in a
// "[pass] message" format.
func Pass(pass, format string, args ...interface{}) {
	mu.Lock()
	defer mu.Unlock()
	logger.Printf("[%s] %s", pass, fmt.Sprintf(format, args...))
}

// Progress logs a percent-complete update for a long-running pass.
func Progress(pass string, done, total int64) {
	pct := 0.0
	if total > 0 {
		pct = 100 * float64(done) / float64(total)
	}
	Pass(pass, "progress %d/%d (%.1f%%)", done, total, pct)
}

// Elapsed returns the duration since process start.
func Elapsed() time.Duration {
	return time.Since(started)
}
