// Package diag provides the three-stream logging triad used across this
// repository: ops (actionable warnings, data loss), diag (day-to-day
// tuning/diagnostic context), and trace (high-frequency per-point/per-block
// telemetry). Each stream can be independently enabled or disabled so a
// production deployment can run with ops+diag only, while a bench session
// can turn trace on without recompiling.
//
// Unlike the single-pipeline-goroutine package this triad is modeled on,
// diag is called concurrently from the transport broadcast loop, the
// ingest dispatch path, and the periodic mesh/publish timers, so the
// logger pointers are guarded by a mutex rather than written once at
// startup and read unsynchronized. See throttle.go for the rate-limiting
// and fatal-invariant helpers layered on top of the triad.
package diag

import (
	"io"
	"log"
	"sync"
)

var (
	mu          sync.Mutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetWriters configures the three logging streams. Pass nil for any writer
// to disable that stream.
func SetWriters(ops, diagw, trace io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	opsLogger = newLogger("[fusion] ", ops)
	diagLogger = newLogger("[fusion] ", diagw)
	traceLogger = newLogger("[fusion] ", trace)
}

// SetLegacyWriter routes all three streams to a single writer. Pass nil to
// disable all logging.
func SetLegacyWriter(w io.Writer) {
	SetWriters(w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream.
func Opsf(format string, args ...interface{}) {
	mu.Lock()
	l := opsLogger
	mu.Unlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream.
func Diagf(format string, args ...interface{}) {
	mu.Lock()
	l := diagLogger
	mu.Unlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream.
func Tracef(format string, args ...interface{}) {
	mu.Lock()
	l := traceLogger
	mu.Unlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
