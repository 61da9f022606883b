package diag

import (
	"fmt"
	"sync"
	"time"
)

// This file holds the two additions the triad in diag.go never needed:
// rate-limiting a message that would otherwise fire on every ingested
// message (a stuck transform lookup, a full client queue), and a single
// well-marked way to crash on a programming-invariant violation instead
// of letting a nil pointer or an out-of-range index panic somewhere
// less legible.

// throttler gates repeated ops-stream messages sharing the same key so a
// sustained failure (e.g. transform lookups failing every frame) produces
// one line per interval instead of flooding the log.
type throttler struct {
	mu   sync.Mutex
	last map[string]time.Time
}

var throttle = &throttler{last: make(map[string]time.Time)}

// Throttle reports whether a message under key should fire now, given it
// last fired more than every ago (or never). It's meant to gate a call to
// Opsf: `if diag.Throttle("xform-lookup", 5*time.Second) { diag.Opsf(...) }`.
func Throttle(key string, every time.Duration) bool {
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	now := time.Now()
	if last, ok := throttle.last[key]; ok && now.Sub(last) < every {
		return false
	}
	throttle.last[key] = now
	return true
}

// OpsThrottled logs to the ops stream at most once per every for a given
// key. ingest's drain loop and transport's broadcast loop both use this
// for per-client/per-frame drop messages that would otherwise repeat on
// every message.
func OpsThrottled(key string, every time.Duration, format string, args ...interface{}) {
	if Throttle(key, every) {
		Opsf(format, args...)
	}
}

// Fatal panics with a formatted message. Reserved for programming-invariant
// violations per the error-handling taxonomy (points/colors length
// mismatch, etc.) — the only case in this codebase where a local check is
// allowed to crash the process.
func Fatal(format string, args ...interface{}) {
	panic(fmt.Sprintf(format, args...))
}
