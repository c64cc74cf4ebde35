package cmn

import (
	"time"

	"github.com/duskforge/opcuacore/cmn/mono"
)

// Clock is the host-injected time source (spec.md §6: "Clock {
// monotonic_now() -> Instant; utc_now() -> DateTime100ns }"), letting tests
// substitute a deterministic clock without touching the core's logic.
type Clock interface {
	MonotonicNow() int64
	UTCNow100ns() int64
}

// SystemClock is the default Clock, backed by cmn/mono.
type SystemClock struct{}

func (SystemClock) MonotonicNow() int64 { return mono.NanoTime() }
func (SystemClock) UTCNow100ns() int64  { return mono.UTCNow100ns() }

var _ Clock = SystemClock{}

// Logger is the host-injected logging sink (spec.md §6 "Logger"), matched
// to cmn/nlog's severity-tagged writer shape so a host can either use
// cmn/nlog directly or adapt its own logging framework.
type Logger interface {
	Infof(format string, args ...any)
	Warningf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Now is a convenience wrapping time.Now for code that only needs wall time
// comparisons (session timeouts, deadline wheels) and doesn't need the
// Clock interface's monotonic/100ns distinction.
func Now() time.Time { return time.Now() }
