// Package mono provides a monotonic clock wrapper satisfying the `Clock`
// dependency interface described in the toolkit's external interfaces: a
// nanosecond-resolution monotonic instant for deadlines/timers, and a
// UTC wall-clock reading in OPC UA's 100ns-tick DateTime unit.
/*
 * Copyright (c) 2024, opcuacore contributors.
 */
package mono

import "time"

// NanoTime returns a monotonic nanosecond reading. Only deltas between two
// NanoTime() calls are meaningful; the absolute value carries no wall-clock
// significance.
func NanoTime() int64 { return int64(time.Since(startTime)) }

// startTime anchors NanoTime; time.Since reads its monotonic clock component.
var startTime = time.Now()

// Since returns the elapsed duration since a NanoTime() reading.
func Since(start int64) time.Duration { return time.Duration(NanoTime() - start) }

// UTCNow100ns returns the current wall-clock time in OPC UA's DateTime unit:
// 100ns ticks since 1601-01-01T00:00:00Z.
func UTCNow100ns() int64 {
	return time.Since(epoch1601).Nanoseconds() / 100
}

var epoch1601 = time.Date(1601, time.January, 1, 0, 0, 0, 0, time.UTC)
