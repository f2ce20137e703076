/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package clock

import (
	"fmt"
	"time"
)

// Clock is what the protocol engine and the servo need from local time:
// read it, step it, slew it.
type Clock interface {
	// Now returns current time. Monotonic between Set calls.
	Now() Time
	// Set steps the clock to t, discarding any accumulated slew.
	Set(t Time) error
	// Adj slews the clock by deltaNs nanoseconds. Subsequent Now calls
	// incorporate the delta.
	Adj(deltaNs int32) error
}

// Counter is a free-running monotonic tick source with a known rate.
type Counter interface {
	// Ticks returns the number of ticks since start or last Reset
	Ticks() uint64
	// Reset restarts the counter from zero
	Reset()
	// Hz returns counter rate in ticks per second
	Hz() uint64
}

// TickClock is a software clock on top of a free-running Counter:
// current time is the base written by the last Set, plus elapsed ticks,
// plus the software offset accumulated by Adj.
type TickClock struct {
	ctr    Counter
	base   Time
	offset int64 // ns
}

// NewTickClock creates a TickClock over ctr starting at base
func NewTickClock(ctr Counter, base Time) *TickClock {
	ctr.Reset()
	return &TickClock{ctr: ctr, base: base}
}

// Now implements Clock
func (c *TickClock) Now() Time {
	ticks := c.ctr.Ticks()
	hz := c.ctr.Hz()
	elapsed := Time{
		Sec:  int64(ticks / hz),
		Nsec: int32(ticks % hz * uint64(nsecPerSec) / hz),
	}
	return c.base.Add(elapsed).Add(FromNanoseconds(c.offset))
}

// Set implements Clock. The counter restarts from zero and the software
// offset is discarded, this is a hard step.
func (c *TickClock) Set(t Time) error {
	c.ctr.Reset()
	c.base = t
	c.offset = 0
	return nil
}

// Adj implements Clock
func (c *TickClock) Adj(deltaNs int32) error {
	c.offset += int64(deltaNs)
	return nil
}

// monotonicCounter counts nanoseconds of the Go runtime monotonic clock.
// A single time.Since read is coherent, so no high/low word retry dance
// is needed here, unlike a real 2x32-bit hardware counter.
type monotonicCounter struct {
	start time.Time
}

// NewMonotonicCounter returns a 1GHz Counter backed by the runtime
// monotonic clock.
func NewMonotonicCounter() Counter {
	return &monotonicCounter{start: time.Now()}
}

func (c *monotonicCounter) Ticks() uint64 {
	return uint64(time.Since(c.start).Nanoseconds())
}

func (c *monotonicCounter) Reset() {
	c.start = time.Now()
}

func (c *monotonicCounter) Hz() uint64 {
	return uint64(nsecPerSec)
}

// ManualCounter is a Counter advanced by hand, for tests and simulations.
type ManualCounter struct {
	ticks uint64
	hz    uint64
}

// NewManualCounter returns a ManualCounter running at hz
func NewManualCounter(hz uint64) *ManualCounter {
	return &ManualCounter{hz: hz}
}

// Advance moves the counter forward by n ticks
func (c *ManualCounter) Advance(n uint64) {
	c.ticks += n
}

// Ticks implements Counter
func (c *ManualCounter) Ticks() uint64 { return c.ticks }

// Reset implements Counter
func (c *ManualCounter) Reset() { c.ticks = 0 }

// Hz implements Counter
func (c *ManualCounter) Hz() uint64 { return c.hz }

func (c *ManualCounter) String() string {
	return fmt.Sprintf("ManualCounter(%d ticks @ %dHz)", c.ticks, c.hz)
}
