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

/*
Package timer implements countdown software timers driven by a fixed-rate
tick. A timer counts ticks: positive while running, 0 when it just ran out,
-1 when inactive. Expired reports the 0 state and consumes it, so each
Start produces at most one Expired() == true.
*/
package timer

import "time"

const inactive = -1

// Timer is a single countdown timer. The zero value reads as just
// expired (count 0), call Stop or Start before first use.
type Timer struct {
	count int32
}

// Wheel groups timers ticking at a common rate.
type Wheel struct {
	hz     uint32
	timers []*Timer
}

// NewWheel creates a Wheel whose Tick is expected hz times per second
func NewWheel(hz uint32) *Wheel {
	return &Wheel{hz: hz}
}

// NewTimer registers and returns a new inactive timer
func (w *Wheel) NewTimer() *Timer {
	t := &Timer{count: inactive}
	w.timers = append(w.timers, t)
	return t
}

// Start arms t to expire after d. Durations shorter than one tick still
// take a full tick.
func (w *Wheel) Start(t *Timer, d time.Duration) {
	ticks := int32(d.Milliseconds() * int64(w.hz) / 1000)
	if ticks < 1 {
		ticks = 1
	}
	t.count = ticks
}

// Stop deactivates t, a pending expiration is discarded
func (t *Timer) Stop() {
	t.count = inactive
}

// Running reports whether t is counting down
func (t *Timer) Running() bool {
	return t.count > 0
}

// Expired reports whether t has run out since the last call. The check
// consumes the expiration: true is returned at most once per Start, and
// not at all if Stop comes first.
func (t *Timer) Expired() bool {
	if t.count == 0 {
		t.count = inactive
		return true
	}
	return false
}

// Tick advances the wheel by one tick, decrementing every running timer
// and clamping at 0. Expiration handlers run from the caller, after Tick
// returns.
func (w *Wheel) Tick() {
	for _, t := range w.timers {
		if t.count > 0 {
			t.count--
		}
	}
}
