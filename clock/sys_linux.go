//go:build linux && !386

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
	"unsafe"

	"golang.org/x/sys/unix"
)

// clock_adjtime modes from usr/include/linux/timex.h
const (
	// time offset
	adjOffset uint32 = 0x0001
	// add 'time' to current time
	adjSetOffset uint32 = 0x0100
	// select nanosecond resolution
	adjNano uint32 = 0x2000
)

// Adjtime issues CLOCK_ADJTIME syscall to either adjust the parameters of given clock,
// or read them if buf is empty.  man(2) clock_adjtime
func Adjtime(clockid int32, buf *unix.Timex) (state int, err error) {
	r0, _, errno := unix.Syscall(unix.SYS_CLOCK_ADJTIME, uintptr(clockid), uintptr(unsafe.Pointer(buf)), 0)
	state = int(r0)
	if errno != 0 {
		err = errno
	}
	return state, err
}

// SysClock disciplines CLOCK_REALTIME through clock_adjtime. Steps go in
// via ADJ_SETOFFSET, slews via the kernel phase adjustment.
type SysClock struct{}

// NewSysClock returns a Clock driving the system realtime clock
func NewSysClock() *SysClock {
	return &SysClock{}
}

// Now implements Clock
func (c *SysClock) Now() Time {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_REALTIME, &ts); err != nil {
		return Time{}
	}
	return Time{Sec: ts.Sec, Nsec: int32(ts.Nsec)}
}

// Set implements Clock: the delta between t and the current time is
// applied atomically via ADJ_SETOFFSET.
func (c *SysClock) Set(t Time) error {
	delta := t.Sub(c.Now())
	tx := &unix.Timex{}
	tx.Modes = adjSetOffset | adjNano
	tx.Time.Sec = delta.Sec
	tx.Time.Usec = int64(delta.Nsec)
	// the value of a timeval is the sum of its fields, but the
	// field tv_usec must always be non-negative
	if tx.Time.Usec < 0 {
		tx.Time.Sec--
		tx.Time.Usec += int64(nsecPerSec)
	}
	_, err := Adjtime(unix.CLOCK_REALTIME, tx)
	return err
}

// Adj implements Clock: the kernel slews the phase by deltaNs.
func (c *SysClock) Adj(deltaNs int32) error {
	tx := &unix.Timex{}
	tx.Modes = adjOffset | adjNano
	tx.Offset = int64(deltaNs)
	_, err := Adjtime(unix.CLOCK_REALTIME, tx)
	return err
}
