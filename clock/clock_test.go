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
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickClockNow(t *testing.T) {
	ctr := NewManualCounter(1000) // 1kHz, 1 tick = 1ms
	c := NewTickClock(ctr, Time{Sec: 100})

	require.Equal(t, Time{Sec: 100}, c.Now())

	ctr.Advance(1500)
	require.Equal(t, Time{Sec: 101, Nsec: 500000000}, c.Now())
}

func TestTickClockSet(t *testing.T) {
	ctr := NewManualCounter(1000)
	c := NewTickClock(ctr, Time{})
	ctr.Advance(250)
	require.NoError(t, c.Adj(1000))

	require.NoError(t, c.Set(Time{Sec: 42}))
	// counter restarted, software offset gone
	require.Equal(t, Time{Sec: 42}, c.Now())
	ctr.Advance(1000)
	require.Equal(t, Time{Sec: 43}, c.Now())
}

func TestTickClockAdj(t *testing.T) {
	ctr := NewManualCounter(1000)
	c := NewTickClock(ctr, Time{Sec: 10})

	require.NoError(t, c.Adj(-300))
	require.Equal(t, Time{Sec: 9, Nsec: 999999700}, c.Now())
	// adjustments accumulate
	require.NoError(t, c.Adj(500))
	require.Equal(t, Time{Sec: 10, Nsec: 200}, c.Now())
}

func TestTickClockMonotonic(t *testing.T) {
	ctr := NewManualCounter(1000000000)
	c := NewTickClock(ctr, Time{Sec: 5})
	prev := c.Now()
	for i := 0; i < 100; i++ {
		ctr.Advance(7)
		now := c.Now()
		require.True(t, now.Sub(prev).Nanoseconds() > 0, "clock went backwards: %v -> %v", prev, now)
		prev = now
	}
}

func TestMonotonicCounter(t *testing.T) {
	ctr := NewMonotonicCounter()
	require.Equal(t, uint64(1000000000), ctr.Hz())
	a := ctr.Ticks()
	b := ctr.Ticks()
	require.GreaterOrEqual(t, b, a)
}
