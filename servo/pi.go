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

package servo

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/opentimelab/ptpoc/clock"
)

const (
	// MaxFreqAdj clamps the integral term, in ns per update
	MaxFreqAdj = 500000
	// StepThresholdNs is the offset beyond which we stop slewing and
	// step the clock
	StepThresholdNs = 10000000 // 10ms
)

// PiServo computes offsetFromMaster and meanPathDelay from the Sync and
// Delay_Req exchanges, smooths them, and disciplines the local clock.
//
// The gains are integer-arithmetic approximations: P = 1/2 and I = 1/8 as
// shifts on a signed 32-bit nanosecond offset. This is a deliberate
// fixed-point choice, every offset that survives the step threshold fits
// int32 with room for the clamped integral term.
type PiServo struct {
	clk clock.Clock

	offsetFromMaster clock.Time
	meanPathDelay    clock.Time
	observedDrift    int32

	ofmFilter Filter
	mpdFilter Filter

	// last Sync exchange, cached for the path delay calculation
	t1 clock.Time // sync egress at master
	t2 clock.Time // sync ingress here
	t3 clock.Time // delay_req egress here
}

// NewPiServo creates a servo steering clk
func NewPiServo(clk clock.Clock) *PiServo {
	s := &PiServo{clk: clk}
	s.Init()
	return s
}

// Init zeroes all filter and controller state. Called on creation, on
// entering UNCALIBRATED and after every hard step.
func (s *PiServo) Init() {
	s.offsetFromMaster = clock.Time{}
	s.meanPathDelay = clock.Time{}
	s.observedDrift = 0
	s.ofmFilter.Reset()
	s.mpdFilter.Reset()
	s.t1 = clock.Time{}
	s.t2 = clock.Time{}
	s.t3 = clock.Time{}
}

// OffsetFromMaster returns the current filtered offset estimate
func (s *PiServo) OffsetFromMaster() clock.Time {
	return s.offsetFromMaster
}

// MeanPathDelay returns the current filtered path delay estimate
func (s *PiServo) MeanPathDelay() clock.Time {
	return s.meanPathDelay
}

// ObservedDrift returns the accumulated integral term
func (s *PiServo) ObservedDrift() int32 {
	return s.observedDrift
}

// UpdateOffset ingests a completed Sync measurement: t2 is the local
// ingress time, t1 the master's (precise) origin timestamp.
// offset = (t2 - t1) - meanPathDelay. Sub-second offsets go through the
// smoothing filter, anything with whole seconds means the clock jumped
// and resets it.
func (s *PiServo) UpdateOffset(t2, t1 clock.Time) {
	s.t1 = t1
	s.t2 = t2
	ofm := t2.Sub(t1).Sub(s.meanPathDelay)
	if ofm.Sec == 0 {
		s.offsetFromMaster = clock.Time{Nsec: s.ofmFilter.Sample(ofm.Nsec)}
	} else {
		s.offsetFromMaster = ofm
		s.ofmFilter.Reset()
	}
	log.Debugf("offset from master: %s (raw %s)", s.offsetFromMaster, ofm)
}

// UpdateDelay ingests a completed Delay_Req measurement: t3 is the local
// egress time, t4 the master's ingress timestamp from Delay_Resp.
// meanPathDelay = ((t2 - t1) + (t4 - t3)) / 2 using the cached Sync pair.
func (s *PiServo) UpdateDelay(t3, t4 clock.Time) {
	s.t3 = t3
	tms := s.t2.Sub(s.t1)
	tsm := t4.Sub(t3)
	mpd := tms.Add(tsm).Half()
	if mpd.Sec == 0 {
		s.meanPathDelay = clock.Time{Nsec: s.mpdFilter.Sample(mpd.Nsec)}
	} else {
		s.meanPathDelay = mpd
		s.mpdFilter.Reset()
	}
	log.Debugf("mean path delay: %s (raw %s)", s.meanPathDelay, mpd)
}

// UpdateClock applies the controller to the current offset estimate.
// Offsets beyond the step threshold reset the clock and the servo,
// everything else is slewed: drift += offset/8 (clamped), adjustment =
// offset/2 + drift, applied with inverted sign.
func (s *PiServo) UpdateClock() (State, error) {
	ofm := s.offsetFromMaster
	if ofm.Sec != 0 || abs32(ofm.Nsec) > StepThresholdNs {
		target := s.clk.Now().Sub(ofm)
		if err := s.clk.Set(target); err != nil {
			return StateInit, fmt.Errorf("stepping clock by %s: %w", ofm.Neg(), err)
		}
		log.Warningf("clock stepped by %s", ofm.Neg())
		s.Init()
		return StateJump, nil
	}

	offset := ofm.Nsec
	s.observedDrift += offset / 8
	if s.observedDrift > MaxFreqAdj {
		s.observedDrift = MaxFreqAdj
	} else if s.observedDrift < -MaxFreqAdj {
		s.observedDrift = -MaxFreqAdj
	}
	adj := offset/2 + s.observedDrift
	if err := s.clk.Adj(-adj); err != nil {
		return StateInit, fmt.Errorf("slewing clock by %dns: %w", -adj, err)
	}
	return StateLocked, nil
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
