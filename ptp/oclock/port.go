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

package oclock

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	log "github.com/sirupsen/logrus"

	"github.com/opentimelab/ptpoc/clock"
	"github.com/opentimelab/ptpoc/ptp/bmc"
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
	"github.com/opentimelab/ptpoc/servo"
	"github.com/opentimelab/ptpoc/timer"
)

// calibrationOffsetNs promotes UNCALIBRATED to SLAVE once the filtered
// offset gets below it
const calibrationOffsetNs = 1000 // 1us

// logMsgIntervalReserved goes into messages that don't advertise an
// interval, Table 24
const logMsgIntervalReserved ptp.LogInterval = 0x7f

// Transport is what the port needs from the network: fire payload bytes
// at the right multicast destination
type Transport interface {
	SendEvent([]byte) error
	SendGeneral([]byte) error
}

// Port is a single-port PTP ordinary clock: state machine, BMC
// bookkeeping and servo integration. All methods run on one goroutine,
// the Run loop.
type Port struct {
	cfg     *Config
	clockID ptp.ClockIdentity
	clk     clock.Clock
	tr      Transport
	srv     *servo.PiServo
	stats   *Stats

	defaultDS        DefaultDS
	portDS           PortDS
	parentDS         ParentDS
	timePropertiesDS TimePropertiesDS
	currentDS        CurrentDS

	foreign          bmc.ForeignMasterTable
	recommendedState ptp.PortState

	wheel                 *timer.Wheel
	announceIntervalTimer *timer.Timer
	syncIntervalTimer     *timer.Timer
	delayReqIntervalTimer *timer.Timer
	announceReceiptTimer  *timer.Timer

	announceSeq uint16
	syncSeq     uint16
	delayReqSeq uint16

	// slave-side bookkeeping of the in-flight exchanges
	waitingForFollowUp bool
	lastSyncHeader     ptp.Header
	syncReceiveTime    clock.Time // T2
	delayReqSendTime   clock.Time // T3
	sentDelayReqSeq    uint16

	txBuf [ptp.HeaderSize + 30 + ptp.TrailingBytes]byte
}

// New creates a Port and runs it through INITIALIZING into LISTENING
func New(cfg *Config, clockID ptp.ClockIdentity, clk clock.Clock, tr Transport, stats *Stats) *Port {
	p := &Port{
		cfg:     cfg,
		clockID: clockID,
		clk:     clk,
		tr:      tr,
		srv:     servo.NewPiServo(clk),
		stats:   stats,
	}
	p.toState(ptp.PortStateInitializing)
	return p
}

// State returns the current port state
func (p *Port) State() ptp.PortState {
	return p.portDS.PortState
}

// OffsetFromMaster returns the servo's current offset estimate
func (p *Port) OffsetFromMaster() clock.Time {
	return p.srv.OffsetFromMaster()
}

// MeanPathDelay returns the servo's current path delay estimate
func (p *Port) MeanPathDelay() clock.Time {
	return p.srv.MeanPathDelay()
}

// StepsRemoved returns the number of hops to the current grandmaster
func (p *Port) StepsRemoved() uint16 {
	return p.currentDS.StepsRemoved
}

func (p *Port) initData() {
	p.defaultDS = newDefaultDS(p.cfg, p.clockID)
	p.portDS = newPortDS(p.cfg, p.clockID)
	p.parentDS = ParentDS{}
	p.timePropertiesDS = TimePropertiesDS{
		CurrentUTCOffset: p.cfg.CurrentUTCOffset,
		PTPTimescale:     true,
		TimeSource:       ptp.TimeSourceInternalOscillator,
	}
	p.currentDS = CurrentDS{}
	p.foreign.Reset()
	p.recommendedState = 0
	p.waitingForFollowUp = false
}

func (p *Port) initTimers() {
	p.wheel = timer.NewWheel(p.cfg.TickRateHz)
	p.announceIntervalTimer = p.wheel.NewTimer()
	p.syncIntervalTimer = p.wheel.NewTimer()
	p.delayReqIntervalTimer = p.wheel.NewTimer()
	p.announceReceiptTimer = p.wheel.NewTimer()
}

func (p *Port) announceInterval() time.Duration {
	return p.portDS.LogAnnounceInterval.Duration()
}

func (p *Port) announceReceiptTimeout() time.Duration {
	return time.Duration(p.portDS.AnnounceReceiptTimeout) * p.announceInterval()
}

// toState performs the exit actions of the current state and the entry
// actions of s. Same-state transitions are no-ops.
func (p *Port) toState(s ptp.PortState) {
	prev := p.portDS.PortState
	if s == prev {
		return
	}
	// exit actions
	switch prev {
	case ptp.PortStateMaster:
		p.syncIntervalTimer.Stop()
		p.announceIntervalTimer.Stop()
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		// the delay measurement continues across the
		// UNCALIBRATED <-> SLAVE promotion
		if s != ptp.PortStateSlave && s != ptp.PortStateUncalibrated {
			p.delayReqIntervalTimer.Stop()
		}
	}
	// entry actions
	switch s {
	case ptp.PortStateInitializing:
		p.initData()
		p.initTimers()
		if p.srv != nil {
			p.srv.Init()
		}
		p.portDS.PortState = s
		p.stats.SetPortState(s)
		log.Infof("state change %s -> %s", prev, s)
		p.toState(ptp.PortStateListening)
		return
	case ptp.PortStateListening:
		p.syncIntervalTimer.Stop()
		p.delayReqIntervalTimer.Stop()
		p.wheel.Start(p.announceReceiptTimer, p.announceReceiptTimeout())
	case ptp.PortStateMaster:
		p.wheel.Start(p.announceIntervalTimer, p.announceInterval())
		p.wheel.Start(p.syncIntervalTimer, p.portDS.LogSyncInterval.Duration())
		p.updateM1()
	case ptp.PortStateUncalibrated:
		p.wheel.Start(p.delayReqIntervalTimer, p.portDS.LogMinDelayReqInterval.Duration())
		p.srv.Init()
		p.waitingForFollowUp = false
	case ptp.PortStateFaulty:
		p.announceIntervalTimer.Stop()
		p.syncIntervalTimer.Stop()
		p.delayReqIntervalTimer.Stop()
		p.announceReceiptTimer.Stop()
	}
	p.portDS.PortState = s
	p.stats.SetPortState(s)
	log.Infof("state change %s -> %s", prev, s)
}

// applyRecommendedState moves the port towards the latest BMC decision.
// SLAVE goes through UNCALIBRATED whenever the parent changes.
func (p *Port) applyRecommendedState() {
	switch p.recommendedState {
	case ptp.PortStateMaster:
		p.toState(ptp.PortStateMaster)
	case ptp.PortStateSlave:
		best := p.foreign.Best(p.defaultDS.ClockIdentity)
		if best == nil {
			return
		}
		newParent := best.Header.SourcePortIdentity != p.parentDS.ParentPortIdentity
		p.updateS1(best)
		switch p.portDS.PortState {
		case ptp.PortStateSlave:
			if newParent {
				p.toState(ptp.PortStateUncalibrated)
			}
		case ptp.PortStateUncalibrated:
			if newParent {
				// calibration starts over against the new parent
				p.srv.Init()
				p.waitingForFollowUp = false
			}
		default:
			p.toState(ptp.PortStateUncalibrated)
		}
	case ptp.PortStateListening:
		p.toState(ptp.PortStateListening)
	}
}

// Tick advances the timer wheel by one tick and performs everything the
// new timer states call for. Decrements happen before any expired-gated
// action.
func (p *Port) Tick() {
	p.wheel.Tick()

	if p.recommendedState != 0 {
		p.applyRecommendedState()
	}

	switch p.portDS.PortState {
	case ptp.PortStateMaster:
		if p.announceIntervalTimer.Expired() {
			p.sendAnnounce()
			if p.portDS.PortState != ptp.PortStateMaster {
				// transmit fault took us out of MASTER
				break
			}
			p.wheel.Start(p.announceIntervalTimer, p.announceInterval())
		}
		if p.syncIntervalTimer.Expired() {
			p.sendSync()
			if p.portDS.PortState != ptp.PortStateMaster {
				break
			}
			p.wheel.Start(p.syncIntervalTimer, p.portDS.LogSyncInterval.Duration())
		}
	case ptp.PortStateSlave, ptp.PortStateUncalibrated:
		if p.delayReqIntervalTimer.Expired() {
			p.sendDelayReq()
			if s := p.portDS.PortState; s == ptp.PortStateSlave || s == ptp.PortStateUncalibrated {
				p.wheel.Start(p.delayReqIntervalTimer, p.portDS.LogMinDelayReqInterval.Duration())
			}
		}
	}

	switch p.portDS.PortState {
	case ptp.PortStateListening, ptp.PortStateSlave, ptp.PortStateUncalibrated:
		if p.announceReceiptTimer.Expired() {
			log.Warningf("announce receipt timeout in %s", p.portDS.PortState)
			p.foreign.Reset()
			p.recommendedState = 0
			if p.portDS.PortState == ptp.PortStateListening {
				if p.defaultDS.SlaveOnly {
					p.wheel.Start(p.announceReceiptTimer, p.announceReceiptTimeout())
				} else {
					p.toState(ptp.PortStateMaster)
				}
			} else {
				// the master went quiet, start the election over
				p.parentDS = ParentDS{}
				p.toState(ptp.PortStateListening)
			}
		}
	}
}

// Run drives the port: packets and ticks interleaved on one goroutine,
// handlers always run to completion before the next event.
func (p *Port) Run(ctx context.Context, packets <-chan []byte) error {
	interval := time.Second / time.Duration(p.cfg.TickRateHz)
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case b := <-packets:
			p.HandleMessage(b)
		case <-tick.C:
			p.Tick()
		}
	}
}

// message construction and transmission

func (p *Port) msgHeader(t ptp.MessageType, length uint16, flags uint16, control uint8, logInterval ptp.LogInterval, seq uint16) ptp.Header {
	return ptp.Header{
		TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(t, 0),
		Version:                     ptp.Version,
		MessageLength:               length,
		DomainNumber:                p.defaultDS.DomainNumber,
		FlagField:                   flags,
		SourcePortIdentity:          p.portDS.PortIdentity,
		SequenceID:                  seq,
		ControlField:                control,
		LogMessageInterval:          logInterval,
	}
}

// transmit marshals and sends pkt. Transport failures are surfaced to
// the state machine.
func (p *Port) transmit(pkt ptp.Packet) {
	n, err := ptp.BytesTo(pkt, p.txBuf[:])
	if err == nil {
		if pkt.MessageType().Event() {
			err = p.tr.SendEvent(p.txBuf[:n])
		} else {
			err = p.tr.SendGeneral(p.txBuf[:n])
		}
	}
	if err != nil {
		log.Errorf("sending %s: %v", pkt.MessageType(), err)
		p.toState(ptp.PortStateFaulty)
		return
	}
	p.stats.IncTX(pkt.MessageType())
}

func (p *Port) sendAnnounce() {
	ann := &ptp.Announce{
		Header: p.msgHeader(ptp.MessageAnnounce, ptp.AnnounceLength, p.announceFlags(),
			ptp.ControlOther, p.portDS.LogAnnounceInterval, p.announceSeq),
		AnnounceBody: ptp.AnnounceBody{
			// origin timestamp stays zero on emit
			CurrentUTCOffset:        p.timePropertiesDS.CurrentUTCOffset,
			GrandmasterPriority1:    p.parentDS.GrandmasterPriority1,
			GrandmasterClockQuality: p.parentDS.GrandmasterClockQuality,
			GrandmasterPriority2:    p.parentDS.GrandmasterPriority2,
			GrandmasterIdentity:     p.parentDS.GrandmasterIdentity,
			StepsRemoved:            p.currentDS.StepsRemoved,
			TimeSource:              p.timePropertiesDS.TimeSource,
		},
	}
	p.announceSeq++
	p.logSent(ptp.MessageAnnounce, "seq=%d, gmIdentity=%s", ann.SequenceID, ann.GrandmasterIdentity)
	p.transmit(ann)
}

func (p *Port) sendSync() {
	var flags uint16
	if p.defaultDS.TwoStepFlag {
		flags = ptp.FlagTwoStep
	}
	t1 := p.clk.Now()
	seq := p.syncSeq
	p.syncSeq++
	sync := &ptp.SyncDelayReq{
		Header: p.msgHeader(ptp.MessageSync, ptp.SyncDelayReqLength, flags,
			ptp.ControlSync, p.portDS.LogSyncInterval, seq),
		SyncDelayReqBody: ptp.SyncDelayReqBody{
			OriginTimestamp: timeToTs(t1),
		},
	}
	p.logSent(ptp.MessageSync, "seq=%d, T1=%s", seq, t1)
	p.transmit(sync)
	if !p.defaultDS.TwoStepFlag {
		return
	}
	followUp := &ptp.FollowUp{
		Header: p.msgHeader(ptp.MessageFollowUp, ptp.FollowUpLength, 0,
			ptp.ControlFollowUp, p.portDS.LogSyncInterval, seq),
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: timeToTs(t1),
		},
	}
	p.logSent(ptp.MessageFollowUp, "seq=%d", seq)
	p.transmit(followUp)
}

func (p *Port) sendDelayReq() {
	t3 := p.clk.Now()
	seq := p.delayReqSeq
	p.delayReqSeq++
	req := &ptp.SyncDelayReq{
		Header: p.msgHeader(ptp.MessageDelayReq, ptp.SyncDelayReqLength, 0,
			ptp.ControlDelayReq, logMsgIntervalReserved, seq),
		SyncDelayReqBody: ptp.SyncDelayReqBody{
			OriginTimestamp: timeToTs(t3),
		},
	}
	p.delayReqSendTime = t3
	p.sentDelayReqSeq = seq
	p.logSent(ptp.MessageDelayReq, "seq=%d, T3=%s", seq, t3)
	p.transmit(req)
}

// updateClock lets the servo act on the latest measurement and publishes
// the result
func (p *Port) updateClock() {
	state, err := p.srv.UpdateClock()
	if err != nil {
		log.Errorf("updating clock: %v", err)
		p.toState(ptp.PortStateFaulty)
		return
	}
	if state == servo.StateJump {
		p.stats.IncSteps()
	}
	p.stats.SetServo(p.srv.OffsetFromMaster(), p.srv.MeanPathDelay(), p.srv.ObservedDrift())
}

// timestamp conversions between the wire format and internal time

func tsToTime(ts ptp.Timestamp) clock.Time {
	return clock.Time{Sec: int64(ts.Seconds.Seconds()), Nsec: int32(ts.Nanoseconds)}
}

func timeToTs(t clock.Time) ptp.Timestamp {
	n := t.Norm()
	ts := ptp.Timestamp{Nanoseconds: uint32(n.Nsec)}
	v := uint64(n.Sec)
	ts.Seconds[0] = byte(v >> 40)
	ts.Seconds[1] = byte(v >> 32)
	ts.Seconds[2] = byte(v >> 24)
	ts.Seconds[3] = byte(v >> 16)
	ts.Seconds[4] = byte(v >> 8)
	ts.Seconds[5] = byte(v)
	return ts
}

// couple of helpers to log nice lines about happening communication
func (p *Port) logSent(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.GreenString("port -> %s (%s)", t, fmt.Sprintf(msg, v...)))
}

func (p *Port) logReceive(t ptp.MessageType, msg string, v ...interface{}) {
	log.Debugf(color.BlueString("port <- %s (%s)", t, fmt.Sprintf(msg, v...)))
}
