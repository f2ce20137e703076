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
	"errors"

	"github.com/opentimelab/ptpoc/clock"
	"github.com/opentimelab/ptpoc/ptp/bmc"
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// HandleMessage dispatches one received payload. Malformed, foreign and
// out-of-scope traffic is dropped with a counter, never an error: lost
// messages shape future BMC decisions through timeouts.
func (p *Port) HandleMessage(b []byte) {
	hdr, err := ptp.DecodeHeader(b)
	if err != nil {
		p.stats.IncDrop(dropMalformed)
		return
	}
	if hdr.DomainNumber != p.defaultDS.DomainNumber {
		p.stats.IncDrop(dropWrongDomain)
		return
	}
	if hdr.SourcePortIdentity.ClockIdentity == p.defaultDS.ClockIdentity {
		// our own multicast looped back
		p.stats.IncDrop(dropOwnMessage)
		return
	}
	pkt, err := ptp.DecodePacket(b)
	if err != nil {
		if errors.Is(err, ptp.ErrUnsupportedMsgType) {
			p.stats.IncDrop(dropUnsupported)
		} else {
			p.stats.IncDrop(dropMalformed)
		}
		return
	}
	p.stats.IncRX(hdr.MessageType())
	switch m := pkt.(type) {
	case *ptp.SyncDelayReq:
		if hdr.MessageType() == ptp.MessageSync {
			p.handleSync(m)
		} else {
			p.handleDelayReq(m)
		}
	case *ptp.FollowUp:
		p.handleFollowUp(m)
	case *ptp.DelayResp:
		p.handleDelayResp(m)
	case *ptp.Announce:
		p.handleAnnounce(m)
	}
}

// handleAnnounce updates the foreign master table and reruns the BMC.
// The recommendation takes effect on the next tick.
func (p *Port) handleAnnounce(m *ptp.Announce) {
	p.logReceive(ptp.MessageAnnounce, "seq=%d, gmIdentity=%s, stepsRemoved=%d",
		m.SequenceID, m.GrandmasterIdentity, m.StepsRemoved)
	if !p.foreign.Update(m) {
		p.stats.IncDrop(dropForeignTableFull)
	}
	best := p.foreign.Best(p.defaultDS.ClockIdentity)
	p.recommendedState = bmc.RecommendedState(p.pseudoAnnounce(), best, p.defaultDS.SlaveOnly)
	p.wheel.Start(p.announceReceiptTimer, p.announceReceiptTimeout())
}

// handleSync captures T2 and either completes a one-step measurement or
// arms the wait for Follow_Up
func (p *Port) handleSync(m *ptp.SyncDelayReq) {
	// T2 is taken at dispatch, before anything else can add latency
	t2 := p.clk.Now()
	if s := p.portDS.PortState; s != ptp.PortStateSlave && s != ptp.PortStateUncalibrated {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	// until a parent is known, any master is accepted
	if parent := p.parentDS.ParentPortIdentity; parent.ClockIdentity != 0 && m.Header.SourcePortIdentity != parent {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	p.logReceive(ptp.MessageSync, "seq=%d, T2=%s", m.SequenceID, t2)
	p.syncReceiveTime = t2
	if m.Header.FlagField&ptp.FlagTwoStep != 0 {
		// a stale pending Sync is simply overwritten
		p.waitingForFollowUp = true
		p.lastSyncHeader = m.Header
		return
	}
	p.waitingForFollowUp = false
	p.srv.UpdateOffset(t2, tsToTime(m.OriginTimestamp))
	p.updateClock()
}

// handleFollowUp completes a two-step Sync measurement
func (p *Port) handleFollowUp(m *ptp.FollowUp) {
	if s := p.portDS.PortState; s != ptp.PortStateSlave && s != ptp.PortStateUncalibrated {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	if !p.waitingForFollowUp ||
		m.SequenceID != p.lastSyncHeader.SequenceID ||
		m.Header.SourcePortIdentity != p.lastSyncHeader.SourcePortIdentity {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	p.logReceive(ptp.MessageFollowUp, "seq=%d, preciseOriginTimestamp=%s", m.SequenceID, m.PreciseOriginTimestamp)
	p.waitingForFollowUp = false
	p.srv.UpdateOffset(p.syncReceiveTime, tsToTime(m.PreciseOriginTimestamp))
	p.updateClock()
}

// handleDelayReq answers a slave's delay measurement, master only
func (p *Port) handleDelayReq(m *ptp.SyncDelayReq) {
	// T4 for the requester, captured on arrival
	t4 := p.clk.Now()
	if p.portDS.PortState != ptp.PortStateMaster {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	p.logReceive(ptp.MessageDelayReq, "seq=%d, from %s", m.SequenceID, m.Header.SourcePortIdentity)
	resp := &ptp.DelayResp{
		Header: p.msgHeader(ptp.MessageDelayResp, ptp.DelayRespLength, 0,
			ptp.ControlDelayResp, p.portDS.LogMinDelayReqInterval, m.SequenceID),
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       timeToTs(t4),
			RequestingPortIdentity: m.Header.SourcePortIdentity,
		},
	}
	resp.CorrectionField = m.CorrectionField
	p.logSent(ptp.MessageDelayResp, "seq=%d, to %s", m.SequenceID, m.Header.SourcePortIdentity)
	p.transmit(resp)
}

// handleDelayResp completes the delay measurement and, once the offset
// settles, finishes calibration
func (p *Port) handleDelayResp(m *ptp.DelayResp) {
	if s := p.portDS.PortState; s != ptp.PortStateSlave && s != ptp.PortStateUncalibrated {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	if p.delayReqSendTime == (clock.Time{}) {
		// no Delay_Req in flight at all
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	if m.SequenceID != p.sentDelayReqSeq || m.RequestingPortIdentity != p.portDS.PortIdentity {
		p.stats.IncDrop(dropOutOfOrder)
		return
	}
	p.logReceive(ptp.MessageDelayResp, "seq=%d, T4=%s", m.SequenceID, m.ReceiveTimestamp)
	p.srv.UpdateDelay(p.delayReqSendTime, tsToTime(m.ReceiveTimestamp))
	p.updateClock()
	if p.portDS.PortState == ptp.PortStateUncalibrated &&
		p.srv.OffsetFromMaster().Abs().Nanoseconds() < calibrationOffsetNs {
		p.toState(ptp.PortStateSlave)
	}
}
