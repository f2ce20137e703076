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
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentimelab/ptpoc/clock"
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

const (
	testClockID   ptp.ClockIdentity = 0xaabbccfffedd0011
	masterClockID ptp.ClockIdentity = 0x0011223344556677
)

// fakeClock is a settable clock recording servo calls
type fakeClock struct {
	now  clock.Time
	sets []clock.Time
	adjs []int32
}

func (c *fakeClock) Now() clock.Time { return c.now }

func (c *fakeClock) Set(t clock.Time) error {
	c.sets = append(c.sets, t)
	c.now = t
	return nil
}

func (c *fakeClock) Adj(deltaNs int32) error {
	c.adjs = append(c.adjs, deltaNs)
	return nil
}

// fakeTransport records marshalled packets per destination port
type fakeTransport struct {
	event   [][]byte
	general [][]byte
	err     error
}

func (f *fakeTransport) SendEvent(b []byte) error {
	if f.err != nil {
		return f.err
	}
	f.event = append(f.event, append([]byte{}, b...))
	return nil
}

func (f *fakeTransport) SendGeneral(b []byte) error {
	if f.err != nil {
		return f.err
	}
	f.general = append(f.general, append([]byte{}, b...))
	return nil
}

func newTestPort(t *testing.T, slaveOnly bool) (*Port, *fakeClock, *fakeTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SlaveOnly = slaveOnly
	cfg.Normalize()
	clk := &fakeClock{now: clock.Time{Sec: 10}}
	tr := &fakeTransport{}
	stats := NewStats(prometheus.NewRegistry())
	return New(cfg, testClockID, clk, tr, stats), clk, tr
}

func masterAnnounce(seq uint16) *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(ptp.MessageAnnounce, 0),
			Version:                     ptp.Version,
			MessageLength:               ptp.AnnounceLength,
			SourcePortIdentity: ptp.PortIdentity{
				ClockIdentity: masterClockID,
				PortNumber:    1,
			},
			SequenceID:         seq,
			ControlField:       ptp.ControlOther,
			LogMessageInterval: 1,
		},
		AnnounceBody: ptp.AnnounceBody{
			CurrentUTCOffset:     37,
			GrandmasterPriority1: 128,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:              ptp.ClockClassDefault,
				ClockAccuracy:           ptp.ClockAccuracyUnknown,
				OffsetScaledLogVariance: 0xffff,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  masterClockID,
			TimeSource:           ptp.TimeSourceGNSS,
		},
	}
}

func deliver(t *testing.T, p *Port, pkt ptp.Packet) {
	t.Helper()
	b, err := ptp.Bytes(pkt)
	require.NoError(t, err)
	p.HandleMessage(b)
}

func TestPortStartsListening(t *testing.T) {
	p, _, _ := newTestPort(t, true)
	require.Equal(t, ptp.PortStateListening, p.State())
}

func TestAnnounceElectsMaster(t *testing.T) {
	p, _, _ := newTestPort(t, true)

	deliver(t, p, masterAnnounce(1))
	// the decision is applied on the next tick, not in the handler
	require.Equal(t, ptp.PortStateListening, p.State())

	p.Tick()
	require.Equal(t, ptp.PortStateUncalibrated, p.State())
	assert.Equal(t, masterClockID, p.parentDS.GrandmasterIdentity)
	assert.Equal(t, ptp.PortIdentity{ClockIdentity: masterClockID, PortNumber: 1}, p.parentDS.ParentPortIdentity)
	// S1 adopted the announce timescale
	assert.Equal(t, int16(37), p.timePropertiesDS.CurrentUTCOffset)
	assert.Equal(t, ptp.TimeSourceGNSS, p.timePropertiesDS.TimeSource)
	assert.Equal(t, uint16(1), p.currentDS.StepsRemoved)
}

func TestSlaveElectionColdStart(t *testing.T) {
	p, clk, tr := newTestPort(t, true)

	for i := uint16(1); i <= 3; i++ {
		deliver(t, p, masterAnnounce(i))
	}
	p.Tick()
	require.Equal(t, ptp.PortStateUncalibrated, p.State())

	// two-step sync, T1 = 10.000000000, T2 = 10.000000500
	clk.now = clock.Time{Sec: 10, Nsec: 500}
	sync := &ptp.SyncDelayReq{
		Header: ptp.Header{
			TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(ptp.MessageSync, 0),
			Version:                     ptp.Version,
			MessageLength:               ptp.SyncDelayReqLength,
			FlagField:                   ptp.FlagTwoStep,
			SourcePortIdentity:          ptp.PortIdentity{ClockIdentity: masterClockID, PortNumber: 1},
			SequenceID:                  42,
			ControlField:                ptp.ControlSync,
		},
	}
	deliver(t, p, sync)
	require.True(t, p.waitingForFollowUp)

	followUp := &ptp.FollowUp{
		Header: ptp.Header{
			TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(ptp.MessageFollowUp, 0),
			Version:                     ptp.Version,
			MessageLength:               ptp.FollowUpLength,
			SourcePortIdentity:          ptp.PortIdentity{ClockIdentity: masterClockID, PortNumber: 1},
			SequenceID:                  42,
			ControlField:                ptp.ControlFollowUp,
		},
		FollowUpBody: ptp.FollowUpBody{
			PreciseOriginTimestamp: timeToTs(clock.Time{Sec: 10, Nsec: 100}),
		},
	}
	deliver(t, p, followUp)
	require.False(t, p.waitingForFollowUp)
	// offset = (T2 - T1) - 0 = 400ns
	require.Equal(t, clock.Time{Nsec: 400}, p.OffsetFromMaster())
	// adj = 400/2 + 400/8, negated
	require.Equal(t, []int32{-250}, clk.adjs)

	// delay_req goes out after its interval, 1s at 10Hz
	for i := 0; i < 11; i++ {
		p.Tick()
	}
	require.NotEmpty(t, tr.event)
	sent, err := ptp.DecodePacket(tr.event[0])
	require.NoError(t, err)
	req := sent.(*ptp.SyncDelayReq)
	require.Equal(t, ptp.MessageDelayReq, req.MessageType())

	// master answers, offset is under 1us: calibration done
	clk.now = clock.Time{Sec: 11, Nsec: 800}
	resp := &ptp.DelayResp{
		Header: ptp.Header{
			TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(ptp.MessageDelayResp, 0),
			Version:                     ptp.Version,
			MessageLength:               ptp.DelayRespLength,
			SourcePortIdentity:          ptp.PortIdentity{ClockIdentity: masterClockID, PortNumber: 1},
			SequenceID:                  req.SequenceID,
			ControlField:                ptp.ControlDelayResp,
		},
		DelayRespBody: ptp.DelayRespBody{
			ReceiveTimestamp:       req.OriginTimestamp,
			RequestingPortIdentity: p.portDS.PortIdentity,
		},
	}
	deliver(t, p, resp)
	require.Equal(t, ptp.PortStateSlave, p.State())

	// the delay exchange keeps running after calibration
	before := len(tr.event)
	for i := 0; i < 11; i++ {
		p.Tick()
	}
	require.Greater(t, len(tr.event), before)
}

func TestBMCTiebreakByIdentity(t *testing.T) {
	p, _, _ := newTestPort(t, true)

	a := masterAnnounce(1)
	a.GrandmasterIdentity = 0x01
	a.Header.SourcePortIdentity.ClockIdentity = 0x01
	b := masterAnnounce(1)
	b.GrandmasterIdentity = 0x02
	b.Header.SourcePortIdentity.ClockIdentity = 0x02

	deliver(t, p, b)
	deliver(t, p, a)
	p.Tick()
	require.Equal(t, ptp.PortStateUncalibrated, p.State())
	assert.Equal(t, ptp.ClockIdentity(0x01), p.parentDS.GrandmasterIdentity)
}

func TestAnnounceTimeoutSlaveOnly(t *testing.T) {
	p, _, _ := newTestPort(t, true)

	// 6 seconds of silence at 10Hz
	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateListening, p.State())
	// timer rearmed, the port keeps listening forever
	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateListening, p.State())
}

func TestAnnounceTimeoutBecomesMaster(t *testing.T) {
	p, _, tr := newTestPort(t, false)

	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateMaster, p.State())
	// M1: we are our own grandmaster now
	assert.Equal(t, testClockID, p.parentDS.GrandmasterIdentity)
	assert.Equal(t, ptp.TimeSourceInternalOscillator, p.timePropertiesDS.TimeSource)

	// sync fires after 1s, announce after 2s
	for i := 0; i < 21; i++ {
		p.Tick()
	}
	require.NotEmpty(t, tr.event)
	require.NotEmpty(t, tr.general)

	sync, err := ptp.DecodePacket(tr.event[0])
	require.NoError(t, err)
	require.Equal(t, ptp.MessageSync, sync.MessageType())
	// two-step: matching follow_up with the same sequence id
	fu, err := ptp.DecodePacket(tr.general[0])
	require.NoError(t, err)
	followUp := fu.(*ptp.FollowUp)
	require.Equal(t, sync.(*ptp.SyncDelayReq).SequenceID, followUp.SequenceID)

	var sawAnnounce bool
	for _, b := range tr.general {
		pkt, err := ptp.DecodePacket(b)
		require.NoError(t, err)
		if ann, ok := pkt.(*ptp.Announce); ok {
			sawAnnounce = true
			assert.Equal(t, testClockID, ann.GrandmasterIdentity)
			assert.Equal(t, uint16(0), ann.StepsRemoved)
			assert.True(t, ann.OriginTimestamp.Empty())
		}
	}
	require.True(t, sawAnnounce)
}

func TestMasterDemotedByBetterAnnounce(t *testing.T) {
	p, _, _ := newTestPort(t, false)
	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateMaster, p.State())

	better := masterAnnounce(1)
	better.GrandmasterPriority1 = 1
	deliver(t, p, better)
	p.Tick()
	require.Equal(t, ptp.PortStateUncalibrated, p.State())
	assert.Equal(t, masterClockID, p.parentDS.GrandmasterIdentity)
}

func TestMasterEmitsDelayResp(t *testing.T) {
	p, clk, tr := newTestPort(t, false)
	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateMaster, p.State())

	clk.now = clock.Time{Sec: 20, Nsec: 123}
	requester := ptp.PortIdentity{ClockIdentity: 0x1234567fffe89abc, PortNumber: 1}
	req := &ptp.SyncDelayReq{
		Header: ptp.Header{
			TransportSpecificAndMsgType: ptp.NewTransportSpecificAndMsgType(ptp.MessageDelayReq, 0),
			Version:                     ptp.Version,
			MessageLength:               ptp.SyncDelayReqLength,
			SourcePortIdentity:          requester,
			SequenceID:                  7,
			ControlField:                ptp.ControlDelayReq,
			LogMessageInterval:          logMsgIntervalReserved,
		},
	}
	deliver(t, p, req)

	require.NotEmpty(t, tr.general)
	pkt, err := ptp.DecodePacket(tr.general[len(tr.general)-1])
	require.NoError(t, err)
	resp := pkt.(*ptp.DelayResp)
	assert.Equal(t, uint16(7), resp.SequenceID)
	assert.Equal(t, requester, resp.RequestingPortIdentity)
	assert.Equal(t, timeToTs(clock.Time{Sec: 20, Nsec: 123}), resp.ReceiveTimestamp)
}

func TestSlaveTimeoutBackToListening(t *testing.T) {
	p, _, _ := newTestPort(t, true)
	deliver(t, p, masterAnnounce(1))
	p.Tick()
	require.Equal(t, ptp.PortStateUncalibrated, p.State())

	// master goes quiet
	for i := 0; i < 61; i++ {
		p.Tick()
	}
	require.Equal(t, ptp.PortStateListening, p.State())
	assert.Equal(t, ParentDS{}, p.parentDS)
}

func TestTimeToTsRoundTrip(t *testing.T) {
	for _, tm := range []clock.Time{
		{},
		{Sec: 1653574265, Nsec: 1234},
		{Sec: 10, Nsec: 999999999},
	} {
		require.Equal(t, tm, tsToTime(timeToTs(tm)))
	}
}
