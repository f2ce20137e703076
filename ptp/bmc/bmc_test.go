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

package bmc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

const ownIdentity ptp.ClockIdentity = 0x001122fffe334455

func announce(gm ptp.ClockIdentity, sender ptp.PortIdentity) *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			SourcePortIdentity: sender,
		},
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1: 128,
			GrandmasterClockQuality: ptp.ClockQuality{
				ClockClass:              ptp.ClockClassDefault,
				ClockAccuracy:           ptp.ClockAccuracyUnknown,
				OffsetScaledLogVariance: 0xffff,
			},
			GrandmasterPriority2: 128,
			GrandmasterIdentity:  gm,
		},
	}
}

func TestDscmpPriority1(t *testing.T) {
	a := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	b := announce(2, ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1})
	a.GrandmasterPriority1 = 1
	b.GrandmasterPriority1 = 2
	assert.Equal(t, ABetter, Dscmp(a, b, ownIdentity))
	assert.Equal(t, BBetter, Dscmp(b, a, ownIdentity))
}

func TestDscmpQuality(t *testing.T) {
	a := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	b := announce(2, ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1})

	a.GrandmasterClockQuality.ClockClass = ptp.ClockClass6
	assert.Equal(t, ABetter, Dscmp(a, b, ownIdentity))

	a.GrandmasterClockQuality.ClockClass = ptp.ClockClassDefault
	a.GrandmasterClockQuality.ClockAccuracy = ptp.ClockAccuracyMicrosecond1
	assert.Equal(t, ABetter, Dscmp(a, b, ownIdentity))

	a.GrandmasterClockQuality.ClockAccuracy = ptp.ClockAccuracyUnknown
	b.GrandmasterClockQuality.OffsetScaledLogVariance = 0x1234
	assert.Equal(t, BBetter, Dscmp(a, b, ownIdentity))
}

func TestDscmpPriority2(t *testing.T) {
	a := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	b := announce(2, ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1})
	b.GrandmasterPriority2 = 100
	assert.Equal(t, BBetter, Dscmp(a, b, ownIdentity))
}

func TestDscmpIdentityTiebreak(t *testing.T) {
	// identical quality, identities 00..01 vs 00..02: lower identity wins
	a := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	b := announce(2, ptp.PortIdentity{ClockIdentity: 2, PortNumber: 1})
	assert.Equal(t, ABetter, Dscmp(a, b, ownIdentity))
	assert.Equal(t, BBetter, Dscmp(b, a, ownIdentity))
}

func TestDscmpAntisymmetric(t *testing.T) {
	senderA := ptp.PortIdentity{ClockIdentity: 0xa, PortNumber: 1}
	senderB := ptp.PortIdentity{ClockIdentity: 0xb, PortNumber: 1}
	cases := []struct {
		name string
		a, b *ptp.Announce
	}{
		{"by priority1", func() *ptp.Announce { a := announce(1, senderA); a.GrandmasterPriority1 = 10; return a }(), announce(2, senderB)},
		{"by identity", announce(1, senderA), announce(2, senderB)},
		{"same gm different senders", announce(1, senderA), announce(1, senderB)},
		{"same gm different steps", func() *ptp.Announce { a := announce(1, senderA); a.StepsRemoved = 3; return a }(), announce(1, senderB)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, -Dscmp(tc.a, tc.b, ownIdentity), Dscmp(tc.b, tc.a, ownIdentity))
		})
	}
}

func TestDscmp2StepsRemoved(t *testing.T) {
	senderA := ptp.PortIdentity{ClockIdentity: 0xa, PortNumber: 1}
	senderB := ptp.PortIdentity{ClockIdentity: 0xb, PortNumber: 1}

	// more than 1 step apart: fewer steps wins outright
	a := announce(1, senderA)
	b := announce(1, senderB)
	b.StepsRemoved = 5
	assert.Equal(t, ABetter, Dscmp2(a, b, ownIdentity))
	assert.Equal(t, BBetter, Dscmp2(b, a, ownIdentity))

	// exactly 1 step apart: fewer steps wins on topology
	b.StepsRemoved = 1
	assert.Equal(t, ABetterTopo, Dscmp2(a, b, ownIdentity))

	// unless the closer sender is ourselves
	a.Header.SourcePortIdentity.ClockIdentity = ownIdentity
	assert.Equal(t, BBetterTopo, Dscmp2(a, b, ownIdentity))
}

func TestDscmp2SenderTiebreak(t *testing.T) {
	a := announce(1, ptp.PortIdentity{ClockIdentity: 0xa, PortNumber: 1})
	b := announce(1, ptp.PortIdentity{ClockIdentity: 0xa, PortNumber: 2})
	assert.Equal(t, ABetterTopo, Dscmp2(a, b, ownIdentity))
	assert.Equal(t, BBetterTopo, Dscmp2(b, a, ownIdentity))
	assert.Equal(t, Unknown, Dscmp2(a, a, ownIdentity))
}

func TestRecommendedStateNoForeign(t *testing.T) {
	own := announce(ownIdentity, ptp.PortIdentity{ClockIdentity: ownIdentity, PortNumber: 1})
	assert.Equal(t, ptp.PortStateMaster, RecommendedState(own, nil, false))
	assert.Equal(t, ptp.PortStateListening, RecommendedState(own, nil, true))
}

func TestRecommendedStateElection(t *testing.T) {
	own := announce(ownIdentity, ptp.PortIdentity{ClockIdentity: ownIdentity, PortNumber: 1})
	best := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})

	// foreign gm has lower identity, we lose
	assert.Equal(t, ptp.PortStateSlave, RecommendedState(own, best, false))

	// better own priority wins the election
	own.GrandmasterPriority1 = 1
	assert.Equal(t, ptp.PortStateMaster, RecommendedState(own, best, false))

	// unless the clock is slave-only
	assert.Equal(t, ptp.PortStateSlave, RecommendedState(own, best, true))
}

func TestForeignMasterTableUpdate(t *testing.T) {
	var table ForeignMasterTable
	require.Equal(t, 0, table.Len())

	a := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	require.True(t, table.Update(a))
	require.Equal(t, 1, table.Len())

	// same sender overwrites, not adds
	a2 := announce(1, ptp.PortIdentity{ClockIdentity: 1, PortNumber: 1})
	a2.SequenceID = 5
	a2.GrandmasterPriority1 = 10
	require.True(t, table.Update(a2))
	require.Equal(t, 1, table.Len())
	best := table.Best(ownIdentity)
	require.NotNil(t, best)
	assert.Equal(t, uint8(10), best.GrandmasterPriority1)
}

func TestForeignMasterTableFull(t *testing.T) {
	var table ForeignMasterTable
	for i := 1; i <= DefaultForeignMasterCapacity; i++ {
		a := announce(ptp.ClockIdentity(i), ptp.PortIdentity{ClockIdentity: ptp.ClockIdentity(i), PortNumber: 1})
		require.True(t, table.Update(a))
	}
	require.Equal(t, DefaultForeignMasterCapacity, table.Len())

	// 6th distinct master is dropped, table unchanged
	extra := announce(100, ptp.PortIdentity{ClockIdentity: 100, PortNumber: 1})
	extra.GrandmasterPriority1 = 1
	require.False(t, table.Update(extra))
	require.Equal(t, DefaultForeignMasterCapacity, table.Len())

	// BMC still selects among the 5
	best := table.Best(ownIdentity)
	require.NotNil(t, best)
	assert.Equal(t, ptp.ClockIdentity(1), best.GrandmasterIdentity)

	// known sender still updates in place
	known := announce(3, ptp.PortIdentity{ClockIdentity: 3, PortNumber: 1})
	known.GrandmasterPriority1 = 1
	require.True(t, table.Update(known))
	assert.Equal(t, ptp.ClockIdentity(3), table.Best(ownIdentity).GrandmasterIdentity)
}

func TestForeignMasterTableBestEmpty(t *testing.T) {
	var table ForeignMasterTable
	require.Nil(t, table.Best(ownIdentity))
}
