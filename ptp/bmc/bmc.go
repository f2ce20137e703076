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
Package bmc implements the Best Master Clock algorithm of IEEE 1588-2008:
the dataset comparison of Figure 27/28, the foreign master table, and the
per-port state decision.
*/
package bmc

import (
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// ComparisonResult is the type to represent comparisons
type ComparisonResult int8

const (
	// ABetterTopo means A is better based on topology
	ABetterTopo ComparisonResult = 2
	// ABetter means A is better based on Announce content
	ABetter ComparisonResult = 1
	// Unknown means we failed to determine better
	Unknown ComparisonResult = 0
	// BBetter means B is better based on Announce content
	BBetter ComparisonResult = -1
	// BBetterTopo means B is better based on topology
	BBetterTopo ComparisonResult = -2
)

// Dscmp2 finds better Announce based on network topology, used when both
// records lead to the same grandmaster (or are otherwise equal).
// own guards against hearing our own Announce reflected back with a
// shorter path.
func Dscmp2(a *ptp.Announce, b *ptp.Announce, own ptp.ClockIdentity) ComparisonResult {
	if a.AnnounceBody.StepsRemoved+1 < b.AnnounceBody.StepsRemoved {
		return ABetter
	}
	if b.AnnounceBody.StepsRemoved+1 < a.AnnounceBody.StepsRemoved {
		return BBetter
	}
	if a.AnnounceBody.StepsRemoved < b.AnnounceBody.StepsRemoved {
		if a.Header.SourcePortIdentity.ClockIdentity == own {
			return BBetterTopo
		}
		return ABetterTopo
	}
	if b.AnnounceBody.StepsRemoved < a.AnnounceBody.StepsRemoved {
		if b.Header.SourcePortIdentity.ClockIdentity == own {
			return ABetterTopo
		}
		return BBetterTopo
	}

	diff := a.Header.SourcePortIdentity.Compare(b.Header.SourcePortIdentity)
	if diff < 0 {
		return ABetterTopo
	}
	if diff > 0 {
		return BBetterTopo
	}
	return Unknown
}

// Dscmp finds better Announce based on Announce content, falling through
// to Dscmp2 when both describe the same grandmaster. Positive result
// means A is better.
func Dscmp(a *ptp.Announce, b *ptp.Announce, own ptp.ClockIdentity) ComparisonResult {
	if a.AnnounceBody.GrandmasterIdentity == b.AnnounceBody.GrandmasterIdentity {
		return Dscmp2(a, b, own)
	}
	if a.AnnounceBody.GrandmasterPriority1 < b.AnnounceBody.GrandmasterPriority1 {
		return ABetter
	}
	if a.AnnounceBody.GrandmasterPriority1 > b.AnnounceBody.GrandmasterPriority1 {
		return BBetter
	}
	if diff := a.AnnounceBody.GrandmasterClockQuality.Compare(b.AnnounceBody.GrandmasterClockQuality); diff != 0 {
		if diff < 0 {
			return ABetter
		}
		return BBetter
	}
	if a.AnnounceBody.GrandmasterPriority2 < b.AnnounceBody.GrandmasterPriority2 {
		return ABetter
	}
	if a.AnnounceBody.GrandmasterPriority2 > b.AnnounceBody.GrandmasterPriority2 {
		return BBetter
	}
	if a.AnnounceBody.GrandmasterIdentity < b.AnnounceBody.GrandmasterIdentity {
		return ABetter
	}
	return BBetter
}

// RecommendedState is the per-port state decision: local clock described
// by the pseudo-Announce own vs the best foreign record. M1 when we win
// and may be master, S1 otherwise. With no foreign masters at all, a
// slave-only clock keeps listening.
func RecommendedState(own *ptp.Announce, best *ptp.Announce, slaveOnly bool) ptp.PortState {
	if best == nil {
		if slaveOnly {
			return ptp.PortStateListening
		}
		return ptp.PortStateMaster
	}
	if !slaveOnly && Dscmp(own, best, own.AnnounceBody.GrandmasterIdentity) > 0 {
		return ptp.PortStateMaster
	}
	return ptp.PortStateSlave
}
