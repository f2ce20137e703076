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
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// DelayMechanism is the propagation delay measuring option, Table 21
type DelayMechanism uint8

// Delay mechanism values
const (
	DelayMechanismE2E      DelayMechanism = 0x01
	DelayMechanismP2P      DelayMechanism = 0x02
	DelayMechanismDisabled DelayMechanism = 0xFE
)

// The PTP data sets of Tables 8-11, owned by the clock for its lifetime

// DefaultDS describes the local clock itself
type DefaultDS struct {
	TwoStepFlag   bool
	ClockIdentity ptp.ClockIdentity
	NumberPorts   uint16
	ClockQuality  ptp.ClockQuality
	Priority1     uint8
	Priority2     uint8
	DomainNumber  uint8
	SlaveOnly     bool
}

// PortDS describes the single port of the ordinary clock
type PortDS struct {
	PortIdentity           ptp.PortIdentity
	PortState              ptp.PortState
	LogMinDelayReqInterval ptp.LogInterval
	LogAnnounceInterval    ptp.LogInterval
	LogSyncInterval        ptp.LogInterval
	AnnounceReceiptTimeout uint8
	DelayMechanism         DelayMechanism
	VersionNumber          uint8
}

// ParentDS describes the master this port syncs from. Exactly one entry
// is authoritative at any moment, rewritten by the S1/M1 updates and
// cleared when the master's Announces time out.
type ParentDS struct {
	ParentPortIdentity      ptp.PortIdentity
	GrandmasterIdentity     ptp.ClockIdentity
	GrandmasterClockQuality ptp.ClockQuality
	GrandmasterPriority1    uint8
	GrandmasterPriority2    uint8
}

// TimePropertiesDS describes the timescale of the current grandmaster
type TimePropertiesDS struct {
	CurrentUTCOffset      int16
	CurrentUTCOffsetValid bool
	Leap59                bool
	Leap61                bool
	TimeTraceable         bool
	FrequencyTraceable    bool
	PTPTimescale          bool
	TimeSource            ptp.TimeSource
}

// CurrentDS carries the measured relation to the master
type CurrentDS struct {
	StepsRemoved uint16
}

func newDefaultDS(cfg *Config, clockID ptp.ClockIdentity) DefaultDS {
	return DefaultDS{
		TwoStepFlag:   cfg.TwoStep,
		ClockIdentity: clockID,
		NumberPorts:   1,
		ClockQuality: ptp.ClockQuality{
			ClockClass:              cfg.ClockClass,
			ClockAccuracy:           cfg.ClockAccuracy,
			OffsetScaledLogVariance: cfg.OffsetScaledLogVariance,
		},
		Priority1:    cfg.Priority1,
		Priority2:    cfg.Priority2,
		DomainNumber: cfg.DomainNumber,
		SlaveOnly:    cfg.SlaveOnly,
	}
}

func newPortDS(cfg *Config, clockID ptp.ClockIdentity) PortDS {
	return PortDS{
		PortIdentity: ptp.PortIdentity{
			ClockIdentity: clockID,
			PortNumber:    1,
		},
		PortState:              ptp.PortStateInitializing,
		LogMinDelayReqInterval: cfg.LogMinDelayReqInterval,
		LogAnnounceInterval:    cfg.LogAnnounceInterval,
		LogSyncInterval:        cfg.LogSyncInterval,
		AnnounceReceiptTimeout: cfg.AnnounceReceiptTimeout,
		DelayMechanism:         DelayMechanismE2E,
		VersionNumber:          ptp.Version,
	}
}

// updateM1 makes the local clock its own grandmaster: ParentDS points at
// ourselves, the timescale is our free-running oscillator.
func (p *Port) updateM1() {
	p.parentDS = ParentDS{
		ParentPortIdentity:      p.portDS.PortIdentity,
		GrandmasterIdentity:     p.defaultDS.ClockIdentity,
		GrandmasterClockQuality: p.defaultDS.ClockQuality,
		GrandmasterPriority1:    p.defaultDS.Priority1,
		GrandmasterPriority2:    p.defaultDS.Priority2,
	}
	p.currentDS.StepsRemoved = 0
	p.timePropertiesDS = TimePropertiesDS{
		CurrentUTCOffset:      p.cfg.CurrentUTCOffset,
		CurrentUTCOffsetValid: false,
		TimeTraceable:         false,
		FrequencyTraceable:    false,
		PTPTimescale:          true,
		TimeSource:            ptp.TimeSourceInternalOscillator,
	}
}

// updateS1 adopts the elected master from its Announce
func (p *Port) updateS1(ann *ptp.Announce) {
	p.parentDS = ParentDS{
		ParentPortIdentity:      ann.Header.SourcePortIdentity,
		GrandmasterIdentity:     ann.AnnounceBody.GrandmasterIdentity,
		GrandmasterClockQuality: ann.AnnounceBody.GrandmasterClockQuality,
		GrandmasterPriority1:    ann.AnnounceBody.GrandmasterPriority1,
		GrandmasterPriority2:    ann.AnnounceBody.GrandmasterPriority2,
	}
	p.currentDS.StepsRemoved = ann.AnnounceBody.StepsRemoved + 1
	p.timePropertiesDS = TimePropertiesDS{
		CurrentUTCOffset:      ann.AnnounceBody.CurrentUTCOffset,
		CurrentUTCOffsetValid: ann.Header.FlagField&ptp.FlagCurrentUtcOffsetValid != 0,
		Leap59:                ann.Header.FlagField&ptp.FlagLeap59 != 0,
		Leap61:                ann.Header.FlagField&ptp.FlagLeap61 != 0,
		TimeTraceable:         ann.Header.FlagField&ptp.FlagTimeTraceable != 0,
		FrequencyTraceable:    ann.Header.FlagField&ptp.FlagFrequencyTraceable != 0,
		PTPTimescale:          ann.Header.FlagField&ptp.FlagPTPTimescale != 0,
		TimeSource:            ann.AnnounceBody.TimeSource,
	}
}

// announceFlags folds TimePropertiesDS into the Announce flag field
func (p *Port) announceFlags() uint16 {
	var flags uint16
	if p.timePropertiesDS.CurrentUTCOffsetValid {
		flags |= ptp.FlagCurrentUtcOffsetValid
	}
	if p.timePropertiesDS.Leap59 {
		flags |= ptp.FlagLeap59
	}
	if p.timePropertiesDS.Leap61 {
		flags |= ptp.FlagLeap61
	}
	if p.timePropertiesDS.TimeTraceable {
		flags |= ptp.FlagTimeTraceable
	}
	if p.timePropertiesDS.FrequencyTraceable {
		flags |= ptp.FlagFrequencyTraceable
	}
	if p.timePropertiesDS.PTPTimescale {
		flags |= ptp.FlagPTPTimescale
	}
	return flags
}

// pseudoAnnounce is the local clock rendered as an Announce record for
// the dataset comparison
func (p *Port) pseudoAnnounce() *ptp.Announce {
	return &ptp.Announce{
		Header: ptp.Header{
			SourcePortIdentity: p.portDS.PortIdentity,
		},
		AnnounceBody: ptp.AnnounceBody{
			GrandmasterPriority1:    p.defaultDS.Priority1,
			GrandmasterClockQuality: p.defaultDS.ClockQuality,
			GrandmasterPriority2:    p.defaultDS.Priority2,
			GrandmasterIdentity:     p.defaultDS.ClockIdentity,
			StepsRemoved:            0,
		},
	}
}
