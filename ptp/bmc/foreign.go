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
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// DefaultForeignMasterCapacity is how many distinct foreign masters a
// port keeps track of
const DefaultForeignMasterCapacity = 5

// ForeignMasterRecord is the last Announce seen from one foreign master
type ForeignMasterRecord struct {
	SourcePortIdentity ptp.PortIdentity
	Announce           ptp.Announce
}

// Empty reports whether the slot is unused. A valid PTP port number is
// never 0, so a zero PortNumber marks a free slot.
func (r *ForeignMasterRecord) Empty() bool {
	return r.SourcePortIdentity.PortNumber == 0
}

// ForeignMasterTable is a fixed-capacity table of foreign master records.
// A sender's row is overwritten by each of its Announces and is never
// evicted on its own; Reset clears the whole table.
type ForeignMasterTable struct {
	records [DefaultForeignMasterCapacity]ForeignMasterRecord
}

// Update stores ann in the sender's row, claiming the first free slot for
// a new sender. It returns false when the table is full and the sender is
// unknown, in which case the update is dropped.
func (t *ForeignMasterTable) Update(ann *ptp.Announce) bool {
	free := -1
	for i := range t.records {
		r := &t.records[i]
		if r.Empty() {
			if free == -1 {
				free = i
			}
			continue
		}
		if r.SourcePortIdentity == ann.Header.SourcePortIdentity {
			r.Announce = *ann
			return true
		}
	}
	if free == -1 {
		return false
	}
	t.records[free] = ForeignMasterRecord{
		SourcePortIdentity: ann.Header.SourcePortIdentity,
		Announce:           *ann,
	}
	return true
}

// Len returns the number of known foreign masters
func (t *ForeignMasterTable) Len() int {
	n := 0
	for i := range t.records {
		if !t.records[i].Empty() {
			n++
		}
	}
	return n
}

// Best runs the dataset comparison across the table and returns the
// winning Announce, or nil when no foreign master is known.
func (t *ForeignMasterTable) Best(own ptp.ClockIdentity) *ptp.Announce {
	var best *ptp.Announce
	for i := range t.records {
		r := &t.records[i]
		if r.Empty() {
			continue
		}
		if best == nil || Dscmp(&r.Announce, best, own) > 0 {
			best = &r.Announce
		}
	}
	return best
}

// Reset drops all records
func (t *ForeignMasterTable) Reset() {
	t.records = [DefaultForeignMasterCapacity]ForeignMasterRecord{}
}
