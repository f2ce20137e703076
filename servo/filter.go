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

import "math/bits"

// filterShift is the widest smoothing window, 2**4 samples
const filterShift = 4

// Filter is an exponential smoother with an adaptive window: while fewer
// than 2**filterShift samples have arrived the effective window grows
// with the sample count, so early samples are not drowned by zeros.
type Filter struct {
	n int32 // samples seen since reset
	s uint8 // configured shift
	y int32 // current filtered value
}

// NewFilter returns a reset Filter
func NewFilter() *Filter {
	f := &Filter{}
	f.Reset()
	return f
}

// Reset drops all accumulated state
func (f *Filter) Reset() {
	f.n = 0
	f.y = 0
	f.s = filterShift
}

// Sample feeds x through the filter and returns the new smoothed value.
// y = (y*(2**s - 1) + x) / 2**s with s capped at log2 of the sample count.
func (f *Filter) Sample(x int32) int32 {
	f.n++
	s := f.s
	if l := uint8(bits.Len32(uint32(f.n)) - 1); l < s {
		s = l
	}
	f.y = (f.y*((int32(1)<<s)-1) + x) >> s
	return f.y
}

// Value returns the current smoothed value
func (f *Filter) Value() int32 {
	return f.y
}

// Count returns how many samples arrived since reset
func (f *Filter) Count() int32 {
	return f.n
}
