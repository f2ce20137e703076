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
Package servo filters PTP offset and path delay measurements and steers
the local clock with a fixed-point PI controller. Small offsets are slewed
continuously, offsets beyond the step threshold reset the clock outright.
*/
package servo

// State provides the result of servo calculation
type State uint8

// All the states of servo
const (
	StateInit   State = 0
	StateJump   State = 1
	StateLocked State = 2
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateJump:
		return "JUMP"
	case StateLocked:
		return "LOCKED"
	}
	return "UNSUPPORTED"
}
