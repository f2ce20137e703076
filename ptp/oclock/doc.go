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
Package oclock is a single-port PTPv2 (IEEE 1588-2008) ordinary clock:
the port state machine, the inbound message handlers, timer-driven
message issuance and the glue between BMC election and the clock servo.

The engine is single-threaded cooperative: Run interleaves received
packets and periodic ticks on one goroutine, every handler runs to
completion. Master operation emits Announce and Sync on timer expiry,
followed by Follow_Up when configured as a two-step clock, and answers
Delay_Req. Slave operation tracks the elected
parent through UNCALIBRATED into SLAVE, feeding Sync/Follow_Up and
Delay_Req/Delay_Resp exchanges into the servo.
*/
package oclock
