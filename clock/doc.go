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
Package clock is the local clock abstraction the PTP engine steers.

It provides
  - Time, the signed seconds+nanoseconds value used for all PTP arithmetic
  - the Clock interface: read, step (Set) and slew (Adj) local time
  - TickClock, a software clock over a free-running monotonic Counter,
    matching how an embedded endpoint keeps time off a hardware tick register
  - SysClock (linux), which drives CLOCK_REALTIME through the
    CLOCK_ADJTIME syscall
*/
package clock
