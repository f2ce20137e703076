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
	"github.com/prometheus/client_golang/prometheus"

	"github.com/opentimelab/ptpoc/clock"
	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// drop reasons
const (
	dropMalformed        = "malformed"
	dropOutOfOrder       = "out_of_order"
	dropUnsupported      = "unsupported"
	dropWrongDomain      = "wrong_domain"
	dropOwnMessage       = "own_message"
	dropForeignTableFull = "foreign_table_full"
)

// Stats exports the counters and gauges of one ordinary clock port
type Stats struct {
	rx        *prometheus.CounterVec
	tx        *prometheus.CounterVec
	drops     *prometheus.CounterVec
	steps     prometheus.Counter
	offset    prometheus.Gauge
	pathDelay prometheus.Gauge
	drift     prometheus.Gauge
	portState prometheus.Gauge
}

// NewStats creates the metric set and registers it with reg
func NewStats(reg prometheus.Registerer) *Stats {
	s := &Stats{
		rx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptpoc_rx_packets_total",
			Help: "Received PTP messages by type",
		}, []string{"type"}),
		tx: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptpoc_tx_packets_total",
			Help: "Sent PTP messages by type",
		}, []string{"type"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ptpoc_dropped_packets_total",
			Help: "Dropped inbound PTP messages by reason",
		}, []string{"reason"}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ptpoc_clock_steps_total",
			Help: "Hard clock steps performed by the servo",
		}),
		offset: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpoc_offset_from_master_ns",
			Help: "Filtered offset from master in nanoseconds",
		}),
		pathDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpoc_mean_path_delay_ns",
			Help: "Filtered mean path delay in nanoseconds",
		}),
		drift: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpoc_observed_drift_ns",
			Help: "Servo integral term in nanoseconds per update",
		}),
		portState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ptpoc_port_state",
			Help: "Current port state, values of the PTP state enumeration",
		}),
	}
	reg.MustRegister(s.rx, s.tx, s.drops, s.steps, s.offset, s.pathDelay, s.drift, s.portState)
	return s
}

// IncRX counts a received message
func (s *Stats) IncRX(t ptp.MessageType) {
	s.rx.WithLabelValues(t.String()).Inc()
}

// IncTX counts a sent message
func (s *Stats) IncTX(t ptp.MessageType) {
	s.tx.WithLabelValues(t.String()).Inc()
}

// IncDrop counts a dropped inbound message
func (s *Stats) IncDrop(reason string) {
	s.drops.WithLabelValues(reason).Inc()
}

// IncSteps counts a hard clock step
func (s *Stats) IncSteps() {
	s.steps.Inc()
}

// SetServo publishes the servo estimates
func (s *Stats) SetServo(offset, pathDelay clock.Time, drift int32) {
	s.offset.Set(float64(offset.Nanoseconds()))
	s.pathDelay.Set(float64(pathDelay.Nanoseconds()))
	s.drift.Set(float64(drift))
}

// SetPortState publishes the current port state
func (s *Stats) SetPortState(state ptp.PortState) {
	s.portState.Set(float64(state))
}
