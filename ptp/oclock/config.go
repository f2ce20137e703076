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
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// Config specifies ordinary clock run options
type Config struct {
	Iface                   string            `yaml:"iface"`
	DomainNumber            uint8             `yaml:"domain_number"`
	SlaveOnly               bool              `yaml:"slave_only"`
	TwoStep                 bool              `yaml:"two_step"`
	Priority1               uint8             `yaml:"priority1"`
	Priority2               uint8             `yaml:"priority2"`
	ClockClass              ptp.ClockClass    `yaml:"clock_class"`
	ClockAccuracy           ptp.ClockAccuracy `yaml:"clock_accuracy"`
	OffsetScaledLogVariance uint16            `yaml:"offset_scaled_log_variance"`
	LogAnnounceInterval     ptp.LogInterval   `yaml:"log_announce_interval"`
	LogSyncInterval         ptp.LogInterval   `yaml:"log_sync_interval"`
	LogMinDelayReqInterval  ptp.LogInterval   `yaml:"log_min_delay_req_interval"`
	AnnounceReceiptTimeout  uint8             `yaml:"announce_receipt_timeout"`
	CurrentUTCOffset        int16             `yaml:"current_utc_offset"`
	TickRateHz              uint32            `yaml:"tick_rate_hz"`
	MonitoringPort          int               `yaml:"monitoring_port"`
}

// DefaultConfig returns config for a master-capable two-step clock
func DefaultConfig() *Config {
	return &Config{
		Iface:                   "eth0",
		DomainNumber:            0,
		TwoStep:                 true,
		Priority1:               128,
		Priority2:               128,
		ClockClass:              ptp.ClockClassDefault,
		ClockAccuracy:           ptp.ClockAccuracyUnknown,
		OffsetScaledLogVariance: 0xffff,
		LogAnnounceInterval:     1, // 2s
		LogSyncInterval:         0, // 1s
		LogMinDelayReqInterval:  0, // 1s
		AnnounceReceiptTimeout:  3, // 3 announce intervals, 6s
		CurrentUTCOffset:        37,
		TickRateHz:              10,
		MonitoringPort:          8888,
	}
}

// Normalize adjusts dependent fields: a slave-only clock advertises
// itself as unusable for election.
func (c *Config) Normalize() {
	if c.SlaveOnly {
		c.ClockClass = ptp.ClockClassSlaveOnly
		c.Priority1 = 255
		c.Priority2 = 255
	}
}

// Validate sanity-checks the config
func (c *Config) Validate() error {
	if c.Iface == "" {
		return fmt.Errorf("iface must be set")
	}
	if c.TickRateHz == 0 {
		return fmt.Errorf("tick_rate_hz must be positive")
	}
	if c.AnnounceReceiptTimeout == 0 {
		return fmt.Errorf("announce_receipt_timeout must be positive")
	}
	return nil
}

// ReadConfig reads config from the file, on top of defaults
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	cData, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(cData, c); err != nil {
		return nil, err
	}
	c.Normalize()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
