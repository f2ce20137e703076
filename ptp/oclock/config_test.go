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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, uint8(128), cfg.Priority1)
	assert.Equal(t, ptp.ClockClassDefault, cfg.ClockClass)
	assert.Equal(t, ptp.LogInterval(1), cfg.LogAnnounceInterval)
	assert.Equal(t, uint32(10), cfg.TickRateHz)
}

func TestNormalizeSlaveOnly(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SlaveOnly = true
	cfg.Normalize()
	assert.Equal(t, ptp.ClockClassSlaveOnly, cfg.ClockClass)
	assert.Equal(t, uint8(255), cfg.Priority1)
	assert.Equal(t, uint8(255), cfg.Priority2)
}

func TestReadConfig(t *testing.T) {
	content := `
iface: eth1
domain_number: 4
slave_only: true
log_announce_interval: 2
monitoring_port: 9999
`
	path := filepath.Join(t.TempDir(), "ptpoc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := ReadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "eth1", cfg.Iface)
	assert.Equal(t, uint8(4), cfg.DomainNumber)
	assert.True(t, cfg.SlaveOnly)
	assert.Equal(t, ptp.LogInterval(2), cfg.LogAnnounceInterval)
	assert.Equal(t, 9999, cfg.MonitoringPort)
	// defaults survive for everything else, normalized for slave-only
	assert.Equal(t, ptp.ClockClassSlaveOnly, cfg.ClockClass)
	assert.Equal(t, uint32(10), cfg.TickRateHz)
}

func TestReadConfigMissingFile(t *testing.T) {
	_, err := ReadConfig("/nonexistent/ptpoc.yaml")
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Iface = ""
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.TickRateHz = 0
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.AnnounceReceiptTimeout = 0
	require.Error(t, cfg.Validate())
}
