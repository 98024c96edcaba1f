package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gridpilot.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
battery:
  socMaxKWH: 9.5
  reserveKWH: 0.4
  rateMaxChargeKW: 2.6
  rateMaxDischargeKW: 2.6
  inverterLimitKW: 3.6
  exportLimitKW: 5.0
  chargePowerCurve:
    95: 0.5
    100: 0.1
iboost:
  enable: true
  maxPowerKW: 2.4
  maxEnergyKWH: 3.0
balance:
  discharge: true
  thresholdDischargePercent: 2.0
bestSOCKeepKWH: 1.0
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9.5, cfg.Battery.SOCMaxKWH)
	assert.Equal(t, 0.5, cfg.Battery.ChargePowerCurve[95])
	assert.Equal(t, 1.0, cfg.Battery.LossCharge, "loss defaults to lossless")
	assert.Equal(t, 1.0, cfg.Battery.RateMaxScaling)
	assert.Equal(t, 1.0, cfg.IBoost.GasScale)
	assert.True(t, cfg.Balance.Discharge)
	assert.Equal(t, 1.0, cfg.BestSOCKeepKWH)
	// flags keep their defaults when the file does not mention them
	assert.True(t, cfg.Flags.SetChargeWindow)
	assert.Equal(t, 30, cfg.Flags.SetWindowMinutes)
}

func TestLoadFlagOverride(t *testing.T) {
	path := writeConfig(t, `
battery:
  socMaxKWH: 10
flags:
  setChargeWindow: false
  setWindowMinutes: 15
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Flags.SetChargeWindow)
	assert.Equal(t, 15, cfg.Flags.SetWindowMinutes)
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"missing capacity", "battery: {}"},
		{"reserve above capacity", "battery: {socMaxKWH: 5, reserveKWH: 6}"},
		{"loss above one", "battery: {socMaxKWH: 5, lossCharge: 1.5}"},
		{"curve factor out of range", "battery: {socMaxKWH: 5, chargePowerCurve: {95: 1.4}}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
