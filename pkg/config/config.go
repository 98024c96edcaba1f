// Package config loads the planner's on-disk preset file: battery
// parameters, power curves, iBoost settings, feature flags, and balancer
// tuning.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/gridpilot/gridpilot/pkg/executor"
	"github.com/gridpilot/gridpilot/pkg/types"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration shape (YAML).
type Config struct {
	Battery types.BatteryParams    `yaml:"battery"`
	Flags   types.Flags            `yaml:"flags"`
	IBoost  types.IBoostParams     `yaml:"iboost"`
	Balance executor.BalanceConfig `yaml:"balance"`

	BestSOCKeepKWH    float64 `yaml:"bestSOCKeepKWH"`
	BestSOCKeepWeight float64 `yaml:"bestSOCKeepWeight"`
	BestSOCMinKWH     float64 `yaml:"bestSOCMinKWH"`

	MetricStandingCharge float64 `yaml:"metricStandingCharge"`
}

// Load reads and validates a config file, filling defaults for fields the
// file omits.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var c Config
	c.Flags = types.DefaultFlags()
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, err
	}
	c.fillDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) fillDefaults() {
	b := &c.Battery
	if b.LossCharge == 0 {
		b.LossCharge = 1.0
	}
	if b.LossDischarge == 0 {
		b.LossDischarge = 1.0
	}
	if b.InverterLoss == 0 {
		b.InverterLoss = 1.0
	}
	if b.RateMaxScaling == 0 {
		b.RateMaxScaling = 1.0
	}
	if b.RateMaxScalingDischarge == 0 {
		b.RateMaxScalingDischarge = 1.0
	}
	if c.IBoost.GasScale == 0 {
		c.IBoost.GasScale = 1.0
	}
}

// Validate rejects configurations the simulator cannot run with.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	b := c.Battery
	if b.SOCMaxKWH <= 0 {
		return errors.New("battery.socMaxKWH must be positive")
	}
	if b.ReserveKWH < 0 || b.ReserveKWH > b.SOCMaxKWH {
		return fmt.Errorf("battery.reserveKWH %v outside [0, %v]", b.ReserveKWH, b.SOCMaxKWH)
	}
	for name, loss := range map[string]float64{
		"lossCharge":    b.LossCharge,
		"lossDischarge": b.LossDischarge,
		"inverterLoss":  b.InverterLoss,
	} {
		if loss <= 0 || loss > 1 {
			return fmt.Errorf("battery.%s %v outside (0,1]", name, loss)
		}
	}
	if b.RateMaxChargeKW < 0 || b.RateMaxDischargeKW < 0 {
		return errors.New("battery rates must not be negative")
	}
	for pct, factor := range b.ChargePowerCurve {
		if pct < 0 || pct > 100 || factor <= 0 || factor > 1 {
			return fmt.Errorf("battery.chargePowerCurve[%d]=%v invalid", pct, factor)
		}
	}
	for pct, factor := range b.DischargePowerCurve {
		if pct < 0 || pct > 100 || factor <= 0 || factor > 1 {
			return fmt.Errorf("battery.dischargePowerCurve[%d]=%v invalid", pct, factor)
		}
	}
	if c.IBoost.Enable && c.IBoost.MaxEnergyKWH < 0 {
		return errors.New("iboost.maxEnergyKWH must not be negative")
	}
	return nil
}
