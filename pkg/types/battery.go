package types

// PowerCurve maps battery SoC percent (0-100) to a derating factor in (0,1].
// Percent points outside the provided range are clamped to the nearest
// endpoint; points inside a gap take the nearest lower provided point.
type PowerCurve map[int]float64

// TemperatureCurve maps whole degrees C to a derating factor in [0,1].
type TemperatureCurve map[int]float64

// BatteryParams describes one battery/inverter pair as the simulator and the
// rate-curve code see it. All rates are kW, all energies kWh.
type BatteryParams struct {
	SOCMaxKWH  float64 `json:"socMaxKWH" yaml:"socMaxKWH"`
	ReserveKWH float64 `json:"reserveKWH" yaml:"reserveKWH"`

	RateMaxChargeKW    float64 `json:"rateMaxChargeKW" yaml:"rateMaxChargeKW"`
	RateMaxDischargeKW float64 `json:"rateMaxDischargeKW" yaml:"rateMaxDischargeKW"`

	// RateMinKW is the trickle floor; derating never goes below this.
	RateMinKW float64 `json:"rateMinKW" yaml:"rateMinKW"`

	// RateMaxScaling applies a global multiplier on top of the curves, one
	// each for charge and discharge.
	RateMaxScaling          float64 `json:"rateMaxScaling" yaml:"rateMaxScaling"`
	RateMaxScalingDischarge float64 `json:"rateMaxScalingDischarge" yaml:"rateMaxScalingDischarge"`

	ChargePowerCurve    PowerCurve `json:"chargePowerCurve" yaml:"chargePowerCurve"`
	DischargePowerCurve PowerCurve `json:"dischargePowerCurve" yaml:"dischargePowerCurve"`

	TemperatureChargeCurve    TemperatureCurve `json:"temperatureChargeCurve" yaml:"temperatureChargeCurve"`
	TemperatureDischargeCurve TemperatureCurve `json:"temperatureDischargeCurve" yaml:"temperatureDischargeCurve"`

	// Efficiencies in (0,1]. LossCharge applies on the way into the battery,
	// LossDischarge on the way out, InverterLoss at the AC boundary.
	LossCharge    float64 `json:"lossCharge" yaml:"lossCharge"`
	LossDischarge float64 `json:"lossDischarge" yaml:"lossDischarge"`
	InverterLoss  float64 `json:"inverterLoss" yaml:"inverterLoss"`

	InverterLimitKW float64 `json:"inverterLimitKW" yaml:"inverterLimitKW"`
	ExportLimitKW   float64 `json:"exportLimitKW" yaml:"exportLimitKW"`

	// Hybrid means PV is DC-coupled and can reach the battery without
	// crossing the AC inverter.
	Hybrid bool `json:"hybrid" yaml:"hybrid"`
}

// PercentLimit converts a kWh quantity into a whole percent of capacity,
// matching the granularity the inverter registers accept.
func (b BatteryParams) PercentLimit(kwh float64) float64 {
	if b.SOCMaxKWH <= 0 {
		return 0
	}
	p := kwh / b.SOCMaxKWH * 100.0
	if p > 100 {
		p = 100
	}
	if p < 0 {
		p = 0
	}
	// round to the nearest whole percent like the register write would
	return float64(int(p + 0.5))
}
