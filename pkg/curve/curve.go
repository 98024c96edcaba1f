// Package curve computes the (dis)charge rate a battery can actually sustain
// at a given state of charge and temperature, from the manufacturer power
// curve. All functions are pure; curves are immutable after construction.
package curve

import (
	"math"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// PercentLimit converts kWh to a whole percent of capacity.
func PercentLimit(kwh, maxKWH float64) int {
	if maxKWH <= 0 {
		return 0
	}
	p := kwh / maxKWH * 100.0
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	return int(p + 0.5)
}

// lookup returns the curve factor for key, clamping outside the provided
// domain to the nearest endpoint and inside gaps to the nearest lower point.
// An empty curve means no derating.
func lookup(curve map[int]float64, key int) float64 {
	if len(curve) == 0 {
		return 1.0
	}
	if v, ok := curve[key]; ok {
		return v
	}
	lowK, highK := math.MaxInt, math.MinInt
	below := math.MinInt
	for k := range curve {
		if k < lowK {
			lowK = k
		}
		if k > highK {
			highK = k
		}
		if k < key && k > below {
			below = k
		}
	}
	if key < lowK {
		return curve[lowK]
	}
	if key > highK {
		return curve[highK]
	}
	return curve[below]
}

// ChargeRate returns the charge rate (kW) deliverable this step: the
// requested rate clamped by the derated maximum and floored at the trickle
// rate. Global scaling is applied by the caller.
func ChargeRate(socKWH, requestedKW float64, p types.BatteryParams, temperatureC float64) float64 {
	socPercent := PercentLimit(socKWH, p.SOCMaxKWH)
	maxRate := p.RateMaxChargeKW *
		lookup(p.ChargePowerCurve, socPercent) *
		lookup(p.TemperatureChargeCurve, int(temperatureC))
	return math.Max(math.Min(requestedKW, maxRate), p.RateMinKW)
}

// DischargeRate is the discharge-side counterpart of ChargeRate with its own
// curve tables.
func DischargeRate(socKWH, requestedKW float64, p types.BatteryParams, temperatureC float64) float64 {
	socPercent := PercentLimit(socKWH, p.SOCMaxKWH)
	maxRate := p.RateMaxDischargeKW *
		lookup(p.DischargePowerCurve, socPercent) *
		lookup(p.TemperatureDischargeCurve, int(temperatureC))
	return math.Max(math.Min(requestedKW, maxRate), p.RateMinKW)
}

// simulateCharge walks the charge curve forward in 5-minute slices at the
// given rate setting and returns the SoC reached after minutes.
func simulateCharge(socKWH, rateKW, minutes float64, p types.BatteryParams, temperatureC float64) float64 {
	soc := socKWH
	for m := 0.0; m < minutes; m += 5 {
		slice := math.Min(5, minutes-m)
		rate := ChargeRate(soc, rateKW, p, temperatureC) * p.RateMaxScaling
		soc = math.Min(soc+rate*slice/60.0*p.LossCharge, p.SOCMaxKWH)
	}
	return soc
}

// FindChargeRate picks the charge rate for an in-progress charge window.
// In low-power mode it returns the slowest rate that still lifts the battery
// from socKWH to targetKWH before the window ends, leaving marginMinutes
// spare; otherwise the full rate. The second return is the rate after curve
// derating, ready for this step.
func FindChargeRate(minutesNow int, socKWH float64, window types.Window, targetKWH float64, p types.BatteryParams, lowPower bool, marginMinutes int, temperatureC float64) (settingKW, effectiveKW float64) {
	settingKW = p.RateMaxChargeKW
	minutesLeft := float64(window.EndMinute - minutesNow - marginMinutes)
	needKWH := targetKWH - socKWH

	if lowPower && needKWH > 0 && minutesLeft > 5 && len(p.ChargePowerCurve) > 0 && p.RateMaxChargeKW > 0 {
		// Walk candidate rates downward; keep the slowest one that finishes.
		step := p.RateMaxChargeKW / 20.0
		for rate := p.RateMaxChargeKW; rate >= p.RateMinKW; rate -= step {
			reached := simulateCharge(socKWH, rate, minutesLeft, p, temperatureC)
			if reached < targetKWH {
				break
			}
			settingKW = rate
		}
		settingKW = math.Max(settingKW, p.RateMinKW)
	}

	effectiveKW = ChargeRate(socKWH, settingKW, p, temperatureC) * p.RateMaxScaling
	return settingKW, effectiveKW
}
