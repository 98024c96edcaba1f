package sim

import (
	"time"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Step is the simulator time quantum in minutes.
const Step = 5

// Series is a dense per-step series. Index i covers minutes [i*Step,
// (i+1)*Step). Forecast-frame series are indexed by minute offset from the
// forecast origin; rate-frame series by absolute minutes from the midnight
// anchor.
type Series []float64

// At returns the value for the step containing minute, or 0 outside the
// series.
func (s Series) At(minute int) float64 {
	i := minute / Step
	if minute < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// AtOr returns the value for the step containing minute, or def outside the
// series.
func (s Series) AtOr(minute int, def float64) float64 {
	i := minute / Step
	if minute < 0 || i >= len(s) {
		return def
	}
	return s[i]
}

// Mode selects how much the simulator records.
type Mode int

const (
	// ModeScore is the fast path used by the outer search: outcome only, no
	// traces, no standing charge.
	ModeScore Mode = iota
	// ModeBest is the final-plan evaluation: traces, standing charge, and
	// low-power charge-rate tuning when the flags enable it.
	ModeBest
	// ModeTest simulates exactly as ModeBest; it is used by tests and
	// diagnostics.
	ModeTest
)

// Inputs are the immutable inputs to one simulation call. Callers own the
// value; the simulator never mutates it.
type Inputs struct {
	MinutesNow     int
	HorizonMinutes int

	// EndRecordMinute bounds the scoring window (relative minutes); steps at
	// or past it still simulate but no longer update the outcome.
	EndRecordMinute int

	MidnightUTC time.Time

	Battery types.BatteryParams
	Flags   types.Flags

	// Live battery state at MinutesNow.
	SOCKWH              float64
	ChargeRateNowKW     float64
	DischargeRateNowKW  float64
	BatteryTemperatureC float64

	// TemperatureForecast is an optional per-step battery temperature
	// prediction in the forecast frame; missing steps fall back to the
	// current temperature.
	TemperatureForecast Series

	// Today-so-far accumulators carried into the horizon totals.
	ImportSoFarKWH  float64
	ExportSoFarKWH  float64
	LoadSoFarKWH    float64
	PVSoFarKWH      float64
	IBoostTodayKWH  float64
	CostTodaySoFar  float64
	CarbonSoFarG    float64

	// Forecast-frame series (offset from MinutesNow).
	PV     Series
	PV10   Series
	Load   Series
	Load10 Series

	// Rate-frame series (absolute minutes from the midnight anchor).
	RateImport Series
	RateExport Series
	RateGas    Series

	// CarbonIntensity is in the forecast frame, gCO2/kWh.
	CarbonIntensity Series
	CarbonEnable    bool

	// AlertKeep is a rate-frame keep-percent override raised by grid alerts.
	AlertKeep Series

	Cars   []types.CarPlan
	IBoost types.IBoostParams

	// Keep-penalty configuration (kWh floor, weighting, hard minimum).
	BestSOCKeepKWH    float64
	BestSOCKeepWeight float64
	BestSOCMinKWH     float64

	// MetricStandingCharge is added once per simulated day in best/test mode.
	MetricStandingCharge float64
}

// Plan is the candidate plan a single simulation evaluates.
type Plan struct {
	ChargeLimitsKWH []float64
	ChargeWindows   []types.Window
	ExportLimits    []float64
	ExportWindows   []types.Window
	PV10            bool
}
