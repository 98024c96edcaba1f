// Package forecast defines the read-only rate and forecast providers the
// planner consumes, plus the gap-filling rules for missing data. Concrete
// vendor clients live outside this module; anything returning dense
// 5-minute series can feed the simulator.
package forecast

import (
	"context"
	"time"

	"github.com/gridpilot/gridpilot/pkg/sim"
)

// Rates is a dense rate bundle over the horizon in the absolute minute
// frame. Gas and Carbon may be nil when the tariff has no gas component or
// carbon data is disabled.
type Rates struct {
	Import sim.Series
	Export sim.Series
	Gas    sim.Series
	Carbon sim.Series
}

// Forecasts carries the PV and load series in the forecast frame, central
// and 10th-percentile variants of each.
type Forecasts struct {
	PVCentral   sim.Series
	PV10        sim.Series
	LoadCentral sim.Series
	Load10      sim.Series
}

// RateProvider fetches tariff rates over the horizon. Calls are idempotent.
type RateProvider interface {
	FetchRates(ctx context.Context, now time.Time) (Rates, error)
}

// ForecastProvider fetches PV and load forecasts over the horizon.
type ForecastProvider interface {
	FetchForecast(ctx context.Context, now time.Time) (Forecasts, error)
}

// FillPV pads or extends a PV series to steps entries. Missing data becomes
// zero: absent sun is the conservative assumption.
func FillPV(s sim.Series, steps int) sim.Series {
	out := make(sim.Series, steps)
	copy(out, s)
	return out
}

// FillLoad pads or extends a load series to steps entries. Missing steps get
// the average of the known data so a gap never reads as a free period;
// a fully empty series stays zero.
func FillLoad(s sim.Series, steps int) sim.Series {
	out := make(sim.Series, steps)
	n := copy(out, s)
	if n == 0 || n >= steps {
		return out
	}
	var sum float64
	for _, v := range out[:n] {
		sum += v
	}
	avg := sum / float64(n)
	for i := n; i < steps; i++ {
		out[i] = avg
	}
	return out
}

// FillRates extends a rate series to steps entries by carrying the last
// known rate forward; an empty series stays zero.
func FillRates(s sim.Series, steps int) sim.Series {
	out := make(sim.Series, steps)
	n := copy(out, s)
	if n == 0 || n >= steps {
		return out
	}
	last := out[n-1]
	for i := n; i < steps; i++ {
		out[i] = last
	}
	return out
}

// Static wraps pre-built series as providers, for tests and offline runs.
type Static struct {
	Rates     Rates
	Forecasts Forecasts
}

func (s Static) FetchRates(ctx context.Context, now time.Time) (Rates, error) {
	return s.Rates, nil
}

func (s Static) FetchForecast(ctx context.Context, now time.Time) (Forecasts, error) {
	return s.Forecasts, nil
}
