package inverter

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/curve"
)

// Fleet is the set of inverters one executor tick manages, refreshed
// together so the aggregate frame the planner reasons in is consistent.
type Fleet struct {
	Members []Controls

	// States holds the last Refresh result per member, index-aligned.
	States []State
}

// NewFleet wraps the given inverters.
func NewFleet(members ...Controls) *Fleet {
	return &Fleet{
		Members: members,
		States:  make([]State, len(members)),
	}
}

// Refresh reads every member. The first error aborts: a tick must not run on
// a partially refreshed fleet.
func (f *Fleet) Refresh(ctx context.Context) error {
	for i, inv := range f.Members {
		st, err := inv.Refresh(ctx)
		if err != nil {
			return err
		}
		f.States[i] = st
	}
	return nil
}

// Aggregate is the virtual single battery the planner operates on: plain
// sums of the per-inverter capacities and limits.
type Aggregate struct {
	SOCKWH             float64 `json:"socKWH"`
	SOCMaxKWH          float64 `json:"socMaxKWH"`
	ReserveKWH         float64 `json:"reserveKWH"`
	RateMaxChargeKW    float64 `json:"rateMaxChargeKW"`
	RateMaxDischargeKW float64 `json:"rateMaxDischargeKW"`
	InverterLimitKW    float64 `json:"inverterLimitKW"`
	ExportLimitKW      float64 `json:"exportLimitKW"`
	PVPowerKW          float64 `json:"pvPowerKW"`
	LoadPowerKW        float64 `json:"loadPowerKW"`
}

// Aggregate sums the last refreshed states.
func (f *Fleet) Aggregate() Aggregate {
	var a Aggregate
	for _, st := range f.States {
		a.SOCKWH += st.SOCKWH
		a.SOCMaxKWH += st.SOCMaxKWH
		a.ReserveKWH += st.ReserveKWH
		a.RateMaxChargeKW += st.RateMaxChargeKW
		a.RateMaxDischargeKW += st.RateMaxDischargeKW
		a.InverterLimitKW += st.InverterLimitKW
		a.ExportLimitKW += st.ExportLimitKW
		a.PVPowerKW += st.PVPowerKW
		a.LoadPowerKW += st.LoadPowerKW
	}
	return a
}

// SOCPercent is the aggregate state of charge as a whole percent.
func (a Aggregate) SOCPercent() float64 {
	return float64(curve.PercentLimit(a.SOCKWH, a.SOCMaxKWH))
}
