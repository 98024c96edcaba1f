package types

import "time"

// ChargePlan is an ordered set of charge windows with per-window SoC targets
// in kWh. A target equal to the battery reserve marks the window as freeze
// charge; a target of zero disables the window.
type ChargePlan struct {
	Windows   []Window  `json:"windows"`
	LimitsKWH []float64 `json:"limitsKWH"`
}

// ExportPlan is an ordered set of export windows with per-window limits as a
// percent of capacity. 100 is inactive, 99 freezes export, values below 99
// force export down to that percent. A fractional part encodes low-power
// export scaling of 1 - frac.
type ExportPlan struct {
	Windows []Window  `json:"windows"`
	Limits  []float64 `json:"limits"`
}

// PlanChargeWindow is the serialised form of one charge window.
type PlanChargeWindow struct {
	StartMinute      int     `json:"startMinute"`
	EndMinute        int     `json:"endMinute"`
	TargetSOCPercent float64 `json:"targetSOCPercent"`
	RateScaling      float64 `json:"rateScaling,omitempty"`
}

// PlanExportWindow is the serialised form of one export window.
type PlanExportWindow struct {
	StartMinute  int     `json:"startMinute"`
	EndMinute    int     `json:"endMinute"`
	LimitPercent float64 `json:"limitPercent"`
}

// PlanArtifact is the chosen plan as persisted for inspection and re-read by
// the executor on every tick. It is immutable between planner invocations.
type PlanArtifact struct {
	HorizonOrigin time.Time `json:"horizonOrigin"`

	ChargeWindows []PlanChargeWindow `json:"chargeWindows"`
	ExportWindows []PlanExportWindow `json:"exportWindows"`

	CarWindows    [][]CarSlot  `json:"carWindows,omitempty"`
	IBoostWindows []IBoostSlot `json:"iboostWindows,omitempty"`

	Status      string `json:"status"`
	StatusExtra string `json:"statusExtra,omitempty"`
}

// ChargePlan converts the artifact's charge windows into the kWh frame used
// by the simulator and executor, given the aggregate battery capacity.
func (p PlanArtifact) ChargePlan(socMaxKWH float64) ChargePlan {
	out := ChargePlan{
		Windows:   make([]Window, 0, len(p.ChargeWindows)),
		LimitsKWH: make([]float64, 0, len(p.ChargeWindows)),
	}
	for _, w := range p.ChargeWindows {
		out.Windows = append(out.Windows, Window{StartMinute: w.StartMinute, EndMinute: w.EndMinute})
		out.LimitsKWH = append(out.LimitsKWH, w.TargetSOCPercent*socMaxKWH/100.0)
	}
	return out
}

// ExportPlan converts the artifact's export windows into the executor frame.
func (p PlanArtifact) ExportPlan() ExportPlan {
	out := ExportPlan{
		Windows: make([]Window, 0, len(p.ExportWindows)),
		Limits:  make([]float64, 0, len(p.ExportWindows)),
	}
	for _, w := range p.ExportWindows {
		out.Windows = append(out.Windows, Window{StartMinute: w.StartMinute, EndMinute: w.EndMinute})
		out.Limits = append(out.Limits, w.LimitPercent)
	}
	return out
}
