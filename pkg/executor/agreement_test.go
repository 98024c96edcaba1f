package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/sim"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestSimulatorExecutorAgreement drives the executor against a mock whose
// state follows the simulator's step-by-step trace and checks that the
// executor lands in the regime the simulator predicted for that step.
func TestSimulatorExecutorAgreement(t *testing.T) {
	ctx := context.Background()
	horizon := 8 * 60

	battery := testBattery()
	in := sim.Inputs{
		MinutesNow:         0,
		HorizonMinutes:     horizon,
		MidnightUTC:        testMidnight,
		Battery:            battery,
		Flags:              types.DefaultFlags(),
		SOCKWH:             5.0,
		ChargeRateNowKW:    battery.RateMaxChargeKW,
		DischargeRateNowKW: battery.RateMaxDischargeKW,
		RateImport:         make(sim.Series, horizon/sim.Step),
		RateExport:         make(sim.Series, horizon/sim.Step),
	}
	plan := sim.Plan{
		ChargeWindows:   []types.Window{{StartMinute: 120, EndMinute: 240}},
		ChargeLimitsKWH: []float64{10.0},
		ExportWindows:   []types.Window{{StartMinute: 300, EndMinute: 360}},
		ExportLimits:    []float64{20},
	}

	res := sim.Run(in, plan, sim.ModeBest)
	require.NotNil(t, res.Trace)

	regimeOf := func(status string) string {
		switch {
		case strings.Contains(status, "harging"):
			return "charge"
		case strings.Contains(status, "xporting"):
			return "export"
		default:
			return "demand"
		}
	}

	for _, minute := range []int{60, 130, 230, 310, 400} {
		i := minute / sim.Step
		socAtStep := res.Trace.SOCKWH[i]

		st := testState(socAtStep)
		st.SOCPercent = socAtStep / st.SOCMaxKWH * 100.0
		m := inverter.NewMock("inv-0", testCaps(), st)
		fleet := inverter.NewFleet(m)
		require.NoError(t, fleet.Refresh(ctx))
		exec := New(fleet)

		tick := baseTick(minute)
		tick.ChargeWindows = plan.ChargeWindows
		tick.ChargeLimitsKWH = plan.ChargeLimitsKWH
		tick.ExportWindows = plan.ExportWindows
		tick.ExportLimits = plan.ExportLimits

		outcome := exec.Tick(ctx, tick)

		var expected string
		switch state := res.Trace.BatteryState[i]; state[0] {
		case 'f':
			if state == "f+" {
				expected = "charge"
			} else {
				expected = "export"
			}
		default:
			expected = "demand"
		}
		assert.Equal(t, expected, regimeOf(outcome.Status), "minute %d: sim state %q vs executor status %q", minute, res.Trace.BatteryState[i], outcome.Status)
	}
}
