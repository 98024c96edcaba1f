package executor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var testMidnight = time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

func testCaps() inverter.Capabilities {
	return inverter.Capabilities{
		HasTimedPause:       true,
		CanSpanMidnight:     true,
		HasTargetSOC:        true,
		HasChargeEnableTime: true,
		HasReserveSOC:       true,
	}
}

func testState(socKWH float64) inverter.State {
	return inverter.State{
		SOCKWH:             socKWH,
		SOCPercent:         socKWH / 10.0 * 100.0,
		SOCMaxKWH:          10.0,
		ReserveKWH:         1.0,
		ReserveMaxPercent:  100,
		RateMaxChargeKW:    2.6,
		RateMaxDischargeKW: 2.6,
		InverterLimitKW:    3.6,
		ExportLimitKW:      5.0,
	}
}

func testBattery() types.BatteryParams {
	return types.BatteryParams{
		SOCMaxKWH:               10.0,
		ReserveKWH:              1.0,
		RateMaxChargeKW:         2.6,
		RateMaxDischargeKW:      2.6,
		RateMaxScaling:          1.0,
		RateMaxScalingDischarge: 1.0,
		LossCharge:              1.0,
		LossDischarge:           1.0,
		InverterLoss:            1.0,
		InverterLimitKW:         3.6,
		ExportLimitKW:           5.0,
	}
}

func baseTick(minutesNow int) TickInputs {
	return TickInputs{
		MinutesNow:  minutesNow,
		MidnightUTC: testMidnight,
		Flags:       types.DefaultFlags(),
		Battery:     testBattery(),
	}
}

func setup(t *testing.T, soc float64) (*Executor, *inverter.Mock, *inverter.Fleet) {
	t.Helper()
	m := inverter.NewMock("inv-0", testCaps(), testState(soc))
	fleet := inverter.NewFleet(m)
	require.NoError(t, fleet.Refresh(context.Background()))
	return New(fleet), m, fleet
}

func TestTickDemandNoPlan(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	outcome := exec.Tick(context.Background(), baseTick(600))

	assert.Equal(t, types.StatusDemand, outcome.Status)
	regs := m.Registers()
	assert.False(t, regs.ChargeWindowEnabled)
	assert.False(t, regs.ForceExport)
	assert.False(t, regs.PauseCharge)
	assert.False(t, regs.PauseDischarge)
	assert.Equal(t, 2.6, regs.ChargeRateKW)
	assert.Equal(t, 2.6, regs.DischargeRateKW)
}

func TestTickHolidayStatus(t *testing.T) {
	exec, _, _ := setup(t, 5.0)
	in := baseTick(600)
	in.Flags.HolidayDaysLeft = 2
	outcome := exec.Tick(context.Background(), in)
	assert.Equal(t, types.StatusDemandHoliday, outcome.Status)
}

func TestTickReadOnly(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.Flags.ReadOnly = true
	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusReadOnly, outcome.Status)
	assert.Empty(t, m.Calls, "read-only must not touch the inverter")
}

func TestTickCalibration(t *testing.T) {
	m := inverter.NewMock("inv-0", testCaps(), func() inverter.State {
		st := testState(5.0)
		st.InCalibration = true
		return st
	}())
	fleet := inverter.NewFleet(m)
	require.NoError(t, fleet.Refresh(context.Background()))
	exec := New(fleet)

	outcome := exec.Tick(context.Background(), baseTick(600))
	assert.Equal(t, types.StatusCalibration, outcome.Status)
	regs := m.Registers()
	assert.Equal(t, 100.0, regs.BatteryTargetPercent)
	assert.Equal(t, 0.0, regs.ReservePercent)
	assert.Equal(t, 2.6, regs.ChargeRateKW)
	assert.Equal(t, 2.6, regs.DischargeRateKW)
}

func TestTickActiveCharge(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ChargeLimitsKWH = []float64{10.0}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusCharging, outcome.Status)
	regs := m.Registers()
	assert.True(t, regs.ChargeWindowEnabled)
	assert.Equal(t, testMidnight.Add(590*time.Minute), regs.ChargeWindowStart)
	assert.Equal(t, testMidnight.Add(720*time.Minute), regs.ChargeWindowEnd)
	assert.Equal(t, 100.0, regs.ChargeImmediatePercent)
	assert.False(t, regs.ChargeImmediateFreeze)
	assert.Equal(t, 100.0, regs.BatteryTargetPercent)
	assert.True(t, regs.TargetIsCharging)
}

func TestTickFreezeCharge(t *testing.T) {
	// Charge limit equal to reserve with SoC above it: S4.
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ChargeLimitsKWH = []float64{1.0} // == aggregate reserve

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusFreezeCharging, outcome.Status)
	assert.Contains(t, outcome.StatusExtra, "target 50%")
	regs := m.Registers()
	assert.False(t, regs.ChargeWindowEnabled, "freeze must disable the charge window")
	assert.True(t, regs.PauseDischarge, "timed pause holds the level")
	assert.Equal(t, 50.0, regs.ChargeImmediatePercent)
	assert.True(t, regs.ChargeImmediateFreeze)
	// With timed pause the reserve is left alone.
	assert.Equal(t, 0.0, regs.ReservePercent)
}

func TestTickFreezeChargeWithoutPause(t *testing.T) {
	// No timed pause: hold is implemented by raising reserve above SoC.
	caps := testCaps()
	caps.HasTimedPause = false
	m := inverter.NewMock("inv-0", caps, testState(5.0))
	fleet := inverter.NewFleet(m)
	require.NoError(t, fleet.Refresh(context.Background()))
	exec := New(fleet)

	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ChargeLimitsKWH = []float64{1.0}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusFreezeCharging, outcome.Status)
	regs := m.Registers()
	assert.Equal(t, 51.0, regs.ReservePercent, "reserve raised to soc+1 to hold")
	assert.Equal(t, 0.0, regs.DischargeRateKW)
}

func TestTickChargeWindowUpcoming(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 620, EndMinute: 720}}
	in.ChargeLimitsKWH = []float64{10.0}

	outcome := exec.Tick(context.Background(), in)

	// Within SetWindowMinutes of the start: programmed but not charging.
	assert.Equal(t, types.StatusDemand, outcome.Status)
	regs := m.Registers()
	assert.True(t, regs.ChargeWindowEnabled)
	assert.Equal(t, 0.0, regs.ChargeImmediatePercent)
}

func TestTickChargeWindowFarAway(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 900, EndMinute: 960}}
	in.ChargeLimitsKWH = []float64{10.0}

	exec.Tick(context.Background(), in)
	assert.False(t, m.Registers().ChargeWindowEnabled)
}

func TestTickActiveExport(t *testing.T) {
	exec, m, _ := setup(t, 8.0)
	in := baseTick(600)
	in.ExportWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ExportLimits = []float64{30}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusExporting, outcome.Status)
	regs := m.Registers()
	assert.True(t, regs.ForceExport)
	assert.Equal(t, 2.6, regs.DischargeRateKW)
	assert.Equal(t, 30.0, regs.ExportImmediatePercent)
}

func TestTickFreezeExport(t *testing.T) {
	exec, m, _ := setup(t, 8.0)
	in := baseTick(600)
	in.ExportWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ExportLimits = []float64{99}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusFreezeExporting, outcome.Status)
	regs := m.Registers()
	assert.False(t, regs.ForceExport)
	assert.True(t, regs.PauseCharge, "freeze export blocks charging")
	assert.True(t, regs.ExportImmediateFreeze)
}

func TestTickHoldExport(t *testing.T) {
	// SoC already below the export floor.
	exec, m, _ := setup(t, 2.0)
	in := baseTick(600)
	in.ExportWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ExportLimits = []float64{40}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusHoldExporting, outcome.Status)
	assert.False(t, m.Registers().ForceExport)
}

func TestTickHoldForCar(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.Cars = []types.CarPlan{{
		Slots:    []types.CarSlot{{Window: types.Window{StartMinute: 540, EndMinute: 660}, KWH: 14}},
		SOCKWH:   5,
		LimitKWH: 60,
		Loss:     1.0,
	}}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusHoldForCar, outcome.Status)
	assert.True(t, m.Registers().PauseDischarge)
}

func TestTickHoldForIBoost(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	in.IBoost = types.IBoostParams{Enable: true, PreventDischarge: true}
	in.IBoostRunningFull = true

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusHoldForIBoost, outcome.Status)
	assert.True(t, m.Registers().PauseDischarge)
}

func TestTickIdempotent(t *testing.T) {
	// P7: a second tick with unchanged inputs writes nothing.
	cases := []struct {
		name string
		mut  func(*TickInputs)
	}{
		{"demand", func(in *TickInputs) {}},
		{"charging", func(in *TickInputs) {
			in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
			in.ChargeLimitsKWH = []float64{10.0}
		}},
		{"freeze charge", func(in *TickInputs) {
			in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
			in.ChargeLimitsKWH = []float64{1.0}
		}},
		{"exporting", func(in *TickInputs) {
			in.ExportWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
			in.ExportLimits = []float64{30}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			exec, _, fleet := setup(t, 8.0)
			in := baseTick(600)
			tc.mut(&in)

			exec.Tick(context.Background(), in)

			require.NoError(t, fleet.Refresh(context.Background()))
			second := exec.Tick(context.Background(), in)
			for id, writes := range second.RegisterWrites {
				assert.Zero(t, writes, "inverter %s wrote on an unchanged tick", id)
			}
		})
	}
}

func TestTickPlanInconsistent(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	in := baseTick(600)
	// Overlapping export windows survive normalisation: fatal for the tick.
	in.ExportWindows = []types.Window{
		{StartMinute: 600, EndMinute: 700},
		{StartMinute: 650, EndMinute: 750},
	}
	in.ExportLimits = []float64{30, 30}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, types.StatusDemand, outcome.Status)
	assert.NotEmpty(t, outcome.Error)
	assert.Empty(t, m.Calls, "inconsistent plan must not write")
}

func TestTickResetPrelude(t *testing.T) {
	exec, m, _ := setup(t, 5.0)

	// Leave a stale force export behind, then request a reset.
	require.NoError(t, m.AdjustForceExport(context.Background(), true,
		testMidnight.Add(9*time.Hour), testMidnight.Add(10*time.Hour)))
	m.ResetWriteCount()

	exec.RequestReset("mode")
	exec.Tick(context.Background(), baseTick(600))

	regs := m.Registers()
	assert.False(t, regs.ForceExport)
	assert.Equal(t, 100.0, regs.BatteryTargetPercent)
	assert.Equal(t, 0.0, regs.ReservePercent)
}

func TestTickTransientFailureContinues(t *testing.T) {
	exec, m, _ := setup(t, 5.0)
	m.FailWrites = 1
	m.FailErr = context.DeadlineExceeded

	in := baseTick(600)
	in.ChargeWindows = []types.Window{{StartMinute: 590, EndMinute: 720}}
	in.ChargeLimitsKWH = []float64{10.0}

	outcome := exec.Tick(context.Background(), in)

	assert.Equal(t, 1, outcome.WriteFailures)
	assert.Equal(t, types.StatusCharging, outcome.Status, "tick continues past a failed write")
	assert.True(t, outcome.LastApplied.IsZero())
}
