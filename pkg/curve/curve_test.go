package curve

import (
	"testing"

	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testParams() types.BatteryParams {
	return types.BatteryParams{
		SOCMaxKWH:          10.0,
		RateMaxChargeKW:    2.6,
		RateMaxDischargeKW: 2.6,
		RateMinKW:          0.05,
		RateMaxScaling:     1.0,
		LossCharge:         1.0,
		ChargePowerCurve: types.PowerCurve{
			90: 0.8, 95: 0.5, 100: 0.1,
		},
		DischargePowerCurve: types.PowerCurve{
			0: 0.1, 5: 0.5, 10: 0.8,
		},
	}
}

func TestPercentLimit(t *testing.T) {
	assert.Equal(t, 50, PercentLimit(5.0, 10.0))
	assert.Equal(t, 100, PercentLimit(12.0, 10.0))
	assert.Equal(t, 0, PercentLimit(-1.0, 10.0))
	assert.Equal(t, 0, PercentLimit(5.0, 0))
	// rounds to the nearest whole percent
	assert.Equal(t, 46, PercentLimit(4.56, 10.0))
}

func TestChargeRate(t *testing.T) {
	p := testParams()

	t.Run("clamps below the curve domain", func(t *testing.T) {
		got := ChargeRate(5.0, p.RateMaxChargeKW, p, 20)
		assert.InDelta(t, 2.6*0.8, got, 1e-9)
	})

	t.Run("derated near full", func(t *testing.T) {
		got := ChargeRate(9.5, p.RateMaxChargeKW, p, 20)
		assert.InDelta(t, 2.6*0.5, got, 1e-9)
	})

	t.Run("clamps above the curve domain", func(t *testing.T) {
		got := ChargeRate(10.0, p.RateMaxChargeKW, p, 20)
		assert.InDelta(t, 2.6*0.1, got, 1e-9)
	})

	t.Run("gap uses the nearest lower point", func(t *testing.T) {
		got := ChargeRate(9.2, p.RateMaxChargeKW, p, 20)
		assert.InDelta(t, 2.6*0.8, got, 1e-9)
	})

	t.Run("never below the trickle floor", func(t *testing.T) {
		got := ChargeRate(5.0, 0.0, p, 20)
		assert.InDelta(t, p.RateMinKW, got, 1e-9)
	})

	t.Run("temperature derate stacks", func(t *testing.T) {
		cold := p
		cold.TemperatureChargeCurve = types.TemperatureCurve{0: 0.25, 20: 1.0}
		got := ChargeRate(5.0, cold.RateMaxChargeKW, cold, 0)
		assert.InDelta(t, 2.6*0.8*0.25, got, 1e-9)
	})
}

func TestDischargeRate(t *testing.T) {
	p := testParams()

	got := DischargeRate(0.3, p.RateMaxDischargeKW, p, 20)
	assert.InDelta(t, 2.6*0.1, got, 1e-9, "near empty the discharge curve bites")

	got = DischargeRate(5.0, p.RateMaxDischargeKW, p, 20)
	assert.InDelta(t, 2.6*0.8, got, 1e-9)
}

func TestFindChargeRate(t *testing.T) {
	p := testParams()
	win := types.Window{StartMinute: 0, EndMinute: 240}

	t.Run("full rate when low power off", func(t *testing.T) {
		setting, effective := FindChargeRate(0, 5.0, win, 10.0, p, false, 10, 20)
		assert.InDelta(t, 2.6, setting, 1e-9)
		assert.Greater(t, effective, 0.0)
	})

	t.Run("low power picks a slower completing rate", func(t *testing.T) {
		// 2 kWh to add over nearly 4 hours: far less than max rate needed.
		setting, _ := FindChargeRate(0, 8.0, win, 10.0, p, true, 10, 20)
		assert.Less(t, setting, 2.6)
		assert.GreaterOrEqual(t, setting, p.RateMinKW)

		// The chosen rate must still complete in the window.
		reached := simulateCharge(8.0, setting, float64(win.EndMinute-10), p, 20)
		assert.GreaterOrEqual(t, reached, 10.0-1e-9)
	})

	t.Run("short window falls back to full rate", func(t *testing.T) {
		tight := types.Window{StartMinute: 0, EndMinute: 10}
		setting, _ := FindChargeRate(0, 5.0, tight, 10.0, p, true, 10, 20)
		assert.InDelta(t, 2.6, setting, 1e-9)
	})

	t.Run("already at target keeps full rate", func(t *testing.T) {
		setting, _ := FindChargeRate(0, 10.0, win, 10.0, p, true, 10, 20)
		assert.InDelta(t, 2.6, setting, 1e-9)
	})
}

func TestLookupEmptyCurve(t *testing.T) {
	p := testParams()
	p.ChargePowerCurve = nil
	got := ChargeRate(9.9, p.RateMaxChargeKW, p, 20)
	require.InDelta(t, 2.6, got, 1e-9, "missing curve means no derating")
}
