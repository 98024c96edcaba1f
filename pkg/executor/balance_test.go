package executor

import (
	"context"
	"testing"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func balanceConfig() BalanceConfig {
	return BalanceConfig{
		Charge:                    true,
		Discharge:                 true,
		CrossCharge:               true,
		ThresholdChargePercent:    1.0,
		ThresholdDischargePercent: 1.0,
	}
}

func balanceState(socPercent, batteryKW float64) inverter.State {
	return inverter.State{
		SOCKWH:             socPercent / 100.0 * 10.0,
		SOCPercent:         socPercent,
		SOCMaxKWH:          10.0,
		ReserveKWH:         1.0,
		ReserveMaxPercent:  100,
		RateMaxChargeKW:    2.6,
		RateMaxDischargeKW: 2.6,
		BatteryPowerKW:     batteryKW,
		InverterLimitKW:    3.6,
	}
}

func TestBalanceDischargeLowInverter(t *testing.T) {
	ctx := context.Background()
	low := inverter.NewMock("low", testCaps(), balanceState(30, 0.5))
	high := inverter.NewMock("high", testCaps(), balanceState(60, 0.5))
	fleet := inverter.NewFleet(low, high)
	exec := New(fleet)

	require.NoError(t, exec.Balance(ctx, balanceConfig()))

	assert.Equal(t, 0.0, low.Registers().DischargeRateKW, "low inverter stops discharging")
	assert.Equal(t, 2.6, high.Registers().DischargeRateKW)
}

func TestBalanceChargeHighInverter(t *testing.T) {
	ctx := context.Background()
	low := inverter.NewMock("low", testCaps(), balanceState(30, -0.5))
	high := inverter.NewMock("high", testCaps(), balanceState(60, -0.5))
	fleet := inverter.NewFleet(low, high)
	exec := New(fleet)

	require.NoError(t, exec.Balance(ctx, balanceConfig()))

	assert.Equal(t, 0.0, high.Registers().ChargeRateKW, "high inverter stops charging")
	assert.Equal(t, 2.6, low.Registers().ChargeRateKW)
}

func TestBalanceRestoresWhenBalanced(t *testing.T) {
	ctx := context.Background()
	a := inverter.NewMock("a", testCaps(), balanceState(50, 0.5))
	b := inverter.NewMock("b", testCaps(), balanceState(50, 0.5))
	// Leave one discharge rate zeroed from an earlier pass.
	require.NoError(t, a.AdjustDischargeRate(ctx, 0))
	fleet := inverter.NewFleet(a, b)
	exec := New(fleet)

	require.NoError(t, exec.Balance(ctx, balanceConfig()))

	assert.Equal(t, 2.6, a.Registers().DischargeRateKW, "balanced fleet restores nominal rates")
}

func TestBalanceSkipsSingleInverter(t *testing.T) {
	ctx := context.Background()
	a := inverter.NewMock("a", testCaps(), balanceState(50, 0.5))
	fleet := inverter.NewFleet(a)
	exec := New(fleet)
	require.NoError(t, exec.Balance(ctx, balanceConfig()))
	assert.Empty(t, func() []string {
		calls := a.Calls
		return calls
	}())
}

func TestBalanceCrossChargeSuppressed(t *testing.T) {
	ctx := context.Background()
	// Fleet discharging overall but one inverter is charging off its peer.
	discharging := inverter.NewMock("d", testCaps(), balanceState(50, 1.0))
	crossing := inverter.NewMock("c", testCaps(), balanceState(50, -0.4))
	fleet := inverter.NewFleet(discharging, crossing)
	exec := New(fleet)

	require.NoError(t, exec.Balance(ctx, balanceConfig()))

	assert.Equal(t, 0.0, crossing.Registers().ChargeRateKW, "cross charge is zeroed")
}
