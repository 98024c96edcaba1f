package inverter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock(id string) *Mock {
	return NewMock(id, Capabilities{
		HasTimedPause:   true,
		CanSpanMidnight: true,
		HasTargetSOC:    true,
		HasReserveSOC:   true,
	}, State{
		SOCKWH:             5.0,
		SOCPercent:         50,
		SOCMaxKWH:          10.0,
		ReserveKWH:         0.5,
		ReserveMaxPercent:  100,
		RateMaxChargeKW:    2.6,
		RateMaxDischargeKW: 2.6,
		InverterLimitKW:    3.6,
		ExportLimitKW:      5.0,
	})
}

func TestMockWriteCounting(t *testing.T) {
	ctx := context.Background()
	m := newTestMock("a")

	// A change counts as one write.
	require.NoError(t, m.AdjustChargeRate(ctx, 1.0))
	assert.Equal(t, 1, m.WriteCount())

	// Repeating the same value is a no-op.
	require.NoError(t, m.AdjustChargeRate(ctx, 1.0))
	assert.Equal(t, 1, m.WriteCount())

	require.NoError(t, m.AdjustChargeRate(ctx, 2.0))
	assert.Equal(t, 2, m.WriteCount())

	m.ResetWriteCount()
	assert.Equal(t, 0, m.WriteCount())
}

func TestMockRegisters(t *testing.T) {
	ctx := context.Background()
	m := newTestMock("a")
	midnight := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.AdjustChargeWindow(ctx, midnight.Add(2*time.Hour), midnight.Add(4*time.Hour), 0))
	require.NoError(t, m.AdjustPauseMode(ctx, false, true))
	require.NoError(t, m.AdjustChargeImmediate(ctx, 80, false))
	require.NoError(t, m.AdjustReserve(ctx, 51))

	regs := m.Registers()
	assert.True(t, regs.ChargeWindowEnabled)
	assert.True(t, regs.PauseDischarge)
	assert.False(t, regs.PauseCharge)
	assert.Equal(t, 80.0, regs.ChargeImmediatePercent)
	assert.Equal(t, 51.0, regs.ReservePercent)

	// The refreshed state reflects the programmed window.
	st, err := m.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 120, st.ChargeStartMinute)
	assert.Equal(t, 240, st.ChargeEndMinute)

	require.NoError(t, m.DisableChargeWindow(ctx))
	assert.False(t, m.Registers().ChargeWindowEnabled)

	// Clearing pause mode is all-false.
	require.NoError(t, m.AdjustPauseMode(ctx, false, false))
	regs = m.Registers()
	assert.False(t, regs.PauseDischarge)
}

func TestMockFaultInjection(t *testing.T) {
	ctx := context.Background()
	m := newTestMock("a")
	m.FailWrites = 1
	m.FailErr = errors.New("register timeout")

	err := m.AdjustDischargeRate(ctx, 0)
	require.Error(t, err)
	assert.Equal(t, 0, m.WriteCount(), "failed writes are not counted")

	// No-op writes never fail: the value already matches.
	m.FailWrites = 1
	require.NoError(t, m.AdjustDischargeRate(ctx, m.Registers().DischargeRateKW))
	m.FailWrites = 0

	require.NoError(t, m.AdjustDischargeRate(ctx, 0))
	assert.Equal(t, 1, m.WriteCount())
}

func TestFleetAggregate(t *testing.T) {
	ctx := context.Background()
	a := newTestMock("a")
	b := newTestMock("b")
	b.SetState(State{
		SOCKWH:             2.0,
		SOCPercent:         40,
		SOCMaxKWH:          5.0,
		ReserveKWH:         0.25,
		RateMaxChargeKW:    1.3,
		RateMaxDischargeKW: 1.3,
		InverterLimitKW:    1.8,
		ExportLimitKW:      2.5,
	})

	fleet := NewFleet(a, b)
	require.NoError(t, fleet.Refresh(ctx))

	agg := fleet.Aggregate()
	assert.InDelta(t, 7.0, agg.SOCKWH, 1e-9)
	assert.InDelta(t, 15.0, agg.SOCMaxKWH, 1e-9)
	assert.InDelta(t, 0.75, agg.ReserveKWH, 1e-9)
	assert.InDelta(t, 3.9, agg.RateMaxChargeKW, 1e-9)
	assert.InDelta(t, 5.4, agg.InverterLimitKW, 1e-9)
	assert.InDelta(t, 47.0, agg.SOCPercent(), 1e-9)
}
