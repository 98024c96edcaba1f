package inverter

import (
	"context"
	"sync"
	"time"
)

// Registers is the mutable register file of the mock, exported so tests can
// assert exactly what the executor programmed.
type Registers struct {
	ChargeRateKW    float64
	DischargeRateKW float64

	BatteryTargetPercent float64
	TargetIsCharging     bool
	TargetIsExporting    bool

	ReservePercent float64

	ChargeWindowEnabled bool
	ChargeWindowStart   time.Time
	ChargeWindowEnd     time.Time

	ForceExport      bool
	ForceExportStart time.Time
	ForceExportEnd   time.Time

	ChargeImmediatePercent float64
	ChargeImmediateFreeze  bool
	ExportImmediatePercent float64
	ExportImmediateFreeze  bool

	PauseCharge    bool
	PauseDischarge bool
}

// Mock is an in-memory inverter used by tests and by the simulator/executor
// agreement checks. Writes that match the current register value are no-ops
// and are not counted, matching the idempotence contract real drivers carry.
type Mock struct {
	mu sync.Mutex

	id    string
	caps  Capabilities
	state State
	regs  Registers

	writes int

	// FailWrites, when > 0, fails that many subsequent writes with FailErr.
	FailWrites int
	FailErr    error

	// Calls records the mutator invocations in order, including no-ops, for
	// ordering assertions.
	Calls []string
}

// NewMock returns a mock inverter with the given id, capabilities, and
// initial state. The rate registers start at the maximums.
func NewMock(id string, caps Capabilities, state State) *Mock {
	return &Mock{
		id:    id,
		caps:  caps,
		state: state,
		regs: Registers{
			ChargeRateKW:         state.RateMaxChargeKW,
			DischargeRateKW:      state.RateMaxDischargeKW,
			BatteryTargetPercent: 100,
		},
	}
}

func (m *Mock) ID() string { return m.id }

func (m *Mock) Capabilities() Capabilities { return m.caps }

// SetState replaces the reported state, used by tests to drive the mock from
// a simulation trace.
func (m *Mock) SetState(state State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
}

// Registers returns a copy of the current register file.
func (m *Mock) Registers() Registers {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.regs
}

func (m *Mock) Refresh(ctx context.Context) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.state
	st.ChargeRateNowKW = m.regs.ChargeRateKW
	st.DischargeRateNowKW = m.regs.DischargeRateKW
	if m.regs.ChargeWindowEnabled {
		st.ChargeStartMinute = minuteOfDay(m.regs.ChargeWindowStart)
		st.ChargeEndMinute = minuteOfDay(m.regs.ChargeWindowEnd)
	}
	if m.regs.ForceExport {
		st.DischargeStartMinute = minuteOfDay(m.regs.ForceExportStart)
		st.DischargeEndMinute = minuteOfDay(m.regs.ForceExportEnd)
	}
	return st, nil
}

func minuteOfDay(t time.Time) int {
	if t.IsZero() {
		return 0
	}
	return t.Hour()*60 + t.Minute()
}

// write runs fn if changed is true, counting it as a register write and
// honouring fault injection. The call name is always recorded.
func (m *Mock) write(call string, changed bool, fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
	if !changed {
		return nil
	}
	if m.FailWrites > 0 {
		m.FailWrites--
		return m.FailErr
	}
	fn()
	m.writes++
	return nil
}

func (m *Mock) AdjustChargeRate(ctx context.Context, kw float64) error {
	return m.write("charge_rate", m.regs.ChargeRateKW != kw, func() {
		m.regs.ChargeRateKW = kw
	})
}

func (m *Mock) AdjustDischargeRate(ctx context.Context, kw float64) error {
	return m.write("discharge_rate", m.regs.DischargeRateKW != kw, func() {
		m.regs.DischargeRateKW = kw
	})
}

func (m *Mock) AdjustBatteryTarget(ctx context.Context, percent float64, isCharging, isExporting bool) error {
	changed := m.regs.BatteryTargetPercent != percent || m.regs.TargetIsCharging != isCharging || m.regs.TargetIsExporting != isExporting
	return m.write("battery_target", changed, func() {
		m.regs.BatteryTargetPercent = percent
		m.regs.TargetIsCharging = isCharging
		m.regs.TargetIsExporting = isExporting
	})
}

func (m *Mock) AdjustReserve(ctx context.Context, percent float64) error {
	return m.write("reserve", m.regs.ReservePercent != percent, func() {
		m.regs.ReservePercent = percent
	})
}

func (m *Mock) AdjustChargeWindow(ctx context.Context, start, end time.Time, minutesNow int) error {
	changed := !m.regs.ChargeWindowEnabled || !m.regs.ChargeWindowStart.Equal(start) || !m.regs.ChargeWindowEnd.Equal(end)
	return m.write("charge_window", changed, func() {
		m.regs.ChargeWindowEnabled = true
		m.regs.ChargeWindowStart = start
		m.regs.ChargeWindowEnd = end
	})
}

func (m *Mock) DisableChargeWindow(ctx context.Context) error {
	return m.write("disable_charge_window", m.regs.ChargeWindowEnabled, func() {
		m.regs.ChargeWindowEnabled = false
	})
}

func (m *Mock) AdjustForceExport(ctx context.Context, enable bool, start, end time.Time) error {
	changed := m.regs.ForceExport != enable || !m.regs.ForceExportStart.Equal(start) || !m.regs.ForceExportEnd.Equal(end)
	return m.write("force_export", changed, func() {
		m.regs.ForceExport = enable
		m.regs.ForceExportStart = start
		m.regs.ForceExportEnd = end
	})
}

func (m *Mock) AdjustChargeImmediate(ctx context.Context, targetPercent float64, freeze bool) error {
	changed := m.regs.ChargeImmediatePercent != targetPercent || m.regs.ChargeImmediateFreeze != freeze
	return m.write("charge_immediate", changed, func() {
		m.regs.ChargeImmediatePercent = targetPercent
		m.regs.ChargeImmediateFreeze = freeze
	})
}

func (m *Mock) AdjustExportImmediate(ctx context.Context, targetPercent float64, freeze bool) error {
	changed := m.regs.ExportImmediatePercent != targetPercent || m.regs.ExportImmediateFreeze != freeze
	return m.write("export_immediate", changed, func() {
		m.regs.ExportImmediatePercent = targetPercent
		m.regs.ExportImmediateFreeze = freeze
	})
}

func (m *Mock) AdjustPauseMode(ctx context.Context, pauseCharge, pauseDischarge bool) error {
	changed := m.regs.PauseCharge != pauseCharge || m.regs.PauseDischarge != pauseDischarge
	return m.write("pause_mode", changed, func() {
		m.regs.PauseCharge = pauseCharge
		m.regs.PauseDischarge = pauseDischarge
	})
}

func (m *Mock) WriteCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

func (m *Mock) ResetWriteCount() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = 0
	m.Calls = nil
}
