// Package executor turns the chosen plan, the wall clock, and the current
// inverter state into a minimal set of idempotent inverter writes, once per
// planning tick. It shares regime semantics with pkg/sim; the simulator
// predicts what this package then makes the hardware do.
package executor

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gridpilot/gridpilot/pkg/curve"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/gridpilot/gridpilot/pkg/window"
)

// TickInputs carries everything one tick needs. The plan fields are read
// only; the executor never mutates a plan.
type TickInputs struct {
	MinutesNow  int
	MidnightUTC time.Time

	Flags types.Flags

	// Battery holds the aggregate battery parameters, including the shared
	// power curves used for low-power charge rate selection.
	Battery types.BatteryParams

	BatteryTemperatureC float64

	ChargeWindows   []types.Window
	ChargeLimitsKWH []float64
	ExportWindows   []types.Window
	ExportLimits    []float64

	Cars   []types.CarPlan
	IBoost types.IBoostParams

	// IBoostRunningFull comes from the latest simulation's first step and
	// gates the hold-for-iBoost rule.
	IBoostRunningFull bool

	BestSOCMinKWH float64
}

// Executor applies plans to a fleet of inverters. Safe for use from a single
// scheduler goroutine; RequestReset may be called from anywhere.
type Executor struct {
	fleet *inverter.Fleet

	mu              sync.Mutex
	needsReset      bool
	needsResetForce string
}

// New returns an executor for the fleet.
func New(fleet *inverter.Fleet) *Executor {
	return &Executor{fleet: fleet}
}

// RequestReset forces the next tick through the reset-to-safe prelude.
// force may be "mode" or "set_read_only" to widen the reset scope.
func (e *Executor) RequestReset(force string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.needsReset = true
	e.needsResetForce = force
}

// tickState carries the mutable bookkeeping for one tick.
type tickState struct {
	in       TickInputs
	agg      inverter.Aggregate
	outcome  types.TickOutcome
	failures int
}

// call invokes one inverter write, counting failures and continuing; the
// next tick re-derives and re-applies, so there is no in-tick retry.
func (t *tickState) call(ctx context.Context, id string, fn func() error) {
	if err := fn(); err != nil {
		t.failures++
		log.Ctx(ctx).WarnContext(ctx, "inverter write failed",
			slog.String("inverter", id),
			slog.String("error", err.Error()),
		)
	}
}

// Tick runs the plan-execution state machine once across the fleet and
// returns the tick outcome. The fleet must have been refreshed by the
// caller.
func (e *Executor) Tick(ctx context.Context, in TickInputs) types.TickOutcome {
	status := types.StatusDemand
	if in.Flags.HolidayDaysLeft > 0 {
		status = types.StatusDemandHoliday
	}
	statusExtra := ""

	t := &tickState{
		in:  in,
		agg: e.fleet.Aggregate(),
		outcome: types.TickOutcome{
			Timestamp:      in.MidnightUTC.Add(time.Duration(in.MinutesNow) * time.Minute),
			RegisterWrites: make(map[string]int),
		},
	}

	// Validate the plan before touching anything.
	if err := validatePlan(in, t.agg); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "plan inconsistent, skipping tick", slog.String("error", err.Error()))
		t.outcome.Status = types.StatusDemand
		t.outcome.Error = err.Error()
		return t.outcome
	}

	e.mu.Lock()
	needsReset, resetForce := e.needsReset, e.needsResetForce
	e.needsReset, e.needsResetForce = false, ""
	e.mu.Unlock()
	if needsReset {
		e.resetInverters(ctx, t, resetForce)
	}

	isCharging := false
	isExporting := false
	disabledChargeWindow := false
	disabledExport := false

	for i, inv := range e.fleet.Members {
		state := &e.fleet.States[i]

		if in.Flags.ReadOnly {
			status = types.StatusReadOnly
			continue
		}

		if state.InCalibration {
			// Calibration traps the whole fleet at full rates.
			status = types.StatusCalibration
			log.Ctx(ctx).InfoContext(ctx, "inverter in calibration, forcing full rates", slog.String("inverter", inv.ID()))
			for j, cal := range e.fleet.Members {
				st := e.fleet.States[j]
				t.call(ctx, cal.ID(), func() error { return cal.AdjustChargeRate(ctx, st.RateMaxChargeKW) })
				t.call(ctx, cal.ID(), func() error { return cal.AdjustDischargeRate(ctx, st.RateMaxDischargeKW) })
				t.call(ctx, cal.ID(), func() error { return cal.AdjustBatteryTarget(ctx, 100.0, false, false) })
				t.call(ctx, cal.ID(), func() error { return cal.AdjustReserve(ctx, 0) })
			}
			break
		}

		resetCharge := true
		resetDischarge := true
		resetPause := true
		resetReserve := true
		invDisabledChargeWindow := false

		// ---- Charge window logic ----
		if in.Flags.SetChargeWindow && len(in.ChargeWindows) > 0 && len(in.ChargeLimitsKWH) > 0 {
			st, ext := e.applyChargeWindow(ctx, t, inv, state, &isCharging, &resetCharge, &resetDischarge, &resetPause, &resetReserve, &invDisabledChargeWindow)
			if st != "" {
				status, statusExtra = st, ext
			}
			if invDisabledChargeWindow {
				disabledChargeWindow = true
			}
		} else if in.Flags.SetChargeWindow {
			t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
		}

		// ---- Export window logic ----
		if in.Flags.SetExportWindow && len(in.ExportWindows) > 0 && len(in.ExportLimits) > 0 {
			st, ext, disabled := e.applyExportWindow(ctx, t, inv, state, &isExporting, &resetCharge, &resetDischarge, &resetPause)
			if st != "" {
				status, statusExtra = st, ext
			}
			if disabled {
				disabledExport = true
			}
		} else if in.Flags.SetExportWindow {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, false, time.Time{}, time.Time{}) })
		}

		// ---- Car charging hold ----
		if !in.Flags.CarChargingFromBattery {
			if carN, holding := activeCarSlot(in, isCharging, isExporting); holding {
				e.holdDischarge(ctx, t, inv, &resetDischarge, &resetPause)
				log.Ctx(ctx).InfoContext(ctx, "holding battery discharge while car charges", slog.Int("car", carN))
				status = appendHold(status, types.StatusHoldForCar)
			}
		}

		// ---- iBoost hold ----
		if in.IBoost.Enable && in.IBoost.PreventDischarge && in.IBoostRunningFull &&
			status != types.StatusExporting && status != types.StatusCharging {
			e.holdDischarge(ctx, t, inv, &resetDischarge, &resetPause)
			status = appendHold(status, types.StatusHoldForIBoost)
		}

		// ---- Clear unused immediate commands ----
		if !isCharging && in.Flags.SetChargeWindow {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeImmediate(ctx, 0, false) })
		}
		if !isExporting && in.Flags.SetExportWindow {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustExportImmediate(ctx, 0, false) })
		}

		// ---- Apply resets not overridden this tick ----
		if resetPause {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustPauseMode(ctx, false, false) })
		}
		if resetDischarge {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustDischargeRate(ctx, state.RateMaxDischargeKW) })
		}
		if resetCharge {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, state.RateMaxChargeKW) })
		}

		// ---- Target SoC ----
		if in.Flags.SetSOCEnable {
			e.applyTargetSOC(ctx, t, inv, state, isCharging, isExporting, disabledExport, invDisabledChargeWindow)
		}

		// ---- Reserve reset ----
		if in.Flags.SetReserveEnable && resetReserve {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustReserve(ctx, 0) })
		}

		t.outcome.RegisterWrites[inv.ID()] = inv.WriteCount()
		inv.ResetWriteCount()
	}

	log.Ctx(ctx).DebugContext(ctx, "tick applied",
		slog.Bool("charging", isCharging && !disabledChargeWindow),
		slog.Bool("exporting", isExporting && !disabledExport),
	)

	t.outcome.Status = status
	t.outcome.StatusExtra = statusExtra
	t.outcome.WriteFailures = t.failures
	if t.failures == 0 {
		t.outcome.LastApplied = t.outcome.Timestamp
	}
	return t.outcome
}

// validatePlan rejects plans the executor must not act on.
func validatePlan(in TickInputs, agg inverter.Aggregate) error {
	limits, windows := window.RemoveIntersecting(in.ChargeLimitsKWH, in.ChargeWindows, in.ExportLimits, in.ExportWindows)
	if !window.Disjoint(windows) || !window.Disjoint(in.ExportWindows) {
		return types.ErrPlanInconsistent
	}
	for _, w := range windows {
		for e, ew := range in.ExportWindows {
			if e < len(in.ExportLimits) && in.ExportLimits[e] >= 100.0 {
				continue
			}
			if w.StartMinute < ew.EndMinute && w.EndMinute > ew.StartMinute {
				return types.ErrPlanInconsistent
			}
		}
	}
	for _, limit := range limits {
		if limit > agg.SOCMaxKWH+1e-6 {
			return types.ErrPlanInconsistent
		}
	}
	return nil
}

// holdDischarge suppresses discharge using pause mode when available and a
// zero rate otherwise.
func (e *Executor) holdDischarge(ctx context.Context, t *tickState, inv inverter.Controls, resetDischarge, resetPause *bool) {
	if inv.Capabilities().HasTimedPause {
		t.call(ctx, inv.ID(), func() error { return inv.AdjustPauseMode(ctx, false, true) })
		*resetPause = false
	} else {
		t.call(ctx, inv.ID(), func() error { return inv.AdjustDischargeRate(ctx, 0) })
		*resetDischarge = false
	}
}

// holdCharge is the charge-side counterpart used by export freeze.
func (e *Executor) holdCharge(ctx context.Context, t *tickState, inv inverter.Controls, resetCharge, resetPause *bool) {
	if inv.Capabilities().HasTimedPause {
		t.call(ctx, inv.ID(), func() error { return inv.AdjustPauseMode(ctx, true, false) })
		*resetPause = false
	} else {
		t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, 0) })
		*resetCharge = false
	}
}

// activeCarSlot reports whether any car is inside an unfinished charging
// slot right now; force charge/export wins over the car hold.
func activeCarSlot(in TickInputs, isCharging, isExporting bool) (int, bool) {
	if isCharging || isExporting {
		return 0, false
	}
	for carN, car := range in.Cars {
		if len(car.Slots) == 0 {
			continue
		}
		slot := car.Slots[0]
		if car.SOCKWH >= car.LimitKWH {
			continue
		}
		if slot.Contains(in.MinutesNow) {
			return carN, true
		}
	}
	return 0, false
}

// appendHold composes a hold suffix onto the base status.
func appendHold(status, hold string) string {
	if status == types.StatusDemand || status == types.StatusDemandHoliday {
		return hold
	}
	if !strings.Contains(status, hold) {
		return status + ", " + hold
	}
	return status
}

// canFreezeOrHold reports whether every inverter in the fleet can hold its
// level, either via timed pause or by raising reserve to the current SoC.
func (e *Executor) canFreezeOrHold() bool {
	for i, inv := range e.fleet.Members {
		st := e.fleet.States[i]
		if st.SOCKWH < st.ReserveKWH {
			return false
		}
		if !inv.Capabilities().HasTimedPause && st.ReserveMaxPercent < st.SOCPercent {
			return false
		}
	}
	return true
}

// resetInverters drives the fleet back to a safe baseline before normal tick
// logic, scoped by which window features are enabled unless forced.
func (e *Executor) resetInverters(ctx context.Context, t *tickState, force string) {
	in := t.in
	forced := force == "set_read_only" || force == "mode"
	if in.Flags.ReadOnly && force != "set_read_only" {
		return
	}
	for i, inv := range e.fleet.Members {
		st := e.fleet.States[i]
		log.Ctx(ctx).InfoContext(ctx, "resetting inverter to safe mode",
			slog.String("inverter", inv.ID()),
			slog.String("force", force),
		)
		if in.Flags.SetChargeWindow || forced {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, st.RateMaxChargeKW) })
			t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeImmediate(ctx, 0, false) })
			t.call(ctx, inv.ID(), func() error { return inv.AdjustBatteryTarget(ctx, 100.0, false, false) })
			t.call(ctx, inv.ID(), func() error { return inv.AdjustPauseMode(ctx, false, false) })
		}
		if in.Flags.SetChargeWindow || in.Flags.SetExportWindow || forced {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustReserve(ctx, 0) })
		}
		if in.Flags.SetExportWindow || forced {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustDischargeRate(ctx, st.RateMaxDischargeKW) })
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, false, time.Time{}, time.Time{}) })
			t.call(ctx, inv.ID(), func() error { return inv.AdjustExportImmediate(ctx, 0, false) })
		}
	}
}

// adjustBatteryTargetMulti splits an aggregate target SoC percent across the
// fleet proportionally to charge rate, clamped to each battery's
// [reserve, max] range. 0, 100, and freeze pass through unchanged.
func (e *Executor) adjustBatteryTargetMulti(ctx context.Context, t *tickState, inv inverter.Controls, state *inverter.State, socPercent float64, isCharging, isExporting, isFreeze bool) {
	var newPercent float64
	switch {
	case isFreeze:
		newPercent = socPercent
	case socPercent == 100.0:
		newPercent = 100.0
	case socPercent == 0.0:
		newPercent = 0.0
	default:
		targetKWH := t.agg.SOCMaxKWH * socPercent / 100.0
		addKWH := targetKWH - t.agg.SOCKWH
		share := 0.0
		if t.agg.RateMaxChargeKW > 0 {
			share = state.RateMaxChargeKW / t.agg.RateMaxChargeKW
		}
		newKWH := math.Max(math.Min(state.SOCKWH+addKWH*share, state.SOCMaxKWH), state.ReserveKWH)
		newPercent = float64(curve.PercentLimit(newKWH, state.SOCMaxKWH))
	}
	t.call(ctx, inv.ID(), func() error { return inv.AdjustBatteryTarget(ctx, newPercent, isCharging, isExporting) })
}
