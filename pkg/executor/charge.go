package executor

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/gridpilot/gridpilot/pkg/curve"
	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/gridpilot/gridpilot/pkg/window"
)

// applyChargeWindow programs the next charge window on one inverter and
// decides between freeze, hold, and active charge while inside it. Returns
// the status it settled on ("" when it left the tick status alone).
func (e *Executor) applyChargeWindow(
	ctx context.Context,
	t *tickState,
	inv inverter.Controls,
	state *inverter.State,
	isCharging *bool,
	resetCharge, resetDischarge, resetPause, resetReserve *bool,
	disabledChargeWindow *bool,
) (string, string) {
	in := t.in
	caps := inv.Capabilities()

	// Merge contiguous windows so one register programming covers them all.
	merged := window.MergeContiguous(in.ChargeWindows)
	next := merged[0]
	minutesStart := next.StartMinute
	minutesEnd := next.EndMinute

	// Keep the original start when the programmed window has already begun.
	if state.ChargeEndMinute > state.ChargeStartMinute &&
		state.ChargeStartMinute <= in.MinutesNow && in.MinutesNow >= minutesStart {
		minutesStart = state.ChargeStartMinute
	}

	adjusted := window.AdvanceForWrap(types.Window{StartMinute: minutesStart, EndMinute: minutesEnd}, in.MinutesNow)
	minutesStart = adjusted.StartMinute
	if !caps.CanSpanMidnight {
		split := window.SplitAtMidnight(types.Window{StartMinute: minutesStart, EndMinute: minutesEnd})
		minutesEnd = split.EndMinute
	}

	inExportWindow := false
	if in.Flags.SetExportWindow && len(in.ExportWindows) > 0 && in.ExportWindows[0].Contains(in.MinutesNow) {
		inExportWindow = true
	}

	if inExportWindow || minutesStart-in.MinutesNow >= 24*60 || minutesEnd <= in.MinutesNow {
		t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
		return "", ""
	}

	chargeStart := in.MidnightUTC.Add(time.Duration(minutesStart) * time.Minute)
	chargeEnd := in.MidnightUTC.Add(time.Duration(minutesEnd) * time.Minute)

	chargeLimitKWH := in.ChargeLimitsKWH[0]
	chargeLimitPercent := float64(curve.PercentLimit(chargeLimitKWH, t.agg.SOCMaxKWH))
	reservePercent := float64(curve.PercentLimit(t.agg.ReserveKWH, t.agg.SOCMaxKWH))
	bestSOCMinPercent := float64(curve.PercentLimit(in.BestSOCMinKWH, t.agg.SOCMaxKWH))
	aggSOCPercent := t.agg.SOCPercent()

	status := ""
	statusExtra := ""

	if in.MinutesNow >= minutesStart && in.MinutesNow < minutesEnd {
		// Actively within the window: pick the charge rate first.
		perInv := in.Battery
		perInv.SOCMaxKWH = state.SOCMaxKWH
		perInv.ReserveKWH = state.ReserveKWH
		perInv.RateMaxChargeKW = state.RateMaxChargeKW
		targetKWH := chargeLimitPercent * state.SOCMaxKWH / 100.0
		newChargeRate, _ := curve.FindChargeRate(
			in.MinutesNow, state.SOCKWH, next, targetKWH, perInv,
			in.Flags.SetChargeLowPower, in.Flags.ChargeLowPowerMarginMinutes,
			in.BatteryTemperatureC,
		)

		// Only rewrite the rate register when it moves materially or returns
		// to maximum.
		if math.Abs(newChargeRate-state.ChargeRateNowKW) > 0.1*state.RateMaxChargeKW || newChargeRate == state.RateMaxChargeKW {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, newChargeRate) })
		}
		*resetCharge = false

		if caps.ChargeDischargeSharesRate {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustDischargeRate(ctx, 0) })
			*resetDischarge = false
		}

		targetSOC := chargeLimitPercent
		if chargeLimitPercent == reservePercent {
			targetSOC = state.SOCPercent
		}
		targetSOC = math.Max(targetSOC, math.Max(reservePercent, bestSOCMinPercent))

		if chargeLimitKWH == t.agg.ReserveKWH && t.agg.SOCKWH >= t.agg.ReserveKWH && e.canFreezeOrHold() {
			// Freeze charge: hold the current level without grid top-up.
			if in.Flags.SetSOCEnable && ((in.Flags.SetReserveEnable && in.Flags.SetReserveHold && state.ReserveMaxPercent >= state.SOCPercent) || caps.HasTimedPause) {
				t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
				*disabledChargeWindow = true
				if in.Flags.SetReserveEnable && !caps.HasTimedPause {
					t.call(ctx, inv.ID(), func() error {
						return inv.AdjustReserve(ctx, math.Min(state.SOCPercent+1, 100))
					})
					*resetReserve = false
				}
			} else {
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeWindow(ctx, chargeStart, chargeEnd, in.MinutesNow) })
			}

			e.holdDischarge(ctx, t, inv, resetDischarge, resetPause)

			status = types.StatusFreezeCharging
			statusExtra = statusTargetPercent(state.SOCPercent)
			log.Ctx(ctx).InfoContext(ctx, "freeze charging",
				slog.String("inverter", inv.ID()),
				slog.Float64("socPercent", state.SOCPercent),
			)
			t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeImmediate(ctx, state.SOCPercent, true) })
		} else {
			canHold := chargeLimitPercent != reservePercent && e.canHoldCharge(targetSOC)
			if in.Flags.SetSOCEnable && canHold && aggSOCPercent >= targetSOC {
				status = types.StatusHoldCharging
				log.Ctx(ctx).InfoContext(ctx, "hold charging",
					slog.String("inverter", inv.ID()),
					slog.Float64("socPercent", state.SOCPercent),
					slog.Float64("targetPercent", targetSOC),
				)
				if chargeLimitPercent < 100.0 && math.Abs(aggSOCPercent-chargeLimitPercent) <= 1.0 {
					// Within 1% of a sub-100% target: hold rather than top up.
					if in.Flags.SetSOCEnable && ((in.Flags.SetReserveEnable && in.Flags.SetReserveHold && state.ReserveMaxPercent >= state.SOCPercent) || caps.HasTimedPause) {
						t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
						*disabledChargeWindow = true
						if in.Flags.SetReserveEnable && !caps.HasTimedPause {
							t.call(ctx, inv.ID(), func() error {
								return inv.AdjustReserve(ctx, math.Min(state.SOCPercent+1, 100))
							})
							*resetReserve = false
						}
					} else {
						t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeWindow(ctx, chargeStart, chargeEnd, in.MinutesNow) })
					}
					e.holdDischarge(ctx, t, inv, resetDischarge, resetPause)
				} else {
					t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeWindow(ctx, chargeStart, chargeEnd, in.MinutesNow) })
				}
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeImmediate(ctx, targetSOC, true) })
			} else {
				status = types.StatusCharging
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeWindow(ctx, chargeStart, chargeEnd, in.MinutesNow) })
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeImmediate(ctx, targetSOC, false) })
			}
			statusExtra = statusTargetRange(state.SOCPercent, targetSOC)
		}

		if !in.Flags.SetDischargeDuringCharge && *resetPause {
			e.holdDischarge(ctx, t, inv, resetDischarge, resetPause)
			log.Ctx(ctx).InfoContext(ctx, "discharge disabled during charge window")
		}

		*isCharging = true
	} else {
		// Not inside yet: program or disable depending on proximity.
		if in.MinutesNow < minutesEnd && minutesStart-in.MinutesNow <= in.Flags.SetWindowMinutes {
			if !*isCharging && chargeLimitKWH == t.agg.ReserveKWH {
				// A freeze-charge window must not be pre-programmed or the
				// inverter would spike a real charge at window start.
				log.Ctx(ctx).InfoContext(ctx, "charge window disabled ahead of freeze charge")
				t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
			} else {
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeWindow(ctx, chargeStart, chargeEnd, in.MinutesNow) })
			}
		} else {
			t.call(ctx, inv.ID(), func() error { return inv.DisableChargeWindow(ctx) })
		}
	}

	// The target-SoC routine keys off the programmed window.
	state.ChargeStartMinute = minutesStart
	state.ChargeEndMinute = minutesEnd

	return status, statusExtra
}

// canHoldCharge reports whether every inverter is at or above the target and
// can hold there.
func (e *Executor) canHoldCharge(targetSOC float64) bool {
	for i, inv := range e.fleet.Members {
		st := e.fleet.States[i]
		if st.SOCPercent < targetSOC {
			return false
		}
		if !inv.Capabilities().HasTimedPause && st.ReserveMaxPercent < st.SOCPercent {
			return false
		}
	}
	return true
}
