package executor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gridpilot/gridpilot/pkg/inverter"
	"github.com/gridpilot/gridpilot/pkg/log"
	"github.com/gridpilot/gridpilot/pkg/types"
	"github.com/gridpilot/gridpilot/pkg/window"
)

func statusTargetPercent(soc float64) string {
	return fmt.Sprintf(" target %.0f%%", soc)
}

func statusTargetRange(soc, target float64) string {
	return fmt.Sprintf(" target %.0f%%-%.0f%%", soc, target)
}

// applyExportWindow programs the next export window on one inverter and
// decides between active, freeze, and hold export while inside it.
func (e *Executor) applyExportWindow(
	ctx context.Context,
	t *tickState,
	inv inverter.Controls,
	state *inverter.State,
	isExporting *bool,
	resetCharge, resetDischarge, resetPause *bool,
) (string, string, bool) {
	in := t.in
	caps := inv.Capabilities()

	next := in.ExportWindows[0]
	limit := in.ExportLimits[0]
	minutesStart := next.StartMinute
	minutesEnd := next.EndMinute

	// Keep the original start when the programmed window has already begun,
	// unless that would overlap the charge window registers.
	if state.DischargeEndMinute > state.DischargeStartMinute &&
		state.DischargeStartMinute <= in.MinutesNow && in.MinutesNow >= minutesStart {
		minutesStart = state.DischargeStartMinute
		if minutesStart < state.ChargeEndMinute && minutesEnd >= state.ChargeStartMinute {
			minutesStart = max(next.StartMinute, in.MinutesNow)
		}
	}

	adjusted := window.AdvanceForWrap(types.Window{StartMinute: minutesStart, EndMinute: minutesEnd}, in.MinutesNow)
	minutesStart = adjusted.StartMinute

	// The end margin lets the executor restore demand mode before the next
	// minute boundary; drop it when the registers cannot span midnight or it
	// would collide with the charge window start.
	exportAdjust := 1
	if !caps.CanSpanMidnight {
		split := window.SplitAtMidnight(types.Window{StartMinute: minutesStart, EndMinute: minutesEnd})
		minutesEnd = split.EndMinute
		exportAdjust = 0
	}
	if state.ChargeStartMinute == minutesEnd {
		exportAdjust = 0
	}

	exportStart := in.MidnightUTC.Add(time.Duration(minutesStart) * time.Minute)
	exportEnd := in.MidnightUTC.Add(time.Duration(minutesEnd+exportAdjust) * time.Minute)

	dischargeSOC := math.Max(limit*t.agg.SOCMaxKWH/100.0, math.Max(t.agg.ReserveKWH, in.BestSOCMinKWH))

	status := ""
	statusExtra := ""
	disabledExport := false

	if in.MinutesNow >= minutesStart && in.MinutesNow < minutesEnd && limit < 100.0 {
		if !in.Flags.SetExportFreezeOnly && limit < 99.0 && t.agg.SOCKWH > dischargeSOC {
			log.Ctx(ctx).InfoContext(ctx, "exporting now",
				slog.String("inverter", inv.ID()),
				slog.Float64("socKWH", t.agg.SOCKWH),
				slog.Float64("targetKWH", dischargeSOC),
			)
			t.call(ctx, inv.ID(), func() error { return inv.AdjustDischargeRate(ctx, state.RateMaxDischargeKW) })
			*resetDischarge = false
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, true, exportStart, exportEnd) })
			if caps.ChargeDischargeSharesRate {
				t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, 0) })
				*resetCharge = false
			}
			*isExporting = true
			status = types.StatusExporting
			statusExtra = statusTargetRange(state.SOCPercent, limit)
			t.call(ctx, inv.ID(), func() error { return inv.AdjustExportImmediate(ctx, limit, false) })
		} else {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, false, time.Time{}, time.Time{}) })
			disabledExport = true
			if in.Flags.SetExportFreeze && limit == 99.0 {
				// Export freeze blocks charging for the window.
				if caps.ChargeDischargeSharesRate {
					t.call(ctx, inv.ID(), func() error { return inv.AdjustChargeRate(ctx, 0) })
					*resetCharge = false
				}
				e.holdCharge(ctx, t, inv, resetCharge, resetPause)
				status = types.StatusFreezeExporting
				// The 99 sentinel is meaningless to display; show SoC.
				statusExtra = fmt.Sprintf(" current SoC %.0f%%", state.SOCPercent)
				*isExporting = true
				t.call(ctx, inv.ID(), func() error { return inv.AdjustExportImmediate(ctx, state.SOCPercent, true) })
			} else {
				status = types.StatusHoldExporting
				statusExtra = statusTargetRange(state.SOCPercent, limit)
				log.Ctx(ctx).InfoContext(ctx, "export hold, at or below target",
					slog.Float64("socKWH", t.agg.SOCKWH),
					slog.Float64("targetKWH", dischargeSOC),
				)
				t.call(ctx, inv.ID(), func() error { return inv.AdjustExportImmediate(ctx, 0, false) })
			}
		}
	} else {
		if in.MinutesNow < minutesEnd && minutesStart-in.MinutesNow <= in.Flags.SetWindowMinutes && limit < 100 {
			// Pre-program the window times with export still disabled.
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, false, exportStart, exportEnd) })
		} else {
			t.call(ctx, inv.ID(), func() error { return inv.AdjustForceExport(ctx, false, time.Time{}, time.Time{}) })
		}
	}

	state.DischargeStartMinute = minutesStart
	state.DischargeEndMinute = minutesEnd

	return status, statusExtra, disabledExport
}
