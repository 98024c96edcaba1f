package executor

import (
	"context"

	"github.com/gridpilot/gridpilot/pkg/curve"
	"github.com/gridpilot/gridpilot/pkg/inverter"
)

// applyTargetSOC chooses and writes the target-SoC register for one
// inverter, with fallbacks for inverters lacking a target-SoC register or a
// charge-enable timer. AC-coupled inverters with InverterSOCReset return to
// a 100% target outside charge windows so solar charging is never clipped.
func (e *Executor) applyTargetSOC(
	ctx context.Context,
	t *tickState,
	inv inverter.Controls,
	state *inverter.State,
	isCharging, isExporting, disabledExport, disabledChargeWindow bool,
) {
	in := t.in
	caps := inv.Capabilities()
	socReset := !in.Battery.Hybrid && in.Flags.InverterSOCReset

	if isExporting && !disabledExport && !in.Flags.SetReserveEnable {
		// Some inverters use the target register as the discharge floor.
		e.adjustBatteryTargetMulti(ctx, t, inv, state, in.ExportLimits[0], isCharging, isExporting, false)
		return
	}

	withinSOCWindow := len(in.ChargeLimitsKWH) > 0 &&
		in.MinutesNow < state.ChargeEndMinute &&
		state.ChargeStartMinute-in.MinutesNow <= in.Flags.SetSOCMinutes &&
		!disabledChargeWindow

	if withinSOCWindow {
		chargeLimitKWH := in.ChargeLimitsKWH[0]
		chargeLimitPercent := float64(curve.PercentLimit(chargeLimitKWH, t.agg.SOCMaxKWH))

		if caps.HasChargeEnableTime || isCharging {
			if chargeLimitKWH == t.agg.ReserveKWH && state.SOCKWH >= state.ReserveKWH {
				switch {
				case isCharging:
					// In the freeze, pin the target at the current level.
					e.adjustBatteryTargetMulti(ctx, t, inv, state, state.SOCPercent, isCharging, isExporting, true)
				case !caps.HasTargetSOC:
					e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
				default:
					// Not yet in the freeze, hold at 100%.
					e.adjustBatteryTargetMulti(ctx, t, inv, state, 100.0, isCharging, isExporting, false)
				}
			} else {
				switch {
				case socReset && !isCharging && caps.HasTargetSOC:
					e.adjustBatteryTargetMulti(ctx, t, inv, state, 100.0, isCharging, isExporting, false)
				case isCharging:
					e.adjustBatteryTargetMulti(ctx, t, inv, state, chargeLimitPercent, isCharging, isExporting, false)
				case !caps.HasTargetSOC:
					e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
				default:
					e.adjustBatteryTargetMulti(ctx, t, inv, state, chargeLimitPercent, isCharging, isExporting, false)
				}
			}
		} else {
			switch {
			case !caps.HasTargetSOC:
				if !isCharging && !isExporting {
					e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
				}
			case socReset:
				e.adjustBatteryTargetMulti(ctx, t, inv, state, 100.0, isCharging, isExporting, false)
			default:
				e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
			}
		}
		return
	}

	switch {
	case !caps.HasTargetSOC:
		e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
	case socReset:
		e.adjustBatteryTargetMulti(ctx, t, inv, state, 100.0, isCharging, isExporting, false)
	default:
		if !caps.HasChargeEnableTime {
			e.adjustBatteryTargetMulti(ctx, t, inv, state, 0, isCharging, isExporting, false)
		}
	}
}
