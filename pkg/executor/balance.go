package executor

import (
	"context"
	"log/slog"
	"math"

	"github.com/gridpilot/gridpilot/pkg/log"
)

// BalanceConfig enables and tunes the cross-inverter balancer.
type BalanceConfig struct {
	Charge      bool `json:"charge" yaml:"charge"`
	Discharge   bool `json:"discharge" yaml:"discharge"`
	CrossCharge bool `json:"crossCharge" yaml:"crossCharge"`

	ThresholdChargePercent    float64 `json:"thresholdChargePercent" yaml:"thresholdChargePercent"`
	ThresholdDischargePercent float64 `json:"thresholdDischargePercent" yaml:"thresholdDischargePercent"`
}

// Materiality floors: an inverter moving less power than this is not worth
// rebalancing, and an inverter must leave this much discharge headroom for
// the rest of the fleet to carry the house.
const (
	balanceMinPowerKW    = 0.05
	balanceHeadroomKW    = 0.2
	balanceReserveMargin = 4.0
)

// Balance runs one equalisation pass between planning ticks. Its writes are
// transient: the next executor tick restores nominal rates, and Balance
// itself restores any rate it finds zeroed once balance returns.
func (e *Executor) Balance(ctx context.Context, cfg BalanceConfig) error {
	if err := e.fleet.Refresh(ctx); err != nil {
		return err
	}
	n := len(e.fleet.Members)
	if n < 2 {
		return nil
	}

	for _, st := range e.fleet.States {
		if st.InCalibration {
			log.Ctx(ctx).InfoContext(ctx, "inverter in calibration, not balancing")
			return nil
		}
	}

	outOfBalance := false
	var totalBatteryPower, totalChargeRates, totalDischargeRates, totalPVPower float64
	socMinP, socMaxP := 100.0, 0.0
	for _, st := range e.fleet.States {
		if st.SOCPercent != e.fleet.States[0].SOCPercent {
			outOfBalance = true
		}
		totalBatteryPower += st.BatteryPowerKW
		totalPVPower += st.PVPowerKW
		totalChargeRates += st.ChargeRateNowKW
		totalDischargeRates += st.DischargeRateNowKW
		socMinP = math.Min(socMinP, st.SOCPercent)
		socMaxP = math.Max(socMaxP, st.SOCPercent)
	}

	duringDischarge := totalBatteryPower >= 0.0
	duringCharge := totalBatteryPower < 0.0

	socLow := make([]bool, n)
	socHigh := make([]bool, n)
	aboveReserve := make([]bool, n)
	belowFull := make([]bool, n)
	canPowerHouse := make([]bool, n)
	canStorePV := make([]bool, n)
	powerEnoughDischarge := make([]bool, n)
	powerEnoughCharge := make([]bool, n)
	for i, st := range e.fleet.States {
		socLow[i] = st.SOCPercent < socMaxP && socMaxP-st.SOCPercent >= cfg.ThresholdDischargePercent
		socHigh[i] = st.SOCPercent > socMinP && st.SOCPercent-socMinP >= cfg.ThresholdChargePercent
		aboveReserve[i] = st.SOCPercent-st.ReserveCurrentPercent >= balanceReserveMargin
		belowFull[i] = st.SOCPercent < 100.0
		canPowerHouse[i] = totalDischargeRates-st.DischargeRateNowKW-balanceHeadroomKW >= totalBatteryPower
		canStorePV[i] = totalPVPower <= totalChargeRates-st.ChargeRateNowKW
		powerEnoughDischarge[i] = st.BatteryPowerKW >= balanceMinPowerKW
		powerEnoughCharge[i] = st.BatteryPowerKW <= -balanceMinPowerKW
	}

	log.Ctx(ctx).DebugContext(ctx, "balance pass",
		slog.Bool("outOfBalance", outOfBalance),
		slog.Float64("totalBatteryPowerKW", totalBatteryPower),
		slog.Float64("totalChargeRatesKW", totalChargeRates),
		slog.Float64("totalDischargeRatesKW", totalDischargeRates),
	)

	resetCharge := make([]bool, n)
	resetDischarge := make([]bool, n)

	for this := 0; this < n; this++ {
		other := (this + 1) % n
		inv := e.fleet.Members[this]
		st := e.fleet.States[this]
		switch {
		case cfg.Discharge && totalDischargeRates > 0 && outOfBalance && duringDischarge &&
			socLow[this] && aboveReserve[other] && canPowerHouse[this] &&
			(powerEnoughDischarge[this] || st.DischargeRateNowKW == 0):
			// Low inverter stops discharging so the high one drains first.
			log.Ctx(ctx).InfoContext(ctx, "balancing low inverter during discharge", slog.String("inverter", inv.ID()))
			resetDischarge[this] = true
			if err := inv.AdjustDischargeRate(ctx, 0); err != nil {
				return err
			}
		case cfg.Charge && totalChargeRates > 0 && outOfBalance && duringCharge &&
			socHigh[this] && belowFull[other] && canStorePV[this] &&
			(powerEnoughCharge[this] || st.ChargeRateNowKW == 0):
			// High inverter stops charging so the low one fills first.
			log.Ctx(ctx).InfoContext(ctx, "balancing high inverter during charge", slog.String("inverter", inv.ID()))
			resetCharge[this] = true
			if err := inv.AdjustChargeRate(ctx, 0); err != nil {
				return err
			}
		case cfg.CrossCharge && duringDischarge && totalDischargeRates > 0 && powerEnoughCharge[this]:
			log.Ctx(ctx).InfoContext(ctx, "suppressing cross charge during discharge", slog.String("inverter", inv.ID()))
			if socLow[this] && canPowerHouse[other] {
				resetDischarge[this] = true
				if err := inv.AdjustDischargeRate(ctx, 0); err != nil {
					return err
				}
			} else {
				resetCharge[this] = true
				if err := inv.AdjustChargeRate(ctx, 0); err != nil {
					return err
				}
			}
		case cfg.CrossCharge && duringCharge && totalChargeRates > 0 && powerEnoughDischarge[this]:
			log.Ctx(ctx).InfoContext(ctx, "suppressing cross discharge during charge", slog.String("inverter", inv.ID()))
			resetDischarge[this] = true
			if err := inv.AdjustDischargeRate(ctx, 0); err != nil {
				return err
			}
		}
	}

	// Restore any rate still zeroed once balance has returned.
	for i, inv := range e.fleet.Members {
		st := e.fleet.States[i]
		if !resetCharge[i] && totalChargeRates != 0 && st.ChargeRateNowKW == 0 {
			if err := inv.AdjustChargeRate(ctx, st.RateMaxChargeKW); err != nil {
				return err
			}
		}
		if !resetDischarge[i] && totalDischargeRates != 0 && st.DischargeRateNowKW == 0 {
			if err := inv.AdjustDischargeRate(ctx, st.RateMaxDischargeKW); err != nil {
				return err
			}
		}
	}
	return nil
}
