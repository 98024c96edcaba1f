// Package sim is the forward simulation engine: a discrete-time model of the
// battery, inverter, home load, PV, car charging, and immersion diverter,
// stepped at 5-minute resolution over the forecast horizon. A call is pure:
// identical inputs produce identical outputs, and all transient state lives
// in the call frame so the outer search can evaluate plans concurrently.
package sim

import (
	"math"
	"time"

	"github.com/gridpilot/gridpilot/pkg/curve"
	"github.com/gridpilot/gridpilot/pkg/window"
)

// Result is the scored outcome of one simulation.
type Result struct {
	// Metric is the horizon cost: import spend minus export revenue plus the
	// standing charge in best/test modes.
	Metric float64 `json:"metric"`

	ImportKWH        float64 `json:"importKWH"`
	ImportHouseKWH   float64 `json:"importHouseKWH"`
	ImportBatteryKWH float64 `json:"importBatteryKWH"`
	ExportKWH        float64 `json:"exportKWH"`
	LoadKWH          float64 `json:"loadKWH"`
	PVKWH            float64 `json:"pvKWH"`

	FinalSOCKWH  float64 `json:"finalSOCKWH"`
	SOCMinKWH    float64 `json:"socMinKWH"`
	SOCMinMinute int     `json:"socMinMinute"`

	BatteryCycleKWH float64 `json:"batteryCycleKWH"`
	MetricKeep      float64 `json:"metricKeep"`
	FinalIBoostKWH  float64 `json:"finalIBoostKWH"`
	FinalCarbonG    float64 `json:"finalCarbonG"`
	ClippedKWH      float64 `json:"clippedKWH"`

	// HoursLeft is the time until the battery first reaches reserve.
	HoursLeft float64 `json:"hoursLeft"`

	// FirstChargeMinute is the relative minute the first charge window
	// becomes active, or EndRecordMinute when no charging happens.
	FirstChargeMinute      int     `json:"firstChargeMinute"`
	FirstChargeSOCKWH      float64 `json:"firstChargeSOCKWH"`
	ExportToFirstChargeKWH float64 `json:"exportToFirstChargeKWH"`

	FinalCarSOCKWH []float64 `json:"finalCarSOCKWH,omitempty"`
	CarSOCNextKWH  []float64 `json:"carSOCNextKWH,omitempty"`

	// Diverter activity in the first step, consumed by the executor's
	// hold-for-iBoost rule.
	IBoostRunning      bool `json:"iboostRunning"`
	IBoostRunningSolar bool `json:"iboostRunningSolar"`
	IBoostRunningFull  bool `json:"iboostRunningFull"`

	Trace *Trace `json:"trace,omitempty"`
}

// Trace is the per-step record kept in best/test modes.
type Trace struct {
	Stamps         []time.Time `json:"stamps"`
	Minutes        []int       `json:"minutes"`
	SOCKWH         []float64   `json:"socKWH"`
	Metric         []float64   `json:"metric"`
	BatteryPowerKW []float64   `json:"batteryPowerKW"`
	PVPowerKW      []float64   `json:"pvPowerKW"`
	GridPowerKW    []float64   `json:"gridPowerKW"`
	LoadPowerKW    []float64   `json:"loadPowerKW"`
	IBoostKWH      []float64   `json:"iboostKWH"`
	CarbonG        []float64   `json:"carbonG"`
	BatteryState   []string    `json:"batteryState"`
	GridState      []string    `json:"gridState"`

	// NumericBound records any step where SoC had to be clamped back inside
	// [reserve, max] by more than epsilon; a non-empty list is a model bug.
	NumericBound []int `json:"numericBound,omitempty"`
}

const boundEpsilon = 1e-9

// Run simulates the plan over the horizon. The returned Result carries
// traces unless mode is ModeScore.
func Run(in Inputs, plan Plan, mode Mode) Result {
	step := Step
	stepH := float64(step) / 60.0
	p := in.Battery

	endRecord := in.EndRecordMinute
	if endRecord <= 0 || endRecord > in.HorizonMinutes {
		endRecord = in.HorizonMinutes
	}

	pvSeries := in.PV
	loadSeries := in.Load
	if plan.PV10 {
		pvSeries = in.PV10
		loadSeries = in.Load10
	}

	// Export wins any overlap; then index both sets for O(1) lookups.
	chargeLimits, chargeWindows := window.RemoveIntersecting(plan.ChargeLimitsKWH, plan.ChargeWindows, plan.ExportLimits, plan.ExportWindows)
	chargeIndex := window.NewIndex(chargeWindows)
	exportIndex := window.NewIndex(plan.ExportWindows)
	exportLimits := make([]float64, len(plan.ExportWindows))
	for i := range exportLimits {
		if i < len(plan.ExportLimits) {
			exportLimits[i] = plan.ExportLimits[i]
		} else {
			exportLimits[i] = 100
		}
	}

	inverterLossAC := 1.0
	if p.Hybrid {
		inverterLossAC = p.InverterLoss
	}
	inverterLoss := p.InverterLoss

	var trace *Trace
	if mode != ModeScore {
		n := in.HorizonMinutes / step
		trace = &Trace{
			Stamps:         make([]time.Time, 0, n),
			Minutes:        make([]int, 0, n),
			SOCKWH:         make([]float64, 0, n),
			Metric:         make([]float64, 0, n),
			BatteryPowerKW: make([]float64, 0, n),
			PVPowerKW:      make([]float64, 0, n),
			GridPowerKW:    make([]float64, 0, n),
			LoadPowerKW:    make([]float64, 0, n),
			IBoostKWH:      make([]float64, 0, n),
			CarbonG:        make([]float64, 0, n),
			BatteryState:   make([]string, 0, n),
			GridState:      make([]string, 0, n),
		}
	}

	soc := in.SOCKWH
	socMin := p.SOCMaxKWH
	socMinMinute := in.MinutesNow
	minuteLeft := in.HorizonMinutes

	importKWH := in.ImportSoFarKWH
	exportKWH := in.ExportSoFarKWH
	loadKWH := in.LoadSoFarKWH
	pvKWH := in.PVSoFarKWH
	iboostTodayKWH := in.IBoostTodayKWH
	carbonG := in.CarbonSoFarG
	metric := in.CostTodaySoFar

	var importHouseKWH, importBatteryKWH float64
	var batteryCycle, metricKeep, clippedToday float64

	carSOC := make([]float64, len(in.Cars))
	for i, car := range in.Cars {
		carSOC[i] = car.SOCKWH
	}
	finalCarSOC := append([]float64(nil), carSOC...)
	carSOCNext := append([]float64(nil), carSOC...)

	chargeRateNow := in.ChargeRateNowKW
	dischargeRateNow := in.DischargeRateNowKW

	fourHourRule := true
	chargeHasStarted := false
	chargeHasRun := false
	dischargeHasRun := false
	record := true

	res := Result{
		FinalSOCKWH:       soc,
		FirstChargeMinute: endRecord,
		FirstChargeSOCKWH: soc,
	}
	finalMetric := metric
	finalImport := importKWH
	finalImportHouse := importHouseKWH
	finalImportBattery := importBatteryKWH
	finalExport := exportKWH
	finalLoad := loadKWH
	finalPV := pvKWH
	finalIBoost := iboostTodayKWH
	finalBatteryCycle := batteryCycle
	finalMetricKeep := metricKeep
	finalCarbon := carbonG
	finalClipped := clippedToday
	firstCharge := endRecord
	firstChargeSOC := soc
	exportToFirstCharge := 0.0

	var iboostRunning, iboostRunningSolar, iboostRunningFull bool

	for minute := 0; minute < in.HorizonMinutes; minute += step {
		minuteAbs := minute + in.MinutesNow
		prevSOC := soc
		reserveExpected := p.ReserveKWH

		alertKeep := in.AlertKeep.At(minuteAbs)
		batteryTemperature := in.TemperatureForecast.AtOr(minute, in.BatteryTemperatureC)

		// The keep penalty ramps in over four hours until a force-export step
		// has run, which disables the ramp entirely.
		var keepScaling float64
		if fourHourRule {
			keepScaling = math.Min(float64(minute)/(4*60), 1.0) * in.BestSOCKeepWeight
		} else {
			keepScaling = in.BestSOCKeepWeight
		}
		bestSOCKeep := in.BestSOCKeepKWH
		if alertKeep > 0 {
			keepScaling = math.Max(keepScaling, 2.0)
			bestSOCKeep = math.Max(bestSOCKeep, math.Min(alertKeep/100.0*p.SOCMaxKWH, p.SOCMaxKWH))
		}

		chargeWindowN := chargeIndex.Lookup(minuteAbs)
		exportWindowN := exportIndex.Lookup(minuteAbs)

		chargeLimitN := 0.0
		if chargeWindowN >= 0 {
			chargeLimitN = chargeLimits[chargeWindowN]
			if chargeLimitN == 0 {
				chargeWindowN = -1
			} else {
				if in.Flags.SetChargeFreeze && chargeLimitN == p.ReserveKWH {
					// Freeze charge holds at the current level.
					chargeLimitN = math.Max(soc, p.ReserveKWH)
				}
				if in.Flags.SetReserveEnable && soc >= chargeLimitN {
					reserveExpected = math.Max(chargeLimitN, p.ReserveKWH)
				}
			}
		}

		if minute >= endRecord {
			record = false
		}

		if trace != nil {
			trace.Stamps = append(trace.Stamps, in.MidnightUTC.Add(time.Duration(minuteAbs)*time.Minute))
			trace.Minutes = append(trace.Minutes, minute)
			trace.SOCKWH = append(trace.SOCKWH, soc)
			trace.Metric = append(trace.Metric, metric)
		}

		// Standing charge lands on the step that wraps local midnight, only
		// when evaluating the final plan.
		if mode != ModeScore && minuteAbs%(24*60) < step {
			metric += in.MetricStandingCharge
		}

		pvNow := pvSeries.At(minute)
		loadNow := loadSeries.At(minute)
		pvKWH += pvNow
		if record {
			finalPV = pvKWH
		}

		// Each tick the executor restores nominal rates, so model that reset.
		if in.Flags.SetChargeWindow || in.Flags.SetExportWindow {
			chargeRateNow = p.RateMaxChargeKW
			dischargeRateNow = p.RateMaxDischargeKW
		}

		// Car charging load for this step.
		for carN, car := range in.Cars {
			carLoadKW := carSlotLoad(car, minuteAbs)
			if carLoadKW <= 0 {
				continue
			}
			carLoadScale := carLoadKW * stepH
			carLoadScale = math.Max(math.Min(carLoadScale, car.LimitKWH-carSOC[carN]), 0)
			carSOC[carN] += carLoadScale
			loadNow += carLoadScale / car.Loss
			if carLoadScale > 0 && !in.Flags.CarChargingFromBattery && in.Flags.SetChargeWindow {
				// The car must not drain the home battery.
				dischargeRateNow = p.RateMinKW
			}
		}

		// iBoost demand ahead of regime selection.
		iboostRateOK := true
		iboostAmount := 0.0
		if in.IBoost.Enable {
			importRate := in.RateImport.At(minuteAbs)
			exportRate := in.RateExport.At(minuteAbs)
			if importRate > in.IBoost.RateThreshold {
				iboostRateOK = false
			}
			if exportRate > in.IBoost.RateThresholdExport {
				iboostRateOK = false
			}
			if in.IBoost.Gas {
				if importRate > in.RateGas.AtOr(minuteAbs, 99)*in.IBoost.GasScale {
					iboostRateOK = false
				}
			}
			if in.IBoost.GasExport {
				if exportRate > in.RateGas.AtOr(minuteAbs, 99)*in.IBoost.GasScale {
					iboostRateOK = false
				}
			}

			if len(in.IBoost.Plan) > 0 && (in.IBoost.OnExport || exportWindowN < 0) {
				iboostLoad := iboostSlotLoad(in.IBoost.Plan, minuteAbs) * stepH
				iboostAmount = math.Min(iboostLoad, math.Min(in.IBoost.MaxPowerKW*stepH, math.Max(in.IBoost.MaxEnergyKWH-iboostTodayKWH, 0)))
			}

			if in.IBoost.Charging && iboostRateOK && iboostTodayKWH < in.IBoost.MaxEnergyKWH && chargeWindowN >= 0 {
				iboostAmount = math.Min(in.IBoost.MaxPowerKW*stepH, math.Max(in.IBoost.MaxEnergyKWH-iboostTodayKWH, 0))
			}

			if iboostAmount > 0 && in.IBoost.PreventDischarge && in.Flags.SetChargeWindow {
				dischargeRateNow = p.RateMinKW
			}
			if iboostAmount > 0 && minute == 0 {
				iboostRunningFull = true
			}
			loadNow += iboostAmount
		}

		loadKWH += loadNow
		if record {
			finalLoad = loadKWH
		}

		// Freeze export inhibits charging for the window without discharging.
		if in.Flags.SetExportFreeze && exportWindowN >= 0 && exportLimits[exportWindowN] < 100.0 &&
			(exportLimits[exportWindowN] == 99.0 || in.Flags.SetExportFreezeOnly) {
			chargeRateNow = p.RateMinKW
		}

		if chargeWindowN >= 0 {
			if !in.Flags.SetDischargeDuringCharge {
				dischargeRateNow = p.RateMinKW
			} else if in.Flags.SetChargeWindow && soc >= chargeLimitN &&
				math.Abs(float64(curve.PercentLimit(soc, p.SOCMaxKWH)-curve.PercentLimit(chargeLimitN, p.SOCMaxKWH))) <= 1.0 {
				dischargeRateNow = p.RateMinKW
			}
		}

		chargeRateCurve := curve.ChargeRate(soc, chargeRateNow, p, batteryTemperature) * p.RateMaxScaling
		dischargeRateCurve := curve.DischargeRate(soc, dischargeRateNow, p, batteryTemperature) * p.RateMaxScalingDischarge

		batteryToMin := math.Max(soc-reserveExpected, 0) * p.LossDischarge
		batteryToMax := math.Max(p.SOCMaxKWH-soc, 0) * p.LossCharge
		inverterLimit := p.InverterLimitKW * stepH
		exportLimit := p.ExportLimitKW * stepH

		dischargeMin := p.ReserveKWH
		if exportWindowN >= 0 {
			dischargeMin = math.Max(p.SOCMaxKWH*exportLimits[exportWindowN]/100.0, math.Max(p.ReserveKWH, in.BestSOCMinKWH))
		}

		var batteryDraw, pvDC, pvAC float64
		batteryState := "-"

		switch {
		case !in.Flags.SetExportFreezeOnly && exportWindowN >= 0 && exportLimits[exportWindowN] < 99.0 && soc > dischargeMin:
			// Force export.
			exportRateAdjust := 1.0
			if in.Flags.SetExportLowPower {
				exportRateAdjust = 1 - (exportLimits[exportWindowN] - math.Floor(exportLimits[exportWindowN]))
			}
			dischargeRateNow = p.RateMaxDischargeKW * exportRateAdjust
			dischargeRateCurve = curve.DischargeRate(soc, dischargeRateNow, p, batteryTemperature) * p.RateMaxScalingDischarge

			batteryDraw = math.Min(dischargeRateCurve*stepH, batteryToMin)
			pvAC = pvNow * inverterLossAC
			pvDC = 0

			// Over the export limit: back off the battery before clipping PV.
			diff := acDiff(batteryDraw, pvDC, pvAC, loadNow, inverterLoss)
			if diff < 0 && math.Abs(diff) > exportLimit {
				reduceBy := math.Abs(diff) - exportLimit
				if reduceBy > batteryDraw {
					reduceBy -= batteryDraw
					batteryDraw = math.Max(-reduceBy*inverterLoss, math.Max(-batteryToMin, -chargeRateCurve*stepH))
				} else {
					batteryDraw -= reduceBy
				}
				if p.Hybrid && batteryDraw < 0 {
					pvDC = math.Min(math.Abs(batteryDraw), pvNow)
					pvAC = (pvNow - pvDC) * inverterLossAC
				}
			}

			// Inverter limit cascade.
			total := totalInverted(batteryDraw, pvDC, pvAC, inverterLoss, p.Hybrid)
			if p.Hybrid {
				if total > inverterLimit {
					reduceBy := total - inverterLimit
					if reduceBy > batteryDraw {
						reduceBy -= batteryDraw
						batteryDraw = math.Max(-reduceBy*inverterLoss, math.Max(-batteryToMin, -chargeRateCurve*stepH))
					} else {
						batteryDraw -= reduceBy
					}
					if batteryDraw < 0 {
						pvDC = math.Min(math.Abs(batteryDraw), pvNow)
					}
					pvAC = (pvNow - pvDC) * inverterLossAC
				}
			} else if total > inverterLimit {
				batteryDraw = math.Max(batteryDraw-(total-inverterLimit)*inverterLoss, 0)
			}

			if batteryDraw < 0 {
				batteryState = "f/"
			} else {
				batteryState = "f-"
			}
			fourHourRule = false

		case chargeWindowN >= 0 && soc < chargeLimitN:
			// Force charge.
			lowPower := in.Flags.SetChargeWindow && in.Flags.SetChargeLowPower && mode != ModeScore
			_, chargeRateCurve = curve.FindChargeRate(minuteAbs, soc, chargeWindows[chargeWindowN], chargeLimitN, p, lowPower, in.Flags.ChargeLowPowerMarginMinutes, batteryTemperature)

			batteryDraw = -math.Max(math.Min(chargeRateCurve*stepH, math.Max(chargeLimitN-soc, pvNow)), 0)
			batteryState = "f+"
			if minute < firstCharge {
				firstCharge = minute
			}

			if p.Hybrid {
				pvDC = math.Min(math.Abs(batteryDraw), pvNow)
			} else {
				pvDC = 0
			}
			pvAC = (pvNow - pvDC) * inverterLossAC

			if chargeLimitN-soc < chargeRateCurve*stepH {
				// The limit lands inside this step: charging runs at full
				// rate then stops, so a late-step PV dip becomes an import
				// rather than headroom. Cost that as a keep-style penalty.
				pvCompare := pvDC + pvAC
				if pvDC >= chargeLimitN-soc && pvCompare < chargeRateCurve*stepH {
					chargeTimeRemains := (chargeLimitN - soc) / chargeRateCurve * 60.0
					pvInPeriod := pvCompare / float64(step) * chargeTimeRemains
					potentialImport := math.Min(chargeRateCurve/60.0*chargeTimeRemains-pvInPeriod, chargeLimitN-soc)
					metricKeep += math.Max(potentialImport*in.RateImport.At(minuteAbs), 0)
				}
			}

		default:
			// ECO: follow demand.
			pvAC = pvNow * inverterLossAC
			pvDC = 0

			requiredForLoad := loadNow / inverterLoss
			potentialToCharge := pvAC
			if p.Hybrid {
				potentialToCharge = pvNow
			}
			diff := requiredForLoad - potentialToCharge

			if diff > 0 {
				batteryDraw = math.Min(math.Min(diff, dischargeRateCurve*stepH), math.Min(inverterLimit, batteryToMin))
				batteryState = "e-"
			} else {
				batteryDraw = math.Max(math.Max(diff, -chargeRateCurve*stepH), math.Max(-inverterLimit, -batteryToMax))
				if batteryDraw < 0 {
					batteryState = "e+"
				} else {
					batteryState = "e~"
				}
				if p.Hybrid {
					pvDC = math.Min(math.Abs(batteryDraw), pvNow)
				} else {
					pvDC = 0
				}
				pvAC = (pvNow - pvDC) * inverterLossAC
			}
		}

		// Clamp at the inverter limit, common to all regimes.
		if p.Hybrid {
			batteryInverted := totalInverted(batteryDraw, pvDC, 0, inverterLoss, true)
			if batteryInverted > inverterLimit {
				overLimit := batteryInverted - inverterLimit
				if batteryDraw+pvDC > 0 {
					batteryDraw = math.Max(batteryDraw-overLimit, 0)
				} else {
					batteryDraw = math.Min(batteryDraw+overLimit*inverterLoss, 0)
				}
				if batteryDraw < 0 {
					pvDC = math.Min(math.Abs(batteryDraw), pvNow)
					pvAC = (pvNow - pvDC) * inverterLossAC
				}
			}

			total := totalInverted(batteryDraw, pvDC, pvAC, inverterLoss, true)
			if total > inverterLimit && batteryDraw+pvDC > 0 {
				overLimit := total - inverterLimit
				batteryDraw = math.Max(batteryDraw-overLimit, 0)
				if batteryDraw == 0 {
					total = totalInverted(batteryDraw, pvDC, pvAC, inverterLoss, true)
					if total > inverterLimit {
						overLimit = total - inverterLimit
					}
					batteryDraw = math.Max(math.Max(-overLimit*inverterLoss, -chargeRateCurve*stepH), math.Max(-batteryToMax, -pvAC))
				}
				if batteryDraw < 0 {
					pvDC = math.Min(math.Abs(batteryDraw), pvNow)
					pvAC = (pvNow - pvDC) * inverterLossAC
				}
			}

			total = totalInverted(batteryDraw, pvDC, pvAC, inverterLoss, true)
			if total > inverterLimit {
				overLimit := total - inverterLimit
				clippedToday += overLimit
				pvAC = math.Max(pvAC-overLimit*inverterLoss, 0)
			}
		} else {
			total := totalInverted(batteryDraw, pvDC, pvAC, inverterLoss, false)
			if total > inverterLimit {
				overLimit := total - inverterLimit
				if batteryDraw > 0 {
					batteryDraw = math.Max(batteryDraw-overLimit, 0)
				} else {
					batteryDraw = math.Min(batteryDraw+overLimit*inverterLoss, 0)
				}
			}
		}

		// Export limit: clip PV that would have exported.
		diff := acDiff(batteryDraw, pvDC, pvAC, loadNow, inverterLoss)
		if diff < 0 && math.Abs(diff) > exportLimit {
			overLimit := math.Abs(diff) - exportLimit
			clippedToday += overLimit
			pvAC = math.Max(pvAC-overLimit, 0)
		}

		// Adjust SoC with asymmetric losses.
		if batteryDraw > 0 {
			soc -= batteryDraw / p.LossDischarge
		} else {
			soc -= batteryDraw * p.LossCharge
		}
		if trace != nil && (soc < p.ReserveKWH-boundEpsilon || soc > p.SOCMaxKWH+boundEpsilon) {
			trace.NumericBound = append(trace.NumericBound, minute)
		}
		if batteryDraw > 0 {
			soc = math.Max(soc, reserveExpected)
		} else {
			soc = math.Min(soc, p.SOCMaxKWH)
		}

		// iBoost solar diversion after battery allocation.
		if in.IBoost.Enable {
			if in.IBoost.Solar && iboostRateOK && iboostTodayKWH < in.IBoost.MaxEnergyKWH &&
				pvAC > in.IBoost.MinPowerKW*stepH &&
				soc*100.0/p.SOCMaxKWH >= in.IBoost.MinSOCPercent &&
				(in.IBoost.OnExport || exportWindowN < 0) {
				iboostPVAmount := math.Min(pvAC, math.Min(math.Max(in.IBoost.MaxPowerKW*stepH-iboostAmount, 0), math.Max(in.IBoost.MaxEnergyKWH-iboostTodayKWH-iboostAmount, 0)))
				pvAC -= iboostPVAmount
				iboostAmount += iboostPVAmount
				if iboostPVAmount > 0 && minute == 0 {
					iboostRunningSolar = true
				}
			}
			iboostTodayKWH += iboostAmount

			// Reset on the last step before local midnight (the step that
			// ends at minute 1440 of the day).
			if minuteAbs%(24*60) == (24*60)-step {
				iboostTodayKWH = 0
			}

			if minute == 0 && iboostAmount > 0 {
				iboostRunning = true
			}
		}

		batteryCycle += math.Abs(batteryDraw)

		// Left-over energy after the battery settles becomes grid flow.
		diff = acDiff(batteryDraw, pvDC, pvAC, loadNow, inverterLoss)

		if bestSOCKeep > 0 && soc <= bestSOCKeep {
			metricKeep += (bestSOCKeep - soc) * in.RateImport.At(minuteAbs) * keepScaling * stepH
		}

		gridState := "~"
		var exportedStep float64
		if diff > 0 {
			importKWH += diff
			if in.CarbonEnable {
				carbonG += diff * in.CarbonIntensity.At(minute)
			}
			if chargeWindowN >= 0 {
				importBatteryKWH += diff
			} else {
				importHouseKWH += diff
			}
			metric += in.RateImport.At(minuteAbs) * diff
			gridState = "<"
		} else {
			exportedStep = -diff
			exportKWH += exportedStep
			if in.CarbonEnable {
				carbonG -= exportedStep * in.CarbonIntensity.At(minute)
			}
			metric -= in.RateExport.At(minuteAbs) * exportedStep
			if diff != 0 {
				gridState = ">"
			}
		}

		if record && soc <= p.ReserveKWH {
			minuteLeft = min(minute, minuteLeft)
		}

		if record {
			res.FinalSOCKWH = soc
			for carN := range carSOC {
				finalCarSOC[carN] = carSOC[carN]
				if minute == 0 {
					carSOCNext[carN] = carSOC[carN]
				}
			}
			finalMetric = metric
			finalImport = importKWH
			finalImportBattery = importBatteryKWH
			finalImportHouse = importHouseKWH
			finalExport = exportKWH
			finalIBoost += iboostAmount
			finalBatteryCycle = batteryCycle
			finalMetricKeep = metricKeep
			finalCarbon = carbonG
			finalClipped = clippedToday

			if diff < 0 && minute <= firstCharge {
				exportToFirstCharge += exportedStep
			}
			if minute <= firstCharge {
				firstChargeSOC = prevSOC
			}
		}

		if chargeWindowN >= 0 {
			chargeHasStarted = true
		}
		if chargeHasStarted && chargeWindowN < 0 {
			chargeHasRun = true
		}
		if exportWindowN >= 0 && exportLimits[exportWindowN] < 100.0 {
			dischargeHasRun = true
		}

		if record && (dischargeHasRun || chargeHasRun || len(chargeWindows) == 0) {
			if soc < socMin {
				socMinMinute = minuteAbs
			}
			socMin = math.Min(socMin, soc)
		}

		if trace != nil {
			trace.BatteryState = append(trace.BatteryState, batteryState)
			trace.GridState = append(trace.GridState, gridState)
			trace.BatteryPowerKW = append(trace.BatteryPowerKW, batteryDraw/stepH)
			trace.PVPowerKW = append(trace.PVPowerKW, pvNow/stepH)
			trace.GridPowerKW = append(trace.GridPowerKW, diff/stepH)
			trace.LoadPowerKW = append(trace.LoadPowerKW, loadNow/stepH)
			trace.IBoostKWH = append(trace.IBoostKWH, iboostTodayKWH)
			trace.CarbonG = append(trace.CarbonG, carbonG)
		}
	}

	res.Metric = finalMetric
	res.ImportKWH = finalImport
	res.ImportHouseKWH = finalImportHouse
	res.ImportBatteryKWH = finalImportBattery
	res.ExportKWH = finalExport
	res.LoadKWH = finalLoad
	res.PVKWH = finalPV
	res.SOCMinKWH = socMin
	res.SOCMinMinute = socMinMinute
	res.BatteryCycleKWH = finalBatteryCycle
	res.MetricKeep = finalMetricKeep
	res.FinalIBoostKWH = finalIBoost
	res.FinalCarbonG = finalCarbon
	res.ClippedKWH = finalClipped
	res.HoursLeft = float64(minuteLeft) / 60.0
	res.FirstChargeMinute = firstCharge
	res.FirstChargeSOCKWH = firstChargeSOC
	res.ExportToFirstChargeKWH = exportToFirstCharge
	res.FinalCarSOCKWH = finalCarSOC
	res.CarSOCNextKWH = carSOCNext
	res.IBoostRunning = iboostRunning
	res.IBoostRunningSolar = iboostRunningSolar
	res.IBoostRunningFull = iboostRunningFull
	res.Trace = trace
	return res
}
