// Package inverter defines the abstract inverter the executor drives, the
// capability flags that select its fallback behaviour, and a mock driver for
// tests. Concrete protocol drivers live outside this module; anything
// implementing Controls can be managed.
package inverter

import (
	"context"
	"time"
)

// Capabilities describes what a concrete inverter can do. Absent
// capabilities trigger explicit fallback branches in the executor.
type Capabilities struct {
	HasTimedPause             bool `json:"hasTimedPause"`
	CanSpanMidnight           bool `json:"canSpanMidnight"`
	HasTargetSOC              bool `json:"hasTargetSOC"`
	HasChargeEnableTime       bool `json:"hasChargeEnableTime"`
	SupportsDischargeFreeze   bool `json:"supportsDischargeFreeze"`
	SupportsChargeFreeze      bool `json:"supportsChargeFreeze"`
	HasReserveSOC             bool `json:"hasReserveSOC"`
	ChargeDischargeSharesRate bool `json:"chargeDischargeSharesRate"`
	CanChargeDuringExport     bool `json:"canChargeDuringExport"`
}

// State is a point-in-time reading of one inverter, refreshed before every
// planning tick.
type State struct {
	SOCKWH     float64 `json:"socKWH"`
	SOCPercent float64 `json:"socPercent"`
	SOCMaxKWH  float64 `json:"socMaxKWH"`

	ReserveKWH            float64 `json:"reserveKWH"`
	ReserveCurrentPercent float64 `json:"reserveCurrentPercent"`
	ReserveMaxPercent     float64 `json:"reserveMaxPercent"`

	RateMaxChargeKW    float64 `json:"rateMaxChargeKW"`
	RateMaxDischargeKW float64 `json:"rateMaxDischargeKW"`
	ChargeRateNowKW    float64 `json:"chargeRateNowKW"`
	DischargeRateNowKW float64 `json:"dischargeRateNowKW"`

	// BatteryPowerKW is positive when discharging.
	BatteryPowerKW float64 `json:"batteryPowerKW"`
	PVPowerKW      float64 `json:"pvPowerKW"`
	LoadPowerKW    float64 `json:"loadPowerKW"`

	InverterLimitKW float64 `json:"inverterLimitKW"`
	ExportLimitKW   float64 `json:"exportLimitKW"`

	// Programmed window registers in minutes from the midnight anchor.
	ChargeStartMinute    int `json:"chargeStartMinute"`
	ChargeEndMinute      int `json:"chargeEndMinute"`
	DischargeStartMinute int `json:"dischargeStartMinute"`
	DischargeEndMinute   int `json:"dischargeEndMinute"`

	InCalibration bool `json:"inCalibration"`
}

// Controls is the abstract inverter. Every mutator is idempotent with
// respect to the current physical state: writing a value that is already set
// is a no-op and does not count as a register write.
type Controls interface {
	// ID identifies the inverter within the fleet.
	ID() string

	// Capabilities returns the static capability flags.
	Capabilities() Capabilities

	// Refresh reads the current state from the device.
	Refresh(ctx context.Context) (State, error)

	// AdjustChargeRate sets the charge rate in kW.
	AdjustChargeRate(ctx context.Context, kw float64) error

	// AdjustDischargeRate sets the discharge rate in kW.
	AdjustDischargeRate(ctx context.Context, kw float64) error

	// AdjustBatteryTarget sets the target SoC percent for the active regime.
	AdjustBatteryTarget(ctx context.Context, percent float64, isCharging, isExporting bool) error

	// AdjustReserve sets the reserve percent; zero restores the configured
	// minimum.
	AdjustReserve(ctx context.Context, percent float64) error

	// AdjustChargeWindow programs the charge window registers.
	AdjustChargeWindow(ctx context.Context, start, end time.Time, minutesNow int) error

	// DisableChargeWindow clears the charge window registers.
	DisableChargeWindow(ctx context.Context) error

	// AdjustForceExport enables or disables the forced-export window.
	AdjustForceExport(ctx context.Context, enable bool, start, end time.Time) error

	// AdjustChargeImmediate commands charging to the target now; freeze holds
	// the level instead of raising it. A zero target clears the command.
	AdjustChargeImmediate(ctx context.Context, targetPercent float64, freeze bool) error

	// AdjustExportImmediate is the export counterpart of
	// AdjustChargeImmediate.
	AdjustExportImmediate(ctx context.Context, targetPercent float64, freeze bool) error

	// AdjustPauseMode pauses charging and/or discharging; all-false clears.
	AdjustPauseMode(ctx context.Context, pauseCharge, pauseDischarge bool) error

	// WriteCount returns register writes since the last ResetWriteCount.
	WriteCount() int

	// ResetWriteCount zeroes the write counter, once per tick.
	ResetWriteCount()
}
