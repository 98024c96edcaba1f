package types

// Flags are the operational feature toggles shared by the simulator and the
// plan executor. They are resolved once per planning cycle so both sides see
// the same values.
type Flags struct {
	SetChargeWindow bool `json:"setChargeWindow" yaml:"setChargeWindow"`
	SetExportWindow bool `json:"setExportWindow" yaml:"setExportWindow"`
	SetSOCEnable    bool `json:"setSOCEnable" yaml:"setSOCEnable"`

	SetReserveEnable bool `json:"setReserveEnable" yaml:"setReserveEnable"`
	SetReserveHold   bool `json:"setReserveHold" yaml:"setReserveHold"`

	// SetDischargeDuringCharge false suppresses battery discharge for the
	// duration of any charge window.
	SetDischargeDuringCharge bool `json:"setDischargeDuringCharge" yaml:"setDischargeDuringCharge"`

	SetChargeLowPower bool `json:"setChargeLowPower" yaml:"setChargeLowPower"`
	SetExportLowPower bool `json:"setExportLowPower" yaml:"setExportLowPower"`

	SetChargeFreeze     bool `json:"setChargeFreeze" yaml:"setChargeFreeze"`
	SetExportFreeze     bool `json:"setExportFreeze" yaml:"setExportFreeze"`
	SetExportFreezeOnly bool `json:"setExportFreezeOnly" yaml:"setExportFreezeOnly"`

	ReadOnly bool `json:"readOnly" yaml:"readOnly"`

	// InverterSOCReset returns AC-coupled inverters to a 100% target outside
	// charge windows so solar charging is never clipped by a stale target.
	InverterSOCReset bool `json:"inverterSOCReset" yaml:"inverterSOCReset"`

	CarChargingFromBattery bool `json:"carChargingFromBattery" yaml:"carChargingFromBattery"`

	// SetWindowMinutes is how far ahead of a window start the executor will
	// program the inverter registers. SetSOCMinutes is the same for the
	// target-SoC write.
	SetWindowMinutes int `json:"setWindowMinutes" yaml:"setWindowMinutes"`
	SetSOCMinutes    int `json:"setSOCMinutes" yaml:"setSOCMinutes"`

	// ChargeLowPowerMarginMinutes is the slack subtracted from the remaining
	// window time when choosing a low-power charge rate.
	ChargeLowPowerMarginMinutes int `json:"chargeLowPowerMarginMinutes" yaml:"chargeLowPowerMarginMinutes"`

	HolidayDaysLeft int `json:"holidayDaysLeft" yaml:"holidayDaysLeft"`
}

// DefaultFlags are the values a fresh installation runs with.
func DefaultFlags() Flags {
	return Flags{
		SetChargeWindow:             true,
		SetExportWindow:             true,
		SetSOCEnable:                true,
		SetReserveEnable:            true,
		SetReserveHold:              true,
		SetDischargeDuringCharge:    true,
		SetChargeFreeze:             true,
		SetExportFreeze:             true,
		CarChargingFromBattery:      false,
		SetWindowMinutes:            30,
		SetSOCMinutes:               30,
		ChargeLowPowerMarginMinutes: 10,
	}
}
