package sim

// Battery/inverter coupling helpers shared by every operating regime. All
// arguments are kWh within one step; batteryDraw is positive when
// discharging and negative when charging.

// acDiff returns the AC-side shortfall for the step: positive means grid
// import, negative means grid export. Energy leaving the DC side crosses the
// inverter and pays inverterLoss; energy entering divides by it.
func acDiff(batteryDraw, pvDC, pvAC, load, inverterLoss float64) float64 {
	batteryBalance := batteryDraw + pvDC
	if batteryBalance > 0 {
		batteryBalance *= inverterLoss
	} else {
		batteryBalance /= inverterLoss
	}
	return load - batteryBalance - pvAC
}

// totalInverted returns the energy crossing the inverter boundary in the
// step. For hybrid inverters DC-coupled PV routed to AC shares the same
// boundary.
func totalInverted(batteryDraw, pvDC, pvAC, inverterLoss float64, hybrid bool) float64 {
	batteryBalance := batteryDraw + pvDC
	var total float64
	if batteryBalance > 0 {
		total = batteryBalance
	} else {
		total = -batteryBalance / inverterLoss
	}
	if hybrid {
		total += pvAC / inverterLoss
	}
	return total
}
