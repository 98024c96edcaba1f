package sim

import (
	"math"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// carSlotLoad returns the kW draw for a car at the given absolute minute:
// the slot energy spread evenly over the slot, zero outside any slot.
func carSlotLoad(car types.CarPlan, minuteAbs int) float64 {
	for _, slot := range car.Slots {
		if slot.Contains(minuteAbs) {
			hours := float64(slot.Minutes()) / 60.0
			if hours <= 0 {
				return 0
			}
			return math.Abs(slot.KWH / hours)
		}
	}
	return 0
}

// iboostSlotLoad returns the diverter kW demanded by the planned slot
// containing the given absolute minute.
func iboostSlotLoad(plan []types.IBoostSlot, minuteAbs int) float64 {
	for _, slot := range plan {
		if slot.Contains(minuteAbs) {
			hours := float64(slot.Minutes()) / 60.0
			if hours <= 0 {
				return 0
			}
			return math.Abs(slot.KWH / hours)
		}
	}
	return 0
}
