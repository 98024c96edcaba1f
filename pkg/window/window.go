// Package window implements the algebra on half-open charge/export time
// windows: normalisation against each other, merging, and fast minute
// lookups for the simulator's inner loop.
package window

import (
	"sort"

	"github.com/gridpilot/gridpilot/pkg/types"
)

// Step is the planning time quantum in minutes.
const Step = 5

// MinutesPerDay is one day in window-frame minutes.
const MinutesPerDay = 24 * 60

// RemoveIntersecting crops or removes charge windows wherever they overlap an
// active export window (export wins). Charge limits stay aligned with the
// surviving windows; ordering and gaps are preserved. Export windows at limit
// 100 are inactive and do not displace anything.
func RemoveIntersecting(chargeLimits []float64, chargeWindows []types.Window, exportLimits []float64, exportWindows []types.Window) ([]float64, []types.Window) {
	outLimits := make([]float64, 0, len(chargeWindows))
	outWindows := make([]types.Window, 0, len(chargeWindows))

	for n, cw := range chargeWindows {
		clipped := cw
		dropped := false
		for e, ew := range exportWindows {
			if e < len(exportLimits) && exportLimits[e] >= 100.0 {
				continue
			}
			if clipped.StartMinute >= ew.EndMinute || clipped.EndMinute <= ew.StartMinute {
				continue
			}
			// Overlap: keep whichever side of the export window survives.
			if clipped.StartMinute >= ew.StartMinute && clipped.EndMinute <= ew.EndMinute {
				dropped = true
				break
			}
			if clipped.StartMinute < ew.StartMinute {
				clipped.EndMinute = ew.StartMinute
			} else {
				clipped.StartMinute = ew.EndMinute
			}
			if clipped.EndMinute-clipped.StartMinute < Step {
				dropped = true
				break
			}
		}
		if dropped {
			continue
		}
		outWindows = append(outWindows, clipped)
		if n < len(chargeLimits) {
			outLimits = append(outLimits, chargeLimits[n])
		} else {
			outLimits = append(outLimits, 0)
		}
	}
	return outLimits, outWindows
}

// MergeContiguous fuses windows whose end meets the next window's start.
// Used when deciding the next upcoming window for execution.
func MergeContiguous(windows []types.Window) []types.Window {
	if len(windows) == 0 {
		return nil
	}
	out := make([]types.Window, 0, len(windows))
	cur := windows[0]
	for _, w := range windows[1:] {
		if w.StartMinute == cur.EndMinute {
			cur.EndMinute = w.EndMinute
			continue
		}
		out = append(out, cur)
		cur = w
	}
	return append(out, cur)
}

// Index maps absolute minutes to the id of the window containing them.
// Lookups are O(1) via a dense table at Step granularity.
type Index struct {
	base  int
	table []int
}

// NewIndex builds an index over the given windows. Minutes outside every
// window resolve to -1.
func NewIndex(windows []types.Window) *Index {
	idx := &Index{base: 0}
	if len(windows) == 0 {
		return idx
	}
	lo, hi := windows[0].StartMinute, windows[0].EndMinute
	for _, w := range windows[1:] {
		if w.StartMinute < lo {
			lo = w.StartMinute
		}
		if w.EndMinute > hi {
			hi = w.EndMinute
		}
	}
	lo = (lo / Step) * Step
	idx.base = lo
	idx.table = make([]int, (hi-lo+Step-1)/Step)
	for i := range idx.table {
		idx.table[i] = -1
	}
	for n, w := range windows {
		for m := w.StartMinute; m < w.EndMinute; m += Step {
			slot := (m - lo) / Step
			if slot >= 0 && slot < len(idx.table) {
				idx.table[slot] = n
			}
		}
	}
	return idx
}

// Lookup returns the window id containing the absolute minute, or -1.
func (x *Index) Lookup(minute int) int {
	if x == nil || len(x.table) == 0 {
		return -1
	}
	slot := (minute - x.base) / Step
	if minute < x.base || slot >= len(x.table) {
		return -1
	}
	return x.table[slot]
}

// Disjoint reports whether the windows are pairwise non-overlapping.
func Disjoint(windows []types.Window) bool {
	if len(windows) < 2 {
		return true
	}
	sorted := make([]types.Window, len(windows))
	copy(sorted, windows)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartMinute < sorted[j].StartMinute })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].StartMinute < sorted[i-1].EndMinute {
			return false
		}
	}
	return true
}

// SplitAtMidnight caps a window at the last minute of the day for inverters
// whose registers cannot span midnight.
func SplitAtMidnight(w types.Window) types.Window {
	if w.StartMinute < MinutesPerDay && w.EndMinute >= MinutesPerDay {
		w.EndMinute = MinutesPerDay - 1
	}
	return w
}

// AdvanceForWrap moves a started window's start to the nearest half hour at
// or after minutesNow when the span would exceed the 24-hour register range.
func AdvanceForWrap(w types.Window, minutesNow int) types.Window {
	if w.StartMinute < minutesNow && w.EndMinute-w.StartMinute >= MinutesPerDay {
		w.StartMinute = ((minutesNow + 29) / 30) * 30
	}
	return w
}
