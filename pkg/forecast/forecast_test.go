package forecast

import (
	"context"
	"testing"
	"time"

	"github.com/gridpilot/gridpilot/pkg/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillPV(t *testing.T) {
	out := FillPV(sim.Series{0.1, 0.2}, 5)
	assert.Equal(t, sim.Series{0.1, 0.2, 0, 0, 0}, out, "missing PV is zero")

	assert.Equal(t, sim.Series{0, 0, 0}, FillPV(nil, 3))
}

func TestFillLoad(t *testing.T) {
	out := FillLoad(sim.Series{0.2, 0.4}, 4)
	assert.InDelta(t, 0.3, out[2], 1e-9, "gaps get the known average")
	assert.InDelta(t, 0.3, out[3], 1e-9)

	empty := FillLoad(nil, 3)
	assert.Equal(t, sim.Series{0, 0, 0}, empty)
}

func TestFillRates(t *testing.T) {
	out := FillRates(sim.Series{10, 12}, 4)
	assert.Equal(t, sim.Series{10, 12, 12, 12}, out, "rates carry forward")
}

func TestStaticProviders(t *testing.T) {
	s := Static{
		Rates:     Rates{Import: sim.Series{1, 2}},
		Forecasts: Forecasts{PVCentral: sim.Series{3}},
	}
	rates, err := s.FetchRates(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, sim.Series{1, 2}, rates.Import)

	fc, err := s.FetchForecast(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, sim.Series{3}, fc.PVCentral)
}
