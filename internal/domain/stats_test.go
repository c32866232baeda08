package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputePercentiles(t *testing.T) {
	t.Run("ignores unobserved samples", func(t *testing.T) {
		data := []float64{nan}
		for i := 0; i <= 100; i++ {
			data = append(data, float64(i)/100)
		}
		data = append(data, nan)

		s := ComputePercentiles(data, PercentileLow, PercentileHigh)
		assert.Equal(t, 101, s.Samples)
		assert.InDelta(t, 0.02, s.Low, 0.011)
		assert.InDelta(t, 0.98, s.High, 0.011)
		assert.Less(t, s.Low, s.High)
	})

	t.Run("no observed samples", func(t *testing.T) {
		s := ComputePercentiles([]float64{nan, nan}, PercentileLow, PercentileHigh)
		assert.True(t, s.Empty())
		assert.False(t, s.Degenerate())
		assert.True(t, math.IsNaN(s.Low))
	})

	t.Run("uniform input is degenerate", func(t *testing.T) {
		s := ComputePercentiles([]float64{0.4, 0.4, 0.4}, PercentileLow, PercentileHigh)
		assert.True(t, s.Degenerate())
	})
}

func TestRescaleValue(t *testing.T) {
	stats := PercentileStats{Low: 0.2, High: 0.8, Samples: 10}

	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{name: "midpoint", in: 0.5, want: 50},
		{name: "above high clamps to 100", in: 0.9, want: 100},
		{name: "at high", in: 0.8, want: 100},
		{name: "at low", in: 0.2, want: 0},
		{name: "below low clamps to 0", in: -0.3, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, RescaleValue(tc.in, stats))
		})
	}

	t.Run("half rounds up", func(t *testing.T) {
		unit := PercentileStats{Low: 0, High: 1, Samples: 2}
		assert.Equal(t, 13.0, RescaleValue(0.125, unit))
		assert.Equal(t, 38.0, RescaleValue(0.375, unit))
	})

	t.Run("unobserved stays unobserved", func(t *testing.T) {
		assert.True(t, math.IsNaN(RescaleValue(nan, stats)))
	})

	t.Run("degenerate range maps to zero", func(t *testing.T) {
		d := PercentileStats{Low: 0.4, High: 0.4, Samples: 3}
		assert.Equal(t, 0.0, RescaleValue(0.4, d))
		assert.Equal(t, 0.0, RescaleValue(0.9, d))
	})

	t.Run("empty stats yield nodata", func(t *testing.T) {
		assert.True(t, math.IsNaN(RescaleValue(0.5, PercentileStats{Low: nan, High: nan})))
	})
}

func TestRescale_Monotonic(t *testing.T) {
	stats := PercentileStats{Low: 0.1, High: 0.7, Samples: 100}
	g := Grid{CRS: testCRS, Scale: 1, Width: 601, Height: 1, OriginY: 1}
	data := make([]float64, g.Width)
	for i := range data {
		data[i] = 0.1 + float64(i)*0.001
	}
	out := Rescale(Raster{Grid: g, Bands: []Band{{Name: BandNDVI, Data: data}}}, stats)

	require.Equal(t, BandRelativeYield, out.Bands[0].Name)
	prev := -1.0
	for i, v := range out.Bands[0].Data {
		assert.GreaterOrEqual(t, v, prev, "sample %d", i)
		assert.GreaterOrEqual(t, v, 0.0)
		assert.LessOrEqual(t, v, 100.0)
		assert.Equal(t, math.Trunc(v), v)
		prev = v
	}
}
