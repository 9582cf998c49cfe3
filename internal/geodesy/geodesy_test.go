package geodesy_test

import (
	"testing"

	"github.com/shaunagostinho/pointdash/internal/geodesy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatDistance(t *testing.T) {
	tests := []struct {
		name   string
		meters float64
		units  geodesy.Units
		want   string
	}{
		{"meters", 42.4, geodesy.Metric, "42 m"},
		{"just below a km", 999.4, geodesy.Metric, "999 m"},
		{"short km", 1240, geodesy.Metric, "1.2 km"},
		{"long km", 12400, geodesy.Metric, "12 km"},
		{"negative clamps", -5, geodesy.Metric, "0 m"},
		{"feet", 100, geodesy.Imperial, "328 ft"},
		{"short miles", 3218.688, geodesy.Imperial, "2.0 mi"},
		{"long miles", 32186.88, geodesy.Imperial, "20 mi"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, geodesy.FormatDistance(tt.meters, tt.units))
		})
	}
}

func TestParseUnits(t *testing.T) {
	u, err := geodesy.ParseUnits("mi")
	require.NoError(t, err)
	assert.Equal(t, geodesy.Imperial, u)

	u, err = geodesy.ParseUnits("")
	require.NoError(t, err)
	assert.Equal(t, geodesy.Metric, u)

	_, err = geodesy.ParseUnits("furlongs")
	assert.Error(t, err)
}

func TestCalculator_DistanceAndAzimuth(t *testing.T) {
	calc := geodesy.NewCalculator(geodesy.Metric)

	t.Run("target due north", func(t *testing.T) {
		da := calc.DistanceAndAzimuth(41.0, -122.0, 40.0, -122.0, 0)
		assert.InDelta(t, 111_000, da.Meters, 1_000)
		assert.Equal(t, "111 km", da.Distance)
		assert.InDelta(t, 0.0, da.Azimuth, 0.5)
	})

	t.Run("target due east with device facing north east", func(t *testing.T) {
		da := calc.DistanceAndAzimuth(0.0, 1.0, 0.0, 0.0, 45)
		assert.InDelta(t, 45.0, da.Azimuth, 0.5)
	})

	t.Run("azimuth wraps into range", func(t *testing.T) {
		da := calc.DistanceAndAzimuth(0.0, -1.0, 0.0, 0.0, 10)
		assert.InDelta(t, 260.0, da.Azimuth, 0.5)
	})

	t.Run("invalid reference heading", func(t *testing.T) {
		da := calc.DistanceAndAzimuth(41.0, -122.0, 40.0, -122.0, -1)
		assert.InDelta(t, geodesy.InvalidAzimuth, da.Azimuth, 1e-9)
		assert.NotEmpty(t, da.Distance)
	})
}

func TestBearing(t *testing.T) {
	assert.InDelta(t, 90.0, geodesy.Bearing(40, -122, 40, -121), 1.0)
	assert.InDelta(t, 180.0, geodesy.Bearing(41, -122, 40, -122), 1e-6)
	assert.InDelta(t, 45.0, geodesy.Bearing(40, -122, 40.7, -121.3), 10)
}
