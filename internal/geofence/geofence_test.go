package geofence

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDistance(t *testing.T) {
	t.Run("zero distance between identical points", func(t *testing.T) {
		p := Coordinates{Lat: 41.8781, Lng: -87.6298}
		assert.Zero(t, Distance(p, p))
	})

	t.Run("known city pair within tolerance", func(t *testing.T) {
		// Chicago to Milwaukee, roughly 131 km great-circle.
		chicago := Coordinates{Lat: 41.8781, Lng: -87.6298}
		milwaukee := Coordinates{Lat: 43.0389, Lng: -87.9065}
		d := Distance(chicago, milwaukee)
		assert.InDelta(t, 131_000, d, 2_000)
	})

	t.Run("symmetric", func(t *testing.T) {
		a := Coordinates{Lat: 40.0, Lng: -88.0}
		b := Coordinates{Lat: 40.1, Lng: -88.1}
		assert.InDelta(t, Distance(a, b), Distance(b, a), 1e-9)
	})

	t.Run("small offsets resolve to meters", func(t *testing.T) {
		// One thousandth of a degree of latitude is about 111 m.
		a := Coordinates{Lat: 40.0, Lng: -88.0}
		b := Coordinates{Lat: 40.001, Lng: -88.0}
		assert.InDelta(t, 111.2, Distance(a, b), 1.0)
	})
}

func TestIsWithin(t *testing.T) {
	home := Coordinates{Lat: 41.8781, Lng: -87.6298}

	t.Run("point at fence center is within", func(t *testing.T) {
		assert.True(t, IsWithin(home, home, 1))
	})

	t.Run("boundary distance is within", func(t *testing.T) {
		// ~111 m north of home with a radius matching the distance.
		point := Coordinates{Lat: 41.8791, Lng: -87.6298}
		d := Distance(point, home)
		assert.True(t, IsWithin(point, home, d))
		assert.False(t, IsWithin(point, home, d-0.5))
	})

	t.Run("600 feet away fails a 500 foot fence", func(t *testing.T) {
		const (
			radius500ft = 152.4
			offset600ft = 182.88
		)
		// Move ~600 ft north: 182.88 m / 111,195 m per degree latitude.
		point := Coordinates{Lat: home.Lat + offset600ft/111_195, Lng: home.Lng}
		assert.False(t, IsWithin(point, home, radius500ft))
		assert.True(t, IsWithin(point, home, 200))
	})
}
