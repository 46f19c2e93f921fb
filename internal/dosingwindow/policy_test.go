package dosingwindow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chicago(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)
	return loc
}

func at(t *testing.T, loc *time.Location, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2025, time.June, 10, hour, minute, 30, 0, loc)
}

func TestTimeOfDay(t *testing.T) {
	assert.True(t, TimeOfDay{Hour: 0, Minute: 0}.Valid())
	assert.True(t, TimeOfDay{Hour: 23, Minute: 59}.Valid())
	assert.False(t, TimeOfDay{Hour: 24, Minute: 0}.Valid())
	assert.False(t, TimeOfDay{Hour: 6, Minute: 60}.Valid())
	assert.False(t, TimeOfDay{Hour: -1, Minute: 0}.Valid())
	assert.Equal(t, "06:05", TimeOfDay{Hour: 6, Minute: 5}.String())
}

func TestIsOpen(t *testing.T) {
	loc := chicago(t)
	window := Window{Start: TimeOfDay{Hour: 6}, End: TimeOfDay{Hour: 11}}

	t.Run("start bound is inclusive", func(t *testing.T) {
		assert.True(t, IsOpen(at(t, loc, 6, 0), window, loc))
	})

	t.Run("end bound is exclusive", func(t *testing.T) {
		assert.True(t, IsOpen(at(t, loc, 10, 58), window, loc))
		assert.False(t, IsOpen(at(t, loc, 11, 0), window, loc))
		assert.False(t, IsOpen(at(t, loc, 11, 2), window, loc))
	})

	t.Run("before start is closed", func(t *testing.T) {
		assert.False(t, IsOpen(at(t, loc, 5, 59), window, loc))
	})

	t.Run("evaluated in the patient timezone, not server time", func(t *testing.T) {
		// 10:30 in Chicago during DST is 15:30 UTC. Evaluating the same
		// instant against the patient zone must report open.
		instant := at(t, loc, 10, 30).UTC()
		assert.True(t, IsOpen(instant, window, loc))
		assert.False(t, IsOpen(instant, window, time.UTC))
	})

	t.Run("overnight window wraps midnight", func(t *testing.T) {
		overnight := Window{Start: TimeOfDay{Hour: 22}, End: TimeOfDay{Hour: 2}}
		assert.True(t, IsOpen(at(t, loc, 23, 30), overnight, loc))
		assert.True(t, IsOpen(at(t, loc, 1, 59), overnight, loc))
		assert.True(t, IsOpen(at(t, loc, 22, 0), overnight, loc))
		assert.False(t, IsOpen(at(t, loc, 2, 0), overnight, loc))
		assert.False(t, IsOpen(at(t, loc, 12, 0), overnight, loc))
	})
}

func TestRemaining(t *testing.T) {
	loc := chicago(t)
	window := Window{Start: TimeOfDay{Hour: 6}, End: TimeOfDay{Hour: 11}}

	t.Run("zero when closed", func(t *testing.T) {
		assert.Zero(t, Remaining(at(t, loc, 12, 0), window, loc))
	})

	t.Run("counts down to the end bound", func(t *testing.T) {
		got := Remaining(at(t, loc, 10, 0), window, loc)
		assert.InDelta(t, time.Hour.Seconds(), got.Seconds(), 60)
	})

	t.Run("overnight window closes tomorrow", func(t *testing.T) {
		overnight := Window{Start: TimeOfDay{Hour: 22}, End: TimeOfDay{Hour: 2}}
		got := Remaining(at(t, loc, 23, 0), overnight, loc)
		assert.InDelta(t, (3 * time.Hour).Seconds(), got.Seconds(), 60)
	})
}
