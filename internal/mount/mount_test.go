package mount

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirection(t *testing.T) {
	tests := []struct {
		dir     Direction
		name    string
		flipped Direction
		valid   bool
	}{
		{North, "north", South, true},
		{South, "south", North, true},
		{East, "east", East, true},
		{West, "west", West, true},
		{Direction(7), "direction(7)", Direction(7), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.dir.String())
			assert.Equal(t, tt.flipped, tt.dir.FlipMeridian())
			assert.Equal(t, tt.valid, tt.dir.Valid())
		})
	}
}

func TestHardwareError(t *testing.T) {
	assert.NoError(t, HardwareError(nil))

	cause := errors.New("serial write failed")
	err := HardwareError(cause)
	assert.ErrorIs(t, err, ErrHardware)
	assert.ErrorIs(t, err, cause)

	assert.Equal(t, ErrDisconnected, HardwareError(ErrDisconnected))
	assert.ErrorIs(t, ErrDisconnected, ErrHardware)
}

func TestDryRun(t *testing.T) {
	d := NewDryRun(nil, 2)
	var _ Controller = d

	require.True(t, d.IsMountConnected())
	require.NoError(t, d.IssueGuidePulse(East, 250))
	require.NoError(t, d.IssueGuidePulse(West, 100))
	require.NoError(t, d.IssueGuidePulse(North, 50))

	pulses := d.Pulses()
	require.Len(t, pulses, 2)
	assert.Equal(t, West, pulses[0].Direction)
	assert.Equal(t, North, pulses[1].Direction)
	assert.Equal(t, 50, pulses[1].DurationMs)

	d.SetConnected(false)
	assert.False(t, d.IsMountConnected())
	assert.ErrorIs(t, d.IssueGuidePulse(South, 10), ErrHardware)
	assert.Len(t, d.Pulses(), 2)
}
