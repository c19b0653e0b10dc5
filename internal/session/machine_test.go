package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMachineValidation(t *testing.T) {
	_, err := NewMachine(0, 0)
	assert.Error(t, err)

	_, err = NewMachine(time.Minute, time.Minute)
	assert.Error(t, err)

	_, err = NewMachine(time.Minute, -time.Second)
	assert.Error(t, err)

	m, err := NewMachine(10*time.Second, 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, m.WarningAt())
}

func TestMachineEvaluate(t *testing.T) {
	m, err := NewMachine(10*time.Second, 3*time.Second)
	require.NoError(t, err)

	cases := []struct {
		elapsed time.Duration
		want    State
	}{
		{0, Idle},
		{6999 * time.Millisecond, Idle},
		{7 * time.Second, Warning},
		{9999 * time.Millisecond, Warning},
		{10 * time.Second, Expired},
		{time.Hour, Expired},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, m.Evaluate(tc.elapsed), "elapsed %s", tc.elapsed)
	}

	assert.Equal(t, 3*time.Second, m.Remaining(7*time.Second))
	assert.Equal(t, time.Duration(0), m.Remaining(11*time.Second))
	assert.Equal(t, 10*time.Second, m.Remaining(-time.Second))
}

func TestMachineWithoutWarningStage(t *testing.T) {
	m, err := NewMachine(time.Minute, 0)
	require.NoError(t, err)
	assert.Equal(t, Idle, m.Evaluate(59*time.Second))
	assert.Equal(t, Expired, m.Evaluate(time.Minute))
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "10:00", FormatRemaining(10*time.Minute))
	assert.Equal(t, "01:59", FormatRemaining(119500*time.Millisecond))
	assert.Equal(t, "00:03", FormatRemaining(3*time.Second))
	assert.Equal(t, "00:00", FormatRemaining(-time.Second))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "warning", Warning.String())
	assert.Equal(t, "expired", Expired.String())
	assert.Equal(t, "unknown", State(9).String())
}

func TestQualifies(t *testing.T) {
	for _, ev := range []string{"pointerdown", "pointermove", "keydown", "scroll", "touchstart", "click", " Click "} {
		assert.True(t, Qualifies(ev), ev)
	}
	for _, ev := range []string{"", "focus", "visibilitychange", "resize"} {
		assert.False(t, Qualifies(ev), ev)
	}
}
