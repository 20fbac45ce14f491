package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// mondayAt builds an exchange-local timestamp on Monday 2024-01-15.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2024, 1, 15, hour, minute, 0, 0, marketTZ)
}

func TestParseTriggerTime(t *testing.T) {
	testCases := []struct {
		input       string
		hour        int
		minute      int
		expectError bool
	}{
		{input: "09:30", hour: 9, minute: 30},
		{input: "00:00", hour: 0, minute: 0},
		{input: "23:59", hour: 23, minute: 59},
		{input: "9:30", expectError: true},
		{input: "24:00", expectError: true},
		{input: "09:60", expectError: true},
		{input: "garbage", expectError: true},
		{input: "", expectError: true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			hour, minute, err := ParseTriggerTime(tc.input)
			if tc.expectError {
				assert.ErrorIs(t, err, ErrInvalidTriggerTime)
			} else {
				assert.NoError(t, err)
				assert.Equal(t, tc.hour, hour)
				assert.Equal(t, tc.minute, minute)
			}
		})
	}
}

func TestNextWakeDelay_TargetsFutureWeekday(t *testing.T) {
	testCases := []struct {
		name     string
		now      time.Time
		trigger  string
		expected time.Duration
	}{
		{
			name:     "later today",
			now:      mondayAt(8, 0),
			trigger:  "09:30",
			expected: 90 * time.Minute,
		},
		{
			name:     "already passed, rolls to tomorrow",
			now:      mondayAt(10, 0),
			trigger:  "09:30",
			expected: 23*time.Hour + 30*time.Minute,
		},
		{
			name:    "Friday evening rolls over the weekend",
			now:     time.Date(2024, 1, 19, 18, 0, 0, 0, marketTZ), // Friday
			trigger: "09:30",
			// Sat + Sun + Monday morning
			expected: 63*time.Hour + 30*time.Minute,
		},
		{
			name:     "Saturday targets Monday",
			now:      time.Date(2024, 1, 20, 12, 0, 0, 0, marketTZ), // Saturday
			trigger:  "09:30",
			expected: 45*time.Hour + 30*time.Minute,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			delay, err := NextWakeDelay(tc.trigger, tc.now, 0)
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, delay)

			wake := tc.now.Add(delay).In(marketTZ)
			assert.True(t, delay > 0)
			assert.NotEqual(t, time.Saturday, wake.Weekday())
			assert.NotEqual(t, time.Sunday, wake.Weekday())
		})
	}
}

func TestNextWakeDelay_GraceWindow(t *testing.T) {
	t.Run("fires immediately inside the window", func(t *testing.T) {
		// 5 minutes past a 09:30 trigger with a 10 minute grace window.
		delay, err := NextWakeDelay("09:30", mondayAt(9, 35), 10*time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, time.Second, delay)
	})

	t.Run("outside the window rolls to tomorrow", func(t *testing.T) {
		delay, err := NextWakeDelay("09:30", mondayAt(9, 41), 10*time.Minute)
		assert.NoError(t, err)
		assert.Equal(t, 23*time.Hour+49*time.Minute, delay)
	})

	t.Run("no grace on weekends", func(t *testing.T) {
		saturday := time.Date(2024, 1, 20, 9, 35, 0, 0, marketTZ)
		delay, err := NextWakeDelay("09:30", saturday, 10*time.Minute)
		assert.NoError(t, err)
		assert.True(t, delay > time.Hour)
	})

	t.Run("zero grace never fires immediately", func(t *testing.T) {
		delay, err := NextWakeDelay("09:30", mondayAt(9, 31), 0)
		assert.NoError(t, err)
		assert.True(t, delay > time.Hour)
	})
}

func TestNextWakeDelay_DSTTransition(t *testing.T) {
	// Friday 2024-03-08 18:00 ET; US DST starts Sunday 2024-03-10. The Monday
	// trigger must still land on 09:30 wall-clock despite the skipped hour.
	now := time.Date(2024, 3, 8, 18, 0, 0, 0, marketTZ)
	delay, err := NextWakeDelay("09:30", now, 0)
	assert.NoError(t, err)

	wake := now.Add(delay).In(marketTZ)
	assert.Equal(t, time.Monday, wake.Weekday())
	assert.Equal(t, 9, wake.Hour())
	assert.Equal(t, 30, wake.Minute())
}

func TestNextWakeDelay_InvalidTrigger(t *testing.T) {
	_, err := NextWakeDelay("not-a-time", mondayAt(8, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidTriggerTime)
}
