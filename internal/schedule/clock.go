package schedule

import (
	"errors"
	"fmt"
	"time"
)

// DateLayout is the canonical YYYY-MM-DD form used for all persisted
// trading dates.
const DateLayout = "2006-01-02"

// ErrInvalidTriggerTime is returned when a configured trigger time does not
// parse as 24-hour HH:MM.
var ErrInvalidTriggerTime = errors.New("invalid trigger time, expected HH:MM")

// marketTZ is the exchange-local zone. All trigger arithmetic happens here,
// never in the host zone: the process may run anywhere, but correctness
// depends on exchange wall-clock time, with DST handled by the tz database.
var marketTZ = mustLoadMarketTZ()

func mustLoadMarketTZ() *time.Location {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		panic(fmt.Sprintf("schedule: cannot load exchange timezone: %v", err))
	}
	return loc
}

// MarketTZ returns the exchange-local time zone.
func MarketTZ() *time.Location {
	return marketTZ
}

// MarketNow returns the current exchange-local time.
func MarketNow() time.Time {
	return time.Now().In(marketTZ)
}

// MarketToday returns today's date in the exchange zone as YYYY-MM-DD.
func MarketToday() string {
	return MarketNow().Format(DateLayout)
}

// ParseTriggerTime validates and splits an HH:MM trigger time.
func ParseTriggerTime(trigger string) (hour, minute int, err error) {
	if len(trigger) != 5 || trigger[2] != ':' {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTriggerTime, trigger)
	}
	if _, err := fmt.Sscanf(trigger, "%02d:%02d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTriggerTime, trigger)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", ErrInvalidTriggerTime, trigger)
	}
	return hour, minute, nil
}

func isWeekday(t time.Time) bool {
	wd := t.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// NextWakeDelay returns how long to sleep until the next weekday occurrence
// of trigger (HH:MM exchange-local) strictly after now.
//
// If grace > 0 and today's trigger on a weekday passed no more than grace
// ago, it returns one second so a restart shortly after the scheduled time
// still fires once instead of silently skipping a whole day. The result is
// never zero or negative.
func NextWakeDelay(trigger string, now time.Time, grace time.Duration) (time.Duration, error) {
	hour, minute, err := ParseTriggerTime(trigger)
	if err != nil {
		return 0, err
	}

	now = now.In(marketTZ)
	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, marketTZ)

	if grace > 0 && isWeekday(candidate) {
		since := now.Sub(candidate)
		if since > 0 && since <= grace {
			return time.Second, nil
		}
	}

	for !isWeekday(candidate) || !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
		// Re-anchor the wall-clock time so a DST transition between now and
		// the candidate day cannot shift the trigger by an hour.
		candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), hour, minute, 0, 0, marketTZ)
	}

	delay := candidate.Sub(now)
	if delay < time.Second {
		delay = time.Second
	}
	return delay, nil
}
