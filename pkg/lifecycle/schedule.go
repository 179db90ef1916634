package lifecycle

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidSchedule is returned by ParseSchedule.
var ErrInvalidSchedule = errors.New("lifecycle: invalid schedule")

// Schedule determines when the next lifecycle run starts.
type Schedule interface {
	Next(from time.Time) time.Time
	String() string
}

// intervalSchedule runs at fixed intervals
type intervalSchedule struct {
	every time.Duration
}

func (s intervalSchedule) Next(from time.Time) time.Time {
	return from.Add(s.every)
}

func (s intervalSchedule) String() string {
	return fmt.Sprintf("every %v", s.every)
}

// hourlySchedule runs every hour at the given minute
type hourlySchedule struct {
	minute int
}

func (s hourlySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		from.Hour(), s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.Add(time.Hour)
	}
	return next
}

func (s hourlySchedule) String() string {
	return fmt.Sprintf("hourly at :%02d", s.minute)
}

// dailySchedule runs once per day at the given wall clock time
type dailySchedule struct {
	hour   int
	minute int
}

func (s dailySchedule) Next(from time.Time) time.Time {
	next := time.Date(
		from.Year(), from.Month(), from.Day(),
		s.hour, s.minute, 0, 0, from.Location(),
	)
	if !next.After(from) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

func (s dailySchedule) String() string {
	return fmt.Sprintf("daily at %02d:%02d", s.hour, s.minute)
}

// Every runs at a fixed interval. Panics if d is not positive.
func Every(d time.Duration) Schedule {
	if d <= 0 {
		panic(fmt.Sprintf("lifecycle: schedule interval must be positive, got %v", d))
	}
	return intervalSchedule{every: d}
}

// HourlyAt runs every hour at minute. Panics if minute is out of range.
func HourlyAt(minute int) Schedule {
	if minute < 0 || minute > 59 {
		panic(fmt.Sprintf("lifecycle: minute out of range: %d", minute))
	}
	return hourlySchedule{minute: minute}
}

// DailyAt runs once a day at hour:minute in the location of the time passed to Next.
// Panics if hour or minute is out of range.
func DailyAt(hour, minute int) Schedule {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		panic(fmt.Sprintf("lifecycle: time of day out of range: %02d:%02d", hour, minute))
	}
	return dailySchedule{hour: hour, minute: minute}
}

// ParseSchedule parses the String form of a schedule:
// "every 15m", "hourly at :05" or "daily at 02:30".
func ParseSchedule(s string) (Schedule, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	switch {
	case strings.HasPrefix(s, "every "):
		d, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(s, "every ")))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return intervalSchedule{every: d}, nil
	case strings.HasPrefix(s, "hourly at "):
		var minute int
		if _, err := fmt.Sscanf(strings.TrimPrefix(s, "hourly at "), ":%d", &minute); err != nil || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return hourlySchedule{minute: minute}, nil
	case strings.HasPrefix(s, "daily at "):
		var hour, minute int
		if _, err := fmt.Sscanf(strings.TrimPrefix(s, "daily at "), "%d:%d", &hour, &minute); err != nil ||
			hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
		}
		return dailySchedule{hour: hour, minute: minute}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSchedule, s)
	}
}
