// Package prediction derives a sleep-window forecast from an infant's age and
// last wake time. It is pure: no storage, no network, safe to call at any
// frequency.
package prediction

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrInvalidInput indicates impossible forecast inputs such as a future birth
// date or a wake time after now.
var ErrInvalidInput = errors.New("prediction: invalid input")

// Forecast is the derived sleep-window result. It is recomputed on demand and
// never persisted.
type Forecast struct {
	// PredictedAt is when the awake window closes and sleep is expected.
	PredictedAt time.Time
	// RemainingMinutes until the window closes; zero once it has opened or passed.
	RemainingMinutes int
	// PressurePercent is the share of the awake window already elapsed, 0-100.
	PressurePercent int
	// Overtired is set once the full awake window has elapsed.
	Overtired bool
}

// AgeInMonths returns the whole-month difference between birth date and now
// using calendar year/month arithmetic. Day-of-month is ignored, so near a
// month boundary the result can be off by up to 29 days.
func AgeInMonths(birthDate, now time.Time) int {
	years := now.Year() - birthDate.Year()
	months := int(now.Month()) - int(birthDate.Month())
	return years*12 + months
}

// AwakeWindowMinutes maps age in months to the expected maximum awake stretch.
// The boundaries are inclusive.
func AwakeWindowMinutes(ageMonths int) int {
	switch {
	case ageMonths <= 1:
		return 45
	case ageMonths <= 3:
		return 90
	case ageMonths <= 6:
		return 120
	case ageMonths <= 9:
		return 150
	case ageMonths <= 12:
		return 180
	default:
		return 240
	}
}

// NextSleep forecasts the next sleep window from the birth date and the end of
// the last sleep stretch. Identical inputs always yield identical output.
func NextSleep(birthDate, lastWake, now time.Time) (Forecast, error) {
	if birthDate.IsZero() {
		return Forecast{}, fmt.Errorf("%w: birth date is required", ErrInvalidInput)
	}
	if birthDate.After(now) {
		return Forecast{}, fmt.Errorf("%w: birth date %s is in the future", ErrInvalidInput, birthDate.Format(time.RFC3339))
	}
	if lastWake.IsZero() {
		return Forecast{}, fmt.Errorf("%w: last wake time is required", ErrInvalidInput)
	}
	if lastWake.After(now) {
		return Forecast{}, fmt.Errorf("%w: last wake time %s is after now", ErrInvalidInput, lastWake.Format(time.RFC3339))
	}

	windowMinutes := AwakeWindowMinutes(AgeInMonths(birthDate, now))
	windowEnd := lastWake.Add(time.Duration(windowMinutes) * time.Minute)

	remaining := int(windowEnd.Sub(now).Minutes())
	if remaining < 0 {
		remaining = 0
	}

	elapsed := now.Sub(lastWake).Minutes()
	pressure := int(math.Round(elapsed / float64(windowMinutes) * 100))
	overtired := pressure >= 100
	if pressure > 100 {
		pressure = 100
	}
	if pressure < 0 {
		pressure = 0
	}

	return Forecast{
		PredictedAt:      windowEnd,
		RemainingMinutes: remaining,
		PressurePercent:  pressure,
		Overtired:        overtired,
	}, nil
}
