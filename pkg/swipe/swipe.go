// Package swipe turns the final numbers of a horizontal drag into a month
// navigation decision.
package swipe

import "math"

// Direction is the outcome of a gesture.
type Direction int

const (
	None Direction = iota
	Previous
	Next
)

func (d Direction) String() string {
	switch d {
	case Previous:
		return "previous"
	case Next:
		return "next"
	default:
		return "none"
	}
}

const (
	DefaultVelocityThreshold    = 500.0
	DefaultTranslationThreshold = 100.0
)

// Decider holds the tunable thresholds. The zero value never navigates
// on a motionless gesture but fires on any movement at all; use Default.
type Decider struct {
	VelocityThreshold    float64 `json:"velocityThreshold" toml:"velocity_threshold"`
	TranslationThreshold float64 `json:"translationThreshold" toml:"translation_threshold"`
}

func Default() Decider {
	return Decider{
		VelocityThreshold:    DefaultVelocityThreshold,
		TranslationThreshold: DefaultTranslationThreshold,
	}
}

// Decide maps horizontal velocity (units/s) and translation (units) to a
// direction. Positive motion is rightward and reveals the previous month.
// A fling that crosses the velocity threshold decides the direction by its
// velocity sign; otherwise the translation sign decides. NaN inputs never
// cross a threshold and yield None.
func (d Decider) Decide(velocity, translation float64) Direction {
	switch {
	case math.Abs(velocity) > d.VelocityThreshold:
		return signDirection(velocity)
	case math.Abs(translation) > d.TranslationThreshold:
		return signDirection(translation)
	}
	return None
}

func signDirection(v float64) Direction {
	if v > 0 {
		return Previous
	}
	return Next
}
