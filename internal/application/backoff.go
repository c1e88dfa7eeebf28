package application

import (
	"math"
	"time"
)

// Default backoff curve. Checks younger than about a minute poll near Min;
// suites running longer than about ten minutes poll near Max.
const (
	DefaultBackoffMin       = 10 * time.Second
	DefaultBackoffMax       = 10 * time.Minute
	DefaultBackoffMidpoint  = 5 * time.Minute
	DefaultBackoffSteepness = 0.02 // Per second of suite age.
)

// BackoffConfig shapes the logistic curve between Min and Max delay.
type BackoffConfig struct {
	Min       time.Duration
	Max       time.Duration
	Midpoint  time.Duration // Suite age at the centre of the transition.
	Steepness float64       // Logistic growth rate per second; larger means a sharper transition.
}

// DefaultBackoffConfig returns the default curve.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Min:       DefaultBackoffMin,
		Max:       DefaultBackoffMax,
		Midpoint:  DefaultBackoffMidpoint,
		Steepness: DefaultBackoffSteepness,
	}
}

// PollPhase classifies a poll delay by where it sits on the backoff curve.
type PollPhase int

const (
	// PhaseFast means checks just started and change quickly.
	PhaseFast PollPhase = iota
	// PhaseTransition is the smooth region between the fast and slow regimes.
	PhaseTransition
	// PhaseSlow means checks have been running a long time.
	PhaseSlow
)

// String returns a human-readable name for the poll phase.
func (p PollPhase) String() string {
	switch p {
	case PhaseFast:
		return "fast"
	case PhaseTransition:
		return "transition"
	case PhaseSlow:
		return "slow"
	default:
		return "unknown"
	}
}

// NextDelay returns how long to wait before the next poll of a suite that
// started age ago. The result rises monotonically along a logistic curve from
// exactly cfg.Min at age zero toward cfg.Max. Negative ages count as zero.
// NextDelay is pure: it never reads the wall clock.
func NextDelay(age time.Duration, cfg BackoffConfig) time.Duration {
	cfg = cfg.normalized()
	if cfg.Max <= cfg.Min {
		return cfg.Min
	}

	frac := curveFraction(age, cfg)
	span := float64(cfg.Max - cfg.Min)
	delay := cfg.Min + time.Duration(frac*span)

	return min(max(delay, cfg.Min), cfg.Max)
}

// ClassifyPhase reports which regime of the curve the given suite age falls in.
func ClassifyPhase(age time.Duration, cfg BackoffConfig) PollPhase {
	frac := curveFraction(age, cfg.normalized())

	switch {
	case frac < 0.1:
		return PhaseFast
	case frac > 0.9:
		return PhaseSlow
	default:
		return PhaseTransition
	}
}

// curveFraction maps age onto [0, 1): the logistic function rescaled so that
// age zero maps to exactly zero.
func curveFraction(age time.Duration, cfg BackoffConfig) float64 {
	if age < 0 {
		age = 0
	}

	k := cfg.Steepness
	mid := cfg.Midpoint.Seconds()

	logistic := func(x float64) float64 {
		return 1 / (1 + math.Exp(-k*(x-mid)))
	}

	base := logistic(0)
	frac := (logistic(age.Seconds()) - base) / (1 - base)

	return math.Max(0, math.Min(1, frac))
}

// normalized fills unset curve parameters with defaults.
func (c BackoffConfig) normalized() BackoffConfig {
	if c.Min <= 0 {
		c.Min = DefaultBackoffMin
	}
	if c.Max <= 0 {
		c.Max = DefaultBackoffMax
	}
	if c.Midpoint <= 0 {
		c.Midpoint = DefaultBackoffMidpoint
	}
	if c.Steepness <= 0 {
		c.Steepness = DefaultBackoffSteepness
	}
	return c
}
