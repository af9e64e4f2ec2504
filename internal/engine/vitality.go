package engine

import (
	"time"

	"github.com/scout-progress/internal/domain"
)

// DecayResult is the outcome of applying passive vitality decay
type DecayResult struct {
	NewVitality      int
	IntervalsApplied int
	Changed          bool
	Patch            domain.Patch
}

// decayReference picks the instant decay is measured from: the last vitality
// update, else the start of the last login day, else now.
func decayReference(p domain.Profile, now time.Time, rules Rules) time.Time {
	if !p.LastVitalityUpdate.IsZero() {
		return p.LastVitalityUpdate
	}
	if start, ok := p.LastLoginStart(rules.location()); ok {
		return start
	}
	return now
}

// Decay computes passive vitality loss since the reference instant.
//
// The patch only ever writes Vitality. LastVitalityUpdate belongs to the
// recharge gate, so decay leaves the recharge cooldown untouched.
func Decay(p domain.Profile, now time.Time, rules Rules) DecayResult {
	p = p.Normalize()
	result := DecayResult{NewVitality: p.Vitality}

	if rules.DecayInterval <= 0 {
		return result
	}

	elapsed := now.Sub(decayReference(p, now, rules))
	if elapsed <= 0 {
		return result
	}

	intervals := int(elapsed / rules.DecayInterval)
	if intervals == 0 {
		return result
	}

	newVitality := p.Vitality - intervals*rules.DecayAmount
	if newVitality < domain.MinVitality {
		newVitality = domain.MinVitality
	}
	result.IntervalsApplied = intervals

	// already floored: nothing to write
	if newVitality == p.Vitality {
		return result
	}

	result.NewVitality = newVitality
	result.Changed = true
	result.Patch = domain.Patch{Vitality: domain.IntPtr(newVitality)}
	return result
}
