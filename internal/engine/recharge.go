package engine

import (
	"time"

	"github.com/scout-progress/internal/domain"
)

// DenyReason explains why a recharge was refused
type DenyReason string

const (
	DenyNone     DenyReason = ""
	DenyFull     DenyReason = "vitality_full"
	DenyCooldown DenyReason = "cooldown"
)

// RechargeResult is the outcome of a manual recharge attempt
type RechargeResult struct {
	Allowed     bool
	Reason      DenyReason
	NewVitality int
	// RetryAt is set when the cooldown has not yet elapsed
	RetryAt time.Time
	Patch   domain.Patch
}

// TryRecharge restores vitality when the member is below full and the
// cooldown since the last vitality update has elapsed.
//
// A successful recharge always moves LastVitalityUpdate to now, which restarts
// both the cooldown and the passive decay clock.
func TryRecharge(p domain.Profile, now time.Time, rules Rules) RechargeResult {
	p = p.Normalize()
	res := RechargeResult{NewVitality: p.Vitality}

	if p.Vitality >= domain.MaxVitality {
		res.Reason = DenyFull
		return res
	}

	if !p.LastVitalityUpdate.IsZero() {
		readyAt := p.LastVitalityUpdate.Add(rules.RechargeCooldown)
		if now.Before(readyAt) {
			res.Reason = DenyCooldown
			res.RetryAt = readyAt
			return res
		}
	}

	vitality := p.Vitality + rules.RechargeAmount
	if vitality > domain.MaxVitality {
		vitality = domain.MaxVitality
	}

	res.Allowed = true
	res.NewVitality = vitality
	res.Patch = domain.Patch{
		Vitality:           domain.IntPtr(vitality),
		LastVitalityUpdate: domain.TimePtr(now),
	}
	return res
}
