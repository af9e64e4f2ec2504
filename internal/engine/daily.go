package engine

import (
	"time"

	"github.com/scout-progress/internal/domain"
)

// DailyResult is the outcome of the once-per-day login check
type DailyResult struct {
	BonusGranted bool
	StreakCount  int
	Level        LevelResult
	Patch        domain.Patch
}

// ApplyDailyCycle grants the daily login bonus at most once per member-local
// calendar day. The gate compares day strings, not time ranges, so irregular
// session timing cannot double-grant or skip a day.
//
// p must already reflect passive decay; the vitality bonus is added on top of it.
func ApplyDailyCycle(p domain.Profile, now time.Time, rules Rules) DailyResult {
	p = p.Normalize()
	today := rules.Today(now)
	if p.LastDailyLoginDate == today {
		return DailyResult{StreakCount: p.StreakCount}
	}

	vitality := p.Vitality + rules.DailyVitalityBonus
	if vitality > domain.MaxVitality {
		vitality = domain.MaxVitality
	}

	reference := now
	if start, ok := p.LastLoginStart(rules.location()); ok {
		reference = start
	}
	streak := 1
	if now.Sub(reference) <= rules.StreakWindow {
		streak = p.StreakCount + 1
	}

	patch := domain.Patch{
		Vitality:           domain.IntPtr(vitality),
		LastDailyLoginDate: domain.StringPtr(today),
		StreakCount:        domain.IntPtr(streak),
		AppendLog: []domain.LogEntry{{
			Timestamp:    now,
			Activity:     ActivityDailyBonus,
			PointsEarned: rules.DailyPointsBonus,
			EntryType:    domain.EntryDailyBonus,
		}},
	}

	// level resolution runs right after the bonus and may reset vitality to full
	lp, level := levelPatch(p, p.Points+rules.DailyPointsBonus, now, rules)
	patch = patch.Merge(lp)

	return DailyResult{
		BonusGranted: true,
		StreakCount:  streak,
		Level:        level,
		Patch:        patch,
	}
}

// SessionResult is the combined outcome of a session-start check
type SessionResult struct {
	Decay   DecayResult
	Daily   DailyResult
	Patch   domain.Patch
	Profile domain.Profile
}

// StartSession runs passive decay and then the daily cycle against the decayed
// snapshot, returning the merged patch and the resulting profile.
func StartSession(p domain.Profile, now time.Time, rules Rules) SessionResult {
	p = p.Normalize()

	decay := Decay(p, now, rules)
	decayed := decay.Patch.Apply(p)

	daily := ApplyDailyCycle(decayed, now, rules)
	patch := decay.Patch.Merge(daily.Patch)

	return SessionResult{
		Decay:   decay,
		Daily:   daily,
		Patch:   patch,
		Profile: patch.Apply(p),
	}
}
