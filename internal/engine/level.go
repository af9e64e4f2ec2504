package engine

import (
	"time"

	"github.com/scout-progress/internal/domain"
)

// Activity labels written to the log
const (
	ActivityDailyBonus = "Daily bonus"
	ActivityLevelUp    = "Level up"
)

// LevelResult is the outcome of resolving accumulated points into levels
type LevelResult struct {
	Points       int
	Level        int
	LevelsGained int
	LeveledUp    bool
}

// ResolveLevel converts points above the threshold into levels, carrying the
// overflow. Unless rules.SingleLevelPerGrant is set it loops, so a single
// large grant can cross several levels.
func ResolveLevel(points, level int, rules Rules) LevelResult {
	if level < 1 {
		level = 1
	}
	if points < 0 {
		points = 0
	}
	res := LevelResult{Points: points, Level: level}
	if rules.LevelThreshold <= 0 {
		return res
	}

	for res.Points >= rules.LevelThreshold {
		res.Points -= rules.LevelThreshold
		res.Level++
		res.LevelsGained++
		if rules.SingleLevelPerGrant {
			break
		}
	}
	res.LeveledUp = res.LevelsGained > 0
	return res
}

// levelPatch resolves points for p and returns the writes it implies.
// A level-up restores vitality to full and appends a LEVEL_UP log entry.
func levelPatch(p domain.Profile, points int, now time.Time, rules Rules) (domain.Patch, LevelResult) {
	res := ResolveLevel(points, p.Level, rules)
	patch := domain.Patch{Points: domain.IntPtr(res.Points)}
	if res.LeveledUp {
		patch.Level = domain.IntPtr(res.Level)
		patch.Vitality = domain.IntPtr(domain.MaxVitality)
		patch.AppendLog = []domain.LogEntry{{
			Timestamp:    now,
			Activity:     ActivityLevelUp,
			PointsEarned: 0,
			EntryType:    domain.EntryLevelUp,
		}}
	}
	return patch, res
}

// GrantResult is the outcome of awarding points for an activity
type GrantResult struct {
	Level LevelResult
	Patch domain.Patch
}

// GrantPoints awards amount points for activity and resolves level-ups.
// Negative amounts are allowed and floor the counter at zero.
func GrantPoints(p domain.Profile, amount int, activity string, now time.Time, rules Rules) GrantResult {
	p = p.Normalize()
	if activity == "" {
		activity = "Points granted"
	}

	grant := domain.Patch{AppendLog: []domain.LogEntry{{
		Timestamp:    now,
		Activity:     activity,
		PointsEarned: amount,
		EntryType:    domain.EntryOther,
	}}}
	lp, res := levelPatch(p, p.Points+amount, now, rules)

	return GrantResult{
		Level: res,
		Patch: grant.Merge(lp),
	}
}
