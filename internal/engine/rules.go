// Package engine holds the pure progression rules: vitality decay, the daily
// login cycle, manual recharge, level resolution and badge aggregation.
//
// Nothing here performs I/O. Every function takes a profile snapshot and the
// current instant and returns the resulting state together with a
// domain.Patch describing the writes the caller should persist.
package engine

import (
	"time"

	"github.com/scout-progress/internal/domain"
)

// Rules holds the tunable constants of the engine
type Rules struct {
	// Location defines the member-local calendar day boundary
	Location *time.Location

	DecayInterval time.Duration
	DecayAmount   int

	DailyVitalityBonus int
	DailyPointsBonus   int
	StreakWindow       time.Duration

	RechargeCooldown time.Duration
	RechargeAmount   int

	LevelThreshold int
	// SingleLevelPerGrant restores the historical behavior of resolving at most
	// one level-up per point grant instead of looping until points drop below
	// the threshold.
	SingleLevelPerGrant bool

	// CategoryTotals maps each category to the number of items required for GOLD
	CategoryTotals map[domain.Category]int
}

// DefaultCategoryTotals is the number of required items per category.
// SPIRITUAL counts items 1-3 plus the composite item 4.
func DefaultCategoryTotals() map[domain.Category]int {
	return map[domain.Category]int{
		domain.CategorySpiritual:    4,
		domain.CategoryEmotional:    3,
		domain.CategorySocial:       4,
		domain.CategoryIntellectual: 5,
		domain.CategoryPhysical:     4,
	}
}

// DefaultRules returns the production rule set
func DefaultRules() Rules {
	return Rules{
		Location:           time.UTC,
		DecayInterval:      6 * time.Hour,
		DecayAmount:        5,
		DailyVitalityBonus: 40,
		DailyPointsBonus:   100,
		StreakWindow:       48 * time.Hour,
		RechargeCooldown:   time.Hour,
		RechargeAmount:     25,
		LevelThreshold:     2000,
		CategoryTotals:     DefaultCategoryTotals(),
	}
}

// location returns the configured location, defaulting to UTC
func (r Rules) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// Today returns the member-local calendar day of now
func (r Rules) Today(now time.Time) string {
	return now.In(r.location()).Format(domain.DayLayout)
}

// categoryTotal returns the configured total for c
func (r Rules) categoryTotal(c domain.Category) int {
	if r.CategoryTotals != nil {
		if total, ok := r.CategoryTotals[c]; ok {
			return total
		}
	}
	return DefaultCategoryTotals()[c]
}
