package domain

import (
	"strings"
	"time"
)

// Vitality bounds. Every persisted profile stays within them.
const (
	MinVitality = 5
	MaxVitality = 100
)

// DayLayout is the format of calendar-day strings such as LastDailyLoginDate
const DayLayout = "2006-01-02"

// RankTier is the member's current curriculum rank
type RankTier string

const (
	RankEntrant RankTier = "ENTRANT"
	RankRamu    RankTier = "RAMU"
	RankRakit   RankTier = "RAKIT"
	RankTerap   RankTier = "TERAP"
)

// IsValid reports whether r is one of the known rank tiers
func (r RankTier) IsValid() bool {
	switch r {
	case RankEntrant, RankRamu, RankRakit, RankTerap:
		return true
	}
	return false
}

// ParseRankTier parses a rank tier case-insensitively
func ParseRankTier(s string) (RankTier, error) {
	r := RankTier(strings.ToUpper(strings.TrimSpace(s)))
	if !r.IsValid() {
		return "", ErrInvalidRankTier
	}
	return r, nil
}

// TargetLevel returns the curriculum level a member of this rank is working toward.
// TERAP is terminal and keeps targeting itself. Unknown ranks fall back to RAMU.
func (r RankTier) TargetLevel() CurriculumLevel {
	switch r {
	case RankRamu:
		return LevelRakit
	case RankRakit, RankTerap:
		return LevelTerap
	default:
		return LevelRamu
	}
}

// EntryType classifies an activity log entry
type EntryType string

const (
	EntryDailyBonus EntryType = "DAILY_BONUS"
	EntryLevelUp    EntryType = "LEVEL_UP"
	EntryOther      EntryType = "OTHER"
)

// LogEntry is an immutable audit record appended to a member's activity log
type LogEntry struct {
	Timestamp    time.Time `json:"timestamp"`
	Activity     string    `json:"activity"`
	PointsEarned int       `json:"points_earned"`
	EntryType    EntryType `json:"entry_type"`
}

// Profile is a snapshot of a member's progression state
type Profile struct {
	MemberID             string     `json:"member_id"`
	Points               int        `json:"points"`
	Level                int        `json:"level"`
	Vitality             int        `json:"vitality"`
	LastDailyLoginDate   string     `json:"last_daily_login_date,omitempty"`
	LastVitalityUpdate   time.Time  `json:"last_vitality_update,omitempty"`
	StreakCount          int        `json:"streak_count"`
	RankTier             RankTier   `json:"rank_tier"`
	ReligiousAffiliation string     `json:"religious_affiliation,omitempty"`
	ActivityLog          []LogEntry `json:"activity_log,omitempty"`
}

// NewProfile returns a fresh profile for a newly enrolled member
func NewProfile(memberID string, rank RankTier, religion string) Profile {
	return Profile{
		MemberID:             memberID,
		Points:               0,
		Level:                1,
		Vitality:             MaxVitality,
		StreakCount:          1,
		RankTier:             rank,
		ReligiousAffiliation: religion,
	}.Normalize()
}

// Normalize fills absent or out-of-range fields with their safe defaults.
// A zero vitality is treated as absent and becomes full.
func (p Profile) Normalize() Profile {
	if p.Vitality == 0 {
		p.Vitality = MaxVitality
	}
	p.Vitality = ClampVitality(p.Vitality)
	if p.Points < 0 {
		p.Points = 0
	}
	if p.Level < 1 {
		p.Level = 1
	}
	if p.StreakCount < 1 {
		p.StreakCount = 1
	}
	if !p.RankTier.IsValid() {
		p.RankTier = RankEntrant
	}
	return p
}

// Clone returns a deep copy of the profile
func (p Profile) Clone() Profile {
	if p.ActivityLog != nil {
		log := make([]LogEntry, len(p.ActivityLog))
		copy(log, p.ActivityLog)
		p.ActivityLog = log
	}
	return p
}

// HasLoggedIn reports whether the member ever claimed a daily bonus
func (p Profile) HasLoggedIn() bool {
	return p.LastDailyLoginDate != ""
}

// LastLoginStart interprets LastDailyLoginDate as the start of that day in loc.
// The boolean is false when there is no prior login or the stored day is malformed.
func (p Profile) LastLoginStart(loc *time.Location) (time.Time, bool) {
	if p.LastDailyLoginDate == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(DayLayout, p.LastDailyLoginDate, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ClampVitality bounds v to [MinVitality, MaxVitality]
func ClampVitality(v int) int {
	if v < MinVitality {
		return MinVitality
	}
	if v > MaxVitality {
		return MaxVitality
	}
	return v
}
