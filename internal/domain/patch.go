package domain

import "time"

// Patch is a set of intended field writes against a profile.
// Nil fields are left untouched; AppendLog entries are appended in order.
type Patch struct {
	Points             *int       `json:"points,omitempty"`
	Level              *int       `json:"level,omitempty"`
	Vitality           *int       `json:"vitality,omitempty"`
	LastDailyLoginDate *string    `json:"last_daily_login_date,omitempty"`
	LastVitalityUpdate *time.Time `json:"last_vitality_update,omitempty"`
	StreakCount        *int       `json:"streak_count,omitempty"`
	AppendLog          []LogEntry `json:"append_log,omitempty"`
}

// IsEmpty reports whether applying the patch would change nothing
func (p Patch) IsEmpty() bool {
	return p.Points == nil &&
		p.Level == nil &&
		p.Vitality == nil &&
		p.LastDailyLoginDate == nil &&
		p.LastVitalityUpdate == nil &&
		p.StreakCount == nil &&
		len(p.AppendLog) == 0
}

// Merge returns a patch equivalent to applying p and then next
func (p Patch) Merge(next Patch) Patch {
	out := p
	if next.Points != nil {
		out.Points = next.Points
	}
	if next.Level != nil {
		out.Level = next.Level
	}
	if next.Vitality != nil {
		out.Vitality = next.Vitality
	}
	if next.LastDailyLoginDate != nil {
		out.LastDailyLoginDate = next.LastDailyLoginDate
	}
	if next.LastVitalityUpdate != nil {
		out.LastVitalityUpdate = next.LastVitalityUpdate
	}
	if next.StreakCount != nil {
		out.StreakCount = next.StreakCount
	}
	if len(next.AppendLog) > 0 {
		logs := make([]LogEntry, 0, len(p.AppendLog)+len(next.AppendLog))
		logs = append(logs, p.AppendLog...)
		logs = append(logs, next.AppendLog...)
		out.AppendLog = logs
	}
	return out
}

// Apply returns a copy of profile with the patch applied
func (p Patch) Apply(profile Profile) Profile {
	out := profile.Clone()
	if p.Points != nil {
		out.Points = *p.Points
	}
	if p.Level != nil {
		out.Level = *p.Level
	}
	if p.Vitality != nil {
		out.Vitality = *p.Vitality
	}
	if p.LastDailyLoginDate != nil {
		out.LastDailyLoginDate = *p.LastDailyLoginDate
	}
	if p.LastVitalityUpdate != nil {
		out.LastVitalityUpdate = *p.LastVitalityUpdate
	}
	if p.StreakCount != nil {
		out.StreakCount = *p.StreakCount
	}
	if len(p.AppendLog) > 0 {
		out.ActivityLog = append(out.ActivityLog, p.AppendLog...)
	}
	return out
}

// IntPtr returns a pointer to v
func IntPtr(v int) *int { return &v }

// StringPtr returns a pointer to v
func StringPtr(v string) *string { return &v }

// TimePtr returns a pointer to v
func TimePtr(v time.Time) *time.Time { return &v }

// Mutator computes a patch from the latest stored snapshot of a profile.
// Stores call it inside their transaction, so it must be free of side effects
// other than capturing its own result.
type Mutator func(current Profile) (Patch, error)
