package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-progress/internal/domain"
)

var now = time.Date(2024, time.March, 10, 15, 0, 0, 0, time.UTC)

func baseProfile() domain.Profile {
	return domain.NewProfile("member-1", domain.RankRamu, "Islam")
}

func TestDecay(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name          string
		vitality      int
		elapsed       time.Duration
		wantVitality  int
		wantIntervals int
		wantChanged   bool
	}{
		{"no decay under one interval", 80, 5*time.Hour + 59*time.Minute, 80, 0, false},
		{"exactly one interval", 80, 6 * time.Hour, 75, 1, true},
		{"several intervals", 80, 25 * time.Hour, 60, 4, true},
		{"floors at minimum", 20, 48 * time.Hour, 5, 8, true},
		{"already at floor writes nothing", 5, 48 * time.Hour, 5, 8, false},
		{"clock skew is ignored", 80, -2 * time.Hour, 80, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseProfile()
			p.Vitality = tt.vitality
			p.LastVitalityUpdate = now.Add(-tt.elapsed)

			res := Decay(p, now, rules)
			assert.Equal(t, tt.wantVitality, res.NewVitality)
			assert.Equal(t, tt.wantIntervals, res.IntervalsApplied)
			assert.Equal(t, tt.wantChanged, res.Changed)
			if tt.wantChanged {
				require.NotNil(t, res.Patch.Vitality)
				assert.Equal(t, tt.wantVitality, *res.Patch.Vitality)
			} else {
				assert.True(t, res.Patch.IsEmpty())
			}
			assert.Nil(t, res.Patch.LastVitalityUpdate, "decay never advances the vitality timestamp")
		})
	}
}

func TestDecayShortElapsedNeverChanges(t *testing.T) {
	rules := DefaultRules()
	for minutes := 0; minutes < 360; minutes += 7 {
		p := baseProfile()
		p.Vitality = 50
		p.LastVitalityUpdate = now.Add(-time.Duration(minutes) * time.Minute)
		res := Decay(p, now, rules)
		assert.False(t, res.Changed, "elapsed %d minutes", minutes)
		assert.Equal(t, 50, res.NewVitality)
	}
}

func TestDecayReference(t *testing.T) {
	rules := DefaultRules()

	t.Run("falls back to last login day", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 90
		p.LastDailyLoginDate = "2024-03-09" // midnight is 39h before now
		res := Decay(p, now, rules)
		assert.Equal(t, 6, res.IntervalsApplied)
		assert.Equal(t, 60, res.NewVitality)
	})

	t.Run("no history means no decay", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 90
		res := Decay(p, now, rules)
		assert.False(t, res.Changed)
		assert.Equal(t, 90, res.NewVitality)
	})

	t.Run("malformed login day is treated as absent", func(t *testing.T) {
		p := baseProfile()
		p.LastDailyLoginDate = "not-a-day"
		res := Decay(p, now, rules)
		assert.False(t, res.Changed)
	})

	t.Run("vitality timestamp wins over login day", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 90
		p.LastDailyLoginDate = "2024-03-01"
		p.LastVitalityUpdate = now.Add(-7 * time.Hour)
		res := Decay(p, now, rules)
		assert.Equal(t, 1, res.IntervalsApplied)
		assert.Equal(t, 85, res.NewVitality)
	})
}

func TestDecayCompoundsAgainstFixedReference(t *testing.T) {
	rules := DefaultRules()
	ref := now.Add(-24 * time.Hour)
	p := baseProfile()
	p.Vitality = 100
	p.LastVitalityUpdate = ref

	first := Decay(p, ref.Add(7*time.Hour), rules)
	assert.Equal(t, 1, first.IntervalsApplied)
	assert.Equal(t, 95, first.NewVitality)
	p = first.Patch.Apply(p)
	assert.Equal(t, ref, p.LastVitalityUpdate)

	// the same interval is charged again against the already decayed value
	second := Decay(p, ref.Add(8*time.Hour), rules)
	assert.Equal(t, 1, second.IntervalsApplied)
	assert.Equal(t, 90, second.NewVitality)
	p = second.Patch.Apply(p)

	third := Decay(p, ref.Add(12*time.Hour), rules)
	assert.Equal(t, 2, third.IntervalsApplied)
	assert.Equal(t, 80, third.NewVitality)
}

func TestApplyDailyCycle(t *testing.T) {
	rules := DefaultRules()

	t.Run("grants bonus on a new day", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 50
		p.Points = 300
		p.StreakCount = 3
		p.LastDailyLoginDate = "2024-03-09"

		res := ApplyDailyCycle(p, now, rules)
		require.True(t, res.BonusGranted)

		next := res.Patch.Apply(p)
		assert.Equal(t, 90, next.Vitality)
		assert.Equal(t, 400, next.Points)
		assert.Equal(t, 4, next.StreakCount)
		assert.Equal(t, "2024-03-10", next.LastDailyLoginDate)
		require.Len(t, next.ActivityLog, 1)
		assert.Equal(t, domain.LogEntry{
			Timestamp:    now,
			Activity:     ActivityDailyBonus,
			PointsEarned: 100,
			EntryType:    domain.EntryDailyBonus,
		}, next.ActivityLog[0])
	})

	t.Run("vitality bonus caps at full", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 80
		res := ApplyDailyCycle(p, now, rules)
		assert.Equal(t, 100, res.Patch.Apply(p).Vitality)
	})

	t.Run("idempotent within the same day", func(t *testing.T) {
		p := baseProfile()
		p.LastDailyLoginDate = "2024-03-09"

		first := ApplyDailyCycle(p, now, rules)
		require.True(t, first.BonusGranted)
		after := first.Patch.Apply(p)

		second := ApplyDailyCycle(after, now.Add(8*time.Hour), rules)
		assert.False(t, second.BonusGranted)
		assert.True(t, second.Patch.IsEmpty())
		assert.Equal(t, after, second.Patch.Apply(after))
	})

	t.Run("first ever login", func(t *testing.T) {
		p := baseProfile()
		res := ApplyDailyCycle(p, now, rules)
		require.True(t, res.BonusGranted)
		assert.Equal(t, 2, res.StreakCount)
	})
}

func TestStreakWindow(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name       string
		lastLogin  string
		at         time.Time
		wantStreak int
	}{
		{"next day continues", "2024-03-09", now, 6},
		{"late the next day continues", "2024-03-08", time.Date(2024, 3, 9, 23, 59, 0, 0, time.UTC), 6},
		{"exactly 48h continues", "2024-03-08", time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), 6},
		{"just over 48h resets", "2024-03-08", time.Date(2024, 3, 10, 0, 1, 0, 0, time.UTC), 1},
		{"long gap resets", "2024-02-01", now, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := baseProfile()
			p.StreakCount = 5
			p.LastDailyLoginDate = tt.lastLogin
			res := ApplyDailyCycle(p, tt.at, rules)
			require.True(t, res.BonusGranted)
			assert.Equal(t, tt.wantStreak, res.StreakCount)
		})
	}
}

func TestDailyCycleUsesLocalDay(t *testing.T) {
	rules := DefaultRules()
	rules.Location = time.FixedZone("WIB", 7*60*60)

	// 18:30 UTC on the 9th is already the 10th in UTC+7
	at := time.Date(2024, 3, 9, 18, 30, 0, 0, time.UTC)
	p := baseProfile()
	p.LastDailyLoginDate = "2024-03-09"

	res := ApplyDailyCycle(p, at, rules)
	require.True(t, res.BonusGranted)
	assert.Equal(t, "2024-03-10", *res.Patch.LastDailyLoginDate)

	again := ApplyDailyCycle(res.Patch.Apply(p), at.Add(5*time.Hour), rules)
	assert.False(t, again.BonusGranted)
}

func TestDailyCycleLevelsUp(t *testing.T) {
	rules := DefaultRules()
	p := baseProfile()
	p.Points = 1950
	p.Level = 3
	p.Vitality = 20
	p.LastDailyLoginDate = "2024-03-09"

	res := ApplyDailyCycle(p, now, rules)
	next := res.Patch.Apply(p)

	assert.Equal(t, 50, next.Points)
	assert.Equal(t, 4, next.Level)
	assert.Equal(t, 100, next.Vitality)
	require.Len(t, next.ActivityLog, 2)
	assert.Equal(t, domain.EntryDailyBonus, next.ActivityLog[0].EntryType)
	assert.Equal(t, domain.EntryLevelUp, next.ActivityLog[1].EntryType)
	assert.Equal(t, 0, next.ActivityLog[1].PointsEarned)
}

func TestStartSession(t *testing.T) {
	rules := DefaultRules()
	p := baseProfile()
	p.Vitality = 70
	p.LastDailyLoginDate = "2024-03-09"
	p.LastVitalityUpdate = now.Add(-13 * time.Hour)

	res := StartSession(p, now, rules)
	assert.Equal(t, 60, res.Decay.NewVitality)
	assert.True(t, res.Daily.BonusGranted)
	assert.Equal(t, 100, res.Profile.Vitality)
	assert.Equal(t, p.LastVitalityUpdate, res.Profile.LastVitalityUpdate)

	again := StartSession(res.Profile, now.Add(time.Minute), rules)
	assert.False(t, again.Daily.BonusGranted)
}

func TestTryRecharge(t *testing.T) {
	rules := DefaultRules()

	t.Run("cooldown not elapsed", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 60
		p.LastVitalityUpdate = now.Add(-30 * time.Minute)
		res := TryRecharge(p, now, rules)
		assert.False(t, res.Allowed)
		assert.Equal(t, DenyCooldown, res.Reason)
		assert.Equal(t, now.Add(30*time.Minute), res.RetryAt)
		assert.True(t, res.Patch.IsEmpty())
	})

	t.Run("cooldown elapsed", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 60
		p.LastVitalityUpdate = now.Add(-61 * time.Minute)
		res := TryRecharge(p, now, rules)
		require.True(t, res.Allowed)
		next := res.Patch.Apply(p)
		assert.Equal(t, 85, next.Vitality)
		assert.Equal(t, now, next.LastVitalityUpdate)
	})

	t.Run("never recharged is allowed", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 90
		res := TryRecharge(p, now, rules)
		require.True(t, res.Allowed)
		assert.Equal(t, 100, res.NewVitality)
	})

	t.Run("full vitality is a no-op", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 100
		res := TryRecharge(p, now, rules)
		assert.False(t, res.Allowed)
		assert.Equal(t, DenyFull, res.Reason)
	})

	t.Run("recharge restarts the decay clock", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 40
		p.LastVitalityUpdate = now.Add(-20 * time.Hour)
		res := TryRecharge(p, now, rules)
		require.True(t, res.Allowed)
		decay := Decay(res.Patch.Apply(p), now.Add(5*time.Hour), rules)
		assert.False(t, decay.Changed)
	})
}

func TestResolveLevel(t *testing.T) {
	rules := DefaultRules()

	tests := []struct {
		name       string
		points     int
		level      int
		wantPoints int
		wantLevel  int
		wantGained int
	}{
		{"below threshold", 1999, 1, 1999, 1, 0},
		{"exact threshold", 2000, 1, 0, 2, 1},
		{"overflow carries", 2050, 4, 50, 5, 1},
		{"large grant crosses several levels", 6500, 1, 500, 4, 3},
		{"bad input is normalized", -10, 0, 0, 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := ResolveLevel(tt.points, tt.level, rules)
			assert.Equal(t, tt.wantPoints, res.Points)
			assert.Equal(t, tt.wantLevel, res.Level)
			assert.Equal(t, tt.wantGained, res.LevelsGained)
			assert.Equal(t, tt.wantGained > 0, res.LeveledUp)
		})
	}

	t.Run("single level per grant", func(t *testing.T) {
		r := DefaultRules()
		r.SingleLevelPerGrant = true
		res := ResolveLevel(6500, 1, r)
		assert.Equal(t, 4500, res.Points)
		assert.Equal(t, 2, res.Level)
	})
}

func TestGrantPoints(t *testing.T) {
	rules := DefaultRules()

	t.Run("level up resets vitality", func(t *testing.T) {
		p := baseProfile()
		p.Points = 1950
		p.Vitality = 30
		res := GrantPoints(p, 100, "Camp attendance", now, rules)
		next := res.Patch.Apply(p)

		assert.Equal(t, 50, next.Points)
		assert.Equal(t, 2, next.Level)
		assert.Equal(t, 100, next.Vitality)
		require.Len(t, next.ActivityLog, 2)
		assert.Equal(t, "Camp attendance", next.ActivityLog[0].Activity)
		assert.Equal(t, domain.EntryOther, next.ActivityLog[0].EntryType)
		assert.Equal(t, ActivityLevelUp, next.ActivityLog[1].Activity)
	})

	t.Run("no level up keeps vitality", func(t *testing.T) {
		p := baseProfile()
		p.Vitality = 30
		res := GrantPoints(p, 10, "", now, rules)
		next := res.Patch.Apply(p)
		assert.Equal(t, 10, next.Points)
		assert.Equal(t, 30, next.Vitality)
		assert.Nil(t, res.Patch.Vitality)
	})

	t.Run("negative grant floors at zero", func(t *testing.T) {
		p := baseProfile()
		p.Points = 20
		res := GrantPoints(p, -50, "Penalty", now, rules)
		next := res.Patch.Apply(p)
		assert.Equal(t, 0, next.Points)
		assert.Equal(t, -50, next.ActivityLog[0].PointsEarned)
	})
}

func TestVitalityStaysInBounds(t *testing.T) {
	rules := DefaultRules()
	p := baseProfile()
	at := now

	// a long, irregular sequence of every operation
	for i := 0; i < 200; i++ {
		switch i % 4 {
		case 0:
			p = Decay(p, at, rules).Patch.Apply(p)
		case 1:
			p = TryRecharge(p, at, rules).Patch.Apply(p)
		case 2:
			p = StartSession(p, at, rules).Profile
		case 3:
			p = GrantPoints(p, 730, "Activity", at, rules).Patch.Apply(p)
		}
		require.GreaterOrEqual(t, p.Vitality, domain.MinVitality, "step %d", i)
		require.LessOrEqual(t, p.Vitality, domain.MaxVitality, "step %d", i)
		require.GreaterOrEqual(t, p.Points, 0)
		require.Less(t, p.Points, rules.LevelThreshold)
		require.GreaterOrEqual(t, p.Level, 1)
		require.GreaterOrEqual(t, p.StreakCount, 1)
		at = at.Add(time.Duration(i%7+1) * 5 * time.Hour)
	}
}
