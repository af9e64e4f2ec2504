package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/engine"
	"github.com/scout-progress/internal/ledger"
	"github.com/scout-progress/internal/memory"
	"github.com/scout-progress/internal/metrics"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type mapCache struct {
	mu          sync.Mutex
	entries     map[string]domain.BadgeSummary
	generations map[string]int64
	invalidated []string
	discarded   int
}

func newMapCache() *mapCache {
	return &mapCache{
		entries:     make(map[string]domain.BadgeSummary),
		generations: make(map[string]int64),
	}
}

func (c *mapCache) Get(_ context.Context, memberID string) (*domain.BadgeSummary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.entries[memberID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *mapCache) Generation(_ context.Context, memberID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[memberID], nil
}

func (c *mapCache) Set(_ context.Context, summary domain.BadgeSummary, generation int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[summary.MemberID] != generation {
		c.discarded++
		return false, nil
	}
	c.entries[summary.MemberID] = summary
	return true, nil
}

func (c *mapCache) Invalidate(_ context.Context, memberID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, memberID)
	c.generations[memberID]++
	c.invalidated = append(c.invalidated, memberID)
	return nil
}

// interleavedLedger runs onQuery once, after the verified records have been
// read but before they are handed back to the caller
type interleavedLedger struct {
	*memory.Ledger
	onQuery func()
}

func (l *interleavedLedger) QueryVerified(ctx context.Context, memberID string) ([]domain.SubmissionRecord, error) {
	recs, err := l.Ledger.QueryVerified(ctx, memberID)
	if fn := l.onQuery; fn != nil {
		l.onQuery = nil
		fn()
	}
	return recs, err
}

// failingStore runs the mutator and then reports a storage failure
type failingStore struct {
	*memory.ProfileStore
}

func (f failingStore) WriteTransactional(ctx context.Context, memberID string, fn domain.Mutator) (*domain.Profile, error) {
	p, err := f.ProfileStore.Read(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if _, err := fn(*p); err != nil {
		return nil, err
	}
	return nil, errors.New("connection reset")
}

type recordingPublisher struct {
	profiles []domain.Profile
}

func (r *recordingPublisher) PublishProfile(p domain.Profile) {
	r.profiles = append(r.profiles, p)
}

type fixture struct {
	svc      *ProgressService
	profiles *memory.ProfileStore
	ledger   *memory.Ledger
	catalog  *memory.Catalog
	cache    *mapCache
	clock    *clock
	metrics  *metrics.Metrics
}

func testCatalog() []domain.CurriculumItem {
	var items []domain.CurriculumItem
	for _, cat := range domain.Categories {
		for n := 1; n <= 3; n++ {
			items = append(items, domain.CurriculumItem{
				ID:         fmt.Sprintf("rakit-%s-%d", cat, n),
				Level:      domain.LevelRakit,
				Category:   cat,
				ItemNumber: n,
			})
		}
	}
	return items
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	feed := ledger.NewFeed()

	f := &fixture{
		profiles: memory.NewProfileStore(),
		ledger:   memory.NewLedger(feed, feed, logger),
		catalog:  memory.NewCatalog(testCatalog()),
		cache:    newMapCache(),
		clock:    &clock{now: time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)},
		metrics:  metrics.New(prometheus.NewRegistry()),
	}

	ids := 0
	base := []Option{
		WithClock(f.clock.Now),
		WithBadgeCache(f.cache),
		WithMetrics(f.metrics),
		WithIDGenerator(func() string {
			ids++
			return fmt.Sprintf("sub-%d", ids)
		}),
	}
	f.svc = NewProgressService(f.profiles, f.ledger, f.catalog, engine.DefaultRules(), logger, append(base, opts...)...)

	_, err := f.svc.EnrollMember(context.Background(), domain.EnrollRequest{
		MemberID:             "member-1",
		RankTier:             "ramu",
		ReligiousAffiliation: "Islam",
	})
	require.NoError(t, err)
	return f
}

func TestStartSessionGrantsDailyBonusOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	out, err := f.svc.StartSession(ctx, "member-1")
	require.NoError(t, err)
	assert.True(t, out.BonusGranted)
	assert.True(t, out.Persisted)
	assert.Equal(t, 100, out.Profile.Points)
	assert.Equal(t, "2024-03-10", out.Profile.LastDailyLoginDate)
	require.Len(t, out.Profile.ActivityLog, 1)
	assert.Equal(t, domain.EntryDailyBonus, out.Profile.ActivityLog[0].EntryType)

	f.clock.Advance(2 * time.Hour)
	out, err = f.svc.StartSession(ctx, "member-1")
	require.NoError(t, err)
	assert.False(t, out.BonusGranted)
	assert.Equal(t, 100, out.Profile.Points)

	stored, err := f.svc.Profile(ctx, "member-1")
	require.NoError(t, err)
	assert.Len(t, stored.ActivityLog, 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.DailyBonuses))
}

func TestStartSessionNextDayExtendsStreak(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.svc.StartSession(ctx, "member-1")
	require.NoError(t, err)

	f.clock.Advance(24 * time.Hour)
	second, err := f.svc.StartSession(ctx, "member-1")
	require.NoError(t, err)

	assert.True(t, second.BonusGranted)
	assert.Equal(t, first.StreakCount+1, second.StreakCount)
	assert.Equal(t, 200, second.Profile.Points)
}

func TestStartSessionUnknownMember(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.StartSession(context.Background(), "ghost")
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)
}

func TestStartSessionWriteFailureServesUnsavedState(t *testing.T) {
	f := newFixture(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewProgressService(failingStore{f.profiles}, f.ledger, f.catalog, engine.DefaultRules(), logger,
		WithClock(f.clock.Now), WithMetrics(f.metrics))

	out, err := svc.StartSession(context.Background(), "member-1")
	require.NoError(t, err)
	assert.False(t, out.Persisted)
	assert.True(t, out.BonusGranted)
	assert.Equal(t, 100, out.Profile.Points)

	stored, err := f.profiles.Read(context.Background(), "member-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Points)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WriteFailures.WithLabelValues("session")))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.DailyBonuses))
}

func TestRecharge(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	full, err := f.svc.Recharge(ctx, "member-1")
	require.NoError(t, err)
	assert.False(t, full.Allowed)
	assert.Equal(t, string(engine.DenyFull), full.Reason)

	_, err = f.profiles.WriteTransactional(ctx, "member-1", func(domain.Profile) (domain.Patch, error) {
		return domain.Patch{
			Vitality:           domain.IntPtr(60),
			LastVitalityUpdate: domain.TimePtr(f.clock.Now().Add(-30 * time.Minute)),
		}, nil
	})
	require.NoError(t, err)

	denied, err := f.svc.Recharge(ctx, "member-1")
	require.NoError(t, err)
	assert.False(t, denied.Allowed)
	assert.Equal(t, string(engine.DenyCooldown), denied.Reason)
	require.NotNil(t, denied.RetryAt)
	assert.True(t, denied.RetryAt.Equal(f.clock.Now().Add(30*time.Minute)))
	assert.Equal(t, 60, denied.Vitality)

	f.clock.Advance(31 * time.Minute)
	allowed, err := f.svc.Recharge(ctx, "member-1")
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.Equal(t, 85, allowed.Vitality)
	assert.Equal(t, 85, allowed.Profile.Vitality)
	assert.Nil(t, allowed.RetryAt)

	stored, err := f.svc.Profile(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, 85, stored.Vitality)
	assert.True(t, stored.LastVitalityUpdate.Equal(f.clock.Now()))
}

func TestGrantPoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.GrantPoints(ctx, "member-1", domain.GrantRequest{Amount: 0})
	assert.ErrorIs(t, err, domain.ErrInvalidPoints)

	out, err := f.svc.GrantPoints(ctx, "member-1", domain.GrantRequest{Amount: 4500, Activity: "Jamboree"})
	require.NoError(t, err)
	assert.Equal(t, 2, out.LevelsGained)
	assert.Equal(t, 3, out.Profile.Level)
	assert.Equal(t, 500, out.Profile.Points)
	assert.Equal(t, 100, out.Profile.Vitality)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.LevelUps))

	out, err = f.svc.GrantPoints(ctx, "member-1", domain.GrantRequest{Amount: -900, Activity: "Penalty"})
	require.NoError(t, err)
	assert.Equal(t, 0, out.Profile.Points)
	assert.Equal(t, 3, out.Profile.Level)
}

func TestSubmitCompositeRequiresItemID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var subItems []domain.CurriculumItem
	for i := 0; i < 3; i++ {
		subItems = append(subItems, domain.CurriculumItem{
			ID:               fmt.Sprintf("rakit-spiritual-4-islam-%d", i),
			Level:            domain.LevelRakit,
			Category:         domain.CategorySpiritual,
			ItemNumber:       domain.CompositeItemNumber,
			ReligiousSubtype: "Islam",
		})
	}
	require.NoError(t, f.catalog.UpsertItems(ctx, subItems))

	raw := domain.SubmitRequest{
		MemberID:   "member-1",
		Level:      domain.LevelRakit,
		Category:   domain.CategorySpiritual,
		ItemNumber: domain.CompositeItemNumber,
	}
	_, err := f.svc.Submit(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	raw.ReligiousSubtype = "Islam"
	_, err = f.svc.Submit(ctx, raw)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	// no sub-items are listed for this religion, so a free-form record is accepted
	raw.ReligiousSubtype = "Buddha"
	_, err = f.svc.Submit(ctx, raw)
	require.NoError(t, err)

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-spiritual-4-islam-1"})
	require.NoError(t, err)
	assert.Equal(t, "rakit-spiritual-4-islam-1", rec.ItemID)
	assert.Equal(t, "Islam", rec.ReligiousSubtype)
}

func TestEnrollMember(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.EnrollMember(ctx, domain.EnrollRequest{MemberID: "member-1"})
	assert.ErrorIs(t, err, domain.ErrMemberExists)

	_, err = f.svc.EnrollMember(ctx, domain.EnrollRequest{MemberID: "m2", RankTier: "admiral"})
	assert.ErrorIs(t, err, domain.ErrInvalidRankTier)

	_, err = f.svc.EnrollMember(ctx, domain.EnrollRequest{MemberID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	p, err := f.svc.EnrollMember(ctx, domain.EnrollRequest{MemberID: "m3"})
	require.NoError(t, err)
	assert.Equal(t, domain.RankEntrant, p.RankTier)
	assert.Equal(t, 1, p.Level)
	assert.Equal(t, 100, p.Vitality)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "nope"})
	assert.ErrorIs(t, err, domain.ErrUnknownCurriculumItem)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "ghost", ItemID: "rakit-SOCIAL-1"})
	assert.ErrorIs(t, err, domain.ErrMemberNotFound)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", Level: "PANDU", Category: domain.CategorySocial, ItemNumber: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidCurriculumLevel)

	_, err = f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", Level: domain.LevelRakit, Category: "ART", ItemNumber: 1})
	assert.ErrorIs(t, err, domain.ErrInvalidCategory)

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-SOCIAL-2"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, domain.CategorySocial, rec.Category)
	assert.Equal(t, 2, rec.ItemNumber)
	assert.Equal(t, domain.LevelRakit, rec.Level)
}

func TestVerificationUpdatesBadges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	before, err := f.svc.Badges(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, domain.LevelRakit, before.TargetLevel)
	for _, c := range before.Categories {
		assert.Equal(t, 0, c.CurrentCount)
	}
	cached, _ := f.cache.Get(ctx, "member-1")
	require.NotNil(t, cached)

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-PHYSICAL-1"})
	require.NoError(t, err)

	// pending submissions do not count
	pending, err := f.svc.Badges(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, before, pending)

	_, err = f.svc.VerifySubmission(ctx, rec.ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	verified, err := f.svc.VerifySubmission(ctx, rec.ID, "pembina-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusVerified, verified.Status)
	assert.Contains(t, f.cache.invalidated, "member-1")

	after, err := f.svc.Badges(ctx, "member-1")
	require.NoError(t, err)
	var physical domain.CategoryState
	for _, c := range after.Categories {
		if c.Category == domain.CategoryPhysical {
			physical = c
		}
	}
	assert.Equal(t, 1, physical.CurrentCount)
	assert.InDelta(t, 25.0, physical.Percentage, 0.001)
	assert.Equal(t, domain.TierNone, physical.Tier)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Verifications))
}

func physicalCount(t *testing.T, summary *domain.BadgeSummary) int {
	t.Helper()
	for _, c := range summary.Categories {
		if c.Category == domain.CategoryPhysical {
			return c.CurrentCount
		}
	}
	t.Fatalf("no physical category in summary")
	return 0
}

func TestBadgesDoesNotCacheSummaryOverlappingVerification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-PHYSICAL-1"})
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	racing := &interleavedLedger{Ledger: f.ledger}
	svc := NewProgressService(f.profiles, racing, f.catalog, engine.DefaultRules(), logger,
		WithClock(f.clock.Now),
		WithBadgeCache(f.cache),
	)
	racing.onQuery = func() {
		_, err := svc.VerifySubmission(ctx, rec.ID, "pembina-1")
		assert.NoError(t, err)
	}

	// computed from records read before the verification landed
	stale, err := svc.Badges(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, 0, physicalCount(t, stale))

	cached, err := f.cache.Get(ctx, "member-1")
	require.NoError(t, err)
	assert.Nil(t, cached)
	assert.Equal(t, 1, f.cache.discarded)

	fresh, err := svc.Badges(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, 1, physicalCount(t, fresh))

	cached, err = f.cache.Get(ctx, "member-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, 1, physicalCount(t, cached))
}

func TestWatchBadges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var updates []domain.BadgeSummary
	stop := f.svc.WatchBadges("member-1", func(s domain.BadgeSummary) {
		updates = append(updates, s)
	})

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-SOCIAL-1"})
	require.NoError(t, err)
	_, err = f.svc.VerifySubmission(ctx, rec.ID, "pembina-1")
	require.NoError(t, err)

	require.Len(t, updates, 1)
	assert.Equal(t, "member-1", updates[0].MemberID)

	stop()
	rec, err = f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-SOCIAL-2"})
	require.NoError(t, err)
	_, err = f.svc.VerifySubmission(ctx, rec.ID, "pembina-1")
	require.NoError(t, err)

	assert.Len(t, updates, 1)
}

func TestVerifySubmissionBatch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec, err := f.svc.Submit(ctx, domain.SubmitRequest{MemberID: "member-1", ItemID: "rakit-EMOTIONAL-1"})
	require.NoError(t, err)

	verifiedAt := time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC)
	applied, err := f.svc.VerifySubmissionBatch(ctx, []domain.VerificationEvent{
		{EventID: "e1", SubmissionID: rec.ID, VerifierID: "pembina-1", VerifiedAt: verifiedAt},
		{EventID: "e2", SubmissionID: "missing", VerifierID: "pembina-1"},
		{EventID: "e3", SubmissionID: rec.ID},
	})
	assert.Equal(t, 1, applied)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSubmissionNotFound)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)

	stored, err := f.ledger.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.VerifiedAt.Equal(verifiedAt))
}

func TestPublisherReceivesPersistedProfiles(t *testing.T) {
	pub := &recordingPublisher{}
	f := newFixture(t, WithPublisher(pub))

	_, err := f.svc.StartSession(context.Background(), "member-1")
	require.NoError(t, err)
	_, err = f.svc.Recharge(context.Background(), "member-1")
	require.NoError(t, err)

	require.Len(t, pub.profiles, 2)
	assert.Equal(t, 100, pub.profiles[0].Points)
}

func TestConcurrentSessionsGrantOneBonus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.StartSession(ctx, "member-1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	p, err := f.svc.Profile(ctx, "member-1")
	require.NoError(t, err)
	assert.Equal(t, 100, p.Points)
	assert.Len(t, p.ActivityLog, 1)
}
