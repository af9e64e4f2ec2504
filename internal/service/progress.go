package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/engine"
	"github.com/scout-progress/internal/metrics"
)

// ProgressService runs the progression engine against the configured stores
type ProgressService struct {
	profiles  ProfileStore
	ledger    SubmissionLedger
	catalog   CurriculumCatalog
	badges    BadgeCache
	publisher ProfilePublisher
	rules     engine.Rules
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

// Option configures a ProgressService
type Option func(*ProgressService)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(s *ProgressService) { s.now = now }
}

// WithBadgeCache enables read-through caching of badge summaries
func WithBadgeCache(cache BadgeCache) Option {
	return func(s *ProgressService) { s.badges = cache }
}

// WithMetrics records outcomes in m
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ProgressService) { s.metrics = m }
}

// WithPublisher pushes persisted profiles to p
func WithPublisher(p ProfilePublisher) Option {
	return func(s *ProgressService) { s.publisher = p }
}

// WithIDGenerator overrides submission id generation
func WithIDGenerator(fn func() string) Option {
	return func(s *ProgressService) { s.newID = fn }
}

// NewProgressService creates a new progress service
func NewProgressService(
	profiles ProfileStore,
	ledger SubmissionLedger,
	catalog CurriculumCatalog,
	rules engine.Rules,
	logger *slog.Logger,
	opts ...Option,
) *ProgressService {
	s := &ProgressService{
		profiles: profiles,
		ledger:   ledger,
		catalog:  catalog,
		rules:    rules,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetPublisher sets the profile publisher. It must be called before the
// service starts handling requests.
func (s *ProgressService) SetPublisher(p ProfilePublisher) {
	s.publisher = p
}

// Rules returns the rules the service evaluates with
func (s *ProgressService) Rules() engine.Rules {
	return s.rules
}

// write runs fn inside a profile transaction. When the store fails after fn
// has produced a result, the intended profile is returned with persisted=false
// so the caller can still show the computed state.
func (s *ProgressService) write(
	ctx context.Context,
	op, memberID string,
	fn func(cur domain.Profile) (domain.Patch, domain.Profile),
) (profile domain.Profile, persisted bool, err error) {
	var intended domain.Profile
	ran := false

	updated, err := s.profiles.WriteTransactional(ctx, memberID, func(cur domain.Profile) (domain.Patch, error) {
		patch, next := fn(cur)
		intended = next
		ran = true
		return patch, nil
	})
	if err != nil {
		if !ran || domain.IsNotFoundError(err) {
			return domain.Profile{}, false, err
		}
		s.logger.Warn("failed to persist profile, serving unsaved state",
			"operation", op,
			"member_id", memberID,
			"error", err,
		)
		s.metrics.IncWriteFailure(op)
		return intended, false, nil
	}

	if s.publisher != nil {
		s.publisher.PublishProfile(*updated)
	}
	return *updated, true, nil
}

// StartSession applies passive decay, the daily login cycle and level
// resolution for a member opening the app
func (s *ProgressService) StartSession(ctx context.Context, memberID string) (*domain.SessionOutcome, error) {
	defer s.metrics.ObserveSession(time.Now())
	now := s.now()

	var result engine.SessionResult
	var decayed int
	profile, persisted, err := s.write(ctx, "session", memberID, func(cur domain.Profile) (domain.Patch, domain.Profile) {
		result = engine.StartSession(cur, now, s.rules)
		decayed = 0
		if result.Decay.Changed {
			decayed = cur.Normalize().Vitality - result.Decay.NewVitality
		}
		return result.Patch, result.Profile
	})
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}

	if persisted {
		if result.Daily.BonusGranted {
			s.metrics.IncDailyBonus()
		}
		s.metrics.AddLevelUps(result.Daily.Level.LevelsGained)
	}

	return &domain.SessionOutcome{
		Profile:         profile,
		VitalityDecayed: decayed,
		BonusGranted:    result.Daily.BonusGranted,
		StreakCount:     profile.StreakCount,
		LevelsGained:    result.Daily.Level.LevelsGained,
		Persisted:       persisted,
	}, nil
}

// Recharge attempts a manual vitality recharge
func (s *ProgressService) Recharge(ctx context.Context, memberID string) (*domain.RechargeOutcome, error) {
	now := s.now()

	var result engine.RechargeResult
	profile, persisted, err := s.write(ctx, "recharge", memberID, func(cur domain.Profile) (domain.Patch, domain.Profile) {
		result = engine.TryRecharge(cur, now, s.rules)
		return result.Patch, result.Patch.Apply(cur.Normalize())
	})
	if err != nil {
		return nil, fmt.Errorf("recharging: %w", err)
	}

	outcome := &domain.RechargeOutcome{
		Allowed:   result.Allowed,
		Reason:    string(result.Reason),
		Vitality:  result.NewVitality,
		Profile:   profile,
		Persisted: persisted,
	}
	if !result.RetryAt.IsZero() {
		retryAt := result.RetryAt
		outcome.RetryAt = &retryAt
	}

	if result.Allowed {
		s.metrics.IncRecharge("allowed")
	} else {
		s.metrics.IncRecharge(string(result.Reason))
	}
	return outcome, nil
}

// GrantPoints awards points for an activity and resolves level-ups
func (s *ProgressService) GrantPoints(ctx context.Context, memberID string, req domain.GrantRequest) (*domain.GrantOutcome, error) {
	if req.Amount == 0 {
		return nil, domain.ErrInvalidPoints
	}
	now := s.now()

	var result engine.GrantResult
	profile, persisted, err := s.write(ctx, "grant", memberID, func(cur domain.Profile) (domain.Patch, domain.Profile) {
		result = engine.GrantPoints(cur, req.Amount, strings.TrimSpace(req.Activity), now, s.rules)
		return result.Patch, result.Patch.Apply(cur.Normalize())
	})
	if err != nil {
		return nil, fmt.Errorf("granting points: %w", err)
	}

	if persisted {
		s.metrics.AddLevelUps(result.Level.LevelsGained)
	}
	return &domain.GrantOutcome{
		Profile:      profile,
		LevelsGained: result.Level.LevelsGained,
		Persisted:    persisted,
	}, nil
}

// Profile returns the stored profile with missing fields defaulted
func (s *ProgressService) Profile(ctx context.Context, memberID string) (*domain.Profile, error) {
	p, err := s.profiles.Read(ctx, memberID)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}
	out := p.Normalize()
	return &out, nil
}

// EnrollMember creates a profile for a new member
func (s *ProgressService) EnrollMember(ctx context.Context, req domain.EnrollRequest) (*domain.Profile, error) {
	memberID := strings.TrimSpace(req.MemberID)
	if memberID == "" {
		return nil, fmt.Errorf("member_id is required: %w", domain.ErrInvalidRequest)
	}

	rank := domain.RankEntrant
	if req.RankTier != "" {
		parsed, err := domain.ParseRankTier(req.RankTier)
		if err != nil {
			return nil, err
		}
		rank = parsed
	}

	profile := domain.NewProfile(memberID, rank, strings.TrimSpace(req.ReligiousAffiliation))
	if err := s.profiles.Create(ctx, profile); err != nil {
		return nil, fmt.Errorf("enrolling member: %w", err)
	}

	s.logger.Info("member enrolled", "member_id", memberID, "rank_tier", rank)
	return &profile, nil
}

// Badges returns the member's badge summary, served from cache when possible
func (s *ProgressService) Badges(ctx context.Context, memberID string) (*domain.BadgeSummary, error) {
	if s.badges != nil {
		cached, err := s.badges.Get(ctx, memberID)
		if err != nil {
			s.logger.Warn("failed to read badge cache", "member_id", memberID, "error", err)
		}
		if cached != nil {
			s.metrics.IncBadgeCache(true)
			return cached, nil
		}
		s.metrics.IncBadgeCache(false)
	}

	gen, cacheable := s.badgeGeneration(ctx, memberID)
	summary, err := s.computeBadges(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if cacheable {
		s.cacheBadges(ctx, *summary, gen)
	}
	return summary, nil
}

// computeBadges loads the three inputs of the aggregation concurrently
func (s *ProgressService) computeBadges(ctx context.Context, memberID string) (*domain.BadgeSummary, error) {
	var (
		profile     *domain.Profile
		submissions []domain.SubmissionRecord
		catalog     []domain.CurriculumItem
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.profiles.Read(gctx, memberID)
		if err != nil {
			return fmt.Errorf("reading profile: %w", err)
		}
		profile = p
		return nil
	})
	g.Go(func() error {
		recs, err := s.ledger.QueryVerified(gctx, memberID)
		if err != nil {
			return fmt.Errorf("querying verified submissions: %w", err)
		}
		submissions = recs
		return nil
	})
	g.Go(func() error {
		items, err := s.catalog.ListAll(gctx)
		if err != nil {
			return fmt.Errorf("listing curriculum: %w", err)
		}
		catalog = items
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := engine.Summarize(submissions, profile.Normalize(), catalog, s.rules)
	return &summary, nil
}

// badgeGeneration must be read before the inputs of a summary are loaded
func (s *ProgressService) badgeGeneration(ctx context.Context, memberID string) (int64, bool) {
	if s.badges == nil {
		return 0, false
	}
	gen, err := s.badges.Generation(ctx, memberID)
	if err != nil {
		s.logger.Warn("failed to read badge cache generation", "member_id", memberID, "error", err)
		return 0, false
	}
	return gen, true
}

func (s *ProgressService) cacheBadges(ctx context.Context, summary domain.BadgeSummary, gen int64) {
	stored, err := s.badges.Set(ctx, summary, gen)
	if err != nil {
		s.logger.Warn("failed to cache badges", "member_id", summary.MemberID, "error", err)
		return
	}
	if !stored {
		s.logger.Debug("discarded stale badge summary", "member_id", summary.MemberID, "generation", gen)
	}
}

func (s *ProgressService) invalidateBadges(ctx context.Context, memberID string) {
	if s.badges == nil {
		return
	}
	if err := s.badges.Invalidate(ctx, memberID); err != nil {
		s.logger.Warn("failed to invalidate badge cache", "member_id", memberID, "error", err)
	}
}

// Curriculum lists the curriculum catalog
func (s *ProgressService) Curriculum(ctx context.Context) ([]domain.CurriculumItem, error) {
	items, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing curriculum: %w", err)
	}
	return items, nil
}

// Submit records a pending submission for a curriculum item
func (s *ProgressService) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmissionRecord, error) {
	if strings.TrimSpace(req.MemberID) == "" {
		return nil, fmt.Errorf("member_id is required: %w", domain.ErrInvalidRequest)
	}
	profile, err := s.profiles.Read(ctx, req.MemberID)
	if err != nil {
		return nil, fmt.Errorf("reading profile: %w", err)
	}

	rec := domain.SubmissionRecord{
		ID:          s.newID(),
		MemberID:    req.MemberID,
		Status:      domain.StatusPending,
		SubmittedAt: s.now(),
	}

	if req.ItemID != "" {
		item, err := s.findItem(ctx, req.ItemID)
		if err != nil {
			return nil, err
		}
		rec.ItemID = item.ID
		rec.Level = item.Level
		rec.Category = item.Category
		rec.ItemNumber = item.ItemNumber
		rec.ReligiousSubtype = item.ReligiousSubtype
	} else {
		if !req.Level.IsValid() {
			return nil, domain.ErrInvalidCurriculumLevel
		}
		if !req.Category.IsValid() {
			return nil, domain.ErrInvalidCategory
		}
		if req.ItemNumber < 1 {
			return nil, fmt.Errorf("item_number must be positive: %w", domain.ErrInvalidRequest)
		}
		rec.Level = req.Level
		rec.Category = req.Category
		rec.ItemNumber = req.ItemNumber
		rec.ReligiousSubtype = req.ReligiousSubtype
		if rec.Category == domain.CategorySpiritual && rec.ItemNumber == domain.CompositeItemNumber {
			religion := rec.ReligiousSubtype
			if religion == "" {
				religion = profile.ReligiousAffiliation
			}
			if err := s.requireSubItemID(ctx, rec.Level, religion); err != nil {
				return nil, err
			}
		}
	}

	if err := s.ledger.Append(ctx, rec); err != nil {
		return nil, fmt.Errorf("appending submission: %w", err)
	}
	return &rec, nil
}

// requireSubItemID rejects a composite submission without item_id when the
// catalog lists distinct sub-items for the religion at that level
func (s *ProgressService) requireSubItemID(ctx context.Context, level domain.CurriculumLevel, religion string) error {
	items, err := s.catalog.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing curriculum: %w", err)
	}
	for _, it := range items {
		if it.IsComposite() && it.Level == level && it.ReligiousSubtype == religion {
			return fmt.Errorf("item_id is required for %s item %d: %w",
				domain.CategorySpiritual, domain.CompositeItemNumber, domain.ErrInvalidRequest)
		}
	}
	return nil
}

func (s *ProgressService) findItem(ctx context.Context, itemID string) (*domain.CurriculumItem, error) {
	items, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing curriculum: %w", err)
	}
	for i := range items {
		if items[i].ID == itemID {
			return &items[i], nil
		}
	}
	return nil, domain.ErrUnknownCurriculumItem
}

// VerifySubmission marks a submission verified and drops the member's cached badges
func (s *ProgressService) VerifySubmission(ctx context.Context, submissionID, verifier string) (*domain.SubmissionRecord, error) {
	if strings.TrimSpace(verifier) == "" {
		return nil, fmt.Errorf("verifier_id is required: %w", domain.ErrInvalidRequest)
	}
	return s.verify(ctx, submissionID, verifier, s.now())
}

func (s *ProgressService) verify(ctx context.Context, submissionID, verifier string, at time.Time) (*domain.SubmissionRecord, error) {
	rec, err := s.ledger.MarkVerified(ctx, submissionID, verifier, at)
	if err != nil {
		return nil, fmt.Errorf("verifying submission: %w", err)
	}
	s.invalidateBadges(ctx, rec.MemberID)
	s.metrics.IncVerification()
	return rec, nil
}

// VerifySubmissionBatch applies verification events, continuing past
// individual failures. It returns how many were applied and the joined errors.
func (s *ProgressService) VerifySubmissionBatch(ctx context.Context, events []domain.VerificationEvent) (int, error) {
	var errs []error
	applied := 0
	for _, ev := range events {
		if ev.SubmissionID == "" || ev.VerifierID == "" {
			errs = append(errs, fmt.Errorf("event %s: %w", ev.EventID, domain.ErrInvalidRequest))
			continue
		}
		at := ev.VerifiedAt
		if at.IsZero() {
			at = s.now()
		}
		if _, err := s.verify(ctx, ev.SubmissionID, ev.VerifierID, at); err != nil {
			s.logger.Error("failed to apply verification event",
				"event_id", ev.EventID,
				"submission_id", ev.SubmissionID,
				"error", err,
			)
			errs = append(errs, err)
			continue
		}
		applied++
	}
	return applied, errors.Join(errs...)
}

// WatchBadges calls fn with a freshly computed summary every time one of the
// member's submissions is verified. The returned function stops the watch.
func (s *ProgressService) WatchBadges(memberID string, fn func(domain.BadgeSummary)) func() {
	return s.ledger.SubscribeVerified(memberID, func(rec domain.SubmissionRecord) {
		ctx := context.Background()
		gen, cacheable := s.badgeGeneration(ctx, rec.MemberID)
		summary, err := s.computeBadges(ctx, rec.MemberID)
		if err != nil {
			s.logger.Warn("failed to recompute badges", "member_id", rec.MemberID, "error", err)
			return
		}
		if cacheable {
			s.cacheBadges(ctx, *summary, gen)
		}
		fn(*summary)
	})
}
