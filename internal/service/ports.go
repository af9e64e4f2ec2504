package service

import (
	"context"
	"time"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/ledger"
)

// ProfileStore persists member profiles.
// WriteTransactional must run fn against the latest snapshot and commit its
// patch atomically with respect to other writers of the same member.
type ProfileStore interface {
	Read(ctx context.Context, memberID string) (*domain.Profile, error)
	WriteTransactional(ctx context.Context, memberID string, fn domain.Mutator) (*domain.Profile, error)
	Create(ctx context.Context, profile domain.Profile) error
}

// SubmissionLedger stores curriculum submissions and announces verifications
type SubmissionLedger interface {
	Append(ctx context.Context, rec domain.SubmissionRecord) error
	Get(ctx context.Context, id string) (*domain.SubmissionRecord, error)
	QueryVerified(ctx context.Context, memberID string) ([]domain.SubmissionRecord, error)
	MarkVerified(ctx context.Context, id, verifier string, at time.Time) (*domain.SubmissionRecord, error)
	SubscribeVerified(memberID string, fn ledger.Listener) (unsubscribe func())
}

// CurriculumCatalog lists the curriculum reference data
type CurriculumCatalog interface {
	ListAll(ctx context.Context) ([]domain.CurriculumItem, error)
}

// BadgeCache holds computed badge summaries. Get returns nil on a miss.
// Invalidate bumps the member's generation, and Set stores a summary only
// while the generation still equals the one read before computing it.
type BadgeCache interface {
	Get(ctx context.Context, memberID string) (*domain.BadgeSummary, error)
	Generation(ctx context.Context, memberID string) (int64, error)
	Set(ctx context.Context, summary domain.BadgeSummary, generation int64) (bool, error)
	Invalidate(ctx context.Context, memberID string) error
}

// ProfilePublisher receives every profile that was successfully persisted
type ProfilePublisher interface {
	PublishProfile(profile domain.Profile)
}
