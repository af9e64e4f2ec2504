// Package memory provides process-local stores used for single-instance
// deployments and tests.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/ledger"
)

// ProfileStore keeps member profiles in a map guarded by a mutex.
// WriteTransactional holds the lock across read, mutate and write.
type ProfileStore struct {
	mu       sync.Mutex
	profiles map[string]domain.Profile
}

// NewProfileStore creates an empty profile store
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]domain.Profile)}
}

// Read returns a copy of the stored profile
func (s *ProfileStore) Read(_ context.Context, memberID string) (*domain.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.profiles[memberID]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}
	out := p.Clone()
	return &out, nil
}

// Create stores a new profile
func (s *ProfileStore) Create(_ context.Context, profile domain.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[profile.MemberID]; ok {
		return domain.ErrMemberExists
	}
	s.profiles[profile.MemberID] = profile.Normalize().Clone()
	return nil
}

// WriteTransactional applies the patch produced by fn to the latest snapshot
func (s *ProfileStore) WriteTransactional(ctx context.Context, memberID string, fn domain.Mutator) (*domain.Profile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.profiles[memberID]
	if !ok {
		return nil, domain.ErrMemberNotFound
	}

	patch, err := fn(current.Clone())
	if err != nil {
		return nil, err
	}

	updated := patch.Apply(current)
	s.profiles[memberID] = updated
	out := updated.Clone()
	return &out, nil
}

// Ledger is an in-memory submission ledger
type Ledger struct {
	mu       sync.RWMutex
	records  map[string]domain.SubmissionRecord
	feed     *ledger.Feed
	notifier ledger.Notifier
	logger   *slog.Logger
}

// NewLedger creates a ledger that announces verifications through notifier.
// Subscriptions are served from feed.
func NewLedger(feed *ledger.Feed, notifier ledger.Notifier, logger *slog.Logger) *Ledger {
	return &Ledger{
		records:  make(map[string]domain.SubmissionRecord),
		feed:     feed,
		notifier: notifier,
		logger:   logger,
	}
}

// Append stores a new submission record
func (l *Ledger) Append(_ context.Context, rec domain.SubmissionRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.records[rec.ID]; ok {
		return fmt.Errorf("appending submission %s: %w", rec.ID, domain.ErrInvalidRequest)
	}
	l.records[rec.ID] = rec
	return nil
}

// Get returns a single submission
func (l *Ledger) Get(_ context.Context, id string) (*domain.SubmissionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	rec, ok := l.records[id]
	if !ok {
		return nil, domain.ErrSubmissionNotFound
	}
	return &rec, nil
}

// QueryVerified returns the member's verified submissions ordered by submission time
func (l *Ledger) QueryVerified(_ context.Context, memberID string) ([]domain.SubmissionRecord, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []domain.SubmissionRecord
	for _, rec := range l.records {
		if rec.MemberID == memberID && rec.IsVerified() {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.Before(out[j].SubmittedAt)
	})
	return out, nil
}

// MarkVerified flips a submission to VERIFIED. Verifying an already verified
// record returns it unchanged without announcing it again.
func (l *Ledger) MarkVerified(ctx context.Context, id, verifier string, at time.Time) (*domain.SubmissionRecord, error) {
	l.mu.Lock()
	rec, ok := l.records[id]
	if !ok {
		l.mu.Unlock()
		return nil, domain.ErrSubmissionNotFound
	}
	if rec.IsVerified() {
		l.mu.Unlock()
		return &rec, nil
	}
	rec.Status = domain.StatusVerified
	rec.VerifiedAt = at
	rec.VerifiedBy = verifier
	l.records[id] = rec
	l.mu.Unlock()

	if l.notifier != nil {
		if err := l.notifier.Notify(ctx, rec); err != nil {
			l.logger.Warn("failed to announce verified submission", "submission_id", id, "error", err)
		}
	}
	return &rec, nil
}

// SubscribeVerified registers fn for the member's verified submissions
func (l *Ledger) SubscribeVerified(memberID string, fn ledger.Listener) func() {
	return l.feed.Subscribe(memberID, fn)
}

// Catalog is an in-memory curriculum catalog
type Catalog struct {
	mu    sync.RWMutex
	items []domain.CurriculumItem
}

// NewCatalog creates a catalog holding items
func NewCatalog(items []domain.CurriculumItem) *Catalog {
	c := &Catalog{}
	c.Replace(items)
	return c
}

// ListAll returns every catalog item
func (c *Catalog) ListAll(_ context.Context) ([]domain.CurriculumItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.CurriculumItem, len(c.items))
	copy(out, c.items)
	return out, nil
}

// UpsertItems inserts items or replaces those with the same ID
func (c *Catalog) UpsertItems(_ context.Context, items []domain.CurriculumItem) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	index := make(map[string]int, len(c.items))
	for i, it := range c.items {
		index[it.ID] = i
	}
	for _, it := range items {
		if i, ok := index[it.ID]; ok {
			c.items[i] = it
			continue
		}
		index[it.ID] = len(c.items)
		c.items = append(c.items, it)
	}
	return nil
}

// Replace swaps the catalog contents
func (c *Catalog) Replace(items []domain.CurriculumItem) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make([]domain.CurriculumItem, len(items))
	copy(c.items, items)
}
