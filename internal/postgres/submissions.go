package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/ledger"
)

// Ledger stores submissions in PostgreSQL and announces verifications
// through a ledger.Notifier after the update commits
type Ledger struct {
	repo     *Repository
	feed     *ledger.Feed
	notifier ledger.Notifier
	logger   *slog.Logger
}

// NewLedger creates a submission ledger
func NewLedger(repo *Repository, feed *ledger.Feed, notifier ledger.Notifier, logger *slog.Logger) *Ledger {
	return &Ledger{
		repo:     repo,
		feed:     feed,
		notifier: notifier,
		logger:   logger,
	}
}

const submissionColumns = `id, member_id, item_id, level, category, item_number, religious_subtype,
	status, submitted_at, verified_at, verified_by`

func scanSubmission(row pgx.Row) (*domain.SubmissionRecord, error) {
	var rec domain.SubmissionRecord
	var verifiedAt *time.Time
	err := row.Scan(
		&rec.ID,
		&rec.MemberID,
		&rec.ItemID,
		&rec.Level,
		&rec.Category,
		&rec.ItemNumber,
		&rec.ReligiousSubtype,
		&rec.Status,
		&rec.SubmittedAt,
		&verifiedAt,
		&rec.VerifiedBy,
	)
	if err != nil {
		return nil, err
	}
	if verifiedAt != nil {
		rec.VerifiedAt = *verifiedAt
	}
	return &rec, nil
}

// Append inserts a submission record
func (l *Ledger) Append(ctx context.Context, rec domain.SubmissionRecord) error {
	var verifiedAt *time.Time
	if !rec.VerifiedAt.IsZero() {
		verifiedAt = &rec.VerifiedAt
	}

	_, err := l.repo.pool.Exec(ctx, `
		INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID,
		rec.MemberID,
		rec.ItemID,
		string(rec.Level),
		string(rec.Category),
		rec.ItemNumber,
		rec.ReligiousSubtype,
		string(rec.Status),
		rec.SubmittedAt,
		verifiedAt,
		rec.VerifiedBy,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("appending submission %s: %w", rec.ID, domain.ErrInvalidRequest)
		}
		return fmt.Errorf("appending submission: %w", err)
	}
	return nil
}

// Get retrieves a submission by ID
func (l *Ledger) Get(ctx context.Context, id string) (*domain.SubmissionRecord, error) {
	rec, err := scanSubmission(l.repo.pool.QueryRow(ctx,
		`SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrSubmissionNotFound
		}
		return nil, fmt.Errorf("getting submission: %w", err)
	}
	return rec, nil
}

// QueryVerified returns the member's verified submissions
func (l *Ledger) QueryVerified(ctx context.Context, memberID string) ([]domain.SubmissionRecord, error) {
	rows, err := l.repo.pool.Query(ctx, `
		SELECT `+submissionColumns+`
		FROM submissions
		WHERE member_id = $1 AND status = $2
		ORDER BY submitted_at, id
	`, memberID, string(domain.StatusVerified))
	if err != nil {
		return nil, fmt.Errorf("querying verified submissions: %w", err)
	}
	defer rows.Close()

	var recs []domain.SubmissionRecord
	for rows.Next() {
		rec, err := scanSubmission(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// MarkVerified flips a pending submission to VERIFIED. An already verified
// submission is returned unchanged and not announced again.
func (l *Ledger) MarkVerified(ctx context.Context, id, verifier string, at time.Time) (*domain.SubmissionRecord, error) {
	var rec *domain.SubmissionRecord
	changed := false

	err := l.repo.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanSubmission(tx.QueryRow(ctx,
			`SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return domain.ErrSubmissionNotFound
			}
			return fmt.Errorf("locking submission: %w", err)
		}
		rec = current
		if current.IsVerified() {
			return nil
		}

		_, err = tx.Exec(ctx, `
			UPDATE submissions SET status = $2, verified_at = $3, verified_by = $4
			WHERE id = $1
		`, id, string(domain.StatusVerified), at, verifier)
		if err != nil {
			return fmt.Errorf("marking submission verified: %w", err)
		}
		rec.Status = domain.StatusVerified
		rec.VerifiedAt = at
		rec.VerifiedBy = verifier
		changed = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed && l.notifier != nil {
		if err := l.notifier.Notify(ctx, *rec); err != nil {
			l.logger.Warn("failed to announce verified submission", "submission_id", id, "error", err)
		}
	}
	return rec, nil
}

// SubscribeVerified registers fn for the member's verified submissions
func (l *Ledger) SubscribeVerified(memberID string, fn ledger.Listener) func() {
	return l.feed.Subscribe(memberID, fn)
}
