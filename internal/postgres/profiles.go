package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/scout-progress/internal/domain"
)

const uniqueViolation = "23505"

// ProfileStore persists member profiles and their activity log
type ProfileStore struct {
	repo *Repository
}

// NewProfileStore creates a profile store on repo
func NewProfileStore(repo *Repository) *ProfileStore {
	return &ProfileStore{repo: repo}
}

const selectMember = `
	SELECT member_id, points, level, vitality, COALESCE(last_daily_login_date, ''),
	       last_vitality_update, streak_count, rank_tier, religious_affiliation
	FROM members
	WHERE member_id = $1
`

func scanMember(row pgx.Row) (*domain.Profile, error) {
	var p domain.Profile
	var lastUpdate *time.Time
	err := row.Scan(
		&p.MemberID,
		&p.Points,
		&p.Level,
		&p.Vitality,
		&p.LastDailyLoginDate,
		&lastUpdate,
		&p.StreakCount,
		&p.RankTier,
		&p.ReligiousAffiliation,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("scanning member: %w", err)
	}
	if lastUpdate != nil {
		p.LastVitalityUpdate = *lastUpdate
	}
	return &p, nil
}

func loadActivityLog(ctx context.Context, q querier, memberID string) ([]domain.LogEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT logged_at, activity, points_earned, entry_type
		FROM activity_log
		WHERE member_id = $1
		ORDER BY id
	`, memberID)
	if err != nil {
		return nil, fmt.Errorf("loading activity log: %w", err)
	}
	defer rows.Close()

	var entries []domain.LogEntry
	for rows.Next() {
		var e domain.LogEntry
		if err := rows.Scan(&e.Timestamp, &e.Activity, &e.PointsEarned, &e.EntryType); err != nil {
			return nil, fmt.Errorf("scanning log entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Read loads a profile with its full activity log
func (s *ProfileStore) Read(ctx context.Context, memberID string) (*domain.Profile, error) {
	p, err := scanMember(s.repo.pool.QueryRow(ctx, selectMember, memberID))
	if err != nil {
		return nil, err
	}
	p.ActivityLog, err = loadActivityLog(ctx, s.repo.pool, memberID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Create inserts a new member row
func (s *ProfileStore) Create(ctx context.Context, profile domain.Profile) error {
	p := profile.Normalize()
	var lastDay *string
	if p.LastDailyLoginDate != "" {
		lastDay = &p.LastDailyLoginDate
	}
	var lastUpdate *time.Time
	if !p.LastVitalityUpdate.IsZero() {
		lastUpdate = &p.LastVitalityUpdate
	}

	_, err := s.repo.pool.Exec(ctx, `
		INSERT INTO members (member_id, points, level, vitality, last_daily_login_date,
		                     last_vitality_update, streak_count, rank_tier, religious_affiliation)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		p.MemberID,
		p.Points,
		p.Level,
		p.Vitality,
		lastDay,
		lastUpdate,
		p.StreakCount,
		string(p.RankTier),
		p.ReligiousAffiliation,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrMemberExists
		}
		return fmt.Errorf("creating member: %w", err)
	}
	return nil
}

// WriteTransactional locks the member row, runs fn on the locked snapshot and
// writes the resulting patch in the same transaction
func (s *ProfileStore) WriteTransactional(ctx context.Context, memberID string, fn domain.Mutator) (*domain.Profile, error) {
	var updated domain.Profile

	err := s.repo.withTx(ctx, func(tx pgx.Tx) error {
		current, err := scanMember(tx.QueryRow(ctx, selectMember+" FOR UPDATE", memberID))
		if err != nil {
			return err
		}
		current.ActivityLog, err = loadActivityLog(ctx, tx, memberID)
		if err != nil {
			return err
		}

		patch, err := fn(*current)
		if err != nil {
			return err
		}

		if !patch.IsEmpty() {
			if err := applyPatch(ctx, tx, memberID, patch); err != nil {
				return err
			}
		}
		updated = patch.Apply(*current)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// applyPatch updates only the columns the patch sets and appends its log entries
func applyPatch(ctx context.Context, tx pgx.Tx, memberID string, patch domain.Patch) error {
	_, err := tx.Exec(ctx, `
		UPDATE members SET
			points = COALESCE($2, points),
			level = COALESCE($3, level),
			vitality = COALESCE($4, vitality),
			last_daily_login_date = COALESCE($5, last_daily_login_date),
			last_vitality_update = COALESCE($6, last_vitality_update),
			streak_count = COALESCE($7, streak_count),
			updated_at = NOW()
		WHERE member_id = $1
	`,
		memberID,
		patch.Points,
		patch.Level,
		patch.Vitality,
		patch.LastDailyLoginDate,
		patch.LastVitalityUpdate,
		patch.StreakCount,
	)
	if err != nil {
		return fmt.Errorf("updating member: %w", err)
	}

	if len(patch.AppendLog) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range patch.AppendLog {
		batch.Queue(`
			INSERT INTO activity_log (member_id, logged_at, activity, points_earned, entry_type)
			VALUES ($1, $2, $3, $4, $5)
		`, memberID, e.Timestamp, e.Activity, e.PointsEarned, string(e.EntryType))
	}

	br := tx.SendBatch(ctx, batch)
	defer br.Close()

	for range patch.AppendLog {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("appending activity log: %w", err)
		}
	}
	return nil
}
