package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/scout-progress/internal/domain"
)

// ProfileStore keeps profiles as JSON strings with the activity log in a
// separate list. Writes use WATCH/MULTI and retry when another writer wins.
type ProfileStore struct {
	client  *redis.Client
	retries int
}

// NewProfileStore creates a Redis-backed profile store
func NewProfileStore(client *redis.Client, retries int) *ProfileStore {
	if retries < 1 {
		retries = 1
	}
	return &ProfileStore{client: client, retries: retries}
}

func encodeProfile(p domain.Profile) ([]byte, error) {
	p.ActivityLog = nil
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding profile: %w", err)
	}
	return data, nil
}

// profileReader is satisfied by both *redis.Client and *redis.Tx
type profileReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	LRange(ctx context.Context, key string, start, stop int64) *redis.StringSliceCmd
}

func readProfile(ctx context.Context, c profileReader, memberID string) (*domain.Profile, error) {
	data, err := c.Get(ctx, profileKey(memberID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrMemberNotFound
		}
		return nil, fmt.Errorf("getting profile: %w", err)
	}

	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decoding profile: %w", err)
	}

	entries, err := c.LRange(ctx, activityLogKey(memberID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("getting activity log: %w", err)
	}
	for _, raw := range entries {
		var e domain.LogEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decoding log entry: %w", err)
		}
		p.ActivityLog = append(p.ActivityLog, e)
	}
	return &p, nil
}

// Read loads a profile with its activity log
func (s *ProfileStore) Read(ctx context.Context, memberID string) (*domain.Profile, error) {
	return readProfile(ctx, s.client, memberID)
}

// Create stores a new profile unless one already exists
func (s *ProfileStore) Create(ctx context.Context, profile domain.Profile) error {
	data, err := encodeProfile(profile.Normalize())
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, profileKey(profile.MemberID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("creating profile: %w", err)
	}
	if !ok {
		return domain.ErrMemberExists
	}
	return nil
}

// WriteTransactional runs fn on the watched snapshot and commits its patch
// with MULTI/EXEC. It gives up with ErrConcurrentUpdate after the configured
// number of conflicting attempts.
func (s *ProfileStore) WriteTransactional(ctx context.Context, memberID string, fn domain.Mutator) (*domain.Profile, error) {
	key := profileKey(memberID)
	var updated domain.Profile

	txf := func(tx *redis.Tx) error {
		current, err := readProfile(ctx, tx, memberID)
		if err != nil {
			return err
		}

		patch, err := fn(*current)
		if err != nil {
			return err
		}
		updated = patch.Apply(*current)
		if patch.IsEmpty() {
			return nil
		}

		data, err := encodeProfile(updated)
		if err != nil {
			return err
		}
		entries := make([]interface{}, 0, len(patch.AppendLog))
		for _, e := range patch.AppendLog {
			raw, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("encoding log entry: %w", err)
			}
			entries = append(entries, raw)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			if len(entries) > 0 {
				pipe.RPush(ctx, activityLogKey(memberID), entries...)
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < s.retries; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return &updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, domain.ErrConcurrentUpdate
}
