package experiment

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/email-insights/internal/event"
)

// RedisAssignmentStore keeps assignments in one hash per test, so
// processes sharing a Redis instance agree on who got what. HSetNX gives
// the insert-if-absent semantics the interface requires: concurrent
// assigners race harmlessly and the first write wins.
type RedisAssignmentStore struct {
	client *redis.Client
}

func NewRedisAssignmentStore(client *redis.Client) *RedisAssignmentStore {
	return &RedisAssignmentStore{client: client}
}

func assignmentHashKey(testID string) string {
	return "abtest:assign:" + testID
}

func (s *RedisAssignmentStore) SaveIfAbsent(ctx context.Context, a *Assignment) (*Assignment, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("marshal assignment: %w", err)
	}

	key := assignmentHashKey(a.TestID)
	set, err := s.client.HSetNX(ctx, key, a.UserID, raw).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: save assignment: %v", event.ErrStorageUnavailable, err)
	}
	if set {
		cp := *a
		return &cp, nil
	}

	// Lost the race: return whoever won.
	existing, err := s.Get(ctx, a.TestID, a.UserID)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		// Field vanished between HSetNX and HGet; treat as our write.
		cp := *a
		return &cp, nil
	}
	return existing, nil
}

func (s *RedisAssignmentStore) Get(ctx context.Context, testID, userID string) (*Assignment, error) {
	raw, err := s.client.HGet(ctx, assignmentHashKey(testID), userID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get assignment: %v", event.ErrStorageUnavailable, err)
	}

	var a Assignment
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("decode assignment: %w", err)
	}
	return &a, nil
}

func (s *RedisAssignmentStore) CountByVariant(ctx context.Context, testID string) (map[string]int, error) {
	all, err := s.client.HGetAll(ctx, assignmentHashKey(testID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: count assignments: %v", event.ErrStorageUnavailable, err)
	}

	counts := make(map[string]int)
	for _, raw := range all {
		var a Assignment
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			continue
		}
		if !a.Excluded {
			counts[a.VariantID]++
		}
	}
	return counts, nil
}
