package registry

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// UserPrefix is the Redis key prefix for user snapshot hashes.
	UserPrefix = "user:"

	// IndexKey is the Redis set holding every snapshotted user ID.
	IndexKey = "users"
)

// RedisStore snapshots user records into Redis hashes:
//
//	Key:    user:<id>
//	Fields: active, safe_mode, report_count, cumulative_support,
//	        last_support_at, joined_at, shares
//
// The in-memory Registry stays authoritative; the snapshot only lets a
// restarted process recover supporter totals and bans.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a snapshot store using the provided Redis client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Save writes one user record and indexes its ID.
func (s *RedisStore) Save(ctx context.Context, u User) error {
	var lastSupport int64
	if u.LastSupportAt != nil {
		lastSupport = u.LastSupportAt.Unix()
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, UserPrefix+u.ID, map[string]interface{}{
		"active":             strconv.FormatBool(u.Active),
		"safe_mode":          strconv.FormatBool(u.SafeMode),
		"report_count":       u.ReportCount,
		"cumulative_support": u.CumulativeSupport,
		"last_support_at":    lastSupport,
		"joined_at":          u.JoinedAt.Unix(),
		"shares":             u.Shares,
	})
	pipe.SAdd(ctx, IndexKey, u.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("registry: save %s: %w", u.ID, err)
	}
	return nil
}

// Load reads a single user record. Returns nil if it was never saved.
func (s *RedisStore) Load(ctx context.Context, id string) (*User, error) {
	result, err := s.client.HGetAll(ctx, UserPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: load %s: %w", id, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	return decodeUser(id, result), nil
}

// LoadAll reads every indexed user record. IDs whose hash has disappeared
// are skipped.
func (s *RedisStore) LoadAll(ctx context.Context) ([]User, error) {
	ids, err := s.client.SMembers(ctx, IndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("registry: list users: %w", err)
	}

	users := make([]User, 0, len(ids))
	for _, id := range ids {
		u, err := s.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			continue
		}
		users = append(users, *u)
	}
	return users, nil
}

func decodeUser(id string, h map[string]string) *User {
	u := &User{ID: id}
	u.Active, _ = strconv.ParseBool(h["active"])
	u.SafeMode, _ = strconv.ParseBool(h["safe_mode"])
	u.ReportCount, _ = strconv.Atoi(h["report_count"])
	u.CumulativeSupport, _ = strconv.ParseInt(h["cumulative_support"], 10, 64)
	u.Shares, _ = strconv.Atoi(h["shares"])
	u.Supporter = u.CumulativeSupport > 0

	if ts, _ := strconv.ParseInt(h["last_support_at"], 10, 64); ts > 0 {
		t := time.Unix(ts, 0)
		u.LastSupportAt = &t
	}
	if ts, _ := strconv.ParseInt(h["joined_at"], 10, 64); ts > 0 {
		u.JoinedAt = time.Unix(ts, 0)
	}
	return u
}
