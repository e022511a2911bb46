package auth

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const revocationKeyPrefix = "emr:revoked:"

// RedisRevocationList shares revocations across API replicas. Keys expire
// with the token they shadow so the set never grows unbounded.
type RedisRevocationList struct {
	rdb *redis.Client
}

// NewRedisRevocationList wraps an existing client.
func NewRedisRevocationList(rdb *redis.Client) *RedisRevocationList {
	return &RedisRevocationList{rdb: rdb}
}

func (l *RedisRevocationList) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, revocationKeyPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (l *RedisRevocationList) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return l.rdb.Set(ctx, revocationKeyPrefix+tokenID, "1", ttl).Err()
}
