package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "chat:presence:"

// RedisStore keeps one sorted set per user whose members are connection ids and
// whose scores are expiry times in unix milliseconds. Entries of a crashed
// process simply expire; live connections refresh theirs by calling MarkOnline
// again before the TTL runs out.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
	now func() time.Time
}

func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, ttl: ttl, now: time.Now}
}

func (s *RedisStore) MarkOnline(ctx context.Context, userID, connID string) error {
	key := keyPrefix + userID
	now := s.now()
	expiry := now.Add(s.ttl)

	pipe := s.rdb.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(now.UnixMilli(), 10))
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(expiry.UnixMilli()), Member: connID})
	pipe.PExpire(ctx, key, s.ttl)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) MarkOffline(ctx context.Context, userID, connID string) error {
	return s.rdb.ZRem(ctx, keyPrefix+userID, connID).Err()
}

func (s *RedisStore) IsOnline(ctx context.Context, userID string) (bool, error) {
	key := keyPrefix + userID
	from := strconv.FormatInt(s.now().UnixMilli(), 10)

	live, err := s.rdb.ZCount(ctx, key, from, "+inf").Result()
	if err != nil {
		return false, err
	}
	return live > 0, nil
}
