package bucket

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lifetag/internal/ratelimit/models"
)

// slidingWindowScript trims the window, admits the attempt if there is room
// and reports {allowed, count, oldest score}. Scores are microseconds.
var slidingWindowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
local count = redis.call('ZCARD', key)
local allowed = 0
if count < limit then
  redis.call('ZADD', key, now, member)
  count = count + 1
  allowed = 1
end
redis.call('PEXPIRE', key, math.ceil(window / 1000))
local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
local oldestScore = now
if oldest[2] then
  oldestScore = tonumber(oldest[2])
end
return {allowed, count, oldestScore}
`)

// RedisStore keeps one sorted set per key; the Lua script makes
// trim-count-add atomic across replicas.
type RedisStore struct {
	client redis.Scripter
	now    func() time.Time
}

func NewRedis(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client, now: time.Now}
}

func (s *RedisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (models.Result, error) {
	now := s.now().UnixMicro()
	member := strconv.FormatInt(now, 10) + "-" + uuid.NewString()
	vals, err := slidingWindowScript.Run(ctx, s.client, []string{key},
		now, window.Microseconds(), limit, member,
	).Int64Slice()
	if err != nil {
		return models.Result{}, fmt.Errorf("redis sliding window: %w", err)
	}
	if len(vals) != 3 {
		return models.Result{}, fmt.Errorf("redis sliding window: unexpected reply %v", vals)
	}
	count := int(vals[1])
	return models.Result{
		Allowed:   vals[0] == 1,
		Remaining: max(limit-count, 0),
		Limit:     limit,
		ResetAt:   time.UnixMicro(vals[2]).Add(window),
	}, nil
}
