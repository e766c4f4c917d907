package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/johnwmail/vanish/models"
)

// DefaultRedisPrefix matches the key layout paste:<id> used by earlier deployments
const DefaultRedisPrefix = "paste"

// redisConsumeScript checks and decrements a record in one server-side
// step. Numeric fields are located with anchored patterns: a quote inside
// a JSON string is always escaped, so "expires_at": and "remaining_views":
// only match the record's own keys. Only the counter digits are rewritten.
var redisConsumeScript = redis.NewScript(`
local record = KEYS[1]
local marker = KEYS[2]
local now = tonumber(ARGV[1])
local grace = tonumber(ARGV[2])

if redis.call("EXISTS", marker) == 1 then
  return {"unavailable"}
end
local raw = redis.call("GET", record)
if not raw then
  return {"unavailable"}
end

local expires = string.match(raw, '"expires_at":(%-?%d+)')
if expires and now > tonumber(expires) then
  redis.call("SET", marker, "1")
  if grace >= 0 then
    redis.call("PEXPIREAT", marker, string.format("%d", tonumber(expires) + grace))
  end
  return {"unavailable"}
end

local views = string.match(raw, '"remaining_views":(%-?%d+)')
if not views then
  return {"served", raw}
end
local left = tonumber(views)
if left <= 0 then
  return {"unavailable"}
end

local pttl = redis.call("PTTL", record)
local updated = string.gsub(raw, '"remaining_views":%-?%d+', '"remaining_views":' .. string.format("%d", left - 1), 1)
redis.call("SET", record, updated)
if pttl > 0 then
  redis.call("PEXPIRE", record, pttl)
end
return {"served", updated}
`)

// RedisStore implements PasteStore on Redis. Records are JSON strings under
// <prefix>:<id>; a retired id also has <prefix>:<id>:retired.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	opts   Options
}

// NewRedisStore connects to the Redis server at url (redis:// or rediss://)
// and verifies the connection with PING.
func NewRedisStore(ctx context.Context, url, prefix string, opts Options) (*RedisStore, error) {
	redisOpts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opts.Timeout > 0 {
		redisOpts.DialTimeout = opts.Timeout
		redisOpts.ReadTimeout = opts.Timeout
		redisOpts.WriteTimeout = opts.Timeout
	}
	client := redis.NewClient(redisOpts)

	store := NewRedisStoreWithClient(client, prefix, opts)
	if err := store.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return store, nil
}

// NewRedisStoreWithClient wraps an existing client
func NewRedisStoreWithClient(client redis.UniversalClient, prefix string, opts Options) *RedisStore {
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix, opts: opts}
}

func (r *RedisStore) key(id string) string {
	return r.prefix + ":" + id
}

func (r *RedisStore) retiredKey(id string) string {
	return r.key(id) + ":retired"
}

func (r *RedisStore) Put(ctx context.Context, id string, paste *models.Paste) error {
	ctx, cancel := r.opts.withTimeout(ctx)
	defer cancel()

	data, err := json.Marshal(paste)
	if err != nil {
		return fmt.Errorf("marshal paste: %w", err)
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		r.write(ctx, pipe, r.key(id), data, paste)
		pipe.Del(ctx, r.retiredKey(id))
		return nil
	})
	return err
}

func (r *RedisStore) Get(ctx context.Context, id string) (*models.Paste, error) {
	ctx, cancel := r.opts.withTimeout(ctx)
	defer cancel()
	return r.read(ctx, r.key(id))
}

func (r *RedisStore) Consume(ctx context.Context, id string, now time.Time) (*models.Paste, error) {
	ctx, cancel := r.opts.withTimeout(ctx)
	defer cancel()

	grace := int64(-1)
	if r.opts.RetentionGrace >= 0 {
		grace = r.opts.RetentionGrace.Milliseconds()
	}
	raw, err := redisConsumeScript.Run(
		ctx,
		r.client,
		[]string{r.key(id), r.retiredKey(id)},
		now.UnixMilli(),
		grace,
	).Result()
	if err != nil {
		return nil, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) == 0 {
		return nil, fmt.Errorf("unexpected redis consume result %T", raw)
	}
	switch values[0] {
	case "unavailable":
		return nil, ErrUnavailable
	case "served":
		if len(values) < 2 {
			return nil, errors.New("redis consume result has no record")
		}
		data, ok := values[1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected redis record type %T", values[1])
		}
		var paste models.Paste
		if err := json.Unmarshal([]byte(data), &paste); err != nil {
			return nil, fmt.Errorf("unmarshal paste %s: %w", id, err)
		}
		return &paste, nil
	default:
		return nil, fmt.Errorf("unknown redis consume state %v", values[0])
	}
}

// read decodes the record at key; a missing key yields (nil, nil)
func (r *RedisStore) read(ctx context.Context, key string) (*models.Paste, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var paste models.Paste
	if err := json.Unmarshal(raw, &paste); err != nil {
		return nil, fmt.Errorf("unmarshal paste %s: %w", key, err)
	}
	return &paste, nil
}

// write queues SET plus the optional expiry hint
func (r *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, key string, data []byte, paste *models.Paste) {
	pipe.Set(ctx, key, data, 0)
	if at, ok := r.opts.purgeAt(paste); ok {
		pipe.PExpireAt(ctx, key, at)
	}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := r.opts.withTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Backend() string { return "redis" }

func (r *RedisStore) Close() error {
	return r.client.Close()
}
