package kv

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
)

// Redis is a Store backed by a shared Redis instance. Each key is a hash with
// fields "v" (version) and "d" (payload); conditional writes run as a Lua
// script so multiple workers can share one store safely.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the given Redis URL and verifies the connection.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, eris.Wrap(err, "kv: parse redis url")
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, eris.Wrap(err, "kv: redis ping")
	}
	return &Redis{client: client}, nil
}

// NewRedisFromClient wraps an existing client; the caller owns its lifecycle.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// putScript bumps the version unconditionally.
var putScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
local nv = 1
if v then nv = tonumber(v) + 1 end
redis.call('HSET', KEYS[1], 'v', nv, 'd', ARGV[1])
local ttl = tonumber(ARGV[2])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return nv
`)

// casScript writes only when the stored version equals ARGV[2] (0 = absent).
// Returns -1 on mismatch.
var casScript = redis.NewScript(`
local v = redis.call('HGET', KEYS[1], 'v')
local cur = 0
if v then cur = tonumber(v) end
if cur ~= tonumber(ARGV[2]) then return -1 end
local nv = cur + 1
redis.call('HSET', KEYS[1], 'v', nv, 'd', ARGV[1])
local ttl = tonumber(ARGV[3])
if ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
else
	redis.call('PERSIST', KEYS[1])
end
return nv
`)

func (r *Redis) Get(ctx context.Context, key string) (Entry, error) {
	vals, err := r.client.HMGet(ctx, key, "v", "d").Result()
	if err != nil {
		return Entry{}, eris.Wrapf(err, "kv: redis get %s", key)
	}
	if vals[0] == nil || vals[1] == nil {
		return Entry{}, ErrNotFound
	}
	version, err := parseVersion(vals[0])
	if err != nil {
		return Entry{}, eris.Wrapf(err, "kv: redis get %s", key)
	}
	data, _ := vals[1].(string)
	return Entry{Data: []byte(data), Version: version}, nil
}

func (r *Redis) Put(ctx context.Context, key string, data []byte, ttl time.Duration) (int64, error) {
	version, err := putScript.Run(ctx, r.client, []string{key}, data, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, eris.Wrapf(err, "kv: redis put %s", key)
	}
	return version, nil
}

func (r *Redis) PutIfMatch(ctx context.Context, key string, data []byte, expect int64, ttl time.Duration) (int64, error) {
	version, err := casScript.Run(ctx, r.client, []string{key}, data, expect, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, eris.Wrapf(err, "kv: redis cas %s", key)
	}
	if version < 0 {
		return 0, ErrVersionMismatch
	}
	return version, nil
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, key).Err(); err != nil {
		return eris.Wrapf(err, "kv: redis delete %s", key)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}

func parseVersion(v any) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, eris.Errorf("unexpected version type %T", v)
	}
	var n int64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, eris.Errorf("malformed version %q", s)
		}
		n = n*10 + int64(c-'0')
	}
	return n, nil
}
