package genstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configure a Redis store.
type RedisOptions struct {
	// Namespace separates generation keys of unrelated deployments.
	Namespace string
	// TTL is refreshed on every bump; 0 keeps keys forever. An expired key
	// reads 0, and entries written under a later generation self-heal.
	TTL time.Duration
	// CloseClient closes the client on Close.
	CloseClient bool
}

// Redis shares generations across client processes.
type Redis struct {
	rdb  redis.UniversalClient
	opts RedisOptions
}

var _ Store = (*Redis)(nil)

// bumpScript increments and refreshes the TTL in one atomic step.
var bumpScript = redis.NewScript(`
local g = redis.call('INCR', KEYS[1])
if tonumber(ARGV[1]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return g
`)

func NewRedis(client redis.UniversalClient, opts RedisOptions) *Redis {
	return &Redis{rdb: client, opts: opts}
}

func (s *Redis) key(k string) string { return "hotrod:gen:" + s.opts.Namespace + ":" + k }

// Load uses a single MGET so the keys are read atomically.
func (s *Redis) Load(ctx context.Context, keys ...string) ([]uint64, error) {
	out := make([]uint64, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.key(k)
	}
	vals, err := s.rdb.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("genstore: mget: %w", err)
	}
	for i, v := range vals {
		if out[i], err = parseGen(v); err != nil {
			return nil, fmt.Errorf("genstore: generation of %q: %w", keys[i], err)
		}
	}
	return out, nil
}

func parseGen(v any) (uint64, error) {
	switch vv := v.(type) {
	case nil:
		return 0, nil
	case string:
		return strconv.ParseUint(vv, 10, 64)
	case []byte:
		return strconv.ParseUint(string(vv), 10, 64)
	}
	return 0, fmt.Errorf("unexpected reply %T", v)
}

func (s *Redis) Bump(ctx context.Context, key string) (uint64, error) {
	g, err := bumpScript.Run(ctx, s.rdb, []string{s.key(key)}, s.opts.TTL.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("genstore: bump: %w", err)
	}
	return uint64(g), nil
}

func (s *Redis) Close(context.Context) error {
	if !s.opts.CloseClient {
		return nil
	}
	if err := s.rdb.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
		return err
	}
	return nil
}
