package genstore

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// Redis keeps the active generation in Redis so multiple replicas observe
// the same epoch. The monotonic check runs server-side in a small script to
// avoid a read-modify-write race between replicas.
type Redis struct {
	rdb goredis.UniversalClient
	key string
}

var _ Store = (*Redis)(nil)

// activateScript sets the generation iff it strictly increases.
// Returns 1 on transition, 0 when rejected.
var activateScript = goredis.NewScript(`
local cur = tonumber(redis.call('GET', KEYS[1]) or '0')
local want = tonumber(ARGV[1])
if want > cur then
  redis.call('SET', KEYS[1], ARGV[1])
  return 1
end
return 0
`)

func NewRedis(client goredis.UniversalClient, namespace string) (*Redis, error) {
	if client == nil {
		return nil, fmt.Errorf("genstore: nil redis client")
	}
	if namespace == "" {
		return nil, fmt.Errorf("genstore: namespace is required")
	}
	return &Redis{rdb: client, key: "gen:" + namespace + ":active"}, nil
}

func (s *Redis) Active(ctx context.Context) (uint64, error) {
	v, err := s.rdb.Get(ctx, s.key).Uint64()
	if err == goredis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return v, nil
}

func (s *Redis) Activate(ctx context.Context, gen uint64) error {
	n, err := activateScript.Run(ctx, s.rdb, []string{s.key}, gen).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotMonotonic
	}
	return nil
}

func (s *Redis) Close(_ context.Context) error { return nil }
