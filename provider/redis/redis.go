// Package redis adapts redis/go-redis as a syncache provider. Durable from
// the client's point of view (survives app restarts) and implements Scanner
// so the cache store can rebuild its index.
package redis

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	pr "github.com/unkn0wn-root/syncache/provider"
)

var ErrNilClient = errors.New("redis provider: nil client")

type Redis struct {
	rdb         goredis.UniversalClient
	closeClient bool
}

var (
	_ pr.Provider = (*Redis)(nil)
	_ pr.Scanner  = (*Redis)(nil)
)

type Config struct {
	Client      goredis.UniversalClient
	CloseClient bool // set true only if this provider exclusively owns the client
}

func New(cfg Config) (*Redis, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	return &Redis{rdb: cfg.Client, closeClient: cfg.CloseClient}, nil
}

func (p *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := p.rdb.Get(ctx, key).Bytes()
	if err == goredis.Nil {
		return nil, false, nil // miss
	}
	if err != nil {
		return nil, false, err // transport/server error
	}
	return b, true, nil
}

func (p *Redis) Set(ctx context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 0 // non-positive TTLs mean "no expiry" per provider contract
	}
	if err := p.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		if isOOM(err) {
			return false, pr.ErrQuotaExceeded
		}
		return false, err
	}
	return true, nil
}

func (p *Redis) Del(ctx context.Context, key string) error {
	return p.rdb.Del(ctx, key).Err()
}

func (p *Redis) Scan(ctx context.Context, prefix string, fn func(key string, value []byte) error) error {
	iter := p.rdb.Scan(ctx, 0, prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		b, err := p.rdb.Get(ctx, k).Bytes()
		if err == goredis.Nil {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return err
		}
		if err := fn(k, b); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (p *Redis) Close(ctx context.Context) error {
	if !p.closeClient {
		return nil
	}
	return p.rdb.Close()
}

func isOOM(err error) bool {
	// Redis reports maxmemory exhaustion as "OOM command not allowed...".
	return err != nil && strings.HasPrefix(err.Error(), "OOM")
}
