package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisVersionPrefix = "kasa:v:"
	redisEntryPrefix   = "kasa:e:"
)

// RedisStore keeps version markers under kasa:v:<version> and entries
// under kasa:e:<version>:<key>.
type RedisStore struct {
	client *redis.Client
}

func NewRedisClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Open(ctx context.Context, version string) (Handle, error) {
	if err := s.client.Set(ctx, redisVersionPrefix+version, "1", 0).Err(); err != nil {
		return nil, err
	}
	return &redisHandle{client: s.client, version: version}, nil
}

func (s *RedisStore) DeleteVersion(ctx context.Context, version string) error {
	it := s.client.Scan(ctx, 0, redisEntryPrefix+version+":*", 100).Iterator()
	for it.Next(ctx) {
		if err := s.client.Del(ctx, it.Val()).Err(); err != nil {
			return err
		}
	}
	if err := it.Err(); err != nil {
		return err
	}
	return s.client.Del(ctx, redisVersionPrefix+version).Err()
}

func (s *RedisStore) ListVersions(ctx context.Context) ([]string, error) {
	it := s.client.Scan(ctx, 0, redisVersionPrefix+"*", 100).Iterator()
	var out []string
	for it.Next(ctx) {
		out = append(out, strings.TrimPrefix(it.Val(), redisVersionPrefix))
	}
	if err := it.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

type redisHandle struct {
	client  *redis.Client
	version string
}

func (h *redisHandle) Version() string { return h.version }

func (h *redisHandle) key(key string) string {
	return redisEntryPrefix + h.version + ":" + key
}

func (h *redisHandle) Match(ctx context.Context, key string) (Entry, error) {
	b, err := h.client.Get(ctx, h.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return decodeEntry(b)
}

func (h *redisHandle) Put(ctx context.Context, key string, ent Entry) error {
	if !Cacheable(key, ent) {
		return nil
	}
	b, err := encodeEntry(ent)
	if err != nil {
		return err
	}
	return h.client.Set(ctx, h.key(key), b, 0).Err()
}

func (h *redisHandle) SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error) {
	cutoff := now.Add(-maxAge)
	removed := 0

	it := h.client.Scan(ctx, 0, redisEntryPrefix+h.version+":*", 100).Iterator()
	for it.Next(ctx) {
		key := it.Val()
		b, err := h.client.Get(ctx, key).Bytes()
		if err != nil {
			continue
		}
		ent, err := decodeEntry(b)
		if err != nil || ent.CapturedAt.Before(cutoff) {
			if err := h.client.Del(ctx, key).Err(); err != nil {
				return removed, err
			}
			removed++
		}
	}
	if err := it.Err(); err != nil {
		return removed, err
	}
	return removed, nil
}
