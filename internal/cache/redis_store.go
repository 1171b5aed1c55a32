package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisStore 把每个命名缓存映射为一个 hash（field = URL，value = JSON 编码的 Response），
// 另用一个 set 记录当前存在的缓存名。整缓存删除在 MULTI 事务中完成。
type redisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

type redisCache struct {
	store *redisStore
	name  string
}

// NewRedisStore 基于 redis 构建命名缓存存储，prefix 用于隔离多个部署。
func NewRedisStore(client *redis.Client, prefix string) Store {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if prefix == "" {
		prefix = "shellcache"
	}
	return &redisStore{client: client, prefix: prefix, now: time.Now}
}

func (s *redisStore) namesKey() string {
	return s.prefix + ":caches"
}

func (s *redisStore) cacheKey(name string) string {
	return s.prefix + ":cache:" + name
}

func (s *redisStore) Open(ctx context.Context, name string) (Cache, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "open").Inc()
		return nil, fmt.Errorf("redis sadd: %w", err)
	}
	return &redisCache{store: s, name: name}, nil
}

func (s *redisStore) Delete(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.cacheKey(name))
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "delete_cache").Inc()
		return false, fmt.Errorf("redis delete cache: %w", err)
	}
	if removed.Val() == 0 {
		return false, nil
	}
	CachesDeleted.WithLabelValues(name).Inc()
	return true, nil
}

func (s *redisStore) Has(ctx context.Context, name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	ok, err := s.client.SIsMember(ctx, s.namesKey(), name).Result()
	if err != nil {
		return false, fmt.Errorf("redis sismember: %w", err)
	}
	return ok, nil
}

func (s *redisStore) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (c *redisCache) Name() string {
	return c.name
}

func (c *redisCache) Match(ctx context.Context, url string) (*Response, error) {
	data, err := c.store.client.HGet(ctx, c.store.cacheKey(c.name), url).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		StoreErrors.WithLabelValues(BackendRedis, "match").Inc()
		return nil, fmt.Errorf("redis hget: %w", err)
	}
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "match").Inc()
		return nil, fmt.Errorf("decode cached response: %w", err)
	}
	return &resp, nil
}

func (c *redisCache) Put(ctx context.Context, url string, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	stored := resp.ForStorage()
	stored.URL = url
	if stored.StoredAt.IsZero() {
		stored.StoredAt = c.store.now().UTC()
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("encode cached response: %w", err)
	}
	_, err = c.store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, c.store.namesKey(), c.name)
		pipe.HSet(ctx, c.store.cacheKey(c.name), url, data)
		return nil
	})
	if err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "put").Inc()
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

func (c *redisCache) Delete(ctx context.Context, url string) (bool, error) {
	n, err := c.store.client.HDel(ctx, c.store.cacheKey(c.name), url).Result()
	if err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "delete").Inc()
		return false, fmt.Errorf("redis hdel: %w", err)
	}
	return n > 0, nil
}

func (c *redisCache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.store.client.HKeys(ctx, c.store.cacheKey(c.name)).Result()
	if err != nil {
		StoreErrors.WithLabelValues(BackendRedis, "keys").Inc()
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
