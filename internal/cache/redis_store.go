package cache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisOptions 描述 redis 后端的连接参数。
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewRedisStorage 创建 redis 后端：每个 bucket 对应一个 hash，bucket 名称登记在一个 set 中。
func NewRedisStorage(opts RedisOptions) Storage {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewRedisStorageWithClient(client, opts.Prefix)
}

// NewRedisStorageWithClient 复用已有的 redis 客户端，prefix 为空时使用 cachegate。
func NewRedisStorageWithClient(client redis.UniversalClient, prefix string) Storage {
	if prefix == "" {
		prefix = "cachegate"
	}
	return &redisStorage{client: client, prefix: prefix, now: time.Now}
}

type redisStorage struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

func (s *redisStorage) namesKey() string {
	return s.prefix + ":buckets"
}

func (s *redisStorage) bucketKey(name string) string {
	return s.prefix + ":bucket:" + name
}

func (s *redisStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := validateBucketName(name); err != nil {
		return nil, err
	}
	if err := s.client.SAdd(ctx, s.namesKey(), name).Err(); err != nil {
		return nil, unavailable("open bucket "+name, err)
	}
	return &redisBucket{storage: s, name: name, key: s.bucketKey(name)}, nil
}

func (s *redisStorage) Names(ctx context.Context) ([]string, error) {
	names, err := s.client.SMembers(ctx, s.namesKey()).Result()
	if err != nil {
		return nil, unavailable("list buckets", err)
	}
	sort.Strings(names)
	return names, nil
}

func (s *redisStorage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.namesKey(), name)
		pipe.Del(ctx, s.bucketKey(name))
		return nil
	})
	if err != nil {
		return false, unavailable("delete bucket "+name, err)
	}
	return removed.Val() > 0, nil
}

func (s *redisStorage) Close() error {
	return s.client.Close()
}

type redisBucket struct {
	storage *redisStorage
	name    string
	key     string
}

func (b *redisBucket) Name() string {
	return b.name
}

func (b *redisBucket) Match(ctx context.Context, req Request) (*Response, error) {
	data, err := b.storage.client.HGet(ctx, b.key, req.Key()).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, unavailable("read entry", err)
	}
	_, resp, err := decodeRecord(data)
	if err != nil {
		return nil, unavailable("decode entry", err)
	}
	return resp, nil
}

func (b *redisBucket) Put(ctx context.Context, req Request, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	payload, err := encodeRecord(req, resp, b.storage.now())
	if err != nil {
		return err
	}
	// bucket 已被回收时不再写入，避免旧代际复活。
	member, err := b.storage.client.SIsMember(ctx, b.storage.namesKey(), b.name).Result()
	if err != nil {
		return unavailable("check bucket", err)
	}
	if !member {
		return unavailable("write entry", fmt.Errorf("bucket %s deleted", b.name))
	}
	if err := b.storage.client.HSet(ctx, b.key, req.Key(), payload).Err(); err != nil {
		return unavailable("write entry", err)
	}
	return nil
}

func (b *redisBucket) Keys(ctx context.Context) ([]string, error) {
	keys, err := b.storage.client.HKeys(ctx, b.key).Result()
	if err != nil {
		return nil, unavailable("list entries", err)
	}
	sort.Strings(keys)
	return keys, nil
}

func unavailable(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}
