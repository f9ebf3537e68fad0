package cache

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// NewMemoryStorage 返回进程内存储，进程退出即丢失，适合测试与一次性部署。
func NewMemoryStorage() Storage {
	return &memoryStorage{
		buckets: make(map[string]*memoryBucket),
		now:     time.Now,
	}
}

type memoryStorage struct {
	mu      sync.RWMutex
	buckets map[string]*memoryBucket
	now     func() time.Time
}

type memoryBucket struct {
	name string
	now  func() time.Time

	mu      sync.RWMutex
	entries map[string]*Response
	deleted bool
}

func (s *memoryStorage) Open(ctx context.Context, name string) (Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateBucketName(name); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.buckets[name]
	if !ok {
		bucket = &memoryBucket{name: name, now: s.now, entries: make(map[string]*Response)}
		s.buckets[name] = bucket
	}
	return bucket, nil
}

func (s *memoryStorage) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *memoryStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	bucket, ok := s.buckets[name]
	delete(s.buckets, name)
	s.mu.Unlock()

	if ok {
		bucket.mu.Lock()
		bucket.entries = make(map[string]*Response)
		bucket.deleted = true
		bucket.mu.Unlock()
	}
	return ok, nil
}

func (s *memoryStorage) Close() error {
	return nil
}

func (b *memoryBucket) Name() string {
	return b.name
}

func (b *memoryBucket) Match(ctx context.Context, req Request) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	resp, ok := b.entries[req.Key()]
	if !ok {
		return nil, ErrNotFound
	}
	return resp.Clone(), nil
}

func (b *memoryBucket) Put(ctx context.Context, req Request, resp *Response) error {
	if resp == nil {
		return errors.New("response required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := resp.Clone()
	if stored.StoredAt.IsZero() {
		stored.StoredAt = b.now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleted {
		return ErrStorageUnavailable
	}
	b.entries[req.Key()] = stored
	return nil
}

func (b *memoryBucket) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.entries))
	for key := range b.entries {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}
