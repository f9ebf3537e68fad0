// Package strategy implements the two caching strategies the selector routes
// to. A strategy borrows a bucket from the cache manager for the duration of
// one request only. Storage failures degrade to "cache empty"; network
// failures follow each strategy's own fallback rule.
package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/policy"
)

// Source 标记响应来自缓存还是网络。
type Source string

const (
	SourceCache   Source = "cache"
	SourceNetwork Source = "network"
)

// Result 是策略的最终输出。
type Result struct {
	Response *cache.Response
	Source   Source
}

// ErrNoCachedResponse 表示网络失败且缓存中也没有副本。
var ErrNoCachedResponse = errors.New("no cached response")

// BucketOpener 提供按名称打开 bucket 的能力，*cache.Manager 即满足该接口。
type BucketOpener interface {
	Open(ctx context.Context, name string) (cache.Bucket, error)
}

// Strategy 描述一种缓存策略。
type Strategy interface {
	Name() policy.StrategyName
	Serve(ctx context.Context, bucket string, req cache.Request) (Result, error)
}

// Set 按名称索引全部策略。
type Set map[policy.StrategyName]Strategy

// NewSet 构造默认的 cache-first 与 network-first 策略。
func NewSet(buckets BucketOpener, fetcher cache.Fetcher, logger *logrus.Logger) Set {
	base := base{buckets: buckets, fetcher: fetcher, logger: logger}
	if base.logger == nil {
		base.logger = logrus.StandardLogger()
	}
	return Set{
		policy.CacheFirst:   &CacheFirst{base: base},
		policy.NetworkFirst: &NetworkFirst{base: base},
	}
}

// Lookup 返回指定名称的策略。
func (s Set) Lookup(name policy.StrategyName) (Strategy, error) {
	if strategy, ok := s[name]; ok && strategy != nil {
		return strategy, nil
	}
	return nil, fmt.Errorf("strategy %s not registered", name)
}

type base struct {
	buckets BucketOpener
	fetcher cache.Fetcher
	logger  *logrus.Logger
}

// open 打开 bucket；存储不可用时返回 nil，调用方按“缓存为空”处理。
func (b base) open(ctx context.Context, name string, req cache.Request) cache.Bucket {
	bucket, err := b.buckets.Open(ctx, name)
	if err != nil {
		b.warn(err, name, req, "bucket_open_failed")
		return nil
	}
	return bucket
}

// match 在 bucket 中查找请求，读失败同样视为未命中。
func (b base) match(ctx context.Context, bucket cache.Bucket, req cache.Request) *cache.Response {
	if bucket == nil {
		return nil
	}
	resp, err := bucket.Match(ctx, req)
	switch {
	case err == nil:
		return resp
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		b.warn(err, bucket.Name(), req, "cache_match_failed")
		return nil
	}
}

// store 将响应副本写入 bucket；只写入可缓存响应，失败只记录日志。
func (b base) store(ctx context.Context, bucket cache.Bucket, req cache.Request, resp *cache.Response) {
	if bucket == nil || !cache.IsStorable(resp) {
		return
	}
	if err := bucket.Put(ctx, req, resp.Clone()); err != nil {
		b.warn(err, bucket.Name(), req, "cache_put_failed")
	}
}

func (b base) warn(err error, bucket string, req cache.Request, msg string) {
	b.logger.WithError(err).WithFields(logrus.Fields{
		"action": "strategy",
		"bucket": bucket,
		"url":    req.URL,
	}).Warn(msg)
}
