package strategy

import (
	"context"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/policy"
)

// CacheFirst 命中即返回，不做新鲜度检查；未命中时回源并写入同一 bucket。
// 回源失败直接向上返回，该策略没有更多兜底。
type CacheFirst struct {
	base
}

func (s *CacheFirst) Name() policy.StrategyName {
	return policy.CacheFirst
}

func (s *CacheFirst) Serve(ctx context.Context, bucketName string, req cache.Request) (Result, error) {
	bucket := s.open(ctx, bucketName, req)
	if cached := s.match(ctx, bucket, req); cached != nil {
		return Result{Response: cached, Source: SourceCache}, nil
	}

	resp, err := s.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, err
	}
	s.store(ctx, bucket, req, resp)
	return Result{Response: resp, Source: SourceNetwork}, nil
}
