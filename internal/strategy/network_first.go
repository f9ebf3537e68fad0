package strategy

import (
	"context"
	"fmt"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/policy"
)

// NetworkFirst 总是先回源；成功时覆盖 bucket 中的旧副本，网络失败时才读缓存。
// 不设额外超时，完全依赖 transport 的超时行为。
type NetworkFirst struct {
	base
}

func (s *NetworkFirst) Name() policy.StrategyName {
	return policy.NetworkFirst
}

func (s *NetworkFirst) Serve(ctx context.Context, bucketName string, req cache.Request) (Result, error) {
	resp, fetchErr := s.fetcher.Fetch(ctx, req)
	if fetchErr == nil {
		s.store(ctx, s.open(ctx, bucketName, req), req, resp)
		return Result{Response: resp, Source: SourceNetwork}, nil
	}

	// 发起方已放弃请求，不再读取缓存。
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, ctxErr
	}

	if cached := s.match(ctx, s.open(ctx, bucketName, req), req); cached != nil {
		return Result{Response: cached, Source: SourceCache}, nil
	}
	return Result{}, fmt.Errorf("%w: %s: %w", ErrNoCachedResponse, req.URL, fetchErr)
}
