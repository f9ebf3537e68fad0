package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/logging"
	"github.com/cachegate/cachegate/internal/policy"
	"github.com/cachegate/cachegate/internal/strategy"
)

// Outcome 是一次拦截的结果。Passthrough 为 true 时 Worker 不处理该请求，
// 由调用方直接转发到源站。
type Outcome struct {
	Passthrough bool
	Response    *cache.Response
	Source      strategy.Source
	Choice      policy.Choice
	// Fallback 表示 Response 是离线兜底页。
	Fallback bool
}

// OnFetch 对 GET 请求执行分类与策略分派。激活完成前的请求一律放行。
func (w *Worker) OnFetch(ctx context.Context, req cache.Request) (Outcome, error) {
	if w.State() != StateActivated {
		return Outcome{Passthrough: true}, nil
	}
	choice, ok := w.selector.Classify(req.Method, req.URL)
	if !ok {
		return Outcome{Passthrough: true}, nil
	}

	fields := logging.FetchFields(req.Method, req.URL, string(choice.Strategy), choice.Bucket)
	s, err := w.strategies.Lookup(choice.Strategy)
	if err != nil {
		return Outcome{Choice: choice}, err
	}

	result, err := s.Serve(ctx, choice.Bucket, req)
	if err == nil {
		w.metrics.ObserveFetch(string(choice.Strategy), string(result.Source), "resolved")
		w.logger.WithFields(fields).WithField("source", result.Source).Debug("fetch_resolved")
		return Outcome{Response: result.Response, Source: result.Source, Choice: choice}, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Outcome{Choice: choice}, ctxErr
	}
	// cache-first 的回源失败没有兜底，直接交给调用方。
	if choice.Strategy != policy.NetworkFirst {
		w.metrics.ObserveFetch(string(choice.Strategy), "", "failed")
		w.logger.WithError(err).WithFields(fields).Warn("fetch_failed")
		return Outcome{Choice: choice}, err
	}

	doc, fallbackErr := w.offlineDocument(ctx)
	if fallbackErr != nil {
		w.metrics.ObserveFetch(string(choice.Strategy), "", "failed")
		w.logger.WithError(err).WithFields(fields).Error("offline_fallback_missing")
		return Outcome{Choice: choice}, fmt.Errorf("%w: %w", fallbackErr, err)
	}
	w.metrics.ObserveFetch(string(choice.Strategy), string(strategy.SourceCache), "fallback")
	w.logger.WithError(err).WithFields(fields).WithFields(logrus.Fields{
		"fallback": w.offlineURL,
	}).Info("offline_fallback_served")
	return Outcome{Response: doc, Source: strategy.SourceCache, Choice: choice, Fallback: true}, nil
}

// offlineDocument 依次在离线 bucket 与静态 bucket 中查找兜底页。
func (w *Worker) offlineDocument(ctx context.Context) (*cache.Response, error) {
	req := offlineRequest(w.offlineURL)
	var errs []error
	for _, name := range []string{w.cfg.OfflineBucket(), w.cfg.StaticBucket()} {
		bucket, err := w.manager.Open(ctx, name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		resp, err := bucket.Match(ctx, req)
		if err == nil {
			return resp, nil
		}
		if !errors.Is(err, cache.ErrNotFound) {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrOfflineFallbackMissing, w.offlineURL)
	}
	return nil, fmt.Errorf("%w: %s: %w", ErrOfflineFallbackMissing, w.offlineURL, errors.Join(errs...))
}
