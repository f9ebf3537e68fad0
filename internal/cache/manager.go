package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/cachegate/cachegate/internal/metrics"
)

// Manager 独占 bucket 生命周期：创建、预热与按代际回收。策略只借用 Open 返回的 Bucket。
type Manager struct {
	storage     Storage
	fetcher     Fetcher
	logger      *logrus.Logger
	metrics     *metrics.Metrics
	concurrency int
}

// ManagerOptions 汇总 Manager 的可选依赖。
type ManagerOptions struct {
	Logger *logrus.Logger
	// Metrics 可为空。
	Metrics *metrics.Metrics
	// Concurrency 控制 Populate 的并发抓取数，<=0 时退化为 1。
	Concurrency int
}

// NewManager 构造 Manager，storage 与 fetcher 均不可为空。
func NewManager(storage Storage, fetcher Fetcher, opts ManagerOptions) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Manager{
		storage:     storage,
		fetcher:     fetcher,
		logger:      logger,
		metrics:     opts.Metrics,
		concurrency: concurrency,
	}
}

// Open 幂等地打开 bucket。
func (m *Manager) Open(ctx context.Context, name string) (Bucket, error) {
	return m.storage.Open(ctx, name)
}

// AssetFailure 记录单个清单资源的失败原因，Err 包装了 ErrAssetFetchFailed。
type AssetFailure struct {
	URL string
	Err error
}

// PopulateReport 是 Populate 的结果：成功与失败均按清单顺序排列。
type PopulateReport struct {
	Bucket string
	Stored []string
	Failed []AssetFailure
}

// Partial 表示至少有一个资源未能写入。
func (r PopulateReport) Partial() bool {
	return len(r.Failed) > 0
}

// FailedURLs 返回失败资源的 URL 列表。
func (r PopulateReport) FailedURLs() []string {
	if len(r.Failed) == 0 {
		return nil
	}
	urls := make([]string, len(r.Failed))
	for i, failure := range r.Failed {
		urls[i] = failure.URL
	}
	return urls
}

// Err 合并全部失败，完全成功时返回 nil。
func (r PopulateReport) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failed))
	for i, failure := range r.Failed {
		errs[i] = failure.Err
	}
	return errors.Join(errs...)
}

// Populate 逐个抓取 urls 并写入 bucket。单个失败只记录、不中断，也不回滚已写入的条目。
func (m *Manager) Populate(ctx context.Context, bucket Bucket, urls []string) PopulateReport {
	report := PopulateReport{Bucket: bucket.Name()}
	if len(urls) == 0 {
		return report
	}

	results := make([]error, len(urls))
	var g errgroup.Group
	g.SetLimit(m.concurrency)
	for i, rawURL := range urls {
		i, rawURL := i, rawURL
		g.Go(func() error {
			results[i] = m.populateOne(ctx, bucket, rawURL)
			return nil
		})
	}
	_ = g.Wait()

	for i, rawURL := range urls {
		err := results[i]
		m.metrics.ObserveAsset(err == nil)
		if err == nil {
			report.Stored = append(report.Stored, rawURL)
			continue
		}
		report.Failed = append(report.Failed, AssetFailure{URL: rawURL, Err: err})
		m.logger.WithError(err).WithFields(logrus.Fields{
			"action": "populate",
			"bucket": bucket.Name(),
			"url":    rawURL,
		}).Warn("asset_fetch_failed")
	}

	m.logger.WithFields(logrus.Fields{
		"action": "populate",
		"bucket": bucket.Name(),
		"stored": len(report.Stored),
		"failed": len(report.Failed),
	}).Info("bucket_populated")
	return report
}

func (m *Manager) populateOne(ctx context.Context, bucket Bucket, rawURL string) error {
	req := Request{Method: http.MethodGet, URL: rawURL}
	resp, err := m.fetcher.Fetch(ctx, req)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAssetFetchFailed, rawURL, err)
	}
	if !IsStorable(resp) {
		return fmt.Errorf("%w: %s: unexpected status %d", ErrAssetFetchFailed, rawURL, resp.Status)
	}
	if err := bucket.Put(ctx, req, resp); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrAssetFetchFailed, rawURL, err)
	}
	return nil
}

// Reclaim 删除所有不属于 keep 的 bucket，返回被删除的名称。
// 单个删除失败会记录并继续，最终以合并错误返回。
func (m *Manager) Reclaim(ctx context.Context, keep []string) ([]string, error) {
	names, err := m.storage.Names(ctx)
	if err != nil {
		return nil, err
	}

	current := make(map[string]struct{}, len(keep))
	for _, name := range keep {
		current[name] = struct{}{}
	}

	var (
		deleted []string
		errs    []error
	)
	for _, name := range names {
		if _, ok := current[name]; ok {
			continue
		}
		removed, err := m.storage.Delete(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", name, err))
			m.logger.WithError(err).WithFields(logrus.Fields{
				"action": "reclaim",
				"bucket": name,
			}).Warn("bucket_reclaim_failed")
			continue
		}
		if removed {
			deleted = append(deleted, name)
			m.logger.WithFields(logrus.Fields{
				"action": "reclaim",
				"bucket": name,
			}).Info("bucket_reclaimed")
		}
	}
	m.metrics.ObserveReclaim(len(deleted))
	return deleted, errors.Join(errs...)
}
