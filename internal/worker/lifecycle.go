package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
)

// InstallReport 汇总安装阶段两个 bucket 的预热结果。
type InstallReport struct {
	Static  cache.PopulateReport
	Offline cache.PopulateReport
}

// Partial 表示至少有一个资源未能写入。
func (r InstallReport) Partial() bool {
	return r.Static.Partial() || r.Offline.Partial()
}

// OnInstall 预热当前代际的静态资源与离线兜底页。
// 普通资源失败与存储不可用都只记录；CriticalAssets 中的资源失败时返回错误，Worker 进入 redundant。
func (w *Worker) OnInstall(ctx context.Context) (InstallReport, error) {
	var report InstallReport
	if err := w.transition(StateInstalling, StateParsed); err != nil {
		return report, err
	}

	staticName := w.cfg.StaticBucket()
	w.logger.WithFields(w.bucketFields("install", staticName)).
		WithField("assets", len(w.manifest)).
		Info("install_started")
	report.Static = w.populate(ctx, staticName, w.manifest)

	// 离线页失败不阻断安装，缺失会在兜底时以 ErrOfflineFallbackMissing 暴露。
	report.Offline = w.populate(ctx, w.cfg.OfflineBucket(), []string{w.offlineURL})

	if err := ctx.Err(); err != nil {
		w.setState(StateRedundant)
		return report, err
	}

	var criticalErrs []error
	for _, failure := range report.Static.Failed {
		if asset, ok := w.critical[failure.URL]; ok {
			criticalErrs = append(criticalErrs, fmt.Errorf("%w: %s: %w", ErrCriticalAssetFailed, asset, failure.Err))
		}
	}
	if len(criticalErrs) > 0 {
		w.setState(StateRedundant)
		err := errors.Join(criticalErrs...)
		w.logger.WithError(err).WithFields(w.bucketFields("install", staticName)).
			Error("install_failed")
		return report, err
	}

	w.setState(StateInstalled)
	w.logger.WithFields(w.bucketFields("install", staticName)).
		WithFields(logrus.Fields{
			"stored":  len(report.Static.Stored),
			"failed":  len(report.Static.Failed),
			"offline": !report.Offline.Partial(),
		}).
		Info("install_complete")
	return report, nil
}

// populate 打开 bucket 并预热 urls。存储不可用时按缓存为空处理：
// 每个资源记为失败，Worker 仍可完成安装并直接走网络。
func (w *Worker) populate(ctx context.Context, name string, urls []string) cache.PopulateReport {
	bucket, err := w.manager.Open(ctx, name)
	if err == nil {
		return w.manager.Populate(ctx, bucket, urls)
	}

	w.logger.WithError(err).WithFields(w.bucketFields("install", name)).
		Warn("bucket_unavailable")
	report := cache.PopulateReport{Bucket: name}
	for _, rawURL := range urls {
		report.Failed = append(report.Failed, cache.AssetFailure{
			URL: rawURL,
			Err: fmt.Errorf("%w: %w", cache.ErrAssetFetchFailed, err),
		})
	}
	return report
}

// OnActivate 回收不属于当前代际的 bucket，随后开始拦截请求。
// 回收失败只记录，激活仍然完成。
func (w *Worker) OnActivate(ctx context.Context) error {
	if err := w.transition(StateActivating, StateInstalled); err != nil {
		return err
	}

	keep := w.cfg.CurrentBuckets()
	deleted, err := w.manager.Reclaim(ctx, keep)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			w.setState(StateInstalled)
			return ctxErr
		}
		w.logger.WithError(err).WithFields(w.bucketFields("activate", w.cfg.StaticBucket())).
			Warn("reclaim_incomplete")
	}

	w.setState(StateActivated)
	w.logger.WithFields(w.bucketFields("activate", w.cfg.StaticBucket())).
		WithField("reclaimed", deleted).
		WithField("kept", keep).
		Info("worker_activated")
	return nil
}
