// Package worker 将缓存引擎绑定到三个生命周期事件：安装、激活与请求拦截。
// Worker 不依赖任何宿主环境，HTTP 入口由 internal/server 适配。
package worker

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/config"
	"github.com/cachegate/cachegate/internal/logging"
	"github.com/cachegate/cachegate/internal/metrics"
	"github.com/cachegate/cachegate/internal/policy"
	"github.com/cachegate/cachegate/internal/strategy"
)

// State 描述 Worker 所处的生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

var (
	// ErrOfflineFallbackMissing 表示策略失败且离线兜底页也不在缓存中。
	ErrOfflineFallbackMissing = errors.New("offline fallback missing")
	// ErrCriticalAssetFailed 表示 CriticalAssets 中的资源未能写入。
	ErrCriticalAssetFailed = errors.New("critical asset failed")
	// ErrInvalidState 表示生命周期事件的触发顺序不正确。
	ErrInvalidState = errors.New("invalid worker state")
)

// Options 是构造 Worker 所需的全部依赖，构造后不再修改。
type Options struct {
	Config     config.WorkerConfig
	Manager    *cache.Manager
	Selector   *policy.Selector
	Strategies strategy.Set
	Metrics    *metrics.Metrics
	Logger     *logrus.Logger
}

// Worker 实现请求拦截层。
type Worker struct {
	cfg        config.WorkerConfig
	manager    *cache.Manager
	selector   *policy.Selector
	strategies strategy.Set
	metrics    *metrics.Metrics
	logger     *logrus.Logger

	manifest   []string
	offlineURL string
	critical   map[string]string
	stateMu    sync.RWMutex
	state      State
}

// New 校验依赖并解析清单 URL，返回处于 parsed 状态的 Worker。
func New(opts Options) (*Worker, error) {
	if opts.Manager == nil {
		return nil, errors.New("worker: manager is required")
	}
	if opts.Selector == nil {
		return nil, errors.New("worker: selector is required")
	}
	if len(opts.Strategies) == 0 {
		return nil, errors.New("worker: strategies are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	manifest := make([]string, len(opts.Config.StaticAssets))
	resolved := make(map[string]string, len(opts.Config.StaticAssets))
	for i, asset := range opts.Config.StaticAssets {
		abs, err := ResolveURL(opts.Config.AppOrigin, asset)
		if err != nil {
			return nil, fmt.Errorf("worker: static asset %s: %w", asset, err)
		}
		manifest[i] = abs
		resolved[asset] = abs
	}
	critical := make(map[string]string, len(opts.Config.CriticalAssets))
	for _, asset := range opts.Config.CriticalAssets {
		abs, ok := resolved[asset]
		if !ok {
			return nil, fmt.Errorf("worker: critical asset %s is not in the manifest", asset)
		}
		critical[abs] = asset
	}
	offlineURL, err := ResolveURL(opts.Config.AppOrigin, opts.Config.OfflineFallbackURL)
	if err != nil {
		return nil, fmt.Errorf("worker: offline fallback: %w", err)
	}

	return &Worker{
		cfg:        opts.Config,
		manager:    opts.Manager,
		selector:   opts.Selector,
		strategies: opts.Strategies,
		metrics:    opts.Metrics,
		logger:     logger,
		manifest:   manifest,
		offlineURL: offlineURL,
		critical:   critical,
		state:      StateParsed,
	}, nil
}

// State 返回当前生命周期阶段。
func (w *Worker) State() State {
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return w.state
}

// CacheVersion 返回当前代际标识。
func (w *Worker) CacheVersion() string {
	return w.cfg.CacheVersion
}

// CurrentBuckets 返回当前代际拥有的 bucket。
func (w *Worker) CurrentBuckets() []string {
	return w.cfg.CurrentBuckets()
}

// Manifest 返回解析为绝对 URL 的静态资源清单。
func (w *Worker) Manifest() []string {
	return append([]string(nil), w.manifest...)
}

// OfflineURL 返回离线兜底页的绝对 URL。
func (w *Worker) OfflineURL() string {
	return w.offlineURL
}

// Rules 返回生效中的分类规则，兜底规则在最后。
func (w *Worker) Rules() []policy.Rule {
	return w.selector.Rules()
}

// transition 仅在当前状态属于 from 时切换到 to。
func (w *Worker) transition(to State, from ...State) error {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	for _, allowed := range from {
		if w.state == allowed {
			w.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: cannot enter %s from %s", ErrInvalidState, to, w.state)
}

func (w *Worker) setState(state State) {
	w.stateMu.Lock()
	w.state = state
	w.stateMu.Unlock()
}

// ResolveURL 将以 / 开头的路径拼接到 base 上，绝对 URL 原样返回。
func ResolveURL(base, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}
	if base == "" {
		return "", fmt.Errorf("relative url %s requires an app origin", raw)
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(ref).String(), nil
}

func (w *Worker) bucketFields(action, bucket string) logrus.Fields {
	return logging.BucketFields(action, bucket, w.cfg.CacheVersion)
}

func offlineRequest(rawURL string) cache.Request {
	return cache.Request{Method: http.MethodGet, URL: rawURL}
}
