package routes

import (
	"context"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/policy"
	"github.com/cachegate/cachegate/internal/server"
	"github.com/cachegate/cachegate/internal/version"
	"github.com/cachegate/cachegate/internal/worker"
)

// WorkerStatus 是诊断接口需要的 Worker 只读视图。
type WorkerStatus interface {
	State() worker.State
	CacheVersion() string
	CurrentBuckets() []string
	OfflineURL() string
	Rules() []policy.Rule
}

// DiagnosticsOptions 汇总诊断接口的依赖，Gatherer 为空时不注册 /-/metrics。
type DiagnosticsOptions struct {
	Registry *server.OriginRegistry
	Worker   WorkerStatus
	Storage  cache.Storage
	Gatherer prometheus.Gatherer
}

// RegisterDiagnosticsRoutes 暴露 /-/status、/-/buckets 与 /-/metrics，供运维查询代际与缓存内容。
func RegisterDiagnosticsRoutes(app *fiber.App, opts DiagnosticsOptions) {
	if app == nil || opts.Worker == nil || opts.Storage == nil {
		return
	}

	app.Get("/-/status", func(c fiber.Ctx) error {
		return c.JSON(statusPayload{
			Version:        version.Full(),
			State:          string(opts.Worker.State()),
			CacheVersion:   opts.Worker.CacheVersion(),
			CurrentBuckets: opts.Worker.CurrentBuckets(),
			OfflineURL:     opts.Worker.OfflineURL(),
			Rules:          encodeRules(opts.Worker.Rules()),
			Origins:        encodeOrigins(opts.Registry.List()),
		})
	})

	app.Get("/-/buckets", func(c fiber.Ctx) error {
		buckets, err := listBuckets(c.UserContext(), opts.Storage, opts.Worker.CurrentBuckets())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		return c.JSON(fiber.Map{"buckets": buckets})
	})

	app.Get("/-/buckets/:name", func(c fiber.Ctx) error {
		name := strings.TrimSpace(c.Params("name"))
		if name == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bucket_name_required"})
		}
		buckets, err := listBuckets(c.UserContext(), opts.Storage, opts.Worker.CurrentBuckets())
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "storage_unavailable"})
		}
		for _, bucket := range buckets {
			if bucket.Name == name {
				return c.JSON(bucket)
			}
		}
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "bucket_not_found"})
	})

	if opts.Gatherer != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
}

type statusPayload struct {
	Version        string          `json:"version"`
	State          string          `json:"state"`
	CacheVersion   string          `json:"cache_version"`
	CurrentBuckets []string        `json:"current_buckets"`
	OfflineURL     string          `json:"offline_url"`
	Rules          []rulePayload   `json:"rules"`
	Origins        []originPayload `json:"origins"`
}

type rulePayload struct {
	Name       string `json:"name"`
	Origin     string `json:"origin,omitempty"`
	PathPrefix string `json:"path_prefix,omitempty"`
	Strategy   string `json:"strategy"`
	Bucket     string `json:"bucket"`
}

type originPayload struct {
	Name     string `json:"name"`
	Domain   string `json:"domain"`
	Upstream string `json:"upstream"`
	Port     int    `json:"port"`
}

type bucketPayload struct {
	Name    string   `json:"name"`
	Current bool     `json:"current"`
	Entries int      `json:"entries"`
	Keys    []string `json:"keys"`
}

func encodeRules(rules []policy.Rule) []rulePayload {
	result := make([]rulePayload, 0, len(rules))
	for _, rule := range rules {
		result = append(result, rulePayload{
			Name:       rule.Name,
			Origin:     rule.Origin,
			PathPrefix: rule.PathPrefix,
			Strategy:   string(rule.Strategy),
			Bucket:     rule.Bucket,
		})
	}
	return result
}

func encodeOrigins(routes []server.OriginRoute) []originPayload {
	if len(routes) == 0 {
		return nil
	}
	result := make([]originPayload, 0, len(routes))
	for _, route := range routes {
		result = append(result, originPayload{
			Name:     route.Config.Name,
			Domain:   route.Config.Domain,
			Upstream: route.UpstreamURL.String(),
			Port:     route.ListenPort,
		})
	}
	return result
}

// listBuckets 只打开已存在的 bucket，避免诊断请求凭空创建新 bucket。
func listBuckets(ctx context.Context, storage cache.Storage, current []string) ([]bucketPayload, error) {
	names, err := storage.Names(ctx)
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	currentSet := make(map[string]struct{}, len(current))
	for _, name := range current {
		currentSet[name] = struct{}{}
	}

	result := make([]bucketPayload, 0, len(names))
	for _, name := range names {
		bucket, err := storage.Open(ctx, name)
		if err != nil {
			return nil, err
		}
		keys, err := bucket.Keys(ctx)
		if err != nil {
			return nil, err
		}
		sort.Strings(keys)
		_, isCurrent := currentSet[name]
		result = append(result, bucketPayload{
			Name:    name,
			Current: isCurrent,
			Entries: len(keys),
			Keys:    keys,
		})
	}
	return result, nil
}
