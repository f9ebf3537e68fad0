package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var supportedBackends = map[string]struct{}{
	BackendFile:   {},
	BackendMemory: {},
	BackendRedis:  {},
	BackendSQLite: {},
}

const supportedBackendList = "file|memory|redis|sqlite"

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if _, ok := supportedBackends[g.StorageBackend]; !ok {
		return newFieldError("Global.StorageBackend", "仅支持 "+supportedBackendList)
	}
	if (g.StorageBackend == BackendFile || g.StorageBackend == BackendSQLite) && g.StoragePath == "" {
		return newFieldError("Global.StoragePath", "不能为空")
	}
	if g.StorageBackend == BackendRedis && strings.TrimSpace(g.RedisAddr) == "" {
		return newFieldError("Global.RedisAddr", "redis 后端必须提供地址")
	}
	if g.UpstreamTimeout.DurationValue() < 0 {
		return newFieldError("Global.UpstreamTimeout", "不能为负数")
	}
	if g.PopulateConcurrency < 0 {
		return newFieldError("Global.PopulateConcurrency", "不能为负数")
	}

	if err := c.Worker.validate(); err != nil {
		return err
	}

	if len(c.Origins) == 0 {
		return errors.New("至少需要配置一个 Origin")
	}

	seenNames := map[string]struct{}{}
	seenDomains := map[string]struct{}{}
	for i := range c.Origins {
		origin := &c.Origins[i]
		if origin.Name == "" {
			return newFieldError("Origin[].Name", "不能为空")
		}
		if _, exists := seenNames[origin.Name]; exists {
			return newFieldError(originField(origin.Name, "Name"), "重复")
		}
		seenNames[origin.Name] = struct{}{}

		if err := validateDomain(origin.Domain); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Domain"), err)
		}
		domain := strings.ToLower(origin.Domain)
		if _, exists := seenDomains[domain]; exists {
			return newFieldError(originField(origin.Name, "Domain"), "重复")
		}
		seenDomains[domain] = struct{}{}

		if err := validateUpstream(origin.Upstream); err != nil {
			return fmt.Errorf("%s: %w", originField(origin.Name, "Upstream"), err)
		}
	}

	return nil
}

func (w WorkerConfig) validate() error {
	if err := validateBucketName(w.CacheVersion); err != nil {
		return fmt.Errorf("Worker.CacheVersion: %w", err)
	}
	if err := validateBucketName(w.AvatarBucket); err != nil {
		return fmt.Errorf("Worker.AvatarBucket: %w", err)
	}
	// 静态、头像、离线三个 bucket 必须互不相同，否则条目会混在同一 bucket 里。
	generation := map[string]string{}
	for _, slot := range []struct{ field, name string }{
		{"Worker.CacheVersion", w.StaticBucket()},
		{"Worker.AvatarBucket", w.AvatarBucket},
		{"Worker.CacheVersion(offline)", w.OfflineBucket()},
	} {
		if other, exists := generation[slot.name]; exists {
			return newFieldError(slot.field, fmt.Sprintf("bucket %q 与 %s 冲突", slot.name, other))
		}
		generation[slot.name] = slot.field
	}
	if err := validateUpstream(w.AppOrigin); err != nil {
		return fmt.Errorf("Worker.AppOrigin: %w", err)
	}
	if len(w.StaticAssets) == 0 {
		return newFieldError("Worker.StaticAssets", "至少需要一个资源")
	}
	assets := make(map[string]struct{}, len(w.StaticAssets))
	for _, asset := range w.StaticAssets {
		if err := validateAssetURL(asset); err != nil {
			return fmt.Errorf("Worker.StaticAssets: %w", err)
		}
		assets[asset] = struct{}{}
	}
	for _, critical := range w.CriticalAssets {
		if _, ok := assets[critical]; !ok {
			return newFieldError("Worker.CriticalAssets", fmt.Sprintf("%s 不在 StaticAssets 中", critical))
		}
	}
	if err := validateAssetURL(w.OfflineFallbackURL); err != nil {
		return fmt.Errorf("Worker.OfflineFallbackURL: %w", err)
	}
	if err := validateUpstream(w.AvatarOrigin); err != nil {
		return fmt.Errorf("Worker.AvatarOrigin: %w", err)
	}
	if !strings.HasPrefix(w.AvatarPathPrefix, "/") {
		return newFieldError("Worker.AvatarPathPrefix", "必须以 / 开头")
	}

	seen := map[string]struct{}{}
	for _, rule := range w.Rules {
		if rule.Name == "" {
			return newFieldError("Worker.Rule[].Name", "不能为空")
		}
		if _, exists := seen[rule.Name]; exists {
			return newFieldError(ruleField(rule.Name, "Name"), "重复")
		}
		seen[rule.Name] = struct{}{}

		if rule.Origin == "" && rule.PathPrefix == "" {
			return newFieldError(ruleField(rule.Name, "Origin/PathPrefix"), "至少提供一个匹配条件")
		}
		if rule.Origin != "" {
			if err := validateUpstream(rule.Origin); err != nil {
				return fmt.Errorf("%s: %w", ruleField(rule.Name, "Origin"), err)
			}
		}
		if rule.PathPrefix != "" && !strings.HasPrefix(rule.PathPrefix, "/") {
			return newFieldError(ruleField(rule.Name, "PathPrefix"), "必须以 / 开头")
		}
		switch rule.Strategy {
		case StrategyCacheFirst, StrategyNetworkFirst:
		default:
			return newFieldError(ruleField(rule.Name, "Strategy"), "仅支持 cache-first|network-first")
		}
		if err := validateBucketName(rule.Bucket); err != nil {
			return fmt.Errorf("%s: %w", ruleField(rule.Name, "Bucket"), err)
		}
	}
	return nil
}

func validateBucketName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("bucket 名称不能为空")
	}
	if strings.ContainsAny(name, `/\ `) || name == "." || name == ".." {
		return fmt.Errorf("bucket 名称不合法: %q", name)
	}
	return nil
}

func validateAssetURL(raw string) error {
	if strings.HasPrefix(raw, "/") {
		return nil
	}
	if err := validateUpstream(raw); err != nil {
		return fmt.Errorf("资源必须是绝对路径或 http(s) URL: %s", raw)
	}
	return nil
}

func validateDomain(domain string) error {
	if domain == "" {
		return errors.New("Domain 不能为空")
	}
	if strings.Contains(domain, "/") {
		return errors.New("Domain 不允许包含路径")
	}
	if strings.Contains(domain, " ") {
		return errors.New("Domain 不允许包含空格")
	}
	if strings.HasPrefix(domain, "http") {
		return errors.New("Domain 不应包含协议头")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}
