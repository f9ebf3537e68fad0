package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// DefaultStaticAssets 是离线启动所需的最小资源集合，按安装顺序排列。
var DefaultStaticAssets = []string{
	"/",
	"/index.html",
	"/index.css",
	"/static/js/main.js",
	"/static/css/main.css",
	"/static/media/banner.8e687823b1422880cc3f.mp4",
}

// Load 读取并解析 TOML 配置文件，同时注入默认值与校验逻辑。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := viper.New()
	v.SetConfigFile(path)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	applyWorkerDefaults(&cfg.Worker, cfg.Origins)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Global.StoragePath != "" {
		absStorage, err := filepath.Abs(cfg.Global.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("无法解析缓存目录: %w", err)
		}
		cfg.Global.StoragePath = absStorage
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ListenPort", 8080)
	v.SetDefault("LogLevel", "info")
	v.SetDefault("LogFilePath", "")
	v.SetDefault("LogMaxSize", 100)
	v.SetDefault("LogMaxBackups", 10)
	v.SetDefault("LogCompress", true)
	v.SetDefault("StoragePath", "./storage")
	v.SetDefault("StorageBackend", BackendFile)
	v.SetDefault("RedisAddr", "127.0.0.1:6379")
	v.SetDefault("RedisDB", 0)
	v.SetDefault("UpstreamTimeout", "0s")
	v.SetDefault("PopulateConcurrency", 4)

	v.SetDefault("Worker.CacheVersion", "appV2")
	v.SetDefault("Worker.StaticAssets", DefaultStaticAssets)
	v.SetDefault("Worker.AvatarOrigin", "https://api.dicebear.com")
	v.SetDefault("Worker.AvatarPathPrefix", "/5.x/initials/svg")
	v.SetDefault("Worker.AvatarBucket", "avatar-cache")
	v.SetDefault("Worker.OfflineFallbackURL", "/offline.html")
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = 8080
	}
	g.StorageBackend = strings.ToLower(strings.TrimSpace(g.StorageBackend))
	if g.StorageBackend == "" {
		g.StorageBackend = BackendFile
	}
	if g.PopulateConcurrency <= 0 {
		g.PopulateConcurrency = 4
	}
}

func applyWorkerDefaults(w *WorkerConfig, origins []OriginConfig) {
	w.CacheVersion = strings.TrimSpace(w.CacheVersion)
	w.AppOrigin = strings.TrimSuffix(strings.TrimSpace(w.AppOrigin), "/")
	// 未显式配置时，相对路径的清单资源以第一个 Origin 的上游为基准。
	if w.AppOrigin == "" && len(origins) > 0 {
		w.AppOrigin = strings.TrimSuffix(strings.TrimSpace(origins[0].Upstream), "/")
	}
	if w.AvatarBucket == "" {
		w.AvatarBucket = "avatar-cache"
	}
	w.AvatarOrigin = strings.TrimSuffix(strings.TrimSpace(w.AvatarOrigin), "/")
	for i := range w.Rules {
		rule := &w.Rules[i]
		rule.Origin = strings.TrimSuffix(strings.TrimSpace(rule.Origin), "/")
		rule.Strategy = strings.ToLower(strings.TrimSpace(rule.Strategy))
		if rule.Strategy == "" {
			rule.Strategy = StrategyNetworkFirst
		}
		if strings.TrimSpace(rule.Bucket) == "" {
			rule.Bucket = w.StaticBucket()
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	targetType := reflect.TypeOf(Duration(0))

	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != targetType {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			if v == "" {
				return Duration(0), nil
			}
			if parsed, err := time.ParseDuration(v); err == nil {
				return Duration(parsed), nil
			}
			if seconds, err := strconv.ParseFloat(v, 64); err == nil {
				return Duration(time.Duration(seconds * float64(time.Second))), nil
			}
			return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(time.Duration(v * float64(time.Second))), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		default:
			return nil, fmt.Errorf("不支持的 Duration 类型: %T", v)
		}
	}
}
