package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 支持的存储后端。
const (
	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// 支持的缓存策略名称。
const (
	StrategyCacheFirst   = "cache-first"
	StrategyNetworkFirst = "network-first"
)

// GlobalConfig 描述网关级运行参数：监听端口、日志、存储后端与上游超时。
type GlobalConfig struct {
	ListenPort          int      `mapstructure:"ListenPort"`
	LogLevel            string   `mapstructure:"LogLevel"`
	LogFilePath         string   `mapstructure:"LogFilePath"`
	LogMaxSize          int      `mapstructure:"LogMaxSize"`
	LogMaxBackups       int      `mapstructure:"LogMaxBackups"`
	LogCompress         bool     `mapstructure:"LogCompress"`
	StoragePath         string   `mapstructure:"StoragePath"`
	StorageBackend      string   `mapstructure:"StorageBackend"`
	RedisAddr           string   `mapstructure:"RedisAddr"`
	RedisPassword       string   `mapstructure:"RedisPassword"`
	RedisDB             int      `mapstructure:"RedisDB"`
	UpstreamTimeout     Duration `mapstructure:"UpstreamTimeout"`
	PopulateConcurrency int      `mapstructure:"PopulateConcurrency"`
}

// RuleConfig 声明一条额外的请求分类规则，插入在头像规则与默认规则之间。
type RuleConfig struct {
	Name       string `mapstructure:"Name"`
	Origin     string `mapstructure:"Origin"`
	PathPrefix string `mapstructure:"PathPrefix"`
	Strategy   string `mapstructure:"Strategy"`
	Bucket     string `mapstructure:"Bucket"`
}

// WorkerConfig 是缓存代际与分类规则的全部常量，加载后不再修改。
type WorkerConfig struct {
	CacheVersion       string       `mapstructure:"CacheVersion"`
	AppOrigin          string       `mapstructure:"AppOrigin"`
	StaticAssets       []string     `mapstructure:"StaticAssets"`
	CriticalAssets     []string     `mapstructure:"CriticalAssets"`
	AvatarOrigin       string       `mapstructure:"AvatarOrigin"`
	AvatarPathPrefix   string       `mapstructure:"AvatarPathPrefix"`
	AvatarBucket       string       `mapstructure:"AvatarBucket"`
	OfflineFallbackURL string       `mapstructure:"OfflineFallbackURL"`
	Rules              []RuleConfig `mapstructure:"Rule"`
}

// OriginConfig 将入站 Host 映射到真实源站，例如 app.local → https://app.example.com。
type OriginConfig struct {
	Name     string `mapstructure:"Name"`
	Domain   string `mapstructure:"Domain"`
	Upstream string `mapstructure:"Upstream"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig   `mapstructure:",squash"`
	Worker  WorkerConfig   `mapstructure:"Worker"`
	Origins []OriginConfig `mapstructure:"Origin"`
}

// StaticBucket 返回当前代际的静态资源 bucket 名称，即版本号本身。
func (w WorkerConfig) StaticBucket() string {
	return w.CacheVersion
}

// OfflineBucket 返回离线兜底页所在 bucket，与版本号绑定以便随代际一起回收。
func (w WorkerConfig) OfflineBucket() string {
	return "offline-" + w.CacheVersion
}

// CurrentBuckets 汇总属于当前代际的全部 bucket 名称，激活阶段据此回收其它 bucket。
func (w WorkerConfig) CurrentBuckets() []string {
	seen := map[string]struct{}{}
	var names []string
	add := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	add(w.StaticBucket())
	add(w.AvatarBucket)
	add(w.OfflineBucket())
	for _, rule := range w.Rules {
		add(rule.Bucket)
	}
	return names
}

// OriginNames 返回所有源站的 name:domain 摘要，供启动日志使用。
func OriginNames(origins []OriginConfig) []string {
	if len(origins) == 0 {
		return nil
	}
	result := make([]string, len(origins))
	for i, origin := range origins {
		result[i] = fmt.Sprintf("%s:%s", origin.Name, origin.Domain)
	}
	return result
}
