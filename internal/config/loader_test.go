package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFields(t *testing.T) {
	if _, err := Load(fixturePath("missing.toml")); err == nil {
		t.Fatalf("缺失字段的配置应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = "boom"
`
	path := writeConfigWithOrigin(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadParsesSecondsDuration(t *testing.T) {
	cfg := `
StoragePath = "./data"
UpstreamTimeout = 15
`
	path := writeConfigWithOrigin(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if got := loaded.Global.UpstreamTimeout.DurationValue(); got != 15*time.Second {
		t.Fatalf("整数秒应被解析为 15s，得到 %s", got)
	}
	if loaded.Worker.CacheVersion != "appV2" {
		t.Fatalf("CacheVersion 应使用默认值，得到 %s", loaded.Worker.CacheVersion)
	}
	if len(loaded.Worker.StaticAssets) != len(DefaultStaticAssets) {
		t.Fatalf("StaticAssets 应使用默认清单: %v", loaded.Worker.StaticAssets)
	}
	if loaded.Worker.AppOrigin != "https://studynotion.example.com" {
		t.Fatalf("AppOrigin 应默认取第一个 Origin 的上游，得到 %s", loaded.Worker.AppOrigin)
	}
}

func TestLoadDefaultsRuleBucketToStaticBucket(t *testing.T) {
	cfg := `
StoragePath = "./data"

[Worker]
CacheVersion = "appV3"

[[Worker.Rule]]
Name = "docs"
PathPrefix = "/docs/"
`
	path := writeConfigWithOrigin(t, cfg)
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	rule := loaded.Worker.Rules[0]
	if rule.Bucket != "appV3" {
		t.Fatalf("规则未声明 Bucket 时应落到静态 bucket，得到 %s", rule.Bucket)
	}
	if rule.Strategy != StrategyNetworkFirst {
		t.Fatalf("规则默认策略应为 network-first，得到 %s", rule.Strategy)
	}
}
