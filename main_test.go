package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cachegate/cachegate/internal/config"
)

func TestParseCLIFlagsPriority(t *testing.T) {
	t.Setenv("CACHEGATE_CONFIG", "/tmp/env.toml")

	opts, err := parseCLIFlags([]string{})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/env.toml" {
		t.Fatalf("应优先使用环境变量，得到 %s", opts.configPath)
	}

	opts, err = parseCLIFlags([]string{"--config", "/tmp/flag.toml"})
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/flag.toml" {
		t.Fatalf("flag 应高于环境变量，得到 %s", opts.configPath)
	}
}

func TestRunCheckConfigSuccess(t *testing.T) {
	_, errOut := captureCLIOutput(t)
	code := run(cliOptions{configPath: configFixture("valid.toml"), checkOnly: true})
	if code != 0 {
		t.Fatalf("期望退出码 0，得到 %d: %s", code, errOut.String())
	}
}

func TestRunCheckConfigFailure(t *testing.T) {
	_, errOut := captureCLIOutput(t)
	code := run(cliOptions{configPath: configFixture("missing.toml"), checkOnly: true})
	if code == 0 {
		t.Fatalf("无效配置应返回非零退出码")
	}
	if !strings.Contains(errOut.String(), "加载配置失败") {
		t.Fatalf("stderr 应说明配置错误，得到 %q", errOut.String())
	}
}

func TestRunVersionOutput(t *testing.T) {
	out, _ := captureCLIOutput(t)
	code := run(cliOptions{showVersion: true})
	if code != 0 {
		t.Fatalf("version 模式应成功退出，得到 %d", code)
	}
	if !strings.Contains(out.String(), "cachegate") {
		t.Fatalf("version 输出应包含 cachegate 标识")
	}
}

func TestLoadDotEnvInjectsConfigPath(t *testing.T) {
	t.Setenv("CACHEGATE_CONFIG", "")
	os.Unsetenv("CACHEGATE_CONFIG")

	envFile := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(envFile, []byte("CACHEGATE_CONFIG=/tmp/dotenv.toml\n"), 0o600); err != nil {
		t.Fatalf("写入 .env 失败: %v", err)
	}
	if err := loadDotEnv(envFile); err != nil {
		t.Fatalf("加载 .env 失败: %v", err)
	}

	opts, err := parseCLIFlags(nil)
	if err != nil {
		t.Fatalf("解析失败: %v", err)
	}
	if opts.configPath != "/tmp/dotenv.toml" {
		t.Fatalf(".env 中的路径应生效，得到 %s", opts.configPath)
	}
}

func TestLoadDotEnvIgnoresMissingFile(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Fatalf("缺失的 .env 不应报错: %v", err)
	}
}

func TestOpenStorageByBackend(t *testing.T) {
	dir := t.TempDir()
	for _, backend := range []string{config.BackendFile, config.BackendMemory, config.BackendSQLite} {
		storage, err := openStorage(config.GlobalConfig{StorageBackend: backend, StoragePath: filepath.Join(dir, backend)})
		if err != nil {
			t.Fatalf("%s: 初始化失败: %v", backend, err)
		}
		if err := storage.Close(); err != nil {
			t.Fatalf("%s: 关闭失败: %v", backend, err)
		}
	}
	if _, err := openStorage(config.GlobalConfig{StorageBackend: "s3"}); err == nil {
		t.Fatalf("未知后端应报错")
	}
}
