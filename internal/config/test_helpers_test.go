package config

import (
	"os"
	"path/filepath"
	"testing"
)

// appOriginBlock 是多数加载用例共用的最小 Origin 表。
const appOriginBlock = `
[[Origin]]
Name = "app"
Domain = "app.local"
Upstream = "https://studynotion.example.com"
`

func fixturePath(name string) string {
	return filepath.Join("testdata", name)
}

// writeConfigWithOrigin 将 body 与 appOriginBlock 拼接后写入临时 config.toml。
func writeConfigWithOrigin(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body+appOriginBlock), 0o600); err != nil {
		t.Fatalf("写入临时配置失败: %v", err)
	}
	return path
}
