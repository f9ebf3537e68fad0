package server

import (
	"testing"

	"github.com/cachegate/cachegate/internal/config"
)

func TestOriginRegistryLookupByHost(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "app", Domain: "app.local", Upstream: "https://studynotion.example.com"},
			{Name: "avatars", Domain: "avatars.local", Upstream: "https://api.dicebear.com"},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	route, ok := registry.Lookup("avatars.local")
	if !ok {
		t.Fatalf("expected avatars route")
	}
	if route.Config.Name != "avatars" {
		t.Errorf("wrong origin returned: %s", route.Config.Name)
	}
	if route.UpstreamURL.String() != "https://api.dicebear.com" {
		t.Errorf("unexpected upstream URL: %s", route.UpstreamURL)
	}
	if route.ListenPort != cfg.Global.ListenPort {
		t.Fatalf("route listen port mismatch: %d", route.ListenPort)
	}
	if got := len(registry.List()); got != 2 {
		t.Fatalf("expected 2 routes in list, got %d", got)
	}
	if registry.List()[0].Config.Name != "app" {
		t.Fatalf("list should keep config order")
	}
}

func TestOriginRegistryParsesHostHeaderPort(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{ListenPort: 5000},
		Origins: []config.OriginConfig{
			{Name: "app", Domain: "App.Local", Upstream: "https://studynotion.example.com"},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, host := range []string{"app.local:5000", "APP.local", "app.local.", "app.local:443"} {
		if _, ok := registry.Lookup(host); !ok {
			t.Fatalf("expected lookup to succeed for %s", host)
		}
	}
	if _, ok := registry.Lookup("other.local"); ok {
		t.Fatalf("unexpected route for unknown host")
	}
	if _, ok := registry.Lookup(""); ok {
		t.Fatalf("empty host must not match")
	}
}

func TestOriginRegistryRejectsDuplicateDomain(t *testing.T) {
	cfg := &config.Config{
		Origins: []config.OriginConfig{
			{Name: "a", Domain: "app.local", Upstream: "https://a.example.com"},
			{Name: "b", Domain: "APP.local", Upstream: "https://b.example.com"},
		},
	}
	if _, err := NewOriginRegistry(cfg); err == nil {
		t.Fatalf("duplicate domains should fail")
	}
}

func TestUpstreamForKeepsQueryAndBasePath(t *testing.T) {
	cfg := &config.Config{
		Origins: []config.OriginConfig{
			{Name: "app", Domain: "app.local", Upstream: "https://studynotion.example.com/web/"},
		},
	}
	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	route, _ := registry.Lookup("app.local")

	cases := map[string]struct {
		path  string
		query string
	}{
		"https://studynotion.example.com/web/index.html":        {"/index.html", ""},
		"https://studynotion.example.com/web/":                  {"/", ""},
		"https://studynotion.example.com/web/catalog?page=2":    {"/catalog", "page=2"},
		"https://studynotion.example.com/web/static/js/main.js": {"/static/../static/js/main.js", ""},
		"https://studynotion.example.com/web/courses/":          {"/courses/", ""},
	}
	for want, in := range cases {
		if got := route.UpstreamFor(in.path, in.query); got != want {
			t.Errorf("UpstreamFor(%q, %q) = %s, want %s", in.path, in.query, got, want)
		}
	}
}
