package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/config"
)

func TestRouterRoutesRequestWhenHostMatches(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://app.local/index.html", nil)
	req.Host = "app.local"
	req.Header.Set("Host", "app.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204 status, got %d (body=%s, hostHeader=%s)", resp.StatusCode, string(body), resp.Header.Get("X-Cachegate-Host"))
	}

	if app.recorder.routeName != "app" {
		t.Fatalf("expected app route, got %s", app.recorder.routeName)
	}
	if app.recorder.requestID == "" {
		t.Fatalf("handler should see the request id")
	}
	if reqID := resp.Header.Get("X-Request-ID"); reqID != app.recorder.requestID {
		t.Fatalf("expected X-Request-ID %s, got %s", app.recorder.requestID, reqID)
	}
}

func TestRouterReturns404WhenHostUnknown(t *testing.T) {
	app := newTestApp(t, 5000)

	req := httptest.NewRequest("GET", "http://unknown.local/index.html", nil)
	req.Host = "unknown.local"
	req.Header.Set("Host", "unknown.local")

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Fatalf("expected 404 status, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Cachegate-Host"); got != "unknown.local" {
		t.Fatalf("expected host echo header, got %q", got)
	}

	body, _ := io.ReadAll(resp.Body)
	if !bytes.Contains(body, []byte(`"host_unmapped"`)) {
		t.Fatalf("expected host_unmapped error, got %s", string(body))
	}
	if app.recorder.routeName != "" {
		t.Fatalf("handler must not run for unmapped hosts")
	}
}

func TestRouterLeavesDiagnosticsToLaterRoutes(t *testing.T) {
	app := newTestApp(t, 5000)
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	req := httptest.NewRequest("GET", "http://any.host/-/ping", nil)
	req.Host = "any.host"

	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || string(body) != "pong" {
		t.Fatalf("diagnostics route should bypass host lookup, got %d %s", resp.StatusCode, string(body))
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	registry, _ := NewOriginRegistry(&config.Config{})
	handler := FetchHandlerFunc(func(c fiber.Ctx, _ *OriginRoute) error { return nil })
	logger := logrus.New()

	cases := map[string]AppOptions{
		"missing logger":   {Registry: registry, Handler: handler, ListenPort: 1},
		"missing registry": {Logger: logger, Handler: handler, ListenPort: 1},
		"missing handler":  {Logger: logger, Registry: registry, ListenPort: 1},
		"invalid port":     {Logger: logger, Registry: registry, Handler: handler},
	}
	for name, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

type testApp struct {
	*fiber.App
	recorder *handlerRecorder
}

func newTestApp(t *testing.T, port int) *testApp {
	t.Helper()

	cfg := &config.Config{
		Global: config.GlobalConfig{
			ListenPort: port,
		},
		Origins: []config.OriginConfig{
			{
				Name:     "app",
				Domain:   "app.local",
				Upstream: "https://studynotion.example.com",
			},
		},
	}

	registry, err := NewOriginRegistry(cfg)
	if err != nil {
		t.Fatalf("failed to create registry: %v", err)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	recorder := &handlerRecorder{}
	app, err := NewApp(AppOptions{
		Logger:     logger,
		Registry:   registry,
		Handler:    recorder,
		ListenPort: port,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	return &testApp{App: app, recorder: recorder}
}

type handlerRecorder struct {
	routeName string
	requestID string
}

func (p *handlerRecorder) Handle(c fiber.Ctx, route *OriginRoute) error {
	p.routeName = route.Config.Name
	p.requestID = RequestID(c)
	return c.SendStatus(fiber.StatusNoContent)
}
