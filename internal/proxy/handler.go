package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/fetch"
	"github.com/cachegate/cachegate/internal/logging"
	"github.com/cachegate/cachegate/internal/server"
	"github.com/cachegate/cachegate/internal/worker"
)

// Interceptor 是拦截层对外暴露的唯一入口，*worker.Worker 即满足该接口。
type Interceptor interface {
	OnFetch(ctx context.Context, req cache.Request) (worker.Outcome, error)
}

// Forwarder 负责透传不被拦截的请求，*fetch.Client 即满足该接口。
type Forwarder interface {
	Forward(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*http.Response, error)
}

// Handler 把入站 HTTP 请求转换为一次 fetch 事件交给拦截层，
// 再把拦截结果（缓存副本、网络响应或离线兜底页）写回客户端。
type Handler struct {
	interceptor Interceptor
	forwarder   Forwarder
	logger      *logrus.Logger
}

// NewHandler constructs a handler with shared interceptor/forwarder/logger.
func NewHandler(interceptor Interceptor, forwarder Forwarder, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		interceptor: interceptor,
		forwarder:   forwarder,
		logger:      logger,
	}
}

// 写回客户端时附加的响应头。
const (
	headerSource   = "X-Cachegate-Source"
	headerStrategy = "X-Cachegate-Strategy"
	headerUpstream = "X-Cachegate-Upstream"

	sourcePassthrough = "passthrough"
	sourceFallback    = "offline-fallback"
)

// Handle 实现 server.FetchHandler。
func (h *Handler) Handle(c fiber.Ctx, route *server.OriginRoute) error {
	started := time.Now()
	requestID := server.RequestID(c)
	uri := c.Request().URI()
	upstream := route.UpstreamFor(string(uri.Path()), string(uri.QueryString()))

	ctx := c.UserContext()
	if ctx == nil {
		ctx = context.Background()
	}

	req := cache.Request{
		Method: c.Method(),
		URL:    upstream,
		Header: fiberHeadersAsHTTP(c),
	}
	outcome, err := h.interceptor.OnFetch(ctx, req)
	if err != nil {
		return h.fail(c, route, req, outcome, requestID, started, err)
	}
	if outcome.Passthrough {
		return h.passthrough(ctx, c, route, req, requestID, started)
	}

	source := string(outcome.Source)
	if outcome.Fallback {
		source = sourceFallback
	}
	h.writeResponse(c, outcome.Response, upstream, requestID)
	c.Set(headerSource, source)
	c.Set(headerStrategy, string(outcome.Choice.Strategy))
	h.logResult(route, req, outcome, source, requestID, outcome.Response.Status, started, nil)
	return nil
}

func (h *Handler) writeResponse(c fiber.Ctx, resp *cache.Response, upstream, requestID string) {
	copyResponseHeaders(c, resp.Header)
	c.Set(headerUpstream, upstream)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.Status)
	if c.Method() == http.MethodHead {
		return
	}
	c.Response().SetBodyRaw(resp.Body)
}

// passthrough 原样转发请求，不读取也不写入任何 bucket。
func (h *Handler) passthrough(ctx context.Context, c fiber.Ctx, route *server.OriginRoute, req cache.Request, requestID string, started time.Time) error {
	resp, err := h.forwarder.Forward(ctx, req.Method, req.URL, req.Header, bytesReader(c.Body()))
	if err != nil {
		h.logResult(route, req, worker.Outcome{Passthrough: true}, sourcePassthrough, requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed", requestID)
	}
	defer resp.Body.Close()

	copyResponseHeaders(c, resp.Header)
	c.Set(headerUpstream, req.URL)
	c.Set(headerSource, sourcePassthrough)
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	c.Status(resp.StatusCode)

	if req.Method == http.MethodHead {
		h.logResult(route, req, worker.Outcome{Passthrough: true}, sourcePassthrough, requestID, resp.StatusCode, started, nil)
		return nil
	}

	_, err = io.Copy(c.Response().BodyWriter(), resp.Body)
	h.logResult(route, req, worker.Outcome{Passthrough: true}, sourcePassthrough, requestID, resp.StatusCode, started, err)
	if err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("proxy stream failed: %v", err))
	}
	return nil
}

func (h *Handler) fail(c fiber.Ctx, route *server.OriginRoute, req cache.Request, outcome worker.Outcome, requestID string, started time.Time, err error) error {
	status, code := fiber.StatusBadGateway, "upstream_failed"
	switch {
	case errors.Is(err, worker.ErrOfflineFallbackMissing):
		status, code = fiber.StatusServiceUnavailable, "offline_fallback_missing"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = fiber.StatusGatewayTimeout, "request_cancelled"
	case !errors.Is(err, fetch.ErrNetworkUnavailable):
		status, code = fiber.StatusInternalServerError, "fetch_failed"
	}
	h.logResult(route, req, outcome, "", requestID, status, started, err)
	return h.writeError(c, status, code, requestID)
}

func (h *Handler) writeError(c fiber.Ctx, status int, code, requestID string) error {
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	route *server.OriginRoute,
	req cache.Request,
	outcome worker.Outcome,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.FetchFields(req.Method, req.URL, string(outcome.Choice.Strategy), outcome.Choice.Bucket)
	fields["action"] = "fetch"
	fields["origin"] = route.Config.Name
	fields["source"] = source
	fields["status"] = status
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("fetch_failed")
		return
	}
	h.logger.WithFields(fields).Info("fetch_complete")
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(append([]byte(nil), b...))
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 跳过 hop-by-hop 与 Content-Length，长度由 fiber 按实际正文计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if fetch.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for _, value := range values {
			c.Set(key, value)
		}
	}
}
