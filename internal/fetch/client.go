// Package fetch performs the gateway's outbound HTTP calls. Only transport
// failures are errors (wrapped in ErrNetworkUnavailable); HTTP error statuses
// are ordinary responses for the caching strategies to inspect.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"time"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/config"
)

// ErrNetworkUnavailable 表示请求未能拿到任何 HTTP 响应（DNS、连接、TLS、读取正文失败）。
var ErrNetworkUnavailable = errors.New("network unavailable")

// Shared HTTP transport tunings，复用长连接并集中配置拨号/握手超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client。UpstreamTimeout 为 0 时不设整体超时，
// 仅依赖 transport 自身的拨号与握手超时。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	var timeout time.Duration
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
	}
}

// Client 实现 cache.Fetcher，并提供透传用的流式 Forward。
type Client struct {
	http *http.Client
}

// NewClient 包装 http.Client；传入 nil 时使用 http.DefaultClient。
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{http: httpClient}
}

// Fetch 发出请求并完整读取正文，得到可直接写入 bucket 的响应快照。
func (c *Client) Fetch(ctx context.Context, req cache.Request) (*cache.Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	// 交给 transport 协商压缩并自动解压，缓存中始终保存解压后的正文。
	header := req.Header.Clone()
	header.Del("Accept-Encoding")
	resp, err := c.Forward(ctx, method, req.URL, header, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(ctx, fmt.Errorf("read body %s: %w", req.URL, err))
	}

	header = http.Header{}
	CopyHeaders(header, resp.Header)
	return &cache.Response{
		Status: resp.StatusCode,
		Header: header,
		Body:   body,
	}, nil
}

// Forward 原样转发请求并返回未读取的响应，调用方负责关闭 Body。
// 除 hop-by-hop 外的请求头（包括 Accept-Encoding）保持不变。
func (c *Client) Forward(ctx context.Context, method, rawURL string, header http.Header, body io.Reader) (*http.Response, error) {
	if body == nil {
		body = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return nil, err
	}
	CopyHeaders(req.Header, header)
	req.Header.Del("Host")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, networkError(ctx, err)
	}
	return resp, nil
}

// networkError 区分调用方主动取消与真正的网络故障。
func networkError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}
