package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cachegate/cachegate/internal/cache"
	"github.com/cachegate/cachegate/internal/config"
)

func TestNewUpstreamClientUsesConfigTimeout(t *testing.T) {
	cfg := &config.Config{
		Global: config.GlobalConfig{
			UpstreamTimeout: config.Duration(45 * time.Second),
		},
	}

	client := NewUpstreamClient(cfg)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
}

func TestNewUpstreamClientWithoutTimeout(t *testing.T) {
	client := NewUpstreamClient(&config.Config{})
	if client.Timeout != 0 {
		t.Fatalf("zero UpstreamTimeout must not impose a client timeout, got %s", client.Timeout)
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestFetchReturnsErrorStatusAsResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Client") != "cachegate" {
			t.Errorf("request header not forwarded: %v", r.Header)
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("nope"))
	}))
	defer upstream.Close()

	client := NewClient(upstream.Client())
	resp, err := client.Fetch(context.Background(), cache.Request{
		Method: http.MethodGet,
		URL:    upstream.URL + "/missing",
		Header: http.Header{"X-Client": []string{"cachegate"}},
	})
	if err != nil {
		t.Fatalf("HTTP error status must not be a fetch error: %v", err)
	}
	if resp.Status != http.StatusNotFound || string(resp.Body) != "nope" {
		t.Fatalf("unexpected response: %d %s", resp.Status, string(resp.Body))
	}
	if resp.Header.Get("Content-Type") != "text/plain" {
		t.Fatalf("response headers should be kept: %v", resp.Header)
	}
}

func TestFetchWrapsConnectionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.NotFoundHandler())
	target := upstream.URL
	upstream.Close()

	client := NewClient(&http.Client{})
	_, err := client.Fetch(context.Background(), cache.Request{Method: http.MethodGet, URL: target + "/"})
	if !errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("expected ErrNetworkUnavailable, got %v", err)
	}
}

func TestFetchReportsCancellation(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClient(upstream.Client()).Fetch(ctx, cache.Request{Method: http.MethodGet, URL: upstream.URL})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if errors.Is(err, ErrNetworkUnavailable) {
		t.Fatalf("cancellation must not look like a network failure")
	}
}

func TestForwardKeepsClientAcceptEncoding(t *testing.T) {
	seen := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Accept-Encoding")
		w.WriteHeader(http.StatusCreated)
	}))
	defer upstream.Close()

	header := http.Header{"Accept-Encoding": []string{"identity"}, "Connection": []string{"keep-alive"}}
	resp, err := NewClient(upstream.Client()).Forward(context.Background(), http.MethodPost, upstream.URL+"/api/v1/auth/login", header, strings.NewReader("{}"))
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	resp.Body.Close()

	if got := <-seen; got != "identity" {
		t.Fatalf("passthrough must keep the client's Accept-Encoding, upstream saw %q", got)
	}
}

func TestFetchLetsTransportNegotiateEncoding(t *testing.T) {
	seen := make(chan string, 1)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Get("Accept-Encoding")
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	header := http.Header{"Accept-Encoding": []string{"br"}}
	if _, err := NewClient(upstream.Client()).Fetch(context.Background(), cache.Request{URL: upstream.URL, Header: header}); err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if got := <-seen; got != "gzip" {
		t.Fatalf("cached fetches should use transport-negotiated gzip, upstream saw %q", got)
	}
	if header.Get("Accept-Encoding") != "br" {
		t.Fatalf("caller's header must not be mutated")
	}
}
