package cache

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"

	"github.com/cachegate/cachegate/internal/logging"
)

func TestPopulateIsBestEffort(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.fail("https://app.local/missing-asset.js", errors.New("connection reset"))
	manager := NewManager(NewMemoryStorage(), fetcher, ManagerOptions{Logger: logging.NewDiscardLogger(), Concurrency: 2})

	ctx := context.Background()
	bucket, err := manager.Open(ctx, "appV2")
	if err != nil {
		t.Fatalf("open error: %v", err)
	}

	urls := []string{"https://app.local/", "https://app.local/index.html", "https://app.local/missing-asset.js"}
	report := manager.Populate(ctx, bucket, urls)

	if !report.Partial() {
		t.Fatalf("expected partial report")
	}
	if len(report.Stored) != 2 || report.Stored[0] != urls[0] || report.Stored[1] != urls[1] {
		t.Fatalf("stored list should keep manifest order: %v", report.Stored)
	}
	if got := report.FailedURLs(); len(got) != 1 || got[0] != urls[2] {
		t.Fatalf("unexpected failures: %v", got)
	}
	if !errors.Is(report.Err(), ErrAssetFetchFailed) {
		t.Fatalf("report error should wrap ErrAssetFetchFailed: %v", report.Err())
	}

	for _, u := range urls[:2] {
		if _, err := bucket.Match(ctx, Request{Method: http.MethodGet, URL: u}); err != nil {
			t.Fatalf("%s should be cached: %v", u, err)
		}
	}
	if _, err := bucket.Match(ctx, Request{Method: http.MethodGet, URL: urls[2]}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("failed asset must be absent, got %v", err)
	}
}

func TestPopulateTreatsErrorStatusAsFailure(t *testing.T) {
	fetcher := newStubFetcher()
	fetcher.status("https://app.local/gone.css", http.StatusNotFound)
	manager := NewManager(NewMemoryStorage(), fetcher, ManagerOptions{Logger: logging.NewDiscardLogger()})

	bucket, _ := manager.Open(context.Background(), "appV2")
	report := manager.Populate(context.Background(), bucket, []string{"https://app.local/gone.css"})
	if len(report.Failed) != 1 || len(report.Stored) != 0 {
		t.Fatalf("404 manifest entry should be reported as failure: %+v", report)
	}
}

func TestPopulateEmptyManifest(t *testing.T) {
	manager := NewManager(NewMemoryStorage(), newStubFetcher(), ManagerOptions{Logger: logging.NewDiscardLogger()})
	bucket, _ := manager.Open(context.Background(), "appV2")
	report := manager.Populate(context.Background(), bucket, nil)
	if report.Partial() || report.Err() != nil || len(report.Stored) != 0 {
		t.Fatalf("empty manifest should yield an empty report: %+v", report)
	}
}

func TestReclaimKeepsCurrentGeneration(t *testing.T) {
	storage := NewMemoryStorage()
	manager := NewManager(storage, newStubFetcher(), ManagerOptions{Logger: logging.NewDiscardLogger()})
	ctx := context.Background()
	for _, name := range []string{"appV1", "offline-appV1", "appV2", "avatar-cache", "offline-appV2"} {
		if _, err := manager.Open(ctx, name); err != nil {
			t.Fatalf("open %s: %v", name, err)
		}
	}

	deleted, err := manager.Reclaim(ctx, []string{"appV2", "avatar-cache", "offline-appV2"})
	if err != nil {
		t.Fatalf("reclaim error: %v", err)
	}
	if len(deleted) != 2 || deleted[0] != "appV1" || deleted[1] != "offline-appV1" {
		t.Fatalf("unexpected deleted buckets: %v", deleted)
	}
	names, _ := storage.Names(ctx)
	if len(names) != 3 {
		t.Fatalf("expected only current generation to remain: %v", names)
	}
}

type stubFetcher struct {
	mu       sync.Mutex
	errs     map[string]error
	statuses map[string]int
	calls    map[string]int
}

func newStubFetcher() *stubFetcher {
	return &stubFetcher{
		errs:     map[string]error{},
		statuses: map[string]int{},
		calls:    map[string]int{},
	}
}

func (f *stubFetcher) fail(url string, err error) {
	f.errs[url] = err
}

func (f *stubFetcher) status(url string, code int) {
	f.statuses[url] = code
}

func (f *stubFetcher) Fetch(_ context.Context, req Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.URL]++
	if err, ok := f.errs[req.URL]; ok {
		return nil, err
	}
	status := http.StatusOK
	if code, ok := f.statuses[req.URL]; ok {
		status = code
	}
	return &Response{Status: status, Body: []byte("body of " + req.URL)}, nil
}
