package server

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/imgcache/internal/cache"
	"github.com/any-hub/imgcache/internal/fetch"
	"github.com/any-hub/imgcache/internal/fetchcache"
	"github.com/any-hub/imgcache/internal/loader"
	"github.com/any-hub/imgcache/internal/retry"
)

func TestImageMissThenHit(t *testing.T) {
	upstream := newImageStub(t)
	defer upstream.Close()
	env := newTestEnv(t)

	resp := env.get(t, "/image?src="+url.QueryEscape(upstream.URL+"/cat.png"))
	if resp.StatusCode != fiber.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d (%s)", resp.StatusCode, body)
	}
	if resp.Header.Get("X-Imgcache-Cache-Hit") != "false" {
		t.Fatalf("expected cache miss header on first request")
	}
	if resp.Header.Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %s", resp.Header.Get("Content-Type"))
	}
	if resp.Header.Get("X-Imgcache-Width") != "4" || resp.Header.Get("X-Imgcache-Height") != "3" {
		t.Fatalf("unexpected dimensions %s x %s", resp.Header.Get("X-Imgcache-Width"), resp.Header.Get("X-Imgcache-Height"))
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
	if resp.Header.Get("X-Imgcache-Path") == "" {
		t.Fatalf("expected cache path header")
	}
	body, _ := io.ReadAll(resp.Body)
	if !bytes.Equal(body, upstream.payload) {
		t.Fatalf("payload mismatch")
	}

	resp = env.get(t, "/image?src="+url.QueryEscape(upstream.URL+"/cat.png"))
	if resp.Header.Get("X-Imgcache-Cache-Hit") != "true" {
		t.Fatalf("expected cache hit on second request")
	}
	if got := upstream.hits.Load(); got != 1 {
		t.Fatalf("expected single upstream GET, got %d", got)
	}
}

func TestImageEvictForcesRefetch(t *testing.T) {
	upstream := newImageStub(t)
	defer upstream.Close()
	env := newTestEnv(t)
	target := url.QueryEscape(upstream.URL + "/dog.png")

	env.get(t, "/image?src="+target)

	req := httptest.NewRequest(http.MethodDelete, "/image?src="+target, nil)
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = env.get(t, "/image?src="+target)
	if resp.Header.Get("X-Imgcache-Cache-Hit") != "false" {
		t.Fatalf("expected refetch after evict")
	}
	if got := upstream.hits.Load(); got != 2 {
		t.Fatalf("expected 2 upstream GETs, got %d", got)
	}
}

func TestImageErrors(t *testing.T) {
	upstream := newImageStub(t)
	defer upstream.Close()
	env := newTestEnv(t)

	cases := []struct {
		path   string
		status int
		code   string
	}{
		{"/image", fiber.StatusBadRequest, "invalid_request"},
		{"/image?src=x&kind=ftp", fiber.StatusBadRequest, "invalid_request"},
		{"/image?src=" + url.QueryEscape(upstream.URL+"/a.png") + "&retries=-1", fiber.StatusBadRequest, "invalid_request"},
		{"/image?src=" + url.QueryEscape(upstream.URL+"/a.png") + "&ttl=soon", fiber.StatusBadRequest, "invalid_request"},
		{"/image?src=" + url.QueryEscape(upstream.URL+"/missing"), fiber.StatusBadGateway, "fetch_failed"},
	}
	for _, tc := range cases {
		resp := env.get(t, tc.path)
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, resp.StatusCode)
		}
		body, _ := io.ReadAll(resp.Body)
		if !strings.Contains(string(body), `"`+tc.code+`"`) {
			t.Fatalf("%s: expected %s error, got %s", tc.path, tc.code, string(body))
		}
	}
}

func TestPrefetchEndpoint(t *testing.T) {
	upstream := newImageStub(t)
	defer upstream.Close()
	env := newTestEnv(t)

	payload, _ := json.Marshal(prefetchRequest{
		Sources: []string{upstream.URL + "/1.png", upstream.URL + "/2.png", upstream.URL + "/missing"},
		TTL:     "1h",
	})
	req := httptest.NewRequest(http.MethodPost, "/-/prefetch", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := env.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var decoded prefetchResponse
	body, _ := io.ReadAll(resp.Body)
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode response: %v (%s)", err, body)
	}
	if decoded.Fetched != 2 || decoded.Failed != 1 || len(decoded.Errors) != 1 {
		t.Fatalf("unexpected report %s", string(body))
	}

	resp = env.get(t, "/image?src="+url.QueryEscape(upstream.URL+"/1.png"))
	if resp.Header.Get("X-Imgcache-Cache-Hit") != "true" {
		t.Fatalf("prefetched image should be served from cache")
	}

	bad := httptest.NewRequest(http.MethodPost, "/-/prefetch", strings.NewReader(`{"sources":["file:///etc/passwd"]}`))
	resp, err = env.app.Test(bad)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusBadRequest {
		t.Fatalf("non-http prefetch source should be rejected, got %d", resp.StatusCode)
	}
}

func TestNewAppRequiresDependencies(t *testing.T) {
	if _, err := NewApp(AppOptions{}); err == nil {
		t.Fatalf("expected error without logger")
	}
}

// --- helpers ---

type testEnv struct {
	app *fiber.App
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	store, err := cache.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("store error: %v", err)
	}
	fc, err := fetchcache.New(fetchcache.Options{
		Store:   store,
		Fetcher: fetch.NewHTTPFetcher(nil),
		Logger:  logger,
		Retry:   retry.Policy{},
	})
	if err != nil {
		t.Fatalf("fetch cache error: %v", err)
	}
	l, err := loader.New(loader.Options{Cache: fc, Local: &fetch.Mux{File: fetch.FileFetcher{}}, Logger: logger})
	if err != nil {
		t.Fatalf("loader error: %v", err)
	}
	app, err := NewApp(AppOptions{Logger: logger, Loader: l, Cache: fc, PrefetchConcurrency: 2})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	return &testEnv{app: app}
}

func (e *testEnv) get(t *testing.T, target string) *http.Response {
	t.Helper()
	resp, err := e.app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	if err != nil {
		t.Fatalf("app.Test error: %v", err)
	}
	return resp
}

type imageStub struct {
	*httptest.Server
	payload []byte
	hits    atomic.Int32
}

func newImageStub(t *testing.T) *imageStub {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 3))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	stub := &imageStub{payload: buf.Bytes()}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		stub.hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		w.Write(stub.payload)
	}))
	return stub
}
