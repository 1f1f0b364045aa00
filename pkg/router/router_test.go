package router

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const testOrigin = "http://app.test"

var errOffline = errors.New("network unreachable")

// fakeNetwork is a scriptable RoundTripper keyed by URL path.
type fakeNetwork struct {
	mu      sync.Mutex
	offline bool
	routes  map[string]fakeRoute
	calls   map[string]int
}

type fakeRoute struct {
	status int
	body   string
	header http.Header
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{routes: make(map[string]fakeRoute), calls: make(map[string]int)}
}

func (n *fakeNetwork) set(path string, status int, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[path] = fakeRoute{status: status, body: body}
}

func (n *fakeNetwork) setWithHeader(path string, status int, body string, h http.Header) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.routes[path] = fakeRoute{status: status, body: body, header: h}
}

func (n *fakeNetwork) setOffline(v bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline = v
}

func (n *fakeNetwork) count(path string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[path]
}

func (n *fakeNetwork) RoundTrip(req *http.Request) (*http.Response, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.calls[req.URL.Path]++
	if n.offline {
		return nil, errOffline
	}
	r, ok := n.routes[req.URL.Path]
	if !ok {
		r = fakeRoute{status: http.StatusNotFound, body: "not found"}
	}
	h := r.header.Clone()
	if h == nil {
		h = make(http.Header)
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(r.body)),
		Request:    req,
	}, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type routerFixture struct {
	router *Router
	net    *fakeNetwork
	store  *MemoryStore
	clock  *testClock
}

func newFixture(t *testing.T, mutate func(*Config)) *routerFixture {
	t.Helper()

	n := newFakeNetwork()
	n.set("/", http.StatusOK, "<html>shell</html>")
	n.set("/static/js/bundle.js", http.StatusOK, "console.log('v1')")

	store := NewMemoryStore()
	clock := &testClock{now: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	logger := zerolog.Nop()

	cfg := Config{
		App:       "dash",
		Version:   2,
		Origin:    testOrigin,
		Manifest:  []string{"/", "/static/js/bundle.js"},
		Transport: n,
		Store:     store,
		Now:       clock.Now,
		Logger:    &logger,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	r, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &routerFixture{router: r, net: n, store: store, clock: clock}
}

func (f *routerFixture) activate(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	if err := f.router.Dispatch(ctx, Event{Kind: EventInstall}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := f.router.Dispatch(ctx, Event{Kind: EventActivate}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if f.router.State() != Active {
		t.Fatalf("state = %v, want active", f.router.State())
	}
}

func (f *routerFixture) get(t *testing.T, path string, header http.Header) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, testOrigin+path, nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := f.router.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip(%s): %v", path, err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	return resp, string(body)
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing app", Config{Version: 1}},
		{"zero version", Config{App: "dash"}},
		{"relative manifest without origin", Config{App: "dash", Version: 1, Manifest: []string{"/"}}},
		{"bad origin", Config{App: "dash", Version: 1, Origin: "app.test"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestPartitionNames(t *testing.T) {
	f := newFixture(t, nil)
	if f.router.StaticName() != "dash-static-v2" || f.router.DynamicName() != "dash-dynamic-v2" {
		t.Errorf("names = %s, %s", f.router.StaticName(), f.router.DynamicName())
	}
}

func TestDispatch_InstallPrecaches(t *testing.T) {
	f := newFixture(t, nil)

	if err := f.router.Dispatch(context.Background(), Event{Kind: EventInstall}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if f.router.State() != Installed {
		t.Fatalf("state = %v, want installed", f.router.State())
	}

	p, _ := f.store.Open("dash-static-v2")
	keys, _ := p.Keys()
	if len(keys) != 2 {
		t.Errorf("static keys = %v, want 2 entries", keys)
	}
}

func TestDispatch_InstallFailureKeepsInstalling(t *testing.T) {
	f := newFixture(t, nil)
	f.net.set("/static/js/bundle.js", http.StatusInternalServerError, "boom")

	err := f.router.Dispatch(context.Background(), Event{Kind: EventInstall})
	if err == nil {
		t.Fatal("expected install error")
	}
	if f.router.State() != Installing {
		t.Errorf("state = %v, want installing", f.router.State())
	}

	p, _ := f.store.Open("dash-static-v2")
	if keys, _ := p.Keys(); len(keys) != 0 {
		t.Errorf("partial precache stored: %v", keys)
	}

	// Host retries once the asset is back
	f.net.set("/static/js/bundle.js", http.StatusOK, "ok")
	if err := f.router.Dispatch(context.Background(), Event{Kind: EventInstall}); err != nil {
		t.Fatalf("retry install: %v", err)
	}
	if f.router.State() != Installed {
		t.Errorf("state = %v, want installed", f.router.State())
	}
}

func TestDispatch_ActivationPurgesOldVersions(t *testing.T) {
	f := newFixture(t, nil)
	for _, n := range []string{"dash-static-v1", "dash-dynamic-v1", "other-static-v1"} {
		_, _ = f.store.Open(n)
	}

	f.activate(t)

	names, _ := f.store.Names()
	want := map[string]bool{"dash-static-v2": true, "other-static-v1": true}
	for _, n := range names {
		if !want[n] && n != "dash-dynamic-v2" {
			t.Errorf("unexpected partition %q after activation", n)
		}
	}
	for n := range want {
		found := false
		for _, got := range names {
			found = found || got == n
		}
		if !found {
			t.Errorf("partition %q missing after activation", n)
		}
	}
}

// flakyStore fails the first Delete.
type flakyStore struct {
	*MemoryStore
	failed bool
}

func (s *flakyStore) Delete(name string) error {
	if !s.failed {
		s.failed = true
		return errors.New("storage busy")
	}
	return s.MemoryStore.Delete(name)
}

func TestDispatch_ActivateRetriesAfterPurgeFailure(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore()}
	_, _ = store.Open("dash-static-v1")

	f := newFixture(t, func(c *Config) { c.Store = store })
	ctx := context.Background()

	if err := f.router.Dispatch(ctx, Event{Kind: EventInstall}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if err := f.router.Dispatch(ctx, Event{Kind: EventActivate}); err == nil {
		t.Fatal("expected purge failure")
	}
	if f.router.State() != Activating {
		t.Fatalf("state = %v, want activating", f.router.State())
	}

	if err := f.router.Dispatch(ctx, Event{Kind: EventActivate}); err != nil {
		t.Fatalf("retried activate: %v", err)
	}
	if f.router.State() != Active {
		t.Errorf("state = %v, want active", f.router.State())
	}
	names, _ := store.Names()
	for _, n := range names {
		if n == "dash-static-v1" {
			t.Error("stale partition survived the retried activation")
		}
	}
}

func TestDispatch_SkipWaiting(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_ = f.router.Dispatch(ctx, Event{Kind: EventInstall})
	if err := f.router.Dispatch(ctx, MessageEvent(MessageSkipWaiting)); err != nil {
		t.Fatalf("skip waiting: %v", err)
	}
	if f.router.State() != Active {
		t.Errorf("state = %v, want active", f.router.State())
	}
}

func TestRoundTrip_PassthroughUntilActive(t *testing.T) {
	f := newFixture(t, nil)

	f.get(t, "/api/dashboard", nil)
	f.get(t, "/api/dashboard", nil)
	if got := f.net.count("/api/dashboard"); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}

	p, _ := f.store.Open("dash-dynamic-v2")
	if keys, _ := p.Keys(); len(keys) != 0 {
		t.Errorf("passthrough stored responses: %v", keys)
	}
}

func TestRoundTrip_NonGETPassesThrough(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.net.set("/api/save", http.StatusCreated, "saved")

	req, _ := http.NewRequest(http.MethodPost, testOrigin+"/api/save", strings.NewReader("{}"))
	resp, err := f.router.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || resp.Header.Get(HeaderSource) != "" {
		t.Errorf("status=%d source=%q, want untouched network response", resp.StatusCode, resp.Header.Get(HeaderSource))
	}
}

// Mirrors the dashboard scenario: bundle, api online/offline, offline navigation.
func TestRoundTrip_StrategyDispatchScenario(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Manifest = nil })
	f.activate(t)
	f.net.set("/api/dashboard", http.StatusOK, `{"kpi":1}`)

	// Cache-first: first request hits network, second does not
	resp, body := f.get(t, "/static/js/bundle.js", nil)
	if resp.Header.Get(HeaderSource) != SourceNetwork || body != "console.log('v1')" {
		t.Fatalf("first bundle: source=%q body=%q", resp.Header.Get(HeaderSource), body)
	}
	resp, _ = f.get(t, "/static/js/bundle.js", nil)
	if resp.Header.Get(HeaderSource) != SourceCache {
		t.Errorf("second bundle source = %q, want cache", resp.Header.Get(HeaderSource))
	}
	if got := f.net.count("/static/js/bundle.js"); got != 1 {
		t.Errorf("bundle network calls = %d, want 1", got)
	}

	// Network-first online: fresh response served and stored
	resp, body = f.get(t, "/api/dashboard", nil)
	if resp.Header.Get(HeaderSource) != SourceNetwork || body != `{"kpi":1}` {
		t.Fatalf("api online: source=%q body=%q", resp.Header.Get(HeaderSource), body)
	}

	// Network-first offline with cache: cached response, no error
	f.net.setOffline(true)
	resp, body = f.get(t, "/api/dashboard", nil)
	if resp.StatusCode != http.StatusOK || resp.Header.Get(HeaderSource) != SourceCache || body != `{"kpi":1}` {
		t.Errorf("api offline: status=%d source=%q body=%q", resp.StatusCode, resp.Header.Get(HeaderSource), body)
	}

	// Navigation with no network and no cache: offline document
	resp, body = f.get(t, "/reports", http.Header{"Sec-Fetch-Mode": {"navigate"}})
	if resp.Header.Get(HeaderSource) != SourceOffline || !strings.Contains(body, "<html") {
		t.Errorf("navigation: source=%q body=%q", resp.Header.Get(HeaderSource), body)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		t.Errorf("navigation content type = %q", resp.Header.Get("Content-Type"))
	}
}

func TestCacheFirst_ManifestServedFromPrecache(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	before := f.net.count("/")
	resp, body := f.get(t, "/", nil)
	if resp.Header.Get(HeaderSource) != SourceCache || body != "<html>shell</html>" {
		t.Errorf("manifest root: source=%q body=%q", resp.Header.Get(HeaderSource), body)
	}
	if f.net.count("/") != before {
		t.Error("precached manifest entry hit the network")
	}
}

func TestCacheFirst_OfflinePlaceholder(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Manifest = nil })
	f.activate(t)
	f.net.setOffline(true)

	resp, body := f.get(t, "/assets/logo.png", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") || body == "" {
		t.Errorf("placeholder: type=%q body=%q", resp.Header.Get("Content-Type"), body)
	}
}

func TestCacheFirst_NonSuccessNotStored(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.Manifest = nil })
	f.activate(t)

	resp, _ := f.get(t, "/assets/missing.png", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
	f.get(t, "/assets/missing.png", nil)
	if got := f.net.count("/assets/missing.png"); got != 2 {
		t.Errorf("network calls = %d, want 2 (404 must not be cached)", got)
	}
}

func TestNetworkFirst_ServerErrorFallsBackToCache(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	f.net.set("/api/dashboard", http.StatusOK, `{"v":1}`)
	f.get(t, "/api/dashboard", nil)

	f.net.set("/api/dashboard", http.StatusBadGateway, "upstream down")
	resp, body := f.get(t, "/api/dashboard", nil)
	if resp.StatusCode != http.StatusOK || body != `{"v":1}` {
		t.Errorf("status=%d body=%q, want cached 200", resp.StatusCode, body)
	}
}

func TestNetworkFirst_ClientErrorServedAsIs(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	f.net.set("/api/dashboard", http.StatusOK, `{"v":1}`)
	f.get(t, "/api/dashboard", nil)

	f.net.set("/api/dashboard", http.StatusNotFound, `{"error":"gone"}`)
	resp, body := f.get(t, "/api/dashboard", nil)
	if resp.StatusCode != http.StatusNotFound || body != `{"error":"gone"}` {
		t.Errorf("status=%d body=%q, want 404 from network", resp.StatusCode, body)
	}

	// The 404 did not overwrite the cached 200
	f.net.setOffline(true)
	resp, body = f.get(t, "/api/dashboard", nil)
	if resp.StatusCode != http.StatusOK || body != `{"v":1}` {
		t.Errorf("status=%d body=%q, want cached 200", resp.StatusCode, body)
	}
}

func TestNetworkFirst_OfflineJSON(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.net.setOffline(true)

	resp, body := f.get(t, "/api/unknown", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
	if resp.Header.Get("Content-Type") != "application/json" {
		t.Errorf("Content-Type = %q", resp.Header.Get("Content-Type"))
	}
	if !strings.Contains(body, `"error":"offline"`) || !strings.Contains(body, `"message"`) {
		t.Errorf("body = %s", body)
	}
}

func TestStaleWhileRevalidate(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	f.net.set("/reports", http.StatusOK, "v1")
	resp, body := f.get(t, "/reports", nil)
	if resp.Header.Get(HeaderSource) != SourceNetwork || body != "v1" {
		t.Fatalf("miss: source=%q body=%q", resp.Header.Get(HeaderSource), body)
	}

	f.net.set("/reports", http.StatusOK, "v2")
	resp, body = f.get(t, "/reports", nil)
	if resp.Header.Get(HeaderSource) != SourceCache || body != "v1" {
		t.Errorf("stale hit: source=%q body=%q, want cached v1", resp.Header.Get(HeaderSource), body)
	}
	f.router.Wait()

	_, body = f.get(t, "/reports", nil)
	f.router.Wait()
	if body != "v2" {
		t.Errorf("after revalidation body = %q, want v2", body)
	}
	if got := f.net.count("/reports"); got != 3 {
		t.Errorf("network calls = %d, want 3", got)
	}
}

func TestStaleWhileRevalidate_ThrottledRefresh(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.RefreshRate = 0.001
		c.RefreshBurst = 1
	})
	f.activate(t)
	f.net.set("/reports", http.StatusOK, "v1")

	f.get(t, "/reports", nil) // miss, network
	f.get(t, "/reports", nil) // hit, refresh admitted
	f.get(t, "/reports", nil) // hit, refresh throttled
	f.router.Wait()

	if got := f.net.count("/reports"); got != 2 {
		t.Errorf("network calls = %d, want 2", got)
	}
}

func TestStaleWhileRevalidate_NonNavigationError(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.net.setOffline(true)

	req, _ := http.NewRequest(http.MethodGet, testOrigin+"/reports.json", nil)
	req.Header.Set("Accept", "application/json")
	if _, err := f.router.RoundTrip(req); !errors.Is(err, errOffline) {
		t.Errorf("err = %v, want network error", err)
	}
}

func TestSweepDynamic(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)

	old := f.clock.Now().Add(-8 * 24 * time.Hour)
	f.net.setWithHeader("/api/old", http.StatusOK, "old", http.Header{"Date": {old.Format(http.TimeFormat)}})
	f.net.set("/api/undated", http.StatusOK, "undated")
	f.net.set("/api/fresh", http.StatusOK, "fresh")

	f.get(t, "/api/old", nil)
	f.get(t, "/api/undated", nil)

	// Undated entry is stamped at store time and ages by it
	f.clock.Advance(6 * 24 * time.Hour)
	f.get(t, "/api/fresh", nil)
	f.clock.Advance(2 * 24 * time.Hour)

	if err := f.router.Dispatch(context.Background(), MessageEvent(MessageCleanCache)); err != nil {
		t.Fatalf("clean cache: %v", err)
	}

	p, _ := f.store.Open("dash-dynamic-v2")
	keys, _ := p.Keys()
	if len(keys) != 1 || keys[0] != "GET "+testOrigin+"/api/fresh" {
		t.Errorf("keys after sweep = %v, want only /api/fresh", keys)
	}
}

func TestFetch_StampsDateHeader(t *testing.T) {
	f := newFixture(t, nil)
	f.activate(t)
	f.net.set("/api/x", http.StatusOK, "x")

	resp, _ := f.get(t, "/api/x", nil)
	got, err := http.ParseTime(resp.Header.Get("Date"))
	if err != nil || !got.Equal(f.clock.Now()) {
		t.Errorf("Date = %q, want %v", resp.Header.Get("Date"), f.clock.Now())
	}
}

func TestFetch_NetworkTimeout(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.NetworkTimeout = 20 * time.Millisecond
		c.Transport = roundTripFunc(func(req *http.Request) (*http.Response, error) {
			<-req.Context().Done()
			return nil, req.Context().Err()
		})
		c.Manifest = nil
	})
	f.activate(t)

	resp, _ := f.get(t, "/api/slow", nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want offline 503 after timeout", resp.StatusCode)
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) { return f(req) }
