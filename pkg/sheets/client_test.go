package sheets

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/dashboard-resilience/internal/testutil"
	"github.com/Sternrassler/dashboard-resilience/pkg/cache"
	"github.com/Sternrassler/dashboard-resilience/pkg/fetch"
)

const testSheet = "sheet123"

func newTestClient(t *testing.T, proxy, direct *testutil.MockSheets) (*Client, *fetch.Orchestrator) {
	t.Helper()

	fcfg := fetch.DefaultConfig(cache.NewStore(cache.Options{}))
	fcfg.Retry.Sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	orch, err := fetch.New(fcfg)
	if err != nil {
		t.Fatalf("fetch.New failed: %v", err)
	}

	cfg := DefaultConfig(proxy.URL(), "")
	if direct != nil {
		cfg.APIURL = direct.URL()
		cfg.APIKey = "test-api-key"
	}

	client, err := New(cfg, orch)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client, orch
}

func TestNew_Validation(t *testing.T) {
	orch, _ := fetch.New(fetch.DefaultConfig(cache.NewStore(cache.Options{})))

	tests := []struct {
		name    string
		cfg     Config
		orch    *fetch.Orchestrator
		wantErr bool
	}{
		{"valid", DefaultConfig("http://proxy", ""), orch, false},
		{"missing proxy", DefaultConfig("", "key"), orch, true},
		{"missing orchestrator", DefaultConfig("http://proxy", ""), nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg, tt.orch)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetTable_Primary(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()

	proxy.SetResponse(testutil.ProxyPath(testSheet, "Sales"), testutil.NewValuesResponse("Sales!A1:C3", [][]any{
		{"region", "month", "revenue"},
		{"EU", "Jan", 1200},
		{"US", "Jan", 3400.5},
	}))

	client, _ := newTestClient(t, proxy, nil)

	table, err := client.GetTable(context.Background(), testSheet, "Sales", GetOptions{})
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if table.RowCount() != 2 {
		t.Errorf("RowCount() = %d, want 2", table.RowCount())
	}
	if table.Rows[1][2] != "3400.5" {
		t.Errorf("cell = %q, want 3400.5", table.Rows[1][2])
	}

	// Cached: no second network call
	if _, err := client.GetTable(context.Background(), testSheet, "Sales", GetOptions{}); err != nil {
		t.Fatalf("cached GetTable failed: %v", err)
	}
	if proxy.GetRequestCount() != 1 {
		t.Errorf("proxy requests = %d, want 1", proxy.GetRequestCount())
	}
	if ua := proxy.LastRequest.Header.Get("User-Agent"); ua == "" {
		t.Error("User-Agent header not set")
	}
}

func TestGetTable_FallbackToDirect(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()
	direct := testutil.NewMockSheets()
	defer direct.Close()

	proxy.SetResponse(testutil.ProxyPath(testSheet, "Sales"), testutil.NewErrorResponse(http.StatusBadGateway, "upstream down"))
	direct.SetResponse(testutil.DirectPath(testSheet, "Sales"), testutil.NewValuesResponse("Sales", [][]any{
		{"region"}, {"EU"},
	}))

	client, _ := newTestClient(t, proxy, direct)

	table, err := client.GetTable(context.Background(), testSheet, "Sales", GetOptions{})
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if table.RowCount() != 1 {
		t.Errorf("RowCount() = %d, want 1", table.RowCount())
	}
	if got := proxy.GetRequestCount(); got != 3 {
		t.Errorf("proxy requests = %d, want 3 (retried)", got)
	}
	if got := direct.GetRequestCount(); got != 1 {
		t.Errorf("direct requests = %d, want 1", got)
	}
	if key := direct.LastRequest.Header.Get(APIKeyHeader); key != "test-api-key" {
		t.Errorf("api key header = %q, want test-api-key", key)
	}
	if direct.LastRequest.URL.RawQuery != "" {
		t.Errorf("direct request query = %q, want empty", direct.LastRequest.URL.RawQuery)
	}
}

func TestGetTable_RejectionNotRetried(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()

	proxy.SetResponse(testutil.ProxyPath(testSheet, "Secret"), testutil.NewErrorResponse(http.StatusForbidden, "caller lacks permission on sheet123"))

	client, _ := newTestClient(t, proxy, nil)

	_, err := client.GetTable(context.Background(), testSheet, "Secret", GetOptions{})

	var rej *fetch.RejectionError
	if !errors.As(err, &rej) {
		t.Fatalf("err = %v, want RejectionError", err)
	}
	if rej.StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", rej.StatusCode)
	}
	if proxy.GetRequestCount() != 1 {
		t.Errorf("proxy requests = %d, want 1", proxy.GetRequestCount())
	}
}

func TestGetTable_HeaderOnlyIsCached(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()

	proxy.SetResponse(testutil.ProxyPath(testSheet, "Empty"), testutil.NewValuesResponse("Empty", [][]any{
		{"region", "revenue"},
	}))

	client, orch := newTestClient(t, proxy, nil)

	table, err := client.GetTable(context.Background(), testSheet, "Empty", GetOptions{})
	if err != nil {
		t.Fatalf("GetTable failed: %v", err)
	}
	if table.RowCount() != 0 {
		t.Errorf("RowCount() = %d, want 0", table.RowCount())
	}
	if orch.Size() != 1 {
		t.Errorf("cache size = %d, want 1", orch.Size())
	}
}

func TestGetTable_MissingConfig(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()
	client, _ := newTestClient(t, proxy, nil)

	if _, err := client.GetTable(context.Background(), "", "Sales", GetOptions{}); !errors.Is(err, ErrMissingConfig) {
		t.Errorf("err = %v, want ErrMissingConfig", err)
	}
	if proxy.GetRequestCount() != 0 {
		t.Errorf("proxy requests = %d, want 0", proxy.GetRequestCount())
	}
}

func TestGetTable_MalformedBody(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()

	proxy.SetResponse(testutil.ProxyPath(testSheet, "Bad"), testutil.MockResponse{
		StatusCode: http.StatusOK,
		Body:       "<html>not json</html>",
	})

	client, _ := newTestClient(t, proxy, nil)

	_, err := client.GetTable(context.Background(), testSheet, "Bad", GetOptions{})

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Class != ErrorClassDecode {
		t.Fatalf("err = %v, want decode HTTPError", err)
	}
	if proxy.GetRequestCount() != 1 {
		t.Errorf("proxy requests = %d, want 1 (decode errors not retried)", proxy.GetRequestCount())
	}
}

func TestFallback_DisabledWithoutKey(t *testing.T) {
	proxy := testutil.NewMockSheets()
	defer proxy.Close()
	client, _ := newTestClient(t, proxy, nil)

	if client.Fallback(testSheet, "Sales") != nil {
		t.Error("Fallback should be nil without API key")
	}
}

func TestHTTPError(t *testing.T) {
	cause := errors.New("connection reset")
	err := &HTTPError{Path: PathProxy, Class: ErrorClassNetwork, Message: "request failed", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find cause")
	}
	if err.Permanent() {
		t.Error("network errors are transient")
	}
	if !(&HTTPError{Class: ErrorClassClient}).Permanent() {
		t.Error("client errors are permanent")
	}
}

func TestGetTable_NetworkErrorOmitsAPIKey(t *testing.T) {
	fcfg := fetch.DefaultConfig(cache.NewStore(cache.Options{}))
	fcfg.Retry.MaxAttempts = 1
	orch, err := fetch.New(fcfg)
	if err != nil {
		t.Fatalf("fetch.New failed: %v", err)
	}

	// Nothing listens on port 1
	cfg := DefaultConfig("http://127.0.0.1:1", "SECRETKEY123")
	cfg.APIURL = "http://127.0.0.1:1"
	cfg.Timeout = time.Second
	client, err := New(cfg, orch)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	_, err = client.GetTable(context.Background(), "sid", "A1:B2", GetOptions{})
	if err == nil {
		t.Fatal("expected network error")
	}
	if strings.Contains(err.Error(), "SECRETKEY123") {
		t.Errorf("error exposes API key: %v", err)
	}

	var httpErr *HTTPError
	if !errors.As(err, &httpErr) || httpErr.Class != ErrorClassNetwork {
		t.Errorf("expected network HTTPError, got %v", err)
	}
}

func TestRedactURL(t *testing.T) {
	err := redactURL(&url.Error{Op: "Get", URL: "http://api.test/v4/x?key=abc", Err: errors.New("dial failed")})
	if strings.Contains(err.Error(), "key=abc") {
		t.Errorf("query survived redaction: %v", err)
	}
	if !strings.Contains(err.Error(), "http://api.test/v4/x") {
		t.Errorf("path lost in redaction: %v", err)
	}

	plain := errors.New("plain")
	if redactURL(plain) != plain {
		t.Error("non-url error should pass through unchanged")
	}
}
