package cache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDecide(t *testing.T) {
	passHosts := map[string]struct{}{
		"www.paypal.com":   {},
		"pagueloyappy.com": {},
	}
	tests := []struct {
		name   string
		method string
		host   string
		want   Route
	}{
		{"get same origin", http.MethodGet, "portal.example.com", RouteNetworkFirst},
		{"post same origin", http.MethodPost, "portal.example.com", RouteNetworkOnly},
		{"put same origin", http.MethodPut, "portal.example.com", RouteNetworkOnly},
		{"get paypal", http.MethodGet, "www.paypal.com", RoutePassThrough},
		{"post yappy", http.MethodPost, "pagueloyappy.com", RoutePassThrough},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Decide(tt.method, tt.host, passHosts); got != tt.want {
				t.Errorf("Decide(%s, %s) = %v, want %v", tt.method, tt.host, got, tt.want)
			}
		})
	}
}

func TestResolveFallback(t *testing.T) {
	tests := []struct {
		name         string
		hasCached    bool
		isNavigation bool
		want         Fallback
	}{
		{"cached entry wins", true, false, FallbackCached},
		{"cached entry wins for navigation too", true, true, FallbackCached},
		{"navigation miss gets the shell", false, true, FallbackShell},
		{"sub-resource miss gets empty 200", false, false, FallbackEmpty},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveFallback(tt.hasCached, tt.isNavigation); got != tt.want {
				t.Errorf("ResolveFallback(%v, %v) = %v, want %v", tt.hasCached, tt.isNavigation, got, tt.want)
			}
		})
	}
}

func TestIsNavigation(t *testing.T) {
	nav := httptest.NewRequest(http.MethodGet, "/", nil)
	nav.Header.Set("Sec-Fetch-Mode", "navigate")
	if !IsNavigation(nav) {
		t.Error("Sec-Fetch-Mode navigate not detected")
	}

	browser := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	browser.Header.Set("Accept", "text/html,application/xhtml+xml")
	if !IsNavigation(browser) {
		t.Error("HTML Accept header not detected")
	}

	asset := httptest.NewRequest(http.MethodGet, "/static/app.js", nil)
	asset.Header.Set("Accept", "*/*")
	if IsNavigation(asset) {
		t.Error("asset request misclassified as navigation")
	}
}

func TestCacheable(t *testing.T) {
	if !Cacheable(http.MethodGet, http.StatusOK) {
		t.Error("GET 200 must be cacheable")
	}
	if Cacheable(http.MethodPost, http.StatusOK) {
		t.Error("POST must never be cacheable")
	}
	if Cacheable(http.MethodGet, http.StatusNotFound) {
		t.Error("non-200 must not be cacheable")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	entry := Entry{
		Status:   200,
		Header:   http.Header{"Content-Type": {"text/html"}},
		Body:     []byte("<html>shell</html>"),
		StoredAt: time.Now(),
	}
	if err := store.Put(ctx, "portal-v3", "/", entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, ok, err := store.Get(ctx, "portal-v3", "/")
	if err != nil || !ok {
		t.Fatalf("Get = ok=%v err=%v", ok, err)
	}
	if string(got.Body) != "<html>shell</html>" || got.Status != 200 {
		t.Errorf("entry mismatch: %+v", got)
	}

	if _, ok, _ := store.Get(ctx, "portal-v3", "/missing"); ok {
		t.Error("unexpected hit for missing key")
	}
	if _, ok, _ := store.Get(ctx, "portal-v2", "/"); ok {
		t.Error("unexpected hit in a different version bucket")
	}
}

func TestSweepLeavesOnlyCurrentVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	for _, v := range []string{"portal-v1", "portal-v2", "portal-v3"} {
		if err := store.Put(ctx, v, "/", Entry{Status: 200}); err != nil {
			t.Fatalf("Put(%s) failed: %v", v, err)
		}
	}

	if err := Sweep(ctx, store, "portal-v3"); err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}

	versions, err := store.Versions(ctx)
	if err != nil {
		t.Fatalf("Versions failed: %v", err)
	}
	if len(versions) != 1 || versions[0] != "portal-v3" {
		t.Fatalf("versions after sweep = %v, want [portal-v3]", versions)
	}
}
