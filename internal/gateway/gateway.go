// Package gateway fronts the portal with an offline-tolerant shell: GET
// traffic is served network-first with a versioned response cache behind it,
// payment and captcha origins pass through untouched, and state-mutating
// requests never touch the cache. The routing policy itself lives in
// internal/cache; this package is the I/O adapter around it.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/avivas33/portal-telemetry/internal/cache"
)

// MessagePath receives control messages from operators, mirroring the
// page-to-worker message channel.
const MessagePath = "/sw/message"

// ShellKey is the cache key of the application shell document.
const ShellKey = "/"

type Config struct {
	// Upstream is the portal origin every non-pass-through request is
	// forwarded to.
	Upstream *url.URL
	// Version names the current cache bucket.
	Version string
	// Staged, when set, is the bucket a SKIP_WAITING message promotes.
	Staged string
	// Manifest lists the shell paths pre-populated on install.
	Manifest []string
	// PassHosts are third-party hosts that are never intercepted.
	PassHosts []string
	// PassScheme is the scheme used when forwarding to pass-through hosts.
	PassScheme string
	// FetchTimeout bounds each upstream fetch.
	FetchTimeout time.Duration
}

type Gateway struct {
	upstream     *url.URL
	manifest     []string
	passHosts    map[string]struct{}
	passScheme   string
	fetchTimeout time.Duration
	store        cache.Store
	client       *http.Client

	mu      sync.Mutex
	version string
	staged  string
}

func New(cfg Config, store cache.Store) *Gateway {
	passHosts := make(map[string]struct{}, len(cfg.PassHosts))
	for _, h := range cfg.PassHosts {
		passHosts[h] = struct{}{}
	}
	scheme := cfg.PassScheme
	if scheme == "" {
		scheme = "https"
	}
	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Gateway{
		upstream:     cfg.Upstream,
		manifest:     cfg.Manifest,
		passHosts:    passHosts,
		passScheme:   scheme,
		fetchTimeout: timeout,
		store:        store,
		client:       &http.Client{Timeout: timeout},
		version:      cfg.Version,
		staged:       cfg.Staged,
	}
}

func (g *Gateway) currentVersion() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.version
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == MessagePath && r.Method == http.MethodPost {
		g.handleMessage(w, r)
		return
	}
	switch cache.Decide(r.Method, requestHost(r), g.passHosts) {
	case cache.RoutePassThrough:
		g.passThrough(w, r)
	case cache.RouteNetworkOnly:
		g.networkOnly(w, r)
	default:
		g.networkFirst(w, r)
	}
}

func requestHost(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.Host
	}
	return r.Host
}

// Precache is the install phase: it fetches the shell manifest from the
// upstream and stores every 200 into the current bucket. Individual
// failures are logged and skipped; install itself never fails.
func (g *Gateway) Precache(ctx context.Context) {
	version := g.currentVersion()
	for _, path := range g.manifest {
		entry, err := backoff.Retry(ctx, func() (cache.Entry, error) {
			return g.fetchEntry(ctx, path)
		}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxTries(3))
		if err != nil {
			log.Printf("gateway: precache of %s failed: %v", path, err)
			continue
		}
		if err := g.store.Put(ctx, version, path, entry); err != nil {
			log.Printf("gateway: precache store of %s failed: %v", path, err)
		}
	}
}

// Activate sweeps every cache bucket except the current version.
func (g *Gateway) Activate(ctx context.Context) {
	if err := cache.Sweep(ctx, g.store, g.currentVersion()); err != nil {
		log.Printf("gateway: cache sweep failed: %v", err)
	}
}

func (g *Gateway) fetchEntry(ctx context.Context, path string) (cache.Entry, error) {
	target := g.upstream.ResolveReference(&url.URL{Path: path})
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return cache.Entry{}, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return cache.Entry{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		// No point retrying a definitive answer.
		return cache.Entry{}, backoff.Permanent(fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path))
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return cache.Entry{}, err
	}
	return cache.Entry{
		Status:   resp.StatusCode,
		Header:   cloneHeader(resp.Header),
		Body:     body,
		StoredAt: time.Now().UTC(),
	}, nil
}

type controlMessage struct {
	Type string `json:"type"`
}

// handleMessage implements the SKIP_WAITING control channel: a staged cache
// version is promoted to current immediately and old buckets are swept.
func (g *Gateway) handleMessage(w http.ResponseWriter, r *http.Request) {
	var msg controlMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "Invalid JSON format", http.StatusBadRequest)
		return
	}
	if msg.Type != "SKIP_WAITING" {
		http.Error(w, "unknown message type", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	if g.staged != "" {
		g.version = g.staged
		g.staged = ""
	}
	g.mu.Unlock()

	g.Activate(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// passThrough forwards allow-listed third-party traffic untouched so the
// origin's own CORS and cookie handling keeps working.
func (g *Gateway) passThrough(w http.ResponseWriter, r *http.Request) {
	target := &url.URL{
		Scheme:   g.passScheme,
		Host:     requestHost(r),
		Path:     r.URL.Path,
		RawQuery: r.URL.RawQuery,
	}
	resp, err := g.forward(r, target)
	if err != nil {
		log.Printf("gateway: pass-through to %s failed: %v", target.Host, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	writeHead(w, resp.StatusCode, resp.Header)
	io.Copy(w, resp.Body)
}

// networkOnly serves non-GET requests: straight to the network, never
// cached, never served from cache.
func (g *Gateway) networkOnly(w http.ResponseWriter, r *http.Request) {
	resp, err := g.forward(r, g.upstreamTarget(r))
	if err != nil {
		log.Printf("gateway: %s %s failed: %v", r.Method, r.URL.Path, err)
		http.Error(w, "upstream unreachable", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()
	writeHead(w, resp.StatusCode, resp.Header)
	io.Copy(w, resp.Body)
}

// networkFirst tries the upstream; good responses are copied into the cache
// (a cache fault never affects the live response) and returned. On network
// failure the cached entry, the cached shell, or an empty 200 is served.
func (g *Gateway) networkFirst(w http.ResponseWriter, r *http.Request) {
	key := r.URL.RequestURI()
	resp, err := g.forward(r, g.upstreamTarget(r))
	if err == nil {
		defer resp.Body.Close()
		body, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			if cache.Cacheable(r.Method, resp.StatusCode) {
				entry := cache.Entry{
					Status:   resp.StatusCode,
					Header:   cloneHeader(resp.Header),
					Body:     body,
					StoredAt: time.Now().UTC(),
				}
				if err := g.store.Put(r.Context(), g.currentVersion(), key, entry); err != nil {
					log.Printf("gateway: cache write for %s failed: %v", key, err)
				}
			}
			writeHead(w, resp.StatusCode, resp.Header)
			w.Write(body)
			return
		}
		err = readErr
	}

	log.Printf("gateway: network fetch of %s failed, trying cache: %v", key, err)
	g.serveFallback(w, r, key)
}

func (g *Gateway) serveFallback(w http.ResponseWriter, r *http.Request, key string) {
	ctx := r.Context()
	version := g.currentVersion()

	entry, ok, err := g.store.Get(ctx, version, key)
	if err != nil {
		log.Printf("gateway: cache read for %s failed: %v", key, err)
		ok = false
	}

	switch cache.ResolveFallback(ok, cache.IsNavigation(r)) {
	case cache.FallbackCached:
		writeEntry(w, entry)
	case cache.FallbackShell:
		shell, shellOK, err := g.store.Get(ctx, version, ShellKey)
		if err == nil && shellOK {
			writeEntry(w, shell)
			return
		}
		w.WriteHeader(http.StatusOK)
	case cache.FallbackEmpty:
		w.WriteHeader(http.StatusOK)
	}
}

func (g *Gateway) upstreamTarget(r *http.Request) *url.URL {
	return g.upstream.ResolveReference(&url.URL{Path: r.URL.Path, RawQuery: r.URL.RawQuery})
}

func (g *Gateway) forward(r *http.Request, target *url.URL) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(r.Context(), g.fetchTimeout)
	req, err := http.NewRequestWithContext(ctx, r.Method, target.String(), r.Body)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header = cloneHeader(r.Header)
	resp, err := g.client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelReadCloser{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

var hopHeaders = []string{"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade", "Proxy-Authorization", "Proxy-Connection"}

func cloneHeader(h http.Header) http.Header {
	out := h.Clone()
	for _, name := range hopHeaders {
		out.Del(name)
	}
	return out
}

func writeHead(w http.ResponseWriter, status int, header http.Header) {
	for name, values := range cloneHeader(header) {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(status)
}

func writeEntry(w http.ResponseWriter, e cache.Entry) {
	writeHead(w, e.Status, e.Header)
	w.Write(e.Body)
}
