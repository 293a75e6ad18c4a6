package cache

import (
	"net/http"
	"strings"
)

// Route classifies a request before any I/O happens.
type Route int

const (
	// RoutePassThrough goes straight to the origin untouched. Used for the
	// third-party allow-list (payment processors, captcha providers) whose
	// CORS and cookie handling must not be disturbed.
	RoutePassThrough Route = iota
	// RouteNetworkOnly hits the network and is never cached (non-GET).
	RouteNetworkOnly
	// RouteNetworkFirst tries the network, caches good responses, and falls
	// back to the cache on failure.
	RouteNetworkFirst
)

// Decide is the pure routing policy.
func Decide(method, host string, passHosts map[string]struct{}) Route {
	if _, ok := passHosts[host]; ok {
		return RoutePassThrough
	}
	if method != http.MethodGet {
		return RouteNetworkOnly
	}
	return RouteNetworkFirst
}

// Fallback is what to serve when the network has failed.
type Fallback int

const (
	// FallbackCached serves the stored entry for the exact request.
	FallbackCached Fallback = iota
	// FallbackShell serves the cached application shell (root document).
	FallbackShell
	// FallbackEmpty serves an empty 200 so page scripts that do not handle
	// network errors keep working. A deliberate tradeoff, not a bug.
	FallbackEmpty
)

// ResolveFallback picks the offline response for a failed network fetch.
func ResolveFallback(hasCached, isNavigation bool) Fallback {
	switch {
	case hasCached:
		return FallbackCached
	case isNavigation:
		return FallbackShell
	default:
		return FallbackEmpty
	}
}

// IsNavigation reports whether the request is a full-page navigation rather
// than a sub-resource fetch.
func IsNavigation(r *http.Request) bool {
	if r.Header.Get("Sec-Fetch-Mode") == "navigate" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// Cacheable reports whether a live response should be written to the cache:
// only plain 200s from our own origin qualify.
func Cacheable(method string, status int) bool {
	return method == http.MethodGet && status == http.StatusOK
}
