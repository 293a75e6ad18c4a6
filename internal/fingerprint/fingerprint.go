// Package fingerprint produces a best-effort device signature used as a weak
// client-correlation signal for fraud heuristics. Collection never fails:
// every probe is fault-isolated and degrades to a sentinel value, so callers
// can treat the signature as always available.
package fingerprint

import (
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Sentinel values reported when a probe fails or the underlying facility is
// unavailable. They are real field values, not errors.
const (
	Unknown            = "unknown"
	CanvasNotSupported = "canvas_not_supported"
)

// Signature describes the device a session runs on. It is a value object:
// computed once per process and reused unchanged for the process lifetime.
type Signature struct {
	Fingerprint         string   `json:"fingerprint"`
	ScreenResolution    string   `json:"screenResolution"`
	TimeZone            string   `json:"timeZone"`
	BrowserLanguage     string   `json:"browserLanguage"`
	Platform            string   `json:"platform"`
	ColorDepth          int      `json:"colorDepth"`
	HardwareConcurrency int      `json:"hardwareConcurrency"`
	DeviceMemory        *float64 `json:"deviceMemory,omitempty"`
	TouchSupport        bool     `json:"touchSupport"`
	WebGLVendor         string   `json:"webGLVendor,omitempty"`
	WebGLRenderer       string   `json:"webGLRenderer,omitempty"`
}

// Prober supplies the raw per-facility measurements. Each method may fail or
// panic independently; the collector isolates faults per probe. The fixed
// probe order in Collect keeps the hash input deterministic on one device.
type Prober interface {
	Screen() (resolution string, colorDepth int, err error)
	TimeZone() (string, error)
	Language() (string, error)
	Platform() (string, error)
	HardwareConcurrency() (int, error)
	DeviceMemory() (float64, error)
	TouchSupport() (bool, error)
	WebGL() (vendor, renderer string, err error)
	Canvas() (string, error)
	Plugins() ([]string, error)
	Fonts() ([]string, error)
	UserAgent() (string, error)
}

// Collector memoizes one Signature per process. Construct it once in the
// composition root and inject it; there is no package-level instance.
type Collector struct {
	prober Prober

	once sync.Once
	sig  Signature
}

func NewCollector(p Prober) *Collector {
	return &Collector{prober: p}
}

// DeviceInfo returns the memoized signature, collecting it on first call.
// Subsequent calls return the same value even if the host state changed.
func (c *Collector) DeviceInfo() Signature {
	c.once.Do(func() {
		c.sig = c.collect()
	})
	return c.sig
}

// probe runs fn with panic isolation so a broken facility cannot take down
// the rest of the collection.
func probe[T any](fn func() (T, error), sentinel T) T {
	var v T
	var err error
	func() {
		defer func() {
			if recover() != nil {
				err = fmt.Errorf("probe panicked")
			}
		}()
		v, err = fn()
	}()
	if err != nil {
		return sentinel
	}
	return v
}

type screenInfo struct {
	resolution string
	colorDepth int
}

type webGLInfo struct {
	vendor   string
	renderer string
}

func (c *Collector) collect() Signature {
	p := c.prober

	screen := probe(func() (screenInfo, error) {
		res, depth, err := p.Screen()
		return screenInfo{res, depth}, err
	}, screenInfo{resolution: Unknown})

	tz := probe(p.TimeZone, Unknown)
	lang := probe(p.Language, Unknown)
	platform := probe(p.Platform, Unknown)
	cpus := probe(p.HardwareConcurrency, 0)
	touch := probe(p.TouchSupport, false)

	var memory *float64
	if m := probe(p.DeviceMemory, -1); m >= 0 {
		memory = &m
	}

	gl := probe(func() (webGLInfo, error) {
		vendor, renderer, err := p.WebGL()
		return webGLInfo{vendor, renderer}, err
	}, webGLInfo{})

	canvas := probe(p.Canvas, CanvasNotSupported)
	plugins := probe(p.Plugins, nil)
	fonts := probe(p.Fonts, nil)
	agent := probe(p.UserAgent, Unknown)

	sig := Signature{
		ScreenResolution:    screen.resolution,
		TimeZone:            tz,
		BrowserLanguage:     lang,
		Platform:            platform,
		ColorDepth:          screen.colorDepth,
		HardwareConcurrency: cpus,
		DeviceMemory:        memory,
		TouchSupport:        touch,
		WebGLVendor:         gl.vendor,
		WebGLRenderer:       gl.renderer,
	}
	sig.Fingerprint = hashFields(sig, canvas, plugins, fonts, agent)
	return sig
}

// hashFields concatenates the signature fields pipe-delimited in a fixed
// order and hashes them. The hash is deliberately non-cryptographic; it only
// needs to be stable and cheap, collisions are tolerable.
func hashFields(sig Signature, canvas string, plugins, fonts []string, agent string) (fp string) {
	defer func() {
		if recover() != nil {
			fp = fmt.Sprintf("fp_fallback_%d", time.Now().UnixNano())
		}
	}()
	memory := ""
	if sig.DeviceMemory != nil {
		memory = strconv.FormatFloat(*sig.DeviceMemory, 'f', -1, 64)
	}
	parts := []string{
		sig.ScreenResolution,
		sig.TimeZone,
		sig.BrowserLanguage,
		strconv.Itoa(sig.ColorDepth),
		sig.Platform,
		strconv.Itoa(sig.HardwareConcurrency),
		memory,
		strconv.FormatBool(sig.TouchSupport),
		sig.WebGLVendor,
		sig.WebGLRenderer,
		truncate(canvas, 64),
		truncate(strings.Join(plugins, ","), 128),
		truncate(strings.Join(fonts, ","), 128),
		truncate(agent, 96),
	}
	sum := xxhash.Sum64String(strings.Join(parts, "|"))
	return strconv.FormatUint(sum, 16)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// NewSessionID returns a "{epochMillis}-{randomBase36}" identifier. Call it
// once per process and reuse the value for the whole session.
func NewSessionID() string {
	suffix := strconv.FormatUint(rand.Uint64()%(36*36*36*36*36*36*36), 36)
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), suffix)
}
