package fingerprint

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// HostProber measures the facts a headless process can see about its host.
// Browser-only facilities (canvas, WebGL, plugins) report unavailable and the
// collector degrades those fields to sentinels, which is the expected shape
// for agent-originated events.
type HostProber struct {
	// Version is stamped into the reported user agent.
	Version string
}

func (HostProber) Screen() (string, int, error) {
	// Headless hosts have no screen; deployments fronting a real display can
	// inject the resolution through the environment.
	if res := os.Getenv("PORTAL_SCREEN_RESOLUTION"); res != "" {
		depth := 24
		if d, err := strconv.Atoi(os.Getenv("PORTAL_SCREEN_DEPTH")); err == nil {
			depth = d
		}
		return res, depth, nil
	}
	return "", 0, fmt.Errorf("no display")
}

func (HostProber) TimeZone() (string, error) {
	if tz := os.Getenv("TZ"); tz != "" {
		return tz, nil
	}
	name, _ := time.Now().Zone()
	if name == "" {
		return "", fmt.Errorf("zone name unavailable")
	}
	return name, nil
}

func (HostProber) Language() (string, error) {
	for _, key := range []string{"LC_ALL", "LC_MESSAGES", "LANG"} {
		if v := os.Getenv(key); v != "" {
			// "es_PA.UTF-8" -> "es_PA"
			if i := strings.IndexByte(v, '.'); i > 0 {
				v = v[:i]
			}
			return v, nil
		}
	}
	return "", fmt.Errorf("locale unavailable")
}

func (HostProber) Platform() (string, error) {
	return runtime.GOOS + "/" + runtime.GOARCH, nil
}

func (HostProber) HardwareConcurrency() (int, error) {
	return runtime.NumCPU(), nil
}

// DeviceMemory reports total memory in gigabytes, rounded the way browsers
// round navigator.deviceMemory. Linux only; elsewhere the field stays absent.
func (HostProber) DeviceMemory() (float64, error) {
	data, err := os.ReadFile("/proc/meminfo")
	if err != nil {
		return 0, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		if !strings.HasPrefix(line, "MemTotal:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			break
		}
		kb, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return 0, err
		}
		gb := kb / (1024 * 1024)
		return float64(int(gb + 0.5)), nil
	}
	return 0, fmt.Errorf("MemTotal not found")
}

func (HostProber) TouchSupport() (bool, error) {
	return false, nil
}

func (HostProber) WebGL() (string, string, error) {
	return "", "", fmt.Errorf("webgl unavailable")
}

func (HostProber) Canvas() (string, error) {
	return "", fmt.Errorf("canvas unavailable")
}

func (HostProber) Plugins() ([]string, error) {
	return nil, nil
}

// candidateFonts mirrors the families the portal probes in browsers. On a
// host the probe checks the common font directories instead of measuring
// rendered text widths; the heuristic is platform-dependent either way.
var candidateFonts = []string{
	"Arial", "Verdana", "Helvetica", "Times New Roman", "Courier New",
	"Georgia", "Palatino", "Garamond", "Comic Sans MS", "Trebuchet MS",
	"Impact", "DejaVu Sans", "Liberation Sans", "Noto Sans",
}

var fontDirs = []string{
	"/usr/share/fonts",
	"/usr/local/share/fonts",
	"/System/Library/Fonts",
	"C:\\Windows\\Fonts",
}

func (HostProber) Fonts() ([]string, error) {
	installed := map[string]bool{}
	for _, dir := range fontDirs {
		filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return nil
			}
			name := strings.ToLower(d.Name())
			for _, font := range candidateFonts {
				key := strings.ToLower(strings.ReplaceAll(font, " ", ""))
				if strings.Contains(strings.ReplaceAll(name, " ", ""), key) {
					installed[font] = true
				}
			}
			return nil
		})
	}
	var detected []string
	for _, font := range candidateFonts {
		if installed[font] {
			detected = append(detected, font)
		}
	}
	return detected, nil
}

func (p HostProber) UserAgent() (string, error) {
	version := p.Version
	if version == "" {
		version = "dev"
	}
	host, err := os.Hostname()
	if err != nil {
		host = Unknown
	}
	return fmt.Sprintf("portal-agent/%s (%s; %s; %s)", version, runtime.GOOS, runtime.GOARCH, host), nil
}
