// Package classify assigns intercepted requests to a caching class.
// Classification is pure string matching: no I/O, and every request gets
// exactly one class.
package classify

import (
	"net/http"
	"strings"
)

type Classification int

const (
	// Ignored requests pass through to the network untouched and uncached.
	Ignored Classification = iota
	// StaticAsset requests are immutable sub-resources (scripts, styles,
	// fonts, images).
	StaticAsset
	// Navigable requests are full documents; everything GET-able that is
	// not a static asset.
	Navigable
)

func (c Classification) String() string {
	switch c {
	case StaticAsset:
		return "static-asset"
	case Navigable:
		return "navigable"
	default:
		return "ignored"
	}
}

// Rules is the declarative decision table. First match wins, in the order
// the fields are declared.
type Rules struct {
	APIPrefixes    []string
	AdminPrefixes  []string
	FontHosts      []string
	StaticSuffixes []string
	AssetPrefixes  []string
}

func DefaultRules() Rules {
	return Rules{
		APIPrefixes:   []string{"/api/"},
		AdminPrefixes: []string{"/admin"},
		FontHosts:     []string{"fonts.googleapis.com", "fonts.gstatic.com"},
		StaticSuffixes: []string{
			".js", ".css", ".woff", ".woff2",
			".png", ".jpg", ".jpeg", ".svg", ".webp", ".ico",
		},
		AssetPrefixes: []string{"/assets/"},
	}
}

func (ru Rules) Classify(r *http.Request) Classification {
	if r.Method != http.MethodGet {
		return Ignored
	}
	if scheme := strings.ToLower(r.URL.Scheme); scheme != "" && scheme != "http" && scheme != "https" {
		return Ignored
	}

	path := r.URL.Path
	if hasAnyPrefix(path, ru.APIPrefixes) || hasAnyPrefix(path, ru.AdminPrefixes) {
		return Ignored
	}
	if ru.isFontHost(r) {
		return Ignored
	}
	if hasAnySuffix(path, ru.StaticSuffixes) || hasAnyPrefix(path, ru.AssetPrefixes) {
		return StaticAsset
	}
	return Navigable
}

func (ru Rules) isFontHost(r *http.Request) bool {
	host := r.URL.Host
	if host == "" {
		host = r.Host
	}
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	host = strings.ToLower(host)
	for _, h := range ru.FontHosts {
		if host == h {
			return true
		}
	}
	return false
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if p != "" && strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

func hasAnySuffix(s string, suffixes []string) bool {
	s = strings.ToLower(s)
	for _, suf := range suffixes {
		if suf != "" && strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}
