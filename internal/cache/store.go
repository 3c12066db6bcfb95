// Package cache provides a versioned store of captured GET responses.
// Exactly one version is current at a time; stale versions are deleted by
// the lifecycle controller on activate, or all at once by a purge.
package cache

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
)

var ErrNotFound = errors.New("cache entry not found")

// DefaultMaxAge bounds how long an entry may persist in the current
// version. Enforcement happens in SweepExpired, not in Match.
const DefaultMaxAge = 7 * 24 * time.Hour

// Entry is a captured response. CapturedAt is set once when the response is
// taken from the wire; entries are replaced wholesale, never patched.
type Entry struct {
	Status     int
	Header     http.Header
	Body       []byte
	CapturedAt time.Time
}

type Store interface {
	// Open returns a handle for the given version, creating it if absent.
	// Open is idempotent.
	Open(ctx context.Context, version string) (Handle, error)
	DeleteVersion(ctx context.Context, version string) error
	ListVersions(ctx context.Context) ([]string, error)
}

// Handle is one version of the store. Match performs no age filtering;
// freshness is the interception engine's concern, and expiry is applied
// only by SweepExpired at activation time. A process that never
// re-activates can serve entries past MaxAge.
type Handle interface {
	Version() string
	Match(ctx context.Context, key string) (Entry, error)
	// Put stores the entry, replacing any prior one for the key. Entries
	// that fail the Cacheable guard are dropped without error: a caching
	// failure must never fail the request it is caching.
	Put(ctx context.Context, key string, ent Entry) error
	// SweepExpired deletes every entry whose CapturedAt is older than
	// now-maxAge and reports how many were removed.
	SweepExpired(ctx context.Context, now time.Time, maxAge time.Duration) (int, error)
}

// EntryFromResponse captures a fetched response. CapturedAt is taken from
// the response's own Date header when parseable, otherwise the local clock,
// and is never touched again for the life of the entry.
func EntryFromResponse(status int, header http.Header, body []byte) Entry {
	h := header.Clone()
	h.Del("Content-Length")

	capturedAt := time.Now().UTC()
	if t, err := http.ParseTime(header.Get("Date")); err == nil {
		capturedAt = t
	}

	return Entry{
		Status:     status,
		Header:     h,
		Body:       body,
		CapturedAt: capturedAt,
	}
}

// Cacheable reports whether an entry may be persisted: HTTP success status
// only, and keys with an explicit scheme must be http(s).
func Cacheable(key string, ent Entry) bool {
	if ent.Status < 200 || ent.Status >= 300 {
		return false
	}
	if i := strings.Index(key, "://"); i >= 0 {
		scheme := strings.ToLower(key[:i])
		if scheme != "http" && scheme != "https" {
			return false
		}
	}
	return true
}
