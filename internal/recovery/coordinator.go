// Package recovery is the hosting application's escape hatch for the case
// where the cache itself broke the page: a deploy rotated the code chunks
// on the server while stale ones were still being served locally. That one
// failure destroys the cache; every other runtime error is retried in
// place without touching it.
package recovery

import (
	"context"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
)

// staleAssetSignatures are the load-failure messages produced when a page
// asks for a code module or stylesheet chunk the server no longer serves.
var staleAssetSignatures = []string{
	"Failed to fetch dynamically imported module",
	"Loading chunk",
	"Loading CSS chunk",
	"import()",
}

// IsStaleAssetError reports whether err matches a stale-asset load failure.
func IsStaleAssetError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, sig := range staleAssetSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// Purger is the destructive side of the engine: delete every cache version
// and stop intercepting. Implemented by engine.Registration.
type Purger interface {
	PurgeAndUnregister(ctx context.Context) error
}

type Outcome int

const (
	// OutcomePurged means the cache was destroyed and a reload issued.
	OutcomePurged Outcome = iota
	// OutcomeRetried means a backoff delay elapsed and the caller should
	// re-attempt whatever failed.
	OutcomeRetried
	// OutcomeManualReload means the retry budget is exhausted and the user
	// must be offered an explicit reload.
	OutcomeManualReload
)

const defaultMaxAttempts = 3

type Coordinator struct {
	Purger      Purger
	MaxAttempts int
	Verbose     bool

	// Reload is invoked with the cache-busting URL once cleanup settles.
	// It is not optional on the purge path.
	Reload func(url string)

	attempts int
	sleep    func(time.Duration)
	now      func() time.Time
}

func NewCoordinator(purger Purger, reload func(string), verbose bool) *Coordinator {
	return &Coordinator{
		Purger:      purger,
		MaxAttempts: defaultMaxAttempts,
		Verbose:     verbose,
		Reload:      reload,
		sleep:       time.Sleep,
		now:         time.Now,
	}
}

// HandleError classifies a caught runtime error and performs the matching
// recovery. Stale-asset failures purge and reload; anything else gets a
// bounded exponential-backoff retry.
func (c *Coordinator) HandleError(ctx context.Context, err error, currentURL string) Outcome {
	if IsStaleAssetError(err) {
		c.logf("stale asset failure, purging cache: %v", err)
		c.purgeAndReload(ctx, currentURL)
		return OutcomePurged
	}

	max := c.MaxAttempts
	if max <= 0 {
		max = defaultMaxAttempts
	}
	if c.attempts >= max {
		c.logf("retry budget exhausted after %d attempts", c.attempts)
		return OutcomeManualReload
	}

	delay := RetryDelay(c.attempts)
	c.attempts++
	c.logf("retrying after %s (attempt %d/%d): %v", delay, c.attempts, max, err)
	c.sleep(delay)
	return OutcomeRetried
}

// Reset clears the retry counter after a successful recovery.
func (c *Coordinator) Reset() {
	c.attempts = 0
}

// Attempts returns how many retries have been consumed.
func (c *Coordinator) Attempts() int {
	return c.attempts
}

// purgeAndReload is terminal for the session: cleanup failures are
// swallowed and the reload happens regardless.
func (c *Coordinator) purgeAndReload(ctx context.Context, currentURL string) {
	if c.Purger != nil {
		if err := c.Purger.PurgeAndUnregister(ctx); err != nil {
			c.logf("purge: %v", err)
		}
	}
	if c.Reload != nil {
		c.Reload(ReloadURL(currentURL, c.now()))
	}
}

// RetryDelay is min(1000 * 2^attempts, 10000) milliseconds.
func RetryDelay(attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if attempts > 4 {
		return 10 * time.Second
	}
	ms := int64(1000) << attempts
	if ms > 10000 {
		ms = 10000
	}
	return time.Duration(ms) * time.Millisecond
}

// ReloadURL strips any existing query and fragment from the current
// location and appends cache-busting parameters.
func ReloadURL(current string, now time.Time) string {
	base := current
	if u, err := url.Parse(current); err == nil {
		u.RawQuery = ""
		u.Fragment = ""
		base = u.String()
	} else if i := strings.IndexByte(base, '?'); i >= 0 {
		base = base[:i]
	}
	return fmt.Sprintf("%s?_reload=%d&_nocache=1", base, now.UnixMilli())
}

func (c *Coordinator) logf(format string, args ...any) {
	if c.Verbose {
		log.Printf(format, args...)
	}
}
