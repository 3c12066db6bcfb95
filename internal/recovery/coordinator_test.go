package recovery

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"
)

type fakePurger struct {
	calls int
	err   error
}

func (p *fakePurger) PurgeAndUnregister(ctx context.Context) error {
	p.calls++
	return p.err
}

func TestIsStaleAssetError(t *testing.T) {
	tests := []struct {
		msg  string
		want bool
	}{
		{"Failed to fetch dynamically imported module: /assets/Page-abc.js", true},
		{"Loading chunk 42 failed", true},
		{"Loading CSS chunk vendor failed", true},
		{"TypeError: import() of module failed", true},
		{"runtime error: invalid memory address or nil pointer dereference", false},
		{"connection refused", false},
	}
	for _, tt := range tests {
		if got := IsStaleAssetError(errors.New(tt.msg)); got != tt.want {
			t.Fatalf("IsStaleAssetError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
	if IsStaleAssetError(nil) {
		t.Fatal("nil error classified as stale asset failure")
	}
}

func TestStaleAssetErrorPurgesAndReloads(t *testing.T) {
	purger := &fakePurger{}
	var reloaded string
	c := NewCoordinator(purger, func(u string) { reloaded = u }, false)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }

	out := c.HandleError(context.Background(), errors.New("Failed to fetch dynamically imported module: /assets/x.js"), "https://app.example.com/projects/42?tab=files")
	if out != OutcomePurged {
		t.Fatalf("outcome = %v, want purged", out)
	}
	if purger.calls != 1 {
		t.Fatalf("purger calls = %d", purger.calls)
	}
	want := "https://app.example.com/projects/42?_reload=1700000000000&_nocache=1"
	if reloaded != want {
		t.Fatalf("reload url = %q, want %q", reloaded, want)
	}
}

func TestStaleAssetReloadsEvenWhenPurgeFails(t *testing.T) {
	purger := &fakePurger{err: errors.New("storage unavailable")}
	var reloaded string
	c := NewCoordinator(purger, func(u string) { reloaded = u }, false)

	out := c.HandleError(context.Background(), errors.New("Loading chunk 7 failed"), "https://app.example.com/")
	if out != OutcomePurged {
		t.Fatalf("outcome = %v, want purged", out)
	}
	if reloaded == "" {
		t.Fatal("reload skipped because cleanup failed")
	}
}

func TestGenericErrorRetriesWithBackoff(t *testing.T) {
	purger := &fakePurger{}
	var slept []time.Duration
	c := NewCoordinator(purger, func(string) {}, false)
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	err := errors.New("runtime error: invalid memory address or nil pointer dereference")

	for i, want := range []time.Duration{time.Second, 2 * time.Second, 4 * time.Second} {
		out := c.HandleError(context.Background(), err, "https://app.example.com/")
		if out != OutcomeRetried {
			t.Fatalf("attempt %d: outcome = %v, want retried", i+1, out)
		}
		if slept[i] != want {
			t.Fatalf("attempt %d: slept %s, want %s", i+1, slept[i], want)
		}
	}

	if out := c.HandleError(context.Background(), err, "https://app.example.com/"); out != OutcomeManualReload {
		t.Fatalf("outcome after budget = %v, want manual reload", out)
	}
	if purger.calls != 0 {
		t.Fatal("generic error path touched the cache")
	}

	c.Reset()
	if c.Attempts() != 0 {
		t.Fatalf("attempts after reset = %d", c.Attempts())
	}
}

func TestRetryDelay(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 10 * time.Second},
		{10, 10 * time.Second},
		{63, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := RetryDelay(tt.attempts); got != tt.want {
			t.Fatalf("RetryDelay(%d) = %s, want %s", tt.attempts, got, tt.want)
		}
	}
}

func TestReloadURL(t *testing.T) {
	now := time.UnixMilli(1700000000000)
	pattern := regexp.MustCompile(`^https://app\.example\.com/page\?_reload=\d+&_nocache=1$`)

	for _, current := range []string{
		"https://app.example.com/page",
		"https://app.example.com/page?tab=1",
		"https://app.example.com/page?_reload=123&_nocache=1",
		"https://app.example.com/page?_reload=123#section",
	} {
		got := ReloadURL(current, now)
		if !pattern.MatchString(got) {
			t.Fatalf("ReloadURL(%q) = %q", current, got)
		}
	}
}
