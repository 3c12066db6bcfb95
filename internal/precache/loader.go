// Package precache populates a fresh cache version with the critical
// offline shell assets.
package precache

import (
	"context"
	"fmt"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/origin"
)

type Loader struct {
	Origin *origin.Client
	Assets []string
}

// Load fetches and stores every manifest asset. Each asset is attempted
// independently: one unreachable font file must not leave the whole app
// uninstallable offline. The returned errors are informational only.
func (l *Loader) Load(ctx context.Context, handle cache.Handle) []error {
	var errs []error
	for _, asset := range l.Assets {
		if err := l.loadOne(ctx, handle, asset); err != nil {
			errs = append(errs, fmt.Errorf("precache %s: %w", asset, err))
		}
	}
	return errs
}

func (l *Loader) loadOne(ctx context.Context, handle cache.Handle, asset string) error {
	resp, body, err := l.Origin.Fetch(ctx, asset, nil)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return handle.Put(ctx, asset, cache.EntryFromResponse(resp.StatusCode, resp.Header, body))
}
