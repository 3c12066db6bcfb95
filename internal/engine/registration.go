package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/classify"
	"github.com/nukleo/kasa/internal/origin"
)

// Registration is the single interception point: it owns the cache store,
// the current version handle and the classifier tables. It is constructed
// once at startup and passed by reference to whatever hosts the handler.
type Registration struct {
	Store     cache.Store
	Rules     classify.Rules
	Origin    *origin.Client
	ShellPath string
	Verbose   bool

	mu           sync.Mutex
	handle       cache.Handle
	unregistered atomic.Bool
}

func NewRegistration(store cache.Store, rules classify.Rules, client *origin.Client, shellPath string, verbose bool) *Registration {
	return &Registration{
		Store:     store,
		Rules:     rules,
		Origin:    client,
		ShellPath: shellPath,
		Verbose:   verbose,
	}
}

// SetHandle hands the registration the current version's handle. Called by
// the lifecycle controller when the version becomes active.
func (g *Registration) SetHandle(h cache.Handle) {
	g.mu.Lock()
	g.handle = h
	g.mu.Unlock()
}

func (g *Registration) Handle() cache.Handle {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handle
}

func (g *Registration) Registered() bool {
	return !g.unregistered.Load()
}

// Unregister turns the engine into a transparent proxy. There is no way
// back for the current process.
func (g *Registration) Unregister() {
	g.unregistered.Store(true)
	g.SetHandle(nil)
}

// PurgeAndUnregister is the page-facing escape hatch: delete every cache
// version and stop intercepting, in parallel. Cleanup is best-effort; the
// returned error only reports what could not be removed.
func (g *Registration) PurgeAndUnregister(ctx context.Context) error {
	var wg sync.WaitGroup
	var purgeErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		purgeErr = g.purgeAll(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		g.Unregister()
	}()

	wg.Wait()
	return purgeErr
}

func (g *Registration) purgeAll(ctx context.Context) error {
	versions, err := g.Store.ListVersions(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, v := range versions {
		if err := g.Store.DeleteVersion(ctx, v); err != nil {
			g.logf("purge version %s: %v", v, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (g *Registration) logf(format string, args ...any) {
	if g.Verbose {
		log.Printf(format, args...)
	}
}
