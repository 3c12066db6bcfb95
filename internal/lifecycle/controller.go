// Package lifecycle drives a cache version through
// Installing → Installed → Activating → Active.
package lifecycle

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/engine"
	"github.com/nukleo/kasa/internal/precache"
)

type State int32

const (
	StateNew State = iota
	StateInstalling
	StateInstalled
	StateActivating
	StateActive
)

func (s State) String() string {
	switch s {
	case StateInstalling:
		return "installing"
	case StateInstalled:
		return "installed"
	case StateActivating:
		return "activating"
	case StateActive:
		return "active"
	default:
		return "new"
	}
}

type Controller struct {
	Store        cache.Store
	Version      string
	MaxAge       time.Duration
	Loader       *precache.Loader
	Registration *engine.Registration
	Verbose      bool

	state atomic.Int32
}

func (c *Controller) State() State {
	return State(c.state.Load())
}

func (c *Controller) setState(s State) {
	c.state.Store(int32(s))
}

// Run installs and activates the current version. Failures are logged and
// swallowed: a broken caching layer must never keep the application from
// loading, it only means requests pass through uncached.
func (c *Controller) Run(ctx context.Context) {
	handle, err := c.install(ctx)
	if err != nil {
		c.logf("install %s: %v", c.Version, err)
		return
	}
	c.activate(ctx, handle)
}

// install opens the current version and precaches the manifest. Partial
// precache failure does not fail the install. The version is installed
// immediately, with no waiting period for older generations to wind down.
func (c *Controller) install(ctx context.Context) (cache.Handle, error) {
	c.setState(StateInstalling)

	handle, err := c.Store.Open(ctx, c.Version)
	if err != nil {
		return nil, err
	}

	for _, perr := range c.Loader.Load(ctx, handle) {
		c.logf("%v", perr)
	}

	c.setState(StateInstalled)
	return handle, nil
}

// activate deletes every stale version, sweeps expired entries out of the
// current one and claims the interception point immediately. Each stale
// version is deleted independently; one failure does not block the rest.
func (c *Controller) activate(ctx context.Context, handle cache.Handle) {
	c.setState(StateActivating)

	versions, err := c.Store.ListVersions(ctx)
	if err != nil {
		c.logf("list versions: %v", err)
	}
	for _, v := range versions {
		if v == c.Version {
			continue
		}
		if err := c.Store.DeleteVersion(ctx, v); err != nil {
			c.logf("delete stale version %s: %v", v, err)
		}
	}

	maxAge := c.MaxAge
	if maxAge <= 0 {
		maxAge = cache.DefaultMaxAge
	}
	if removed, err := handle.SweepExpired(ctx, time.Now(), maxAge); err != nil {
		c.logf("sweep expired: %v", err)
	} else if removed > 0 {
		c.logf("swept %d expired entries from %s", removed, c.Version)
	}

	c.Registration.SetHandle(handle)
	c.setState(StateActive)
}

func (c *Controller) logf(format string, args ...any) {
	if c.Verbose {
		log.Printf(format, args...)
	}
}
