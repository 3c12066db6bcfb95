package lifecycle

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/storage"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/classify"
	"github.com/nukleo/kasa/internal/engine"
	"github.com/nukleo/kasa/internal/origin"
	"github.com/nukleo/kasa/internal/precache"
)

func newMemStore(t *testing.T) cache.Store {
	t.Helper()
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return cache.NewLevelDBStore(db)
}

func newController(t *testing.T, store cache.Store, originURL string, assets []string) (*Controller, *engine.Registration) {
	t.Helper()
	client := origin.NewClient(originURL)
	reg := engine.NewRegistration(store, classify.DefaultRules(), client, "/", false)
	return &Controller{
		Store:        store,
		Version:      "v2",
		MaxAge:       cache.DefaultMaxAge,
		Loader:       &precache.Loader{Origin: client, Assets: assets},
		Registration: reg,
	}, reg
}

func TestRunInstallsAndActivates(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("asset:" + r.URL.Path))
	}))
	defer upstream.Close()

	ctx := context.Background()
	store := newMemStore(t)

	// A prior generation that activation must tear down.
	v1, err := store.Open(ctx, "v1")
	if err != nil {
		t.Fatal(err)
	}
	if err := v1.Put(ctx, "/", cache.Entry{Status: 200, Body: []byte("old"), CapturedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}

	c, reg := newController(t, store, upstream.URL, []string{"/", "/index.html", "/favicon.ico"})
	if c.State() != StateNew {
		t.Fatalf("state = %s before run", c.State())
	}
	c.Run(ctx)

	if c.State() != StateActive {
		t.Fatalf("state = %s, want active", c.State())
	}

	versions, err := store.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(versions) != 1 || versions[0] != "v2" {
		t.Fatalf("versions = %v, want exactly [v2]", versions)
	}

	handle := reg.Handle()
	if handle == nil {
		t.Fatal("registration has no handle after activation")
	}
	for _, asset := range []string{"/", "/index.html", "/favicon.ico"} {
		ent, err := handle.Match(ctx, asset)
		if err != nil {
			t.Fatalf("asset %q not precached: %v", asset, err)
		}
		if string(ent.Body) != "asset:"+asset {
			t.Fatalf("asset %q body = %q", asset, ent.Body)
		}
	}
}

func TestInstallToleratesUnreachableAsset(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fonts/missing.woff2" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	ctx := context.Background()
	store := newMemStore(t)
	c, reg := newController(t, store, upstream.URL, []string{"/", "/fonts/missing.woff2", "/index.html"})
	c.Run(ctx)

	if c.State() != StateActive {
		t.Fatalf("state = %s, install must survive a partial precache failure", c.State())
	}

	handle := reg.Handle()
	if _, err := handle.Match(ctx, "/"); err != nil {
		t.Fatalf("/ not cached: %v", err)
	}
	if _, err := handle.Match(ctx, "/index.html"); err != nil {
		t.Fatalf("asset after the failing one not cached: %v", err)
	}
	if _, err := handle.Match(ctx, "/fonts/missing.woff2"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatal("404 asset ended up in the cache")
	}
}

func TestActivateSweepsExpiredEntries(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	ctx := context.Background()
	store := newMemStore(t)

	// Seed the current generation with an entry past MaxAge.
	v2, err := store.Open(ctx, "v2")
	if err != nil {
		t.Fatal(err)
	}
	if err := v2.Put(ctx, "/ancient", cache.Entry{
		Status:     200,
		Body:       []byte("ancient"),
		CapturedAt: time.Now().Add(-8 * 24 * time.Hour),
	}); err != nil {
		t.Fatal(err)
	}

	c, reg := newController(t, store, upstream.URL, []string{"/"})
	c.Run(ctx)

	handle := reg.Handle()
	if _, err := handle.Match(ctx, "/ancient"); !errors.Is(err, cache.ErrNotFound) {
		t.Fatal("expired entry survived activation sweep")
	}
	if _, err := handle.Match(ctx, "/"); err != nil {
		t.Fatalf("freshly precached entry swept: %v", err)
	}
}

func TestActivateToleratesDeletionFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	ctx := context.Background()
	store := &flakyStore{Store: newMemStore(t), failDelete: "v0"}
	if _, err := store.Open(ctx, "v0"); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Open(ctx, "v1"); err != nil {
		t.Fatal(err)
	}

	c, _ := newController(t, store, upstream.URL, []string{"/"})
	c.Run(ctx)

	if c.State() != StateActive {
		t.Fatalf("state = %s, one failed deletion must not block activation", c.State())
	}
	versions, err := store.ListVersions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// v0 deletion failed, v1 must still be gone.
	for _, v := range versions {
		if v == "v1" {
			t.Fatalf("versions = %v, v1 not deleted", versions)
		}
	}
}

type flakyStore struct {
	cache.Store
	failDelete string
}

func (s *flakyStore) DeleteVersion(ctx context.Context, version string) error {
	if version == s.failDelete {
		return errors.New("simulated storage failure")
	}
	return s.Store.DeleteVersion(ctx, version)
}
