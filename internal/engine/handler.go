package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/nukleo/kasa/internal/cache"
	"github.com/nukleo/kasa/internal/classify"
)

const (
	// CacheStatusHeader tags every intercepted response with how it was
	// resolved: HIT, MISS or FALLBACK.
	CacheStatusHeader = "X-Kasa-Cache"

	fetchTimeout = 30 * time.Second
	storeTimeout = 10 * time.Second
)

type Handler struct {
	reg   *Registration
	proxy *httputil.ReverseProxy
}

func NewHandler(reg *Registration) (*Handler, error) {
	u, err := url.Parse(reg.Origin.BaseURL())
	if err != nil {
		return nil, err
	}
	return &Handler{
		reg:   reg,
		proxy: httputil.NewSingleHostReverseProxy(u),
	}, nil
}

type fetchResult struct {
	status int
	header http.Header
	body   []byte
	err    error
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.reg.Registered() {
		h.proxy.ServeHTTP(w, r)
		return
	}

	cls := h.reg.Rules.Classify(r)
	if cls == classify.Ignored {
		h.proxy.ServeHTTP(w, r)
		return
	}

	handle := h.reg.Handle()
	if handle == nil {
		// No cache generation yet; proceed without caching.
		h.proxy.ServeHTTP(w, r)
		return
	}

	h.serveStaleWhileRevalidate(w, r, cls, handle)
}

// serveStaleWhileRevalidate races the cache lookup against a network fetch
// that starts immediately. A cache hit always wins: it is returned without
// waiting on the network, and the fetch result replaces the entry in the
// background. On a miss the caller waits for the network.
func (h *Handler) serveStaleWhileRevalidate(w http.ResponseWriter, r *http.Request, cls classify.Classification, handle cache.Handle) {
	key := r.URL.RequestURI()

	// The fetch outlives the request when the caller is answered from
	// cache, so it runs on a detached context.
	fetchCtx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	results := make(chan fetchResult, 1)
	headers := r.Header.Clone()
	go func() {
		resp, body, err := h.reg.Origin.Fetch(fetchCtx, key, headers)
		if err != nil {
			results <- fetchResult{err: err}
			return
		}
		results <- fetchResult{status: resp.StatusCode, header: resp.Header.Clone(), body: body}
	}()

	ent, err := handle.Match(r.Context(), key)
	if err == nil {
		writeEntry(w, ent, "HIT")
		go h.storeWhenDone(handle, key, results, cancel)
		return
	}
	if !errors.Is(err, cache.ErrNotFound) {
		h.reg.logf("cache match %s: %v", key, err)
	}

	res := <-results
	cancel()
	if res.err != nil {
		if cls == classify.Navigable && isNavigation(r) {
			if shell, serr := handle.Match(r.Context(), h.reg.ShellPath); serr == nil {
				writeEntry(w, shell, "FALLBACK")
				return
			}
		}
		h.reg.logf("origin fetch %s: %v", key, res.err)
		http.Error(w, "bad gateway", http.StatusBadGateway)
		return
	}

	writeUpstream(w, res)
	go h.store(handle, key, cache.EntryFromResponse(res.status, res.header, res.body))
}

// storeWhenDone finishes the background revalidation after the caller has
// already been answered from cache. Nothing waits on it and nothing may
// fail because of it.
func (h *Handler) storeWhenDone(handle cache.Handle, key string, results <-chan fetchResult, cancel context.CancelFunc) {
	defer cancel()
	res := <-results
	if res.err != nil {
		h.reg.logf("revalidate %s: %v", key, res.err)
		return
	}
	h.store(handle, key, cache.EntryFromResponse(res.status, res.header, res.body))
}

func (h *Handler) store(handle cache.Handle, key string, ent cache.Entry) {
	if !cache.Cacheable(key, ent) {
		h.reg.logf("skip cache put %s: status %d", key, ent.Status)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := handle.Put(ctx, key, ent); err != nil {
		h.reg.logf("cache put %s: %v", key, err)
	}
}

func isNavigation(r *http.Request) bool {
	if mode := r.Header.Get("Sec-Fetch-Mode"); mode != "" {
		return mode == "navigate"
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeEntry(w http.ResponseWriter, ent cache.Entry, status string) {
	for k, vv := range ent.Header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(CacheStatusHeader, status)
	w.WriteHeader(ent.Status)
	_, _ = w.Write(ent.Body)
}

func writeUpstream(w http.ResponseWriter, res fetchResult) {
	for k, vv := range res.header {
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.Header().Set(CacheStatusHeader, "MISS")
	w.WriteHeader(res.status)
	_, _ = w.Write(res.body)
}
