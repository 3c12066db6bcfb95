// Package control exposes the imperative purge contract to page-level
// error handlers.
package control

import (
	"log"
	"net/http"

	"github.com/nukleo/kasa/internal/engine"
)

// Handler destroys every cache version and unregisters the engine. It
// takes no parameters; the reply only reports whether best-effort cleanup
// fully succeeded.
type Handler struct {
	Registration *engine.Registration
	Verbose      bool
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := h.Registration.PurgeAndUnregister(r.Context()); err != nil {
		if h.Verbose {
			log.Printf("purge: %v", err)
		}
		http.Error(w, "purge incomplete", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
