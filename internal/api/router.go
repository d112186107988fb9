package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/linkledger/internal/linkservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *linkservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Ledger.
	r.Get("/ledger", h.GetLedger)
	r.Get("/ledger/raw", h.GetRawLedger)
	r.Get("/ledger/history", h.History)
	r.Post("/ledger/repair", h.Repair)

	// Links.
	r.Get("/links", h.ListLinks)
	r.Post("/links", h.AddLink)
	r.Delete("/links", h.DeleteLink)
	r.Post("/links/bulk-delete", h.DeleteLinks)
	r.Get("/categories", h.ListCategories)

	// Search.
	r.Get("/search", h.Search)

	// Store diagnostics.
	r.Get("/store/status", h.StoreStatus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
