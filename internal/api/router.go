package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/richfilter/internal/docservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *docservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Stateless sanitizing.
	r.Post("/filter", h.Filter)
	r.Get("/policy", h.Policy)

	// Documents CRUD.
	r.Get("/documents", h.ListDocuments)
	r.Post("/documents", h.CreateDocument)
	r.Get("/documents/*", h.GetDocument)
	r.Put("/documents/*", h.UpdateDocument)
	r.Patch("/documents/*", h.MoveDocument)
	r.Delete("/documents/*", h.DeleteDocument)

	// HTML rendering.
	r.Get("/render/*", h.RenderDocument)

	// Filter history.
	r.Get("/runs", h.Runs)
	r.Get("/runs/*", h.Runs)

	// Search.
	r.Get("/search", h.Search)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
