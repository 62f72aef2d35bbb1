package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/waymark/internal/workspace"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *workspace.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Workspaces.
	r.Get("/workspaces", h.ListWorkspaces)
	r.Route("/workspaces/{workspace}", func(r chi.Router) {
		r.Get("/document", h.GetDocument)
		r.Put("/document", h.ImportDocument)
		r.Delete("/document", h.ClearDocument)
		r.Get("/groups", h.ListGroups)
		r.Delete("/groups/{id}", h.ClearGroup)
		r.Post("/tick", h.Tick)
	})

	// Key search.
	r.Get("/search/keys", h.SearchKeys)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
