package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/waymark/internal/anchorstore"
	"github.com/starford/waymark/internal/apperr"
	"github.com/starford/waymark/internal/models"
	"github.com/starford/waymark/internal/workspace"
)

// Handler holds API route handlers.
type Handler struct {
	svc *workspace.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *workspace.Service) *Handler {
	return &Handler{svc: svc}
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as an internal error.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrInvalidWorkspace):
		writeJSON(w, http.StatusBadRequest, errorBody("invalid workspace name"))
	case errors.Is(err, apperr.ErrInvalidDocument):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrWriteFailure):
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusServiceUnavailable, errorBody("could not persist anchors"))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListWorkspaces handles GET /api/workspaces.
//
//	@Summary		List indexed workspaces
//	@Tags			workspaces
//	@Produce		json
//	@Success		200		{object}	WorkspaceListResponse
//	@Security		BearerAuth
//	@Router			/workspaces [get]
func (h *Handler) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context())
	if err != nil {
		writeError(w, "list workspaces", err)
		return
	}
	writeJSON(w, http.StatusOK, WorkspaceListResponse{Workspaces: list})
}

// ListGroups handles GET /api/workspaces/{workspace}/groups.
//
//	@Summary		List the reference groups of a workspace
//	@Tags			workspaces
//	@Produce		json
//	@Param			workspace	path		string	true	"Workspace name"
//	@Success		200			{object}	GroupListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/groups [get]
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := h.svc.Groups(r.Context(), chi.URLParam(r, "workspace"))
	if err != nil {
		writeError(w, "list groups", err)
		return
	}
	writeJSON(w, http.StatusOK, GroupListResponse{Groups: groups})
}

// GetDocument handles GET /api/workspaces/{workspace}/document.
// The body is the canonical persisted document.
//
//	@Summary		Get the anchor document of a workspace
//	@Tags			workspaces
//	@Produce		json
//	@Param			workspace	path	string	true	"Workspace name"
//	@Success		200
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/document [get]
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "workspace")
	doc, err := h.svc.Document(r.Context(), name)
	if err != nil {
		writeError(w, "get document", err)
		return
	}
	data, err := anchorstore.Encode(doc)
	if err != nil {
		writeError(w, "encode document", err)
		return
	}
	writeDocument(w, data)
}

// ImportDocument handles PUT /api/workspaces/{workspace}/document.
// The body may be in the canonical format or one of the legacy shapes; it is
// stored canonically.
//
//	@Summary		Replace the anchor document of a workspace
//	@Tags			workspaces
//	@Accept			json
//	@Produce		json
//	@Param			workspace	path		string	true	"Workspace name"
//	@Param			key			query		string	false	"Image key for a single-record document"
//	@Failure		413			{object}	errResponse
//	@Success		200			{object}	models.WorkspaceSummary
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/document [put]
func (h *Handler) ImportDocument(w http.ResponseWriter, r *http.Request) {
	data, ok := readBody(w, r, maxDocumentBody)
	if !ok {
		return
	}
	name := chi.URLParam(r, "workspace")
	doc, err := h.svc.Import(r.Context(), name, data, r.URL.Query().Get("key"))
	if err != nil {
		writeError(w, "import document", err)
		return
	}
	writeJSON(w, http.StatusOK, models.WorkspaceSummary{
		Name:        name,
		GroupCount:  len(doc.Groups),
		RecordCount: doc.RecordCount(),
	})
}

// ClearDocument handles DELETE /api/workspaces/{workspace}/document.
//
//	@Summary		Clear every anchor of a workspace
//	@Tags			workspaces
//	@Param			workspace	path	string	true	"Workspace name"
//	@Success		204			"Anchors cleared"
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/document [delete]
func (h *Handler) ClearDocument(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ClearAll(r.Context(), chi.URLParam(r, "workspace")); err != nil {
		writeError(w, "clear document", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClearGroup handles DELETE /api/workspaces/{workspace}/groups/{id}.
//
//	@Summary		Clear one reference group
//	@Tags			workspaces
//	@Param			workspace	path	string	true	"Workspace name"
//	@Param			id			path	string	true	"Group id"
//	@Success		204			"Group cleared"
//	@Failure		404			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/groups/{id} [delete]
func (h *Handler) ClearGroup(w http.ResponseWriter, r *http.Request) {
	err := h.svc.ClearGroup(r.Context(), chi.URLParam(r, "workspace"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "clear group", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Tick handles POST /api/workspaces/{workspace}/tick.
//
//	@Summary		Advance a workspace by one tracking frame
//	@Tags			placement
//	@Accept			json
//	@Produce		json
//	@Param			workspace	path		string		true	"Workspace name"
//	@Param			body		body		TickRequest	true	"Tracking changes and placement intent"
//	@Success		200			{object}	TickResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/workspaces/{workspace}/tick [post]
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if !decodeBody(w, r, maxTickBody, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	name := chi.URLParam(r, "workspace")
	out, err := h.svc.Tick(r.Context(), name, req.input())
	if err != nil {
		writeError(w, "tick", err)
		return
	}
	if out.Err != nil && !workspace.IsClientError(out.Err) {
		slog.Warn("placement failed", slog.String("workspace", name), slog.String("error", out.Err.Error()))
	}
	writeJSON(w, http.StatusOK, tickResponse(name, out))
}

// SearchKeys handles GET /api/search/keys.
//
//	@Summary		Search reference keys across workspaces
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	KeySearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search/keys [get]
func (h *Handler) SearchKeys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.SearchKeys(r.Context(), q, limit)
	if err != nil {
		slog.Error("search failed", slog.String("query", q), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, KeySearchResponse{Results: results})
}
