package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/org/passkeeper/internal/secret"
)

func entryID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	return id, err == nil && id > 0
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}

// EntryListHandler handles GET /api/passwords
//
// Query: category, q (or search), favorites=true, reveal=true.
func (s *Server) EntryListHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := q.Get("q")
	if search == "" {
		search = q.Get("search")
	}
	identity := identityFromCtx(r.Context())

	views, err := s.entries.List(r.Context(), identity.AccountID, secret.ListOptions{
		Category:      q.Get("category"),
		Search:        search,
		FavoritesOnly: queryBool(r, "favorites"),
		Reveal:        queryBool(r, "reveal"),
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passwords": views, "count": len(views)})
}

// EntryCreateHandler handles POST /api/passwords
func (s *Server) EntryCreateHandler(w http.ResponseWriter, r *http.Request) {
	var in secret.EntryInput
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	view, err := s.entries.Create(r.Context(), identity.AccountID, in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"password": view})
}

// EntryGetHandler handles GET /api/passwords/{id}
func (s *Server) EntryGetHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid password ID")
		return
	}
	identity := identityFromCtx(r.Context())
	view, err := s.entries.Get(r.Context(), identity.AccountID, id)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"password": view})
}

// EntryUpdateHandler handles PUT /api/passwords/{id}
func (s *Server) EntryUpdateHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid password ID")
		return
	}
	var patch secret.EntryPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	view, err := s.entries.Update(r.Context(), identity.AccountID, id, patch)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"password": view})
}

// EntryDeleteHandler handles DELETE /api/passwords/{id}
func (s *Server) EntryDeleteHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid password ID")
		return
	}
	identity := identityFromCtx(r.Context())
	if err := s.entries.Delete(r.Context(), identity.AccountID, id); err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EntryBulkDeleteHandler handles POST /api/passwords/bulk-delete
func (s *Server) EntryBulkDeleteHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	identity := identityFromCtx(r.Context())
	n, err := s.entries.BulkDelete(r.Context(), identity.AccountID, req.IDs)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": n})
}

// EntryStatsHandler handles GET /api/passwords/stats
func (s *Server) EntryStatsHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromCtx(r.Context())
	st, err := s.entries.Stats(r.Context(), identity.AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": st})
}

// EntryCategoriesHandler handles GET /api/passwords/categories
func (s *Server) EntryCategoriesHandler(w http.ResponseWriter, r *http.Request) {
	identity := identityFromCtx(r.Context())
	cats, err := s.entries.Categories(r.Context(), identity.AccountID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"categories": cats})
}
