package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/supportlens/supportlens/internal/gate"
	"github.com/supportlens/supportlens/internal/model"
	"github.com/supportlens/supportlens/internal/store"
)

// apiServer holds the handlers behind the route table.
type apiServer struct {
	store store.Store
	gate  *gate.Gate
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("encode response", zap.Error(err))
	}
}

// writeStoreError maps store sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case eris.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case eris.Is(err, store.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "conflict"})
	default:
		zap.L().Error("api request failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func queryInt(r *http.Request, key, fallback string) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		raw = fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

func (s *apiServer) listSlugs(w http.ResponseWriter, r *http.Request) {
	filter := store.SlugFilter{
		Limit:  queryInt(r, "limit", "100"),
		Offset: queryInt(r, "offset", "0"),
	}
	if raw := r.URL.Query().Get("match"); raw != "" {
		match, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "match must be true or false"})
			return
		}
		filter.Match = &match
	}

	slugs, err := s.store.ListSlugsWithStats(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if slugs == nil {
		slugs = []model.SlugWithStats{}
	}
	writeJSON(w, http.StatusOK, slugs)
}

func (s *apiServer) getSlug(w http.ResponseWriter, r *http.Request) {
	key := model.NormalizeSlug(chi.URLParam(r, "slug"))
	slug, err := s.store.GetSlugWithStats(r.Context(), key)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, slug)
}

func (s *apiServer) listRecommendations(w http.ResponseWriter, r *http.Request) {
	filter := store.RecommendationFilter{
		Slug:     model.NormalizeSlug(chi.URLParam(r, "slug")),
		Status:   r.URL.Query().Get("status"),
		Priority: model.Priority(r.URL.Query().Get("priority")),
		Limit:    queryInt(r, "limit", "100"),
		Offset:   queryInt(r, "offset", "0"),
	}
	if filter.Priority != "" && !filter.Priority.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "priority must be low, medium or high"})
		return
	}

	recs, err := s.store.ListRecommendations(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if recs == nil {
		recs = []model.Recommendation{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *apiServer) getRecommendation(w http.ResponseWriter, r *http.Request) {
	detail, err := s.store.GetRecommendationDetail(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *apiServer) listProgress(w http.ResponseWriter, r *http.Request) {
	filter := store.ProgressFilter{
		Slug:   model.NormalizeSlug(chi.URLParam(r, "slug")),
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  queryInt(r, "limit", "50"),
		Offset: queryInt(r, "offset", "0"),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "status must be pending, running, completed or failed"})
		return
	}

	runs, err := s.store.ListProgress(r.Context(), filter)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if runs == nil {
		runs = []model.AnalysisProgress{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *apiServer) getProgress(w http.ResponseWriter, r *http.Request) {
	prog, err := s.store.GetProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prog)
}

// Page handlers. Rendering proper lives in the frontend; these exist so the
// gate has something to protect and the login flow has a landing spot.

func (s *apiServer) loginPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>supportlens login</title><p>Sign in via your identity provider to receive a session cookie.</p>")
}

// logout drops the session cookie and sends the browser back to login.
func (s *apiServer) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.gate.CookieName(),
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	http.Redirect(w, r, s.gate.LoginPath(), http.StatusFound)
}

func (s *apiServer) dashboardPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<!doctype html><title>supportlens</title><div id=\"root\"></div>")
}

func (s *apiServer) slugPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, "<!doctype html><title>supportlens: %s</title><div id=\"root\"></div>", chi.URLParam(r, "slug"))
}
