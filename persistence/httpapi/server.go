// Package httpapi serves a persistence.Service as a JSON REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/always-cache/travelnotes/auth"
	"github.com/always-cache/travelnotes/persistence"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// maximum accepted request body, notes included
const maxBodyBytes = 4 << 20

type server struct {
	svc persistence.Service
}

// NewHandler returns the REST API for svc. Every /api route requires a bearer token from issuer.
func NewHandler(svc persistence.Service, issuer *auth.Issuer, logger zerolog.Logger) http.Handler {
	s := &server{svc: svc}

	r := chi.NewRouter()
	r.Use(hlog.NewHandler(logger))
	r.Use(hlog.RequestIDHandler("req_id", "Request-Id"))
	r.Use(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Msg("")
	}))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	r.Route("/api", func(r chi.Router) {
		r.Use(issuer.Middleware)
		r.Get("/folders", s.listFolders)
		r.Post("/folders", s.createFolder)
		r.Patch("/folders/{id}", s.updateFolder)
		r.Delete("/folders/{id}", s.deleteFolder)
		r.Get("/notes", s.listNotes)
		r.Post("/notes", s.createNote)
		r.Patch("/notes/{id}", s.updateNote)
		r.Delete("/notes/{id}", s.deleteNote)
	})
	return r
}

func (s *server) listFolders(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	folders, err := s.svc.ListFolders(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, folders)
}

func (s *server) createFolder(w http.ResponseWriter, r *http.Request) {
	var in persistence.NewFolder
	if !decode(w, r, &in) {
		return
	}
	userID, _ := auth.UserID(r.Context())
	f, err := s.svc.CreateFolder(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

func (s *server) updateFolder(w http.ResponseWriter, r *http.Request) {
	var patch persistence.FolderPatch
	if !decode(w, r, &patch) {
		return
	}
	userID, _ := auth.UserID(r.Context())
	f, err := s.svc.UpdateFolder(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *server) deleteFolder(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.svc.DeleteFolder(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) listNotes(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	notes, err := s.svc.ListNotes(r.Context(), userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, notes)
}

func (s *server) createNote(w http.ResponseWriter, r *http.Request) {
	var in persistence.NewNote
	if !decode(w, r, &in) {
		return
	}
	userID, _ := auth.UserID(r.Context())
	n, err := s.svc.CreateNote(r.Context(), userID, in)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

func (s *server) updateNote(w http.ResponseWriter, r *http.Request) {
	var patch persistence.NotePatch
	if !decode(w, r, &patch) {
		return
	}
	userID, _ := auth.UserID(r.Context())
	n, err := s.svc.UpdateNote(r.Context(), userID, chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

func (s *server) deleteNote(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.UserID(r.Context())
	if err := s.svc.DeleteNote(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid request body"})
		return false
	}
	return true
}

type errorBody struct {
	Error string `json:"error"`
}

// StatusFor maps a service error to its HTTP status.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, persistence.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, persistence.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, persistence.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, persistence.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Msg("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
