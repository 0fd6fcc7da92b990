package adapthttp

import (
	"errors"
	"net/http"

	"calorielog/internal/app"
	"calorielog/internal/domain"
)

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	switch r.Method {
	case http.MethodGet:
		items, err := s.history.List(r.Context(), user.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})

	case http.MethodPost:
		var a domain.FoodAnalysis
		if err := parseJSON(r, &a); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		entry, err := s.history.Save(r.Context(), user.ID, a)
		if errors.Is(err, app.ErrInvalidAnalysis) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entry": entry})

	case http.MethodDelete:
		if err := s.history.Clear(r.Context(), user.ID); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		methodNotAllowed(w)
	}
}

func (s *Server) handleHistoryEntry(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r)
	id := r.PathValue("id")
	switch r.Method {
	case http.MethodGet:
		a, err := s.history.Get(r.Context(), user.ID, id)
		if errors.Is(err, app.ErrEntryNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"analysis": a})

	case http.MethodDelete:
		if err := s.history.Delete(r.Context(), user.ID, id); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})

	default:
		methodNotAllowed(w)
	}
}
