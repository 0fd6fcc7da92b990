package adapthttp

import (
	"context"
	"errors"
	"net/http"

	"calorielog/internal/app"
)

type analyzeRequest struct {
	ImageBase64 string `json:"imageBase64"`
	ImageURI    string `json:"imageUri"`
	ContentType string `json:"contentType"`
	Save        bool   `json:"save"`
}

func (req analyzeRequest) Acquire(context.Context) (*app.Capture, error) {
	return &app.Capture{URI: req.ImageURI, Base64: req.ImageBase64, ContentType: req.ContentType}, nil
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxImageBody)

	var req analyzeRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	user := userFromContext(r)
	a, err := s.orchestrator(user.ID).Run(r.Context(), req, nil)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, app.ErrNoImageData) || errors.Is(err, app.ErrPermissionDenied) {
			status = http.StatusBadRequest
		}
		title, msg, ok := app.Notice(err)
		if !ok {
			title, msg = "Error", err.Error()
		}
		writeJSON(w, status, map[string]any{"error": msg, "title": title})
		return
	}

	resp := map[string]any{"analysis": a}
	if req.Save {
		entry, err := s.history.Save(r.Context(), user.ID, *a)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		resp["entry"] = entry
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAnalyzeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, s.orchestrator(userFromContext(r).ID).Status())
}

var _ app.ImageSource = analyzeRequest{}
