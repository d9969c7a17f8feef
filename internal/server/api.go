package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/MrWong99/voxassist/internal/classifier"
	"github.com/MrWong99/voxassist/internal/observe"
	"github.com/MrWong99/voxassist/pkg/command"
)

// handleClassify handles POST /api/classify.
func (s *Server) handleClassify(w http.ResponseWriter, r *http.Request) {
	var req classifier.ClassifyRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Utterance = strings.TrimSpace(req.Utterance)
	if req.Utterance == "" {
		writeError(w, http.StatusBadRequest, "utterance is required")
		return
	}

	ctx := observe.WithSession(r.Context(), ensureSessionCookie(w, r))

	cmd, err := s.cfg.Classifier.ClassifyAs(ctx, req.Persona(), req.Utterance)
	if err != nil {
		var ce *command.ClassificationError
		if !errors.As(err, &ce) {
			ce = command.AsClassificationError(req.Utterance, "classifier failed", err)
		}
		observe.Logger(ctx).Warn("server: classify failed", "utterance", req.Utterance, "err", ce)
		writeError(w, http.StatusBadGateway, "classification failed")
		return
	}
	writeJSON(w, http.StatusOK, cmd)
}

// handleLogout handles GET /api/auth/logout.
func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func ensureSessionCookie(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, classifier.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
