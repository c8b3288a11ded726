package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/couchcryptid/fire-perimeter-service/internal/observability"
)

// Presigner produces a download URL for <prefix>/<fire>/<filename>.
type Presigner interface {
	Presign(ctx context.Context, fire, filename string) (string, error)
}

// RedirectHandler sends clients to presigned object store URLs for archived previews.
type RedirectHandler struct {
	presigner Presigner
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewRedirectHandler creates the preview redirect routes.
func NewRedirectHandler(presigner Presigner, logger *slog.Logger, metrics *observability.Metrics) *RedirectHandler {
	return &RedirectHandler{presigner: presigner, logger: logger, metrics: metrics}
}

// Mount registers GET /ready and GET /{fire}/{filename}.
func (h *RedirectHandler) Mount(r chi.Router) {
	r.Get("/ready", h.handleReady)
	r.Get("/{fire}/{filename}", h.handleRedirect)
}

func (h *RedirectHandler) handleReady(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *RedirectHandler) handleRedirect(w http.ResponseWriter, r *http.Request) {
	fire := cleanSegment(chi.URLParam(r, "fire"))
	filename := cleanSegment(chi.URLParam(r, "filename"))
	if fire == "" || filename == "" {
		h.count(http.StatusNotFound)
		http.NotFound(w, r)
		return
	}

	target, err := h.presigner.Presign(r.Context(), fire, filename)
	if err != nil {
		h.logger.Error("presign failed", "fire_number", fire, "filename", filename, "error", err)
		h.count(http.StatusBadGateway)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "could not sign download"})
		return
	}

	h.count(http.StatusTemporaryRedirect)
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func (h *RedirectHandler) count(status int) {
	h.metrics.RedirectRequests.WithLabelValues(strconv.Itoa(status)).Inc()
}

// cleanSegment trims dots and slashes from the ends of a path segment and rejects
// anything that could still escape the fire's prefix. It returns "" when nothing usable remains.
func cleanSegment(raw string) string {
	s, err := url.PathUnescape(raw)
	if err != nil {
		return ""
	}
	s = strings.Trim(s, `./\`)
	if s == "" || strings.Contains(s, "..") || strings.ContainsAny(s, `/\`) {
		return ""
	}
	return s
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
