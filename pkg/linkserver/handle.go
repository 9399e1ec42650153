// Package linkserver exposes the HTTP(S) deep-link entry point on the
// device: the target the emailed verification link resolves to when the
// custom scheme is unavailable (desktop browsers, web builds).
package linkserver

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

// Sink receives the raw inbound link for processing. The orchestrator's
// HandleDeepLink satisfies it.
type Sink func(ctx context.Context, raw string) error

// Handler serves the verification-link routes.
type Handler struct {
	sink Sink
}

func NewHandler(sink Sink) *Handler {
	return &Handler{sink: sink}
}

// Routes returns the chi router for the deep-link entry point.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/verify-email", h.handleVerifyEmail)
	return r
}

type ackResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleVerifyEmail(w http.ResponseWriter, r *http.Request) {
	// Reconstruct the full link so the parser sees the same string the
	// email carried.
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	raw := scheme + "://" + r.Host + r.URL.RequestURI()

	if err := h.sink(r.Context(), raw); err != nil {
		slog.Warn("Inbound verification link rejected", "error", err)
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "This verification link could not be processed."})
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, ackResponse{Message: "Verification received. You can return to the app."})
}
