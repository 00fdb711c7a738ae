package webhook

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
)

const maxBodySize = 10 << 20

// Observer counts handled webhook records
type Observer interface {
	WebhookEvent(result string)
}

// Handler serves the gateway webhook. It answers 200 to everything so the
// gateway never retries or disables the hook.
type Handler struct {
	ingestor *Ingestor
	observer Observer
}

// NewHandler creates a new handler. observer may be nil.
func NewHandler(ingestor *Ingestor, observer Observer) *Handler {
	return &Handler{ingestor: ingestor, observer: observer}
}

// Routes mounts the webhook endpoints
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook/evolution", h.handleEvolution)
	r.Post("/webhook/evolution/messages-upsert", h.handleEvolution)
}

type ackResponse struct {
	Status  string   `json:"status"`
	Results []Result `json:"results,omitempty"`
}

func (h *Handler) handleEvolution(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		h.ingestor.logger.Warn("failed to read webhook body", "error", err)
		h.ack(w, []Result{ResultMalformed})
		return
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		h.ingestor.logger.Warn("invalid webhook JSON", "error", err)
		h.ack(w, []Result{ResultMalformed})
		return
	}

	h.ack(w, h.ingestor.Ingest(r.Context(), &env))
}

func (h *Handler) ack(w http.ResponseWriter, results []Result) {
	if h.observer != nil {
		for _, res := range results {
			h.observer.WebhookEvent(string(res))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(ackResponse{Status: "received", Results: results})
}
