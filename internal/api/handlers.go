package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/foxzi/prospector/internal/models"
	"github.com/foxzi/prospector/internal/orchestrator"
	"github.com/foxzi/prospector/internal/repository"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

// CampaignResponse is a campaign with its per-status link counts
type CampaignResponse struct {
	*models.Campaign
	Stats        models.CampaignStats `json:"stats"`
	AgentRunning bool                 `json:"agent_running"`
}

// LinksResponse lists the links of a campaign
type LinksResponse struct {
	CampaignID string                   `json:"campaign_id"`
	Links      []models.LinkWithContact `json:"links"`
	Total      int                      `json:"total"`
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.sendJSON(w, http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: s.version,
		Uptime:  time.Since(s.startTime).Round(time.Second).String(),
	})
}

// handleGetCampaign handles GET /api/v1/campaigns/{id}
func (s *Server) handleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	stats, err := s.svc.Campaigns.Stats(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign stats", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to get campaign stats")
		return
	}

	s.sendJSON(w, http.StatusOK, CampaignResponse{
		Campaign:     c,
		Stats:        stats,
		AgentRunning: s.svc.Control.Running(id),
	})
}

// handleStartCampaign handles POST /api/v1/campaigns/{id}/start
func (s *Server) handleStartCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Control.StartCampaign(r.Context(), id)
	if errors.Is(err, orchestrator.ErrCampaignNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to start campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to start campaign")
		return
	}

	s.logger.Info("campaign started", "id", id)
	s.sendJSON(w, http.StatusOK, c)
}

// handleStopCampaign handles POST /api/v1/campaigns/{id}/stop
func (s *Server) handleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Control.StopCampaign(r.Context(), id)
	if errors.Is(err, orchestrator.ErrCampaignNotFound) {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to stop campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to stop campaign")
		return
	}

	s.logger.Info("campaign stopped", "id", id)
	s.sendJSON(w, http.StatusOK, c)
}

// handleDeleteCampaign handles DELETE /api/v1/campaigns/{id}
func (s *Server) handleDeleteCampaign(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	err = s.svc.Campaigns.Delete(r.Context(), id)
	if errors.Is(err, repository.ErrCampaignRunning) {
		s.sendError(w, http.StatusConflict, "Campaign is running, stop it first")
		return
	}
	if err != nil {
		s.logger.Error("failed to delete campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to delete campaign")
		return
	}

	if s.svc.Cooldown != nil {
		if err := s.svc.Cooldown.Forget(r.Context(), id); err != nil {
			s.logger.Warn("failed to forget campaign cooldown", "id", id, "error", err)
		}
	}

	s.logger.Info("campaign deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

// handleListLinks handles GET /api/v1/campaigns/{id}/links
func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	c, err := s.svc.Campaigns.GetByID(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to get campaign", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list links")
		return
	}
	if c == nil {
		s.sendError(w, http.StatusNotFound, "Campaign not found")
		return
	}

	links, err := s.svc.Links.ListByCampaign(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to list links", "id", id, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to list links")
		return
	}
	if links == nil {
		links = []models.LinkWithContact{}
	}

	s.sendJSON(w, http.StatusOK, LinksResponse{
		CampaignID: id,
		Links:      links,
		Total:      len(links),
	})
}

// handleRemoveLink handles DELETE /api/v1/campaigns/{id}/links/{linkID}
func (s *Server) handleRemoveLink(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	linkID := chi.URLParam(r, "linkID")

	err := s.svc.Links.Remove(r.Context(), id, linkID)
	switch {
	case errors.Is(err, repository.ErrCampaignRunning):
		s.sendError(w, http.StatusConflict, "Campaign is running, stop it first")
		return
	case errors.Is(err, repository.ErrNotFound):
		s.sendError(w, http.StatusNotFound, "Link not found")
		return
	case err != nil:
		s.logger.Error("failed to remove link", "campaign_id", id, "link_id", linkID, "error", err)
		s.sendError(w, http.StatusInternalServerError, "Failed to remove link")
		return
	}

	s.logger.Info("link removed", "campaign_id", id, "link_id", linkID)
	w.WriteHeader(http.StatusNoContent)
}

// sendJSON sends a JSON response
func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

// sendError sends an error response
func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, ErrorResponse{Error: message})
}
