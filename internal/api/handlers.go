package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/bbu-fleet/bbu-server/internal/campaign"
	"github.com/bbu-fleet/bbu-server/internal/dispatcher"
	"github.com/bbu-fleet/bbu-server/internal/storage"
	"github.com/bbu-fleet/bbu-server/internal/validation"
)

// ========== Health ==========

// HandleHealth health check
func (s *RESTServer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"version": s.version,
		"time":    s.clock.Now(),
		"rf_open": s.registry.RFOpen(),
	})
}

// ========== Device handlers ==========

// HandleListDevices lists the device snapshot
func (s *RESTServer) HandleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.registry.Snapshot(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices": devices,
		"total":   len(devices),
	})
}

// ========== Campaign handlers ==========

// HandleStartCampaign starts a campaign
func (s *RESTServer) HandleStartCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaign.StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := s.campaigns.Start(r.Context(), req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, resp)
}

// HandleActiveCampaign returns the running campaign
func (s *RESTServer) HandleActiveCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.campaigns.Active(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

// HandleGetCampaign gets a campaign
func (s *RESTServer) HandleGetCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	c, err := s.campaigns.Get(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, c)
}

// HandleStopCampaign stops a campaign by id
func (s *RESTServer) HandleStopCampaign(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	results, err := s.campaigns.Stop(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondResults(w, results)
}

// HandleStopActiveCampaign stops whatever campaign is running
func (s *RESTServer) HandleStopActiveCampaign(w http.ResponseWriter, r *http.Request) {
	results, err := s.campaigns.StopActive(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondResults(w, results)
}

// HandleListCrawls lists crawl records of a campaign
func (s *RESTServer) HandleListCrawls(w http.ResponseWriter, r *http.Request) {
	id, ok := s.campaignID(w, r)
	if !ok {
		return
	}

	rows, err := s.campaigns.Crawls(r.Context(), id)
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"crawls": rows,
		"total":  len(rows),
	})
}

// ========== Target handlers ==========

// HandleListTargets lists targets
func (s *RESTServer) HandleListTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.campaigns.Targets(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"targets": targets,
		"total":   len(targets),
	})
}

// HandleAddTarget adds a target
func (s *RESTServer) HandleAddTarget(w http.ResponseWriter, r *http.Request) {
	var req campaign.TargetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, results, err := s.campaigns.AddTarget(r.Context(), req)
	if err != nil {
		s.respondFailure(w, err)
		return
	}

	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"target":  target,
		"results": results,
		"failed":  dispatcher.Failed(results),
	})
}

// ========== Sniffer handlers ==========

// HandleStartSniffer starts frequency scanning on every sniffer device
func (s *RESTServer) HandleStartSniffer(w http.ResponseWriter, r *http.Request) {
	results, err := s.registry.StartSniffer(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondResults(w, results)
}

// HandleSnifferProgress returns scanning progress
func (s *RESTServer) HandleSnifferProgress(w http.ResponseWriter, r *http.Request) {
	progress, err := s.registry.SnifferProgress(r.Context())
	if err != nil {
		s.respondFailure(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, progress)
}

// ========== Helper functions ==========

func (s *RESTServer) campaignID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "invalid campaign id")
		return 0, false
	}
	return id, true
}

// statusFor 把领域错误映射为 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, validation.ErrValidation),
		errors.Is(err, campaign.ErrUnknownMode),
		errors.Is(err, campaign.ErrInvalidDuration):
		return http.StatusBadRequest
	case errors.Is(err, campaign.ErrNotFound),
		errors.Is(err, campaign.ErrNoActiveCampaign),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, campaign.ErrTargetExists),
		errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, campaign.ErrNoDevices):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *RESTServer) respondFailure(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("request failed")
	}
	s.respondError(w, status, err.Error())
}

func (s *RESTServer) respondResults(w http.ResponseWriter, results []dispatcher.Result) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"failed":  dispatcher.Failed(results),
	})
}

// respondJSON responds with JSON
func (s *RESTServer) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to marshal response")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(response)
}

// respondError responds with error
func (s *RESTServer) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{
		"error": message,
	})
}
