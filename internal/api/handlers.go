package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pedrolm/mapscout/internal/metrics"
	"github.com/pedrolm/mapscout/internal/store"
)

type scrapeRequest struct {
	Region       string `json:"region"`
	BusinessType string `json:"business_type"`
	MaxResults   int    `json:"max_results"`
	Keywords     string `json:"keywords"`
	CampaignID   *int64 `json:"campaign_id"`
}

type leadResponse struct {
	NomeEmpresa string  `json:"nome_empresa"`
	Telefone    string  `json:"telefone,omitempty"`
	Localizacao string  `json:"localizacao,omitempty"`
	Avaliacao   float64 `json:"avaliacao_media,omitempty"`
	Reviews     int     `json:"reviews,omitempty"`
	Website     string  `json:"website,omitempty"`
}

// submitScrape accepts a search into the queue and answers immediately;
// processing happens in a separate worker process.
func (s *Server) submitScrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.MaxResults == 0 {
		req.MaxResults = 10
	}

	id, err := s.searches.Submit(r.Context(), store.SearchParams{
		CampaignID:   req.CampaignID,
		Region:       req.Region,
		BusinessType: req.BusinessType,
		Keywords:     strings.Fields(req.Keywords),
		MaxResults:   req.MaxResults,
	})
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue search")
		return
	}

	metrics.ObserveSubmission()
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message":  "search added to the processing queue",
		"task_id":  taskID(id),
		"busca_id": id,
	})
}

// getTaskStatus reports the last-committed state of a search. A task in
// processing only reports elapsed state, never progress.
func (s *Server) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	id, err := parseTaskID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid task id")
		return
	}

	summary, err := s.searches.StatusSummary(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.logger.Error("status lookup failed", zap.Int64("busca_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}

	resp := map[string]any{
		"task_id":  taskID(id),
		"busca_id": id,
		"status":   summary.Search.Status,
	}
	if summary.Search.Status.Terminal() && summary.Search.FinishedAt != nil {
		resp["finished_at"] = summary.Search.FinishedAt
	}
	if summary.Search.Status == store.SearchConcluido {
		results := make([]leadResponse, 0, len(summary.Leads))
		for _, lead := range summary.Leads {
			results = append(results, leadResponse{
				NomeEmpresa: lead.NomeEmpresa,
				Telefone:    lead.Telefone,
				Localizacao: lead.Localizacao,
				Avaliacao:   lead.Avaliacao,
				Reviews:     lead.Reviews,
				Website:     lead.Website,
			})
		}
		resp["results"] = results
	}
	if summary.Search.Status == store.SearchError && summary.Search.ErrorMessage != nil {
		resp["message"] = *summary.Search.ErrorMessage
	}
	writeJSON(w, http.StatusOK, resp)
}

// listTasks lists every known search, newest first.
func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	searches, err := s.searches.List(r.Context())
	if err != nil {
		s.logger.Error("list tasks failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list tasks")
		return
	}

	tasks := make([]map[string]any, 0, len(searches))
	for _, search := range searches {
		tasks = append(tasks, map[string]any{
			"task_id":    taskID(search.ID),
			"busca_id":   search.ID,
			"status":     search.Status,
			"created_at": search.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_tasks": len(tasks),
		"tasks":       tasks,
	})
}

// queueStatus exposes per-status counts and the head of the queue.
func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.searches.QueueStats(r.Context())
	if err != nil {
		s.logger.Error("queue stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch queue status")
		return
	}

	next := make([]map[string]any, 0, len(stats.NextUp))
	for i, search := range stats.NextUp {
		next = append(next, map[string]any{
			"position":      i + 1,
			"busca_id":      search.ID,
			"region":        search.Region,
			"business_type": search.BusinessType,
			"max_results":   search.MaxResults,
			"queued_at":     search.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queue_size":    stats.Waiting,
		"processing":    stats.Processing,
		"completed":     stats.Completed,
		"errors":        stats.Errors,
		"next_in_queue": next,
	})
}

type campaignRequest struct {
	Nome string `json:"nome"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	campaign, err := s.campaigns.Create(r.Context(), req.Nome)
	if err != nil {
		if errors.Is(err, store.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create campaign failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create campaign")
		return
	}
	writeJSON(w, http.StatusCreated, campaignPayload(campaign))
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid campaign id")
		return
	}
	campaign, err := s.campaigns.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "campaign not found")
			return
		}
		s.logger.Error("get campaign failed", zap.Int64("campaign_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch campaign")
		return
	}
	writeJSON(w, http.StatusOK, campaignPayload(campaign))
}

func campaignPayload(campaign store.Campaign) map[string]any {
	return map[string]any{
		"id":         campaign.ID,
		"nome":       campaign.Nome,
		"status":     campaign.Status,
		"created_at": campaign.CreatedAt,
	}
}

type createKeyRequest struct {
	Name        string   `json:"name"`
	ExpiresDays int      `json:"expires_days"`
	AllowedIPs  []string `json:"allowed_ips"`
}

// createKey mints a new API key. The plaintext appears in this response
// and nowhere else, ever.
func (s *Server) createKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		writeError(w, http.StatusBadRequest, "missing key name")
		return
	}
	generated, err := s.auth.Generate(r.Context(), req.Name, req.ExpiresDays, req.AllowedIPs)
	if err != nil {
		s.logger.Error("generate key failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to generate key")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         generated.Record.ID,
		"name":       generated.Record.Name,
		"api_key":    generated.Plaintext,
		"created_at": generated.Record.CreatedAt,
		"expires_at": generated.Record.ExpiresAt,
	})
}

func (s *Server) listKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := s.auth.List(r.Context())
	if err != nil {
		s.logger.Error("list keys failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list keys")
		return
	}
	out := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		out = append(out, map[string]any{
			"id":           key.ID,
			"name":         key.Name,
			"created_at":   key.CreatedAt,
			"expires_at":   key.ExpiresAt,
			"is_active":    key.IsActive,
			"last_used_at": key.LastUsedAt,
			"use_count":    key.UseCount,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (s *Server) revokeKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid key id")
		return
	}
	if err := s.auth.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "key not found")
			return
		}
		s.logger.Error("revoke key failed", zap.Int64("key_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to revoke key")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "revoked": true})
}

// taskID renders the public task identifier for a search row.
func taskID(id int64) string {
	return fmt.Sprintf("task_%d", id)
}

// parseTaskID accepts both the public "task_N" form and a bare numeric id.
func parseTaskID(raw string) (int64, error) {
	raw = strings.TrimPrefix(raw, "task_")
	return strconv.ParseInt(raw, 10, 64)
}
