package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/evgenich/amosheets/internal/journal"
	"github.com/evgenich/amosheets/internal/sheets"
	"github.com/evgenich/amosheets/internal/syncer"
	"github.com/evgenich/amosheets/internal/token"
	"github.com/evgenich/amosheets/internal/validation"
)

// Syncer is the slice of the orchestrator the handlers drive.
type Syncer interface {
	ProcessDelivery(ctx context.Context, leadIDs []int64) syncer.Summary
	SyncLead(ctx context.Context, leadID int64, trigger syncer.Trigger) syncer.LeadResult
	DeleteLead(ctx context.Context, leadID int64) (sheets.Result, error)
}

// TokenService exposes refresh and introspection for the CRM tokens.
type TokenService interface {
	Refresh(ctx context.Context) (token.RefreshResult, error)
	Status() token.Status
}

// CRMChecker verifies CRM API reachability.
type CRMChecker interface {
	CheckAccount(ctx context.Context) error
}

// SheetReader reads aggregate sheet state.
type SheetReader interface {
	Stats(ctx context.Context) (*sheets.Stats, error)
}

// JournalReader reads the local sync ledger.
type JournalReader interface {
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
	Stats(ctx context.Context) (*journal.Counts, error)
}

// StatusConfig is the non-secret configuration shown on /status.
type StatusConfig struct {
	Environment  string `json:"environment"`
	PipelineName string `json:"pipelineName"`
	SheetID      string `json:"sheetId"`
}

// Handler implements the API handlers
type Handler struct {
	sync    Syncer
	tokens  TokenService
	crm     CRMChecker
	sheet   SheetReader
	journal JournalReader // may be nil
	cfg     StatusConfig
	version string
	started time.Time
}

// NewHandler creates a new Handler. journal may be nil.
func NewHandler(s Syncer, t TokenService, crm CRMChecker, sheet SheetReader, j JournalReader, cfg StatusConfig, version string) *Handler {
	return &Handler{
		sync:    s,
		tokens:  t,
		crm:     crm,
		sheet:   sheet,
		journal: j,
		cfg:     cfg,
		version: version,
		started: time.Now(),
	}
}

type webhookLead struct {
	ID int64 `json:"id"`
}

type webhookRequest struct {
	Leads []webhookLead `json:"leads"`
}

type webhookResponse struct {
	Success    bool                `json:"success"`
	DeliveryID string              `json:"deliveryId"`
	Processed  int                 `json:"processed"`
	Successful int                 `json:"successful"`
	Errors     int                 `json:"errors"`
	Results    []syncer.LeadResult `json:"results"`
}

// Webhook handles POST /webhook/amocrm
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	var req webhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	var c validation.Collector
	c.Add(validation.ValidateLeadCount("leads", len(req.Leads)))
	for i, lead := range req.Leads {
		c.Add(validation.ValidateLeadID(fmt.Sprintf("leads[%d].id", i), lead.ID))
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Webhook payload contains invalid fields", c.Errors())
		return
	}

	deliveryID := ulid.Make().String()
	leadIDs := make([]int64, len(req.Leads))
	for i, lead := range req.Leads {
		leadIDs[i] = lead.ID
	}

	slog.Info("webhook received",
		"component", "api",
		"delivery_id", deliveryID,
		"leads", len(leadIDs),
	)

	summary := h.sync.ProcessDelivery(r.Context(), leadIDs)

	slog.Info("webhook processed",
		"component", "api",
		"delivery_id", deliveryID,
		"processed", summary.Processed,
		"successful", summary.Successful,
		"errors", summary.Errors,
	)

	writeJSON(w, http.StatusOK, webhookResponse{
		Success:    true,
		DeliveryID: deliveryID,
		Processed:  summary.Processed,
		Successful: summary.Successful,
		Errors:     summary.Errors,
		Results:    summary.Results,
	})
}

// SyncDeal handles POST /sync/deal/{dealID}
func (h *Handler) SyncDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.ParseInt(chi.URLParam(r, "dealID"), 10, 64)
	if err != nil || dealID <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "dealID must be a positive integer")
		return
	}

	result := h.sync.SyncLead(r.Context(), dealID, syncer.TriggerManual)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

// DeleteDeal handles DELETE /sync/deal/{dealID}: the deal's row is marked
// deleted, never removed.
func (h *Handler) DeleteDeal(w http.ResponseWriter, r *http.Request) {
	dealID, err := strconv.ParseInt(chi.URLParam(r, "dealID"), 10, 64)
	if err != nil || dealID <= 0 {
		WriteProblem(w, r, http.StatusBadRequest, "dealID must be a positive integer")
		return
	}

	res, err := h.sync.DeleteLead(r.Context(), dealID)
	if err != nil {
		MapSyncError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type manualSyncRequest struct {
	DealID int64 `json:"deal_id"`
}

// ManualSync handles POST /sync/manual. A deal_id in the body syncs that one
// deal; without it the request asks for a bulk backfill, which this service
// does not do.
func (h *Handler) ManualSync(w http.ResponseWriter, r *http.Request) {
	var req manualSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return
	}

	if req.DealID == 0 {
		WriteProblem(w, r, http.StatusNotImplemented, "Bulk synchronization is not implemented; pass deal_id to sync a single deal")
		return
	}
	if req.DealID < 0 {
		WriteProblem(w, r, http.StatusBadRequest, "deal_id must be a positive integer")
		return
	}

	result := h.sync.SyncLead(r.Context(), req.DealID, syncer.TriggerManual)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusInternalServerError
	}
	writeJSON(w, status, result)
}

type tokenRefreshResponse struct {
	Result string       `json:"result"`
	Token  token.Status `json:"token"`
}

// RefreshToken handles POST /token/refresh
func (h *Handler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	result, err := h.tokens.Refresh(r.Context())
	if err != nil {
		slog.Error("forced token refresh failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusInternalServerError, "Token refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenRefreshResponse{
		Result: result.String(),
		Token:  h.tokens.Status(),
	})
}

type healthResponse struct {
	Status   string            `json:"status"`
	Version  string            `json:"version"`
	UptimeS  int64             `json:"uptimeSeconds"`
	Services map[string]string `json:"services"`
}

// Health handles GET /health. Degraded dependencies make the whole service
// unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	services := map[string]string{
		"amocrm":       "ok",
		"googleSheets": "ok",
	}
	healthy := true

	if err := h.crm.CheckAccount(r.Context()); err != nil {
		services["amocrm"] = "unreachable"
		healthy = false
	}
	if _, err := h.sheet.Stats(r.Context()); err != nil {
		services["googleSheets"] = "unreachable"
		healthy = false
	}

	resp := healthResponse{
		Status:   "healthy",
		Version:  h.version,
		UptimeS:  int64(time.Since(h.started).Seconds()),
		Services: services,
	}
	status := http.StatusOK
	if !healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

type statusResponse struct {
	Version string         `json:"version"`
	UptimeS int64          `json:"uptimeSeconds"`
	Config  StatusConfig   `json:"config"`
	Token   token.Status   `json:"token"`
	Sheet   *sheets.Stats  `json:"sheet,omitempty"`
	Journal *journalStatus `json:"journal,omitempty"`
}

type journalStatus struct {
	Counts journal.Counts  `json:"counts"`
	Recent []journal.Entry `json:"recent"`
}

// Status handles GET /status. Dependency read failures degrade their section
// instead of failing the whole response.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Version: h.version,
		UptimeS: int64(time.Since(h.started).Seconds()),
		Config:  h.cfg,
		Token:   h.tokens.Status(),
	}

	if stats, err := h.sheet.Stats(r.Context()); err != nil {
		slog.Warn("status: sheet stats unavailable", "component", "api", "error", err)
	} else {
		resp.Sheet = stats
	}

	if h.journal != nil {
		counts, err := h.journal.Stats(r.Context())
		if err != nil {
			slog.Warn("status: journal stats unavailable", "component", "api", "error", err)
		} else {
			recent, err := h.journal.Recent(r.Context(), 5)
			if err != nil {
				slog.Warn("status: journal recency unavailable", "component", "api", "error", err)
				recent = nil
			}
			resp.Journal = &journalStatus{Counts: *counts, Recent: recent}
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// TestGoogleSheets handles GET /test/google-sheets
func (h *Handler) TestGoogleSheets(w http.ResponseWriter, r *http.Request) {
	stats, err := h.sheet.Stats(r.Context())
	if err != nil {
		slog.Error("sheets connectivity check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Google Sheets is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "connected",
		"stats":  stats,
	})
}

// TestAmoCRM handles GET /test/amocrm
func (h *Handler) TestAmoCRM(w http.ResponseWriter, r *http.Request) {
	if err := h.crm.CheckAccount(r.Context()); err != nil {
		slog.Error("crm connectivity check failed", "component", "api", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "amoCRM is unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "connected",
		"token":  h.tokens.Status(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
