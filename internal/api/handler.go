package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/pipeline"
	"github.com/opensource-finance/kestrel/internal/repository"
	"github.com/opensource-finance/kestrel/internal/rules"
)

// maxBodyBytes bounds alert and rule payloads.
const maxBodyBytes = 1 << 20

// Dependencies are the components served by the API. Repo, Cache and Bus
// may be nil when the matching component is disabled.
type Dependencies struct {
	Processor *pipeline.Processor
	Engine    *rules.Engine
	Audit     domain.AuditLog
	Repo      domain.ReportRepository
	Cache     domain.Cache
	Bus       domain.EventBus

	// AsyncEnabled reports whether workers consume queued alerts.
	AsyncEnabled bool

	// RulesFile is re-read by POST /api/rules/reload.
	RulesFile string

	Version string
}

// Handler holds dependencies for API handlers.
type Handler struct {
	processor    *pipeline.Processor
	engine       *rules.Engine
	audit        domain.AuditLog
	repo         domain.ReportRepository
	cache        domain.Cache
	bus          domain.EventBus
	asyncEnabled bool
	rulesFile    string
	version      string
}

// NewHandler creates a new API handler.
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		processor:    deps.Processor,
		engine:       deps.Engine,
		audit:        deps.Audit,
		repo:         deps.Repo,
		cache:        deps.Cache,
		bus:          deps.Bus,
		asyncEnabled: deps.AsyncEnabled,
		rulesFile:    deps.RulesFile,
		version:      deps.Version,
	}
}

// decodeAlert reads and validates an alert body, writing a 400 on failure.
func decodeAlert(w http.ResponseWriter, r *http.Request) (*domain.Alert, bool) {
	var alert domain.Alert
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&alert); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return nil, false
	}
	if err := alert.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	return &alert, true
}

// ProcessAlert handles POST /api/process-alert. Model failures still
// produce a 200 with fallback analysis and analysis_status "error".
func (h *Handler) ProcessAlert(w http.ResponseWriter, r *http.Request) {
	alert, ok := decodeAlert(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	report := h.processor.Process(ctx, alert, "")

	if h.repo != nil {
		if err := h.repo.SaveReport(ctx, report); err != nil {
			slog.Error("failed to archive report",
				"report_id", report.ID,
				"error", err,
				"trace_id", GetTraceID(ctx),
			)
		}
	}

	writeJSON(w, http.StatusOK, report)
}

// SARNarrative handles POST /api/sar-narrative.
func (h *Handler) SARNarrative(w http.ResponseWriter, r *http.Request) {
	alert, ok := decodeAlert(w, r)
	if !ok {
		return
	}

	out, err := h.processor.Narrate(r.Context(), alert)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SubmitResponse is the response for POST /api/alerts.
type SubmitResponse struct {
	ReportID string              `json:"report_id"`
	Status   domain.ReportStatus `json:"status"`
}

// SubmitAlert handles POST /api/alerts by queueing the alert for the
// worker pool.
func (h *Handler) SubmitAlert(w http.ResponseWriter, r *http.Request) {
	if h.bus == nil || !h.asyncEnabled {
		writeError(w, http.StatusServiceUnavailable, "asynchronous processing disabled")
		return
	}

	alert, ok := decodeAlert(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	reportID := uuid.New().String()

	if h.repo != nil {
		queued := &domain.Report{
			ID:           reportID,
			AlertID:      alert.AlertID,
			CustomerName: alert.CustomerName,
			Status:       domain.ReportQueued,
			Findings:     []domain.Finding{},
			AuditLogs:    []domain.AuditEvent{},
			CreatedAt:    time.Now().UTC(),
		}
		if err := h.repo.SaveReport(ctx, queued); err != nil {
			slog.Error("failed to save queued report", "report_id", reportID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue alert")
			return
		}
	}

	payload, err := json.Marshal(domain.AlertSubmission{
		ReportID: reportID,
		TraceID:  GetTraceID(ctx),
		Alert:    *alert,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to encode alert")
		return
	}

	if err := h.bus.Publish(ctx, domain.TopicAlertSubmitted, payload); err != nil {
		slog.Error("failed to publish alert", "report_id", reportID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to queue alert")
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{ReportID: reportID, Status: domain.ReportQueued})
}

// GetReport handles GET /api/reports/{id}.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrArchiveDisabled.Error())
		return
	}

	id := chi.URLParam(r, "id")
	report, err := h.repo.GetReport(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		slog.Error("failed to load report", "report_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// ListReports handles GET /api/reports?limit=N.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrArchiveDisabled.Error())
		return
	}

	limit := repository.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	reports, err := h.repo.ListReports(r.Context(), limit)
	if err != nil {
		slog.Error("failed to list reports", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reports": reports,
		"count":   len(reports),
	})
}

// AuditLogs handles GET /api/audit-logs.
func (h *Handler) AuditLogs(w http.ResponseWriter, r *http.Request) {
	events := []domain.AuditEvent{}
	if h.audit != nil {
		events = h.audit.Snapshot()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": events,
		"count":      len(events),
	})
}

// ListRules handles GET /api/rules.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	defs := h.engine.Rules()
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": defs,
		"count": len(defs),
	})
}

// GetRule handles GET /api/rules/{id}.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, def := range h.engine.Rules() {
		if def.ID == id {
			writeJSON(w, http.StatusOK, def)
			return
		}
	}
	writeError(w, http.StatusNotFound, "rule not found")
}

// CreateRule handles POST /api/rules. An existing ID is replaced.
// With ?validate=true the rule is compiled but not loaded.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var def rules.RuleDefinition
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&def); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return
	}

	if dryRun, _ := strconv.ParseBool(r.URL.Query().Get("validate")); dryRun {
		if err := h.engine.ValidateRule(def); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"valid": true, "rule_id": def.ID})
		return
	}

	if err := h.engine.LoadRule(def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	slog.Info("rule loaded", "rule_id", def.ID, "total_rules", h.engine.RulesCount())
	writeJSON(w, http.StatusCreated, def)
}

// ReloadRules handles POST /api/rules/reload.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.rulesFile == "" {
		writeError(w, http.StatusBadRequest, "no rules file configured")
		return
	}

	n, err := rules.LoadFileInto(h.engine, h.rulesFile)
	if err != nil {
		slog.Error("failed to reload rules", "file", h.rulesFile, "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":      n,
		"total_rules": h.engine.RulesCount(),
	})
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components"`
}

// Health handles GET /health. Always 200; failing components mark the
// service degraded.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:     "healthy",
		Version:    h.version,
		Components: h.componentStatus(r.Context()),
	}
	for _, status := range resp.Components {
		if status != "ok" && status != "disabled" {
			resp.Status = "degraded"
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Ready handles GET /ready. Returns 503 until every enabled component
// answers a ping.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	components := h.componentStatus(r.Context())
	for name, status := range components {
		if status != "ok" && status != "disabled" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": fmt.Sprintf("%s: %s", name, status),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) componentStatus(ctx context.Context) map[string]string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	components := map[string]string{
		"rules": fmt.Sprintf("%d loaded", h.engine.RulesCount()),
	}
	if h.engine.RulesCount() > 0 {
		components["rules"] = "ok"
	}

	components["repository"] = "disabled"
	if h.repo != nil {
		components["repository"] = "ok"
		if err := h.repo.Ping(ctx); err != nil {
			components["repository"] = err.Error()
		}
	}

	components["cache"] = "disabled"
	if h.cache != nil {
		components["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			components["cache"] = err.Error()
		}
	}

	components["bus"] = "disabled"
	if h.bus != nil {
		components["bus"] = "ok"
	}
	return components
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
