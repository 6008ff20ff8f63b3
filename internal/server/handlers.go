package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kestrelhq/kestrel/internal/model"
	"github.com/kestrelhq/kestrel/internal/orchestrator"
	"github.com/kestrelhq/kestrel/internal/storage"
)

const maxWebhookBody = 1 << 20 // 1 MB

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db            *storage.DB
	orch          *orchestrator.Orchestrator
	logger        *slog.Logger
	webhookSecret string
	startedAt     time.Time
	version       string
}

// HandleMonitorRuns handles POST /monitor/runs.
func (h *Handlers) HandleMonitorRuns(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "pipeline")
}

// HandleMonitorDeployments handles POST /monitor/deployments.
func (h *Handlers) HandleMonitorDeployments(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "deployment")
}

// HandleNotify handles POST /notify.
func (h *Handlers) HandleNotify(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "notification")
}

// HandleMonitorAll handles POST /monitor/all.
func (h *Handlers) HandleMonitorAll(w http.ResponseWriter, r *http.Request) {
	h.trigger(w, r, "")
}

func (h *Handlers) trigger(w http.ResponseWriter, r *http.Request, capability string) {
	if err := h.orch.TriggerNow(capability); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnknownCapability):
			writeError(w, r, http.StatusNotFound, "not_found", err.Error())
		case errors.Is(err, orchestrator.ErrCapabilityDisabled):
			writeError(w, r, http.StatusServiceUnavailable, "capability_disabled", err.Error())
		default:
			writeError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
		}
		return
	}
	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"triggered":  true,
		"capability": capability,
	})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.orch.Health()

	overall := "ok"
	dbStatus := "ok"
	status := http.StatusOK
	if err := h.db.Ping(r.Context()); err != nil {
		overall = "degraded"
		dbStatus = "unreachable"
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, r, status, map[string]any{
		"status":     overall,
		"version":    h.version,
		"uptime":     time.Since(h.startedAt).Round(time.Second).String(),
		"database":   dbStatus,
		"monitoring": health,
	})
}

// HandleListIssues handles GET /issues.
func (h *Handlers) HandleListIssues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := storage.IssueFilter{
		Status:   model.IssueStatus(q.Get("status")),
		Severity: model.Severity(q.Get("severity")),
		Type:     model.IssueType(q.Get("type")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "offset must be a non-negative integer")
			return
		}
		filter.Offset = n
	}

	issues, total, err := h.db.ListIssues(r.Context(), filter)
	if err != nil {
		h.logger.Error("list issues", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list issues")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"issues": issues,
		"total":  total,
	})
}

// HandleListRuns handles GET /runs.
func (h *Handlers) HandleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset := 0, 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, "invalid_input", "offset must be a non-negative integer")
			return
		}
		offset = n
	}

	runs, total, err := h.db.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list runs", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list runs")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"runs":  runs,
		"total": total,
	})
}

// HandleListDeployments handles GET /deployments.
func (h *Handlers) HandleListDeployments(w http.ResponseWriter, r *http.Request) {
	deployments, err := h.db.ListDeployments(r.Context())
	if err != nil {
		h.logger.Error("list deployments", "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to list deployments")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"deployments": deployments,
	})
}

// HandleGetIssue handles GET /issues/{issue_id}.
func (h *Handlers) HandleGetIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("issue_id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "issue_id must be an integer")
		return
	}

	issue, err := h.db.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "issue not found")
		return
	}
	writeJSON(w, r, http.StatusOK, issue)
}

// HandleUpdateIssue handles PATCH /issues/{issue_id}; drives the external
// resolution workflow (status transitions only).
func (h *Handlers) HandleUpdateIssue(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("issue_id"), 10, 64)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "issue_id must be an integer")
		return
	}

	var req struct {
		Status model.IssueStatus `json:"status"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "invalid request body")
		return
	}
	switch req.Status {
	case model.IssueOpen, model.IssueInvestigating, model.IssueResolved, model.IssueFalsePositive:
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", "unknown status")
		return
	}

	if err := h.db.UpdateIssueStatus(r.Context(), id, req.Status); err != nil {
		writeError(w, r, http.StatusNotFound, "not_found", "issue not found")
		return
	}

	issue, err := h.db.GetIssue(r.Context(), id)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", "failed to reload issue")
		return
	}
	writeJSON(w, r, http.StatusOK, issue)
}

// HandleWebhookEvents handles POST /webhook/events. The payload must be
// signed with HMAC-SHA256 over the raw body, delivered as
// "X-Kestrel-Signature: sha256=<hex>".
func (h *Handlers) HandleWebhookEvents(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		writeError(w, r, http.StatusServiceUnavailable, "webhook_disabled", "webhook secret not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "failed to read body")
		return
	}

	if !h.verifySignature(r.Header.Get("X-Kestrel-Signature"), body) {
		writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid signature")
		return
	}

	var event struct {
		Event string `json:"event"`
	}
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_input", "invalid JSON body")
		return
	}

	var capability string
	switch event.Event {
	case "workflow_run":
		capability = "pipeline"
	case "push", "deployment":
		capability = "deployment"
	default:
		writeError(w, r, http.StatusBadRequest, "invalid_input", "unsupported event type")
		return
	}

	if err := h.orch.TriggerNow(capability); err != nil {
		if errors.Is(err, orchestrator.ErrCapabilityDisabled) {
			writeError(w, r, http.StatusServiceUnavailable, "capability_disabled", err.Error())
			return
		}
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", err.Error())
		return
	}

	writeJSON(w, r, http.StatusAccepted, map[string]any{
		"triggered":  true,
		"event":      event.Event,
		"capability": capability,
	})
}

func (h *Handlers) verifySignature(header string, body []byte) bool {
	const prefix = "sha256="
	if len(header) <= len(prefix) || header[:len(prefix)] != prefix {
		return false
	}
	got, err := hex.DecodeString(header[len(prefix):])
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(h.webhookSecret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
