package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roadscope/rs-fleet/internal/audit"
	"github.com/roadscope/rs-fleet/internal/data"
	"github.com/roadscope/rs-fleet/internal/middleware"
)

// Auditor is the write side of the ledger as the handlers see it.
type Auditor interface {
	LogEvent(ctx context.Context, event audit.AuditEvent) (*audit.ImmutableAuditRecord, error)
}

type AuditHandler struct {
	Ledger  Auditor
	Records data.AuditRecordModel
	Chain   *audit.Chain
}

type IngestEventRequest struct {
	EventType   string             `json:"event_type" validate:"required,oneof=DATA_ACCESS DATA_MODIFICATION AUTH_EVENT ADMIN_ACTION PERMISSION_CHANGE SECURITY_EVENT SYSTEM_EVENT COMPLIANCE_EVENT"`
	Action      string             `json:"action" validate:"required,oneof=LOGIN_SUCCESS LOGIN_FAILURE LOGOUT CREATE READ UPDATE DELETE SEARCH EXPORT ACCESS_DENIED PERMISSION_GRANT PERMISSION_REVOKE CONFIG_CHANGE CHAIN_RESTART"`
	Resource    string             `json:"resource" validate:"required,max=200"`
	ResourceID  string             `json:"resource_id" validate:"required,max=200"`
	Result      string             `json:"result" validate:"required,oneof=SUCCESS FAILURE PARTIAL"`
	Sensitivity string             `json:"sensitivity" validate:"omitempty,oneof=PUBLIC INTERNAL CONFIDENTIAL RESTRICTED"`
	Details     map[string]any     `json:"details"`
	Geo         *audit.GeoLocation `json:"geo"`
}

// IngestEvent accepts one audit event from a dashboard service.
// POST /api/v1/audit/events
//
// Identity fields are stamped from the authenticated caller, never from
// the request body, so a compromised client cannot write someone else's
// trail.
func (h *AuditHandler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	ac, ok := middleware.GetAuthContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req IngestEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("validation failed: %v", err))
		return
	}

	event := audit.AuditEvent{
		EventType:   audit.EventType(req.EventType),
		Action:      audit.Action(req.Action),
		UserID:      ac.UserID,
		UserRoles:   ac.Roles,
		Resource:    req.Resource,
		ResourceID:  req.ResourceID,
		IPAddress:   clientIP(r),
		UserAgent:   r.UserAgent(),
		Result:      audit.Result(req.Result),
		Sensitivity: audit.Sensitivity(req.Sensitivity),
		Details:     req.Details,
		SessionID:   ac.SessionID,
		Geo:         req.Geo,
	}

	rec, err := h.Ledger.LogEvent(r.Context(), event)
	switch {
	case errors.Is(err, audit.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "audit ledger not ready")
		return
	case errors.Is(err, audit.ErrInvalidEvent):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, audit.ErrDurability):
		// The record exists on the chain but did not reach enough
		// backends. The caller must know its event may be lost.
		writeError(w, http.StatusServiceUnavailable, "audit storage degraded, event not durably persisted")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "audit write failed")
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// GetRecords lists committed records for review, newest first.
// GET /api/v1/audit/records
func (h *AuditHandler) GetRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecordFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, next, err := h.Records.Query(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	if records == nil {
		records = []*audit.ImmutableAuditRecord{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"records":     records,
		"next_cursor": next,
	})
}

// GetRecord fetches a single record by its ID.
// GET /api/v1/audit/records/{id}
func (h *AuditHandler) GetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := h.Records.GetByID(r.Context(), id)
	if err == data.ErrRecordNotFound {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

const exportMaxRecords = 10000

// ExportRecords streams matching records as JSONL for compliance handoff.
// GET /api/v1/audit/export
//
// The export itself is a disclosure of audit data, so it lands on the
// chain as a DATA_ACCESS/EXPORT event.
func (h *AuditHandler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	filter, err := parseRecordFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/x-jsonl")
	w.Header().Set("Content-Disposition", "attachment; filename=\"audit_export.jsonl\"")

	count, err := h.Records.Export(r.Context(), w, filter, exportMaxRecords)
	if err != nil {
		// Headers are already out; the truncated stream is the signal.
		log.Printf("WARN: audit export aborted after %d records: %v", count, err)
	}

	_, auditErr := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventDataAccess,
		Action:      audit.ActionExport,
		UserID:      actor.UserID,
		UserRoles:   actor.Roles,
		Resource:    "audit_records",
		ResourceID:  "export",
		IPAddress:   actor.IP,
		UserAgent:   actor.UserAgent,
		Result:      exportResult(err),
		Sensitivity: audit.SensitivityRestricted,
		Details:     map[string]any{"records_exported": count},
		SessionID:   actor.SessionID,
	})
	if auditErr != nil {
		log.Printf("WARN: export audit event failed: %v", auditErr)
	}
}

func exportResult(err error) audit.Result {
	if err != nil {
		return audit.ResultPartial
	}
	return audit.ResultSuccess
}

type VerifyChainRequest struct {
	FromSequence uint64 `json:"from_sequence"`
	ToSequence   uint64 `json:"to_sequence"`
}

// VerifyChain re-walks the stored chain and reports the first break.
// POST /api/v1/audit/verify
//
// An empty body verifies the whole ledger. Verification runs are
// themselves recorded as ADMIN_ACTION events.
func (h *AuditHandler) VerifyChain(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req VerifyChainRequest
	if r.Body != nil {
		// Body is optional; a decode error on an empty body is fine.
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.ToSequence != 0 && req.FromSequence > req.ToSequence {
		writeError(w, http.StatusBadRequest, "from_sequence is past to_sequence")
		return
	}

	report, err := audit.VerifyStored(r.Context(), h.Chain, h.Records, req.FromSequence, req.ToSequence)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "verification aborted")
		return
	}

	result := audit.ResultSuccess
	if !report.OK {
		result = audit.ResultFailure
	}
	details := map[string]any{
		"records_checked": report.RecordsChecked,
		"chain_intact":    report.OK,
	}
	if report.BrokenAtSequence != nil {
		details["broken_at_sequence"] = *report.BrokenAtSequence
	}
	_, auditErr := h.Ledger.LogEvent(r.Context(), audit.AuditEvent{
		EventType:   audit.EventAdminAction,
		Action:      audit.ActionRead,
		UserID:      actor.UserID,
		UserRoles:   actor.Roles,
		Resource:    "audit_chain",
		ResourceID:  verifyRangeID(req),
		IPAddress:   actor.IP,
		UserAgent:   actor.UserAgent,
		Result:      result,
		Sensitivity: audit.SensitivityInternal,
		Details:     details,
		SessionID:   actor.SessionID,
	})
	if auditErr != nil {
		log.Printf("WARN: verify audit event failed: %v", auditErr)
	}

	writeJSON(w, http.StatusOK, report)
}

func verifyRangeID(req VerifyChainRequest) string {
	if req.FromSequence == 0 && req.ToSequence == 0 {
		return "full"
	}
	return fmt.Sprintf("%d-%d", req.FromSequence, req.ToSequence)
}

func parseRecordFilter(r *http.Request) (data.AuditRecordFilter, error) {
	q := r.URL.Query()
	filter := data.AuditRecordFilter{
		EventType: q.Get("event_type"),
		UserID:    q.Get("user_id"),
		Result:    q.Get("result"),
		Resource:  q.Get("resource"),
	}

	if fromStr := q.Get("from"); fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return filter, fmt.Errorf("invalid from timestamp: %v", err)
		}
		filter.From = &t
	}
	if toStr := q.Get("to"); toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return filter, fmt.Errorf("invalid to timestamp: %v", err)
		}
		filter.To = &t
	}
	if cursorStr := q.Get("cursor"); cursorStr != "" {
		c, err := strconv.ParseUint(cursorStr, 10, 64)
		if err != nil {
			return filter, fmt.Errorf("invalid cursor: %v", err)
		}
		filter.Cursor = c
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = l
		}
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 50
	}
	return filter, nil
}
