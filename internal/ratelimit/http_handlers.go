// Package ratelimit provides HTTP handlers.
package ratelimit

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
)

const defaultMaxBodyBytes = 1 << 20

type httpErrorResponse struct {
	Error string `json:"error"`
}

func (t *HTTPTransport) handleCheck(w http.ResponseWriter, r *http.Request) {
	var httpReq httpCheckRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.SystemID == "" || httpReq.Scope == "" || httpReq.ScopeValue == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	decision, err := t.admission.CheckLimit(r.Context(), toCheckRequest(httpReq))
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if !decision.Allowed {
		status = http.StatusTooManyRequests
		if decision.RetryAfter > 0 {
			seconds := int64((decision.RetryAfter + time.Second - 1) / time.Second)
			w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		}
	}
	writeJSON(w, status, fromDecision(decision))
}

func (t *HTTPTransport) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var httpReq httpRuleRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	rule, err := t.admin.CreateRule(r.Context(), toRule(httpReq))
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, fromRule(rule))
}

func (t *HTTPTransport) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	var httpReq httpRuleRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	httpReq.ID = id
	rule, err := t.admin.UpdateRule(r.Context(), toRule(httpReq))
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRule(rule))
}

func (t *HTTPTransport) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	systemID := r.URL.Query().Get("system_id")
	if systemID == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	if err := t.admin.DeleteRule(r.Context(), systemID, id); err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	systemID := r.URL.Query().Get("system_id")
	if systemID == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	rule, err := t.admin.GetRule(r.Context(), systemID, id)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromRule(rule))
}

func (t *HTTPTransport) handleListRules(w http.ResponseWriter, r *http.Request) {
	systemID := r.URL.Query().Get("system_id")
	if systemID == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	rules, err := t.admin.ListRules(r.Context(), systemID)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	resp := make([]httpRuleResponse, len(rules))
	for i, rule := range rules {
		resp[i] = fromRule(rule)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) handleGetQuota(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	key := QuotaKey{
		SystemID:     query.Get("system_id"),
		Scope:        ScopeKind(query.Get("scope")),
		ScopeValue:   query.Get("scope_value"),
		ResourceType: query.Get("resource_type"),
	}
	period := PeriodKind(query.Get("period"))
	if key.SystemID == "" || key.ScopeValue == "" || !key.Scope.Valid() || !period.Valid() {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	state, err := t.admission.GetQuota(r.Context(), key, period)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromQuotaState(state))
}

func (t *HTTPTransport) handleIncrementQuota(w http.ResponseWriter, r *http.Request) {
	var httpReq httpQuotaIncrementRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	key := QuotaKey{
		SystemID:     httpReq.SystemID,
		Scope:        ScopeKind(httpReq.Scope),
		ScopeValue:   httpReq.ScopeValue,
		ResourceType: httpReq.ResourceType,
	}
	period := PeriodKind(httpReq.Period)
	amount := httpReq.Amount
	if amount == 0 {
		amount = 1
	}
	if key.SystemID == "" || key.ScopeValue == "" || !key.Scope.Valid() || !period.Valid() || amount < 0 {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	state, err := t.admission.IncrementQuota(r.Context(), key, period, amount)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromQuotaState(state))
}

func (t *HTTPTransport) handleListViolations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	systemID := query.Get("system_id")
	if systemID == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	since := 24 * time.Hour
	if raw := query.Get("since"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
			return
		}
		since = parsed
	}
	violations, err := t.admin.ListViolations(r.Context(), systemID, since)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	resp := make([]httpViolationResponse, len(violations))
	for i, v := range violations {
		resp[i] = fromViolation(v)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (t *HTTPTransport) handleViolationStats(w http.ResponseWriter, r *http.Request) {
	systemID := r.URL.Query().Get("system_id")
	if systemID == "" {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	stats, err := t.admin.ViolationStats(r.Context(), systemID)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, fromViolationStats(stats))
}

func (t *HTTPTransport) handleCleanup(w http.ResponseWriter, r *http.Request) {
	var httpReq httpCleanupRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	kind := CleanupKind(httpReq.Kind)
	if !kind.Valid() || httpReq.RetentionDays <= 0 {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	deleted, err := t.admin.Cleanup(r.Context(), kind, httpReq.RetentionDays)
	if err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, httpCleanupResponse{Kind: string(kind), Deleted: deleted})
}

func (t *HTTPTransport) handleLoadSample(w http.ResponseWriter, r *http.Request) {
	var httpReq httpLoadSampleRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.CPUPercent < 0 || httpReq.CPUPercent > 100 || httpReq.MemoryPercent < 0 || httpReq.MemoryPercent > 100 {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	sample := &LoadSample{
		CPUPercent:    httpReq.CPUPercent,
		MemoryPercent: httpReq.MemoryPercent,
		Goroutines:    httpReq.Goroutines,
	}
	if err := t.admin.RecordLoadSample(r.Context(), sample); err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleReputation(w http.ResponseWriter, r *http.Request) {
	var httpReq httpReputationRequest
	if err := t.decodeJSON(w, r, &httpReq); err != nil {
		t.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if httpReq.Score < 0 || httpReq.Score > 100 {
		t.writeError(w, r, http.StatusBadRequest, ErrInvalidInput)
		return
	}
	score := &ReputationScore{
		Scope:      ScopeKind(httpReq.Scope),
		ScopeValue: httpReq.ScopeValue,
		Score:      httpReq.Score,
	}
	if err := t.admin.SetReputation(r.Context(), score); err != nil {
		t.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (t *HTTPTransport) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": Version})
}

func (t *HTTPTransport) handleReady(w http.ResponseWriter, r *http.Request) {
	if t.appReady != nil && t.appReady() {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (t *HTTPTransport) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	if r.Body == nil {
		return ErrInvalidInput
	}
	maxBytes := t.maxBodyBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return ErrInvalidInput
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return ErrInvalidInput
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (t *HTTPTransport) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if t != nil {
		t.logRequestError(r, status, err)
	}
	writeJSON(w, status, httpErrorResponse{Error: err.Error()})
}

func (t *HTTPTransport) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	t.writeError(w, r, statusForCode(CodeOf(err)), err)
}

func statusForCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput, CodeInvalidRule:
		return http.StatusBadRequest
	case CodeRuleNotFound:
		return http.StatusNotFound
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeStoreUnavailable, CodeCancelled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (t *HTTPTransport) logRequestError(r *http.Request, status int, err error) {
	if t == nil || t.logger == nil || r == nil || err == nil {
		return
	}
	fields := map[string]any{
		"method": r.Method,
		"path":   r.URL.Path,
		"status": status,
		"error":  err.Error(),
	}
	if status >= http.StatusInternalServerError {
		t.logger.Error("http request error", fields)
		return
	}
	t.logger.Info("http request error", fields)
}
