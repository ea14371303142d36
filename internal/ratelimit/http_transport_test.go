package ratelimit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type httpFixture struct {
	handler http.Handler
	store   *MemoryStore
	clock   *testClock
}

func newHTTPFixture(t *testing.T, opts HTTPTransportOptions) *httpFixture {
	t.Helper()
	clk := newTestClock(time.Date(2024, 5, 6, 10, 0, 0, 0, time.UTC))
	store := NewMemoryStore(clk.Now)
	cache := NewRuleCache(store, time.Hour, clk.Now, NopLogger{})
	recorder := NewViolationRecorder(store, NopMetrics{}, NopLogger{}, clk.Now)
	admission := NewAdmissionHandler(cache, store, store, recorder, AdmissionHandlerOptions{Now: clk.Now})
	cleaner := NewCleanupScheduler(store, store, store, DefaultCleanupOptions(), NopMetrics{}, NopLogger{}, clk.Now)
	admin := NewAdminHandler(store, cache, recorder, store, cleaner, NopLogger{}, clk.Now)

	if opts.Ready == nil {
		opts.Ready = func() bool { return true }
	}
	transport := NewHTTPTransport(opts)
	if err := transport.ServeAdmission(admission); err != nil {
		t.Fatalf("serve admission: %v", err)
	}
	if err := transport.ServeAdmin(admin); err != nil {
		t.Fatalf("serve admin: %v", err)
	}
	handler, err := transport.Handler()
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return &httpFixture{handler: handler, store: store, clock: clk}
}

func (f *httpFixture) do(t *testing.T, method, path string, body any, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *httpFixture) seedRule(t *testing.T, limitType LimitType, limit int64) {
	t.Helper()
	if _, err := f.store.CreateRule(context.Background(), &Rule{
		SystemID:     "payments",
		Name:         "test-rule",
		Scope:        ScopeIP,
		ScopeValue:   MatchAny(),
		ResourceType: MatchAny(),
		LimitType:    limitType,
		LimitValue:   limit,
		Enabled:      true,
	}); err != nil {
		t.Fatalf("seed rule: %v", err)
	}
}

func TestHTTPCheckAllowAndDeny(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})
	f.seedRule(t, LimitPerMinute, 2)

	body := httpCheckRequest{SystemID: "payments", Scope: "ip", ScopeValue: "10.0.0.1"}
	for i := 0; i < 2; i++ {
		rec := f.do(t, http.MethodPost, "/v1/check", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("check %d: status %d: %s", i+1, rec.Code, rec.Body.String())
		}
		var resp httpCheckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if !resp.Allowed {
			t.Fatalf("check %d denied", i+1)
		}
	}

	rec := f.do(t, http.MethodPost, "/v1/check", body, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third check: status %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("deny response missing Retry-After header")
	}
	var resp httpCheckResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Allowed || resp.RetryAfterSeconds <= 0 {
		t.Fatalf("deny body: %+v", resp)
	}
}

func TestHTTPCheckValidation(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})

	rec := f.do(t, http.MethodPost, "/v1/check", httpCheckRequest{Scope: "ip", ScopeValue: "x"}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing system: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/check", map[string]any{"system_id": "payments", "scope": "ip", "scope_value": "x", "bogus": true}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
}

func TestHTTPRuleCRUD(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})

	scopeValue := "10.0.0.1"
	create := httpRuleRequest{
		SystemID:   "payments",
		Name:       "exact-ip",
		Scope:      "ip",
		ScopeValue: &scopeValue,
		LimitType:  "requests_per_minute",
		LimitValue: 5,
		Priority:   1,
	}
	rec := f.do(t, http.MethodPost, "/v1/admin/rules", create, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: status %d: %s", rec.Code, rec.Body.String())
	}
	var created httpRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create: %v", err)
	}
	if created.ID == 0 || !created.Enabled {
		t.Fatalf("created rule: %+v", created)
	}
	if created.ScopeValue == nil || *created.ScopeValue != scopeValue {
		t.Fatalf("scope value round trip: %+v", created.ScopeValue)
	}
	if created.ResourceType != nil {
		t.Fatalf("null resource type should stay a wildcard: %v", *created.ResourceType)
	}

	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/rules/%d?system_id=payments", created.ID), nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status %d", rec.Code)
	}

	update := create
	update.LimitValue = 50
	rec = f.do(t, http.MethodPut, fmt.Sprintf("/v1/admin/rules/%d", created.ID), update, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status %d: %s", rec.Code, rec.Body.String())
	}
	var updated httpRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &updated); err != nil {
		t.Fatalf("decode update: %v", err)
	}
	if updated.LimitValue != 50 {
		t.Fatalf("updated rule: %+v", updated)
	}

	rec = f.do(t, http.MethodGet, "/v1/admin/rules?system_id=payments", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: status %d", rec.Code)
	}
	var rules []httpRuleResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rules); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("list returned %d rules", len(rules))
	}

	rec = f.do(t, http.MethodDelete, fmt.Sprintf("/v1/admin/rules/%d?system_id=payments", created.ID), nil, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodGet, fmt.Sprintf("/v1/admin/rules/%d?system_id=payments", created.ID), nil, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("get after delete: status %d", rec.Code)
	}
}

func TestHTTPRuleValidationStatus(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})

	bad := httpRuleRequest{SystemID: "payments", Scope: "galaxy", LimitType: "requests_per_minute", LimitValue: 5}
	rec := f.do(t, http.MethodPost, "/v1/admin/rules", bad, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid rule: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPut, "/v1/admin/rules/notanumber", httpRuleRequest{}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id: status %d", rec.Code)
	}
}

func TestHTTPQuotaEndpoints(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})
	f.seedRule(t, LimitPerDay, 100)

	inc := httpQuotaIncrementRequest{SystemID: "payments", Scope: "ip", ScopeValue: "10.0.0.1", Period: "day", Amount: 30}
	rec := f.do(t, http.MethodPost, "/v1/admin/quota/increment", inc, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("increment: status %d: %s", rec.Code, rec.Body.String())
	}
	var state httpQuotaResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Current != 30 || state.Limit != 100 || state.Remaining != 70 {
		t.Fatalf("state after increment: %+v", state)
	}

	rec = f.do(t, http.MethodGet, "/v1/admin/quota?system_id=payments&scope=ip&scope_value=10.0.0.1&period=day", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get quota: status %d", rec.Code)
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if state.Current != 30 {
		t.Fatalf("get quota state: %+v", state)
	}

	// An increment past the limit maps to 429.
	inc.Amount = 80
	rec = f.do(t, http.MethodPost, "/v1/admin/quota/increment", inc, nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("over-limit increment: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/v1/admin/quota?system_id=payments&scope=ip&period=day", nil, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing scope value: status %d", rec.Code)
	}
}

func TestHTTPViolationEndpoints(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})
	rec := NewViolationRecorder(f.store, NopMetrics{}, NopLogger{}, f.clock.Now)
	rec.Record(context.Background(), violationRule(), checkReq("10.0.0.1"), 5, true)

	res := f.do(t, http.MethodGet, "/v1/admin/violations?system_id=payments&since=1h", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("list: status %d", res.Code)
	}
	var violations []httpViolationResponse
	if err := json.Unmarshal(res.Body.Bytes(), &violations); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(violations) != 1 || violations[0].ScopeValue != "10.0.0.1" {
		t.Fatalf("violations: %+v", violations)
	}

	res = f.do(t, http.MethodGet, "/v1/admin/violations/stats?system_id=payments", nil, nil)
	if res.Code != http.StatusOK {
		t.Fatalf("stats: status %d", res.Code)
	}
	var stats httpViolationStats
	if err := json.Unmarshal(res.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 {
		t.Fatalf("stats: %+v", stats)
	}

	res = f.do(t, http.MethodGet, "/v1/admin/violations?system_id=payments&since=soon", nil, nil)
	if res.Code != http.StatusBadRequest {
		t.Fatalf("bad since: status %d", res.Code)
	}
}

func TestHTTPCleanupEndpoint(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})

	key := CounterKey{RuleID: 1, SystemID: "payments", Scope: ScopeIP, ScopeValue: "10.0.0.1"}
	if _, err := f.store.Increment(context.Background(), key, time.Minute, f.clock.Now()); err != nil {
		t.Fatalf("increment: %v", err)
	}
	f.clock.Advance(72 * time.Hour)

	rec := f.do(t, http.MethodPost, "/v1/admin/cleanup", httpCleanupRequest{Kind: "buckets", RetentionDays: 2}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cleanup: status %d: %s", rec.Code, rec.Body.String())
	}
	var resp httpCleanupResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Deleted != 1 || resp.Kind != "buckets" {
		t.Fatalf("cleanup response: %+v", resp)
	}

	rec = f.do(t, http.MethodPost, "/v1/admin/cleanup", httpCleanupRequest{Kind: "everything", RetentionDays: 2}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad kind: status %d", rec.Code)
	}
}

func TestHTTPSignalEndpoints(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{})

	rec := f.do(t, http.MethodPost, "/v1/admin/signals/load", httpLoadSampleRequest{CPUPercent: 55, MemoryPercent: 30}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("load sample: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPost, "/v1/admin/signals/load", httpLoadSampleRequest{CPUPercent: 120}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range sample: status %d", rec.Code)
	}

	rec = f.do(t, http.MethodPut, "/v1/admin/signals/reputation", httpReputationRequest{Scope: "user", ScopeValue: "u-1", Score: 88}, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reputation: status %d", rec.Code)
	}
	rec = f.do(t, http.MethodPut, "/v1/admin/signals/reputation", httpReputationRequest{Scope: "user", ScopeValue: "u-1", Score: 188}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("out-of-range score: status %d", rec.Code)
	}
}

func TestHTTPAdminAuth(t *testing.T) {
	t.Parallel()
	f := newHTTPFixture(t, HTTPTransportOptions{EnableAuth: true, AdminToken: "secret"})

	rec := f.do(t, http.MethodGet, "/v1/admin/rules?system_id=payments", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: status %d", rec.Code)
	}

	header := http.Header{"Authorization": []string{"Bearer wrong"}}
	rec = f.do(t, http.MethodGet, "/v1/admin/rules?system_id=payments", nil, header)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong token: status %d", rec.Code)
	}

	header = http.Header{"Authorization": []string{"Bearer secret"}}
	rec = f.do(t, http.MethodGet, "/v1/admin/rules?system_id=payments", nil, header)
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: status %d", rec.Code)
	}

	// The admission path stays open.
	rec = f.do(t, http.MethodPost, "/v1/check", httpCheckRequest{SystemID: "payments", Scope: "ip", ScopeValue: "10.0.0.1"}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("unauthenticated check: status %d", rec.Code)
	}
}

func TestHTTPHealthAndReady(t *testing.T) {
	t.Parallel()
	ready := false
	f := newHTTPFixture(t, HTTPTransportOptions{Ready: func() bool { return ready }})

	rec := f.do(t, http.MethodGet, "/healthz", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz: status %d", rec.Code)
	}
	var health map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("healthz body: %v", err)
	}
	if health["status"] != "ok" {
		t.Fatalf("healthz status field: %q", health["status"])
	}
	if health["version"] != Version {
		t.Fatalf("healthz version: got %q want %q", health["version"], Version)
	}
	if rec := f.do(t, http.MethodGet, "/readyz", nil, nil); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before start: status %d", rec.Code)
	}
	ready = true
	if rec := f.do(t, http.MethodGet, "/readyz", nil, nil); rec.Code != http.StatusOK {
		t.Fatalf("readyz after start: status %d", rec.Code)
	}
}

func TestHTTPMetricsEndpoint(t *testing.T) {
	t.Parallel()
	metrics := NewPromMetrics()
	f := newHTTPFixture(t, HTTPTransportOptions{PromHandler: metrics.Handler()})
	metrics.IncDecision("payments", "ip", "allowed")

	rec := f.do(t, http.MethodGet, "/metrics", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: status %d", rec.Code)
	}
	if !bytes.Contains(rec.Body.Bytes(), []byte("quotaguard_decisions_total")) {
		t.Fatal("metrics output missing engine collectors")
	}
}
