// Package ratelimit provides HTTP wire models.
package ratelimit

import "time"

type httpCheckRequest struct {
	SystemID     string `json:"system_id"`
	Scope        string `json:"scope"`
	ScopeValue   string `json:"scope_value"`
	ResourceType string `json:"resource_type,omitempty"`
	RequestPath  string `json:"request_path,omitempty"`
	UserAgent    string `json:"user_agent,omitempty"`
}

type httpUsage struct {
	Scope     string    `json:"scope"`
	LimitType string    `json:"limit_type"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetTime time.Time `json:"reset_time"`
}

type httpCheckResponse struct {
	Allowed           bool        `json:"allowed"`
	Scope             string      `json:"scope,omitempty"`
	LimitType         string      `json:"limit_type,omitempty"`
	Limit             int64       `json:"limit,omitempty"`
	Remaining         int64       `json:"remaining"`
	ResetTime         *time.Time  `json:"reset_time,omitempty"`
	RetryAfterSeconds int64       `json:"retry_after_seconds,omitempty"`
	Usages            []httpUsage `json:"usages,omitempty"`
}

// httpRuleRequest is the rule CRUD payload. A null scope_value or
// resource_type means the rule matches every value of that dimension.
type httpRuleRequest struct {
	ID           int64   `json:"id,omitempty"`
	SystemID     string  `json:"system_id"`
	Name         string  `json:"name,omitempty"`
	Scope        string  `json:"scope"`
	ScopeValue   *string `json:"scope_value"`
	ResourceType *string `json:"resource_type"`
	LimitType    string  `json:"limit_type"`
	LimitValue   int64   `json:"limit_value"`
	Priority     int     `json:"priority"`
	Enabled      *bool   `json:"enabled"`
}

type httpRuleResponse struct {
	ID           int64     `json:"id"`
	SystemID     string    `json:"system_id"`
	Name         string    `json:"name,omitempty"`
	Scope        string    `json:"scope"`
	ScopeValue   *string   `json:"scope_value"`
	ResourceType *string   `json:"resource_type"`
	LimitType    string    `json:"limit_type"`
	LimitValue   int64     `json:"limit_value"`
	Priority     int       `json:"priority"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type httpQuotaResponse struct {
	Current     int64     `json:"current"`
	Limit       int64     `json:"limit"`
	Remaining   int64     `json:"remaining"`
	PeriodStart time.Time `json:"period_start"`
	ResetTime   time.Time `json:"reset_time"`
}

type httpQuotaIncrementRequest struct {
	SystemID     string `json:"system_id"`
	Scope        string `json:"scope"`
	ScopeValue   string `json:"scope_value"`
	ResourceType string `json:"resource_type,omitempty"`
	Period       string `json:"period"`
	Amount       int64  `json:"amount,omitempty"`
}

type httpViolationResponse struct {
	ID            string    `json:"id"`
	SystemID      string    `json:"system_id"`
	Scope         string    `json:"scope"`
	ScopeValue    string    `json:"scope_value"`
	ResourceType  string    `json:"resource_type,omitempty"`
	ViolatedLimit int64     `json:"violated_limit"`
	Blocked       bool      `json:"blocked"`
	RequestPath   string    `json:"request_path,omitempty"`
	UserAgent     string    `json:"user_agent,omitempty"`
	At            time.Time `json:"at"`
}

type httpViolationStats struct {
	Total        int64              `json:"total"`
	ByScope      map[string]int64   `json:"by_scope"`
	ByResource   map[string]int64   `json:"by_resource"`
	TopOffenders []httpOffenderStat `json:"top_offenders"`
}

type httpOffenderStat struct {
	ScopeValue string `json:"scope_value"`
	Count      int64  `json:"count"`
}

type httpCleanupRequest struct {
	Kind          string `json:"kind"`
	RetentionDays int    `json:"retention_days"`
}

type httpCleanupResponse struct {
	Kind    string `json:"kind"`
	Deleted int64  `json:"deleted"`
}

type httpLoadSampleRequest struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	Goroutines    int     `json:"goroutines,omitempty"`
}

type httpReputationRequest struct {
	Scope      string  `json:"scope"`
	ScopeValue string  `json:"scope_value"`
	Score      float64 `json:"score"`
}

func toCheckRequest(in httpCheckRequest) *CheckRequest {
	return &CheckRequest{
		SystemID:     in.SystemID,
		Scope:        ScopeKind(in.Scope),
		ScopeValue:   in.ScopeValue,
		ResourceType: in.ResourceType,
		RequestPath:  in.RequestPath,
		UserAgent:    in.UserAgent,
	}
}

func fromDecision(d *Decision) httpCheckResponse {
	resp := httpCheckResponse{
		Allowed:   d.Allowed,
		Scope:     string(d.Scope),
		LimitType: string(d.LimitType),
		Limit:     d.Limit,
		Remaining: d.Remaining,
	}
	if !d.ResetTime.IsZero() {
		reset := d.ResetTime
		resp.ResetTime = &reset
	}
	if d.RetryAfter > 0 {
		// Round up so a client that sleeps the advertised interval
		// lands past the boundary.
		resp.RetryAfterSeconds = int64((d.RetryAfter + time.Second - 1) / time.Second)
	}
	for _, usage := range d.Usages {
		resp.Usages = append(resp.Usages, httpUsage{
			Scope:     string(usage.Scope),
			LimitType: string(usage.LimitType),
			Limit:     usage.Limit,
			Remaining: usage.Remaining,
			ResetTime: usage.ResetTime,
		})
	}
	return resp
}

func toRule(in httpRuleRequest) *Rule {
	enabled := true
	if in.Enabled != nil {
		enabled = *in.Enabled
	}
	return &Rule{
		ID:           in.ID,
		SystemID:     in.SystemID,
		Name:         in.Name,
		Scope:        ScopeKind(in.Scope),
		ScopeValue:   matchFromPtr(in.ScopeValue),
		ResourceType: matchFromPtr(in.ResourceType),
		LimitType:    LimitType(in.LimitType),
		LimitValue:   in.LimitValue,
		Priority:     in.Priority,
		Enabled:      enabled,
	}
}

func fromRule(rule *Rule) httpRuleResponse {
	return httpRuleResponse{
		ID:           rule.ID,
		SystemID:     rule.SystemID,
		Name:         rule.Name,
		Scope:        string(rule.Scope),
		ScopeValue:   matchToPtr(rule.ScopeValue),
		ResourceType: matchToPtr(rule.ResourceType),
		LimitType:    string(rule.LimitType),
		LimitValue:   rule.LimitValue,
		Priority:     rule.Priority,
		Enabled:      rule.Enabled,
		CreatedAt:    rule.CreatedAt,
		UpdatedAt:    rule.UpdatedAt,
	}
}

func fromQuotaState(state *QuotaState) httpQuotaResponse {
	return httpQuotaResponse{
		Current:     state.Current,
		Limit:       state.Limit,
		Remaining:   state.Remaining,
		PeriodStart: state.PeriodStart,
		ResetTime:   state.ResetTime,
	}
}

func fromViolation(v *Violation) httpViolationResponse {
	return httpViolationResponse{
		ID:            v.ID,
		SystemID:      v.SystemID,
		Scope:         string(v.Scope),
		ScopeValue:    v.ScopeValue,
		ResourceType:  v.ResourceType,
		ViolatedLimit: v.ViolatedLimit,
		Blocked:       v.Blocked,
		RequestPath:   v.RequestPath,
		UserAgent:     v.UserAgent,
		At:            v.At,
	}
}

func fromViolationStats(stats *ViolationStats) httpViolationStats {
	out := httpViolationStats{
		Total:      stats.Total,
		ByScope:    stats.ByScope,
		ByResource: stats.ByResource,
	}
	for _, off := range stats.TopOffenders {
		out.TopOffenders = append(out.TopOffenders, httpOffenderStat{ScopeValue: off.ScopeValue, Count: off.Count})
	}
	return out
}

func matchFromPtr(value *string) Match {
	if value == nil {
		return MatchAny()
	}
	return MatchExact(*value)
}

func matchToPtr(m Match) *string {
	value, ok := m.Value()
	if !ok {
		return nil
	}
	return &value
}
