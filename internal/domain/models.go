package domain

import (
	"strings"
	"time"
)

// Defaults applied at registration when the caller leaves a field out.
const (
	DefaultMethod         = "GET"
	DefaultExpectedStatus = 200
	DefaultCheckInterval  = 60
)

// SummaryWindow is the fixed rolling window a PerformanceSummary covers.
const SummaryWindow = 24 * time.Hour

type EndpointID int64

type Endpoint struct {
	ID             EndpointID        `json:"id"`
	Name           string            `json:"name"`
	URL            string            `json:"url"`
	Method         string            `json:"method"`
	Headers        map[string]string `json:"headers"`
	Body           *string           `json:"body,omitempty"`
	ExpectedStatus int               `json:"expected_status"`
	CheckInterval  int               `json:"check_interval"` // seconds
	IsActive       bool              `json:"is_active"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Interval returns the check interval as a duration.
func (e Endpoint) Interval() time.Duration {
	return time.Duration(e.CheckInterval) * time.Second
}

// CarriesBody reports whether requests for this endpoint attach the body.
func (e Endpoint) CarriesBody() bool {
	switch strings.ToUpper(e.Method) {
	case "POST", "PUT", "PATCH":
		return true
	}
	return false
}

// Outcome tags how a single check resolved.
type Outcome string

const (
	OutcomeOK               Outcome = "ok"
	OutcomeUnexpectedStatus Outcome = "unexpected_status"
	OutcomeTimeout          Outcome = "timeout"
	OutcomeConnectionError  Outcome = "connection_error"
	OutcomeError            Outcome = "error"
)

// Error messages recorded for transport failures.
const (
	MsgTimeout         = "Request timeout"
	MsgConnectionError = "Connection error"
)

type CheckResult struct {
	ID           int64      `json:"id"`
	EndpointID   EndpointID `json:"endpoint_id"`
	ResponseTime float64    `json:"response_time"` // ms
	StatusCode   *int       `json:"status_code"`
	Success      bool       `json:"success"`
	Error        string     `json:"error_message,omitempty"`
	ResponseSize int64      `json:"response_size"`
	Outcome      Outcome    `json:"outcome"`
	Timestamp    time.Time  `json:"timestamp"`
}

type PerformanceSummary struct {
	EndpointID         EndpointID `json:"endpoint_id"`
	EndpointName       string     `json:"endpoint_name"`
	AvgResponseTime    float64    `json:"avg_response_time"`
	MinResponseTime    float64    `json:"min_response_time"`
	MaxResponseTime    float64    `json:"max_response_time"`
	SuccessRate        float64    `json:"success_rate"`
	TotalRequests      int        `json:"total_requests"`
	SuccessfulRequests int        `json:"successful_requests"`
	FailedRequests     int        `json:"failed_requests"`
	LastUpdated        time.Time  `json:"last_updated"`
}
