package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

const DefaultTimeout = 30 * time.Second

type HTTPChecker struct {
	Client  *http.Client
	Timeout time.Duration
}

func NewHTTPChecker(timeout time.Duration) *HTTPChecker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &HTTPChecker{
		Client:  &http.Client{},
		Timeout: timeout,
	}
}

// Execute issues one request. The request does not inherit ctx cancellation,
// so stopping a monitor lets an in-flight call finish within Timeout.
func (h *HTTPChecker) Execute(ctx context.Context, e domain.Endpoint) domain.CheckResult {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.Timeout)
	defer cancel()

	res := domain.CheckResult{EndpointID: e.ID}

	method := strings.ToUpper(e.Method)
	if method == "" {
		method = domain.DefaultMethod
	}
	var body io.Reader
	if e.CarriesBody() && e.Body != nil {
		body = strings.NewReader(*e.Body)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, e.URL, body)
	if err != nil {
		return failed(res, start, err)
	}
	for k, v := range e.Headers {
		if strings.EqualFold(k, "Host") {
			req.Host = v
			continue
		}
		req.Header.Set(k, v)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return failed(res, start, err)
	}
	size, err := io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if err != nil {
		return failed(res, start, err)
	}

	res.ResponseTime = sinceMS(start)
	res.Timestamp = time.Now().UTC()
	status := resp.StatusCode
	res.StatusCode = &status
	res.ResponseSize = size

	if status == e.ExpectedStatus {
		res.Success = true
		res.Outcome = domain.OutcomeOK
		return res
	}
	res.Outcome = domain.OutcomeUnexpectedStatus
	res.Error = fmt.Sprintf("Expected status %d, got %d", e.ExpectedStatus, status)
	return res
}

func failed(res domain.CheckResult, start time.Time, err error) domain.CheckResult {
	res.ResponseTime = sinceMS(start)
	res.Timestamp = time.Now().UTC()
	res.Outcome, res.Error = Classify(err)
	return res
}

func sinceMS(start time.Time) float64 {
	return float64(time.Since(start).Nanoseconds()) / 1e6
}

// Classify maps a transport error to an outcome and the message stored with
// the result. Timeouts win over connection failures.
func Classify(err error) (domain.Outcome, string) {
	var ne net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		return domain.OutcomeTimeout, domain.MsgTimeout
	}

	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
	)
	switch {
	case errors.As(err, &dnsErr),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return domain.OutcomeConnectionError, domain.MsgConnectionError
	}
	return domain.OutcomeError, err.Error()
}
