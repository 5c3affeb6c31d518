package probe

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/apimonitor/internal/domain"
)

func endpoint(url string) domain.Endpoint {
	return domain.Endpoint{ID: 1, Name: "svc", URL: url, Method: "GET", ExpectedStatus: 200, CheckInterval: 30}
}

func TestHTTPChecker_StatusOK(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("hello"))
	}))
	defer s.Close()

	out := NewHTTPChecker(2*time.Second).Execute(context.Background(), endpoint(s.URL))
	assert.True(t, out.Success)
	assert.Equal(t, domain.OutcomeOK, out.Outcome)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, 200, *out.StatusCode)
	assert.Equal(t, int64(5), out.ResponseSize)
	assert.Empty(t, out.Error)
	assert.GreaterOrEqual(t, out.ResponseTime, 0.0)
	assert.Equal(t, domain.EndpointID(1), out.EndpointID)
	assert.False(t, out.Timestamp.IsZero())
}

func TestHTTPChecker_UnexpectedStatus(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", 500)
	}))
	defer s.Close()

	out := NewHTTPChecker(2*time.Second).Execute(context.Background(), endpoint(s.URL))
	assert.False(t, out.Success)
	assert.Equal(t, domain.OutcomeUnexpectedStatus, out.Outcome)
	require.NotNil(t, out.StatusCode)
	assert.Equal(t, 500, *out.StatusCode)
	assert.Equal(t, "Expected status 200, got 500", out.Error)
	assert.Positive(t, out.ResponseSize)
}

func TestHTTPChecker_ExpectedNon200(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer s.Close()

	e := endpoint(s.URL)
	e.ExpectedStatus = 201
	out := NewHTTPChecker(2*time.Second).Execute(context.Background(), e)
	assert.True(t, out.Success)
	assert.Equal(t, int64(0), out.ResponseSize)
}

func TestHTTPChecker_Timeout(t *testing.T) {
	release := make(chan struct{})
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
		w.WriteHeader(200)
	}))
	defer s.Close()
	defer close(release)

	out := NewHTTPChecker(50*time.Millisecond).Execute(context.Background(), endpoint(s.URL))
	assert.False(t, out.Success)
	assert.Equal(t, domain.OutcomeTimeout, out.Outcome)
	assert.Equal(t, "Request timeout", out.Error)
	assert.Nil(t, out.StatusCode)
	assert.Equal(t, int64(0), out.ResponseSize)
	assert.GreaterOrEqual(t, out.ResponseTime, 40.0)
}

func TestHTTPChecker_ConnectionRefused(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := s.URL
	s.Close()

	out := NewHTTPChecker(2*time.Second).Execute(context.Background(), endpoint(url))
	assert.False(t, out.Success)
	assert.Equal(t, domain.OutcomeConnectionError, out.Outcome)
	assert.Equal(t, "Connection error", out.Error)
	assert.Nil(t, out.StatusCode)
}

func TestHTTPChecker_OtherError(t *testing.T) {
	out := NewHTTPChecker(time.Second).Execute(context.Background(), endpoint("ftp://example.com/file"))
	assert.False(t, out.Success)
	assert.Equal(t, domain.OutcomeError, out.Outcome)
	assert.Contains(t, out.Error, "unsupported protocol scheme")
	assert.Nil(t, out.StatusCode)
}

func TestHTTPChecker_BodyOnlyForPayloadMethods(t *testing.T) {
	type seen struct {
		method, body, header string
	}
	got := make(chan seen, 4)
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- seen{r.Method, string(b), r.Header.Get("X-Token")}
		w.WriteHeader(200)
	}))
	defer s.Close()

	payload := `{"a":1}`
	chk := NewHTTPChecker(2 * time.Second)
	for _, method := range []string{"POST", "put", "GET", "DELETE"} {
		e := endpoint(s.URL)
		e.Method = method
		e.Body = &payload
		e.Headers = map[string]string{"X-Token": "abc"}
		out := chk.Execute(context.Background(), e)
		require.True(t, out.Success, method)

		g := <-got
		assert.Equal(t, "abc", g.header)
		switch g.method {
		case "POST", "PUT":
			assert.Equal(t, payload, g.body, method)
		default:
			assert.Empty(t, g.body, method)
		}
	}
}

func TestHTTPChecker_IgnoresCallerCancellation(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(200)
	}))
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out := NewHTTPChecker(2*time.Second).Execute(ctx, endpoint(s.URL))
	assert.True(t, out.Success, "in-flight check should not observe caller cancellation: %+v", out)
}

func TestClassify(t *testing.T) {
	o, msg := Classify(context.DeadlineExceeded)
	assert.Equal(t, domain.OutcomeTimeout, o)
	assert.Equal(t, domain.MsgTimeout, msg)

	o, msg = Classify(io.ErrUnexpectedEOF)
	assert.Equal(t, domain.OutcomeConnectionError, o)
	assert.Equal(t, domain.MsgConnectionError, msg)

	o, msg = Classify(errors.New("weird"))
	assert.Equal(t, domain.OutcomeError, o)
	assert.Equal(t, "weird", msg)
}

func TestLimitChecker_CapsConcurrency(t *testing.T) {
	inner := &blockingChecker{release: make(chan struct{}), started: make(chan struct{}, 3)}
	l := NewLimitChecker(inner, 2)

	done := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		go func() {
			l.Execute(context.Background(), domain.Endpoint{})
			done <- struct{}{}
		}()
	}
	<-inner.started
	<-inner.started
	select {
	case <-inner.started:
		t.Fatal("third check started while two were in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(inner.release)
	for i := 0; i < 3; i++ {
		<-done
	}
}

type blockingChecker struct {
	release chan struct{}
	started chan struct{}
}

func (b *blockingChecker) Execute(ctx context.Context, e domain.Endpoint) domain.CheckResult {
	b.started <- struct{}{}
	<-b.release
	return domain.CheckResult{Success: true}
}
