package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSlack_OK(t *testing.T) {
	var got slackMessage
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(200)
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	if s == nil {
		t.Fatal("expected slack client")
	}
	err := s.Send(context.Background(), "DOWN: billing-api", "Connection error")
	if err != nil {
		t.Fatalf("send err: %v", err)
	}
	if got.Text != "DOWN: billing-api" {
		t.Fatalf("fallback text not as expected: %q", got.Text)
	}
	if len(got.Blocks) != 2 || got.Blocks[0].Type != "header" || got.Blocks[1].Text.Text != "Connection error" {
		t.Fatalf("blocks not as expected: %+v", got.Blocks)
	}
}

func TestSlack_Disabled(t *testing.T) {
	var s *Slack
	if err := s.Send(context.Background(), "X", "Y"); !errors.Is(err, ErrSlackDisabled) {
		t.Fatalf("want ErrSlackDisabled, got %v", err)
	}
	if NewSlack("") != nil {
		t.Fatal("empty webhook should disable slack")
	}
}

func TestSlack_Non2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(500)
		_, _ = w.Write([]byte("invalid_token"))
	}))
	defer ts.Close()

	s := NewSlack(ts.URL)
	err := s.Send(context.Background(), "X", "Y")
	if err == nil || !strings.Contains(err.Error(), "500") || !strings.Contains(err.Error(), "invalid_token") {
		t.Fatalf("expected status error on non-2xx, got %v", err)
	}
}

type countingNotifier struct {
	n   int
	err error
}

func (c *countingNotifier) Send(ctx context.Context, title, text string) error {
	c.n++
	return c.err
}

func TestMulti_SendsToAllAndJoinsErrors(t *testing.T) {
	a := &countingNotifier{err: errors.New("a down")}
	b := &countingNotifier{}
	c := &countingNotifier{err: errors.New("c down")}

	err := Multi{a, nil, b, c}.Send(context.Background(), "t", "x")
	if a.n != 1 || b.n != 1 || c.n != 1 {
		t.Fatalf("every notifier should be called once: %d %d %d", a.n, b.n, c.n)
	}
	if err == nil || !strings.Contains(err.Error(), "a down") || !strings.Contains(err.Error(), "c down") {
		t.Fatalf("want both errors, got %v", err)
	}
}

func TestBuild(t *testing.T) {
	if len(Build("")) != 0 {
		t.Fatal("no webhook should build no notifiers")
	}
	if len(Build("https://hooks.example.com/x")) != 1 {
		t.Fatal("webhook should enable slack")
	}
}
