package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

type memNotifier struct {
	mu     sync.Mutex
	titles []string
}

func (m *memNotifier) Send(ctx context.Context, title, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.titles = append(m.titles, title)
	return nil
}

func (m *memNotifier) n() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.titles)
}

func res(ok bool) domain.CheckResult {
	r := domain.CheckResult{Success: ok, ResponseTime: 100, Timestamp: time.Now()}
	if ok {
		s := 200
		r.StatusCode = &s
	} else {
		r.Error = domain.MsgConnectionError
	}
	return r
}

func TestAlerter_SendsOnDown_RespectsCooldown(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(nt, AlerterConfig{AlertOnRecovery: true, Cooldown: time.Minute}, nil)
	now := time.Now()
	al.now = func() time.Time { return now }
	e := domain.Endpoint{ID: 1, Name: "a", URL: "https://a", Method: "GET"}
	ctx := context.Background()

	// first result DOWN -> alert
	al.Observe(ctx, e, res(false))
	if nt.n() != 1 {
		t.Fatalf("want 1 alert, got %d", nt.n())
	}

	// same DOWN again -> nothing
	al.Observe(ctx, e, res(false))
	if nt.n() != 1 {
		t.Fatalf("repeat down should not alert, got %d", nt.n())
	}

	// UP -> recovery alert
	al.Observe(ctx, e, res(true))
	if nt.n() != 2 {
		t.Fatalf("want recovery alert, got %d", nt.n())
	}

	// DOWN again within cooldown -> suppressed
	al.Observe(ctx, e, res(false))
	if nt.n() != 2 {
		t.Fatalf("want cooldown to suppress, got %d", nt.n())
	}

	// flap back up and down after cooldown -> alerts again
	now = now.Add(2 * time.Minute)
	al.Observe(ctx, e, res(true))
	al.Observe(ctx, e, res(false))
	if nt.n() != 4 {
		t.Fatalf("want recovery + down after cooldown, got %d (%v)", nt.n(), nt.titles)
	}
}

func TestAlerter_NoRecoveryIfDisabled(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(nt, AlerterConfig{AlertOnRecovery: false}, nil)
	e := domain.Endpoint{ID: 2, Name: "b", URL: "https://b"}
	ctx := context.Background()

	// first time UP -> no alert
	al.Observe(ctx, e, res(true))
	if nt.n() != 0 {
		t.Fatalf("unexpected alert: %d", nt.n())
	}

	// go DOWN -> should alert
	al.Observe(ctx, e, res(false))
	if nt.n() != 1 {
		t.Fatalf("want one down alert, got %d", nt.n())
	}

	// back UP with recovery disabled -> no alert
	al.Observe(ctx, e, res(true))
	if nt.n() != 1 {
		t.Fatalf("recovery disabled, got %d", nt.n())
	}
}

func TestAlerter_Forget(t *testing.T) {
	nt := &memNotifier{}
	al := NewAlerter(nt, AlerterConfig{Cooldown: time.Hour}, nil)
	e := domain.Endpoint{ID: 3, Name: "c"}
	al.Observe(context.Background(), e, res(false))
	al.Forget(e.ID)
	al.Observe(context.Background(), e, res(false))
	if nt.n() != 2 {
		t.Fatalf("forgotten endpoint should alert again, got %d", nt.n())
	}
}
