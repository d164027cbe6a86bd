package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeAttempt struct {
	done   chan struct{}
	once   sync.Once
	mu     sync.Mutex
	reason string
}

func newFakeAttempt() *fakeAttempt { return &fakeAttempt{done: make(chan struct{})} }

func (a *fakeAttempt) Done() <-chan struct{} { return a.done }

func (a *fakeAttempt) Abort(reason string) {
	a.mu.Lock()
	a.reason = reason
	a.mu.Unlock()
	a.finish()
}

func (a *fakeAttempt) finish() { a.once.Do(func() { close(a.done) }) }

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestCreateEnforcesOneAttemptPerSession(t *testing.T) {
	r := New(Config{})
	first := newFakeAttempt()
	e, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return first, nil })
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if e.ID == "" || e.SessionID != "s1" {
		t.Fatalf("entry = %+v", e)
	}

	_, err = r.Create(context.Background(), "s1", func(string) (Attempt, error) { return newFakeAttempt(), nil })
	if !errors.Is(err, ErrAttemptActive) {
		t.Fatalf("second Create() error = %v, want ErrAttemptActive", err)
	}
	if r.ActiveCount() != 1 {
		t.Fatalf("ActiveCount() = %d, want 1", r.ActiveCount())
	}

	first.finish()
	waitFor(t, func() bool { return r.ActiveCount() == 0 })

	if _, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return newFakeAttempt(), nil }); err != nil {
		t.Fatalf("Create() after finish error = %v", err)
	}
}

func TestCreateReleasesLeaseWhenBuildFails(t *testing.T) {
	r := New(Config{})
	buildErr := errors.New("session invalid")
	if _, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return nil, buildErr }); !errors.Is(err, buildErr) {
		t.Fatalf("Create() error = %v, want build error", err)
	}
	if _, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return newFakeAttempt(), nil }); err != nil {
		t.Fatalf("Create() after failed build error = %v", err)
	}
}

func TestSweepAbortsIdleAndDropsExpired(t *testing.T) {
	r := New(Config{IdleTimeout: time.Minute, Retention: time.Minute})
	a := newFakeAttempt()
	e, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return a, nil })
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	r.sweep(time.Now().UTC().Add(2 * time.Minute))
	waitFor(t, func() bool { got, _ := r.Get(e.ID); return got.Ended() })
	if a.reason != "client inactive" {
		t.Fatalf("abort reason = %q", a.reason)
	}

	r.sweep(time.Now().UTC().Add(5 * time.Minute))
	if _, err := r.Get(e.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after retention error = %v, want ErrNotFound", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reason != "attempt expired" {
		t.Fatalf("dropped attempt abort reason = %q, want attempt expired", a.reason)
	}
}

func TestShutdownAbortsLiveAttempts(t *testing.T) {
	r := New(Config{})
	a := newFakeAttempt()
	if _, err := r.Create(context.Background(), "s1", func(string) (Attempt, error) { return a, nil }); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	if a.reason != "server shutting down" {
		t.Fatalf("abort reason = %q", a.reason)
	}
}

func TestLocalLeaseOwnership(t *testing.T) {
	l := NewLocalLease()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return base }
	ctx := context.Background()

	if ok, _ := l.Acquire(ctx, "s", "a", time.Minute); !ok {
		t.Fatalf("first Acquire() = false")
	}
	if ok, _ := l.Acquire(ctx, "s", "b", time.Minute); ok {
		t.Fatalf("competing Acquire() = true")
	}
	_ = l.Release(ctx, "s", "b")
	if ok, _ := l.Acquire(ctx, "s", "b", time.Minute); ok {
		t.Fatalf("Release() by non-owner freed the lease")
	}
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	if ok, _ := l.Acquire(ctx, "s", "b", time.Minute); !ok {
		t.Fatalf("Acquire() after expiry = false")
	}
}
