package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound      = errors.New("attempt not found")
	ErrAttemptActive = errors.New("an attempt is already active for this session")
)

// Attempt is a running interview controller as seen by the registry.
type Attempt interface {
	// Done is closed once the attempt has finished and released its resources.
	Done() <-chan struct{}
	// Abort ends the attempt early, as a candidate exit would.
	Abort(reason string)
}

type Entry struct {
	ID             string
	SessionID      string
	Attempt        Attempt
	CreatedAt      time.Time
	LastActivityAt time.Time
	EndedAt        time.Time
}

func (e Entry) Ended() bool { return !e.EndedAt.IsZero() }

type Config struct {
	Lease Lease
	// LeaseTTL must outlast the longest interview.
	LeaseTTL time.Duration
	// Retention keeps finished attempts readable before the janitor drops them.
	Retention time.Duration
	// IdleTimeout aborts attempts whose client went silent.
	IdleTimeout time.Duration
}

// Registry tracks live attempts by id.
type Registry struct {
	cfg Config

	mu       sync.RWMutex
	entries  map[string]*Entry
	onChange func(active int)
}

func New(cfg Config) *Registry {
	if cfg.Lease == nil {
		cfg.Lease = NewLocalLease()
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 4 * time.Hour
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 10 * time.Minute
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	return &Registry{cfg: cfg, entries: make(map[string]*Entry)}
}

// SetActiveHook observes the number of live attempts after every change.
func (r *Registry) SetActiveHook(hook func(active int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = hook
}

// Create leases sessionID and registers the attempt returned by build.
func (r *Registry) Create(ctx context.Context, sessionID string, build func(attemptID string) (Attempt, error)) (Entry, error) {
	id := uuid.NewString()
	ok, err := r.cfg.Lease.Acquire(ctx, sessionID, id, r.cfg.LeaseTTL)
	if err != nil {
		return Entry{}, err
	}
	if !ok {
		return Entry{}, fmt.Errorf("session %s: %w", sessionID, ErrAttemptActive)
	}

	attempt, err := build(id)
	if err != nil {
		_ = r.cfg.Lease.Release(context.Background(), sessionID, id)
		return Entry{}, err
	}

	now := time.Now().UTC()
	e := &Entry{ID: id, SessionID: sessionID, Attempt: attempt, CreatedAt: now, LastActivityAt: now}
	r.mu.Lock()
	r.entries[id] = e
	out := *e
	r.mu.Unlock()
	r.notify()

	go r.watch(id, sessionID, attempt)
	return out, nil
}

func (r *Registry) watch(id, sessionID string, a Attempt) {
	<-a.Done()
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		e.EndedAt = time.Now().UTC()
	}
	r.mu.Unlock()
	_ = r.cfg.Lease.Release(context.Background(), sessionID, id)
	r.notify()
}

func (r *Registry) Get(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return *e, nil
}

// Touch records client activity on an attempt.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.LastActivityAt = time.Now().UTC()
	return nil
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.entries {
		if !e.Ended() {
			n++
		}
	}
	return n
}

func (r *Registry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep(time.Now().UTC())
			}
		}
	}()
}

// sweep aborts idle attempts and drops finished ones past retention. Dropped
// attempts are aborted once more so they can stop for good.
func (r *Registry) sweep(now time.Time) {
	var idle, dropped []Attempt
	r.mu.Lock()
	for id, e := range r.entries {
		if e.Ended() {
			if now.Sub(e.EndedAt) >= r.cfg.Retention {
				delete(r.entries, id)
				dropped = append(dropped, e.Attempt)
			}
			continue
		}
		if now.Sub(e.LastActivityAt) >= r.cfg.IdleTimeout {
			idle = append(idle, e.Attempt)
		}
	}
	r.mu.Unlock()

	for _, a := range idle {
		a.Abort("client inactive")
	}
	for _, a := range dropped {
		a.Abort("attempt expired")
	}
}

// Shutdown aborts every live attempt and waits for them to finish or ctx to end.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	live := make([]Attempt, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.Ended() {
			live = append(live, e.Attempt)
		}
	}
	r.mu.RUnlock()

	for _, a := range live {
		a.Abort("server shutting down")
	}
	for _, a := range live {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (r *Registry) notify() {
	r.mu.RLock()
	hook := r.onChange
	r.mu.RUnlock()
	if hook != nil {
		hook(r.ActiveCount())
	}
}
