package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Handle is the read-only view of one capture stream. Only the Manager mutates it.
type Handle struct {
	kind Kind

	mu         sync.Mutex
	live       bool
	permission Permission
	nextSub    int
	subs       map[int]func([]byte)
}

func newHandle(kind Kind) *Handle {
	return &Handle{kind: kind, permission: PermissionPrompt, subs: make(map[int]func([]byte))}
}

func (h *Handle) Kind() Kind { return h.kind }

func (h *Handle) Live() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.live
}

func (h *Handle) Permission() Permission {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.permission
}

// Subscribe registers fn for every captured frame until the returned cancel is called.
func (h *Handle) Subscribe(fn func([]byte)) (cancel func()) {
	h.mu.Lock()
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Handle) dispatch(frame []byte) {
	h.mu.Lock()
	fns := make([]func([]byte), 0, len(h.subs))
	for _, fn := range h.subs {
		fns = append(fns, fn)
	}
	h.mu.Unlock()
	for _, fn := range fns {
		fn(frame)
	}
}

func (h *Handle) set(live bool, perm Permission) {
	h.mu.Lock()
	h.live = live
	h.permission = perm
	h.mu.Unlock()
}

// Manager owns camera and microphone streams for one attempt.
type Manager struct {
	device Device

	mu      sync.Mutex
	handles map[Kind]*Handle
	streams map[Kind]Stream
	pumps   sync.WaitGroup
	stops   int
}

func NewManager(device Device) *Manager {
	return &Manager{
		device: device,
		handles: map[Kind]*Handle{
			KindVideo: newHandle(KindVideo),
			KindAudio: newHandle(KindAudio),
		},
		streams: make(map[Kind]Stream),
	}
}

// Acquire opens every requested kind that is not already live. Failures are
// returned joined as *PermissionError values; granted kinds stay live.
func (m *Manager) Acquire(ctx context.Context, kinds ...Kind) error {
	var errs []error
	for _, kind := range kinds {
		if err := m.acquireOne(ctx, kind); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) acquireOne(ctx context.Context, kind Kind) error {
	h, ok := m.handles[kind]
	if !ok {
		return fmt.Errorf("acquire %q: %w", kind, ErrUnknownKind)
	}
	m.mu.Lock()
	_, live := m.streams[kind]
	m.mu.Unlock()
	if live {
		return nil
	}

	stream, err := m.device.Open(ctx, kind)
	if err != nil {
		perm := PermissionDenied
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			perm = PermissionPrompt
		}
		h.set(false, perm)
		return &PermissionError{Kind: kind, Permission: perm, Err: err}
	}

	m.mu.Lock()
	m.streams[kind] = stream
	m.mu.Unlock()
	h.set(true, PermissionGranted)

	m.pumps.Add(1)
	go func() {
		defer m.pumps.Done()
		for frame := range stream.Frames() {
			h.dispatch(frame)
		}
	}()
	return nil
}

// Handle returns the read-only view for kind, or nil for an unknown kind.
func (m *Manager) Handle(kind Kind) *Handle {
	return m.handles[kind]
}

func (m *Manager) Permission(kind Kind) Permission {
	h := m.handles[kind]
	if h == nil {
		return PermissionPrompt
	}
	return h.Permission()
}

// Release stops every live stream. Safe to call repeatedly.
func (m *Manager) Release() {
	m.mu.Lock()
	streams := m.streams
	m.streams = make(map[Kind]Stream)
	m.stops += len(streams)
	m.mu.Unlock()

	for kind, s := range streams {
		_ = s.Stop()
		h := m.handles[kind]
		h.set(false, h.Permission())
	}
	m.pumps.Wait()
}

// StreamsStopped counts streams stopped by Release over the manager's life.
func (m *Manager) StreamsStopped() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}
