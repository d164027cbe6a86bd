package media

import (
	"context"
	"fmt"
	"sync"
)

const remoteFrameBuffer = 64

// RemoteDevice is a Device whose permission prompts and audio frames travel over
// a client connection. Requests go out through the request callback; the client
// answers with Answer and streams captured audio with Push.
type RemoteDevice struct {
	request func(kind Kind)

	mu      sync.Mutex
	answers map[Kind]chan Permission
	streams map[Kind]*remoteStream
	dropped int
}

func NewRemoteDevice(request func(kind Kind)) *RemoteDevice {
	return &RemoteDevice{
		request: request,
		answers: map[Kind]chan Permission{
			KindVideo: make(chan Permission, 1),
			KindAudio: make(chan Permission, 1),
		},
		streams: make(map[Kind]*remoteStream),
	}
}

func (d *RemoteDevice) Open(ctx context.Context, kind Kind) (Stream, error) {
	answers, ok := d.answers[kind]
	if !ok {
		return nil, fmt.Errorf("open %q: %w", kind, ErrUnknownKind)
	}
	// Drop a stale answer left over from an earlier prompt.
	select {
	case <-answers:
	default:
	}
	if d.request != nil {
		d.request(kind)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case perm := <-answers:
		if perm != PermissionGranted {
			return nil, fmt.Errorf("client answered %s for %s: %w", perm, kind, ErrPermissionDenied)
		}
	}

	s := &remoteStream{frames: make(chan []byte, remoteFrameBuffer)}
	d.mu.Lock()
	if prev := d.streams[kind]; prev != nil {
		prev.close()
	}
	d.streams[kind] = s
	d.mu.Unlock()
	return s, nil
}

// Answer records the client's response to the most recent permission request.
func (d *RemoteDevice) Answer(kind Kind, perm Permission) error {
	answers, ok := d.answers[kind]
	if !ok {
		return fmt.Errorf("answer %q: %w", kind, ErrUnknownKind)
	}
	select {
	case <-answers:
	default:
	}
	answers <- perm
	return nil
}

// Push delivers a captured chunk to the open stream of kind. Chunks arriving
// with no open stream, or faster than the consumer drains them, are dropped.
func (d *RemoteDevice) Push(kind Kind, chunk []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.streams[kind]
	if s == nil || !s.offer(chunk) {
		d.dropped++
		return false
	}
	return true
}

func (d *RemoteDevice) Dropped() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

type remoteStream struct {
	mu     sync.Mutex
	frames chan []byte
	closed bool
}

func (s *remoteStream) Frames() <-chan []byte { return s.frames }

func (s *remoteStream) offer(chunk []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.frames <- chunk:
		return true
	default:
		return false
	}
}

func (s *remoteStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.frames)
}

func (s *remoteStream) Stop() error {
	s.close()
	return nil
}
