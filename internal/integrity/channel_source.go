package integrity

import (
	"context"
	"sync"
)

const channelSourceBuffer = 32

// ChannelSource is a SignalSource fed by a client connection. Signals pushed
// while it is not started are discarded.
type ChannelSource struct {
	mu      sync.Mutex
	ch      chan Signal
	starts  int
	dropped int
}

func NewChannelSource() *ChannelSource {
	return &ChannelSource{}
}

func (s *ChannelSource) Start(_ context.Context) (<-chan Signal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch != nil {
		close(s.ch)
	}
	s.ch = make(chan Signal, channelSourceBuffer)
	s.starts++
	return s.ch, nil
}

func (s *ChannelSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		return
	}
	close(s.ch)
	s.ch = nil
}

// Push offers sig to the active subscription.
func (s *ChannelSource) Push(sig Signal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ch == nil {
		s.dropped++
		return false
	}
	select {
	case s.ch <- sig:
		return true
	default:
		s.dropped++
		return false
	}
}

// Subscribed reports whether a monitor is currently listening.
func (s *ChannelSource) Subscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ch != nil
}
