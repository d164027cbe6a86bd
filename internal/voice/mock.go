package voice

import (
	"context"
	"encoding/base64"
	"strings"
	"sync"
)

// MockProvider synthesizes nothing: each sentence comes back as one audio event
// carrying the text bytes, followed by a final event when input is closed.
type MockProvider struct{}

func NewMockProvider() *MockProvider { return &MockProvider{} }

func (p *MockProvider) StartStream(_ context.Context, _ string, _ string, _ TTSSettings) (TTSStream, error) {
	return &mockTTSStream{events: make(chan TTSEvent, 128)}, nil
}

type mockTTSStream struct {
	mu     sync.Mutex
	events chan TTSEvent
	closed bool
}

func (s *mockTTSStream) SendText(_ context.Context, text string, _ bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || strings.TrimSpace(text) == "" {
		return nil
	}
	for _, sentence := range splitSentences(text) {
		s.emit(TTSEvent{
			Type:        TTSEventAudio,
			AudioBase64: base64.StdEncoding.EncodeToString([]byte(sentence)),
			Format:      "mock_text_bytes",
		})
	}
	return nil
}

func (s *mockTTSStream) CloseInput(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.emit(TTSEvent{Type: TTSEventFinal})
	return nil
}

// emit drops events once the buffer is full; callers hold mu.
func (s *mockTTSStream) emit(ev TTSEvent) {
	select {
	case s.events <- ev:
	default:
	}
}

func (s *mockTTSStream) Events() <-chan TTSEvent { return s.events }

func (s *mockTTSStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.events)
	return nil
}

func splitSentences(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == '.' || r == '?' || r == '!' {
			if part := strings.TrimSpace(text[start : i+1]); part != "" {
				out = append(out, part)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(text[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
