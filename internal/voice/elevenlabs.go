package voice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/ent0n29/proctor/internal/reliability"
	"github.com/gorilla/websocket"
)

type ElevenLabsConfig struct {
	APIKey       string
	WSBaseURL    string
	OutputFormat string
}

// ElevenLabsProvider streams interviewer speech over the ElevenLabs
// text-to-speech websocket.
type ElevenLabsProvider struct {
	cfg    ElevenLabsConfig
	dialer *websocket.Dialer
}

func NewElevenLabsProvider(cfg ElevenLabsConfig) *ElevenLabsProvider {
	if strings.TrimSpace(cfg.WSBaseURL) == "" {
		cfg.WSBaseURL = "wss://api.elevenlabs.io"
	}
	if strings.TrimSpace(cfg.OutputFormat) == "" {
		cfg.OutputFormat = "mp3_44100_128"
	}
	return &ElevenLabsProvider{cfg: cfg, dialer: websocket.DefaultDialer}
}

func (p *ElevenLabsProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if strings.TrimSpace(voiceID) == "" {
		return nil, errors.New("voice_id is required")
	}
	if strings.TrimSpace(modelID) == "" {
		modelID = "eleven_multilingual_v2"
	}

	u, err := url.Parse(strings.TrimRight(p.cfg.WSBaseURL, "/") + "/v1/text-to-speech/" + url.PathEscape(voiceID) + "/stream-input")
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set("model_id", modelID)
	q.Set("output_format", p.cfg.OutputFormat)
	q.Set("auto_mode", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("xi-api-key", p.cfg.APIKey)

	conn, _, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		return nil, fmt.Errorf("dial tts websocket: %w", err)
	}

	s := &elevenTTSStream{
		conn:   conn,
		format: p.cfg.OutputFormat,
		events: make(chan TTSEvent, 512),
		done:   make(chan struct{}),
	}
	go s.readLoop()
	// The first message carries voice settings and a single space.
	if err := s.writeJSON(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        clampSetting(settings.Stability, 0.42, 0, 1),
			"similarity_boost": clampSetting(settings.SimilarityBoost, 0.85, 0, 1),
			"speed":            clampSetting(settings.Speed, 1.0, 0.7, 1.2),
		},
	}); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("prime tts stream: %w", err)
	}
	return s, nil
}

func clampSetting(v, def, lo, hi float64) float64 {
	if v <= 0 {
		v = def
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

type elevenTTSStream struct {
	conn      *websocket.Conn
	format    string
	writeMu   sync.Mutex
	closeOnce sync.Once
	events    chan TTSEvent
	done      chan struct{}
}

func (s *elevenTTSStream) SendText(_ context.Context, text string, tryTrigger bool) error {
	return s.writeJSON(map[string]any{
		"text":                   text,
		"try_trigger_generation": tryTrigger,
	})
}

func (s *elevenTTSStream) CloseInput(_ context.Context) error {
	return s.writeJSON(map[string]any{"text": ""})
}

func (s *elevenTTSStream) Events() <-chan TTSEvent { return s.events }

// Close shuts the connection; readLoop closes the events channel on its way out.
func (s *elevenTTSStream) Close() error {
	var retErr error
	s.closeOnce.Do(func() {
		close(s.done)
		retErr = s.conn.Close()
	})
	return retErr
}

func (s *elevenTTSStream) emit(ev TTSEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *elevenTTSStream) writeJSON(payload map[string]any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(payload)
}

type elevenTTSMessage struct {
	Audio       string `json:"audio"`
	IsFinal     *bool  `json:"isFinal"`
	IsFinalAlt  *bool  `json:"is_final"`
	Error       string `json:"error"`
	MessageType string `json:"message_type"`
}

func (m elevenTTSMessage) final() bool {
	return (m.IsFinal != nil && *m.IsFinal) || (m.IsFinalAlt != nil && *m.IsFinalAlt)
}

func (s *elevenTTSStream) readLoop() {
	defer close(s.events)
	defer func() { _ = s.Close() }()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg elevenTTSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Audio != "" && !s.emit(TTSEvent{Type: TTSEventAudio, AudioBase64: msg.Audio, Format: s.format}) {
			return
		}
		if msg.final() && !s.emit(TTSEvent{Type: TTSEventFinal}) {
			return
		}
		if msg.Error != "" && !s.emit(TTSEvent{
			Type:      TTSEventError,
			Code:      msg.MessageType,
			Detail:    msg.Error,
			Retryable: reliability.IsRetryableRealtimeMessageType(msg.MessageType),
		}) {
			return
		}
	}
}
