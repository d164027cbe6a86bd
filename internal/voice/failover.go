package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

// FailoverProvider serves the interviewer voice from primary and falls back
// when a stream cannot be started. The serving side is sticky: after a switch
// the other side is only tried again once the current one fails.
type FailoverProvider struct {
	primary       TTSProvider
	fallback      TTSProvider
	fallbackVoice string
	fallbackModel string

	onFallback  atomic.Bool
	switchHooks atomic.Value // func(usingFallback bool, cause error)
}

func NewFailoverProvider(primary, fallback TTSProvider, fallbackVoiceID, fallbackModelID string) *FailoverProvider {
	return &FailoverProvider{
		primary:       primary,
		fallback:      fallback,
		fallbackVoice: strings.TrimSpace(fallbackVoiceID),
		fallbackModel: strings.TrimSpace(fallbackModelID),
	}
}

// OnSwitch registers fn to run whenever the serving side changes. cause is the
// start error of the side that was abandoned.
func (p *FailoverProvider) OnSwitch(fn func(usingFallback bool, cause error)) {
	p.switchHooks.Store(fn)
}

// FallbackActive reports whether streams are currently served by fallback.
func (p *FailoverProvider) FallbackActive() bool {
	return p.onFallback.Load()
}

func (p *FailoverProvider) StartStream(ctx context.Context, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	current := p.onFallback.Load()
	stream, firstErr := p.start(ctx, current, voiceID, modelID, settings)
	if firstErr == nil {
		return stream, nil
	}
	stream, secondErr := p.start(ctx, !current, voiceID, modelID, settings)
	if secondErr != nil {
		return nil, errors.Join(firstErr, secondErr)
	}
	p.onFallback.Store(!current)
	if fn, ok := p.switchHooks.Load().(func(bool, error)); ok && fn != nil {
		fn(!current, firstErr)
	}
	return stream, nil
}

func (p *FailoverProvider) start(ctx context.Context, useFallback bool, voiceID, modelID string, settings TTSSettings) (TTSStream, error) {
	if !useFallback {
		stream, err := p.primary.StartStream(ctx, voiceID, modelID, settings)
		if err != nil {
			return nil, fmt.Errorf("tts primary: %w", err)
		}
		return stream, nil
	}
	if p.fallbackVoice != "" {
		voiceID = p.fallbackVoice
	}
	if p.fallbackModel != "" {
		modelID = p.fallbackModel
	}
	stream, err := p.fallback.StartStream(ctx, voiceID, modelID, settings)
	if err != nil {
		return nil, fmt.Errorf("tts fallback: %w", err)
	}
	return stream, nil
}
