package app

import (
	"fmt"
	"strings"

	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/logger"
	"github.com/ent0n29/proctor/internal/voice"
)

type voiceSetup struct {
	provider         voice.TTSProvider
	voice            voice.Voice
	resolvedProvider string
	detail           string
}

func resolveVoiceProvider(cfg config.Config) (voiceSetup, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	if mode == "" {
		mode = "auto"
	}

	mock := voiceSetup{
		provider:         voice.NewMockProvider(),
		resolvedProvider: "mock",
		detail:           "mock",
	}
	tryElevenLabs := func() (voiceSetup, bool) {
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" {
			return voiceSetup{}, false
		}
		p := voice.NewElevenLabsProvider(voice.ElevenLabsConfig{
			APIKey:       cfg.ElevenLabsAPIKey,
			WSBaseURL:    cfg.ElevenLabsWSBaseURL,
			OutputFormat: cfg.ElevenLabsTTSOutputFormat,
		})
		return voiceSetup{
			provider:         p,
			voice:            voice.Voice{VoiceID: cfg.ElevenLabsTTSVoice, ModelID: cfg.ElevenLabsTTSModel},
			resolvedProvider: "elevenlabs",
			detail:           "elevenlabs streaming tts",
		}, true
	}

	switch mode {
	case "elevenlabs":
		setup, ok := tryElevenLabs()
		if !ok {
			return voiceSetup{}, fmt.Errorf("VOICE_PROVIDER=elevenlabs but ELEVENLABS_API_KEY is not set")
		}
		return setup, nil
	case "mock":
		return mock, nil
	case "auto":
		eleven, ok := tryElevenLabs()
		if !ok {
			mock.detail = "mock (no elevenlabs key)"
			return mock, nil
		}
		failover := voice.NewFailoverProvider(eleven.provider, mock.provider, "", "")
		failover.OnSwitch(func(usingFallback bool, cause error) {
			if usingFallback {
				logger.WithError(cause).Warn("interviewer voice switched to mock fallback")
				return
			}
			logger.WithError(cause).Info("interviewer voice back on elevenlabs")
		})
		eleven.provider = failover
		eleven.detail = "elevenlabs streaming tts (automatic mock fallback)"
		return eleven, nil
	default:
		return voiceSetup{}, fmt.Errorf("invalid VOICE_PROVIDER: %q (expected auto|elevenlabs|mock)", cfg.VoiceProvider)
	}
}
