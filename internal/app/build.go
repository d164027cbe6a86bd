package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/followup"
	"github.com/ent0n29/proctor/internal/httpapi"
	"github.com/ent0n29/proctor/internal/logger"
	"github.com/ent0n29/proctor/internal/observability"
	"github.com/ent0n29/proctor/internal/registry"
)

// DemoSessionID is seeded into the in-memory backend so a local run has
// something to attempt.
const DemoSessionID = "demo"

type VoiceInfo struct {
	Provider       string
	Detail         string
	DefaultVoiceID string
	DefaultModelID string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Registry *registry.Registry
	Metrics  *observability.Metrics
	Voice    VoiceInfo
	Backend  string

	// Cleanup should be called on shutdown to release external resources (DB, Redis).
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	portal, backendDetail, err := resolveBackend(cfg)
	if err != nil {
		return nil, err
	}

	followups, err := followup.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("follow-up store init failed: %w", err)
	}

	var (
		lease registry.Lease
		redis *registry.RedisLease
		ready func(context.Context) error
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redis, err = registry.NewRedisLease(ctx, cfg.RedisURL)
		if err != nil {
			_ = followups.Close()
			return nil, fmt.Errorf("attempt lease init failed: %w", err)
		}
		lease = redis
		ready = redis.Health
	}

	attempts := registry.New(registry.Config{
		Lease:       lease,
		LeaseTTL:    cfg.AttemptLeaseTTL,
		Retention:   cfg.AttemptRetention,
		IdleTimeout: cfg.AttemptIdleTimeout,
	})
	attempts.SetActiveHook(func(active int) {
		metrics.ActiveAttempts.Set(float64(active))
	})

	voiceSetup, err := resolveVoiceProvider(cfg)
	if err != nil {
		_ = followups.Close()
		if redis != nil {
			_ = redis.Close()
		}
		return nil, err
	}
	cfg.VoiceProvider = voiceSetup.resolvedProvider

	api := httpapi.New(httpapi.Deps{
		Config:    cfg,
		Registry:  attempts,
		Backend:   portal,
		FollowUps: followups,
		TTS:       voiceSetup.provider,
		Voice:     voiceSetup.voice,
		Metrics:   metrics,
		Log:       logger.WithField("component", "interview"),
		Ready:     ready,
	})

	cleanup := func() error {
		var errs []string
		if err := followups.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if redis != nil {
			if err := redis.Close(); err != nil {
				errs = append(errs, err.Error())
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Registry: attempts,
		Metrics:  metrics,
		Voice: VoiceInfo{
			Provider:       cfg.VoiceProvider,
			Detail:         voiceSetup.detail,
			DefaultVoiceID: voiceSetup.voice.VoiceID,
			DefaultModelID: voiceSetup.voice.ModelID,
		},
		Backend: backendDetail,
		Cleanup: cleanup,
	}, nil
}

func resolveBackend(cfg config.Config) (backend.Backend, string, error) {
	switch cfg.BackendMode {
	case "memory":
		mem := backend.NewInMemory(nil)
		mem.Seed(backend.SessionRecord{
			ID:          DemoSessionID,
			ScheduledAt: time.Now().UTC(),
			Duration:    time.Hour,
		})
		logger.WithFields(logrus.Fields{"session_id": DemoSessionID}).Info("in-memory backend seeded with demo session")
		return mem, "memory", nil
	case "http":
		client, err := backend.NewHTTPClient(backend.HTTPConfig{
			BaseURL: cfg.BackendURL,
			Token:   cfg.BackendToken,
			Timeout: cfg.BackendTimeout,
		})
		if err != nil {
			return nil, "", fmt.Errorf("portal client init failed: %w", err)
		}
		return client, "http " + cfg.BackendURL, nil
	default:
		return nil, "", fmt.Errorf("invalid BACKEND_MODE: %q (expected http|memory)", cfg.BackendMode)
	}
}
