package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/domain"
	"github.com/ent0n29/proctor/internal/followup"
	"github.com/ent0n29/proctor/internal/integrity"
	"github.com/ent0n29/proctor/internal/interview"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/observability"
	"github.com/ent0n29/proctor/internal/registry"
	"github.com/ent0n29/proctor/internal/voice"
)

// Deps are the collaborators shared by every attempt the server creates.
type Deps struct {
	Config    config.Config
	Registry  *registry.Registry
	Backend   backend.Backend
	FollowUps followup.Store
	TTS       voice.TTSProvider
	Voice     voice.Voice
	Metrics   *observability.Metrics
	Log       *logrus.Entry
	// Ready reports whether external dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct {
	cfg       config.Config
	attempts  *registry.Registry
	backend   backend.Backend
	followups followup.Store
	tts       voice.TTSProvider
	voice     voice.Voice
	metrics   *observability.Metrics
	log       *logrus.Entry
	ready     func(ctx context.Context) error
	upgrader  websocket.Upgrader
}

func New(deps Deps) *Server {
	if deps.Registry == nil {
		deps.Registry = registry.New(registry.Config{})
	}
	if deps.FollowUps == nil {
		deps.FollowUps = followup.NewInMemoryStore()
	}
	if deps.Log == nil {
		deps.Log = logrus.NewEntry(logrus.StandardLogger())
	}
	cfg := deps.Config
	return &Server{
		cfg:       cfg,
		attempts:  deps.Registry,
		backend:   deps.Backend,
		followups: deps.FollowUps,
		tts:       deps.TTS,
		voice:     deps.Voice,
		metrics:   deps.Metrics,
		log:       deps.Log,
		ready:     deps.Ready,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only the page that created the attempt may drive its devices.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", s.handleMetrics)
	r.Get("/v1/perf/latency", s.handlePerfLatency)

	r.Post("/v1/interviews/{id}/attempts", s.handleCreateAttempt)
	r.Get("/v1/attempts/ws", s.handleAttemptWS)
	r.Get("/v1/attempts/{id}", s.handleGetAttempt)
	r.Post("/v1/attempts/{id}/exit", s.handleExitAttempt)

	r.Get("/v1/followups", s.handleListFollowUps)
	r.Get("/v1/followups/{id}", s.handleGetFollowUp)
	r.Post("/v1/followups/{id}/resolve", s.handleResolveFollowUp)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_attempts": s.attempts.ActiveCount(),
		"backend_mode":    s.cfg.BackendMode,
		"voice_provider":  s.cfg.VoiceProvider,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			respondError(w, http.StatusServiceUnavailable, "not_ready", err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		http.NotFound(w, r)
		return
	}
	s.metrics.Handler().ServeHTTP(w, r)
}

type createAttemptResponse struct {
	AttemptID string             `json:"attempt_id"`
	SessionID string             `json:"session_id"`
	WSPath    string             `json:"ws_path"`
	CreatedAt time.Time          `json:"created_at"`
	State     interview.Snapshot `json:"state"`
}

func (s *Server) handleCreateAttempt(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	if s.backend == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "backend not configured")
		return
	}

	var created *attempt
	entry, err := s.attempts.Create(r.Context(), sessionID, func(id string) (registry.Attempt, error) {
		a, err := s.newAttempt(r.Context(), id, sessionID)
		if err != nil {
			return nil, err
		}
		created = a
		return a, nil
	})
	if err != nil {
		var invalid *interview.ValidityError
		switch {
		case errors.As(err, &invalid):
			respondError(w, http.StatusUnprocessableEntity, "invalid_session", invalid.Reason)
		case errors.Is(err, registry.ErrAttemptActive):
			respondError(w, http.StatusConflict, "attempt_active", err.Error())
		default:
			s.log.WithError(err).WithField("session_id", sessionID).Error("create attempt failed")
			respondError(w, http.StatusBadGateway, "backend_unavailable", err.Error())
		}
		return
	}

	snap, err := created.ctrl.Snapshot(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "attempt_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, createAttemptResponse{
		AttemptID: entry.ID,
		SessionID: entry.SessionID,
		WSPath:    "/v1/attempts/ws?attempt_id=" + url.QueryEscape(entry.ID),
		CreatedAt: entry.CreatedAt,
		State:     snap,
	})
}

func (s *Server) newAttempt(ctx context.Context, attemptID, sessionID string) (*attempt, error) {
	h := newHub(attemptID, s.metrics)
	device := media.NewRemoteDevice(h.permissionRequested)
	signals := integrity.NewChannelSource()
	log := s.log.WithFields(logrus.Fields{"attempt_id": attemptID, "session_id": sessionID})

	cfg := interview.Config{
		AttemptID:            attemptID,
		SessionID:            sessionID,
		Backend:              s.backend,
		Device:               device,
		Signals:              signals,
		TTS:                  s.tts,
		Voice:                s.voice,
		FollowUps:            s.followups,
		Log:                  s.log,
		Listener:             h,
		VideoPolicy:          interview.VideoPolicy(s.cfg.VideoPolicy),
		QuestionCapSeconds:   s.cfg.QuestionTimeCap,
		PermissionTimeout:    s.cfg.PermissionTimeout,
		SynthesisTimeout:     s.cfg.SynthesisTimeout,
		TranscriptionTimeout: s.cfg.TranscriptionTimeout,
		RequestTimeout:       s.cfg.SubmitTimeout,
		OnComplete: func(final domain.Session) {
			log.WithField("status", final.Status).Info("interview completed")
		},
		OnExit: func() {
			log.Info("candidate released")
		},
	}
	if s.metrics != nil {
		cfg.Observer = s.metrics
	}
	ctrl, err := interview.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &attempt{ctrl: ctrl, device: device, signals: signals, hub: h}, nil
}

type attemptResponse struct {
	AttemptID      string              `json:"attempt_id"`
	SessionID      string              `json:"session_id"`
	CreatedAt      time.Time           `json:"created_at"`
	LastActivityAt time.Time           `json:"last_activity_at"`
	Ended          bool                `json:"ended"`
	State          *interview.Snapshot `json:"state,omitempty"`
	Outcome        *interview.Outcome  `json:"outcome,omitempty"`
}

func (s *Server) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	entry, a, ok := s.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	resp := attemptResponse{
		AttemptID:      entry.ID,
		SessionID:      entry.SessionID,
		CreatedAt:      entry.CreatedAt,
		LastActivityAt: entry.LastActivityAt,
		Ended:          entry.Ended(),
	}
	if snap, err := a.ctrl.Snapshot(r.Context()); err == nil {
		resp.State = &snap
	} else if last := a.hub.lastState(); last != nil {
		resp.State = last
	}
	if out, done, err := a.ctrl.Outcome(r.Context()); err == nil && done {
		resp.Outcome = &out
	} else if last := a.hub.lastOutcome(); last != nil {
		resp.Outcome = last
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleExitAttempt(w http.ResponseWriter, r *http.Request) {
	entry, a, ok := s.lookup(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	if err := a.ctrl.Exit(r.Context()); err != nil {
		if errors.Is(err, interview.ErrClosed) {
			respondError(w, http.StatusConflict, "attempt_ended", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "exit_failed", err.Error())
		return
	}
	_ = s.attempts.Touch(entry.ID)
	respondJSON(w, http.StatusAccepted, map[string]any{"attempt_id": entry.ID, "status": "exiting"})
}

func (s *Server) lookup(w http.ResponseWriter, id string) (registry.Entry, *attempt, bool) {
	id = strings.TrimSpace(id)
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_attempt_id", "missing attempt id")
		return registry.Entry{}, nil, false
	}
	entry, err := s.attempts.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "attempt_not_found", err.Error())
		return registry.Entry{}, nil, false
	}
	a, ok := entry.Attempt.(*attempt)
	if !ok {
		respondError(w, http.StatusInternalServerError, "attempt_unavailable", "attempt is not served by this api")
		return registry.Entry{}, nil, false
	}
	return entry, a, true
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
