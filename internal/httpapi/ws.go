package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/proctor/internal/integrity"
	"github.com/ent0n29/proctor/internal/interview"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/protocol"
)

const (
	wsReadLimit    = 2 << 20
	wsReadTimeout  = 120 * time.Second
	wsWriteTimeout = 10 * time.Second
)

func (s *Server) handleAttemptWS(w http.ResponseWriter, r *http.Request) {
	attemptID := strings.TrimSpace(r.URL.Query().Get("attempt_id"))
	if attemptID == "" {
		respondError(w, http.StatusBadRequest, "missing_attempt_id", "query parameter attempt_id is required")
		return
	}
	_, a, ok := s.lookup(w, attemptID)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events, unsubscribe := a.hub.subscribe()
	defer unsubscribe()
	// Replies to this connection only, such as rejected actions.
	direct := make(chan any, 32)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			var msg any
			select {
			case <-ctx.Done():
				return
			case msg = <-events:
			case msg = <-direct:
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(msg); err != nil {
				cancel()
				return
			}
			if t, ok := messageTypeOf(msg); ok {
				s.observeWS("outbound", t)
			}
		}
	}()

	reply := func(ev protocol.ErrorEvent) {
		ev.Type = protocol.TypeErrorEvent
		ev.AttemptID = attemptID
		select {
		case direct <- ev:
		default:
			s.observeWS("dropped", protocol.TypeErrorEvent)
		}
	}

	conn.SetReadLimit(wsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			reply(protocol.ErrorEvent{Code: "invalid_client_message", Source: "gateway", Detail: err.Error()})
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.observeWS("inbound", t)
		}
		_ = s.attempts.Touch(attemptID)
		s.dispatch(ctx, a, parsed, reply)
	}

	cancel()
	<-writerDone
}

func (s *Server) dispatch(ctx context.Context, a *attempt, msg any, reply func(protocol.ErrorEvent)) {
	switch m := msg.(type) {
	case protocol.ClientAudioChunk:
		chunk, err := base64.StdEncoding.DecodeString(m.PCM16Base64)
		if err != nil {
			reply(protocol.ErrorEvent{Code: "invalid_audio", Source: "gateway", Detail: err.Error()})
			return
		}
		if !a.device.Push(media.Kind(m.Kind), chunk) {
			s.observeWS("dropped", m.Type)
		}
	case protocol.ClientDraft:
		if err := a.ctrl.UpdateDraft(ctx, m.Text); err != nil {
			reply(actionError(string(m.Type), err))
		}
	case protocol.ClientPermission:
		if err := a.device.Answer(media.Kind(m.Kind), media.Permission(m.State)); err != nil {
			reply(protocol.ErrorEvent{Code: "invalid_permission", Source: "gateway", Detail: err.Error()})
		}
	case protocol.ClientSignal:
		at := time.Now()
		if m.TSMs > 0 {
			at = time.UnixMilli(m.TSMs)
		}
		a.signals.Push(integrity.Signal{
			Kind:  integrity.SignalKind(m.Signal),
			Key:   m.Key,
			Ctrl:  m.Ctrl,
			Shift: m.Shift,
			Meta:  m.Meta,
			At:    at,
		})
	case protocol.ClientControl:
		// Actions may wait on the client itself (permission prompts), so they
		// never block the read loop.
		go func() {
			if err := control(ctx, a.ctrl, m.Action); err != nil && ctx.Err() == nil {
				reply(actionError(m.Action, err))
			}
		}()
	}
}

func control(ctx context.Context, ctrl *interview.Controller, action string) error {
	switch action {
	case protocol.ActionSetup:
		return ctrl.Setup(ctx)
	case protocol.ActionBack:
		return ctrl.Back(ctx)
	case protocol.ActionAcquireMedia:
		return ctrl.AcquireMedia(ctx)
	case protocol.ActionStart:
		return ctrl.Start(ctx)
	case protocol.ActionSubmit:
		return ctrl.Submit(ctx)
	case protocol.ActionRecordStart:
		return ctrl.RecordStart(ctx)
	case protocol.ActionRecordStop:
		_, err := ctrl.RecordStop(ctx)
		return err
	case protocol.ActionExit:
		return ctrl.Exit(ctx)
	case protocol.ActionRetryCompletion:
		return ctrl.RetryCompletion(ctx)
	default:
		return protocol.ErrUnknownAction
	}
}

type recoverable interface {
	Recoverable() bool
}

func actionError(source string, err error) protocol.ErrorEvent {
	ev := protocol.ErrorEvent{Code: errorCode(err), Source: source, Detail: err.Error()}
	var r recoverable
	if errors.As(err, &r) {
		ev.Retryable = r.Recoverable()
	}
	return ev
}

func errorCode(err error) string {
	var (
		invalid  *interview.ValidityError
		required *interview.MediaRequiredError
		denied   *media.PermissionError
	)
	switch {
	case errors.As(err, &invalid):
		return "invalid_session"
	case errors.As(err, &required):
		return "media_required"
	case errors.As(err, &denied):
		return "permission_denied"
	case errors.Is(err, interview.ErrEmptyAnswer):
		return "empty_answer"
	case errors.Is(err, interview.ErrSubmissionInFlight):
		return "submission_in_flight"
	case errors.Is(err, interview.ErrNotInInterview):
		return "not_in_interview"
	case errors.Is(err, interview.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, interview.ErrBusy):
		return "busy"
	case errors.Is(err, interview.ErrNothingToRetry):
		return "nothing_to_retry"
	case errors.Is(err, interview.ErrClosed):
		return "attempt_ended"
	default:
		return "action_failed"
	}
}

func (s *Server) observeWS(direction string, t protocol.MessageType) {
	if s.metrics != nil {
		s.metrics.ObserveWSMessage(direction, string(t))
	}
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.ClientAudioChunk:
		return m.Type, true
	case protocol.ClientControl:
		return m.Type, true
	case protocol.ClientDraft:
		return m.Type, true
	case protocol.ClientPermission:
		return m.Type, true
	case protocol.ClientSignal:
		return m.Type, true
	case protocol.StateSnapshot:
		return m.Type, true
	case protocol.AvatarAudioChunk:
		return m.Type, true
	case protocol.PermissionRequest:
		return m.Type, true
	case protocol.Notice:
		return m.Type, true
	case protocol.ErrorEvent:
		return m.Type, true
	case protocol.SessionOutcome:
		return m.Type, true
	default:
		return "", false
	}
}
