package httpapi

import (
	"sync"

	"github.com/ent0n29/proctor/internal/integrity"
	"github.com/ent0n29/proctor/internal/interview"
	"github.com/ent0n29/proctor/internal/media"
	"github.com/ent0n29/proctor/internal/observability"
	"github.com/ent0n29/proctor/internal/protocol"
	"github.com/ent0n29/proctor/internal/voice"
)

const subscriberBuffer = 256

// attempt binds a controller to the client-facing device, signal source and
// outbound fan-out. It satisfies registry.Attempt.
type attempt struct {
	ctrl    *interview.Controller
	device  *media.RemoteDevice
	signals *integrity.ChannelSource
	hub     *hub
}

func (a *attempt) Done() <-chan struct{} { return a.ctrl.Done() }

func (a *attempt) Abort(reason string) { a.ctrl.Abort(reason) }

// hub is the controller's Listener. It fans outbound messages to every
// connected websocket and remembers the latest state and outcome so a
// reconnecting client catches up.
type hub struct {
	attemptID string
	metrics   *observability.Metrics

	mu       sync.Mutex
	subs     map[chan any]struct{}
	last     *protocol.StateSnapshot
	outcome  *protocol.SessionOutcome
	audioSeq int
}

func newHub(attemptID string, metrics *observability.Metrics) *hub {
	return &hub{attemptID: attemptID, metrics: metrics, subs: make(map[chan any]struct{})}
}

// subscribe registers an outbound queue primed with the latest state.
func (h *hub) subscribe() (<-chan any, func()) {
	ch := make(chan any, subscriberBuffer)
	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	if h.outcome != nil {
		ch <- *h.outcome
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, ch)
			h.mu.Unlock()
		})
	}
}

func (h *hub) lastState() *interview.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.last == nil {
		return nil
	}
	snap, _ := h.last.State.(interview.Snapshot)
	return &snap
}

func (h *hub) lastOutcome() *interview.Outcome {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.outcome == nil {
		return nil
	}
	out, _ := h.outcome.Outcome.(interview.Outcome)
	return &out
}

// broadcast must be called with h.mu held.
func (h *hub) broadcast(msgType protocol.MessageType, msg any) {
	for ch := range h.subs {
		select {
		case ch <- msg:
		default:
			if h.metrics != nil {
				h.metrics.ObserveWSMessage("dropped", string(msgType))
			}
		}
	}
}

func (h *hub) send(msgType protocol.MessageType, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.broadcast(msgType, msg)
}

func (h *hub) StateChanged(s interview.Snapshot) {
	msg := protocol.StateSnapshot{Type: protocol.TypeStateSnapshot, AttemptID: h.attemptID, State: s}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.last = &msg
	h.broadcast(msg.Type, msg)
}

func (h *hub) Notice(n interview.Notice) {
	h.send(protocol.TypeNotice, protocol.Notice{
		Type:        protocol.TypeNotice,
		AttemptID:   h.attemptID,
		Level:       string(n.Level),
		Code:        n.Code,
		Message:     n.Message,
		Dismissible: n.Dismissible,
	})
}

func (h *hub) AvatarAudio(ev voice.TTSEvent) {
	if ev.Type != voice.TTSEventAudio || ev.AudioBase64 == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.audioSeq++
	msg := protocol.AvatarAudioChunk{
		Type:        protocol.TypeAvatarAudio,
		AttemptID:   h.attemptID,
		Seq:         h.audioSeq,
		Format:      ev.Format,
		AudioBase64: ev.AudioBase64,
	}
	h.broadcast(msg.Type, msg)
}

func (h *hub) Finished(o interview.Outcome) {
	msg := protocol.SessionOutcome{Type: protocol.TypeSessionOutcome, AttemptID: h.attemptID, Outcome: o}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.outcome = &msg
	h.broadcast(msg.Type, msg)
}

func (h *hub) permissionRequested(kind media.Kind) {
	h.send(protocol.TypePermissionRequest, protocol.PermissionRequest{
		Type:      protocol.TypePermissionRequest,
		AttemptID: h.attemptID,
		Kind:      string(kind),
	})
}
