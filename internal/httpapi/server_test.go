package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/ent0n29/proctor/internal/backend"
	"github.com/ent0n29/proctor/internal/config"
	"github.com/ent0n29/proctor/internal/followup"
	"github.com/ent0n29/proctor/internal/observability"
	"github.com/ent0n29/proctor/internal/registry"
	"github.com/ent0n29/proctor/internal/voice"
)

type testEnv struct {
	ts       *httptest.Server
	backend  *backend.InMemory
	store    *followup.InMemoryStore
	registry *registry.Registry
}

func newTestEnv(t *testing.T, ready func(context.Context) error) *testEnv {
	t.Helper()
	mem := backend.NewInMemory(nil)
	mem.Seed(backend.SessionRecord{ID: "s-1", ScheduledAt: time.Now().Add(-time.Minute), Duration: 30 * time.Minute})
	mem.Seed(backend.SessionRecord{ID: "s-later", ScheduledAt: time.Now().Add(time.Hour), Duration: 30 * time.Minute})

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	reg := registry.New(registry.Config{})
	store := followup.NewInMemoryStore()

	srv := New(Deps{
		Config:    config.Config{BackendMode: "memory", VoiceProvider: "mock"},
		Registry:  reg,
		Backend:   mem,
		FollowUps: store,
		TTS:       voice.NewMockProvider(),
		Metrics:   observability.NewMetrics("proctor_test"),
		Log:       logrus.NewEntry(logger),
		Ready:     ready,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = reg.Shutdown(ctx)
	})
	return &testEnv{ts: ts, backend: mem, store: store, registry: reg}
}

func (e *testEnv) post(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Post(e.ts.URL+path, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	res, err := http.Get(e.ts.URL + path)
	if err != nil {
		t.Fatalf("GET %s error = %v", path, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func decode[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func (e *testEnv) createAttempt(t *testing.T, sessionID string) string {
	t.Helper()
	res := e.post(t, "/v1/interviews/"+sessionID+"/attempts")
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create attempt status = %d, want %d", res.StatusCode, http.StatusCreated)
	}
	created := decode[map[string]any](t, res)
	id, _ := created["attempt_id"].(string)
	if id == "" {
		t.Fatalf("missing attempt_id in create response: %+v", created)
	}
	if ws, _ := created["ws_path"].(string); !strings.Contains(ws, id) {
		t.Fatalf("ws_path = %q, want it to carry the attempt id", ws)
	}
	return id
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHealthAndReady(t *testing.T) {
	tests := []struct {
		name       string
		ready      func(context.Context) error
		wantStatus int
	}{
		{name: "no checks", wantStatus: http.StatusOK},
		{name: "dependency up", ready: func(context.Context) error { return nil }, wantStatus: http.StatusOK},
		{name: "dependency down", ready: func(context.Context) error { return errors.New("redis unreachable") }, wantStatus: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.ready)

			health := env.get(t, "/healthz")
			if health.StatusCode != http.StatusOK {
				t.Fatalf("GET /healthz status = %d, want %d", health.StatusCode, http.StatusOK)
			}
			payload := decode[map[string]any](t, health)
			if payload["backend_mode"] != "memory" {
				t.Fatalf("backend_mode = %v, want memory", payload["backend_mode"])
			}

			ready := env.get(t, "/readyz")
			if ready.StatusCode != tt.wantStatus {
				t.Fatalf("GET /readyz status = %d, want %d", ready.StatusCode, tt.wantStatus)
			}
		})
	}
}

func TestCreateAttemptRejectsInvalidSession(t *testing.T) {
	env := newTestEnv(t, nil)

	res := env.post(t, "/v1/interviews/s-later/attempts")
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusUnprocessableEntity)
	}
	body := decode[errorResponse](t, res)
	if body.Code != "invalid_session" || body.Error != "Interview has not started yet" {
		t.Fatalf("error = %+v, want invalid_session with the portal reason", body)
	}
	if got := env.registry.ActiveCount(); got != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", got)
	}

	missing := env.post(t, "/v1/interviews/nope/attempts")
	if missing.StatusCode != http.StatusBadGateway {
		t.Fatalf("unknown session status = %d, want %d", missing.StatusCode, http.StatusBadGateway)
	}
}

func TestAttemptLeaseAndExitBeforeInterview(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createAttempt(t, "s-1")

	dup := env.post(t, "/v1/interviews/s-1/attempts")
	if dup.StatusCode != http.StatusConflict {
		t.Fatalf("second attempt status = %d, want %d", dup.StatusCode, http.StatusConflict)
	}

	got := decode[attemptResponse](t, env.get(t, "/v1/attempts/"+id))
	if got.State == nil || got.State.Phase != "welcome" {
		t.Fatalf("attempt state = %+v, want welcome phase", got.State)
	}

	exit := env.post(t, "/v1/attempts/"+id+"/exit")
	if exit.StatusCode != http.StatusAccepted {
		t.Fatalf("exit status = %d, want %d", exit.StatusCode, http.StatusAccepted)
	}
	eventually(t, "attempt to end", func() bool {
		entry, err := env.registry.Get(id)
		return err == nil && entry.Ended()
	})
	if _, ok := env.backend.Completion("s-1"); ok {
		t.Fatalf("exit before the interview must not complete the session")
	}

	// The lease is released with the attempt.
	eventually(t, "lease release", func() bool {
		res, err := http.Post(env.ts.URL+"/v1/interviews/s-1/attempts", "application/json", nil)
		if err != nil {
			return false
		}
		defer res.Body.Close()
		return res.StatusCode == http.StatusCreated
	})
}

func TestUnknownAttempt(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/v1/attempts/missing", "/v1/attempts/ws?attempt_id=missing"} {
		if res := env.get(t, path); res.StatusCode != http.StatusNotFound {
			t.Fatalf("GET %s status = %d, want %d", path, res.StatusCode, http.StatusNotFound)
		}
	}
	if res := env.post(t, "/v1/attempts/missing/exit"); res.StatusCode != http.StatusNotFound {
		t.Fatalf("exit unknown status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if res := env.get(t, "/v1/attempts/ws"); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("ws without attempt_id status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

func TestFollowUpRoutes(t *testing.T) {
	env := newTestEnv(t, nil)
	rec, err := env.store.Save(context.Background(), followup.Record{
		AttemptID:  "a-1",
		SessionID:  "s-1",
		Completion: backend.Completion{SessionID: "s-1", Status: "terminated"},
		LastError:  "portal unavailable",
	})
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	list := decode[map[string][]followup.Record](t, env.get(t, "/v1/followups"))
	if len(list["followups"]) != 1 || list["followups"][0].ID != rec.ID {
		t.Fatalf("followups = %+v, want the saved record", list["followups"])
	}

	one := decode[followup.Record](t, env.get(t, "/v1/followups/"+rec.ID))
	if one.LastError != "portal unavailable" {
		t.Fatalf("LastError = %q, want portal unavailable", one.LastError)
	}

	resolved := decode[followup.Record](t, env.post(t, "/v1/followups/"+rec.ID+"/resolve"))
	if resolved.ResolvedAt == nil {
		t.Fatalf("ResolvedAt = nil after resolve")
	}

	open := decode[map[string][]followup.Record](t, env.get(t, "/v1/followups"))
	if len(open["followups"]) != 0 {
		t.Fatalf("open followups = %d, want 0", len(open["followups"]))
	}
	all := decode[map[string][]followup.Record](t, env.get(t, "/v1/followups?include_resolved=true"))
	if len(all["followups"]) != 1 {
		t.Fatalf("all followups = %d, want 1", len(all["followups"]))
	}

	if res := env.get(t, "/v1/followups/unknown"); res.StatusCode != http.StatusNotFound {
		t.Fatalf("GET unknown followup status = %d, want %d", res.StatusCode, http.StatusNotFound)
	}
	if res := env.get(t, "/v1/followups?limit=abc"); res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d, want %d", res.StatusCode, http.StatusBadRequest)
	}
}

type wsMessage struct {
	Type  string `json:"type"`
	Kind  string `json:"kind"`
	Code  string `json:"code"`
	State *struct {
		Phase         string            `json:"phase"`
		AnsweredCount int               `json:"answered_count"`
		Permissions   map[string]string `json:"permissions"`
		Question      *struct {
			ID string `json:"id"`
		} `json:"question"`
	} `json:"state"`
	Outcome *struct {
		Phase     string `json:"phase"`
		Completed bool   `json:"completed"`
	} `json:"outcome"`
}

func dialAttempt(t *testing.T, env *testEnv, attemptID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/v1/attempts/ws?attempt_id=" + attemptID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial websocket error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("WriteJSON() error = %v", err)
	}
}

// readUntil reads messages until match reports true. Every message is passed
// to match, which may reply on conn.
func readUntil(t *testing.T, conn *websocket.Conn, what string, match func(wsMessage) bool) wsMessage {
	t.Helper()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: read error = %v", what, err)
		}
		if match(msg) {
			return msg
		}
	}
}

func TestAttemptWebsocketRunsInterview(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createAttempt(t, "s-1")
	conn := dialAttempt(t, env, id)

	control := func(action string) {
		send(t, conn, map[string]any{"type": "client_control", "attempt_id": id, "action": action})
	}
	isState := func(m wsMessage) bool { return m.Type == "state_snapshot" && m.State != nil }

	control("setup")
	readUntil(t, conn, "setup phase", func(m wsMessage) bool {
		return isState(m) && m.State.Phase == "setup"
	})

	control("acquire_media")
	readUntil(t, conn, "device permissions", func(m wsMessage) bool {
		if m.Type == "permission_request" {
			state := "granted"
			if m.Kind == "video" {
				state = "denied"
			}
			send(t, conn, map[string]any{"type": "client_permission", "attempt_id": id, "kind": m.Kind, "state": state})
			return false
		}
		return isState(m) && m.State.Permissions["audio"] == "granted" && m.State.Permissions["video"] == "denied"
	})

	control("start")
	first := readUntil(t, conn, "first question", func(m wsMessage) bool {
		return isState(m) && m.State.Phase == "interview" && m.State.Question != nil
	})
	if first.State.Question.ID != "s-1-q1" {
		t.Fatalf("first question = %q, want s-1-q1", first.State.Question.ID)
	}

	send(t, conn, map[string]any{"type": "client_draft", "attempt_id": id, "text": "I would use a hash map"})
	control("submit")
	readUntil(t, conn, "answer accepted", func(m wsMessage) bool {
		return isState(m) && m.State.AnsweredCount == 1
	})
	if got := env.backend.Answers("s-1")["s-1-q1"].Answer; got != "I would use a hash map" {
		t.Fatalf("submitted answer = %q, want the draft", got)
	}

	send(t, conn, map[string]any{"type": "client_signal", "attempt_id": id, "signal": "keydown", "key": "a"})
	control("exit")
	out := readUntil(t, conn, "session outcome", func(m wsMessage) bool {
		return m.Type == "session_outcome" && m.Outcome != nil
	})
	if out.Outcome.Phase != "terminated" || !out.Outcome.Completed {
		t.Fatalf("outcome = %+v, want a completed termination", out.Outcome)
	}
	comp, ok := env.backend.Completion("s-1")
	if !ok || comp.Status != "terminated" {
		t.Fatalf("Completion() = %+v, %v, want terminated", comp, ok)
	}

	metrics := env.get(t, "/metrics")
	raw, _ := io.ReadAll(metrics.Body)
	if !strings.Contains(string(raw), `proctor_test_ws_messages_total{direction="inbound",type="client_control"}`) {
		t.Fatalf("metrics missing inbound client_control counter")
	}
}

func TestWebsocketReportsRejectedMessages(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.createAttempt(t, "s-1")
	conn := dialAttempt(t, env, id)

	send(t, conn, map[string]any{"type": "client_control", "attempt_id": id, "action": "dance"})
	got := readUntil(t, conn, "invalid message error", func(m wsMessage) bool { return m.Type == "error_event" })
	if got.Code != "invalid_client_message" {
		t.Fatalf("code = %q, want invalid_client_message", got.Code)
	}

	// Submitting from the welcome screen is refused by the controller.
	send(t, conn, map[string]any{"type": "client_control", "attempt_id": id, "action": "submit"})
	got = readUntil(t, conn, "action error", func(m wsMessage) bool { return m.Type == "error_event" })
	if got.Code != "not_in_interview" {
		t.Fatalf("code = %q, want not_in_interview", got.Code)
	}
}

func TestPerfLatency(t *testing.T) {
	env := newTestEnv(t, nil)
	res := env.get(t, "/v1/perf/latency")
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	snap := decode[observability.LatencySnapshot](t, res)
	if snap.WindowSize <= 0 {
		t.Fatalf("WindowSize = %d, want > 0", snap.WindowSize)
	}
}
